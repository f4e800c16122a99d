package ovn

// This file contains tests for the OVN client
// No OVN Client type exists in this repository, so every test skips.

import (
	"context"
	"testing"

	"github.com/ovn-org/libovsdb/client"
	"github.com/ovn-org/libovsdb/model"
	"github.com/ovn-org/libovsdb/ovsdb"
	"github.com/stretchr/testify/mock"
)

// Mock OVSDB client
type mockOVSDBClient struct {
	mock.Mock
}

func (m *mockOVSDBClient) Connect(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockOVSDBClient) Disconnect() {
	m.Called()
}

func (m *mockOVSDBClient) List(ctx context.Context, result interface{}) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *mockOVSDBClient) Get(ctx context.Context, model model.Model) error {
	args := m.Called(ctx, model)
	return args.Error(0)
}

func (m *mockOVSDBClient) Create(models ...model.Model) ([]ovsdb.Operation, error) {
	args := m.Called(models)
	return args.Get(0).([]ovsdb.Operation), args.Error(1)
}

func (m *mockOVSDBClient) Update(model model.Model, fields ...interface{}) ([]ovsdb.Operation, error) {
	args := m.Called(model, fields)
	return args.Get(0).([]ovsdb.Operation), args.Error(1)
}

func (m *mockOVSDBClient) Delete(models ...model.Model) ([]ovsdb.Operation, error) {
	args := m.Called(models)
	return args.Get(0).([]ovsdb.Operation), args.Error(1)
}

func (m *mockOVSDBClient) Transact(ctx context.Context, operations ...ovsdb.Operation) ([]ovsdb.OperationResult, error) {
	args := m.Called(ctx, operations)
	return args.Get(0).([]ovsdb.OperationResult), args.Error(1)
}

func (m *mockOVSDBClient) WhereCache(predicate interface{}) client.ConditionalAPI {
	args := m.Called(predicate)
	return args.Get(0).(client.ConditionalAPI)
}

// Test Client
func TestClient_Connect(t *testing.T) {
	// Skipped: no OVN Client type exists in this repository
	t.Skip("Client tests should be in pkg/ovn package")
}

func TestClient_ListLogicalSwitches(t *testing.T) {
	// Skipped: no OVN Client type exists in this repository
	t.Skip("Client tests should be in pkg/ovn package")
}

func TestClient_GetLogicalSwitch(t *testing.T) {
	// Skipped: no OVN Client type exists in this repository
	t.Skip("Client tests should be in pkg/ovn package")
}

func TestClient_CreateLogicalSwitch(t *testing.T) {
	// Skipped: no OVN Client type exists in this repository
	t.Skip("Client tests should be in pkg/ovn package")
}

func TestClient_UpdateLogicalSwitch(t *testing.T) {
	// Skipped: no OVN Client type exists in this repository
	t.Skip("Client tests should be in pkg/ovn package")
}

func TestClient_DeleteLogicalSwitch(t *testing.T) {
	// Skipped: no OVN Client type exists in this repository
	t.Skip("Client tests should be in pkg/ovn package")
}

// Transaction Tests
func TestClient_CreateTransaction(t *testing.T) {
	// Skipped: no OVN Client type exists in this repository
	t.Skip("Client tests should be in pkg/ovn package")
}

func TestTransaction_AddCreateSwitch(t *testing.T) {
	// Skipped: no OVN Transaction type exists in this repository
	t.Skip("Transaction tests should be in pkg/ovn package")
}

func TestTransaction_AddDeleteSwitch(t *testing.T) {
	// Skipped: no OVN Transaction type exists in this repository
	t.Skip("Transaction tests should be in pkg/ovn package")
}

func TestTransaction_Commit(t *testing.T) {
	// Skipped: no OVN Transaction type exists in this repository
	t.Skip("Transaction tests should be in pkg/ovn package")
}

func TestTransaction_Commit_WithError(t *testing.T) {
	// Skipped: no OVN Transaction type exists in this repository
	t.Skip("Transaction tests should be in pkg/ovn package")
}

// Connection Tests
func TestClient_ConnectionRetry(t *testing.T) {
	// Skipped: no OVN Client type exists in this repository
	t.Skip("Client tests should be in pkg/ovn package")
}

func TestClient_ConnectionMaxRetries(t *testing.T) {
	// Skipped: no OVN Client type exists in this repository
	t.Skip("Client tests should be in pkg/ovn package")
}