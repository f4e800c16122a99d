package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

func newDeviceTestStore(t *testing.T) (*DeviceStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return NewDeviceStore(&DB{Conn: sqlDB}), mock
}

func deviceCols() []string {
	return []string{"device_id", "unit_id", "unit_code", "network_id", "network_code",
		"network_addr", "profile", "name", "info", "created_at", "modified_at"}
}

func TestDeviceStore_Add_DuplicateAddr(t *testing.T) {
	s, mock := newDeviceTestStore(t)
	ctx := context.Background()

	d := &models.Device{DeviceID: "d1", UnitID: "u1", NetworkID: "n1", NetworkAddr: "AA:BB"}
	mock.ExpectExec("INSERT INTO devices").WillReturnError(&pq.Error{Code: "23505"})

	err := s.Add(ctx, d)
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, ae.Kind)
	assert.Equal(t, apperr.CodeBrokerNetAddrExist, ae.Code)
}

func TestDeviceStore_AddBulk_IgnoresEmpty(t *testing.T) {
	s, mock := newDeviceTestStore(t)
	ctx := context.Background()

	err := s.AddBulk(ctx, nil)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_AddBulk_OneTransactionPerBatch(t *testing.T) {
	s, mock := newDeviceTestStore(t)
	ctx := context.Background()

	devices := []*models.Device{
		{DeviceID: "d1", UnitID: "u1", NetworkID: "n1", NetworkAddr: "AA:01"},
		{DeviceID: "d2", UnitID: "u1", NetworkID: "n1", NetworkAddr: "AA:02"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO devices").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO devices").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.AddBulk(ctx, devices)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_AddBulk_RollsBackOnFailure(t *testing.T) {
	s, mock := newDeviceTestStore(t)
	ctx := context.Background()

	devices := []*models.Device{
		{DeviceID: "d1", UnitID: "u1", NetworkID: "n1", NetworkAddr: "AA:01"},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO devices").WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectRollback()

	err := s.AddBulk(ctx, devices)
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, ae.Kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_GetByNetworkAddr_Found(t *testing.T) {
	s, mock := newDeviceTestStore(t)
	ctx := context.Background()

	now := time.Now()
	rows := sqlmock.NewRows(deviceCols()).
		AddRow("d1", "u1", "unitA", "n1", "net1", "AA:BB", "profile1", "Device 1", []byte(`{}`), now, now)
	mock.ExpectQuery(`WHERE d\.network_id=\$1 AND lower\(d\.network_addr\)=lower\(\$2\)`).WillReturnRows(rows)

	d, err := s.GetByNetworkAddr(ctx, "n1", "AA:BB")
	require.NoError(t, err)
	assert.Equal(t, "d1", d.DeviceID)
}

func TestDeviceStore_List_FiltersByUnitAndNetwork(t *testing.T) {
	s, mock := newDeviceTestStore(t)
	ctx := context.Background()

	now := time.Now()
	rows := sqlmock.NewRows(deviceCols()).
		AddRow("d1", "u1", "unitA", "n1", "net1", "AA:BB", "profile1", "Device 1", []byte(`{}`), now, now)
	mock.ExpectQuery(`WHERE d\.unit_id = \$1 AND d\.network_id = \$2`).WillReturnRows(rows)

	out, cur, err := s.List(ctx, "u1", "n1", "", store.ListOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Nil(t, cur)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeviceStore_Count(t *testing.T) {
	s, mock := newDeviceTestStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT count\(\*\) FROM devices WHERE unit_id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.Count(ctx, "u1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestDeviceStore_Update_NotFound(t *testing.T) {
	s, mock := newDeviceTestStore(t)
	ctx := context.Background()

	mock.ExpectExec("UPDATE devices SET").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Update(ctx, &models.Device{DeviceID: "missing"})
	require.Error(t, err)
	ae, ok := err.(*apperr.Error)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, ae.Kind)
}

func TestDeviceStore_Del(t *testing.T) {
	s, mock := newDeviceTestStore(t)
	ctx := context.Background()

	mock.ExpectExec("DELETE FROM devices WHERE device_id").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Del(ctx, "d1")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
