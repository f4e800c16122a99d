package resourcemgr

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/broker"
	"github.com/sylvia-iot/controlplane/internal/broker/mockadapter"
	"github.com/sylvia-iot/controlplane/internal/cache"
	"github.com/sylvia-iot/controlplane/internal/config"
	"github.com/sylvia-iot/controlplane/internal/controlbus"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/routecache"
	"github.com/sylvia-iot/controlplane/internal/routing"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

func newTestManager(t *testing.T) (*Manager, sqlmock.Sqlmock, *mockadapter.Adapter) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := &postgres.DB{Conn: sqlDB}
	stores := routing.Stores{
		Units:         postgres.NewUnitStore(db),
		Applications:  postgres.NewApplicationStore(db),
		Networks:      postgres.NewNetworkStore(db),
		Devices:       postgres.NewDeviceStore(db),
		DeviceRoutes:  postgres.NewDeviceRouteStore(db),
		NetworkRoutes: postgres.NewNetworkRouteStore(db),
		Buffers:       postgres.NewDownlinkBufferStore(db),
	}

	deviceCache := routecache.NewDeviceCache(cache.NewMemoryCache(), time.Minute)
	routeCache := routecache.NewDeviceRouteCache(cache.NewMemoryCache(), time.Minute)
	adapter := mockadapter.New()
	bus := controlbus.New(nil, zap.NewNop(), "test-node")
	cfg := config.RoutingConfig{DownlinkDefaultTTL: time.Minute, DownlinkMaxTTL: time.Hour}
	engine := routing.New(stores, deviceCache, routeCache, adapter, bus, zap.NewNop(), cfg)

	m := New(stores, deviceCache, routeCache, adapter, bus, engine, zap.NewNop(), "test-node")
	return m, mock, adapter
}

func unitRow(ownerID string, members ...string) *sqlmock.Rows {
	cols := []string{"unit_id", "code", "owner_id", "member_ids", "name", "info", "created_at", "modified_at"}
	memberArr := "{}"
	if len(members) > 0 {
		memberArr = "{" + members[0] + "}"
	}
	return sqlmock.NewRows(cols).AddRow("u1", "unitA", ownerID, memberArr, "Unit A", []byte(`{}`), time.Now(), time.Now())
}

func networkRow(unitID interface{}) *sqlmock.Rows {
	cols := []string{"network_id", "code", "unit_id", "host_uri", "scheme", "name", "info",
		"ttl", "queue_length_max", "created_at", "modified_at"}
	return sqlmock.NewRows(cols).AddRow("n1", "net1", unitID, "network.example", "amqp", "Net 1",
		[]byte(`{}`), nil, nil, time.Now(), time.Now())
}

func applicationRow() *sqlmock.Rows {
	cols := []string{"application_id", "code", "unit_id", "host_uri", "scheme", "name", "info",
		"ttl", "queue_length_max", "created_at", "modified_at"}
	return sqlmock.NewRows(cols).AddRow("a1", "app1", "u1", "app.example", "amqp", "App 1",
		[]byte(`{}`), nil, nil, time.Now(), time.Now())
}

func deviceRow() *sqlmock.Rows {
	cols := []string{"device_id", "unit_id", "unit_code", "network_id", "network_code",
		"network_addr", "profile", "name", "info", "created_at", "modified_at"}
	return sqlmock.NewRows(cols).AddRow("d1", "u1", "unitA", "n1", "net1", "aa:bb",
		"profile1", "Device 1", []byte(`{}`), time.Now(), time.Now())
}

func TestPrincipalVisibility(t *testing.T) {
	ownerID := "owner1"
	memberID := "member1"
	strangerID := "stranger1"
	unit := &models.Unit{UnitID: "u1", OwnerID: ownerID, MemberIDs: []string{memberID}}

	admin := Principal{Roles: []models.Role{models.RoleAdmin}}
	owner := Principal{UserID: &ownerID}
	member := Principal{UserID: &memberID}
	stranger := Principal{UserID: &strangerID}

	assert.True(t, admin.canView(unit))
	assert.True(t, admin.canManage(unit))

	assert.True(t, owner.canView(unit))
	assert.True(t, owner.canManage(unit))

	assert.True(t, member.canView(unit))
	assert.False(t, member.canManage(unit), "a member may view a unit's resources but not manage them")

	assert.False(t, stranger.canView(unit))
	assert.False(t, stranger.canManage(unit))
}

func TestCreateUnit_RequiresUserPrincipal(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.CreateUnit(context.Background(), Principal{}, "unitA", "Unit A", nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindParameter))
}

func TestCreateUnit_Success(t *testing.T) {
	m, mock, _ := newTestManager(t)
	mock.ExpectExec("INSERT INTO units").WillReturnResult(sqlmock.NewResult(0, 1))

	userID := "owner1"
	u, err := m.CreateUnit(context.Background(), Principal{UserID: &userID}, "unitA", "Unit A", nil)
	require.NoError(t, err)
	assert.Equal(t, "unitA", u.Code)
	assert.Equal(t, userID, u.OwnerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateUnit_StrangerForbidden(t *testing.T) {
	m, mock, _ := newTestManager(t)
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow("owner1"))

	stranger := "stranger1"
	name := "New Name"
	_, err := m.UpdateUnit(context.Background(), Principal{UserID: &stranger}, "u1", &name, nil, nil)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// DeleteUnit must read every network/application/device under the unit
// before issuing the unit delete, since the foreign-key cascade removes
// them the instant the unit row is gone.
func TestDeleteUnit_ReadsChildrenBeforeCascadingDelete(t *testing.T) {
	m, mock, adapter := newTestManager(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow("owner1"))
	mock.ExpectQuery("FROM networks WHERE unit_id").WillReturnRows(networkRow("u1"))
	mock.ExpectQuery("FROM applications WHERE unit_id").WillReturnRows(applicationRow())
	mock.ExpectQuery("WHERE d.unit_id").WillReturnRows(deviceRow())
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow("owner1")) // deprovisionNetwork's endpoint lookup
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow("owner1")) // deprovisionApplication's endpoint lookup
	mock.ExpectExec("DELETE FROM units").WillReturnResult(sqlmock.NewResult(0, 1))

	netEP := broker.Endpoint{Kind: broker.KindNetwork, EndpointID: "n1", EndpointCode: "net1",
		UnitCode: "unitA", HostURI: "network.example", Scheme: broker.SchemeAMQP}
	appEP := broker.Endpoint{Kind: broker.KindApplication, EndpointID: "a1", EndpointCode: "app1",
		UnitCode: "unitA", HostURI: "app.example", Scheme: broker.SchemeAMQP}
	_, err := adapter.Provision(ctx, netEP, nil, nil)
	require.NoError(t, err)
	_, err = adapter.Provision(ctx, appEP, nil, nil)
	require.NoError(t, err)

	owner := "owner1"
	err = m.DeleteUnit(ctx, Principal{UserID: &owner}, "u1")
	require.NoError(t, err)

	_, err = adapter.Stats(ctx, netEP, "uldata")
	assert.Error(t, err, "network tenancy should have been deprovisioned")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddDeviceBulk_RejectsOversizedBatch(t *testing.T) {
	m, mock, _ := newTestManager(t)
	mock.ExpectQuery("FROM networks WHERE network_id").WillReturnRows(networkRow("u1"))
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow("owner1"))

	addrs := make([]string, bulkMax+1)
	for i := range addrs {
		addrs[i] = "aa"
	}
	owner := "owner1"
	_, err := m.AddDeviceBulk(context.Background(), Principal{UserID: &owner}, "n1", addrs, "profile1")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindParameter))
}

func TestHexAddrRange_RejectsMismatchedWidth(t *testing.T) {
	_, err := hexAddrRange("a0", "a00")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindParameter))
}

func TestHexAddrRange_RejectsInvertedBounds(t *testing.T) {
	_, err := hexAddrRange("a0a0", "a000")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindParameter))
}

func TestHexAddrRange_ExpandsInclusiveSequence(t *testing.T) {
	addrs, err := hexAddrRange("00a0", "00a2")
	require.NoError(t, err)
	assert.Equal(t, []string{"00a0", "00a1", "00a2"}, addrs)
}

func TestHexAddrRange_RejectsOversizedSpan(t *testing.T) {
	_, err := hexAddrRange("0000", "ffff")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindParameter))
}

func TestDeleteApplication_InvalidatesDevicesBoundByNetworkRoute(t *testing.T) {
	m, mock, adapter := newTestManager(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM applications WHERE application_id").WillReturnRows(applicationRow())
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow("owner1"))
	mock.ExpectQuery("FROM device_routes WHERE").WillReturnRows(sqlmock.NewRows(
		[]string{"route_id", "device_id", "application_id", "network_id", "unit_id", "profile", "created_at", "modified_at"}))
	mock.ExpectQuery("FROM network_routes WHERE").WillReturnRows(
		sqlmock.NewRows([]string{"route_id", "network_id", "application_id", "unit_id", "created_at", "modified_at"}).
			AddRow("r1", "n1", "a1", "u1", time.Now(), time.Now()))
	mock.ExpectQuery("FROM devices d").WillReturnRows(deviceRow())
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow("owner1"))
	mock.ExpectExec("DELETE FROM applications").WillReturnResult(sqlmock.NewResult(0, 1))

	appEP := broker.Endpoint{Kind: broker.KindApplication, EndpointID: "a1", EndpointCode: "app1",
		UnitCode: "unitA", HostURI: "app.example", Scheme: broker.SchemeAMQP}
	_, err := adapter.Provision(ctx, appEP, nil, nil)
	require.NoError(t, err)

	owner := "owner1"
	err = m.DeleteApplication(ctx, Principal{UserID: &owner}, "a1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
