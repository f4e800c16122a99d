package routing

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/broker"
	"github.com/sylvia-iot/controlplane/internal/broker/mockadapter"
	"github.com/sylvia-iot/controlplane/internal/cache"
	"github.com/sylvia-iot/controlplane/internal/config"
	"github.com/sylvia-iot/controlplane/internal/controlbus"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/routecache"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

func newTestEngine(t *testing.T) (*Engine, sqlmock.Sqlmock, *mockadapter.Adapter) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db := &postgres.DB{Conn: sqlDB}
	stores := Stores{
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

	engine := New(stores, deviceCache, routeCache, adapter, bus, zap.NewNop(), cfg)
	return engine, mock, adapter
}

func unitRow() *sqlmock.Rows {
	cols := []string{"unit_id", "code", "owner_id", "member_ids", "name", "info", "created_at", "modified_at"}
	return sqlmock.NewRows(cols).AddRow("u1", "unitA", "owner1", "{}", "Unit A", []byte(`{}`), time.Now(), time.Now())
}

func networkRow(unitID interface{}) *sqlmock.Rows {
	cols := []string{"network_id", "code", "unit_id", "host_uri", "scheme", "name", "info",
		"ttl", "queue_length_max", "created_at", "modified_at"}
	return sqlmock.NewRows(cols).AddRow("n1", "net1", unitID, "network.example", "amqp", "Net 1",
		[]byte(`{}`), nil, nil, time.Now(), time.Now())
}

func deviceRow() *sqlmock.Rows {
	cols := []string{"device_id", "unit_id", "unit_code", "network_id", "network_code",
		"network_addr", "profile", "name", "info", "created_at", "modified_at"}
	return sqlmock.NewRows(cols).AddRow("d1", "u1", "unitA", "n1", "net1", "AA:BB",
		"profile1", "Device 1", []byte(`{}`), time.Now(), time.Now())
}

func applicationRow() *sqlmock.Rows {
	cols := []string{"application_id", "code", "unit_id", "host_uri", "scheme", "name", "info",
		"ttl", "queue_length_max", "created_at", "modified_at"}
	return sqlmock.NewRows(cols).AddRow("a1", "app1", "u1", "app.example", "amqp", "App 1",
		[]byte(`{}`), nil, nil, time.Now(), time.Now())
}

func networkRouteRows() *sqlmock.Rows {
	cols := []string{"route_id", "network_id", "application_id", "unit_id", "created_at", "modified_at"}
	return sqlmock.NewRows(cols).AddRow("r1", "n1", "a1", "u1", time.Now(), time.Now())
}

func emptyDeviceRouteRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"route_id", "device_id", "application_id", "network_id",
		"unit_id", "profile", "created_at", "modified_at"})
}

func networkEndpointFixture() broker.Endpoint {
	return broker.Endpoint{Kind: broker.KindNetwork, EndpointID: "n1", EndpointCode: "net1", UnitCode: "unitA",
		HostURI: "network.example", Scheme: broker.SchemeAMQP}
}

func applicationEndpointFixture() broker.Endpoint {
	return broker.Endpoint{Kind: broker.KindApplication, EndpointID: "a1", EndpointCode: "app1", UnitCode: "unitA",
		HostURI: "app.example", Scheme: broker.SchemeAMQP}
}

func TestHandleUplink_ResolvesAndFansOutToTarget(t *testing.T) {
	engine, mock, adapter := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM units WHERE lower\\(code\\)").WillReturnRows(unitRow())
	mock.ExpectQuery("FROM networks WHERE COALESCE").WillReturnRows(networkRow("u1"))
	mock.ExpectQuery("WHERE d.network_id=\\$1").WillReturnRows(deviceRow())
	mock.ExpectQuery("FROM network_routes WHERE network_id").WillReturnRows(networkRouteRows())
	mock.ExpectQuery("FROM applications WHERE application_id").WillReturnRows(applicationRow())
	mock.ExpectQuery("FROM device_routes WHERE device_id").WillReturnRows(emptyDeviceRouteRows())
	mock.ExpectQuery("FROM applications WHERE application_id").WillReturnRows(applicationRow())
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow())

	netEP := networkEndpointFixture()
	appEP := applicationEndpointFixture()
	_, err := adapter.Provision(ctx, netEP, nil, nil)
	require.NoError(t, err)
	_, err = adapter.Provision(ctx, appEP, nil, nil)
	require.NoError(t, err)

	body, err := json.Marshal(uplinkIn{NetworkAddr: "AA:BB", Time: time.Now(), Data: "01ff"})
	require.NoError(t, err)

	err = engine.handleUplink(ctx, netEP, broker.Message{Body: body})
	assert.NoError(t, err)

	stats, err := adapter.Stats(ctx, appEP, "uldata")
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Messages)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleUplink_StoreDriverErrorIsTransient(t *testing.T) {
	engine, mock, adapter := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM units WHERE lower\\(code\\)").WillReturnError(sqlmock.ErrCancelled)

	netEP := networkEndpointFixture()
	_, err := adapter.Provision(ctx, netEP, nil, nil)
	require.NoError(t, err)

	body, _ := json.Marshal(uplinkIn{NetworkAddr: "ZZ:ZZ", Time: time.Now(), Data: "00"})
	err = engine.handleUplink(ctx, netEP, broker.Message{Body: body})
	// A genuine driver error (not sql.ErrNoRows) surfaces as a
	// transient failure, not an ack-drop, so the caller can redeliver.
	assert.Error(t, err)
}

func TestHandleUplink_MalformedMessageAcksDrop(t *testing.T) {
	engine, _, adapter := newTestEngine(t)
	ctx := context.Background()
	netEP := networkEndpointFixture()
	_, err := adapter.Provision(ctx, netEP, nil, nil)
	require.NoError(t, err)

	err = engine.handleUplink(ctx, netEP, broker.Message{Body: []byte("not json")})
	assert.NoError(t, err)
}

func TestHandleDownlink_SameUnitSuccess(t *testing.T) {
	engine, mock, adapter := newTestEngine(t)
	ctx := context.Background()

	netCode, addr := "net1", "AA:BB"
	mock.ExpectQuery("FROM units WHERE lower\\(code\\)").WillReturnRows(unitRow())
	mock.ExpectQuery("FROM networks WHERE COALESCE").WillReturnRows(networkRow("u1"))
	mock.ExpectQuery("WHERE d.network_id=\\$1").WillReturnRows(deviceRow())
	mock.ExpectQuery("FROM applications WHERE application_id").WillReturnRows(applicationRow())
	mock.ExpectExec("INSERT INTO downlink_buffers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM networks WHERE network_id").WillReturnRows(networkRow("u1"))
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow())

	appEP := applicationEndpointFixture()
	netEP := networkEndpointFixture()
	_, err := adapter.Provision(ctx, appEP, nil, nil)
	require.NoError(t, err)
	_, err = adapter.Provision(ctx, netEP, nil, nil)
	require.NoError(t, err)

	body, err := json.Marshal(downlinkIn{
		CorrelationID: "corr-1", NetworkCode: &netCode, NetworkAddr: &addr, Data: "0102",
	})
	require.NoError(t, err)

	err = engine.handleDownlink(ctx, appEP, broker.Message{Body: body})
	assert.NoError(t, err)

	netStats, err := adapter.Stats(ctx, netEP, "dldata")
	require.NoError(t, err)
	assert.EqualValues(t, 1, netStats.Messages)

	respStats, err := adapter.Stats(ctx, appEP, "dldata-resp")
	require.NoError(t, err)
	assert.EqualValues(t, 1, respStats.Messages)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDownlink_CrossUnitWithoutBindingIsRejected(t *testing.T) {
	engine, mock, adapter := newTestEngine(t)
	ctx := context.Background()

	// The device belongs to unitA but the requesting application
	// belongs to a different unit, and the network is private — no
	// device-route or network-route binding exists, so step 2 rejects.
	deviceID := "d1"
	mock.ExpectQuery("WHERE d.device_id=\\$1").WillReturnRows(deviceRow())
	mock.ExpectQuery("FROM applications WHERE application_id").WillReturnRows(
		sqlmock.NewRows([]string{"application_id", "code", "unit_id", "host_uri", "scheme", "name", "info",
			"ttl", "queue_length_max", "created_at", "modified_at"}).
			AddRow("a2", "app2", "u2", "app2.example", "amqp", "App 2", []byte(`{}`), nil, nil, time.Now(), time.Now()))

	appEP := broker.Endpoint{Kind: broker.KindApplication, EndpointID: "a2", EndpointCode: "app2", UnitCode: "unitB",
		HostURI: "app2.example", Scheme: broker.SchemeAMQP}
	_, err := adapter.Provision(ctx, appEP, nil, nil)
	require.NoError(t, err)

	body, err := json.Marshal(downlinkIn{CorrelationID: "corr-2", DeviceID: &deviceID, Data: "00"})
	require.NoError(t, err)

	err = engine.handleDownlink(ctx, appEP, broker.Message{Body: body})
	assert.NoError(t, err)

	respStats, err := adapter.Stats(ctx, appEP, "dldata-resp")
	require.NoError(t, err)
	assert.EqualValues(t, 1, respStats.Messages)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleDownlinkResult_ExpiredBufferAcksDrop(t *testing.T) {
	engine, mock, _ := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM downlink_buffers WHERE correlation_id").WillReturnError(sql.ErrNoRows)

	netEP := networkEndpointFixture()
	body, _ := json.Marshal(downlinkResultIn{CorrelationID: "gone", Status: "timeout"})
	err := engine.handleDownlinkResult(ctx, netEP, broker.Message{Body: body})
	assert.NoError(t, err)
}

func TestHandleDownlinkResult_RelaysToApplication(t *testing.T) {
	engine, mock, adapter := newTestEngine(t)
	ctx := context.Background()

	bufCols := []string{"correlation_id", "application_id", "network_id", "device_id", "unit_id", "created_at", "expires_at"}
	mock.ExpectQuery("FROM downlink_buffers WHERE correlation_id").WillReturnRows(
		sqlmock.NewRows(bufCols).AddRow("corr-1", "a1", "n1", "d1", "u1", time.Now(), time.Now().Add(time.Minute)))
	mock.ExpectExec("DELETE FROM downlink_buffers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("FROM applications WHERE application_id").WillReturnRows(applicationRow())
	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow())

	appEP := applicationEndpointFixture()
	_, err := adapter.Provision(ctx, appEP, nil, nil)
	require.NoError(t, err)

	netEP := networkEndpointFixture()
	body, _ := json.Marshal(downlinkResultIn{CorrelationID: "corr-1", Status: "ok"})
	err = engine.handleDownlinkResult(ctx, netEP, broker.Message{Body: body})
	assert.NoError(t, err)

	resultStats, err := adapter.Stats(ctx, appEP, "dldata-result")
	require.NoError(t, err)
	assert.EqualValues(t, 1, resultStats.Messages)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyDeviceBulk_PublishesCtrlMessage(t *testing.T) {
	engine, mock, adapter := newTestEngine(t)
	ctx := context.Background()

	mock.ExpectQuery("FROM units WHERE unit_id").WillReturnRows(unitRow())

	netEP := networkEndpointFixture()
	_, err := adapter.Provision(ctx, netEP, nil, nil)
	require.NoError(t, err)

	unitID := "u1"
	net := &models.Network{NetworkID: "n1", Code: "net1", UnitID: &unitID, HostURI: "network.example", Scheme: models.SchemeAMQP}
	err = engine.NotifyDeviceBulk(ctx, net, OpAddDeviceBulk, []string{"AA:01", "AA:02"})
	assert.NoError(t, err)

	ctrlStats, err := adapter.Stats(ctx, netEP, "ctrl")
	require.NoError(t, err)
	assert.EqualValues(t, 1, ctrlStats.Messages)

	assert.NoError(t, mock.ExpectationsWereMet())
}
