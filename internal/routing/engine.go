// Package routing implements the Routing Engine (C7) of spec §4.6:
// the uplink, downlink, and downlink-result pipelines that move
// payloads between a network's device traffic and an application's
// queues, plus the bulk device-operation control message.
//
// There is no direct analogue in the teacher for message-driven
// stream processing — ovncp is a request/response control plane with
// no data-plane forwarding of its own. This package is grounded on
// the *shape* of the teacher's service layer instead (validate,
// mutate, respond, with every error translated exactly once at the
// boundary — internal/services/tenant_service.go), generalized from
// an HTTP handler invocation to a broker.Handler callback invocation,
// and on the original source's device uplink/downlink lookup and
// authorization semantics (routes/v1/device/api.rs) for what each
// pipeline actually resolves and checks.
package routing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/broker"
	"github.com/sylvia-iot/controlplane/internal/config"
	"github.com/sylvia-iot/controlplane/internal/controlbus"
	"github.com/sylvia-iot/controlplane/internal/routecache"
	"github.com/sylvia-iot/controlplane/internal/store/postgres"
)

// Stores bundles the resource stores the engine reads through on a
// cache miss.
type Stores struct {
	Units         *postgres.UnitStore
	Applications  *postgres.ApplicationStore
	Networks      *postgres.NetworkStore
	Devices       *postgres.DeviceStore
	DeviceRoutes  *postgres.DeviceRouteStore
	NetworkRoutes *postgres.NetworkRouteStore
	Buffers       *postgres.DownlinkBufferStore
}

// Engine owns the resources every pipeline needs: the resource
// stores, the two routecache tables, the broker adapter used both to
// consume inbound queues and publish outbound ones, the control bus
// used to invalidate peer caches, and a logger for the best-effort
// paths spec §4.6 calls out (a publish failure to one target
// application must not block the others).
type Engine struct {
	stores      Stores
	deviceCache *routecache.DeviceCache
	routeCache  *routecache.DeviceRouteCache
	adapter     broker.Adapter
	bus         *controlbus.Bus
	logger      *zap.Logger
	cfg         config.RoutingConfig
}

func New(stores Stores, deviceCache *routecache.DeviceCache, routeCache *routecache.DeviceRouteCache,
	adapter broker.Adapter, bus *controlbus.Bus, logger *zap.Logger, cfg config.RoutingConfig) *Engine {
	return &Engine{
		stores:      stores,
		deviceCache: deviceCache,
		routeCache:  routeCache,
		adapter:     adapter,
		bus:         bus,
		logger:      logger,
		cfg:         cfg,
	}
}

// downlinkTTL resolves the caller's requested TTL against the
// configured default and ceiling, per spec §4.6 downlink step 3's
// "expires_at = now + ttl (default bounded)".
func (e *Engine) downlinkTTL(requested *int64) time.Duration {
	if requested == nil {
		return e.cfg.DownlinkDefaultTTL
	}
	ttl := time.Duration(*requested) * time.Second
	if ttl <= 0 {
		return e.cfg.DownlinkDefaultTTL
	}
	if ttl > e.cfg.DownlinkMaxTTL {
		return e.cfg.DownlinkMaxTTL
	}
	return ttl
}

// OpenNetworkPipelines registers the two receivers a network
// endpoint feeds: uldata (device uplink arriving from the gateway)
// and dldata-result (the gateway's report on a previously forwarded
// downlink). Both receivers run for the lifetime of ctx.
func (e *Engine) OpenNetworkPipelines(ctx context.Context, ep broker.Endpoint) (uldata, dldataResult broker.Receiver, err error) {
	uldata, err = e.adapter.OpenReceiver(ctx, ep, "uldata", func(hctx context.Context, msg broker.Message) error {
		return e.handleUplink(hctx, ep, msg)
	})
	if err != nil {
		return nil, nil, err
	}
	dldataResult, err = e.adapter.OpenReceiver(ctx, ep, "dldata-result", func(hctx context.Context, msg broker.Message) error {
		return e.handleDownlinkResult(hctx, ep, msg)
	})
	if err != nil {
		uldata.Close()
		return nil, nil, err
	}
	return uldata, dldataResult, nil
}

// OpenApplicationPipeline registers the one receiver an application
// endpoint feeds: dldata, the downlink command queue.
func (e *Engine) OpenApplicationPipeline(ctx context.Context, ep broker.Endpoint) (broker.Receiver, error) {
	return e.adapter.OpenReceiver(ctx, ep, "dldata", func(hctx context.Context, msg broker.Message) error {
		return e.handleDownlink(hctx, ep, msg)
	})
}
