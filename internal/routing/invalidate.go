package routing

import (
	"context"

	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/controlbus"
)

// SubscribeInvalidations wires the Routing Engine's two caches to the
// control bus (C6): whenever a peer instance's Resource Manager
// mutates a device, device-route, or network-route row, it publishes
// one of these operations so every other instance's local cache
// converges without waiting for its own TTL, per spec §4.5.
func (e *Engine) SubscribeInvalidations(ctx context.Context) {
	e.bus.Subscribe(ctx, []controlbus.Kind{
		controlbus.KindDevice,
		controlbus.KindDeviceRoute,
		controlbus.KindNetworkRoute,
	}, e.handleInvalidation)
}

func (e *Engine) handleInvalidation(ctx context.Context, kind controlbus.Kind, msg controlbus.Message) {
	switch msg.Operation {
	case controlbus.OpDelDevice:
		if msg.Device == nil {
			return
		}
		d := msg.Device
		if err := e.deviceCache.Invalidate(ctx, d.UnitCode, d.NetworkCode, d.NetworkAddr); err != nil {
			e.logger.Error("routing: failed to invalidate device cache", zap.Error(err))
		}
		if err := e.routeCache.InvalidateAllForDevice(ctx, d.UnitID, d.UnitCode, d.NetworkCode, d.NetworkAddr, d.DeviceID); err != nil {
			e.logger.Error("routing: failed to invalidate device-route cache", zap.Error(err))
		}

	case controlbus.OpDelDeviceBulk:
		if msg.DeviceBulk == nil {
			return
		}
		b := msg.DeviceBulk
		for i, addr := range b.NetworkAddrs {
			if err := e.deviceCache.Invalidate(ctx, b.UnitCode, b.NetworkCode, addr); err != nil {
				e.logger.Error("routing: failed to invalidate device cache", zap.Error(err))
			}
			if i < len(b.DeviceIDs) {
				if err := e.routeCache.InvalidateAllForDevice(ctx, b.UnitID, b.UnitCode, b.NetworkCode, addr, b.DeviceIDs[i]); err != nil {
					e.logger.Error("routing: failed to invalidate device-route cache", zap.Error(err))
				}
			}
		}

	case controlbus.OpDelDeviceRoute, controlbus.OpDelNetworkRoute:
		if msg.Resource == nil || msg.Resource.DeviceID == "" {
			return
		}
		if err := e.routeCache.InvalidateUplinkTargets(ctx, msg.Resource.DeviceID); err != nil {
			e.logger.Error("routing: failed to invalidate uplink targets", zap.Error(err))
		}
	}
}
