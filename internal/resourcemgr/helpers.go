package resourcemgr

import (
	"context"

	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/broker"
	"github.com/sylvia-iot/controlplane/internal/controlbus"
	"github.com/sylvia-iot/controlplane/internal/models"
)

// applicationEndpoint builds the broker identity for an application
// row, resolving its owning unit's code for Username()/QueueName().
func (m *Manager) applicationEndpoint(ctx context.Context, a *models.Application) (broker.Endpoint, error) {
	unit, err := m.stores.Units.Get(ctx, a.UnitID)
	if err != nil {
		return broker.Endpoint{}, err
	}
	return broker.Endpoint{
		Kind:         broker.KindApplication,
		EndpointID:   a.ApplicationID,
		EndpointCode: a.Code,
		UnitCode:     unit.Code,
		HostURI:      a.HostURI,
		Scheme:       broker.Scheme(a.Scheme),
	}, nil
}

// networkEndpoint builds the broker identity for a network row; a nil
// UnitID (public network) leaves UnitCode empty.
func (m *Manager) networkEndpoint(ctx context.Context, n *models.Network) (broker.Endpoint, error) {
	var unitCode string
	if n.UnitID != nil {
		unit, err := m.stores.Units.Get(ctx, *n.UnitID)
		if err != nil {
			return broker.Endpoint{}, err
		}
		unitCode = unit.Code
	}
	return broker.Endpoint{
		Kind:         broker.KindNetwork,
		EndpointID:   n.NetworkID,
		EndpointCode: n.Code,
		UnitCode:     unitCode,
		HostURI:      n.HostURI,
		Scheme:       broker.Scheme(n.Scheme),
	}, nil
}

// provisionApplication implements spec §4.7 step 4 for application
// creation: mint broker tenancy for every queue an application owns.
func (m *Manager) provisionApplication(ctx context.Context, a *models.Application) error {
	ep, err := m.applicationEndpoint(ctx, a)
	if err != nil {
		return err
	}
	if _, err := m.adapter.Provision(ctx, ep, a.TTL, a.QueueLengthMax); err != nil {
		return err
	}
	return nil
}

func (m *Manager) deprovisionApplication(ctx context.Context, a *models.Application) error {
	ep, err := m.applicationEndpoint(ctx, a)
	if err != nil {
		return err
	}
	return m.adapter.Deprovision(ctx, ep)
}

func (m *Manager) provisionNetwork(ctx context.Context, n *models.Network) error {
	ep, err := m.networkEndpoint(ctx, n)
	if err != nil {
		return err
	}
	if _, err := m.adapter.Provision(ctx, ep, n.TTL, n.QueueLengthMax); err != nil {
		return err
	}
	return nil
}

func (m *Manager) deprovisionNetwork(ctx context.Context, n *models.Network) error {
	ep, err := m.networkEndpoint(ctx, n)
	if err != nil {
		return err
	}
	return m.adapter.Deprovision(ctx, ep)
}

// publishResource is spec §4.7 step 5 for every resource kind whose
// identity is enough to key an invalidation — unit, application,
// network, device-route and network-route deletions. The routing
// engine subscribes only to the two route kinds; the other three are
// published for any other instance that keys local state on them.
func (m *Manager) publishResource(ctx context.Context, kind controlbus.Kind, op controlbus.Operation, keys controlbus.ResourceKeys) {
	if err := m.bus.Publish(ctx, kind, controlbus.Message{Operation: op, Resource: &keys}); err != nil {
		m.logger.Error("resourcemgr: failed to publish control-bus invalidation",
			zap.String("kind", string(kind)), zap.String("op", string(op)), zap.Error(err))
	}
}

// invalidateDevice drops a device's own cache entries locally (this
// instance doesn't need to wait for its own control-bus round trip)
// and publishes del-device so every other instance converges too, per
// spec §4.7 step 5 / §4.5's del-device example.
func (m *Manager) invalidateDevice(ctx context.Context, d *models.Device) {
	unitCode := models.UnitScope(d.UnitCode)
	if err := m.deviceCache.Invalidate(ctx, unitCode, d.NetworkCode, d.NetworkAddr); err != nil {
		m.logger.Error("resourcemgr: failed to invalidate device cache", zap.Error(err))
	}
	if err := m.routeCache.InvalidateAllForDevice(ctx, d.UnitID, unitCode, d.NetworkCode, d.NetworkAddr, d.DeviceID); err != nil {
		m.logger.Error("resourcemgr: failed to invalidate device-route cache", zap.Error(err))
	}

	keys := controlbus.DeviceKeys{
		UnitID: d.UnitID, UnitCode: unitCode,
		NetworkID: d.NetworkID, NetworkCode: d.NetworkCode, NetworkAddr: d.NetworkAddr,
		DeviceID: d.DeviceID,
	}
	if err := m.bus.Publish(ctx, controlbus.KindDevice, controlbus.Message{Operation: controlbus.OpDelDevice, Device: &keys}); err != nil {
		m.logger.Error("resourcemgr: failed to publish device invalidation", zap.Error(err))
	}
}

// invalidateDeviceBulk is the bulk variant used by add/delete-bulk
// device operations (spec §8's cache-coherence scenario).
func (m *Manager) invalidateDeviceBulk(ctx context.Context, unitID, unitCode, networkID, networkCode string, addrs, deviceIDs []string) {
	for i, addr := range addrs {
		if err := m.deviceCache.Invalidate(ctx, unitCode, networkCode, addr); err != nil {
			m.logger.Error("resourcemgr: failed to invalidate device cache", zap.Error(err))
		}
		if i < len(deviceIDs) {
			if err := m.routeCache.InvalidateAllForDevice(ctx, unitID, unitCode, networkCode, addr, deviceIDs[i]); err != nil {
				m.logger.Error("resourcemgr: failed to invalidate device-route cache", zap.Error(err))
			}
		}
	}

	keys := controlbus.DeviceBulkKeys{
		UnitID: unitID, UnitCode: unitCode,
		NetworkID: networkID, NetworkCode: networkCode,
		NetworkAddrs: addrs, DeviceIDs: deviceIDs,
	}
	if err := m.bus.Publish(ctx, controlbus.KindDevice, controlbus.Message{Operation: controlbus.OpDelDeviceBulk, DeviceBulk: &keys}); err != nil {
		m.logger.Error("resourcemgr: failed to publish device-bulk invalidation", zap.Error(err))
	}
}
