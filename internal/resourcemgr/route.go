package resourcemgr

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/controlbus"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// CreateDeviceRoute binds one device to one application's uplink/
// downlink fan-out; both endpoints must be manageable by the
// principal, and the new binding invalidates only that device's
// cached target set.
func (m *Manager) CreateDeviceRoute(ctx context.Context, p Principal, deviceID, applicationID, profile string) (*models.DeviceRoute, error) {
	d, err := m.stores.Devices.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if _, err := m.requireManageNetwork(ctx, p, networkUnitID(d)); err != nil {
		return nil, err
	}
	a, err := m.stores.Applications.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	aUnit, err := m.stores.Units.Get(ctx, a.UnitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireManage(aUnit); err != nil {
		return nil, err
	}

	now := time.Now()
	r := &models.DeviceRoute{
		RouteID:       uuid.New().String(),
		DeviceID:      deviceID,
		ApplicationID: applicationID,
		NetworkID:     d.NetworkID,
		UnitID:        d.UnitID,
		Profile:       profile,
		Timestamps:    models.Timestamps{CreatedAt: now, ModifiedAt: now},
	}
	if err := m.stores.DeviceRoutes.Add(ctx, r); err != nil {
		return nil, err
	}
	if err := m.routeCache.InvalidateUplinkTargets(ctx, deviceID); err != nil {
		m.logger.Error("resourcemgr: failed to invalidate uplink targets", zap.Error(err))
	}
	return r, nil
}

func (m *Manager) ListDeviceRoutes(ctx context.Context, p Principal, unitID, applicationID string, opts store.ListOptions, cur *store.Cursor) ([]*models.DeviceRoute, *store.Cursor, error) {
	if unitID != "" {
		unit, err := m.stores.Units.Get(ctx, unitID)
		if err != nil {
			return nil, nil, err
		}
		if err := p.requireView(unit); err != nil {
			return nil, nil, err
		}
	} else if !p.IsAdmin() && !p.IsManager() {
		return nil, nil, apperr.Parameter(apperr.CodeParam, "unit_id is required for this principal")
	}
	return m.stores.DeviceRoutes.List(ctx, unitID, applicationID, opts, cur)
}

// DeleteDeviceRoute drops the binding and the device's cached target
// set, and publishes the invalidation so other instances converge.
func (m *Manager) DeleteDeviceRoute(ctx context.Context, p Principal, routeID string) error {
	r, err := m.stores.DeviceRoutes.Get(ctx, routeID)
	if err != nil {
		return err
	}
	unit, err := m.unitOf(ctx, r.UnitID)
	if err != nil {
		return err
	}
	if err := p.requireManage(unit); err != nil {
		return err
	}

	if err := m.stores.DeviceRoutes.Del(ctx, routeID); err != nil {
		return err
	}
	if err := m.routeCache.InvalidateUplinkTargets(ctx, r.DeviceID); err != nil {
		m.logger.Error("resourcemgr: failed to invalidate uplink targets", zap.Error(err))
	}
	m.publishResource(ctx, controlbus.KindDeviceRoute, controlbus.OpDelDeviceRoute, controlbus.ResourceKeys{
		UnitID: r.UnitID, ApplicationID: r.ApplicationID, DeviceID: r.DeviceID, RouteID: r.RouteID,
	})
	return nil
}

// CreateNetworkRoute fans out every device on a network to an
// application without a per-device row; the new binding invalidates
// the uplink cache of every device currently on the network, since
// each one's target set just grew.
func (m *Manager) CreateNetworkRoute(ctx context.Context, p Principal, networkID, applicationID string) (*models.NetworkRoute, error) {
	n, unit, err := m.requireNetworkManage(ctx, p, networkID)
	if err != nil {
		return nil, err
	}
	a, err := m.stores.Applications.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	aUnit, err := m.stores.Units.Get(ctx, a.UnitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireManage(aUnit); err != nil {
		return nil, err
	}

	unitID := ""
	if unit != nil {
		unitID = unit.UnitID
	}
	now := time.Now()
	r := &models.NetworkRoute{
		RouteID:       uuid.New().String(),
		NetworkID:     n.NetworkID,
		ApplicationID: applicationID,
		UnitID:        unitID,
		Timestamps:    models.Timestamps{CreatedAt: now, ModifiedAt: now},
	}
	if err := m.stores.NetworkRoutes.Add(ctx, r); err != nil {
		return nil, err
	}
	m.invalidateNetworkDeviceUplinks(ctx, n.NetworkID)
	return r, nil
}

func (m *Manager) ListNetworkRoutes(ctx context.Context, p Principal, unitID, applicationID string, opts store.ListOptions, cur *store.Cursor) ([]*models.NetworkRoute, *store.Cursor, error) {
	if unitID != "" {
		unit, err := m.stores.Units.Get(ctx, unitID)
		if err != nil {
			return nil, nil, err
		}
		if err := p.requireView(unit); err != nil {
			return nil, nil, err
		}
	} else if !p.IsAdmin() && !p.IsManager() {
		return nil, nil, apperr.Parameter(apperr.CodeParam, "unit_id is required for this principal")
	}
	return m.stores.NetworkRoutes.List(ctx, unitID, applicationID, opts, cur)
}

func (m *Manager) DeleteNetworkRoute(ctx context.Context, p Principal, routeID string) error {
	r, err := m.stores.NetworkRoutes.Get(ctx, routeID)
	if err != nil {
		return err
	}
	unit, err := m.unitOf(ctx, r.UnitID)
	if err != nil {
		return err
	}
	if err := p.requireManage(unit); err != nil {
		return err
	}

	if err := m.stores.NetworkRoutes.Del(ctx, routeID); err != nil {
		return err
	}
	m.invalidateNetworkDeviceUplinks(ctx, r.NetworkID)
	m.publishResource(ctx, controlbus.KindNetworkRoute, controlbus.OpDelNetworkRoute, controlbus.ResourceKeys{
		UnitID: r.UnitID, ApplicationID: r.ApplicationID, NetworkID: r.NetworkID, RouteID: r.RouteID,
	})
	return nil
}

func (m *Manager) invalidateNetworkDeviceUplinks(ctx context.Context, networkID string) {
	devices, _, err := m.stores.Devices.List(ctx, "", networkID, "", store.ListOptions{}, nil)
	if err != nil {
		m.logger.Error("resourcemgr: failed to list network devices for uplink invalidation", zap.Error(err))
		return
	}
	for _, d := range devices {
		if err := m.routeCache.InvalidateUplinkTargets(ctx, d.DeviceID); err != nil {
			m.logger.Error("resourcemgr: failed to invalidate uplink targets", zap.Error(err))
		}
	}
}
