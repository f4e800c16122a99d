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

// CreateApplication implements spec §4.7's algorithm: authorize against
// the owning unit, validate the code, insert, then provision broker
// tenancy. A provisioning failure after the DB commit is surfaced as
// internal — the row is the source of truth and a later update or
// reconciliation pass can re-provision.
func (m *Manager) CreateApplication(ctx context.Context, p Principal, unitID, code, hostURI string, scheme models.Scheme, name string, info models.Info, ttl, queueLengthMax *int64) (*models.Application, error) {
	unit, err := m.stores.Units.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireManage(unit); err != nil {
		return nil, err
	}
	if !validEntityCode(code) {
		return nil, apperr.Parameter(apperr.CodeParam, "invalid application code")
	}

	now := time.Now()
	a := &models.Application{
		ApplicationID:  uuid.New().String(),
		Code:           code,
		UnitID:         unitID,
		HostURI:        hostURI,
		Scheme:         scheme,
		Name:           name,
		Info:           info,
		TTL:            ttl,
		QueueLengthMax: queueLengthMax,
		Timestamps:     models.Timestamps{CreatedAt: now, ModifiedAt: now},
	}
	if err := m.stores.Applications.Add(ctx, a); err != nil {
		return nil, err
	}

	if err := m.provisionApplication(ctx, a); err != nil {
		m.logger.Error("resourcemgr: failed to provision application broker tenancy", zap.Error(err))
		return nil, apperr.Internal("err_internal", "application created but broker provisioning failed", err)
	}
	return a, nil
}

func (m *Manager) GetApplication(ctx context.Context, p Principal, applicationID string) (*models.Application, error) {
	a, err := m.stores.Applications.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	unit, err := m.unitOf(ctx, a.UnitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireView(unit); err != nil {
		return nil, err
	}
	return a, nil
}

func (m *Manager) ListApplications(ctx context.Context, p Principal, unitID, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.Application, *store.Cursor, error) {
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
	return m.stores.Applications.List(ctx, unitID, contains, opts, cur)
}

// UpdateApplication applies the mutable fields (host_uri/name/info/ttl/
// queue_length_max) and, when the queue shape changed, re-applies it
// on the broker side via SetTTLLength.
func (m *Manager) UpdateApplication(ctx context.Context, p Principal, applicationID string, hostURI *string, name *string, info models.Info, ttl, queueLengthMax *int64) (*models.Application, error) {
	a, err := m.stores.Applications.Get(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	unit, err := m.stores.Units.Get(ctx, a.UnitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireManage(unit); err != nil {
		return nil, err
	}

	ttlChanged := ttl != nil || queueLengthMax != nil
	if hostURI != nil {
		a.HostURI = *hostURI
	}
	if name != nil {
		a.Name = *name
	}
	if info != nil {
		a.Info = info
	}
	if ttl != nil {
		a.TTL = ttl
	}
	if queueLengthMax != nil {
		a.QueueLengthMax = queueLengthMax
	}
	a.ModifiedAt = time.Now()

	if err := m.stores.Applications.Update(ctx, a); err != nil {
		return nil, err
	}

	if ttlChanged {
		ep, err := m.applicationEndpoint(ctx, a)
		if err == nil {
			if err := m.adapter.SetTTLLength(ctx, ep, a.TTL, a.QueueLengthMax); err != nil {
				m.logger.Error("resourcemgr: failed to apply application ttl/length", zap.Error(err))
			}
		}
	}
	return a, nil
}

// DeleteApplication deprovisions broker tenancy first, then deletes
// the row (cascading its device-routes/network-routes at the DB
// level), then invalidates every device whose uplink target set
// included this application so the routing engine's cache doesn't
// keep publishing to a principal that no longer exists.
func (m *Manager) DeleteApplication(ctx context.Context, p Principal, applicationID string) error {
	a, err := m.stores.Applications.Get(ctx, applicationID)
	if err != nil {
		return err
	}
	unit, err := m.stores.Units.Get(ctx, a.UnitID)
	if err != nil {
		return err
	}
	if err := p.requireManage(unit); err != nil {
		return err
	}

	affected, err := m.devicesBoundToApplication(ctx, a.ApplicationID)
	if err != nil {
		return err
	}

	if err := m.deprovisionApplication(ctx, a); err != nil {
		m.logger.Error("resourcemgr: failed to deprovision application", zap.Error(err))
	}
	if err := m.stores.Applications.Del(ctx, applicationID); err != nil {
		return err
	}

	for _, deviceID := range affected {
		if err := m.routeCache.InvalidateUplinkTargets(ctx, deviceID); err != nil {
			m.logger.Error("resourcemgr: failed to invalidate uplink targets", zap.Error(err))
		}
	}
	m.publishResource(ctx, controlbus.KindApplication, controlbus.OpDelApplication, controlbus.ResourceKeys{
		UnitID: unit.UnitID, UnitCode: unit.Code, ApplicationID: a.ApplicationID,
	})
	return nil
}

// devicesBoundToApplication scans the application's device-routes and
// network-routes (network-routes expanded to every device currently on
// that network) to find every device id whose uplink-target cache
// entry must be dropped.
func (m *Manager) devicesBoundToApplication(ctx context.Context, applicationID string) ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string

	drs, _, err := m.stores.DeviceRoutes.List(ctx, "", applicationID, store.ListOptions{}, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range drs {
		if _, ok := seen[r.DeviceID]; !ok {
			seen[r.DeviceID] = struct{}{}
			ids = append(ids, r.DeviceID)
		}
	}

	nrs, _, err := m.stores.NetworkRoutes.List(ctx, "", applicationID, store.ListOptions{}, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range nrs {
		devices, _, err := m.stores.Devices.List(ctx, "", r.NetworkID, "", store.ListOptions{}, nil)
		if err != nil {
			return nil, err
		}
		for _, d := range devices {
			if _, ok := seen[d.DeviceID]; !ok {
				seen[d.DeviceID] = struct{}{}
				ids = append(ids, d.DeviceID)
			}
		}
	}
	return ids, nil
}
