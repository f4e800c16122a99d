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

// requireManageNetwork resolves the owning unit (nil for a public
// network) and applies the same visibility/management check used for
// units — a public network is manageable by any admin or manager,
// never by a plain owner/member since there is no unit to own it.
func (m *Manager) requireManageNetwork(ctx context.Context, p Principal, unitID *string) (*models.Unit, error) {
	if unitID == nil {
		if !p.IsAdmin() && !p.IsManager() {
			return nil, apperr.Forbidden(apperr.CodePerm, "only admin or manager may manage public networks")
		}
		return nil, nil
	}
	unit, err := m.stores.Units.Get(ctx, *unitID)
	if err != nil {
		return nil, err
	}
	return unit, p.requireManage(unit)
}

func (m *Manager) CreateNetwork(ctx context.Context, p Principal, unitID *string, code, hostURI string, scheme models.Scheme, name string, info models.Info, ttl, queueLengthMax *int64) (*models.Network, error) {
	if _, err := m.requireManageNetwork(ctx, p, unitID); err != nil {
		return nil, err
	}
	if !validEntityCode(code) {
		return nil, apperr.Parameter(apperr.CodeParam, "invalid network code")
	}

	now := time.Now()
	n := &models.Network{
		NetworkID:      uuid.New().String(),
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
	if err := m.stores.Networks.Add(ctx, n); err != nil {
		return nil, err
	}

	if err := m.provisionNetwork(ctx, n); err != nil {
		m.logger.Error("resourcemgr: failed to provision network broker tenancy", zap.Error(err))
		return nil, apperr.Internal("err_internal", "network created but broker provisioning failed", err)
	}
	return n, nil
}

func (m *Manager) GetNetwork(ctx context.Context, p Principal, networkID string) (*models.Network, error) {
	n, err := m.stores.Networks.Get(ctx, networkID)
	if err != nil {
		return nil, err
	}
	if n.UnitID != nil {
		unit, err := m.stores.Units.Get(ctx, *n.UnitID)
		if err != nil {
			return nil, err
		}
		if err := p.requireView(unit); err != nil {
			return nil, err
		}
	} else if p.UserID == nil && p.ClientID == "" {
		return nil, apperr.Forbidden(apperr.CodePerm, "authentication required")
	}
	return n, nil
}

// ListNetworks mirrors spec §4.8's visibility rule for the one
// unit-less resource kind: public==true restricts to public networks
// (visible to any authenticated principal), otherwise a unit-scoped
// listing requires the same view rights as any other unit resource.
func (m *Manager) ListNetworks(ctx context.Context, p Principal, unitID *string, publicOnly bool, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.Network, *store.Cursor, error) {
	if !publicOnly && unitID != nil {
		unit, err := m.stores.Units.Get(ctx, *unitID)
		if err != nil {
			return nil, nil, err
		}
		if err := p.requireView(unit); err != nil {
			return nil, nil, err
		}
	} else if !publicOnly && unitID == nil && !p.IsAdmin() && !p.IsManager() {
		return nil, nil, apperr.Parameter(apperr.CodeParam, "unit_id is required for this principal")
	}
	return m.stores.Networks.List(ctx, unitID, publicOnly, contains, opts, cur)
}

func (m *Manager) UpdateNetwork(ctx context.Context, p Principal, networkID string, hostURI *string, name *string, info models.Info, ttl, queueLengthMax *int64) (*models.Network, error) {
	n, err := m.stores.Networks.Get(ctx, networkID)
	if err != nil {
		return nil, err
	}
	if _, err := m.requireManageNetwork(ctx, p, n.UnitID); err != nil {
		return nil, err
	}

	ttlChanged := ttl != nil || queueLengthMax != nil
	if hostURI != nil {
		n.HostURI = *hostURI
	}
	if name != nil {
		n.Name = *name
	}
	if info != nil {
		n.Info = info
	}
	if ttl != nil {
		n.TTL = ttl
	}
	if queueLengthMax != nil {
		n.QueueLengthMax = queueLengthMax
	}
	n.ModifiedAt = time.Now()

	if err := m.stores.Networks.Update(ctx, n); err != nil {
		return nil, err
	}

	if ttlChanged {
		ep, err := m.networkEndpoint(ctx, n)
		if err == nil {
			if err := m.adapter.SetTTLLength(ctx, ep, n.TTL, n.QueueLengthMax); err != nil {
				m.logger.Error("resourcemgr: failed to apply network ttl/length", zap.Error(err))
			}
		}
	}
	return n, nil
}

// DeleteNetwork enumerates and invalidates every device on the network
// before deprovisioning the broker endpoint and deleting the row — the
// database cascades device/device-route/network-route/downlink-buffer
// rows once the network is gone, so this is the last point those rows
// can still be read.
func (m *Manager) DeleteNetwork(ctx context.Context, p Principal, networkID string) error {
	n, err := m.stores.Networks.Get(ctx, networkID)
	if err != nil {
		return err
	}
	unit, err := m.requireManageNetwork(ctx, p, n.UnitID)
	if err != nil {
		return err
	}

	devices, _, err := m.stores.Devices.List(ctx, "", networkID, "", store.ListOptions{}, nil)
	if err != nil {
		return err
	}

	if err := m.deprovisionNetwork(ctx, n); err != nil {
		m.logger.Error("resourcemgr: failed to deprovision network", zap.Error(err))
	}
	if err := m.stores.Networks.Del(ctx, networkID); err != nil {
		return err
	}

	for _, d := range devices {
		m.invalidateDevice(ctx, d)
	}

	keys := controlbus.ResourceKeys{NetworkID: n.NetworkID, NetworkCode: n.Code}
	if unit != nil {
		keys.UnitID = unit.UnitID
		keys.UnitCode = unit.Code
	}
	m.publishResource(ctx, controlbus.KindNetwork, controlbus.OpDelNetwork, keys)
	return nil
}
