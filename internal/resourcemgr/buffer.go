package resourcemgr

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/models"
)

// GetDownlinkBuffer exposes the correlation-id lookup the dldata-buffer
// HTTP surface needs, scoped to units the principal can view.
func (m *Manager) GetDownlinkBuffer(ctx context.Context, p Principal, correlationID string) (*models.DownlinkBuffer, error) {
	b, err := m.stores.Buffers.Get(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	unit, err := m.unitOf(ctx, b.UnitID)
	if err != nil {
		return nil, err
	}
	if err := p.requireView(unit); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteDownlinkBuffer lets an application explicitly discard a
// correlation it no longer expects a result for, ahead of its natural
// expiry.
func (m *Manager) DeleteDownlinkBuffer(ctx context.Context, p Principal, correlationID string) error {
	b, err := m.stores.Buffers.Get(ctx, correlationID)
	if err != nil {
		return err
	}
	unit, err := m.unitOf(ctx, b.UnitID)
	if err != nil {
		return err
	}
	if err := p.requireManage(unit); err != nil {
		return err
	}
	return m.stores.Buffers.Del(ctx, correlationID)
}
