package postgres

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
)

// DownlinkBufferStore implements the correlation-id → device binding
// the routing engine (C7) uses to match a network's downlink result
// back to the application that sent it (spec §4.2/§3/§4.6).
type DownlinkBufferStore struct{ db *DB }

func NewDownlinkBufferStore(db *DB) *DownlinkBufferStore { return &DownlinkBufferStore{db: db} }

func (s *DownlinkBufferStore) Add(ctx context.Context, b *models.DownlinkBuffer) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO downlink_buffers (correlation_id, application_id, network_id, device_id, unit_id, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		b.CorrelationID, b.ApplicationID, b.NetworkID, b.DeviceID, b.UnitID, b.CreatedAt, b.ExpiresAt)
	if err != nil {
		return translate(err, apperr.CodeNotFound, "err_correlation_exist", "failed to add downlink buffer")
	}
	return nil
}

func (s *DownlinkBufferStore) Get(ctx context.Context, correlationID string) (*models.DownlinkBuffer, error) {
	var b models.DownlinkBuffer
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT correlation_id, application_id, network_id, device_id, unit_id, created_at, expires_at
		FROM downlink_buffers WHERE correlation_id=$1`, correlationID).
		Scan(&b.CorrelationID, &b.ApplicationID, &b.NetworkID, &b.DeviceID, &b.UnitID, &b.CreatedAt, &b.ExpiresAt)
	if err != nil {
		return nil, translate(err, "err_correlation_not_exist", "", "failed to get downlink buffer")
	}
	return &b, nil
}

// Del consumes the buffer entry — called once a downlink result has
// been matched, before it is relayed, regardless of the result's outcome.
func (s *DownlinkBufferStore) Del(ctx context.Context, correlationID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM downlink_buffers WHERE correlation_id=$1", correlationID)
	if err != nil {
		return translate(err, "", "", "failed to delete downlink buffer")
	}
	return nil
}

func (s *DownlinkBufferStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.Conn.ExecContext(ctx, "DELETE FROM downlink_buffers WHERE expires_at < now()")
	if err != nil {
		return 0, apperr.Internal("err_internal", "failed to purge downlink buffers", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
