package postgres

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// DeviceRouteStore implements the explicit device↔application binding
// CRUD surface of spec §4.2/§3, consulted by the routing engine (C7)
// only on a device-route-cache miss.
type DeviceRouteStore struct{ db *DB }

func NewDeviceRouteStore(db *DB) *DeviceRouteStore { return &DeviceRouteStore{db: db} }

var deviceRouteSortKeys = map[string]bool{"created_at": true, "modified_at": true}

func (s *DeviceRouteStore) Add(ctx context.Context, r *models.DeviceRoute) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO device_routes (route_id, device_id, application_id, network_id, unit_id, profile, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		r.RouteID, r.DeviceID, r.ApplicationID, r.NetworkID, r.UnitID, r.Profile, r.CreatedAt, r.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeBrokerDeviceNotExist, "err_route_exist", "failed to add device route")
	}
	return nil
}

func (s *DeviceRouteStore) Get(ctx context.Context, routeID string) (*models.DeviceRoute, error) {
	var r models.DeviceRoute
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT route_id, device_id, application_id, network_id, unit_id, profile, created_at, modified_at
		FROM device_routes WHERE route_id=$1`, routeID).
		Scan(&r.RouteID, &r.DeviceID, &r.ApplicationID, &r.NetworkID, &r.UnitID, &r.Profile, &r.CreatedAt, &r.ModifiedAt)
	if err != nil {
		return nil, translate(err, apperr.CodeNotFound, "", "failed to get device route")
	}
	return &r, nil
}

// ListByDevice returns every application a device's uplinks fan out
// to, the per-device half of the routing engine's target-set lookup.
func (s *DeviceRouteStore) ListByDevice(ctx context.Context, deviceID string) ([]*models.DeviceRoute, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT route_id, device_id, application_id, network_id, unit_id, profile, created_at, modified_at
		FROM device_routes WHERE device_id=$1`, deviceID)
	if err != nil {
		return nil, translate(err, "", "", "failed to list device routes")
	}
	defer rows.Close()

	var out []*models.DeviceRoute
	for rows.Next() {
		var r models.DeviceRoute
		if err := rows.Scan(&r.RouteID, &r.DeviceID, &r.ApplicationID, &r.NetworkID, &r.UnitID, &r.Profile, &r.CreatedAt, &r.ModifiedAt); err != nil {
			return nil, apperr.Internal("err_internal", "failed to scan device route", err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *DeviceRouteStore) List(ctx context.Context, unitID, applicationID string, opts store.ListOptions, cur *store.Cursor) ([]*models.DeviceRoute, *store.Cursor, error) {
	if err := store.AllowedSortKeys(opts.Sort, deviceRouteSortKeys); err != nil {
		return nil, nil, apperr.Parameter(apperr.CodeParam, err.Error())
	}
	offset, limit := store.NextWindow(opts, cur)

	var clauses []store.Clause
	if unitID != "" {
		clauses = append(clauses, store.Clause{SQL: "unit_id = $%d", Arg: unitID})
	}
	if applicationID != "" {
		clauses = append(clauses, store.Clause{SQL: "application_id = $%d", Arg: applicationID})
	}
	where, args := store.BuildWhere(clauses, 1)

	q := `SELECT route_id, device_id, application_id, network_id, unit_id, profile, created_at, modified_at
		FROM device_routes WHERE ` + where + orderByClause(opts.Sort, "created_at")
	var suffix string
	suffix, args = limitOffset(args, limit, offset)
	q += suffix

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, translate(err, "", "", "failed to list device routes")
	}
	defer rows.Close()

	var out []*models.DeviceRoute
	for rows.Next() {
		var r models.DeviceRoute
		if err := rows.Scan(&r.RouteID, &r.DeviceID, &r.ApplicationID, &r.NetworkID, &r.UnitID, &r.Profile, &r.CreatedAt, &r.ModifiedAt); err != nil {
			return nil, nil, apperr.Internal("err_internal", "failed to scan device route", err)
		}
		out = append(out, &r)
	}
	return out, store.AdvanceCursor(opts, cur, offset, limit, len(out)), nil
}

func (s *DeviceRouteStore) Count(ctx context.Context, unitID, applicationID string) (int, error) {
	var clauses []store.Clause
	if unitID != "" {
		clauses = append(clauses, store.Clause{SQL: "unit_id = $%d", Arg: unitID})
	}
	if applicationID != "" {
		clauses = append(clauses, store.Clause{SQL: "application_id = $%d", Arg: applicationID})
	}
	where, args := store.BuildWhere(clauses, 1)
	var n int
	err := s.db.Conn.QueryRowContext(ctx, "SELECT count(*) FROM device_routes WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, translate(err, "", "", "failed to count device routes")
	}
	return n, nil
}

func (s *DeviceRouteStore) Del(ctx context.Context, routeID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM device_routes WHERE route_id=$1", routeID)
	if err != nil {
		return translate(err, "", "", "failed to delete device route")
	}
	return nil
}

func (s *DeviceRouteStore) DelByDeviceAndApplication(ctx context.Context, deviceID, applicationID string) error {
	_, err := s.db.Conn.ExecContext(ctx,
		"DELETE FROM device_routes WHERE device_id=$1 AND application_id=$2", deviceID, applicationID)
	if err != nil {
		return translate(err, "", "", "failed to delete device route")
	}
	return nil
}
