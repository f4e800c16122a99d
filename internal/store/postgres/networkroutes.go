package postgres

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// NetworkRouteStore implements the whole-network forwarding binding
// CRUD surface of spec §4.2/§3: one row fans out every device on a
// network to an application, without a per-device row.
type NetworkRouteStore struct{ db *DB }

func NewNetworkRouteStore(db *DB) *NetworkRouteStore { return &NetworkRouteStore{db: db} }

var networkRouteSortKeys = map[string]bool{"created_at": true, "modified_at": true}

func (s *NetworkRouteStore) Add(ctx context.Context, r *models.NetworkRoute) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO network_routes (route_id, network_id, application_id, unit_id, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.RouteID, r.NetworkID, r.ApplicationID, r.UnitID, r.CreatedAt, r.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeNotFound, "err_route_exist", "failed to add network route")
	}
	return nil
}

func (s *NetworkRouteStore) Get(ctx context.Context, routeID string) (*models.NetworkRoute, error) {
	var r models.NetworkRoute
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT route_id, network_id, application_id, unit_id, created_at, modified_at
		FROM network_routes WHERE route_id=$1`, routeID).
		Scan(&r.RouteID, &r.NetworkID, &r.ApplicationID, &r.UnitID, &r.CreatedAt, &r.ModifiedAt)
	if err != nil {
		return nil, translate(err, apperr.CodeNotFound, "", "failed to get network route")
	}
	return &r, nil
}

// ListByNetwork returns the applications subscribed to a whole
// network's uplink traffic, the per-network half of the routing
// engine's target-set lookup.
func (s *NetworkRouteStore) ListByNetwork(ctx context.Context, networkID string) ([]*models.NetworkRoute, error) {
	rows, err := s.db.Conn.QueryContext(ctx, `
		SELECT route_id, network_id, application_id, unit_id, created_at, modified_at
		FROM network_routes WHERE network_id=$1`, networkID)
	if err != nil {
		return nil, translate(err, "", "", "failed to list network routes")
	}
	defer rows.Close()

	var out []*models.NetworkRoute
	for rows.Next() {
		var r models.NetworkRoute
		if err := rows.Scan(&r.RouteID, &r.NetworkID, &r.ApplicationID, &r.UnitID, &r.CreatedAt, &r.ModifiedAt); err != nil {
			return nil, apperr.Internal("err_internal", "failed to scan network route", err)
		}
		out = append(out, &r)
	}
	return out, nil
}

func (s *NetworkRouteStore) List(ctx context.Context, unitID, applicationID string, opts store.ListOptions, cur *store.Cursor) ([]*models.NetworkRoute, *store.Cursor, error) {
	if err := store.AllowedSortKeys(opts.Sort, networkRouteSortKeys); err != nil {
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

	q := `SELECT route_id, network_id, application_id, unit_id, created_at, modified_at
		FROM network_routes WHERE ` + where + orderByClause(opts.Sort, "created_at")
	var suffix string
	suffix, args = limitOffset(args, limit, offset)
	q += suffix

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, translate(err, "", "", "failed to list network routes")
	}
	defer rows.Close()

	var out []*models.NetworkRoute
	for rows.Next() {
		var r models.NetworkRoute
		if err := rows.Scan(&r.RouteID, &r.NetworkID, &r.ApplicationID, &r.UnitID, &r.CreatedAt, &r.ModifiedAt); err != nil {
			return nil, nil, apperr.Internal("err_internal", "failed to scan network route", err)
		}
		out = append(out, &r)
	}
	return out, store.AdvanceCursor(opts, cur, offset, limit, len(out)), nil
}

func (s *NetworkRouteStore) Count(ctx context.Context, unitID, applicationID string) (int, error) {
	var clauses []store.Clause
	if unitID != "" {
		clauses = append(clauses, store.Clause{SQL: "unit_id = $%d", Arg: unitID})
	}
	if applicationID != "" {
		clauses = append(clauses, store.Clause{SQL: "application_id = $%d", Arg: applicationID})
	}
	where, args := store.BuildWhere(clauses, 1)
	var n int
	err := s.db.Conn.QueryRowContext(ctx, "SELECT count(*) FROM network_routes WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, translate(err, "", "", "failed to count network routes")
	}
	return n, nil
}

func (s *NetworkRouteStore) Del(ctx context.Context, routeID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM network_routes WHERE route_id=$1", routeID)
	if err != nil {
		return translate(err, "", "", "failed to delete network route")
	}
	return nil
}
