package postgres

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// NetworkStore implements the network (gateway endpoint) CRUD surface
// of spec §4.2/§3. A nil UnitID row is a public network.
type NetworkStore struct{ db *DB }

func NewNetworkStore(db *DB) *NetworkStore { return &NetworkStore{db: db} }

var networkSortKeys = map[string]bool{"code": true, "name": true, "created_at": true, "modified_at": true}

func (s *NetworkStore) Add(ctx context.Context, n *models.Network) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO networks (network_id, code, unit_id, host_uri, scheme,
			name, info, ttl, queue_length_max, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		n.NetworkID, n.Code, n.UnitID, n.HostURI, n.Scheme, n.Name,
		marshalJSON(n.Info), n.TTL, n.QueueLengthMax, n.CreatedAt, n.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeBrokerUnitNotExist, apperr.CodeBrokerNetworkExist, "failed to add network")
	}
	return nil
}

func (s *NetworkStore) Get(ctx context.Context, networkID string) (*models.Network, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT network_id, code, unit_id, host_uri, scheme, name, info,
			ttl, queue_length_max, created_at, modified_at
		FROM networks WHERE network_id=$1`, networkID)
	n, err := scanNetwork(row)
	if err != nil {
		return nil, translate(err, apperr.CodeNotFound, "", "failed to get network")
	}
	return n, nil
}

func (s *NetworkStore) GetByUnitCode(ctx context.Context, unitID *string, code string) (*models.Network, error) {
	var row = s.db.Conn.QueryRowContext(ctx, `
		SELECT network_id, code, unit_id, host_uri, scheme, name, info,
			ttl, queue_length_max, created_at, modified_at
		FROM networks WHERE COALESCE(unit_id, '') = COALESCE($1, '') AND lower(code)=lower($2)`,
		unitID, code)
	n, err := scanNetwork(row)
	if err != nil {
		return nil, translate(err, apperr.CodeNotFound, "", "failed to get network")
	}
	return n, nil
}

func (s *NetworkStore) List(ctx context.Context, unitID *string, publicOnly bool, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.Network, *store.Cursor, error) {
	if err := store.AllowedSortKeys(opts.Sort, networkSortKeys); err != nil {
		return nil, nil, apperr.Parameter(apperr.CodeParam, err.Error())
	}
	offset, limit := store.NextWindow(opts, cur)

	var clauses []store.Clause
	if publicOnly {
		clauses = append(clauses, store.Clause{SQL: "unit_id IS NULL"})
	} else if unitID != nil {
		clauses = append(clauses, store.Clause{SQL: "unit_id = $%d", Arg: *unitID})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "name ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)

	q := `SELECT network_id, code, unit_id, host_uri, scheme, name, info,
			ttl, queue_length_max, created_at, modified_at
		FROM networks WHERE ` + where + orderByClause(opts.Sort, "created_at")
	var suffix string
	suffix, args = limitOffset(args, limit, offset)
	q += suffix

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, translate(err, "", "", "failed to list networks")
	}
	defer rows.Close()

	var out []*models.Network
	for rows.Next() {
		n, err := scanNetwork(rows)
		if err != nil {
			return nil, nil, apperr.Internal("err_internal", "failed to scan network", err)
		}
		out = append(out, n)
	}
	return out, store.AdvanceCursor(opts, cur, offset, limit, len(out)), nil
}

func (s *NetworkStore) Count(ctx context.Context, unitID *string, publicOnly bool, contains string) (int, error) {
	var clauses []store.Clause
	if publicOnly {
		clauses = append(clauses, store.Clause{SQL: "unit_id IS NULL"})
	} else if unitID != nil {
		clauses = append(clauses, store.Clause{SQL: "unit_id = $%d", Arg: *unitID})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "name ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)
	var n int
	err := s.db.Conn.QueryRowContext(ctx, "SELECT count(*) FROM networks WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, translate(err, "", "", "failed to count networks")
	}
	return n, nil
}

func (s *NetworkStore) Update(ctx context.Context, n *models.Network) error {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE networks SET host_uri=$2, name=$3, info=$4, ttl=$5,
			queue_length_max=$6, modified_at=$7
		WHERE network_id=$1`,
		n.NetworkID, n.HostURI, n.Name, marshalJSON(n.Info), n.TTL, n.QueueLengthMax, n.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeNotFound, apperr.CodeBrokerNetworkExist, "failed to update network")
	}
	return checkAffected(res, apperr.CodeNotFound, "network not found")
}

func (s *NetworkStore) Del(ctx context.Context, networkID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM networks WHERE network_id=$1", networkID)
	if err != nil {
		return translate(err, "", "", "failed to delete network")
	}
	return nil
}

func scanNetwork(row scanner) (*models.Network, error) {
	var n models.Network
	var info []byte
	if err := row.Scan(&n.NetworkID, &n.Code, &n.UnitID, &n.HostURI, &n.Scheme,
		&n.Name, &info, &n.TTL, &n.QueueLengthMax, &n.CreatedAt, &n.ModifiedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(info, &n.Info); err != nil {
		return nil, err
	}
	return &n, nil
}
