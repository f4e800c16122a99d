package postgres

import (
	"context"

	"github.com/lib/pq"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// UnitStore implements the tenant CRUD surface of spec §4.2/§3.
type UnitStore struct{ db *DB }

func NewUnitStore(db *DB) *UnitStore { return &UnitStore{db: db} }

var unitSortKeys = map[string]bool{"code": true, "name": true, "created_at": true, "modified_at": true}

func (s *UnitStore) Add(ctx context.Context, u *models.Unit) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO units (unit_id, code, owner_id, member_ids, name, info, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		u.UnitID, u.Code, u.OwnerID, pq.Array(u.MemberIDs), u.Name, marshalJSON(u.Info), u.CreatedAt, u.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeBrokerOwnerNotExist, apperr.CodeBrokerUnitExist, "failed to add unit")
	}
	return nil
}

func (s *UnitStore) Get(ctx context.Context, unitID string) (*models.Unit, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT unit_id, code, owner_id, member_ids, name, info, created_at, modified_at
		FROM units WHERE unit_id=$1`, unitID)
	u, err := scanUnit(row)
	if err != nil {
		return nil, translate(err, apperr.CodeBrokerUnitNotExist, "", "failed to get unit")
	}
	return u, nil
}

func (s *UnitStore) GetByCode(ctx context.Context, code string) (*models.Unit, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT unit_id, code, owner_id, member_ids, name, info, created_at, modified_at
		FROM units WHERE lower(code)=lower($1)`, code)
	u, err := scanUnit(row)
	if err != nil {
		return nil, translate(err, apperr.CodeBrokerUnitNotExist, "", "failed to get unit")
	}
	return u, nil
}

func (s *UnitStore) List(ctx context.Context, ownerOrMember, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.Unit, *store.Cursor, error) {
	if err := store.AllowedSortKeys(opts.Sort, unitSortKeys); err != nil {
		return nil, nil, apperr.Parameter(apperr.CodeParam, err.Error())
	}
	offset, limit := store.NextWindow(opts, cur)

	var clauses []store.Clause
	if ownerOrMember != "" {
		clauses = append(clauses, store.Clause{SQL: "(owner_id = $%d OR member_ids @> to_jsonb($%[1]d::text))", Arg: ownerOrMember})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "name ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)

	q := `SELECT unit_id, code, owner_id, member_ids, name, info, created_at, modified_at
		FROM units WHERE ` + where + orderByClause(opts.Sort, "created_at")
	var suffix string
	suffix, args = limitOffset(args, limit, offset)
	q += suffix

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, translate(err, "", "", "failed to list units")
	}
	defer rows.Close()

	var out []*models.Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, nil, apperr.Internal("err_internal", "failed to scan unit", err)
		}
		out = append(out, u)
	}
	return out, store.AdvanceCursor(opts, cur, offset, limit, len(out)), nil
}

func (s *UnitStore) Count(ctx context.Context, ownerOrMember, contains string) (int, error) {
	var clauses []store.Clause
	if ownerOrMember != "" {
		clauses = append(clauses, store.Clause{SQL: "(owner_id = $%d OR member_ids @> to_jsonb($%[1]d::text))", Arg: ownerOrMember})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "name ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)
	var n int
	err := s.db.Conn.QueryRowContext(ctx, "SELECT count(*) FROM units WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, translate(err, "", "", "failed to count units")
	}
	return n, nil
}

func (s *UnitStore) Update(ctx context.Context, u *models.Unit) error {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE units SET owner_id=$2, member_ids=$3, name=$4, info=$5, modified_at=$6
		WHERE unit_id=$1`,
		u.UnitID, u.OwnerID, pq.Array(u.MemberIDs), u.Name, marshalJSON(u.Info), u.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeBrokerUnitNotExist, apperr.CodeBrokerUnitExist, "failed to update unit")
	}
	return checkAffected(res, apperr.CodeBrokerUnitNotExist, "unit not found")
}

// Del removes a unit; the cascade to applications/networks/devices is
// enforced by foreign keys but the Resource Manager (C8) still runs
// broker deprovisioning before calling this, since that can't be
// expressed as a database constraint.
func (s *UnitStore) Del(ctx context.Context, unitID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM units WHERE unit_id=$1", unitID)
	if err != nil {
		return translate(err, "", "", "failed to delete unit")
	}
	return nil
}

func scanUnit(row scanner) (*models.Unit, error) {
	var u models.Unit
	var info []byte
	if err := row.Scan(&u.UnitID, &u.Code, &u.OwnerID, pq.Array(&u.MemberIDs),
		&u.Name, &info, &u.CreatedAt, &u.ModifiedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(info, &u.Info); err != nil {
		return nil, err
	}
	return &u, nil
}
