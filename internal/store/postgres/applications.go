package postgres

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// ApplicationStore implements the application CRUD surface of spec §4.2/§3.
type ApplicationStore struct{ db *DB }

func NewApplicationStore(db *DB) *ApplicationStore { return &ApplicationStore{db: db} }

var applicationSortKeys = map[string]bool{"code": true, "name": true, "created_at": true, "modified_at": true}

func (s *ApplicationStore) Add(ctx context.Context, a *models.Application) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO applications (application_id, code, unit_id, host_uri, scheme,
			name, info, ttl, queue_length_max, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ApplicationID, a.Code, a.UnitID, a.HostURI, a.Scheme, a.Name,
		marshalJSON(a.Info), a.TTL, a.QueueLengthMax, a.CreatedAt, a.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeBrokerUnitNotExist, apperr.CodeBrokerAppExist, "failed to add application")
	}
	return nil
}

func (s *ApplicationStore) Get(ctx context.Context, applicationID string) (*models.Application, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT application_id, code, unit_id, host_uri, scheme, name, info,
			ttl, queue_length_max, created_at, modified_at
		FROM applications WHERE application_id=$1`, applicationID)
	a, err := scanApplication(row)
	if err != nil {
		return nil, translate(err, apperr.CodeNotFound, "", "failed to get application")
	}
	return a, nil
}

func (s *ApplicationStore) GetByUnitCode(ctx context.Context, unitID, code string) (*models.Application, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT application_id, code, unit_id, host_uri, scheme, name, info,
			ttl, queue_length_max, created_at, modified_at
		FROM applications WHERE unit_id=$1 AND lower(code)=lower($2)`, unitID, code)
	a, err := scanApplication(row)
	if err != nil {
		return nil, translate(err, apperr.CodeNotFound, "", "failed to get application")
	}
	return a, nil
}

func (s *ApplicationStore) List(ctx context.Context, unitID, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.Application, *store.Cursor, error) {
	if err := store.AllowedSortKeys(opts.Sort, applicationSortKeys); err != nil {
		return nil, nil, apperr.Parameter(apperr.CodeParam, err.Error())
	}
	offset, limit := store.NextWindow(opts, cur)

	var clauses []store.Clause
	if unitID != "" {
		clauses = append(clauses, store.Clause{SQL: "unit_id = $%d", Arg: unitID})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "name ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)

	q := `SELECT application_id, code, unit_id, host_uri, scheme, name, info,
			ttl, queue_length_max, created_at, modified_at
		FROM applications WHERE ` + where + orderByClause(opts.Sort, "created_at")
	var suffix string
	suffix, args = limitOffset(args, limit, offset)
	q += suffix

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, translate(err, "", "", "failed to list applications")
	}
	defer rows.Close()

	var out []*models.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, nil, apperr.Internal("err_internal", "failed to scan application", err)
		}
		out = append(out, a)
	}
	return out, store.AdvanceCursor(opts, cur, offset, limit, len(out)), nil
}

func (s *ApplicationStore) Count(ctx context.Context, unitID, contains string) (int, error) {
	var clauses []store.Clause
	if unitID != "" {
		clauses = append(clauses, store.Clause{SQL: "unit_id = $%d", Arg: unitID})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "name ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)
	var n int
	err := s.db.Conn.QueryRowContext(ctx, "SELECT count(*) FROM applications WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, translate(err, "", "", "failed to count applications")
	}
	return n, nil
}

func (s *ApplicationStore) Update(ctx context.Context, a *models.Application) error {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE applications SET host_uri=$2, name=$3, info=$4, ttl=$5,
			queue_length_max=$6, modified_at=$7
		WHERE application_id=$1`,
		a.ApplicationID, a.HostURI, a.Name, marshalJSON(a.Info), a.TTL, a.QueueLengthMax, a.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeNotFound, apperr.CodeBrokerAppExist, "failed to update application")
	}
	return checkAffected(res, apperr.CodeNotFound, "application not found")
}

func (s *ApplicationStore) Del(ctx context.Context, applicationID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM applications WHERE application_id=$1", applicationID)
	if err != nil {
		return translate(err, "", "", "failed to delete application")
	}
	return nil
}

func scanApplication(row scanner) (*models.Application, error) {
	var a models.Application
	var info []byte
	if err := row.Scan(&a.ApplicationID, &a.Code, &a.UnitID, &a.HostURI, &a.Scheme,
		&a.Name, &info, &a.TTL, &a.QueueLengthMax, &a.CreatedAt, &a.ModifiedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(info, &a.Info); err != nil {
		return nil, err
	}
	return &a, nil
}
