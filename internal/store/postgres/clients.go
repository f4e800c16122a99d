package postgres

import (
	"context"

	"github.com/lib/pq"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// ClientStore implements the OAuth2 client CRUD surface of spec §4.2.
type ClientStore struct{ db *DB }

func NewClientStore(db *DB) *ClientStore { return &ClientStore{db: db} }

var clientSortKeys = map[string]bool{"name": true, "created_at": true, "modified_at": true}

func (s *ClientStore) Add(ctx context.Context, c *models.Client) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO clients (client_id, client_secret, redirect_uris, scopes,
			user_id, name, image_url, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		c.ClientID, c.ClientSecret, pq.Array(c.RedirectURIs), pq.Array(c.Scopes),
		c.UserID, c.Name, c.ImageURL, c.CreatedAt, c.ModifiedAt)
	if err != nil {
		return translate(err, "", "err_client_exist", "failed to add client")
	}
	return nil
}

func (s *ClientStore) Get(ctx context.Context, clientID string) (*models.Client, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT client_id, client_secret, redirect_uris, scopes, user_id, name,
			image_url, created_at, modified_at
		FROM clients WHERE client_id = $1`, clientID)
	c, err := scanClient(row)
	if err != nil {
		return nil, translate(err, "err_client_not_exist", "", "failed to get client")
	}
	return c, nil
}

func (s *ClientStore) List(ctx context.Context, userID, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.Client, *store.Cursor, error) {
	if err := store.AllowedSortKeys(opts.Sort, clientSortKeys); err != nil {
		return nil, nil, apperr.Parameter(apperr.CodeParam, err.Error())
	}
	offset, limit := store.NextWindow(opts, cur)

	var clauses []store.Clause
	if userID != "" {
		clauses = append(clauses, store.Clause{SQL: "user_id = $%d", Arg: userID})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "name ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)

	q := `SELECT client_id, client_secret, redirect_uris, scopes, user_id, name,
			image_url, created_at, modified_at
		FROM clients WHERE ` + where + orderByClause(opts.Sort, "created_at")
	var suffix string
	suffix, args = limitOffset(args, limit, offset)
	q += suffix

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, translate(err, "", "", "failed to list clients")
	}
	defer rows.Close()

	var out []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, nil, apperr.Internal("err_internal", "failed to scan client", err)
		}
		out = append(out, c)
	}
	return out, store.AdvanceCursor(opts, cur, offset, limit, len(out)), nil
}

func (s *ClientStore) Count(ctx context.Context, userID, contains string) (int, error) {
	var clauses []store.Clause
	if userID != "" {
		clauses = append(clauses, store.Clause{SQL: "user_id = $%d", Arg: userID})
	}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "name ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)
	var n int
	err := s.db.Conn.QueryRowContext(ctx, "SELECT count(*) FROM clients WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, translate(err, "", "", "failed to count clients")
	}
	return n, nil
}

func (s *ClientStore) Update(ctx context.Context, c *models.Client) error {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE clients SET client_secret=$2, redirect_uris=$3, scopes=$4,
			name=$5, image_url=$6, modified_at=$7
		WHERE client_id=$1`,
		c.ClientID, c.ClientSecret, pq.Array(c.RedirectURIs), pq.Array(c.Scopes),
		c.Name, c.ImageURL, c.ModifiedAt)
	if err != nil {
		return translate(err, "err_client_not_exist", "err_client_exist", "failed to update client")
	}
	return checkAffected(res, "err_client_not_exist", "client not found")
}

func (s *ClientStore) Del(ctx context.Context, clientID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM clients WHERE client_id=$1", clientID)
	if err != nil {
		return translate(err, "", "", "failed to delete client")
	}
	return nil
}

func scanClient(row scanner) (*models.Client, error) {
	var c models.Client
	if err := row.Scan(&c.ClientID, &c.ClientSecret, pq.Array(&c.RedirectURIs),
		pq.Array(&c.Scopes), &c.UserID, &c.Name, &c.ImageURL, &c.CreatedAt, &c.ModifiedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
