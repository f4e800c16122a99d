package postgres

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
)

// AuthorizationCodeStore implements the one-shot code store consumed
// by POST /oauth2/token (spec §4.1).
type AuthorizationCodeStore struct{ db *DB }

func NewAuthorizationCodeStore(db *DB) *AuthorizationCodeStore {
	return &AuthorizationCodeStore{db: db}
}

func (s *AuthorizationCodeStore) Add(ctx context.Context, c *models.AuthorizationCode) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO authorization_codes (code, client_id, user_id, redirect_uri, scope, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		c.Code, c.ClientID, c.UserID, c.RedirectURI, c.Scope, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return translate(err, "", "", "failed to add authorization code")
	}
	return nil
}

func (s *AuthorizationCodeStore) Get(ctx context.Context, code string) (*models.AuthorizationCode, error) {
	var c models.AuthorizationCode
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT code, client_id, user_id, redirect_uri, scope, created_at, expires_at
		FROM authorization_codes WHERE code=$1`, code).
		Scan(&c.Code, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return nil, translate(err, "err_auth_invalid", "", "failed to get authorization code")
	}
	return &c, nil
}

// Del invalidates the code — called on both successful redemption and
// any rejected redemption attempt, per spec §4.1's one-shot guarantee.
func (s *AuthorizationCodeStore) Del(ctx context.Context, code string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM authorization_codes WHERE code=$1", code)
	if err != nil {
		return translate(err, "", "", "failed to delete authorization code")
	}
	return nil
}

func (s *AuthorizationCodeStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.Conn.ExecContext(ctx, "DELETE FROM authorization_codes WHERE expires_at < now()")
	if err != nil {
		return 0, apperr.Internal("err_internal", "failed to purge authorization codes", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
