package postgres

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
)

// AccessTokenStore implements the bearer-credential store checked by
// every authenticated request (spec §4.1, §4.8).
type AccessTokenStore struct{ db *DB }

func NewAccessTokenStore(db *DB) *AccessTokenStore { return &AccessTokenStore{db: db} }

func (s *AccessTokenStore) Add(ctx context.Context, t *models.AccessToken) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO access_tokens (access_token, refresh_token, client_id, user_id, scope, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		t.AccessToken, t.RefreshToken, t.ClientID, t.UserID, t.Scope, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return translate(err, "", "", "failed to add access token")
	}
	return nil
}

func (s *AccessTokenStore) Get(ctx context.Context, accessToken string) (*models.AccessToken, error) {
	var t models.AccessToken
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT access_token, refresh_token, client_id, user_id, scope, created_at, expires_at
		FROM access_tokens WHERE access_token=$1`, accessToken).
		Scan(&t.AccessToken, &t.RefreshToken, &t.ClientID, &t.UserID, &t.Scope, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, translate(err, apperr.CodeAuthInvalid, "", "failed to get access token")
	}
	return &t, nil
}

// DelByRefreshToken revokes every access token minted from a given
// refresh token, used when the refresh token itself is revoked.
func (s *AccessTokenStore) DelByRefreshToken(ctx context.Context, refreshToken string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM access_tokens WHERE refresh_token=$1", refreshToken)
	if err != nil {
		return translate(err, "", "", "failed to delete access tokens")
	}
	return nil
}

func (s *AccessTokenStore) Del(ctx context.Context, accessToken string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM access_tokens WHERE access_token=$1", accessToken)
	if err != nil {
		return translate(err, "", "", "failed to delete access token")
	}
	return nil
}

func (s *AccessTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.Conn.ExecContext(ctx, "DELETE FROM access_tokens WHERE expires_at < now()")
	if err != nil {
		return 0, apperr.Internal("err_internal", "failed to purge access tokens", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RefreshTokenStore implements the long-lived credential used to mint
// fresh access tokens without re-prompting the user (spec §4.1).
type RefreshTokenStore struct{ db *DB }

func NewRefreshTokenStore(db *DB) *RefreshTokenStore { return &RefreshTokenStore{db: db} }

func (s *RefreshTokenStore) Add(ctx context.Context, t *models.RefreshToken) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO refresh_tokens (refresh_token, client_id, user_id, scope, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		t.RefreshToken, t.ClientID, t.UserID, t.Scope, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return translate(err, "", "", "failed to add refresh token")
	}
	return nil
}

func (s *RefreshTokenStore) Get(ctx context.Context, refreshToken string) (*models.RefreshToken, error) {
	var t models.RefreshToken
	err := s.db.Conn.QueryRowContext(ctx, `
		SELECT refresh_token, client_id, user_id, scope, created_at, expires_at
		FROM refresh_tokens WHERE refresh_token=$1`, refreshToken).
		Scan(&t.RefreshToken, &t.ClientID, &t.UserID, &t.Scope, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, translate(err, apperr.CodeAuthInvalid, "", "failed to get refresh token")
	}
	return &t, nil
}

func (s *RefreshTokenStore) Del(ctx context.Context, refreshToken string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE refresh_token=$1", refreshToken)
	if err != nil {
		return translate(err, "", "", "failed to delete refresh token")
	}
	return nil
}

func (s *RefreshTokenStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.Conn.ExecContext(ctx, "DELETE FROM refresh_tokens WHERE expires_at < now()")
	if err != nil {
		return 0, apperr.Internal("err_internal", "failed to purge refresh tokens", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
