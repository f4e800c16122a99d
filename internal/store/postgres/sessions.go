package postgres

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
)

// LoginSessionStore implements the short-lived login-session store
// that backs the authorize→login→consent leg of spec §4.1.
type LoginSessionStore struct{ db *DB }

func NewLoginSessionStore(db *DB) *LoginSessionStore { return &LoginSessionStore{db: db} }

func (s *LoginSessionStore) Add(ctx context.Context, sess *models.LoginSession) error {
	_, err := s.db.Conn.ExecContext(ctx,
		"INSERT INTO login_sessions (session_id, user_id, created_at, expires_at) VALUES ($1,$2,$3,$4)",
		sess.SessionID, sess.UserID, sess.CreatedAt, sess.ExpiresAt)
	if err != nil {
		return translate(err, "", "", "failed to add login session")
	}
	return nil
}

func (s *LoginSessionStore) Get(ctx context.Context, sessionID string) (*models.LoginSession, error) {
	var sess models.LoginSession
	err := s.db.Conn.QueryRowContext(ctx,
		"SELECT session_id, user_id, created_at, expires_at FROM login_sessions WHERE session_id=$1",
		sessionID).Scan(&sess.SessionID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, translate(err, "err_auth_invalid", "", "failed to get login session")
	}
	return &sess, nil
}

// Del consumes the session — used on both successful and failed
// authorize attempts, since a session is single-use regardless of
// outcome (spec §4.1).
func (s *LoginSessionStore) Del(ctx context.Context, sessionID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM login_sessions WHERE session_id=$1", sessionID)
	if err != nil {
		return translate(err, "", "", "failed to delete login session")
	}
	return nil
}

// DeleteExpired purges sessions past expiry, run periodically by a
// background sweep (spec §4.1 edge cases).
func (s *LoginSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.Conn.ExecContext(ctx, "DELETE FROM login_sessions WHERE expires_at < now()")
	if err != nil {
		return 0, apperr.Internal("err_internal", "failed to purge login sessions", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
