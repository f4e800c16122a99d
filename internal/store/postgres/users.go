package postgres

import (
	"context"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// UserStore implements the Identity Store's user CRUD surface
// (spec §4.2) against the users table.
type UserStore struct{ db *DB }

func NewUserStore(db *DB) *UserStore { return &UserStore{db: db} }

var userSortKeys = map[string]bool{
	"account": true, "name": true, "created_at": true, "modified_at": true,
}

func (s *UserStore) Add(ctx context.Context, u *models.User) error {
	_, err := s.db.Conn.ExecContext(ctx, `
		INSERT INTO users (user_id, account, pass_hash, pass_salt, name, info,
			roles, verified_at, expired_at, disabled, created_at, modified_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		u.UserID, u.Account, u.PassHash, u.PassSalt, u.Name, marshalJSON(u.Info),
		marshalJSON(u.Roles), u.Verified, u.Expired, u.Disabled, u.CreatedAt, u.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeNotFound, "err_user_exist", "failed to add user")
	}
	return nil
}

func (s *UserStore) Get(ctx context.Context, userID string) (*models.User, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT user_id, account, pass_hash, pass_salt, name, info, roles,
			verified_at, expired_at, disabled, created_at, modified_at
		FROM users WHERE user_id = $1`, userID)
	u, err := scanUser(row)
	if err != nil {
		return nil, translate(err, apperr.CodeAuthUserNotExist, "", "failed to get user")
	}
	return u, nil
}

// GetByAccount looks a user up by its case-insensitive account name,
// the credential presented at the login form.
func (s *UserStore) GetByAccount(ctx context.Context, account string) (*models.User, error) {
	row := s.db.Conn.QueryRowContext(ctx, `
		SELECT user_id, account, pass_hash, pass_salt, name, info, roles,
			verified_at, expired_at, disabled, created_at, modified_at
		FROM users WHERE lower(account) = lower($1)`, account)
	u, err := scanUser(row)
	if err != nil {
		return nil, translate(err, apperr.CodeAuthUserNotExist, "", "failed to get user")
	}
	return u, nil
}

func (s *UserStore) List(ctx context.Context, contains string, opts store.ListOptions, cur *store.Cursor) ([]*models.User, *store.Cursor, error) {
	if err := store.AllowedSortKeys(opts.Sort, userSortKeys); err != nil {
		return nil, nil, apperr.Parameter(apperr.CodeParam, err.Error())
	}
	offset, limit := store.NextWindow(opts, cur)

	clauses := []store.Clause{}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "account ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)

	q := `SELECT user_id, account, pass_hash, pass_salt, name, info, roles,
			verified_at, expired_at, disabled, created_at, modified_at
		FROM users WHERE ` + where + orderByClause(opts.Sort, "created_at")
	var suffix string
	suffix, args = limitOffset(args, limit, offset)
	q += suffix

	rows, err := s.db.Conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, nil, translate(err, "", "", "failed to list users")
	}
	defer rows.Close()

	var out []*models.User
	for rows.Next() {
		u, err := scanUserRows(rows)
		if err != nil {
			return nil, nil, apperr.Internal("err_internal", "failed to scan user", err)
		}
		out = append(out, u)
	}
	return out, store.AdvanceCursor(opts, cur, offset, limit, len(out)), nil
}

func (s *UserStore) Count(ctx context.Context, contains string) (int, error) {
	clauses := []store.Clause{}
	if contains != "" {
		clauses = append(clauses, store.Clause{SQL: "account ILIKE $%d", Arg: store.ContainsPattern(contains)})
	}
	where, args := store.BuildWhere(clauses, 1)
	var n int
	err := s.db.Conn.QueryRowContext(ctx, "SELECT count(*) FROM users WHERE "+where, args...).Scan(&n)
	if err != nil {
		return 0, translate(err, "", "", "failed to count users")
	}
	return n, nil
}

func (s *UserStore) Update(ctx context.Context, u *models.User) error {
	res, err := s.db.Conn.ExecContext(ctx, `
		UPDATE users SET name=$2, info=$3, roles=$4, verified_at=$5,
			expired_at=$6, disabled=$7, modified_at=$8
		WHERE user_id=$1`,
		u.UserID, u.Name, marshalJSON(u.Info), marshalJSON(u.Roles),
		u.Verified, u.Expired, u.Disabled, u.ModifiedAt)
	if err != nil {
		return translate(err, apperr.CodeAuthUserNotExist, "err_user_exist", "failed to update user")
	}
	return checkAffected(res, apperr.CodeAuthUserNotExist, "user not found")
}

func (s *UserStore) UpdatePassword(ctx context.Context, userID, passHash, passSalt string) error {
	res, err := s.db.Conn.ExecContext(ctx,
		"UPDATE users SET pass_hash=$2, pass_salt=$3 WHERE user_id=$1", userID, passHash, passSalt)
	if err != nil {
		return translate(err, apperr.CodeAuthUserNotExist, "", "failed to update password")
	}
	return checkAffected(res, apperr.CodeAuthUserNotExist, "user not found")
}

func (s *UserStore) Del(ctx context.Context, userID string) error {
	_, err := s.db.Conn.ExecContext(ctx, "DELETE FROM users WHERE user_id=$1", userID)
	if err != nil {
		return translate(err, "", "", "failed to delete user")
	}
	return nil
}
