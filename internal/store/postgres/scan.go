package postgres

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/sylvia-iot/controlplane/internal/apperr"
	"github.com/sylvia-iot/controlplane/internal/models"
	"github.com/sylvia-iot/controlplane/internal/store"
)

// scanner is satisfied by both *sql.Row and *sql.Rows, letting Get and
// List share one row-to-struct mapping per entity.
type scanner interface {
	Scan(dest ...any) error
}

// orderByClause renders an ORDER BY from a validated sort list,
// falling back to the entity's natural insertion order.
func orderByClause(sort []store.SortKey, fallback string) string {
	if len(sort) == 0 {
		return " ORDER BY " + fallback + " ASC"
	}
	parts := make([]string, 0, len(sort))
	for _, s := range sort {
		dir := "ASC"
		if !s.Asc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s", s.Key, dir))
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// limitOffset appends OFFSET (and LIMIT when limit > 0, per
// store.ListOptions' "0 = unbounded" convention) to args and returns
// the SQL suffix referencing the newly bound positions.
func limitOffset(args []any, limit, offset int) (string, []any) {
	if limit <= 0 {
		args = append(args, offset)
		return fmt.Sprintf(" OFFSET $%d", len(args)), args
	}
	args = append(args, limit, offset)
	return fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args
}

func checkAffected(res sql.Result, code, message string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Internal("err_internal", message, err)
	}
	if n == 0 {
		return apperr.NotFound(code, message)
	}
	return nil
}

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	var info, roles []byte
	if err := row.Scan(&u.UserID, &u.Account, &u.PassHash, &u.PassSalt, &u.Name,
		&info, &roles, &u.Verified, &u.Expired, &u.Disabled, &u.CreatedAt, &u.ModifiedAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(info, &u.Info); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(roles, &u.Roles); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanUserRows(rows *sql.Rows) (*models.User, error) { return scanUser(rows) }
