package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/sylvia-iot/controlplane/internal/apperr"
)

// translate maps a lib/pq driver error (or sql.ErrNoRows) to the
// taxonomy of spec §7. Every store method funnels its database error
// through this exactly once, so callers above the store layer never
// see a raw *pq.Error.
func translate(err error, notFoundCode, conflictCode, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(notFoundCode, message)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "23": // integrity constraint violation
			switch pqErr.Code.Name() {
			case "unique_violation":
				return apperr.Conflict(conflictCode, message)
			case "foreign_key_violation":
				return apperr.NotFound(notFoundCode, message)
			}
			return apperr.Conflict(conflictCode, message)
		case "08": // connection exception
			return apperr.TransientIO(apperr.CodeDBConn, message, err)
		}
	}
	return apperr.TransientIO("err_internal", message, err)
}
