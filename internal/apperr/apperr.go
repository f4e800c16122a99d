// Package apperr implements the error taxonomy of the control plane:
// every layer below the API translates substrate errors into one of
// these kinds exactly once, and the API layer never re-classifies.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the six error categories of the propagation policy.
type Kind string

const (
	KindParameter   Kind = "parameter"
	KindAuth        Kind = "auth"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindTransientIO Kind = "transient_io"
	KindInternal    Kind = "internal"
)

// Error is a classified application error carrying an HTTP error code
// string (the "err_*" family from the HTTP control-plane envelope) and
// a human-readable message.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps a Kind to the status code spec.md §6 requires.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindParameter, KindConflict:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindTransientIO, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func new_(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Parameter reports a request that failed schema or semantic validation.
func Parameter(code, message string) *Error { return new_(KindParameter, code, message, nil) }

// Auth reports a missing/invalid/expired token or scope violation.
// AuthError is split into two HTTP outcomes per spec §4.8: a missing
// or bad token is 401 (Unauthenticated), a scope/role mismatch is 403
// (Forbidden) — callers choose via Auth/Forbidden.
func Auth(code, message string) *Error { return new_(KindAuth, code, message, nil) }

// errorBase lets ForbiddenError embed *Error under a field name that
// does not hide the promoted Error() method.
type errorBase = Error

// ForbiddenError is an Auth error that must render as 403 rather than 401.
type ForbiddenError struct{ *errorBase }

func (e *ForbiddenError) HTTPStatus() int { return http.StatusForbidden }

func Forbidden(code, message string) *ForbiddenError {
	return &ForbiddenError{new_(KindAuth, code, message, nil)}
}

// NotFound reports that the target row is absent.
func NotFound(code, message string) *Error { return new_(KindNotFound, code, message, nil) }

// Conflict reports a uniqueness or dependency violation.
func Conflict(code, message string) *Error { return new_(KindConflict, code, message, nil) }

// TransientIO reports substrate (DB/MQ) unavailability, retried with
// bounded backoff inside adapters; surfaced only once retries exhaust.
func TransientIO(code, message string, err error) *Error {
	return new_(KindTransientIO, code, message, err)
}

// Internal reports unexpected state; callers should attach a
// correlation id to message before surfacing to the API layer.
func Internal(code, message string, err error) *Error {
	return new_(KindInternal, code, message, err)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	var f *ForbiddenError
	if errors.As(err, &f) {
		return f.Kind == kind
	}
	return false
}

// Common codes used across stores and the resource manager.
const (
	CodeParam               = "err_param"
	CodeNotFound            = "err_not_found"
	CodePerm                = "err_perm"
	CodeAuthInvalid         = "err_auth_invalid"
	CodeBrokerUnitNotExist  = "err_broker_unit_not_exist"
	CodeBrokerUnitExist     = "err_broker_unit_exist"
	CodeBrokerAppExist      = "err_broker_application_exist"
	CodeBrokerNetworkExist  = "err_broker_network_exist"
	CodeBrokerNetAddrExist  = "err_broker_network_addr_exist"
	CodeBrokerDeviceNotExist = "err_broker_device_not_exist"
	CodeBrokerOwnerNotExist = "err_broker_owner_not_exist"
	CodeBrokerMemberNotExist = "err_broker_member_not_exist"
	CodeAuthUserNotExist    = "err_auth_user_not_exist"
	CodeDBConn              = "err_db_conn"
)
