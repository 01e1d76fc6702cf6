package app

import (
	"errors"
	"fmt"
	"net/http"

	"taskboard/api/internal/archive"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/idempotency"
	"taskboard/api/internal/keyspace"
	"taskboard/api/internal/membership"
	"taskboard/api/internal/occ"
	"taskboard/api/internal/ordering"
	"taskboard/api/internal/store"
)

const (
	CodeValidation           = "VALIDATION_ERROR"
	CodeInvalidAnchor        = "INVALID_ANCHOR"
	CodePreconditionFailed   = "PRECONDITION_FAILED"
	CodePreconditionRequired = "PRECONDITION_REQUIRED"
	CodeConflict             = "CONFLICT"
	CodeForbidden            = "FORBIDDEN"
	CodeLastAdminRequired    = "LAST_ADMIN_REQUIRED"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeFeatureDisabled      = "FEATURE_DISABLED"
	CodeServerError          = "SERVER_ERROR"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
	Err     error
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *DomainError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, CodeValidation, message, details)
}

func forbidden() *DomainError {
	return domainError(http.StatusForbidden, CodeForbidden, "Forbidden", nil)
}

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, CodeNotFound, what+" not found", nil)
}

func preconditionRequired() *DomainError {
	return domainError(http.StatusPreconditionRequired, CodePreconditionRequired, "If-Match header is required", nil)
}

// translate maps package sentinels onto the public error taxonomy. Errors it
// does not recognise pass through and surface as server errors.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return err
	}

	wrap := func(status int, code, message string) error {
		return &DomainError{Status: status, Code: code, Message: message, Err: err}
	}
	switch {
	case errors.Is(err, occ.ErrStale):
		return wrap(http.StatusPreconditionFailed, CodePreconditionFailed, "Version does not match; reload and retry")
	case errors.Is(err, occ.ErrMalformed):
		return wrap(http.StatusUnprocessableEntity, CodeValidation, "Malformed version token")
	case errors.Is(err, ordering.ErrInvalidAnchor), errors.Is(err, keyspace.ErrInvalidKey), errors.Is(err, keyspace.ErrInvalidBounds):
		return wrap(http.StatusUnprocessableEntity, CodeInvalidAnchor, "Anchor is not a valid position in this scope")
	case errors.Is(err, ordering.ErrConflict), errors.Is(err, ordering.ErrKeyTaken):
		return wrap(http.StatusConflict, CodeConflict, "Concurrent reorder conflict; retry the request")
	case errors.Is(err, membership.ErrLastAdminRequired):
		return wrap(http.StatusConflict, CodeLastAdminRequired, "The board must keep at least one admin")
	case errors.Is(err, store.ErrNotFound):
		return wrap(http.StatusNotFound, CodeNotFound, "Not found")
	case errors.Is(err, store.ErrNotMember):
		return wrap(http.StatusUnprocessableEntity, CodeValidation, "New owner must be an active member of the board")
	case errors.Is(err, store.ErrInvitationExpired):
		return wrap(http.StatusUnprocessableEntity, CodeValidation, "Invitation has expired")
	case errors.Is(err, store.ErrInvitationClosed):
		return wrap(http.StatusUnprocessableEntity, CodeValidation, "Invitation is no longer pending")
	case errors.Is(err, store.ErrDuplicate):
		return wrap(http.StatusConflict, CodeConflict, "Already exists")
	case errors.Is(err, archive.ErrDisabled):
		return wrap(http.StatusNotImplemented, CodeFeatureDisabled, "Board export is not configured")
	case errors.Is(err, auth.ErrMissingToken), errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return wrap(http.StatusUnauthorized, CodeUnauthorized, "Unauthorized")
	case errors.Is(err, idempotency.ErrInProgress):
		return wrap(http.StatusConflict, CodeConflict, "A request with this Idempotency-Key is still in progress")
	}
	return err
}
