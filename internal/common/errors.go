package common

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound         = errors.New("requested resource not found")
	ErrUnauthorized     = errors.New("unauthorized access")
	ErrForbidden        = errors.New("forbidden access")
	ErrBadRequest       = errors.New("bad request")
	ErrConflict         = errors.New("resource conflict") // e.g., refund reference already recorded
	ErrInternalServer   = errors.New("internal server error")
	ErrValidation       = errors.New("validation failed")
	ErrSignatureInvalid = errors.New("webhook signature verification failed")
	ErrVersionConflict  = errors.New("stale order version") // Optimistic concurrency miss; retried internally
)

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrValidation) || errors.Is(err, ErrSignatureInvalid) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrVersionConflict) {
		return http.StatusConflict
	}

	// Check for pgx specific errors (example for unique constraint)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // Unique violation
			return http.StatusConflict
		}
	}

	return http.StatusInternalServerError
}
