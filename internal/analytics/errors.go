package analytics

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized is returned when neither an admin token nor the cron
	// secret authenticates the caller.
	ErrUnauthorized = errors.New("Unauthorized")
	// ErrNotConfigured is returned when no store connection is available.
	ErrNotConfigured = errors.New("Analytics not configured")
	// ErrPurgeJobNotFound is returned for unknown purge job IDs.
	ErrPurgeJobNotFound = errors.New("purge job not found")
)

// BadRequestError reports invalid caller input. Its message is returned as is.
type BadRequestError struct {
	Message string
}

func (e *BadRequestError) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &BadRequestError{Message: fmt.Sprintf(format, args...)}
}

// StoreError wraps a failed query, upsert or delete. Its message is passed
// through to the caller.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func storeError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// HTTPStatus maps an error from this package to a response status.
func HTTPStatus(err error) int {
	var badReq *BadRequestError
	var storeErr *StoreError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrPurgeJobNotFound):
		return http.StatusNotFound
	case errors.As(err, &badReq):
		return http.StatusBadRequest
	case errors.As(err, &storeErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
