package fetch

import (
	"errors"
	"fmt"
	"net/http"
)

// Common errors returned by the orchestrator.
var (
	// ErrInvalidRequest is returned for requests missing required fields.
	ErrInvalidRequest = errors.New("invalid fetch request")

	// ErrTooManyRows is returned when a result exceeds the configured row bound.
	ErrTooManyRows = errors.New("result exceeds maximum row count")

	// ErrUnexpectedType is returned by Fetch when the value has another type.
	ErrUnexpectedType = errors.New("unexpected value type")
)

// RejectionError is a backend refusal (auth, quota, not found) signaled by
// status. It is never retried. Error() carries a user-safe message; the raw
// backend error is reachable through Unwrap.
type RejectionError struct {
	StatusCode int
	Message    string
	Err        error
}

// NewRejection builds a RejectionError with the sanitized message for status.
func NewRejection(status int, raw error) *RejectionError {
	return &RejectionError{
		StatusCode: status,
		Message:    SanitizedMessage(status),
		Err:        raw,
	}
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("data source rejected request (status %d): %s", e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RejectionError) Unwrap() error {
	return e.Err
}

// Permanent marks the error as not retryable.
func (e *RejectionError) Permanent() bool {
	return true
}

// IsRejectionStatus reports whether status is a backend rejection.
func IsRejectionStatus(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// SanitizedMessage maps a rejection status to a message safe to show users.
func SanitizedMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "the data source requires valid credentials"
	case http.StatusForbidden:
		return "access to the data source was denied"
	case http.StatusNotFound:
		return "the requested data was not found"
	case http.StatusTooManyRequests:
		return "the data source quota was exceeded, try again later"
	default:
		return "the data source could not serve the request"
	}
}
