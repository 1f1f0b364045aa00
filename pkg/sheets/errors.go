package sheets

import (
	"errors"
	"fmt"
)

// ErrMissingConfig is returned when a required identifier or credential is absent.
var ErrMissingConfig = errors.New("missing required configuration")

// ErrorClass represents a classification of transport errors.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx errors other than rejections.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassDecode represents malformed response bodies.
	ErrorClassDecode ErrorClass = "decode"
)

// HTTPError is a non-rejection transport failure with classification.
type HTTPError struct {
	Path       string
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sheets %s %s error (status %d): %s: %v",
			e.Path, e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("sheets %s %s error (status %d): %s",
		e.Path, e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// Permanent reports whether retrying cannot help.
func (e *HTTPError) Permanent() bool {
	return !shouldRetry(e.Class)
}

// shouldRetry determines if an error class is transient.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		// 4xx and malformed bodies repeat identically
		return false
	}
}
