package client

import (
	"errors"
	"fmt"
)

// Common errors returned by the client.
var (
	// ErrInvalidQuery is returned when a server rejects an unpaged request
	// with 400, which means the URL pattern itself is malformed.
	ErrInvalidQuery = errors.New("invalid cdx query")

	// ErrRetryExhausted is returned when a capped retry policy runs out of attempts.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during a request or backoff wait.
	ErrContextCancelled = errors.New("context cancelled")
)

// HTTPError describes a failed index request.
type HTTPError struct {
	URL        string
	StatusCode int
	ErrorClass ErrorClass
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cdx %s error (status %d) for %s: %s: %v",
			e.ErrorClass, e.StatusCode, e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("cdx %s error (status %d) for %s: %s",
		e.ErrorClass, e.StatusCode, e.URL, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// shouldRetry determines if an error should be retried based on its classification.
func shouldRetry(errorClass ErrorClass) bool {
	switch errorClass {
	case ErrorClassUnavailable:
		// 502/503/504: slow down or temporary outage
		return true
	case ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// errorClassOf extracts the classification carried by err, if any.
func errorClassOf(err error) ErrorClass {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.ErrorClass
	}
	return ""
}
