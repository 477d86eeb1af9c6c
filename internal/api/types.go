// Package api provides a client for the lesson-documents delivery API.
// It centralizes all status, access, and retry endpoint interactions.
package api

import (
	"errors"
	"fmt"
	"time"
)

// APIError represents an unexpected error from the delivery API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("delivery API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// AuthError represents a 401/403 response, or a token lookup failure before
// the request was sent (Err carries the cause, StatusCode stays zero). It is
// terminal: the caller must re-authenticate, and no automatic retry is
// performed.
type AuthError struct {
	StatusCode int
	Endpoint   string
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed (endpoint: %s): %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("authentication rejected (status: %d, endpoint: %s): re-authentication required", e.StatusCode, e.Endpoint)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NotFoundError represents a 404 response. The lesson or document reference
// is invalid; terminal.
type NotFoundError struct {
	Endpoint string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("lesson or document not found (endpoint: %s)", e.Endpoint)
}

// RateLimitError represents a 429 response. Retryable after ResetAt; the
// quota metadata is carried so the presentation layer can inform the user.
type RateLimitError struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
	Endpoint  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("access rate limit exceeded (%d/%d used, resets at %s)",
		e.Limit-e.Remaining, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Terminal reports whether an error from the client admits no automatic
// retry. Rate-limit errors are retryable after their reset time; transient
// transport failures are retryable on the polling interval.
func Terminal(err error) bool {
	var authErr *AuthError
	var notFoundErr *NotFoundError
	return errors.As(err, &authErr) || errors.As(err, &notFoundErr)
}
