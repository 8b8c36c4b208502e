package roofline

import (
	"fmt"
	"net/http"
)

// Error is a structured API error returned by the Roofline server.
type Error struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int

	// Code is the machine-readable error code (e.g. "NOT_FOUND").
	Code string

	// Message is the human-readable error description.
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("roofline: %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is an API error with status 404.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsUnauthorized reports whether err is an API error with status 401.
func IsUnauthorized(err error) bool {
	return hasStatus(err, http.StatusUnauthorized)
}

// IsForbidden reports whether err is an API error with status 403.
func IsForbidden(err error) bool {
	return hasStatus(err, http.StatusForbidden)
}

// IsConflict reports whether err is an API error with status 409.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

// IsRateLimited reports whether err is an API error with status 429.
func IsRateLimited(err error) bool {
	return hasStatus(err, http.StatusTooManyRequests)
}

func hasStatus(err error, status int) bool {
	apiErr, ok := err.(*Error)
	return ok && apiErr.StatusCode == status
}
