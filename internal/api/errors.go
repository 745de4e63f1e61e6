// Package api is the HTTP client for the AgentHub backend. It owns the wire
// contracts only; every response is handed to the view-model layers untouched.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a backend or transport failure with the HTTP status code and the
// most specific message the error payload carried. Message is always safe to
// show to the user; Code and Details are optional machine hints.
type Error struct {
	StatusCode int
	Code       string
	Message    string
	Details    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("api: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsUnauthorized returns true if the error is a 401. Callers route these to
// the shared session-expiry path rather than surfacing a generic error.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusUnauthorized
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusNotFound
	}
	return false
}

// IsBadRequest returns true if the error is a 400.
func IsBadRequest(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == http.StatusBadRequest
	}
	return false
}

// UserMessage extracts a displayable message from any error. Typed API
// errors carry their own; transport errors collapse to a generic line.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Something went wrong. Please try again."
}
