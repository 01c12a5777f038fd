// Package services holds the request-facing orchestration between the
// HTTP API, the store, and the session engine.
package services

import (
	"errors"
	"fmt"
)

// Sentinel errors mapped to HTTP statuses by the API layer.
var (
	ErrNotFound       = errors.New("not found")
	ErrNotRunning     = errors.New("session is not running")
	ErrAlreadyRunning = errors.New("session is already running")
	ErrAlreadyDone    = errors.New("session is already in a terminal state")
	ErrNotCancellable = errors.New("session cannot be cancelled")
)

// ValidationError carries a field-level request validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}
