package models

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a transition references an unknown reminder id
var ErrNotFound = errors.New("reminder not found")

// ErrInvalidTransition is returned when a transition is requested from a
// terminal state
var ErrInvalidTransition = errors.New("invalid transition from terminal state")

// ErrStaleReminder is returned by Store.Update when the row changed since it
// was read. Writers spread across processes, so the caller must re-read and
// re-apply instead of overwriting the newer state
var ErrStaleReminder = errors.New("reminder modified concurrently")

// ValidationError indicates a request that must be rejected at create time,
// before any state is stored
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError for the given field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
