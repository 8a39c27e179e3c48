package models

import "errors"

var (
	// ErrNotFound is returned when a video (or its related record) does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a processing run is requested for a video
	// that already has one active.
	ErrConflict = errors.New("already processing")
)

// ValidationError rejects bad input synchronously, before any state mutation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}
