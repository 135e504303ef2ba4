package core

import (
	"errors"
	"fmt"
)

var (
	// ErrLockTimeout is returned when a bounded advisory-lock wait
	// expires. No partial write has occurred; the caller may retry.
	ErrLockTimeout = errors.New("lock acquisition timed out")

	// ErrRegistryCorrupt is returned when the handler registry document
	// cannot be parsed. Registrations are never silently dropped.
	ErrRegistryCorrupt = errors.New("handler registry is corrupt")

	// ErrUnavailable is returned when a required backend or runtime
	// dependency is missing or cannot be initialized.
	ErrUnavailable = errors.New("subsystem unavailable")
)

// ValidationError describes a rejected envelope or operation input.
// Validation fails fast: no I/O has been performed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validationf creates a ValidationError for the given field.
func Validationf(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// HandlerError is recorded when a handler invocation fails. It carries the
// exit status and the captured (bounded) diagnostic output; it is written
// to the dead-letter sink and never propagated to the emitting caller.
type HandlerError struct {
	Handler  Handler
	ExitCode int
	Stderr   string
	Cause    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s failed with exit code %d", e.Handler, e.ExitCode)
}

// Unwrap returns the underlying cause for error unwrapping.
func (e *HandlerError) Unwrap() error {
	return e.Cause
}
