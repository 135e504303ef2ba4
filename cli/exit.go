// Package cli implements the relay command surface: one subcommand per
// bus capability, plus the topology validator and the retention loop.
package cli

import (
	"errors"
	"fmt"

	"github.com/petal-labs/relay/core"
)

// Process exit codes of the relay binary.
const (
	exitValidation  = 1 // malformed type name, invalid JSON, oversized payload
	exitDelivery    = 2 // lock timeout or delivery/storage failure
	exitUnavailable = 3 // missing backend or runtime dependency
)

// ExitError is an error that carries a specific process exit code.
// Cobra's RunE returns this to signal the desired exit code to main.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	return e.Message
}

// exitError creates a new ExitError with the given code and formatted message.
func exitError(code int, format string, args ...any) *ExitError {
	return &ExitError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// wrapErr maps bus errors onto the exit-code taxonomy.
func wrapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case core.IsValidation(err):
		return exitError(exitValidation, "%v", err)
	case errors.Is(err, core.ErrUnavailable):
		return exitError(exitUnavailable, "%v", err)
	case errors.Is(err, core.ErrLockTimeout), errors.Is(err, core.ErrRegistryCorrupt):
		return exitError(exitDelivery, "%v", err)
	default:
		return exitError(exitDelivery, "%v", err)
	}
}
