package setup

import (
	"errors"
	"fmt"

	"github.com/ethangolledge/vapebot/internal/models"
)

// ErrMethodRequired is wrapped by the ValidationError returned when a goal
// is written before a reduction method has been chosen.
var ErrMethodRequired = errors.New("method must be set before goal")

// ErrMethodLocked is wrapped when a different method is written to a record
// that already has one within the same setup pass.
var ErrMethodLocked = errors.New("method already chosen")

// ValidationError reports user input that could not be applied to a field.
// It is recoverable: the caller decides whether to re-prompt.
type ValidationError struct {
	Field  models.Field
	Raw    string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Raw, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field models.Field, raw, reason string) *ValidationError {
	return &ValidationError{Field: field, Raw: raw, Reason: reason}
}

// StateError reports a logic error such as operating on a record that does
// not exist. It is never shown to users as a validation problem.
type StateError struct {
	UserID string
	Reason string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("setup state error for %s: %s", e.UserID, e.Reason)
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
