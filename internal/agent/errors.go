// internal/agent/errors.go
package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOutput marks a model reply that does not conform to the response schema.
	ErrInvalidOutput = errors.New("invalid model output")
	// ErrProvider marks a failure of the completion provider itself.
	ErrProvider = errors.New("completion provider failed")
)

// InvalidOutputError carries the validation failure and a censored,
// truncated copy of the reply that caused it.
type InvalidOutputError struct {
	Reply string
	Err   error
}

func (e *InvalidOutputError) Error() string {
	return fmt.Sprintf("%s: %v", ErrInvalidOutput, e.Err)
}

// Unwrap exposes both the sentinel and the underlying validation error, so
// errors.Is(err, ErrInvalidOutput) and errors.As(err, **schema.ValidationError)
// both work.
func (e *InvalidOutputError) Unwrap() []error {
	return []error{ErrInvalidOutput, e.Err}
}
