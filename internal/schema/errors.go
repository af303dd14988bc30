package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedConstruct is wrapped by every compile time rejection.
	ErrUnsupportedConstruct = errors.New("unsupported schema construct")
	// ErrValidationFailed is wrapped by every validation failure.
	ErrValidationFailed = errors.New("schema validation failed")
)

// UnsupportedConstructError names the keyword that made a description
// uncompilable and where it was found.
type UnsupportedConstructError struct {
	Path    string // Location in the description, e.g. "#/properties/emails".
	Keyword string
	Reason  string
}

func (e *UnsupportedConstructError) Error() string {
	if e.Keyword == "" {
		return fmt.Sprintf("unsupported schema construct at %s: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("unsupported schema construct %q at %s: %s", e.Keyword, e.Path, e.Reason)
}

func (e *UnsupportedConstructError) Unwrap() error { return ErrUnsupportedConstruct }

// ValidationError identifies the first place a value disagreed with a schema.
type ValidationError struct {
	Path     string // Location in the value, e.g. "$.result.emails[0]".
	Expected string
	Actual   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed at %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }
