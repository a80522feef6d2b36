// Package errors defines the user-facing error type shared by the CLI
// commands. A UserError is printed as a multi-line explanation plus, where
// available, a concrete next step; the process then exits non-zero.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// UserError represents a failure that should be explained to the user
// rather than dumped as an internal stack of wrapped errors.
type UserError struct {
	// Message is the primary explanation of what went wrong.
	Message string

	// Hint is an optional next step: a command to run, a URL to check.
	Hint string

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %s", e.Cause)
	}
	if e.Hint != "" {
		b.WriteString("\n\n")
		b.WriteString(e.Hint)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *UserError) Unwrap() error {
	return e.Cause
}

// NewUserError creates a UserError with a formatted message and no hint.
func NewUserError(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// NewUserErrorWithHint creates a UserError carrying a next-step hint.
func NewUserErrorWithHint(hint, format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...), Hint: hint}
}

// WrapUserError attaches a user-facing message to an underlying error.
func WrapUserError(cause error, format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsUserError reports whether err has a UserError anywhere in its chain.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}
