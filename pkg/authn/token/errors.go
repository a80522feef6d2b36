package token

import "fmt"

// Error is the generic token-validity failure. It carries the type name and
// message of the underlying cause so that the original failure mode stays
// visible without exposing library internals to callers.
type Error struct {
	// TypeName is the Go type of the underlying error.
	TypeName string

	// Message is the underlying error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("invalid token: %s: %s", e.TypeName, e.Message)
}

// NewError wraps an arbitrary validation failure into a token Error.
func NewError(cause error) *Error {
	return &Error{
		TypeName: fmt.Sprintf("%T", cause),
		Message:  cause.Error(),
	}
}

// ExpiredTokenError indicates a token whose signature verified but whose
// expiry has passed. It is the one recoverable token failure: callers may
// attempt renewal with the refresh token.
type ExpiredTokenError struct {
	// Use names which token expired ("id", "access", "refresh").
	Use string
}

// Error implements the error interface.
func (e *ExpiredTokenError) Error() string {
	return fmt.Sprintf("expired %s token", e.Use)
}

// InvalidUseError indicates a validly-signed token whose token_use claim
// does not match the expected use. It guards against token confusion or
// substitution (e.g. an access token presented as an identity token) and
// is always fatal; it never triggers renewal.
type InvalidUseError struct {
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *InvalidUseError) Error() string {
	return fmt.Sprintf("token use %q does not match expected use %q", e.Actual, e.Expected)
}

// MissingTokenError indicates that a required token was absent at a
// verification or renewal call.
type MissingTokenError struct {
	// Use names the missing token ("id", "access", "refresh").
	Use string
}

// Error implements the error interface.
func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("no %s token", e.Use)
}

// NotAuthorizedError indicates that credentials, an authorization code, or
// a refresh token were rejected by the identity provider. The provider's
// own diagnostic is surfaced verbatim and the operation is not retried.
type NotAuthorizedError struct {
	// Reason is the provider's diagnostic, e.g. "invalid_grant".
	Reason string
}

// Error implements the error interface.
func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("not authorized: %s", e.Reason)
}

// NewPasswordRequiredError indicates that the provider mandates an
// interactive password change which the CLI cannot perform; the user must
// complete it via the web instead.
type NewPasswordRequiredError struct{}

// Error implements the error interface.
func (*NewPasswordRequiredError) Error() string {
	return "a new password is required"
}
