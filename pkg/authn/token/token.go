// Package token holds the token triple record, the verified claims type,
// the identity-token verifier, and the token error taxonomy.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Set is the token triple held by an authenticated session. The three
// fields are opaque bearer strings; only the identity token is ever
// inspected (and then only after verification).
type Set struct {
	// ID is the signed identity token (a JWT carrying claims).
	ID string

	// Access is the access token.
	Access string

	// Refresh is the refresh token.
	Refresh string
}

// Claims is the decoded, verified payload of an identity token. Values are
// only trustworthy because construction happens inside the verifier, after
// signature, issuer, audience, expiry, and token-use checks pass.
type Claims struct {
	// Subject is the token's registered sub claim.
	Subject string

	// Username is the value of the provider-configured username claim.
	Username string

	// Groups is the value of the provider-configured groups claim.
	// Absent claim means an empty list, never nil semantics beyond that.
	Groups []string

	// Email is the optional email claim.
	Email string

	// ExpiresAt is the token expiry.
	ExpiresAt time.Time

	raw jwt.MapClaims
}

// Raw returns the full decoded claim map, for diagnostic display.
func (c *Claims) Raw() map[string]any {
	return c.raw
}
