// Package provider resolves and caches OpenID Connect provider metadata
// for remote origins, including the CLI-specific client registration
// published alongside the standard discovery document.
package provider

import (
	"fmt"
	"slices"

	"github.com/nextstrain/cli/pkg/authn/token"
)

// ConfigurationError indicates that an origin's provider metadata is
// missing or unintelligible. It is not retryable without operator
// intervention (fix the URL, or fix the remote).
type ConfigurationError struct {
	Message string
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	return e.Message
}

// Metadata is the discovery document for an origin. It is treated as
// immutable after fetch; the resolver caches one per origin for the
// process lifetime.
type Metadata struct {
	Issuer                string   `json:"issuer"`
	JWKSURI               string   `json:"jwks_uri"`
	AuthorizationEndpoint string   `json:"authorization_endpoint"`
	TokenEndpoint         string   `json:"token_endpoint"`
	ScopesSupported       []string `json:"scopes_supported"`

	// Client is the nested CLI-specific client registration.
	Client ClientRegistration `json:"nextstrain_cli_client_configuration"`
}

// ClientRegistration is the CLI-specific extension object of the
// discovery document.
type ClientRegistration struct {
	ClientID      string `json:"client_id"`
	UsernameClaim string `json:"id_token_username_claim"`
	GroupsClaim   string `json:"id_token_groups_claim"`

	// CognitoUserPoolID is set only by providers backed by an AWS Cognito
	// user pool; its presence enables direct password (SRP) authentication.
	CognitoUserPoolID string `json:"aws_cognito_user_pool_id,omitempty"`

	// ResponseTypes lists the OAuth2 response types the registration
	// supports; "code" enables the browser-based authorization code flow.
	ResponseTypes []string `json:"response_types,omitempty"`

	// RedirectURIs is the allowlist of redirect URIs registered for the
	// client. Only loopback http URIs are ever used.
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

// SupportsResponseType reports whether the client registration declares
// the given OAuth2 response type.
func (c *ClientRegistration) SupportsResponseType(responseType string) bool {
	return slices.Contains(c.ResponseTypes, responseType)
}

// SupportsScope reports whether the provider advertises the given scope.
func (m *Metadata) SupportsScope(scope string) bool {
	return slices.Contains(m.ScopesSupported, scope)
}

// VerifyConfig derives the token-verification inputs from the metadata.
func (m *Metadata) VerifyConfig() token.VerifyConfig {
	return token.VerifyConfig{
		Issuer:        m.Issuer,
		ClientID:      m.Client.ClientID,
		JWKSURI:       m.JWKSURI,
		UsernameClaim: m.Client.UsernameClaim,
		GroupsClaim:   m.Client.GroupsClaim,
	}
}

func (m *Metadata) validate() error {
	missing := func(field string) error {
		return &ConfigurationError{
			Message: fmt.Sprintf("provider metadata is missing required field %q", field),
		}
	}

	switch {
	case m.Issuer == "":
		return missing("issuer")
	case m.JWKSURI == "":
		return missing("jwks_uri")
	case m.AuthorizationEndpoint == "":
		return missing("authorization_endpoint")
	case m.TokenEndpoint == "":
		return missing("token_endpoint")
	case len(m.ScopesSupported) == 0:
		return missing("scopes_supported")
	case m.Client.ClientID == "":
		return missing("nextstrain_cli_client_configuration.client_id")
	case m.Client.UsernameClaim == "":
		return missing("nextstrain_cli_client_configuration.id_token_username_claim")
	case m.Client.GroupsClaim == "":
		return missing("nextstrain_cli_client_configuration.id_token_groups_claim")
	}
	return nil
}

// legacyUserPoolID identifies the Cognito user pool behind the legacy
// origin, which predates discovery support.
const legacyUserPoolID = "us-east-1_Cg5rcTged"

// legacyMetadata is the static document served in place of discovery for
// the legacy origin. This is an allowed transitional state until the
// remote publishes a real discovery document, not an error path.
func legacyMetadata() *Metadata {
	issuer := "https://cognito-idp.us-east-1.amazonaws.com/" + legacyUserPoolID
	return &Metadata{
		Issuer:                issuer,
		JWKSURI:               issuer + "/.well-known/jwks.json",
		AuthorizationEndpoint: "https://login.nextstrain.org/oauth2/authorize",
		TokenEndpoint:         "https://login.nextstrain.org/oauth2/token",
		ScopesSupported:       []string{"openid", "profile", "email", "phone"},
		Client: ClientRegistration{
			ClientID:          "2vmc93kj4fiul8uv40uqge93m5",
			UsernameClaim:     "cognito:username",
			GroupsClaim:       "cognito:groups",
			CognitoUserPoolID: legacyUserPoolID,
			ResponseTypes:     []string{"code"},
			RedirectURIs: []string{
				"http://127.0.0.1:41871",
				"http://127.0.0.1:49290",
				"http://127.0.0.1:53219",
				"http://localhost:41871",
				"http://localhost:49290",
				"http://localhost:53219",
			},
		},
	}
}
