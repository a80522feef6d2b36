// Package authn implements the authentication session state machine:
// browser-based OAuth2/OIDC login with PKCE, direct SRP password login for
// Cognito-backed providers, token verification, and renewal.
package authn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/pkg/browser"
	"golang.org/x/oauth2"

	"github.com/nextstrain/cli/pkg/authn/cognito"
	"github.com/nextstrain/cli/pkg/authn/provider"
	"github.com/nextstrain/cli/pkg/authn/token"
	uerrors "github.com/nextstrain/cli/pkg/errors"
	"github.com/nextstrain/cli/pkg/networking"
	"github.com/nextstrain/cli/pkg/origin"
)

// Session is an authentication session bound to one origin. A session is
// either fully unauthenticated (Tokens and Claims return nil) or holds a
// verified identity token plus the raw access and refresh tokens; no
// partial state is ever observable.
//
// Sessions are not safe for concurrent use; each CLI invocation constructs
// its own.
type Session interface {
	// Origin returns the origin this session is bound to.
	Origin() origin.Origin

	// CanAuthenticateWithBrowser reports whether the provider's client
	// registration supports the authorization code flow.
	CanAuthenticateWithBrowser() bool

	// CanAuthenticateWithPassword reports whether the provider supports
	// direct password authentication.
	CanAuthenticateWithPassword() bool

	// AuthenticateWithBrowser drives the interactive browser login.
	AuthenticateWithBrowser(ctx context.Context) error

	// AuthenticateWithPassword exchanges a username and password for
	// tokens, where supported.
	AuthenticateWithPassword(ctx context.Context, username, password string) error

	// RenewTokens exchanges a refresh token for a fresh token triple.
	RenewTokens(ctx context.Context, refreshToken string) error

	// VerifyTokens verifies an existing token triple and adopts it.
	VerifyTokens(ctx context.Context, idToken, accessToken, refreshToken string) error

	// Tokens returns the current token triple, or nil before any
	// successful authentication.
	Tokens() *token.Set

	// Claims returns the verified identity token claims, or nil before
	// any successful authentication.
	Claims() *token.Claims
}

// session carries the state and behavior shared by both variants.
type session struct {
	origin   origin.Origin
	metadata *provider.Metadata
	verifier *token.Verifier
	client   *http.Client

	// openBrowser and input are swappable for tests.
	openBrowser func(string) error
	input       io.Reader

	tokens *token.Set
	claims *token.Claims

	// priorID remembers the last identity token offered for verification,
	// even when verification failed, so a renewal response that omits an
	// identity token can fall back to re-verifying it.
	priorID string
}

// oidcSession is the generic variant: browser login only.
type oidcSession struct {
	session
}

// cognitoSession additionally supports direct password (SRP) login
// against the provider's legacy user pool.
type cognitoSession struct {
	session
	cognito *cognito.Client
}

// deps holds the process-wide collaborators shared by all sessions, so
// provider metadata and JWKS fetches are cached for the process lifetime.
type deps struct {
	client   *http.Client
	resolver *provider.Resolver
	verifier *token.Verifier
}

var sharedDeps = sync.OnceValues(func() (*deps, error) {
	client, err := networking.NewHTTPClientBuilder().Build()
	if err != nil {
		return nil, err
	}
	verifier, err := token.NewVerifier(context.Background(), client)
	if err != nil {
		return nil, err
	}
	return &deps{
		client:   client,
		resolver: provider.NewResolver(client),
		verifier: verifier,
	}, nil
})

// New constructs a Session for an origin. The variant is chosen from the
// resolved provider metadata: registrations that declare a Cognito user
// pool get the password-capable variant, everything else the generic OIDC
// one.
func New(ctx context.Context, o origin.Origin) (Session, error) {
	d, err := sharedDeps()
	if err != nil {
		return nil, err
	}
	return newSession(ctx, o, d)
}

func newSession(ctx context.Context, o origin.Origin, d *deps) (Session, error) {
	md, err := d.resolver.Resolve(ctx, o)
	if err != nil {
		return nil, err
	}

	base := session{
		origin:      o,
		metadata:    md,
		verifier:    d.verifier,
		client:      d.client,
		openBrowser: browser.OpenURL,
		input:       os.Stdin,
	}

	if poolID := md.Client.CognitoUserPoolID; poolID != "" {
		cg, err := cognito.NewClient(poolID, md.Client.ClientID)
		if err != nil {
			return nil, fmt.Errorf("provider metadata for %s is unusable: %w", o, err)
		}
		return &cognitoSession{session: base, cognito: cg}, nil
	}
	return &oidcSession{session: base}, nil
}

func (s *session) Origin() origin.Origin {
	return s.origin
}

func (s *session) CanAuthenticateWithBrowser() bool {
	return s.metadata.Client.SupportsResponseType("code")
}

func (s *session) Tokens() *token.Set {
	return s.tokens
}

func (s *session) Claims() *token.Claims {
	return s.claims
}

// VerifyTokens verifies the identity token and, on success, adopts the
// full triple. All three tokens must be present.
func (s *session) VerifyTokens(ctx context.Context, idToken, accessToken, refreshToken string) error {
	switch {
	case idToken == "":
		return &token.MissingTokenError{Use: "id"}
	case accessToken == "":
		return &token.MissingTokenError{Use: "access"}
	case refreshToken == "":
		return &token.MissingTokenError{Use: "refresh"}
	}

	s.priorID = idToken
	return s.adopt(ctx, &token.Set{
		ID:      idToken,
		Access:  accessToken,
		Refresh: refreshToken,
	})
}

// RenewTokens redeems a refresh token at the provider's token endpoint
// and adopts the resulting triple. When the provider omits a token from
// the response, the previous one is reused: refresh tokens routinely are
// not reissued.
func (s *session) RenewTokens(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return &token.MissingTokenError{Use: "refresh"}
	}

	cfg := s.oauthConfig("", nil)
	source := cfg.TokenSource(s.oauthContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	renewed, err := source.Token()
	if err != nil {
		return mapTokenEndpointError(err)
	}

	set := &token.Set{
		Access:  renewed.AccessToken,
		Refresh: renewed.RefreshToken,
	}
	set.ID, _ = renewed.Extra("id_token").(string)
	if set.ID == "" {
		if s.priorID == "" {
			return &token.MissingTokenError{Use: "id"}
		}
		set.ID = s.priorID
	}
	if set.Refresh == "" {
		set.Refresh = refreshToken
	}

	return s.adopt(ctx, set)
}

// adopt verifies the identity token of a candidate triple and only then
// makes the triple and its claims observable.
func (s *session) adopt(ctx context.Context, set *token.Set) error {
	claims, err := s.verifier.VerifyIdentityToken(ctx, set.ID, s.metadata.VerifyConfig())
	if err != nil {
		return err
	}
	s.tokens = set
	s.claims = claims
	s.priorID = set.ID
	return nil
}

// oauthConfig builds the OAuth2 client configuration for this origin.
// Identity of the client is conveyed in request parameters; the CLI is a
// public client and holds no secret.
func (s *session) oauthConfig(redirectURL string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    s.metadata.Client.ClientID,
		RedirectURL: redirectURL,
		Scopes:      scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   s.metadata.AuthorizationEndpoint,
			TokenURL:  s.metadata.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// oauthContext routes x/oauth2's HTTP calls through our configured client.
func (s *session) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.client)
}

// mapTokenEndpointError converts token-endpoint failures: a 400 with a
// structured OAuth error code means the provider rejected the grant, and
// transport failures get a user-actionable wrapper instead of a raw dump.
func mapTokenEndpointError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) &&
		retrieveErr.Response != nil &&
		retrieveErr.Response.StatusCode == http.StatusBadRequest &&
		retrieveErr.ErrorCode != "" {
		return &token.NotAuthorizedError{Reason: retrieveErr.ErrorCode}
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &uerrors.UserError{
			Message: "Could not reach the authentication server",
			Hint:    "Check your internet connection and that the remote URL is correct, then try again.",
			Cause:   err,
		}
	}

	return err
}

func (*oidcSession) CanAuthenticateWithPassword() bool {
	return false
}

func (s *oidcSession) AuthenticateWithPassword(_ context.Context, _, _ string) error {
	return uerrors.NewUserError("%s does not support password authentication; use browser login instead", s.origin)
}

func (s *oidcSession) AuthenticateWithBrowser(ctx context.Context) error {
	return s.authenticateWithBrowser(ctx)
}

func (*cognitoSession) CanAuthenticateWithPassword() bool {
	return true
}

func (s *cognitoSession) AuthenticateWithPassword(ctx context.Context, username, password string) error {
	set, err := s.cognito.Login(ctx, username, password)
	if err != nil {
		return err
	}
	return s.adopt(ctx, set)
}

func (s *cognitoSession) AuthenticateWithBrowser(ctx context.Context) error {
	return s.authenticateWithBrowser(ctx)
}
