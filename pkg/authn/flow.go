package authn

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	mathrand "math/rand"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/oauth2"

	"github.com/nextstrain/cli/pkg/authn/callback"
	"github.com/nextstrain/cli/pkg/authn/provider"
	"github.com/nextstrain/cli/pkg/authn/token"
	uerrors "github.com/nextstrain/cli/pkg/errors"
	"github.com/nextstrain/cli/pkg/logger"
	"github.com/nextstrain/cli/pkg/networking"
)

// requiredScopes must be granted for login to work at all; optionalScopes
// are requested only when the provider advertises them.
var (
	requiredScopes = []string{"openid", "profile"}
	optionalScopes = []string{"email", "offline_access"}
)

// authenticateWithBrowser runs the authorization code + PKCE flow: bind a
// loopback callback server, send the user's browser to the authorization
// endpoint, and accept the redirect either on the server or pasted into
// the terminal, whichever arrives first.
func (s *session) authenticateWithBrowser(ctx context.Context) error {
	if !s.CanAuthenticateWithBrowser() {
		return &provider.ConfigurationError{
			Message: fmt.Sprintf("client registration for %s does not support the authorization code flow", s.origin),
		}
	}

	scopes, err := s.authScopes()
	if err != nil {
		return err
	}

	server, redirectURL, err := bindCallbackServer(ctx, s.metadata.Client.RedirectURIs)
	if err != nil {
		return err
	}
	defer server.Close()

	state, err := randomToken()
	if err != nil {
		return fmt.Errorf("generating state: %w", err)
	}
	codeVerifier, err := randomToken()
	if err != nil {
		return fmt.Errorf("generating code verifier: %w", err)
	}
	challenge := sha256.Sum256([]byte(codeVerifier))

	cfg := s.oauthConfig(redirectURL.String(), scopes)
	authURL := cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", base64.RawURLEncoding.EncodeToString(challenge[:])),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"))

	serverResponses := server.Serve()
	pastedResponses := make(chan *url.URL, 1)
	go readPastedRedirect(s.input, pastedResponses)

	fmt.Fprintf(os.Stderr, "Opening your browser to login to %s…\n\n", s.origin)
	fmt.Fprintf(os.Stderr, "If it doesn't open automatically, please visit:\n\n    %s\n\n", authURL)
	if err := s.openBrowser(authURL); err != nil {
		logger.Warnf("Could not open a browser automatically: %v", err)
	}

	var response *url.URL
	select {
	case response = <-serverResponses:
	case response = <-pastedResponses:
		server.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
	if response == nil {
		return uerrors.NewUserError("Did not receive an authorization response; please try logging in again.")
	}

	code, err := validateAuthorizationResponse(response, state)
	if err != nil {
		return err
	}

	set, err := s.exchangeAuthorizationCode(ctx, cfg, code, codeVerifier)
	if err != nil {
		return err
	}
	return s.adopt(ctx, set)
}

// authScopes computes the scopes to request from the provider's
// advertised support.
func (s *session) authScopes() ([]string, error) {
	scopes := make([]string, 0, len(requiredScopes)+len(optionalScopes))
	for _, scope := range requiredScopes {
		if !s.metadata.SupportsScope(scope) {
			return nil, &provider.ConfigurationError{
				Message: fmt.Sprintf("provider for %s does not support the required %q scope", s.origin, scope),
			}
		}
		scopes = append(scopes, scope)
	}
	for _, scope := range optionalScopes {
		if s.metadata.SupportsScope(scope) {
			scopes = append(scopes, scope)
		}
	}
	return scopes, nil
}

// bindCallbackServer tries the client registration's redirect URIs in
// random order until one binds. Only http URIs on loopback hosts are
// candidates. An address already in use means another login (or another
// program) got there first, so the next candidate is tried; any other
// bind failure aborts.
func bindCallbackServer(ctx context.Context, redirectURIs []string) (*callback.Server, *url.URL, error) {
	candidates := make([]string, len(redirectURIs))
	copy(candidates, redirectURIs)
	mathrand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for _, raw := range candidates {
		u, err := url.Parse(raw)
		if err != nil {
			logger.Debugf("Skipping unparseable redirect URI %q: %v", raw, err)
			continue
		}
		if u.Scheme != "http" || !networking.IsLoopbackHost(u.Hostname()) {
			logger.Debugf("Skipping non-loopback redirect URI %q", raw)
			continue
		}

		port := 0
		if p := u.Port(); p != "" {
			port, err = strconv.Atoi(p)
			if err != nil {
				logger.Debugf("Skipping redirect URI %q with bad port: %v", raw, err)
				continue
			}
		}

		server, err := callback.Bind(ctx, u.Hostname(), port, u.Path)
		if errors.Is(err, syscall.EADDRINUSE) {
			logger.Debugf("Redirect address %s is in use; trying the next one", u.Host)
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("binding callback server for %q: %w", raw, err)
		}

		bound := *u
		if u.Port() == "" {
			bound.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(server.Port()))
		}
		return server, &bound, nil
	}

	return nil, nil, uerrors.NewUserErrorWithHint(
		"Another login may be in progress, or other programs may be using the necessary ports. Try again in a moment.",
		"Could not listen on any local address registered for login redirects")
}

// validateAuthorizationResponse checks a redirect URL for provider errors
// and state binding, returning the authorization code.
func validateAuthorizationResponse(response *url.URL, state string) (string, error) {
	query := response.Query()

	if e := query.Get("error"); e != "" {
		if desc := query.Get("error_description"); desc != "" {
			e += ": " + desc
		}
		return "", &token.NotAuthorizedError{Reason: e}
	}

	if subtle.ConstantTimeCompare([]byte(query.Get("state")), []byte(state)) != 1 {
		return "", errors.New("authorization response state does not match the request state")
	}

	code := query.Get("code")
	if code == "" {
		return "", errors.New("authorization response contains no code")
	}
	return code, nil
}

// exchangeAuthorizationCode redeems the code at the token endpoint,
// proving possession of the PKCE verifier.
func (s *session) exchangeAuthorizationCode(ctx context.Context, cfg *oauth2.Config, code, codeVerifier string) (*token.Set, error) {
	exchanged, err := cfg.Exchange(s.oauthContext(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier))
	if err != nil {
		return nil, mapTokenEndpointError(err)
	}

	set := &token.Set{
		Access:  exchanged.AccessToken,
		Refresh: exchanged.RefreshToken,
	}
	set.ID, _ = exchanged.Extra("id_token").(string)
	return set, nil
}

// readPastedRedirect reads a redirect URL pasted into the terminal, as a
// fallback when the browser cannot reach the local callback server (e.g.
// when the CLI runs on a remote machine). The read cannot be portably
// interrupted; when the callback server wins the race this goroutine is
// simply abandoned and exits with the process.
func readPastedRedirect(input io.Reader, out chan<- *url.URL) {
	fmt.Fprintln(os.Stderr, `If you're running this on a remote machine, paste the "page not found" URL from your browser's address bar here instead:`)
	fmt.Fprintln(os.Stderr)

	scanner := bufio.NewScanner(input)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		u, err := url.Parse(line)
		if err != nil || !u.IsAbs() {
			fmt.Fprintln(os.Stderr, "That doesn't look like a URL; please try again:")
			continue
		}
		out <- u
		return
	}
	// Stdin closed without a URL; leave the callback server as the only
	// remaining path.
}

// randomToken returns 32 bytes of entropy as unpadded base64url, suitable
// for both the state parameter and the PKCE code verifier.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
