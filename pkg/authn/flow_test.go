package authn

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextstrain/cli/pkg/authn/provider"
	"github.com/nextstrain/cli/pkg/authn/token"
	uerrors "github.com/nextstrain/cli/pkg/errors"
)

// browserStub parses an authorization URL the way a browser would arrive
// at the provider, records the PKCE challenge with the fake provider, and
// hits the redirect URI as directed by respond.
func browserStub(t *testing.T, idp *fakeIdP, respond func(redirectURI, state string)) func(string) error {
	t.Helper()

	return func(authURL string) error {
		u, err := url.Parse(authURL)
		require.NoError(t, err)
		q := u.Query()

		assert.Equal(t, testClientID, q.Get("client_id"))
		assert.Equal(t, "code", q.Get("response_type"))
		assert.Equal(t, "S256", q.Get("code_challenge_method"))
		assert.NotEmpty(t, q.Get("code_challenge"))
		assert.Contains(t, q.Get("scope"), "openid")

		idp.mu.Lock()
		idp.challenge = q.Get("code_challenge")
		idp.mu.Unlock()

		respond(q.Get("redirect_uri"), q.Get("state"))
		return nil
	}
}

// redirect performs the GET a browser would make back to the loopback
// callback server.
func redirect(t *testing.T, redirectURI string, params url.Values) {
	t.Helper()

	resp, err := http.Get(redirectURI + "?" + params.Encode()) //nolint:gosec,noctx // loopback test URL
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func TestAuthenticateWithBrowser(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	sess := idp.session()

	b := base(t, sess)
	b.input = strings.NewReader("")
	b.openBrowser = browserStub(t, idp, func(redirectURI, state string) {
		assert.True(t, strings.HasPrefix(redirectURI, "http://127.0.0.1:"),
			"redirect must go to a loopback port, got %q", redirectURI)
		redirect(t, redirectURI, url.Values{"code": {testAuthCode}, "state": {state}})
	})

	require.NoError(t, sess.AuthenticateWithBrowser(context.Background()))

	require.NotNil(t, sess.Tokens())
	assert.Equal(t, "access-token-1", sess.Tokens().Access)
	assert.Equal(t, testRefresh, sess.Tokens().Refresh)
	assert.Equal(t, "alice", sess.Claims().Username)
}

// The pasted-URL fallback: the redirect never reaches the loopback server
// and the user pastes the full URL into the terminal instead.
func TestAuthenticateWithBrowserPastedRedirect(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	sess := idp.session()

	pr, pw := io.Pipe()
	b := base(t, sess)
	b.input = pr
	b.openBrowser = browserStub(t, idp, func(redirectURI, state string) {
		go func() {
			fmt.Fprintf(pw, "%s?code=%s&state=%s\n", redirectURI, testAuthCode, url.QueryEscape(state))
		}()
	})

	require.NoError(t, sess.AuthenticateWithBrowser(context.Background()))
	assert.Equal(t, "alice", sess.Claims().Username)
}

func TestAuthenticateWithBrowserStateMismatch(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	sess := idp.session()

	b := base(t, sess)
	b.input = strings.NewReader("")
	b.openBrowser = browserStub(t, idp, func(redirectURI, _ string) {
		redirect(t, redirectURI, url.Values{"code": {testAuthCode}, "state": {"forged"}})
	})

	err := sess.AuthenticateWithBrowser(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "state does not match")
	assert.Nil(t, sess.Tokens())
}

func TestAuthenticateWithBrowserProviderDenial(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	sess := idp.session()

	b := base(t, sess)
	b.input = strings.NewReader("")
	b.openBrowser = browserStub(t, idp, func(redirectURI, state string) {
		redirect(t, redirectURI, url.Values{
			"error":             {"access_denied"},
			"error_description": {"User cancelled"},
			"state":             {state},
		})
	})

	err := sess.AuthenticateWithBrowser(context.Background())

	var notAuthorized *token.NotAuthorizedError
	require.ErrorAs(t, err, &notAuthorized)
	assert.Equal(t, "access_denied: User cancelled", notAuthorized.Reason)
}

func TestAuthenticateWithBrowserBadCode(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	sess := idp.session()

	b := base(t, sess)
	b.input = strings.NewReader("")
	b.openBrowser = browserStub(t, idp, func(redirectURI, state string) {
		redirect(t, redirectURI, url.Values{"code": {"stolen-code"}, "state": {state}})
	})

	err := sess.AuthenticateWithBrowser(context.Background())

	var notAuthorized *token.NotAuthorizedError
	require.ErrorAs(t, err, &notAuthorized)
	assert.Equal(t, "invalid_grant", notAuthorized.Reason)
	assert.Nil(t, sess.Tokens())
}

func TestAuthenticateWithBrowserContextCancelled(t *testing.T) {
	t.Parallel()

	idp := newFakeIdP(t)
	sess := idp.session()

	ctx, cancel := context.WithCancel(context.Background())
	b := base(t, sess)
	b.input = strings.NewReader("")
	b.openBrowser = browserStub(t, idp, func(_, _ string) {
		// Never respond; the user gave up.
		cancel()
	})

	err := sess.AuthenticateWithBrowser(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBindCallbackServer(t *testing.T) {
	t.Parallel()

	t.Run("skips non-loopback candidates", func(t *testing.T) {
		t.Parallel()

		_, _, err := bindCallbackServer(context.Background(), []string{
			"https://example.com/cb",
			"http://attacker.example.com/cb",
		})
		require.Error(t, err)
		assert.True(t, uerrors.IsUserError(err))
	})

	t.Run("tries the next candidate when a port is busy", func(t *testing.T) {
		t.Parallel()

		occupier, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer occupier.Close()
		busyPort := occupier.Addr().(*net.TCPAddr).Port

		server, redirectURL, err := bindCallbackServer(context.Background(), []string{
			fmt.Sprintf("http://127.0.0.1:%d/cb", busyPort),
			"http://127.0.0.1/cb",
		})
		require.NoError(t, err)
		defer server.Close()

		assert.NotEqual(t, busyPort, server.Port())
		assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", server.Port()), redirectURL.Host)
		assert.Equal(t, "/cb", redirectURL.Path)
	})

	t.Run("fails when every candidate is busy", func(t *testing.T) {
		t.Parallel()

		occupier, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer occupier.Close()
		busyPort := occupier.Addr().(*net.TCPAddr).Port

		_, _, err = bindCallbackServer(context.Background(), []string{
			fmt.Sprintf("http://127.0.0.1:%d/cb", busyPort),
		})
		require.Error(t, err)
		assert.True(t, uerrors.IsUserError(err))
	})
}

func TestAuthScopes(t *testing.T) {
	t.Parallel()

	metadataWithScopes := func(scopes ...string) *provider.Metadata {
		return &provider.Metadata{ScopesSupported: scopes}
	}

	t.Run("optional scopes included when supported", func(t *testing.T) {
		t.Parallel()

		s := &session{metadata: metadataWithScopes("openid", "profile", "email", "offline_access")}
		scopes, err := s.authScopes()
		require.NoError(t, err)
		assert.Equal(t, []string{"openid", "profile", "email", "offline_access"}, scopes)
	})

	t.Run("optional scopes omitted when unsupported", func(t *testing.T) {
		t.Parallel()

		s := &session{metadata: metadataWithScopes("openid", "profile")}
		scopes, err := s.authScopes()
		require.NoError(t, err)
		assert.Equal(t, []string{"openid", "profile"}, scopes)
	})

	t.Run("missing required scope is a configuration error", func(t *testing.T) {
		t.Parallel()

		s := &session{metadata: metadataWithScopes("profile")}
		_, err := s.authScopes()

		var confErr *provider.ConfigurationError
		require.ErrorAs(t, err, &confErr)
		assert.Contains(t, confErr.Message, "openid")
	})
}

func TestValidateAuthorizationResponse(t *testing.T) {
	t.Parallel()

	parse := func(raw string) *url.URL {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		return u
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()

		code, err := validateAuthorizationResponse(parse("http://127.0.0.1/cb?code=c1&state=s1"), "s1")
		require.NoError(t, err)
		assert.Equal(t, "c1", code)
	})

	t.Run("missing code", func(t *testing.T) {
		t.Parallel()

		_, err := validateAuthorizationResponse(parse("http://127.0.0.1/cb?state=s1"), "s1")
		assert.ErrorContains(t, err, "no code")
	})

	t.Run("provider error wins over state check", func(t *testing.T) {
		t.Parallel()

		_, err := validateAuthorizationResponse(parse("http://127.0.0.1/cb?error=server_error"), "s1")

		var notAuthorized *token.NotAuthorizedError
		require.ErrorAs(t, err, &notAuthorized)
		assert.Equal(t, "server_error", notAuthorized.Reason)
	})
}

func TestRandomTokenIsURLSafeAndFresh(t *testing.T) {
	t.Parallel()

	first, err := randomToken()
	require.NoError(t, err)
	second, err := randomToken()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Len(t, first, 43) // 32 bytes, unpadded base64url
	assert.NotContains(t, first, "=")
}
