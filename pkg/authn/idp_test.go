package authn

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/stretchr/testify/require"

	"github.com/nextstrain/cli/pkg/authn/provider"
	"github.com/nextstrain/cli/pkg/authn/token"
	"github.com/nextstrain/cli/pkg/origin"
)

const (
	testIssuer   = "https://idp.test"
	testClientID = "cli-client"
	testAuthCode = "test-auth-code"
	testRefresh  = "refresh-token-1"
	testKeyID    = "test-key-1"
)

// fakeIdP is a complete in-process identity provider: discovery document,
// JWKS, and a token endpoint handling both the authorization code and
// refresh token grants. The authorization endpoint is never served;
// "browsers" in these tests inspect the authorization URL directly and
// call the redirect URI themselves.
type fakeIdP struct {
	t      *testing.T
	key    *rsa.PrivateKey
	jwks   []byte
	server *httptest.Server

	mu sync.Mutex
	// challenge is the PKCE code challenge from the most recent
	// authorization URL, recorded by the test's fake browser so the token
	// endpoint can enforce the verifier.
	challenge string

	// cognitoPoolID, when set, is advertised in the client registration.
	cognitoPoolID string

	// renewOmitsIDToken and renewOmitsRefreshToken drop fields from
	// refresh grant responses.
	renewOmitsIDToken      bool
	renewOmitsRefreshToken bool
}

func newFakeIdP(t *testing.T) *fakeIdP {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pub, err := jwk.Import(&key.PublicKey)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyIDKey, testKeyID))
	require.NoError(t, pub.Set(jwk.AlgorithmKey, "RS256"))
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(pub))
	jwks, err := json.Marshal(set)
	require.NoError(t, err)

	idp := &fakeIdP{t: t, key: key, jwks: jwks}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", idp.handleDiscovery)
	mux.HandleFunc("/jwks.json", idp.handleJWKS)
	mux.HandleFunc("/token", idp.handleToken)

	idp.server = httptest.NewServer(mux)
	t.Cleanup(idp.server.Close)
	return idp
}

func (idp *fakeIdP) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	registration := map[string]any{
		"client_id":               testClientID,
		"id_token_username_claim": "preferred_username",
		"id_token_groups_claim":   "groups",
		"response_types":          []string{"code"},
		"redirect_uris":           []string{"http://127.0.0.1/cb"},
	}
	if idp.cognitoPoolID != "" {
		registration["aws_cognito_user_pool_id"] = idp.cognitoPoolID
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"issuer":                              testIssuer,
		"jwks_uri":                            idp.server.URL + "/jwks.json",
		"authorization_endpoint":              idp.server.URL + "/authorize",
		"token_endpoint":                      idp.server.URL + "/token",
		"scopes_supported":                    []string{"openid", "profile", "email", "offline_access"},
		"nextstrain_cli_client_configuration": registration,
	})
}

func (idp *fakeIdP) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(idp.jwks)
}

func (idp *fakeIdP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		idp.oauthError(w, "invalid_request")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		if r.PostForm.Get("code") != testAuthCode {
			idp.oauthError(w, "invalid_grant")
			return
		}
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		idp.mu.Lock()
		challenge := idp.challenge
		idp.mu.Unlock()
		if challenge == "" || base64.RawURLEncoding.EncodeToString(sum[:]) != challenge {
			idp.oauthError(w, "invalid_grant")
			return
		}
		idp.tokenResponse(w, idp.signIDToken(time.Hour, nil), true)

	case "refresh_token":
		if r.PostForm.Get("refresh_token") != testRefresh {
			idp.oauthError(w, "invalid_grant")
			return
		}
		idToken := ""
		if !idp.renewOmitsIDToken {
			idToken = idp.signIDToken(time.Hour, nil)
		}
		idp.tokenResponse(w, idToken, !idp.renewOmitsRefreshToken)

	default:
		idp.oauthError(w, "unsupported_grant_type")
	}
}

func (idp *fakeIdP) tokenResponse(w http.ResponseWriter, idToken string, includeRefresh bool) {
	resp := map[string]any{
		"access_token": "access-token-1",
		"token_type":   "Bearer",
		"expires_in":   3600,
	}
	if idToken != "" {
		resp["id_token"] = idToken
	}
	if includeRefresh {
		resp["refresh_token"] = testRefresh
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (idp *fakeIdP) oauthError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}

// signIDToken issues an identity token with sensible defaults; overrides
// replace (or with a nil value delete) individual claims.
func (idp *fakeIdP) signIDToken(expiresIn time.Duration, overrides map[string]any) string {
	idp.t.Helper()

	claims := jwt.MapClaims{
		"iss":                testIssuer,
		"aud":                testClientID,
		"sub":                "user-sub-1",
		"preferred_username": "alice",
		"groups":             []string{"blab"},
		"email":              "alice@example.com",
		"token_use":          "id",
		"iat":                time.Now().Unix(),
		"exp":                time.Now().Add(expiresIn).Unix(),
	}
	for k, v := range overrides {
		if v == nil {
			delete(claims, k)
		} else {
			claims[k] = v
		}
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKeyID
	signed, err := tok.SignedString(idp.key)
	require.NoError(idp.t, err)
	return signed
}

// origin returns the origin the fake provider serves.
func (idp *fakeIdP) origin() origin.Origin {
	o, err := origin.Parse(idp.server.URL)
	require.NoError(idp.t, err)
	return o
}

// deps builds a fresh dependency set wired to the fake provider.
func (idp *fakeIdP) deps() *deps {
	idp.t.Helper()

	client := idp.server.Client()
	ctx, cancel := context.WithCancel(context.Background())
	idp.t.Cleanup(cancel)

	verifier, err := token.NewVerifier(ctx, client)
	require.NoError(idp.t, err)

	return &deps{
		client:   client,
		resolver: provider.NewResolver(client),
		verifier: verifier,
	}
}

// session constructs a Session against the fake provider.
func (idp *fakeIdP) session() Session {
	idp.t.Helper()

	sess, err := newSession(context.Background(), idp.origin(), idp.deps())
	require.NoError(idp.t, err)
	return sess
}

// base reaches into a Session of either variant for test-only rewiring of
// the browser opener and terminal input.
func base(t *testing.T, sess Session) *session {
	t.Helper()

	switch s := sess.(type) {
	case *oidcSession:
		return &s.session
	case *cognitoSession:
		return &s.session
	default:
		t.Fatalf("unexpected session type %T", sess)
		return nil
	}
}
