package networking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testResponse is a sample response type for testing.
type testResponse struct {
	Message string `json:"message"`
	Value   int    `json:"value"`
}

func TestFetchJSON_SuccessfulGET(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(testResponse{Message: "hello", Value: 42})
	}))
	defer server.Close()

	result, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL)
	require.NoError(t, err)

	assert.Equal(t, "hello", result.Data.Message)
	assert.Equal(t, 42, result.Data.Value)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestFetchJSON_ErrorStatus(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such page", http.StatusNotFound)
	}))
	defer server.Close()

	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL)
	require.Error(t, err)

	assert.True(t, IsHTTPError(err, http.StatusNotFound))
	assert.False(t, IsHTTPError(err, http.StatusInternalServerError))
	assert.True(t, IsHTTPError(err, 0))

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Contains(t, httpErr.Body, "no such page")
	assert.Equal(t, server.URL, httpErr.URL)
}

func TestFetchJSON_CustomErrorHandler(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "invalid_grant"}`))
	}))
	defer server.Close()

	handled := errors.New("handled oauth error")
	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL,
		WithErrorHandler(func(resp *http.Response, body []byte) error {
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), "invalid_grant")
			return handled
		}))

	require.ErrorIs(t, err, handled)
}

func TestFetchJSON_ErrorHandlerFallsThrough(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	// A handler that returns nil defers to the default HTTPError.
	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL,
		WithErrorHandler(func(*http.Response, []byte) error { return nil }))

	assert.True(t, IsHTTPError(err, http.StatusBadGateway))
}

func TestFetchJSON_ContentTypeValidation(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`{"message": "sneaky"}`))
	}))
	defer server.Close()

	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected content type")

	result, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL,
		WithoutContentTypeValidation())
	require.NoError(t, err)
	assert.Equal(t, "sneaky", result.Data.Message)
}

func TestFetchJSON_MaxResponseSize(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"message": %q}`, strings.Repeat("x", 4096))
	}))
	defer server.Close()

	// Truncation makes the JSON unparseable, which surfaces as a parse error.
	_, err := FetchJSON[testResponse](context.Background(), server.Client(), server.URL,
		WithMaxResponseSize(16))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse JSON")
}

func TestFetchJSONWithForm(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, ContentTypeFormURLEncoded, r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(testResponse{Message: "ok"})
	}))
	defer server.Close()

	result, err := FetchJSONWithForm[testResponse](context.Background(), server.Client(), server.URL,
		url.Values{"grant_type": {"refresh_token"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Data.Message)
}
