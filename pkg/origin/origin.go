// Package origin defines the Origin value type: a normalized
// scheme+host(+port) string identifying a remote identity realm.
package origin

import (
	"fmt"
	"net/url"
	"strings"
)

// Origin is a normalized scheme+host(+port) string, e.g.
// "https://nextstrain.org". Equality is exact string match after
// normalization; construct values with Parse.
type Origin string

// Legacy is the well-known origin that predates OpenID discovery support.
// It receives special treatment in two places: the provider metadata
// resolver falls back to a static document when its discovery endpoint
// returns 404, and the credential store maps it to a bare section name
// for backward compatibility with older CLI versions.
const Legacy = Origin("https://nextstrain.org")

// Parse normalizes a remote URL into an Origin.
//
// The scheme and host are lowercased, a default port is stripped, and any
// path, query, or fragment is rejected. Plain http is only permitted for
// loopback hosts so that a development remote can be used without TLS.
func Parse(raw string) (Origin, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("origin is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid origin %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("origin %q has no host", raw)
	}

	switch scheme {
	case "https":
	case "http":
		if !isLoopbackName(host) {
			return "", fmt.Errorf("origin %q must use https", raw)
		}
	default:
		return "", fmt.Errorf("origin %q has unsupported scheme %q", raw, scheme)
	}

	if strings.TrimSuffix(u.Path, "/") != "" || u.RawQuery != "" || u.Fragment != "" {
		return "", fmt.Errorf("origin %q must not have a path, query, or fragment", raw)
	}

	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}

	if port != "" {
		return Origin(fmt.Sprintf("%s://%s:%s", scheme, host, port)), nil
	}
	return Origin(fmt.Sprintf("%s://%s", scheme, host)), nil
}

// String returns the normalized origin string.
func (o Origin) String() string {
	return string(o)
}

// URL returns the origin joined with the given path.
func (o Origin) URL(path string) string {
	return string(o) + "/" + strings.TrimPrefix(path, "/")
}

func isLoopbackName(host string) bool {
	return host == "localhost" || strings.HasPrefix(host, "127.") || host == "::1"
}
