// Package networking provides the shared HTTP plumbing for the CLI:
// a configurable client builder, generic JSON fetch helpers, and
// loopback-address utilities.
package networking

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// UserAgent is sent on all outgoing HTTP requests made by the CLI.
const UserAgent = "nextstrain-cli/1.0"

// HTTPTimeout is the timeout for outgoing HTTP requests.
const HTTPTimeout = 30 * time.Second

// HTTPClientBuilder provides a fluent interface for building HTTP clients.
type HTTPClientBuilder struct {
	clientTimeout         time.Duration
	tlsHandshakeTimeout   time.Duration
	responseHeaderTimeout time.Duration
	caCertPath            string
}

// NewHTTPClientBuilder returns a new HTTPClientBuilder with default timeouts.
func NewHTTPClientBuilder() *HTTPClientBuilder {
	return &HTTPClientBuilder{
		clientTimeout:         HTTPTimeout,
		tlsHandshakeTimeout:   10 * time.Second,
		responseHeaderTimeout: 10 * time.Second,
	}
}

// WithTimeout overrides the overall request timeout.
func (b *HTTPClientBuilder) WithTimeout(d time.Duration) *HTTPClientBuilder {
	b.clientTimeout = d
	return b
}

// WithCABundle sets the CA certificate bundle path.
func (b *HTTPClientBuilder) WithCABundle(path string) *HTTPClientBuilder {
	b.caCertPath = path
	return b
}

// Build creates the configured HTTP client.
func (b *HTTPClientBuilder) Build() (*http.Client, error) {
	transport := &http.Transport{
		TLSHandshakeTimeout:   b.tlsHandshakeTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	if b.caCertPath != "" {
		caCert, err := os.ReadFile(b.caCertPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate bundle: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate bundle")
		}

		transport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			RootCAs:    caCertPool,
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   b.clientTimeout,
	}, nil
}

// IsLoopbackHost reports whether host names a loopback address:
// "localhost", an address in 127.0.0.0/8, or ::1. Hostnames other than
// "localhost" are deliberately not resolved; a DNS answer is not a
// trustworthy basis for a security decision about a redirect target.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}
