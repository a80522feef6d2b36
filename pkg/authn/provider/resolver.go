package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/nextstrain/cli/pkg/logger"
	"github.com/nextstrain/cli/pkg/networking"
	"github.com/nextstrain/cli/pkg/origin"
)

// wellKnownPath is the OpenID Connect discovery path.
const wellKnownPath = "/.well-known/openid-configuration"

// maxFetchAttempts bounds the transport-error retry around a discovery
// fetch. HTTP status errors are never retried; they are answers.
const maxFetchAttempts = 3

// Resolver fetches and caches provider metadata per origin. The cache is
// explicit and owned by the resolver (one per process in practice), so
// tests can construct fresh instances with fake HTTP clients.
type Resolver struct {
	client networking.HTTPClient

	mu    sync.Mutex
	cache map[origin.Origin]*Metadata
}

// NewResolver creates a Resolver using the given HTTP client. A nil
// client means http.DefaultClient.
func NewResolver(client networking.HTTPClient) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{
		client: client,
		cache:  make(map[origin.Origin]*Metadata),
	}
}

// Resolve returns the provider metadata for an origin, fetching it on
// first use and serving the cached copy afterwards. Resolve is idempotent
// and safe for concurrent use.
func (r *Resolver) Resolve(ctx context.Context, o origin.Origin) (*Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if md, ok := r.cache[o]; ok {
		return md, nil
	}

	md, err := r.fetch(ctx, o)
	if err != nil {
		return nil, err
	}

	r.cache[o] = md
	return md, nil
}

func (r *Resolver) fetch(ctx context.Context, o origin.Origin) (*Metadata, error) {
	wellKnownURL := o.URL(wellKnownPath)
	logger.Debugf("Fetching provider metadata from %s", wellKnownURL)

	operation := func() (*networking.FetchResult[Metadata], error) {
		res, err := networking.FetchJSON[Metadata](ctx, r.client, wellKnownURL)
		if err != nil {
			if networking.IsHTTPError(err, 0) {
				// A status code is an answer, not a transient failure.
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return res, nil
	}

	res, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(maxFetchAttempts),
	)
	if err != nil {
		if networking.IsHTTPError(err, http.StatusNotFound) {
			if o == origin.Legacy {
				// The legacy origin does not (yet) publish a discovery
				// document; substitute the known-good static one.
				logger.Debugf("Using static provider metadata for legacy origin %s", o)
				return legacyMetadata(), nil
			}
			return nil, &ConfigurationError{
				Message: fmt.Sprintf(
					"%s was not found at %s; %s does not appear to be a compatible remote",
					wellKnownPath, wellKnownURL, o),
			}
		}
		return nil, fmt.Errorf("failed to fetch provider metadata from %s: %w", wellKnownURL, err)
	}

	md := res.Data
	if err := md.validate(); err != nil {
		return nil, err
	}
	return &md, nil
}
