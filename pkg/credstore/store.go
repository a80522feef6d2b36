// Package credstore persists per-origin token triples in a file-backed,
// section-oriented key-value store. The file is shared between concurrent
// CLI invocations, so every read takes a shared advisory lock and every
// read-modify-write takes the exclusive lock.
package credstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
	"gopkg.in/yaml.v3"

	"github.com/nextstrain/cli/pkg/authn/token"
	"github.com/nextstrain/cli/pkg/origin"
)

// lockTimeout is the maximum time to wait for the file lock.
const lockTimeout = 1 * time.Second

// lockRetryDelay is the polling interval while waiting for the lock.
const lockRetryDelay = 100 * time.Millisecond

// legacySection is the bare section name older CLI versions used for the
// legacy origin's tokens; we keep reading and writing it there so that
// upgrades and downgrades share credentials.
const legacySection = "authn"

// record is the on-disk shape of one origin's tokens.
type record struct {
	IDToken      string `yaml:"id_token,omitempty"`
	AccessToken  string `yaml:"access_token,omitempty"`
	RefreshToken string `yaml:"refresh_token,omitempty"`
}

// Store is a file-backed credential store.
type Store struct {
	path string
}

// New returns a Store at the default XDG config location.
func New() (*Store, error) {
	p, err := xdg.ConfigFile("nextstrain/secrets.yaml")
	if err != nil {
		return nil, fmt.Errorf("unable to determine credential store path: %w", err)
	}
	return NewAtPath(p), nil
}

// NewAtPath returns a Store backed by the given file, which need not
// exist yet.
func NewAtPath(p string) *Store {
	return &Store{path: path.Clean(p)}
}

// Load returns the token triple persisted for an origin, or nil if none
// is stored. Reads take the shared lock.
func (s *Store) Load(ctx context.Context, o origin.Origin) (*token.Set, error) {
	var tokens *token.Set
	err := s.withLock(ctx, false, func() error {
		sections, err := s.read()
		if err != nil {
			return err
		}
		rec, ok := sections[sectionFor(o)]
		if !ok {
			return nil
		}
		tokens = &token.Set{
			ID:      rec.IDToken,
			Access:  rec.AccessToken,
			Refresh: rec.RefreshToken,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

// Save persists the token triple for an origin, replacing any previous
// entry, under the exclusive lock.
func (s *Store) Save(ctx context.Context, o origin.Origin, tokens *token.Set) error {
	return s.withLock(ctx, true, func() error {
		sections, err := s.read()
		if err != nil {
			return err
		}
		sections[sectionFor(o)] = record{
			IDToken:      tokens.ID,
			AccessToken:  tokens.Access,
			RefreshToken: tokens.Refresh,
		}
		return s.write(sections)
	})
}

// Remove deletes the stored tokens for an origin and reports whether
// anything was removed.
func (s *Store) Remove(ctx context.Context, o origin.Origin) (bool, error) {
	removed := false
	err := s.withLock(ctx, true, func() error {
		sections, err := s.read()
		if err != nil {
			return err
		}
		section := sectionFor(o)
		if _, ok := sections[section]; !ok {
			return nil
		}
		delete(sections, section)
		removed = true
		return s.write(sections)
	})
	return removed, err
}

// withLock runs fn under the advisory file lock: shared for readers,
// exclusive for writers. A separate sibling .lock file is used for
// cross-platform compatibility.
func (s *Store) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	fileLock := flock.New(s.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	var locked bool
	var err error
	if exclusive {
		locked, err = fileLock.TryLockContext(lockCtx, lockRetryDelay)
	} else {
		locked, err = fileLock.TryRLockContext(lockCtx, lockRetryDelay)
	}
	if err != nil {
		return fmt.Errorf("failed to acquire credential store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire credential store lock: timeout after %v", lockTimeout)
	}
	defer func() { _ = fileLock.Unlock() }()

	return fn()
}

func (s *Store) read() (map[string]record, error) {
	sections := make(map[string]record)

	// #nosec G304: the path is fixed at construction time.
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sections, nil
		}
		return nil, fmt.Errorf("unable to read credential store %s: %w", s.path, err)
	}

	if err := yaml.Unmarshal(contents, &sections); err != nil {
		return nil, fmt.Errorf("failed to parse credential store %s: %w", s.path, err)
	}
	return sections, nil
}

func (s *Store) write(sections map[string]record) error {
	contents, err := yaml.Marshal(sections)
	if err != nil {
		return fmt.Errorf("error serializing credential store: %w", err)
	}
	if err := os.WriteFile(s.path, contents, 0600); err != nil {
		return fmt.Errorf("error writing credential store %s: %w", s.path, err)
	}
	return nil
}

func sectionFor(o origin.Origin) string {
	if o == origin.Legacy {
		return legacySection
	}
	return o.String()
}
