// Package authn implements the pluggable authenticator and
// per-(user,tty) credential cache described in spec.md §4.3.
// Grounded on cmd/pulse-sensor-proxy/auth.go's allow-list-building
// style for the module chain, and cleanup.go's atomic-file handling
// for the cache file's TOCTOU-safe read/write.
package authn

import (
	"context"
	"fmt"
)

// Module is one pluggable authentication challenge. The default chain
// has a single local Unix password module; additional modules (e.g. an
// external MFA prompt) can be appended without touching Authenticator.
type Module interface {
	Name() string
	Authenticate(ctx context.Context, user string) (bool, error)
}

// Authenticator challenges the caller through its Module chain and
// maintains the auth cache, per spec.md §4.3.
type Authenticator struct {
	modules  []Module
	cache    *Cache
	timeout  int
	testMode bool
}

// New builds an Authenticator over modules, backed by a Cache with
// the given TTL (seconds). testMode bypasses all challenges and cache
// writes, per spec.md §4.3's "documented test_mode" clause.
func New(modules []Module, cache *Cache, cacheTimeoutSeconds int, testMode bool) *Authenticator {
	return &Authenticator{modules: modules, cache: cache, timeout: cacheTimeoutSeconds, testMode: testMode}
}

// Authenticate returns nil if the caller is authenticated, either by a
// fresh cache entry, a NOPASSWD rule, test_mode, or a successful
// challenge through the module chain (which then creates a cache
// entry). It returns an error otherwise.
func (a *Authenticator) Authenticate(ctx context.Context, user, tty string, nopasswd bool) error {
	if a.testMode {
		return nil
	}
	if nopasswd {
		return nil
	}

	fresh, err := a.cache.IsFresh(user, tty)
	if err == nil && fresh {
		return nil
	}

	if len(a.modules) == 0 {
		return fmt.Errorf("authn: no authentication modules configured")
	}

	var lastErr error
	for _, mod := range a.modules {
		ok, err := mod.Authenticate(ctx, user)
		if err != nil {
			lastErr = err
			continue
		}
		if ok {
			if werr := a.cache.Write(user, tty, a.timeout); werr != nil {
				return fmt.Errorf("authn: cache write: %w", werr)
			}
			return nil
		}
	}
	if lastErr != nil {
		return fmt.Errorf("authn: authentication failed: %w", lastErr)
	}
	return fmt.Errorf("authn: authentication failed for %q", user)
}
