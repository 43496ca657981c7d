package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Registry looks up tenants in the shared registry table.
// Implementations return ErrNotFound when no row matches.
type Registry interface {
	Lookup(ctx context.Context, domain string) (*Tenant, error)
}

// DefaultCacheTTL is the cache lifetime for resolved tenant handles.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	tenant   *Tenant
	cachedAt time.Time
}

// Resolver maps inbound domain identifiers to cached tenant handles.
//
// Resolver is safe for concurrent use by multiple goroutines. Cache-miss
// refreshes are single-flighted per domain: concurrent misses for the same
// domain await one in-flight registry lookup.
type Resolver struct {
	registry Registry
	ttl      time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group

	now func() time.Time // injectable clock for tests
}

// NewResolver creates a Resolver backed by the given registry.
// ttl <= 0 falls back to DefaultCacheTTL; nil logger uses slog.Default().
func NewResolver(registry Registry, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		registry: registry,
		ttl:      ttl,
		logger:   logger,
		cache:    make(map[string]cacheEntry),
		now:      time.Now,
	}
}

// Resolve returns the tenant handle for the given domain identifier.
// The key is normalized before lookup. On cache hit within TTL the cached
// handle is returned immediately; on miss, exactly one registry lookup per
// domain runs and all concurrent callers share its result.
func (r *Resolver) Resolve(ctx context.Context, domainKey string) (*Tenant, error) {
	domain := NormalizeDomain(domainKey)
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrNotFound)
	}

	if t, ok := r.cached(domain); ok {
		return t, nil
	}

	// DoChan rather than Do so a canceled caller stops waiting without
	// aborting the shared lookup for everyone else.
	ch := r.group.DoChan(domain, func() (any, error) {
		return r.refresh(domain)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Tenant), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Invalidate drops the cache entry for a domain, forcing the next Resolve
// to hit the registry. Used when a tenant's schema mapping changes.
func (r *Resolver) Invalidate(domainKey string) {
	domain := NormalizeDomain(domainKey)
	r.mu.Lock()
	delete(r.cache, domain)
	r.mu.Unlock()
}

func (r *Resolver) cached(domain string) (*Tenant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.cache[domain]
	if !ok || r.now().Sub(entry.cachedAt) > r.ttl {
		return nil, false
	}
	return entry.tenant, true
}

// refresh performs the registry lookup and stores the result with a fresh TTL.
// Runs inside the single-flight group; uses a detached context so the lookup
// is not tied to whichever caller happened to trigger it.
func (r *Resolver) refresh(domain string) (*Tenant, error) {
	lookupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t, err := r.registry.Lookup(lookupCtx, domain)
	if err != nil {
		return nil, err
	}
	t.Domain = domain
	t.ResolvedAt = r.now()

	r.mu.Lock()
	r.cache[domain] = cacheEntry{tenant: t, cachedAt: t.ResolvedAt}
	r.mu.Unlock()

	r.logger.Debug("resolved tenant", "domain", domain, "schema", t.Schema)
	return t, nil
}
