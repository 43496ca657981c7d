// Package tenant resolves inbound domain identifiers to schema-scoped
// tenant handles.
//
// Each company is isolated in its own PostgreSQL schema. The resolver keeps
// a TTL cache keyed by normalized domain and single-flights registry lookups
// so a cache miss issues exactly one query per domain regardless of
// concurrent callers.
package tenant

import (
	"errors"
	"strings"
	"time"
)

// ErrNotFound indicates no registry row matches the requested domain.
// This is terminal for the request: there is no fallback schema.
var ErrNotFound = errors.New("tenant not found")

// Tenant is a schema-scoped handle for one company.
type Tenant struct {
	Domain     string    // normalized domain key, e.g. "company-a.local"
	Schema     string    // PostgreSQL schema name, e.g. "company_a"
	Name       string    // display name
	ResolvedAt time.Time // when this handle was fetched from the registry
}

// NormalizeDomain canonicalizes a raw domain identifier: lowercase, scheme
// and "www." prefix stripped, any path/port suffix removed.
func NormalizeDomain(raw string) string {
	d := strings.TrimSpace(strings.ToLower(raw))
	for _, scheme := range []string{"https://", "http://"} {
		d = strings.TrimPrefix(d, scheme)
	}
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/:?"); i >= 0 {
		d = d[:i]
	}
	return d
}
