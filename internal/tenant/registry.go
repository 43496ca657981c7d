package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRegistry is the PostgreSQL-backed tenant registry.
// Tenants live in the shared public.tenants table; each row maps a
// normalized domain to the schema holding that company's data.
type PgRegistry struct {
	pool *pgxpool.Pool
}

// NewPgRegistry creates a registry backed by the given pool.
func NewPgRegistry(pool *pgxpool.Pool) *PgRegistry {
	return &PgRegistry{pool: pool}
}

// ActiveSchemas returns the schema names of every active tenant.
// Used by maintenance jobs that must visit each tenant's tables.
func (r *PgRegistry) ActiveSchemas(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT schema_name FROM public.tenants WHERE is_active`)
	if err != nil {
		return nil, fmt.Errorf("listing tenant schemas: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("scanning tenant schema: %w", err)
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading tenant schema rows: %w", err)
	}
	return schemas, nil
}

// Lookup fetches the tenant row for a normalized domain.
// Inactive tenants are treated the same as missing ones.
func (r *PgRegistry) Lookup(ctx context.Context, domain string) (*Tenant, error) {
	const q = `
		SELECT schema_name, display_name
		FROM public.tenants
		WHERE domain = $1 AND is_active`

	var t Tenant
	err := r.pool.QueryRow(ctx, q, domain).Scan(&t.Schema, &t.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, domain)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up tenant %q: %w", domain, err)
	}
	t.Domain = domain
	return &t, nil
}
