package db

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// embeddingDims must match the embedding model's output width.
// nomic-embed-text and text-embedding-004 both emit 768 dimensions.
const embeddingDims = 768

// tenantTables is the per-schema DDL template. %[1]s is the sanitized
// schema identifier. Everything a tenant owns lives here, isolated from
// every other tenant.
const tenantTables = `
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[1]s.employees (
    id          BIGSERIAL PRIMARY KEY,
    employee_id TEXT NOT NULL UNIQUE,
    name        TEXT NOT NULL,
    email       TEXT,
    department  TEXT,
    policy_type TEXT NOT NULL,
    is_active   BOOLEAN NOT NULL DEFAULT TRUE,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[1]s.knowledge_entries (
    id          UUID PRIMARY KEY,
    title       TEXT NOT NULL,
    content     TEXT NOT NULL,
    category    TEXT NOT NULL,
    subcategory TEXT,
    embedding   vector(%[2]d) NOT NULL,
    usage_count BIGINT NOT NULL DEFAULT 0,
    last_used_at TIMESTAMPTZ,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_embedding
    ON %[1]s.knowledge_entries
    USING hnsw (embedding vector_cosine_ops);

CREATE TABLE IF NOT EXISTS %[1]s.messages (
    id              UUID PRIMARY KEY,
    conversation_id UUID NOT NULL,
    role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content         TEXT NOT NULL,
    confidence      REAL NOT NULL DEFAULT 0,
    escalated       BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation
    ON %[1]s.messages (conversation_id, created_at);

CREATE TABLE IF NOT EXISTS %[1]s.escalations (
    id              UUID PRIMARY KEY,
    conversation_id UUID NOT NULL,
    employee_id     TEXT NOT NULL,
    question        TEXT NOT NULL,
    reason          TEXT NOT NULL,
    status          TEXT NOT NULL CHECK (status IN ('open', 'resolved', 'abandoned')),
    contact_info    TEXT,
    resolved_answer TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

-- At most one open escalation per conversation; the ON CONFLICT target in
-- the escalation store depends on this exact index.
CREATE UNIQUE INDEX IF NOT EXISTS idx_escalations_one_open
    ON %[1]s.escalations (conversation_id) WHERE status = 'open';
`

var schemaNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// CreateTenantSchema provisions (or completes) a tenant's schema and tables.
// Idempotent; safe to run on every deploy.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, schema string) error {
	if !schemaNamePattern.MatchString(schema) {
		return fmt.Errorf("invalid schema name %q", schema)
	}
	ddl := fmt.Sprintf(tenantTables, pgx.Identifier{schema}.Sanitize(), embeddingDims)
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("provisioning schema %s: %w", schema, err)
	}
	return nil
}

// BootstrapTenants provisions schemas for every active tenant in the
// registry. Run after Migrate.
func BootstrapTenants(ctx context.Context, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `SELECT schema_name FROM public.tenants WHERE is_active`)
	if err != nil {
		return fmt.Errorf("listing tenants: %w", err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return fmt.Errorf("scanning tenant schema: %w", err)
		}
		schemas = append(schemas, s)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading tenant rows: %w", err)
	}

	for _, s := range schemas {
		if err := CreateTenantSchema(ctx, pool, s); err != nil {
			return err
		}
	}
	return nil
}

// SeedDemo registers two demo tenants with a handful of employees so a
// fresh install has something to talk to. Idempotent.
func SeedDemo(ctx context.Context, pool *pgxpool.Pool) error {
	tenants := []struct {
		domain, schema, name string
	}{
		{"company-a.local", "company_a", "Company A"},
		{"company-b.local", "company_b", "Company B"},
	}

	for _, t := range tenants {
		if _, err := pool.Exec(ctx, `
			INSERT INTO public.tenants (domain, schema_name, display_name)
			VALUES ($1, $2, $3)
			ON CONFLICT (domain) DO NOTHING`, t.domain, t.schema, t.name); err != nil {
			return fmt.Errorf("seeding tenant %s: %w", t.domain, err)
		}
		if err := CreateTenantSchema(ctx, pool, t.schema); err != nil {
			return err
		}

		employees := fmt.Sprintf(`
			INSERT INTO %s.employees (employee_id, name, email, department, policy_type)
			VALUES
				('EMP001', 'Alice Chen', 'alice@'||$1::text, 'Engineering', 'Premium'),
				('EMP002', 'Bob Lin', 'bob@'||$1::text, 'Sales', 'Standard')
			ON CONFLICT (employee_id) DO NOTHING`,
			pgx.Identifier{t.schema}.Sanitize())
		if _, err := pool.Exec(ctx, employees, t.domain); err != nil {
			return fmt.Errorf("seeding employees for %s: %w", t.schema, err)
		}
	}
	return nil
}
