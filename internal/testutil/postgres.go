// Package testutil provides shared test infrastructure: disposable
// PostgreSQL (with pgvector) and Redis containers, and deterministic
// Genkit model and embedder mocks.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/bennet0/bennet/db"
)

// TestDB wraps a disposable PostgreSQL instance with pgvector installed,
// migrated to the current schema version.
type TestDB struct {
	Container *postgres.PostgresContainer
	Pool      *pgxpool.Pool
	ConnStr   string
}

// SetupTestDB starts a pgvector-enabled PostgreSQL container, runs the
// migrations and returns a pool with vector types registered. The
// container is terminated via t.Cleanup.
//
// Skipped in -short mode: starting a container takes several seconds and
// requires a Docker daemon.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"pgvector/pgvector:pg16",
		postgres.WithDatabase("bennet_test"),
		postgres.WithUsername("bennet_test"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("starting PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		_ = pgContainer.Terminate(context.Background())
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	if err := db.Migrate(connStr); err != nil {
		t.Fatalf("running migrations: %v", err)
	}

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		t.Fatalf("parsing connection config: %v", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		t.Fatalf("creating connection pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("pinging database: %v", err)
	}

	return &TestDB{Container: pgContainer, Pool: pool, ConnStr: connStr}
}

// ProvisionTenant creates an isolated tenant schema in the test database
// and registers it in the tenant registry.
func (d *TestDB) ProvisionTenant(t *testing.T, domain, schema string) {
	t.Helper()

	ctx := context.Background()
	if _, err := d.Pool.Exec(ctx, `
		INSERT INTO public.tenants (domain, schema_name, display_name)
		VALUES ($1, $2, $2)
		ON CONFLICT (domain) DO NOTHING`, domain, schema); err != nil {
		t.Fatalf("registering tenant %s: %v", domain, err)
	}
	if err := db.CreateTenantSchema(ctx, d.Pool, schema); err != nil {
		t.Fatalf("provisioning schema %s: %v", schema, err)
	}
}
