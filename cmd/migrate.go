package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bennet0/bennet/db"
	"github.com/bennet0/bennet/internal/config"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations and provision tenant schemas",
	Long: `Applies pending migrations to the shared public schema, then
provisions the per-tenant schemas for every active tenant in the
registry. With --seed, also registers two demo tenants with sample
employees.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "seed demo tenants and employees")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if migrateSeed {
		if err := db.SeedDemo(ctx, pool); err != nil {
			return fmt.Errorf("seeding demo data: %w", err)
		}
		fmt.Println("Demo tenants seeded: company-a.local, company-b.local")
	}

	if err := db.BootstrapTenants(ctx, pool); err != nil {
		return fmt.Errorf("provisioning tenant schemas: %w", err)
	}

	fmt.Println("Migrations applied")
	return nil
}
