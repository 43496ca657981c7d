package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/bennet0/bennet/internal/config"
	"github.com/bennet0/bennet/internal/tenant"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <domain>",
	Short: "Look up a tenant by domain",
	Long: `Resolves a domain against the tenant registry and prints the
mapped schema. Useful for checking what a given X-Tenant-Domain header
would resolve to.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResolve(args[0])
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(domain string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	t, err := tenant.NewPgRegistry(pool).Lookup(ctx, tenant.NormalizeDomain(domain))
	if errors.Is(err, tenant.ErrNotFound) {
		return fmt.Errorf("no active tenant for domain %q", domain)
	}
	if err != nil {
		return fmt.Errorf("resolving tenant: %w", err)
	}

	fmt.Printf("Domain:  %s\n", t.Domain)
	fmt.Printf("Schema:  %s\n", t.Schema)
	fmt.Printf("Name:    %s\n", t.Name)
	return nil
}
