package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bennet0/bennet/internal/api"
	"github.com/bennet0/bennet/internal/app"
	"github.com/bennet0/bennet/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides listen_addr config)")
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes the application and serves until interrupted.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.ListenAddr
	if serveAddr != "" {
		addr = serveAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	srv, err := api.NewServer(api.ServerConfig{
		Logger:       a.Logger,
		Resolver:     a.Resolver,
		Sessions:     a.Sessions,
		Orchestrator: a.Orchestrator,
		Employees:    a.Employees,
		Escalations:  a.Escalations,
		Messages:     a.Messages,
		Pool:         a.DBPool,
		Redis:        a.Redis,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	a.Logger.Info("HTTP server ready",
		"addr", addr,
		"version", Version,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	return srv.Run(ctx, addr)
}
