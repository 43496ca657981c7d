// Package cmd provides the CLI commands for bennet.
//
// Commands:
//   - serve: HTTP API server (sessions, chat, escalation review)
//   - migrate: run database migrations and provision tenant schemas
//   - resolve: look up a tenant by domain (debugging)
//   - version: show build information
//
// All long-running commands handle SIGINT/SIGTERM via context
// cancellation and shut down gracefully.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bennet",
	Short: "bennet - multi-tenant employee benefits assistant",
	Long: `bennet is a retrieval-augmented chat backend for employee benefits.

Each company tenant gets an isolated PostgreSQL schema holding its
employees, knowledge base, conversation history and escalations.
Questions the knowledge base cannot ground are escalated to HR, and
resolved escalations feed back into the knowledge base.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
