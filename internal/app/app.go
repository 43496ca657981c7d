// Package app provides application initialization and dependency wiring.
//
// App is the container that assembles the tenant resolver, the session and
// knowledge stores, the escalation feedback loop, and the conversation
// orchestrator, and owns their shutdown order.
package app

import (
	"log/slog"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bennet0/bennet/internal/config"
	"github.com/bennet0/bennet/internal/conversation"
	"github.com/bennet0/bennet/internal/employee"
	"github.com/bennet0/bennet/internal/escalation"
	"github.com/bennet0/bennet/internal/knowledge"
	"github.com/bennet0/bennet/internal/notify"
	"github.com/bennet0/bennet/internal/session"
	"github.com/bennet0/bennet/internal/tenant"
)

// App is the core application container.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	// Core services
	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Redis    *redis.Client

	// Domain components
	Resolver     *tenant.Resolver
	Employees    *employee.Store
	Sessions     *session.Store
	Knowledge    *knowledge.Store
	Escalations  *escalation.Feedback
	Sweeper      *escalation.Sweeper
	Messages     *conversation.PgHistory
	Orchestrator *conversation.Orchestrator

	// Notifier is nil when AMQP is not configured.
	Notifier *notify.Publisher

	otelCleanup func()
}

// Close gracefully shuts down all resources. Background work (usage
// counters, notifications) is drained before the stores close.
func (a *App) Close() error {
	a.Logger.Info("shutting down application")

	if a.Sweeper != nil {
		if err := a.Sweeper.Close(); err != nil {
			a.Logger.Warn("closing escalation sweeper", "error", err)
		}
	}
	if a.Escalations != nil {
		if err := a.Escalations.Close(); err != nil {
			a.Logger.Warn("closing escalation feedback", "error", err)
		}
	}
	if a.Knowledge != nil {
		if err := a.Knowledge.Close(); err != nil {
			a.Logger.Warn("closing knowledge store", "error", err)
		}
	}
	if a.Notifier != nil {
		if err := a.Notifier.Close(); err != nil {
			a.Logger.Warn("closing notification publisher", "error", err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Logger.Warn("closing redis client", "error", err)
		}
	}
	if a.DBPool != nil {
		a.DBPool.Close()
	}
	if a.otelCleanup != nil {
		a.otelCleanup()
	}
	return nil
}
