package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/core/api"
	"github.com/firebase/genkit/go/core/tracing"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/firebase/genkit/go/plugins/ollama"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/time/rate"

	"github.com/bennet0/bennet/db"
	"github.com/bennet0/bennet/internal/config"
	"github.com/bennet0/bennet/internal/conversation"
	"github.com/bennet0/bennet/internal/employee"
	"github.com/bennet0/bennet/internal/escalation"
	"github.com/bennet0/bennet/internal/knowledge"
	"github.com/bennet0/bennet/internal/log"
	"github.com/bennet0/bennet/internal/notify"
	"github.com/bennet0/bennet/internal/session"
	"github.com/bennet0/bennet/internal/tenant"
)

// Setup creates and initializes the application.
// Returns an App with embedded cleanup — call Close() to release.
//
// Unreachable Postgres or Redis at boot is fatal: the service cannot do
// anything meaningful without its shared stores. An unreachable AMQP
// broker only disables notifications.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	logger := log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON})
	a := &App{Config: cfg, Logger: logger}

	// On error, clean up everything already initialized.
	defer func() {
		if retErr != nil {
			if err := a.Close(); err != nil {
				logger.Warn("cleanup during setup failure", "error", err)
			}
		}
	}()

	a.otelCleanup = provideOtelShutdown(ctx, cfg, logger)

	pool, err := provideDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBPool = pool

	rdb, err := provideRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Redis = rdb

	g, err := provideGenkit(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Genkit = g

	a.Embedder = provideEmbedder(g, cfg)
	if a.Embedder == nil {
		return nil, fmt.Errorf("embedder %q not found for provider %q", cfg.EmbedderModel, cfg.Provider)
	}

	a.Notifier = provideNotifier(cfg, logger)

	// Domain components, bottom-up.
	a.Resolver = tenant.NewResolver(tenant.NewPgRegistry(pool), cfg.TenantCacheTTL, logger)
	a.Employees = employee.NewStore(pool)
	a.Sessions = session.NewStore(rdb, a.Employees, cfg.SessionTTL, logger)
	a.Knowledge = knowledge.New(knowledge.NewPgQuerier(pool), a.Embedder, logger)
	a.Messages = conversation.NewPgHistory(pool)

	var notifier escalation.Notifier
	if a.Notifier != nil {
		notifier = a.Notifier
	}
	escalationStore := escalation.NewStore(pool)
	a.Escalations = escalation.NewFeedback(escalationStore, a.Knowledge, a.Employees, notifier, logger)

	// Abandon open escalations whose conversation went quiet past the
	// session TTL. Sessions expire silently in Redis, so this sweep is the
	// only thing that closes records the employee walked away from.
	a.Sweeper = escalation.NewSweeper(tenant.NewPgRegistry(pool), escalationStore, cfg.SessionTTL, cfg.SessionTTL/2, logger)
	a.Sweeper.Start()

	orch, err := conversation.New(conversation.Config{
		Sessions:      a.Sessions,
		Retriever:     a.Knowledge,
		Escalations:   a.Escalations,
		Employees:     a.Employees,
		History:       a.Messages,
		Completer:     conversation.NewGenkitCompleter(g, cfg.Provider+"/"+cfg.ModelName),
		Logger:        logger,
		TopK:          cfg.TopK,
		Threshold:     cfg.SimilarityThreshold,
		HistoryWindow: cfg.HistoryWindow,
		LLMTimeout:    cfg.LLMTimeout,
		RateLimiter:   rate.NewLimiter(rate.Limit(cfg.LLMRatePerSec), cfg.LLMRateBurst),
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}
	a.Orchestrator = orch

	return a, nil
}

// provideOtelShutdown sets up OTLP trace export before Genkit
// initialization so the TracerProvider is ready. Returns a no-op when no
// collector endpoint is configured.
func provideOtelShutdown(ctx context.Context, cfg *config.Config, logger *slog.Logger) func() {
	if cfg.OTLPEndpoint == "" {
		return func() {}
	}

	// SAFETY: os.Setenv runs exactly once during startup, before any
	// goroutines are spawned.
	if cfg.ServiceName != "" {
		_ = os.Setenv("OTEL_SERVICE_NAME", cfg.ServiceName)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("creating trace exporter, tracing disabled", "error", err)
		return func() {}
	}

	processor := sdktrace.NewBatchSpanProcessor(exporter)
	tracing.TracerProvider().RegisterSpanProcessor(processor)

	shutdown := tracing.TracerProvider().Shutdown
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			logger.Warn("shutting down tracer provider", "error", err)
		}
	}
}

// provideDBPool runs migrations and creates the PostgreSQL pool with
// pgvector types registered on every connection.
func provideDBPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if err := db.BootstrapTenants(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrapping tenant schemas: %w", err)
	}
	return pool, nil
}

// provideRedis creates the shared session store client. Unreachable Redis
// at boot is process-fatal.
func provideRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// provideGenkit initializes Genkit with the configured AI provider.
// Supports gemini (default), ollama, and openai providers.
func provideGenkit(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*genkit.Genkit, error) {
	var g *genkit.Genkit

	switch cfg.Provider {
	case "ollama":
		ollamaPlugin := &ollama.Ollama{ServerAddress: cfg.OllamaHost}
		g = genkit.Init(ctx, genkit.WithPlugins(ollamaPlugin))
		if g == nil {
			return nil, errors.New("initializing genkit with ollama provider")
		}
		// Ollama requires explicit model registration (no auto-discovery).
		ollamaPlugin.DefineModel(g, ollama.ModelDefinition{
			Name: cfg.ModelName,
			Type: "chat",
		}, nil)
		ollamaPlugin.DefineEmbedder(g, cfg.OllamaHost, cfg.EmbedderModel, nil)
		logger.Info("initialized Genkit with ollama provider",
			"model", cfg.ModelName, "host", cfg.OllamaHost)

	case "openai":
		g = genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with openai provider")
		}
		logger.Info("initialized Genkit with openai provider", "model", cfg.ModelName)

	default: // "gemini"
		g = genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
		if g == nil {
			return nil, errors.New("initializing genkit with gemini provider")
		}
		logger.Info("initialized Genkit with gemini provider", "model", cfg.ModelName)
	}

	return g, nil
}

// provideEmbedder looks up the embedder registered by the provider plugin.
func provideEmbedder(g *genkit.Genkit, cfg *config.Config) ai.Embedder {
	switch cfg.Provider {
	case "ollama":
		// Keyed by server address (registered in provideGenkit).
		return ollama.Embedder(g, cfg.OllamaHost)
	case "openai":
		return genkit.LookupEmbedder(g, api.NewName("openai", cfg.EmbedderModel))
	default: // "gemini"
		return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	}
}

// provideNotifier connects the AMQP publisher. An unreachable broker only
// disables notifications; the escalation records persist regardless.
func provideNotifier(cfg *config.Config, logger *slog.Logger) *notify.Publisher {
	if cfg.AMQPURL == "" {
		return nil
	}
	pub, err := notify.NewPublisher(cfg.AMQPURL, cfg.AMQPQueue)
	if err != nil {
		logger.Warn("connecting notification broker, notifications disabled", "error", err)
		return nil
	}
	return pub
}
