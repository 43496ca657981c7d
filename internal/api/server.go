package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bennet0/bennet/internal/employee"
)

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger       *slog.Logger
	Resolver     TenantResolver     // Required
	Sessions     SessionService     // Required
	Orchestrator Responder          // Required
	Employees    employee.Directory // Required
	Escalations  EscalationQueue    // Required
	Messages     MessageLog         // Required

	// Probed by /ready; either may be nil.
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

func (cfg ServerConfig) validate() error {
	if cfg.Resolver == nil {
		return errors.New("tenant resolver is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session service is required")
	}
	if cfg.Orchestrator == nil {
		return errors.New("orchestrator is required")
	}
	if cfg.Employees == nil {
		return errors.New("employee directory is required")
	}
	if cfg.Escalations == nil {
		return errors.New("escalation queue is required")
	}
	if cfg.Messages == nil {
		return errors.New("message log is required")
	}
	return nil
}

// Server is the JSON API HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer creates an API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ch := &chatHandler{
		sessions:     cfg.Sessions,
		orchestrator: cfg.Orchestrator,
		employees:    cfg.Employees,
		escalations:  cfg.Escalations,
		logger:       logger,
	}
	eh := &escalationHandler{escalations: cfg.Escalations, logger: logger}
	hh := &historyHandler{messages: cfg.Messages, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/session", ch.createSession)
	mux.HandleFunc("DELETE /api/v1/session/{id}", ch.deleteSession)
	mux.HandleFunc("POST /api/v1/message", ch.sendMessage)
	mux.HandleFunc("GET /api/v1/escalations", eh.list)
	mux.HandleFunc("POST /api/v1/escalations/{id}/resolve", eh.resolve)
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", hh.list)

	// Middleware stack (outermost first):
	//   Recovery → RequestID → Logging → Tenant → Routes
	// RequestID sits before Logging so request_id is available in log attrs.
	var handler http.Handler = mux
	handler = tenantMiddleware(cfg.Resolver, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	// Health probes bypass the tenant middleware.
	topMux := http.NewServeMux()
	topMux.HandleFunc("GET /health", health)
	topMux.Handle("GET /ready", readiness(cfg.Pool, cfg.Redis))
	topMux.Handle("/", handler)

	return &Server{mux: topMux, logger: logger}, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute, // LLM calls are slow
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return <-errCh
}
