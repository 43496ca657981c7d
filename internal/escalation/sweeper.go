package escalation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SchemaLister enumerates the tenant schemas the sweeper visits.
// tenant.PgRegistry implements it.
type SchemaLister interface {
	ActiveSchemas(ctx context.Context) ([]string, error)
}

// StaleAbandoner closes open records past their cutoff. Store implements it.
type StaleAbandoner interface {
	AbandonStale(ctx context.Context, schema string, olderThan time.Time) (int64, error)
}

// Sweeper periodically abandons open escalations that have gone quiet for
// longer than the session TTL. A session that expires in Redis leaves no
// trace, so without the sweep an escalation whose employee never sent
// contact info would sit in the HR queue forever.
type Sweeper struct {
	tenants SchemaLister
	records StaleAbandoner
	maxAge  time.Duration
	every   time.Duration
	logger  *slog.Logger
	now     func() time.Time

	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a sweeper that abandons open records idle for longer
// than maxAge, checking every interval. Call Start to begin sweeping.
// Non-positive maxAge defaults to 30 minutes; non-positive interval
// defaults to maxAge.
func NewSweeper(tenants SchemaLister, records StaleAbandoner, maxAge, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = maxAge
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sweeper{
		tenants: tenants,
		records: records,
		maxAge:  maxAge,
		every:   interval,
		logger:  logger,
		now:     time.Now,
		bgCtx:   ctx,
		cancel:  cancel,
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.every)
		defer ticker.Stop()

		for {
			select {
			case <-s.bgCtx.Done():
				return
			case <-ticker.C:
				s.sweep(s.bgCtx)
			}
		}
	}()
}

// Close stops the sweep loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// sweep visits every active tenant once. A failure in one tenant is
// logged and does not stop the others.
func (s *Sweeper) sweep(ctx context.Context) {
	schemas, err := s.tenants.ActiveSchemas(ctx)
	if err != nil {
		s.logger.Warn("listing tenants for escalation sweep", "error", err)
		return
	}

	cutoff := s.now().Add(-s.maxAge)
	for _, schema := range schemas {
		n, err := s.records.AbandonStale(ctx, schema, cutoff)
		if err != nil {
			s.logger.Warn("abandoning stale escalations",
				"schema", schema,
				"error", err)
			continue
		}
		if n > 0 {
			s.logger.Info("abandoned stale escalations",
				"schema", schema,
				"count", n)
		}
	}
}
