package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// Embedder generates vector embeddings for text. ai.Embedder satisfies it.
type Embedder interface {
	Embed(ctx context.Context, req *ai.EmbedRequest) (*ai.EmbedResponse, error)
}

// Querier defines the database operations Store needs. Interfaces are
// defined by the consumer, so tests can substitute a mock.
type Querier interface {
	// SearchEntries performs a vector similarity search in the tenant schema,
	// returning hits with similarity >= threshold ordered descending.
	SearchEntries(ctx context.Context, schema string, query pgvector.Vector, threshold float32, limit int) ([]Result, error)

	// InsertEntry stores a new knowledge entry with its embedding.
	InsertEntry(ctx context.Context, schema string, e Entry, embedding pgvector.Vector) error

	// TouchEntries increments usage counters for the given entry IDs.
	TouchEntries(ctx context.Context, schema string, ids []uuid.UUID) error
}

// Store retrieves and writes knowledge entries with vector search.
// Safe for concurrent use.
type Store struct {
	queries  Querier
	embedder Embedder
	logger   *slog.Logger

	// bgCtx outlives request contexts so fire-and-forget usage-counter
	// updates can finish after the caller disconnects.
	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a knowledge store. nil logger uses slog.Default().
func New(querier Querier, embedder Embedder, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		queries:  querier,
		embedder: embedder,
		logger:   logger,
		bgCtx:    ctx,
		cancel:   cancel,
	}
}

// Search embeds the query and returns the most similar entries in the
// tenant schema. Embedding failures are retried once, then surfaced as
// ErrRetrievalFailed. When a policy filter is set the search over-fetches
// to compensate for post-filtering loss.
//
// Usage counters for returned entries are incremented asynchronously;
// failures there never fail the search.
func (s *Store) Search(ctx context.Context, schema, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	vec, err := s.embedQuery(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding query: %v", ErrRetrievalFailed, err)
	}

	fetchLimit := cfg.topK
	if cfg.policyType != "" {
		// Over-fetch so the post-filter can discard other tiers' entries
		// without starving the result set.
		fetchLimit = cfg.topK * 3
	}

	results, err := s.queries.SearchEntries(queryCtx, schema, vec, cfg.threshold, fetchLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrRetrievalFailed, err)
	}

	if cfg.policyType != "" {
		results = filterByPolicy(results, cfg.policyType)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > cfg.topK {
		results = results[:cfg.topK]
	}

	if len(results) > 0 {
		ids := make([]uuid.UUID, len(results))
		for i, r := range results {
			ids[i] = r.Entry.ID
		}
		s.touchAsync(schema, ids)
	}

	s.logger.Debug("knowledge search",
		"schema", schema,
		"hits", len(results),
		"top_k", cfg.topK)
	return results, nil
}

// Add embeds and stores a new entry in the tenant schema. Used by manual
// curation and by escalation feedback writing resolved answers back.
func (s *Store) Add(ctx context.Context, schema string, e Entry) (Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	vec, err := s.embedQuery(ctx, e.Title+"\n"+e.Content)
	if err != nil {
		return Entry{}, fmt.Errorf("embedding entry %q: %w", e.Title, err)
	}
	if err := s.queries.InsertEntry(ctx, schema, e, vec); err != nil {
		return Entry{}, fmt.Errorf("inserting entry %q: %w", e.Title, err)
	}

	s.logger.Info("added knowledge entry",
		"schema", schema,
		"id", e.ID,
		"category", e.Category,
		"subcategory", e.Subcategory)
	return e, nil
}

// Close stops background usage-counter updates and waits for in-flight
// ones to finish.
func (s *Store) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

// embedQuery generates an embedding, retrying once on failure.
func (s *Store) embedQuery(ctx context.Context, text string) (pgvector.Vector, error) {
	var lastErr error
	for attempt := range 2 {
		if attempt > 0 {
			select {
			case <-time.After(200 * time.Millisecond):
			case <-ctx.Done():
				return pgvector.Vector{}, ctx.Err()
			}
		}

		resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
			Input: []*ai.Document{
				{Content: []*ai.Part{ai.NewTextPart(text)}},
			},
		})
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
			lastErr = fmt.Errorf("empty embedding returned")
			continue
		}
		return pgvector.NewVector(resp.Embeddings[0].Embedding), nil
	}
	return pgvector.Vector{}, lastErr
}

// touchAsync bumps usage counters off the request path. The update uses
// the store's background context so a client disconnect does not abandon it.
func (s *Store) touchAsync(schema string, ids []uuid.UUID) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx, cancel := context.WithTimeout(s.bgCtx, 5*time.Second)
		defer cancel()

		if err := s.queries.TouchEntries(ctx, schema, ids); err != nil {
			s.logger.Warn("usage counter update failed",
				"schema", schema,
				"entries", len(ids),
				"error", err)
		}
	}()
}
