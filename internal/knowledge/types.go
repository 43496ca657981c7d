package knowledge

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRetrievalFailed indicates embedding or vector search failed after the
// built-in retry. Callers degrade to an empty context set rather than
// surfacing this to the end user.
var ErrRetrievalFailed = errors.New("knowledge retrieval failed")

// Category constants for knowledge entries.
const (
	// CategoryHITL marks entries written back from resolved escalations.
	CategoryHITL = "hitl_learning"
)

// Entry is one knowledge-base row in a tenant schema.
// Immutable except for UsageCount/LastUsedAt, which are bumped on
// retrieval hits.
type Entry struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Category    string    `json:"category"`
	Subcategory string    `json:"subcategory,omitempty"`
	UsageCount  int64     `json:"usage_count"`
	LastUsedAt  time.Time `json:"last_used_at,omitzero"`
}

// Result is one search hit with its cosine similarity score (0-1).
type Result struct {
	Entry      Entry   `json:"entry"`
	Similarity float32 `json:"similarity"`
}

// SearchOption configures search behavior using functional options.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK       int
	threshold  float32
	policyType string
	timeout    time.Duration
}

// WithTopK sets the maximum number of results to return. Default 5.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithThreshold sets the minimum similarity for a match. Default 0.7.
func WithThreshold(t float32) SearchOption {
	return func(c *searchConfig) {
		c.threshold = t
	}
}

// WithPolicyType enables the plan-tier post-filter: entries tagged with a
// concrete policy type other than this one are discarded.
func WithPolicyType(policyType string) SearchOption {
	return func(c *searchConfig) {
		c.policyType = policyType
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:      5,
		threshold: 0.7,
		timeout:   10 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
