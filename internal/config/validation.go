package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for invalid values.
// Returns a sentinel error (wrapped with detail) on the first failure.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (expected gemini, ollama or openai)", ErrInvalidProvider, c.Provider)
	}

	if strings.TrimSpace(c.ModelName) == "" {
		return fmt.Errorf("%w: model name must not be empty", ErrInvalidModelName)
	}
	if strings.TrimSpace(c.EmbedderModel) == "" {
		return fmt.Errorf("%w: embedder model must not be empty", ErrInvalidEmbedderModel)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d (expected 1-65535)", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}

	if strings.TrimSpace(c.RedisAddr) == "" {
		return fmt.Errorf("%w: address must not be empty", ErrInvalidRedisAddr)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: %v (must be positive)", ErrInvalidSessionTTL, c.SessionTTL)
	}
	if c.TenantCacheTTL <= 0 {
		return fmt.Errorf("%w: %v (must be positive)", ErrInvalidTenantCacheTTL, c.TenantCacheTTL)
	}

	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: %v (expected 0-1)", ErrInvalidSimilarityThreshold, c.SimilarityThreshold)
	}
	if c.TopK < 1 || c.TopK > 100 {
		return fmt.Errorf("%w: %d (expected 1-100)", ErrInvalidTopK, c.TopK)
	}

	return nil
}
