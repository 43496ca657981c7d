package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// RetryConfig configures retry behavior for completion calls.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

// retryablePatterns groups error substrings by category, matched
// case-insensitively against err.Error().
//
// NOTE: String matching because provider SDKs do not expose typed errors
// for transient failures. Re-evaluate if Genkit adds structured error types.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, sub := range group {
			if strings.Contains(errStr, sub) {
				return true
			}
		}
	}
	return false
}

// completeWithRetry calls the completer with exponential backoff on
// transient errors. Each attempt is rate limited.
func (o *Orchestrator) completeWithRetry(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	delay := o.retryConfig.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= o.retryConfig.MaxRetries; attempt++ {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return "", fmt.Errorf("rate limit wait: %w", err)
			}
		}

		text, err := o.completer.Complete(ctx, prompt)
		if err == nil {
			o.logger.Debug("completion succeeded",
				"attempts", attempt+1,
				"elapsed", time.Since(start))
			return text, nil
		}
		lastErr = err

		if !retryableError(err) {
			return "", fmt.Errorf("completion: %w", err)
		}
		if attempt == o.retryConfig.MaxRetries {
			break
		}

		o.logger.Debug("retrying completion",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, o.retryConfig.MaxInterval)
		}
	}

	return "", fmt.Errorf("completion after %d retries (elapsed: %v): %w",
		o.retryConfig.MaxRetries, time.Since(start), lastErr)
}
