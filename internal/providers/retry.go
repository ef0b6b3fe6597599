package providers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig shapes the per-call retry policy: a fixed short delay
// between attempts, no exponential growth. The breaker handles
// persistent outages; retries only absorb transient blips.
type RetryConfig struct {
	MaxRetries uint64
	Delay      time.Duration
}

// DefaultRetryConfig matches the runtime defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, Delay: 100 * time.Millisecond}
}

// retryDo runs fn up to 1+MaxRetries times with a constant delay.
func retryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var attempt int
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.Delay), cfg.MaxRetries), ctx)

	return backoff.RetryWithData(func() (T, error) {
		attempt++
		result, err := fn()
		if err != nil {
			slog.Warn("LLM call failed", "attempt", attempt, "error", err)
			return result, err
		}
		return result, nil
	}, policy)
}

// wrapExhausted annotates an error after every retry was spent.
func wrapExhausted(attempts uint64, err error) error {
	return fmt.Errorf("LLM call failed after %d attempts: %w", attempts+1, err)
}
