package providers

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBreakerOpen is returned while the circuit breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker open: LLM service unavailable")

// circuitBreaker counts consecutive failed calls. Once the threshold
// is crossed it short-circuits requests for a cooldown; after the
// cooldown one trial call is let through, and its outcome closes or
// re-opens the breaker.
type circuitBreaker struct {
	consecutiveFailures atomic.Int64
	open                atomic.Bool

	mu       sync.Mutex
	openedAt time.Time

	threshold int
	cooldown  time.Duration
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &circuitBreaker{threshold: threshold, cooldown: cooldown}
}

func (b *circuitBreaker) recordSuccess() {
	b.consecutiveFailures.Store(0)
	b.open.Store(false)
	b.mu.Lock()
	b.openedAt = time.Time{}
	b.mu.Unlock()
}

func (b *circuitBreaker) recordFailure() {
	failures := b.consecutiveFailures.Add(1)
	if failures >= int64(b.threshold) {
		b.open.Store(true)
		b.mu.Lock()
		b.openedAt = time.Now()
		b.mu.Unlock()
	}
}

// allow returns nil when a request may proceed: breaker closed, or open
// but past the cooldown (the trial call).
func (b *circuitBreaker) allow() error {
	if !b.open.Load() {
		return nil
	}
	b.mu.Lock()
	openedAt := b.openedAt
	b.mu.Unlock()
	if !openedAt.IsZero() && time.Since(openedAt) >= b.cooldown {
		return nil
	}
	return ErrBreakerOpen
}
