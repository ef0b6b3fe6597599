package providers

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := newCircuitBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.recordFailure()
		if err := b.allow(); err != nil {
			t.Fatalf("breaker open after %d failures, threshold 3", i+1)
		}
	}
	b.recordFailure()
	if err := b.allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("allow after threshold = %v, want ErrBreakerOpen", err)
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := newCircuitBreaker(3, time.Minute)

	b.recordFailure()
	b.recordFailure()
	b.recordSuccess()
	b.recordFailure()
	b.recordFailure()
	if err := b.allow(); err != nil {
		t.Errorf("breaker open after reset + 2 failures: %v", err)
	}
}

func TestBreaker_TrialAfterCooldown(t *testing.T) {
	b := newCircuitBreaker(1, 30*time.Millisecond)

	b.recordFailure()
	if err := b.allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Fatal("breaker not open")
	}

	time.Sleep(50 * time.Millisecond)

	// Trial call allowed after cooldown.
	if err := b.allow(); err != nil {
		t.Errorf("trial call blocked after cooldown: %v", err)
	}

	// A failed trial re-opens the breaker.
	b.recordFailure()
	if err := b.allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Error("breaker closed after failed trial")
	}

	// A successful trial closes it.
	time.Sleep(50 * time.Millisecond)
	b.recordSuccess()
	if err := b.allow(); err != nil {
		t.Errorf("breaker open after successful trial: %v", err)
	}
}
