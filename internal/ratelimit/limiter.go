// Package ratelimit is the dispatch safety net: coarse token buckets
// keyed globally, per session, and per tool. Buckets refill by full
// reset once their window has elapsed — a deliberate fairness versus
// simplicity tradeoff; this is not a billing meter.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Config sizes one bucket class.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	cfg        Config
}

func newBucket(cfg Config) *bucket {
	return &bucket{tokens: cfg.MaxRequests, lastRefill: time.Now(), cfg: cfg}
}

func (b *bucket) tryConsume() bool {
	now := time.Now()
	if now.Sub(b.lastRefill) >= b.cfg.Window {
		b.tokens = b.cfg.MaxRequests
		b.lastRefill = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Limiter holds the three bucket classes behind a single mutex; checks
// against different bucket classes do not run concurrently.
type Limiter struct {
	sessionCfg Config
	toolCfg    Config

	mu         sync.Mutex
	perSession map[string]*bucket
	perTool    map[string]*bucket
	global     *bucket
}

// New builds a limiter from per-class configs.
func New(sessionCfg, toolCfg, globalCfg Config) *Limiter {
	return &Limiter{
		sessionCfg: sessionCfg,
		toolCfg:    toolCfg,
		perSession: make(map[string]*bucket),
		perTool:    make(map[string]*bucket),
		global:     newBucket(globalCfg),
	}
}

// CheckSession consumes one token from the session's bucket.
func (l *Limiter) CheckSession(sessionKey string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.perSession[sessionKey]
	if !ok {
		b = newBucket(l.sessionCfg)
		l.perSession[sessionKey] = b
	}
	if !b.tryConsume() {
		return fmt.Errorf("rate limit exceeded for session:%s", sessionKey)
	}
	return nil
}

// CheckTool consumes one token from the tool's bucket.
func (l *Limiter) CheckTool(toolName string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.perTool[toolName]
	if !ok {
		b = newBucket(l.toolCfg)
		l.perTool[toolName] = b
	}
	if !b.tryConsume() {
		return fmt.Errorf("rate limit exceeded for tool:%s", toolName)
	}
	return nil
}

// CheckGlobal consumes one token from the process-wide bucket.
func (l *Limiter) CheckGlobal() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.global.tryConsume() {
		return fmt.Errorf("rate limit exceeded for global")
	}
	return nil
}

// CheckAll checks global, then session, then tool, short-circuiting on
// the first exhausted bucket.
func (l *Limiter) CheckAll(sessionKey, toolName string) error {
	if err := l.CheckGlobal(); err != nil {
		return err
	}
	if err := l.CheckSession(sessionKey); err != nil {
		return err
	}
	return l.CheckTool(toolName)
}
