// Package config is the runtime configuration layer: a JSON5 config
// file with defaults, overlaid by CLAWD_* environment variables.
// Secrets (provider API key, credential master key) are env-only and
// never read from or written to the config file.
package config

import (
	"time"
)

// Config is the root configuration for the clawd runtime.
type Config struct {
	Runtime   RuntimeConfig   `json:"runtime"`
	Paths     PathsConfig     `json:"paths"`
	Provider  ProviderConfig  `json:"provider"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Cron      CronConfig      `json:"cron,omitempty"`
}

// RuntimeConfig sizes the execution core.
type RuntimeConfig struct {
	MaxConcurrentSessions int `json:"max_concurrent_sessions"`
	MaxIterations         int `json:"max_iterations"`
	ToolTimeoutMs         int `json:"tool_timeout_ms"`
	LockTimeoutMs         int `json:"lock_timeout_ms"`
	CompactionThreshold   int `json:"compaction_threshold"` // tokens
}

// ToolTimeout returns the tool deadline as a duration.
func (r RuntimeConfig) ToolTimeout() time.Duration {
	return time.Duration(r.ToolTimeoutMs) * time.Millisecond
}

// LockTimeout returns the lock acquire deadline as a duration.
func (r RuntimeConfig) LockTimeout() time.Duration {
	return time.Duration(r.LockTimeoutMs) * time.Millisecond
}

// PathsConfig locates every piece of persisted state. All paths are
// configurable; nothing is hard-coded.
type PathsConfig struct {
	SessionsDir    string `json:"sessions_dir"`
	AuditLog       string `json:"audit_log"`
	CredentialsDir string `json:"credentials_dir"`
	AgentsDir      string `json:"agents_dir"`
	MemoryDB       string `json:"memory_db"`
	Workspace      string `json:"workspace"`
}

// ProviderConfig configures the LLM backend. APIKey comes from the
// CLAWD_API_KEY environment variable only.
type ProviderConfig struct {
	APIBase           string  `json:"api_base,omitempty"`
	Model             string  `json:"model"`
	MaxRetries        int     `json:"max_retries"`
	RetryDelayMs      int     `json:"retry_delay_ms"`
	BreakerThreshold  int     `json:"breaker_threshold"`
	BreakerCooldownMs int     `json:"breaker_cooldown_ms"`
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	APIKey            string  `json:"-"` // env CLAWD_API_KEY only
}

// BucketConfig sizes one rate-limit bucket class.
type BucketConfig struct {
	MaxRequests   int `json:"max_requests"`
	WindowSeconds int `json:"window_seconds"`
}

// Window returns the bucket window as a duration.
func (b BucketConfig) Window() time.Duration {
	return time.Duration(b.WindowSeconds) * time.Second
}

// RateLimitConfig holds the three bucket classes.
type RateLimitConfig struct {
	Global  BucketConfig `json:"global"`
	Session BucketConfig `json:"session"`
	Tool    BucketConfig `json:"tool"`
}

// TelemetryConfig configures OpenTelemetry export. When enabled, spans
// go to an OTLP-compatible backend (Jaeger, Tempo, Datadog, ...).
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"` // e.g. "localhost:4317"
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
}

// CronConfig locates the scheduled-jobs file.
type CronConfig struct {
	JobsFile string `json:"jobs_file,omitempty"`
}
