package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults rooted under
// ~/.clawd.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".clawd")

	return &Config{
		Runtime: RuntimeConfig{
			MaxConcurrentSessions: 100,
			MaxIterations:         10,
			ToolTimeoutMs:         30_000,
			LockTimeoutMs:         30_000,
			CompactionThreshold:   10_000,
		},
		Paths: PathsConfig{
			SessionsDir:    filepath.Join(base, "sessions"),
			AuditLog:       filepath.Join(base, "audit.log"),
			CredentialsDir: filepath.Join(base, "credentials"),
			AgentsDir:      filepath.Join(base, "agents"),
			MemoryDB:       filepath.Join(base, "memory.db"),
			Workspace:      filepath.Join(base, "workspace"),
		},
		Provider: ProviderConfig{
			Model:             "gpt-4o-mini",
			MaxRetries:        2,
			RetryDelayMs:      100,
			BreakerThreshold:  5,
			BreakerCooldownMs: 30_000,
		},
		RateLimit: RateLimitConfig{
			Global:  BucketConfig{MaxRequests: 1000, WindowSeconds: 60},
			Session: BucketConfig{MaxRequests: 100, WindowSeconds: 60},
			Tool:    BucketConfig{MaxRequests: 100, WindowSeconds: 60},
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "clawd",
		},
		Cron: CronConfig{
			JobsFile: filepath.Join(base, "cron.json"),
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A
// missing file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays CLAWD_* environment variables. Secrets
// only live here.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CLAWD_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
	if v := os.Getenv("CLAWD_API_BASE"); v != "" {
		c.Provider.APIBase = v
	}
	if v := os.Getenv("CLAWD_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("CLAWD_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Runtime.MaxIterations = n
		}
	}
	if v := os.Getenv("CLAWD_TELEMETRY_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = v
	}
}

// MasterKey reads the 32-byte credential master key from the
// CLAWD_MASTER_KEY environment variable (64 hex characters). The key
// is never persisted anywhere.
func MasterKey() ([]byte, error) {
	v := os.Getenv("CLAWD_MASTER_KEY")
	if v == "" {
		return nil, fmt.Errorf("CLAWD_MASTER_KEY is not set")
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("CLAWD_MASTER_KEY must be hex: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CLAWD_MASTER_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
