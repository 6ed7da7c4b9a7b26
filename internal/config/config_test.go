package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// Health thresholds
	if cfg.Pool.DegradedAfterFailures != 3 {
		t.Errorf("Expected degraded_after_failures 3, got %d", cfg.Pool.DegradedAfterFailures)
	}
	if cfg.Pool.DeadAfterStreak != 20 {
		t.Errorf("Expected dead_after_streak 20, got %d", cfg.Pool.DeadAfterStreak)
	}
	if cfg.Pool.EMAAlpha != 0.2 {
		t.Errorf("Expected ema_alpha 0.2, got %v", cfg.Pool.EMAAlpha)
	}

	// Strategy defaults
	if cfg.Strategy.Name != "round_robin" {
		t.Errorf("Expected strategy 'round_robin', got %s", cfg.Strategy.Name)
	}
	if cfg.Strategy.Sticky.SessionTTL != time.Hour {
		t.Errorf("Expected sticky session TTL 1h, got %v", cfg.Strategy.Sticky.SessionTTL)
	}

	// Breaker defaults
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Expected breaker failure threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Breaker.Window != 60*time.Second {
		t.Errorf("Expected breaker window 60s, got %v", cfg.Breaker.Window)
	}
	if cfg.Breaker.OpenTimeout != 30*time.Second {
		t.Errorf("Expected breaker open timeout 30s, got %v", cfg.Breaker.OpenTimeout)
	}

	// Retry defaults
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Expected max attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BaseDelay != time.Second {
		t.Errorf("Expected base delay 1s, got %v", cfg.Retry.BaseDelay)
	}
	if len(cfg.Retry.RetryStatuses) != 5 {
		t.Errorf("Expected 5 retryable statuses, got %d", len(cfg.Retry.RetryStatuses))
	}

	// Cache defaults
	if cfg.Cache.Memory.Capacity != 1000 {
		t.Errorf("Expected memory tier capacity 1000, got %d", cfg.Cache.Memory.Capacity)
	}
	if cfg.Cache.File.Capacity != 5000 {
		t.Errorf("Expected file tier capacity 5000, got %d", cfg.Cache.File.Capacity)
	}
	if cfg.Cache.File.Shards != 4 {
		t.Errorf("Expected 4 file shards, got %d", cfg.Cache.File.Shards)
	}
	if cfg.Cache.SweepInterval != 60*time.Second {
		t.Errorf("Expected sweep interval 60s, got %v", cfg.Cache.SweepInterval)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected log level 'info', got %s", cfg.Logging.Level)
	}

	// Engineering defaults
	if cfg.Engineering.ShowNerdStats != false {
		t.Error("Expected ShowNerdStats to be false by default")
	}
}

func TestLoadConfig_WithoutFile(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Strategy.Name != "round_robin" {
		t.Errorf("Expected default strategy round_robin, got %s", cfg.Strategy.Name)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("Expected default breaker threshold 5, got %d", cfg.Breaker.FailureThreshold)
	}
}

func TestLoadConfig_WithEnvironmentVariables(t *testing.T) {
	testEnvVars := map[string]string{
		"PROXYWHIRL_STRATEGY_NAME":        "weighted",
		"PROXYWHIRL_LOGGING_LEVEL":        "debug",
		"PROXYWHIRL_BREAKER_OPEN_TIMEOUT": "45s",
		"PROXYWHIRL_RETRY_MAX_ATTEMPTS":   "5",
	}

	for key, value := range testEnvVars {
		os.Setenv(key, value)
	}
	defer func() {
		for key := range testEnvVars {
			os.Unsetenv(key)
		}
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with env vars failed: %v", err)
	}

	if cfg.Strategy.Name != "weighted" {
		t.Errorf("Expected strategy weighted from env var, got %s", cfg.Strategy.Name)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug from env var, got %s", cfg.Logging.Level)
	}
	if cfg.Breaker.OpenTimeout != 45*time.Second {
		t.Errorf("Expected breaker open timeout 45s from env var, got %v", cfg.Breaker.OpenTimeout)
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("Expected max attempts 5 from env var, got %d", cfg.Retry.MaxAttempts)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "proxywhirl.yaml")
	yaml := `
strategy:
  name: performance
breaker:
  failure_threshold: 7
retry:
  base_delay: 2s
cache:
  memory:
    capacity: 250
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Strategy.Name != "performance" {
		t.Errorf("Expected strategy performance from file, got %s", cfg.Strategy.Name)
	}
	if cfg.Breaker.FailureThreshold != 7 {
		t.Errorf("Expected breaker threshold 7 from file, got %d", cfg.Breaker.FailureThreshold)
	}
	if cfg.Retry.BaseDelay != 2*time.Second {
		t.Errorf("Expected base delay 2s from file, got %v", cfg.Retry.BaseDelay)
	}
	if cfg.Cache.Memory.Capacity != 250 {
		t.Errorf("Expected memory capacity 250 from file, got %d", cfg.Cache.Memory.Capacity)
	}

	// Values the file leaves alone keep their defaults
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Expected default max attempts 3, got %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Cache.File.Shards != 4 {
		t.Errorf("Expected default 4 file shards, got %d", cfg.Cache.File.Shards)
	}
}

func TestConfigValidation(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		valid  bool
	}{
		{
			name:   "default config is valid",
			modify: func(c *Config) {},
			valid:  true,
		},
		{
			name: "ema alpha of zero is rejected",
			modify: func(c *Config) {
				c.Pool.EMAAlpha = 0
			},
			valid: false,
		},
		{
			name: "ema alpha above one is rejected",
			modify: func(c *Config) {
				c.Pool.EMAAlpha = 1.5
			},
			valid: false,
		},
		{
			name: "zero retry attempts is rejected",
			modify: func(c *Config) {
				c.Retry.MaxAttempts = 0
			},
			valid: false,
		},
		{
			name: "multiplier below one is rejected",
			modify: func(c *Config) {
				c.Retry.Multiplier = 0.5
			},
			valid: false,
		},
		{
			name: "unknown backoff curve is rejected",
			modify: func(c *Config) {
				c.Retry.Backoff = "quadratic"
			},
			valid: false,
		},
		{
			name: "linear backoff is accepted",
			modify: func(c *Config) {
				c.Retry.Backoff = "linear"
			},
			valid: true,
		},
		{
			name: "zero shards with file tier enabled is rejected",
			modify: func(c *Config) {
				c.Cache.File.Shards = 0
			},
			valid: false,
		},
		{
			name: "zero shards with file tier disabled is fine",
			modify: func(c *Config) {
				c.Cache.File.Enabled = false
				c.Cache.File.Shards = 0
			},
			valid: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.modify(cfg)

			err := cfg.Validate()
			if tc.valid && err != nil {
				t.Errorf("Expected config to be valid, got %v", err)
			}
			if !tc.valid && err == nil {
				t.Error("Expected validation to fail, got nil")
			}
		})
	}
}
