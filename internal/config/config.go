package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/proxywhirl/proxywhirl/internal/util"
)

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     7,
			FileOutput: false,
		},
		Pool: PoolConfig{
			DegradedAfterFailures:  3,
			WindowMinSuccessRate:   0.5,
			UnhealthyAfterDegraded: 5,
			DeadAfterStreak:        20,
			EMAAlpha:               0.2,
			ProbeTimeout:           10 * time.Second,
			ProbeURL:               "https://www.gstatic.com/generate_204",
		},
		Strategy: StrategyConfig{
			Name: "round_robin",
			Sticky: StickyConfig{
				SessionTTL:  time.Hour,
				MaxSessions: 10000,
				Fallback:    "round_robin",
			},
			Performance: PerformanceConfig{
				ExplorationRequests: 5,
			},
			Cost: CostStrategyConfig{
				FreeBoost: 10.0,
			},
			Geo: GeoStrategyConfig{
				Strict:   false,
				Fallback: "round_robin",
			},
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			Window:           60 * time.Second,
			OpenTimeout:      30 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			Backoff:       util.BackoffExponential,
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			TotalDeadline: 2 * time.Minute,
			RetryStatuses: []int{502, 503, 504, 429, 408},
			Jitter:        true,
		},
		Dispatch: DispatchConfig{
			AttemptTimeout:       30 * time.Second,
			MaxBodySize:          10 * 1024 * 1024,
			BatchConcurrency:     8,
			IdleConnTimeout:      90 * time.Second,
			MaxIdleConnsPerProxy: 8,
		},
		Cache: CacheConfig{
			Enabled:          true,
			TTL:              24 * time.Hour,
			SweepInterval:    60 * time.Second,
			DegradeThreshold: 3,
			ReprobeInterval:  30 * time.Second,
			WarmDuplicates:   "merge",
			Memory: MemoryTierConfig{
				Capacity: 1000,
			},
			File: FileTierConfig{
				Enabled:  true,
				Capacity: 5000,
				Shards:   4,
			},
			SQLite: SQLiteTierConfig{
				Enabled: true,
			},
		},
		RateLimit: RateLimitConfig{
			Enabled:  false,
			FailOpen: true,
			Redis: RedisConfig{
				KeyPrefix: "proxywhirl:ratelimit:",
			},
		},
		Engineering: EngineeringConfig{
			ShowNerdStats:   false,
			ProfilerEnabled: false,
			ProfilerAddress: "localhost:19841",
		},
	}
}

// Load reads configuration from file and environment variables.
// Search order: ./proxywhirl.yaml, ./config/proxywhirl.yaml, then the
// file named by PROXYWHIRL_CONFIG_FILE. Environment variables override
// file values with a PROXYWHIRL_ prefix, e.g. PROXYWHIRL_BREAKER_OPEN_TIMEOUT.
func Load() (*Config, error) {
	// A .env beside the binary is a convenience for development, not a
	// requirement.
	_ = godotenv.Load()

	viper.SetConfigName("proxywhirl")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("PROXYWHIRL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Viper only consults the environment for keys it already knows, so
	// every default has to be registered before Unmarshal.
	if err := registerDefaults(viper.GetViper(), DefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to register config defaults: %w", err)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if configFile := os.Getenv("PROXYWHIRL_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
			}
		}
	}

	config := DefaultConfig()
	if err := viper.Unmarshal(config, withYAMLTags); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// LoadFile reads one specific config file, still applying env overrides
func LoadFile(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PROXYWHIRL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := registerDefaults(v, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to register config defaults: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := DefaultConfig()
	if err := v.Unmarshal(config, withYAMLTags); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// withYAMLTags makes viper honour the same tags the YAML files use
func withYAMLTags(dc *mapstructure.DecoderConfig) {
	dc.TagName = "yaml"
}

func registerDefaults(v *viper.Viper, cfg *Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	var settings map[string]any
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return err
	}
	for key, value := range flattenSettings("", settings) {
		v.SetDefault(key, value)
	}
	return nil
}

func flattenSettings(prefix string, in map[string]any) map[string]any {
	out := make(map[string]any)
	for key, value := range in {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			for k, nv := range flattenSettings(full, nested) {
				out[k] = nv
			}
			continue
		}
		out[full] = value
	}
	return out
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	if c.Pool.EMAAlpha <= 0 || c.Pool.EMAAlpha > 1 {
		return fmt.Errorf("pool.ema_alpha must be in (0, 1], got %v", c.Pool.EMAAlpha)
	}
	if c.Pool.WindowMinSuccessRate < 0 || c.Pool.WindowMinSuccessRate > 1 {
		return fmt.Errorf("pool.window_min_success_rate must be in [0, 1], got %v", c.Pool.WindowMinSuccessRate)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry.multiplier must be at least 1, got %v", c.Retry.Multiplier)
	}
	switch c.Retry.Backoff {
	case util.BackoffExponential, util.BackoffLinear, util.BackoffFixed:
	default:
		return fmt.Errorf("retry.backoff must be one of exponential, linear or fixed, got %q", c.Retry.Backoff)
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Cache.File.Enabled && c.Cache.File.Shards < 1 {
		return fmt.Errorf("cache.file.shards must be at least 1, got %d", c.Cache.File.Shards)
	}
	switch c.Cache.WarmDuplicates {
	case "", "skip", "replace", "merge":
	default:
		return fmt.Errorf("cache.warm_duplicates must be one of skip, replace or merge, got %q", c.Cache.WarmDuplicates)
	}
	if c.Dispatch.BatchConcurrency < 1 {
		return fmt.Errorf("dispatch.batch_concurrency must be at least 1, got %d", c.Dispatch.BatchConcurrency)
	}
	return nil
}
