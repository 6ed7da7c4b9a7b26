package config

import (
	"time"
)

// Config holds all configuration for the rotation engine
type Config struct {
	Logging     LoggingConfig     `yaml:"logging"`
	Pool        PoolConfig        `yaml:"pool"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Breaker     BreakerConfig     `yaml:"breaker"`
	Retry       RetryConfig       `yaml:"retry"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Cache       CacheConfig       `yaml:"cache"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Engineering EngineeringConfig `yaml:"engineering"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Theme      string `yaml:"theme"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
	FileOutput bool   `yaml:"file_output"`
}

// PoolConfig tunes the health state machine shared by every proxy
type PoolConfig struct {
	DegradedAfterFailures  int           `yaml:"degraded_after_failures"`
	WindowMinSuccessRate   float64       `yaml:"window_min_success_rate"`
	UnhealthyAfterDegraded int           `yaml:"unhealthy_after_degraded"`
	DeadAfterStreak        int           `yaml:"dead_after_streak"`
	EMAAlpha               float64       `yaml:"ema_alpha"`
	ProbeTimeout           time.Duration `yaml:"probe_timeout"`
	ProbeURL               string        `yaml:"probe_url"`
}

// StrategyConfig selects and tunes the rotation strategy
type StrategyConfig struct {
	Name        string             `yaml:"name"`
	Composite   []string           `yaml:"composite"`
	Sticky      StickyConfig       `yaml:"sticky"`
	Performance PerformanceConfig  `yaml:"performance"`
	Cost        CostStrategyConfig `yaml:"cost"`
	Geo         GeoStrategyConfig  `yaml:"geo"`
}

// StickyConfig tunes session pinning. Fallback names the strategy that
// assigns a proxy when a session has no live binding.
type StickyConfig struct {
	SessionTTL  time.Duration `yaml:"session_ttl"`
	MaxSessions int           `yaml:"max_sessions"`
	Fallback    string        `yaml:"fallback"`
}

// PerformanceConfig tunes latency-aware selection. ExplorationRequests
// is how many requests a proxy gets before its EMA is trusted for
// ranking.
type PerformanceConfig struct {
	ExplorationRequests int `yaml:"exploration_requests"`
}

// CostStrategyConfig tunes cost-aware selection. FreeBoost multiplies
// the selection weight of zero-cost proxies.
type CostStrategyConfig struct {
	FreeBoost float64 `yaml:"free_boost"`
}

// GeoStrategyConfig tunes geo-targeted selection. Strict fails a
// request whose country or region has no match instead of falling back
// to the whole pool; Fallback names the strategy that picks among the
// matching proxies.
type GeoStrategyConfig struct {
	Strict   bool   `yaml:"strict"`
	Fallback string `yaml:"fallback"`
}

// BreakerConfig tunes the per-proxy circuit breakers
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Window           time.Duration `yaml:"window"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// RetryConfig tunes the retry executor
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	Backoff       string        `yaml:"backoff"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	Multiplier    float64       `yaml:"multiplier"`
	TotalDeadline time.Duration `yaml:"total_deadline"`
	RetryStatuses []int         `yaml:"retry_statuses"`
	Jitter        bool          `yaml:"jitter"`
}

// DispatchConfig tunes request execution. GlobalRequestsPerSecond
// throttles the whole engine before per-identifier limits apply; zero
// disables it.
type DispatchConfig struct {
	AttemptTimeout          time.Duration `yaml:"attempt_timeout"`
	MaxBodySize             int64         `yaml:"max_body_size"`
	BatchConcurrency        int           `yaml:"batch_concurrency"`
	GlobalRequestsPerSecond float64       `yaml:"global_requests_per_second"`
	GlobalBurst             int           `yaml:"global_burst"`
	UserAgent               string        `yaml:"user_agent"`
	IdleConnTimeout         time.Duration `yaml:"idle_conn_timeout"`
	MaxIdleConnsPerProxy    int           `yaml:"max_idle_conns_per_proxy"`
}

// CacheConfig tunes the tiered proxy cache. Encryption keys never live
// here; the cache reads PROXYWHIRL_CACHE_KEY and
// PROXYWHIRL_CACHE_KEY_PREVIOUS from the environment.
type CacheConfig struct {
	Enabled          bool             `yaml:"enabled"`
	Directory        string           `yaml:"directory"`
	TTL              time.Duration    `yaml:"ttl"`
	SweepInterval    time.Duration    `yaml:"sweep_interval"`
	DegradeThreshold int              `yaml:"degrade_threshold"`
	ReprobeInterval  time.Duration    `yaml:"reprobe_interval"`
	WarmDuplicates   string           `yaml:"warm_duplicates"`
	Memory           MemoryTierConfig `yaml:"memory"`
	File             FileTierConfig   `yaml:"file"`
	SQLite           SQLiteTierConfig `yaml:"sqlite"`
}

// MemoryTierConfig tunes the in-process tier
type MemoryTierConfig struct {
	Capacity int `yaml:"capacity"`
}

// FileTierConfig tunes the sharded file tier
type FileTierConfig struct {
	Enabled  bool `yaml:"enabled"`
	Capacity int  `yaml:"capacity"`
	Shards   int  `yaml:"shards"`
}

// SQLiteTierConfig tunes the durable tier
type SQLiteTierConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RateLimitConfig tunes request admission. Rules may live inline or in a
// separate file that is hot reloaded on change.
type RateLimitConfig struct {
	Enabled   bool                `yaml:"enabled"`
	File      string              `yaml:"file"`
	FailOpen  bool                `yaml:"fail_open"`
	Global    RateRule            `yaml:"global"`
	Tiers     map[string]RateRule `yaml:"tiers"`
	Endpoints []EndpointRateRule  `yaml:"endpoints"`
	Whitelist []string            `yaml:"whitelist"`
	Redis     RedisConfig         `yaml:"redis"`
}

// RateRule is one sliding-window allowance
type RateRule struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// EndpointRateRule binds a rule to an endpoint pattern, optionally for a
// single tier only
type EndpointRateRule struct {
	Pattern  string        `yaml:"pattern"`
	Tier     string        `yaml:"tier"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// RedisConfig points several engine instances at one shared limiter state
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// EngineeringConfig holds development/debugging configuration
type EngineeringConfig struct {
	ProfilerAddress string `yaml:"profiler_address"`
	ShowNerdStats   bool   `yaml:"show_nerdstats"`
	ProfilerEnabled bool   `yaml:"profiler_enabled"`
}
