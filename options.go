package proxywhirl

import (
	"time"

	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// Option configures the client at construction.
type Option func(*settings) error

type settings struct {
	cfg     *config.Config
	records []domain.ProxyRecord
	quiet   bool
}

func newSettings() *settings {
	return &settings{cfg: config.DefaultConfig()}
}

// WithConfigFile loads a YAML config file, with PROXYWHIRL_* environment
// overrides still applying on top.
func WithConfigFile(path string) Option {
	return func(s *settings) error {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		s.cfg = cfg
		return nil
	}
}

// WithConfigFromEnv loads configuration from the default search paths and
// the environment, as a service binary would.
func WithConfigFromEnv() Option {
	return func(s *settings) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		s.cfg = cfg
		return nil
	}
}

// WithProxies seeds the pool with proxy URLs at construction. Credentials
// may ride in the URL userinfo.
func WithProxies(rawURLs ...string) Option {
	return func(s *settings) error {
		for _, raw := range rawURLs {
			s.records = append(s.records, domain.ProxyRecord{URL: raw})
		}
		return nil
	}
}

// WithRecords seeds the pool with full proxy records at construction.
func WithRecords(records ...ProxyRecord) Option {
	return func(s *settings) error {
		s.records = append(s.records, records...)
		return nil
	}
}

// WithStrategy selects the rotation strategy by name.
func WithStrategy(name string) Option {
	return func(s *settings) error {
		s.cfg.Strategy.Name = name
		return nil
	}
}

// WithCompositeStrategy chains filter strategies ahead of a final selector,
// e.g. WithCompositeStrategy("geo", "cost", "performance").
func WithCompositeStrategy(names ...string) Option {
	return func(s *settings) error {
		s.cfg.Strategy.Name = "composite"
		s.cfg.Strategy.Composite = names
		return nil
	}
}

// WithMaxAttempts bounds how many proxies one request may burn through.
func WithMaxAttempts(n int) Option {
	return func(s *settings) error {
		s.cfg.Retry.MaxAttempts = n
		return nil
	}
}

// WithTotalDeadline bounds one request across all its attempts and backoff.
func WithTotalDeadline(d time.Duration) Option {
	return func(s *settings) error {
		s.cfg.Retry.TotalDeadline = d
		return nil
	}
}

// WithBackoff shapes the delay between attempts. Strategy is one of
// "exponential", "linear" or "fixed"; base seeds the first delay and max
// caps growth.
func WithBackoff(strategy string, base, max time.Duration) Option {
	return func(s *settings) error {
		s.cfg.Retry.Backoff = strategy
		s.cfg.Retry.BaseDelay = base
		s.cfg.Retry.MaxDelay = max
		return nil
	}
}

// WithAttemptTimeout bounds each individual attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *settings) error {
		s.cfg.Dispatch.AttemptTimeout = d
		return nil
	}
}

// WithUserAgent sets the default User-Agent for outbound requests.
func WithUserAgent(ua string) Option {
	return func(s *settings) error {
		s.cfg.Dispatch.UserAgent = ua
		return nil
	}
}

// WithCacheDirectory points the file and SQLite tiers at dir.
func WithCacheDirectory(dir string) Option {
	return func(s *settings) error {
		s.cfg.Cache.Enabled = true
		s.cfg.Cache.Directory = dir
		return nil
	}
}

// WithCacheTTL sets the default entry lifetime.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *settings) error {
		s.cfg.Cache.TTL = ttl
		return nil
	}
}

// WithoutCache disables the tiered cache entirely.
func WithoutCache() Option {
	return func(s *settings) error {
		s.cfg.Cache.Enabled = false
		return nil
	}
}

// WithRateLimit enables the limiter with one global sliding-window rule.
// Finer rules (tiers, endpoints, Redis sharing) come from the config file.
func WithRateLimit(requests int, window time.Duration) Option {
	return func(s *settings) error {
		s.cfg.RateLimit.Enabled = true
		s.cfg.RateLimit.Global = config.RateRule{Requests: requests, Window: window}
		return nil
	}
}

// WithRateLimitRulesFile enables the limiter with rules from a YAML file,
// hot reloaded on change.
func WithRateLimitRulesFile(path string) Option {
	return func(s *settings) error {
		s.cfg.RateLimit.Enabled = true
		s.cfg.RateLimit.File = path
		return nil
	}
}

// WithGlobalThrottle caps the whole client's request rate ahead of
// per-identifier limits. Zero rps disables it.
func WithGlobalThrottle(rps float64, burst int) Option {
	return func(s *settings) error {
		s.cfg.Dispatch.GlobalRequestsPerSecond = rps
		s.cfg.Dispatch.GlobalBurst = burst
		return nil
	}
}

// WithBreaker tunes the per-proxy circuit breakers: trip after threshold
// failures inside the rolling window, retry one trial after openTimeout.
func WithBreaker(threshold int, openTimeout time.Duration) Option {
	return func(s *settings) error {
		s.cfg.Breaker.FailureThreshold = threshold
		s.cfg.Breaker.OpenTimeout = openTimeout
		return nil
	}
}

// WithLogLevel sets the log level (debug, info, warn, error).
func WithLogLevel(level string) Option {
	return func(s *settings) error {
		s.cfg.Logging.Level = level
		return nil
	}
}

// WithQuietLogging drops all log output. Library embedders that do their
// own logging usually want this.
func WithQuietLogging() Option {
	return func(s *settings) error {
		s.quiet = true
		return nil
	}
}
