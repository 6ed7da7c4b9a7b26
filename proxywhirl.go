// Package proxywhirl is a rotating proxy engine: a pool of upstream proxies
// with health tracking, pluggable rotation strategies, per-proxy circuit
// breakers, retry with backoff, a tiered encrypted proxy cache and sliding
// window rate limiting, behind one HTTP client style facade.
package proxywhirl

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docker/go-units"

	"github.com/proxywhirl/proxywhirl/internal/adapter/breaker"
	"github.com/proxywhirl/proxywhirl/internal/adapter/cache"
	"github.com/proxywhirl/proxywhirl/internal/adapter/ratelimit"
	"github.com/proxywhirl/proxywhirl/internal/adapter/stats"
	"github.com/proxywhirl/proxywhirl/internal/adapter/strategy"
	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
	"github.com/proxywhirl/proxywhirl/internal/engine"
	"github.com/proxywhirl/proxywhirl/internal/logger"
	"github.com/proxywhirl/proxywhirl/internal/version"
	"github.com/proxywhirl/proxywhirl/pkg/eventbus"
	"github.com/proxywhirl/proxywhirl/pkg/nerdstats"
)

// Client is the rotation engine. Safe for concurrent use; one Client is
// meant to be shared across an application the way an http.Client is.
type Client struct {
	cfg        *config.Config
	log        *logger.StyledLogger
	logCleanup func()

	pool       *domain.Pool
	factory    *strategy.Factory
	breakers   *eventingGate
	cache      ports.CacheStore
	limiter    ports.RateLimiter
	collector  *stats.Collector
	transport  *engine.Transport
	dispatcher *engine.Dispatcher
	bus        *eventbus.EventBus[domain.Event]

	started   time.Time
	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds a client. Without options it runs on defaults: round-robin
// rotation, three attempts, full cache, no rate limiting, an empty pool.
func New(opts ...Option) (*Client, error) {
	s := newSettings()
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	cfg := s.cfg
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Dispatch.UserAgent == "" {
		cfg.Dispatch.UserAgent = version.UserAgent()
	}

	log, logCleanup, err := buildLogger(cfg, s.quiet)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:        cfg,
		log:        log,
		logCleanup: logCleanup,
		bus:        eventbus.New[domain.Event](),
		collector:  stats.NewCollector(),
		started:    time.Now(),
	}

	c.pool = domain.NewPool(domain.HealthPolicy{
		DegradedAfterFailures:  cfg.Pool.DegradedAfterFailures,
		WindowMinSuccessRate:   cfg.Pool.WindowMinSuccessRate,
		UnhealthyAfterDegraded: cfg.Pool.UnhealthyAfterDegraded,
		DeadAfterStreak:        cfg.Pool.DeadAfterStreak,
		EMAAlpha:               cfg.Pool.EMAAlpha,
	})
	c.pool.OnTransition(c.onTransition)

	c.breakers = newEventingGate(breaker.NewGate(cfg.Breaker), c.bus)

	c.factory = strategy.NewFactory(cfg.Strategy)
	rotation, err := c.factory.Create(cfg.Strategy.Name)
	if err != nil {
		c.teardownOnInitError()
		return nil, err
	}

	if cfg.Cache.Enabled {
		store, err := cache.New(cfg.Cache, c.bus, log)
		if err != nil {
			c.teardownOnInitError()
			return nil, err
		}
		c.cache = store
	}

	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.New(cfg.RateLimit, log)
		if err != nil {
			c.teardownOnInitError()
			return nil, err
		}
		c.limiter = limiter
	}

	c.transport = engine.NewTransport(cfg.Dispatch, cfg.Pool, log)
	c.dispatcher = engine.NewDispatcher(cfg.Retry, cfg.Dispatch, c.pool,
		rotation, c.breakers, c.transport, c.limiter, c.collector, c.bus, log)

	if c.cache != nil {
		c.rehydrate()
	}
	if len(s.records) > 0 {
		report := c.Ingest(context.Background(), s.records)
		if report.Rejected > 0 {
			log.Warn("some seed proxies were rejected",
				"added", report.Added, "rejected", report.Rejected)
		}
	}

	log.Info("proxywhirl ready",
		"version", version.Version,
		"strategy", rotation.Name(),
		"proxies", c.pool.Len(),
		"cache", cfg.Cache.Enabled,
		"rate_limit", cfg.RateLimit.Enabled)
	return c, nil
}

func buildLogger(cfg *config.Config, quiet bool) (*logger.StyledLogger, func(), error) {
	if quiet {
		return logger.NewDiscard(), func() {}, nil
	}
	_, styled, cleanup, err := logger.NewWithTheme(&logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     cfg.Logging.LogDir,
		Theme:      cfg.Logging.Theme,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		FileOutput: cfg.Logging.FileOutput,
	})
	if err != nil {
		return nil, nil, err
	}
	return styled, cleanup, nil
}

func (c *Client) teardownOnInitError() {
	if c.cache != nil {
		_ = c.cache.Close()
	}
	if c.limiter != nil {
		_ = c.limiter.Close()
	}
	c.bus.Shutdown()
	c.logCleanup()
}

// Do dispatches one request through the rotation engine.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	return c.dispatcher.Do(ctx, req)
}

// Get fetches url through the pool.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodGet, URL: url})
}

// Post sends body to url through the pool.
func (c *Client) Post(ctx context.Context, url, contentType string, body []byte) (*Response, error) {
	req := &Request{Method: http.MethodPost, URL: url, Body: body}
	if contentType != "" {
		req.Header = http.Header{"Content-Type": []string{contentType}}
	}
	return c.Do(ctx, req)
}

// Put sends body to url through the pool.
func (c *Client) Put(ctx context.Context, url, contentType string, body []byte) (*Response, error) {
	req := &Request{Method: http.MethodPut, URL: url, Body: body}
	if contentType != "" {
		req.Header = http.Header{"Content-Type": []string{contentType}}
	}
	return c.Do(ctx, req)
}

// Delete issues a DELETE to url through the pool.
func (c *Client) Delete(ctx context.Context, url string) (*Response, error) {
	return c.Do(ctx, &Request{Method: http.MethodDelete, URL: url})
}

// Probe issues an active health probe through the proxy, outside selection,
// breakers and rate limits. A successful probe is the only path that brings
// a dead proxy back into rotation.
func (c *Client) Probe(ctx context.Context, proxyID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	proxy, ok := c.pool.Get(proxyID)
	if !ok {
		return domain.NewPoolError("probe", proxyID,
			domain.NewValidationError("proxy_id", proxyID, "unknown proxy"))
	}

	latency, err := c.dispatcher.Probe(ctx, proxy)
	success := err == nil
	c.pool.RecordProbe(proxyID, success, latency)
	if success {
		c.breakers.RecordSuccess(proxyID)
		c.log.InfoWithProbe("probe succeeded", proxy.Redacted(), "latency", latency)
	} else {
		c.log.WarnWithProxy("probe failed", proxy.Redacted(), "error", err)
	}
	return err
}

// Subscribe streams engine events (proxy health changes, breaker trips,
// cache tier degradation, strategy swaps) until ctx ends or the returned
// cancel func is called.
func (c *Client) Subscribe(ctx context.Context) (<-chan Event, func()) {
	return c.bus.Subscribe(ctx)
}

// Close stops admission, flushes the cache write queue and releases every
// connection. Idempotent; Do returns ErrClosed afterwards.
func (c *Client) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.dispatcher.Close()

		if c.limiter != nil {
			if err := c.limiter.Close(); err != nil {
				closeErr = err
			}
		}
		if c.cache != nil {
			if err := c.cache.Close(); err != nil {
				closeErr = err
			}
		}
		c.bus.Shutdown()

		if c.cfg.Engineering.ShowNerdStats {
			c.logNerdStats()
		}
		c.log.Info("proxywhirl closed", "uptime", time.Since(c.started))
		c.logCleanup()
	})
	return closeErr
}

func (c *Client) logNerdStats() {
	ns := nerdstats.Snapshot(c.started)
	c.log.Info("runtime stats",
		"heap", units.BytesSize(float64(ns.HeapAlloc)),
		"heap_sys", units.BytesSize(float64(ns.HeapSys)),
		"total_alloc", units.BytesSize(float64(ns.TotalAlloc)),
		"goroutines", ns.NumGoroutines,
		"gc_cycles", ns.NumGC,
		"gc_pause_avg", nerdstats.CalculateAverageGCPause(ns),
		"uptime", ns.Uptime)
}

// onTransition runs on every proxy health state change, on the goroutine
// that recorded the outcome. It logs, publishes the event and keeps the
// cache in step: a proxy falling to unhealthy or dead is evicted from
// every tier, any other transition refreshes its entry.
func (c *Client) onTransition(tr domain.StatusTransition) {
	c.log.InfoHealthStatus("proxy", tr.URL, tr.To, "from", tr.From.String(), "reason", tr.Reason)
	c.bus.PublishAsync(domain.Event{
		Timestamp: tr.Timestamp,
		Type:      domain.EventProxyStatusChanged,
		ProxyID:   tr.ProxyID,
		From:      tr.From.String(),
		To:        tr.To.String(),
		Detail:    tr.Reason,
	})

	if c.cache == nil {
		return
	}
	proxy, ok := c.pool.Get(tr.ProxyID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if tr.To == domain.StatusUnhealthy || tr.To == domain.StatusDead {
		if err := c.cache.Invalidate(ctx, proxy.CanonicalURL); err != nil {
			c.log.Warn("cache health invalidation failed", "proxy_id", tr.ProxyID, "error", err)
		}
		return
	}

	entry := domain.NewCacheEntry(proxy, "", c.cfg.Cache.TTL, time.Now())
	if err := c.cache.Put(ctx, entry); err != nil {
		c.log.Warn("cache health refresh failed", "proxy_id", tr.ProxyID, "error", err)
	}
}

// rehydrate restores the pool from the cache after a restart. Entries whose
// sealed credential cannot be opened were already filtered by the cache.
func (c *Client) rehydrate() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := c.cache.Entries(ctx)
	if err != nil {
		c.log.Warn("cache rehydration read failed", "error", err)
	}
	restored := 0
	for _, entry := range entries {
		proxy, err := entry.ToProxy(entry.Credential)
		if err != nil {
			continue
		}
		if _, added, err := c.pool.Add(proxy); err == nil && added {
			restored++
		}
	}
	if restored > 0 {
		c.log.InfoWithCount("Restored proxies from cache", restored)
	}
}
