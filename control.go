package proxywhirl

import (
	"context"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// SetStrategy swaps the rotation strategy at runtime. In-flight requests
// finish on the strategy they started with. Strategy names come from
// AvailableStrategies.
func (c *Client) SetStrategy(name string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	rotation, err := c.factory.Create(name)
	if err != nil {
		return err
	}
	c.dispatcher.SetStrategy(rotation)
	return nil
}

// Strategy returns the active rotation strategy's name.
func (c *Client) Strategy() string {
	return c.dispatcher.CurrentStrategy().Name()
}

// AvailableStrategies lists the rotation strategies the factory can build.
func (c *Client) AvailableStrategies() []string {
	return c.factory.GetAvailableStrategies()
}

// HealthReport takes a census of the pool: per-state counts plus a redacted
// view of every proxy.
func (c *Client) HealthReport() HealthReport {
	poolStats := c.pool.Stats()
	byStatus := make(map[string]int, len(poolStats.ByStatus))
	for status, count := range poolStats.ByStatus {
		byStatus[status.String()] = count
	}

	snapshot := c.pool.Snapshot()
	infos := make([]ProxyInfo, 0, len(snapshot))
	for _, p := range snapshot {
		infos = append(infos, proxyInfo(p))
	}

	return HealthReport{
		Total:       poolStats.Total,
		Eligible:    poolStats.Eligible,
		ByStatus:    byStatus,
		LastChanged: poolStats.LastChanged,
		Proxies:     infos,
	}
}

// Statistics snapshots the whole engine: request counters, per-proxy
// traffic, selection timings, cache tiers and limiter backend health.
func (c *Client) Statistics(ctx context.Context) Statistics {
	poolStats := c.pool.Stats()
	s := Statistics{
		Engine:       c.collector.GetEngineStats(),
		Proxies:      c.collector.GetProxyStats(),
		Selections:   c.collector.GetSelectionStats(),
		Strategy:     c.Strategy(),
		Uptime:       time.Since(c.started),
		PoolTotal:    poolStats.Total,
		PoolEligible: poolStats.Eligible,
	}
	if c.cache != nil {
		cacheStats := c.cache.Statistics(ctx)
		s.Cache = &cacheStats
	}
	if counter, ok := c.limiter.(interface{ BackendErrors() int64 }); ok {
		s.RateLimitBackendErrors = counter.BackendErrors()
	}
	return s
}

// BreakerStates returns every tracked breaker keyed by proxy ID.
func (c *Client) BreakerStates() map[string]BreakerSnapshot {
	snapshots := c.breakers.Snapshot()
	states := make(map[string]BreakerSnapshot, len(snapshots))
	for _, snap := range snapshots {
		states[snap.ProxyID] = snap
	}
	return states
}

// ResetBreaker force-closes one proxy's breaker, typically after an operator
// fixed the upstream. Unknown breakers are an error.
func (c *Client) ResetBreaker(proxyID string) error {
	if c.breakers.Reset(proxyID) {
		return nil
	}
	return domain.NewValidationError("proxy_id", proxyID, "no breaker tracked for proxy")
}

// RateLimitStatus inspects the sliding window for one identifier without
// consuming a slot.
func (c *Client) RateLimitStatus(ctx context.Context, identifier, endpoint, tier string) (RateDecision, error) {
	if c.limiter == nil {
		return RateDecision{}, ErrRateLimitDisabled
	}
	return c.limiter.Peek(ctx, identifier, endpoint, tier)
}

// ReloadRateLimitRules re-reads the rules file immediately instead of
// waiting for the file watcher.
func (c *Client) ReloadRateLimitRules() error {
	if c.limiter == nil {
		return ErrRateLimitDisabled
	}
	if reloader, ok := c.limiter.(interface{ Reload() }); ok {
		reloader.Reload()
	}
	return nil
}
