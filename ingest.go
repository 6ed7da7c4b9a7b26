package proxywhirl

import (
	"context"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// ProxyOption decorates a proxy at AddProxy time.
type ProxyOption func(*ProxyRecord)

// ProxyAuth attaches a credential. It overrides any userinfo in the URL.
func ProxyAuth(username, password string) ProxyOption {
	return func(r *ProxyRecord) {
		r.Username = username
		r.Password = password
	}
}

// ProxyTags labels the proxy for tag-filtered strategies.
func ProxyTags(tags ...string) ProxyOption {
	return func(r *ProxyRecord) { r.Tags = append(r.Tags, tags...) }
}

// ProxyCountry sets the ISO country code used by the geo strategy.
func ProxyCountry(code string) ProxyOption {
	return func(r *ProxyRecord) { r.CountryCode = code }
}

// ProxyRegion sets a finer-grained location hint.
func ProxyRegion(region string) ProxyOption {
	return func(r *ProxyRecord) { r.Region = region }
}

// ProxyWeight sets the weighted-strategy share. Zero means default.
func ProxyWeight(w float64) ProxyOption {
	return func(r *ProxyRecord) { r.Weight = w }
}

// ProxyCost sets the per-request cost used by the cost strategy.
func ProxyCost(perRequest float64) ProxyOption {
	return func(r *ProxyRecord) { r.CostPerRequest = perRequest }
}

// ProxySource records where the proxy came from (provider name, file, ...).
func ProxySource(source string) ProxyOption {
	return func(r *ProxyRecord) { r.Source = source }
}

// AddProxy registers one proxy and returns its pool ID. Adding a URL that
// is already pooled merges the record into the existing proxy and returns
// the existing ID.
func (c *Client) AddProxy(ctx context.Context, rawURL string, opts ...ProxyOption) (string, error) {
	if c.closed.Load() {
		return "", ErrClosed
	}
	record := ProxyRecord{URL: rawURL}
	for _, opt := range opts {
		opt(&record)
	}
	proxy, _, err := c.ingestRecord(ctx, record)
	if err != nil {
		return "", err
	}
	return proxy.ID, nil
}

// Ingest registers a batch of proxy records, merging duplicates. It never
// aborts on a bad record; the report carries the rejects.
func (c *Client) Ingest(ctx context.Context, records []ProxyRecord) IngestReport {
	report := IngestReport{}
	if c.closed.Load() {
		report.Errors = append(report.Errors, ErrClosed)
		report.Rejected = len(records)
		return report
	}
	for _, record := range records {
		_, added, err := c.ingestRecord(ctx, record)
		switch {
		case err != nil:
			report.Rejected++
			report.Errors = append(report.Errors, err)
		case added:
			report.Added++
		default:
			report.Merged++
		}
	}
	return report
}

func (c *Client) ingestRecord(ctx context.Context, record ProxyRecord) (*domain.Proxy, bool, error) {
	proxy, err := record.ToProxy()
	if err != nil {
		return nil, false, err
	}
	pooled, added, err := c.pool.Add(proxy)
	if err != nil {
		return nil, false, err
	}

	if c.cache != nil {
		entry := domain.NewCacheEntry(pooled, "", c.cfg.Cache.TTL, time.Now())
		if err := c.cache.Put(ctx, entry); err != nil {
			c.log.WarnWithProxy("caching proxy failed", pooled.Redacted(), "error", err)
		}
	}
	if added {
		c.log.InfoWithProxy("proxy added", pooled.Redacted(), "source", pooled.Source)
		c.bus.PublishAsync(domain.Event{
			Timestamp: time.Now(),
			Type:      domain.EventProxyAdded,
			ProxyID:   pooled.ID,
			Detail:    pooled.Redacted(),
		})
	} else {
		c.log.Debug("proxy merged", "proxy", pooled.Redacted())
	}
	return pooled, added, nil
}

// RemoveProxy takes a proxy out of rotation and drops every trace of it:
// breaker, stats, pooled connections, sticky sessions and cache entry.
func (c *Client) RemoveProxy(ctx context.Context, proxyID string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	proxy, err := c.pool.Remove(proxyID)
	if err != nil {
		return err
	}

	c.breakers.Remove(proxyID)
	c.collector.RemoveProxy(proxyID)
	c.transport.Release(proxyID)
	if releaser, ok := c.dispatcher.CurrentStrategy().(interface{ ReleaseProxy(string) }); ok {
		releaser.ReleaseProxy(proxyID)
	}
	if c.cache != nil {
		if err := c.cache.Invalidate(ctx, proxy.CanonicalURL); err != nil {
			c.log.Warn("cache invalidation failed", "proxy_id", proxyID, "error", err)
		}
	}

	c.log.InfoWithProxy("proxy removed", proxy.Redacted())
	c.bus.PublishAsync(domain.Event{
		Timestamp: time.Now(),
		Type:      domain.EventProxyRemoved,
		ProxyID:   proxyID,
		Detail:    proxy.Redacted(),
	})
	return nil
}

// ListProxies returns redacted views of the pooled proxies matching the
// filter. A zero filter lists everything.
func (c *Client) ListProxies(filter ProxyFilter) []ProxyInfo {
	snapshot := c.pool.Snapshot()
	infos := make([]ProxyInfo, 0, len(snapshot))
	for _, p := range snapshot {
		if filter.matches(p) {
			infos = append(infos, proxyInfo(p))
		}
	}
	return infos
}
