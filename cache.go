package proxywhirl

import (
	"context"
	"time"
)

// WarmCache loads proxies from a file into the cache and the pool. The
// format follows the extension: .json for a record array, .csv for columnar
// feeds, anything else is treated as JSONL. Returns how many entries landed.
func (c *Client) WarmCache(ctx context.Context, path string, ttl time.Duration) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if c.cache == nil {
		return 0, ErrCacheDisabled
	}
	loaded, err := c.cache.WarmFromFile(ctx, path, ttl)
	if err != nil {
		return loaded, err
	}
	c.rehydrate()
	return loaded, nil
}

// ExportCache writes every live cache entry to path, format by extension as
// in WarmCache. Credentials leave only in sealed form.
func (c *Client) ExportCache(ctx context.Context, path string) (int, error) {
	if c.closed.Load() {
		return 0, ErrClosed
	}
	if c.cache == nil {
		return 0, ErrCacheDisabled
	}
	return c.cache.ExportToFile(ctx, path)
}

// ClearCache drops every entry from every tier. The pool is untouched.
func (c *Client) ClearCache(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.cache == nil {
		return ErrCacheDisabled
	}
	return c.cache.Clear(ctx)
}

// InvalidateCached drops one entry by its canonical proxy URL.
func (c *Client) InvalidateCached(ctx context.Context, canonicalURL string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if c.cache == nil {
		return ErrCacheDisabled
	}
	return c.cache.Invalidate(ctx, canonicalURL)
}
