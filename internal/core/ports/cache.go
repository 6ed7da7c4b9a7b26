package ports

import (
	"context"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// CacheTier is one storage level of the proxy cache. Keys are canonical
// proxy URLs. Tiers return found=false for missing keys and reserve errors
// for real faults; the manager uses those faults to degrade a tier.
type CacheTier interface {
	Name() string
	Get(ctx context.Context, key string) (*domain.CacheEntry, bool, error)
	Set(ctx context.Context, entry *domain.CacheEntry) error
	Delete(ctx context.Context, key string) error
	Entries(ctx context.Context) ([]*domain.CacheEntry, error)
	Len(ctx context.Context) (int, error)
	Purge(ctx context.Context) error
	Close() error
}

// CacheStore is the tiered cache as the engine sees it: one read/write
// surface cascading over however many tiers are enabled. Reads promote
// hits upward; writes go through every live tier.
type CacheStore interface {
	Get(ctx context.Context, key string) (*domain.CacheEntry, bool, error)
	Put(ctx context.Context, entry *domain.CacheEntry) error
	Invalidate(ctx context.Context, key string) error
	InvalidateWhere(ctx context.Context, match func(*domain.CacheEntry) bool) (int, error)
	Clear(ctx context.Context) error
	Entries(ctx context.Context) ([]*domain.CacheEntry, error)
	WarmFromFile(ctx context.Context, path string, ttl time.Duration) (int, error)
	ExportToFile(ctx context.Context, path string) (int, error)
	Statistics(ctx context.Context) CacheStats
	Close() error
}

// TierStats is one tier's counters since start. Size is a point-in-time
// read, -1 when the tier could not report it.
type TierStats struct {
	Name         string `json:"name"`
	Hits         int64  `json:"hits"`
	Misses       int64  `json:"misses"`
	EvictionsLRU int64  `json:"evictions_lru"`
	EvictionsTTL int64  `json:"evictions_ttl"`
	Errors       int64  `json:"errors"`
	Size         int    `json:"size"`
	Degraded     bool   `json:"degraded"`
}

// CacheStats is an immutable snapshot across tiers.
type CacheStats struct {
	Tiers   []TierStats `json:"tiers"`
	Hits    int64       `json:"hits"`
	Misses  int64       `json:"misses"`
	HitRate float64     `json:"hit_rate"`
}
