package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

// Tier names, also the labels used in statistics and degradation
// signals.
const (
	TierMemory = "memory"
	TierFile   = "file"
	TierSQLite = "sqlite"
)

const DefaultMemoryCapacity = 1000

// MemoryTier is the in-process LRU. Entries here keep their cleartext
// credential wrapper attached; nothing in this tier is ever serialised.
type MemoryTier struct {
	entries   *lru.Cache[string, *domain.CacheEntry]
	evictions *xsync.Counter
}

func NewMemoryTier(capacity int) (*MemoryTier, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	entries, err := lru.New[string, *domain.CacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryTier{
		entries:   entries,
		evictions: xsync.NewCounter(),
	}, nil
}

func (t *MemoryTier) Name() string { return TierMemory }

func (t *MemoryTier) Get(_ context.Context, key string) (*domain.CacheEntry, bool, error) {
	entry, ok := t.entries.Get(key)
	return entry, ok, nil
}

func (t *MemoryTier) Set(_ context.Context, entry *domain.CacheEntry) error {
	if evicted := t.entries.Add(entry.Key(), entry); evicted {
		t.evictions.Inc()
	}
	return nil
}

func (t *MemoryTier) Delete(_ context.Context, key string) error {
	t.entries.Remove(key)
	return nil
}

func (t *MemoryTier) Entries(_ context.Context) ([]*domain.CacheEntry, error) {
	return t.entries.Values(), nil
}

func (t *MemoryTier) Len(_ context.Context) (int, error) {
	return t.entries.Len(), nil
}

func (t *MemoryTier) Purge(_ context.Context) error {
	t.entries.Purge()
	return nil
}

func (t *MemoryTier) Close() error { return nil }

// Evictions reports how many entries capacity pressure has pushed out.
func (t *MemoryTier) Evictions() int64 {
	return t.evictions.Value()
}
