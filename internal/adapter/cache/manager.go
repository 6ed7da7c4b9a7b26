package cache

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	jsoniter "github.com/json-iterator/go"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
	"github.com/proxywhirl/proxywhirl/internal/logger"
	"github.com/proxywhirl/proxywhirl/pkg/eventbus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultSweepInterval    = 60 * time.Second
	DefaultDegradeThreshold = 3
	DefaultReprobeInterval  = 30 * time.Second

	writeQueueDepth = 256
	tierOpTimeout   = 5 * time.Second
)

// expiringTier deletes expired rows without a full scan. The SQLite tier
// implements it; the others are swept by iteration.
type expiringTier interface {
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// evictingTier reports capacity evictions it performed itself.
type evictingTier interface {
	Evictions() int64
}

// tierState wraps one tier with its health and counters. A tier that fails
// repeatedly is taken out of rotation until a probe brings it back.
type tierState struct {
	tier         ports.CacheTier
	hits         *xsync.Counter
	misses       *xsync.Counter
	errors       *xsync.Counter
	ttlEvictions *xsync.Counter
	failStreak   atomic.Int32
	degraded     atomic.Bool
}

func newTierState(tier ports.CacheTier) *tierState {
	return &tierState{
		tier:         tier,
		hits:         xsync.NewCounter(),
		misses:       xsync.NewCounter(),
		errors:       xsync.NewCounter(),
		ttlEvictions: xsync.NewCounter(),
	}
}

func (ts *tierState) live() bool {
	return !ts.degraded.Load()
}

// Manager cascades reads and fans out writes across the enabled tiers.
// Tier locks stay inside the tiers; the manager never holds one tier's
// lock across another tier's I/O.
type Manager struct {
	logger  *logger.StyledLogger
	codec   *Codec
	bus     *eventbus.EventBus[domain.Event]
	tiers   []*tierState
	durable *tierState

	ttl              time.Duration
	sweepInterval    time.Duration
	degradeThreshold int
	reprobeInterval  time.Duration
	duplicates       string

	lookupHits   *xsync.Counter
	lookupMisses *xsync.Counter

	writes      chan *domain.CacheEntry
	writeMu     sync.RWMutex
	writeClosed bool

	probeCtx    context.Context
	probeCancel context.CancelFunc
	stop        chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

var _ ports.CacheStore = (*Manager)(nil)

// New builds the tiered cache from configuration. The memory tier is always
// present; file and SQLite tiers attach per their toggles. A missing
// encryption key is not an error, but credentials then never reach the
// persistent tiers.
func New(cfg config.CacheConfig, bus *eventbus.EventBus[domain.Event], log *logger.StyledLogger) (*Manager, error) {
	if log == nil {
		log = logger.NewDiscard()
	}

	codec, err := NewCodecFromEnv()
	if err != nil {
		return nil, fmt.Errorf("cache encryption key: %w", err)
	}

	m := &Manager{
		logger:           log,
		codec:            codec,
		bus:              bus,
		ttl:              cfg.TTL,
		sweepInterval:    cfg.SweepInterval,
		degradeThreshold: cfg.DegradeThreshold,
		reprobeInterval:  cfg.ReprobeInterval,
		duplicates:       cfg.WarmDuplicates,
		lookupHits:       xsync.NewCounter(),
		lookupMisses:     xsync.NewCounter(),
		writes:           make(chan *domain.CacheEntry, writeQueueDepth),
		stop:             make(chan struct{}),
	}
	if m.sweepInterval <= 0 {
		m.sweepInterval = DefaultSweepInterval
	}
	if m.degradeThreshold <= 0 {
		m.degradeThreshold = DefaultDegradeThreshold
	}
	if m.reprobeInterval <= 0 {
		m.reprobeInterval = DefaultReprobeInterval
	}
	if m.duplicates == "" {
		m.duplicates = DuplicateMerge
	}
	m.probeCtx, m.probeCancel = context.WithCancel(context.Background())

	memory, err := NewMemoryTier(cfg.Memory.Capacity)
	if err != nil {
		return nil, err
	}
	m.tiers = append(m.tiers, newTierState(memory))

	dir := cfg.Directory
	if dir == "" {
		dir = "./cache"
	}
	if cfg.File.Enabled {
		file, err := NewFileTier(filepath.Join(dir, "file"), cfg.File.Capacity, cfg.File.Shards)
		if err != nil {
			return nil, err
		}
		m.tiers = append(m.tiers, newTierState(file))
	}
	if cfg.SQLite.Enabled {
		path := cfg.SQLite.Path
		if path == "" {
			path = filepath.Join(dir, "cache.db")
		}
		sqlite, err := NewSQLiteTier(path)
		if err != nil {
			m.closeTiers()
			return nil, err
		}
		m.durable = newTierState(sqlite)
		m.tiers = append(m.tiers, m.durable)
	}

	if codec == nil {
		log.Warn("cache encryption key not set, credentials stay in memory only", "env", EnvCacheKey)
	}

	m.wg.Add(2)
	go m.writer()
	go m.sweeper()

	return m, nil
}

// Get cascades memory, file, SQLite. A hit below the top tier is promoted
// into every tier above it. Expired entries are ignored and dropped.
func (m *Manager) Get(ctx context.Context, key string) (*domain.CacheEntry, bool, error) {
	now := time.Now()
	for i, ts := range m.tiers {
		if !ts.live() {
			continue
		}
		entry, found, err := ts.tier.Get(ctx, key)
		if err != nil {
			m.tierError(ts, err)
			continue
		}
		m.tierOK(ts)
		if !found {
			ts.misses.Inc()
			continue
		}
		if entry.Expired(now) {
			ts.misses.Inc()
			ts.ttlEvictions.Inc()
			_ = ts.tier.Delete(ctx, key)
			continue
		}
		if !m.attachCredential(entry) {
			ts.misses.Inc()
			continue
		}
		ts.hits.Inc()
		m.lookupHits.Inc()
		m.promote(ctx, m.tiers[:i], entry)
		return entry, true, nil
	}
	m.lookupMisses.Inc()
	return nil, false, nil
}

// Put writes through every live tier. The memory and file tiers are written
// synchronously so the entry is readable the moment Put returns; the SQLite
// tier is fed through the async queue and flushed on Close.
func (m *Manager) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if entry == nil || entry.Key() == "" {
		return domain.NewValidationError("entry", entry, "missing cache key")
	}
	if err := m.sealCredential(entry); err != nil {
		return err
	}

	stored := false
	var lastErr error
	for _, ts := range m.tiers {
		if !ts.live() {
			continue
		}
		if ts == m.durable && m.enqueue(entry) {
			stored = true
			continue
		}
		if err := ts.tier.Set(ctx, entry); err != nil {
			m.tierError(ts, err)
			lastErr = err
			continue
		}
		m.tierOK(ts)
		stored = true
	}
	if !stored {
		return fmt.Errorf("cache write rejected by every tier: %w", lastErr)
	}
	return nil
}

// Invalidate removes one key from every tier.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	var lastErr error
	for _, ts := range m.tiers {
		if !ts.live() {
			continue
		}
		if err := ts.tier.Delete(ctx, key); err != nil {
			m.tierError(ts, err)
			lastErr = err
			continue
		}
		m.tierOK(ts)
	}
	return lastErr
}

// InvalidateWhere removes every entry the predicate matches and returns
// how many distinct keys were dropped.
func (m *Manager) InvalidateWhere(ctx context.Context, match func(*domain.CacheEntry) bool) (int, error) {
	removed := make(map[string]struct{})
	var lastErr error
	for _, ts := range m.tiers {
		if !ts.live() {
			continue
		}
		entries, err := ts.tier.Entries(ctx)
		if err != nil {
			m.tierError(ts, err)
			lastErr = err
			continue
		}
		m.tierOK(ts)
		for _, entry := range entries {
			if !match(entry) {
				continue
			}
			if err := ts.tier.Delete(ctx, entry.Key()); err != nil {
				m.tierError(ts, err)
				lastErr = err
				continue
			}
			removed[entry.Key()] = struct{}{}
		}
	}
	return len(removed), lastErr
}

// Clear empties every tier.
func (m *Manager) Clear(ctx context.Context) error {
	var lastErr error
	for _, ts := range m.tiers {
		if !ts.live() {
			continue
		}
		if err := ts.tier.Purge(ctx); err != nil {
			m.tierError(ts, err)
			lastErr = err
			continue
		}
		m.tierOK(ts)
	}
	return lastErr
}

// Statistics snapshots per-tier counters and the overall hit rate.
func (m *Manager) Statistics(ctx context.Context) ports.CacheStats {
	stats := ports.CacheStats{
		Hits:   m.lookupHits.Value(),
		Misses: m.lookupMisses.Value(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	for _, ts := range m.tiers {
		tier := ports.TierStats{
			Name:         ts.tier.Name(),
			Hits:         ts.hits.Value(),
			Misses:       ts.misses.Value(),
			EvictionsTTL: ts.ttlEvictions.Value(),
			Errors:       ts.errors.Value(),
			Degraded:     ts.degraded.Load(),
			Size:         -1,
		}
		if ev, ok := ts.tier.(evictingTier); ok {
			tier.EvictionsLRU = ev.Evictions()
		}
		if n, err := ts.tier.Len(ctx); err == nil {
			tier.Size = n
		}
		stats.Tiers = append(stats.Tiers, tier)
	}
	return stats
}

// Close flushes the write queue, stops the sweeper and probes, and closes
// every tier. Safe to call more than once.
func (m *Manager) Close() error {
	var closeErr error
	m.stopOnce.Do(func() {
		close(m.stop)
		m.probeCancel()

		m.writeMu.Lock()
		m.writeClosed = true
		m.writeMu.Unlock()
		close(m.writes)

		m.wg.Wait()
		closeErr = m.closeTiers()
	})
	return closeErr
}

func (m *Manager) closeTiers() error {
	var lastErr error
	for _, ts := range m.tiers {
		if err := ts.tier.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// sealCredential fills SealedCredential from the in-process credential.
// Without a key the sealed form stays empty; the cleartext field is
// excluded from serialisation, so nothing secret reaches disk either way.
func (m *Manager) sealCredential(entry *domain.CacheEntry) error {
	if entry.Credential == nil || m.codec == nil {
		if m.codec == nil {
			entry.SealedCredential = ""
		}
		return nil
	}
	sealed, err := m.codec.Seal(entry.Credential)
	if err != nil {
		return fmt.Errorf("sealing credential for %s: %w", entry.ID, err)
	}
	entry.SealedCredential = sealed
	return nil
}

// attachCredential restores the in-process credential on a hit from a
// persistent tier. An entry whose blob cannot be opened with the configured
// keys is skipped rather than served without its credential.
func (m *Manager) attachCredential(entry *domain.CacheEntry) bool {
	if entry.Credential != nil || entry.SealedCredential == "" {
		return true
	}
	if m.codec == nil {
		m.logger.Warn("cache entry has sealed credential but no key is configured, skipping", "proxy_id", entry.ID)
		return false
	}
	cred, err := m.codec.Open(entry.SealedCredential)
	if err != nil {
		m.logger.Warn("cache entry credential cannot be opened, skipping", "proxy_id", entry.ID, "error", err)
		return false
	}
	entry.Credential = cred
	return true
}

func (m *Manager) promote(ctx context.Context, upper []*tierState, entry *domain.CacheEntry) {
	for _, ts := range upper {
		if !ts.live() {
			continue
		}
		if err := ts.tier.Set(ctx, entry); err != nil {
			m.tierError(ts, err)
			continue
		}
		m.tierOK(ts)
	}
}

func (m *Manager) enqueue(entry *domain.CacheEntry) bool {
	m.writeMu.RLock()
	defer m.writeMu.RUnlock()
	if m.writeClosed {
		return false
	}
	select {
	case m.writes <- entry:
		return true
	default:
		// Queue full: the caller falls back to a synchronous write.
		return false
	}
}

// writer drains the async queue into the durable tier. Ranging over the
// channel keeps draining after Close, which is what flushes pending writes
// during shutdown.
func (m *Manager) writer() {
	defer m.wg.Done()
	for entry := range m.writes {
		if m.durable == nil || !m.durable.live() {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), tierOpTimeout)
		if err := m.durable.tier.Set(ctx, entry); err != nil {
			m.tierError(m.durable, err)
		} else {
			m.tierOK(m.durable)
		}
		cancel()
	}
}

func (m *Manager) sweeper() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Sweep(context.Background())
		case <-m.stop:
			return
		}
	}
}

// Sweep drops expired entries from every live tier. Runs on the background
// ticker; exported so callers can force a pass.
func (m *Manager) Sweep(ctx context.Context) {
	now := time.Now()
	for _, ts := range m.tiers {
		if !ts.live() {
			continue
		}
		if exp, ok := ts.tier.(expiringTier); ok {
			n, err := exp.DeleteExpired(ctx, now)
			if err != nil {
				m.tierError(ts, err)
				continue
			}
			m.tierOK(ts)
			ts.ttlEvictions.Add(int64(n))
			continue
		}
		entries, err := ts.tier.Entries(ctx)
		if err != nil {
			m.tierError(ts, err)
			continue
		}
		m.tierOK(ts)
		for _, entry := range entries {
			if !entry.Expired(now) {
				continue
			}
			if err := ts.tier.Delete(ctx, entry.Key()); err != nil {
				m.tierError(ts, err)
				continue
			}
			ts.ttlEvictions.Inc()
		}
	}
}

func (m *Manager) tierOK(ts *tierState) {
	ts.failStreak.Store(0)
}

// tierError counts a fault and degrades the tier once the streak reaches
// the threshold. Degradation takes the tier out of every read and write
// path until a background probe succeeds.
func (m *Manager) tierError(ts *tierState, err error) {
	ts.errors.Inc()
	streak := ts.failStreak.Add(1)
	if int(streak) < m.degradeThreshold {
		return
	}
	if !ts.degraded.CompareAndSwap(false, true) {
		return
	}
	m.logger.Warn("cache tier degraded", "tier", ts.tier.Name(), "failures", streak, "error", err)
	m.publish(domain.Event{
		Timestamp: time.Now(),
		Type:      domain.EventCacheTierDegraded,
		Tier:      ts.tier.Name(),
		Error:     err,
		Detail:    fmt.Sprintf("disabled after %d consecutive failures", streak),
	})
	m.wg.Add(1)
	go m.reprobe(ts)
}

// reprobe retries a degraded tier until it answers again or the manager
// shuts down.
func (m *Manager) reprobe(ts *tierState) {
	defer m.wg.Done()
	err := retry.Do(
		func() error {
			ctx, cancel := context.WithTimeout(m.probeCtx, tierOpTimeout)
			defer cancel()
			_, err := ts.tier.Len(ctx)
			return err
		},
		retry.Context(m.probeCtx),
		retry.Attempts(0),
		retry.Delay(m.reprobeInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		// Shutdown won the race; the tier stays degraded.
		return
	}
	ts.failStreak.Store(0)
	ts.degraded.Store(false)
	m.logger.Info("cache tier recovered", "tier", ts.tier.Name())
	m.publish(domain.Event{
		Timestamp: time.Now(),
		Type:      domain.EventCacheTierRecovered,
		Tier:      ts.tier.Name(),
	})
}

func (m *Manager) publish(event domain.Event) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(event)
}
