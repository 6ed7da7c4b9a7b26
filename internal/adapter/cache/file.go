package cache

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gofrs/flock"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
)

const (
	DefaultFileCapacity = 5000
	DefaultFileShards   = 4

	// a shard rewrites itself once appended lines outnumber live
	// entries by this factor
	compactionFactor = 4

	fileOpSet    = "set"
	fileOpDelete = "del"

	maxRecordLine = 1 << 20
)

// fileRecord is one JSONL line. Set records carry the entry; delete
// records only the key. On load, later lines win.
type fileRecord struct {
	Entry *domain.CacheEntry `json:"entry,omitempty"`
	Op    string             `json:"op"`
	Key   string             `json:"key,omitempty"`
}

// FileTier persists entries as sharded append-mostly JSONL. Each shard
// has its own mutex and an OS file lock so two processes cannot share
// a cache directory. Credentials appear here sealed only.
type FileTier struct {
	evictions *xsync.Counter
	dir       string
	shards    []*fileShard
}

type fileShard struct {
	mu       sync.Mutex
	entries  map[string]*domain.CacheEntry
	file     *os.File
	lock     *flock.Flock
	path     string
	appends  int
	capacity int
}

func NewFileTier(dir string, capacity, shardCount int) (*FileTier, error) {
	if capacity <= 0 {
		capacity = DefaultFileCapacity
	}
	if shardCount <= 0 {
		shardCount = DefaultFileShards
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cache directory: %w", err)
	}

	perShard := (capacity + shardCount - 1) / shardCount
	tier := &FileTier{
		dir:       dir,
		evictions: xsync.NewCounter(),
		shards:    make([]*fileShard, 0, shardCount),
	}

	for i := 0; i < shardCount; i++ {
		shard, err := openFileShard(
			filepath.Join(dir, fmt.Sprintf("cache-shard-%d.jsonl", i)),
			filepath.Join(dir, fmt.Sprintf("cache-shard-%d.lock", i)),
			perShard,
		)
		if err != nil {
			tier.closeShards()
			return nil, err
		}
		tier.shards = append(tier.shards, shard)
	}

	return tier, nil
}

func openFileShard(path, lockPath string, capacity int) (*fileShard, error) {
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking cache shard %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("cache shard %s is locked by another process", path)
	}

	shard := &fileShard{
		path:     path,
		lock:     lock,
		capacity: capacity,
		entries:  make(map[string]*domain.CacheEntry),
	}

	if err := shard.load(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("opening cache shard %s: %w", path, err)
	}
	shard.file = file

	return shard, nil
}

// load replays the shard log. Unparseable lines are dropped; a crash
// can leave a torn final line and the log must survive it.
func (s *fileShard) load() error {
	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache shard %s: %w", s.path, err)
	}
	defer file.Close()

	lines := 0
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxRecordLine)
	for scanner.Scan() {
		lines++
		var record fileRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			continue
		}
		switch record.Op {
		case fileOpSet:
			if record.Entry != nil {
				s.entries[record.Entry.Key()] = record.Entry
			}
		case fileOpDelete:
			delete(s.entries, record.Key)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading cache shard %s: %w", s.path, err)
	}

	s.appends = lines - len(s.entries)
	if s.appends < 0 {
		s.appends = 0
	}
	return nil
}

func (t *FileTier) Name() string { return TierFile }

func (t *FileTier) shardFor(key string) *fileShard {
	return t.shards[xxhash.Sum64String(key)%uint64(len(t.shards))]
}

func (t *FileTier) Get(_ context.Context, key string) (*domain.CacheEntry, bool, error) {
	s := t.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	// recency is tracked in memory and persisted at the next compaction
	entry.Touch(time.Now())
	return entry, true, nil
}

func (t *FileTier) Set(_ context.Context, entry *domain.CacheEntry) error {
	s := t.shardFor(entry.Key())

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[entry.Key()] = entry
	if err := s.append(fileRecord{Op: fileOpSet, Entry: entry}); err != nil {
		return err
	}

	for len(s.entries) > s.capacity {
		victim := s.leastRecentlyAccessed()
		delete(s.entries, victim)
		if err := s.append(fileRecord{Op: fileOpDelete, Key: victim}); err != nil {
			return err
		}
		t.evictions.Inc()
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing cache shard %s: %w", s.path, err)
	}
	return s.maybeCompact()
}

// SetBatch loads many entries with one sync per shard instead of one per
// record, which is what keeps bulk warming fast.
func (t *FileTier) SetBatch(_ context.Context, entries []*domain.CacheEntry) error {
	byShard := make(map[*fileShard][]*domain.CacheEntry)
	for _, entry := range entries {
		s := t.shardFor(entry.Key())
		byShard[s] = append(byShard[s], entry)
	}
	for s, batch := range byShard {
		if err := s.setAll(batch, t.evictions); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileShard) setAll(batch []*domain.CacheEntry, evictions *xsync.Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range batch {
		s.entries[entry.Key()] = entry
		if err := s.append(fileRecord{Op: fileOpSet, Entry: entry}); err != nil {
			return err
		}
	}
	for len(s.entries) > s.capacity {
		victim := s.leastRecentlyAccessed()
		delete(s.entries, victim)
		if err := s.append(fileRecord{Op: fileOpDelete, Key: victim}); err != nil {
			return err
		}
		evictions.Inc()
	}

	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing cache shard %s: %w", s.path, err)
	}
	return s.maybeCompact()
}

func (t *FileTier) Delete(_ context.Context, key string) error {
	s := t.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	if err := s.append(fileRecord{Op: fileOpDelete, Key: key}); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("syncing cache shard %s: %w", s.path, err)
	}
	return s.maybeCompact()
}

func (t *FileTier) Entries(_ context.Context) ([]*domain.CacheEntry, error) {
	var entries []*domain.CacheEntry
	for _, s := range t.shards {
		s.mu.Lock()
		for _, entry := range s.entries {
			entries = append(entries, entry)
		}
		s.mu.Unlock()
	}
	return entries, nil
}

func (t *FileTier) Len(_ context.Context) (int, error) {
	total := 0
	for _, s := range t.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total, nil
}

func (t *FileTier) Purge(_ context.Context) error {
	for _, s := range t.shards {
		s.mu.Lock()
		s.entries = make(map[string]*domain.CacheEntry)
		err := s.rewrite()
		s.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

// Close compacts each shard so in-memory recency reaches disk, then
// releases the file locks.
func (t *FileTier) Close() error {
	var firstErr error
	for _, s := range t.shards {
		s.mu.Lock()
		if err := s.rewrite(); err != nil && firstErr == nil {
			firstErr = err
		}
		if s.file != nil {
			if err := s.file.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			s.file = nil
		}
		if err := s.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
		s.mu.Unlock()
	}
	return firstErr
}

// Evictions reports how many entries capacity pressure has pushed out.
func (t *FileTier) Evictions() int64 {
	return t.evictions.Value()
}

func (t *FileTier) closeShards() {
	for _, s := range t.shards {
		if s.file != nil {
			_ = s.file.Close()
		}
		_ = s.lock.Unlock()
	}
}

// append writes one record line. Caller holds mu and syncs afterwards.
func (s *fileShard) append(record fileRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending to cache shard %s: %w", s.path, err)
	}
	s.appends++
	return nil
}

// leastRecentlyAccessed scans for the eviction victim. Caller holds mu
// and guarantees the shard is non-empty.
func (s *fileShard) leastRecentlyAccessed() string {
	var (
		victim string
		oldest time.Time
		first  = true
	)
	for key, entry := range s.entries {
		if first || entry.LastAccessed.Before(oldest) {
			victim = key
			oldest = entry.LastAccessed
			first = false
		}
	}
	return victim
}

func (s *fileShard) maybeCompact() error {
	threshold := compactionFactor * s.capacity
	if threshold < 64 {
		threshold = 64
	}
	if s.appends <= threshold {
		return nil
	}
	return s.rewrite()
}

// rewrite replaces the log with one set record per live entry. Caller
// holds mu.
func (s *fileShard) rewrite() error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".compact-*")
	if err != nil {
		return fmt.Errorf("compacting cache shard %s: %w", s.path, err)
	}
	tmpPath := tmp.Name()

	writer := bufio.NewWriter(tmp)
	for _, entry := range s.entries {
		line, err := json.Marshal(fileRecord{Op: fileOpSet, Entry: entry})
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return err
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
			return fmt.Errorf("compacting cache shard %s: %w", s.path, err)
		}
	}
	if err := writer.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("compacting cache shard %s: %w", s.path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("compacting cache shard %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("compacting cache shard %s: %w", s.path, err)
	}

	if s.file != nil {
		if err := s.file.Close(); err != nil {
			_ = os.Remove(tmpPath)
			return fmt.Errorf("compacting cache shard %s: %w", s.path, err)
		}
		s.file = nil
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("compacting cache shard %s: %w", s.path, err)
	}

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("reopening cache shard %s: %w", s.path, err)
	}
	s.file = file
	s.appends = 0
	return nil
}
