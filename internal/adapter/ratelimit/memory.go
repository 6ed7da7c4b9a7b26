package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

const (
	memoryCleanupInterval = time.Minute
	memoryIdleCutoff      = 10 * time.Minute
)

// outcome is a backend's raw answer for one take or peek. oldest is the
// earliest admit still inside the window, zero when the window is empty.
type outcome struct {
	oldest  time.Time
	count   int
	allowed bool
}

// backend runs the prune-count-append sequence for one key. Shared
// backends must run the whole sequence atomically server-side.
type backend interface {
	take(ctx context.Context, key string, limit int, window time.Duration) (outcome, error)
	peek(ctx context.Context, key string, limit int, window time.Duration) (outcome, error)
	close() error
}

// memoryBackend keeps sliding windows in-process. Windows are created
// on first use and reaped once idle so abandoned identifiers do not
// accumulate.
type memoryBackend struct {
	windows       *xsync.Map[string, *window]
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

// window holds admit timestamps, oldest first. time.Now readings carry
// Go's monotonic clock, so pruning survives wall-clock jumps.
type window struct {
	mu         sync.Mutex
	events     []time.Time
	lastAccess time.Time
}

func newMemoryBackend() *memoryBackend {
	b := &memoryBackend{
		windows:       xsync.NewMap[string, *window](),
		cleanupTicker: time.NewTicker(memoryCleanupInterval),
		stopCleanup:   make(chan struct{}),
	}
	go b.cleanupRoutine()
	return b
}

func (b *memoryBackend) take(_ context.Context, key string, limit int, windowDur time.Duration) (outcome, error) {
	return b.check(key, limit, windowDur, true), nil
}

func (b *memoryBackend) peek(_ context.Context, key string, limit int, windowDur time.Duration) (outcome, error) {
	return b.check(key, limit, windowDur, false), nil
}

func (b *memoryBackend) check(key string, limit int, windowDur time.Duration, consume bool) outcome {
	w, _ := b.windows.LoadOrCompute(key, func() (*window, bool) {
		return &window{}, false
	})

	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastAccess = now

	cutoff := now.Add(-windowDur)
	idx := 0
	for idx < len(w.events) && !w.events[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		w.events = append(w.events[:0], w.events[idx:]...)
	}

	if len(w.events) >= limit {
		return outcome{allowed: false, count: len(w.events), oldest: w.events[0]}
	}

	if consume {
		w.events = append(w.events, now)
	}

	out := outcome{allowed: true, count: len(w.events)}
	if len(w.events) > 0 {
		out.oldest = w.events[0]
	}
	return out
}

func (b *memoryBackend) close() error {
	b.stopOnce.Do(func() {
		b.cleanupTicker.Stop()
		close(b.stopCleanup)
	})
	return nil
}

func (b *memoryBackend) cleanupRoutine() {
	for {
		select {
		case <-b.stopCleanup:
			return
		case <-b.cleanupTicker.C:
			b.reapIdle()
		}
	}
}

// reapIdle removes windows that have not been touched recently. Called
// periodically from the cleanup goroutine.
func (b *memoryBackend) reapIdle() {
	cutoff := time.Now().Add(-memoryIdleCutoff)

	b.windows.Range(func(key string, w *window) bool {
		w.mu.Lock()
		idle := w.lastAccess.Before(cutoff)
		w.mu.Unlock()

		if idle {
			b.windows.Delete(key)
		}
		return true
	})
}
