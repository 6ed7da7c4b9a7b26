// Package eventbus is a typed pub/sub fan-out used for lifecycle signals.
// Subscribers get a buffered channel; a full buffer drops the event rather
// than blocking the publisher, so the request path never waits on a slow
// listener. Async publishes go through a small worker pool instead of a
// goroutine per event.
package eventbus

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type EventBus[T any] struct {
	subscribers   *xsync.Map[string, *subscriber[T]]
	queue         chan T
	stopWorkers   chan struct{}
	stopCleanup   chan struct{}
	cleanupTicker *time.Ticker
	workerWG      sync.WaitGroup
	subscriberSeq atomic.Uint64
	isShutdown    atomic.Bool
	bufferSize    int
}

type subscriber[T any] struct {
	id         string
	ch         chan T
	lastActive atomic.Int64
	dropped    atomic.Uint64
	isActive   atomic.Bool
}

type Config struct {
	// BufferSize is the per-subscriber channel depth.
	BufferSize int
	// AsyncWorkers and AsyncQueueSize bound PublishAsync; a full queue
	// drops the event.
	AsyncWorkers   int
	AsyncQueueSize int
	// CleanupPeriod <= 0 disables the inactive-subscriber sweep.
	CleanupPeriod   time.Duration
	InactiveTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:      100,
		AsyncWorkers:    2,
		AsyncQueueSize:  256,
		CleanupPeriod:   5 * time.Minute,
		InactiveTimeout: 10 * time.Minute,
	}
}

func New[T any]() *EventBus[T] {
	return NewWithConfig[T](DefaultConfig())
}

func NewWithConfig[T any](cfg Config) *EventBus[T] {
	if cfg.AsyncWorkers <= 0 {
		cfg.AsyncWorkers = 1
	}
	if cfg.AsyncQueueSize <= 0 {
		cfg.AsyncQueueSize = cfg.BufferSize
	}

	eb := &EventBus[T]{
		subscribers: xsync.NewMap[string, *subscriber[T]](),
		queue:       make(chan T, cfg.AsyncQueueSize),
		stopWorkers: make(chan struct{}),
		stopCleanup: make(chan struct{}),
		bufferSize:  cfg.BufferSize,
	}

	for i := 0; i < cfg.AsyncWorkers; i++ {
		eb.workerWG.Add(1)
		go eb.drainQueue()
	}

	if cfg.CleanupPeriod > 0 {
		eb.cleanupTicker = time.NewTicker(cfg.CleanupPeriod)
		go eb.cleanupLoop(cfg.InactiveTimeout)
	}

	return eb
}

// Subscribe registers a listener and returns its channel plus a cleanup
// func. The subscription also ends when ctx is cancelled. After Shutdown,
// Subscribe returns an already-closed channel.
func (eb *EventBus[T]) Subscribe(ctx context.Context) (<-chan T, func()) {
	if eb.isShutdown.Load() {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	id := "sub_" + strconv.FormatUint(eb.subscriberSeq.Add(1), 10)
	sub := &subscriber[T]{
		id: id,
		ch: make(chan T, eb.bufferSize),
	}
	sub.lastActive.Store(time.Now().UnixNano())
	sub.isActive.Store(true)

	eb.subscribers.Store(id, sub)

	go func() {
		<-ctx.Done()
		eb.unsubscribe(id)
	}()

	return sub.ch, func() { eb.unsubscribe(id) }
}

// Publish delivers event to every active subscriber and reports how many
// received it. Subscribers with a full buffer are skipped and their drop
// counter bumped.
func (eb *EventBus[T]) Publish(event T) int {
	if eb.isShutdown.Load() {
		return 0
	}

	delivered := 0
	now := time.Now().UnixNano()

	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if !sub.isActive.Load() {
			return true
		}
		select {
		case sub.ch <- event:
			sub.lastActive.Store(now)
			delivered++
		default:
			sub.dropped.Add(1)
		}
		return true
	})

	return delivered
}

// PublishAsync hands the event to the worker pool and returns immediately.
// Events published after Shutdown, or while the queue is full, are dropped.
func (eb *EventBus[T]) PublishAsync(event T) {
	if eb.isShutdown.Load() {
		return
	}
	select {
	case eb.queue <- event:
	default:
	}
}

// Shutdown stops the workers, closes every subscriber channel and makes
// all further operations no-ops. Safe to call more than once.
func (eb *EventBus[T]) Shutdown() {
	if !eb.isShutdown.CompareAndSwap(false, true) {
		return
	}

	close(eb.stopWorkers)
	eb.workerWG.Wait()

	if eb.cleanupTicker != nil {
		eb.cleanupTicker.Stop()
		close(eb.stopCleanup)
	}

	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		sub.isActive.Store(false)
		close(sub.ch)
		return true
	})
	eb.subscribers.Clear()
}

type Stats struct {
	TotalSubscribers  int
	ActiveSubscribers int
	TotalDropped      uint64
	IsShutdown        bool
}

func (eb *EventBus[T]) Stats() Stats {
	stats := Stats{IsShutdown: eb.isShutdown.Load()}
	if stats.IsShutdown {
		return stats
	}

	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		stats.TotalSubscribers++
		if sub.isActive.Load() {
			stats.ActiveSubscribers++
		}
		stats.TotalDropped += sub.dropped.Load()
		return true
	})

	return stats
}

func (eb *EventBus[T]) unsubscribe(id string) {
	if sub, exists := eb.subscribers.LoadAndDelete(id); exists {
		sub.isActive.Store(false)
		close(sub.ch)
	}
}

// drainQueue feeds queued async events into Publish. The queue is never
// closed; workers exit via stopWorkers so PublishAsync can never hit a
// closed channel.
func (eb *EventBus[T]) drainQueue() {
	defer eb.workerWG.Done()
	for {
		select {
		case event := <-eb.queue:
			eb.Publish(event)
		case <-eb.stopWorkers:
			return
		}
	}
}

func (eb *EventBus[T]) cleanupLoop(inactiveTimeout time.Duration) {
	for {
		select {
		case <-eb.stopCleanup:
			return
		case <-eb.cleanupTicker.C:
			eb.sweepInactive(inactiveTimeout)
		}
	}
}

func (eb *EventBus[T]) sweepInactive(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout).UnixNano()
	var stale []string

	eb.subscribers.Range(func(id string, sub *subscriber[T]) bool {
		if !sub.isActive.Load() || sub.lastActive.Load() < cutoff {
			stale = append(stale, id)
		}
		return true
	})

	for _, id := range stale {
		eb.unsubscribe(id)
	}
}
