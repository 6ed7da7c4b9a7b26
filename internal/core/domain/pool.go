package domain

import (
	"sort"
	"sync"
	"time"
)

// PoolStats is a point-in-time census of the pool.
type PoolStats struct {
	LastChanged time.Time
	ByStatus    map[ProxyStatus]int
	Total       int
	Eligible    int
}

// TransitionFunc observes health state changes. Callbacks run on the caller's
// goroutine after the proxy lock is released; keep them cheap.
type TransitionFunc func(StatusTransition)

// Pool owns the proxy inventory. Proxies are deduplicated by canonical URL;
// a re-added proxy merges metadata into the existing entry instead of
// resetting its health history.
type Pool struct {
	lastChanged  time.Time
	byID         map[string]*Proxy
	byCanonical  map[string]*Proxy
	onTransition TransitionFunc
	order        []*Proxy
	policy       HealthPolicy
	nextSeq      uint64
	mu           sync.RWMutex
}

func NewPool(policy HealthPolicy) *Pool {
	return &Pool{
		byID:        make(map[string]*Proxy),
		byCanonical: make(map[string]*Proxy),
		policy:      policy,
		lastChanged: time.Now(),
	}
}

// OnTransition registers the single health-change observer. The engine wires
// this to the event bus and cache invalidation.
func (pl *Pool) OnTransition(fn TransitionFunc) {
	pl.mu.Lock()
	pl.onTransition = fn
	pl.mu.Unlock()
}

// Add inserts a proxy, or merges its metadata into the entry already holding
// the same canonical URL. Returns the pool's instance and whether it was new.
func (pl *Pool) Add(p *Proxy) (*Proxy, bool, error) {
	if p == nil || p.CanonicalURL == "" {
		return nil, false, NewValidationError("proxy", nil, "nil or unparsed proxy")
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if existing, ok := pl.byCanonical[p.CanonicalURL]; ok {
		mergeProxy(existing, p)
		pl.lastChanged = time.Now()
		return existing, false, nil
	}

	pl.nextSeq++
	p.seq = pl.nextSeq
	p.SetHealthPolicy(pl.policy)
	pl.byID[p.ID] = p
	pl.byCanonical[p.CanonicalURL] = p
	pl.order = append(pl.order, p)
	pl.lastChanged = time.Now()
	return p, true, nil
}

// mergeProxy folds a re-ingested record into the live entry. Health history
// is kept and tags are unioned. Fields that carry provenance follow the
// fresher fetch; an absent credential never erases one we already hold, and
// a stale one never displaces a fresher one.
func mergeProxy(dst, src *Proxy) {
	for tag := range src.Tags {
		dst.Tags[tag] = struct{}{}
	}

	fresher := dst.FetchedAt.IsZero() || !src.FetchedAt.Before(dst.FetchedAt)
	if src.Credential != nil && (dst.Credential == nil || fresher) {
		dst.Credential = src.Credential
	}
	if fresher {
		if src.CountryCode != "" {
			dst.CountryCode = src.CountryCode
		}
		if src.Region != "" {
			dst.Region = src.Region
		}
		if src.CostPerRequest > 0 {
			dst.CostPerRequest = src.CostPerRequest
		}
		if src.Weight > 0 {
			dst.Weight = src.Weight
		}
		if src.Source != "" {
			dst.Source = src.Source
		}
		if !src.FetchedAt.IsZero() {
			dst.FetchedAt = src.FetchedAt
		}
	}
}

// Remove drops a proxy by ID and returns it so callers can release the
// breaker, sessions and cache entries bound to it.
func (pl *Pool) Remove(id string) (*Proxy, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	p, ok := pl.byID[id]
	if !ok {
		return nil, NewPoolError("remove", id, NewValidationError("proxy_id", id, "unknown proxy"))
	}

	delete(pl.byID, id)
	delete(pl.byCanonical, p.CanonicalURL)
	for i, entry := range pl.order {
		if entry == p {
			pl.order = append(pl.order[:i], pl.order[i+1:]...)
			break
		}
	}
	pl.lastChanged = time.Now()
	return p, nil
}

func (pl *Pool) Get(id string) (*Proxy, bool) {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	p, ok := pl.byID[id]
	return p, ok
}

// GetByURL resolves a raw proxy URL to the pool entry holding its canonical
// form.
func (pl *Pool) GetByURL(rawURL string) (*Proxy, bool) {
	canonical, err := CanonicalURL(rawURL)
	if err != nil {
		return nil, false
	}
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	p, ok := pl.byCanonical[canonical]
	return p, ok
}

// Snapshot returns the proxies in insertion order. The slice is fresh; the
// pointers are shared live entries.
func (pl *Pool) Snapshot() []*Proxy {
	pl.mu.RLock()
	defer pl.mu.RUnlock()

	out := make([]*Proxy, len(pl.order))
	copy(out, pl.order)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Eligible returns the proxies whose health admits selection, in insertion
// order.
func (pl *Pool) Eligible() []*Proxy {
	all := pl.Snapshot()
	out := make([]*Proxy, 0, len(all))
	for _, p := range all {
		if p.IsEligible() {
			out = append(out, p)
		}
	}
	return out
}

func (pl *Pool) Len() int {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	return len(pl.byID)
}

// RecordOutcome feeds a request result into the proxy's health machine and
// notifies the transition observer when the status moved.
func (pl *Pool) RecordOutcome(id string, success bool, responseTime time.Duration) (StatusTransition, bool) {
	return pl.record(id, success, responseTime, false)
}

// RecordProbe feeds an active health probe result. Probes are the only path
// that revives a dead proxy.
func (pl *Pool) RecordProbe(id string, success bool, responseTime time.Duration) (StatusTransition, bool) {
	return pl.record(id, success, responseTime, true)
}

func (pl *Pool) record(id string, success bool, responseTime time.Duration, probe bool) (StatusTransition, bool) {
	pl.mu.RLock()
	p, ok := pl.byID[id]
	fn := pl.onTransition
	pl.mu.RUnlock()
	if !ok {
		return StatusTransition{}, false
	}

	var tr StatusTransition
	if probe {
		tr = p.RecordProbe(success, responseTime)
	} else {
		tr = p.RecordOutcome(success, responseTime)
	}
	if tr.From != tr.To && fn != nil {
		fn(tr)
	}
	return tr, true
}

// MarkDead forces a proxy to the terminal state, e.g. on repeated
// authentication failures.
func (pl *Pool) MarkDead(id, reason string) bool {
	pl.mu.RLock()
	p, ok := pl.byID[id]
	fn := pl.onTransition
	pl.mu.RUnlock()
	if !ok {
		return false
	}

	tr := p.MarkDead(reason)
	if tr.From != tr.To && fn != nil {
		fn(tr)
	}
	return true
}

// Clear empties the pool and returns the removed proxies.
func (pl *Pool) Clear() []*Proxy {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	removed := make([]*Proxy, len(pl.order))
	copy(removed, pl.order)
	pl.byID = make(map[string]*Proxy)
	pl.byCanonical = make(map[string]*Proxy)
	pl.order = nil
	pl.lastChanged = time.Now()
	return removed
}

// Stats counts proxies per health state.
func (pl *Pool) Stats() PoolStats {
	all := pl.Snapshot()

	pl.mu.RLock()
	lastChanged := pl.lastChanged
	pl.mu.RUnlock()

	stats := PoolStats{
		Total:       len(all),
		ByStatus:    make(map[ProxyStatus]int, 5),
		LastChanged: lastChanged,
	}
	for _, p := range all {
		status := p.Status()
		stats.ByStatus[status]++
		if status.IsEligible() {
			stats.Eligible++
		}
	}
	return stats
}
