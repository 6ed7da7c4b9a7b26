package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
)

const DefaultSessionTTL = time.Hour
const DefaultMaxSessions = 10000

// Sticky pins a session id to one proxy for as long as that proxy stays
// eligible. The first request of a session is assigned through the
// fallback strategy; later requests reuse the binding. Bindings expire
// after the session TTL and the oldest are evicted once max sessions is
// reached.
type Sticky struct {
	sessions *expirable.LRU[string, string]
	fallback ports.Strategy

	// bindMu serializes the miss path so concurrent first requests for a
	// session agree on a single binding.
	bindMu sync.Mutex
}

func NewSticky(fallback ports.Strategy, sessionTTL time.Duration, maxSessions int) *Sticky {
	if sessionTTL < 0 {
		sessionTTL = DefaultSessionTTL
	}
	if maxSessions < 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Sticky{
		sessions: expirable.NewLRU[string, string](maxSessions, nil, sessionTTL),
		fallback: fallback,
	}
}

func (s *Sticky) Name() string {
	return DefaultStrategySticky
}

func (s *Sticky) Select(ctx context.Context, candidates []*domain.Proxy, sel *domain.SelectionContext) (*domain.Proxy, error) {
	if sel == nil || sel.SessionID == "" {
		return nil, domain.NewValidationError("session_id", nil, "sticky strategy requires a session id")
	}

	eligible := sel.FilterExcluded(candidates)
	if len(eligible) == 0 {
		return nil, domain.ErrNoEligibleProxy
	}

	if proxy := s.bound(sel.SessionID, eligible); proxy != nil {
		return proxy, nil
	}

	// Miss, or the bound proxy fell out of the eligible set. Rebind under
	// the lock so racing callers all return the binding that sticks.
	s.bindMu.Lock()
	defer s.bindMu.Unlock()

	if proxy := s.bound(sel.SessionID, eligible); proxy != nil {
		return proxy, nil
	}

	selected, err := s.fallback.Select(ctx, eligible, sel)
	if err != nil {
		return nil, err
	}

	s.sessions.Add(sel.SessionID, selected.ID)
	return selected, nil
}

// bound resolves an existing session binding against the eligible set.
func (s *Sticky) bound(sessionID string, eligible []*domain.Proxy) *domain.Proxy {
	proxyID, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	for _, candidate := range eligible {
		if candidate.ID == proxyID {
			return candidate
		}
	}
	return nil
}

func (s *Sticky) RecordOutcome(proxy *domain.Proxy, success bool, responseTime time.Duration) {
	s.fallback.RecordOutcome(proxy, success, responseTime)
}

// CloseSession drops a binding ahead of its TTL. Returns whether a live
// binding existed.
func (s *Sticky) CloseSession(sessionID string) bool {
	return s.sessions.Remove(sessionID)
}

// ReleaseProxy drops every session bound to the given proxy, typically
// because it left the pool or died.
func (s *Sticky) ReleaseProxy(proxyID string) {
	for _, sessionID := range s.sessions.Keys() {
		if bound, ok := s.sessions.Peek(sessionID); ok && bound == proxyID {
			s.sessions.Remove(sessionID)
		}
	}
}

// Sessions reports the number of live bindings.
func (s *Sticky) Sessions() int {
	return s.sessions.Len()
}
