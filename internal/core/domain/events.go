package domain

import (
	"time"
)

// EventType names one kind of engine signal.
type EventType string

const (
	EventProxyAdded         EventType = "proxy.added"
	EventProxyRemoved       EventType = "proxy.removed"
	EventProxyStatusChanged EventType = "proxy.status_changed"
	EventBreakerOpened      EventType = "breaker.opened"
	EventBreakerClosed      EventType = "breaker.closed"
	EventCacheTierDegraded  EventType = "cache.tier_degraded"
	EventCacheTierRecovered EventType = "cache.tier_recovered"
	EventStrategyChanged    EventType = "strategy.changed"
)

// Event is one health signal published on the engine's event bus.
// ProxyID, Tier, From and To are filled as the event type requires.
type Event struct {
	Timestamp time.Time
	Error     error
	Type      EventType
	ProxyID   string
	Tier      string
	From      string
	To        string
	Detail    string
}
