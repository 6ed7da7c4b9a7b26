package proxywhirl

import (
	"time"

	"github.com/proxywhirl/proxywhirl/internal/adapter/breaker"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
	"github.com/proxywhirl/proxywhirl/pkg/eventbus"
)

// eventingGate wraps the breaker gate and turns open/close transitions into
// bus events. The gate itself stays event-free; only the facade knows about
// the bus.
type eventingGate struct {
	gate *breaker.Gate
	bus  *eventbus.EventBus[domain.Event]
}

var _ ports.BreakerGate = (*eventingGate)(nil)

func newEventingGate(gate *breaker.Gate, bus *eventbus.EventBus[domain.Event]) *eventingGate {
	return &eventingGate{gate: gate, bus: bus}
}

func (e *eventingGate) Allow(proxyID string) bool { return e.gate.Allow(proxyID) }

func (e *eventingGate) RecordSuccess(proxyID string) {
	before := e.gate.State(proxyID)
	e.gate.RecordSuccess(proxyID)
	e.publishChange(proxyID, before, e.gate.State(proxyID))
}

func (e *eventingGate) RecordFailure(proxyID string) {
	before := e.gate.State(proxyID)
	e.gate.RecordFailure(proxyID)
	e.publishChange(proxyID, before, e.gate.State(proxyID))
}

func (e *eventingGate) State(proxyID string) ports.BreakerState { return e.gate.State(proxyID) }

func (e *eventingGate) Snapshot() []ports.BreakerSnapshot { return e.gate.Snapshot() }

func (e *eventingGate) Reset(proxyID string) bool {
	before := e.gate.State(proxyID)
	ok := e.gate.Reset(proxyID)
	if ok {
		e.publishChange(proxyID, before, ports.BreakerClosed)
	}
	return ok
}

func (e *eventingGate) Remove(proxyID string) { e.gate.Remove(proxyID) }

func (e *eventingGate) AllOpen(proxyIDs []string) bool { return e.gate.AllOpen(proxyIDs) }

func (e *eventingGate) publishChange(proxyID string, before, after ports.BreakerState) {
	if before == after {
		return
	}
	var eventType domain.EventType
	switch {
	case after == ports.BreakerOpen:
		eventType = domain.EventBreakerOpened
	case after == ports.BreakerClosed && before != ports.BreakerClosed:
		eventType = domain.EventBreakerClosed
	default:
		// closed -> half_open happens inside Allow and is not announced.
		return
	}
	e.bus.PublishAsync(domain.Event{
		Timestamp: time.Now(),
		Type:      eventType,
		ProxyID:   proxyID,
		From:      string(before),
		To:        string(after),
	})
}
