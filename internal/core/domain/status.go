package domain

import (
	"fmt"
	"time"
)

const (
	StatusStringUnknown   = "unknown"
	StatusStringHealthy   = "healthy"
	StatusStringDegraded  = "degraded"
	StatusStringUnhealthy = "unhealthy"
	StatusStringDead      = "dead"
)

type ProxyStatus string

const (
	StatusUnknown   ProxyStatus = StatusStringUnknown
	StatusHealthy   ProxyStatus = StatusStringHealthy
	StatusDegraded  ProxyStatus = StatusStringDegraded
	StatusUnhealthy ProxyStatus = StatusStringUnhealthy
	StatusDead      ProxyStatus = StatusStringDead
)

// IsEligible reports whether a proxy in this status may be handed to a
// strategy. Unknown proxies are eligible so fresh entries get a chance to
// prove themselves.
func (s ProxyStatus) IsEligible() bool {
	switch s {
	case StatusUnknown, StatusHealthy, StatusDegraded:
		return true
	default:
		return false
	}
}

func (s ProxyStatus) String() string {
	return string(s)
}

func (s ProxyStatus) Validate() error {
	switch s {
	case StatusUnknown, StatusHealthy, StatusDegraded, StatusUnhealthy, StatusDead:
		return nil
	default:
		return fmt.Errorf("invalid proxy status: %s", s)
	}
}

// StatusTransition records one health state change for event subscribers.
type StatusTransition struct {
	Timestamp time.Time
	ProxyID   string
	URL       string
	From      ProxyStatus
	To        ProxyStatus
	Reason    string
}
