package proxywhirl

import (
	"sort"
	"strings"
	"time"

	"github.com/proxywhirl/proxywhirl/internal/adapter/stats"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
)

// Request and Response are the dispatch surface; Event rides the Subscribe
// stream. They are the domain types verbatim.
type (
	Request     = domain.Request
	Response    = domain.Response
	ProxyRecord = domain.ProxyRecord
	ProxyStatus = domain.ProxyStatus
	Event       = domain.Event
	EventType   = domain.EventType
)

// Proxy health states.
const (
	StatusUnknown   = domain.StatusUnknown
	StatusHealthy   = domain.StatusHealthy
	StatusDegraded  = domain.StatusDegraded
	StatusUnhealthy = domain.StatusUnhealthy
	StatusDead      = domain.StatusDead
)

// Event types published on the Subscribe stream.
const (
	EventProxyAdded         = domain.EventProxyAdded
	EventProxyRemoved       = domain.EventProxyRemoved
	EventProxyStatusChanged = domain.EventProxyStatusChanged
	EventBreakerOpened      = domain.EventBreakerOpened
	EventBreakerClosed      = domain.EventBreakerClosed
	EventCacheTierDegraded  = domain.EventCacheTierDegraded
	EventCacheTierRecovered = domain.EventCacheTierRecovered
	EventStrategyChanged    = domain.EventStrategyChanged
)

// Breaker views.
type (
	BreakerState    = ports.BreakerState
	BreakerSnapshot = ports.BreakerSnapshot
)

const (
	BreakerClosed   = ports.BreakerClosed
	BreakerOpen     = ports.BreakerOpen
	BreakerHalfOpen = ports.BreakerHalfOpen
)

// Statistics views.
type (
	EngineStats    = ports.EngineStats
	ProxyStats     = ports.ProxyStats
	SelectionStats = stats.SelectionStats
	CacheStats     = ports.CacheStats
	TierStats      = ports.TierStats
	RateDecision   = ports.RateDecision
)

// ProxyInfo is the public view of one pooled proxy. The URL is always
// redacted; credentials have no read path out of the client.
type ProxyInfo struct {
	LastUsed            time.Time `json:"last_used,omitempty"`
	FetchedAt           time.Time `json:"fetched_at,omitempty"`
	ID                  string    `json:"id"`
	URL                 string    `json:"url"`
	Status              string    `json:"status"`
	CountryCode         string    `json:"country,omitempty"`
	Region              string    `json:"region,omitempty"`
	Source              string    `json:"source,omitempty"`
	Tags                []string  `json:"tags,omitempty"`
	CostPerRequest      float64   `json:"cost_per_request,omitempty"`
	Weight              float64   `json:"weight,omitempty"`
	SuccessRate         float64   `json:"success_rate"`
	EMAResponseMs       float64   `json:"ema_response_ms"`
	TotalRequests       int64     `json:"total_requests"`
	ConsecutiveFailures int64     `json:"consecutive_failures"`
	HasCredential       bool      `json:"has_credential"`
}

// ProxyFilter narrows ListProxies. Zero values mean no constraint.
type ProxyFilter struct {
	Status  ProxyStatus
	Tag     string
	Country string
	Source  string
}

func (f ProxyFilter) matches(p *domain.Proxy) bool {
	if f.Status != "" && p.Status() != f.Status {
		return false
	}
	if f.Tag != "" && !p.HasTag(strings.ToLower(f.Tag)) {
		return false
	}
	if f.Country != "" && !strings.EqualFold(p.CountryCode, f.Country) {
		return false
	}
	if f.Source != "" && p.Source != f.Source {
		return false
	}
	return true
}

func proxyInfo(p *domain.Proxy) ProxyInfo {
	metrics := p.MetricsSnapshot()
	tags := make([]string, 0, len(p.Tags))
	for tag := range p.Tags {
		tags = append(tags, tag)
	}
	sort.Strings(tags)

	return ProxyInfo{
		ID:                  p.ID,
		URL:                 p.Redacted(),
		Status:              p.Status().String(),
		CountryCode:         p.CountryCode,
		Region:              p.Region,
		Source:              p.Source,
		Tags:                tags,
		CostPerRequest:      p.CostPerRequest,
		Weight:              p.Weight,
		FetchedAt:           p.FetchedAt,
		LastUsed:            metrics.LastUsed,
		SuccessRate:         metrics.SuccessRate(),
		EMAResponseMs:       metrics.EMAResponseMs,
		TotalRequests:       metrics.TotalRequests,
		ConsecutiveFailures: metrics.ConsecutiveFailures,
		HasCredential:       p.Credential != nil,
	}
}

// HealthReport is a census of the pool by health state.
type HealthReport struct {
	LastChanged time.Time      `json:"last_changed"`
	ByStatus    map[string]int `json:"by_status"`
	Proxies     []ProxyInfo    `json:"proxies"`
	Total       int            `json:"total"`
	Eligible    int            `json:"eligible"`
}

// Statistics is the full engine snapshot: request counters, per-proxy
// traffic, strategy selection costs, cache tiers and limiter health.
type Statistics struct {
	Proxies                map[string]ProxyStats     `json:"proxies"`
	Selections             map[string]SelectionStats `json:"selections"`
	Cache                  *CacheStats               `json:"cache,omitempty"`
	Strategy               string                    `json:"strategy"`
	Engine                 EngineStats               `json:"engine"`
	Uptime                 time.Duration             `json:"uptime"`
	PoolTotal              int                       `json:"pool_total"`
	PoolEligible           int                       `json:"pool_eligible"`
	RateLimitBackendErrors int64                     `json:"rate_limit_backend_errors,omitempty"`
}

// IngestReport sums up one Ingest call.
type IngestReport struct {
	Errors   []error `json:"-"`
	Added    int     `json:"added"`
	Merged   int     `json:"merged"`
	Rejected int     `json:"rejected"`
}

// BatchResult is one outcome of BatchGet, in input order.
type BatchResult struct {
	Response *Response `json:"response,omitempty"`
	Err      error     `json:"-"`
	URL      string    `json:"url"`
}
