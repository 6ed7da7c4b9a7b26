package domain

import (
	"time"
)

// CacheEntry is the persisted view of a proxy, shared by every cache tier.
// The key is the canonical URL. Credentials only ever appear here sealed;
// the cleartext never reaches a tier.
type CacheEntry struct {
	FetchedAt    time.Time `json:"fetched_at,omitempty"`
	StoredAt     time.Time `json:"stored_at"`
	LastAccessed time.Time `json:"last_accessed"`
	ExpiresAt    time.Time `json:"expires_at"`

	// Credential is the in-process cleartext wrapper, carried only while
	// the entry sits in the memory tier. Excluded from every serialised
	// form; persistent tiers see SealedCredential instead.
	Credential *Credential `json:"-"`

	ID                  string   `json:"id"`
	URL                 string   `json:"url"`
	SealedCredential    string   `json:"sealed_credential,omitempty"`
	CountryCode         string   `json:"country,omitempty"`
	Region              string   `json:"region,omitempty"`
	Source              string   `json:"source,omitempty"`
	HealthStatus        string   `json:"health_status"`
	Tags                []string `json:"tags,omitempty"`
	CostPerRequest      float64  `json:"cost_per_request,omitempty"`
	Weight              float64  `json:"weight,omitempty"`
	EMAResponseMs       float64  `json:"ema_response_ms,omitempty"`
	SuccessRate         float64  `json:"success_rate,omitempty"`
	ConsecutiveFailures int64    `json:"consecutive_failures,omitempty"`
}

// Key returns the cache key for this entry.
func (e *CacheEntry) Key() string {
	return e.URL
}

// Expired reports whether the entry's TTL has lapsed at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Touch refreshes the access time for LRU ordering.
func (e *CacheEntry) Touch(now time.Time) {
	e.LastAccessed = now
}

// NewCacheEntry snapshots a proxy into cache form. sealedCredential is the
// AEAD-sealed credential blob, or empty when the proxy has none.
func NewCacheEntry(p *Proxy, sealedCredential string, ttl time.Duration, now time.Time) *CacheEntry {
	metrics := p.MetricsSnapshot()
	tags := make([]string, 0, len(p.Tags))
	for tag := range p.Tags {
		tags = append(tags, tag)
	}

	entry := &CacheEntry{
		ID:                  p.ID,
		URL:                 p.CanonicalURL,
		Credential:          p.Credential,
		SealedCredential:    sealedCredential,
		Tags:                tags,
		CountryCode:         p.CountryCode,
		Region:              p.Region,
		CostPerRequest:      p.CostPerRequest,
		Weight:              p.Weight,
		Source:              p.Source,
		FetchedAt:           p.FetchedAt,
		StoredAt:            now,
		LastAccessed:        now,
		HealthStatus:        p.Status().String(),
		EMAResponseMs:       metrics.EMAResponseMs,
		SuccessRate:         metrics.SuccessRate(),
		ConsecutiveFailures: metrics.ConsecutiveFailures,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	return entry
}

// ToProxy rehydrates a pool-ready proxy from the entry. cred is the unsealed
// credential, nil when the entry had none or the key could not open it.
func (e *CacheEntry) ToProxy(cred *Credential) (*Proxy, error) {
	p, err := NewProxy(e.URL)
	if err != nil {
		return nil, err
	}
	if e.ID != "" {
		p.ID = e.ID
	}
	p.Credential = cred
	for _, tag := range e.Tags {
		p.Tags[tag] = struct{}{}
	}
	p.CountryCode = e.CountryCode
	p.Region = e.Region
	p.CostPerRequest = e.CostPerRequest
	p.Weight = e.Weight
	p.Source = e.Source
	p.FetchedAt = e.FetchedAt

	status := ProxyStatus(e.HealthStatus)
	if status.Validate() != nil {
		status = StatusUnknown
	}
	p.RestoreState(status, e.ConsecutiveFailures)
	return p, nil
}
