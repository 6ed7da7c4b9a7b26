package domain

import (
	"strings"
	"time"
)

// ProxyRecord is the ingestion form of a proxy: what provider feeds, warm
// files and the public API hand us. Credentials may arrive embedded in the
// URL or split out; both paths end in a Credential, never a stored string.
type ProxyRecord struct {
	URL            string    `json:"url"`
	Username       string    `json:"username,omitempty"`
	Password       string    `json:"password,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
	CountryCode    string    `json:"country,omitempty"`
	Region         string    `json:"region,omitempty"`
	Source         string    `json:"source,omitempty"`
	FetchedAt      time.Time `json:"fetched_at,omitempty"`
	CostPerRequest float64   `json:"cost_per_request,omitempty"`
	Weight         float64   `json:"weight,omitempty"`
}

// Validate checks the record without touching the network.
func (r *ProxyRecord) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return NewValidationError("url", r.URL, "proxy URL is required")
	}
	if _, err := CanonicalURL(r.URL); err != nil {
		return err
	}
	if r.Password != "" && r.Username == "" {
		return NewValidationError("username", "", "password given without username")
	}
	if r.CostPerRequest < 0 {
		return NewValidationError("cost_per_request", r.CostPerRequest, "must not be negative")
	}
	if r.Weight < 0 {
		return NewValidationError("weight", r.Weight, "must not be negative")
	}
	return nil
}

// ToProxy converts the record into a pool-ready proxy. Explicit
// username/password fields win over credentials embedded in the URL.
func (r *ProxyRecord) ToProxy() (*Proxy, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	p, err := NewProxy(r.URL)
	if err != nil {
		return nil, err
	}
	if cred := NewCredential(r.Username, r.Password); cred != nil {
		p.Credential = cred
	}
	for _, tag := range r.Tags {
		tag = strings.TrimSpace(tag)
		if tag != "" {
			p.Tags[strings.ToLower(tag)] = struct{}{}
		}
	}
	p.CountryCode = strings.ToUpper(strings.TrimSpace(r.CountryCode))
	p.Region = strings.TrimSpace(r.Region)
	p.CostPerRequest = r.CostPerRequest
	p.Weight = r.Weight
	p.Source = strings.TrimSpace(r.Source)
	if r.FetchedAt.IsZero() {
		p.FetchedAt = time.Now()
	} else {
		p.FetchedAt = r.FetchedAt
	}
	return p, nil
}
