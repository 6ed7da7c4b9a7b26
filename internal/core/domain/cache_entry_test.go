package domain

import (
	"testing"
	"time"
)

func TestNewCacheEntrySnapshotsProxy(t *testing.T) {
	rec := &ProxyRecord{
		URL:            "http://user:pw@proxy.example.com:8080",
		Tags:           []string{"datacenter"},
		CountryCode:    "DE",
		Source:         "provider-b",
		CostPerRequest: 0.001,
	}
	p, err := rec.ToProxy()
	if err != nil {
		t.Fatalf("ToProxy() error: %v", err)
	}
	p.RecordOutcome(true, 90*time.Millisecond)
	p.RecordOutcome(false, 0)

	now := time.Now()
	entry := NewCacheEntry(p, "sealed-blob", time.Hour, now)

	if entry.URL != "http://proxy.example.com:8080" {
		t.Errorf("entry URL = %q, want the canonical form", entry.URL)
	}
	if entry.SealedCredential != "sealed-blob" {
		t.Error("entry should carry the sealed credential verbatim")
	}
	if entry.HealthStatus != StatusStringHealthy {
		t.Errorf("HealthStatus = %q, want healthy", entry.HealthStatus)
	}
	if entry.EMAResponseMs != 90 {
		t.Errorf("EMAResponseMs = %v, want 90", entry.EMAResponseMs)
	}
	if entry.SuccessRate != 0.5 {
		t.Errorf("SuccessRate = %v, want 0.5", entry.SuccessRate)
	}
	if !entry.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want one hour out", entry.ExpiresAt)
	}
}

func TestCacheEntryZeroTTLNeverExpires(t *testing.T) {
	p := newTestProxy(t, "http://proxy.example.com:8080")
	entry := NewCacheEntry(p, "", 0, time.Now())

	if entry.Expired(time.Now().Add(24 * 365 * time.Hour)) {
		t.Error("zero TTL entries should not expire")
	}
}

func TestCacheEntryExpired(t *testing.T) {
	p := newTestProxy(t, "http://proxy.example.com:8080")
	now := time.Now()
	entry := NewCacheEntry(p, "", time.Minute, now)

	if entry.Expired(now.Add(30 * time.Second)) {
		t.Error("entry should be live before its TTL lapses")
	}
	if !entry.Expired(now.Add(2 * time.Minute)) {
		t.Error("entry should expire after its TTL")
	}
}

func TestCacheEntryRoundTripsProxyState(t *testing.T) {
	rec := &ProxyRecord{
		URL:         "http://proxy.example.com:8080",
		Tags:        []string{"residential"},
		CountryCode: "GB",
		Region:      "eu-west",
		Weight:      3,
	}
	p, err := rec.ToProxy()
	if err != nil {
		t.Fatalf("ToProxy() error: %v", err)
	}
	p.RestoreState(StatusDegraded, 4)

	entry := NewCacheEntry(p, "", time.Hour, time.Now())
	back, err := entry.ToProxy(NewCredential("user", "pw"))
	if err != nil {
		t.Fatalf("entry.ToProxy() error: %v", err)
	}

	if back.ID != p.ID {
		t.Error("rehydration should keep the proxy ID")
	}
	if back.Status() != StatusDegraded {
		t.Errorf("rehydrated status = %v, want degraded", back.Status())
	}
	if got := back.MetricsSnapshot().ConsecutiveFailures; got != 4 {
		t.Errorf("rehydrated ConsecutiveFailures = %d, want 4", got)
	}
	if !back.HasTag("residential") || back.CountryCode != "GB" || back.Weight != 3 {
		t.Error("rehydration should keep metadata")
	}
	if back.Credential.Username() != "user" {
		t.Error("rehydration should attach the unsealed credential")
	}
}

func TestCacheEntryBadStatusFallsBackToUnknown(t *testing.T) {
	p := newTestProxy(t, "http://proxy.example.com:8080")
	entry := NewCacheEntry(p, "", time.Hour, time.Now())
	entry.HealthStatus = "corrupted"

	back, err := entry.ToProxy(nil)
	if err != nil {
		t.Fatalf("entry.ToProxy() error: %v", err)
	}
	if back.Status() != StatusUnknown {
		t.Errorf("unparseable status should rehydrate as unknown, got %v", back.Status())
	}
}
