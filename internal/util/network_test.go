package util

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("Generated IDs should be unique")
	}

	if len(id1) == 0 {
		t.Error("Generated ID should not be empty")
	}

	// Should follow the pattern: relay_motion_suffix
	if strings.Count(id1, "_") != 2 {
		t.Errorf("Generated ID should have three parts: %s", id1)
	}
}

func TestParseTrustedCIDRs(t *testing.T) {
	cidrs, err := ParseTrustedCIDRs([]string{"10.0.0.0/8", " 192.168.1.0/24 ", ""})
	if err != nil {
		t.Fatalf("ParseTrustedCIDRs() error: %v", err)
	}
	if len(cidrs) != 2 {
		t.Errorf("Expected 2 CIDRs, got %d", len(cidrs))
	}
}

func TestParseTrustedCIDRsWidensBareIPs(t *testing.T) {
	cidrs, err := ParseTrustedCIDRs([]string{"192.168.1.5", "2001:db8::1"})
	if err != nil {
		t.Fatalf("ParseTrustedCIDRs() error: %v", err)
	}
	if len(cidrs) != 2 {
		t.Fatalf("Expected 2 CIDRs, got %d", len(cidrs))
	}
	if ones, _ := cidrs[0].Mask.Size(); ones != 32 {
		t.Errorf("Bare IPv4 should widen to /32, got /%d", ones)
	}
	if ones, _ := cidrs[1].Mask.Size(); ones != 128 {
		t.Errorf("Bare IPv6 should widen to /128, got /%d", ones)
	}
}

func TestParseTrustedCIDRsInvalid(t *testing.T) {
	if _, err := ParseTrustedCIDRs([]string{"not-a-cidr"}); err == nil {
		t.Error("ParseTrustedCIDRs() should reject garbage")
	}
}

func TestIPInCIDRs(t *testing.T) {
	cidrs, err := ParseTrustedCIDRs([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("ParseTrustedCIDRs() error: %v", err)
	}

	if !IPInCIDRs("10.1.2.3", cidrs) {
		t.Error("10.1.2.3 should match 10.0.0.0/8")
	}
	if IPInCIDRs("192.168.1.1", cidrs) {
		t.Error("192.168.1.1 should not match 10.0.0.0/8")
	}
	if IPInCIDRs("api-client-42", cidrs) {
		t.Error("non-IP identifiers should never match")
	}
	if IPInCIDRs("10.1.2.3", nil) {
		t.Error("empty CIDR list should never match")
	}
}

func TestCalculateExponentialBackoff(t *testing.T) {
	base := time.Second
	maxDelay := 30 * time.Second

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first retry", 1, time.Second},
		{"second retry", 2, 2 * time.Second},
		{"third retry", 3, 4 * time.Second},
		{"capped", 10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateExponentialBackoff(tt.attempt, base, maxDelay, 2, false)
			if got != tt.want {
				t.Errorf("attempt %d = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestCalculateExponentialBackoffJitterRange(t *testing.T) {
	base := time.Second
	for i := 0; i < 100; i++ {
		got := CalculateExponentialBackoff(2, base, 30*time.Second, 2, true)
		if got < time.Second || got > 3*time.Second {
			t.Fatalf("jittered delay %v outside [1s, 3s)", got)
		}
	}
}

func TestCalculateExponentialBackoffZeroAttempt(t *testing.T) {
	if got := CalculateExponentialBackoff(0, time.Second, time.Minute, 2, true); got != 0 {
		t.Errorf("attempt 0 should give no delay, got %v", got)
	}
}

func TestCalculateBackoffCurves(t *testing.T) {
	base := time.Second
	maxDelay := 30 * time.Second

	tests := []struct {
		name     string
		strategy string
		attempt  int
		want     time.Duration
	}{
		{"exponential first", BackoffExponential, 1, time.Second},
		{"exponential third", BackoffExponential, 3, 4 * time.Second},
		{"linear first", BackoffLinear, 1, time.Second},
		{"linear third", BackoffLinear, 3, 3 * time.Second},
		{"linear capped", BackoffLinear, 45, 30 * time.Second},
		{"fixed first", BackoffFixed, 1, time.Second},
		{"fixed fifth", BackoffFixed, 5, time.Second},
		{"unknown falls back to exponential", "quadratic", 3, 4 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateBackoff(tt.strategy, tt.attempt, base, maxDelay, 2, false)
			if got != tt.want {
				t.Errorf("%s attempt %d = %v, want %v", tt.strategy, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestCalculateBackoffJitterRange(t *testing.T) {
	base := 2 * time.Second
	for i := 0; i < 100; i++ {
		got := CalculateBackoff(BackoffFixed, 4, base, 30*time.Second, 2, true)
		if got < time.Second || got > 3*time.Second {
			t.Fatalf("jittered fixed delay %v outside [1s, 3s)", got)
		}
	}
}
