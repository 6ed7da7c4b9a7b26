package pattern

import "testing"

func TestMatchesGlob(t *testing.T) {
	tests := []struct {
		name    string
		s       string
		pattern string
		want    bool
	}{
		{"star matches anything", "api.example.com/users", "*", true},
		{"exact match", "api.example.com", "api.example.com", true},
		{"exact mismatch", "api.example.com", "api.example.org", false},
		{"case insensitive", "API.Example.COM", "api.example.com", true},
		{"prefix", "api.example.com/users/42", "api.example.com/*", true},
		{"prefix mismatch", "cdn.example.com/users", "api.example.com/*", false},
		{"suffix", "shop.example.com", "*.example.com", true},
		{"contains", "eu-api.example.com/search", "*example*", true},
		{"middle wildcard", "api.example.com/v2/users", "api.*/users", true},
		{"middle wildcard mismatch", "api.example.com/v2/orders", "api.*/users", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MatchesGlob(tt.s, tt.pattern); got != tt.want {
				t.Errorf("MatchesGlob(%q, %q) = %v, want %v", tt.s, tt.pattern, got, tt.want)
			}
		})
	}
}
