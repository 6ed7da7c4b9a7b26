package logger

import (
	"strings"
	"testing"
)

func TestStripAnsiCodes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain passthrough", "proxy pool ready", "proxy pool ready"},
		{"colour codes removed", "\x1b[31mdegraded:\x1b[0m proxy went \x1b[1;33msideways\x1b[0m", "degraded: proxy went sideways"},
		{"escape at end", "healthy\x1b[32m", "healthy"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripAnsiCodes(tt.in); got != tt.want {
				t.Errorf("stripAnsiCodes(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func BenchmarkStripAnsiCodes(b *testing.B) {
	var sb strings.Builder
	for i := 0; i < 1000; i++ {
		sb.WriteString("\x1b[31mproxy\x1b[0m http://a.example:8080 \x1b[1;33mdegraded\x1b[0m ")
	}
	large := sb.String()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		stripAnsiCodes(large)
	}
}
