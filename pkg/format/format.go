// Package format holds the human-readable formatting helpers used in log
// lines and CLI output.
package format

import (
	"fmt"
	"time"
)

// Latency renders a millisecond count the way it reads best at a glance:
// sub-second values in ms, anything above in seconds with one decimal.
func Latency(ms int64) string {
	switch {
	case ms <= 0:
		return "0ms"
	case ms >= 1000:
		return fmt.Sprintf("%.1fs", float64(ms)/1000.0)
	default:
		return fmt.Sprintf("%dms", ms)
	}
}

// ProxiesUp renders an "eligible/total" pool census.
func ProxiesUp(eligible, total int) string {
	return fmt.Sprintf("%d/%d", eligible, total)
}

func Percentage(value float64) string {
	switch value {
	case 0:
		return "0%"
	case 100:
		return "100%"
	default:
		return fmt.Sprintf("%.1f%%", value)
	}
}

// Duration collapses a duration to its two most significant units.
func Duration(d time.Duration) string {
	if d < time.Second {
		return d.String()
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%dh%dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// TimeAgo renders how long ago t was, or "never" for the zero time.
func TimeAgo(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return Duration(time.Since(t)) + " ago"
}
