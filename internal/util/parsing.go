package util

import (
	"time"
)

// ParseTime attempts to parse a timestamp from a proxy feed. Feeds are
// inconsistent about precision, so try RFC3339 then RFC3339Nano.
func ParseTime(timeStr string) *time.Time {
	if t, err := time.Parse(time.RFC3339, timeStr); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339Nano, timeStr); err == nil {
		return &t
	}
	return nil
}
