// Package nerdstats snapshots the Go runtime for the optional
// engineering dump logged at client close.
package nerdstats

import (
	"runtime"
	"time"

	"github.com/proxywhirl/proxywhirl/pkg/format"
)

type NerdStats struct {
	LastGC time.Time

	GoVersion string

	HeapAlloc    uint64
	HeapSys      uint64
	HeapInuse    uint64
	HeapReleased uint64
	TotalAlloc   uint64
	Mallocs      uint64
	Frees        uint64

	TotalGCTime time.Duration
	Uptime      time.Duration

	NumGoroutines int
	NumCPU        int
	NumGC         uint32

	GCCPUFraction float64
}

// Snapshot reads the runtime counters. startTime is the process or client
// start used for Uptime.
func Snapshot(startTime time.Time) *NerdStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := &NerdStats{
		HeapAlloc:     m.HeapAlloc,
		HeapSys:       m.HeapSys,
		HeapInuse:     m.HeapInuse,
		HeapReleased:  m.HeapReleased,
		TotalAlloc:    m.TotalAlloc,
		Mallocs:       m.Mallocs,
		Frees:         m.Frees,
		NumGC:         m.NumGC,
		GCCPUFraction: m.GCCPUFraction,
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		GoVersion:     runtime.Version(),
		Uptime:        time.Since(startTime),
	}

	if m.LastGC > 0 {
		stats.LastGC = time.Unix(0, int64(m.LastGC))
		stats.TotalGCTime = time.Duration(m.PauseTotalNs)
	}

	return stats
}

// CalculateAverageGCPause renders the mean GC pause, or "N/A" before the
// first collection.
func CalculateAverageGCPause(stats *NerdStats) string {
	if stats.NumGC == 0 {
		return "N/A"
	}
	return format.Duration(stats.TotalGCTime / time.Duration(stats.NumGC))
}
