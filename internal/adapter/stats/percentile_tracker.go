package stats

import (
	"math/rand/v2"
	"slices"
	"sync"
)

// PercentileTracker summarises a latency stream into p50/p95/p99.
type PercentileTracker interface {
	Add(value int64)
	GetPercentiles() (p50, p95, p99 int64)
	Count() int64
	Reset()
}

// ReservoirSampler keeps a fixed-size uniform sample of the stream so
// percentile memory stays bounded no matter how many requests flow
// through a proxy.
type ReservoirSampler struct {
	samples    []int64
	sampleSize int
	count      int64
	mu         sync.Mutex
}

func NewReservoirSampler(sampleSize int) *ReservoirSampler {
	if sampleSize <= 0 {
		sampleSize = 100
	}
	return &ReservoirSampler{
		sampleSize: sampleSize,
		samples:    make([]int64, 0, sampleSize),
	}
}

func (rs *ReservoirSampler) Add(value int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.count++
	if len(rs.samples) < rs.sampleSize {
		rs.samples = append(rs.samples, value)
		return
	}

	// classic reservoir step: every value keeps an equal chance of
	// being in the sample
	if j := rand.Int64N(rs.count); j < int64(rs.sampleSize) { //nolint:gosec // sampling, not security
		rs.samples[j] = value
	}
}

func (rs *ReservoirSampler) GetPercentiles() (p50, p95, p99 int64) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if len(rs.samples) == 0 {
		return 0, 0, 0
	}

	sorted := slices.Clone(rs.samples)
	slices.Sort(sorted)

	return sorted[rank(len(sorted), 50)], sorted[rank(len(sorted), 95)], sorted[rank(len(sorted), 99)]
}

func rank(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}

func (rs *ReservoirSampler) Count() int64 {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.count
}

func (rs *ReservoirSampler) Reset() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.samples = rs.samples[:0]
	rs.count = 0
}
