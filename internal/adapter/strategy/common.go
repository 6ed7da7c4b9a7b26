package strategy

import (
	"math/rand"
	"sort"
)

// minWeight keeps poorly-performing proxies selectable so their metrics can
// recover.
const minWeight = 0.1

// pickWeighted chooses an index by cumulative weight and binary search.
// Weights must already have their floors applied.
func pickWeighted(weights []float64) int {
	cumulative := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		total += w
		cumulative[i] = total
	}
	if total <= 0 {
		return 0
	}

	r := rand.Float64() * total
	idx := sort.SearchFloat64s(cumulative, r)
	if idx >= len(weights) {
		idx = len(weights) - 1
	}
	return idx
}
