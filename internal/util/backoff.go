package util

import (
	"math"
	"math/rand"
	"time"
)

// Backoff growth curves accepted by CalculateBackoff.
const (
	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
	BackoffFixed       = "fixed"
)

// CalculateExponentialBackoff computes the delay before retry attempt n
// (1-based): base * multiplier^(n-1), capped at maxDelay. When jitter is on
// the result is scaled by a random factor in [0.5, 1.5) so synchronised
// retries spread out.
func CalculateExponentialBackoff(attempt int, baseDelay, maxDelay time.Duration, multiplier float64, jitter bool) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 2
	}

	backoff := float64(baseDelay) * math.Pow(multiplier, float64(attempt-1))
	if maxDelay > 0 && backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitter {
		backoff *= 0.5 + rand.Float64()
	}

	return time.Duration(backoff)
}

// CalculateBackoff computes the delay before retry attempt n (1-based)
// using the named growth curve. Linear grows as base*n, fixed stays at
// base. Unknown names fall back to exponential. Cap and jitter behave as
// in CalculateExponentialBackoff.
func CalculateBackoff(strategy string, attempt int, baseDelay, maxDelay time.Duration, multiplier float64, jitter bool) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var backoff float64
	switch strategy {
	case BackoffLinear:
		backoff = float64(baseDelay) * float64(attempt)
	case BackoffFixed:
		backoff = float64(baseDelay)
	default:
		return CalculateExponentialBackoff(attempt, baseDelay, maxDelay, multiplier, jitter)
	}

	if maxDelay > 0 && backoff > float64(maxDelay) {
		backoff = float64(maxDelay)
	}

	if jitter {
		backoff *= 0.5 + rand.Float64()
	}

	return time.Duration(backoff)
}
