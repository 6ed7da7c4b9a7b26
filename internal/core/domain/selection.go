package domain

// SelectionContext carries the per-request hints a strategy may honour.
// Zero values mean "no constraint".
type SelectionContext struct {
	// SessionID pins repeated requests to one proxy under the sticky
	// strategy.
	SessionID string

	// TargetCountry and TargetRegion steer geo-aware selection.
	TargetCountry string
	TargetRegion  string

	// MaxCostPerRequest caps the per-request spend for cost-aware
	// selection. Zero means unlimited.
	MaxCostPerRequest float64

	// FailedProxyIDs lists proxies already tried for this request so a
	// retry lands elsewhere when alternatives exist.
	FailedProxyIDs map[string]struct{}
}

// Exclude marks a proxy as already failed for this request.
func (sc *SelectionContext) Exclude(proxyID string) {
	if sc.FailedProxyIDs == nil {
		sc.FailedProxyIDs = make(map[string]struct{}, 2)
	}
	sc.FailedProxyIDs[proxyID] = struct{}{}
}

// Excluded reports whether the proxy already failed this request.
func (sc *SelectionContext) Excluded(proxyID string) bool {
	if sc == nil || sc.FailedProxyIDs == nil {
		return false
	}
	_, ok := sc.FailedProxyIDs[proxyID]
	return ok
}

// FilterExcluded removes already-failed proxies from candidates. An empty
// result is meaningful: the retry executor reads it as "every alternative
// already failed", so no silent fallback happens here.
func (sc *SelectionContext) FilterExcluded(candidates []*Proxy) []*Proxy {
	if sc == nil || len(sc.FailedProxyIDs) == 0 {
		return candidates
	}
	out := make([]*Proxy, 0, len(candidates))
	for _, p := range candidates {
		if !sc.Excluded(p.ID) {
			out = append(out, p)
		}
	}
	return out
}
