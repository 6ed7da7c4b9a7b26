package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
)

const DefaultStrategyRoundRobin = "round_robin"
const DefaultStrategyRandom = "random"
const DefaultStrategyWeighted = "weighted"
const DefaultStrategyLeastUsed = "least_used"
const DefaultStrategyPerformance = "performance"
const DefaultStrategySticky = "sticky"
const DefaultStrategyGeo = "geo"
const DefaultStrategyCost = "cost"
const DefaultStrategyComposite = "composite"

// Creator builds one strategy instance. The factory is passed in so
// wrapping strategies can resolve their inner selectors through the same
// registry.
type Creator func(f *Factory) (ports.Strategy, error)

type Factory struct {
	creators map[string]Creator
	cfg      config.StrategyConfig
	mu       sync.RWMutex
}

func NewFactory(cfg config.StrategyConfig) *Factory {
	factory := &Factory{
		creators: make(map[string]Creator),
		cfg:      cfg,
	}

	factory.Register(DefaultStrategyRoundRobin, func(f *Factory) (ports.Strategy, error) {
		return NewRoundRobin(), nil
	})
	factory.Register(DefaultStrategyRandom, func(f *Factory) (ports.Strategy, error) {
		return NewRandom(), nil
	})
	factory.Register(DefaultStrategyWeighted, func(f *Factory) (ports.Strategy, error) {
		return NewWeighted(), nil
	})
	factory.Register(DefaultStrategyLeastUsed, func(f *Factory) (ports.Strategy, error) {
		return NewLeastUsed(), nil
	})
	factory.Register(DefaultStrategyPerformance, func(f *Factory) (ports.Strategy, error) {
		return NewPerformance(f.cfg.Performance.ExplorationRequests), nil
	})
	factory.Register(DefaultStrategySticky, func(f *Factory) (ports.Strategy, error) {
		fallback, err := f.createInner(f.cfg.Sticky.Fallback, DefaultStrategySticky)
		if err != nil {
			return nil, err
		}
		return NewSticky(fallback, f.cfg.Sticky.SessionTTL, f.cfg.Sticky.MaxSessions), nil
	})
	factory.Register(DefaultStrategyGeo, func(f *Factory) (ports.Strategy, error) {
		secondary, err := f.createInner(f.cfg.Geo.Fallback, DefaultStrategyGeo)
		if err != nil {
			return nil, err
		}
		return NewGeo(secondary, f.cfg.Geo.Strict), nil
	})
	factory.Register(DefaultStrategyCost, func(f *Factory) (ports.Strategy, error) {
		return NewCost(f.cfg.Cost.FreeBoost), nil
	})
	factory.Register(DefaultStrategyComposite, func(f *Factory) (ports.Strategy, error) {
		return f.createComposite(f.cfg.Composite)
	})

	return factory
}

func (f *Factory) Register(name string, creator Creator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[name] = creator
}

func (f *Factory) Create(name string) (ports.Strategy, error) {
	f.mu.RLock()
	creator, exists := f.creators[name]
	f.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown rotation strategy: %s", name)
	}

	return creator(f)
}

// createInner resolves the fallback for a wrapping strategy. A fallback
// must itself be a plain selector; allowing sticky, geo or composite here
// would let two configs construct each other forever.
func (f *Factory) createInner(name, outer string) (ports.Strategy, error) {
	if name == "" {
		name = DefaultStrategyRoundRobin
	}
	switch name {
	case DefaultStrategySticky, DefaultStrategyGeo, DefaultStrategyComposite:
		return nil, fmt.Errorf("strategy %s cannot use %s as its fallback", outer, name)
	}
	return f.Create(name)
}

func (f *Factory) createComposite(names []string) (ports.Strategy, error) {
	if len(names) < 2 {
		return nil, fmt.Errorf("composite strategy needs at least one filter and a selector, got %d entries", len(names))
	}

	filters := make([]ports.CandidateFilter, 0, len(names)-1)
	filterNames := make([]string, 0, len(names)-1)
	for _, name := range names[:len(names)-1] {
		if name == DefaultStrategyComposite {
			return nil, fmt.Errorf("composite strategies cannot nest")
		}
		inner, err := f.Create(name)
		if err != nil {
			return nil, err
		}
		filter, ok := inner.(ports.CandidateFilter)
		if !ok {
			return nil, fmt.Errorf("strategy %s cannot act as a composite filter", name)
		}
		filters = append(filters, filter)
		filterNames = append(filterNames, name)
	}

	selectorName := names[len(names)-1]
	if selectorName == DefaultStrategyComposite {
		return nil, fmt.Errorf("composite strategies cannot nest")
	}
	selector, err := f.Create(selectorName)
	if err != nil {
		return nil, err
	}

	return NewComposite(filters, filterNames, selector), nil
}

func (f *Factory) GetAvailableStrategies() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	strategies := make([]string, 0, len(f.creators))
	for name := range f.creators {
		strategies = append(strategies, name)
	}
	sort.Strings(strategies)
	return strategies
}
