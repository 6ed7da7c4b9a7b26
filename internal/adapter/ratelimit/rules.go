package ratelimit

import (
	"fmt"
	"net"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/util"
	"github.com/proxywhirl/proxywhirl/internal/util/pattern"
)

// Rule-source labels carried on decisions so logs can say which rule
// fired.
const (
	RuleWhitelist = "whitelist"
	RuleUnlimited = "unlimited"
	RuleGlobal    = "global"
)

// Rules is the reloadable part of the limiter configuration. It mirrors
// the rate_limit block of the main config so one YAML file can serve as
// both the embedded rules and the hot-reload file.
type Rules struct {
	Tiers     map[string]config.RateRule `yaml:"tiers"`
	Global    config.RateRule            `yaml:"global"`
	Endpoints []config.EndpointRateRule  `yaml:"endpoints"`
	Whitelist []string                   `yaml:"whitelist"`
}

// RulesFromConfig lifts the embedded rate_limit block into a rule set.
func RulesFromConfig(cfg config.RateLimitConfig) Rules {
	return Rules{
		Global:    cfg.Global,
		Tiers:     cfg.Tiers,
		Endpoints: cfg.Endpoints,
		Whitelist: cfg.Whitelist,
	}
}

// LoadRulesFile reads a YAML rule file. The file may either be a bare
// rules document or a full config file carrying a rate_limit block.
func LoadRulesFile(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("reading rate limit rules: %w", err)
	}

	var wrapped struct {
		RateLimit *Rules `yaml:"rate_limit"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && wrapped.RateLimit != nil {
		return *wrapped.RateLimit, nil
	}

	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("parsing rate limit rules %s: %w", path, err)
	}
	return rules, nil
}

// compiledRules is the immutable, pre-parsed form the hot path reads.
// A reload builds a fresh one and swaps it in atomically.
type compiledRules struct {
	tiers          map[string]config.RateRule
	whitelistExact map[string]struct{}
	global         config.RateRule
	endpoints      []compiledEndpoint
	whitelistGlobs []string
	whitelistCIDRs []*net.IPNet
}

type compiledEndpoint struct {
	pattern string
	tier    string
	rule    config.RateRule
}

func compileRules(rules Rules) (*compiledRules, error) {
	compiled := &compiledRules{
		global:         rules.Global,
		tiers:          make(map[string]config.RateRule, len(rules.Tiers)),
		whitelistExact: make(map[string]struct{}),
	}

	if err := validateRule("global", rules.Global); err != nil {
		return nil, err
	}
	for name, rule := range rules.Tiers {
		if err := validateRule("tier "+name, rule); err != nil {
			return nil, err
		}
		compiled.tiers[name] = rule
	}

	for _, ep := range rules.Endpoints {
		if strings.TrimSpace(ep.Pattern) == "" {
			return nil, fmt.Errorf("endpoint rule with empty pattern")
		}
		rule := config.RateRule{Requests: ep.Requests, Window: ep.Window}
		if rule.Requests == 0 && ep.Tier != "" {
			// limits come from the named tier; the rule only scopes it
			tierRule, ok := rules.Tiers[ep.Tier]
			if !ok {
				return nil, fmt.Errorf("endpoint rule %q references unknown tier %q", ep.Pattern, ep.Tier)
			}
			rule = tierRule
		}
		if err := validateRule("endpoint "+ep.Pattern, rule); err != nil {
			return nil, err
		}
		compiled.endpoints = append(compiled.endpoints, compiledEndpoint{
			pattern: ep.Pattern,
			tier:    ep.Tier,
			rule:    rule,
		})
	}

	var cidrEntries []string
	for _, entry := range rules.Whitelist {
		entry = strings.TrimSpace(entry)
		switch {
		case entry == "":
		case strings.Contains(entry, "/"):
			cidrEntries = append(cidrEntries, entry)
		case strings.Contains(entry, "*"):
			compiled.whitelistGlobs = append(compiled.whitelistGlobs, entry)
		case net.ParseIP(entry) != nil:
			cidrEntries = append(cidrEntries, entry)
		default:
			compiled.whitelistExact[entry] = struct{}{}
		}
	}
	cidrs, err := util.ParseTrustedCIDRs(cidrEntries)
	if err != nil {
		return nil, fmt.Errorf("whitelist: %w", err)
	}
	compiled.whitelistCIDRs = cidrs

	return compiled, nil
}

// validateRule rejects windows that cannot bound a counter. A rule left
// entirely zero means unconfigured (unlimited); zero requests with a
// window is an explicit block that denies every request.
func validateRule(name string, rule config.RateRule) error {
	if rule.Requests < 0 {
		return fmt.Errorf("%s: requests must not be negative, got %d", name, rule.Requests)
	}
	if rule.Requests > 0 && rule.Window <= 0 {
		return fmt.Errorf("%s: window must be positive, got %v", name, rule.Window)
	}
	return nil
}

func (c *compiledRules) whitelisted(identifier string) bool {
	if _, ok := c.whitelistExact[identifier]; ok {
		return true
	}
	for _, glob := range c.whitelistGlobs {
		if pattern.MatchesGlob(identifier, glob) {
			return true
		}
	}
	return util.IPInCIDRs(identifier, c.whitelistCIDRs)
}

// resolve picks the rule for one (endpoint, tier) pair: endpoint
// overrides beat tier defaults beat the global rule, and when several
// endpoint patterns match, the one admitting the lowest rate wins.
func (c *compiledRules) resolve(endpoint, tier string) (config.RateRule, string) {
	var (
		best      config.RateRule
		bestLabel string
		found     bool
	)

	for _, ep := range c.endpoints {
		if ep.tier != "" && ep.tier != tier {
			continue
		}
		if !pattern.MatchesGlob(endpoint, ep.pattern) {
			continue
		}
		if !found || moreRestrictive(ep.rule, best) {
			best = ep.rule
			bestLabel = "endpoint:" + ep.pattern
			found = true
		}
	}
	if found {
		return best, bestLabel
	}

	if tier != "" {
		if rule, ok := c.tiers[tier]; ok {
			return rule, "tier:" + tier
		}
	}

	return c.global, RuleGlobal
}

// moreRestrictive orders rules by admitted rate, requests per second.
// An explicit block (zero requests with a window) beats everything;
// an unconfigured rule is the least restrictive of all.
func moreRestrictive(a, b config.RateRule) bool {
	aBlocks := a.Requests == 0 && a.Window > 0
	bBlocks := b.Requests == 0 && b.Window > 0
	if aBlocks || bBlocks {
		return aBlocks && !bBlocks
	}
	if a.Requests == 0 {
		return false
	}
	if b.Requests == 0 {
		return true
	}
	rateA := float64(a.Requests) / a.Window.Seconds()
	rateB := float64(b.Requests) / b.Window.Seconds()
	if rateA != rateB {
		return rateA < rateB
	}
	return a.Requests < b.Requests
}
