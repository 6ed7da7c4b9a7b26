package ratelimit

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/proxywhirl/proxywhirl/internal/config"
	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/core/ports"
	"github.com/proxywhirl/proxywhirl/internal/logger"
)

// Limiter is the sliding-window rate limiter. Rules live behind an
// atomic pointer so a hot reload never blocks the request path; the
// backend holds the per-key windows, in-process by default or shared
// via Redis.
type Limiter struct {
	logger      *logger.StyledLogger
	backend     backend
	watcher     *fsnotify.Watcher
	stopWatch   chan struct{}
	backendErrs *xsync.Counter
	rulesFile   string
	rules       atomic.Pointer[compiledRules]
	stopOnce    sync.Once
	failOpen    bool
	sharedRedis bool
}

func New(cfg config.RateLimitConfig, log *logger.StyledLogger) (*Limiter, error) {
	rules := RulesFromConfig(cfg)
	if cfg.File != "" {
		fileRules, err := LoadRulesFile(cfg.File)
		if err != nil {
			return nil, err
		}
		rules = fileRules
	}

	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}

	l := &Limiter{
		logger:      log,
		failOpen:    cfg.FailOpen,
		rulesFile:   cfg.File,
		backendErrs: xsync.NewCounter(),
		stopWatch:   make(chan struct{}),
		sharedRedis: cfg.Redis.Enabled,
	}
	l.rules.Store(compiled)

	if cfg.Redis.Enabled {
		l.backend = newRedisBackend(cfg.Redis)
	} else {
		l.backend = newMemoryBackend()
	}

	if cfg.File != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			_ = l.backend.close()
			return nil, err
		}
		// watch the directory: editors and config pushes replace the
		// file, which drops a watch set on the file itself
		if err := watcher.Add(filepath.Dir(cfg.File)); err != nil {
			_ = watcher.Close()
			_ = l.backend.close()
			return nil, err
		}
		l.watcher = watcher
		go l.watchLoop()
	}

	return l, nil
}

// Allow consumes a slot for the (identifier, endpoint) pair. On backend
// failure the decision follows the fail-open/fail-closed policy and the
// error is returned alongside it so callers can record it.
func (l *Limiter) Allow(ctx context.Context, identifier, endpoint, tier string) (ports.RateDecision, error) {
	return l.check(ctx, identifier, endpoint, tier, true)
}

// Peek answers what Allow would say without consuming a slot.
func (l *Limiter) Peek(ctx context.Context, identifier, endpoint, tier string) (ports.RateDecision, error) {
	return l.check(ctx, identifier, endpoint, tier, false)
}

func (l *Limiter) check(ctx context.Context, identifier, endpoint, tier string, consume bool) (ports.RateDecision, error) {
	if identifier == "" {
		identifier = domain.DefaultIdentifier
	}

	rules := l.rules.Load()

	if rules.whitelisted(identifier) {
		return ports.RateDecision{Allowed: true, Rule: RuleWhitelist}, nil
	}

	rule, label := rules.resolve(endpoint, tier)
	switch {
	case rule.Requests > 0:
		// windowed accounting below
	case rule.Window > 0:
		// an explicit zero-request rule blocks the key outright: every
		// request is denied and the window never admits a slot
		return ports.RateDecision{
			Allowed:    false,
			Rule:       label,
			RetryAfter: rule.Window,
			ResetAt:    time.Now().Add(rule.Window),
		}, nil
	default:
		// no rule configured anywhere for this key
		return ports.RateDecision{Allowed: true, Rule: RuleUnlimited}, nil
	}

	key := identifier + "|" + endpoint

	var (
		out outcome
		err error
	)
	if consume {
		out, err = l.backend.take(ctx, key, rule.Requests, rule.Window)
	} else {
		out, err = l.backend.peek(ctx, key, rule.Requests, rule.Window)
	}
	if err != nil {
		l.backendErrs.Inc()
		l.logger.Warn("Rate limit backend error",
			"identifier", identifier,
			"endpoint", endpoint,
			"fail_open", l.failOpen,
			"error", err)

		decision := ports.RateDecision{
			Allowed: l.failOpen,
			Limit:   rule.Requests,
			Rule:    label,
		}
		if !l.failOpen {
			decision.RetryAfter = rule.Window
		}
		return decision, err
	}

	return l.decisionFor(rule, label, out), nil
}

func (l *Limiter) decisionFor(rule config.RateRule, label string, out outcome) ports.RateDecision {
	decision := ports.RateDecision{
		Allowed: out.allowed,
		Limit:   rule.Requests,
		Rule:    label,
	}

	if !out.oldest.IsZero() {
		decision.ResetAt = out.oldest.Add(rule.Window)
	} else {
		decision.ResetAt = time.Now().Add(rule.Window)
	}

	if out.allowed {
		decision.Remaining = rule.Requests - out.count
		if decision.Remaining < 0 {
			decision.Remaining = 0
		}
		return decision
	}

	retryAfter := time.Until(decision.ResetAt)
	if retryAfter < 0 {
		retryAfter = 0
	}
	decision.RetryAfter = retryAfter
	return decision
}

// BackendErrors reports how many limiter checks hit a failing backend.
func (l *Limiter) BackendErrors() int64 {
	return l.backendErrs.Value()
}

// Shared reports whether limiter state lives in Redis rather than this
// process.
func (l *Limiter) Shared() bool {
	return l.sharedRedis
}

// Reload re-reads the rules file immediately. The watcher calls this on
// file change; it is exported so operators can force it.
func (l *Limiter) Reload() {
	if l.rulesFile == "" {
		return
	}

	rules, err := LoadRulesFile(l.rulesFile)
	if err != nil {
		l.logger.Warn("Rate limit rules reload failed, keeping previous rules",
			"file", l.rulesFile, "error", err)
		return
	}
	compiled, err := compileRules(rules)
	if err != nil {
		l.logger.Warn("Rate limit rules reload failed, keeping previous rules",
			"file", l.rulesFile, "error", err)
		return
	}

	l.rules.Store(compiled)
	l.logger.Info("Rate limit rules reloaded",
		"file", l.rulesFile,
		"endpoints", len(compiled.endpoints),
		"tiers", len(compiled.tiers))
}

func (l *Limiter) Close() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.stopWatch)
		if l.watcher != nil {
			_ = l.watcher.Close()
		}
		err = l.backend.close()
	})
	return err
}

func (l *Limiter) watchLoop() {
	target := filepath.Base(l.rulesFile)

	for {
		select {
		case <-l.stopWatch:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				l.Reload()
			}
		case watchErr, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Warn("Rate limit rules watcher error", "error", watchErr)
		}
	}
}
