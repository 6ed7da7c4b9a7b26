package proxywhirl_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	proxywhirl "github.com/proxywhirl/proxywhirl"
)

// stubProxy is an httptest server standing in for an HTTP forward proxy.
// Plain-HTTP upstream requests arrive in absolute form, so the stub can
// answer directly without dialing anything.
type stubProxy struct {
	*httptest.Server
	hits atomic.Int64
}

func newStubProxy(t *testing.T, handler http.HandlerFunc) *stubProxy {
	t.Helper()
	sp := &stubProxy{}
	sp.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sp.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(sp.Close)
	return sp
}

func okProxy(t *testing.T) *stubProxy {
	t.Helper()
	return newStubProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func failingProxy(t *testing.T, status int) *stubProxy {
	t.Helper()
	return newStubProxy(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
}

func newTestClient(t *testing.T, opts ...Option) *proxywhirl.Client {
	t.Helper()
	base := []Option{
		proxywhirl.WithQuietLogging(),
		proxywhirl.WithoutCache(),
		proxywhirl.WithBackoff("fixed", time.Millisecond, time.Millisecond),
	}
	client, err := proxywhirl.New(append(base, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Option alias keeps the helper signatures short.
type Option = proxywhirl.Option

func hostOf(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parsing %q: %v", rawURL, err)
	}
	return u.Host
}

func TestClient_RoundRobinSpreadsRequests(t *testing.T) {
	a, b, c := okProxy(t), okProxy(t), okProxy(t)
	client := newTestClient(t,
		proxywhirl.WithProxies(a.URL, b.URL, c.URL),
		proxywhirl.WithStrategy("round_robin"),
	)

	for i := 0; i < 9; i++ {
		resp, err := client.Get(context.Background(), "http://upstream.test/data")
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}

	for name, sp := range map[string]*stubProxy{"a": a, "b": b, "c": c} {
		if got := sp.hits.Load(); got != 3 {
			t.Errorf("proxy %s carried %d requests, expected 3", name, got)
		}
	}
}

func TestClient_FailoverToHealthyProxy(t *testing.T) {
	bad := failingProxy(t, http.StatusServiceUnavailable)
	good := okProxy(t)
	client := newTestClient(t,
		proxywhirl.WithProxies(bad.URL, good.URL),
		proxywhirl.WithMaxAttempts(2),
	)

	for i := 0; i < 6; i++ {
		resp, err := client.Get(context.Background(), "http://upstream.test/data")
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
		if resp.Attempts < 1 || resp.Attempts > 2 {
			t.Errorf("request %d: unexpected attempt count %d", i+1, resp.Attempts)
		}
	}

	if bad.hits.Load() == 0 {
		t.Fatal("failing proxy was never tried")
	}

	badHost := hostOf(t, bad.URL)
	var badInfo *proxywhirl.ProxyInfo
	for _, info := range client.ListProxies(proxywhirl.ProxyFilter{}) {
		if strings.Contains(info.URL, badHost) {
			badInfo = &info
			break
		}
	}
	if badInfo == nil {
		t.Fatal("failing proxy missing from pool listing")
	}
	if badInfo.ConsecutiveFailures == 0 {
		t.Error("expected failure streak on the failing proxy")
	}
	if badInfo.Status == "healthy" {
		t.Errorf("failing proxy should not be healthy, got %q", badInfo.Status)
	}
}

func TestClient_BreakerOpensAndFailsFast(t *testing.T) {
	bad := failingProxy(t, http.StatusServiceUnavailable)
	client := newTestClient(t,
		proxywhirl.WithProxies(bad.URL),
		proxywhirl.WithMaxAttempts(1),
		proxywhirl.WithBreaker(2, time.Minute),
	)

	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), "http://upstream.test/")
		if !errors.Is(err, proxywhirl.ErrAllAttemptsFailed) {
			t.Fatalf("request %d: expected attempts-exhausted error, got %v", i+1, err)
		}
	}

	_, err := client.Get(context.Background(), "http://upstream.test/")
	if !errors.Is(err, proxywhirl.ErrAllBreakersOpen) {
		t.Fatalf("expected all-breakers-open fast fail, got %v", err)
	}
	if hits := bad.hits.Load(); hits != 2 {
		t.Errorf("breaker should have stopped the third dispatch, proxy saw %d", hits)
	}

	states := client.BreakerStates()
	if len(states) != 1 {
		t.Fatalf("expected one tracked breaker, got %d", len(states))
	}
	var proxyID string
	for id, snap := range states {
		proxyID = id
		if snap.State != proxywhirl.BreakerOpen {
			t.Errorf("expected open breaker, got %q", snap.State)
		}
	}

	if err := client.ResetBreaker(proxyID); err != nil {
		t.Fatalf("resetting breaker: %v", err)
	}
	if state := client.BreakerStates()[proxyID].State; state != proxywhirl.BreakerClosed {
		t.Errorf("expected closed breaker after reset, got %q", state)
	}
	if err := client.ResetBreaker("no-such-proxy"); err == nil {
		t.Error("resetting an unknown breaker should fail")
	}
}

func TestClient_StickySessionPinsToOneProxy(t *testing.T) {
	proxies := []*stubProxy{okProxy(t), okProxy(t), okProxy(t)}
	client := newTestClient(t,
		proxywhirl.WithProxies(proxies[0].URL, proxies[1].URL, proxies[2].URL),
		proxywhirl.WithStrategy("sticky"),
	)

	for i := 0; i < 30; i++ {
		resp, err := client.Do(context.Background(), &proxywhirl.Request{
			Method:    http.MethodGet,
			URL:       "http://upstream.test/session",
			SessionID: "user-7",
		})
		if err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, resp.StatusCode)
		}
	}

	carriers := 0
	for _, sp := range proxies {
		switch sp.hits.Load() {
		case 30:
			carriers++
		case 0:
		default:
			t.Errorf("session leaked across proxies: %d hits on one server", sp.hits.Load())
		}
	}
	if carriers != 1 {
		t.Errorf("expected exactly one proxy to carry the session, got %d", carriers)
	}
}

func TestClient_RateLimitDenies(t *testing.T) {
	good := okProxy(t)
	client := newTestClient(t,
		proxywhirl.WithProxies(good.URL),
		proxywhirl.WithRateLimit(5, time.Minute),
	)

	for i := 0; i < 5; i++ {
		if _, err := client.Get(context.Background(), "http://upstream.test/data"); err != nil {
			t.Fatalf("request %d should pass: %v", i+1, err)
		}
	}

	_, err := client.Get(context.Background(), "http://upstream.test/data")
	if !errors.Is(err, proxywhirl.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	var rlErr *proxywhirl.RateLimitError
	if !errors.As(err, &rlErr) {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if rlErr.Limit != 5 {
		t.Errorf("expected limit 5 in denial, got %d", rlErr.Limit)
	}
	if good.hits.Load() != 5 {
		t.Errorf("denied request must not reach a proxy, saw %d hits", good.hits.Load())
	}

	decision, err := client.RateLimitStatus(context.Background(), "default", "/data", "")
	if err != nil {
		t.Fatalf("rate limit status: %v", err)
	}
	if decision.Allowed || decision.Remaining != 0 {
		t.Errorf("expected exhausted window, got %+v", decision)
	}
}

func TestClient_RateLimitDisabledOperations(t *testing.T) {
	client := newTestClient(t, proxywhirl.WithProxies(okProxy(t).URL))

	if _, err := client.RateLimitStatus(context.Background(), "default", "/", ""); !errors.Is(err, proxywhirl.ErrRateLimitDisabled) {
		t.Errorf("expected disabled error, got %v", err)
	}
	if err := client.ReloadRateLimitRules(); !errors.Is(err, proxywhirl.ErrRateLimitDisabled) {
		t.Errorf("expected disabled error, got %v", err)
	}
}

func TestClient_BatchGetPreservesOrder(t *testing.T) {
	good := okProxy(t)
	client := newTestClient(t, proxywhirl.WithProxies(good.URL))

	urls := []string{
		"http://upstream.test/1",
		"http://upstream.test/2",
		"http://upstream.test/3",
		"http://upstream.test/4",
		"http://upstream.test/5",
		"http://upstream.test/6",
	}
	results, err := client.BatchGet(context.Background(), urls)
	if err != nil {
		t.Fatalf("BatchGet failed: %v", err)
	}
	if len(results) != len(urls) {
		t.Fatalf("expected %d results, got %d", len(urls), len(results))
	}
	for i, result := range results {
		if result.URL != urls[i] {
			t.Errorf("result %d out of order: %q", i, result.URL)
		}
		if result.Err != nil {
			t.Errorf("result %d failed: %v", i, result.Err)
		}
		if result.Response == nil || result.Response.StatusCode != http.StatusOK {
			t.Errorf("result %d: expected 200 response", i)
		}
	}
}

func TestClient_AddRemoveListProxies(t *testing.T) {
	a, b := okProxy(t), okProxy(t)
	client := newTestClient(t)
	ctx := context.Background()

	idA, err := client.AddProxy(ctx, a.URL,
		proxywhirl.ProxyTags("datacenter"), proxywhirl.ProxyCountry("us"))
	if err != nil {
		t.Fatalf("adding proxy a: %v", err)
	}
	if _, err := client.AddProxy(ctx, b.URL, proxywhirl.ProxyTags("residential")); err != nil {
		t.Fatalf("adding proxy b: %v", err)
	}

	// Re-adding the same URL merges instead of duplicating.
	idAgain, err := client.AddProxy(ctx, a.URL, proxywhirl.ProxyTags("fast"))
	if err != nil {
		t.Fatalf("re-adding proxy a: %v", err)
	}
	if idAgain != idA {
		t.Errorf("re-add should return the existing ID, got %q vs %q", idAgain, idA)
	}

	all := client.ListProxies(proxywhirl.ProxyFilter{})
	if len(all) != 2 {
		t.Fatalf("expected 2 pooled proxies, got %d", len(all))
	}
	residential := client.ListProxies(proxywhirl.ProxyFilter{Tag: "residential"})
	if len(residential) != 1 {
		t.Fatalf("tag filter expected 1, got %d", len(residential))
	}
	us := client.ListProxies(proxywhirl.ProxyFilter{Country: "US"})
	if len(us) != 1 {
		t.Fatalf("country filter expected 1, got %d", len(us))
	}

	if err := client.RemoveProxy(ctx, idA); err != nil {
		t.Fatalf("removing proxy a: %v", err)
	}
	if err := client.RemoveProxy(ctx, idA); err == nil {
		t.Error("removing an absent proxy should fail")
	}

	resp, err := client.Get(ctx, "http://upstream.test/")
	if err != nil {
		t.Fatalf("request through remaining proxy failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if a.hits.Load() != 0 {
		t.Error("removed proxy still carried traffic")
	}

	for _, info := range client.ListProxies(proxywhirl.ProxyFilter{}) {
		if err := client.RemoveProxy(ctx, info.ID); err != nil {
			t.Fatalf("draining pool: %v", err)
		}
	}
	if _, err := client.Get(ctx, "http://upstream.test/"); !errors.Is(err, proxywhirl.ErrPoolEmpty) {
		t.Errorf("expected empty-pool error, got %v", err)
	}
}

func TestClient_IngestReportsRejects(t *testing.T) {
	good := okProxy(t)
	client := newTestClient(t)

	report := client.Ingest(context.Background(), []proxywhirl.ProxyRecord{
		{URL: good.URL, Tags: []string{"batch"}},
		{URL: good.URL},           // duplicate, merges
		{URL: ""},                 // rejected
		{URL: "ftp://bad.scheme"}, // rejected
	})
	if report.Added != 1 || report.Merged != 1 || report.Rejected != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if len(report.Errors) != 2 {
		t.Errorf("expected 2 recorded errors, got %d", len(report.Errors))
	}
}

func TestClient_SetStrategy(t *testing.T) {
	client := newTestClient(t, proxywhirl.WithProxies(okProxy(t).URL))

	if got := client.Strategy(); got != "round_robin" {
		t.Fatalf("expected round_robin default, got %q", got)
	}
	if err := client.SetStrategy("random"); err != nil {
		t.Fatalf("switching strategy: %v", err)
	}
	if got := client.Strategy(); got != "random" {
		t.Errorf("expected random after switch, got %q", got)
	}
	if err := client.SetStrategy("definitely-not-a-strategy"); err == nil {
		t.Error("unknown strategy should be rejected")
	}

	available := client.AvailableStrategies()
	if len(available) != 9 {
		t.Errorf("expected 9 strategies, got %d: %v", len(available), available)
	}
}

func TestClient_StatisticsAndHealth(t *testing.T) {
	good := okProxy(t)
	client := newTestClient(t, proxywhirl.WithProxies(good.URL))

	for i := 0; i < 4; i++ {
		if _, err := client.Get(context.Background(), "http://upstream.test/"); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}

	s := client.Statistics(context.Background())
	if s.Engine.TotalRequests != 4 {
		t.Errorf("expected 4 total requests, got %d", s.Engine.TotalRequests)
	}
	if s.PoolTotal != 1 || s.PoolEligible != 1 {
		t.Errorf("unexpected pool counts: %+v", s)
	}
	if s.Strategy != "round_robin" {
		t.Errorf("unexpected strategy %q", s.Strategy)
	}
	if len(s.Proxies) != 1 {
		t.Errorf("expected per-proxy stats for 1 proxy, got %d", len(s.Proxies))
	}

	health := client.HealthReport()
	if health.Total != 1 || health.Eligible != 1 {
		t.Errorf("unexpected health totals: %+v", health)
	}
	if health.ByStatus["healthy"] != 1 {
		t.Errorf("expected the proxy to be healthy: %+v", health.ByStatus)
	}
	if len(health.Proxies) != 1 || health.Proxies[0].SuccessRate != 1.0 {
		t.Errorf("unexpected proxy view: %+v", health.Proxies)
	}
}

func TestClient_SubscribeDeliversLifecycleEvents(t *testing.T) {
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := client.Subscribe(ctx)
	defer unsubscribe()

	id, err := client.AddProxy(context.Background(), okProxy(t).URL)
	if err != nil {
		t.Fatalf("adding proxy: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Type != proxywhirl.EventProxyAdded {
			t.Errorf("expected proxy-added event, got %v", ev.Type)
		}
		if ev.ProxyID != id {
			t.Errorf("event names proxy %q, expected %q", ev.ProxyID, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
	}
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	client := newTestClient(t, proxywhirl.WithProxies(okProxy(t).URL))

	if err := client.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if _, err := client.Get(context.Background(), "http://upstream.test/"); !errors.Is(err, proxywhirl.ErrClosed) {
		t.Errorf("expected closed error from Get, got %v", err)
	}
	if _, err := client.AddProxy(context.Background(), "http://late.example:8080"); !errors.Is(err, proxywhirl.ErrClosed) {
		t.Errorf("expected closed error from AddProxy, got %v", err)
	}
}

func TestClient_CredentialsNeverTouchDiskInCleartext(t *testing.T) {
	const password = "sw0rdf1sh-rotate-me"
	dir := t.TempDir()
	t.Setenv("PROXYWHIRL_CACHE_KEY", "unit-test-master-key")

	client, err := proxywhirl.New(
		proxywhirl.WithQuietLogging(),
		proxywhirl.WithCacheDirectory(dir),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	id, err := client.AddProxy(context.Background(), "http://gateway.example:3128",
		proxywhirl.ProxyAuth("alice", password), proxywhirl.ProxyTags("paid"))
	if err != nil {
		t.Fatalf("adding proxy: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if bytes.Contains(data, []byte(password)) {
			t.Errorf("cleartext password found in %s", path)
		}
		if bytes.Contains(data, []byte("alice")) {
			t.Errorf("cleartext username found in %s", path)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("scanning cache dir: %v", err)
	}

	// A fresh client with the same key restores the proxy, credential intact.
	restored, err := proxywhirl.New(
		proxywhirl.WithQuietLogging(),
		proxywhirl.WithCacheDirectory(dir),
	)
	if err != nil {
		t.Fatalf("restarted New failed: %v", err)
	}
	defer restored.Close()

	infos := restored.ListProxies(proxywhirl.ProxyFilter{})
	if len(infos) != 1 {
		t.Fatalf("expected 1 restored proxy, got %d", len(infos))
	}
	if infos[0].ID != id {
		t.Errorf("restored proxy kept ID %q, expected %q", infos[0].ID, id)
	}
	if !infos[0].HasCredential {
		t.Error("restored proxy lost its credential")
	}
	if strings.Contains(infos[0].URL, password) || strings.Contains(infos[0].URL, "alice") {
		t.Errorf("listing leaks credential: %q", infos[0].URL)
	}
}

func TestClient_WrongKeySkipsSealedEntries(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROXYWHIRL_CACHE_KEY", "first-key")

	client, err := proxywhirl.New(
		proxywhirl.WithQuietLogging(),
		proxywhirl.WithCacheDirectory(dir),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := client.AddProxy(context.Background(), "http://gateway.example:3128",
		proxywhirl.ProxyAuth("bob", "hunter2-long")); err != nil {
		t.Fatalf("adding proxy: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	t.Setenv("PROXYWHIRL_CACHE_KEY", "second-key")
	reopened, err := proxywhirl.New(
		proxywhirl.WithQuietLogging(),
		proxywhirl.WithCacheDirectory(dir),
	)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()

	// The sealed credential cannot be opened, so the entry is skipped rather
	// than restored without its credential.
	if infos := reopened.ListProxies(proxywhirl.ProxyFilter{}); len(infos) != 0 {
		t.Errorf("expected no proxies restored under the wrong key, got %d", len(infos))
	}
}

func TestClient_WarmAndExportCache(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROXYWHIRL_CACHE_KEY", "warm-test-key")

	warmPath := filepath.Join(dir, "feed.json")
	feed := `[
		{"url": "http://feed-a.example:8080", "country": "US", "tags": ["feed"]},
		{"url": "http://feed-b.example:8080", "country": "DE", "tags": ["feed"]}
	]`
	if err := os.WriteFile(warmPath, []byte(feed), 0o600); err != nil {
		t.Fatalf("writing feed: %v", err)
	}

	client, err := proxywhirl.New(
		proxywhirl.WithQuietLogging(),
		proxywhirl.WithCacheDirectory(filepath.Join(dir, "cache")),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	loaded, err := client.WarmCache(context.Background(), warmPath, time.Hour)
	if err != nil {
		t.Fatalf("warming: %v", err)
	}
	if loaded != 2 {
		t.Fatalf("expected 2 warmed entries, got %d", loaded)
	}
	if infos := client.ListProxies(proxywhirl.ProxyFilter{Tag: "feed"}); len(infos) != 2 {
		t.Fatalf("expected warm to seed the pool, got %d proxies", len(infos))
	}

	exportPath := filepath.Join(dir, "export.jsonl")
	exported, err := client.ExportCache(context.Background(), exportPath)
	if err != nil {
		t.Fatalf("exporting: %v", err)
	}
	if exported != 2 {
		t.Errorf("expected 2 exported entries, got %d", exported)
	}
	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if !bytes.Contains(data, []byte("feed-a.example")) || !bytes.Contains(data, []byte("feed-b.example")) {
		t.Error("export is missing warmed proxies")
	}

	if err := client.ClearCache(context.Background()); err != nil {
		t.Fatalf("clearing: %v", err)
	}
	if n, err := client.ExportCache(context.Background(), exportPath); err != nil || n != 0 {
		t.Errorf("expected empty export after clear, got n=%d err=%v", n, err)
	}
}

func TestClient_UnhealthyProxyEvictedFromCache(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PROXYWHIRL_CACHE_KEY", "evict-test-key")

	bad := failingProxy(t, http.StatusServiceUnavailable)
	client, err := proxywhirl.New(
		proxywhirl.WithQuietLogging(),
		proxywhirl.WithCacheDirectory(dir),
		proxywhirl.WithProxies(bad.URL),
		proxywhirl.WithMaxAttempts(1),
		proxywhirl.WithBackoff("fixed", time.Millisecond, time.Millisecond),
		proxywhirl.WithBreaker(100, time.Minute),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer client.Close()

	exportPath := filepath.Join(dir, "export.jsonl")
	if n, err := client.ExportCache(context.Background(), exportPath); err != nil || n != 1 {
		t.Fatalf("expected the seeded proxy cached, got n=%d err=%v", n, err)
	}

	// Three failures take the proxy to degraded, five more to unhealthy.
	for i := 0; i < 8; i++ {
		if _, err := client.Get(context.Background(), "http://upstream.test/"); err == nil {
			t.Fatalf("request %d unexpectedly succeeded", i+1)
		}
	}

	infos := client.ListProxies(proxywhirl.ProxyFilter{})
	if len(infos) != 1 || infos[0].Status != "unhealthy" {
		t.Fatalf("expected the proxy unhealthy, got %+v", infos)
	}

	// The unhealthy proxy must be gone from every cache tier, so a restart
	// on the same directory starts with an empty pool.
	if n, err := client.ExportCache(context.Background(), exportPath); err != nil || n != 0 {
		t.Fatalf("expected the unhealthy proxy evicted from the cache, got n=%d err=%v", n, err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("closing: %v", err)
	}

	reopened, err := proxywhirl.New(
		proxywhirl.WithQuietLogging(),
		proxywhirl.WithCacheDirectory(dir),
	)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()
	if infos := reopened.ListProxies(proxywhirl.ProxyFilter{}); len(infos) != 0 {
		t.Errorf("evicted proxy rehydrated after restart: %+v", infos)
	}
}

func TestClient_CacheDisabledOperations(t *testing.T) {
	client := newTestClient(t)

	if _, err := client.WarmCache(context.Background(), "feed.json", 0); !errors.Is(err, proxywhirl.ErrCacheDisabled) {
		t.Errorf("expected cache-disabled from WarmCache, got %v", err)
	}
	if _, err := client.ExportCache(context.Background(), "out.jsonl"); !errors.Is(err, proxywhirl.ErrCacheDisabled) {
		t.Errorf("expected cache-disabled from ExportCache, got %v", err)
	}
	if err := client.ClearCache(context.Background()); !errors.Is(err, proxywhirl.ErrCacheDisabled) {
		t.Errorf("expected cache-disabled from ClearCache, got %v", err)
	}
}

func TestClient_NonIdempotentPostIsNotRetried(t *testing.T) {
	bad := failingProxy(t, http.StatusServiceUnavailable)
	good := okProxy(t)
	client := newTestClient(t,
		proxywhirl.WithProxies(bad.URL, good.URL),
		proxywhirl.WithMaxAttempts(3),
	)

	// Round robin tries the failing proxy first; a POST must not fail over.
	_, err := client.Post(context.Background(), "http://upstream.test/submit", "application/json", []byte(`{}`))
	if !errors.Is(err, proxywhirl.ErrAllAttemptsFailed) {
		t.Fatalf("expected single-attempt failure, got %v", err)
	}
	var reqErr *proxywhirl.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %T", err)
	}
	if len(reqErr.Attempts) != 1 {
		t.Errorf("POST should get exactly one attempt, got %d", len(reqErr.Attempts))
	}
	if good.hits.Load() != 0 {
		t.Error("POST failed over despite not being idempotent")
	}
}
