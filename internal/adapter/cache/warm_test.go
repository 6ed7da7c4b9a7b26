package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWarmFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestWarmFromFile_JSONArray(t *testing.T) {
	t.Setenv(EnvCacheKey, "warm-key")
	m := newTestManager(t, t.TempDir())

	path := writeWarmFile(t, "feed.json", `[
		{"url": "http://a.example:8080", "country": "US", "tags": ["fast", "paid"]},
		{"url": "http://b.example:8080", "username": "u", "password": "p", "weight": 2.5},
		"http://c.example:8080"
	]`)

	loaded, err := m.WarmFromFile(context.Background(), path, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded)

	entries, err := m.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)

	got, found, err := m.Get(context.Background(), "http://b.example:8080")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, got.Credential)
	assert.Equal(t, "u", got.Credential.Username())
	assert.NotEmpty(t, got.SealedCredential)
}

func TestWarmFromFile_CSV(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	path := writeWarmFile(t, "feed.csv",
		"url,country,tags,weight\n"+
			"http://a.example:8080,US,fast;paid,1.5\n"+
			"http://b.example:8080,DE,,\n")

	loaded, err := m.WarmFromFile(context.Background(), path, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)

	got, found, err := m.Get(context.Background(), "http://a.example:8080")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "US", got.CountryCode)
	assert.ElementsMatch(t, []string{"fast", "paid"}, got.Tags)
	assert.Equal(t, 1.5, got.Weight)
}

func TestWarmFromFile_JSONLAndPlainLines(t *testing.T) {
	m := newTestManager(t, t.TempDir())

	path := writeWarmFile(t, "feed.txt",
		"# proxy feed\n"+
			`{"url": "http://a.example:8080", "source": "feedco"}`+"\n"+
			"http://b.example:8080\n"+
			"\n"+
			"not a url at all\n")

	loaded, err := m.WarmFromFile(context.Background(), path, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded, "bad lines are skipped, not fatal")
}

func TestWarmFromFile_DuplicatePolicies(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, policy string) *Manager {
		cfg := testCacheConfig(t.TempDir())
		cfg.WarmDuplicates = policy
		m, err := New(cfg, nil, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Close() })

		first := writeWarmFile(t, "first.json",
			`[{"url": "http://dup.example:8080", "country": "US", "tags": ["old"]}]`)
		_, err = m.WarmFromFile(ctx, first, time.Hour)
		require.NoError(t, err)

		second := writeWarmFile(t, "second.json",
			`[{"url": "http://dup.example:8080", "country": "DE", "tags": ["new"]}]`)
		_, err = m.WarmFromFile(ctx, second, time.Hour)
		require.NoError(t, err)
		return m
	}

	t.Run("skip keeps the first import", func(t *testing.T) {
		m := run(t, DuplicateSkip)
		got, found, err := m.Get(ctx, "http://dup.example:8080")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "US", got.CountryCode)
		assert.Equal(t, []string{"old"}, got.Tags)
	})

	t.Run("replace takes the second import", func(t *testing.T) {
		m := run(t, DuplicateReplace)
		got, found, err := m.Get(ctx, "http://dup.example:8080")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "DE", got.CountryCode)
		assert.Equal(t, []string{"new"}, got.Tags)
	})

	t.Run("merge unions tags", func(t *testing.T) {
		m := run(t, DuplicateMerge)
		got, found, err := m.Get(ctx, "http://dup.example:8080")
		require.NoError(t, err)
		require.True(t, found)
		assert.ElementsMatch(t, []string{"old", "new"}, got.Tags)
	})
}

func TestExportToFile_RoundTrip(t *testing.T) {
	t.Setenv(EnvCacheKey, "export-key")
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	feed := writeWarmFile(t, "feed.json", `[
		{"url": "http://a.example:8080", "username": "u", "password": "secret-export"},
		{"url": "http://b.example:8080"}
	]`)
	_, err := m.WarmFromFile(ctx, feed, time.Hour)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "export.jsonl")
	exported, err := m.ExportToFile(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 2, exported)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "http://a.example:8080")
	assert.Contains(t, text, "http://b.example:8080")
	assert.NotContains(t, text, "secret-export", "exports carry only sealed credentials")
	assert.Contains(t, text, `"sealed_credential":"v1:`)

	lines := strings.Count(strings.TrimSpace(text), "\n") + 1
	assert.Equal(t, 2, lines)

	// A second manager can warm straight from the export.
	fresh := newTestManager(t, t.TempDir())
	loaded, err := fresh.WarmFromFile(ctx, out, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
}

func TestExportToFile_CSV(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	ctx := context.Background()

	feed := writeWarmFile(t, "feed.json", `[{"url": "http://a.example:8080", "country": "US"}]`)
	_, err := m.WarmFromFile(ctx, feed, time.Hour)
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "export.csv")
	exported, err := m.ExportToFile(ctx, out)
	require.NoError(t, err)
	assert.Equal(t, 1, exported)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "url")
	assert.Contains(t, string(data), "http://a.example:8080")
}

func TestWarmFromFile_MissingFile(t *testing.T) {
	m := newTestManager(t, t.TempDir())
	_, err := m.WarmFromFile(context.Background(), filepath.Join(t.TempDir(), "nope.json"), time.Hour)
	assert.Error(t, err)
}
