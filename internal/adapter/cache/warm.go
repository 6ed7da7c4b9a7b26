package cache

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/proxywhirl/proxywhirl/internal/core/domain"
	"github.com/proxywhirl/proxywhirl/internal/util"
)

// Duplicate strategies for warm imports when an entry already exists.
const (
	DuplicateSkip    = "skip"
	DuplicateReplace = "replace"
	DuplicateMerge   = "merge"
)

const warmMaxLine = 1 << 20

// batchingTier loads many entries with amortised fsync/commit cost. The
// file and SQLite tiers implement it; warming falls back to Set for
// tiers that do not.
type batchingTier interface {
	SetBatch(ctx context.Context, entries []*domain.CacheEntry) error
}

// Entries returns every live, unexpired entry across the enabled tiers,
// deduplicated by key with the highest tier winning. Rehydration reads
// the pool back through this after a restart.
func (m *Manager) Entries(ctx context.Context) ([]*domain.CacheEntry, error) {
	now := time.Now()
	seen := make(map[string]*domain.CacheEntry)
	var lastErr error

	for _, ts := range m.tiers {
		if !ts.live() {
			continue
		}
		entries, err := ts.tier.Entries(ctx)
		if err != nil {
			m.tierError(ts, err)
			lastErr = err
			continue
		}
		m.tierOK(ts)
		for _, entry := range entries {
			if entry.Expired(now) {
				continue
			}
			if _, ok := seen[entry.Key()]; ok {
				continue
			}
			if !m.attachCredential(entry) {
				continue
			}
			seen[entry.Key()] = entry
		}
	}

	out := make([]*domain.CacheEntry, 0, len(seen))
	for _, entry := range seen {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, lastErr
}

// WarmFromFile bulk-loads proxies from a feed file. The format follows
// the extension: .json is one JSON array, .csv is comma-separated with a
// header row, anything else is line-delimited JSON records. Returns how
// many entries were written; rejected records are skipped, not fatal.
func (m *Manager) WarmFromFile(ctx context.Context, path string, ttl time.Duration) (int, error) {
	records, err := readWarmFile(path)
	if err != nil {
		return 0, err
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	now := time.Now()
	skipped := 0
	entries := make([]*domain.CacheEntry, 0, len(records))
	for _, record := range records {
		entry, err := m.entryFromRecord(record, ttl, now)
		if err != nil {
			skipped++
			m.logger.Debug("warm record rejected", "url", record.URL, "error", err)
			continue
		}

		existing, found, _ := m.Get(ctx, entry.Key())
		if found {
			switch m.duplicates {
			case DuplicateSkip:
				continue
			case DuplicateReplace:
				// entry wins as-is
			default:
				mergeEntries(entry, existing)
			}
			if err := m.sealCredential(entry); err != nil {
				skipped++
				continue
			}
		}
		entries = append(entries, entry)
	}

	if err := m.putBatch(ctx, entries); err != nil {
		return 0, err
	}
	if skipped > 0 {
		m.logger.Warn("warm file had rejected records", "file", path, "skipped", skipped)
	}
	m.logger.InfoWithCount("Warmed cache from file", len(entries), "file", path)
	return len(entries), nil
}

// ExportToFile writes every live entry to a feed file in the format the
// extension names. Credentials leave only in sealed form.
func (m *Manager) ExportToFile(ctx context.Context, path string) (int, error) {
	entries, err := m.Entries(ctx)
	if err != nil && len(entries) == 0 {
		return 0, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("creating export file: %w", err)
	}
	defer file.Close()

	switch detectFormat(path) {
	case formatJSON:
		err = exportJSON(file, entries)
	case formatCSV:
		err = exportCSV(file, entries)
	default:
		err = exportJSONL(file, entries)
	}
	if err != nil {
		return 0, err
	}
	if err := file.Sync(); err != nil {
		return 0, fmt.Errorf("flushing export file: %w", err)
	}
	return len(entries), nil
}

// putBatch writes entries through every live tier, using SetBatch where
// the tier offers it. One sync per shard instead of one per record is
// what keeps a 10k-entry warm under seconds.
func (m *Manager) putBatch(ctx context.Context, entries []*domain.CacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	var lastErr error
	stored := false
	for _, ts := range m.tiers {
		if !ts.live() {
			continue
		}
		var err error
		if batcher, ok := ts.tier.(batchingTier); ok {
			err = batcher.SetBatch(ctx, entries)
		} else {
			for _, entry := range entries {
				if err = ts.tier.Set(ctx, entry); err != nil {
					break
				}
			}
		}
		if err != nil {
			m.tierError(ts, err)
			lastErr = err
			continue
		}
		m.tierOK(ts)
		stored = true
	}
	if !stored {
		return fmt.Errorf("cache warm rejected by every tier: %w", lastErr)
	}
	return nil
}

func (m *Manager) entryFromRecord(record domain.ProxyRecord, ttl time.Duration, now time.Time) (*domain.CacheEntry, error) {
	proxy, err := record.ToProxy()
	if err != nil {
		return nil, err
	}
	sealed := ""
	if proxy.Credential != nil && m.codec != nil {
		sealed, err = m.codec.Seal(proxy.Credential)
		if err != nil {
			return nil, err
		}
	}
	return domain.NewCacheEntry(proxy, sealed, ttl, now), nil
}

// mergeEntries folds the existing entry into the incoming one: tags are
// unioned, the fresher fetch keeps its source, and a stale credential
// never displaces one already held.
func mergeEntries(incoming, existing *domain.CacheEntry) {
	tagSet := make(map[string]struct{}, len(incoming.Tags)+len(existing.Tags))
	for _, tag := range incoming.Tags {
		tagSet[tag] = struct{}{}
	}
	for _, tag := range existing.Tags {
		tagSet[tag] = struct{}{}
	}
	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	incoming.Tags = tags

	existingFresher := !existing.FetchedAt.IsZero() && existing.FetchedAt.After(incoming.FetchedAt)
	if existingFresher {
		if existing.Source != "" {
			incoming.Source = existing.Source
		}
		incoming.FetchedAt = existing.FetchedAt
	}
	if incoming.Credential == nil && existing.Credential != nil {
		incoming.Credential = existing.Credential
		incoming.SealedCredential = existing.SealedCredential
	} else if existingFresher && existing.Credential != nil {
		incoming.Credential = existing.Credential
		incoming.SealedCredential = existing.SealedCredential
	}

	// keep observed health over the import's default
	if existing.HealthStatus != "" {
		incoming.HealthStatus = existing.HealthStatus
		incoming.ConsecutiveFailures = existing.ConsecutiveFailures
		incoming.EMAResponseMs = existing.EMAResponseMs
		incoming.SuccessRate = existing.SuccessRate
	}
}

type warmFormat int

const (
	formatJSONL warmFormat = iota
	formatJSON
	formatCSV
)

func detectFormat(path string) warmFormat {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".csv":
		return formatCSV
	default:
		return formatJSONL
	}
}

func readWarmFile(path string) ([]domain.ProxyRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening warm file: %w", err)
	}
	defer file.Close()

	switch detectFormat(path) {
	case formatJSON:
		return readJSONArray(file, path)
	case formatCSV:
		return readCSV(file, path)
	default:
		return readJSONL(file, path)
	}
}

func readJSONL(r io.Reader, path string) ([]domain.ProxyRecord, error) {
	var records []domain.ProxyRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), warmMaxLine)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "{") {
			var record domain.ProxyRecord
			if err := json.Unmarshal([]byte(line), &record); err != nil {
				continue
			}
			records = append(records, record)
			continue
		}
		// plain proxy lists: one URL or host:port per line
		records = append(records, domain.ProxyRecord{URL: line})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading warm file %s: %w", path, err)
	}
	return records, nil
}

// readJSONArray accepts both a bare array and feeds that wrap the list
// in a "proxies" field. Fields are picked by well-known names.
func readJSONArray(r io.Reader, path string) ([]domain.ProxyRecord, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading warm file %s: %w", path, err)
	}
	parsed := gjson.ParseBytes(raw)
	list := parsed
	if !parsed.IsArray() {
		list = parsed.Get("proxies")
		if !list.IsArray() {
			return nil, fmt.Errorf("warm file %s: expected a JSON array or a proxies field", path)
		}
	}

	var records []domain.ProxyRecord
	list.ForEach(func(_, item gjson.Result) bool {
		if item.Type == gjson.String {
			records = append(records, domain.ProxyRecord{URL: item.String()})
			return true
		}
		record := domain.ProxyRecord{
			URL:            item.Get("url").String(),
			Username:       item.Get("username").String(),
			Password:       item.Get("password").String(),
			CountryCode:    item.Get("country").String(),
			Region:         item.Get("region").String(),
			Source:         item.Get("source").String(),
			CostPerRequest: item.Get("cost_per_request").Float(),
			Weight:         item.Get("weight").Float(),
		}
		item.Get("tags").ForEach(func(_, tag gjson.Result) bool {
			record.Tags = append(record.Tags, tag.String())
			return true
		})
		if fetched := util.ParseTime(item.Get("fetched_at").String()); fetched != nil {
			record.FetchedAt = *fetched
		}
		records = append(records, record)
		return true
	})
	return records, nil
}

func readCSV(r io.Reader, path string) ([]domain.ProxyRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading warm file %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	header := make(map[string]int, len(rows[0]))
	for i, name := range rows[0] {
		header[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := header["url"]; !ok {
		return nil, fmt.Errorf("warm file %s: csv header must include a url column", path)
	}

	field := func(row []string, name string) string {
		idx, ok := header[name]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	var records []domain.ProxyRecord
	for _, row := range rows[1:] {
		record := domain.ProxyRecord{
			URL:         field(row, "url"),
			Username:    field(row, "username"),
			Password:    field(row, "password"),
			CountryCode: field(row, "country"),
			Region:      field(row, "region"),
			Source:      field(row, "source"),
		}
		if cost := field(row, "cost_per_request"); cost != "" {
			record.CostPerRequest, _ = strconv.ParseFloat(cost, 64)
		}
		if weight := field(row, "weight"); weight != "" {
			record.Weight, _ = strconv.ParseFloat(weight, 64)
		}
		if tags := field(row, "tags"); tags != "" {
			for _, tag := range strings.Split(tags, ";") {
				if tag = strings.TrimSpace(tag); tag != "" {
					record.Tags = append(record.Tags, tag)
				}
			}
		}
		if fetched := util.ParseTime(field(row, "fetched_at")); fetched != nil {
			record.FetchedAt = *fetched
		}
		records = append(records, record)
	}
	return records, nil
}

func exportJSONL(w io.Writer, entries []*domain.CacheEntry) error {
	writer := bufio.NewWriter(w)
	for _, entry := range entries {
		line, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if _, err := writer.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
	}
	return writer.Flush()
}

func exportJSON(w io.Writer, entries []*domain.CacheEntry) error {
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	return nil
}

func exportCSV(w io.Writer, entries []*domain.CacheEntry) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{
		"url", "sealed_credential", "country", "region", "source", "tags",
		"cost_per_request", "weight", "health_status", "expires_at",
	}); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	for _, entry := range entries {
		expires := ""
		if !entry.ExpiresAt.IsZero() {
			expires = entry.ExpiresAt.Format(time.RFC3339)
		}
		row := []string{
			entry.URL,
			entry.SealedCredential,
			entry.CountryCode,
			entry.Region,
			entry.Source,
			strings.Join(entry.Tags, ";"),
			strconv.FormatFloat(entry.CostPerRequest, 'f', -1, 64),
			strconv.FormatFloat(entry.Weight, 'f', -1, 64),
			entry.HealthStatus,
			expires,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}
