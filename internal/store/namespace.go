package store

import (
	"context"
	"strconv"
	"time"
)

// CacheEntry is the value stored under the cache/filters/<source> namespace:
// the last successfully downloaded+preprocessed content for a source, used
// by the caching downloader (component G) to serve stale content when a
// re-fetch fails.
type CacheEntry struct {
	Source    string   `json:"source"`
	Lines     []string `json:"lines"`
	FetchedAt int64    `json:"fetched_at"`
	RuleCount int      `json:"rule_count"`
	Hash      string   `json:"hash"`
}

// CompilationMetadata is the value stored under the
// metadata/compilations/<config-name>/<timestamp> namespace: a record of one
// orchestrator run, independent of the (potentially large) compiled output.
type CompilationMetadata struct {
	ConfigName   string            `json:"config_name"`
	Timestamp    int64             `json:"timestamp"`
	Checksum     string            `json:"checksum"`
	RuleCount    int               `json:"rule_count"`
	SourceCounts map[string]int    `json:"source_counts"`
	Diagnostics  []string          `json:"diagnostics,omitempty"`
	DurationMS   int64             `json:"duration_ms"`
}

func cacheKey(source string) Key {
	return Key{"cache", "filters", source}
}

func compilationKey(configName string, timestamp int64) Key {
	return Key{"metadata", "compilations", configName, strconv.FormatInt(timestamp, 10)}
}

func compilationPrefix(configName string) Key {
	return Key{"metadata", "compilations", configName}
}

// SaveCacheEntry writes the cached content for source, with ttl 0 meaning
// no expiry (the caller — the caching downloader — owns eviction policy).
func SaveCacheEntry(ctx context.Context, a Adapter, e CacheEntry, ttl time.Duration) error {
	return a.Set(ctx, cacheKey(e.Source), e, ttl)
}

// LoadCacheEntry returns the last cached content for source, if any.
func LoadCacheEntry(ctx context.Context, a Adapter, source string) (*CacheEntry, bool, error) {
	var e CacheEntry
	_, ok, err := a.Get(ctx, cacheKey(source), &e)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &e, true, nil
}

// SaveCompilationMetadata records one orchestrator run.
func SaveCompilationMetadata(ctx context.Context, a Adapter, m CompilationMetadata) error {
	return a.Set(ctx, compilationKey(m.ConfigName, m.Timestamp), m, 0)
}

// ListCompilations returns up to limit most recent compilation records for
// configName, newest first.
func ListCompilations(ctx context.Context, a Adapter, configName string, limit int) ([]CompilationMetadata, error) {
	items, err := a.List(ctx, ListOptions{Prefix: compilationPrefix(configName), Reverse: true, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]CompilationMetadata, 0, len(items))
	for _, it := range items {
		var m CompilationMetadata
		if err := decode(it.Entry.Data, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
