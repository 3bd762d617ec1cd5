// Package cachedl implements the caching downloader (component G): it
// wraps the filter downloader, the storage adapter's cache namespace, the
// change detector, and the source health monitor behind one call.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package cachedl

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/blockforge/compiler/internal/fetch"
	"github.com/blockforge/compiler/internal/health"
	"github.com/blockforge/compiler/internal/metrics"
	"github.com/blockforge/compiler/internal/snapshot"
	"github.com/blockforge/compiler/internal/store"
)

// DefaultCacheTTL is how long a successful download is trusted before a
// fresh fetch is attempted again (used by callers that pass a positive
// ttl to Download; a zero ttl disables caching and always re-fetches).
const DefaultCacheTTL = 15 * time.Minute

// Outcome reports how a Download call was satisfied.
type Outcome struct {
	Lines       []string
	Diagnostics []string
	FromCache   bool
	Changed     bool
	FirstSeen   bool
	Health      health.SourceHealth
}

// Downloader composes the raw downloader with caching, change detection,
// and health tracking.
type Downloader struct {
	raw      *fetch.Downloader
	adapter  store.Adapter
	detector *snapshot.Detector
	monitor  *health.Monitor
}

// New constructs a caching downloader over adapter, sharing it with a
// fresh change detector and health monitor.
func New(adapter store.Adapter) *Downloader {
	return &Downloader{
		raw:      fetch.New(),
		adapter:  adapter,
		detector: snapshot.New(adapter, 0),
		monitor:  health.New(adapter, 0),
	}
}

// Download serves source from cache if a non-expired entry exists and
// ttl > 0; otherwise it fetches fresh, records a health attempt, runs
// change detection, and refreshes the cache entry on success. A failed
// fresh fetch falls back to a stale cache entry if one exists, so one bad
// attempt does not make an otherwise-working source temporarily missing.
func (d *Downloader) Download(ctx context.Context, source string, opts fetch.Options, ttl time.Duration) (Outcome, error) {
	if ttl > 0 {
		if cached, ok, err := store.LoadCacheEntry(ctx, d.adapter, source); err == nil && ok &&
			time.Since(time.UnixMilli(cached.FetchedAt)) < ttl {
			h, _ := d.monitor.Get(ctx, source)
			metrics.CacheHits.WithLabelValues(source).Inc()
			return Outcome{Lines: cached.Lines, FromCache: true, Health: h}, nil
		}
	}
	metrics.CacheMisses.WithLabelValues(source).Inc()

	start := time.Now()
	res, err := d.raw.Download(ctx, source, opts)
	duration := time.Since(start)

	if err != nil {
		h, hErr := d.monitor.RecordAttempt(ctx, source, health.NewAttempt(false, duration, 0, err))
		if hErr != nil {
			h, _ = d.monitor.Get(ctx, source)
		}
		if stale, ok, loadErr := store.LoadCacheEntry(ctx, d.adapter, source); loadErr == nil && ok {
			metrics.CacheHits.WithLabelValues(source).Inc()
			return Outcome{Lines: stale.Lines, FromCache: true, Health: h}, nil
		}
		return Outcome{}, err
	}

	h, hErr := d.monitor.RecordAttempt(ctx, source, health.NewAttempt(true, duration, len(res.Lines), nil))
	if hErr != nil {
		h, _ = d.monitor.Get(ctx, source)
	}

	diff, snapErr := d.detector.Record(ctx, source, res.Lines, time.Now())

	entry := store.CacheEntry{
		Source:    source,
		Lines:     res.Lines,
		Hash:      contentHash(res.Lines),
		RuleCount: len(res.Lines),
		FetchedAt: time.Now().UnixMilli(),
	}
	_ = store.SaveCacheEntry(ctx, d.adapter, entry, 0) // storage errors are non-fatal (§7)

	out := Outcome{
		Lines:       res.Lines,
		Diagnostics: res.Diagnostics,
		Health:      h,
	}
	if snapErr == nil {
		out.Changed = diff.Changed
		out.FirstSeen = diff.FirstSeen
	}
	return out, nil
}

func contentHash(lines []string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}
