// Package snapshot implements the per-source change detector (component E):
// it fingerprints a source's downloaded content, compares it against the
// most recent prior fingerprint, and retains a bounded history of past
// fingerprints so callers can answer "did this source change, and when".
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/blockforge/compiler/internal/store"
)

// DefaultHistoryLimit is how many past snapshots are retained per source
// before the oldest are pruned (§4.3).
const DefaultHistoryLimit = 20

const sampleSize = 10

// Snapshot is one fingerprint of a source's content at a point in time.
type Snapshot struct {
	Source      string   `json:"source"`
	Hash        string   `json:"hash"`
	RuleCount   int      `json:"rule_count"`
	SampleLines []string `json:"sample_lines"`
	Timestamp   int64    `json:"timestamp"`
}

// Diff describes the outcome of comparing a new snapshot against the prior
// one recorded for the same source.
type Diff struct {
	Source        string `json:"source"`
	Changed       bool   `json:"changed"`
	FirstSeen     bool   `json:"first_seen"`
	PreviousHash  string `json:"previous_hash,omitempty"`
	NewHash       string `json:"new_hash"`
	PreviousCount int    `json:"previous_count"`
	NewCount      int    `json:"new_count"`
	Timestamp     int64  `json:"timestamp"`
}

// Detector records snapshots and bounds retained history per source.
type Detector struct {
	adapter      store.Adapter
	historyLimit int
}

// New constructs a Detector backed by adapter. historyLimit <= 0 uses
// DefaultHistoryLimit.
func New(adapter store.Adapter, historyLimit int) *Detector {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Detector{adapter: adapter, historyLimit: historyLimit}
}

func fingerprint(lines []string) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func sample(lines []string) []string {
	if len(lines) <= sampleSize {
		out := make([]string, len(lines))
		copy(out, lines)
		return out
	}
	out := make([]string, sampleSize)
	copy(out, lines[:sampleSize])
	return out
}

// currentKey holds the single most recent snapshot per source, mirroring
// the layout convention of keeping one "live" pointer separate from the
// append-only archive (§3).
func currentKey(source string) store.Key {
	return store.Key{"snapshots", "sources", source}
}

func historyKey(source string, timestamp int64) store.Key {
	return store.Key{"snapshots", "history", source, strconv.FormatInt(timestamp, 10)}
}

func historyPrefix(source string) store.Key {
	return store.Key{"snapshots", "history", source}
}

// Record fingerprints lines for source at "now", compares against the most
// recently recorded snapshot (if any), persists the new snapshot, and
// prunes history beyond historyLimit. now is passed in (rather than taken
// internally) so the caller controls time, matching the rest of the module.
func (d *Detector) Record(ctx context.Context, source string, lines []string, now time.Time) (Diff, error) {
	newHash := fingerprint(lines)
	ts := now.UnixMilli()

	prev, hasPrev, err := d.latest(ctx, source)
	if err != nil {
		return Diff{}, fmt.Errorf("snapshot: loading previous for %q: %w", source, err)
	}

	snap := Snapshot{
		Source:      source,
		Hash:        newHash,
		RuleCount:   len(lines),
		SampleLines: sample(lines),
		Timestamp:   ts,
	}
	if err := d.adapter.Set(ctx, currentKey(source), snap, 0); err != nil {
		return Diff{}, fmt.Errorf("snapshot: storing current snapshot for %q: %w", source, err)
	}
	if err := d.adapter.Set(ctx, historyKey(source, ts), snap, 0); err != nil {
		return Diff{}, fmt.Errorf("snapshot: storing history snapshot for %q: %w", source, err)
	}
	if err := d.prune(ctx, source); err != nil {
		return Diff{}, err
	}

	diff := Diff{
		Source:    source,
		NewHash:   newHash,
		NewCount:  len(lines),
		Timestamp: ts,
		FirstSeen: !hasPrev,
	}
	if hasPrev {
		diff.PreviousHash = prev.Hash
		diff.PreviousCount = prev.RuleCount
		diff.Changed = prev.Hash != newHash
	} else {
		diff.Changed = true
	}
	return diff, nil
}

// latest returns the current recorded snapshot for source, if any.
func (d *Detector) latest(ctx context.Context, source string) (Snapshot, bool, error) {
	var s Snapshot
	_, ok, err := d.adapter.Get(ctx, currentKey(source), &s)
	if err != nil {
		return Snapshot{}, false, err
	}
	return s, ok, nil
}

// History returns up to limit most recent snapshots for source, newest first.
func (d *Detector) History(ctx context.Context, source string, limit int) ([]Snapshot, error) {
	items, err := d.adapter.List(ctx, store.ListOptions{Prefix: historyPrefix(source), Reverse: true, Limit: limit})
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(items))
	for _, it := range items {
		var s Snapshot
		if err := decodeInto(it, &s); err != nil {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (d *Detector) prune(ctx context.Context, source string) error {
	items, err := d.adapter.List(ctx, store.ListOptions{Prefix: historyPrefix(source), Reverse: true})
	if err != nil {
		return err
	}
	if len(items) <= d.historyLimit {
		return nil
	}
	for _, stale := range items[d.historyLimit:] {
		if err := d.adapter.Delete(ctx, stale.Key); err != nil {
			return err
		}
	}
	return nil
}

func decodeInto(item store.ListItem, out *Snapshot) error {
	if len(item.Entry.Data) == 0 {
		return nil
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(item.Entry.Data, out)
}
