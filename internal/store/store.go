// Package store implements the hierarchical key/value storage adapter
// (component D): a uniform interface with pluggable backends, plus the two
// convenience namespaces (`cache/filters/*`, `metadata/compilations/*`)
// named in §4.4.
/*
 * Copyright (c) 2024, blockforge authors. All rights reserved.
 */
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Key is a hierarchical path into the store, e.g. []string{"snapshots","sources",src}.
type Key []string

func (k Key) join() string { return strings.Join(k, "\x1f") }

// HasPrefix reports whether k starts with prefix.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	for i := range prefix {
		if k[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Entry is the envelope every stored value is wrapped in.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"` // unix ms
	UpdatedAt int64           `json:"updated_at"` // unix ms
	ExpiresAt int64           `json:"expires_at,omitempty"` // unix ms, 0 = no expiry
}

func (e *Entry) expired(now time.Time) bool {
	return e.ExpiresAt != 0 && e.ExpiresAt <= now.UnixMilli()
}

// ListOptions controls List. Start and End bound the scan by the joined
// key string (the same ordering List itself sorts by): Start is inclusive,
// End is exclusive. Either may be left empty to leave that side unbounded.
// Prefix and the Start/End range compose: a key must satisfy both.
type ListOptions struct {
	Prefix  Key
	Start   string
	End     string
	Limit   int
	Reverse bool
}

// inRange reports whether joined (a Key.join()'d string) falls within
// [opts.Start, opts.End), honoring empty bounds as unbounded.
func (opts ListOptions) inRange(joined string) bool {
	if opts.Start != "" && joined < opts.Start {
		return false
	}
	if opts.End != "" && joined >= opts.End {
		return false
	}
	return true
}

// ListItem is one row returned by List.
type ListItem struct {
	Key   Key
	Entry Entry
}

// Stats summarizes an adapter's contents.
type Stats struct {
	EntryCount   int   `json:"entry_count"`
	ExpiredCount int   `json:"expired_count"`
	SizeEstimate int64 `json:"size_estimate"`
}

// Adapter is the storage substitutability boundary (§9): every backend
// (in-memory, buntdb-embedded, sqlite, S3-archival) implements this and
// nothing above the orchestrator ever sees a backend-specific type.
type Adapter interface {
	Set(ctx context.Context, key Key, value interface{}, ttl time.Duration) error
	// Get decodes the stored value into out (a pointer) and returns the
	// envelope. Expired entries are deleted eagerly and reported as missing.
	Get(ctx context.Context, key Key, out interface{}) (*Entry, bool, error)
	Delete(ctx context.Context, key Key) error
	List(ctx context.Context, opts ListOptions) ([]ListItem, error)
	ClearExpired(ctx context.Context) (int, error)
	GetStats(ctx context.Context) (Stats, error)
	Close() error
}

func encode(value interface{}) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(value)
}

func decode(raw json.RawMessage, out interface{}) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	return jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(raw, out)
}

func nowMillis() int64 { return time.Now().UnixMilli() }
