package store

import (
	"context"
	"strings"
	"time"

	"github.com/tidwall/buntdb"
)

// BuntAdapter persists through an embedded buntdb database: a single file
// (or ":memory:") holding a sorted key/value index with native TTL support,
// used when a deployment wants durability without running a database server.
type BuntAdapter struct {
	db *buntdb.DB
}

// NewBuntAdapter opens (creating if necessary) a buntdb database at path.
func NewBuntAdapter(path string) (*BuntAdapter, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntAdapter{db: db}, nil
}

func (b *BuntAdapter) Set(_ context.Context, key Key, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	now := nowMillis()
	k := key.join()
	return b.db.Update(func(tx *buntdb.Tx) error {
		e := Entry{CreatedAt: now, UpdatedAt: now}
		if existing, getErr := tx.Get(k); getErr == nil {
			if prior, decErr := decodeEntry(existing); decErr == nil {
				e.CreatedAt = prior.CreatedAt
			}
		}
		e.Data = raw
		if ttl > 0 {
			e.ExpiresAt = time.Now().Add(ttl).UnixMilli()
		}
		packed, err := packEntry(e)
		if err != nil {
			return err
		}
		opts := &buntdb.SetOptions{}
		if ttl > 0 {
			opts.Expires = true
			opts.TTL = ttl
		}
		_, _, err = tx.Set(k, packed, opts)
		return err
	})
}

func (b *BuntAdapter) Get(_ context.Context, key Key, out interface{}) (*Entry, bool, error) {
	k := key.join()
	var found *Entry
	err := b.db.View(func(tx *buntdb.Tx) error {
		raw, getErr := tx.Get(k)
		if getErr == buntdb.ErrNotFound {
			return nil
		}
		if getErr != nil {
			return getErr
		}
		e, decErr := decodeEntry(raw)
		if decErr != nil {
			return decErr
		}
		found = &e
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if found == nil {
		return nil, false, nil
	}
	if err := decode(found.Data, out); err != nil {
		return nil, false, err
	}
	return found, true, nil
}

func (b *BuntAdapter) Delete(_ context.Context, key Key) error {
	k := key.join()
	err := b.db.Update(func(tx *buntdb.Tx) error {
		_, delErr := tx.Delete(k)
		if delErr == buntdb.ErrNotFound {
			return nil
		}
		return delErr
	})
	return err
}

func (b *BuntAdapter) List(_ context.Context, opts ListOptions) ([]ListItem, error) {
	pattern := "*"
	if len(opts.Prefix) > 0 {
		pattern = opts.Prefix.join() + "*"
	}
	var items []ListItem
	err := b.db.View(func(tx *buntdb.Tx) error {
		iter := func(k, v string) bool {
			if opts.Reverse {
				// descending: keys only get smaller, so once k is below
				// Start there is nothing left in range.
				if opts.End != "" && k >= opts.End {
					return true
				}
				if opts.Start != "" && k < opts.Start {
					return false
				}
			} else {
				// ascending: keys only get larger, so once k reaches End
				// there is nothing left in range.
				if opts.Start != "" && k < opts.Start {
					return true
				}
				if opts.End != "" && k >= opts.End {
					return false
				}
			}
			e, decErr := decodeEntry(v)
			if decErr != nil {
				return true
			}
			items = append(items, ListItem{Key: strings.Split(k, "\x1f"), Entry: e})
			if opts.Limit > 0 && len(items) >= opts.Limit && !opts.Reverse {
				return false
			}
			return true
		}
		if opts.Reverse {
			return tx.DescendKeys(pattern, iter)
		}
		return tx.AscendKeys(pattern, iter)
	})
	if err != nil {
		return nil, err
	}
	if opts.Reverse && opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items, nil
}

func (b *BuntAdapter) ClearExpired(ctx context.Context) (int, error) {
	// buntdb expires keys lazily/in the background; force a pass by listing
	// and deleting every entry whose envelope ExpiresAt has passed.
	items, err := b.List(ctx, ListOptions{})
	if err != nil {
		return 0, err
	}
	n := 0
	now := time.Now()
	for _, it := range items {
		if it.Entry.expired(now) {
			if err := b.Delete(ctx, it.Key); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (b *BuntAdapter) GetStats(ctx context.Context) (Stats, error) {
	items, err := b.List(ctx, ListOptions{})
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	now := time.Now()
	for _, it := range items {
		if it.Entry.expired(now) {
			st.ExpiredCount++
			continue
		}
		st.EntryCount++
		st.SizeEstimate += int64(len(it.Entry.Data))
	}
	return st, nil
}

func (b *BuntAdapter) Close() error { return b.db.Close() }
