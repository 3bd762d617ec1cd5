package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemAdapter is the default in-process backend: a mutex-guarded map that
// satisfies the same interface as the durable backends, so tests and small
// deployments never need a database.
type MemAdapter struct {
	mu   sync.RWMutex
	data map[string]Entry
	keys map[string]Key
}

// NewMemAdapter constructs an empty in-memory adapter.
func NewMemAdapter() *MemAdapter {
	return &MemAdapter{
		data: make(map[string]Entry),
		keys: make(map[string]Key),
	}
}

func (m *MemAdapter) Set(_ context.Context, key Key, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	now := nowMillis()
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key.join()
	e := m.data[k]
	if e.CreatedAt == 0 {
		e.CreatedAt = now
	}
	e.Data = raw
	e.UpdatedAt = now
	if ttl > 0 {
		e.ExpiresAt = time.Now().Add(ttl).UnixMilli()
	} else {
		e.ExpiresAt = 0
	}
	m.data[k] = e
	m.keys[k] = append(Key(nil), key...)
	return nil
}

func (m *MemAdapter) Get(_ context.Context, key Key, out interface{}) (*Entry, bool, error) {
	k := key.join()
	m.mu.RLock()
	e, ok := m.data[k]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if e.expired(time.Now()) {
		m.mu.Lock()
		delete(m.data, k)
		delete(m.keys, k)
		m.mu.Unlock()
		return nil, false, nil
	}
	if err := decode(e.Data, out); err != nil {
		return nil, false, err
	}
	ecopy := e
	return &ecopy, true, nil
}

func (m *MemAdapter) Delete(_ context.Context, key Key) error {
	k := key.join()
	m.mu.Lock()
	delete(m.data, k)
	delete(m.keys, k)
	m.mu.Unlock()
	return nil
}

func (m *MemAdapter) List(_ context.Context, opts ListOptions) ([]ListItem, error) {
	now := time.Now()
	m.mu.Lock()
	var items []ListItem
	var expiredKeys []string
	for k, e := range m.data {
		if e.expired(now) {
			expiredKeys = append(expiredKeys, k)
			continue
		}
		fullKey := m.keys[k]
		if len(opts.Prefix) > 0 && !fullKey.HasPrefix(opts.Prefix) {
			continue
		}
		if !opts.inRange(fullKey.join()) {
			continue
		}
		items = append(items, ListItem{Key: fullKey, Entry: e})
	}
	for _, k := range expiredKeys {
		delete(m.data, k)
		delete(m.keys, k)
	}
	m.mu.Unlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].Key.join() < items[j].Key.join()
	})
	if opts.Reverse {
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items, nil
}

func (m *MemAdapter) ClearExpired(_ context.Context) (int, error) {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.data {
		if e.expired(now) {
			delete(m.data, k)
			delete(m.keys, k)
			n++
		}
	}
	return n, nil
}

func (m *MemAdapter) GetStats(_ context.Context) (Stats, error) {
	now := time.Now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st Stats
	for _, e := range m.data {
		if e.expired(now) {
			st.ExpiredCount++
			continue
		}
		st.EntryCount++
		st.SizeEstimate += int64(len(e.Data))
	}
	return st, nil
}

func (m *MemAdapter) Close() error { return nil }
