package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLAdapter persists through a pure-Go sqlite database (no cgo), for
// deployments that want a single-file relational store with SQL access
// for ad-hoc inspection of compiled history.
type SQLAdapter struct {
	db *sql.DB
}

// NewSQLAdapter opens (creating and migrating if necessary) a sqlite
// database at path. Use ":memory:" for an ephemeral instance.
func NewSQLAdapter(path string) (*SQLAdapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			key TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLAdapter{db: db}, nil
}

func (s *SQLAdapter) Set(ctx context.Context, key Key, value interface{}, ttl time.Duration) error {
	raw, err := encode(value)
	if err != nil {
		return err
	}
	now := nowMillis()
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixMilli()
	}
	k := key.join()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO entries (key, data, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`, k, string(raw), now, now, expiresAt)
	return err
}

func (s *SQLAdapter) Get(ctx context.Context, key Key, out interface{}) (*Entry, bool, error) {
	k := key.join()
	row := s.db.QueryRowContext(ctx, `SELECT data, created_at, updated_at, expires_at FROM entries WHERE key = ?`, k)
	var e Entry
	var data string
	if err := row.Scan(&data, &e.CreatedAt, &e.UpdatedAt, &e.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	e.Data = []byte(data)
	if e.expired(time.Now()) {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, k)
		return nil, false, nil
	}
	if err := decode(e.Data, out); err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func (s *SQLAdapter) Delete(ctx context.Context, key Key) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE key = ?`, key.join())
	return err
}

func (s *SQLAdapter) List(ctx context.Context, opts ListOptions) ([]ListItem, error) {
	query := `SELECT key, data, created_at, updated_at, expires_at FROM entries`
	var conds []string
	var args []interface{}
	if len(opts.Prefix) > 0 {
		conds = append(conds, `key LIKE ?`)
		args = append(args, opts.Prefix.join()+"%")
	}
	if opts.Start != "" {
		conds = append(conds, `key >= ?`)
		args = append(args, opts.Start)
	}
	if opts.End != "" {
		conds = append(conds, `key < ?`)
		args = append(args, opts.End)
	}
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY key`
	if opts.Reverse {
		query += ` DESC`
	}
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var k, data string
		var e Entry
		if err := rows.Scan(&k, &data, &e.CreatedAt, &e.UpdatedAt, &e.ExpiresAt); err != nil {
			return nil, err
		}
		e.Data = []byte(data)
		items = append(items, ListItem{Key: strings.Split(k, "\x1f"), Entry: e})
	}
	return items, rows.Err()
}

func (s *SQLAdapter) ClearExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE expires_at != 0 AND expires_at <= ?`, nowMillis())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SQLAdapter) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	now := nowMillis()
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(LENGTH(data)),0) FROM entries WHERE expires_at = 0 OR expires_at > ?`, now)
	if err := row.Scan(&st.EntryCount, &st.SizeEstimate); err != nil {
		return st, err
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries WHERE expires_at != 0 AND expires_at <= ?`, now)
	if err := row.Scan(&st.ExpiredCount); err != nil {
		return st, err
	}
	return st, nil
}

func (s *SQLAdapter) Close() error { return s.db.Close() }
