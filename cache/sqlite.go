package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/notbrokker/notbrokker-property-api-sub001/dbopen"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key        TEXT PRIMARY KEY,
	category   TEXT NOT NULL,
	payload    BLOB NOT NULL,
	ttl_ms     INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
`

// SQLiteTier is a shared-file distributed tier for deployments without
// Redis. Several processes on one host can share the database.
type SQLiteTier struct {
	db    *sql.DB
	owned bool
	now   func() time.Time
}

// OpenSQLiteTier opens (or creates) the database at path.
func OpenSQLiteTier(path string) (*SQLiteTier, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(sqliteSchema))
	if err != nil {
		return nil, fmt.Errorf("cache: sqlite: %w", err)
	}
	t := &SQLiteTier{db: db, owned: true, now: time.Now}
	if _, err := t.Sweep(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// NewSQLiteTier uses an existing handle, applying the schema. The caller
// keeps ownership of db.
func NewSQLiteTier(db *sql.DB) (*SQLiteTier, error) {
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("cache: sqlite: schema: %w", err)
	}
	return &SQLiteTier{db: db, now: time.Now}, nil
}

func (s *SQLiteTier) Name() string { return "sqlite" }

func (s *SQLiteTier) Get(ctx context.Context, key string) (Entry, bool, error) {
	var (
		e                  Entry
		ttlMS, createdAtMS int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT category, payload, ttl_ms, created_at FROM cache_entries
		 WHERE key = ? AND expires_at > ?`,
		key, s.now().UnixMilli(),
	).Scan(&e.Category, &e.Payload, &ttlMS, &createdAtMS)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: sqlite get: %w", err)
	}
	e.TTL = time.Duration(ttlMS) * time.Millisecond
	e.CreatedAt = time.UnixMilli(createdAtMS)
	return e, true, nil
}

func (s *SQLiteTier) Set(ctx context.Context, key string, e Entry) error {
	_, err := dbopen.Exec(ctx, s.db,
		`INSERT OR REPLACE INTO cache_entries (key, category, payload, ttl_ms, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		key, e.Category, e.Payload, e.TTL.Milliseconds(),
		e.CreatedAt.UnixMilli(), e.ExpiresAt().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache: sqlite set: %w", err)
	}
	return nil
}

func (s *SQLiteTier) Delete(ctx context.Context, key string) error {
	if _, err := dbopen.Exec(ctx, s.db, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: sqlite delete: %w", err)
	}
	return nil
}

func (s *SQLiteTier) Clear(ctx context.Context, prefix string) error {
	var err error
	if prefix == "" {
		_, err = dbopen.Exec(ctx, s.db, `DELETE FROM cache_entries`)
	} else {
		_, err = dbopen.Exec(ctx, s.db,
			`DELETE FROM cache_entries WHERE substr(key, 1, length(?1)) = ?1`, prefix)
	}
	if err != nil {
		return fmt.Errorf("cache: sqlite clear: %w", err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *SQLiteTier) Sweep(ctx context.Context) (int64, error) {
	res, err := dbopen.Exec(ctx, s.db, `DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("cache: sqlite sweep: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteTier) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
