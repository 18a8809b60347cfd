package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analyses (
	key          TEXT PRIMARY KEY,
	payload      TEXT    NOT NULL,
	created_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	accessed_at  INTEGER NOT NULL,
	access_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS analyses_expires_at ON analyses (expires_at);
`

// SQLiteCache persists analyses in a local SQLite database
type SQLiteCache struct {
	db        *sql.DB
	duration  time.Duration
	hitCount  atomic.Int64
	missCount atomic.Int64
	now       func() time.Time
}

// NewSQLiteCache opens (or creates) the database at path
func NewSQLiteCache(ctx context.Context, path string, duration time.Duration) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteCache{db: db, duration: duration, now: time.Now}, nil
}

// Get retrieves an entry from the database
func (c *SQLiteCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	var (
		payload                    string
		created, expires, accessed int64
		accessCount                int
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT payload, created_at, expires_at, accessed_at, access_count FROM analyses WHERE key = ?`, key,
	).Scan(&payload, &created, &expires, &accessed, &accessCount)
	if errors.Is(err, sql.ErrNoRows) {
		c.missCount.Add(1)
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("querying entry: %w", err)
	}

	now := c.now()
	if now.After(time.Unix(0, expires)) {
		if err := c.Delete(ctx, key); err != nil {
			return nil, err
		}
		c.missCount.Add(1)
		return nil, ErrCacheMiss
	}

	entry := &CacheEntry{
		Key:         key,
		CreatedAt:   time.Unix(0, created),
		ExpiresAt:   time.Unix(0, expires),
		AccessedAt:  now,
		AccessCount: accessCount + 1,
	}
	if err := json.Unmarshal([]byte(payload), &entry.Result); err != nil {
		return nil, fmt.Errorf("unmarshaling cache entry: %w", err)
	}

	if _, err := c.db.ExecContext(ctx,
		`UPDATE analyses SET accessed_at = ?, access_count = access_count + 1 WHERE key = ?`,
		now.UnixNano(), key,
	); err != nil {
		return nil, fmt.Errorf("updating access info: %w", err)
	}

	c.hitCount.Add(1)
	return entry, nil
}

// Set stores an entry, replacing any previous one under key
func (c *SQLiteCache) Set(ctx context.Context, key string, entry *CacheEntry) error {
	payload, err := json.Marshal(entry.Result)
	if err != nil {
		return fmt.Errorf("marshaling cache entry: %w", err)
	}

	now := c.now()
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO analyses (key, payload, created_at, expires_at, accessed_at, access_count)
		 VALUES (?, ?, ?, ?, ?, 0)
		 ON CONFLICT(key) DO UPDATE SET
		   payload = excluded.payload,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at,
		   accessed_at = excluded.accessed_at,
		   access_count = 0`,
		key, string(payload), now.UnixNano(), now.Add(c.duration).UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("storing entry: %w", err)
	}
	return nil
}

// Delete removes an entry
func (c *SQLiteCache) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM analyses WHERE key = ?`, key); err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}
	return nil
}

// Exists checks if a live entry exists
func (c *SQLiteCache) Exists(ctx context.Context, key string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM analyses WHERE key = ? AND expires_at >= ?`, key, c.now().UnixNano(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking entry: %w", err)
	}
	return n > 0, nil
}

// Clear removes all entries
func (c *SQLiteCache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM analyses`); err != nil {
		return fmt.Errorf("clearing entries: %w", err)
	}
	c.hitCount.Store(0)
	c.missCount.Store(0)
	return nil
}

// GetStats returns cache statistics
func (c *SQLiteCache) GetStats(ctx context.Context) (*Stats, error) {
	now := c.now().UnixNano()

	var (
		total, expired int
		size, oldest   sql.NullInt64
		avg            sql.NullFloat64
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN expires_at < ? THEN 1 ELSE 0 END), 0),
		        SUM(LENGTH(payload)),
		        MIN(created_at),
		        AVG(? - created_at)
		   FROM analyses`, now, now,
	).Scan(&total, &expired, &size, &oldest, &avg)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}

	stats := &Stats{
		TotalEntries:   total,
		ExpiredEntries: expired,
		MemoryUsage:    size.Int64,
		HitCount:       c.hitCount.Load(),
		MissCount:      c.missCount.Load(),
	}
	if stats.HitCount+stats.MissCount > 0 {
		stats.HitRate = float64(stats.HitCount) / float64(stats.HitCount+stats.MissCount)
	}
	if oldest.Valid {
		stats.OldestEntry = time.Unix(0, oldest.Int64)
	}
	if avg.Valid {
		stats.AverageAge = time.Duration(avg.Float64)
	}
	return stats, nil
}

// PurgeExpired deletes expired rows
func (c *SQLiteCache) PurgeExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM analyses WHERE expires_at < ?`, c.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("purging expired entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting purged entries: %w", err)
	}
	return int(n), nil
}

// Close closes the database
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}
