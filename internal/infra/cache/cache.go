// Package cache stores resolved tracks in SQLite so repeat requests skip yt-dlp.
package cache

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/osa030/playdeck/internal/domain/track"
)

const schema = `
CREATE TABLE IF NOT EXISTS resolved_tracks (
	key         TEXT PRIMARY KEY,
	stream_url  TEXT NOT NULL,
	page_url    TEXT NOT NULL,
	title       TEXT NOT NULL,
	uploader    TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	thumbnail   TEXT NOT NULL,
	fetched_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_resolved_tracks_fetched_at ON resolved_tracks(fetched_at);
`

// Cache manages resolved tracks in SQLite.
type Cache struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// Open opens (creating if needed) the cache database at path.
func Open(path string, ttl time.Duration) (*Cache, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create cache directory")
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open cache database")
	}
	// Serialize writers; SQLite allows only one at a time.
	db.SetMaxOpenConns(1)

	c, err := New(db, ttl)
	if err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, err
	}
	return c, nil
}

// New creates a Cache on an open database and ensures the schema exists.
func New(db *sql.DB, ttl time.Duration) (*Cache, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, errors.Wrap(err, "failed to create cache schema")
	}
	return &Cache{db: db, ttl: ttl, now: time.Now}, nil
}

// isExpired checks if a cached entry is expired.
func (c *Cache) isExpired(fetchedAt int64) bool {
	return fetchedAt < c.now().Add(-c.ttl).Unix()
}

// Get returns the cached track for key if present and not expired.
func (c *Cache) Get(ctx context.Context, key string) (track.Resolved, bool, error) {
	var (
		t          track.Resolved
		durationMs int64
		fetchedAt  int64
	)
	err := c.db.QueryRowContext(ctx, `
		SELECT stream_url, page_url, title, uploader, duration_ms, thumbnail, fetched_at
		FROM resolved_tracks
		WHERE key = ?
	`, key).Scan(&t.StreamURL, &t.PageURL, &t.Title, &t.Uploader, &durationMs, &t.Thumbnail, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return track.Resolved{}, false, nil
	}
	if err != nil {
		return track.Resolved{}, false, errors.Wrap(err, "failed to read cache")
	}

	if c.isExpired(fetchedAt) {
		return track.Resolved{}, false, nil
	}

	t.Duration = time.Duration(durationMs) * time.Millisecond
	return t, true, nil
}

// Put stores t under key, replacing any previous entry. The requester is
// not stored.
func (c *Cache) Put(ctx context.Context, key string, t track.Resolved) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO resolved_tracks (key, stream_url, page_url, title, uploader, duration_ms, thumbnail, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			stream_url = excluded.stream_url,
			page_url = excluded.page_url,
			title = excluded.title,
			uploader = excluded.uploader,
			duration_ms = excluded.duration_ms,
			thumbnail = excluded.thumbnail,
			fetched_at = excluded.fetched_at
	`, key, t.StreamURL, t.PageURL, t.Title, t.Uploader, t.Duration.Milliseconds(), t.Thumbnail, c.now().Unix())
	if err != nil {
		return errors.Wrap(err, "failed to write cache")
	}
	return nil
}

// Prune deletes expired entries and returns how many were removed.
func (c *Cache) Prune(ctx context.Context) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM resolved_tracks WHERE fetched_at < ?`,
		c.now().Add(-c.ttl).Unix())
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune cache")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to prune cache")
	}
	if n > 0 {
		zlog.Info().Msgf("cache: pruned: entries=%d", n)
	}
	return n, nil
}

// Close closes the database.
func (c *Cache) Close() error {
	return c.db.Close()
}
