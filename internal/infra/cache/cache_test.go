package cache

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/playdeck/internal/domain/track"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	c, err := New(db, ttl)
	require.NoError(t, err)
	return c
}

func sampleTrack() track.Resolved {
	return track.Resolved{
		StreamURL: "https://cdn/a.webm",
		PageURL:   "https://www.youtube.com/watch?v=a",
		Title:     "Song A",
		Uploader:  "Uploader",
		Duration:  3*time.Minute + 25*time.Second,
		Thumbnail: "https://i/a.jpg",
		Requester: "alice",
	}
}

func TestCache_GetPut(t *testing.T) {
	c := newTestCache(t, time.Hour)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "youtube:a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "youtube:a", sampleTrack()))

	got, ok, err := c.Get(ctx, "youtube:a")
	require.NoError(t, err)
	require.True(t, ok)
	want := sampleTrack()
	want.Requester = ""
	assert.Equal(t, want, got)

	// Put replaces.
	updated := sampleTrack()
	updated.StreamURL = "https://cdn/a2.webm"
	require.NoError(t, c.Put(ctx, "youtube:a", updated))
	got, _, err = c.Get(ctx, "youtube:a")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/a2.webm", got.StreamURL)
}

func TestCache_Expiry(t *testing.T) {
	c := newTestCache(t, time.Hour)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }
	require.NoError(t, c.Put(ctx, "old", sampleTrack()))

	c.now = func() time.Time { return base.Add(30 * time.Minute) }
	require.NoError(t, c.Put(ctx, "fresh", sampleTrack()))

	c.now = func() time.Time { return base.Add(61 * time.Minute) }
	_, ok, err := c.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok, "entry older than the ttl is a miss")

	_, ok, err = c.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := c.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "cache.db")
	ctx := context.Background()

	c, err := Open(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "k", sampleTrack()))
	require.NoError(t, c.Close())

	c, err = Open(path, time.Hour)
	require.NoError(t, err)
	defer c.Close()
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "entries survive reopening")
}
