package resolver

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/domain/playlist"
	"github.com/osa030/playdeck/internal/domain/track"
)

// Store persists resolved tracks by key.
type Store interface {
	Get(ctx context.Context, key string) (track.Resolved, bool, error)
	Put(ctx context.Context, key string, t track.Resolved) error
}

// Cached serves single-track resolutions from a store before calling next.
// Playlist expansion is never cached.
type Cached struct {
	next  Resolver
	store Store
}

// NewCached wraps next with store.
func NewCached(next Resolver, store Store) *Cached {
	return &Cached{next: next, store: store}
}

// CacheKey returns the store key for ref.
func CacheKey(ref track.Reference) string {
	return string(ref.Platform) + ":" + ref.Raw
}

// Resolve implements Resolver.
func (c *Cached) Resolve(ctx context.Context, ref track.Reference) (track.Resolved, error) {
	key := CacheKey(ref)

	if t, ok, err := c.store.Get(ctx, key); err != nil {
		zlog.Warn().Msgf("resolver: cache read failed: key=%q error=%v", key, err)
	} else if ok {
		zlog.Debug().Msgf("resolver: cache hit: key=%q", key)
		t.Requester = ref.Requester
		return t, nil
	}

	t, err := c.next.Resolve(ctx, ref)
	if err != nil {
		return track.Resolved{}, err
	}

	if err := c.store.Put(ctx, key, t); err != nil {
		zlog.Warn().Msgf("resolver: cache write failed: key=%q error=%v", key, err)
	}
	return t, nil
}

// Expand implements Resolver.
func (c *Cached) Expand(ctx context.Context, ref track.Reference) (*playlist.Playlist, error) {
	return c.next.Expand(ctx, ref)
}
