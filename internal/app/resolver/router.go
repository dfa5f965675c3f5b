// Package resolver turns track references into playable tracks on a bounded worker pool.
package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/domain/playlist"
	"github.com/osa030/playdeck/internal/domain/track"
)

// Resolver is what the pool runs for each job.
type Resolver interface {
	Resolve(ctx context.Context, ref track.Reference) (track.Resolved, error)
	Expand(ctx context.Context, ref track.Reference) (*playlist.Playlist, error)
}

// Extractor resolves a single reference.
type Extractor interface {
	Resolve(ctx context.Context, ref track.Reference) (track.Resolved, error)
}

// Expander lists the entries behind a playlist reference.
type Expander interface {
	Expand(ctx context.Context, ref track.Reference) (*playlist.Playlist, error)
}

// Route binds a platform to the providers that understand it.
type Route struct {
	Name      string
	Extractor Extractor
	Expander  Expander
}

// Router dispatches references to routes by platform.
type Router struct {
	routes map[track.Platform]Route
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[track.Platform]Route)}
}

// Handle registers route for platform, replacing any previous one.
func (r *Router) Handle(platform track.Platform, route Route) {
	r.routes[platform] = route
	zlog.Debug().Msgf("resolver: route registered: platform=%s name=%s", platform, route.Name)
}

// Resolve implements Resolver.
func (r *Router) Resolve(ctx context.Context, ref track.Reference) (track.Resolved, error) {
	route, ok := r.routes[ref.Platform]
	if !ok || route.Extractor == nil {
		return track.Resolved{}, Permanent(errors.Wrapf(ErrUnsupported, "platform %s", ref.Platform))
	}
	t, err := route.Extractor.Resolve(ctx, ref)
	if err != nil {
		return track.Resolved{}, err
	}
	if t.Requester == "" {
		t.Requester = ref.Requester
	}
	return t, nil
}

// Expand implements Resolver.
func (r *Router) Expand(ctx context.Context, ref track.Reference) (*playlist.Playlist, error) {
	route, ok := r.routes[ref.Platform]
	if !ok || route.Expander == nil {
		return nil, Permanent(errors.Wrapf(ErrUnsupported, "playlists on %s", ref.Platform))
	}
	return route.Expander.Expand(ctx, ref)
}

// Catalog maps a streaming-service link to "artist - title" search queries.
type Catalog interface {
	Queries(ctx context.Context, raw string) (name string, queries []string, err error)
}

// CatalogRoute resolves catalog links by searching for each entry.
type CatalogRoute struct {
	catalog Catalog
	search  Extractor
}

// NewCatalogRoute creates a route backed by catalog lookups and search.
func NewCatalogRoute(catalog Catalog, search Extractor) *CatalogRoute {
	return &CatalogRoute{catalog: catalog, search: search}
}

// Resolve looks up the single track and resolves its first search query.
func (c *CatalogRoute) Resolve(ctx context.Context, ref track.Reference) (track.Resolved, error) {
	_, queries, err := c.catalog.Queries(ctx, ref.Raw)
	if err != nil {
		return track.Resolved{}, err
	}
	if len(queries) == 0 {
		return track.Resolved{}, Permanent(ErrNotFound)
	}
	return c.search.Resolve(ctx, ref.Search(queries[0]))
}

// Expand returns one search reference per catalog entry.
func (c *CatalogRoute) Expand(ctx context.Context, ref track.Reference) (*playlist.Playlist, error) {
	name, queries, err := c.catalog.Queries(ctx, ref.Raw)
	if err != nil {
		return nil, err
	}
	p := &playlist.Playlist{Title: name, URL: ref.Raw, Entries: make([]track.Reference, 0, len(queries))}
	for _, q := range queries {
		p.Entries = append(p.Entries, ref.Search(q))
	}
	return p, nil
}
