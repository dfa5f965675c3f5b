// Package spotify maps Spotify links to search queries using the Spotify Web API.
package spotify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

// Kind is the type of Spotify object a link points at.
type Kind string

const (
	KindTrack    Kind = "track"
	KindAlbum    Kind = "album"
	KindPlaylist Kind = "playlist"
)

var (
	ErrInvalidLink = errors.New("invalid spotify link")
	ErrNotFound    = errors.New("spotify object not found")
)

const (
	defaultMarket = "JP"
	defaultLimit  = 50
	pageSize      = 50 // Spotify API max for album and playlist pages
)

// api is the subset of the Web API the client needs.
type api interface {
	GetTrack(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullTrack, error)
	GetAlbum(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullAlbum, error)
	GetAlbumTracks(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.SimpleTrackPage, error)
	GetPlaylist(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.FullPlaylist, error)
	GetPlaylistItems(ctx context.Context, id spotify.ID, opts ...spotify.RequestOption) (*spotify.PlaylistItemPage, error)
}

// Client is a Spotify API client.
type Client struct {
	client     api
	market     string
	limit      int
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
	Limit        int // Max entries read from an album or playlist
}

// New creates a new Spotify client authenticated with client credentials.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	// The returned client fetches and refreshes app tokens on demand.
	httpClient := creds.Client(ctx)

	return newClient(spotify.New(httpClient), cfg), nil
}

func newClient(a api, cfg Config) *Client {
	market := cfg.Market
	if market == "" {
		market = defaultMarket
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	return &Client{
		client:     a,
		market:     market,
		limit:      limit,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Queries returns a display name and one "artist - title" query per track
// behind the link.
func (c *Client) Queries(ctx context.Context, raw string) (string, []string, error) {
	kind, id, err := ParseLink(raw)
	if err != nil {
		return "", nil, err
	}

	zlog.Debug().Msgf("spotify: lookup: kind=%s id=%s", kind, id)

	switch kind {
	case KindTrack:
		return c.trackQueries(ctx, id)
	case KindAlbum:
		return c.albumQueries(ctx, id)
	default:
		return c.playlistQueries(ctx, id)
	}
}

func (c *Client) trackQueries(ctx context.Context, id spotify.ID) (string, []string, error) {
	var t *spotify.FullTrack
	err := c.retry(ctx, func() error {
		r, err := c.client.GetTrack(ctx, id, spotify.Market(c.market))
		if err != nil {
			return err
		}
		t = r
		return nil
	})
	if err != nil {
		return "", nil, wrapAPIError(err, "failed to get track")
	}

	q := Query(t.Artists, t.Name)
	return q, []string{q}, nil
}

func (c *Client) albumQueries(ctx context.Context, id spotify.ID) (string, []string, error) {
	var album *spotify.FullAlbum
	err := c.retry(ctx, func() error {
		a, err := c.client.GetAlbum(ctx, id, spotify.Market(c.market))
		if err != nil {
			return err
		}
		album = a
		return nil
	})
	if err != nil {
		return "", nil, wrapAPIError(err, "failed to get album")
	}

	queries := make([]string, 0, len(album.Tracks.Tracks))
	for _, t := range album.Tracks.Tracks {
		queries = append(queries, Query(t.Artists, t.Name))
	}

	// Albums embed only the first page of tracks.
	offset := len(album.Tracks.Tracks)
	for len(queries) < c.limit && offset < int(album.Tracks.Total) {
		var page *spotify.SimpleTrackPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetAlbumTracks(ctx, id,
				spotify.Limit(pageSize),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return "", nil, wrapAPIError(err, "failed to get album tracks")
		}
		if len(page.Tracks) == 0 {
			break
		}
		for _, t := range page.Tracks {
			queries = append(queries, Query(t.Artists, t.Name))
		}
		offset += len(page.Tracks)
	}

	return album.Name, c.truncate(queries), nil
}

func (c *Client) playlistQueries(ctx context.Context, id spotify.ID) (string, []string, error) {
	var pl *spotify.FullPlaylist
	err := c.retry(ctx, func() error {
		p, err := c.client.GetPlaylist(ctx, id, spotify.Market(c.market))
		if err != nil {
			return err
		}
		pl = p
		return nil
	})
	if err != nil {
		return "", nil, wrapAPIError(err, "failed to get playlist")
	}

	var queries []string
	offset := 0
	for len(queries) < c.limit {
		var page *spotify.PlaylistItemPage
		err := c.retry(ctx, func() error {
			p, err := c.client.GetPlaylistItems(ctx, id,
				spotify.Limit(pageSize),
				spotify.Offset(offset),
				spotify.Market(c.market),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return "", nil, wrapAPIError(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Only process tracks (exclude episodes)
			if item.Track.Track != nil && item.Track.Track.ID != "" {
				queries = append(queries, Query(item.Track.Track.Artists, item.Track.Track.Name))
			}
		}

		if len(page.Items) < pageSize {
			break
		}
		offset += pageSize
	}

	return pl.Name, c.truncate(queries), nil
}

func (c *Client) truncate(queries []string) []string {
	if len(queries) > c.limit {
		return queries[:c.limit]
	}
	return queries
}

// Query formats the search query for a track as "artist - title", using
// the first credited artist.
func Query(artists []spotify.SimpleArtist, title string) string {
	if len(artists) == 0 || artists[0].Name == "" {
		return title
	}
	return fmt.Sprintf("%s - %s", artists[0].Name, title)
}

// retry retries an operation with a linear backoff.
// retry runs fn until it succeeds, fails permanently, or maxRetries is
// reached. The linear backoff ends early when ctx is done.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == c.maxRetries {
			break
		}

		zlog.Debug().Msgf("spotify: retrying: attempt=%d error=%v", attempt, lastErr)
		timer := time.NewTimer(c.retryDelay * time.Duration(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.WithSecondaryError(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return errors.Wrapf(lastErr, "gave up after %d attempts", c.maxRetries)
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se spotify.Error
	if errors.As(err, &se) {
		return se.Status == 429 || se.Status >= 500
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// wrapAPIError adds the HTTP status to the message so callers can tell
// missing objects from throttling.
func wrapAPIError(err error, msg string) error {
	var se spotify.Error
	if errors.As(err, &se) {
		if se.Status == 404 || se.Status == 400 {
			return errors.Wrapf(errors.Mark(err, ErrNotFound), "%s: status %d", msg, se.Status)
		}
		return errors.Wrapf(err, "%s: status %d", msg, se.Status)
	}
	return errors.Wrap(err, msg)
}

// ParseLink extracts the object kind and ID from a Spotify URL or URI.
func ParseLink(input string) (Kind, spotify.ID, error) {
	input = strings.TrimSpace(input)

	// Spotify URI format: spotify:track:ID
	if strings.HasPrefix(input, "spotify:") {
		parts := strings.Split(input, ":")
		if len(parts) == 3 {
			if kind, ok := parseKind(parts[1]); ok && parts[2] != "" {
				return kind, spotify.ID(parts[2]), nil
			}
		}
		return "", "", errors.Wrapf(ErrInvalidLink, "%q", input)
	}

	// URL format: https://open.spotify.com/track/ID or https://open.spotify.com/intl-XX/track/ID
	if strings.Contains(input, "open.spotify.com") {
		path := strings.SplitN(input, "open.spotify.com", 2)[1]
		path = strings.SplitN(path, "?", 2)[0]
		path = strings.SplitN(path, "#", 2)[0]
		segments := strings.Split(strings.Trim(path, "/"), "/")
		for i := 0; i+1 < len(segments); i++ {
			if kind, ok := parseKind(segments[i]); ok && segments[i+1] != "" {
				return kind, spotify.ID(segments[i+1]), nil
			}
		}
	}

	return "", "", errors.Wrapf(ErrInvalidLink, "%q", input)
}

func parseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindTrack, KindAlbum, KindPlaylist:
		return Kind(s), true
	}
	return "", false
}
