package track

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

// Source tags how a reference entered the system.
type Source string

const (
	SourceDirectLink    Source = "direct-link"
	SourceSearchResult  Source = "search-result"
	SourcePlaylistEntry Source = "playlist-entry"
)

// Platform identifies which provider understands the reference.
type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformSoundCloud Platform = "soundcloud"
	PlatformSpotify    Platform = "spotify"
	PlatformWeb        Platform = "web"
	PlatformSearch     Platform = "search"
)

// ErrEmptyReference is returned by Classify for blank input.
var ErrEmptyReference = errors.New("empty track reference")

var youtubeURLPattern = regexp.MustCompile(`^(https?://)?(www\.|m\.|music\.)?(youtube\.com|youtu\.be)/.+`)

// Reference is a user-supplied request awaiting resolution.
type Reference struct {
	Raw       string
	Source    Source
	Platform  Platform
	Requester string
}

// IsPlaylist reports whether the reference expands into several tracks.
func (r Reference) IsPlaylist() bool {
	return r.Source == SourcePlaylistEntry
}

// String returns the raw input.
func (r Reference) String() string {
	return r.Raw
}

// Classify turns raw user input into a Reference.
func Classify(raw, requester string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, ErrEmptyReference
	}

	ref := Reference{Raw: raw, Requester: requester}
	lower := strings.ToLower(raw)

	switch {
	case strings.Contains(lower, "open.spotify.com") || strings.HasPrefix(lower, "spotify:"):
		ref.Platform = PlatformSpotify
		if strings.Contains(lower, "playlist") || strings.Contains(lower, "album") {
			ref.Source = SourcePlaylistEntry
		} else {
			ref.Source = SourceSearchResult
		}
	case strings.Contains(lower, "youtube.com/playlist") ||
		(strings.Contains(lower, "youtube.com/watch") && strings.Contains(lower, "list=")):
		ref.Platform = PlatformYouTube
		ref.Source = SourcePlaylistEntry
	case youtubeURLPattern.MatchString(lower):
		ref.Platform = PlatformYouTube
		ref.Source = SourceDirectLink
	case strings.Contains(lower, "soundcloud.com"):
		ref.Platform = PlatformSoundCloud
		ref.Source = SourceDirectLink
	case strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://"):
		ref.Platform = PlatformWeb
		ref.Source = SourceDirectLink
	default:
		ref.Platform = PlatformSearch
		ref.Source = SourceSearchResult
	}

	return ref, nil
}

// Direct returns a direct-link reference for an already known page URL,
// keeping the requester of the parent reference.
func (r Reference) Direct(pageURL string) Reference {
	return Reference{
		Raw:       pageURL,
		Source:    SourceDirectLink,
		Platform:  PlatformYouTube,
		Requester: r.Requester,
	}
}

// Search returns a search reference for query, keeping the requester.
func (r Reference) Search(query string) Reference {
	return Reference{
		Raw:       query,
		Source:    SourceSearchResult,
		Platform:  PlatformSearch,
		Requester: r.Requester,
	}
}
