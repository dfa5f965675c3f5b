// Package youtube resolves video platform links and searches through yt-dlp.
package youtube

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/domain/playlist"
	"github.com/osa030/playdeck/internal/domain/track"
)

var (
	ErrNoResults = errors.New("no results")
	ErrBadOutput = errors.New("unexpected yt-dlp output")
)

const (
	audioFormat = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best"

	// Fields are tab separated; yt-dlp prints "NA" for missing values.
	extractTemplate = "%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(webpage_url)s\t%(thumbnail)s"
	listTemplate    = "%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(playlist_title)s"

	DefaultSearchResults = 5
	DefaultPlaylistLimit = 50
)

// Prefix selects the yt-dlp search extractor.
type Prefix string

const (
	PrefixYouTube    Prefix = "ytsearch"
	PrefixSoundCloud Prefix = "scsearch"
)

// Config represents yt-dlp client configuration.
type Config struct {
	Path          string // yt-dlp executable, PATH lookup when empty
	Proxy         string
	SearchResults int
	PlaylistLimit int
}

// runFunc executes a prepared command and returns its stdout.
type runFunc func(ctx context.Context, cmd *ytdlp.Command, args ...string) (string, error)

// Client runs yt-dlp for extraction, search and playlist listing.
type Client struct {
	config Config
	run    runFunc
}

// New creates a new yt-dlp client.
func New(config Config) *Client {
	if config.SearchResults <= 0 {
		config.SearchResults = DefaultSearchResults
	}
	if config.PlaylistLimit <= 0 {
		config.PlaylistLimit = DefaultPlaylistLimit
	}
	return &Client{config: config, run: execute}
}

func execute(ctx context.Context, cmd *ytdlp.Command, args ...string) (string, error) {
	res, err := cmd.Run(ctx, args...)
	if err != nil {
		if res != nil && res.Stderr != "" {
			return "", errors.Wrapf(err, "yt-dlp: %s", lastLine(res.Stderr))
		}
		return "", errors.Wrap(err, "yt-dlp")
	}
	return res.Stdout, nil
}

func (c *Client) command() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig()
	if c.config.Path != "" {
		cmd.SetExecutable(c.config.Path)
	}
	if c.config.Proxy != "" {
		cmd.Proxy(c.config.Proxy)
	}
	return cmd
}

// Resolve extracts the best audio stream for a direct link.
func (c *Client) Resolve(ctx context.Context, ref track.Reference) (track.Resolved, error) {
	u := strings.Replace(ref.Raw, "music.youtube.com", "www.youtube.com", 1)

	out, err := c.run(ctx,
		c.command().
			Format(audioFormat).
			NoPlaylist().
			Print(extractTemplate),
		"--skip-download", u)
	if err != nil {
		return track.Resolved{}, errors.Wrapf(err, "extract %s", u)
	}

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		t, ok := parseExtractLine(line)
		if !ok {
			continue
		}
		if t.PageURL == "" {
			t.PageURL = u
		}
		t.Requester = ref.Requester
		zlog.Debug().Msgf("youtube: extracted: title=%s duration=%s", t.Title, t.DisplayDuration())
		return t, nil
	}
	return track.Resolved{}, errors.Wrapf(ErrBadOutput, "extract %s", u)
}

// Entry is one line of a flat listing.
type Entry struct {
	URL      string
	Title    string
	Uploader string
	Duration time.Duration
	Playlist string
}

// Search lists up to the configured number of results for query.
func (c *Client) Search(ctx context.Context, prefix Prefix, query string) ([]Entry, error) {
	n := c.config.SearchResults
	out, err := c.run(ctx,
		c.command().
			FlatPlaylist().
			Print(listTemplate).
			PlaylistItems(fmt.Sprintf("1-%d", n)),
		fmt.Sprintf("%s%d:%s", prefix, n, query))
	if err != nil {
		return nil, errors.Wrapf(err, "search %s %q", prefix, query)
	}
	return parseListing(out), nil
}

// List returns up to the configured limit of entries of a playlist.
func (c *Client) List(ctx context.Context, u string) ([]Entry, error) {
	out, err := c.run(ctx,
		c.command().
			FlatPlaylist().
			Print(listTemplate).
			PlaylistItems(fmt.Sprintf("1-%d", c.config.PlaylistLimit)),
		"--yes-playlist", u)
	if err != nil {
		return nil, errors.Wrapf(err, "list %s", u)
	}
	return parseListing(out), nil
}

// Expand lists a playlist as direct-link references.
func (c *Client) Expand(ctx context.Context, ref track.Reference) (*playlist.Playlist, error) {
	entries, err := c.List(ctx, ref.Raw)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.Wrapf(ErrNoResults, "playlist %s", ref.Raw)
	}

	p := &playlist.Playlist{URL: ref.Raw, Entries: make([]track.Reference, 0, len(entries))}
	for _, e := range entries {
		if p.Title == "" {
			p.Title = e.Playlist
		}
		p.Entries = append(p.Entries, ref.Direct(e.URL))
	}
	zlog.Info().Msgf("youtube: playlist listed: title=%s entries=%d", p.Title, p.Len())
	return p, nil
}

// Searcher resolves free text by searching one platform and extracting the
// first result.
type Searcher struct {
	client *Client
	prefix Prefix
}

// Searcher returns a search extractor for prefix.
func (c *Client) Searcher(prefix Prefix) *Searcher {
	return &Searcher{client: c, prefix: prefix}
}

// Resolve implements the resolver extractor contract.
func (s *Searcher) Resolve(ctx context.Context, ref track.Reference) (track.Resolved, error) {
	entries, err := s.client.Search(ctx, s.prefix, ref.Raw)
	if err != nil {
		return track.Resolved{}, err
	}
	if len(entries) == 0 {
		return track.Resolved{}, errors.Wrapf(ErrNoResults, "%s %q", s.prefix, ref.Raw)
	}

	first := entries[0]
	zlog.Debug().Msgf("youtube: search matched: prefix=%s query=%q title=%s", s.prefix, ref.Raw, first.Title)

	t, err := s.client.Resolve(ctx, ref.Direct(first.URL))
	if err != nil {
		return track.Resolved{}, err
	}
	if t.Title == "" {
		t.Title = first.Title
	}
	if t.Uploader == "" {
		t.Uploader = first.Uploader
	}
	return t, nil
}

// Find lists search hits for query without extracting any of them.
func (s *Searcher) Find(ctx context.Context, query string) ([]track.Candidate, error) {
	entries, err := s.client.Search(ctx, s.prefix, query)
	if err != nil {
		return nil, err
	}
	out := make([]track.Candidate, len(entries))
	for i, e := range entries {
		out[i] = track.Candidate{URL: e.URL, Title: e.Title, Uploader: e.Uploader, Duration: e.Duration}
	}
	return out, nil
}

func parseExtractLine(line string) (track.Resolved, bool) {
	ps := strings.Split(line, "\t")
	if len(ps) < 6 || field(ps[0]) == "" {
		return track.Resolved{}, false
	}
	return track.Resolved{
		StreamURL: field(ps[0]),
		Title:     field(ps[1]),
		Uploader:  field(ps[2]),
		Duration:  parseSeconds(ps[3]),
		PageURL:   field(ps[4]),
		Thumbnail: field(ps[5]),
	}, true
}

func parseListing(out string) []Entry {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	entries := make([]Entry, 0, len(lines))
	for _, l := range lines {
		ps := strings.Split(l, "\t")
		if len(ps) < 3 || field(ps[0]) == "" {
			continue
		}
		e := Entry{URL: field(ps[0]), Title: field(ps[1]), Uploader: field(ps[2])}
		if len(ps) > 3 {
			e.Duration = parseSeconds(ps[3])
		}
		if len(ps) > 4 {
			e.Playlist = field(ps[4])
		}
		entries = append(entries, e)
	}
	return entries
}

// field maps yt-dlp's "NA" placeholder to empty.
func field(s string) string {
	s = strings.TrimSpace(s)
	if s == "NA" {
		return ""
	}
	return s
}

// parseSeconds parses a duration printed as (fractional) seconds.
func parseSeconds(s string) time.Duration {
	f, err := strconv.ParseFloat(field(s), 64)
	if err != nil || f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
