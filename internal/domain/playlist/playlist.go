// Package playlist provides the expanded playlist entity.
package playlist

import "github.com/osa030/playdeck/internal/domain/track"

// Playlist is the result of expanding a playlist or album reference.
type Playlist struct {
	Title   string            // Playlist or album name, may be empty
	URL     string            // Source URL the playlist was expanded from
	Entries []track.Reference // One reference per track, in playlist order
}

// Len returns the number of entries.
func (p *Playlist) Len() int {
	return len(p.Entries)
}

// Truncate keeps at most limit entries. A limit of zero or less keeps everything.
// Returns the number of dropped entries.
func (p *Playlist) Truncate(limit int) int {
	if limit <= 0 || len(p.Entries) <= limit {
		return 0
	}
	dropped := len(p.Entries) - limit
	p.Entries = p.Entries[:limit]
	return dropped
}

// Raws returns the raw strings of every entry.
func (p *Playlist) Raws() []string {
	raws := make([]string, len(p.Entries))
	for i, e := range p.Entries {
		raws[i] = e.Raw
	}
	return raws
}
