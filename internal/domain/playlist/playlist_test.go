package playlist

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/osa030/playdeck/internal/domain/track"
)

func refs(raws ...string) []track.Reference {
	out := make([]track.Reference, len(raws))
	for i, r := range raws {
		out[i] = track.Reference{Raw: r, Source: track.SourceSearchResult}
	}
	return out
}

func TestPlaylist_Truncate(t *testing.T) {
	tests := []struct {
		name        string
		entries     []track.Reference
		limit       int
		wantDropped int
		wantRaws    []string
	}{
		{
			name:        "no limit",
			entries:     refs("a", "b", "c"),
			limit:       0,
			wantDropped: 0,
			wantRaws:    []string{"a", "b", "c"},
		},
		{
			name:        "under limit",
			entries:     refs("a", "b"),
			limit:       5,
			wantDropped: 0,
			wantRaws:    []string{"a", "b"},
		},
		{
			name:        "over limit",
			entries:     refs("a", "b", "c", "d"),
			limit:       2,
			wantDropped: 2,
			wantRaws:    []string{"a", "b"},
		},
		{
			name:        "empty playlist",
			entries:     []track.Reference{},
			limit:       3,
			wantDropped: 0,
			wantRaws:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Playlist{URL: "https://www.youtube.com/playlist?list=PL1", Entries: tt.entries}
			assert.Equal(t, tt.wantDropped, p.Truncate(tt.limit))
			assert.Equal(t, tt.wantRaws, p.Raws())
			assert.Equal(t, len(tt.wantRaws), p.Len())
		})
	}
}
