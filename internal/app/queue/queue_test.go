package queue

import (
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/playdeck/internal/domain/track"
)

func ref(raw string) track.Reference {
	return track.Reference{Raw: raw, Source: track.SourceSearchResult, Platform: track.PlatformSearch}
}

func resolved(title string) track.Resolved {
	return track.Resolved{Title: title, StreamURL: "https://stream/" + title}
}

func raws(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Ref.Raw
	}
	return out
}

func TestQueue_EnqueueIsFIFO(t *testing.T) {
	q := New()
	s1 := q.Enqueue(ref("a"))
	s2 := q.Enqueue(ref("b"))
	s3 := q.EnqueueResolved(ref("c"), resolved("c"))

	assert.Less(t, s1, s2)
	assert.Less(t, s2, s3)
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, 2, q.Pending())

	e, ok := q.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "a", e.Ref.Raw)
	assert.False(t, e.Ready())
}

func TestQueue_ConcurrentEnqueueOrderMatchesSequence(t *testing.T) {
	q := New()
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(ref(fmt.Sprintf("r%d", i)))
		}(i)
	}
	wg.Wait()

	entries := q.PeekPage(0, n)
	require.Len(t, entries, n)
	assert.True(t, sort.SliceIsSorted(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	}))

	seen := make(map[uint64]bool, n)
	for _, e := range entries {
		assert.False(t, seen[e.Seq], "duplicate sequence %d", e.Seq)
		seen[e.Seq] = true
	}
}

func TestQueue_ResolveInPlaceKeepsPosition(t *testing.T) {
	q := New()
	sa := q.Enqueue(ref("a"))
	sb := q.Enqueue(ref("b"))

	// b resolves before a
	require.True(t, q.Resolve(sb, resolved("B")))

	head, ok := q.PeekNext()
	require.True(t, ok)
	assert.False(t, head.Ready(), "head is still resolving")

	require.True(t, q.Resolve(sa, resolved("A")))
	e, ok := q.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "A", e.Track.Title)

	e, ok = q.DequeueNext()
	require.True(t, ok)
	assert.Equal(t, "B", e.Track.Title)

	_, ok = q.DequeueNext()
	assert.False(t, ok)
}

func TestQueue_RemoveAndMarkFailed(t *testing.T) {
	q := New()
	q.Enqueue(ref("a"))
	sb := q.Enqueue(ref("b"))
	q.Enqueue(ref("c"))

	require.True(t, q.MarkFailed(sb, 3))
	page := q.PeekPage(0, 10)
	assert.True(t, page[1].Failed)
	assert.Equal(t, 3, page[1].Attempts)

	e, ok := q.Remove(sb)
	require.True(t, ok)
	assert.Equal(t, "b", e.Ref.Raw)
	assert.Equal(t, []string{"a", "c"}, raws(q.PeekPage(0, 10)))

	_, ok = q.Remove(sb)
	assert.False(t, ok)
	assert.False(t, q.Resolve(sb, resolved("B")))
}

func TestQueue_Expand(t *testing.T) {
	q := New()
	q.Enqueue(ref("a"))
	sp := q.Enqueue(ref("playlist"))
	q.Enqueue(ref("z"))

	seqs := q.Expand(sp, []track.Reference{ref("p1"), ref("p2"), ref("p3")})
	require.Len(t, seqs, 3)
	assert.Equal(t, []string{"a", "p1", "p2", "p3", "z"}, raws(q.PeekPage(0, 10)))

	assert.Nil(t, q.Expand(sp, []track.Reference{ref("x")}), "placeholder already replaced")

	empty := q.Enqueue(ref("empty-playlist"))
	assert.Empty(t, q.Expand(empty, nil))
	assert.Equal(t, 5, q.Len())
}

func TestQueue_PushFront(t *testing.T) {
	q := New()
	q.Enqueue(ref("a"))
	q.PushFront(ref("cur"), resolved("cur"))
	q.PushFront(ref("prev"), resolved("prev"))

	assert.Equal(t, []string{"prev", "cur", "a"}, raws(q.PeekPage(0, 10)))
	head, ok := q.PeekNext()
	require.True(t, ok)
	assert.True(t, head.Ready())
}

func TestQueue_PeekPage(t *testing.T) {
	q := New()
	for i := 0; i < 25; i++ {
		q.Enqueue(ref(fmt.Sprintf("%02d", i)))
	}

	tests := []struct {
		name   string
		offset int
		limit  int
		want   int
		first  string
	}{
		{"first page", 0, 10, 10, "00"},
		{"middle page", 10, 10, 10, "10"},
		{"last partial page", 20, 10, 5, "20"},
		{"past the end", 30, 10, 0, ""},
		{"negative offset", -5, 3, 3, "00"},
		{"zero limit", 0, 0, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := q.PeekPage(tt.offset, tt.limit)
			assert.Len(t, page, tt.want)
			if tt.want > 0 {
				assert.Equal(t, tt.first, page[0].Ref.Raw)
			}
		})
	}

	// consecutive pages never overlap or skip
	var all []string
	for off := 0; off < q.Len(); off += 10 {
		all = append(all, raws(q.PeekPage(off, 10))...)
	}
	assert.Len(t, all, 25)
	assert.Equal(t, "24", all[24])
}

func TestQueue_ClearAndTracks(t *testing.T) {
	q := New()
	q.Enqueue(ref("pending"))
	q.EnqueueResolved(ref("x"), resolved("X"))

	tracks := q.Tracks()
	require.Len(t, tracks, 1)
	assert.Equal(t, "X", tracks[0].Title)

	assert.Equal(t, 2, q.Clear())
	assert.Equal(t, 0, q.Len())
	_, ok := q.PeekNext()
	assert.False(t, ok)

	// sequence numbers keep increasing after a clear
	s := q.Enqueue(ref("after"))
	assert.Equal(t, uint64(3), s)
}

func TestRing_WrapAroundAndGrow(t *testing.T) {
	r := newRing[int](0)
	for i := 0; i < 6; i++ {
		r.pushBack(i)
	}
	for i := 0; i < 6; i++ {
		v, ok := r.popFront()
		require.True(t, ok)
		assert.Equal(t, i, v)
	}
	// head is now in the middle of the buffer; force wrap and growth
	for i := 6; i < 20; i++ {
		r.pushBack(i)
	}
	r.pushFront(5)
	r.pushFront(4)

	got := r.slice(0, r.len())
	want := make([]int, 0, 16)
	for i := 4; i < 20; i++ {
		want = append(want, i)
	}
	assert.Equal(t, want, got)

	r.removeAt(1)
	r.removeAt(r.len() - 2)
	r.insertAt(1, 100)
	assert.Equal(t, 4, r.at(0))
	assert.Equal(t, 100, r.at(1))
	assert.Equal(t, 6, r.at(2))

	v, ok := r.popBack()
	require.True(t, ok)
	assert.Equal(t, 19, v)
}
