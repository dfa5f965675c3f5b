package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/playdeck/internal/domain/playlist"
	"github.com/osa030/playdeck/internal/domain/track"
)

type fakeResolver struct {
	calls     atomic.Int32
	resolveFn func(n int32, ref track.Reference) (track.Resolved, error)
	expandFn  func(ref track.Reference) (*playlist.Playlist, error)
}

func (f *fakeResolver) Resolve(_ context.Context, ref track.Reference) (track.Resolved, error) {
	n := f.calls.Add(1)
	return f.resolveFn(n, ref)
}

func (f *fakeResolver) Expand(_ context.Context, ref track.Reference) (*playlist.Playlist, error) {
	f.calls.Add(1)
	return f.expandFn(ref)
}

func searchRef(raw string) track.Reference {
	return track.Reference{Raw: raw, Source: track.SourceSearchResult, Platform: track.PlatformSearch}
}

func waitResult(t *testing.T, f *Future) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := f.Wait(ctx)
	require.NoError(t, err)
	return res
}

func TestPool_Resolves(t *testing.T) {
	fr := &fakeResolver{resolveFn: func(_ int32, ref track.Reference) (track.Resolved, error) {
		return track.Resolved{Title: ref.Raw, StreamURL: "https://s/" + ref.Raw}, nil
	}}
	p := NewPool(fr, Config{})
	defer p.Close()

	res := waitResult(t, p.Submit(context.Background(), searchRef("song")))
	require.True(t, res.OK())
	assert.Equal(t, "song", res.Track.Title)
	assert.Equal(t, 1, res.Attempts)
}

func TestPool_TransientFailureRetriedUpToLimit(t *testing.T) {
	fr := &fakeResolver{resolveFn: func(int32, track.Reference) (track.Resolved, error) {
		return track.Resolved{}, errors.New("ERROR: HTTP Error 403: Forbidden")
	}}
	p := NewPool(fr, Config{Workers: 1})
	defer p.Close()

	res := waitResult(t, p.Submit(context.Background(), searchRef("broken")))
	require.False(t, res.OK())
	assert.Equal(t, KindTransient, res.Err.Kind)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), fr.calls.Load())
}

func TestPool_TransientThenSuccess(t *testing.T) {
	fr := &fakeResolver{resolveFn: func(n int32, ref track.Reference) (track.Resolved, error) {
		if n < 3 {
			return track.Resolved{}, errors.New("429 Too Many Requests")
		}
		return track.Resolved{Title: "ok"}, nil
	}}
	p := NewPool(fr, Config{Workers: 1})
	defer p.Close()

	res := waitResult(t, p.Submit(context.Background(), searchRef("flaky")))
	require.True(t, res.OK())
	assert.Equal(t, 3, res.Attempts)
}

func TestPool_PermanentFailureNotRetried(t *testing.T) {
	fr := &fakeResolver{resolveFn: func(int32, track.Reference) (track.Resolved, error) {
		return track.Resolved{}, errors.New("video unavailable")
	}}
	p := NewPool(fr, Config{})
	defer p.Close()

	res := waitResult(t, p.Submit(context.Background(), searchRef("gone")))
	require.False(t, res.OK())
	assert.Equal(t, KindPermanent, res.Err.Kind)
	assert.Equal(t, int32(1), fr.calls.Load())
}

func TestPool_PanicBecomesPermanentError(t *testing.T) {
	fr := &fakeResolver{resolveFn: func(int32, track.Reference) (track.Resolved, error) {
		panic("boom")
	}}
	p := NewPool(fr, Config{Workers: 1})
	defer p.Close()

	res := waitResult(t, p.Submit(context.Background(), searchRef("x")))
	require.False(t, res.OK())
	assert.Equal(t, KindPermanent, res.Err.Kind)
	assert.Contains(t, res.Err.Message, "boom")

	// worker survived the panic
	fr.resolveFn = func(int32, track.Reference) (track.Resolved, error) { return track.Resolved{Title: "y"}, nil }
	res = waitResult(t, p.Submit(context.Background(), searchRef("y")))
	assert.True(t, res.OK())
}

func TestPool_PlaylistExpansionTruncated(t *testing.T) {
	fr := &fakeResolver{expandFn: func(ref track.Reference) (*playlist.Playlist, error) {
		return &playlist.Playlist{URL: ref.Raw, Entries: []track.Reference{
			searchRef("a"), searchRef("b"), searchRef("c"),
		}}, nil
	}}
	p := NewPool(fr, Config{PlaylistLimit: 2})
	defer p.Close()

	ref := track.Reference{Raw: "https://www.youtube.com/playlist?list=PL", Source: track.SourcePlaylistEntry, Platform: track.PlatformYouTube}
	res := waitResult(t, p.Submit(context.Background(), ref))
	require.True(t, res.OK())
	require.NotNil(t, res.Playlist)
	assert.Equal(t, []string{"a", "b"}, res.Playlist.Raws())
}

func TestPool_SubmitAfterClose(t *testing.T) {
	fr := &fakeResolver{resolveFn: func(int32, track.Reference) (track.Resolved, error) {
		return track.Resolved{}, nil
	}}
	p := NewPool(fr, Config{})
	p.Close()
	p.Close()
	p.Wait()

	res := waitResult(t, p.Submit(context.Background(), searchRef("late")))
	require.False(t, res.OK())
	assert.ErrorIs(t, res.Err, ErrPoolClosed)
}

func TestPool_SubmitNeverBlocksAndConcurrencyIsBounded(t *testing.T) {
	release := make(chan struct{})
	var running, peak atomic.Int32

	fr := &fakeResolver{resolveFn: func(int32, track.Reference) (track.Resolved, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return track.Resolved{Title: "t"}, nil
	}}
	p := NewPool(fr, Config{Workers: 2})
	defer p.Close()

	const n = defaultBacklog * 3
	futures := make([]*Future, 0, n)
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			futures = append(futures, p.Submit(context.Background(), searchRef("q")))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked while workers were busy")
	}

	close(release)
	for _, f := range futures {
		assert.True(t, waitResult(t, f).OK())
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestPool_CloseCompletesEveryFuture(t *testing.T) {
	for round := 0; round < 20; round++ {
		release := make(chan struct{})
		fr := &fakeResolver{resolveFn: func(int32, track.Reference) (track.Resolved, error) {
			<-release
			return track.Resolved{Title: "t"}, nil
		}}
		p := NewPool(fr, Config{Workers: 2})

		const submitters, perSubmitter = 4, defaultBacklog
		var mu sync.Mutex
		var futures []*Future
		var wg sync.WaitGroup
		for i := 0; i < submitters; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < perSubmitter; j++ {
					f := p.Submit(context.Background(), searchRef("q"))
					mu.Lock()
					futures = append(futures, f)
					mu.Unlock()
				}
			}()
		}
		p.Close()
		wg.Wait()
		close(release)

		require.Len(t, futures, submitters*perSubmitter)
		for _, f := range futures {
			res := waitResult(t, f)
			if !res.OK() {
				assert.ErrorIs(t, res.Err, ErrPoolClosed, "round %d", round)
			}
		}
		p.Wait()
	}
}

func TestPool_CancelledContext(t *testing.T) {
	fr := &fakeResolver{resolveFn: func(int32, track.Reference) (track.Resolved, error) {
		return track.Resolved{Title: "never"}, nil
	}}
	p := NewPool(fr, Config{Workers: 1})
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := waitResult(t, p.Submit(ctx, searchRef("x")))
	require.False(t, res.OK())
	assert.Equal(t, int32(0), fr.calls.Load())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"forbidden", errors.New("HTTP Error 403: Forbidden"), KindTransient},
		{"rate limited", errors.New("spotify: rate limit exceeded"), KindTransient},
		{"server error", errors.New("502 Bad Gateway"), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"not found", errors.New("Video unavailable"), KindPermanent},
		{"already classified", Permanent(errors.New("403 but permanent")), KindPermanent},
		{"wrapped classified", errors.Wrap(Transient(errors.New("x")), "ctx"), KindTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err).Kind)
		})
	}
	assert.Nil(t, Classify(nil))
}

type fakeCatalog struct {
	name    string
	queries []string
	err     error
}

func (f fakeCatalog) Queries(context.Context, string) (string, []string, error) {
	return f.name, f.queries, f.err
}

type recordingExtractor struct {
	mu   sync.Mutex
	refs []track.Reference
	err  error
}

func (r *recordingExtractor) Resolve(_ context.Context, ref track.Reference) (track.Resolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = append(r.refs, ref)
	if r.err != nil {
		return track.Resolved{}, r.err
	}
	return track.Resolved{Title: ref.Raw}, nil
}

func TestRouter(t *testing.T) {
	search := &recordingExtractor{}
	catalog := NewCatalogRoute(fakeCatalog{name: "Album", queries: []string{"A - One", "A - Two"}}, search)

	r := NewRouter()
	r.Handle(track.PlatformSearch, Route{Name: "search", Extractor: search})
	r.Handle(track.PlatformSpotify, Route{Name: "spotify", Extractor: catalog, Expander: catalog})

	got, err := r.Resolve(context.Background(), track.Reference{Raw: "q", Platform: track.PlatformSearch, Requester: "dan"})
	require.NoError(t, err)
	assert.Equal(t, "dan", got.Requester)

	got, err = r.Resolve(context.Background(), track.Reference{Raw: "spotify:track:1", Platform: track.PlatformSpotify})
	require.NoError(t, err)
	assert.Equal(t, "A - One", got.Title)

	pl, err := r.Expand(context.Background(), track.Reference{Raw: "spotify:album:1", Platform: track.PlatformSpotify, Requester: "eve"})
	require.NoError(t, err)
	assert.Equal(t, "Album", pl.Title)
	assert.Equal(t, []string{"A - One", "A - Two"}, pl.Raws())
	assert.Equal(t, track.SourceSearchResult, pl.Entries[0].Source)
	assert.Equal(t, "eve", pl.Entries[1].Requester)

	_, err = r.Resolve(context.Background(), track.Reference{Raw: "x", Platform: track.PlatformSoundCloud})
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, KindPermanent, Classify(err).Kind)

	_, err = r.Expand(context.Background(), track.Reference{Raw: "x", Platform: track.PlatformSearch})
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestCatalogRoute_NoQueries(t *testing.T) {
	route := NewCatalogRoute(fakeCatalog{}, &recordingExtractor{})
	_, err := route.Resolve(context.Background(), track.Reference{Raw: "spotify:track:x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChain(t *testing.T) {
	failing := &recordingExtractor{err: errors.New("no results")}
	limited := &recordingExtractor{err: errors.New("HTTP Error 429")}
	working := &recordingExtractor{}

	c := NewChain(NamedExtractor{failing, "first"}, NamedExtractor{working, "second"})
	got, err := c.Resolve(context.Background(), searchRef("q"))
	require.NoError(t, err)
	assert.Equal(t, "q", got.Title)
	assert.Len(t, failing.refs, 1)

	c = NewChain(NamedExtractor{limited, "limited"}, NamedExtractor{failing, "failing"})
	_, err = c.Resolve(context.Background(), searchRef("q"))
	require.Error(t, err)
	assert.Equal(t, KindTransient, Classify(err).Kind, "transient failure takes precedence")

	_, err = NewChain().Resolve(context.Background(), searchRef("q"))
	assert.Error(t, err)
}

type memStore struct {
	mu   sync.Mutex
	data map[string]track.Resolved
}

func (m *memStore) Get(_ context.Context, key string) (track.Resolved, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.data[key]
	return t, ok, nil
}

func (m *memStore) Put(_ context.Context, key string, t track.Resolved) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = t
	return nil
}

func TestCached(t *testing.T) {
	fr := &fakeResolver{resolveFn: func(_ int32, ref track.Reference) (track.Resolved, error) {
		return track.Resolved{Title: ref.Raw, Requester: ref.Requester}, nil
	}}
	store := &memStore{data: map[string]track.Resolved{}}
	c := NewCached(fr, store)

	first, err := c.Resolve(context.Background(), track.Reference{Raw: "q", Platform: track.PlatformSearch, Requester: "a"})
	require.NoError(t, err)
	second, err := c.Resolve(context.Background(), track.Reference{Raw: "q", Platform: track.PlatformSearch, Requester: "b"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), fr.calls.Load())
	assert.Equal(t, first.Title, second.Title)
	assert.Equal(t, "b", second.Requester)
	assert.Contains(t, store.data, "search:q")
}
