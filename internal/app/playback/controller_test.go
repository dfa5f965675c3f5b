package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/playdeck/internal/app/queue"
	"github.com/osa030/playdeck/internal/domain/track"
)

func newTestController(t *testing.T) (*Controller, *queue.Queue, *queue.History, *MockSink) {
	t.Helper()
	q := queue.New()
	h := queue.NewHistory(queue.HistoryCapacity)
	sink := NewMockSink()
	c := NewController(Config{}, q, h, sink)
	sink.OnFinished(c.HandleFinished)
	t.Cleanup(c.Close)
	return c, q, h, sink
}

func enqueue(q *queue.Queue, titles ...string) {
	for _, title := range titles {
		q.EnqueueResolved(
			track.Reference{Raw: title, Source: track.SourceSearchResult, Platform: track.PlatformSearch},
			track.Resolved{Title: title, StreamURL: "stream://" + title},
		)
	}
}

func drainEvents(c *Controller) []EventType {
	var out []EventType
	for {
		select {
		case e, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func titles(ts []track.Resolved) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Title
	}
	return out
}

func TestController_PlaysQueueInOrderAndRecordsHistory(t *testing.T) {
	c, q, h, sink := newTestController(t)
	ctx := context.Background()

	enqueue(q, "A", "B")
	require.NoError(t, c.Kick(ctx))

	snap := c.Snapshot()
	assert.Equal(t, StatePlaying, snap.State)
	require.NotNil(t, snap.Current)
	assert.Equal(t, "A", snap.Current.Title)
	assert.Equal(t, 1, q.Len())

	sink.Finish(sink.Last(), nil)
	snap = c.Snapshot()
	assert.Equal(t, "B", snap.Current.Title)
	assert.Equal(t, []string{"A"}, titles(h.Items()))

	sink.Finish(sink.Last(), nil)
	snap = c.Snapshot()
	assert.Equal(t, StateIdle, snap.State)
	assert.Nil(t, snap.Current)
	assert.Equal(t, []string{"B", "A"}, titles(snap.History))
	assert.Equal(t, []string{"stream://A", "stream://B"}, sink.Started())

	assert.Equal(t, []EventType{
		EventTrackStarted,
		EventTrackEnded, EventTrackStarted,
		EventTrackEnded, EventQueueEmpty,
	}, drainEvents(c))
}

func TestController_KickIsNoopWhilePlaying(t *testing.T) {
	c, q, _, sink := newTestController(t)
	ctx := context.Background()

	enqueue(q, "A", "B")
	require.NoError(t, c.Kick(ctx))
	require.NoError(t, c.Kick(ctx))

	assert.Equal(t, []string{"stream://A"}, sink.Started())
	assert.Equal(t, 1, sink.Live())
}

func TestController_PendingHeadWaitsInResolving(t *testing.T) {
	c, q, _, sink := newTestController(t)
	ctx := context.Background()

	seq := q.Enqueue(track.Reference{Raw: "pending"})
	enqueue(q, "B")

	require.NoError(t, c.Kick(ctx))
	assert.Equal(t, StateResolving, c.State())
	assert.Empty(t, sink.Started())

	require.True(t, q.Resolve(seq, track.Resolved{Title: "P", StreamURL: "stream://P"}))
	require.NoError(t, c.Kick(ctx))
	assert.Equal(t, StatePlaying, c.State())
	assert.Equal(t, []string{"stream://P"}, sink.Started())
}

func TestController_Skip(t *testing.T) {
	c, q, h, sink := newTestController(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Skip(ctx), ErrNothingPlaying)

	enqueue(q, "A", "B")
	require.NoError(t, c.Kick(ctx))
	first := sink.Last()

	require.NoError(t, c.Skip(ctx))
	assert.Equal(t, "B", c.Snapshot().Current.Title)
	assert.Contains(t, sink.Stopped(), first)
	assert.Zero(t, h.Len(), "skipped tracks are not recorded")

	// The completion of the skipped handle must not advance again.
	c.HandleFinished(first, nil)
	assert.Equal(t, "B", c.Snapshot().Current.Title)

	require.NoError(t, c.Skip(ctx))
	assert.Equal(t, StateIdle, c.State())
}

func TestController_RepeatOne(t *testing.T) {
	c, q, h, sink := newTestController(t)
	ctx := context.Background()

	c.SetRepeat(true)
	enqueue(q, "A", "B")
	require.NoError(t, c.Kick(ctx))

	sink.Finish(sink.Last(), nil)
	assert.Equal(t, "A", c.Snapshot().Current.Title)
	assert.Zero(t, h.Len())

	require.NoError(t, c.Skip(ctx))
	assert.Equal(t, "A", c.Snapshot().Current.Title)
	assert.Equal(t, []string{"stream://A", "stream://A", "stream://A"}, sink.Started())

	assert.False(t, c.ToggleRepeat())
	sink.Finish(sink.Last(), nil)
	assert.Equal(t, "B", c.Snapshot().Current.Title)
	assert.Equal(t, []string{"A"}, titles(h.Items()))
}

func TestController_HistoryEvictsOldest(t *testing.T) {
	c, q, h, sink := newTestController(t)
	ctx := context.Background()

	var names []string
	for i := 1; i <= 11; i++ {
		names = append(names, fmt.Sprintf("t%d", i))
	}
	enqueue(q, names...)
	require.NoError(t, c.Kick(ctx))
	for range names {
		sink.Finish(sink.Last(), nil)
	}

	items := titles(h.Items())
	require.Len(t, items, queue.HistoryCapacity)
	assert.Equal(t, "t11", items[0])
	assert.Equal(t, "t2", items[len(items)-1])
	assert.NotContains(t, items, "t1")
}

func TestController_Previous(t *testing.T) {
	c, q, h, sink := newTestController(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Previous(ctx), ErrNoHistory)

	enqueue(q, "A", "B", "C")
	require.NoError(t, c.Kick(ctx))
	sink.Finish(sink.Last(), nil)
	require.Equal(t, "B", c.Snapshot().Current.Title)

	require.NoError(t, c.Previous(ctx))
	assert.Equal(t, "A", c.Snapshot().Current.Title)
	assert.Zero(t, h.Len())

	page := q.PeekPage(0, 10)
	require.Len(t, page, 2)
	assert.Equal(t, "B", page[0].Track.Title)
	assert.Equal(t, "C", page[1].Track.Title)

	sink.Finish(sink.Last(), nil)
	assert.Equal(t, "B", c.Snapshot().Current.Title)
	assert.Equal(t, []string{"A"}, titles(h.Items()))
}

func TestController_PauseResume(t *testing.T) {
	c, q, _, sink := newTestController(t)
	ctx := context.Background()

	assert.ErrorIs(t, c.Pause(), ErrNothingPlaying)
	assert.ErrorIs(t, c.Resume(), ErrNothingPlaying)

	enqueue(q, "A")
	require.NoError(t, c.Kick(ctx))
	h := sink.Last()

	assert.ErrorIs(t, c.Resume(), ErrNotPaused)
	require.NoError(t, c.Pause())
	assert.Equal(t, StatePaused, c.State())
	assert.True(t, sink.Paused(h))
	assert.ErrorIs(t, c.Pause(), ErrNotPlaying)

	require.NoError(t, c.Resume())
	assert.Equal(t, StatePlaying, c.State())
	assert.False(t, sink.Paused(h))
}

func TestController_StopClearsEverything(t *testing.T) {
	c, q, h, sink := newTestController(t)
	ctx := context.Background()

	enqueue(q, "A", "B", "C")
	require.NoError(t, c.Kick(ctx))
	sink.Finish(sink.Last(), nil)

	dropped, err := c.Stop()
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	assert.Zero(t, q.Len())
	assert.Zero(t, h.Len())
	assert.Equal(t, StateIdle, c.State())
	assert.Nil(t, c.Snapshot().Current)
	assert.Zero(t, sink.Live())
}

func TestController_StartFailureDropsEntry(t *testing.T) {
	c, q, _, sink := newTestController(t)
	ctx := context.Background()

	sink.FailOn("stream://A", errors.New("device busy"))
	enqueue(q, "A", "B")
	require.NoError(t, c.Kick(ctx))

	assert.Equal(t, "B", c.Snapshot().Current.Title)
	assert.Zero(t, q.Len())
	events := drainEvents(c)
	assert.Equal(t, []EventType{EventStartFailed, EventTrackStarted}, events)
}

func TestController_OutputErrorAdvances(t *testing.T) {
	c, q, h, sink := newTestController(t)
	ctx := context.Background()

	enqueue(q, "A", "B")
	require.NoError(t, c.Kick(ctx))
	sink.Finish(sink.Last(), errors.New("stream reset"))

	assert.Equal(t, "B", c.Snapshot().Current.Title)
	assert.Zero(t, h.Len(), "failed tracks are not recorded")
}

func TestController_Volume(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "within range", in: 0.5, want: 0.5},
		{name: "above max", in: 5, want: MaxVolume},
		{name: "below min", in: -1, want: MinVolume},
		{name: "nan", in: math.NaN(), want: MinVolume},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _, _ := newTestController(t)
			assert.Equal(t, tt.want, c.SetVolume(tt.in))
			assert.Equal(t, tt.want, c.Snapshot().Volume)
		})
	}
}

func TestController_AdjustVolumeAppliesLive(t *testing.T) {
	c, q, _, sink := newTestController(t)
	ctx := context.Background()

	assert.Equal(t, DefaultVolume, c.Snapshot().Volume)

	enqueue(q, "A")
	require.NoError(t, c.Kick(ctx))
	assert.Equal(t, DefaultVolume, sink.Volume(sink.Last()))

	assert.InDelta(t, 1.1, c.AdjustVolume(VolumeStep), 1e-9)
	assert.InDelta(t, 1.1, sink.Volume(sink.Last()), 1e-9)

	for i := 0; i < 20; i++ {
		c.AdjustVolume(VolumeStep)
	}
	assert.Equal(t, MaxVolume, c.Snapshot().Volume)
}

func TestController_DisconnectIfIdle(t *testing.T) {
	c, q, _, sink := newTestController(t)
	ctx := context.Background()

	enqueue(q, "A")
	require.NoError(t, c.Kick(ctx))
	assert.False(t, c.DisconnectIfIdle(nil))

	sink.Finish(sink.Last(), nil)
	require.Equal(t, StateIdle, c.State())

	enqueue(q, "B")
	assert.False(t, c.DisconnectIfIdle(nil), "queued work keeps the session alive")
	q.Clear()

	assert.False(t, c.DisconnectIfIdle(func() bool { return false }), "superseded timer")
	assert.Equal(t, StateIdle, c.State())

	assert.True(t, c.DisconnectIfIdle(nil))
	assert.Equal(t, StateDisconnecting, c.State())
	assert.ErrorIs(t, c.Kick(ctx), ErrDisconnected)
	assert.ErrorIs(t, c.Skip(ctx), ErrDisconnected)
}

type transitionRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *transitionRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *transitionRecorder) got() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newHookedController(t *testing.T) (*Controller, *queue.Queue, *MockSink, *transitionRecorder) {
	t.Helper()
	q := queue.New()
	rec := &transitionRecorder{}
	sink := NewMockSink()
	c := NewController(Config{OnTransition: rec.record}, q, queue.NewHistory(queue.HistoryCapacity), sink)
	sink.OnFinished(c.HandleFinished)
	t.Cleanup(c.Close)
	return c, q, sink, rec
}

func TestController_TransitionHook(t *testing.T) {
	c, q, sink, rec := newHookedController(t)
	ctx := context.Background()

	enqueue(q, "A")
	require.NoError(t, c.Kick(ctx))
	sink.Finish(sink.Last(), nil)

	enqueue(q, "B")
	require.NoError(t, c.Kick(ctx))
	require.NoError(t, c.Pause())
	_, err := c.Stop()
	require.NoError(t, err)

	assert.Equal(t, []State{StatePlaying, StateIdle, StatePlaying, StateIdle}, rec.got())
}

func TestController_StartFailureCascadeSettlesIdle(t *testing.T) {
	c, q, sink, rec := newHookedController(t)
	ctx := context.Background()

	const n = 200
	sink.SetStartErr(errors.New("device busy"))
	for i := 0; i < n; i++ {
		enqueue(q, fmt.Sprintf("t%03d", i))
	}
	require.NoError(t, c.Kick(ctx))

	assert.Equal(t, StateIdle, c.State())
	assert.Zero(t, q.Len())
	assert.Equal(t, []State{StateIdle}, rec.got())

	var events []Event
	for len(c.Events()) > 0 {
		events = append(events, <-c.Events())
	}
	require.Len(t, events, 2, "one summary and the idle event")
	assert.Equal(t, EventStartFailed, events[0].Type)
	assert.Equal(t, n, events[0].Dropped)
	assert.Equal(t, "t199", events[0].Track.Title)
	assert.True(t, errors.Is(events[0].Err, ErrSinkStart))
	assert.Equal(t, EventQueueEmpty, events[1].Type)
}

func TestController_EnqueueRejectedAfterDisconnect(t *testing.T) {
	c, q, _, _ := newTestController(t)
	ref := track.Reference{Raw: "late", Source: track.SourceSearchResult, Platform: track.PlatformSearch}

	seq, err := c.Enqueue(ref)
	require.NoError(t, err)
	assert.NotZero(t, seq)
	q.Clear()

	require.True(t, c.DisconnectIfIdle(nil))
	_, err = c.Enqueue(ref)
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.Zero(t, q.Len())
}

func TestController_TogglePause(t *testing.T) {
	c, q, _, sink := newTestController(t)
	ctx := context.Background()

	_, err := c.TogglePause()
	assert.ErrorIs(t, err, ErrNothingPlaying)

	enqueue(q, "A")
	require.NoError(t, c.Kick(ctx))

	paused, err := c.TogglePause()
	require.NoError(t, err)
	assert.True(t, paused)
	assert.Equal(t, StatePaused, c.State())
	assert.True(t, sink.Paused(sink.Last()))

	paused, err = c.TogglePause()
	require.NoError(t, err)
	assert.False(t, paused)
	assert.Equal(t, StatePlaying, c.State())
	assert.False(t, sink.Paused(sink.Last()))
}
