package session

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/playdeck/internal/app/playback"
	"github.com/osa030/playdeck/internal/app/resolver"
	"github.com/osa030/playdeck/internal/domain/track"
)

func newTestManager(t *testing.T, config Config) (*Manager, map[string]*playback.MockSink) {
	t.Helper()

	pool := resolver.NewPool(newGatedResolver(), resolver.Config{Workers: 2})
	sinks := make(map[string]*playback.MockSink)
	m := NewManager(config, pool, func(id string) (playback.Sink, error) {
		if id == "broken-device" {
			return nil, errors.New("no output device")
		}
		s := playback.NewMockSink()
		sinks[id] = s
		return s, nil
	}, nil)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		assert.NoError(t, m.Close(ctx))
		pool.Close()
	})
	return m, sinks
}

func TestManager_EnqueueCreatesSession(t *testing.T) {
	m, sinks := newTestManager(t, Config{})
	ctx := context.Background()

	assert.Empty(t, m.Sessions())

	res := m.Enqueue(ctx, "guild-1", "A", "alice")
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, []string{"guild-1"}, m.Sessions())

	require.Eventually(t, func() bool { return len(sinks["guild-1"].Started()) == 1 }, waitFor, tick)

	res = m.Dispatch(ctx, "guild-1", Operation{Kind: OpPause})
	assert.True(t, res.OK())
	assert.True(t, m.Status("guild-1").Paused)
}

func TestManager_OperationsWithoutSession(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	for _, kind := range []OpKind{OpSkip, OpPause, OpResume, OpTogglePause, OpStop, OpPrevious, OpVolumeUp, OpStatus, OpQueue} {
		res := m.Dispatch(ctx, "nobody", Operation{Kind: kind})
		assert.Equal(t, ReasonNotInVoiceContext, res.Reason, kind.String())
	}
	assert.Empty(t, m.Sessions(), "only enqueue connects a session")

	_, res := m.QueuePage("nobody", 1)
	assert.Equal(t, ReasonNotInVoiceContext, res.Reason)

	s := m.Status("nobody")
	assert.False(t, s.Connected)
	assert.Equal(t, "disconnected", s.State)

	res = m.Enqueue(ctx, "", "A", "alice")
	assert.Equal(t, ReasonNotInVoiceContext, res.Reason)

	res = m.Enqueue(ctx, "broken-device", "A", "alice")
	assert.Equal(t, ReasonSinkError, res.Reason)
}

func TestManager_SearchNeedsNoSession(t *testing.T) {
	pool := resolver.NewPool(newGatedResolver(), resolver.Config{Workers: 1})
	defer pool.Close()
	finder := stubFinder{hits: []track.Candidate{{URL: "https://soundcloud.com/a/b", Title: "B"}}}
	m := NewManager(Config{}, pool, func(string) (playback.Sink, error) {
		return playback.NewMockSink(), nil
	}, nil, WithFinder(finder))
	defer func() { assert.NoError(t, m.Close(context.Background())) }()

	res := m.Dispatch(context.Background(), "", Operation{Kind: OpSearch, Reference: "b"})
	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "B", res.Candidates[0].Title)
	assert.Empty(t, m.Sessions())
}

func TestManager_LeaveRemovesSession(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	ctx := context.Background()

	require.True(t, m.Enqueue(ctx, "guild-1", "A", "alice").OK())
	c, ok := m.Session("guild-1")
	require.True(t, ok)

	assert.True(t, m.Leave("guild-1").OK())
	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("session did not close")
	}
	assert.Eventually(t, func() bool { return len(m.Sessions()) == 0 }, waitFor, tick)

	// A later enqueue connects a fresh session.
	require.True(t, m.Enqueue(ctx, "guild-1", "B", "bob").OK())
	c2, ok := m.Session("guild-1")
	require.True(t, ok)
	assert.NotSame(t, c, c2)
}

func TestManager_IdleSessionIsRemoved(t *testing.T) {
	m, _ := newTestManager(t, Config{IdleTimeout: 30 * time.Millisecond})

	_, err := m.Join("guild-1")
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return len(m.Sessions()) == 0 }, waitFor, tick)
	assert.False(t, m.Status("guild-1").Connected)
}
