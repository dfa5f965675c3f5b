package playback

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/app/queue"
	"github.com/osa030/playdeck/internal/domain/track"
)

// Errors
var (
	ErrNothingPlaying = errors.New("nothing playing")
	ErrNotPlaying     = errors.New("not playing")
	ErrNotPaused      = errors.New("not paused")
	ErrNoHistory      = errors.New("no previous track")
	ErrDisconnected   = errors.New("session disconnected")
	ErrSinkStart      = errors.New("output failed to start")
)

const (
	MinVolume     = 0.0
	MaxVolume     = 2.0
	DefaultVolume = 1.0
	VolumeStep    = 0.1
)

// Config holds controller configuration.
type Config struct {
	DefaultVolume float64
	// OnTransition runs under the advance lock whenever the controller
	// settles in StateIdle or starts a track (StatePlaying). It must not
	// call back into the controller.
	OnTransition func(State)
}

// Snapshot is an immutable copy of the controller state.
type Snapshot struct {
	State     State
	Current   *track.Resolved
	Volume    float64
	RepeatOne bool
	History   []track.Resolved
}

// Controller is the single authority over the sink. Every transition runs
// under mu, so at most one advance is in flight.
type Controller struct {
	mu sync.Mutex

	queue   *queue.Queue
	history *queue.History
	sink    Sink

	// Current track state
	current    *track.Resolved
	currentRef track.Reference
	handle     Handle
	startedAt  time.Time
	state      State

	volume    float64
	repeatOne bool

	eventCh      chan Event
	onTransition func(State)
	closed       bool

	snapshot atomic.Pointer[Snapshot]

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController creates a controller over q and h driving sink.
func NewController(config Config, q *queue.Queue, h *queue.History, sink Sink) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	volume := config.DefaultVolume
	if volume == 0 {
		volume = DefaultVolume
	}
	c := &Controller{
		queue:        q,
		history:      h,
		sink:         sink,
		state:        StateIdle,
		volume:       ClampVolume(volume),
		eventCh:      make(chan Event, 64),
		onTransition: config.OnTransition,
		ctx:          ctx,
		cancel:       cancel,
	}
	c.commitLocked()
	return c
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Snapshot returns the last committed state without taking the lock.
func (c *Controller) Snapshot() Snapshot {
	return *c.snapshot.Load()
}

// State returns the last committed state.
func (c *Controller) State() State {
	return c.snapshot.Load().State
}

// Enqueue appends a pending placeholder for ref under the advance lock, so
// it cannot interleave with an idle disconnect.
func (c *Controller) Enqueue(ref track.Reference) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.state == StateDisconnecting {
		return 0, ErrDisconnected
	}
	return c.queue.Enqueue(ref), nil
}

// Kick starts playback if the controller is waiting for a track.
func (c *Controller) Kick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDisconnecting:
		return ErrDisconnected
	case StateIdle, StateResolving:
		c.advanceLocked(ctx)
	}
	return nil
}

// Skip stops the current track and moves on. With repeat-one set the same
// track starts again.
func (c *Controller) Skip(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnecting {
		return ErrDisconnected
	}
	if c.current == nil {
		return ErrNothingPlaying
	}

	skipped := c.current
	c.stopOutputLocked()
	c.sendEventLocked(Event{Type: EventTrackSkipped, Track: skipped, State: c.state})

	if c.repeatOne {
		if err := c.startLocked(ctx, c.currentRef, *skipped); err == nil {
			return nil
		}
	}

	c.current = nil
	c.advanceLocked(ctx)
	return nil
}

// Pause pauses the current playback.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pauseLocked()
}

// Resume resumes paused playback.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resumeLocked()
}

// TogglePause pauses playing output and resumes paused output. Reports
// whether playback is now paused.
func (c *Controller) TogglePause() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePaused {
		return false, c.resumeLocked()
	}
	return true, c.pauseLocked()
}

func (c *Controller) pauseLocked() error {
	if c.state == StateDisconnecting {
		return ErrDisconnected
	}
	if c.current == nil {
		return ErrNothingPlaying
	}
	if c.state != StatePlaying {
		return ErrNotPlaying
	}

	if err := c.sink.Pause(c.handle); err != nil {
		return errors.Wrap(err, "failed to pause output")
	}
	c.state = StatePaused
	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.current, State: c.state})
	c.commitLocked()
	return nil
}

func (c *Controller) resumeLocked() error {
	if c.state == StateDisconnecting {
		return ErrDisconnected
	}
	if c.current == nil {
		return ErrNothingPlaying
	}
	if c.state != StatePaused {
		return ErrNotPaused
	}

	if err := c.sink.Resume(c.handle); err != nil {
		return errors.Wrap(err, "failed to resume output")
	}
	c.state = StatePlaying
	c.sendEventLocked(Event{Type: EventStateChanged, Track: c.current, State: c.state})
	c.commitLocked()
	return nil
}

// Stop halts output and clears the queue, the current track and the history.
// Returns the number of queue entries dropped.
func (c *Controller) Stop() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnecting {
		return 0, ErrDisconnected
	}

	c.stopOutputLocked()
	dropped := c.queue.Clear()
	c.history.Clear()
	c.current = nil
	c.state = StateIdle

	c.sendEventLocked(Event{Type: EventQueueEmpty, State: c.state})
	c.transitionLocked()
	c.commitLocked()
	return dropped, nil
}

// Previous makes the most recent history entry the very next track. The
// current track, if any, is re-queued right behind it.
func (c *Controller) Previous(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnecting {
		return ErrDisconnected
	}

	prev, ok := c.history.PopRecent()
	if !ok {
		return ErrNoHistory
	}

	if c.current != nil {
		skipped := c.current
		c.stopOutputLocked()
		c.queue.PushFront(c.currentRef, *skipped)
		c.sendEventLocked(Event{Type: EventTrackSkipped, Track: skipped, State: c.state})
		c.current = nil
	}
	c.queue.PushFront(track.Reference{Raw: prev.PageURL, Source: track.SourceDirectLink, Requester: prev.Requester}, prev)

	c.advanceLocked(ctx)
	return nil
}

// HandleFinished processes a sink completion. Completions for handles that
// are no longer current are ignored.
func (c *Controller) HandleFinished(h Handle, finishErr error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h == 0 || h != c.handle || c.current == nil {
		zlog.Debug().Msgf("playback: ignoring stale completion: handle=%d current=%d", h, c.handle)
		return
	}

	ended := c.current
	c.handle = 0
	zlog.Debug().Msgf("playback: track ended: title=%s elapsed=%v", ended.Title, time.Since(c.startedAt).Round(time.Second))

	if finishErr != nil {
		zlog.Warn().Msgf("playback: output error, advancing: title=%s error=%v", ended.Title, finishErr)
		c.sendEventLocked(Event{Type: EventTrackEnded, Track: ended, State: c.state, Err: finishErr})
		c.current = nil
		c.advanceLocked(c.ctx)
		return
	}

	c.sendEventLocked(Event{Type: EventTrackEnded, Track: ended, State: c.state})

	if c.repeatOne {
		if err := c.startLocked(c.ctx, c.currentRef, *ended); err == nil {
			return
		}
	} else {
		c.history.Push(*ended)
	}

	c.current = nil
	c.advanceLocked(c.ctx)
}

// SetVolume clamps v into range, applies it to live output and returns the
// applied value.
func (c *Controller) SetVolume(v float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setVolumeLocked(v)
}

// AdjustVolume moves the volume by delta, rounded to one decimal.
func (c *Controller) AdjustVolume(delta float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setVolumeLocked(math.Round((c.volume+delta)*10) / 10)
}

func (c *Controller) setVolumeLocked(v float64) float64 {
	c.volume = ClampVolume(v)
	if c.handle != 0 {
		if err := c.sink.SetVolume(c.handle, c.volume); err != nil {
			zlog.Warn().Msgf("playback: failed to apply volume: volume=%.1f error=%v", c.volume, err)
		}
	}
	c.commitLocked()
	return c.volume
}

// SetRepeat sets repeat-one.
func (c *Controller) SetRepeat(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repeatOne = on
	c.commitLocked()
}

// ToggleRepeat flips repeat-one and returns the new value.
func (c *Controller) ToggleRepeat() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repeatOne = !c.repeatOne
	c.commitLocked()
	return c.repeatOne
}

// DisconnectIfIdle tears the controller down only when nothing is playing,
// nothing is queued and current, evaluated under the advance lock, still
// holds. Reports whether it disconnected.
func (c *Controller) DisconnectIfIdle(current func() bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle || c.queue.Len() > 0 {
		return false
	}
	if current != nil && !current() {
		return false
	}
	c.disconnectLocked()
	return true
}

// Disconnect tears the controller down unconditionally.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateDisconnecting {
		return
	}
	c.disconnectLocked()
}

func (c *Controller) disconnectLocked() {
	c.stopOutputLocked()
	c.queue.Clear()
	c.current = nil
	c.state = StateDisconnecting
	c.sendEventLocked(Event{Type: EventDisconnected, State: c.state})
	c.commitLocked()
}

// Close closes the controller and releases resources.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.cancel()
	c.stopOutputLocked()
	c.closed = true
	close(c.eventCh)
}

// advanceLocked starts the next ready queue entry. Entries whose output
// fails to start are dropped and the next one is tried; the drops are
// reported as one start_failed event ahead of the outcome.
// Must be called with lock held.
func (c *Controller) advanceLocked(ctx context.Context) {
	c.state = StateAdvancing
	failed := Event{Type: EventStartFailed}

	for {
		// Only the advance lock removes a ready head, so peek then pop is safe.
		head, ok := c.queue.PeekNext()
		if !ok || !head.Ready() {
			c.current = nil
			c.reportDroppedLocked(failed)
			if ok {
				c.state = StateResolving
				c.sendEventLocked(Event{Type: EventStateChanged, State: c.state})
			} else {
				c.state = StateIdle
				c.sendEventLocked(Event{Type: EventQueueEmpty, State: c.state})
				c.transitionLocked()
			}
			c.commitLocked()
			return
		}
		e, _ := c.queue.DequeueNext()

		err := c.openLocked(ctx, e.Ref, *e.Track)
		if err == nil {
			c.reportDroppedLocked(failed)
			c.announceLocked()
			return
		}
		zlog.Error().Msgf("playback: dropping track that failed to start: title=%s error=%v", e.Track.Title, err)
		failed.Track, failed.Err = e.Track, err
		failed.Dropped++
	}
}

func (c *Controller) reportDroppedLocked(e Event) {
	if e.Dropped == 0 {
		return
	}
	e.State = c.state
	c.sendEventLocked(e)
}

// startLocked starts t on the sink and makes it current.
// Must be called with lock held.
func (c *Controller) startLocked(ctx context.Context, ref track.Reference, t track.Resolved) error {
	if err := c.openLocked(ctx, ref, t); err != nil {
		return err
	}
	c.announceLocked()
	return nil
}

// openLocked starts output for t without announcing it.
// Must be called with lock held.
func (c *Controller) openLocked(ctx context.Context, ref track.Reference, t track.Resolved) error {
	h, err := c.sink.Start(ctx, t.StreamURL, c.volume)
	if err != nil {
		c.current = nil
		c.handle = 0
		return errors.Mark(errors.Wrapf(err, "start %q", t.Title), ErrSinkStart)
	}

	c.handle = h
	c.current = &t
	c.currentRef = ref
	c.startedAt = time.Now()
	c.state = StatePlaying
	return nil
}

// announceLocked publishes the track openLocked just started.
// Must be called with lock held.
func (c *Controller) announceLocked() {
	t := c.current
	zlog.Info().Msgf("playback: track started: title=%s duration=%s requester=%s",
		t.Title, t.DisplayDuration(), t.Requester)
	c.sendEventLocked(Event{Type: EventTrackStarted, Track: t, State: c.state})
	c.transitionLocked()
	c.commitLocked()
}

// transitionLocked hands an Idle or Playing state to the transition hook.
// Must be called with lock held.
func (c *Controller) transitionLocked() {
	if c.onTransition != nil && !c.closed {
		c.onTransition(c.state)
	}
}

// stopOutputLocked stops the live handle, if any.
// Must be called with lock held.
func (c *Controller) stopOutputLocked() {
	if c.handle == 0 {
		return
	}
	if err := c.sink.Stop(c.handle); err != nil {
		zlog.Warn().Msgf("playback: failed to stop output: handle=%d error=%v", c.handle, err)
	}
	c.handle = 0
}

// commitLocked publishes the state for lock-free readers.
// Must be called with lock held.
func (c *Controller) commitLocked() {
	s := &Snapshot{
		State:     c.state,
		Volume:    c.volume,
		RepeatOne: c.repeatOne,
		History:   c.history.Items(),
	}
	if c.current != nil {
		cur := *c.current
		s.Current = &cur
	}
	c.snapshot.Store(s)
}

// sendEventLocked sends an event without blocking. Events are advisory;
// anything that must not be lost goes through transitionLocked.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	select {
	case c.eventCh <- e:
	default:
		zlog.Warn().Msgf("playback: event dropped, channel full: type=%s", e.Type)
	}
}

// ClampVolume saturates v into [MinVolume, MaxVolume].
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) || v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}
