// Package session provides the per-voice-context playback session and its manager.
package session

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/app/filter"
	"github.com/osa030/playdeck/internal/app/notification"
	"github.com/osa030/playdeck/internal/app/playback"
	"github.com/osa030/playdeck/internal/app/queue"
	"github.com/osa030/playdeck/internal/app/resolver"
	"github.com/osa030/playdeck/internal/domain/status"
	"github.com/osa030/playdeck/internal/domain/track"
)

const (
	DefaultIdleTimeout = 300 * time.Second
	DefaultPageSize    = 10
)

// Config holds per-session configuration.
type Config struct {
	IdleTimeout     time.Duration
	DefaultVolume   float64
	HistoryCapacity int
	PageSize        int
	// Messages maps filter rejection codes to user-facing text.
	Messages map[string]string
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = queue.HistoryCapacity
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	return c
}

// Submitter dispatches references for background resolution.
type Submitter interface {
	Submit(ctx context.Context, ref track.Reference) *resolver.Future
}

// StatusSink receives status notifications. Publish must not block.
type StatusSink interface {
	Publish(n *notification.Notification)
}

// Deps are the collaborators injected into a session.
type Deps struct {
	Pool     Submitter
	Sink     playback.Sink
	Status   StatusSink
	Filters  map[string]filter.Settings
	Finder   Finder
	OnClosed func(*Controller)
}

type resolution struct {
	seq    uint64
	result resolver.Result
}

type completion struct {
	handle playback.Handle
	err    error
}

// Controller coordinates one session: it registers placeholders, applies
// resolution results in queue order, drives the playback state machine
// and owns the idle-disconnect timer.
type Controller struct {
	id     string
	config Config

	queue    *queue.Queue
	history  *queue.History
	playback *playback.Controller
	sink     playback.Sink
	pool     Submitter
	filters  *filter.Chain
	finder   Finder
	status   StatusSink
	onClosed func(*Controller)

	alive       atomic.Bool
	closeReason string
	snapshot    atomic.Pointer[status.Snapshot]
	statusMu    sync.Mutex

	idle *idleTimer

	results  chan resolution
	finished chan completion

	resolveCtx context.Context
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates a session and starts its run loop.
func New(id string, config Config, deps Deps) (*Controller, error) {
	if deps.Pool == nil {
		return nil, errors.New("session: resolver pool is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("session: output sink is required")
	}
	config = config.withDefaults()

	q := queue.New()
	h := queue.NewHistory(config.HistoryCapacity)

	chain, err := filter.Build(deps.Filters, q)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build filter chain")
	}

	statusSink := deps.Status
	if statusSink == nil {
		statusSink = discardStatus{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		id:         id,
		config:     config,
		queue:      q,
		history:    h,
		sink:       deps.Sink,
		pool:       deps.Pool,
		filters:    chain,
		finder:     deps.Finder,
		status:     statusSink,
		onClosed:   deps.OnClosed,
		results:    make(chan resolution, 16),
		finished:   make(chan completion, 16),
		resolveCtx: context.WithoutCancel(ctx),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.idle = &idleTimer{
		timeout: config.IdleTimeout,
		expired: func() { c.shutdown("idle timeout") },
	}
	c.playback = playback.NewController(playback.Config{
		DefaultVolume: config.DefaultVolume,
		OnTransition:  c.onTransition,
	}, q, h, deps.Sink)
	c.idle.fire = c.playback.DisconnectIfIdle
	c.alive.Store(true)
	deps.Sink.OnFinished(c.onSinkFinished)

	c.refreshStatus()
	c.idle.arm()
	go c.loop()

	zlog.Info().Msgf("session: created: id=%s idle_timeout=%v", id, config.IdleTimeout)
	return c, nil
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// Done is closed once the session has been torn down.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Alive reports whether the session still accepts operations.
func (c *Controller) Alive() bool {
	return c.alive.Load()
}

// Enqueue registers a placeholder for raw and resolves it in the
// background. It returns as soon as the placeholder holds its position.
func (c *Controller) Enqueue(ctx context.Context, raw, requester string) Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}

	ref, err := track.Classify(raw, requester)
	if err != nil {
		zlog.Info().Msgf("session: enqueue rejected: id=%s error=%v", c.id, err)
		return failed(ReasonInvalidOperation, err.Error())
	}

	seq, err := c.playback.Enqueue(ref)
	if err != nil || !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	c.idle.cancel()
	c.await(seq, c.pool.Submit(context.WithoutCancel(ctx), ref))

	zlog.Info().Msgf("session: enqueued: id=%s seq=%d platform=%s source=%s requester=%s",
		c.id, seq, ref.Platform, ref.Source, requester)
	c.refreshStatus()
	c.publish(notification.TypeStateChanged, fmt.Sprintf("queued %s", raw))

	return Result{Reason: ReasonOK, Message: "queued", Seq: seq}
}

// Skip stops the current track and advances.
func (c *Controller) Skip() Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	return c.apply("skip", "skipped", c.playback.Skip(c.ctx))
}

// Pause pauses playback.
func (c *Controller) Pause() Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	return c.apply("pause", "paused", c.playback.Pause())
}

// Resume resumes paused playback.
func (c *Controller) Resume() Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	return c.apply("resume", "resumed", c.playback.Resume())
}

// TogglePause pauses playing output or resumes paused output.
func (c *Controller) TogglePause() Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	paused, err := c.playback.TogglePause()
	if paused {
		return c.apply("toggle pause", "paused", err)
	}
	return c.apply("toggle pause", "resumed", err)
}

// Stop halts playback and clears the queue and history.
func (c *Controller) Stop() Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	dropped, err := c.playback.Stop()
	return c.apply("stop", fmt.Sprintf("stopped, %d queued tracks cleared", dropped), err)
}

// Previous replays the most recently finished track.
func (c *Controller) Previous() Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	return c.apply("previous", "playing previous track", c.playback.Previous(c.ctx))
}

// SetVolume sets the volume, clamped into range.
func (c *Controller) SetVolume(v float64) Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	applied := c.playback.SetVolume(v)
	return c.apply("volume", fmt.Sprintf("volume %.1f", applied), nil)
}

// AdjustVolume moves the volume by delta.
func (c *Controller) AdjustVolume(delta float64) Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	applied := c.playback.AdjustVolume(delta)
	return c.apply("volume", fmt.Sprintf("volume %.1f", applied), nil)
}

// ToggleRepeat flips repeat-one.
func (c *Controller) ToggleRepeat() Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	on := c.playback.ToggleRepeat()
	return c.apply("repeat", repeatMessage(on), nil)
}

// SetRepeat sets repeat-one.
func (c *Controller) SetRepeat(on bool) Result {
	if !c.alive.Load() {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	c.playback.SetRepeat(on)
	return c.apply("repeat", repeatMessage(on), nil)
}

func repeatMessage(on bool) string {
	if on {
		return "repeat on"
	}
	return "repeat off"
}

// Dispatch runs op against the session.
func (c *Controller) Dispatch(ctx context.Context, op Operation) Result {
	switch op.Kind {
	case OpEnqueue:
		return c.Enqueue(ctx, op.Reference, op.Requester)
	case OpSkip:
		return c.Skip()
	case OpPause:
		return c.Pause()
	case OpResume:
		return c.Resume()
	case OpTogglePause:
		return c.TogglePause()
	case OpStop:
		return c.Stop()
	case OpPrevious:
		return c.Previous()
	case OpVolumeUp:
		return c.AdjustVolume(playback.VolumeStep)
	case OpVolumeDown:
		return c.AdjustVolume(-playback.VolumeStep)
	case OpSetVolume:
		return c.SetVolume(op.Volume)
	case OpToggleRepeat:
		return c.ToggleRepeat()
	case OpStatus:
		s := c.Status()
		if s.Current == nil {
			return ok(s.State)
		}
		return ok(fmt.Sprintf("%s: %s", s.State, s.Current.Title))
	case OpQueue:
		page, res := c.QueuePage(op.Page)
		if !res.OK() {
			return res
		}
		res = ok(fmt.Sprintf("page %d/%d, %d queued", page.Number, page.Total, page.Count))
		res.Page = &page
		return res
	case OpSearch:
		return search(ctx, c.finder, op.Reference)
	default:
		return failed(ReasonInvalidOperation, fmt.Sprintf("unsupported operation %s", op.Kind))
	}
}

// Status returns the latest committed snapshot without blocking on playback.
func (c *Controller) Status() status.Snapshot {
	return *c.snapshot.Load()
}

// Page is one page of the queue listing.
type Page struct {
	Number  int
	Total   int
	Count   int
	Entries []status.Entry
}

// QueuePage returns page (1-based) of the queue. Out-of-range pages are clamped.
func (c *Controller) QueuePage(page int) (Page, Result) {
	if !c.alive.Load() {
		return Page{}, failed(ReasonNotInVoiceContext, "not connected")
	}

	count := c.queue.Len()
	if count == 0 {
		return Page{Number: 1, Total: 1}, failed(ReasonQueueEmpty, "queue is empty")
	}

	size := c.config.PageSize
	total := (count + size - 1) / size
	page = max(1, min(page, total))

	entries := c.queue.PeekPage((page-1)*size, size)
	return Page{
		Number:  page,
		Total:   total,
		Count:   count,
		Entries: toStatusEntries(entries),
	}, ok("")
}

// Disconnect tears the session down regardless of state.
func (c *Controller) Disconnect() {
	c.playback.Disconnect()
	c.shutdown("disconnect requested")
}

// Close disconnects and waits for the run loop to finish.
func (c *Controller) Close(ctx context.Context) error {
	c.Disconnect()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) apply(op, msg string, err error) Result {
	c.refreshStatus()
	if err != nil {
		// Invalid operations are informational, not errors.
		zlog.Info().Msgf("session: %s rejected: id=%s reason=%v", op, c.id, err)
		return fromError(err)
	}
	c.publish(notification.TypeStateChanged, msg)
	return ok(msg)
}

// shutdown marks the session dead and stops the run loop.
func (c *Controller) shutdown(reason string) {
	if !c.alive.CompareAndSwap(true, false) {
		return
	}
	zlog.Info().Msgf("session: disconnecting: id=%s reason=%s", c.id, reason)
	c.closeReason = reason
	c.idle.stop()
	c.cancel()
}

// onTransition keeps the idle timer in step with playback. It runs under
// the playback lock.
func (c *Controller) onTransition(s playback.State) {
	switch s {
	case playback.StateIdle:
		c.idle.arm()
	case playback.StatePlaying:
		c.idle.cancel()
	}
}

func (c *Controller) onSinkFinished(h playback.Handle, err error) {
	select {
	case c.finished <- completion{handle: h, err: err}:
	case <-c.ctx.Done():
	}
}

// await forwards the future's result to the run loop. Resolution itself is
// never cancelled; the result is dropped if the session ends first.
func (c *Controller) await(seq uint64, f *resolver.Future) {
	go func() {
		select {
		case <-f.Done():
		case <-c.ctx.Done():
			return
		}
		select {
		case c.results <- resolution{seq: seq, result: f.Result()}:
		case <-c.ctx.Done():
		}
	}()
}

func (c *Controller) loop() {
	defer c.finish()

	events := c.playback.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case r := <-c.results:
			c.applyResolution(r)
		case f := <-c.finished:
			c.playback.HandleFinished(f.handle, f.err)
			c.refreshStatus()
		case e, open := <-events:
			if !open {
				return
			}
			c.handleEvent(e)
		}
	}
}

func (c *Controller) finish() {
	c.playback.Close()
	// Sinks that own resources release them with the session.
	if closer, ok := c.sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			zlog.Warn().Msgf("session: sink close failed: id=%s error=%v", c.id, err)
		}
	}
	c.refreshStatus()
	c.publish(notification.TypeDisconnected, c.closeReason)
	if c.onClosed != nil {
		c.onClosed(c)
	}
	close(c.done)
	zlog.Info().Msgf("session: closed: id=%s", c.id)
}

func (c *Controller) handleEvent(e playback.Event) {
	c.refreshStatus()

	switch e.Type {
	case playback.EventTrackStarted:
		c.publish(notification.TypeTrackChanged, fmt.Sprintf("now playing %s", e.Track.Title))
	case playback.EventQueueEmpty:
		c.publish(notification.TypeStateChanged, "queue finished")
	case playback.EventStartFailed:
		msg := fmt.Sprintf("could not play %s", e.Track.Title)
		if e.Dropped > 1 {
			msg = fmt.Sprintf("could not play %s and %d more", e.Track.Title, e.Dropped-1)
		}
		c.publish(notification.TypeStateChanged, msg)
	case playback.EventTrackEnded:
		if e.Err != nil {
			zlog.Warn().Msgf("session: track ended with error: id=%s title=%s error=%v", c.id, e.Track.Title, e.Err)
		}
	case playback.EventDisconnected:
		c.shutdown("disconnected")
	case playback.EventStateChanged, playback.EventTrackSkipped:
		// status already refreshed
	}
}

func (c *Controller) applyResolution(r resolution) {
	if !c.alive.Load() {
		zlog.Debug().Msgf("session: discarding late result: id=%s seq=%d", c.id, r.seq)
		return
	}

	res := r.result
	switch {
	case !res.OK():
		if !c.queue.MarkFailed(r.seq, res.Attempts) {
			zlog.Debug().Msgf("session: result for removed entry: id=%s seq=%d", c.id, r.seq)
			return
		}
		zlog.Warn().Msgf("session: resolution failed: id=%s seq=%d raw=%s attempts=%d error=%v",
			c.id, r.seq, res.Ref.Raw, res.Attempts, res.Err)
		// The notification carries the entry with its failure marker.
		c.refreshStatus()
		c.publish(notification.TypeEnqueueFailed, fmt.Sprintf("could not resolve %s: %s", res.Ref.Raw, res.Err.Message))
		c.queue.Remove(r.seq)

	case res.Playlist != nil:
		refs := make([]track.Reference, len(res.Playlist.Entries))
		for i, ref := range res.Playlist.Entries {
			if ref.Requester == "" {
				ref.Requester = res.Ref.Requester
			}
			refs[i] = ref
		}
		seqs := c.queue.Expand(r.seq, refs)
		if seqs == nil {
			return
		}
		for i, seq := range seqs {
			c.await(seq, c.pool.Submit(c.resolveCtx, refs[i]))
		}
		c.refreshStatus()
		if len(seqs) == 0 {
			c.publish(notification.TypeEnqueueFailed, fmt.Sprintf("no playable entries in %s", res.Ref.Raw))
		} else {
			zlog.Info().Msgf("session: playlist expanded: id=%s title=%s entries=%d", c.id, res.Playlist.Title, len(seqs))
			c.publish(notification.TypeStateChanged, fmt.Sprintf("queued %d tracks from %s", len(seqs), playlistName(res)))
		}

	default:
		req := filter.TrackRequest{SessionID: c.id, Requester: res.Ref.Requester, Raw: res.Ref.Raw}
		if verdict := c.filters.Execute(c.ctx, req, res.Track); !verdict.Accepted {
			if _, removed := c.queue.Remove(r.seq); !removed {
				return
			}
			zlog.Info().Msgf("session: track rejected: id=%s title=%s code=%s", c.id, res.Track.Title, verdict.Code)
			c.refreshStatus()
			c.publish(notification.TypeEnqueueFailed, c.message(verdict.Code, res.Track.Title))
			break
		}
		if !c.queue.Resolve(r.seq, res.Track) {
			return
		}
		zlog.Debug().Msgf("session: resolved: id=%s seq=%d title=%s", c.id, r.seq, res.Track.Title)
	}

	if err := c.playback.Kick(c.ctx); err != nil {
		zlog.Debug().Msgf("session: kick ignored: id=%s error=%v", c.id, err)
	}
	c.refreshStatus()
}

func playlistName(res resolver.Result) string {
	if res.Playlist.Title != "" {
		return res.Playlist.Title
	}
	return res.Ref.Raw
}

func (c *Controller) message(code, title string) string {
	if msg, ok := c.config.Messages[code]; ok && msg != "" {
		return msg
	}
	return fmt.Sprintf("%s rejected: %s", title, code)
}

// refreshStatus rebuilds the published snapshot from committed state.
func (c *Controller) refreshStatus() {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()

	pb := c.playback.Snapshot()
	s := status.Snapshot{
		SessionID:   c.id,
		Connected:   c.alive.Load(),
		State:       pb.State.String(),
		Current:     pb.Current,
		Paused:      pb.State == playback.StatePaused,
		Volume:      pb.Volume,
		RepeatOne:   pb.RepeatOne,
		QueueLength: c.queue.Len(),
		Pending:     c.queue.Pending(),
		Upcoming:    toStatusEntries(c.queue.PeekPage(0, c.config.PageSize)),
		History:     pb.History,
		TakenAt:     time.Now(),
	}
	if !s.Connected {
		s.State = status.Disconnected().State
	}
	c.snapshot.Store(&s)
}

func (c *Controller) publish(typ notification.Type, msg string) {
	c.status.Publish(&notification.Notification{
		Type:      typ,
		SessionID: c.id,
		Message:   msg,
		Status:    c.snapshot.Load(),
	})
}

func toStatusEntries(entries []queue.Entry) []status.Entry {
	out := make([]status.Entry, len(entries))
	for i, e := range entries {
		out[i] = status.Entry{
			Seq:      e.Seq,
			Raw:      e.Ref.Raw,
			Track:    e.Track,
			Pending:  !e.Ready() && !e.Failed,
			Failed:   e.Failed,
			Attempts: e.Attempts,
		}
	}
	return out
}

type discardStatus struct{}

func (discardStatus) Publish(*notification.Notification) {}
