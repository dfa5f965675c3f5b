// Package sink plays resolved streams on the local audio device: ffmpeg
// decodes to PCM and beep mixes it into the speaker.
package sink

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/app/playback"
)

var ErrUnknownHandle = errors.New("unknown stream handle")

// silentBelow is the linear volume treated as mute.
const silentBelow = 0.001

type stream struct {
	handle  playback.Handle
	pcm     *pcmStreamer
	ctrl    *beep.Ctrl
	volume  *effects.Volume
	once    sync.Once
	stopped atomic.Bool
}

// Sink implements playback.Sink on an Output.
type Sink struct {
	out     Output
	decoder Decoder
	next    atomic.Uint64

	mu         sync.Mutex
	streams    map[playback.Handle]*stream
	onFinished func(playback.Handle, error)
}

var _ playback.Sink = (*Sink)(nil)

// New creates a sink playing into out.
func New(out Output, decoder Decoder) *Sink {
	return &Sink{
		out:     out,
		decoder: decoder,
		streams: make(map[playback.Handle]*stream),
	}
}

// OnFinished registers the completion callback.
func (s *Sink) OnFinished(fn func(playback.Handle, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFinished = fn
}

// Start decodes streamURL and begins playback at volume.
func (s *Sink) Start(ctx context.Context, streamURL string, volume float64) (playback.Handle, error) {
	r, err := s.decoder.Decode(ctx, streamURL, s.out.SampleRate())
	if err != nil {
		return 0, err
	}

	st := &stream{
		handle: playback.Handle(s.next.Add(1)),
		pcm:    newPCMStreamer(r),
	}
	st.ctrl = &beep.Ctrl{Streamer: st.pcm, Paused: false}
	st.volume = &effects.Volume{Streamer: st.ctrl, Base: 2}
	applyVolume(st.volume, volume)

	s.mu.Lock()
	s.streams[st.handle] = st
	s.mu.Unlock()

	s.out.Play(beep.Seq(st.volume, beep.Callback(func() {
		// Runs on the speaker goroutine; never block here.
		go s.finish(st, st.pcm.Err())
	})))

	zlog.Debug().Msgf("sink: stream started: handle=%d volume=%.1f", st.handle, volume)
	return st.handle, nil
}

func (s *Sink) finish(st *stream, err error) {
	st.once.Do(func() {
		s.mu.Lock()
		delete(s.streams, st.handle)
		fn := s.onFinished
		s.mu.Unlock()

		_ = st.pcm.Close()
		if st.stopped.Load() {
			err = nil
		}
		if err != nil {
			zlog.Warn().Msgf("sink: stream failed: handle=%d error=%v", st.handle, err)
		} else {
			zlog.Debug().Msgf("sink: stream finished: handle=%d", st.handle)
		}
		if fn != nil {
			fn(st.handle, err)
		}
	})
}

func (s *Sink) lookup(h playback.Handle) (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[h]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownHandle, "handle %d", h)
	}
	return st, nil
}

// Stop ends the stream. Completion is reported asynchronously.
func (s *Sink) Stop(h playback.Handle) error {
	st, err := s.lookup(h)
	if err != nil {
		return err
	}
	st.stopped.Store(true)

	s.out.Lock()
	st.ctrl.Streamer = nil
	s.out.Unlock()

	return st.pcm.Close()
}

// Pause pauses the stream.
func (s *Sink) Pause(h playback.Handle) error {
	return s.setPaused(h, true)
}

// Resume resumes the stream.
func (s *Sink) Resume(h playback.Handle) error {
	return s.setPaused(h, false)
}

func (s *Sink) setPaused(h playback.Handle, paused bool) error {
	st, err := s.lookup(h)
	if err != nil {
		return err
	}
	s.out.Lock()
	st.ctrl.Paused = paused
	s.out.Unlock()
	return nil
}

// SetVolume changes the volume of a playing stream.
func (s *Sink) SetVolume(h playback.Handle, volume float64) error {
	st, err := s.lookup(h)
	if err != nil {
		return err
	}
	s.out.Lock()
	applyVolume(st.volume, volume)
	s.out.Unlock()
	return nil
}

// Close stops every stream.
func (s *Sink) Close() error {
	s.mu.Lock()
	handles := make([]playback.Handle, 0, len(s.streams))
	for h := range s.streams {
		handles = append(handles, h)
	}
	s.mu.Unlock()

	var errs error
	for _, h := range handles {
		if err := s.Stop(h); err != nil && !errors.Is(err, ErrUnknownHandle) {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// applyVolume maps a linear gain (1 = unity) onto beep's base-2 scale.
func applyVolume(v *effects.Volume, linear float64) {
	if linear < silentBelow {
		v.Silent = true
		v.Volume = 0
		return
	}
	v.Silent = false
	v.Volume = math.Log2(linear)
}
