package sink

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
	zlog "github.com/rs/zerolog/log"
)

// Output is the device streams are mixed into. Lock guards changes to
// streamers that are already playing.
type Output interface {
	SampleRate() beep.SampleRate
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

var speakerOnce struct {
	sync.Once
	out *Speaker
	err error
}

// Speaker is the process-wide audio device.
type Speaker struct {
	rate beep.SampleRate
}

// OpenSpeaker initializes the speaker on first use; later calls return the
// same device regardless of arguments.
func OpenSpeaker(rate beep.SampleRate, buffer time.Duration) (*Speaker, error) {
	speakerOnce.Do(func() {
		if err := speaker.Init(rate, rate.N(buffer)); err != nil {
			speakerOnce.err = errors.Wrap(err, "failed to initialize speaker")
			return
		}
		zlog.Info().Msgf("sink: speaker ready: rate=%d buffer=%s", rate, buffer)
		speakerOnce.out = &Speaker{rate: rate}
	})
	return speakerOnce.out, speakerOnce.err
}

func (s *Speaker) SampleRate() beep.SampleRate { return s.rate }
func (s *Speaker) Play(st beep.Streamer)       { speaker.Play(st) }
func (s *Speaker) Lock()                       { speaker.Lock() }
func (s *Speaker) Unlock()                     { speaker.Unlock() }

// Close clears all playing streams.
func (s *Speaker) Close() {
	speaker.Clear()
}
