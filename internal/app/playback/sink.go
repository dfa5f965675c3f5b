package playback

import "context"

// Handle identifies one started stream on a sink. Zero means none.
type Handle uint64

// Sink is the audio output the controller drives.
// The OnFinished callback fires exactly once per successful Start, whether
// the stream ended naturally, failed, or was stopped, and must not be
// invoked synchronously from Stop.
type Sink interface {
	Start(ctx context.Context, streamURL string, volume float64) (Handle, error)
	Stop(h Handle) error
	Pause(h Handle) error
	Resume(h Handle) error
	SetVolume(h Handle, volume float64) error
	OnFinished(fn func(h Handle, err error))
}
