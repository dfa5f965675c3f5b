package session

import (
	"sync"
	"sync/atomic"
	"time"

	zlog "github.com/rs/zerolog/log"
)

// idleTimer disconnects an idle session after a timeout. Every arm or
// cancel bumps a generation counter. A fire only applies when its
// generation is still current at the moment fire checks it, so cancel and
// fire never both take effect.
//
// Lock order is playback lock, then mu: arm and cancel run from the
// playback transition hook, and fire runs after mu is released.
type idleTimer struct {
	mu      sync.Mutex
	timeout time.Duration
	gen     atomic.Uint64
	timer   *time.Timer
	stopped bool

	// fire reports whether the session was torn down. It must consult
	// current under the lock that serializes arm and cancel callers.
	fire func(current func() bool) bool
	// expired runs when fire returned true.
	expired func()
}

func (t *idleTimer) arm() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return
	}
	gen := t.gen.Add(1)
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.timeout, func() { t.expire(gen) })
}

func (t *idleTimer) cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen.Add(1)
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// stop cancels the timer for good.
func (t *idleTimer) stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	t.cancel()
}

func (t *idleTimer) armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *idleTimer) expire(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.gen.Load() {
		t.mu.Unlock()
		zlog.Debug().Msgf("session: idle timer race discarded: gen=%d", gen)
		return
	}
	t.timer = nil
	t.mu.Unlock()

	current := func() bool { return t.gen.Load() == gen }
	if t.fire(current) && t.expired != nil {
		t.expired()
	}
}
