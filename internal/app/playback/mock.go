package playback

import (
	"context"
	"sync"
)

// MockSink is an in-memory Sink for tests. It never produces audio;
// completions are triggered with Finish.
type MockSink struct {
	mu sync.Mutex

	next     Handle
	live     map[Handle]string
	paused   map[Handle]bool
	volumes  map[Handle]float64
	started  []string
	stopped  []Handle
	onFinish func(Handle, error)
	failOn   map[string]error

	// StartErr, when set, is returned by the next Start calls.
	StartErr error
}

// NewMockSink creates a mock sink.
func NewMockSink() *MockSink {
	return &MockSink{
		live:    make(map[Handle]string),
		paused:  make(map[Handle]bool),
		volumes: make(map[Handle]float64),
		failOn:  make(map[string]error),
	}
}

func (m *MockSink) Start(_ context.Context, streamURL string, volume float64) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StartErr != nil {
		return 0, m.StartErr
	}
	if err, ok := m.failOn[streamURL]; ok {
		return 0, err
	}
	m.next++
	h := m.next
	m.live[h] = streamURL
	m.volumes[h] = volume
	m.started = append(m.started, streamURL)
	return h, nil
}

// Stop ends h. The completion callback fires from another goroutine, as a
// real output would.
func (m *MockSink) Stop(h Handle) error {
	m.mu.Lock()
	_, ok := m.live[h]
	delete(m.live, h)
	m.stopped = append(m.stopped, h)
	fn := m.onFinish
	m.mu.Unlock()

	if ok && fn != nil {
		go fn(h, nil)
	}
	return nil
}

func (m *MockSink) Pause(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[h] = true
	return nil
}

func (m *MockSink) Resume(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused[h] = false
	return nil
}

func (m *MockSink) SetVolume(h Handle, volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volumes[h] = volume
	return nil
}

func (m *MockSink) OnFinished(fn func(Handle, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFinish = fn
}

// Finish ends h naturally and invokes the completion callback synchronously.
func (m *MockSink) Finish(h Handle, err error) {
	m.mu.Lock()
	_, ok := m.live[h]
	delete(m.live, h)
	fn := m.onFinish
	m.mu.Unlock()

	if ok && fn != nil {
		fn(h, err)
	}
}

// Started returns the stream URLs passed to Start, in order.
func (m *MockSink) Started() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.started...)
}

// Stopped returns the handles passed to Stop, in order.
func (m *MockSink) Stopped() []Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Handle(nil), m.stopped...)
}

// Last returns the most recently issued handle.
func (m *MockSink) Last() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next
}

// Live reports how many handles are currently producing output.
func (m *MockSink) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Paused reports whether h is paused.
func (m *MockSink) Paused(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused[h]
}

// Volume returns the last volume applied to h.
func (m *MockSink) Volume(h Handle) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volumes[h]
}

// SetStartErr sets the error returned by Start.
func (m *MockSink) SetStartErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StartErr = err
}

// FailOn makes Start fail with err for streamURL.
func (m *MockSink) FailOn(streamURL string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[streamURL] = err
}
