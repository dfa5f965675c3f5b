// Package notification provides the notification manager for broadcasting session status.
package notification

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/domain/status"
)

// Type is the notification kind.
type Type string

const (
	TypeInitialState  Type = "INITIAL_STATE"
	TypeStateChanged  Type = "STATE_CHANGED"
	TypeTrackChanged  Type = "TRACK_CHANGED"
	TypeEnqueueFailed Type = "ENQUEUE_FAILED"
	TypeDisconnected  Type = "DISCONNECTED"
)

const sendTimeout = 500 * time.Millisecond

// Notification is one status update delivered to subscribers.
type Notification struct {
	SequenceNo uint64           `json:"sequence_no"`
	Type       Type             `json:"type"`
	SessionID  string           `json:"session_id"`
	Message    string           `json:"message,omitempty"`
	Status     *status.Snapshot `json:"status,omitempty"`
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription is one stream, scoped to a session or to all sessions.
type subscription struct {
	id        string
	sessionID string
	stream    Stream
}

func (s *subscription) wants(n *Notification) bool {
	return s.sessionID == "" || s.sessionID == n.SessionID
}

// Manager fans session status out to subscribers.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    atomic.Uint64
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe registers stream for notifications of sessionID, or of every
// session when sessionID is empty, and returns the subscription ID.
func (m *Manager) Subscribe(sessionID string, stream Stream) string {
	id := uuid.New().String()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions[id] = &subscription{id: id, sessionID: sessionID, stream: stream}
	return id
}

// NextSequenceNo returns the next sequence number.
func (m *Manager) NextSequenceNo() uint64 {
	return m.sequenceNo.Add(1)
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscriptions, subscriptionID)
}

// Publish stamps n with a sequence number and broadcasts it in the
// background. It never blocks the caller.
func (m *Manager) Publish(n *Notification) {
	n.SequenceNo = m.NextSequenceNo()
	go m.broadcast(n)
}

// Broadcast stamps n and delivers it to every interested subscriber,
// returning once each send finished or timed out.
func (m *Manager) Broadcast(n *Notification) {
	n.SequenceNo = m.NextSequenceNo()
	m.broadcast(n)
}

func (m *Manager) broadcast(n *Notification) {
	var wg sync.WaitGroup
	for _, sub := range m.interested(n) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub.deliver(n)
		}()
	}
	wg.Wait()
}

func (m *Manager) interested(n *Notification) []*subscription {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := make([]*subscription, 0, len(m.subscriptions))
	for _, sub := range m.subscriptions {
		if sub.wants(n) {
			subs = append(subs, sub)
		}
	}
	return subs
}

// deliver sends n, giving up after sendTimeout. A timed-out send keeps
// running in its goroutine until the stream returns.
func (s *subscription) deliver(n *Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.stream.Send(n)
	}()

	select {
	case err := <-done:
		if err != nil {
			zlog.Debug().Msgf("notification: send failed: subscription=%s error=%v", s.id, err)
		}
	case <-ctx.Done():
		zlog.Debug().Msgf("notification: send timed out: subscription=%s seq=%d", s.id, n.SequenceNo)
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.subscriptions)
}
