package session

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/app/filter"
	"github.com/osa030/playdeck/internal/app/notification"
	"github.com/osa030/playdeck/internal/app/playback"
	"github.com/osa030/playdeck/internal/app/session/registry"
	"github.com/osa030/playdeck/internal/domain/status"
)

var ErrManagerClosed = errors.New("session manager is closed")

// SinkFactory opens the output for a new session.
type SinkFactory func(sessionID string) (playback.Sink, error)

// Manager owns every live session, keyed by voice context. Sessions are
// created on the first enqueue and removed once they disconnect.
type Manager struct {
	config       Config
	pool         Submitter
	sinks        SinkFactory
	filters      map[string]filter.Settings
	finder       Finder
	notification *notification.Manager
	registry     *registry.Registry[*Controller]

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithFinder enables search operations.
func WithFinder(f Finder) ManagerOption {
	return func(m *Manager) {
		m.finder = f
	}
}

// NewManager creates a new session manager.
func NewManager(config Config, pool Submitter, sinks SinkFactory, filters map[string]filter.Settings, opts ...ManagerOption) *Manager {
	m := &Manager{
		config:       config,
		pool:         pool,
		sinks:        sinks,
		filters:      filters,
		notification: notification.NewManager(),
		registry:     registry.New[*Controller](),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetNotificationManager returns the notification manager.
func (m *Manager) GetNotificationManager() *notification.Manager {
	return m.notification
}

// Join returns the session for sessionID, connecting a new one if needed.
func (m *Manager) Join(sessionID string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}

	create := func() (*Controller, error) {
		return m.create(sessionID)
	}
	c, created, err := m.registry.GetOrCreate(sessionID, create)
	if err != nil {
		return nil, err
	}
	if !c.Alive() {
		// Disconnecting but not yet removed; replace it.
		dead := c
		m.registry.CompareAndRemove(sessionID, func(cur *Controller) bool { return cur == dead })
		if c, created, err = m.registry.GetOrCreate(sessionID, create); err != nil {
			return nil, err
		}
	}
	if created {
		zlog.Info().Msgf("session: joined: id=%s sessions=%d", sessionID, m.registry.Count())
		m.notification.Publish(&notification.Notification{
			Type:      notification.TypeInitialState,
			SessionID: sessionID,
			Status:    ptr(c.Status()),
		})
	}
	return c, nil
}

func (m *Manager) create(sessionID string) (*Controller, error) {
	sink, err := m.sinks(sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open output")
	}
	return New(sessionID, m.config, Deps{
		Pool:    m.pool,
		Sink:    sink,
		Status:  m.notification,
		Filters: m.filters,
		Finder:  m.finder,
		OnClosed: func(c *Controller) {
			m.registry.CompareAndRemove(c.ID(), func(cur *Controller) bool { return cur == c })
		},
	})
}

// Session returns the live session for sessionID.
func (m *Manager) Session(sessionID string) (*Controller, bool) {
	c, err := m.registry.Get(sessionID)
	if err != nil || !c.Alive() {
		return nil, false
	}
	return c, true
}

// Enqueue adds raw to the session, connecting it first when needed.
func (m *Manager) Enqueue(ctx context.Context, sessionID, raw, requester string) Result {
	c, err := m.Join(sessionID)
	if err != nil {
		zlog.Info().Msgf("session: join failed: id=%s error=%v", sessionID, err)
		if errors.Is(err, registry.ErrInvalidContext) || errors.Is(err, ErrManagerClosed) {
			return failed(ReasonNotInVoiceContext, err.Error())
		}
		return failed(ReasonSinkError, err.Error())
	}
	return c.Enqueue(ctx, raw, requester)
}

// Dispatch runs op on sessionID. Only enqueue may connect a new session;
// search needs no session at all.
func (m *Manager) Dispatch(ctx context.Context, sessionID string, op Operation) Result {
	switch op.Kind {
	case OpEnqueue:
		return m.Enqueue(ctx, sessionID, op.Reference, op.Requester)
	case OpSearch:
		return search(ctx, m.finder, op.Reference)
	}
	c, found := m.Session(sessionID)
	if !found {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	return c.Dispatch(ctx, op)
}

// Status returns the session snapshot, or a disconnected one.
func (m *Manager) Status(sessionID string) status.Snapshot {
	c, found := m.Session(sessionID)
	if !found {
		s := status.Disconnected()
		s.SessionID = sessionID
		return s
	}
	return c.Status()
}

// QueuePage returns one page of the session queue.
func (m *Manager) QueuePage(sessionID string, page int) (Page, Result) {
	c, found := m.Session(sessionID)
	if !found {
		return Page{}, failed(ReasonNotInVoiceContext, "not connected")
	}
	return c.QueuePage(page)
}

// Leave disconnects the session.
func (m *Manager) Leave(sessionID string) Result {
	c, found := m.Session(sessionID)
	if !found {
		return failed(ReasonNotInVoiceContext, "not connected")
	}
	c.Disconnect()
	return ok("disconnected")
}

// Sessions returns the ids of all live sessions.
func (m *Manager) Sessions() []string {
	return m.registry.Keys()
}

// Done is closed when the manager starts closing.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Close disconnects every session and waits for them to finish.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.done)
	}
	m.mu.Unlock()

	var errs error
	for _, c := range m.registry.All() {
		if err := c.Close(ctx); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "session %s", c.ID()))
		}
	}
	m.notification.Close()
	return errs
}

func ptr[T any](v T) *T {
	return &v
}
