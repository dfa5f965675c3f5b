package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/app/notification"
	"github.com/osa030/playdeck/internal/app/session"
)

// PlaybackService exposes the session manager over Connect.
type PlaybackService struct {
	sessions *session.Manager
}

// NewPlaybackService creates a new PlaybackService.
func NewPlaybackService(sessions *session.Manager) *PlaybackService {
	return &PlaybackService{sessions: sessions}
}

// Handler returns the mount path and handler serving every procedure.
func (s *PlaybackService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{WithJSON()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(EnqueueProcedure, connect.NewUnaryHandler(EnqueueProcedure, s.Enqueue, opts...))
	mux.Handle(ControlProcedure, connect.NewUnaryHandler(ControlProcedure, s.Control, opts...))
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.Status, opts...))
	mux.Handle(QueueProcedure, connect.NewUnaryHandler(QueueProcedure, s.Queue, opts...))
	mux.Handle(SessionsProcedure, connect.NewUnaryHandler(SessionsProcedure, s.Sessions, opts...))
	mux.Handle(LeaveProcedure, connect.NewUnaryHandler(LeaveProcedure, s.Leave, opts...))
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, s.Subscribe, opts...))
	return "/" + ServiceName + "/", mux
}

// Enqueue handles track requests. It returns once the request is queued;
// resolution continues in the background.
func (s *PlaybackService) Enqueue(
	ctx context.Context,
	req *connect.Request[EnqueueRequest],
) (*connect.Response[Result], error) {
	if req.Msg.Query == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("query is required"))
	}
	res := s.sessions.Enqueue(ctx, req.Msg.SessionID, req.Msg.Query, req.Msg.Requester)
	return connect.NewResponse(toResult(res)), nil
}

// Control runs a named playback operation.
func (s *PlaybackService) Control(
	ctx context.Context,
	req *connect.Request[ControlRequest],
) (*connect.Response[Result], error) {
	kind, err := session.ParseOperation(req.Msg.Operation)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if kind == session.OpEnqueue {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("use Enqueue to add tracks"))
	}
	res := s.sessions.Dispatch(ctx, req.Msg.SessionID, session.Operation{
		Kind:      kind,
		Reference: req.Msg.Query,
		Volume:    req.Msg.Volume,
		Page:      req.Msg.Page,
	})
	return connect.NewResponse(toResult(res)), nil
}

// Status returns the session snapshot.
func (s *PlaybackService) Status(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[StatusResponse], error) {
	return connect.NewResponse(&StatusResponse{Status: s.sessions.Status(req.Msg.SessionID)}), nil
}

// Queue returns one page of the queue.
func (s *PlaybackService) Queue(
	ctx context.Context,
	req *connect.Request[QueueRequest],
) (*connect.Response[QueueResponse], error) {
	page, res := s.sessions.QueuePage(req.Msg.SessionID, req.Msg.Page)
	return connect.NewResponse(&QueueResponse{
		Result:  *toResult(res),
		Page:    page.Number,
		Total:   page.Total,
		Count:   page.Count,
		Entries: page.Entries,
	}), nil
}

// Sessions lists every live session.
func (s *PlaybackService) Sessions(
	ctx context.Context,
	req *connect.Request[SessionsRequest],
) (*connect.Response[SessionsResponse], error) {
	resp := &SessionsResponse{}
	for _, id := range s.sessions.Sessions() {
		resp.Sessions = append(resp.Sessions, s.sessions.Status(id))
	}
	return connect.NewResponse(resp), nil
}

// Leave disconnects a session.
func (s *PlaybackService) Leave(
	ctx context.Context,
	req *connect.Request[SessionRequest],
) (*connect.Response[Result], error) {
	return connect.NewResponse(toResult(s.sessions.Leave(req.Msg.SessionID))), nil
}

// Subscribe streams status notifications for one session, or for all
// sessions when the id is empty. The first message is the current state.
func (s *PlaybackService) Subscribe(
	ctx context.Context,
	req *connect.Request[SessionRequest],
	stream *connect.ServerStream[notification.Notification],
) error {
	notifManager := s.sessions.GetNotificationManager()
	sessionID := req.Msg.SessionID

	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := notifManager.Subscribe(sessionID, adapter)
	defer func() {
		notifManager.Unsubscribe(subscriptionID)
		adapter.close()
	}()

	if sessionID != "" {
		current := s.sessions.Status(sessionID)
		initial := &notification.Notification{
			SequenceNo: notifManager.NextSequenceNo(),
			Type:       notification.TypeInitialState,
			SessionID:  sessionID,
			Status:     &current,
		}
		if err := adapter.Send(initial); err != nil {
			return err
		}
	}

	zlog.Debug().Msgf("api: subscribed: subscription=%s session=%q", subscriptionID, sessionID)

	select {
	case <-ctx.Done():
	case <-s.sessions.Done():
	}

	zlog.Debug().Msgf("api: unsubscribed: subscription=%s", subscriptionID)
	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
// Broadcasts run concurrently, so sends are serialized here.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[notification.Notification]
	closed bool
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	return a.stream.Send(n)
}

// close drops sends still in flight once the handler has returned.
func (a *notificationStreamAdapter) close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
