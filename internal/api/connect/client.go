package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"

	"github.com/osa030/playdeck/internal/app/notification"
)

// Client calls a PlaybackService.
type Client struct {
	enqueue   *connect.Client[EnqueueRequest, Result]
	control   *connect.Client[ControlRequest, Result]
	status    *connect.Client[SessionRequest, StatusResponse]
	queue     *connect.Client[QueueRequest, QueueResponse]
	sessions  *connect.Client[SessionsRequest, SessionsResponse]
	leave     *connect.Client[SessionRequest, Result]
	subscribe *connect.Client[SessionRequest, notification.Notification]
}

// NewClient creates a client for the service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{WithJSON()}, opts...)

	return &Client{
		enqueue:   connect.NewClient[EnqueueRequest, Result](httpClient, baseURL+EnqueueProcedure, opts...),
		control:   connect.NewClient[ControlRequest, Result](httpClient, baseURL+ControlProcedure, opts...),
		status:    connect.NewClient[SessionRequest, StatusResponse](httpClient, baseURL+StatusProcedure, opts...),
		queue:     connect.NewClient[QueueRequest, QueueResponse](httpClient, baseURL+QueueProcedure, opts...),
		sessions:  connect.NewClient[SessionsRequest, SessionsResponse](httpClient, baseURL+SessionsProcedure, opts...),
		leave:     connect.NewClient[SessionRequest, Result](httpClient, baseURL+LeaveProcedure, opts...),
		subscribe: connect.NewClient[SessionRequest, notification.Notification](httpClient, baseURL+SubscribeProcedure, opts...),
	}
}

// Enqueue requests a track, search or playlist.
func (c *Client) Enqueue(ctx context.Context, sessionID, query, requester string) (*Result, error) {
	resp, err := c.enqueue.CallUnary(ctx, connect.NewRequest(&EnqueueRequest{
		SessionID: sessionID,
		Query:     query,
		Requester: requester,
	}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Control runs a named operation.
func (c *Client) Control(ctx context.Context, sessionID, operation string, volume float64) (*Result, error) {
	return c.Run(ctx, &ControlRequest{SessionID: sessionID, Operation: operation, Volume: volume})
}

// Search lists candidates for query. Enqueue a candidate URL to play it.
func (c *Client) Search(ctx context.Context, query string) (*Result, error) {
	return c.Run(ctx, &ControlRequest{Operation: "search", Query: query})
}

// Run sends a fully specified control request.
func (c *Client) Run(ctx context.Context, req *ControlRequest) (*Result, error) {
	resp, err := c.control.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Status fetches the session snapshot.
func (c *Client) Status(ctx context.Context, sessionID string) (*StatusResponse, error) {
	resp, err := c.status.CallUnary(ctx, connect.NewRequest(&SessionRequest{SessionID: sessionID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Queue fetches one page of the queue.
func (c *Client) Queue(ctx context.Context, sessionID string, page int) (*QueueResponse, error) {
	resp, err := c.queue.CallUnary(ctx, connect.NewRequest(&QueueRequest{SessionID: sessionID, Page: page}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Sessions lists live sessions.
func (c *Client) Sessions(ctx context.Context) (*SessionsResponse, error) {
	resp, err := c.sessions.CallUnary(ctx, connect.NewRequest(&SessionsRequest{}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Leave disconnects a session.
func (c *Client) Leave(ctx context.Context, sessionID string) (*Result, error) {
	resp, err := c.leave.CallUnary(ctx, connect.NewRequest(&SessionRequest{SessionID: sessionID}))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

// Subscribe opens the notification stream; the caller must Close it.
func (c *Client) Subscribe(ctx context.Context, sessionID string) (*connect.ServerStreamForClient[notification.Notification], error) {
	return c.subscribe.CallServerStream(ctx, connect.NewRequest(&SessionRequest{SessionID: sessionID}))
}
