package connect

import (
	"github.com/osa030/playdeck/internal/app/session"
	"github.com/osa030/playdeck/internal/domain/status"
	"github.com/osa030/playdeck/internal/domain/track"
)

const (
	ServiceName = "playdeck.v1.PlaybackService"

	EnqueueProcedure   = "/" + ServiceName + "/Enqueue"
	ControlProcedure   = "/" + ServiceName + "/Control"
	StatusProcedure    = "/" + ServiceName + "/Status"
	QueueProcedure     = "/" + ServiceName + "/Queue"
	SessionsProcedure  = "/" + ServiceName + "/Sessions"
	LeaveProcedure     = "/" + ServiceName + "/Leave"
	SubscribeProcedure = "/" + ServiceName + "/Subscribe"
)

type EnqueueRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Requester string `json:"requester"`
}

// ControlRequest runs one named operation such as "skip" or "volume_up".
// Volume is only read by "set_volume", Page by "queue" and Query by "search".
type ControlRequest struct {
	SessionID string  `json:"session_id"`
	Operation string  `json:"operation"`
	Volume    float64 `json:"volume,omitempty"`
	Page      int     `json:"page,omitempty"`
	Query     string  `json:"query,omitempty"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type QueueRequest struct {
	SessionID string `json:"session_id"`
	Page      int    `json:"page"`
}

type SessionsRequest struct{}

// Result mirrors session.Result on the wire.
type Result struct {
	OK         bool              `json:"ok"`
	Reason     string            `json:"reason"`
	Message    string            `json:"message,omitempty"`
	Seq        uint64            `json:"seq,omitempty"`
	Entries    []status.Entry    `json:"entries,omitempty"`
	Candidates []track.Candidate `json:"candidates,omitempty"`
}

type StatusResponse struct {
	Status status.Snapshot `json:"status"`
}

type QueueResponse struct {
	Result  Result         `json:"result"`
	Page    int            `json:"page"`
	Total   int            `json:"total"`
	Count   int            `json:"count"`
	Entries []status.Entry `json:"entries,omitempty"`
}

type SessionsResponse struct {
	Sessions []status.Snapshot `json:"sessions"`
}

func toResult(r session.Result) *Result {
	res := &Result{
		OK:         r.OK(),
		Reason:     r.Reason.String(),
		Message:    r.Message,
		Seq:        r.Seq,
		Candidates: r.Candidates,
	}
	if r.Page != nil {
		res.Entries = r.Page.Entries
	}
	return res
}
