package session

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/playdeck/internal/app/playback"
	"github.com/osa030/playdeck/internal/domain/track"
)

// Reason classifies the outcome of an operation.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonNotInVoiceContext
	ReasonQueueEmpty
	ReasonNothingPlaying
	ReasonResolutionFailed
	ReasonSinkError
	ReasonInvalidOperation
)

// String returns a string representation of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonNotInVoiceContext:
		return "not_in_voice_context"
	case ReasonQueueEmpty:
		return "queue_empty"
	case ReasonNothingPlaying:
		return "nothing_playing"
	case ReasonResolutionFailed:
		return "resolution_failed"
	case ReasonSinkError:
		return "sink_error"
	case ReasonInvalidOperation:
		return "invalid_operation"
	default:
		return "unknown"
	}
}

// Result is returned by every session operation.
type Result struct {
	Reason     Reason
	Message    string
	Seq        uint64            // queue sequence number, enqueue only
	Page       *Page             // queue only
	Candidates []track.Candidate // search only
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Reason == ReasonOK
}

func ok(msg string) Result {
	return Result{Reason: ReasonOK, Message: msg}
}

func failed(reason Reason, msg string) Result {
	return Result{Reason: reason, Message: msg}
}

// fromError maps playback errors to results.
func fromError(err error) Result {
	switch {
	case err == nil:
		return ok("")
	case errors.Is(err, playback.ErrNothingPlaying):
		return failed(ReasonNothingPlaying, "nothing is playing")
	case errors.Is(err, playback.ErrNoHistory):
		return failed(ReasonNothingPlaying, "no previous track")
	case errors.Is(err, playback.ErrNotPlaying):
		return failed(ReasonInvalidOperation, "playback is not running")
	case errors.Is(err, playback.ErrNotPaused):
		return failed(ReasonInvalidOperation, "playback is not paused")
	case errors.Is(err, playback.ErrDisconnected):
		return failed(ReasonNotInVoiceContext, "not connected")
	default:
		return failed(ReasonSinkError, err.Error())
	}
}

// OpKind identifies a session operation.
type OpKind int

const (
	OpEnqueue OpKind = iota
	OpSkip
	OpPause
	OpResume
	OpStop
	OpPrevious
	OpVolumeUp
	OpVolumeDown
	OpSetVolume
	OpToggleRepeat
	OpStatus
	OpTogglePause
	OpQueue
	OpSearch
)

var opNames = map[OpKind]string{
	OpEnqueue:      "enqueue",
	OpSkip:         "skip",
	OpPause:        "pause",
	OpResume:       "resume",
	OpStop:         "stop",
	OpPrevious:     "previous",
	OpVolumeUp:     "volume_up",
	OpVolumeDown:   "volume_down",
	OpSetVolume:    "set_volume",
	OpToggleRepeat: "repeat",
	OpStatus:       "status",
	OpTogglePause:  "toggle_pause",
	OpQueue:        "queue",
	OpSearch:       "search",
}

// String returns the operation identifier.
func (k OpKind) String() string {
	if name, ok := opNames[k]; ok {
		return name
	}
	return "unknown"
}

// ErrUnknownOperation is returned by ParseOperation.
var ErrUnknownOperation = errors.New("unknown operation")

// ParseOperation maps a command identifier to its kind.
func ParseOperation(id string) (OpKind, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for k, name := range opNames {
		if name == id {
			return k, nil
		}
	}
	return 0, errors.Wrapf(ErrUnknownOperation, "%q", id)
}

// Operation is one front-end command.
type Operation struct {
	Kind      OpKind
	Reference string  // OpEnqueue, or the query for OpSearch
	Requester string  // OpEnqueue
	Volume    float64 // OpSetVolume
	Page      int     // OpQueue, 1-based
}
