package playback

import "github.com/osa030/playdeck/internal/domain/track"

// EventType represents the type of playback event.
type EventType int

const (
	EventTrackStarted EventType = iota
	EventTrackEnded
	EventTrackSkipped
	EventStateChanged
	EventQueueEmpty
	EventStartFailed
	EventDisconnected
)

// String returns a string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackEnded:
		return "track_ended"
	case EventTrackSkipped:
		return "track_skipped"
	case EventStateChanged:
		return "state_changed"
	case EventQueueEmpty:
		return "queue_empty"
	case EventStartFailed:
		return "start_failed"
	case EventDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type  EventType
	Track *track.Resolved
	State State
	Err   error
	// Dropped counts the entries an advance discarded, start_failed only.
	// Track and Err then describe the last of them.
	Dropped int
}
