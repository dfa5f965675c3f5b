// Package playback provides the playback state machine driving the output sink.
package playback

// State represents the playback state.
type State int

const (
	StateIdle State = iota
	StateResolving
	StatePlaying
	StatePaused
	StateAdvancing
	StateDisconnecting
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateAdvancing:
		return "advancing"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Active reports whether a track is loaded on the sink.
func (s State) Active() bool {
	return s == StatePlaying || s == StatePaused
}
