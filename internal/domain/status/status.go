// Package status provides the immutable session snapshot shown to front-ends.
package status

import (
	"time"

	"github.com/osa030/playdeck/internal/domain/track"
)

// Snapshot is a point-in-time copy of a playback session.
// Nothing in a Snapshot is shared with the live session.
type Snapshot struct {
	SessionID   string           `json:"session_id"`
	Connected   bool             `json:"connected"`
	State       string           `json:"state"`
	Current     *track.Resolved  `json:"current,omitempty"`
	Paused      bool             `json:"paused"`
	Volume      float64          `json:"volume"`
	RepeatOne   bool             `json:"repeat_one"`
	QueueLength int              `json:"queue_length"`
	Pending     int              `json:"pending"`
	Upcoming    []Entry          `json:"upcoming,omitempty"`
	History     []track.Resolved `json:"history,omitempty"`
	TakenAt     time.Time        `json:"taken_at"`
}

// Entry is a queue slot as seen by a front-end.
type Entry struct {
	Seq     uint64          `json:"seq"`
	Raw     string          `json:"raw"`
	Track   *track.Resolved `json:"track,omitempty"`
	Pending bool            `json:"pending"`
	// Failed marks an entry whose resolution gave up after Attempts tries.
	Failed   bool `json:"failed,omitempty"`
	Attempts int  `json:"attempts,omitempty"`
}

// Label returns the title when resolved and the raw request otherwise.
func (e Entry) Label() string {
	if e.Track != nil && e.Track.Title != "" {
		return e.Track.Title
	}
	return e.Raw
}

// Disconnected returns the snapshot used when no session exists.
func Disconnected() Snapshot {
	return Snapshot{State: "disconnected", TakenAt: time.Now()}
}
