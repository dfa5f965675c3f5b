// Package track provides the track reference and resolved track entities.
package track

import (
	"fmt"
	"time"
)

// Resolved is a playable track produced by resolution.
// Values are immutable once created and are passed by value between the
// queue, the current slot and the history.
type Resolved struct {
	StreamURL string        `json:"stream_url"`          // Direct audio stream URL handed to the sink
	PageURL   string        `json:"page_url"`            // Human-facing page (watch URL)
	Title     string        `json:"title"`               // Display title
	Uploader  string        `json:"uploader,omitempty"`  // Channel or artist, may be empty
	Duration  time.Duration `json:"duration"`            // Zero when unknown
	Thumbnail string        `json:"thumbnail,omitempty"` // Optional thumbnail URL
	Requester string        `json:"requester,omitempty"` // Display name of whoever asked for it
}

// Candidate is one search hit offered for selection. Enqueueing its URL
// plays it.
type Candidate struct {
	URL      string        `json:"url"`
	Title    string        `json:"title"`
	Uploader string        `json:"uploader,omitempty"`
	Duration time.Duration `json:"duration"`
}

// HasDuration reports whether the duration is known.
func (r Resolved) HasDuration() bool {
	return r.Duration > 0
}

// DisplayDuration formats the duration as m:ss or h:mm:ss.
func (r Resolved) DisplayDuration() string {
	return FormatDuration(r.Duration)
}

// FormatDuration formats d as m:ss, or h:mm:ss for an hour or more.
// Unknown (zero or negative) durations render as "--:--".
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "--:--"
	}
	total := int(d.Round(time.Second).Seconds())
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
