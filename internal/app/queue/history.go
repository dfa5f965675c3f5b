package queue

import (
	"sync"

	"github.com/osa030/playdeck/internal/domain/track"
)

// HistoryCapacity is the number of recently played tracks kept per session.
const HistoryCapacity = 10

// History is a bounded most-recent-first list of played tracks.
type History struct {
	mu       sync.Mutex
	items    *ring[track.Resolved]
	capacity int
}

// NewHistory creates a history holding at most capacity tracks.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{items: newRing[track.Resolved](capacity + 1), capacity: capacity}
}

// Push records t as the most recent track, evicting the oldest when full.
func (h *History) Push(t track.Resolved) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items.pushFront(t)
	for h.items.len() > h.capacity {
		h.items.popBack()
	}
}

// PopRecent removes and returns the most recent track.
func (h *History) PopRecent() (track.Resolved, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.items.popFront()
}

// Items returns a copy, most recent first.
func (h *History) Items() []track.Resolved {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.items.slice(0, h.items.len())
}

// Len returns the number of tracks held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.items.len()
}

// Clear forgets every track.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items.clear()
}
