// Package filter provides the admission filter chain applied to resolved tracks.
package filter

import (
	"context"
	"sort"

	"github.com/osa030/playdeck/internal/domain/track"
)

// TrackRequest describes who asked for a track and how.
type TrackRequest struct {
	SessionID string
	Requester string
	Raw       string
}

// Result represents the result of a filter check.
type Result struct {
	Accepted bool
	Code     string // e.g., "duplicate_track", "duration_limit_exceeded"
}

// Accept returns an accepted result.
func Accept() Result {
	return Result{Accepted: true}
}

// Reject returns a rejected result with the given code.
func Reject(code string) Result {
	return Result{Accepted: false, Code: code}
}

// QueueView exposes the tracks already waiting in a session queue.
type QueueView interface {
	Tracks() []track.Resolved
}

// Filter is the interface for admission filters.
type Filter interface {
	// Name returns the filter name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ReturnCodes returns the codes this filter can return.
	ReturnCodes() []string
	// ValidateConfig validates the filter configuration.
	ValidateConfig(settings map[string]any) error
	// Check performs the filter check.
	Check(ctx context.Context, req TrackRequest, t track.Resolved) Result
}

// Factory builds a filter bound to one session queue.
type Factory func(q QueueView) Filter

// registry holds registered filter factories.
var registry = make(map[string]Factory)

// Register registers a filter factory.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// GetRegistered returns all registered filter factories.
func GetRegistered() map[string]Factory {
	return registry
}

// Names returns the registered filter names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
