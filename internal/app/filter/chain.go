package filter

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/domain/track"
)

// Chain executes filters in sequence.
type Chain struct {
	filters []Filter
}

// NewChain creates a new filter chain.
func NewChain() *Chain {
	return &Chain{
		filters: make([]Filter, 0),
	}
}

// Settings is the per-filter configuration consumed by Build.
type Settings struct {
	Enabled  bool
	Settings map[string]any
}

// Build creates a chain of every enabled registered filter, bound to q.
// Filters are added in name order so the chain is deterministic.
func Build(settings map[string]Settings, q QueueView) (*Chain, error) {
	c := NewChain()
	for _, name := range Names() {
		s, ok := settings[name]
		if !ok || !s.Enabled {
			continue
		}
		f := registry[name](q)
		if err := f.ValidateConfig(s.Settings); err != nil {
			return nil, errors.Wrapf(err, "filter %s", name)
		}
		zlog.Debug().Msgf("filter: enabled: name=%s", name)
		c.Add(f)
	}
	return c, nil
}

// Add adds a filter to the chain.
func (c *Chain) Add(f Filter) {
	c.filters = append(c.filters, f)
}

// Execute runs all filters in sequence.
// Returns immediately if any filter rejects the track.
func (c *Chain) Execute(ctx context.Context, req TrackRequest, t track.Resolved) Result {
	for _, f := range c.filters {
		result := f.Check(ctx, req, t)
		if !result.Accepted {
			return result
		}
	}
	return Accept()
}

// Filters returns all filters in the chain.
func (c *Chain) Filters() []Filter {
	return c.filters
}
