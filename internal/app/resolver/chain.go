package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/domain/track"
)

// NamedExtractor wraps an extractor with a display name for logs.
type NamedExtractor struct {
	Extractor Extractor
	Name      string
}

// Chain tries extractors in order until one resolves the reference.
type Chain struct {
	extractors []NamedExtractor
}

// NewChain creates a new extractor chain.
func NewChain(extractors ...NamedExtractor) *Chain {
	return &Chain{extractors: extractors}
}

// Resolve implements Extractor. When every extractor fails, a transient
// failure wins over a permanent one so the pool still retries.
func (c *Chain) Resolve(ctx context.Context, ref track.Reference) (track.Resolved, error) {
	var transient, last error

	for i, ne := range c.extractors {
		zlog.Debug().Msgf("resolver: trying extractor: index=%d total=%d name=%s ref=%q",
			i+1, len(c.extractors), ne.Name, ref.Raw)

		t, err := ne.Extractor.Resolve(ctx, ref)
		if err == nil {
			return t, nil
		}

		zlog.Warn().Msgf("resolver: extractor failed, trying next: name=%s error=%v", ne.Name, err)
		last = err
		if transient == nil && Classify(err).Kind == KindTransient {
			transient = err
		}
	}

	if transient != nil {
		return track.Resolved{}, transient
	}
	if last != nil {
		return track.Resolved{}, last
	}
	return track.Resolved{}, Permanent(errors.New("no extractors configured"))
}
