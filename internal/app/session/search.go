package session

import (
	"context"
	"fmt"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/playdeck/internal/domain/track"
)

// Finder lists search hits without resolving them.
type Finder interface {
	Find(ctx context.Context, query string) ([]track.Candidate, error)
}

// search offers candidates for query. Picking one is an enqueue of its URL.
func search(ctx context.Context, finder Finder, query string) Result {
	query = strings.TrimSpace(query)
	if finder == nil {
		return failed(ReasonInvalidOperation, "search is not available")
	}
	if query == "" {
		return failed(ReasonInvalidOperation, "empty search")
	}

	candidates, err := finder.Find(ctx, query)
	if err != nil {
		zlog.Warn().Msgf("session: search failed: query=%q error=%v", query, err)
		return failed(ReasonResolutionFailed, err.Error())
	}
	if len(candidates) == 0 {
		return failed(ReasonResolutionFailed, fmt.Sprintf("no results for %s", query))
	}

	res := ok(fmt.Sprintf("%d results for %s", len(candidates), query))
	res.Candidates = candidates
	return res
}
