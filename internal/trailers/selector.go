package trailers

import (
	"context"
)

// Duration window for a plausible theatrical trailer. Candidates inside the
// window outrank those outside it regardless of resolution.
const (
	minTrailerSeconds = 30
	maxTrailerSeconds = 300
)

// SelectBest picks the winning analyzed trailer for an entity and persists
// the selection. Ranking: plausible duration first, then resolution, then
// lower id for determinism. Returns nil when nothing analyzed exists.
func (r *Repository) SelectBest(ctx context.Context, entityType string, entityID int64) (*Candidate, error) {
	candidates, err := r.ListForEntity(ctx, entityType, entityID)
	if err != nil {
		return nil, err
	}

	var best *Candidate
	for _, c := range candidates {
		if c.State != StateAnalyzed {
			continue
		}
		if best == nil || trailerRank(c) > trailerRank(best) {
			best = c
		}
	}
	if best == nil {
		return nil, nil
	}
	if err := r.Select(ctx, best); err != nil {
		return nil, err
	}
	return best, nil
}

// trailerRank orders candidates: duration plausibility dominates, then pixel
// area. The id tie-break falls out of iteration order (first seen wins on
// equal rank).
func trailerRank(c *Candidate) int64 {
	rank := int64(c.BestWidth) * int64(c.BestHeight)
	if c.DurationSeconds >= minTrailerSeconds && c.DurationSeconds <= maxTrailerSeconds {
		// Plausible duration outweighs any resolution advantage.
		rank += 1 << 40
	}
	return rank
}
