package assets

import (
	"context"
	"log/slog"
	"os"

	"curator/internal/imagehash"
	"curator/internal/logging"
)

// Matcher finds previously downloaded artwork that is visually the same as a
// new offering, so the download and analysis can be skipped entirely.
type Matcher struct {
	repo      *Repository
	threshold float64
	logger    *slog.Logger
}

// NewMatcher builds a matcher. Threshold is the minimum similarity (0-1] a
// candidate must reach to count as the same image.
func NewMatcher(repo *Repository, threshold float64, logger *slog.Logger) *Matcher {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.85
	}
	return &Matcher{
		repo:      repo,
		threshold: threshold,
		logger:    logging.NewComponentLogger(logger, "asset-match"),
	}
}

// Match is a successful cache hit.
type Match struct {
	Candidate  *Candidate
	Similarity float64
}

// FindMatch searches downloaded candidates of the same asset type for the
// best signature match at or above the threshold. Both hash variants must
// clear the threshold; the reported similarity is the weaker of the two.
// Ties on similarity resolve to the lowest candidate id. Candidates whose
// hashes were never computed are backfilled from their files on the way;
// candidates whose file is gone from disk never match, regardless of
// stored hashes.
func (m *Matcher) FindMatch(ctx context.Context, sig imagehash.Signature, assetType AssetType) (*Match, error) {
	candidates, err := m.repo.ListDownloaded(ctx, assetType)
	if err != nil {
		return nil, err
	}

	var best *Match
	var missing int
	for _, c := range candidates {
		if c.FilePath == "" {
			continue
		}
		if _, err := os.Stat(c.FilePath); err != nil {
			missing++
			continue
		}
		if c.PerceptualHash == "" || c.DifferenceHash == "" {
			if !m.backfill(ctx, c) {
				continue
			}
		}
		avgSim := imagehash.Similarity(sig.Average, c.PerceptualHash)
		diffSim := imagehash.Similarity(sig.Difference, c.DifferenceHash)
		similarity := min(avgSim, diffSim)
		if similarity < m.threshold {
			continue
		}
		if best == nil || similarity > best.Similarity {
			best = &Match{Candidate: c, Similarity: similarity}
		}
	}

	if missing > 0 {
		m.logger.WarnContext(ctx, "skipped candidates whose files are gone",
			logging.Int("count", missing),
			logging.String("asset_type", string(assetType)),
		)
	}
	if best != nil {
		m.logger.DebugContext(ctx, "matched cached artwork",
			logging.Int64("candidate_id", best.Candidate.ID),
			logging.Float64("similarity", best.Similarity),
			logging.String("asset_type", string(assetType)),
		)
	}
	return best, nil
}

// backfill computes hashes for a downloaded candidate that predates hashing.
// Returns false when the file cannot be read or decoded; such candidates are
// skipped rather than failing the whole match.
func (m *Matcher) backfill(ctx context.Context, c *Candidate) bool {
	if c.FilePath == "" {
		return false
	}
	data, err := os.ReadFile(c.FilePath)
	if err != nil {
		m.logger.WarnContext(ctx, "cannot read candidate for hash backfill",
			logging.Int64("candidate_id", c.ID),
			logging.Error(err),
		)
		return false
	}
	sig, err := imagehash.ComputeBytes(data)
	if err != nil {
		m.logger.WarnContext(ctx, "cannot hash candidate for backfill",
			logging.Int64("candidate_id", c.ID),
			logging.Error(err),
		)
		return false
	}
	if err := m.repo.UpdateHashes(ctx, c.ID, sig); err != nil {
		m.logger.WarnContext(ctx, "cannot persist backfilled hashes",
			logging.Int64("candidate_id", c.ID),
			logging.Error(err),
		)
		return false
	}
	c.PerceptualHash = sig.Average
	c.DifferenceHash = sig.Difference
	return true
}
