package trailers

import "time"

// State describes where a trailer candidate sits in the verification flow.
type State string

const (
	// StateUnverified means no probe has run yet.
	StateUnverified State = "unverified"
	// StateAnalyzed means extraction succeeded; the candidate can be selected.
	StateAnalyzed State = "analyzed"
	// StateUnavailable is terminal: the video is gone or blocked.
	StateUnavailable State = "unavailable"
	// StateRateLimited defers the candidate until RetryAfter passes.
	StateRateLimited State = "rate_limited"
	// StateDownloadError means extraction failed while the probe says the
	// video exists; retried on a later run.
	StateDownloadError State = "download_error"
)

// Candidate is one provider-listed trailer for an entity.
type Candidate struct {
	ID              int64
	EntityType      string
	EntityID        int64
	ProviderVideoID string
	SourceURL       string
	State           State
	Selected        bool
	Title           string
	DurationSeconds int
	BestWidth       int
	BestHeight      int
	EstimatedBytes  int64
	ThumbnailURL    string
	RetryAfter      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Retryable reports whether the candidate should be attempted at the given
// time. Analyzed and unavailable are terminal; rate-limited waits out its
// backoff window.
func (c *Candidate) Retryable(now time.Time) bool {
	switch c.State {
	case StateAnalyzed, StateUnavailable:
		return false
	case StateRateLimited:
		return c.RetryAfter == nil || !now.Before(*c.RetryAfter)
	default:
		return true
	}
}

// Extraction is what a metadata extractor learns about a playable video.
type Extraction struct {
	Title           string
	DurationSeconds int
	BestWidth       int
	BestHeight      int
	EstimatedBytes  int64
	ThumbnailURL    string
}
