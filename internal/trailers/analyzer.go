package trailers

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"curator/internal/logging"
)

// Analyzer walks trailer candidates through the two-step verification flow:
// a cheap oEmbed probe decides whether the video still exists, and only then
// does the expensive metadata extraction run. Extraction failures on a video
// the probe vouched for trigger one confirmatory re-probe, which decides
// between "the video vanished mid-run" and a genuine download error.
type Analyzer struct {
	repo      *Repository
	prober    Prober
	extractor MetadataExtractor
	delay     time.Duration
	backoff   time.Duration
	logger    *slog.Logger

	// test seams
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// AnalyzerOptions configures an Analyzer.
type AnalyzerOptions struct {
	// InterRequestDelay spaces consecutive network requests inside one run.
	InterRequestDelay time.Duration
	// RateLimitBackoff is how long a rate-limited candidate waits before it
	// becomes claimable again.
	RateLimitBackoff time.Duration
}

// NewAnalyzer wires the verification flow.
func NewAnalyzer(repo *Repository, prober Prober, extractor MetadataExtractor, opts AnalyzerOptions, logger *slog.Logger) *Analyzer {
	delay := opts.InterRequestDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	backoff := opts.RateLimitBackoff
	if backoff <= 0 {
		backoff = time.Hour
	}
	return &Analyzer{
		repo:      repo,
		prober:    prober,
		extractor: extractor,
		delay:     delay,
		backoff:   backoff,
		logger:    logging.NewComponentLogger(logger, "trailer-analyzer"),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// RunStats summarizes one analysis pass.
type RunStats struct {
	Analyzed    int
	Unavailable int
	RateLimited int
	Errors      int
	Skipped     int
}

// AnalyzeEntity runs verification over every candidate of one entity.
// Terminal candidates are skipped; the pass keeps going after individual
// failures so one dead video never blocks the rest.
func (a *Analyzer) AnalyzeEntity(ctx context.Context, entityType string, entityID int64) (RunStats, error) {
	stats := RunStats{}
	candidates, err := a.repo.ListForEntity(ctx, entityType, entityID)
	if err != nil {
		return stats, err
	}

	requested := false
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !c.Retryable(a.now()) {
			stats.Skipped++
			continue
		}
		if requested {
			a.sleep(ctx, a.delay)
		}
		requested = true
		a.analyzeOne(ctx, c, &stats)
	}
	return stats, nil
}

func (a *Analyzer) analyzeOne(ctx context.Context, c *Candidate, stats *RunStats) {
	log := a.logger.With(
		logging.Int64("trailer_id", c.ID),
		logging.String("video_id", c.ProviderVideoID),
	)

	probe, err := a.prober.Probe(ctx, c.SourceURL)
	switch {
	case errors.Is(err, ErrUnavailable):
		if markErr := a.repo.MarkUnavailable(ctx, c.ID); markErr != nil {
			log.ErrorContext(ctx, "failed to persist unavailable state", logging.Error(markErr))
			stats.Errors++
			return
		}
		stats.Unavailable++
		log.InfoContext(ctx, "trailer unavailable")
		return
	case errors.Is(err, ErrRateLimited):
		a.deferCandidate(ctx, c, stats, log)
		return
	case err != nil:
		log.WarnContext(ctx, "trailer probe failed", logging.Error(err))
		stats.Errors++
		return
	}

	a.sleep(ctx, a.delay)
	extraction, err := a.extractor.Extract(ctx, c.SourceURL)
	switch {
	case errors.Is(err, ErrRateLimited):
		a.deferCandidate(ctx, c, stats, log)
		return
	case errors.Is(err, ErrUnavailable):
		// The extractor is authoritative when it names the failure itself.
		if markErr := a.repo.MarkUnavailable(ctx, c.ID); markErr != nil {
			log.ErrorContext(ctx, "failed to persist unavailable state", logging.Error(markErr))
			stats.Errors++
			return
		}
		stats.Unavailable++
		return
	case err != nil:
		a.confirmDownloadError(ctx, c, stats, log, err)
		return
	}

	if extraction.Title == "" {
		extraction.Title = probe.Title
	}
	if extraction.ThumbnailURL == "" {
		extraction.ThumbnailURL = probe.ThumbnailURL
	}
	if err := a.repo.MarkAnalyzed(ctx, c.ID, *extraction); err != nil {
		log.ErrorContext(ctx, "failed to persist analysis", logging.Error(err))
		stats.Errors++
		return
	}
	stats.Analyzed++
	log.InfoContext(ctx, "trailer analyzed",
		logging.Int("best_width", extraction.BestWidth),
		logging.Int("duration_seconds", extraction.DurationSeconds),
	)
}

// confirmDownloadError re-probes after an ambiguous extraction failure. A
// probe that now reports the video gone settles it as unavailable; anything
// else is recorded as a download error to retry on a later run.
func (a *Analyzer) confirmDownloadError(ctx context.Context, c *Candidate, stats *RunStats, log *slog.Logger, cause error) {
	a.sleep(ctx, a.delay)
	_, probeErr := a.prober.Probe(ctx, c.SourceURL)
	if errors.Is(probeErr, ErrUnavailable) {
		if err := a.repo.MarkUnavailable(ctx, c.ID); err != nil {
			log.ErrorContext(ctx, "failed to persist unavailable state", logging.Error(err))
			stats.Errors++
			return
		}
		stats.Unavailable++
		log.InfoContext(ctx, "trailer vanished during extraction")
		return
	}
	if err := a.repo.MarkDownloadError(ctx, c.ID); err != nil {
		log.ErrorContext(ctx, "failed to persist download error", logging.Error(err))
		stats.Errors++
		return
	}
	stats.Errors++
	log.WarnContext(ctx, "trailer extraction failed on live video", logging.Error(cause))
}

func (a *Analyzer) deferCandidate(ctx context.Context, c *Candidate, stats *RunStats, log *slog.Logger) {
	retryAfter := a.now().Add(a.backoff)
	if err := a.repo.MarkRateLimited(ctx, c.ID, retryAfter); err != nil {
		log.ErrorContext(ctx, "failed to persist rate limit state", logging.Error(err))
		stats.Errors++
		return
	}
	stats.RateLimited++
	log.WarnContext(ctx, "trailer host rate limited",
		logging.String("retry_after", retryAfter.Format(time.RFC3339)),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
