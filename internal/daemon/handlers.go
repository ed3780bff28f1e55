package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"curator/internal/enrich"
	"curator/internal/logging"
	"curator/internal/queue"
	"curator/internal/scheduler"
)

// trailerJobPayload is the body of a trailer_analysis job.
type trailerJobPayload struct {
	EntityType string `json:"entity_type"`
	EntityID   int64  `json:"entity_id"`
}

func encodePayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode job payload: %w", err)
	}
	return data, nil
}

func (d *Daemon) registerHandlers() {
	d.scheduler.RegisterHandler(queue.KindEnrichment, d.handleEnrichment)
	d.scheduler.RegisterHandler(queue.KindTrailerAnalysis, d.handleTrailerAnalysis)
	d.scheduler.RegisterHandler(queue.KindCacheMaintenance, d.handleCacheMaintenance)
}

func (d *Daemon) handleEnrichment(ctx context.Context, job *queue.Job) error {
	var req enrich.EnrichmentConfig
	if err := json.Unmarshal(job.Payload, &req); err != nil {
		return fmt.Errorf("decode enrichment payload: %w: %w", err, scheduler.ErrTerminal)
	}

	d.scheduler.Progress(ctx, job, "enrichment started", 0)
	result, err := d.orchestrator.Run(ctx, req)
	if err != nil {
		if errors.Is(err, enrich.ErrEntityNotFound) {
			return fmt.Errorf("%w: %w", err, scheduler.ErrTerminal)
		}
		return err
	}
	if !result.Success {
		return fmt.Errorf("enrichment blocked by rate-limited providers %v", result.RateLimitedProviders)
	}
	d.scheduler.Progress(ctx, job, "enrichment finished", 100)
	if result.Partial {
		d.logger.Warn("enrichment completed with degraded phases",
			logging.Int64("entity_id", req.EntityID),
			logging.Int("errors", len(result.Errors)))
	}
	return nil
}

func (d *Daemon) handleTrailerAnalysis(ctx context.Context, job *queue.Job) error {
	if d.analyzer == nil {
		return fmt.Errorf("trailer analysis is disabled: %w", scheduler.ErrTerminal)
	}
	var payload trailerJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode trailer payload: %w: %w", err, scheduler.ErrTerminal)
	}

	stats, err := d.analyzer.AnalyzeEntity(ctx, payload.EntityType, payload.EntityID)
	if err != nil {
		return err
	}
	d.logger.Info("trailer analysis pass finished",
		logging.Int64("entity_id", payload.EntityID),
		logging.Int("analyzed", stats.Analyzed),
		logging.Int("rate_limited", stats.RateLimited),
		logging.Int("unavailable", stats.Unavailable))

	if _, err := d.trailerRepo.SelectBest(ctx, payload.EntityType, payload.EntityID); err != nil {
		return fmt.Errorf("select trailer: %w", err)
	}
	return nil
}

func (d *Daemon) handleCacheMaintenance(ctx context.Context, job *queue.Job) error {
	removed, bytes, err := d.cache.Prune(ctx)
	if err != nil {
		return err
	}
	if removed > 0 {
		d.scheduler.Progress(ctx, job, fmt.Sprintf("pruned %d orphaned files", removed), 100)
		d.logger.Info("cache maintenance finished",
			logging.Int("removed", removed),
			logging.Int64("bytes_reclaimed", bytes))
	}
	return nil
}
