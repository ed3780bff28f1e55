package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"curator/internal/assets"
	"curator/internal/config"
	"curator/internal/imagehash"
	"curator/internal/library"
	"curator/internal/logging"
	"curator/internal/notifications"
	"curator/internal/providers"
	"curator/internal/trailers"
)

// Orchestrator runs the enrichment phases for a single entity. Phase errors
// are collected into the result; only a missing entity or a blocked required
// metadata refresh aborts the run.
type Orchestrator struct {
	cfg        config.Enrichment
	entities   EntityStore
	candidates CandidateStore
	cache      BlobCache
	matcher    MatchFinder
	registry   *providers.Registry
	trailerDB  TrailerStore
	analyzer   TrailerAnalyzer
	downloader Downloader
	notifier   notifications.Publisher
	logger     *slog.Logger

	now func() time.Time
}

// OrchestratorOptions carries the collaborators for NewOrchestrator. Cache,
// matcher, analyzer, and notifier may be nil; the corresponding phases are
// skipped or degrade gracefully.
type OrchestratorOptions struct {
	Config     config.Enrichment
	Entities   EntityStore
	Candidates CandidateStore
	Cache      BlobCache
	Matcher    MatchFinder
	Registry   *providers.Registry
	Trailers   TrailerStore
	Analyzer   TrailerAnalyzer
	Downloader Downloader
	Notifier   notifications.Publisher
	Logger     *slog.Logger
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Entities == nil {
		return nil, errors.New("entity store is required")
	}
	if opts.Candidates == nil {
		return nil, errors.New("candidate store is required")
	}
	if opts.Registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if opts.Downloader == nil {
		opts.Downloader = NewHTTPDownloader(nil)
	}
	if opts.Notifier == nil {
		opts.Notifier = notifications.Noop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:        opts.Config,
		entities:   opts.Entities,
		candidates: opts.Candidates,
		cache:      opts.Cache,
		matcher:    opts.Matcher,
		registry:   opts.Registry,
		trailerDB:  opts.Trailers,
		analyzer:   opts.Analyzer,
		downloader: opts.Downloader,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
		now:        time.Now,
	}, nil
}

// slotsForEntity lists the artwork slots an entity type carries.
func slotsForEntity(entityType assets.EntityType) []assets.AssetType {
	switch entityType {
	case assets.EntityTypeMovie, assets.EntityTypeSeries:
		return []assets.AssetType{
			assets.AssetTypePoster,
			assets.AssetTypeFanart,
			assets.AssetTypeBanner,
			assets.AssetTypeLogo,
			assets.AssetTypeThumb,
		}
	case assets.EntityTypeSeason:
		return []assets.AssetType{assets.AssetTypePoster}
	case assets.EntityTypeEpisode:
		return []assets.AssetType{assets.AssetTypeThumb}
	default:
		return nil
	}
}

// Run executes the full pipeline for one entity and returns the run summary.
// The returned error is non-nil only for terminal conditions (missing
// entity); degraded runs report through Result instead.
func (o *Orchestrator) Run(ctx context.Context, req EnrichmentConfig) (*Result, error) {
	entity, err := o.entities.GetByID(ctx, req.EntityID)
	if err != nil {
		return nil, fmt.Errorf("load entity %d: %w", req.EntityID, err)
	}
	if entity == nil {
		return nil, fmt.Errorf("%w: id %d", ErrEntityNotFound, req.EntityID)
	}

	result := &Result{Success: true}
	if entity.EnrichedAt != nil && !req.ForceRefresh && !req.Manual {
		result.Skipped = true
		o.logger.Debug("entity already enriched, skipping",
			logging.Int64("entity_id", entity.ID))
		return result, nil
	}

	o.runMetadata(ctx, entity, result)
	if req.RequireComplete && len(result.RateLimitedProviders) > 0 && !result.MetadataChanged {
		result.Success = false
		o.publishCompleted(ctx, entity, result)
		return result, nil
	}

	o.runAssetFetch(ctx, entity, result)
	o.runAssetDownload(ctx, entity, result)
	o.runAssetSelection(ctx, entity, result)
	o.runActorThumbnails(ctx, entity, result)
	o.runTrailers(ctx, entity, result)

	if err := o.entities.StampEnriched(ctx, entity.ID, o.now().UTC()); err != nil {
		// The enrichment itself happened; a failed stamp only means the next
		// scan re-runs it.
		o.logger.Warn("failed to stamp entity as enriched",
			logging.Int64("entity_id", entity.ID),
			logging.Error(err))
		result.addError(fmt.Errorf("stamp enriched: %w", err))
	}

	result.Partial = len(result.Errors) > 0 || len(result.RateLimitedProviders) > 0
	o.publishCompleted(ctx, entity, result)
	return result, nil
}

func (o *Orchestrator) publishCompleted(ctx context.Context, entity *library.Entity, result *Result) {
	payload := notifications.Payload{
		"entity_id":         entity.ID,
		"entity_type":       string(entity.EntityType),
		"success":           result.Success,
		"partial":           result.Partial,
		"assets_selected":   result.AssetsSelected,
		"trailers_analyzed": result.TrailersAnalyzed,
	}
	if err := o.notifier.Publish(ctx, notifications.EventEnrichmentCompleted, payload); err != nil {
		o.logger.Warn("failed to publish enrichment event", logging.Error(err))
	}
}

// runMetadata refreshes entity metadata from every metadata-capable
// provider, honoring field locks. Rate-limited providers are recorded and
// the phase keeps going.
func (o *Orchestrator) runMetadata(ctx context.Context, entity *library.Entity, result *Result) {
	if entity.ExternalID <= 0 {
		result.addError(errors.New("metadata: entity has no external id"))
		return
	}
	changed := false
	for _, client := range o.registry.All() {
		if !client.Capabilities().Metadata {
			continue
		}
		if err := o.registry.Acquire(ctx, client.Name()); err != nil {
			result.addError(fmt.Errorf("metadata: %w", err))
			return
		}
		meta, err := client.GetMetadata(ctx, entity.EntityType, entity.ExternalID)
		if err != nil {
			if errors.Is(err, providers.ErrRateLimited) {
				result.rateLimited(client.Name())
				continue
			}
			if errors.Is(err, providers.ErrUnsupported) {
				continue
			}
			result.addError(err)
			continue
		}
		if o.applyMetadata(entity, meta) {
			changed = true
		}
	}
	if !changed {
		return
	}
	if err := o.entities.Update(ctx, entity); err != nil {
		result.addError(fmt.Errorf("metadata: persist entity: %w", err))
		return
	}
	result.MetadataChanged = true
}

// applyMetadata copies provider fields onto the entity, skipping any field
// the user has locked. Returns true when something actually changed.
func (o *Orchestrator) applyMetadata(entity *library.Entity, meta *providers.Metadata) bool {
	changed := false
	if meta.Title != "" && !entity.Locked(library.FieldTitle) && entity.Title != meta.Title {
		entity.Title = meta.Title
		changed = true
	}
	if meta.Year > 0 && !entity.Locked(library.FieldYear) && entity.Year != meta.Year {
		entity.Year = meta.Year
		changed = true
	}
	if meta.Overview != "" && !entity.Locked(library.FieldOverview) && entity.Overview != meta.Overview {
		entity.Overview = meta.Overview
		changed = true
	}
	if meta.OriginalLanguage != "" && !entity.Locked(library.FieldOriginalLanguage) && entity.OriginalLanguage != meta.OriginalLanguage {
		entity.OriginalLanguage = meta.OriginalLanguage
		changed = true
	}
	return changed
}

// runAssetFetch lists artwork candidates from every image-capable provider
// and records them. Duplicate URLs are absorbed by the candidate store.
func (o *Orchestrator) runAssetFetch(ctx context.Context, entity *library.Entity, result *Result) {
	slots := slotsForEntity(entity.EntityType)
	if len(slots) == 0 || entity.ExternalID <= 0 {
		return
	}
	for _, client := range o.registry.All() {
		caps := client.Capabilities()
		if !caps.Images {
			continue
		}
		wanted := make([]assets.AssetType, 0, len(slots))
		for _, slot := range slots {
			if caps.SupportsAssetType(slot) {
				wanted = append(wanted, slot)
			}
		}
		if len(wanted) == 0 {
			continue
		}
		if err := o.registry.Acquire(ctx, client.Name()); err != nil {
			result.addError(fmt.Errorf("assets: %w", err))
			return
		}
		listed, err := client.GetAssets(ctx, entity.EntityType, entity.ExternalID, wanted)
		if err != nil {
			if errors.Is(err, providers.ErrRateLimited) {
				result.rateLimited(client.Name())
				continue
			}
			if errors.Is(err, providers.ErrUnsupported) {
				continue
			}
			result.addError(err)
			continue
		}
		for _, candidate := range listed {
			candidate.EntityType = entity.EntityType
			candidate.EntityID = entity.ID
			if err := o.candidates.Insert(ctx, candidate); err != nil {
				result.addError(fmt.Errorf("assets: record candidate: %w", err))
				continue
			}
			result.AssetsFetched++
		}
	}
}

// runAssetDownload fetches the bytes for every pending candidate, dedupes
// storage through the content cache and perceptual matching, and persists
// the image analysis.
func (o *Orchestrator) runAssetDownload(ctx context.Context, entity *library.Entity, result *Result) {
	for _, slot := range slotsForEntity(entity.EntityType) {
		list, err := o.candidates.ListForSlot(ctx, entity.EntityType, entity.ID, slot)
		if err != nil {
			result.addError(fmt.Errorf("assets: list %s candidates: %w", slot, err))
			continue
		}
		for _, candidate := range list {
			if candidate.Downloaded || candidate.URL == "" {
				continue
			}
			if err := o.fetchCandidate(ctx, candidate); err != nil {
				result.addError(err)
			}
		}
	}
}

// fetchCandidate downloads one candidate, reusing a visually identical file
// already on disk when the matcher finds one above threshold.
func (o *Orchestrator) fetchCandidate(ctx context.Context, candidate *assets.Candidate) error {
	data, err := o.downloader.Download(ctx, candidate.URL)
	if err != nil {
		return err
	}
	analysis, err := imagehash.Analyze(data)
	if err != nil {
		return fmt.Errorf("analyze %s: %w", candidate.URL, err)
	}

	if o.cache == nil {
		return fmt.Errorf("store %s: no cache configured", candidate.URL)
	}
	filePath := ""
	contentHash := ""
	if o.matcher != nil {
		match, err := o.matcher.FindMatch(ctx, analysis.Signature, candidate.AssetType)
		if err != nil {
			o.logger.Warn("perceptual match lookup failed", logging.Error(err))
		} else if match != nil && match.Candidate.FilePath != "" && match.Candidate.ContentHash != "" {
			claimed, err := o.cache.AddRef(ctx, match.Candidate.ContentHash)
			if err != nil {
				return fmt.Errorf("claim cached artwork for %s: %w", candidate.URL, err)
			}
			if claimed {
				filePath = match.Candidate.FilePath
				contentHash = match.Candidate.ContentHash
				o.logger.Debug("reusing matched artwork",
					logging.Int64("candidate_id", candidate.ID),
					logging.Int64("matched_id", match.Candidate.ID),
					logging.Float64("similarity", match.Similarity))
			}
		}
	}
	if filePath == "" {
		contentHash, filePath, err = o.cache.Put(ctx, data, extFromURL(candidate.URL))
		if err != nil {
			return fmt.Errorf("store %s: %w", candidate.URL, err)
		}
	}
	if err := o.candidates.MarkDownloaded(ctx, candidate.ID, filePath, contentHash, analysis); err != nil {
		return fmt.Errorf("record download of %s: %w", candidate.URL, err)
	}
	return nil
}

// runAssetSelection scores downloaded candidates per slot, persists the
// scores, and marks the winner selected.
func (o *Orchestrator) runAssetSelection(ctx context.Context, entity *library.Entity, result *Result) {
	for _, slot := range slotsForEntity(entity.EntityType) {
		list, err := o.candidates.ListForSlot(ctx, entity.EntityType, entity.ID, slot)
		if err != nil {
			result.addError(fmt.Errorf("selection: list %s candidates: %w", slot, err))
			continue
		}
		downloaded := make([]*assets.Candidate, 0, len(list))
		for _, candidate := range list {
			if candidate.Downloaded {
				downloaded = append(downloaded, candidate)
			}
		}
		if len(downloaded) == 0 {
			continue
		}
		assets.ScoreAll(downloaded, o.cfg.PreferredLanguage)
		for _, candidate := range downloaded {
			if err := o.candidates.UpdateScore(ctx, candidate.ID, candidate.Score); err != nil {
				result.addError(fmt.Errorf("selection: persist score: %w", err))
			}
		}
		best := downloaded[0]
		if err := o.candidates.Select(ctx, best); err != nil {
			result.addError(fmt.Errorf("selection: select %s: %w", slot, err))
			continue
		}
		result.AssetsSelected++
		o.logger.Info("selected artwork",
			logging.Int64("entity_id", entity.ID),
			logging.String("asset_type", string(slot)),
			logging.Int64("candidate_id", best.ID),
			logging.Float64("score", best.Score))
	}
}

// runActorThumbnails pulls cast profile images from providers that can list
// credits. Thumbnails attach to the entity itself so selection and cleanup
// follow the entity's lifecycle.
func (o *Orchestrator) runActorThumbnails(ctx context.Context, entity *library.Entity, result *Result) {
	if !o.cfg.ActorThumbnails || entity.ExternalID <= 0 {
		return
	}
	if entity.EntityType != assets.EntityTypeMovie && entity.EntityType != assets.EntityTypeSeries {
		return
	}
	for _, client := range o.registry.All() {
		lister, ok := client.(providers.CreditLister)
		if !ok {
			continue
		}
		if err := o.registry.Acquire(ctx, client.Name()); err != nil {
			result.addError(fmt.Errorf("credits: %w", err))
			return
		}
		people, err := lister.GetCredits(ctx, entity.EntityType, entity.ExternalID)
		if err != nil {
			if errors.Is(err, providers.ErrRateLimited) {
				result.rateLimited(client.Name())
				continue
			}
			result.addError(err)
			continue
		}
		taken := 0
		for _, person := range people {
			if person.ProfileURL == "" {
				continue
			}
			if o.cfg.MaxActorThumbs > 0 && taken >= o.cfg.MaxActorThumbs {
				break
			}
			candidate := &assets.Candidate{
				EntityType: entity.EntityType,
				EntityID:   entity.ID,
				AssetType:  assets.AssetTypeActorThumb,
				URL:        person.ProfileURL,
				Language:   "",
				Provider:   client.Name(),
			}
			if err := o.candidates.Insert(ctx, candidate); err != nil {
				result.addError(fmt.Errorf("credits: record thumbnail: %w", err))
				continue
			}
			taken++
			// Insert may have resolved to an existing row; re-read so an
			// already downloaded thumbnail is not fetched again.
			if existing, err := o.candidates.GetByID(ctx, candidate.ID); err == nil && existing != nil {
				candidate = existing
			}
			if candidate.Downloaded {
				continue
			}
			if err := o.fetchCandidate(ctx, candidate); err != nil {
				result.addError(err)
				continue
			}
			result.ThumbnailsDownloaded++
		}
	}
}

// runTrailers records trailer listings, verifies them, and selects the best
// analyzed candidate. Movies only; series trailers are rare enough upstream
// that providers do not reliably list them.
func (o *Orchestrator) runTrailers(ctx context.Context, entity *library.Entity, result *Result) {
	if !o.cfg.TrailersEnabled || entity.EntityType != assets.EntityTypeMovie {
		return
	}
	if o.trailerDB == nil {
		return
	}
	if entity.ExternalID > 0 {
		for _, client := range o.registry.All() {
			if !client.Capabilities().Videos {
				continue
			}
			if err := o.registry.Acquire(ctx, client.Name()); err != nil {
				result.addError(fmt.Errorf("trailers: %w", err))
				return
			}
			videos, err := client.GetVideos(ctx, entity.EntityType, entity.ExternalID)
			if err != nil {
				if errors.Is(err, providers.ErrRateLimited) {
					result.rateLimited(client.Name())
					continue
				}
				if errors.Is(err, providers.ErrUnsupported) {
					continue
				}
				result.addError(err)
				continue
			}
			for _, video := range videos {
				if video.Kind != "Trailer" || video.URL == "" {
					continue
				}
				candidate := &trailers.Candidate{
					EntityType:      string(entity.EntityType),
					EntityID:        entity.ID,
					ProviderVideoID: video.ProviderVideoID,
					SourceURL:       video.URL,
					Title:           video.Name,
				}
				if err := o.trailerDB.Upsert(ctx, candidate); err != nil {
					result.addError(fmt.Errorf("trailers: record candidate: %w", err))
				}
			}
		}
	}

	if o.analyzer != nil {
		stats, err := o.analyzer.AnalyzeEntity(ctx, string(entity.EntityType), entity.ID)
		if err != nil {
			result.addError(fmt.Errorf("trailers: analyze: %w", err))
		}
		result.TrailersAnalyzed += stats.Analyzed
	}

	best, err := o.trailerDB.SelectBest(ctx, string(entity.EntityType), entity.ID)
	if err != nil {
		result.addError(fmt.Errorf("trailers: select: %w", err))
		return
	}
	if best != nil {
		result.TrailerSelected = true
		payload := notifications.Payload{
			"entity_id":  entity.ID,
			"trailer_id": best.ID,
			"source_url": best.SourceURL,
		}
		if err := o.notifier.Publish(ctx, notifications.EventTrailerSelected, payload); err != nil {
			o.logger.Warn("failed to publish trailer event", logging.Error(err))
		}
	}
}
