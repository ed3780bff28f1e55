// Package enrich runs the phase-sequenced enrichment pipeline for one
// entity: metadata, artwork fetching and selection, actor thumbnails, and
// trailer verification. Phases collect errors and keep going; a run is only
// unsuccessful when a required metadata refresh was rate limited away.
package enrich

import (
	"context"
	"errors"
	"time"

	"curator/internal/assets"
	"curator/internal/imagehash"
	"curator/internal/library"
	"curator/internal/trailers"
)

// ErrEntityNotFound is returned when the requested entity does not exist.
// It is terminal: retrying cannot make the row appear.
var ErrEntityNotFound = errors.New("entity not found")

// EnrichmentConfig describes one enrichment request.
type EnrichmentConfig struct {
	EntityID        int64 `json:"entity_id"`
	Manual          bool  `json:"manual,omitempty"`
	ForceRefresh    bool  `json:"force_refresh,omitempty"`
	RequireComplete bool  `json:"require_complete,omitempty"`
}

// Result summarizes one enrichment run.
type Result struct {
	Success              bool     `json:"success"`
	Partial              bool     `json:"partial"`
	Skipped              bool     `json:"skipped"`
	RateLimitedProviders []string `json:"rate_limited_providers,omitempty"`
	MetadataChanged      bool     `json:"metadata_changed"`
	AssetsFetched        int      `json:"assets_fetched"`
	AssetsSelected       int      `json:"assets_selected"`
	ThumbnailsDownloaded int      `json:"thumbnails_downloaded"`
	TrailersAnalyzed     int      `json:"trailers_analyzed"`
	TrailerSelected      bool     `json:"trailer_selected"`
	Errors               []string `json:"errors,omitempty"`
}

func (r *Result) addError(err error) {
	if err != nil {
		r.Errors = append(r.Errors, err.Error())
	}
}

func (r *Result) rateLimited(provider string) {
	for _, p := range r.RateLimitedProviders {
		if p == provider {
			return
		}
	}
	r.RateLimitedProviders = append(r.RateLimitedProviders, provider)
}

// EntityStore is the entity persistence the pipeline needs.
type EntityStore interface {
	GetByID(ctx context.Context, id int64) (*library.Entity, error)
	Update(ctx context.Context, e *library.Entity) error
	StampEnriched(ctx context.Context, id int64, at time.Time) error
}

// CandidateStore is the artwork persistence the pipeline needs.
type CandidateStore interface {
	Insert(ctx context.Context, c *assets.Candidate) error
	GetByID(ctx context.Context, id int64) (*assets.Candidate, error)
	ListForSlot(ctx context.Context, entityType assets.EntityType, entityID int64, assetType assets.AssetType) ([]*assets.Candidate, error)
	MarkDownloaded(ctx context.Context, id int64, filePath, contentHash string, analysis imagehash.Analysis) error
	UpdateScore(ctx context.Context, id int64, score float64) error
	Select(ctx context.Context, c *assets.Candidate) error
}

// BlobCache stores downloaded artwork bytes. AddRef claims an additional
// reference on an existing blob so the inventory count tracks how many
// candidates point at it.
type BlobCache interface {
	Put(ctx context.Context, data []byte, ext string) (string, string, error)
	AddRef(ctx context.Context, hash string) (bool, error)
}

// MatchFinder locates visually identical downloaded artwork.
type MatchFinder interface {
	FindMatch(ctx context.Context, sig imagehash.Signature, assetType assets.AssetType) (*assets.Match, error)
}

// TrailerStore is the trailer persistence the pipeline needs.
type TrailerStore interface {
	Upsert(ctx context.Context, c *trailers.Candidate) error
	SelectBest(ctx context.Context, entityType string, entityID int64) (*trailers.Candidate, error)
}

// TrailerAnalyzer runs trailer verification for an entity.
type TrailerAnalyzer interface {
	AnalyzeEntity(ctx context.Context, entityType string, entityID int64) (trailers.RunStats, error)
}
