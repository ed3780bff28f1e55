package enrich_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"curator/internal/assets"
	"curator/internal/config"
	"curator/internal/enrich"
	"curator/internal/library"
	"curator/internal/logging"
	"curator/internal/providers"
	"curator/internal/ratelimit"
	"curator/internal/testsupport"
	"curator/internal/trailers"
)

type stubClient struct {
	name    string
	caps    providers.Capabilities
	meta    *providers.Metadata
	metaErr error
	artwork []*assets.Candidate
	artErr  error
	videos  []providers.Video
	people  []providers.Person

	metadataCalls int
	assetCalls    int
}

func (s *stubClient) Name() string { return s.name }

func (s *stubClient) Capabilities() providers.Capabilities { return s.caps }

func (s *stubClient) Search(ctx context.Context, query string, year int) ([]providers.SearchResult, error) {
	return nil, nil
}

func (s *stubClient) GetMetadata(ctx context.Context, entityType assets.EntityType, providerID int64) (*providers.Metadata, error) {
	s.metadataCalls++
	if s.metaErr != nil {
		return nil, s.metaErr
	}
	return s.meta, nil
}

func (s *stubClient) GetAssets(ctx context.Context, entityType assets.EntityType, providerID int64, assetTypes []assets.AssetType) ([]*assets.Candidate, error) {
	s.assetCalls++
	if s.artErr != nil {
		return nil, s.artErr
	}
	return s.artwork, nil
}

func (s *stubClient) GetVideos(ctx context.Context, entityType assets.EntityType, providerID int64) ([]providers.Video, error) {
	return s.videos, nil
}

func (s *stubClient) GetCredits(ctx context.Context, entityType assets.EntityType, providerID int64) ([]providers.Person, error) {
	return s.people, nil
}

type fakeDownloader struct {
	responses map[string][]byte
	calls     []string
}

func (d *fakeDownloader) Download(ctx context.Context, url string) ([]byte, error) {
	d.calls = append(d.calls, url)
	data, ok := d.responses[url]
	if !ok {
		return nil, fmt.Errorf("no fixture for %s", url)
	}
	return data, nil
}

// markAllAnalyzed stands in for the network analyzer: every unverified
// candidate gets plausible extraction results.
type markAllAnalyzed struct {
	repo *trailers.Repository
}

func (m *markAllAnalyzed) AnalyzeEntity(ctx context.Context, entityType string, entityID int64) (trailers.RunStats, error) {
	list, err := m.repo.ListForEntity(ctx, entityType, entityID)
	if err != nil {
		return trailers.RunStats{}, err
	}
	var stats trailers.RunStats
	for _, c := range list {
		if c.State != trailers.StateUnverified {
			stats.Skipped++
			continue
		}
		err := m.repo.MarkAnalyzed(ctx, c.ID, trailers.Extraction{
			Title:           c.Title,
			DurationSeconds: 120,
			BestWidth:       1920,
			BestHeight:      1080,
		})
		if err != nil {
			return stats, err
		}
		stats.Analyzed++
	}
	return stats, nil
}

type fixture struct {
	cfg        *config.Config
	db         *sql.DB
	entities   *library.Repository
	candidates *assets.Repository
	cache      *assets.Cache
	trailerDB  *trailers.Repository
	downloader *fakeDownloader
	orch       *enrich.Orchestrator
}

func newFixture(t *testing.T, cfg *config.Config, clients ...providers.Client) *fixture {
	t.Helper()
	db := testsupport.MustOpenDB(t, cfg)
	logger := logging.NewNop()

	registry := providers.NewRegistry(ratelimit.NewRegistry(ratelimit.Limit{RequestsPerSecond: 1000, Burst: 100}))
	for _, client := range clients {
		if err := registry.Register(client); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	candidateRepo := assets.NewRepository(db)
	cache, err := assets.NewCache(cfg.Paths.CacheDir, db, logger)
	if err != nil {
		t.Fatalf("NewCache failed: %v", err)
	}
	trailerRepo := trailers.NewRepository(db)
	downloader := &fakeDownloader{responses: make(map[string][]byte)}

	orch, err := enrich.NewOrchestrator(enrich.OrchestratorOptions{
		Config:     cfg.Enrichment,
		Entities:   library.NewRepository(db),
		Candidates: candidateRepo,
		Cache:      cache,
		Matcher:    assets.NewMatcher(candidateRepo, cfg.Enrichment.MatchThreshold, logger),
		Registry:   registry,
		Trailers:   trailerRepo,
		Analyzer:   &markAllAnalyzed{repo: trailerRepo},
		Downloader: downloader,
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("NewOrchestrator failed: %v", err)
	}

	return &fixture{
		cfg:        cfg,
		db:         db,
		entities:   library.NewRepository(db),
		candidates: candidateRepo,
		cache:      cache,
		trailerDB:  trailerRepo,
		downloader: downloader,
		orch:       orch,
	}
}

func (f *fixture) createMovie(t *testing.T, externalID int64, locked ...string) *library.Entity {
	t.Helper()
	entity := &library.Entity{
		EntityType:   assets.EntityTypeMovie,
		ExternalID:   externalID,
		Title:        "Working Title",
		Year:         2001,
		LockedFields: locked,
	}
	if err := f.entities.Create(context.Background(), entity); err != nil {
		t.Fatalf("Create entity failed: %v", err)
	}
	return entity
}

func posterCandidate(url string, lang string) *assets.Candidate {
	return &assets.Candidate{
		AssetType: assets.AssetTypePoster,
		URL:       url,
		Language:  lang,
		Provider:  "tmdb",
	}
}

func TestRunSelectsHighestResolutionPoster(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrailersDisabled())
	client := &stubClient{
		name: "tmdb",
		caps: providers.Capabilities{
			Metadata:   true,
			Images:     true,
			AssetTypes: []assets.AssetType{assets.AssetTypePoster},
		},
		meta: &providers.Metadata{Title: "Heat", Year: 1995, OriginalLanguage: "en"},
		artwork: []*assets.Candidate{
			posterCandidate("https://img.test/small.png", "en"),
			posterCandidate("https://img.test/medium.png", "en"),
			posterCandidate("https://img.test/large.png", "en"),
		},
	}
	fix := newFixture(t, cfg, client)
	fix.downloader.responses["https://img.test/small.png"] = testsupport.EncodePNG(t, testsupport.GradientImage(500, 750, 1))
	fix.downloader.responses["https://img.test/medium.png"] = testsupport.EncodePNG(t, testsupport.GradientImage(1500, 2250, 120))
	fix.downloader.responses["https://img.test/large.png"] = testsupport.EncodePNG(t, testsupport.GradientImage(2500, 3750, 240))

	entity := fix.createMovie(t, 949)
	result, err := fix.orch.Run(context.Background(), enrich.EnrichmentConfig{EntityID: entity.ID})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Success {
		t.Fatalf("run should succeed: %+v", result)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}
	if result.AssetsFetched != 3 {
		t.Fatalf("expected 3 fetched candidates, got %d", result.AssetsFetched)
	}
	if result.AssetsSelected != 1 {
		t.Fatalf("expected 1 selected slot, got %d", result.AssetsSelected)
	}
	if result.TrailersAnalyzed != 0 || result.TrailerSelected {
		t.Fatalf("trailers are disabled: %+v", result)
	}

	selected, err := fix.candidates.Selected(context.Background(), assets.EntityTypeMovie, entity.ID, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("Selected failed: %v", err)
	}
	if selected == nil {
		t.Fatal("expected a selected poster")
	}
	if selected.URL != "https://img.test/large.png" {
		t.Fatalf("highest resolution poster should win, got %s", selected.URL)
	}
	if selected.Width != 2500 || selected.Height != 3750 {
		t.Fatalf("analysis dimensions not persisted: %dx%d", selected.Width, selected.Height)
	}

	updated, err := fix.entities.GetByID(context.Background(), entity.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Title != "Heat" || updated.Year != 1995 {
		t.Fatalf("metadata not applied: %q (%d)", updated.Title, updated.Year)
	}
	if updated.EnrichedAt == nil {
		t.Fatal("entity should be stamped enriched")
	}
}

func TestRunRespectsLockedFields(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrailersDisabled())
	client := &stubClient{
		name: "tmdb",
		caps: providers.Capabilities{Metadata: true},
		meta: &providers.Metadata{Title: "Renamed", Year: 1995, Overview: "A heist."},
	}
	fix := newFixture(t, cfg, client)
	entity := fix.createMovie(t, 949, library.FieldTitle)

	result, err := fix.orch.Run(context.Background(), enrich.EnrichmentConfig{EntityID: entity.ID})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.MetadataChanged {
		t.Fatal("unlocked fields should still change")
	}

	updated, err := fix.entities.GetByID(context.Background(), entity.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.Title != "Working Title" {
		t.Fatalf("locked title was overwritten: %q", updated.Title)
	}
	if updated.Year != 1995 || updated.Overview != "A heist." {
		t.Fatalf("unlocked fields not applied: %+v", updated)
	}
}

func TestRunRequireCompleteFailsWhenRateLimited(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrailersDisabled())
	client := &stubClient{
		name: "tmdb",
		caps: providers.Capabilities{
			Metadata:   true,
			Images:     true,
			AssetTypes: []assets.AssetType{assets.AssetTypePoster},
		},
		metaErr: providers.ErrRateLimited,
		artwork: []*assets.Candidate{posterCandidate("https://img.test/p.png", "en")},
	}
	fix := newFixture(t, cfg, client)
	entity := fix.createMovie(t, 949)

	result, err := fix.orch.Run(context.Background(), enrich.EnrichmentConfig{
		EntityID:        entity.ID,
		RequireComplete: true,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Success {
		t.Fatal("required refresh blocked by rate limit must fail the run")
	}
	if len(result.RateLimitedProviders) != 1 || result.RateLimitedProviders[0] != "tmdb" {
		t.Fatalf("rate-limited provider not recorded: %v", result.RateLimitedProviders)
	}
	if client.assetCalls != 0 {
		t.Fatal("asset fetch must not run after a terminal metadata failure")
	}
	if len(fix.downloader.calls) != 0 {
		t.Fatalf("nothing should be downloaded: %v", fix.downloader.calls)
	}

	updated, err := fix.entities.GetByID(context.Background(), entity.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if updated.EnrichedAt != nil {
		t.Fatal("failed run must not stamp the entity")
	}
}

func TestRunRateLimitedAssetsAreOnlyPartial(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrailersDisabled())
	client := &stubClient{
		name: "tmdb",
		caps: providers.Capabilities{
			Metadata:   true,
			Images:     true,
			AssetTypes: []assets.AssetType{assets.AssetTypePoster},
		},
		meta:   &providers.Metadata{Title: "Heat"},
		artErr: providers.ErrRateLimited,
	}
	fix := newFixture(t, cfg, client)
	entity := fix.createMovie(t, 949)

	result, err := fix.orch.Run(context.Background(), enrich.EnrichmentConfig{EntityID: entity.ID})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Success {
		t.Fatal("a rate-limited asset pass degrades, it does not fail")
	}
	if !result.Partial {
		t.Fatal("run should be marked partial")
	}
	if len(result.RateLimitedProviders) != 1 {
		t.Fatalf("rate-limited provider not recorded: %v", result.RateLimitedProviders)
	}
}

func TestRunSkipsAlreadyEnrichedEntity(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrailersDisabled())
	client := &stubClient{
		name: "tmdb",
		caps: providers.Capabilities{Metadata: true},
		meta: &providers.Metadata{Title: "Heat"},
	}
	fix := newFixture(t, cfg, client)
	entity := fix.createMovie(t, 949)
	if err := fix.entities.StampEnriched(context.Background(), entity.ID, time.Now()); err != nil {
		t.Fatalf("StampEnriched failed: %v", err)
	}

	result, err := fix.orch.Run(context.Background(), enrich.EnrichmentConfig{EntityID: entity.ID})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !result.Skipped {
		t.Fatal("already enriched entity should be skipped")
	}
	if client.metadataCalls != 0 {
		t.Fatal("no provider calls expected for a skipped run")
	}

	// ForceRefresh overrides the skip.
	result, err = fix.orch.Run(context.Background(), enrich.EnrichmentConfig{EntityID: entity.ID, ForceRefresh: true})
	if err != nil {
		t.Fatalf("forced Run failed: %v", err)
	}
	if result.Skipped {
		t.Fatal("forced refresh must not skip")
	}
	if client.metadataCalls != 1 {
		t.Fatalf("expected one metadata call, got %d", client.metadataCalls)
	}
}

func TestRunReusesVisuallyIdenticalArtwork(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrailersDisabled())
	image := testsupport.EncodePNG(t, testsupport.GradientImage(1000, 1500, 7))
	client := &stubClient{
		name: "tmdb",
		caps: providers.Capabilities{
			Images:     true,
			AssetTypes: []assets.AssetType{assets.AssetTypePoster},
		},
		artwork: []*assets.Candidate{
			posterCandidate("https://img.test/a.png", "en"),
			posterCandidate("https://img.test/b.png", "en"),
		},
	}
	fix := newFixture(t, cfg, client)
	fix.downloader.responses["https://img.test/a.png"] = image
	fix.downloader.responses["https://img.test/b.png"] = image

	entity := fix.createMovie(t, 949)
	if _, err := fix.orch.Run(context.Background(), enrich.EnrichmentConfig{EntityID: entity.ID}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	list, err := fix.candidates.ListForSlot(context.Background(), assets.EntityTypeMovie, entity.ID, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("ListForSlot failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(list))
	}
	if !list[0].Downloaded || !list[1].Downloaded {
		t.Fatal("both candidates should be downloaded")
	}
	if list[0].FilePath != list[1].FilePath {
		t.Fatalf("identical images should share a file: %q vs %q", list[0].FilePath, list[1].FilePath)
	}
	if list[0].ContentHash != list[1].ContentHash {
		t.Fatalf("identical images should share a hash: %q vs %q", list[0].ContentHash, list[1].ContentHash)
	}

	// The inventory count must track how many candidates point at the blob.
	entry, err := fix.cache.Lookup(context.Background(), list[0].ContentHash)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if entry == nil {
		t.Fatalf("no inventory entry for %s", list[0].ContentHash)
	}
	if entry.ReferenceCount != 2 {
		t.Fatalf("expected reference count 2, got %d", entry.ReferenceCount)
	}
}

func TestRunDownloadsActorThumbnails(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrailersDisabled())
	cfg.Enrichment.MaxActorThumbs = 2
	client := &stubClient{
		name: "tmdb",
		caps: providers.Capabilities{Metadata: true},
		meta: &providers.Metadata{Title: "Heat"},
		people: []providers.Person{
			{ProviderID: 1, Name: "Al Pacino", ProfileURL: "https://img.test/pacino.png"},
			{ProviderID: 2, Name: "Uncredited Extra"},
			{ProviderID: 3, Name: "Robert De Niro", ProfileURL: "https://img.test/deniro.png"},
			{ProviderID: 4, Name: "Val Kilmer", ProfileURL: "https://img.test/kilmer.png"},
		},
	}
	fix := newFixture(t, cfg, client)
	fix.downloader.responses["https://img.test/pacino.png"] = testsupport.EncodePNG(t, testsupport.GradientImage(300, 450, 10))
	fix.downloader.responses["https://img.test/deniro.png"] = testsupport.EncodePNG(t, testsupport.GradientImage(300, 450, 200))

	entity := fix.createMovie(t, 949)
	result, err := fix.orch.Run(context.Background(), enrich.EnrichmentConfig{EntityID: entity.ID})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ThumbnailsDownloaded != 2 {
		t.Fatalf("expected 2 thumbnails within the cap, got %d", result.ThumbnailsDownloaded)
	}

	list, err := fix.candidates.ListForSlot(context.Background(), assets.EntityTypeMovie, entity.ID, assets.AssetTypeActorThumb)
	if err != nil {
		t.Fatalf("ListForSlot failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("cap of 2 thumbnails, got %d candidates", len(list))
	}
	for _, c := range list {
		if c.URL == "https://img.test/kilmer.png" {
			t.Fatal("candidate beyond the cap should not be recorded")
		}
	}
}

func TestRunVerifiesAndSelectsTrailer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	client := &stubClient{
		name: "tmdb",
		caps: providers.Capabilities{Metadata: true, Videos: true},
		meta: &providers.Metadata{Title: "Heat"},
		videos: []providers.Video{
			{ProviderVideoID: "abc123", Site: "YouTube", Name: "Official Trailer", Kind: "Trailer", URL: "https://www.youtube.com/watch?v=abc123"},
			{ProviderVideoID: "feat1", Site: "YouTube", Name: "Behind the Scenes", Kind: "Featurette", URL: "https://www.youtube.com/watch?v=feat1"},
		},
	}
	fix := newFixture(t, cfg, client)
	entity := fix.createMovie(t, 949)

	result, err := fix.orch.Run(context.Background(), enrich.EnrichmentConfig{EntityID: entity.ID})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.TrailersAnalyzed != 1 {
		t.Fatalf("only the trailer listing should be analyzed, got %d", result.TrailersAnalyzed)
	}
	if !result.TrailerSelected {
		t.Fatal("analyzed trailer should be selected")
	}

	list, err := fix.trailerDB.ListForEntity(context.Background(), string(assets.EntityTypeMovie), entity.ID)
	if err != nil {
		t.Fatalf("ListForEntity failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("featurettes must not be recorded: %d candidates", len(list))
	}
	if !list[0].Selected || list[0].State != trailers.StateAnalyzed {
		t.Fatalf("trailer should be analyzed and selected: %+v", list[0])
	}
}

func TestRunMissingEntityIsTerminal(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithTrailersDisabled())
	fix := newFixture(t, cfg, &stubClient{name: "tmdb"})

	_, err := fix.orch.Run(context.Background(), enrich.EnrichmentConfig{EntityID: 404})
	if err == nil {
		t.Fatal("missing entity must error")
	}
}
