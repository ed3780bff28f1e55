package assets_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"curator/internal/assets"
	"curator/internal/imagehash"
	"curator/internal/logging"
	"curator/internal/testsupport"
)

func insertDownloaded(t *testing.T, repo *assets.Repository, entityID int64, assetType assets.AssetType, filePath string, sig imagehash.Signature) *assets.Candidate {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if _, err := os.Stat(filePath); err != nil {
		if err := os.WriteFile(filePath, []byte("blob"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
	c := &assets.Candidate{
		EntityType: assets.EntityTypeMovie,
		EntityID:   entityID,
		AssetType:  assetType,
		URL:        filepath.Base(filePath),
		FilePath:   filePath,
		Provider:   "tmdb",
	}
	if err := repo.Insert(context.Background(), c); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	analysis := imagehash.Analysis{Width: 200, Height: 300, Signature: sig}
	if err := repo.MarkDownloaded(context.Background(), c.ID, filePath, "hash-"+filepath.Base(filePath), analysis); err != nil {
		t.Fatalf("MarkDownloaded failed: %v", err)
	}
	c.Downloaded = true
	c.PerceptualHash = sig.Average
	c.DifferenceHash = sig.Difference
	return c
}

func TestFindMatchHitsIdenticalImage(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	repo := assets.NewRepository(db)
	matcher := assets.NewMatcher(repo, 0.85, logging.NewNop())

	img := testsupport.GradientImage(200, 300, 9)
	sig := imagehash.Compute(img)
	existing := insertDownloaded(t, repo, 1, assets.AssetTypePoster, filepath.Join(cfg.Paths.CacheDir, "a.png"), sig)

	match, err := matcher.FindMatch(context.Background(), sig, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match == nil || match.Candidate.ID != existing.ID {
		t.Fatalf("expected match on candidate %d, got %#v", existing.ID, match)
	}
	if match.Similarity != 1.0 {
		t.Fatalf("identical signature should report similarity 1.0, got %f", match.Similarity)
	}
}

func TestFindMatchRespectsThreshold(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	repo := assets.NewRepository(db)
	matcher := assets.NewMatcher(repo, 0.85, logging.NewNop())

	// A hash differing in 16 of 64 bits sits at similarity 0.75, below the
	// threshold.
	sig := imagehash.Signature{Average: "0000000000000000", Difference: "0000000000000000"}
	far := imagehash.Signature{Average: "000000000000ffff", Difference: "000000000000ffff"}
	insertDownloaded(t, repo, 1, assets.AssetTypePoster, filepath.Join(cfg.Paths.CacheDir, "far.png"), far)

	match, err := matcher.FindMatch(context.Background(), sig, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match != nil {
		t.Fatalf("below-threshold candidate should not match: %#v", match)
	}

	// 8 differing bits is similarity 0.875, at or above the threshold.
	near := imagehash.Signature{Average: "00000000000000ff", Difference: "00000000000000ff"}
	insertDownloaded(t, repo, 2, assets.AssetTypePoster, filepath.Join(cfg.Paths.CacheDir, "near.png"), near)

	match, err = matcher.FindMatch(context.Background(), sig, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match == nil {
		t.Fatal("above-threshold candidate should match")
	}
	if match.Similarity != 0.875 {
		t.Fatalf("expected similarity 0.875, got %f", match.Similarity)
	}
}

func TestFindMatchPicksBestCandidate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	repo := assets.NewRepository(db)
	matcher := assets.NewMatcher(repo, 0.85, logging.NewNop())

	sig := imagehash.Signature{Average: "0000000000000000", Difference: "0000000000000000"}
	close8 := imagehash.Signature{Average: "00000000000000ff", Difference: "00000000000000ff"}
	close4 := imagehash.Signature{Average: "000000000000000f", Difference: "000000000000000f"}

	insertDownloaded(t, repo, 1, assets.AssetTypePoster, filepath.Join(cfg.Paths.CacheDir, "8bit.png"), close8)
	best := insertDownloaded(t, repo, 2, assets.AssetTypePoster, filepath.Join(cfg.Paths.CacheDir, "4bit.png"), close4)

	match, err := matcher.FindMatch(context.Background(), sig, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match == nil || match.Candidate.ID != best.ID {
		t.Fatalf("expected best candidate %d, got %#v", best.ID, match)
	}
}

func TestFindMatchIgnoresOtherAssetTypes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	repo := assets.NewRepository(db)
	matcher := assets.NewMatcher(repo, 0.85, logging.NewNop())

	sig := imagehash.Compute(testsupport.GradientImage(200, 300, 11))
	insertDownloaded(t, repo, 1, assets.AssetTypeFanart, filepath.Join(cfg.Paths.CacheDir, "fanart.png"), sig)

	match, err := matcher.FindMatch(context.Background(), sig, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match != nil {
		t.Fatal("identical fanart must not satisfy a poster lookup")
	}
}

func TestFindMatchSkipsCandidatesWithMissingFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	repo := assets.NewRepository(db)
	matcher := assets.NewMatcher(repo, 0.85, logging.NewNop())

	sig := imagehash.Compute(testsupport.GradientImage(200, 300, 17))
	path := filepath.Join(cfg.Paths.CacheDir, "gone.png")
	insertDownloaded(t, repo, 1, assets.AssetTypePoster, path, sig)
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// Stored hashes still say identical, but the file is gone; matching it
	// would hand out a dead path.
	match, err := matcher.FindMatch(context.Background(), sig, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match != nil {
		t.Fatalf("candidate with missing file must not match: %#v", match)
	}
}

func TestFindMatchBackfillsMissingHashes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	db := testsupport.MustOpenDB(t, cfg)
	repo := assets.NewRepository(db)
	matcher := assets.NewMatcher(repo, 0.85, logging.NewNop())

	path := filepath.Join(cfg.Paths.CacheDir, "legacy.png")
	data := testsupport.WritePNG(t, path, 200, 300, 13)
	sig, err := imagehash.ComputeBytes(data)
	if err != nil {
		t.Fatalf("ComputeBytes failed: %v", err)
	}

	// Insert a downloaded candidate without hashes, as if it predated hashing.
	legacy := insertDownloaded(t, repo, 1, assets.AssetTypePoster, path, imagehash.Signature{})

	match, err := matcher.FindMatch(context.Background(), sig, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("FindMatch failed: %v", err)
	}
	if match == nil || match.Candidate.ID != legacy.ID {
		t.Fatalf("backfilled candidate should match, got %#v", match)
	}

	stored, err := repo.GetByID(context.Background(), legacy.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if stored.PerceptualHash != sig.Average || stored.DifferenceHash != sig.Difference {
		t.Fatal("backfilled hashes not persisted")
	}
}
