package assets_test

import (
	"context"
	"testing"

	"curator/internal/assets"
	"curator/internal/testsupport"
)

func TestInsertDeduplicatesByURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	repo := assets.NewRepository(testsupport.MustOpenDB(t, cfg))
	ctx := context.Background()

	first := &assets.Candidate{
		EntityType: assets.EntityTypeMovie,
		EntityID:   42,
		AssetType:  assets.AssetTypePoster,
		URL:        "https://image.tmdb.org/p/original/abc.jpg",
		Provider:   "tmdb",
	}
	if err := repo.Insert(ctx, first); err != nil {
		t.Fatalf("first Insert failed: %v", err)
	}

	second := &assets.Candidate{
		EntityType: assets.EntityTypeMovie,
		EntityID:   42,
		AssetType:  assets.AssetTypePoster,
		URL:        "https://image.tmdb.org/p/original/abc.jpg",
		Provider:   "tmdb",
	}
	if err := repo.Insert(ctx, second); err != nil {
		t.Fatalf("second Insert failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same URL should resolve to same candidate: %d vs %d", second.ID, first.ID)
	}

	list, err := repo.ListForSlot(ctx, assets.EntityTypeMovie, 42, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("ListForSlot failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected single candidate, got %d", len(list))
	}
}

func TestSelectReplacesPreviousWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	repo := assets.NewRepository(testsupport.MustOpenDB(t, cfg))
	ctx := context.Background()

	var candidates []*assets.Candidate
	for i := 0; i < 3; i++ {
		c := &assets.Candidate{
			EntityType: assets.EntityTypeMovie,
			EntityID:   42,
			AssetType:  assets.AssetTypePoster,
			URL:        "https://example.test/" + string(rune('a'+i)) + ".jpg",
			Provider:   "tmdb",
		}
		if err := repo.Insert(ctx, c); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
		candidates = append(candidates, c)
	}

	if err := repo.Select(ctx, candidates[0]); err != nil {
		t.Fatalf("first Select failed: %v", err)
	}
	if err := repo.Select(ctx, candidates[2]); err != nil {
		t.Fatalf("second Select failed: %v", err)
	}

	winner, err := repo.Selected(ctx, assets.EntityTypeMovie, 42, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("Selected failed: %v", err)
	}
	if winner == nil || winner.ID != candidates[2].ID {
		t.Fatalf("expected candidate %d selected, got %#v", candidates[2].ID, winner)
	}

	list, err := repo.ListForSlot(ctx, assets.EntityTypeMovie, 42, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("ListForSlot failed: %v", err)
	}
	var selectedCount int
	for _, c := range list {
		if c.Selected {
			selectedCount++
		}
	}
	if selectedCount != 1 {
		t.Fatalf("exactly one candidate should be selected, got %d", selectedCount)
	}
}

func TestSelectedNilWhenNoneChosen(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	repo := assets.NewRepository(testsupport.MustOpenDB(t, cfg))

	winner, err := repo.Selected(context.Background(), assets.EntityTypeMovie, 42, assets.AssetTypePoster)
	if err != nil {
		t.Fatalf("Selected failed: %v", err)
	}
	if winner != nil {
		t.Fatalf("expected nil winner, got %#v", winner)
	}
}
