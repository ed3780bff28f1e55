package assets

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"curator/internal/imagehash"
	"curator/internal/storage"
)

// Repository persists artwork candidates.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const candidateColumns = `id, entity_type, entity_id, asset_type, url, file_path, width, height,
    language, provider, provider_meta, content_hash, perceptual_hash, difference_hash,
    has_alpha, foreground_ratio, downloaded, selected, score, created_at, updated_at`

// Insert records a provider offering. Duplicate URLs for the same slot are
// collapsed so repeated enrichment runs do not multiply candidates.
func (r *Repository) Insert(ctx context.Context, c *Candidate) error {
	if c == nil {
		return errors.New("candidate is nil")
	}
	if c.URL != "" {
		row := r.db.QueryRowContext(
			ctx,
			`SELECT id FROM asset_candidates
             WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND url = ?`,
			string(c.EntityType), c.EntityID, string(c.AssetType), c.URL,
		)
		var existing int64
		if err := row.Scan(&existing); err == nil {
			c.ID = existing
			return nil
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check existing candidate: %w", err)
		}
	}

	now := storage.FormatTime(time.Now())
	res, err := r.db.ExecContext(
		ctx,
		`INSERT INTO asset_candidates
         (entity_type, entity_id, asset_type, url, file_path, width, height, language,
          provider, provider_meta, content_hash, perceptual_hash, difference_hash,
          has_alpha, foreground_ratio, downloaded, selected, score, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(c.EntityType), c.EntityID, string(c.AssetType),
		storage.NullableString(c.URL), storage.NullableString(c.FilePath),
		c.Width, c.Height,
		storage.NullableString(c.Language), storage.NullableString(c.Provider),
		storage.NullableString(c.ProviderMeta), storage.NullableString(c.ContentHash),
		storage.NullableString(c.PerceptualHash), storage.NullableString(c.DifferenceHash),
		boolToInt(c.HasAlpha), c.ForegroundRatio,
		boolToInt(c.Downloaded), boolToInt(c.Selected), c.Score,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("insert candidate: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("candidate insert id: %w", err)
	}
	c.ID = id
	return nil
}

// GetByID fetches one candidate, nil when missing.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Candidate, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+candidateColumns+` FROM asset_candidates WHERE id = ?`, id)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	return c, nil
}

// ListForSlot returns all candidates for one entity artwork slot.
func (r *Repository) ListForSlot(ctx context.Context, entityType EntityType, entityID int64, assetType AssetType) ([]*Candidate, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+candidateColumns+` FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ?
         ORDER BY score DESC, id ASC`,
		string(entityType), entityID, string(assetType),
	)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return collectCandidates(rows)
}

// ListDownloaded returns every downloaded candidate of one asset type across
// all entities. This is the search space for perceptual matching.
func (r *Repository) ListDownloaded(ctx context.Context, assetType AssetType) ([]*Candidate, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+candidateColumns+` FROM asset_candidates
         WHERE asset_type = ? AND downloaded = 1
         ORDER BY id ASC`,
		string(assetType),
	)
	if err != nil {
		return nil, fmt.Errorf("list downloaded candidates: %w", err)
	}
	return collectCandidates(rows)
}

// MarkDownloaded stores the post-download facts: where the file lives, its
// content hash, and the structural analysis.
func (r *Repository) MarkDownloaded(ctx context.Context, id int64, filePath, contentHash string, analysis imagehash.Analysis) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE asset_candidates SET
            file_path = ?, content_hash = ?, width = ?, height = ?,
            perceptual_hash = ?, difference_hash = ?, has_alpha = ?, foreground_ratio = ?,
            downloaded = 1, updated_at = ?
         WHERE id = ?`,
		storage.NullableString(filePath),
		storage.NullableString(contentHash),
		analysis.Width, analysis.Height,
		storage.NullableString(analysis.Signature.Average),
		storage.NullableString(analysis.Signature.Difference),
		boolToInt(analysis.HasAlpha), analysis.ForegroundRatio,
		storage.FormatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark candidate downloaded: %w", err)
	}
	return nil
}

// UpdateScore persists a computed score.
func (r *Repository) UpdateScore(ctx context.Context, id int64, score float64) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE asset_candidates SET score = ?, updated_at = ? WHERE id = ?`,
		score, storage.FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("update candidate score: %w", err)
	}
	return nil
}

// UpdateHashes backfills perceptual hashes for a candidate analyzed lazily.
func (r *Repository) UpdateHashes(ctx context.Context, id int64, sig imagehash.Signature) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE asset_candidates SET perceptual_hash = ?, difference_hash = ?, updated_at = ? WHERE id = ?`,
		storage.NullableString(sig.Average),
		storage.NullableString(sig.Difference),
		storage.FormatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update candidate hashes: %w", err)
	}
	return nil
}

// Select marks one candidate as the slot winner and clears any previous
// winner in a single transaction.
func (r *Repository) Select(ctx context.Context, c *Candidate) error {
	if c == nil {
		return errors.New("candidate is nil")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin select tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := storage.FormatTime(time.Now())
	_, err = tx.ExecContext(
		ctx,
		`UPDATE asset_candidates SET selected = 0, updated_at = ?
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND selected = 1`,
		now, string(c.EntityType), c.EntityID, string(c.AssetType),
	)
	if err != nil {
		return fmt.Errorf("clear previous selection: %w", err)
	}
	_, err = tx.ExecContext(
		ctx,
		`UPDATE asset_candidates SET selected = 1, updated_at = ? WHERE id = ?`,
		now, c.ID,
	)
	if err != nil {
		return fmt.Errorf("mark selection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit selection: %w", err)
	}
	c.Selected = true
	return nil
}

// Selected returns the current winner for a slot, nil when none.
func (r *Repository) Selected(ctx context.Context, entityType EntityType, entityID int64, assetType AssetType) (*Candidate, error) {
	row := r.db.QueryRowContext(
		ctx,
		`SELECT `+candidateColumns+` FROM asset_candidates
         WHERE entity_type = ? AND entity_id = ? AND asset_type = ? AND selected = 1`,
		string(entityType), entityID, string(assetType),
	)
	c, err := scanCandidate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selected candidate: %w", err)
	}
	return c, nil
}

func collectCandidates(rows *sql.Rows) ([]*Candidate, error) {
	defer rows.Close()
	var out []*Candidate
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCandidate(scanner interface{ Scan(dest ...any) error }) (*Candidate, error) {
	var (
		c            Candidate
		entityType   string
		assetType    string
		url          sql.NullString
		filePath     sql.NullString
		lang         sql.NullString
		provider     sql.NullString
		providerMeta sql.NullString
		contentHash  sql.NullString
		pHash        sql.NullString
		dHash        sql.NullString
		hasAlpha     sql.NullInt64
		fgRatio      sql.NullFloat64
		downloaded   int
		selected     int
		score        sql.NullFloat64
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&c.ID, &entityType, &c.EntityID, &assetType, &url, &filePath,
		&c.Width, &c.Height, &lang, &provider, &providerMeta, &contentHash,
		&pHash, &dHash, &hasAlpha, &fgRatio, &downloaded, &selected, &score,
		&createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	c.EntityType = EntityType(entityType)
	c.AssetType = AssetType(assetType)
	c.URL = url.String
	c.FilePath = filePath.String
	c.Language = lang.String
	c.Provider = provider.String
	c.ProviderMeta = providerMeta.String
	c.ContentHash = contentHash.String
	c.PerceptualHash = pHash.String
	c.DifferenceHash = dHash.String
	c.HasAlpha = hasAlpha.Valid && hasAlpha.Int64 != 0
	if fgRatio.Valid {
		c.ForegroundRatio = fgRatio.Float64
	}
	c.Downloaded = downloaded != 0
	c.Selected = selected != 0
	if score.Valid {
		c.Score = score.Float64
	}
	if created, err := storage.ParseTime(createdRaw); err == nil {
		c.CreatedAt = created
	}
	if updated, err := storage.ParseTime(updatedRaw); err == nil {
		c.UpdatedAt = updated
	}
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
