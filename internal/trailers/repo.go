package trailers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"curator/internal/storage"
)

// Repository persists trailer candidates.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const trailerColumns = `id, entity_type, entity_id, provider_video_id, source_url, analyzed,
    selected, title, duration_seconds, best_width, best_height, estimated_size_bytes,
    thumbnail_url, failure_reason, retry_after, created_at, updated_at`

// Upsert records a provider listing. The (entity, video id) pair is unique;
// re-listing an existing candidate refreshes nothing and keeps its state, so
// repeated enrichment runs never reset verification progress.
func (r *Repository) Upsert(ctx context.Context, c *Candidate) error {
	if c == nil {
		return errors.New("candidate is nil")
	}
	row := r.db.QueryRowContext(
		ctx,
		`SELECT id FROM trailer_candidates
         WHERE entity_type = ? AND entity_id = ? AND provider_video_id = ?`,
		c.EntityType, c.EntityID, c.ProviderVideoID,
	)
	var existing int64
	err := row.Scan(&existing)
	if err == nil {
		c.ID = existing
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("check existing trailer: %w", err)
	}

	now := storage.FormatTime(time.Now())
	res, err := r.db.ExecContext(
		ctx,
		`INSERT INTO trailer_candidates
         (entity_type, entity_id, provider_video_id, source_url, analyzed, selected,
          title, created_at, updated_at)
         VALUES (?, ?, ?, ?, 0, 0, ?, ?, ?)`,
		c.EntityType, c.EntityID, c.ProviderVideoID, c.SourceURL,
		storage.NullableString(c.Title), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert trailer candidate: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("trailer insert id: %w", err)
	}
	c.ID = id
	c.State = StateUnverified
	return nil
}

// ListForEntity returns all candidates for one entity in insertion order.
func (r *Repository) ListForEntity(ctx context.Context, entityType string, entityID int64) ([]*Candidate, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+trailerColumns+` FROM trailer_candidates
         WHERE entity_type = ? AND entity_id = ? ORDER BY id ASC`,
		entityType, entityID,
	)
	if err != nil {
		return nil, fmt.Errorf("list trailer candidates: %w", err)
	}
	return collectTrailers(rows)
}

// MarkAnalyzed stores extraction results and clears any failure state.
func (r *Repository) MarkAnalyzed(ctx context.Context, id int64, ex Extraction) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE trailer_candidates SET
            analyzed = 1, title = ?, duration_seconds = ?, best_width = ?, best_height = ?,
            estimated_size_bytes = ?, thumbnail_url = ?, failure_reason = NULL,
            retry_after = NULL, updated_at = ?
         WHERE id = ?`,
		storage.NullableString(ex.Title), ex.DurationSeconds, ex.BestWidth, ex.BestHeight,
		ex.EstimatedBytes, storage.NullableString(ex.ThumbnailURL),
		storage.FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("mark trailer analyzed: %w", err)
	}
	return nil
}

// MarkUnavailable records the terminal gone/blocked state.
func (r *Repository) MarkUnavailable(ctx context.Context, id int64) error {
	return r.markFailure(ctx, id, StateUnavailable, nil)
}

// MarkRateLimited defers the candidate until retryAfter.
func (r *Repository) MarkRateLimited(ctx context.Context, id int64, retryAfter time.Time) error {
	return r.markFailure(ctx, id, StateRateLimited, &retryAfter)
}

// MarkDownloadError records an extraction failure on a confirmed-live video.
func (r *Repository) MarkDownloadError(ctx context.Context, id int64) error {
	return r.markFailure(ctx, id, StateDownloadError, nil)
}

func (r *Repository) markFailure(ctx context.Context, id int64, state State, retryAfter *time.Time) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE trailer_candidates SET
            analyzed = 0, failure_reason = ?, retry_after = ?, updated_at = ?
         WHERE id = ?`,
		string(state),
		storage.NullableTime(retryAfter),
		storage.FormatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark trailer %s: %w", state, err)
	}
	return nil
}

// Select marks one candidate as the entity's trailer, clearing any previous
// selection.
func (r *Repository) Select(ctx context.Context, c *Candidate) error {
	if c == nil {
		return errors.New("candidate is nil")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trailer select tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := storage.FormatTime(time.Now())
	_, err = tx.ExecContext(
		ctx,
		`UPDATE trailer_candidates SET selected = 0, updated_at = ?
         WHERE entity_type = ? AND entity_id = ? AND selected = 1`,
		now, c.EntityType, c.EntityID,
	)
	if err != nil {
		return fmt.Errorf("clear trailer selection: %w", err)
	}
	_, err = tx.ExecContext(
		ctx,
		`UPDATE trailer_candidates SET selected = 1, updated_at = ? WHERE id = ?`,
		now, c.ID,
	)
	if err != nil {
		return fmt.Errorf("mark trailer selection: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trailer selection: %w", err)
	}
	c.Selected = true
	return nil
}

// DueForRetry lists rate-limited candidates that have served out their
// backoff, so maintenance can requeue analysis jobs for their entities.
func (r *Repository) DueForRetry(ctx context.Context, now time.Time) ([]*Candidate, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+trailerColumns+` FROM trailer_candidates
         WHERE failure_reason = ? AND retry_after IS NOT NULL AND retry_after <= ?
         ORDER BY id ASC`,
		string(StateRateLimited),
		storage.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("list due trailer retries: %w", err)
	}
	return collectTrailers(rows)
}

func collectTrailers(rows *sql.Rows) ([]*Candidate, error) {
	defer rows.Close()
	var out []*Candidate
	for rows.Next() {
		c, err := scanTrailer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanTrailer(scanner interface{ Scan(dest ...any) error }) (*Candidate, error) {
	var (
		c             Candidate
		analyzed      int
		selected      int
		title         sql.NullString
		duration      sql.NullInt64
		bestWidth     sql.NullInt64
		bestHeight    sql.NullInt64
		estimatedSize sql.NullInt64
		thumbnail     sql.NullString
		failureReason sql.NullString
		retryAfterRaw sql.NullString
		createdRaw    string
		updatedRaw    string
	)
	if err := scanner.Scan(
		&c.ID, &c.EntityType, &c.EntityID, &c.ProviderVideoID, &c.SourceURL,
		&analyzed, &selected, &title, &duration, &bestWidth, &bestHeight,
		&estimatedSize, &thumbnail, &failureReason, &retryAfterRaw,
		&createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	c.Selected = selected != 0
	c.Title = title.String
	c.DurationSeconds = int(duration.Int64)
	c.BestWidth = int(bestWidth.Int64)
	c.BestHeight = int(bestHeight.Int64)
	c.EstimatedBytes = estimatedSize.Int64
	c.ThumbnailURL = thumbnail.String

	switch {
	case analyzed != 0:
		c.State = StateAnalyzed
	case failureReason.Valid && failureReason.String != "":
		c.State = State(failureReason.String)
	default:
		c.State = StateUnverified
	}
	if retryAfterRaw.Valid {
		if retryAfter, err := storage.ParseTime(retryAfterRaw.String); err == nil {
			c.RetryAfter = &retryAfter
		}
	}
	if created, err := storage.ParseTime(createdRaw); err == nil {
		c.CreatedAt = created
	}
	if updated, err := storage.ParseTime(updatedRaw); err == nil {
		c.UpdatedAt = updated
	}
	return &c, nil
}
