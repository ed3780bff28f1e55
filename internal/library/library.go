// Package library holds the enrichable entity records: movies, series, and
// people, keyed to their external provider ids.
package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"curator/internal/assets"
	"curator/internal/storage"
)

// Lockable metadata field names. A locked field is owned by the user and
// never overwritten by enrichment.
const (
	FieldTitle            = "title"
	FieldYear             = "year"
	FieldOverview         = "overview"
	FieldOriginalLanguage = "original_language"
)

// Entity is one library item.
type Entity struct {
	ID               int64
	EntityType       assets.EntityType
	ExternalID       int64
	Title            string
	Year             int
	Overview         string
	OriginalLanguage string
	LockedFields     []string
	EnrichedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Locked reports whether enrichment may not touch the named field.
func (e *Entity) Locked(field string) bool {
	return slices.Contains(e.LockedFields, field)
}

// Repository persists entities.
type Repository struct {
	db *sql.DB
}

// NewRepository wraps an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const entityColumns = `id, entity_type, external_id, title, year, overview,
    original_language, locked_fields, enriched_at, created_at, updated_at`

// Create inserts a new entity.
func (r *Repository) Create(ctx context.Context, e *Entity) error {
	if e == nil {
		return errors.New("entity is nil")
	}
	locked, err := marshalLocks(e.LockedFields)
	if err != nil {
		return err
	}
	now := storage.FormatTime(time.Now())
	res, err := r.db.ExecContext(
		ctx,
		`INSERT INTO entities
         (entity_type, external_id, title, year, overview, original_language,
          locked_fields, enriched_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.EntityType), e.ExternalID,
		storage.NullableString(e.Title), e.Year,
		storage.NullableString(e.Overview), storage.NullableString(e.OriginalLanguage),
		locked, storage.NullableTime(e.EnrichedAt), now, now,
	)
	if err != nil {
		return fmt.Errorf("insert entity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("entity insert id: %w", err)
	}
	e.ID = id
	return nil
}

// GetByID fetches one entity, nil when missing.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Entity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// Update persists the mutable fields of an entity.
func (r *Repository) Update(ctx context.Context, e *Entity) error {
	if e == nil || e.ID == 0 {
		return errors.New("entity must exist before update")
	}
	locked, err := marshalLocks(e.LockedFields)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(
		ctx,
		`UPDATE entities SET
            title = ?, year = ?, overview = ?, original_language = ?,
            locked_fields = ?, enriched_at = ?, updated_at = ?
         WHERE id = ?`,
		storage.NullableString(e.Title), e.Year,
		storage.NullableString(e.Overview), storage.NullableString(e.OriginalLanguage),
		locked, storage.NullableTime(e.EnrichedAt),
		storage.FormatTime(time.Now()), e.ID,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	return nil
}

// StampEnriched records the completion time of an enrichment run.
func (r *Repository) StampEnriched(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(
		ctx,
		`UPDATE entities SET enriched_at = ?, updated_at = ? WHERE id = ?`,
		storage.FormatTime(at), storage.FormatTime(time.Now()), id,
	)
	if err != nil {
		return fmt.Errorf("stamp entity enriched: %w", err)
	}
	return nil
}

// List returns all entities of a type, newest first.
func (r *Repository) List(ctx context.Context, entityType assets.EntityType) ([]*Entity, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT `+entityColumns+` FROM entities WHERE entity_type = ? ORDER BY id DESC`,
		string(entityType),
	)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalLocks(fields []string) (sql.NullString, error) {
	if len(fields) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal locked fields: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

func scanEntity(scanner interface{ Scan(dest ...any) error }) (*Entity, error) {
	var (
		e           Entity
		entityType  string
		externalID  sql.NullInt64
		title       sql.NullString
		year        sql.NullInt64
		overview    sql.NullString
		origLang    sql.NullString
		locked      sql.NullString
		enrichedRaw sql.NullString
		createdRaw  string
		updatedRaw  string
	)
	if err := scanner.Scan(
		&e.ID, &entityType, &externalID, &title, &year, &overview,
		&origLang, &locked, &enrichedRaw, &createdRaw, &updatedRaw,
	); err != nil {
		return nil, err
	}
	e.EntityType = assets.EntityType(entityType)
	e.ExternalID = externalID.Int64
	e.Title = title.String
	e.Year = int(year.Int64)
	e.Overview = overview.String
	e.OriginalLanguage = origLang.String
	if locked.Valid && locked.String != "" {
		if err := json.Unmarshal([]byte(locked.String), &e.LockedFields); err != nil {
			return nil, fmt.Errorf("parse locked fields: %w", err)
		}
	}
	if enrichedRaw.Valid {
		if enriched, err := storage.ParseTime(enrichedRaw.String); err == nil {
			e.EnrichedAt = &enriched
		}
	}
	if created, err := storage.ParseTime(createdRaw); err == nil {
		e.CreatedAt = created
	}
	if updated, err := storage.ParseTime(updatedRaw); err == nil {
		e.UpdatedAt = updated
	}
	return &e, nil
}
