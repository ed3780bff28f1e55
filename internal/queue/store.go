package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"curator/internal/storage"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnqueueOptions tunes job insertion.
type EnqueueOptions struct {
	Priority    int
	MaxAttempts int
}

// Enqueue inserts a new pending job and returns it.
func (s *Store) Enqueue(ctx context.Context, kind Kind, payload []byte, opts EnqueueOptions) (*Job, error) {
	if kind == "" {
		return nil, errors.New("job kind is required")
	}
	priority := opts.Priority
	if priority < PriorityHighest || priority > PriorityLowest {
		priority = PriorityDefault
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	now := storage.FormatTime(time.Now())
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (kind, priority, payload, status, attempts, max_attempts, created_at)
         VALUES (?, ?, ?, ?, 0, ?, ?)`,
		string(kind),
		priority,
		storage.NullableString(string(payload)),
		StatusPending,
		maxAttempts,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when not found.
func (s *Store) GetByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNext atomically claims the highest-priority claimable job, moving it to
// processing and incrementing its attempt counter. Returns nil when the queue
// is empty. The single-statement UPDATE guarantees a job is never claimed by
// two workers.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	now := storage.FormatTime(time.Now())
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs
         SET status = ?, started_at = ?, attempts = attempts + 1
         WHERE id = (
             SELECT id FROM jobs
             WHERE status IN (?, ?)
             ORDER BY priority ASC, created_at ASC, id ASC
             LIMIT 1
         )
         RETURNING `+jobColumns,
		StatusProcessing,
		now,
		StatusPending,
		StatusRetrying,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// MarkCompleted finalizes a job and archives it into job_history.
func (s *Store) MarkCompleted(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now()
	job.Status = StatusCompleted
	job.CompletedAt = &now
	job.Error = ""
	return s.archive(ctx, job)
}

// MarkFailed records a handler failure. Jobs with retries left return to the
// claimable set as retrying; exhausted or non-retryable jobs are archived as
// failed with their last error retained.
func (s *Store) MarkFailed(ctx context.Context, job *Job, jobErr error, retryable bool) error {
	if job == nil {
		return errors.New("job is nil")
	}
	message := "job failed"
	if jobErr != nil {
		message = jobErr.Error()
	}
	job.Error = message

	if retryable && job.RetriesLeft() {
		job.Status = StatusRetrying
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, error_message = ?, started_at = NULL WHERE id = ?`,
			StatusRetrying,
			message,
			job.ID,
		)
		if err != nil {
			return fmt.Errorf("requeue job: %w", err)
		}
		return nil
	}

	now := time.Now()
	job.Status = StatusFailed
	job.CompletedAt = &now
	return s.archive(ctx, job)
}

func (s *Store) archive(ctx context.Context, job *Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin archive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT INTO job_history (id, kind, priority, payload, status, attempts, error_message, created_at, started_at, completed_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		string(job.Kind),
		job.Priority,
		storage.NullableString(string(job.Payload)),
		job.Status,
		job.Attempts,
		storage.NullableString(job.Error),
		storage.FormatTime(job.CreatedAt),
		storage.NullableTime(job.StartedAt),
		storage.NullableTime(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("archive job: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
		return fmt.Errorf("remove archived job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit archive: %w", err)
	}
	return nil
}

// ResetStuckProcessing reverts jobs left in processing by an unclean shutdown
// back to pending so they are retried. Returns the number of jobs recovered.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, started_at = NULL WHERE status = ?`,
		StatusPending,
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// List returns active jobs filtered by status set (or all when none given),
// in claim order.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY priority ASC, created_at ASC, id ASC`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// History returns archived jobs, most recently completed first.
func (s *Store) History(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, kind, priority, payload, status, attempts, error_message, created_at, started_at, completed_at
         FROM job_history ORDER BY completed_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("job history: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanHistoryJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns job counts grouped by status across the active queue and history.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{}
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.Total += count
		switch status {
		case StatusPending:
			stats.Pending += count
		case StatusProcessing:
			stats.Processing += count
		case StatusRetrying:
			stats.Retrying += count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	histRows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM job_history GROUP BY status`)
	if err != nil {
		return stats, fmt.Errorf("history stats: %w", err)
	}
	defer histRows.Close()
	for histRows.Next() {
		var status Status
		var count int
		if err := histRows.Scan(&status, &count); err != nil {
			return stats, err
		}
		stats.Total += count
		switch status {
		case StatusCompleted:
			stats.Completed += count
		case StatusFailed:
			stats.Failed += count
		}
	}
	return stats, histRows.Err()
}

// RetryFailed moves archived failed jobs back into the active queue.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	query := `SELECT id, kind, priority, payload, status, attempts, error_message, created_at, started_at, completed_at
              FROM job_history WHERE status = ?`
	args := []any{StatusFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("select failed jobs: %w", err)
	}
	defer rows.Close()

	var failed []*Job
	for rows.Next() {
		job, err := scanHistoryJob(rows)
		if err != nil {
			return 0, err
		}
		failed = append(failed, job)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var requeued int64
	for _, job := range failed {
		_, err := s.db.ExecContext(
			ctx,
			`INSERT INTO jobs (kind, priority, payload, status, attempts, max_attempts, created_at)
             VALUES (?, ?, ?, ?, 0, ?, ?)`,
			string(job.Kind),
			job.Priority,
			storage.NullableString(string(job.Payload)),
			StatusPending,
			max(job.Attempts, 3),
			storage.FormatTime(time.Now()),
		)
		if err != nil {
			return requeued, fmt.Errorf("requeue failed job %d: %w", job.ID, err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM job_history WHERE id = ?`, job.ID); err != nil {
			return requeued, fmt.Errorf("clear retried history row %d: %w", job.ID, err)
		}
		requeued++
	}
	return requeued, nil
}

// ClearHistory removes archived jobs matching the given status (or all when empty).
func (s *Store) ClearHistory(ctx context.Context, status Status) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if status == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM job_history`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM job_history WHERE status = ?`, status)
	}
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

const jobColumns = "id, kind, priority, payload, status, attempts, max_attempts, error_message, created_at, started_at, completed_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id          int64
		kind        string
		priority    int
		payload     sql.NullString
		statusStr   string
		attempts    int
		maxAttempts int
		errMessage  sql.NullString
		createdRaw  string
		startedRaw  sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&id, &kind, &priority, &payload, &statusStr, &attempts, &maxAttempts,
		&errMessage, &createdRaw, &startedRaw, &completedRaw,
	); err != nil {
		return nil, err
	}
	return buildJob(id, kind, priority, payload, statusStr, attempts, maxAttempts, errMessage, createdRaw, startedRaw, completedRaw), nil
}

func scanHistoryJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		kind         string
		priority     int
		payload      sql.NullString
		statusStr    string
		attempts     int
		errMessage   sql.NullString
		createdRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&id, &kind, &priority, &payload, &statusStr, &attempts,
		&errMessage, &createdRaw, &startedRaw, &completedRaw,
	); err != nil {
		return nil, err
	}
	return buildJob(id, kind, priority, payload, statusStr, attempts, 0, errMessage, createdRaw, startedRaw, completedRaw), nil
}

func buildJob(id int64, kind string, priority int, payload sql.NullString, statusStr string, attempts, maxAttempts int, errMessage sql.NullString, createdRaw string, startedRaw, completedRaw sql.NullString) *Job {
	job := &Job{
		ID:          id,
		Kind:        Kind(kind),
		Priority:    priority,
		Status:      Status(statusStr),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		Error:       errMessage.String,
	}
	if payload.Valid {
		job.Payload = []byte(payload.String)
	}
	if created, err := storage.ParseTime(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if startedRaw.Valid {
		if started, err := storage.ParseTime(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := storage.ParseTime(completedRaw.String); err == nil {
			job.CompletedAt = &completed
		}
	}
	return job
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
