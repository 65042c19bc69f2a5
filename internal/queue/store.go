package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"spool/internal/config"
	"spool/internal/services"
)

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    content_key TEXT NOT NULL,
    source_url TEXT NOT NULL,
    title TEXT,
    status TEXT NOT NULL,
    progress_percent REAL NOT NULL DEFAULT 0,
    progress_stage TEXT,
    error_message TEXT,
    locator TEXT,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    thumbnail_url TEXT,
    uploader TEXT,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_content_key ON jobs(content_key);
`

// Open initializes or connects to the job database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "jobs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new queued job for a content key.
func (s *Store) Create(ctx context.Context, contentKey, sourceURL, title string) (*Job, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO jobs (
            id, content_key, source_url, title, status,
            progress_percent, progress_stage, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		contentKey,
		sourceURL,
		nullableString(title),
		StatusQueued,
		0.0,
		"Waiting...",
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// CreateCompleted inserts a job that is already terminal, synthesized when a
// cached artifact satisfies the request without queueing.
func (s *Store) CreateCompleted(ctx context.Context, contentKey, sourceURL string, result Result) (*Job, error) {
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)
	id := uuid.NewString()

	err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO jobs (
            id, content_key, source_url, title, status,
            progress_percent, progress_stage, locator,
            duration_seconds, thumbnail_url, uploader, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		contentKey,
		sourceURL,
		nullableString(result.Title),
		StatusCompleted,
		100.0,
		"Loaded from cache",
		nullableString(result.Locator),
		result.DurationSeconds,
		nullableString(result.ThumbnailURL),
		nullableString(result.Uploader),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert completed job: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a job by identifier. Returns nil when unknown.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
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

// FindActiveByContentKey returns the oldest non-terminal job targeting a
// content key, or nil when none is in flight.
func (s *Store) FindActiveByContentKey(ctx context.Context, contentKey string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE content_key = ? AND status IN (?, ?)
         ORDER BY created_at LIMIT 1`,
		contentKey,
		StatusQueued,
		StatusRunning,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find active by content key: %w", err)
	}
	return job, nil
}

// NextQueued returns the oldest queued job, or nil when the queue is drained.
func (s *Store) NextQueued(ctx context.Context) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = ? ORDER BY created_at LIMIT 1`,
		StatusQueued,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at`

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

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusRunning:
			health.Running += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		}
	}
	return health, nil
}

const jobColumns = "id, content_key, source_url, title, status, progress_percent, progress_stage, error_message, locator, duration_seconds, thumbnail_url, uploader, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id              string
		contentKey      string
		sourceURL       string
		title           sql.NullString
		statusStr       string
		progressPercent sql.NullFloat64
		progressStage   sql.NullString
		errorMessage    sql.NullString
		locator         sql.NullString
		durationSeconds sql.NullInt64
		thumbnailURL    sql.NullString
		uploader        sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&contentKey,
		&sourceURL,
		&title,
		&statusStr,
		&progressPercent,
		&progressStage,
		&errorMessage,
		&locator,
		&durationSeconds,
		&thumbnailURL,
		&uploader,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:              id,
		ContentKey:      contentKey,
		SourceURL:       sourceURL,
		Title:           title.String,
		Status:          Status(statusStr),
		ProgressPercent: progressPercent.Float64,
		ProgressStage:   progressStage.String,
		ErrorMessage:    errorMessage.String,
		Locator:         locator.String,
		DurationSeconds: int(durationSeconds.Int64),
		ThumbnailURL:    thumbnailURL.String,
		Uploader:        uploader.String,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

// guardResult maps a zero-row guarded UPDATE to the right error: the job is
// either unknown or in a state that forbids the transition.
func (s *Store) guardResult(ctx context.Context, res sql.Result, id, transition string) (*Job, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return s.GetByID(ctx, id)
	}

	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, services.Wrap(services.ErrNotFound, "queue", transition, "job "+id, nil)
	}
	return nil, services.Wrap(
		services.ErrInvalidTransition,
		"queue",
		transition,
		fmt.Sprintf("job %s is %s", id, existing.Status),
		nil,
	)
}

func nullableString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
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
