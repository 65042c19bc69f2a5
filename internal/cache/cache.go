package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/services"
)

// Artifact describes one cached extraction result. Artifacts are immutable
// once stored; they leave the cache only through age eviction or an explicit
// delete.
type Artifact struct {
	ContentKey      string
	Locator         string
	Title           string
	DurationSeconds int
	ThumbnailURL    string
	Uploader        string
	CreatedAt       time.Time
}

// Cache stores extracted audio files on disk with a SQLite index keyed by
// content identity. Readers obtained through Open hold a per-locator
// reference that blocks eviction until released.
type Cache struct {
	db     *sql.DB
	dir    string
	logger *slog.Logger

	mu sync.Mutex
	// refs counts live readers per locator; orphans marks locators whose
	// index row is gone but whose file is pinned by a reader. The last
	// release removes the file.
	refs    map[string]int
	orphans map[string]struct{}
}

const artifactSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
    content_key TEXT PRIMARY KEY,
    locator TEXT NOT NULL UNIQUE,
    title TEXT,
    duration_seconds INTEGER NOT NULL DEFAULT 0,
    thumbnail_url TEXT,
    uploader TEXT,
    created_at TEXT NOT NULL
);
`

// New opens the artifact index and ensures the audio directory exists.
func New(cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "cache.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache index: %w", err)
	}
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(artifactSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}

	return &Cache{
		db:      db,
		dir:     cfg.Paths.AudioDir,
		logger:  logging.WithComponent(logger, "cache"),
		refs:    make(map[string]int),
		orphans: make(map[string]struct{}),
	}, nil
}

// Close closes the index database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Dir returns the directory holding cached audio files.
func (c *Cache) Dir() string {
	return c.dir
}

// Lookup returns the artifact for a content key, or nil on a miss. A hit
// whose backing file has vanished is treated as a miss and the stale row is
// dropped.
func (c *Cache) Lookup(ctx context.Context, contentKey string) (*Artifact, error) {
	artifact, err := c.lookupRow(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE content_key = ?`, contentKey)
	if err != nil || artifact == nil {
		return artifact, err
	}
	if _, statErr := os.Stat(filepath.Join(c.dir, artifact.Locator)); statErr != nil {
		c.logger.Warn("cached file missing, dropping index row",
			logging.String(logging.FieldContentKey, contentKey),
			logging.String(logging.FieldLocator, artifact.Locator))
		_, _ = c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE content_key = ?`, contentKey)
		return nil, nil
	}
	return artifact, nil
}

// NewLocator produces an opaque file name for a fresh artifact.
func NewLocator(format string) string {
	format = strings.TrimPrefix(strings.TrimSpace(format), ".")
	if format == "" {
		format = "mp3"
	}
	return uuid.NewString() + "." + format
}

// Store writes the payload under the artifact's locator and records the
// index row. The write is all-or-nothing: payload lands in a temp file that
// is renamed into place before the row is upserted. Replacing an existing
// key removes the previous file once the new row is durable.
func (c *Cache) Store(ctx context.Context, artifact Artifact, payload io.Reader) error {
	if strings.TrimSpace(artifact.ContentKey) == "" {
		return errors.New("content key cannot be empty")
	}
	if err := validateLocator(artifact.Locator); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(c.dir, ".spool-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write artifact payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	target := filepath.Join(c.dir, artifact.Locator)
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize artifact file: %w", err)
	}

	previous, err := c.lookupRow(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE content_key = ?`, artifact.ContentKey)
	if err != nil {
		return err
	}

	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = c.db.ExecContext(
		ctx,
		`INSERT INTO artifacts (content_key, locator, title, duration_seconds, thumbnail_url, uploader, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(content_key) DO UPDATE SET
             locator = excluded.locator,
             title = excluded.title,
             duration_seconds = excluded.duration_seconds,
             thumbnail_url = excluded.thumbnail_url,
             uploader = excluded.uploader,
             created_at = excluded.created_at`,
		artifact.ContentKey,
		artifact.Locator,
		artifact.Title,
		artifact.DurationSeconds,
		artifact.ThumbnailURL,
		artifact.Uploader,
		createdAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		os.Remove(target)
		return fmt.Errorf("index artifact: %w", err)
	}

	if previous != nil && previous.Locator != artifact.Locator {
		c.removeFileIfIdle(previous.Locator)
	}

	c.logger.Info("artifact stored",
		logging.String(logging.FieldContentKey, artifact.ContentKey),
		logging.String(logging.FieldLocator, artifact.Locator))
	return nil
}

// Open returns a reader over a cached file. The reader holds a reference on
// the locator until Close, which defers eviction of that file.
func (c *Cache) Open(locator string) (*File, error) {
	if err := validateLocator(locator); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.refs[locator]++
	c.mu.Unlock()

	f, err := os.Open(filepath.Join(c.dir, locator))
	if err != nil {
		c.release(locator)
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.Wrap(services.ErrNotFound, "cache", "open", "artifact "+locator, nil)
		}
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	return &File{File: f, cache: c, locator: locator}, nil
}

// Delete removes the artifact for a content key: index row first, then the
// file once no reader holds it.
func (c *Cache) Delete(ctx context.Context, contentKey string) error {
	artifact, err := c.lookupRow(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE content_key = ?`, contentKey)
	if err != nil {
		return err
	}
	if artifact == nil {
		return services.Wrap(services.ErrNotFound, "cache", "delete", "content key "+contentKey, nil)
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE content_key = ?`, contentKey); err != nil {
		return fmt.Errorf("delete index row: %w", err)
	}
	c.removeFileIfIdle(artifact.Locator)
	c.logger.Info("artifact deleted", logging.String(logging.FieldContentKey, contentKey))
	return nil
}

// List returns all artifacts, newest first.
func (c *Cache) List(ctx context.Context) ([]*Artifact, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []*Artifact
	for rows.Next() {
		artifact, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, artifact)
	}
	return artifacts, rows.Err()
}

// Count returns the number of indexed artifacts.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM artifacts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count artifacts: %w", err)
	}
	return count, nil
}

// EvictOlderThan removes artifacts created before the cutoff age. Locators
// with live readers are skipped and retried on the next sweep. Returns the
// number of artifacts evicted.
func (c *Cache) EvictOlderThan(ctx context.Context, age time.Duration) (int, error) {
	cutoff := time.Now().Add(-age).UTC().Format(time.RFC3339Nano)
	rows, err := c.db.QueryContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("query expired artifacts: %w", err)
	}
	var expired []*Artifact
	for rows.Next() {
		artifact, scanErr := scanArtifact(rows)
		if scanErr != nil {
			rows.Close()
			return 0, scanErr
		}
		expired = append(expired, artifact)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	evicted := 0
	for _, artifact := range expired {
		if c.inUse(artifact.Locator) {
			c.logger.Debug("eviction deferred, artifact in use",
				logging.String(logging.FieldLocator, artifact.Locator))
			continue
		}
		if _, err := c.db.ExecContext(ctx, `DELETE FROM artifacts WHERE content_key = ?`, artifact.ContentKey); err != nil {
			return evicted, fmt.Errorf("delete expired row: %w", err)
		}
		c.removeFileIfIdle(artifact.Locator)
		evicted++
	}
	if evicted > 0 {
		c.logger.Info("cache sweep evicted artifacts", slog.Int("count", evicted))
	}
	return evicted, nil
}

// File wraps an open artifact and releases its eviction reference on Close.
type File struct {
	*os.File
	cache   *Cache
	locator string

	closeOnce sync.Once
}

// Close releases the locator reference along with the file handle.
func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.File.Close()
		f.cache.release(f.locator)
	})
	return err
}

func (c *Cache) release(locator string) {
	c.mu.Lock()
	if c.refs[locator] > 1 {
		c.refs[locator]--
		c.mu.Unlock()
		return
	}
	delete(c.refs, locator)
	_, orphaned := c.orphans[locator]
	delete(c.orphans, locator)
	c.mu.Unlock()

	if orphaned {
		c.removeFile(locator)
	}
}

func (c *Cache) inUse(locator string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[locator] > 0
}

// removeFileIfIdle deletes the backing file now, or marks the locator
// orphaned so the last reader's release deletes it. Callers must have
// already removed the index row.
func (c *Cache) removeFileIfIdle(locator string) {
	c.mu.Lock()
	if c.refs[locator] > 0 {
		c.orphans[locator] = struct{}{}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.removeFile(locator)
}

func (c *Cache) removeFile(locator string) {
	if err := os.Remove(filepath.Join(c.dir, locator)); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("remove artifact file", logging.String(logging.FieldLocator, locator), logging.Error(err))
	}
}

func validateLocator(locator string) error {
	if locator == "" || locator != filepath.Base(locator) || strings.HasPrefix(locator, ".") {
		return services.Wrap(services.ErrInvalidRequest, "cache", "validate locator", fmt.Sprintf("malformed locator %q", locator), nil)
	}
	return nil
}

const artifactColumns = "content_key, locator, title, duration_seconds, thumbnail_url, uploader, created_at"

func (c *Cache) lookupRow(ctx context.Context, query string, args ...any) (*Artifact, error) {
	row := c.db.QueryRowContext(ctx, query, args...)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup artifact: %w", err)
	}
	return artifact, nil
}

func scanArtifact(scanner interface{ Scan(dest ...any) error }) (*Artifact, error) {
	var (
		artifact   Artifact
		title      sql.NullString
		thumbnail  sql.NullString
		uploader   sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(
		&artifact.ContentKey,
		&artifact.Locator,
		&title,
		&artifact.DurationSeconds,
		&thumbnail,
		&uploader,
		&createdRaw,
	); err != nil {
		return nil, err
	}
	artifact.Title = title.String
	artifact.ThumbnailURL = thumbnail.String
	artifact.Uploader = uploader.String
	if created, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		artifact.CreatedAt = created
	}
	return &artifact, nil
}
