package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// MarkRunning transitions a queued job to running. Only valid from queued.
func (s *Store) MarkRunning(ctx context.Context, id string) (*Job, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress_stage = 'Starting extraction...', progress_percent = MAX(progress_percent, 1), updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusRunning,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("mark running: %w", err)
	}
	return s.guardResult(ctx, res, id, "mark running")
}

// SetProgress records an incremental update for a running job. Progress never
// regresses: a lower percent keeps the stored value while updating the stage
// text. Terminal jobs reject the mutation.
func (s *Store) SetProgress(ctx context.Context, id string, percent float64, stage string) (*Job, error) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET progress_percent = MAX(progress_percent, ?), progress_stage = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		percent,
		nullableString(stage),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("set progress: %w", err)
	}
	return s.guardResult(ctx, res, id, "set progress")
}

// Complete transitions a running job to completed and records the artifact
// result. Only valid from running.
func (s *Store) Complete(ctx context.Context, id string, result Result) (*Job, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress_percent = 100, progress_stage = 'Complete!',
             error_message = NULL, locator = ?, title = COALESCE(?, title),
             duration_seconds = ?, thumbnail_url = ?, uploader = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted,
		nullableString(result.Locator),
		nullableString(result.Title),
		result.DurationSeconds,
		nullableString(result.ThumbnailURL),
		nullableString(result.Uploader),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("complete job: %w", err)
	}
	return s.guardResult(ctx, res, id, "complete")
}

// Fail transitions a job to failed with a descriptive message. Valid from
// queued (shutdown, preflight faults) and running.
func (s *Store) Fail(ctx context.Context, id, message string) (*Job, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress_stage = 'Failed', error_message = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		StatusFailed,
		strings.TrimSpace(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusQueued,
		StatusRunning,
	)
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	return s.guardResult(ctx, res, id, "fail")
}

// ResetStuckRunning returns jobs left running by a previous process back to
// queued. Called once at daemon startup before workers start.
func (s *Store) ResetStuckRunning(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET status = ?, progress_percent = 0, progress_stage = 'Requeued after restart', updated_at = ?
         WHERE status = ?`,
		StatusQueued,
		time.Now().UTC().Format(time.RFC3339Nano),
		StatusRunning,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck running: %w", err)
	}
	return res.RowsAffected()
}

// DeleteTerminalOlderThan removes completed and failed records whose last
// update precedes the cutoff.
func (s *Store) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE status IN (?, ?) AND updated_at < ?`,
		StatusCompleted,
		StatusFailed,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("delete aged terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Store) execWithoutResultRetry(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
