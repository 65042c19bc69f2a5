package queue_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/testsupport"
)

func TestCreateAndGet(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job, err := store.Create(ctx, "dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ", "Test Track")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.ID == "" {
		t.Fatal("expected generated job ID")
	}
	if job.Status != queue.StatusQueued {
		t.Fatalf("status = %s, want %s", job.Status, queue.StatusQueued)
	}
	if job.ProgressStage != "Waiting..." {
		t.Fatalf("stage = %q, want Waiting...", job.ProgressStage)
	}
	if job.ProgressPercent != 0 {
		t.Fatalf("percent = %v, want 0", job.ProgressPercent)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if fetched == nil || fetched.ContentKey != "dQw4w9WgXcQ" {
		t.Fatalf("unexpected fetched job: %+v", fetched)
	}
}

func TestGetByIDUnknownReturnsNil(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	job, err := store.GetByID(context.Background(), "no-such-job")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil job, got %+v", job)
	}
}

func TestCreateCompletedSynthesizesTerminalJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job, err := store.CreateCompleted(ctx, "abc123deadbeef00", "https://example.com/a", queue.Result{
		Locator:         "abc123deadbeef00.mp3",
		Title:           "Cached Track",
		DurationSeconds: 245,
	})
	if err != nil {
		t.Fatalf("CreateCompleted: %v", err)
	}
	if job.Status != queue.StatusCompleted {
		t.Fatalf("status = %s, want completed", job.Status)
	}
	if job.ProgressPercent != 100 {
		t.Fatalf("percent = %v, want 100", job.ProgressPercent)
	}
	if job.Locator != "abc123deadbeef00.mp3" {
		t.Fatalf("locator = %q", job.Locator)
	}
}

func TestLifecycleTransitions(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "key1", "https://youtu.be/abcdefghijk", "")

	running, err := store.MarkRunning(ctx, job.ID)
	if err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if running.Status != queue.StatusRunning {
		t.Fatalf("status = %s, want running", running.Status)
	}

	updated, err := store.SetProgress(ctx, job.ID, 42.5, "Downloading... (1.2MiB/s)")
	if err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if updated.ProgressPercent != 42.5 {
		t.Fatalf("percent = %v, want 42.5", updated.ProgressPercent)
	}
	if updated.ProgressStage != "Downloading... (1.2MiB/s)" {
		t.Fatalf("stage = %q", updated.ProgressStage)
	}

	done, err := store.Complete(ctx, job.ID, queue.Result{Locator: "key1.mp3", Title: "Final Title"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != queue.StatusCompleted || done.ProgressPercent != 100 {
		t.Fatalf("unexpected terminal state: %+v", done)
	}
	if done.ProgressStage != "Complete!" {
		t.Fatalf("stage = %q, want Complete!", done.ProgressStage)
	}
	if done.Title != "Final Title" {
		t.Fatalf("title = %q", done.Title)
	}
}

func TestProgressNeverRegresses(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "key2", "https://youtu.be/abcdefghijk", "")
	if _, err := store.MarkRunning(ctx, job.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if _, err := store.SetProgress(ctx, job.ID, 60, "Downloading..."); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}

	// A stale lower update keeps the stored percent but refreshes the stage.
	updated, err := store.SetProgress(ctx, job.ID, 30, "Converting to MP3...")
	if err != nil {
		t.Fatalf("SetProgress regress: %v", err)
	}
	if updated.ProgressPercent != 60 {
		t.Fatalf("percent = %v, want clamped 60", updated.ProgressPercent)
	}
	if updated.ProgressStage != "Converting to MP3..." {
		t.Fatalf("stage = %q", updated.ProgressStage)
	}
}

func TestTerminalJobsRejectMutation(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "key3", "https://youtu.be/abcdefghijk", "")
	if _, err := store.MarkRunning(ctx, job.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if _, err := store.Fail(ctx, job.ID, "network unreachable"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	if _, err := store.SetProgress(ctx, job.ID, 50, "Downloading..."); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("SetProgress on failed job: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := store.Complete(ctx, job.ID, queue.Result{}); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("Complete on failed job: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := store.MarkRunning(ctx, job.ID); !errors.Is(err, services.ErrInvalidTransition) {
		t.Fatalf("MarkRunning on failed job: err = %v, want ErrInvalidTransition", err)
	}

	failed, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if failed.ErrorMessage != "network unreachable" {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}
}

func TestTransitionOnUnknownJob(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))

	_, err := store.MarkRunning(context.Background(), "missing")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestFindActiveByContentKey(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "shared", "https://youtu.be/abcdefghijk", "")
	testsupport.NewJob(t, store, "other", "https://youtu.be/lmnopqrstuv", "")

	active, err := store.FindActiveByContentKey(ctx, "shared")
	if err != nil {
		t.Fatalf("FindActiveByContentKey: %v", err)
	}
	if active == nil || active.ID != first.ID {
		t.Fatalf("active = %+v, want job %s", active, first.ID)
	}

	if _, err := store.MarkRunning(ctx, first.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if _, err := store.Complete(ctx, first.ID, queue.Result{Locator: "shared.mp3"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	active, err = store.FindActiveByContentKey(ctx, "shared")
	if err != nil {
		t.Fatalf("FindActiveByContentKey after complete: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active job, got %+v", active)
	}
}

func TestNextQueuedReturnsOldestFirst(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := testsupport.NewJob(t, store, "a", "https://youtu.be/aaaaaaaaaaa", "")
	time.Sleep(2 * time.Millisecond)
	testsupport.NewJob(t, store, "b", "https://youtu.be/bbbbbbbbbbb", "")

	next, err := store.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued: %v", err)
	}
	if next == nil || next.ID != first.ID {
		t.Fatalf("next = %+v, want %s", next, first.ID)
	}

	if _, err := store.MarkRunning(ctx, first.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	next, err = store.NextQueued(ctx)
	if err != nil {
		t.Fatalf("NextQueued second: %v", err)
	}
	if next == nil || next.ContentKey != "b" {
		t.Fatalf("next = %+v, want content key b", next)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	q := testsupport.NewJob(t, store, "a", "https://youtu.be/aaaaaaaaaaa", "")
	r := testsupport.NewJob(t, store, "b", "https://youtu.be/bbbbbbbbbbb", "")
	if _, err := store.MarkRunning(ctx, r.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	queued, err := store.List(ctx, queue.StatusQueued)
	if err != nil {
		t.Fatalf("List queued: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != q.ID {
		t.Fatalf("queued = %+v", queued)
	}

	active, err := store.List(ctx, queue.StatusQueued, queue.StatusRunning)
	if err != nil {
		t.Fatalf("List active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("len(active) = %d, want 2", len(active))
	}
}

func TestResetStuckRunning(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	job := testsupport.NewJob(t, store, "a", "https://youtu.be/aaaaaaaaaaa", "")
	if _, err := store.MarkRunning(ctx, job.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	reset, err := store.ResetStuckRunning(ctx)
	if err != nil {
		t.Fatalf("ResetStuckRunning: %v", err)
	}
	if reset != 1 {
		t.Fatalf("reset = %d, want 1", reset)
	}

	requeued, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if requeued.Status != queue.StatusQueued {
		t.Fatalf("status = %s, want queued", requeued.Status)
	}
	if !strings.Contains(requeued.ProgressStage, "Requeued") {
		t.Fatalf("stage = %q", requeued.ProgressStage)
	}
}

func TestDeleteTerminalOlderThan(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	old := testsupport.NewJob(t, store, "a", "https://youtu.be/aaaaaaaaaaa", "")
	if _, err := store.MarkRunning(ctx, old.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if _, err := store.Complete(ctx, old.ID, queue.Result{Locator: "a.mp3"}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	live := testsupport.NewJob(t, store, "b", "https://youtu.be/bbbbbbbbbbb", "")

	removed, err := store.DeleteTerminalOlderThan(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("DeleteTerminalOlderThan: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(remaining) != 1 || remaining[0].ID != live.ID {
		t.Fatalf("remaining = %+v", remaining)
	}
}

func TestHealthAggregatesCounts(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	testsupport.NewJob(t, store, "a", "https://youtu.be/aaaaaaaaaaa", "")
	running := testsupport.NewJob(t, store, "b", "https://youtu.be/bbbbbbbbbbb", "")
	if _, err := store.MarkRunning(ctx, running.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	failed := testsupport.NewJob(t, store, "c", "https://youtu.be/ccccccccccc", "")
	if _, err := store.Fail(ctx, failed.ID, "boom"); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	want := queue.HealthSummary{Total: 3, Queued: 1, Running: 1, Failed: 1}
	if health != want {
		t.Fatalf("health = %+v, want %+v", health, want)
	}
	if health.Active() != 2 {
		t.Fatalf("active = %d, want 2", health.Active())
	}
}
