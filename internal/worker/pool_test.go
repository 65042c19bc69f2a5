package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"spool/internal/broadcast"
	"spool/internal/cache"
	"spool/internal/config"
	"spool/internal/queue"
	"spool/internal/services/ytdlp"
	"spool/internal/testsupport"
	"spool/internal/worker"
)

type fakeEngine struct {
	extract func(ctx context.Context, sourceURL, destDir string, progress func(ytdlp.Progress)) (*ytdlp.Result, error)
}

func (f *fakeEngine) Extract(ctx context.Context, sourceURL, destDir string, progress func(ytdlp.Progress)) (*ytdlp.Result, error) {
	return f.extract(ctx, sourceURL, destDir, progress)
}

func (f *fakeEngine) Search(context.Context, string, int) ([]ytdlp.SearchResult, error) {
	return nil, nil
}

func (f *fakeEngine) Version(context.Context) (string, error) {
	return "test", nil
}

func writeAudio(t *testing.T, destDir, name string) string {
	t.Helper()
	path := filepath.Join(destDir, name)
	testsupport.WriteFile(t, path, 4096)
	return path
}

type fixture struct {
	cfg       *config.Config
	store     *queue.Store
	artifacts *cache.Cache
	hub       *broadcast.Hub
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	artifacts, err := cache.New(cfg, nil)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() {
		artifacts.Close()
	})
	return fixture{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		hub:       broadcast.NewHub(64, time.Minute, nil),
	}
}

func startPool(t *testing.T, fx fixture, engine ytdlp.Client) *worker.Pool {
	t.Helper()
	pool := worker.NewPool(fx.cfg, fx.store, engine, fx.artifacts, fx.hub, nil)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	t.Cleanup(pool.Stop)
	return pool
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", id, want)
	return nil
}

func TestPoolCompletesJobAndStoresArtifact(t *testing.T) {
	fx := newFixture(t)
	engine := &fakeEngine{
		extract: func(ctx context.Context, sourceURL, destDir string, progress func(ytdlp.Progress)) (*ytdlp.Result, error) {
			progress(ytdlp.Progress{Percent: 50, Speed: "1.2MiB/s"})
			progress(ytdlp.Progress{Percent: 100})
			return &ytdlp.Result{
				AudioPath: writeAudio(t, destDir, "out.mp3"),
				Metadata:  ytdlp.Metadata{Title: "Engine Title", DurationSeconds: 212, Uploader: "Someone"},
			}, nil
		},
	}
	pool := startPool(t, fx, engine)

	job := testsupport.NewJob(t, fx.store, "keyA", "https://youtu.be/abcdefghijk", "")
	pool.Wake()

	done := waitForStatus(t, fx.store, job.ID, queue.StatusCompleted)
	if done.ProgressPercent != 100 || done.ProgressStage != "Complete!" {
		t.Fatalf("terminal snapshot = %+v", done)
	}
	if done.Title != "Engine Title" || done.DurationSeconds != 212 {
		t.Fatalf("metadata not carried: %+v", done)
	}
	if done.Locator == "" {
		t.Fatal("expected artifact locator on completed job")
	}

	hit, err := fx.artifacts.Lookup(context.Background(), "keyA")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if hit == nil || hit.Locator != done.Locator {
		t.Fatalf("cache entry = %+v, want locator %s", hit, done.Locator)
	}
}

func TestPoolRequestedTitleWinsOverEngineTitle(t *testing.T) {
	fx := newFixture(t)
	engine := &fakeEngine{
		extract: func(ctx context.Context, sourceURL, destDir string, progress func(ytdlp.Progress)) (*ytdlp.Result, error) {
			return &ytdlp.Result{
				AudioPath: writeAudio(t, destDir, "out.mp3"),
				Metadata:  ytdlp.Metadata{Title: "Engine Title"},
			}, nil
		},
	}
	pool := startPool(t, fx, engine)

	job := testsupport.NewJob(t, fx.store, "keyB", "https://youtu.be/abcdefghijk", "My Name")
	pool.Wake()

	done := waitForStatus(t, fx.store, job.ID, queue.StatusCompleted)
	if done.Title != "My Name" {
		t.Fatalf("title = %q, want requested title", done.Title)
	}
}

func TestPoolRecordsEngineFailure(t *testing.T) {
	fx := newFixture(t)
	engine := &fakeEngine{
		extract: func(ctx context.Context, sourceURL, destDir string, progress func(ytdlp.Progress)) (*ytdlp.Result, error) {
			return nil, errors.New("HTTP Error 403: Forbidden")
		},
	}
	pool := startPool(t, fx, engine)

	job := testsupport.NewJob(t, fx.store, "keyC", "https://youtu.be/abcdefghijk", "")
	pool.Wake()

	failed := waitForStatus(t, fx.store, job.ID, queue.StatusFailed)
	if failed.ErrorMessage != "HTTP Error 403: Forbidden" {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	fx := newFixture(t)
	engine := &fakeEngine{
		extract: func(ctx context.Context, sourceURL, destDir string, progress func(ytdlp.Progress)) (*ytdlp.Result, error) {
			panic("engine exploded")
		},
	}
	pool := startPool(t, fx, engine)

	job := testsupport.NewJob(t, fx.store, "keyD", "https://youtu.be/abcdefghijk", "")
	pool.Wake()

	failed := waitForStatus(t, fx.store, job.ID, queue.StatusFailed)
	if failed.ErrorMessage != "internal error: engine exploded" {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}

	// The slot survived the panic: a fresh job still gets processed.
	engine.extract = func(ctx context.Context, sourceURL, destDir string, progress func(ytdlp.Progress)) (*ytdlp.Result, error) {
		return &ytdlp.Result{AudioPath: writeAudio(t, destDir, "out.mp3")}, nil
	}
	next := testsupport.NewJob(t, fx.store, "keyE", "https://youtu.be/lmnopqrstuv", "")
	pool.Wake()
	waitForStatus(t, fx.store, next.ID, queue.StatusCompleted)
}

func TestPoolNeverExceedsConfiguredConcurrency(t *testing.T) {
	const limit = 2
	fx := newFixture(t, testsupport.WithMaxConcurrent(limit))

	var inFlight, peak atomic.Int32
	release := make(chan struct{})
	engine := &fakeEngine{
		extract: func(ctx context.Context, sourceURL, destDir string, progress func(ytdlp.Progress)) (*ytdlp.Result, error) {
			current := inFlight.Add(1)
			defer inFlight.Add(-1)
			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}
			select {
			case <-release:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &ytdlp.Result{AudioPath: writeAudio(t, destDir, "out.mp3")}, nil
		},
	}
	pool := startPool(t, fx, engine)

	jobs := make([]*queue.Job, 0, 5)
	for _, key := range []string{"a", "b", "c", "d", "e"} {
		jobs = append(jobs, testsupport.NewJob(t, fx.store, key, "https://youtu.be/aaaaaaaaaa"+key, ""))
		pool.Wake()
	}

	// Let the pool claim as much as it will, then assert the bound.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && inFlight.Load() < limit {
		time.Sleep(10 * time.Millisecond)
	}
	if got := inFlight.Load(); got != limit {
		t.Fatalf("in flight = %d, want %d", got, limit)
	}

	health, err := fx.store.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Running > limit {
		t.Fatalf("running = %d, exceeds limit %d", health.Running, limit)
	}
	if health.Queued != len(jobs)-limit {
		t.Fatalf("queued = %d, want %d", health.Queued, len(jobs)-limit)
	}

	close(release)
	for _, job := range jobs {
		waitForStatus(t, fx.store, job.ID, queue.StatusCompleted)
	}
	if got := peak.Load(); got > limit {
		t.Fatalf("peak concurrency = %d, exceeds %d", got, limit)
	}
}

func TestPoolPublishesTerminalEventToSubscribers(t *testing.T) {
	fx := newFixture(t)
	engine := &fakeEngine{
		extract: func(ctx context.Context, sourceURL, destDir string, progress func(ytdlp.Progress)) (*ytdlp.Result, error) {
			progress(ytdlp.Progress{Percent: 40})
			return &ytdlp.Result{AudioPath: writeAudio(t, destDir, "out.mp3")}, nil
		},
	}

	job := testsupport.NewJob(t, fx.store, "keyF", "https://youtu.be/abcdefghijk", "")
	sub := fx.hub.Subscribe(job.ID)
	defer sub.Close()

	pool := startPool(t, fx, engine)
	pool.Wake()

	var last broadcast.Event
	var sawTerminal bool
	timeout := time.After(5 * time.Second)
	for !sawTerminal {
		select {
		case event, ok := <-sub.Events():
			if !ok {
				if !sawTerminal {
					t.Fatal("stream closed before terminal frame")
				}
				break
			}
			if event.Type != broadcast.EventProgress {
				continue
			}
			if last.Job != nil && event.Job.ProgressPercent < last.Job.ProgressPercent {
				t.Fatalf("progress regressed: %v after %v", event.Job.ProgressPercent, last.Job.ProgressPercent)
			}
			last = event
			sawTerminal = event.Terminal()
		case <-timeout:
			t.Fatal("no terminal frame observed")
		}
	}
	if last.Job.Status != queue.StatusCompleted {
		t.Fatalf("terminal status = %s", last.Job.Status)
	}
}
