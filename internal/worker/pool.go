package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"spool/internal/broadcast"
	"spool/internal/cache"
	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/services/ytdlp"
)

// Pool drives queued jobs through the extraction engine with bounded
// concurrency. Workers claim jobs oldest-first; a wake signal on submit
// avoids waiting out the poll interval.
type Pool struct {
	cfg       *config.Config
	store     *queue.Store
	engine    ytdlp.Client
	artifacts *cache.Cache
	hub       *broadcast.Hub
	logger    *slog.Logger

	pollInterval time.Duration
	jobTimeout   time.Duration
	wake         chan struct{}

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool constructs a worker pool. Size comes from cfg.Jobs.MaxConcurrent.
func NewPool(
	cfg *config.Config,
	store *queue.Store,
	engine ytdlp.Client,
	artifacts *cache.Cache,
	hub *broadcast.Hub,
	logger *slog.Logger,
) *Pool {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Pool{
		cfg:          cfg,
		store:        store,
		engine:       engine,
		artifacts:    artifacts,
		hub:          hub,
		logger:       logging.WithComponent(logger, "worker"),
		pollInterval: time.Duration(cfg.Jobs.QueuePollInterval) * time.Second,
		jobTimeout:   time.Duration(cfg.Extraction.TimeoutSeconds) * time.Second,
		wake:         make(chan struct{}, 1),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}

	size := p.cfg.Jobs.MaxConcurrent
	if size <= 0 {
		size = 1
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.run(runCtx, i)
	}
	p.logger.Info("worker pool started", slog.Int("workers", size))
	return nil
}

// Stop terminates the workers and waits for in-flight jobs to release their
// slots. Jobs interrupted mid-extraction stay running in the store and are
// requeued on the next daemon start.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel := p.cancel
	p.running = false
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
}

// Wake nudges an idle worker after a job submission. Non-blocking.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(slog.Int("worker", id))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.NextQueued(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("failed to fetch next queued job", logging.Error(err))
			p.waitForWork(ctx)
			continue
		}
		if job == nil {
			p.waitForWork(ctx)
			continue
		}

		claimed, err := p.store.MarkRunning(ctx, job.ID)
		if err != nil {
			// Another worker claimed it first.
			continue
		}
		p.hub.Publish(claimed)
		p.processJob(ctx, logger, claimed)
	}
}

func (p *Pool) waitForWork(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-p.wake:
	case <-time.After(p.pollInterval):
	}
}

// processJob runs one job to a terminal state. Panics from the engine
// boundary are converted to a failed record so the slot is always released.
func (p *Pool) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	logger = logger.With(logging.JobID(job.ID), logging.String(logging.FieldContentKey, job.ContentKey))

	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic", logging.Any("panic", r))
			p.fail(logger, job.ID, fmt.Sprintf("internal error: %v", r))
		}
	}()

	jobCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	p.progress(jobCtx, job.ID, stageFetchPercent, stageFetchInfo)

	workDir, err := os.MkdirTemp("", "spool-job-*")
	if err != nil {
		p.fail(logger, job.ID, "create work dir: "+err.Error())
		return
	}
	defer os.RemoveAll(workDir)

	lastPercent := stageFetchPercent
	result, err := p.engine.Extract(jobCtx, job.SourceURL, workDir, func(update ytdlp.Progress) {
		percent, stage := downloadStage(update)
		if percent < lastPercent+1 {
			return
		}
		lastPercent = percent
		p.progress(jobCtx, job.ID, percent, stage)
	})
	if err != nil {
		if ctx.Err() != nil {
			// Shutdown: leave the row running for startup requeue.
			return
		}
		logger.Warn("extraction failed", logging.Error(err))
		p.fail(logger, job.ID, extractionMessage(err, jobCtx))
		return
	}

	p.progress(jobCtx, job.ID, stageConvertPercent, stageConverting)
	p.progress(jobCtx, job.ID, stageFinalizePercent, stageFinalizing)

	artifact := cache.Artifact{
		ContentKey:      job.ContentKey,
		Locator:         cache.NewLocator(strings.TrimPrefix(filepath.Ext(result.AudioPath), ".")),
		Title:           resolveTitle(job, result.Metadata),
		DurationSeconds: result.Metadata.DurationSeconds,
		ThumbnailURL:    result.Metadata.ThumbnailURL,
		Uploader:        result.Metadata.Uploader,
	}

	payload, err := os.Open(result.AudioPath)
	if err != nil {
		p.fail(logger, job.ID, "open extracted audio: "+err.Error())
		return
	}
	storeErr := p.artifacts.Store(jobCtx, artifact, payload)
	payload.Close()
	if storeErr != nil {
		p.fail(logger, job.ID, "store artifact: "+storeErr.Error())
		return
	}

	completed, err := p.store.Complete(ctx, job.ID, queue.Result{
		Locator:         artifact.Locator,
		Title:           artifact.Title,
		DurationSeconds: artifact.DurationSeconds,
		ThumbnailURL:    artifact.ThumbnailURL,
		Uploader:        artifact.Uploader,
	})
	if err != nil {
		logger.Error("failed to mark job complete", logging.Error(err))
		return
	}
	p.hub.Publish(completed)
	logger.Info("job completed", logging.String(logging.FieldLocator, artifact.Locator))
}

func (p *Pool) progress(ctx context.Context, id string, percent float64, stage string) {
	job, err := p.store.SetProgress(ctx, id, percent, stage)
	if err != nil {
		return
	}
	p.hub.Publish(job)
}

func (p *Pool) fail(logger *slog.Logger, id, message string) {
	// Failure recording must outlive a cancelled job context.
	failed, err := p.store.Fail(context.Background(), id, message)
	if err != nil {
		logger.Error("failed to mark job failed", logging.Error(err))
		return
	}
	p.hub.Publish(failed)
}

func resolveTitle(job *queue.Job, meta ytdlp.Metadata) string {
	if title := strings.TrimSpace(job.Title); title != "" {
		return title
	}
	if title := strings.TrimSpace(meta.Title); title != "" {
		return title
	}
	return "Audio Track"
}

func extractionMessage(err error, ctx context.Context) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "extraction timed out"
	}
	return err.Error()
}
