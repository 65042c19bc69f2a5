package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"spool/internal/broadcast"
	"spool/internal/cache"
	"spool/internal/config"
	"spool/internal/identity"
	"spool/internal/logging"
	"spool/internal/queue"
	"spool/internal/services"
	"spool/internal/services/ytdlp"
)

// Waker nudges the worker pool after a job submission.
type Waker interface {
	Wake()
}

// Orchestrator owns job creation and lookup: content identity, cache
// short-circuit, dedup against in-flight jobs, and subscription attachment.
type Orchestrator struct {
	cfg       *config.Config
	store     *queue.Store
	artifacts *cache.Cache
	hub       *broadcast.Hub
	engine    ytdlp.Client
	waker     Waker
	logger    *slog.Logger

	// Serializes create requests so concurrent submissions of the same
	// source on a cold cache deterministically yield one job.
	createMu sync.Mutex

	versionOnce sync.Once
	version     string
}

// New constructs an orchestrator over the daemon's shared components.
func New(
	cfg *config.Config,
	store *queue.Store,
	artifacts *cache.Cache,
	hub *broadcast.Hub,
	engine ytdlp.Client,
	waker Waker,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		artifacts: artifacts,
		hub:       hub,
		engine:    engine,
		waker:     waker,
		logger:    logging.WithComponent(logger, "orchestrator"),
	}
}

// CreateJob resolves a source URL to a job. A cached artifact yields a
// synthesized completed record without queueing; an in-flight job for the
// same content is returned as-is (first writer wins, the second request
// attaches). Otherwise a fresh queued job is created and the pool woken.
// created reports whether new extraction work was scheduled.
func (o *Orchestrator) CreateJob(ctx context.Context, rawURL, title string) (job *queue.Job, created bool, err error) {
	key, err := identity.FromURL(rawURL)
	if err != nil {
		return nil, false, services.Wrap(services.ErrInvalidRequest, "orchestrator", "create job", "parse source url", err)
	}
	title = identity.NormalizeTitle(title, "")

	o.createMu.Lock()
	defer o.createMu.Unlock()

	if artifact, lookErr := o.artifacts.Lookup(ctx, string(key)); lookErr != nil {
		return nil, false, lookErr
	} else if artifact != nil {
		job, err := o.store.CreateCompleted(ctx, string(key), rawURL, queue.Result{
			Locator:         artifact.Locator,
			Title:           firstNonEmpty(title, artifact.Title),
			DurationSeconds: artifact.DurationSeconds,
			ThumbnailURL:    artifact.ThumbnailURL,
			Uploader:        artifact.Uploader,
		})
		if err != nil {
			return nil, false, err
		}
		o.logger.Info("request satisfied from cache",
			logging.String(logging.FieldContentKey, string(key)),
			logging.JobID(job.ID))
		return job, false, nil
	}

	if existing, findErr := o.store.FindActiveByContentKey(ctx, string(key)); findErr != nil {
		return nil, false, findErr
	} else if existing != nil {
		o.logger.Info("attached to in-flight job",
			logging.String(logging.FieldContentKey, string(key)),
			logging.JobID(existing.ID))
		return existing, false, nil
	}

	job, err = o.store.Create(ctx, string(key), rawURL, title)
	if err != nil {
		return nil, false, err
	}
	if o.waker != nil {
		o.waker.Wake()
	}
	o.logger.Info("job queued",
		logging.String(logging.FieldContentKey, string(key)),
		logging.JobID(job.ID))
	return job, true, nil
}

// GetJob fetches a job by ID.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	job, err := o.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "orchestrator", "get job", "job "+id, nil)
	}
	return job, nil
}

// ListJobs returns jobs filtered by status, oldest first.
func (o *Orchestrator) ListJobs(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	return o.store.List(ctx, statuses...)
}

// Events attaches a subscription to a job's stream and returns the current
// record to seed the first frame. Subscribing happens before the snapshot
// read, so a transition between the two is observed either in the snapshot
// or on the stream, never lost. For an already-terminal job the returned
// subscription is closed: the snapshot is the terminal frame.
func (o *Orchestrator) Events(ctx context.Context, id string) (*queue.Job, *broadcast.Subscription, error) {
	sub := o.hub.Subscribe(id)
	job, err := o.GetJob(ctx, id)
	if err != nil {
		sub.Close()
		return nil, nil, err
	}
	if job.Terminal() {
		sub.Close()
	}
	return job, sub, nil
}

// OpenArtifact opens a cached audio file for streaming.
func (o *Orchestrator) OpenArtifact(locator string) (*cache.File, error) {
	return o.artifacts.Open(locator)
}

// CacheEntries lists cached artifacts, newest first.
func (o *Orchestrator) CacheEntries(ctx context.Context) ([]*cache.Artifact, error) {
	return o.artifacts.List(ctx)
}

// DeleteCacheEntry evicts one artifact by content key.
func (o *Orchestrator) DeleteCacheEntry(ctx context.Context, contentKey string) error {
	return o.artifacts.Delete(ctx, contentKey)
}

// Search runs a metadata-only catalog search through the engine.
func (o *Orchestrator) Search(ctx context.Context, query string, limit int) ([]ytdlp.SearchResult, error) {
	if query == "" {
		return nil, services.Wrap(services.ErrInvalidRequest, "orchestrator", "search", "empty query", nil)
	}
	timeout := time.Duration(o.cfg.Extraction.SearchTimeout) * time.Second
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	results, err := o.engine.Search(ctx, query, limit)
	if err != nil {
		return nil, services.Wrap(services.ErrEngineFailure, "orchestrator", "search", "catalog search", err)
	}
	return results, nil
}

// Health summarizes daemon state for diagnostics.
type Health struct {
	Jobs          queue.HealthSummary
	CachedCount   int
	EngineVersion string
}

// Health aggregates job counts, cache size, and the engine version. The
// version probe runs once and is memoized.
func (o *Orchestrator) Health(ctx context.Context) (Health, error) {
	jobs, err := o.store.Health(ctx)
	if err != nil {
		return Health{}, err
	}
	cached, err := o.artifacts.Count(ctx)
	if err != nil {
		return Health{}, err
	}
	return Health{Jobs: jobs, CachedCount: cached, EngineVersion: o.engineVersion(ctx)}, nil
}

func (o *Orchestrator) engineVersion(ctx context.Context) string {
	o.versionOnce.Do(func() {
		probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		version, err := o.engine.Version(probeCtx)
		if err != nil {
			o.logger.Warn("engine version probe failed", logging.Error(err))
			return
		}
		o.version = version
	})
	return o.version
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
