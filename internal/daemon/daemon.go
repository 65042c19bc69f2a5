package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"spool/internal/broadcast"
	"spool/internal/cache"
	"spool/internal/config"
	"spool/internal/logging"
	"spool/internal/orchestrator"
	"spool/internal/queue"
	"spool/internal/worker"
)

// Daemon coordinates the background services and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *queue.Store
	artifacts *cache.Cache
	hub       *broadcast.Hub
	pool      *worker.Pool
	orc       *orchestrator.Orchestrator
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon with initialized dependencies.
func New(
	cfg *config.Config,
	store *queue.Store,
	artifacts *cache.Cache,
	hub *broadcast.Hub,
	pool *worker.Pool,
	orc *orchestrator.Orchestrator,
	logger *slog.Logger,
) (*Daemon, error) {
	if cfg == nil || store == nil || artifacts == nil || hub == nil || pool == nil || orc == nil {
		return nil, errors.New("daemon requires config, store, cache, hub, pool, and orchestrator")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "spoold.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "daemon"),
		store:     store,
		artifacts: artifacts,
		hub:       hub,
		pool:      pool,
		orc:       orc,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}

	apiSrv, err := newAPIServer(cfg, orc, logger)
	if err != nil {
		return nil, err
	}
	d.api = apiSrv
	return d, nil
}

// Start acquires the daemon lock, requeues jobs orphaned by a previous
// process, then launches the worker pool, heartbeats, maintenance loops,
// and the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another spool daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	requeued, err := d.store.ResetStuckRunning(runCtx)
	if err != nil {
		d.releaseStart()
		return fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	if requeued > 0 {
		d.logger.Info("requeued interrupted jobs", slog.Int64("count", requeued))
	}

	if err := d.pool.Start(runCtx); err != nil {
		d.releaseStart()
		return fmt.Errorf("start worker pool: %w", err)
	}

	d.wg.Add(3)
	go func() {
		defer d.wg.Done()
		d.hub.Run(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		d.artifacts.RunSweeper(
			runCtx,
			time.Duration(d.cfg.Cache.SweepIntervalMinutes)*time.Minute,
			time.Duration(d.cfg.Cache.RetentionHours)*time.Hour,
		)
	}()
	go func() {
		defer d.wg.Done()
		d.runJobExpiry(runCtx)
	}()

	if err := d.api.start(runCtx); err != nil {
		d.Stop()
		return err
	}

	d.running.Store(true)
	d.logger.Info("spool daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop terminates background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pool.Stop()
	d.api.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	if d.running.Swap(false) {
		d.logger.Info("spool daemon stopped")
	}
}

// Close stops the daemon and releases persistent resources.
func (d *Daemon) Close() error {
	d.Stop()
	storeErr := d.store.Close()
	cacheErr := d.artifacts.Close()
	return errors.Join(storeErr, cacheErr)
}

// Addr returns the API listen address, useful when bound to port 0.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

func (d *Daemon) releaseStart() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}

// runJobExpiry clears aged terminal job records on the cache sweep cadence.
func (d *Daemon) runJobExpiry(ctx context.Context) {
	retention := time.Duration(d.cfg.Jobs.TerminalRetentionHours) * time.Hour
	interval := time.Duration(d.cfg.Cache.SweepIntervalMinutes) * time.Minute
	if retention <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := d.store.DeleteTerminalOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.logger.Warn("terminal job expiry failed", logging.Error(err))
				continue
			}
			if removed > 0 {
				d.logger.Info("expired terminal jobs", slog.Int64("count", removed))
			}
		}
	}
}
