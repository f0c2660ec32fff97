package daemon

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"archon/internal/catalog"
	"archon/internal/config"
	"archon/internal/db"
	"archon/internal/job"
	"archon/internal/lifecycle"
	"archon/internal/logging"
	"archon/internal/notifications"
	"archon/internal/request"
	"archon/internal/scheduler"
	"archon/internal/services/dissemination"
	"archon/internal/services/filestore"
)

// Daemon owns the engine's process-wide resources: the database, the
// broker connections, the scheduler, and the single-instance lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	handle       *sql.DB
	requests     *request.Store
	catalog      *catalog.Store
	notify       notifications.Service
	disseminator dissemination.Disseminator
	lifecycle    *lifecycle.Service
	scheduler    *scheduler.Scheduler

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
}

// New wires the daemon's dependencies from configuration. Nothing starts
// running until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	handle, err := db.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	requests, err := request.NewStore(handle)
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("open request store: %w", err)
	}
	cat, err := catalog.NewStore(handle)
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("open catalog store: %w", err)
	}

	notify, err := notifications.NewService(cfg, logger)
	if err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("connect notifications: %w", err)
	}
	disseminator, err := dissemination.NewDisseminator(cfg, logger)
	if err != nil {
		notify.Close()
		_ = handle.Close()
		return nil, fmt.Errorf("connect dissemination: %w", err)
	}

	files := filestore.NewTransport(cfg, logger)
	pageSize := cfg.Scheduler.PageSize
	runners := scheduler.Runners{
		Creator:       job.NewCreator(requests, cat, pageSize, logger),
		Update:        job.NewUpdateRunner(requests, cat, files, notify, logger),
		Deletion:      job.NewDeletionRunner(requests, cat, files, notify, logger),
		Dissemination: job.NewDisseminationRunner(requests, cat, disseminator, logger),
		Retry:         job.NewRetry(requests, pageSize, logger),
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "archond.lock")
	return &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		handle:       handle,
		requests:     requests,
		catalog:      cat,
		notify:       notify,
		disseminator: disseminator,
		lifecycle:    lifecycle.NewService(requests, cat, pageSize, logger),
		scheduler:    scheduler.New(cfg, requests, runners, logger),
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}, nil
}

// Lifecycle returns the operation facade backed by this daemon's stores.
func (d *Daemon) Lifecycle() *lifecycle.Service {
	return d.lifecycle
}

// Start acquires the single-instance lock and launches the scheduler.
func (d *Daemon) Start() error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another archon daemon instance is already running")
	}

	if err := d.scheduler.Start(); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.cfg.DatabasePath()),
	)
	return nil
}

// Stop drains the scheduler, closes the broker connections and the
// database, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.running.Store(false)

	d.scheduler.Stop()
	d.notify.Close()
	d.disseminator.Close()
	if err := d.handle.Close(); err != nil {
		d.logger.Warn("database close failed", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("lock release failed", logging.Error(err))
	}
	d.logger.Info("daemon stopped")
}

// Running reports whether Start has completed and Stop has not.
func (d *Daemon) Running() bool {
	return d.running.Load()
}
