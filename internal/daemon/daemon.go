// Package daemon coordinates background runs and enforces single-instance
// execution over a data directory.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"magpie/internal/catalog"
	"magpie/internal/config"
	"magpie/internal/logging"
	"magpie/internal/pipeline"
	"magpie/internal/runs"
)

// Daemon owns the orchestrator and its stores for one data directory. Only
// one daemon may hold the directory's lock at a time.
type Daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	catalog      *catalog.Store
	runs         *runs.Store
	orchestrator *pipeline.Orchestrator

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status is the daemon's operator-facing snapshot.
type Status struct {
	Running      bool
	PID          int
	LockPath     string
	SnapshotPath string
	ItemCounts   map[catalog.State]int
	ActiveRun    *runs.Run
	CurrentPhase string
	Message      string
	ETA          time.Duration
}

// New constructs a daemon over already-wired stores and orchestrator.
func New(cfg *config.Config, cat *catalog.Store, runStore *runs.Store, orch *pipeline.Orchestrator, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || cat == nil || runStore == nil || orch == nil {
		return nil, errors.New("daemon requires config, catalog store, run store, and orchestrator")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:          cfg,
		logger:       logging.NewComponentLogger(logger, "daemon"),
		catalog:      cat,
		runs:         runStore,
		orchestrator: orch,
		lockPath:     lockPath,
		lock:         flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock and prepares the daemon for run requests.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another magpie daemon owns this data directory")
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.running.Store(true)
	d.logger.Info("daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop requests cancellation of any in-flight run and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.orchestrator.RequestStop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes its stores.
func (d *Daemon) Close() error {
	d.Stop()
	return d.runs.Close()
}

// StartRun launches a pipeline run in the background. The run store enforces
// that at most one run executes at a time.
func (d *Daemon) StartRun(opts pipeline.Options) error {
	if !d.running.Load() {
		return errors.New("daemon not started")
	}
	if active, err := d.runs.Active(context.Background()); err != nil {
		return err
	} else if active != nil {
		return fmt.Errorf("run %s is already active", active.ID)
	}
	ctx := d.ctx
	go func() {
		runID, err := d.orchestrator.Execute(ctx, opts)
		if err != nil {
			d.logger.Error("run failed",
				logging.String(logging.FieldRunID, runID),
				logging.Error(err))
		}
	}()
	return nil
}

// StopRun asks the in-flight run to drain and stop.
func (d *Daemon) StopRun() bool {
	return d.orchestrator.RequestStop()
}

// Status reports daemon and run state.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockPath:     d.lockPath,
		SnapshotPath: d.catalog.Path(),
		ItemCounts:   d.catalog.Counts(),
	}
	active, err := d.runs.Active(ctx)
	if err != nil {
		d.logger.Warn("failed to read active run", logging.Error(err))
	} else {
		status.ActiveRun = active
	}
	if rc := d.orchestrator.CurrentRun(); rc != nil {
		status.CurrentPhase = string(rc.CurrentPhase())
		status.Message = rc.Message()
		status.ETA = rc.ETA()
	}
	return status
}

// History lists the most recent runs.
func (d *Daemon) History(ctx context.Context, limit int) ([]*runs.Run, error) {
	return d.runs.List(ctx, limit)
}

// SweepStuck fails runs stuck in running beyond the configured timeout.
func (d *Daemon) SweepStuck(ctx context.Context) (int64, error) {
	timeout := time.Duration(d.cfg.Workflow.StuckRunTimeoutMinutes) * time.Minute
	return d.runs.SweepStuck(ctx, timeout)
}
