package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/notifications"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/scheduler"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/worker"
)

// Daemon coordinates the background services and enforces single-instance
// execution through a file lock in the data directory.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	manager  *queue.Manager
	pool     *worker.Pool
	sched    *scheduler.Scheduler
	notifier notifications.Service
	logPath  string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	started time.Time
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	StartedAt      time.Time
	Workers        int
	LockFilePath   string
	DatabaseTarget string
	QueueStats     map[queue.Status]int
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, manager *queue.Manager, pool *worker.Pool, sched *scheduler.Scheduler, notifier notifications.Service, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || manager == nil || pool == nil || sched == nil {
		return nil, errors.New("daemon requires config, queue manager, worker pool, and scheduler")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		manager:  manager,
		pool:     pool,
		sched:    sched,
		notifier: notifier,
		logPath:  filepath.Join(cfg.Paths.LogDir, "snowtower.log"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the worker pool and the sweep
// scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another snowtower daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.pool.Start(d.ctx); err != nil {
		d.releaseAfterFailedStart()
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := d.sched.Start(d.ctx); err != nil {
		d.pool.Stop()
		d.releaseAfterFailedStart()
		return fmt.Errorf("start scheduler: %w", err)
	}

	d.started = time.Now()
	d.running.Store(true)
	d.logger.Info("snowtower daemon started", logging.String("lock", d.lockPath))
	if err := d.notifier.NotifyDaemonStarted(d.ctx, d.cfg.Workers.Count); err != nil {
		d.logger.Debug("startup notification failed", logging.Error(err))
	}
	return nil
}

func (d *Daemon) releaseAfterFailedStart() {
	_ = d.lock.Unlock()
	if d.cancel != nil {
		d.cancel()
	}
	d.ctx = nil
	d.cancel = nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.pool.Stop()
	d.sched.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("snowtower daemon stopped")
}

// Submit enqueues a new work request.
func (d *Daemon) Submit(ctx context.Context, params queue.SubmitParams) (*queue.Request, error) {
	return d.manager.Submit(ctx, params)
}

// ClaimNext claims the next pending request for an external processor.
func (d *Daemon) ClaimNext(ctx context.Context, processorID string) (*queue.Request, error) {
	return d.manager.ClaimNext(ctx, processorID)
}

// UpdateStatus reports a processing outcome.
func (d *Daemon) UpdateStatus(ctx context.Context, params queue.UpdateParams) error {
	return d.manager.UpdateStatus(ctx, params)
}

// GetStatus returns one request by id.
func (d *Daemon) GetStatus(ctx context.Context, id int64) (*queue.Request, error) {
	return d.manager.GetStatus(ctx, id)
}

// GetStatusByBranch returns the newest request for a branch.
func (d *Daemon) GetStatusByBranch(ctx context.Context, branch string) (*queue.Request, error) {
	return d.manager.GetStatusByBranch(ctx, branch)
}

// ListQueue returns requests filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses []queue.Status) ([]*queue.Request, error) {
	return d.manager.List(ctx, statuses...)
}

// QueueStats returns per-status request counts.
func (d *Daemon) QueueStats(ctx context.Context) (map[queue.Status]int, error) {
	return d.manager.Stats(ctx)
}

// QueueHealth returns aggregate queue diagnostics.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.manager.Summary(ctx)
}

// RunHealthCheck evaluates queue health and records the verdict in the
// audit log.
func (d *Daemon) RunHealthCheck(ctx context.Context) (queue.HealthReport, error) {
	return d.manager.RunHealthCheck(ctx)
}

// HealthSnapshot evaluates queue health without recording anything.
func (d *Daemon) HealthSnapshot(ctx context.Context) (queue.HealthReport, error) {
	return d.manager.HealthSnapshot(ctx)
}

// RunReclaim sweeps stale processing claims back to pending.
func (d *Daemon) RunReclaim(ctx context.Context) (queue.ReclaimReport, error) {
	return d.manager.RunReclaim(ctx)
}

// RunRetention deletes terminal requests older than the retention window.
func (d *Daemon) RunRetention(ctx context.Context, daysToKeep int) (queue.RetentionReport, error) {
	return d.manager.RunRetention(ctx, daysToKeep)
}

// ClearCompleted removes all completed requests and their audit rows.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	return d.manager.ClearCompleted(ctx)
}

// RetryFailed resets failed requests (optionally a subset) back to pending.
func (d *Daemon) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	return d.manager.RetryFailed(ctx, ids...)
}

// AuditTrail returns the audit history for one request.
func (d *Daemon) AuditTrail(ctx context.Context, requestID int64, limit int) ([]*queue.AuditEntry, error) {
	return d.manager.AuditTrail(ctx, requestID, limit)
}

// RecentAudit returns the newest audit entries across the queue.
func (d *Daemon) RecentAudit(ctx context.Context, limit int) ([]*queue.AuditEntry, error) {
	return d.manager.RecentAudit(ctx, limit)
}

// DatabaseHealth returns detailed storage diagnostics.
func (d *Daemon) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	return d.manager.CheckDatabase(ctx)
}

// TestNotification triggers a test notification using the current
// configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if d.cfg == nil {
		return false, "configuration unavailable", errors.New("configuration unavailable")
	}
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status. Stats and storage target are
// best effort: a broken database still yields a running/stopped answer.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		Workers:      d.cfg.Workers.Count,
		LockFilePath: d.lockPath,
	}
	if status.Running {
		status.StartedAt = d.started
	}
	if health, err := d.manager.CheckDatabase(ctx); err == nil {
		status.DatabaseTarget = health.DBPath
	}
	if stats, err := d.manager.Stats(ctx); err == nil {
		status.QueueStats = stats
	}
	return status
}
