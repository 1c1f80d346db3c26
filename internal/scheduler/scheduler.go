// Package scheduler drives the periodic queue sweeps: stale-claim reclaim,
// health checks, retention, the staging sweep, and the queue depth gauge.
// Each sweep runs once shortly after startup so a restarted daemon converges
// immediately, then on its own cadence until Stop.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/notifications"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/staging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/telemetry"
)

// Scheduler owns the maintenance goroutines. Sweep failures are logged and
// the loop keeps its cadence; a broken database should surface through the
// health check and logs, not kill the daemon.
type Scheduler struct {
	cfg      *config.Config
	manager  *queue.Manager
	notifier notifications.Service
	logger   *slog.Logger

	// lastHealthLevel is only touched by the health loop goroutine.
	lastHealthLevel queue.AuditLevel

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a scheduler around an existing queue manager.
func New(cfg *config.Config, manager *queue.Manager, notifier notifications.Service, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		manager:  manager,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
	}
}

// Start launches the sweep loops. It returns an error when already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("scheduler already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	loops := []struct {
		name     string
		interval time.Duration
		run      func(context.Context) error
	}{
		{"reclaim", s.cfg.ReclaimInterval(), s.runReclaim},
		{"health", s.cfg.HealthInterval(), s.runHealth},
		{"retention", s.cfg.RetentionInterval(), s.runRetention},
		{"staging", s.cfg.RetentionInterval(), s.runStagingSweep},
		{"queue-depth", s.cfg.SchedulerInterval(), s.refreshQueueDepth},
	}
	s.wg.Add(len(loops))
	for _, loop := range loops {
		go s.runLoop(runCtx, loop.name, loop.interval, loop.run)
	}

	s.logger.Info("scheduler started",
		logging.Duration("reclaim_interval", s.cfg.ReclaimInterval()),
		logging.Duration("health_interval", s.cfg.HealthInterval()),
		logging.Duration("retention_interval", s.cfg.RetentionInterval()),
	)
	return nil
}

// Stop terminates the sweep loops and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	defer s.wg.Done()
	if interval <= 0 {
		interval = time.Minute
	}

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logSweepError(name, err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := run(ctx); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				s.logSweepError(name, err)
			}
		}
	}
}

func (s *Scheduler) runReclaim(ctx context.Context) error {
	_, err := s.manager.RunReclaim(ctx)
	return err
}

func (s *Scheduler) runHealth(ctx context.Context) error {
	report, err := s.manager.RunHealthCheck(ctx)
	if err != nil {
		return err
	}

	// Notify on the transition into unhealthy, not on every tick spent there.
	if report.Level == queue.AuditError && s.lastHealthLevel != queue.AuditError {
		if err := s.notifier.NotifyQueueUnhealthy(ctx, report.OldPending, report.HighRetry, report.RecentErrors); err != nil {
			logging.WarnWithContext(s.logger, "queue health notification failed", "notify_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check ntfy topic and network access"),
				logging.String(logging.FieldImpact, "operators were not paged about the unhealthy queue"),
			)
		}
	}
	s.lastHealthLevel = report.Level
	return nil
}

func (s *Scheduler) runRetention(ctx context.Context) error {
	_, err := s.manager.RunRetention(ctx, 0)
	return err
}

// runStagingSweep removes staged payload files left behind by crashed or
// terminally failed publishes. Files belonging to pending or processing
// requests are never touched.
func (s *Scheduler) runStagingSweep(ctx context.Context) error {
	requests, err := s.manager.List(ctx, queue.StatusPending, queue.StatusProcessing)
	if err != nil {
		return err
	}
	active := make(map[int64]struct{}, len(requests))
	for _, req := range requests {
		active[req.ID] = struct{}{}
	}

	result := staging.SweepStale(s.cfg.Paths.StagingDir, s.cfg.MaxProcessingWindow(), active, s.logger)
	if len(result.Removed) > 0 {
		s.logger.Info("staging sweep completed", logging.Int("removed", len(result.Removed)))
	}
	return nil
}

func (s *Scheduler) refreshQueueDepth(ctx context.Context) error {
	stats, err := s.manager.Stats(ctx)
	if err != nil {
		return err
	}
	for _, status := range queue.AllStatuses() {
		telemetry.QueueDepth.WithLabelValues(string(status)).Set(float64(stats[status]))
	}
	return nil
}

func (s *Scheduler) logSweepError(name string, err error) {
	logging.WarnWithContext(s.logger, "scheduled sweep failed", "sweep_failed",
		logging.String("sweep", name),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "check queue database access"),
		logging.String(logging.FieldImpact, "sweep skipped until the next interval"),
	)
}
