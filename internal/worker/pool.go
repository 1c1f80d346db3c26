package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/fileutil"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/notifications"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/telemetry"
)

// Pool runs the daemon's claim-and-publish workers.
type Pool struct {
	cfg       *config.Config
	manager   *queue.Manager
	publisher Publisher
	notifier  notifications.Service
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPool builds a worker pool over the queue manager.
func NewPool(cfg *config.Config, manager *queue.Manager, publisher Publisher, notifier notifications.Service, logger *slog.Logger) *Pool {
	return &Pool{
		cfg:       cfg,
		manager:   manager,
		publisher: publisher,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "worker"),
	}
}

// Start launches the configured number of workers. Each worker keeps a
// stable processor id for its whole lifetime so claims and audit entries
// stay attributable.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("worker pool already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	count := p.cfg.Workers.Count
	for i := 0; i < count; i++ {
		processorID := fmt.Sprintf("%s-%s", p.cfg.Workers.ProcessorPrefix, uuid.NewString()[:8])
		p.wg.Add(1)
		go p.runWorker(runCtx, processorID)
	}

	p.logger.Info("worker pool started", logging.Int("workers", count))
	return nil
}

// Stop cancels the workers and waits for in-flight publishes to wind down.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, processorID string) {
	defer p.wg.Done()

	logger := p.logger.With(logging.String(logging.FieldProcessorID, processorID))
	logger.Debug("worker started")

	for {
		req, err := p.manager.ClaimNext(ctx, processorID)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logging.WarnWithContext(logger, "claim attempt failed", "claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "worker idles until the next poll"),
			)
			if !p.waitOrShutdown(ctx) {
				return
			}
			continue
		}
		if req == nil {
			if !p.waitOrShutdown(ctx) {
				return
			}
			continue
		}

		p.process(ctx, logger, processorID, req)
	}
}

// waitOrShutdown sleeps one poll interval. It returns false when the pool
// is shutting down.
func (p *Pool) waitOrShutdown(ctx context.Context) bool {
	timer := time.NewTimer(p.cfg.WorkerPollInterval())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// process publishes one claimed request and reports the outcome. A publish
// interrupted by shutdown is left in processing on purpose: the stale-claim
// sweep returns it to pending without consuming a retry.
func (p *Pool) process(ctx context.Context, logger *slog.Logger, processorID string, req *queue.Request) {
	logger = logger.With(
		logging.Int64(logging.FieldRequestID, req.ID),
		logging.String(logging.FieldBranch, req.BranchName),
	)

	stagePath, err := p.stagePayload(req)
	if err != nil {
		logging.ErrorWithContext(logger, "payload staging failed", "stage_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check staging directory permissions and disk space"),
			logging.String(logging.FieldImpact, "request fails without reaching the publish command"),
		)
		p.report(ctx, logger, req, queue.UpdateParams{
			ID:           req.ID,
			ProcessorID:  processorID,
			Status:       queue.StatusFailed,
			ErrorMessage: fmt.Sprintf("stage payload: %v", err),
		})
		return
	}
	if stagePath != "" {
		if err := p.manager.RecordStagePath(ctx, req.ID, stagePath); err != nil {
			logging.WarnWithContext(logger, "stage path not recorded", "stage_path_update_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
				logging.String(logging.FieldImpact, "staged payload location is missing from the request record"),
			)
		}
	}

	start := time.Now()
	result, err := p.publisher.Publish(ctx, req, stagePath)
	telemetry.PublishDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			logger.Info("publish interrupted by shutdown, leaving request claimed")
			return
		}
		logging.WarnWithContext(logger, "publish command failed", "publish_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run the publish command by hand with the staged payload"),
			logging.String(logging.FieldImpact, "request is retried or marked failed"),
		)
		p.report(ctx, logger, req, queue.UpdateParams{
			ID:           req.ID,
			ProcessorID:  processorID,
			Status:       queue.StatusFailed,
			ErrorMessage: err.Error(),
		})
		return
	}

	p.report(ctx, logger, req, queue.UpdateParams{
		ID:          req.ID,
		ProcessorID: processorID,
		Status:      queue.StatusCompleted,
		BranchURL:   result.BranchURL,
		PRURL:       result.PRURL,
		PRNumber:    result.PRNumber,
	})
	if stagePath != "" {
		if err := os.Remove(stagePath); err != nil && !os.IsNotExist(err) {
			logger.Debug("staged payload not removed", logging.Error(err))
		}
	}
	logger.Info("request published",
		logging.String("pr_url", result.PRURL),
		logging.Duration("elapsed", time.Since(start)),
	)
}

// stagePayload writes the request payload under the staging directory and
// returns its path. Requests without a payload stage nothing.
func (p *Pool) stagePayload(req *queue.Request) (string, error) {
	if len(req.Payload) == 0 {
		return "", nil
	}
	name := fmt.Sprintf("%d-%s", req.ID, filepath.Base(req.FileName))
	path := filepath.Join(p.cfg.Paths.StagingDir, name)
	if err := fileutil.WriteFileAtomic(path, req.Payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// report applies the outcome and fires the matching notification. A lost
// conditional write means another actor moved the request mid-publish; the
// outcome is discarded because the row no longer belongs to this worker.
func (p *Pool) report(ctx context.Context, logger *slog.Logger, req *queue.Request, params queue.UpdateParams) {
	if err := p.manager.UpdateStatus(ctx, params); err != nil {
		if errors.Is(err, queue.ErrInvalidTransition) {
			logging.WarnWithContext(logger, "request left processing during publish", "outcome_discarded",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the audit trail for the competing transition"),
				logging.String(logging.FieldImpact, "publish outcome was discarded"),
			)
			return
		}
		logging.ErrorWithContext(logger, "status update failed", "status_update_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check queue database access"),
			logging.String(logging.FieldImpact, "request stays claimed until the stale-claim sweep"),
		)
		return
	}

	switch params.Status {
	case queue.StatusCompleted:
		if err := p.notifier.NotifyRequestCompleted(ctx, req.BranchName, params.PRURL); err != nil {
			logger.Debug("completion notification failed", logging.Error(err))
		}
	case queue.StatusFailed:
		snapshot, err := p.manager.GetStatus(ctx, req.ID)
		if err != nil || snapshot == nil {
			return
		}
		if snapshot.Status == queue.StatusFailed {
			if err := p.notifier.NotifyRequestFailed(ctx, req.BranchName, params.ErrorMessage); err != nil {
				logger.Debug("failure notification failed", logging.Error(err))
			}
		}
	}
}
