package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/telemetry"
)

// Health check thresholds. A queue is flagged when pending work sits
// unclaimed past pendingAgeLimit, when active rows keep burning retries, or
// when error-level audit entries cluster inside errorLookback.
const (
	pendingAgeLimit    = time.Hour
	highRetryMin       = 2
	highRetryLookback  = 24 * time.Hour
	errorLookback      = time.Hour
	highRetryEscalate  = 3
	recentErrsEscalate = 5
)

// RunReclaim returns stale processing claims to pending. A claim is stale
// when its processor stamped processed_at longer ago than the configured
// processing window. Retry budgets are not consumed: a crashed processor is
// not the request's fault.
func (m *Manager) RunReclaim(ctx context.Context) (ReclaimReport, error) {
	window := m.cfg.MaxProcessingWindow()
	cutoff := m.now().Add(-window)
	report := ReclaimReport{Cutoff: cutoff}

	stale, err := m.backend.StaleProcessing(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("reclaim sweep: %w", err)
	}
	report.Examined = len(stale)

	for _, req := range stale {
		note := fmt.Sprintf("claim by %s exceeded the processing window; returned to pending", req.ProcessorID)
		reset, err := m.backend.ResetStale(ctx, req.ID, note, cutoff)
		if err != nil {
			return report, fmt.Errorf("reset stale request %d: %w", req.ID, err)
		}
		if !reset {
			// The row finished between the snapshot and the reset.
			continue
		}
		report.Reclaimed++

		details := map[string]any{
			"branch":         req.BranchName,
			"window_minutes": int(window.Minutes()),
		}
		if req.ProcessedAt != nil {
			details["claimed_at"] = req.ProcessedAt.UTC().Format(time.RFC3339)
		}
		m.audit(ctx, AuditWarn, &req.ID, req.ProcessorID, "stale claim reclaimed", details)
	}

	m.audit(ctx, AuditInfo, nil, "", "stale claim sweep completed", map[string]any{
		"examined":  report.Examined,
		"reclaimed": report.Reclaimed,
		"cutoff":    cutoff.Format(time.RFC3339),
	})

	if report.Reclaimed > 0 {
		telemetry.RequestsReclaimed.Add(float64(report.Reclaimed))
		logging.WarnWithContext(m.logger, "stale claims reclaimed", "stale_claims",
			logging.Int("reclaimed", report.Reclaimed),
			logging.Duration("window", window),
			logging.String(logging.FieldErrorHint, "a processor crashed or stalled mid-claim"),
			logging.String(logging.FieldImpact, "requests returned to pending for another processor"),
		)
	} else {
		m.logger.Debug("stale claim sweep found nothing", logging.Duration("window", window))
	}
	return report, nil
}

// RunHealthCheck computes the queue health counters, classifies them, and
// records exactly one audit entry at the classified level. The audit entry
// is the check's only side effect; notification decisions belong to callers.
func (m *Manager) RunHealthCheck(ctx context.Context) (HealthReport, error) {
	report, err := m.computeHealth(ctx)
	if err != nil {
		return report, err
	}

	m.audit(ctx, report.Level, nil, "", healthMessage(report.Level), map[string]any{
		"pending_older_than_hour": report.OldPending,
		"active_high_retry":       report.HighRetry,
		"recent_errors":           report.RecentErrors,
	})

	switch report.Level {
	case AuditError:
		logging.ErrorWithContext(m.logger, "queue unhealthy", "queue_health",
			logging.Int("pending_older_than_hour", report.OldPending),
			logging.Int("active_high_retry", report.HighRetry),
			logging.Int("recent_errors", report.RecentErrors),
			logging.String(logging.FieldErrorHint, "inspect recent audit entries and failed requests"),
		)
	case AuditWarn:
		logging.WarnWithContext(m.logger, "queue health warning", "queue_health",
			logging.Int("active_high_retry", report.HighRetry),
			logging.Int("recent_errors", report.RecentErrors),
			logging.String(logging.FieldImpact, "requests are retrying or logging errors"),
		)
	default:
		m.logger.Debug("queue healthy")
	}
	return report, nil
}

// HealthSnapshot computes the same report as RunHealthCheck without writing
// the audit entry. Status displays poll it freely.
func (m *Manager) HealthSnapshot(ctx context.Context) (HealthReport, error) {
	return m.computeHealth(ctx)
}

func (m *Manager) computeHealth(ctx context.Context) (HealthReport, error) {
	now := m.now()
	report := HealthReport{CheckedAt: now}

	oldPending, err := m.backend.CountPendingOlderThan(ctx, now.Add(-pendingAgeLimit))
	if err != nil {
		return report, fmt.Errorf("health check: %w", err)
	}
	report.OldPending = oldPending

	highRetry, err := m.backend.CountActiveHighRetry(ctx, highRetryMin, now.Add(-highRetryLookback))
	if err != nil {
		return report, fmt.Errorf("health check: %w", err)
	}
	report.HighRetry = highRetry

	recentErrors, err := m.backend.CountAuditLevelSince(ctx, AuditError, now.Add(-errorLookback))
	if err != nil {
		return report, fmt.Errorf("health check: %w", err)
	}
	report.RecentErrors = recentErrors

	switch {
	case report.OldPending > 0 || report.HighRetry > highRetryEscalate || report.RecentErrors > recentErrsEscalate:
		report.Level = AuditError
	case report.HighRetry > 0 || report.RecentErrors > 0:
		report.Level = AuditWarn
	default:
		report.Level = AuditInfo
	}
	return report, nil
}

func healthMessage(level AuditLevel) string {
	switch level {
	case AuditError:
		return "queue unhealthy"
	case AuditWarn:
		return "queue health warning"
	default:
		return "queue healthy"
	}
}

// RunRetention deletes terminal requests whose terminal transition predates
// the retention cutoff, their audit entries first so the foreign key holds,
// then queue-wide audit entries older than the same cutoff. Running it twice
// over the same window is a no-op the second time.
func (m *Manager) RunRetention(ctx context.Context, daysToKeep int) (RetentionReport, error) {
	days := daysToKeep
	if days <= 0 {
		days = m.cfg.Queue.RetentionDays
	}
	cutoff := m.now().AddDate(0, 0, -days)
	report := RetentionReport{Cutoff: cutoff}

	ids, err := m.backend.ExpiredTerminal(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("retention sweep: %w", err)
	}

	if len(ids) > 0 {
		auditDeleted, err := m.backend.DeleteAuditForRequests(ctx, ids)
		if err != nil {
			return report, fmt.Errorf("retention sweep: %w", err)
		}
		report.AuditDeleted += auditDeleted

		requestsDeleted, err := m.backend.DeleteRequests(ctx, ids)
		if err != nil {
			return report, fmt.Errorf("retention sweep: %w", err)
		}
		report.RequestsDeleted = requestsDeleted
	}

	unlinked, err := m.backend.DeleteUnlinkedAuditBefore(ctx, cutoff)
	if err != nil {
		return report, fmt.Errorf("retention sweep: %w", err)
	}
	report.AuditDeleted += unlinked

	m.audit(ctx, AuditInfo, nil, "", "retention sweep completed", map[string]any{
		"days_kept":        days,
		"requests_deleted": report.RequestsDeleted,
		"audit_deleted":    report.AuditDeleted,
	})
	telemetry.RetentionDeleted.WithLabelValues("requests").Add(float64(report.RequestsDeleted))
	telemetry.RetentionDeleted.WithLabelValues("audit").Add(float64(report.AuditDeleted))

	m.logger.Info("retention sweep completed",
		logging.Int("days_kept", days),
		logging.Int64("requests_deleted", report.RequestsDeleted),
		logging.Int64("audit_deleted", report.AuditDeleted),
	)
	return report, nil
}

// ClearCompleted removes completed requests regardless of age. Operator
// action, always audited.
func (m *Manager) ClearCompleted(ctx context.Context) (int64, error) {
	deleted, err := m.backend.ClearCompleted(ctx)
	if err != nil {
		return 0, err
	}
	m.audit(ctx, AuditInfo, nil, "", "completed requests cleared", map[string]any{
		"deleted": deleted,
	})
	return deleted, nil
}

// RetryFailed requeues failed requests with a fresh retry budget. With no
// ids every failed request requeues.
func (m *Manager) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	requeued, err := m.backend.RetryFailed(ctx, ids...)
	if err != nil {
		return 0, err
	}
	m.audit(ctx, AuditInfo, nil, "", "failed requests requeued", map[string]any{
		"requeued": requeued,
	})
	return requeued, nil
}

// CheckDatabase reports storage diagnostics for the status surface.
func (m *Manager) CheckDatabase(ctx context.Context) (DatabaseHealth, error) {
	return m.backend.CheckHealth(ctx)
}
