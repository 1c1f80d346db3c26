package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/logging"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/telemetry"
)

// Backend is the storage contract the Manager drives. The SQLite Store and
// the Postgres store both satisfy it; tests substitute fakes that honor the
// same conditional-update semantics. Timestamps are supplied by the Manager
// so backends never read the wall clock.
type Backend interface {
	InsertRequest(ctx context.Context, req *Request) (int64, error)
	RequestByID(ctx context.Context, id int64) (*Request, error)
	LatestByBranch(ctx context.Context, branch string) (*Request, error)
	List(ctx context.Context, statuses ...Status) ([]*Request, error)
	Stats(ctx context.Context) (map[Status]int, error)
	Health(ctx context.Context) (HealthSummary, error)

	NextPending(ctx context.Context) (*Request, error)
	ClaimPending(ctx context.Context, id int64, processorID string, at time.Time) (bool, error)
	UpdateFromProcessing(ctx context.Context, id int64, outcome ProcessingOutcome) (bool, error)
	SetStagePath(ctx context.Context, id int64, path string) error

	StaleProcessing(ctx context.Context, cutoff time.Time) ([]*Request, error)
	ResetStale(ctx context.Context, id int64, note string, cutoff time.Time) (bool, error)

	CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	CountActiveHighRetry(ctx context.Context, minRetries int, since time.Time) (int, error)
	CountAuditLevelSince(ctx context.Context, level AuditLevel, since time.Time) (int, error)

	ExpiredTerminal(ctx context.Context, cutoff time.Time) ([]int64, error)
	DeleteRequests(ctx context.Context, ids []int64) (int64, error)
	DeleteAuditForRequests(ctx context.Context, ids []int64) (int64, error)
	DeleteUnlinkedAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)

	ClearCompleted(ctx context.Context) (int64, error)
	RetryFailed(ctx context.Context, ids ...int64) (int64, error)

	AppendAudit(ctx context.Context, entry *AuditEntry) error
	AuditForRequest(ctx context.Context, requestID int64, limit int) ([]*AuditEntry, error)
	RecentAudit(ctx context.Context, limit int) ([]*AuditEntry, error)

	CheckHealth(ctx context.Context) (DatabaseHealth, error)
	Close() error
}

var _ Backend = (*Store)(nil)

// Manager owns the work request state machine. Every write to the request
// table flows through it so transition rules and audit trail stay in one
// place.
type Manager struct {
	cfg     *config.Config
	backend Backend
	logger  *slog.Logger
	clock   func() time.Time
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	clock func() time.Time
}

// WithClock overrides the time source. Tests shift it to age claims past the
// processing window or push terminal rows past the retention cutoff.
func WithClock(clock func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		o.clock = clock
	}
}

// NewManager constructs a queue manager over the given storage backend.
func NewManager(cfg *config.Config, backend Backend, logger *slog.Logger, opts ...ManagerOption) *Manager {
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}
	clock := options.clock
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "queue-manager"),
		clock:   clock,
	}
}

func (m *Manager) now() time.Time {
	return m.clock().UTC()
}

// shouldRetry decides whether a failed attempt converts back to pending.
func shouldRetry(retryCount, maxRetries int) bool {
	return retryCount < maxRetries
}

// SubmitParams carries a new work request. Zero Priority and MaxRetries take
// the configured defaults; TargetBranch defaults likewise.
type SubmitParams struct {
	CreatedBy     string
	RequestType   RequestType
	BranchName    string
	PRTitle       string
	PRDescription string
	TargetBranch  string
	FileName      string
	Payload       []byte
	Priority      int
	MaxRetries    int
}

// Submit validates a request, guards branch uniqueness among active rows,
// and enqueues it as pending. Rejections are recorded in the audit log
// before the error returns.
func (m *Manager) Submit(ctx context.Context, params SubmitParams) (*Request, error) {
	req, err := m.buildRequest(params)
	if err != nil {
		m.auditSubmitRejection(ctx, params, err)
		return nil, err
	}

	id, err := m.backend.InsertRequest(ctx, req)
	if err != nil {
		if errors.Is(err, ErrDuplicateActiveRequest) {
			m.auditSubmitRejection(ctx, params, err)
			return nil, err
		}
		return nil, fmt.Errorf("submit request: %w", err)
	}

	stored, err := m.backend.RequestByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load submitted request: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("submitted request %d not found", id)
	}

	m.audit(ctx, AuditInfo, &stored.ID, "", "request submitted", map[string]any{
		"branch":     stored.BranchName,
		"priority":   stored.Priority,
		"created_by": stored.CreatedBy,
	})
	telemetry.RequestsSubmitted.Inc()
	m.logger.Info("request submitted",
		logging.Int64(logging.FieldRequestID, stored.ID),
		logging.String(logging.FieldBranch, stored.BranchName),
		logging.Int("priority", stored.Priority),
	)
	return stored, nil
}

func (m *Manager) buildRequest(params SubmitParams) (*Request, error) {
	createdBy := strings.TrimSpace(params.CreatedBy)
	if createdBy == "" {
		return nil, fmt.Errorf("%w: created_by is required", ErrInvalidParameter)
	}
	if err := ValidateBranchName(params.BranchName); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(params.PRTitle)
	if title == "" {
		return nil, fmt.Errorf("%w: pr title is required", ErrInvalidParameter)
	}
	fileName := strings.TrimSpace(params.FileName)
	if fileName == "" {
		return nil, fmt.Errorf("%w: file name is required", ErrInvalidParameter)
	}

	priority := params.Priority
	if priority == 0 {
		priority = m.cfg.Queue.DefaultPriority
	}
	if priority < 1 || priority > 10 {
		return nil, fmt.Errorf("%w: priority %d outside 1..10", ErrInvalidParameter, params.Priority)
	}

	if params.MaxRetries < 0 {
		return nil, fmt.Errorf("%w: max retries must not be negative", ErrInvalidParameter)
	}
	maxRetries := params.MaxRetries
	if maxRetries == 0 {
		maxRetries = m.cfg.Queue.DefaultMaxRetries
	}

	target := strings.TrimSpace(params.TargetBranch)
	if target == "" {
		target = m.cfg.Workers.DefaultTargetBranch
	}
	if err := ValidateBranchName(target); err != nil {
		return nil, fmt.Errorf("target branch: %w", err)
	}

	requestType := params.RequestType
	if requestType == "" {
		requestType = TypeCreatePR
	}

	return &Request{
		CreatedAt:     m.now(),
		CreatedBy:     createdBy,
		RequestType:   requestType,
		Status:        StatusPending,
		BranchName:    params.BranchName,
		PRTitle:       title,
		PRDescription: params.PRDescription,
		TargetBranch:  target,
		FileName:      fileName,
		Payload:       params.Payload,
		Priority:      priority,
		MaxRetries:    maxRetries,
	}, nil
}

func (m *Manager) auditSubmitRejection(ctx context.Context, params SubmitParams, cause error) {
	m.audit(ctx, AuditWarn, nil, "", "submission rejected", map[string]any{
		"branch":     params.BranchName,
		"created_by": params.CreatedBy,
		"reason":     cause.Error(),
	})
}

// ClaimNext atomically hands the best eligible pending request to a
// processor. Returns (nil, nil) when the queue has no claimable work. On a
// lost claim race it re-selects; the pending set shrinks with every loss, so
// the loop terminates.
func (m *Manager) ClaimNext(ctx context.Context, processorID string) (*Request, error) {
	processorID = strings.TrimSpace(processorID)
	if processorID == "" {
		return nil, fmt.Errorf("%w: processor id is required", ErrInvalidParameter)
	}

	for {
		candidate, err := m.backend.NextPending(ctx)
		if err != nil {
			return nil, fmt.Errorf("select claim candidate: %w", err)
		}
		if candidate == nil {
			return nil, nil
		}

		claimed, err := m.backend.ClaimPending(ctx, candidate.ID, processorID, m.now())
		if err != nil {
			return nil, fmt.Errorf("claim request %d: %w", candidate.ID, err)
		}
		if !claimed {
			continue
		}

		req, err := m.backend.RequestByID(ctx, candidate.ID)
		if err != nil {
			return nil, fmt.Errorf("load claimed request %d: %w", candidate.ID, err)
		}
		if req == nil {
			return nil, fmt.Errorf("claimed request %d not found", candidate.ID)
		}

		m.audit(ctx, AuditInfo, &req.ID, processorID, "request claimed", map[string]any{
			"branch":   req.BranchName,
			"priority": req.Priority,
			"attempt":  req.RetryCount + 1,
		})
		telemetry.RequestsClaimed.Inc()
		m.logger.Info("request claimed",
			logging.Int64(logging.FieldRequestID, req.ID),
			logging.String(logging.FieldProcessorID, processorID),
			logging.String(logging.FieldBranch, req.BranchName),
		)
		return req, nil
	}
}

// UpdateParams carries a terminal transition report from a processor.
type UpdateParams struct {
	ID           int64
	ProcessorID  string
	Status       Status
	ErrorMessage string
	BranchURL    string
	PRURL        string
	PRNumber     int64
}

// UpdateStatus moves a processing request to completed, cancelled, or
// failed. A failure with retries remaining converts back to pending instead;
// the caller sees nil because the transient failure is invisible to the
// submitter. Rejected updates are audited before the error returns.
func (m *Manager) UpdateStatus(ctx context.Context, params UpdateParams) error {
	switch params.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
	default:
		return fmt.Errorf("%w: status %q is not a valid transition target", ErrInvalidParameter, params.Status)
	}

	req, err := m.backend.RequestByID(ctx, params.ID)
	if err != nil {
		return fmt.Errorf("load request %d: %w", params.ID, err)
	}
	if req == nil {
		m.audit(ctx, AuditWarn, nil, params.ProcessorID, "status update for unknown request", map[string]any{
			"request_id": params.ID,
			"target":     string(params.Status),
		})
		return fmt.Errorf("%w: %d", ErrUnknownRequest, params.ID)
	}
	if req.Status != StatusProcessing {
		m.audit(ctx, AuditWarn, &req.ID, params.ProcessorID, "status update rejected", map[string]any{
			"current": string(req.Status),
			"target":  string(params.Status),
		})
		return fmt.Errorf("%w: request %d is %s, not processing", ErrInvalidTransition, params.ID, req.Status)
	}

	now := m.now()
	outcome := ProcessingOutcome{
		RetryCount:   req.RetryCount,
		ErrorMessage: req.ErrorMessage,
		ProcessedAt:  req.ProcessedAt,
		BranchURL:    req.BranchURL,
		PRURL:        req.PRURL,
		PRNumber:     req.PRNumber,
	}

	var (
		auditLevel = AuditInfo
		auditMsg   string
		details    = map[string]any{"branch": req.BranchName}
		retried    bool
	)

	switch params.Status {
	case StatusCompleted:
		outcome.Status = StatusCompleted
		outcome.ErrorMessage = ""
		outcome.ProcessedAt = &now
		outcome.BranchURL = params.BranchURL
		outcome.PRURL = params.PRURL
		outcome.PRNumber = params.PRNumber
		auditMsg = "request completed"
		if params.PRURL != "" {
			details["pr_url"] = params.PRURL
		}
		if params.PRNumber != 0 {
			details["pr_number"] = params.PRNumber
		}
	case StatusCancelled:
		outcome.Status = StatusCancelled
		outcome.ProcessedAt = &now
		if msg := strings.TrimSpace(params.ErrorMessage); msg != "" {
			outcome.ErrorMessage = msg
			details["reason"] = msg
		}
		auditMsg = "request cancelled"
	case StatusFailed:
		msg := strings.TrimSpace(params.ErrorMessage)
		if msg == "" {
			msg = req.ErrorMessage
		}
		outcome.ErrorMessage = msg
		details["error"] = msg
		if shouldRetry(req.RetryCount, req.MaxRetries) {
			retried = true
			outcome.Status = StatusPending
			outcome.RetryCount = req.RetryCount + 1
			auditLevel = AuditWarn
			auditMsg = "retry scheduled"
			details["attempt"] = req.RetryCount + 1
			details["max_retries"] = req.MaxRetries
		} else {
			outcome.Status = StatusFailed
			outcome.ProcessedAt = &now
			auditLevel = AuditError
			auditMsg = "terminal failure"
			details["retry_count"] = req.RetryCount
		}
	}

	applied, err := m.backend.UpdateFromProcessing(ctx, req.ID, outcome)
	if err != nil {
		return fmt.Errorf("apply transition for request %d: %w", req.ID, err)
	}
	if !applied {
		m.audit(ctx, AuditWarn, &req.ID, params.ProcessorID, "status update lost race", map[string]any{
			"target": string(params.Status),
		})
		return fmt.Errorf("%w: request %d left processing concurrently", ErrInvalidTransition, req.ID)
	}

	processor := params.ProcessorID
	if processor == "" {
		processor = req.ProcessorID
	}
	m.audit(ctx, auditLevel, &req.ID, processor, auditMsg, details)

	switch {
	case retried:
		telemetry.RequestsRetried.Inc()
		logging.WarnWithContext(m.logger, "retry scheduled", "request_retry",
			logging.Int64(logging.FieldRequestID, req.ID),
			logging.String(logging.FieldBranch, req.BranchName),
			logging.Int("attempt", req.RetryCount+1),
			logging.String(logging.FieldErrorHint, outcome.ErrorMessage),
			logging.String(logging.FieldImpact, "request returns to pending and will be claimed again"),
		)
	case outcome.Status == StatusFailed:
		telemetry.RequestsFailed.Inc()
		logging.ErrorWithContext(m.logger, "request failed terminally", "request_failed",
			logging.Int64(logging.FieldRequestID, req.ID),
			logging.String(logging.FieldBranch, req.BranchName),
			logging.String(logging.FieldErrorHint, outcome.ErrorMessage),
		)
	case outcome.Status == StatusCompleted:
		telemetry.RequestsCompleted.Inc()
		m.logger.Info("request completed",
			logging.Int64(logging.FieldRequestID, req.ID),
			logging.String(logging.FieldBranch, req.BranchName),
			logging.String("pr_url", params.PRURL),
		)
	default:
		m.logger.Info("request cancelled",
			logging.Int64(logging.FieldRequestID, req.ID),
			logging.String(logging.FieldBranch, req.BranchName),
		)
	}
	return nil
}

// GetStatus returns a request snapshot, or nil when the id is unknown.
func (m *Manager) GetStatus(ctx context.Context, id int64) (*Request, error) {
	return m.backend.RequestByID(ctx, id)
}

// GetStatusByBranch returns the most recently created request for a branch,
// or nil when the branch has never been submitted.
func (m *Manager) GetStatusByBranch(ctx context.Context, branch string) (*Request, error) {
	branch = strings.TrimSpace(branch)
	if branch == "" {
		return nil, fmt.Errorf("%w: branch is required", ErrInvalidParameter)
	}
	return m.backend.LatestByBranch(ctx, branch)
}

// RecordStagePath notes where a processor staged the request payload.
func (m *Manager) RecordStagePath(ctx context.Context, id int64, path string) error {
	return m.backend.SetStagePath(ctx, id, path)
}

// List returns requests filtered by status set.
func (m *Manager) List(ctx context.Context, statuses ...Status) ([]*Request, error) {
	return m.backend.List(ctx, statuses...)
}

// Stats returns request counts grouped by status.
func (m *Manager) Stats(ctx context.Context) (map[Status]int, error) {
	return m.backend.Stats(ctx)
}

// Summary returns aggregated request counts per lifecycle state.
func (m *Manager) Summary(ctx context.Context) (HealthSummary, error) {
	return m.backend.Health(ctx)
}

// AuditTrail returns the newest audit entries for one request.
func (m *Manager) AuditTrail(ctx context.Context, requestID int64, limit int) ([]*AuditEntry, error) {
	return m.backend.AuditForRequest(ctx, requestID, limit)
}

// RecentAudit returns the newest audit entries across the queue.
func (m *Manager) RecentAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	return m.backend.RecentAudit(ctx, limit)
}

// audit appends one entry, logging instead of failing when the append
// itself errors: the triggering operation has already happened and must not
// unwind because bookkeeping lagged.
func (m *Manager) audit(ctx context.Context, level AuditLevel, requestID *int64, processorID, message string, details map[string]any) {
	entry := &AuditEntry{
		RequestID:   requestID,
		Level:       level,
		Message:     message,
		ProcessorID: processorID,
		CreatedAt:   m.now(),
	}
	if len(details) > 0 {
		encoded, err := json.Marshal(details)
		if err == nil {
			entry.Details = string(encoded)
		}
	}
	if err := m.backend.AppendAudit(ctx, entry); err != nil {
		m.logger.Warn("audit append failed",
			logging.String("audit_message", message),
			logging.Error(err),
		)
	}
}
