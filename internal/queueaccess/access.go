// Package queueaccess gives the CLI one queue facade over two transports:
// daemon IPC when the socket answers, the store directly when it does not.
// Commands code against Access and never branch on which path is live.
package queueaccess

import (
	"context"
	"strings"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/ipc"
	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

// Access exposes the queue operations the CLI needs independent of whether
// they run through the daemon or against the store.
type Access interface {
	Submit(ctx context.Context, params queue.SubmitParams) (*queue.Request, error)
	Claim(ctx context.Context, processorID string) (*queue.Request, error)
	Update(ctx context.Context, params queue.UpdateParams) error
	Describe(ctx context.Context, id int64) (*queue.Request, error)
	DescribeBranch(ctx context.Context, branch string) (*queue.Request, error)
	List(ctx context.Context, statuses []string) ([]*queue.Request, error)
	Stats(ctx context.Context) (map[string]int, error)
	Summary(ctx context.Context) (queue.HealthSummary, error)
	HealthCheck(ctx context.Context, record bool) (queue.HealthReport, error)
	Reclaim(ctx context.Context) (queue.ReclaimReport, error)
	Retention(ctx context.Context, days int) (queue.RetentionReport, error)
	ClearCompleted(ctx context.Context) (int64, error)
	RetryFailed(ctx context.Context, ids []int64) (int64, error)
	Audit(ctx context.Context, requestID int64, limit int) ([]*queue.AuditEntry, error)
	DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error)
}

// NewIPCAccess wraps a connected daemon client.
func NewIPCAccess(client *ipc.Client) Access {
	return &ipcAccess{client: client}
}

// NewManagerAccess wraps a queue manager for direct store access.
func NewManagerAccess(manager *queue.Manager) Access {
	return &managerAccess{manager: manager}
}

type ipcAccess struct {
	client *ipc.Client
}

func (a *ipcAccess) Submit(_ context.Context, params queue.SubmitParams) (*queue.Request, error) {
	resp, err := a.client.Submit(ipc.SubmitRequest{
		CreatedBy:     params.CreatedBy,
		RequestType:   string(params.RequestType),
		BranchName:    params.BranchName,
		PRTitle:       params.PRTitle,
		PRDescription: params.PRDescription,
		TargetBranch:  params.TargetBranch,
		FileName:      params.FileName,
		Payload:       params.Payload,
		Priority:      params.Priority,
		MaxRetries:    params.MaxRetries,
	})
	if err != nil {
		return nil, err
	}
	return resp.Request.ToQueue(), nil
}

func (a *ipcAccess) Claim(_ context.Context, processorID string) (*queue.Request, error) {
	resp, err := a.client.Claim(processorID)
	if err != nil {
		return nil, err
	}
	if !resp.Claimed || resp.Request == nil {
		return nil, nil
	}
	return resp.Request.ToQueue(), nil
}

func (a *ipcAccess) Update(_ context.Context, params queue.UpdateParams) error {
	_, err := a.client.Update(ipc.UpdateRequest{
		ID:           params.ID,
		ProcessorID:  params.ProcessorID,
		Status:       string(params.Status),
		ErrorMessage: params.ErrorMessage,
		BranchURL:    params.BranchURL,
		PRURL:        params.PRURL,
		PRNumber:     params.PRNumber,
	})
	return err
}

func (a *ipcAccess) Describe(_ context.Context, id int64) (*queue.Request, error) {
	resp, err := a.client.Describe(ipc.DescribeRequest{ID: id})
	if err != nil {
		// net/rpc flattens server errors to strings, so the unknown-id
		// sentinel has to be matched by text here.
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, nil
		}
		return nil, err
	}
	return resp.Request.ToQueue(), nil
}

func (a *ipcAccess) DescribeBranch(_ context.Context, branch string) (*queue.Request, error) {
	resp, err := a.client.Describe(ipc.DescribeRequest{Branch: branch})
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "not found") {
			return nil, nil
		}
		return nil, err
	}
	return resp.Request.ToQueue(), nil
}

func (a *ipcAccess) List(_ context.Context, statuses []string) ([]*queue.Request, error) {
	resp, err := a.client.QueueList(statuses)
	if err != nil {
		return nil, err
	}
	requests := make([]*queue.Request, 0, len(resp.Requests))
	for _, wire := range resp.Requests {
		requests = append(requests, wire.ToQueue())
	}
	return requests, nil
}

func (a *ipcAccess) Stats(_ context.Context) (map[string]int, error) {
	resp, err := a.client.QueueStats()
	if err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

func (a *ipcAccess) Summary(_ context.Context) (queue.HealthSummary, error) {
	resp, err := a.client.QueueHealth()
	if err != nil {
		return queue.HealthSummary{}, err
	}
	return queue.HealthSummary{
		Total:      resp.Total,
		Pending:    resp.Pending,
		Processing: resp.Processing,
		Completed:  resp.Completed,
		Failed:     resp.Failed,
		Cancelled:  resp.Cancelled,
	}, nil
}

func (a *ipcAccess) HealthCheck(_ context.Context, record bool) (queue.HealthReport, error) {
	resp, err := a.client.HealthCheck(record)
	if err != nil {
		return queue.HealthReport{}, err
	}
	return queue.HealthReport{
		CheckedAt:    resp.CheckedAt,
		Level:        queue.AuditLevel(resp.Level),
		OldPending:   resp.OldPending,
		HighRetry:    resp.HighRetry,
		RecentErrors: resp.RecentErrors,
	}, nil
}

func (a *ipcAccess) Reclaim(_ context.Context) (queue.ReclaimReport, error) {
	resp, err := a.client.Reclaim()
	if err != nil {
		return queue.ReclaimReport{}, err
	}
	return queue.ReclaimReport{
		Cutoff:    resp.Cutoff,
		Examined:  resp.Examined,
		Reclaimed: resp.Reclaimed,
	}, nil
}

func (a *ipcAccess) Retention(_ context.Context, days int) (queue.RetentionReport, error) {
	resp, err := a.client.Retention(days)
	if err != nil {
		return queue.RetentionReport{}, err
	}
	return queue.RetentionReport{
		Cutoff:          resp.Cutoff,
		RequestsDeleted: resp.RequestsDeleted,
		AuditDeleted:    resp.AuditDeleted,
	}, nil
}

func (a *ipcAccess) ClearCompleted(_ context.Context) (int64, error) {
	resp, err := a.client.QueueClearCompleted()
	if err != nil {
		return 0, err
	}
	return resp.Removed, nil
}

func (a *ipcAccess) RetryFailed(_ context.Context, ids []int64) (int64, error) {
	resp, err := a.client.QueueRetry(ids)
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

func (a *ipcAccess) Audit(_ context.Context, requestID int64, limit int) ([]*queue.AuditEntry, error) {
	resp, err := a.client.Audit(requestID, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]*queue.AuditEntry, 0, len(resp.Entries))
	for _, wire := range resp.Entries {
		entries = append(entries, wire.ToQueue())
	}
	return entries, nil
}

func (a *ipcAccess) DatabaseHealth(_ context.Context) (queue.DatabaseHealth, error) {
	resp, err := a.client.DatabaseHealth()
	if err != nil {
		return queue.DatabaseHealth{}, err
	}
	return queue.DatabaseHealth{
		DBPath:           resp.DBPath,
		DatabaseExists:   resp.DatabaseExists,
		DatabaseReadable: resp.DatabaseReadable,
		JournalMode:      resp.JournalMode,
		TableExists:      resp.TableExists,
		IntegrityCheck:   resp.IntegrityCheck,
		TotalRequests:    resp.TotalRequests,
		TotalAuditRows:   resp.TotalAuditRows,
		Error:            resp.Error,
	}, nil
}

type managerAccess struct {
	manager *queue.Manager
}

func (a *managerAccess) Submit(ctx context.Context, params queue.SubmitParams) (*queue.Request, error) {
	return a.manager.Submit(ctx, params)
}

func (a *managerAccess) Claim(ctx context.Context, processorID string) (*queue.Request, error) {
	return a.manager.ClaimNext(ctx, processorID)
}

func (a *managerAccess) Update(ctx context.Context, params queue.UpdateParams) error {
	return a.manager.UpdateStatus(ctx, params)
}

func (a *managerAccess) Describe(ctx context.Context, id int64) (*queue.Request, error) {
	return a.manager.GetStatus(ctx, id)
}

func (a *managerAccess) DescribeBranch(ctx context.Context, branch string) (*queue.Request, error) {
	return a.manager.GetStatusByBranch(ctx, branch)
}

func (a *managerAccess) List(ctx context.Context, statuses []string) ([]*queue.Request, error) {
	parsed := make([]queue.Status, 0, len(statuses))
	for _, raw := range statuses {
		if status, ok := queue.ParseStatus(raw); ok {
			parsed = append(parsed, status)
		}
	}
	return a.manager.List(ctx, parsed...)
}

func (a *managerAccess) Stats(ctx context.Context) (map[string]int, error) {
	stats, err := a.manager.Stats(ctx)
	if err != nil {
		return nil, err
	}
	converted := make(map[string]int, len(stats))
	for status, count := range stats {
		converted[string(status)] = count
	}
	return converted, nil
}

func (a *managerAccess) Summary(ctx context.Context) (queue.HealthSummary, error) {
	return a.manager.Summary(ctx)
}

func (a *managerAccess) HealthCheck(ctx context.Context, record bool) (queue.HealthReport, error) {
	if record {
		return a.manager.RunHealthCheck(ctx)
	}
	return a.manager.HealthSnapshot(ctx)
}

func (a *managerAccess) Reclaim(ctx context.Context) (queue.ReclaimReport, error) {
	return a.manager.RunReclaim(ctx)
}

func (a *managerAccess) Retention(ctx context.Context, days int) (queue.RetentionReport, error) {
	return a.manager.RunRetention(ctx, days)
}

func (a *managerAccess) ClearCompleted(ctx context.Context) (int64, error) {
	return a.manager.ClearCompleted(ctx)
}

func (a *managerAccess) RetryFailed(ctx context.Context, ids []int64) (int64, error) {
	return a.manager.RetryFailed(ctx, ids...)
}

func (a *managerAccess) Audit(ctx context.Context, requestID int64, limit int) ([]*queue.AuditEntry, error) {
	if requestID > 0 {
		return a.manager.AuditTrail(ctx, requestID, limit)
	}
	return a.manager.RecentAudit(ctx, limit)
}

func (a *managerAccess) DatabaseHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	health, err := a.manager.CheckDatabase(ctx)
	if err != nil && health.Error == "" {
		health.Error = err.Error()
	}
	return health, nil
}
