package ipc

import (
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

// Request mirrors queue.Request for wire transport.
type Request struct {
	ID            int64      `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	CreatedBy     string     `json:"created_by"`
	RequestType   string     `json:"request_type"`
	Status        string     `json:"status"`
	BranchName    string     `json:"branch_name"`
	PRTitle       string     `json:"pr_title"`
	PRDescription string     `json:"pr_description,omitempty"`
	TargetBranch  string     `json:"target_branch"`
	FileName      string     `json:"file_name"`
	Payload       []byte     `json:"payload,omitempty"`
	StagePath     string     `json:"stage_path,omitempty"`
	Priority      int        `json:"priority"`
	RetryCount    int        `json:"retry_count"`
	MaxRetries    int        `json:"max_retries"`
	ProcessorID   string     `json:"processor_id,omitempty"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	BranchURL     string     `json:"branch_url,omitempty"`
	PRURL         string     `json:"pr_url,omitempty"`
	PRNumber      int64      `json:"pr_number,omitempty"`
}

// FromQueueRequest converts a queue row into its wire form.
func FromQueueRequest(req *queue.Request) Request {
	if req == nil {
		return Request{}
	}
	return Request{
		ID:            req.ID,
		CreatedAt:     req.CreatedAt,
		CreatedBy:     req.CreatedBy,
		RequestType:   string(req.RequestType),
		Status:        string(req.Status),
		BranchName:    req.BranchName,
		PRTitle:       req.PRTitle,
		PRDescription: req.PRDescription,
		TargetBranch:  req.TargetBranch,
		FileName:      req.FileName,
		Payload:       req.Payload,
		StagePath:     req.StagePath,
		Priority:      req.Priority,
		RetryCount:    req.RetryCount,
		MaxRetries:    req.MaxRetries,
		ProcessorID:   req.ProcessorID,
		ProcessedAt:   req.ProcessedAt,
		ErrorMessage:  req.ErrorMessage,
		BranchURL:     req.BranchURL,
		PRURL:         req.PRURL,
		PRNumber:      req.PRNumber,
	}
}

// ToQueue converts the wire form back into a queue row.
func (r Request) ToQueue() *queue.Request {
	return &queue.Request{
		ID:            r.ID,
		CreatedAt:     r.CreatedAt,
		CreatedBy:     r.CreatedBy,
		RequestType:   queue.RequestType(r.RequestType),
		Status:        queue.Status(r.Status),
		BranchName:    r.BranchName,
		PRTitle:       r.PRTitle,
		PRDescription: r.PRDescription,
		TargetBranch:  r.TargetBranch,
		FileName:      r.FileName,
		Payload:       r.Payload,
		StagePath:     r.StagePath,
		Priority:      r.Priority,
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		ProcessorID:   r.ProcessorID,
		ProcessedAt:   r.ProcessedAt,
		ErrorMessage:  r.ErrorMessage,
		BranchURL:     r.BranchURL,
		PRURL:         r.PRURL,
		PRNumber:      r.PRNumber,
	}
}

// AuditEntry mirrors queue.AuditEntry for wire transport.
type AuditEntry struct {
	ID          int64     `json:"id"`
	RequestID   *int64    `json:"request_id,omitempty"`
	Level       string    `json:"level"`
	Message     string    `json:"message"`
	Details     string    `json:"details,omitempty"`
	ProcessorID string    `json:"processor_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// FromAuditEntry converts an audit row into its wire form.
func FromAuditEntry(entry *queue.AuditEntry) AuditEntry {
	if entry == nil {
		return AuditEntry{}
	}
	return AuditEntry{
		ID:          entry.ID,
		RequestID:   entry.RequestID,
		Level:       string(entry.Level),
		Message:     entry.Message,
		Details:     entry.Details,
		ProcessorID: entry.ProcessorID,
		CreatedAt:   entry.CreatedAt,
	}
}

// ToQueue converts the wire form back into an audit row.
func (e AuditEntry) ToQueue() *queue.AuditEntry {
	return &queue.AuditEntry{
		ID:          e.ID,
		RequestID:   e.RequestID,
		Level:       queue.AuditLevel(e.Level),
		Message:     e.Message,
		Details:     e.Details,
		ProcessorID: e.ProcessorID,
		CreatedAt:   e.CreatedAt,
	}
}

// StartRequest resumes daemon processing.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon processing.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents daemon runtime information.
type StatusResponse struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	StartedAt      time.Time      `json:"started_at"`
	Workers        int            `json:"workers"`
	LockPath       string         `json:"lock_path"`
	DatabaseTarget string         `json:"database_target"`
	QueueStats     map[string]int `json:"queue_stats"`
}

// SubmitRequest enqueues a new work request.
type SubmitRequest struct {
	CreatedBy     string `json:"created_by"`
	RequestType   string `json:"request_type,omitempty"`
	BranchName    string `json:"branch_name"`
	PRTitle       string `json:"pr_title"`
	PRDescription string `json:"pr_description,omitempty"`
	TargetBranch  string `json:"target_branch,omitempty"`
	FileName      string `json:"file_name"`
	Payload       []byte `json:"payload,omitempty"`
	Priority      int    `json:"priority,omitempty"`
	MaxRetries    int    `json:"max_retries,omitempty"`
}

// SubmitResponse carries the stored request.
type SubmitResponse struct {
	Request Request `json:"request"`
}

// ClaimRequest claims the next pending request for a processor.
type ClaimRequest struct {
	ProcessorID string `json:"processor_id"`
}

// ClaimResponse carries the claimed request, if any.
type ClaimResponse struct {
	Claimed bool     `json:"claimed"`
	Request *Request `json:"request,omitempty"`
}

// UpdateRequest reports a processing outcome.
type UpdateRequest struct {
	ID           int64  `json:"id"`
	ProcessorID  string `json:"processor_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	BranchURL    string `json:"branch_url,omitempty"`
	PRURL        string `json:"pr_url,omitempty"`
	PRNumber     int64  `json:"pr_number,omitempty"`
}

// UpdateResponse indicates the outcome was applied.
type UpdateResponse struct {
	Updated bool `json:"updated"`
}

// DescribeRequest fetches one request by id or branch name.
type DescribeRequest struct {
	ID     int64  `json:"id,omitempty"`
	Branch string `json:"branch,omitempty"`
}

// DescribeResponse contains a single request.
type DescribeResponse struct {
	Request Request `json:"request"`
}

// QueueListRequest filters queue listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains queue entries.
type QueueListResponse struct {
	Requests []Request `json:"requests"`
}

// QueueStatsRequest fetches per-status counts.
type QueueStatsRequest struct{}

// QueueStatsResponse reports per-status counts.
type QueueStatsResponse struct {
	Stats map[string]int `json:"stats"`
}

// QueueHealthRequest fetches aggregate diagnostics.
type QueueHealthRequest struct{}

// QueueHealthResponse reports queue health information.
type QueueHealthResponse struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// HealthCheckRequest evaluates queue health. Record controls whether the
// verdict is written to the audit log.
type HealthCheckRequest struct {
	Record bool `json:"record"`
}

// HealthCheckResponse reports the health classification and its counters.
type HealthCheckResponse struct {
	Level        string    `json:"level"`
	Healthy      bool      `json:"healthy"`
	CheckedAt    time.Time `json:"checked_at"`
	OldPending   int       `json:"old_pending"`
	HighRetry    int       `json:"high_retry"`
	RecentErrors int       `json:"recent_errors"`
}

// ReclaimRequest sweeps stale processing claims.
type ReclaimRequest struct{}

// ReclaimResponse reports the sweep outcome.
type ReclaimResponse struct {
	Cutoff    time.Time `json:"cutoff"`
	Examined  int       `json:"examined"`
	Reclaimed int       `json:"reclaimed"`
}

// RetentionRequest runs a retention sweep. Days overrides the configured
// window when positive.
type RetentionRequest struct {
	Days int `json:"days"`
}

// RetentionResponse reports the sweep outcome.
type RetentionResponse struct {
	Cutoff          time.Time `json:"cutoff"`
	RequestsDeleted int64     `json:"requests_deleted"`
	AuditDeleted    int64     `json:"audit_deleted"`
}

// QueueClearCompletedRequest removes completed requests.
type QueueClearCompletedRequest struct{}

// QueueClearCompletedResponse reports number of removed entries.
type QueueClearCompletedResponse struct {
	Removed int64 `json:"removed"`
}

// QueueRetryRequest retries failed requests. Empty list means all failed
// requests.
type QueueRetryRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueRetryResponse reports number of retried requests.
type QueueRetryResponse struct {
	Updated int64 `json:"updated"`
}

// AuditRequest fetches audit entries. RequestID 0 means the newest entries
// across the whole queue.
type AuditRequest struct {
	RequestID int64 `json:"request_id,omitempty"`
	Limit     int   `json:"limit,omitempty"`
}

// AuditResponse contains audit entries.
type AuditResponse struct {
	Entries []AuditEntry `json:"entries"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// DatabaseHealthRequest fetches detailed storage diagnostics.
type DatabaseHealthRequest struct{}

// DatabaseHealthResponse reports storage health information.
type DatabaseHealthResponse struct {
	DBPath           string `json:"db_path"`
	DatabaseExists   bool   `json:"database_exists"`
	DatabaseReadable bool   `json:"database_readable"`
	JournalMode      string `json:"journal_mode,omitempty"`
	TableExists      bool   `json:"table_exists"`
	IntegrityCheck   bool   `json:"integrity_check"`
	TotalRequests    int    `json:"total_requests"`
	TotalAuditRows   int    `json:"total_audit_rows"`
	Error            string `json:"error,omitempty"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
