package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a work request.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the request lifecycle.
func (s Status) IsTerminal() bool {
	_, ok := terminalStatuses[s]
	return ok
}

// IsActive reports whether a status still occupies its branch name: pending
// rows waiting for a claim and processing rows mid-flight.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusProcessing
}

// RequestType categorizes what a work request asks the publisher to do.
type RequestType string

// TypeCreatePR is the default request type: create a branch carrying the
// generated file and open a pull request against the target branch.
const TypeCreatePR RequestType = "create_pr"

// Request is a unit of branch/PR work persisted in the queue.
type Request struct {
	ID            int64
	CreatedAt     time.Time
	CreatedBy     string
	RequestType   RequestType
	Status        Status
	BranchName    string
	PRTitle       string
	PRDescription string
	TargetBranch  string
	FileName      string
	Payload       []byte
	StagePath     string
	Priority      int
	RetryCount    int
	MaxRetries    int
	ProcessorID   string
	ProcessedAt   *time.Time
	ErrorMessage  string
	BranchURL     string
	PRURL         string
	PRNumber      int64
}

// IsProcessing reports whether the request is currently claimed.
func (r Request) IsProcessing() bool {
	return r.Status == StatusProcessing
}

// RetriesRemaining returns how many automatic retries the request has left.
func (r Request) RetriesRemaining() int {
	remaining := r.MaxRetries - r.RetryCount
	if remaining < 0 {
		return 0
	}
	return remaining
}

// AuditLevel classifies audit log entries.
type AuditLevel string

const (
	AuditInfo  AuditLevel = "info"
	AuditWarn  AuditLevel = "warn"
	AuditError AuditLevel = "error"
)

// ParseAuditLevel converts a string into a known AuditLevel.
func ParseAuditLevel(value string) (AuditLevel, bool) {
	switch AuditLevel(strings.ToLower(strings.TrimSpace(value))) {
	case AuditInfo:
		return AuditInfo, true
	case AuditWarn:
		return AuditWarn, true
	case AuditError:
		return AuditError, true
	default:
		return "", false
	}
}

// AuditEntry is one append-only audit log record. RequestID is nil for
// queue-wide events such as sweep summaries and health checks.
type AuditEntry struct {
	ID          int64
	RequestID   *int64
	Level       AuditLevel
	Message     string
	Details     string
	ProcessorID string
	CreatedAt   time.Time
}

// ProcessingOutcome carries the complete field set written when a processing
// row leaves the processing state. The Manager computes every value; the
// store applies them in one conditional update.
type ProcessingOutcome struct {
	Status       Status
	RetryCount   int
	ErrorMessage string
	ProcessedAt  *time.Time
	ProcessorID  string
	BranchURL    string
	PRURL        string
	PRNumber     int64
}

// ReclaimReport summarizes one stale-claim sweep.
type ReclaimReport struct {
	Cutoff    time.Time
	Examined  int
	Reclaimed int
}

// HealthReport captures the queue health counters and their classification.
type HealthReport struct {
	CheckedAt    time.Time
	Level        AuditLevel
	OldPending   int
	HighRetry    int
	RecentErrors int
}

// Healthy reports whether the check found nothing to flag.
func (r HealthReport) Healthy() bool {
	return r.Level == AuditInfo
}

// RetentionReport summarizes one retention sweep.
type RetentionReport struct {
	Cutoff          time.Time
	RequestsDeleted int64
	AuditDeleted    int64
}

// HealthSummary describes aggregated request counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Cancelled  int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	JournalMode      string
	TableExists      bool
	IntegrityCheck   bool
	TotalRequests    int
	TotalAuditRows   int
	Error            string
}
