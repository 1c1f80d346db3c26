package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// InsertRequest persists a new pending request and returns its assigned id.
// The duplicate-branch check and the insert share one transaction; the
// partial unique index on active branch names backstops the race where two
// submitters pass the check concurrently.
func (s *Store) InsertRequest(ctx context.Context, req *Request) (int64, error) {
	if req == nil {
		return 0, errors.New("request is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var active int
	row := tx.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM work_requests WHERE branch_name = ? AND status IN (?, ?)`,
		req.BranchName,
		StatusPending,
		StatusProcessing,
	)
	if err := row.Scan(&active); err != nil {
		return 0, fmt.Errorf("check active branch: %w", err)
	}
	if active > 0 {
		return 0, fmt.Errorf("%w: %s", ErrDuplicateActiveRequest, req.BranchName)
	}

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO work_requests (
            created_at, created_by, request_type, status, branch_name,
            pr_title, pr_description, target_branch, file_name, payload,
            stage_path, priority, retry_count, max_retries
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(req.CreatedAt),
		req.CreatedBy,
		req.RequestType,
		StatusPending,
		req.BranchName,
		req.PRTitle,
		nullableString(req.PRDescription),
		req.TargetBranch,
		req.FileName,
		req.Payload,
		nullableString(req.StagePath),
		req.Priority,
		req.RetryCount,
		req.MaxRetries,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, fmt.Errorf("%w: %s", ErrDuplicateActiveRequest, req.BranchName)
		}
		return 0, fmt.Errorf("insert request: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return id, nil
}

// RequestByID fetches a work request by identifier.
func (s *Store) RequestByID(ctx context.Context, id int64) (*Request, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM work_requests WHERE id = ?`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// LatestByBranch returns the most recently created request for a branch.
func (s *Store) LatestByBranch(ctx context.Context, branch string) (*Request, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+requestColumns+` FROM work_requests WHERE branch_name = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		branch,
	)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by branch: %w", err)
	}
	return req, nil
}

// List returns requests filtered by status set (or all requests when no
// status is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Request, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + requestColumns + ` FROM work_requests`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []*Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

// NextPending returns the highest-priority eligible pending request, oldest
// first within a priority, lowest id breaking exact ties. Returns nil when
// the queue has no claimable work.
func (s *Store) NextPending(ctx context.Context) (*Request, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+requestColumns+` FROM work_requests
         WHERE status = ? AND retry_count <= max_retries
         ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`,
		StatusPending,
	)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select pending candidate: %w", err)
	}
	return req, nil
}

// ClaimPending attempts the conditional claim of a pending request. Exactly
// one concurrent caller observes true; everyone else affects zero rows.
func (s *Store) ClaimPending(ctx context.Context, id int64, processorID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE work_requests
         SET status = ?, processor_id = ?, processed_at = ?
         WHERE id = ? AND status = ?`,
		StatusProcessing,
		processorID,
		formatTime(at),
		id,
		StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return affected == 1, nil
}

// UpdateFromProcessing applies a terminal or retry transition to a request
// that is still in the processing state. The write is conditional on the
// current status; false means the row left processing concurrently.
func (s *Store) UpdateFromProcessing(ctx context.Context, id int64, outcome ProcessingOutcome) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE work_requests
         SET status = ?, retry_count = ?, error_message = ?, processed_at = ?,
             processor_id = ?, github_branch_url = ?, github_pr_url = ?, github_pr_number = ?
         WHERE id = ? AND status = ?`,
		outcome.Status,
		outcome.RetryCount,
		nullableString(outcome.ErrorMessage),
		nullableTime(outcome.ProcessedAt),
		nullableString(outcome.ProcessorID),
		nullableString(outcome.BranchURL),
		nullableString(outcome.PRURL),
		nullableInt64(outcome.PRNumber),
		id,
		StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("update from processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update rows affected: %w", err)
	}
	return affected == 1, nil
}

// SetStagePath records where a claimed request's payload was staged on disk.
func (s *Store) SetStagePath(ctx context.Context, id int64, path string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE work_requests SET stage_path = ? WHERE id = ?`,
		nullableString(path),
		id,
	)
	if err != nil {
		return fmt.Errorf("set stage path: %w", err)
	}
	return nil
}

// Stats returns a count of requests grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM work_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates request counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}
