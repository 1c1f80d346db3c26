package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

// InsertRequest persists a new pending request and returns its assigned id.
// The duplicate-branch check and the insert share one transaction; the
// partial unique index on active branch names backstops the race where two
// submitters pass the check concurrently.
func (s *Store) InsertRequest(ctx context.Context, req *queue.Request) (int64, error) {
	if req == nil {
		return 0, errors.New("request is nil")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var active int
	err = tx.QueryRow(
		ctx,
		`SELECT COUNT(1) FROM work_requests WHERE branch_name = $1 AND status IN ($2, $3)`,
		req.BranchName,
		queue.StatusPending,
		queue.StatusProcessing,
	).Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("check active branch: %w", err)
	}
	if active > 0 {
		return 0, fmt.Errorf("%w: %s", queue.ErrDuplicateActiveRequest, req.BranchName)
	}

	var id int64
	err = tx.QueryRow(
		ctx,
		`INSERT INTO work_requests (
            created_at, created_by, request_type, status, branch_name,
            pr_title, pr_description, target_branch, file_name, payload,
            stage_path, priority, retry_count, max_retries
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
        RETURNING id`,
		req.CreatedAt.UTC(),
		req.CreatedBy,
		req.RequestType,
		queue.StatusPending,
		req.BranchName,
		req.PRTitle,
		nullIfEmpty(req.PRDescription),
		req.TargetBranch,
		req.FileName,
		req.Payload,
		nullIfEmpty(req.StagePath),
		req.Priority,
		req.RetryCount,
		req.MaxRetries,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", queue.ErrDuplicateActiveRequest, req.BranchName)
		}
		return 0, fmt.Errorf("insert request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return id, nil
}

// RequestByID fetches a work request by identifier.
func (s *Store) RequestByID(ctx context.Context, id int64) (*queue.Request, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM work_requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get request: %w", err)
	}
	return req, nil
}

// LatestByBranch returns the most recently created request for a branch.
func (s *Store) LatestByBranch(ctx context.Context, branch string) (*queue.Request, error) {
	row := s.pool.QueryRow(
		ctx,
		`SELECT `+requestColumns+` FROM work_requests WHERE branch_name = $1 ORDER BY created_at DESC, id DESC LIMIT 1`,
		branch,
	)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by branch: %w", err)
	}
	return req, nil
}

// List returns requests filtered by status set (or all requests when no
// status is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...queue.Status) ([]*queue.Request, error) {
	var (
		rows pgx.Rows
		err  error
	)

	baseQuery := `SELECT ` + requestColumns + ` FROM work_requests`
	orderClause := ` ORDER BY created_at, id`

	if len(statuses) == 0 {
		rows, err = s.pool.Query(ctx, baseQuery+orderClause)
	} else {
		rows, err = s.pool.Query(ctx, baseQuery+` WHERE status = ANY($1)`+orderClause, statusStrings(statuses))
	}
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var requests []*queue.Request
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
func (s *Store) NextPending(ctx context.Context) (*queue.Request, error) {
	row := s.pool.QueryRow(
		ctx,
		`SELECT `+requestColumns+` FROM work_requests
         WHERE status = $1 AND retry_count <= max_retries
         ORDER BY priority DESC, created_at ASC, id ASC LIMIT 1`,
		queue.StatusPending,
	)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	tag, err := s.pool.Exec(
		ctx,
		`UPDATE work_requests
         SET status = $1, processor_id = $2, processed_at = $3
         WHERE id = $4 AND status = $5`,
		queue.StatusProcessing,
		processorID,
		at.UTC(),
		id,
		queue.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateFromProcessing applies a terminal or retry transition to a request
// that is still in the processing state. The write is conditional on the
// current status; false means the row left processing concurrently.
func (s *Store) UpdateFromProcessing(ctx context.Context, id int64, outcome queue.ProcessingOutcome) (bool, error) {
	tag, err := s.pool.Exec(
		ctx,
		`UPDATE work_requests
         SET status = $1, retry_count = $2, error_message = $3, processed_at = $4,
             processor_id = $5, github_branch_url = $6, github_pr_url = $7, github_pr_number = $8
         WHERE id = $9 AND status = $10`,
		outcome.Status,
		outcome.RetryCount,
		nullIfEmpty(outcome.ErrorMessage),
		utcOrNil(outcome.ProcessedAt),
		nullIfEmpty(outcome.ProcessorID),
		nullIfEmpty(outcome.BranchURL),
		nullIfEmpty(outcome.PRURL),
		nullIfZero(outcome.PRNumber),
		id,
		queue.StatusProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("update from processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetStagePath records where a claimed request's payload was staged on disk.
func (s *Store) SetStagePath(ctx context.Context, id int64, path string) error {
	_, err := s.pool.Exec(
		ctx,
		`UPDATE work_requests SET stage_path = $1 WHERE id = $2`,
		nullIfEmpty(path),
		id,
	)
	if err != nil {
		return fmt.Errorf("set stage path: %w", err)
	}
	return nil
}

// Stats returns a count of requests grouped by status.
func (s *Store) Stats(ctx context.Context) (map[queue.Status]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(1) FROM work_requests GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[queue.Status]int)
	for rows.Next() {
		var status queue.Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates request counts for diagnostic output.
func (s *Store) Health(ctx context.Context) (queue.HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return queue.HealthSummary{}, err
	}
	health := queue.HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case queue.StatusPending:
			health.Pending += count
		case queue.StatusProcessing:
			health.Processing += count
		case queue.StatusCompleted:
			health.Completed += count
		case queue.StatusFailed:
			health.Failed += count
		case queue.StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}
