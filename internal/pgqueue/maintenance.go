package pgqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

// StaleProcessing returns processing rows whose claim predates the cutoff,
// oldest claim first.
func (s *Store) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*queue.Request, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT `+requestColumns+` FROM work_requests
         WHERE status = $1 AND processed_at IS NOT NULL AND processed_at < $2
         ORDER BY processed_at, id`,
		queue.StatusProcessing,
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("select stale processing: %w", err)
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

// ResetStale conditionally returns one stale processing row to pending. The
// guard re-checks status and claim age so a row that completed between the
// snapshot and the reset is left alone. Retry count and claim timestamp are
// untouched; the note lands in error_message for operators.
func (s *Store) ResetStale(ctx context.Context, id int64, note string, cutoff time.Time) (bool, error) {
	tag, err := s.pool.Exec(
		ctx,
		`UPDATE work_requests
         SET status = $1, processor_id = NULL, error_message = $2
         WHERE id = $3 AND status = $4 AND processed_at IS NOT NULL AND processed_at < $5`,
		queue.StatusPending,
		nullIfEmpty(note),
		id,
		queue.StatusProcessing,
		cutoff.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("reset stale request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CountPendingOlderThan counts pending requests created before the cutoff.
func (s *Store) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(
		ctx,
		`SELECT COUNT(1) FROM work_requests WHERE status = $1 AND created_at < $2`,
		queue.StatusPending,
		cutoff.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count old pending: %w", err)
	}
	return count, nil
}

// CountActiveHighRetry counts pending or processing requests created since
// the given time that have already burned at least minRetries attempts.
func (s *Store) CountActiveHighRetry(ctx context.Context, minRetries int, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(
		ctx,
		`SELECT COUNT(1) FROM work_requests
         WHERE status IN ($1, $2) AND retry_count >= $3 AND created_at >= $4`,
		queue.StatusPending,
		queue.StatusProcessing,
		minRetries,
		since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count high retry: %w", err)
	}
	return count, nil
}

// ExpiredTerminal returns ids of terminal requests whose terminal transition
// predates the cutoff.
func (s *Store) ExpiredTerminal(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT id FROM work_requests
         WHERE status = ANY($1) AND processed_at IS NOT NULL AND processed_at < $2
         ORDER BY id`,
		statusStrings([]queue.Status{queue.StatusCompleted, queue.StatusFailed, queue.StatusCancelled}),
		cutoff.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("select expired terminal: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRequests removes request rows by id and reports how many went away.
func (s *Store) DeleteRequests(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM work_requests WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ClearCompleted removes completed requests regardless of age, along with
// their audit trails. One transaction covers both deletes so the audit
// foreign key never dangles mid-clear.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin clear tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `SELECT id FROM work_requests WHERE status = $1`, queue.StatusCompleted)
	if err != nil {
		return 0, fmt.Errorf("select completed: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	if len(ids) == 0 {
		return 0, nil
	}

	if _, err := tx.Exec(ctx, `DELETE FROM audit_log WHERE request_id = ANY($1)`, ids); err != nil {
		return 0, fmt.Errorf("delete audit for requests: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM work_requests WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete requests: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit clear: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RetryFailed resets failed requests back to pending with a fresh retry
// budget. With no ids every failed request resets; with ids only those rows
// reset, and only when still failed.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		tag, err := s.pool.Exec(
			ctx,
			`UPDATE work_requests
             SET status = $1, retry_count = 0, error_message = NULL, processor_id = NULL
             WHERE status = $2`,
			queue.StatusPending,
			queue.StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed requests: %w", err)
		}
		return tag.RowsAffected(), nil
	}

	tag, err := s.pool.Exec(
		ctx,
		`UPDATE work_requests
         SET status = $1, retry_count = 0, error_message = NULL, processor_id = NULL
         WHERE status = $2 AND id = ANY($3)`,
		queue.StatusPending,
		queue.StatusFailed,
		ids,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CheckHealth returns diagnostic information about the queue database.
// JournalMode stays empty here; it is a SQLite concept with no PostgreSQL
// counterpart, and the integrity flag reports that both tables answered a
// round-trip rather than a storage-level scan.
func (s *Store) CheckHealth(ctx context.Context) (queue.DatabaseHealth, error) {
	health := queue.DatabaseHealth{DBPath: s.target}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.pool.Ping(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping postgres: %w", err)
	}
	health.DatabaseExists = true
	health.DatabaseReadable = true

	var tableExists bool
	err := s.pool.QueryRow(
		connCtx,
		`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'work_requests')`,
	).Scan(&tableExists)
	if err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("query table info: %w", err)
	}
	health.TableExists = tableExists

	if tableExists {
		if err := s.pool.QueryRow(connCtx, `SELECT COUNT(1) FROM work_requests`).Scan(&health.TotalRequests); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count requests: %w", err)
		}
		if err := s.pool.QueryRow(connCtx, `SELECT COUNT(1) FROM audit_log`).Scan(&health.TotalAuditRows); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count audit rows: %w", err)
		}
		health.IntegrityCheck = true
	}

	return health, nil
}
