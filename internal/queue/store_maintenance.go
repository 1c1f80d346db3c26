package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// deleteChunkSize bounds IN (...) lists so retention never exceeds the
// SQLite bound-parameter limit.
const deleteChunkSize = 500

// execContext is satisfied by both *sql.DB and *sql.Tx so the chunked
// deletes can run standalone or inside a transaction.
type execContext interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StaleProcessing returns processing rows whose claim predates the cutoff,
// oldest claim first.
func (s *Store) StaleProcessing(ctx context.Context, cutoff time.Time) ([]*Request, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+requestColumns+` FROM work_requests
         WHERE status = ? AND processed_at IS NOT NULL AND processed_at < ?
         ORDER BY processed_at, id`,
		StatusProcessing,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("select stale processing: %w", err)
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

// ResetStale conditionally returns one stale processing row to pending. The
// guard re-checks status and claim age so a row that completed between the
// snapshot and the reset is left alone. Retry count and claim timestamp are
// untouched; the note lands in error_message for operators.
func (s *Store) ResetStale(ctx context.Context, id int64, note string, cutoff time.Time) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE work_requests
         SET status = ?, processor_id = NULL, error_message = ?
         WHERE id = ? AND status = ? AND processed_at IS NOT NULL AND processed_at < ?`,
		StatusPending,
		nullableString(note),
		id,
		StatusProcessing,
		formatTime(cutoff),
	)
	if err != nil {
		return false, fmt.Errorf("reset stale request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset rows affected: %w", err)
	}
	return affected == 1, nil
}

// CountPendingOlderThan counts pending requests created before the cutoff.
func (s *Store) CountPendingOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM work_requests WHERE status = ? AND created_at < ?`,
		StatusPending,
		formatTime(cutoff),
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count old pending: %w", err)
	}
	return count, nil
}

// CountActiveHighRetry counts pending or processing requests created since
// the given time that have already burned at least minRetries attempts.
func (s *Store) CountActiveHighRetry(ctx context.Context, minRetries int, since time.Time) (int, error) {
	var count int
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM work_requests
         WHERE status IN (?, ?) AND retry_count >= ? AND created_at >= ?`,
		StatusPending,
		StatusProcessing,
		minRetries,
		formatTime(since),
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count high retry: %w", err)
	}
	return count, nil
}

// ExpiredTerminal returns ids of terminal requests whose terminal transition
// predates the cutoff.
func (s *Store) ExpiredTerminal(ctx context.Context, cutoff time.Time) ([]int64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM work_requests
         WHERE status IN (?, ?, ?) AND processed_at IS NOT NULL AND processed_at < ?
         ORDER BY id`,
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
		formatTime(cutoff),
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
	return deleteRequestRows(ctx, s.db, ids)
}

func deleteRequestRows(ctx context.Context, db execContext, ids []int64) (int64, error) {
	var total int64
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		res, err := db.ExecContext(
			ctx,
			`DELETE FROM work_requests WHERE id IN (`+makePlaceholders(len(chunk))+`)`,
			args...,
		)
		if err != nil {
			return total, fmt.Errorf("delete requests: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("delete rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

// ClearCompleted removes completed requests regardless of age, along with
// their audit trails. One transaction covers both deletes so the audit
// foreign key never dangles mid-clear.
func (s *Store) ClearCompleted(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin clear tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM work_requests WHERE status = ?`, StatusCompleted)
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

	if _, err := deleteAuditRows(ctx, tx, ids); err != nil {
		return 0, err
	}
	cleared, err := deleteRequestRows(ctx, tx, ids)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit clear: %w", err)
	}
	return cleared, nil
}

// RetryFailed resets failed requests back to pending with a fresh retry
// budget. With no ids every failed request resets; with ids only those rows
// reset, and only when still failed.
func (s *Store) RetryFailed(ctx context.Context, ids ...int64) (int64, error) {
	if len(ids) == 0 {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE work_requests
             SET status = ?, retry_count = 0, error_message = NULL, processor_id = NULL
             WHERE status = ?`,
			StatusPending,
			StatusFailed,
		)
		if err != nil {
			return 0, fmt.Errorf("retry failed requests: %w", err)
		}
		return res.RowsAffected()
	}

	args := make([]any, 0, len(ids)+2)
	args = append(args, StatusPending, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE work_requests
         SET status = ?, retry_count = 0, error_message = NULL, processor_id = NULL
         WHERE status = ? AND id IN (`+makePlaceholders(len(ids))+`)`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("retry selected requests: %w", err)
	}
	return res.RowsAffected()
}

// CheckHealth returns diagnostic information about the queue database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("queue database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("queue database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("queue database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping queue database: %w", err)
	}
	health.DatabaseReadable = true

	row := s.db.QueryRowContext(connCtx, "PRAGMA journal_mode")
	if err := row.Scan(&health.JournalMode); err != nil && !errors.Is(err, sql.ErrNoRows) {
		health.Error = err.Error()
		return health, fmt.Errorf("read journal mode: %w", err)
	}

	var tableName string
	row = s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'work_requests'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM work_requests")
		if err := row.Scan(&health.TotalRequests); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count requests: %w", err)
		}
		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM audit_log")
		if err := row.Scan(&health.TotalAuditRows); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count audit rows: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
