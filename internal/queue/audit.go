package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AppendAudit persists one audit entry. The log is append-only: nothing
// updates rows after insert, and only the retention sweep deletes them.
func (s *Store) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	if entry == nil {
		return errors.New("audit entry is nil")
	}

	var requestID any
	if entry.RequestID != nil {
		requestID = *entry.RequestID
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO audit_log (request_id, level, message, details, processor_id, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		requestID,
		entry.Level,
		entry.Message,
		nullableString(entry.Details),
		nullableString(entry.ProcessorID),
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("audit insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// AuditForRequest returns the newest audit entries for one request.
func (s *Store) AuditForRequest(ctx context.Context, requestID int64, limit int) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE request_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		requestID,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("audit for request: %w", err)
	}
	defer rows.Close()
	return collectAudit(rows)
}

// RecentAudit returns the newest audit entries across the whole queue.
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+auditColumns+` FROM audit_log ORDER BY created_at DESC, id DESC LIMIT ?`,
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("recent audit: %w", err)
	}
	defer rows.Close()
	return collectAudit(rows)
}

// CountAuditLevelSince counts audit entries at a level recorded on or after
// the given time.
func (s *Store) CountAuditLevelSince(ctx context.Context, level AuditLevel, since time.Time) (int, error) {
	var count int
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM audit_log WHERE level = ? AND created_at >= ?`,
		level,
		formatTime(since),
	)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count audit level: %w", err)
	}
	return count, nil
}

// DeleteAuditForRequests removes all audit entries belonging to the given
// requests. Runs before the request rows go away so the foreign key never
// dangles.
func (s *Store) DeleteAuditForRequests(ctx context.Context, ids []int64) (int64, error) {
	return deleteAuditRows(ctx, s.db, ids)
}

func deleteAuditRows(ctx context.Context, db execContext, ids []int64) (int64, error) {
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
			`DELETE FROM audit_log WHERE request_id IN (`+makePlaceholders(len(chunk))+`)`,
			args...,
		)
		if err != nil {
			return total, fmt.Errorf("delete audit for requests: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("audit delete rows affected: %w", err)
		}
		total += affected
	}
	return total, nil
}

// DeleteUnlinkedAuditBefore removes queue-wide audit entries (request id
// NULL) older than the cutoff so sweep summaries do not accumulate forever.
func (s *Store) DeleteUnlinkedAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM audit_log WHERE request_id IS NULL AND created_at < ?`,
		formatTime(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("delete unlinked audit: %w", err)
	}
	return res.RowsAffected()
}

const auditColumns = "id, request_id, level, message, details, processor_id, created_at"

func collectAudit(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAudit(scanner interface{ Scan(dest ...any) error }) (*AuditEntry, error) {
	var (
		id          int64
		requestID   sql.NullInt64
		level       string
		message     string
		details     sql.NullString
		processorID sql.NullString
		createdRaw  string
	)

	if err := scanner.Scan(&id, &requestID, &level, &message, &details, &processorID, &createdRaw); err != nil {
		return nil, err
	}

	entry := &AuditEntry{
		ID:          id,
		Level:       AuditLevel(level),
		Message:     message,
		Details:     details.String,
		ProcessorID: processorID.String,
	}
	if requestID.Valid {
		value := requestID.Int64
		entry.RequestID = &value
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	return entry, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
