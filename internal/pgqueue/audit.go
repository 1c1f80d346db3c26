package pgqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

const auditColumns = "id, request_id, level, message, details, processor_id, created_at"

// AppendAudit persists one audit entry. The log is append-only: nothing
// updates rows after insert, and only the retention sweep deletes them.
func (s *Store) AppendAudit(ctx context.Context, entry *queue.AuditEntry) error {
	if entry == nil {
		return errors.New("audit entry is nil")
	}

	err := s.pool.QueryRow(
		ctx,
		`INSERT INTO audit_log (request_id, level, message, details, processor_id, created_at)
         VALUES ($1, $2, $3, $4, $5, $6)
         RETURNING id`,
		entry.RequestID,
		entry.Level,
		entry.Message,
		nullIfEmpty(entry.Details),
		nullIfEmpty(entry.ProcessorID),
		entry.CreatedAt.UTC(),
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// AuditForRequest returns the newest audit entries for one request.
func (s *Store) AuditForRequest(ctx context.Context, requestID int64, limit int) ([]*queue.AuditEntry, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT `+auditColumns+` FROM audit_log WHERE request_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
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
func (s *Store) RecentAudit(ctx context.Context, limit int) ([]*queue.AuditEntry, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT `+auditColumns+` FROM audit_log ORDER BY created_at DESC, id DESC LIMIT $1`,
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
func (s *Store) CountAuditLevelSince(ctx context.Context, level queue.AuditLevel, since time.Time) (int, error) {
	var count int
	err := s.pool.QueryRow(
		ctx,
		`SELECT COUNT(1) FROM audit_log WHERE level = $1 AND created_at >= $2`,
		level,
		since.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count audit level: %w", err)
	}
	return count, nil
}

// DeleteAuditForRequests removes all audit entries belonging to the given
// requests. Runs before the request rows go away so the foreign key never
// dangles.
func (s *Store) DeleteAuditForRequests(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE request_id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("delete audit for requests: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteUnlinkedAuditBefore removes queue-wide audit entries (request id
// NULL) older than the cutoff so sweep summaries do not accumulate forever.
func (s *Store) DeleteUnlinkedAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(
		ctx,
		`DELETE FROM audit_log WHERE request_id IS NULL AND created_at < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete unlinked audit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collectAudit(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]*queue.AuditEntry, error) {
	var entries []*queue.AuditEntry
	for rows.Next() {
		entry, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanAudit(scanner interface{ Scan(dest ...any) error }) (*queue.AuditEntry, error) {
	var (
		entry       queue.AuditEntry
		requestID   pgtype.Int8
		level       string
		details     pgtype.Text
		processorID pgtype.Text
		createdAt   time.Time
	)

	if err := scanner.Scan(&entry.ID, &requestID, &level, &entry.Message, &details, &processorID, &createdAt); err != nil {
		return nil, err
	}

	entry.Level = queue.AuditLevel(level)
	entry.Details = details.String
	entry.ProcessorID = processorID.String
	entry.CreatedAt = createdAt.UTC()
	if requestID.Valid {
		value := requestID.Int64
		entry.RequestID = &value
	}
	return &entry, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
