package pgqueue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/queue"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps a pgx connection pool and implements queue.Backend.
type Store struct {
	pool   *pgxpool.Pool
	target string
}

var _ queue.Backend = (*Store)(nil)

// Open connects to PostgreSQL, verifies the connection, and applies the
// queue schema. The schema statements are idempotent, so concurrent daemons
// pointing at the same database race harmlessly.
func Open(ctx context.Context, dsn string) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{
		pool: pool,
		target: fmt.Sprintf("postgres://%s@%s:%d/%s",
			poolCfg.ConnConfig.User,
			poolCfg.ConnConfig.Host,
			poolCfg.ConnConfig.Port,
			poolCfg.ConnConfig.Database,
		),
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply postgres schema: %w", err)
	}
	return store, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Target returns the connection target with credentials stripped.
func (s *Store) Target() string {
	return s.target
}

const requestColumns = `id, created_at, created_by, request_type, status, branch_name,
    pr_title, pr_description, target_branch, file_name, payload, stage_path,
    priority, retry_count, max_retries, processor_id, processed_at,
    error_message, github_branch_url, github_pr_url, github_pr_number`

func scanRequest(scanner interface{ Scan(dest ...any) error }) (*queue.Request, error) {
	var (
		req         queue.Request
		description pgtype.Text
		stagePath   pgtype.Text
		processorID pgtype.Text
		processedAt pgtype.Timestamptz
		errMessage  pgtype.Text
		branchURL   pgtype.Text
		prURL       pgtype.Text
		prNumber    pgtype.Int8
	)

	err := scanner.Scan(
		&req.ID,
		&req.CreatedAt,
		&req.CreatedBy,
		&req.RequestType,
		&req.Status,
		&req.BranchName,
		&req.PRTitle,
		&description,
		&req.TargetBranch,
		&req.FileName,
		&req.Payload,
		&stagePath,
		&req.Priority,
		&req.RetryCount,
		&req.MaxRetries,
		&processorID,
		&processedAt,
		&errMessage,
		&branchURL,
		&prURL,
		&prNumber,
	)
	if err != nil {
		return nil, err
	}

	req.CreatedAt = req.CreatedAt.UTC()
	req.PRDescription = description.String
	req.StagePath = stagePath.String
	req.ProcessorID = processorID.String
	if processedAt.Valid {
		at := processedAt.Time.UTC()
		req.ProcessedAt = &at
	}
	req.ErrorMessage = errMessage.String
	req.BranchURL = branchURL.String
	req.PRURL = prURL.String
	req.PRNumber = prNumber.Int64
	return &req, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZero(n int64) *int64 {
	if n == 0 {
		return nil
	}
	return &n
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	at := t.UTC()
	return &at
}

func statusStrings(statuses []queue.Status) []string {
	values := make([]string, len(statuses))
	for i, status := range statuses {
		values[i] = string(status)
	}
	return values
}
