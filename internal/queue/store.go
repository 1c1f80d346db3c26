package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Database-Tycoon/SnowTower-sub001/internal/config"
)

// Store manages work request persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database and applies migrations.
// The [database] dsn overrides the default path under the data directory.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" && cfg.Database.Backend == "sqlite" {
		expanded, err := config.ExpandPath(dsn)
		if err != nil {
			return nil, fmt.Errorf("expand database dsn: %w", err)
		}
		dbPath = expanded
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

const requestColumns = "id, created_at, created_by, request_type, status, branch_name, pr_title, pr_description, target_branch, file_name, payload, stage_path, priority, retry_count, max_retries, processor_id, processed_at, error_message, github_branch_url, github_pr_url, github_pr_number"

func scanRequest(scanner interface{ Scan(dest ...any) error }) (*Request, error) {
	var (
		id            int64
		createdRaw    string
		createdBy     string
		requestType   string
		statusStr     string
		branchName    string
		prTitle       string
		prDescription sql.NullString
		targetBranch  string
		fileName      string
		payload       []byte
		stagePath     sql.NullString
		priority      int
		retryCount    int
		maxRetries    int
		processorID   sql.NullString
		processedRaw  sql.NullString
		errorMessage  sql.NullString
		branchURL     sql.NullString
		prURL         sql.NullString
		prNumber      sql.NullInt64
	)

	if err := scanner.Scan(
		&id,
		&createdRaw,
		&createdBy,
		&requestType,
		&statusStr,
		&branchName,
		&prTitle,
		&prDescription,
		&targetBranch,
		&fileName,
		&payload,
		&stagePath,
		&priority,
		&retryCount,
		&maxRetries,
		&processorID,
		&processedRaw,
		&errorMessage,
		&branchURL,
		&prURL,
		&prNumber,
	); err != nil {
		return nil, err
	}

	req := &Request{
		ID:            id,
		CreatedBy:     createdBy,
		RequestType:   RequestType(requestType),
		Status:        Status(statusStr),
		BranchName:    branchName,
		PRTitle:       prTitle,
		PRDescription: prDescription.String,
		TargetBranch:  targetBranch,
		FileName:      fileName,
		Payload:       payload,
		StagePath:     stagePath.String,
		Priority:      priority,
		RetryCount:    retryCount,
		MaxRetries:    maxRetries,
		ProcessorID:   processorID.String,
		ErrorMessage:  errorMessage.String,
		BranchURL:     branchURL.String,
		PRURL:         prURL.String,
		PRNumber:      prNumber.Int64,
	}

	if created, err := parseTimeString(createdRaw); err == nil {
		req.CreatedAt = created
	}
	if processedRaw.Valid {
		if processed, err := parseTimeString(processedRaw.String); err == nil {
			req.ProcessedAt = &processed
		}
	}
	return req, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
