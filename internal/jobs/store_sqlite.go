package jobs

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// SQLiteStore はジョブ状態を SQLite に保存します。
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore はデータベースを開き、スキーマを作成します。
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Create は新しいジョブを保存します。
func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job with id is required")
	}
	row, err := toRow(job)
	if err != nil {
		return err
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO jobs (id, original_name, status, output_name, combined_content, source_outputs, error, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.id, row.originalName, row.status, row.outputName, row.combined, row.sources, row.errorJSON, row.createdAt, row.completedAt,
		)
		return err
	})
}

// Get はジョブ情報を取得します。
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	return s.load(ctx, s.db, id)
}

// Complete はジョブ完了時の情報を保存します。
func (s *SQLiteStore) Complete(ctx context.Context, id string, c Completion, now time.Time) error {
	return s.transition(ctx, id, func(job *Job) error {
		return job.complete(c, now)
	})
}

// Fail はジョブ失敗時の情報を保存します。
func (s *SQLiteStore) Fail(ctx context.Context, id string, info ErrorInfo, now time.Time) error {
	return s.transition(ctx, id, func(job *Job) error {
		return job.fail(info, now)
	})
}

// Close はデータベース接続を閉じます。
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) load(ctx context.Context, q queryer, id string) (*Job, error) {
	var row jobRow
	err := q.QueryRowContext(ctx, `
		SELECT id, original_name, status, output_name, combined_content, source_outputs, error, created_at, completed_at
		FROM jobs WHERE id = ?`, id,
	).Scan(&row.id, &row.originalName, &row.status, &row.outputName, &row.combined, &row.sources, &row.errorJSON, &row.createdAt, &row.completedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return row.toJob()
}

func (s *SQLiteStore) transition(ctx context.Context, id string, mutate func(*Job) error) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		job, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}
		row, err := toRow(job)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = ?, output_name = ?, combined_content = ?, source_outputs = ?, error = ?, completed_at = ?
			WHERE id = ? AND status = ?`,
			row.status, row.outputName, row.combined, row.sources, row.errorJSON, row.completedAt, id, string(StatusProcessing),
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrAlreadyTerminal
		}
		return tx.Commit()
	})
}

// jobRow は SQLite の列表現です。
type jobRow struct {
	id           string
	originalName string
	status       string
	outputName   string
	combined     string
	sources      string
	errorJSON    string
	createdAt    string
	completedAt  string
}

func toRow(job *Job) (jobRow, error) {
	sources, err := json.Marshal(job.SourceOutputs)
	if err != nil {
		return jobRow{}, err
	}
	if job.SourceOutputs == nil {
		sources = []byte("[]")
	}
	row := jobRow{
		id:           job.ID,
		originalName: job.OriginalName,
		status:       string(job.Status),
		outputName:   job.OutputName,
		combined:     job.CombinedContent,
		sources:      string(sources),
		createdAt:    job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if job.Error != nil {
		data, err := json.Marshal(job.Error)
		if err != nil {
			return jobRow{}, err
		}
		row.errorJSON = string(data)
	}
	if job.CompletedAt != nil {
		row.completedAt = job.CompletedAt.UTC().Format(time.RFC3339Nano)
	}
	return row, nil
}

func (r jobRow) toJob() (*Job, error) {
	job := &Job{
		ID:              r.id,
		OriginalName:    r.originalName,
		Status:          Status(r.status),
		OutputName:      r.outputName,
		CombinedContent: r.combined,
	}
	if r.sources != "" && r.sources != "[]" {
		if err := json.Unmarshal([]byte(r.sources), &job.SourceOutputs); err != nil {
			return nil, fmt.Errorf("decode source outputs: %w", err)
		}
	}
	if r.errorJSON != "" {
		var info ErrorInfo
		if err := json.Unmarshal([]byte(r.errorJSON), &info); err != nil {
			return nil, fmt.Errorf("decode error info: %w", err)
		}
		job.Error = &info
	}
	created, err := time.Parse(time.RFC3339Nano, r.createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	job.CreatedAt = created
	if r.completedAt != "" {
		completed, err := time.Parse(time.RFC3339Nano, r.completedAt)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &completed
	}
	return job, nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
