package jobs

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed postgres_schema.sql
var postgresSchema string

// PostgresStore はジョブ状態を PostgreSQL に保存します。
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgresStore は接続プールを作成し、スキーマを用意します。
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Create は新しいジョブを保存します。
func (s *PostgresStore) Create(ctx context.Context, job *Job) error {
	if job == nil || job.ID == "" {
		return fmt.Errorf("job with id is required")
	}
	query := `
		INSERT INTO conversion_jobs (id, original_name, status, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.pool.Exec(ctx, query, job.ID, job.OriginalName, string(job.Status), job.CreatedAt.UTC())
	return err
}

// Get はジョブ情報を取得します。
func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	if id == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	return scanPostgresJob(s.pool.QueryRow(ctx, `
		SELECT id, original_name, status, output_name, combined_content, source_outputs, error, created_at, completed_at
		FROM conversion_jobs
		WHERE id = $1
	`, id))
}

// Complete はジョブ完了時の情報を保存します。
func (s *PostgresStore) Complete(ctx context.Context, id string, c Completion, now time.Time) error {
	return s.transition(ctx, id, func(job *Job) error {
		return job.complete(c, now)
	})
}

// Fail はジョブ失敗時の情報を保存します。
func (s *PostgresStore) Fail(ctx context.Context, id string, info ErrorInfo, now time.Time) error {
	return s.transition(ctx, id, func(job *Job) error {
		return job.fail(info, now)
	})
}

// Close は接続プールを閉じます。
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) transition(ctx context.Context, id string, mutate func(*Job) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		job, err := scanPostgresJob(tx.QueryRow(ctx, `
			SELECT id, original_name, status, output_name, combined_content, source_outputs, error, created_at, completed_at
			FROM conversion_jobs
			WHERE id = $1
			FOR UPDATE
		`, id))
		if err != nil {
			return err
		}
		if err := mutate(job); err != nil {
			return err
		}

		sources, err := json.Marshal(job.SourceOutputs)
		if err != nil {
			return err
		}
		if job.SourceOutputs == nil {
			sources = []byte("[]")
		}
		var errorJSON []byte
		if job.Error != nil {
			if errorJSON, err = json.Marshal(job.Error); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE conversion_jobs
			SET status = $2, output_name = $3, combined_content = $4, source_outputs = $5, error = $6, completed_at = $7
			WHERE id = $1 AND status = $8
		`, id, string(job.Status), job.OutputName, job.CombinedContent, sources, errorJSON, job.CompletedAt, string(StatusProcessing))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyTerminal
		}
		return nil
	})
}

func scanPostgresJob(row pgx.Row) (*Job, error) {
	var (
		job       Job
		status    string
		sources   []byte
		errorJSON []byte
	)
	err := row.Scan(
		&job.ID,
		&job.OriginalName,
		&status,
		&job.OutputName,
		&job.CombinedContent,
		&sources,
		&errorJSON,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	job.Status = Status(status)
	if len(sources) > 0 && string(sources) != "[]" {
		if err := json.Unmarshal(sources, &job.SourceOutputs); err != nil {
			return nil, fmt.Errorf("decode source outputs: %w", err)
		}
	}
	if len(errorJSON) > 0 {
		var info ErrorInfo
		if err := json.Unmarshal(errorJSON, &info); err != nil {
			return nil, fmt.Errorf("decode error info: %w", err)
		}
		job.Error = &info
	}
	return &job, nil
}
