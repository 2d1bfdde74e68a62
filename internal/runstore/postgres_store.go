package runstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// DBPool is the subset of pgxpool.Pool the store uses.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS audit_runs (
    job_id TEXT PRIMARY KEY,
    meta JSONB NOT NULL,
    success_count INTEGER NOT NULL,
    skipped_count INTEGER NOT NULL,
    failure_count INTEGER NOT NULL,
    report_location TEXT NOT NULL DEFAULT '',
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);`

const upsertSQL = `
INSERT INTO audit_runs (job_id, meta, success_count, skipped_count, failure_count, report_location, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (job_id) DO UPDATE SET
    meta = EXCLUDED.meta,
    success_count = EXCLUDED.success_count,
    skipped_count = EXCLUDED.skipped_count,
    failure_count = EXCLUDED.failure_count,
    report_location = EXCLUDED.report_location,
    updated_at = EXCLUDED.updated_at;`

const selectSQL = `SELECT meta, report_location, updated_at FROM audit_runs WHERE job_id = $1`

const deleteSQL = `DELETE FROM audit_runs WHERE job_id = $1`

// PostgresStore keeps run history in Postgres.
type PostgresStore struct {
	pool DBPool
	log  *zap.Logger
}

// NewPostgresStore verifies the connection and creates the table if needed.
func NewPostgresStore(ctx context.Context, pool DBPool, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool, log: logger.Named("runstore")}, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	if rec.Meta.JobID == "" {
		return fmt.Errorf("job_id is required")
	}
	raw, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("encode run meta: %w", err)
	}
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	if _, err := s.pool.Exec(ctx, upsertSQL,
		rec.Meta.JobID, raw,
		rec.Meta.SuccessCount, rec.Meta.SkippedCount, rec.Meta.FailureCount,
		rec.ReportLocation, updated,
	); err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", rec.Meta.JobID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (Record, error) {
	var (
		rec Record
		raw []byte
	)
	err := s.pool.QueryRow(ctx, selectSQL, jobID).Scan(&raw, &rec.ReportLocation, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("failed to query run %s: %w", jobID, err)
	}
	if err := json.Unmarshal(raw, &rec.Meta); err != nil {
		return Record{}, fmt.Errorf("decode run meta: %w", err)
	}
	return rec, nil
}

// Delete drops the job's row so a rerun in progress or a failed rerun never
// reports the previous run's outcome.
func (s *PostgresStore) Delete(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, deleteSQL, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete run %s: %w", jobID, err)
	}
	if tag.RowsAffected() > 0 {
		s.log.Debug("run record deleted", zap.String("job_id", jobID))
	}
	return nil
}
