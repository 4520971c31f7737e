package history

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/withObsrvr/obsrvr-ads-uploader/internal/uploader"
)

//go:embed schema.sql
var schemaSQL string

const insertRun = `
	INSERT INTO upload_runs (
		upload_type, correlation_id, started_at, finished_at,
		records, batches, result, failure_kind, errors
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (upload_type, correlation_id)
	DO UPDATE SET
		started_at = EXCLUDED.started_at,
		finished_at = EXCLUDED.finished_at,
		records = EXCLUDED.records,
		batches = EXCLUDED.batches,
		result = EXCLUDED.result,
		failure_kind = EXCLUDED.failure_kind,
		errors = EXCLUDED.errors,
		created_at = NOW()
`

const selectRecent = `
	SELECT upload_type, correlation_id, started_at, finished_at,
	       records, batches, result, failure_kind, errors
	FROM upload_runs
	WHERE upload_type = $1
	ORDER BY started_at DESC
	LIMIT $2
`

// PostgresRecorder implements Recorder using PostgreSQL.
type PostgresRecorder struct {
	pool *pgxpool.Pool
}

// NewPostgresRecorder connects, pings and applies the schema.
func NewPostgresRecorder(ctx context.Context, cfg Config) (*PostgresRecorder, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("parse DSN: %w", err)
	}

	poolCfg.MaxConns = 5
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Println("[history] connected to PostgreSQL")
	return &PostgresRecorder{pool: pool}, nil
}

// RecordRun upserts one row keyed by upload type and correlation ID.
func (r *PostgresRecorder) RecordRun(ctx context.Context, run uploader.Run) error {
	args, err := runArgs(run)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, insertRun, args...); err != nil {
		return fmt.Errorf("record run: %w", err)
	}
	return nil
}

// Recent returns the latest runs of an upload type, newest first.
func (r *PostgresRecorder) Recent(ctx context.Context, uploadType string, limit int) ([]uploader.Run, error) {
	rows, err := r.pool.Query(ctx, selectRecent, uploadType, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	runs, err := pgx.CollectRows(rows, scanRun)
	if err != nil {
		return nil, fmt.Errorf("scan runs: %w", err)
	}
	return runs, nil
}

// Close releases the pool.
func (r *PostgresRecorder) Close() error {
	r.pool.Close()
	return nil
}

func runArgs(run uploader.Run) ([]any, error) {
	errs := run.Result.Errors
	if errs == nil {
		errs = []string{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return nil, fmt.Errorf("marshal errors: %w", err)
	}
	return []any{
		run.UploadType,
		run.CorrelationID,
		run.StartedAt,
		run.FinishedAt,
		run.Records,
		run.Batches,
		run.Result.Result,
		run.FailureKind,
		encoded,
	}, nil
}

func scanRun(row pgx.CollectableRow) (uploader.Run, error) {
	var (
		run  uploader.Run
		errs []byte
	)
	if err := row.Scan(
		&run.UploadType,
		&run.CorrelationID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Records,
		&run.Batches,
		&run.Result.Result,
		&run.FailureKind,
		&errs,
	); err != nil {
		return uploader.Run{}, err
	}
	run.Result.Errors = []string{}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &run.Result.Errors); err != nil {
			return uploader.Run{}, fmt.Errorf("decode errors: %w", err)
		}
	}
	return run, nil
}

var _ Recorder = (*PostgresRecorder)(nil)
