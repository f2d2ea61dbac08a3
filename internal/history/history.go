// Package history mirrors ingestion outcomes into Postgres so operators can
// query past invocations without reading the JSON logs.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/csvrefinery/internal/ingest"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

const createTable = `
CREATE TABLE IF NOT EXISTS ingestion_outcomes (
    invocation_id TEXT PRIMARY KEY,
    bucket        TEXT NOT NULL,
    raw_key       TEXT NOT NULL,
    dest_key      TEXT,
    status        TEXT NOT NULL,
    stage         TEXT NOT NULL,
    row_count     INTEGER NOT NULL DEFAULT 0,
    byte_count    BIGINT NOT NULL DEFAULT 0,
    error_kind    TEXT,
    error_code    TEXT,
    error_message TEXT,
    started_at    TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL
)`

const insertOutcome = `
INSERT INTO ingestion_outcomes (
    invocation_id, bucket, raw_key, dest_key, status, stage,
    row_count, byte_count, error_kind, error_code, error_message,
    started_at, duration_ms
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (invocation_id) DO NOTHING`

const listRecent = `
SELECT invocation_id, bucket, raw_key, dest_key, status, stage,
       row_count, byte_count, error_kind, error_code, started_at, duration_ms
FROM ingestion_outcomes
ORDER BY started_at DESC
LIMIT $1`

// Recorder writes outcomes to the ingestion_outcomes table.
type Recorder struct {
	db DBTX
}

// NewRecorder creates a recorder over db.
func NewRecorder(db DBTX) *Recorder {
	return &Recorder{db: db}
}

// PoolOptions tunes the connection pool.
type PoolOptions struct {
	URL             string
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewPool connects to Postgres and verifies the connection.
func NewPool(ctx context.Context, opts PoolOptions) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	if opts.MaxConns > 0 {
		poolConfig.MaxConns = int32(opts.MaxConns)
	}
	poolConfig.MinConns = int32(opts.MinConns)
	if opts.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the outcomes table if it does not exist.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("create ingestion_outcomes: %w", err)
	}
	return nil
}

// Record implements ingest.Recorder.
func (r *Recorder) Record(ctx context.Context, o *ingest.Outcome) error {
	var errMsg pgtype.Text
	if o.Err != nil {
		errMsg = pgtype.Text{String: o.Err.Error(), Valid: true}
	}

	_, err := r.db.Exec(ctx, insertOutcome,
		o.InvocationID,
		o.Bucket,
		o.RawKey,
		nullText(o.DestKey),
		string(o.Status),
		string(o.Stage),
		o.Rows,
		o.Bytes,
		nullText(o.ErrorKind),
		nullText(o.ErrorCode),
		errMsg,
		o.StartedAt,
		o.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record outcome %s: %w", o.InvocationID, err)
	}
	return nil
}

// Recent returns the latest outcomes, newest first.
// The error message is not loaded; ErrorKind and ErrorCode are.
func (r *Recorder) Recent(ctx context.Context, limit int) ([]ingest.Outcome, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, listRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []ingest.Outcome{}
	for rows.Next() {
		var (
			o                         ingest.Outcome
			status, stage             string
			destKey, errKind, errCode pgtype.Text
			startedAt                 pgtype.Timestamptz
			durationMs                int64
		)
		if err := rows.Scan(
			&o.InvocationID,
			&o.Bucket,
			&o.RawKey,
			&destKey,
			&status,
			&stage,
			&o.Rows,
			&o.Bytes,
			&errKind,
			&errCode,
			&startedAt,
			&durationMs,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}

		o.Status = ingest.Status(status)
		o.Stage = ingest.Stage(stage)
		o.DestKey = destKey.String
		o.ErrorKind = errKind.String
		o.ErrorCode = errCode.String
		if startedAt.Valid {
			o.StartedAt = startedAt.Time
		}
		o.Duration = time.Duration(durationMs) * time.Millisecond
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}
