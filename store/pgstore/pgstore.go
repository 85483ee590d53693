// Package pgstore implements store.ExecutionStore over Postgres. Selected
// by STORE_BACKEND=postgres; workflow documents stay on the filesystem
// store, which remains the source of truth for the editable documents.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skeinworks/skein/common/config"
	"github.com/skeinworks/skein/common/logger"
	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/store"
	"github.com/skeinworks/skein/workflow"
)

// schema is applied on startup; idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS execution_events (
	execution_id TEXT NOT NULL,
	ts           TEXT NOT NULL,
	event        JSONB NOT NULL,
	PRIMARY KEY (execution_id, ts)
);

CREATE TABLE IF NOT EXISTS execution_summaries (
	execution_id TEXT PRIMARY KEY,
	workflow_id  TEXT NOT NULL,
	started_at   TEXT NOT NULL DEFAULT '',
	summary      JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_workflow ON execution_summaries (workflow_id, started_at DESC);

CREATE TABLE IF NOT EXISTS execution_checkpoints (
	execution_id TEXT PRIMARY KEY,
	checkpoint   JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS execution_snapshots (
	execution_id TEXT PRIMARY KEY,
	snapshot     JSONB NOT NULL
);
`

// Store implements store.ExecutionStore over a pgx pool
type Store struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// New connects, pings, and ensures the schema
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.Database.MaxConns)
	poolConfig.MinConns = int32(cfg.Database.MinConns)
	poolConfig.MaxConnLifetime = cfg.Database.MaxLifetime
	poolConfig.MaxConnIdleTime = cfg.Database.MaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	log.Info("execution store connected", "host", cfg.Database.Host, "db", cfg.Database.Database)
	return &Store{pool: pool, log: log}, nil
}

// Close releases the connection pool
func (s *Store) Close() {
	s.pool.Close()
}

// Health pings the database
func (s *Store) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// AppendEvent inserts one journal row. The (execution_id, ts) primary key
// relies on the journal clock's strictly monotonic timestamps.
func (s *Store) AppendEvent(ctx context.Context, executionID string, rec event.Record) error {
	raw, err := json.Marshal(rec.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_events (execution_id, ts, event) VALUES ($1, $2, $3)`,
		executionID, rec.Timestamp, raw)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Events reads one execution's journal in timestamp order
func (s *Store) Events(ctx context.Context, executionID string, afterTimestamp string) ([]event.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, event FROM execution_events
		 WHERE execution_id = $1 AND ($2 = '' OR ts > $2)
		 ORDER BY ts`,
		executionID, afterTimestamp)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var records []event.Record
	for rows.Next() {
		var ts string
		var raw []byte
		if err := rows.Scan(&ts, &raw); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		records = append(records, event.Record{Timestamp: ts, Event: ev})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	if len(records) == 0 && afterTimestamp == "" {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM execution_summaries WHERE execution_id = $1)`,
			executionID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check execution: %w", err)
		}
		if !exists {
			return nil, store.ErrNotFound
		}
	}
	return records, nil
}

// PutSummary upserts the execution summary
func (s *Store) PutSummary(ctx context.Context, sum *event.Summary) error {
	raw, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_summaries (execution_id, workflow_id, started_at, summary)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (execution_id)
		 DO UPDATE SET workflow_id = $2, started_at = $3, summary = $4`,
		sum.ExecutionID, sum.WorkflowID, sum.StartedAt, raw)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// Summary reads one execution summary
func (s *Store) Summary(ctx context.Context, executionID string) (*event.Summary, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM execution_summaries WHERE execution_id = $1`,
		executionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query summary: %w", err)
	}
	var sum event.Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &sum, nil
}

// ListSummaries returns a workflow's execution summaries, newest first
func (s *Store) ListSummaries(ctx context.Context, workflowID string) ([]*event.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT summary FROM execution_summaries
		 WHERE ($1 = '' OR workflow_id = $1)
		 ORDER BY started_at DESC`,
		workflowID)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var sums []*event.Summary
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		var sum event.Summary
		if err := json.Unmarshal(raw, &sum); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		sums = append(sums, &sum)
	}
	return sums, rows.Err()
}

// PutCheckpoint upserts the execution checkpoint
func (s *Store) PutCheckpoint(ctx context.Context, executionID string, cp *exec.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_checkpoints (execution_id, checkpoint) VALUES ($1, $2)
		 ON CONFLICT (execution_id) DO UPDATE SET checkpoint = $2`,
		executionID, raw)
	if err != nil {
		return fmt.Errorf("upsert checkpoint: %w", err)
	}
	return nil
}

// Checkpoint reads the execution checkpoint
func (s *Store) Checkpoint(ctx context.Context, executionID string) (*exec.Checkpoint, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT checkpoint FROM execution_checkpoints WHERE execution_id = $1`,
		executionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query checkpoint: %w", err)
	}
	var cp exec.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return &cp, nil
}

// PutSnapshot upserts the execution's workflow snapshot
func (s *Store) PutSnapshot(ctx context.Context, executionID string, snap *workflow.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO execution_snapshots (execution_id, snapshot) VALUES ($1, $2)
		 ON CONFLICT (execution_id) DO UPDATE SET snapshot = $2`,
		executionID, raw)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Snapshot reads the execution's workflow snapshot
func (s *Store) Snapshot(ctx context.Context, executionID string) (*workflow.Snapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM execution_snapshots WHERE execution_id = $1`,
		executionID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	var snap workflow.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
