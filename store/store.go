// Package store defines the persistence contracts the engine writes
// through: per-execution journals, summaries, checkpoints and snapshots,
// plus workflow documents and their evolution history. Implementations live
// in fsstore (local JSONL files) and pgstore (Postgres).
package store

import (
	"context"
	"errors"

	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// ErrNotFound is returned when the requested record does not exist
var ErrNotFound = errors.New("not found")

// ExecutionStore persists everything one execution produces. AppendEvent is
// called once per journal record in emission order; every other write
// replaces the previous value atomically.
type ExecutionStore interface {
	AppendEvent(ctx context.Context, executionID string, rec event.Record) error

	// Events returns the records of one execution in append order,
	// restricted to timestamps strictly greater than afterTimestamp when it
	// is non-empty.
	Events(ctx context.Context, executionID string, afterTimestamp string) ([]event.Record, error)

	PutSummary(ctx context.Context, sum *event.Summary) error
	Summary(ctx context.Context, executionID string) (*event.Summary, error)

	// ListSummaries returns the summaries of a workflow's executions, most
	// recently started first. An empty workflowID lists everything.
	ListSummaries(ctx context.Context, workflowID string) ([]*event.Summary, error)

	PutCheckpoint(ctx context.Context, executionID string, cp *exec.Checkpoint) error
	Checkpoint(ctx context.Context, executionID string) (*exec.Checkpoint, error)

	PutSnapshot(ctx context.Context, executionID string, snap *workflow.Snapshot) error
	Snapshot(ctx context.Context, executionID string) (*workflow.Snapshot, error)
}

// WorkflowStore persists workflow documents and their evolution history
type WorkflowStore interface {
	Workflow(ctx context.Context, id string) (*workflow.Workflow, error)
	PutWorkflow(ctx context.Context, wf *workflow.Workflow) error
	ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	AppendEvolution(ctx context.Context, workflowID string, rec workflow.EvolutionRecord) error
	EvolutionHistory(ctx context.Context, workflowID string) ([]workflow.EvolutionRecord, error)
}
