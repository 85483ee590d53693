// Package journal implements the per-execution event journal: the single
// writer that timestamps each engine event, appends it to the persistent
// store, folds it into the execution summary, and hands it to the live
// sinks. Journal append order is the authoritative history of an
// execution.
package journal

import (
	"context"
	"sync"
	"time"

	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/engine/metrics"
	"github.com/skeinworks/skein/store"
)

// persistTimeout bounds one store write from the writer chain
const persistTimeout = 10 * time.Second

// Sink receives each record after it has been appended. The fan-out hub
// and the optional Redis mirror implement it.
type Sink interface {
	Publish(executionID string, rec event.Record)
}

// Journal is the event writer for one execution. Emit may be called from
// any goroutine; appends are serialized through one mutex so records never
// interleave and sink order matches append order.
type Journal struct {
	executionID string
	workflowID  string

	clock event.Clock
	store store.ExecutionStore
	sinks []Sink
	log   exec.Logger
	met   *metrics.Metrics

	mu      sync.Mutex
	summary *event.Summary
	records []event.Record
}

// New creates a journal for one execution. input and replay seed the
// summary fields that events alone cannot reconstruct.
func New(executionID, workflowID string, input interface{}, replay *event.ReplayMeta, st store.ExecutionStore, log exec.Logger, met *metrics.Metrics, sinks ...Sink) *Journal {
	sum := event.NewSummary(executionID, workflowID, input)
	sum.Replay = replay
	return &Journal{
		executionID: executionID,
		workflowID:  workflowID,
		store:       st,
		sinks:       sinks,
		log:         log,
		met:         met,
		summary:     sum,
	}
}

// ExecutionID returns the owning execution's id
func (j *Journal) ExecutionID() string {
	return j.executionID
}

// Emit timestamps the event, appends it, updates the summary, and
// publishes to every sink. Returns the appended record.
func (j *Journal) Emit(ev event.Event) event.Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	rec := event.Record{Timestamp: j.clock.Next(), Event: ev}
	j.records = append(j.records, rec)
	j.summary.Apply(rec)

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if err := j.store.AppendEvent(ctx, j.executionID, rec); err != nil {
		j.log.Error("journal append failed", "execution_id", j.executionID, "type", string(ev.Type), "error", err)
	}
	if err := j.store.PutSummary(ctx, j.summary); err != nil {
		j.log.Error("summary persist failed", "execution_id", j.executionID, "error", err)
	}
	j.met.EventAppended()

	for _, sink := range j.sinks {
		sink.Publish(j.executionID, rec)
	}
	return rec
}

// Records returns the records appended so far with timestamps strictly
// greater than afterTimestamp ("" means all).
func (j *Journal) Records(afterTimestamp string) []event.Record {
	j.mu.Lock()
	defer j.mu.Unlock()

	var out []event.Record
	for _, rec := range j.records {
		if afterTimestamp == "" || rec.Timestamp > afterTimestamp {
			out = append(out, rec)
		}
	}
	return out
}

// Summary returns a copy of the current folded summary
func (j *Journal) Summary() *event.Summary {
	j.mu.Lock()
	defer j.mu.Unlock()

	sum := *j.summary
	sum.Nodes = make(map[string]event.NodeSummary, len(j.summary.Nodes))
	for id, node := range j.summary.Nodes {
		sum.Nodes[id] = node
	}
	return &sum
}
