// Package fsstore implements the store contracts over a local data
// directory. Layout:
//
//	{root}/executions/{executionId}/events.jsonl
//	{root}/executions/{executionId}/summary.json
//	{root}/executions/{executionId}/checkpoint.json
//	{root}/executions/{executionId}/snapshot.json
//	{root}/workflows/{workflowId}.json
//	{root}/workflows/{workflowId}.evolution.jsonl
//
// Journals and evolution histories are append-only JSONL; every other file
// is replaced with write-tmp-then-rename so a crash never leaves a torn
// document behind.
package fsstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/store"
	"github.com/skeinworks/skein/workflow"
)

// Store implements store.ExecutionStore and store.WorkflowStore
type Store struct {
	root string

	// One append at a time per file; JSONL lines must never interleave.
	mu sync.Mutex
}

// New creates the data directory layout under root
func New(root string) (*Store, error) {
	for _, dir := range []string{root, filepath.Join(root, "executions"), filepath.Join(root, "workflows")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

func (s *Store) execDir(executionID string) string {
	return filepath.Join(s.root, "executions", executionID)
}

// AppendEvent appends one journal line to the execution's events.jsonl
func (s *Store) AppendEvent(_ context.Context, executionID string, rec event.Record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode event record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.execDir(executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create execution dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal line: %w", err)
	}
	return nil
}

// Events reads the execution's journal, optionally skipping the prefix up
// to and including afterTimestamp. Timestamps are fixed-width, so the
// string comparison is chronological.
func (s *Store) Events(_ context.Context, executionID string, afterTimestamp string) ([]event.Record, error) {
	f, err := os.Open(filepath.Join(s.execDir(executionID), "events.jsonl"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var records []event.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec event.Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("decode journal line: %w", err)
		}
		if afterTimestamp != "" && rec.Timestamp <= afterTimestamp {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	return records, nil
}

// PutSummary replaces the execution's summary.json
func (s *Store) PutSummary(_ context.Context, sum *event.Summary) error {
	dir := s.execDir(sum.ExecutionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create execution dir: %w", err)
	}
	return writeJSON(filepath.Join(dir, "summary.json"), sum)
}

// Summary reads the execution's summary.json
func (s *Store) Summary(_ context.Context, executionID string) (*event.Summary, error) {
	var sum event.Summary
	if err := readJSON(filepath.Join(s.execDir(executionID), "summary.json"), &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// ListSummaries scans every execution directory for a summary, newest
// start first.
func (s *Store) ListSummaries(ctx context.Context, workflowID string) ([]*event.Summary, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "executions"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list executions: %w", err)
	}

	var sums []*event.Summary
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sum, err := s.Summary(ctx, entry.Name())
		if err != nil {
			continue
		}
		if workflowID != "" && sum.WorkflowID != workflowID {
			continue
		}
		sums = append(sums, sum)
	}

	sort.Slice(sums, func(i, j int) bool { return sums[i].StartedAt > sums[j].StartedAt })
	return sums, nil
}

// PutCheckpoint replaces the execution's checkpoint.json
func (s *Store) PutCheckpoint(_ context.Context, executionID string, cp *exec.Checkpoint) error {
	dir := s.execDir(executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create execution dir: %w", err)
	}
	return writeJSON(filepath.Join(dir, "checkpoint.json"), cp)
}

// Checkpoint reads the execution's checkpoint.json
func (s *Store) Checkpoint(_ context.Context, executionID string) (*exec.Checkpoint, error) {
	var cp exec.Checkpoint
	if err := readJSON(filepath.Join(s.execDir(executionID), "checkpoint.json"), &cp); err != nil {
		return nil, err
	}
	return &cp, nil
}

// PutSnapshot replaces the execution's snapshot.json
func (s *Store) PutSnapshot(_ context.Context, executionID string, snap *workflow.Snapshot) error {
	dir := s.execDir(executionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create execution dir: %w", err)
	}
	return writeJSON(filepath.Join(dir, "snapshot.json"), snap)
}

// Snapshot reads the execution's snapshot.json
func (s *Store) Snapshot(_ context.Context, executionID string) (*workflow.Snapshot, error) {
	var snap workflow.Snapshot
	if err := readJSON(filepath.Join(s.execDir(executionID), "snapshot.json"), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Workflow reads one workflow document, normalized for execution
func (s *Store) Workflow(_ context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if err := readJSON(s.workflowPath(id), &wf); err != nil {
		return nil, err
	}
	workflow.Normalize(&wf)
	return &wf, nil
}

// PutWorkflow replaces one workflow document
func (s *Store) PutWorkflow(_ context.Context, wf *workflow.Workflow) error {
	if wf.ID == "" {
		return fmt.Errorf("workflow has no id")
	}
	return writeJSON(s.workflowPath(wf.ID), wf)
}

// ListWorkflows reads every stored workflow document
func (s *Store) ListWorkflows(ctx context.Context) ([]*workflow.Workflow, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "workflows"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list workflows: %w", err)
	}

	var wfs []*workflow.Workflow
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".evolution.jsonl") {
			continue
		}
		wf, err := s.Workflow(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		wfs = append(wfs, wf)
	}

	sort.Slice(wfs, func(i, j int) bool { return wfs[i].ID < wfs[j].ID })
	return wfs, nil
}

// DeleteWorkflow removes a workflow document and its evolution history
func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	if err := os.Remove(s.workflowPath(id)); err != nil {
		if os.IsNotExist(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("delete workflow: %w", err)
	}
	_ = os.Remove(s.evolutionPath(id))
	return nil
}

// AppendEvolution appends one evolution record to the workflow's history
func (s *Store) AppendEvolution(_ context.Context, workflowID string, rec workflow.EvolutionRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode evolution record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.evolutionPath(workflowID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open evolution history: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append evolution record: %w", err)
	}
	return nil
}

// EvolutionHistory reads the workflow's evolution records in append order
func (s *Store) EvolutionHistory(_ context.Context, workflowID string) ([]workflow.EvolutionRecord, error) {
	f, err := os.Open(s.evolutionPath(workflowID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open evolution history: %w", err)
	}
	defer f.Close()

	var records []workflow.EvolutionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec workflow.EvolutionRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("decode evolution record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read evolution history: %w", err)
	}
	return records, nil
}

func (s *Store) workflowPath(id string) string {
	return filepath.Join(s.root, "workflows", id+".json")
}

func (s *Store) evolutionPath(id string) string {
	return filepath.Join(s.root, "workflows", id+".evolution.jsonl")
}

// writeJSON replaces path with value using write-tmp-then-rename
func writeJSON(path string, value interface{}) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, into interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store.ErrNotFound
		}
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return nil
}
