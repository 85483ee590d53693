// Package engine implements the workflow execution core: the executor
// registry, the per-run execution context, the ready-set scheduler with
// branch skipping and loop resets, and the manager that owns running
// executions, their journals, checkpoints, and replays.
package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/skeinworks/skein/engine/exec"
)

// ErrDuplicateExecutor is returned when a node type is registered twice
var ErrDuplicateExecutor = errors.New("executor already registered")

// Registry maps node types to their executors. Write-once at startup,
// read-only during runs.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]exec.Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]exec.Executor)}
}

// Register binds a node type to its executor
func (r *Registry) Register(nodeType string, executor exec.Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.executors[nodeType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateExecutor, nodeType)
	}
	r.executors[nodeType] = executor
	return nil
}

// MustRegister is Register for startup wiring, panicking on duplicates
func (r *Registry) MustRegister(nodeType string, executor exec.Executor) {
	if err := r.Register(nodeType, executor); err != nil {
		panic(err)
	}
}

// Executor looks up the handler for a node type
func (r *Registry) Executor(nodeType string) (exec.Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ex, ok := r.executors[nodeType]
	return ex, ok
}

// Brancher reports the branching hook of a node type, when its executor
// has one. Implements the replay planner's lookup.
func (r *Registry) Brancher(nodeType string) (exec.Brancher, bool) {
	ex, ok := r.Executor(nodeType)
	if !ok {
		return nil, false
	}
	b, ok := ex.(exec.Brancher)
	return b, ok
}

// Types lists the registered node types, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
