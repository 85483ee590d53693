package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skeinworks/skein/engine/approval"
	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/engine/fanout"
	"github.com/skeinworks/skein/engine/journal"
	"github.com/skeinworks/skein/engine/metrics"
	"github.com/skeinworks/skein/engine/replay"
	"github.com/skeinworks/skein/store"
	"github.com/skeinworks/skein/workflow"
)

// Manager errors
var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrNotRunning        = errors.New("execution is not running")
	ErrReplayBlocked     = errors.New("replay blocked")
)

// checkpointTimeout bounds the end-of-run checkpoint persist
const checkpointTimeout = 10 * time.Second

// Manager owns the process's executions: it starts and replays runs,
// routes interrupts and approvals to the right scheduler, captures
// checkpoints, and retires finished runs from the live hub.
type Manager struct {
	workflows   store.WorkflowStore
	executions  store.ExecutionStore
	registry    *Registry
	hub         *fanout.Hub
	coordinator *approval.Coordinator
	mirror      journal.Sink
	log         exec.Logger
	met         *metrics.Metrics
	baseDir     string

	mu      sync.Mutex
	running map[string]*liveExecution
}

// liveExecution is one in-flight run
type liveExecution struct {
	scheduler *Scheduler
	journal   *journal.Journal
	done      chan struct{}
	err       error
}

// ManagerParams collects the manager's collaborators. Mirror is optional.
type ManagerParams struct {
	Workflows   store.WorkflowStore
	Executions  store.ExecutionStore
	Registry    *Registry
	Hub         *fanout.Hub
	Coordinator *approval.Coordinator
	Mirror      journal.Sink
	Logger      exec.Logger
	Metrics     *metrics.Metrics
	BaseDir     string
}

// NewManager creates a manager with no running executions
func NewManager(p ManagerParams) *Manager {
	return &Manager{
		workflows:   p.Workflows,
		executions:  p.Executions,
		registry:    p.Registry,
		hub:         p.Hub,
		coordinator: p.Coordinator,
		mirror:      p.Mirror,
		log:         p.Logger,
		met:         p.Metrics,
		baseDir:     p.BaseDir,
		running:     make(map[string]*liveExecution),
	}
}

// StartParams describes a new run: a stored workflow by id, or an inline
// document.
type StartParams struct {
	WorkflowID string
	Workflow   *workflow.Workflow
	Input      interface{}
}

// Start launches an execution and returns its id. The run proceeds in the
// background; follow it through Subscribe or wait on Wait.
func (m *Manager) Start(ctx context.Context, p StartParams) (string, error) {
	wf, err := m.resolveWorkflow(ctx, p)
	if err != nil {
		return "", err
	}

	executionID := uuid.NewString()
	return m.launch(ctx, executionID, wf, p.Input, nil, nil, nil)
}

// ReplayParams describes a replay request
type ReplayParams struct {
	SourceExecutionID string
	FromNodeID        string

	// UseOriginalInput reuses the source execution's input; otherwise
	// Input is the replay's input.
	UseOriginalInput bool
	Input            interface{}
}

// Replay plans and launches a replay of a finished execution from one
// node. A blocked plan is returned alongside ErrReplayBlocked.
func (m *Manager) Replay(ctx context.Context, p ReplayParams) (string, *replay.Plan, error) {
	wf, plan, cp, input, err := m.planReplay(ctx, p)
	if err != nil {
		return "", plan, err
	}

	executionID := uuid.NewString()
	meta := &event.ReplayMeta{SourceExecutionID: p.SourceExecutionID, FromNodeID: p.FromNodeID}
	id, err := m.launch(ctx, executionID, wf, input, meta, cp, plan)
	return id, plan, err
}

// ReplayPlan computes the replay verdict without starting anything
func (m *Manager) ReplayPlan(ctx context.Context, p ReplayParams) (*replay.Plan, error) {
	_, plan, _, _, err := m.planReplay(ctx, p)
	if err != nil && !errors.Is(err, ErrReplayBlocked) {
		return nil, err
	}
	return plan, nil
}

// planReplay loads the source execution's artifacts and runs the planner
func (m *Manager) planReplay(ctx context.Context, p ReplayParams) (*workflow.Workflow, *replay.Plan, *exec.Checkpoint, interface{}, error) {
	sum, err := m.executions.Summary(ctx, p.SourceExecutionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, nil, nil, fmt.Errorf("source execution %s: %w", p.SourceExecutionID, ErrExecutionNotFound)
		}
		return nil, nil, nil, nil, fmt.Errorf("load source summary: %w", err)
	}

	wf, err := m.workflows.Workflow(ctx, sum.WorkflowID)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("load workflow %s: %w", sum.WorkflowID, err)
	}

	cp, err := m.executions.Checkpoint(ctx, p.SourceExecutionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}
	snap, err := m.executions.Snapshot(ctx, p.SourceExecutionID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, nil, nil, nil, fmt.Errorf("load snapshot: %w", err)
	}

	graph := workflow.NewGraph(wf, m.log)
	plan := replay.NewPlanner(graph, m.registry, m.log).Plan(cp, snap, p.FromNodeID)
	if plan.IsBlocked() {
		return nil, plan, nil, nil, ErrReplayBlocked
	}

	input := p.Input
	if p.UseOriginalInput {
		input = sum.Input
	}
	return wf, plan, cp, input, nil
}

// launch builds the journal and scheduler and runs them in the background
func (m *Manager) launch(ctx context.Context, executionID string, wf *workflow.Workflow, input interface{}, meta *event.ReplayMeta, cp *exec.Checkpoint, plan *replay.Plan) (string, error) {
	snap, err := workflow.TakeSnapshot(wf)
	if err != nil {
		return "", fmt.Errorf("snapshot workflow: %w", err)
	}
	if err := m.executions.PutSnapshot(ctx, executionID, snap); err != nil {
		return "", fmt.Errorf("persist snapshot: %w", err)
	}

	sinks := []journal.Sink{m.hub}
	if m.mirror != nil {
		sinks = append(sinks, m.mirror)
	}
	jrnl := journal.New(executionID, wf.ID, input, meta, m.executions, m.log, m.met, sinks...)

	sched, err := NewScheduler(SchedulerParams{
		Workflow:    wf,
		ExecutionID: executionID,
		Input:       input,
		BaseDir:     m.baseDir,
		Registry:    m.registry,
		Journal:     jrnl,
		Coordinator: m.coordinator,
		Logger:      m.log,
		Metrics:     m.met,
	})
	if err != nil {
		return "", err
	}

	live := &liveExecution{scheduler: sched, journal: jrnl, done: make(chan struct{})}
	m.mu.Lock()
	m.running[executionID] = live
	m.mu.Unlock()

	m.hub.Open(executionID)
	m.met.ExecutionStarted()
	m.log.Info("execution starting", "execution_id", executionID, "workflow_id", wf.ID, "replay", meta != nil)

	go m.run(live, executionID, cp, plan)
	return executionID, nil
}

// run drives one execution to its end and retires it
func (m *Manager) run(live *liveExecution, executionID string, cp *exec.Checkpoint, plan *replay.Plan) {
	ctx := context.Background()

	var err error
	if cp != nil && plan != nil {
		err = live.scheduler.RunFromCheckpoint(ctx, cp, plan.ReplayNodeIDs, plan.InactiveNodeIDs)
	} else {
		err = live.scheduler.Run(ctx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		m.log.Error("execution failed", "execution_id", executionID, "error", err)
	}

	m.persistCheckpoint(live, executionID)

	status := live.journal.Summary().Status
	m.met.ExecutionFinished(string(status))
	m.log.Info("execution finished", "execution_id", executionID, "status", string(status))

	m.mu.Lock()
	delete(m.running, executionID)
	m.mu.Unlock()

	m.hub.Close(executionID)

	live.err = err
	close(live.done)
}

// persistCheckpoint captures and stores the final execution state
func (m *Manager) persistCheckpoint(live *liveExecution, executionID string) {
	cp, err := live.scheduler.Checkpoint()
	if err != nil {
		m.log.Error("checkpoint capture failed", "execution_id", executionID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), checkpointTimeout)
	defer cancel()
	if err := m.executions.PutCheckpoint(ctx, executionID, cp); err != nil {
		m.log.Error("checkpoint persist failed", "execution_id", executionID, "error", err)
	}
}

// resolveWorkflow loads a stored workflow or normalizes an inline one
func (m *Manager) resolveWorkflow(ctx context.Context, p StartParams) (*workflow.Workflow, error) {
	if p.Workflow != nil {
		workflow.Normalize(p.Workflow)
		return p.Workflow, nil
	}
	if p.WorkflowID == "" {
		return nil, errors.New("either a workflow id or an inline workflow is required")
	}

	wf, err := m.workflows.Workflow(ctx, p.WorkflowID)
	if err != nil {
		return nil, fmt.Errorf("load workflow %s: %w", p.WorkflowID, err)
	}
	return wf, nil
}

// Interrupt requests a cooperative stop of a running execution
func (m *Manager) Interrupt(executionID string) error {
	m.mu.Lock()
	live, ok := m.running[executionID]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	live.scheduler.Interrupt()
	return nil
}

// SubmitApproval settles a waiting approval node
func (m *Manager) SubmitApproval(executionID, nodeID string, resp exec.ApprovalResponse) error {
	return m.coordinator.Submit(executionID, nodeID, resp)
}

// CancelApproval cancels a waiting approval node; the node errors
func (m *Manager) CancelApproval(executionID, nodeID string) error {
	return m.coordinator.Cancel(executionID, nodeID)
}

// PendingApprovals lists the approvals waiting on one execution ("" for
// all).
func (m *Manager) PendingApprovals(executionID string) []exec.ApprovalRequest {
	return m.coordinator.Pending(executionID)
}

// Subscribe attaches to a running execution's live stream. Finished
// executions return fanout.ErrNoStream; read the persisted journal
// instead.
func (m *Manager) Subscribe(executionID, afterTimestamp string) (*fanout.Subscription, error) {
	return m.hub.Subscribe(executionID, afterTimestamp)
}

// IsRunning reports whether the execution is in flight here
func (m *Manager) IsRunning(executionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.running[executionID]
	return ok
}

// Wait blocks until the execution finishes or ctx is cancelled. Unknown
// ids return immediately: the run already finished or never started here.
func (m *Manager) Wait(ctx context.Context, executionID string) error {
	m.mu.Lock()
	live, ok := m.running[executionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-live.done:
		return live.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Checkpoint returns the execution's checkpoint: a live capture for a
// running execution, the stored one otherwise.
func (m *Manager) Checkpoint(ctx context.Context, executionID string) (*exec.Checkpoint, error) {
	m.mu.Lock()
	live, ok := m.running[executionID]
	m.mu.Unlock()

	if ok {
		return live.scheduler.Checkpoint()
	}
	cp, err := m.executions.Checkpoint(ctx, executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrExecutionNotFound
		}
		return nil, err
	}
	return cp, nil
}

// Shutdown interrupts every running execution and waits for them to
// retire, up to ctx's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	lives := make([]*liveExecution, 0, len(m.running))
	for _, live := range m.running {
		lives = append(lives, live)
	}
	m.mu.Unlock()

	for _, live := range lives {
		live.scheduler.Interrupt()
	}
	for _, live := range lives {
		select {
		case <-live.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
