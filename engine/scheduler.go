package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skeinworks/skein/engine/approval"
	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/engine/executor"
	"github.com/skeinworks/skein/engine/journal"
	"github.com/skeinworks/skein/engine/metrics"
	"github.com/skeinworks/skein/engine/replay"
	"github.com/skeinworks/skein/workflow"
)

// defaultIdlePoll is the wait between ready-set recomputations while every
// dispatched node is still in flight.
const defaultIdlePoll = 100 * time.Millisecond

// interruptDrainTimeout caps how long an interrupted run waits for its
// in-flight nodes to observe their cancelled contexts.
const interruptDrainTimeout = 5 * time.Second

// Scheduler drives one execution: a single control loop computes the
// ready set, dispatches every member as a goroutine, and applies results
// serially as they arrive. All node-state mutation happens from the
// control loop; executors see the context read-only apart from variables.
type Scheduler struct {
	wf          *workflow.Workflow
	graph       *workflow.Graph
	registry    *Registry
	journal     *journal.Journal
	coordinator *approval.Coordinator
	ectx        *execContext
	log         exec.Logger
	met         *metrics.Metrics
	idlePoll    time.Duration

	aborted atomic.Bool

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	results  chan nodeResult
	inFlight map[string]bool
}

// nodeResult is one node task's report back to the control loop
type nodeResult struct {
	nodeID  string
	result  *exec.Result
	err     error
	started time.Time
}

// SchedulerParams collects the collaborators a scheduler needs
type SchedulerParams struct {
	Workflow    *workflow.Workflow
	ExecutionID string
	Input       interface{}
	BaseDir     string
	Registry    *Registry
	Journal     *journal.Journal
	Coordinator *approval.Coordinator
	Logger      exec.Logger
	Metrics     *metrics.Metrics
	IdlePoll    time.Duration
}

// NewScheduler builds the graph, the name tables, and the execution
// context for one run.
func NewScheduler(p SchedulerParams) (*Scheduler, error) {
	graph := workflow.NewGraph(p.Workflow, p.Logger)
	nameToID, err := graph.NameToID()
	if err != nil {
		return nil, fmt.Errorf("build name table: %w", err)
	}

	if p.IdlePoll <= 0 {
		p.IdlePoll = defaultIdlePoll
	}

	s := &Scheduler{
		wf:          p.Workflow,
		graph:       graph,
		registry:    p.Registry,
		journal:     p.Journal,
		coordinator: p.Coordinator,
		log:         p.Logger,
		met:         p.Metrics,
		idlePoll:    p.IdlePoll,
		cancels:     make(map[string]context.CancelFunc),
		results:     make(chan nodeResult, len(p.Workflow.Nodes)+1),
		inFlight:    make(map[string]bool),
	}
	s.ectx = newExecContext(p.ExecutionID, p.Workflow, graph, nameToID, p.Input, p.BaseDir, p.Logger)
	s.ectx.awaitApproval = s.awaitApproval
	return s, nil
}

// ExecutionID returns the run's id
func (s *Scheduler) ExecutionID() string {
	return s.ectx.executionID
}

// Run executes the workflow from scratch
func (s *Scheduler) Run(ctx context.Context) error {
	s.journal.Emit(event.ExecutionStart(s.ectx.executionID, s.wf.ID))

	if issues := s.validate(); len(issues) > 0 {
		s.journal.Emit(event.ValidationError(issues))
		return fmt.Errorf("workflow validation failed: %s", issues[0].Error())
	}

	s.seedInputs()
	return s.loop(ctx)
}

// RunFromCheckpoint executes a replay: nodes outside replayNodeIDs reuse
// the checkpoint's states and outputs, nodes inside it re-execute, and
// inactiveNodeIDs start out skipped.
func (s *Scheduler) RunFromCheckpoint(ctx context.Context, cp *exec.Checkpoint, replayNodeIDs, inactiveNodeIDs []string) error {
	s.journal.Emit(event.ExecutionStart(s.ectx.executionID, s.wf.ID))

	if issues := s.validate(); len(issues) > 0 {
		s.journal.Emit(event.ValidationError(issues))
		return fmt.Errorf("workflow validation failed: %s", issues[0].Error())
	}

	replaySet := make(map[string]bool, len(replayNodeIDs))
	for _, id := range replayNodeIDs {
		replaySet[id] = true
	}
	inactiveSet := make(map[string]bool, len(inactiveNodeIDs))
	for _, id := range inactiveNodeIDs {
		inactiveSet[id] = true
	}

	// Seed cached state first, then overrides for replayed and inactive
	// nodes.
	for i := range s.wf.Nodes {
		node := &s.wf.Nodes[i]
		switch {
		case replaySet[node.ID]:
			s.ectx.clearNode(node.ID)

		case inactiveSet[node.ID]:
			s.ectx.setStatus(node.ID, exec.StatusSkipped)

		default:
			state, hasState := cp.NodeStates[node.ID]
			output, hasOutput := cp.NodeOutputs[node.ID]
			if !hasState {
				continue
			}
			s.ectx.installState(node.ID, state.Status, state.Error, output, hasOutput)
			if state.Status == exec.StatusComplete && hasOutput {
				// Synthetic completion: late subscribers see the cached
				// output flow by without a node-start.
				s.journal.Emit(event.NodeComplete(node.ID, output))
			}
		}
	}

	// Checkpoint variables carry over, minus the per-node and session keys
	// of re-executed nodes.
	s.ectx.setVariables(cp.Variables)
	for _, key := range s.ectx.variableKeys() {
		for id := range replaySet {
			if strings.HasPrefix(key, "node."+id+".") || strings.HasPrefix(key, "agent.session."+id+".") {
				s.ectx.deleteVariable(key)
			}
		}
	}
	s.ectx.SetVariable(workflowInputVariable, s.ectx.input)

	// Replayed input nodes are re-seeded with the replay input.
	for _, node := range s.wf.NodesOfType(workflow.NodeTypeInput) {
		if replaySet[node.ID] {
			s.seedInput(node)
		}
	}

	return s.loop(ctx)
}

// Interrupt requests a cooperative stop: the aborted flag flips, every
// per-node context is cancelled, and pending approvals are settled with
// cancellation. One-shot.
func (s *Scheduler) Interrupt() {
	if s.aborted.Swap(true) {
		return
	}
	s.log.Info("execution interrupt requested", "execution_id", s.ectx.executionID)

	s.cancelMu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancelMu.Unlock()

	s.coordinator.CancelExecution(s.ectx.executionID)
}

// Checkpoint captures the execution's current node states, outputs, and
// variables.
func (s *Scheduler) Checkpoint() (*exec.Checkpoint, error) {
	states, outputs, variables := s.ectx.snapshotState()
	return replay.Capture(states, outputs, variables)
}

// validate checks structure, executor coverage, and per-node config
func (s *Scheduler) validate() []workflow.ValidationIssue {
	issues := workflow.Validate(s.wf)

	for i := range s.wf.Nodes {
		node := &s.wf.Nodes[i]
		ex, ok := s.registry.Executor(node.Type)
		if !ok {
			issues = append(issues, workflow.ValidationIssue{
				Code:    "unknown-node-type",
				Message: fmt.Sprintf("no executor registered for node type %q", node.Type),
				NodeID:  node.ID,
			})
			continue
		}
		if validator, ok := ex.(exec.Validator); ok {
			if err := validator.Validate(node); err != nil {
				issues = append(issues, workflow.ValidationIssue{
					Code:    "invalid-node-config",
					Message: err.Error(),
					NodeID:  node.ID,
				})
			}
		}
	}
	return issues
}

// seedInputs completes every input node with the execution input before
// the main loop starts.
func (s *Scheduler) seedInputs() {
	for _, node := range s.wf.NodesOfType(workflow.NodeTypeInput) {
		s.seedInput(node)
	}
}

func (s *Scheduler) seedInput(node *workflow.Node) {
	s.journal.Emit(event.NodeStart(node.ID, node.Name()))
	s.ectx.markComplete(node.ID, s.ectx.input)
	s.journal.Emit(event.NodeComplete(node.ID, s.ectx.input))
}

// loop is the control loop: compute the ready set, dispatch, apply one
// result, repeat.
func (s *Scheduler) loop(ctx context.Context) error {
	for {
		if s.aborted.Load() || ctx.Err() != nil {
			return s.finishInterrupted()
		}

		ready := s.readyNodes()
		for _, id := range ready {
			s.dispatch(ctx, id)
		}

		if len(s.inFlight) > 0 {
			select {
			case res := <-s.results:
				s.apply(res)
			case <-time.After(s.idlePoll):
			case <-ctx.Done():
			}
			continue
		}

		if len(ready) > 0 {
			continue
		}

		if s.allTerminal() {
			return s.finishComplete()
		}
		return s.failExecution("workflow has a cycle or unsatisfied dependencies")
	}
}

// readyNodes applies the ready-set rule: pending, not an input node, every
// predecessor complete or skipped (or pending behind a back-edge), and at
// least one predecessor complete.
func (s *Scheduler) readyNodes() []string {
	var ready []string
	for i := range s.wf.Nodes {
		node := &s.wf.Nodes[i]
		if node.Type == workflow.NodeTypeInput || s.inFlight[node.ID] {
			continue
		}
		if s.ectx.status(node.ID) != exec.StatusPending {
			continue
		}

		satisfied := true
		anyComplete := false
		for _, predID := range s.graph.Predecessors(node.ID) {
			switch s.ectx.status(predID) {
			case exec.StatusComplete:
				anyComplete = true
			case exec.StatusSkipped:
			case exec.StatusPending:
				// A pending predecessor on a loop path must not block the
				// node it feeds back into.
				if !s.graph.IsBackEdge(predID, node.ID) {
					satisfied = false
				}
			default:
				satisfied = false
			}
			if !satisfied {
				break
			}
		}

		if satisfied && anyComplete {
			ready = append(ready, node.ID)
		}
	}
	return ready
}

// dispatch launches one node task
func (s *Scheduler) dispatch(ctx context.Context, nodeID string) {
	node, _ := s.graph.Node(nodeID)

	s.ectx.markStarted(nodeID)
	s.journal.Emit(event.NodeStart(nodeID, node.Name()))

	nodeCtx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancels[nodeID] = cancel
	s.cancelMu.Unlock()

	s.inFlight[nodeID] = true
	started := time.Now()

	emit := func(ev exec.AgentEvent) {
		s.journal.Emit(event.NodeOutput(nodeID, ev))
	}

	go func() {
		defer cancel()
		result, err := s.executeNode(nodeCtx, node, emit)
		s.results <- nodeResult{nodeID: nodeID, result: result, err: err, started: started}
	}()
}

// executeNode resolves the executor and runs it
func (s *Scheduler) executeNode(ctx context.Context, node *workflow.Node, emit exec.EmitFunc) (*exec.Result, error) {
	ex, ok := s.registry.Executor(node.Type)
	if !ok {
		return nil, fmt.Errorf("no executor registered for node type %q", node.Type)
	}
	if validator, ok := ex.(exec.Validator); ok {
		if err := validator.Validate(node); err != nil {
			return nil, err
		}
	}
	return ex.Execute(ctx, node, s.ectx, emit)
}

// apply folds one finished node task into the execution state
func (s *Scheduler) apply(res nodeResult) {
	delete(s.inFlight, res.nodeID)
	s.cancelMu.Lock()
	delete(s.cancels, res.nodeID)
	s.cancelMu.Unlock()

	node, _ := s.graph.Node(res.nodeID)
	s.met.ObserveNode(node.Type, time.Since(res.started).Seconds())

	if res.err != nil {
		message := res.err.Error()
		s.ectx.markError(res.nodeID, message)
		s.journal.Emit(event.NodeError(res.nodeID, message))
		s.met.NodeErrored(node.Type)
		s.propagateError(res.nodeID, node.Name(), message)
		return
	}

	s.ectx.markComplete(res.nodeID, res.result.Output)
	s.journal.Emit(event.NodeComplete(res.nodeID, res.result.Output))

	if info, ok := res.result.Metadata[executor.MetadataEvolution].(event.EvolutionInfo); ok {
		s.journal.Emit(event.NodeEvolution(res.nodeID, info))
	}

	if brancher, ok := s.registry.Brancher(node.Type); ok {
		if handle, ok := brancher.OutputHandle(res.result.Output, node); ok {
			s.applyBranching(res.nodeID, handle)
		}
	}
}

// propagateError demotes every pending descendant so siblings keep
// running while the failed subtree settles.
func (s *Scheduler) propagateError(nodeID, nodeName, message string) {
	propagated := fmt.Sprintf("upstream node %q failed: %s", nodeName, message)
	for _, descID := range s.graph.Descendants(nodeID) {
		if s.ectx.status(descID) != exec.StatusPending {
			continue
		}
		s.ectx.markError(descID, propagated)
		s.journal.Emit(event.NodeError(descID, propagated))
	}
}

// applyBranching runs the skip/reset pass after a branching node picked
// its active handle. Skip first, then reset: the other order would let
// the skip cascade demote a freshly reset loop target.
func (s *Scheduler) applyBranching(nodeID, handle string) {
	for _, edge := range s.graph.OutgoingEdges(nodeID) {
		if edge.SourceHandle == "" || edge.SourceHandle == handle {
			continue
		}
		s.trySkip(edge.Target, nodeID)
	}

	for _, edge := range s.graph.OutgoingEdges(nodeID) {
		if edge.SourceHandle != handle {
			continue
		}
		switch s.ectx.status(edge.Target) {
		case exec.StatusComplete:
			// The active edge points at an already-finished node: a
			// back-edge. Rewind the loop body.
			s.loopReset(edge.Target)
		case exec.StatusSkipped:
			// A previously inactive branch became active.
			s.activeReset(edge.Target)
		}
	}
}

// trySkip marks a node skipped when no active predecessor remains. The
// branching node that triggered the pass is exempt from the check; the
// cascade through successors is not.
func (s *Scheduler) trySkip(nodeID, branchNodeID string) {
	if s.ectx.status(nodeID) != exec.StatusPending {
		return
	}

	for _, predID := range s.graph.Predecessors(nodeID) {
		if predID == branchNodeID {
			continue
		}
		status := s.ectx.status(predID)
		if status != exec.StatusSkipped && status != exec.StatusError {
			return
		}
	}

	s.ectx.setStatus(nodeID, exec.StatusSkipped)
	for _, succID := range s.graph.Successors(nodeID) {
		s.trySkip(succID, "")
	}
}

// loopReset rewinds target and its complete/skipped successors to pending
// for the next iteration. The walk includes the branching node so it gets
// re-evaluated; the visited set keeps the cycle from rewinding anything
// twice.
func (s *Scheduler) loopReset(target string) {
	visited := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		switch s.ectx.status(id) {
		case exec.StatusComplete, exec.StatusSkipped:
			s.ectx.resetToPending(id)
		default:
			return
		}
		for _, succID := range s.graph.Successors(id) {
			walk(succID)
		}
	}
	walk(target)
}

// activeReset rewinds a skipped branch that just became active
func (s *Scheduler) activeReset(target string) {
	visited := make(map[string]bool)
	var walk func(id string)
	walk = func(id string) {
		if visited[id] {
			return
		}
		visited[id] = true

		if s.ectx.status(id) != exec.StatusSkipped {
			return
		}
		s.ectx.resetToPending(id)
		for _, succID := range s.graph.Successors(id) {
			walk(succID)
		}
	}
	walk(target)
}

// awaitApproval is the execution context's waiting hook: emit
// node-waiting, flip the node to waiting, park on the coordinator, and
// resume as running when a response arrives.
func (s *Scheduler) awaitApproval(ctx context.Context, req exec.ApprovalRequest) (exec.ApprovalResponse, error) {
	s.ectx.setStatus(req.NodeID, exec.StatusWaiting)
	s.journal.Emit(event.NodeWaiting(req.NodeID, req.NodeName, req))

	resp, err := s.coordinator.Await(ctx, req)
	if err != nil {
		return exec.ApprovalResponse{}, err
	}
	s.ectx.setStatus(req.NodeID, exec.StatusRunning)
	return resp, nil
}

// allTerminal reports whether every node reached complete, error, or
// skipped.
func (s *Scheduler) allTerminal() bool {
	for i := range s.wf.Nodes {
		if !s.ectx.status(s.wf.Nodes[i].ID).Terminal() {
			return false
		}
	}
	return true
}

// finishComplete emits the terminal event: execution-complete with the
// output nodes' values keyed by name, or execution-error when every
// output node failed.
func (s *Scheduler) finishComplete() error {
	outputs := make(map[string]interface{})
	var firstError string
	for _, node := range s.wf.NodesOfType(workflow.NodeTypeOutput) {
		state := s.ectx.status(node.ID)
		if state == exec.StatusComplete {
			if output, ok := s.ectx.NodeOutput(node.ID); ok {
				outputs[node.Name()] = output
			}
		} else if state == exec.StatusError && firstError == "" {
			firstError = s.ectx.errorMessage(node.ID)
		}
	}

	if len(outputs) == 0 && firstError != "" {
		s.journal.Emit(event.ExecutionError(firstError))
		return fmt.Errorf("execution failed: %s", firstError)
	}

	s.journal.Emit(event.ExecutionComplete(outputs))
	return nil
}

// finishInterrupted drains in-flight nodes (their contexts are cancelled)
// and records the interruption.
func (s *Scheduler) finishInterrupted() error {
	deadline := time.After(interruptDrainTimeout)
	for len(s.inFlight) > 0 {
		select {
		case res := <-s.results:
			s.apply(res)
		case <-deadline:
			s.log.Warn("in-flight nodes did not stop before the drain deadline",
				"execution_id", s.ectx.executionID, "remaining", len(s.inFlight))
			s.journal.Emit(event.ExecutionInterrupted())
			return context.Canceled
		}
	}

	s.journal.Emit(event.ExecutionInterrupted())
	return context.Canceled
}

// failExecution records a fatal scheduling error
func (s *Scheduler) failExecution(message string) error {
	s.journal.Emit(event.ExecutionError(message))
	return fmt.Errorf("%s", message)
}
