package engine

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/engine/resolver"
	"github.com/skeinworks/skein/workflow"
)

// execContext is the engine-owned execution state handed to executors as
// an exec.Context. Node states and outputs are written by the scheduler's
// control loop; executors only read them. Variables are written from
// executor goroutines too, so every map access goes through one lock.
type execContext struct {
	executionID string
	workflowID  string
	input       interface{}
	baseDir     string

	graph    *workflow.Graph
	nameToID map[string]string
	idToName map[string]string

	mu        sync.RWMutex
	states    map[string]*exec.NodeState
	outputs   map[string]interface{}
	variables map[string]interface{}

	resolver *resolver.Resolver

	// awaitApproval is wired by the scheduler: it emits node-waiting,
	// flips the node to waiting, and parks on the coordinator.
	awaitApproval func(ctx context.Context, req exec.ApprovalRequest) (exec.ApprovalResponse, error)
}

// workflowInputVariable is the variable alias references use to read the
// execution input directly.
const workflowInputVariable = "workflow.input"

func newExecContext(executionID string, wf *workflow.Workflow, graph *workflow.Graph, nameToID map[string]string, input interface{}, baseDir string, log exec.Logger) *execContext {
	if wf.WorkingDirectory != "" {
		if filepath.IsAbs(wf.WorkingDirectory) {
			baseDir = wf.WorkingDirectory
		} else {
			baseDir = filepath.Join(baseDir, wf.WorkingDirectory)
		}
	}

	idToName := make(map[string]string, len(nameToID))
	for name, id := range nameToID {
		idToName[id] = name
	}

	ectx := &execContext{
		executionID: executionID,
		workflowID:  wf.ID,
		input:       input,
		baseDir:     baseDir,
		graph:       graph,
		nameToID:    nameToID,
		idToName:    idToName,
		states:      make(map[string]*exec.NodeState, len(wf.Nodes)),
		outputs:     make(map[string]interface{}),
		variables:   map[string]interface{}{workflowInputVariable: input},
	}
	for i := range wf.Nodes {
		ectx.states[wf.Nodes[i].ID] = &exec.NodeState{Status: exec.StatusPending}
	}

	ectx.resolver = resolver.New(ectx, log)
	return ectx
}

func (c *execContext) ExecutionID() string { return c.executionID }
func (c *execContext) WorkflowID() string  { return c.workflowID }
func (c *execContext) Input() interface{}  { return c.input }

func (c *execContext) Graph() *workflow.Graph { return c.graph }

func (c *execContext) NodeIDByName(name string) (string, bool) {
	id, ok := c.nameToID[name]
	return id, ok
}

func (c *execContext) NodeName(id string) string {
	return c.idToName[id]
}

func (c *execContext) NodeOutput(id string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	output, ok := c.outputs[id]
	return output, ok
}

func (c *execContext) PredecessorOutputs(id string) map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	outputs := make(map[string]interface{})
	for _, predID := range c.graph.Predecessors(id) {
		output, ok := c.outputs[predID]
		if !ok {
			continue
		}
		name := c.idToName[predID]
		if name == "" {
			name = predID
		}
		outputs[name] = output
	}
	return outputs
}

func (c *execContext) Variable(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.variables[key]
	return value, ok
}

func (c *execContext) SetVariable(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

func (c *execContext) Interpolate(text string) string {
	return c.resolver.Interpolate(text)
}

func (c *execContext) ResolveReference(ref string) (interface{}, bool) {
	return c.resolver.Resolve(ref)
}

// WorkingDirectory joins a node-level override against the execution base
func (c *execContext) WorkingDirectory(node *workflow.Node) string {
	override := exec.ConfString(node.Data, "workingDirectory")
	if override == "" {
		return c.baseDir
	}
	if filepath.IsAbs(override) {
		return override
	}
	return filepath.Join(c.baseDir, override)
}

// SuccessorRequiresJSON reports whether a condition or merge node consumes
// this node's output.
func (c *execContext) SuccessorRequiresJSON(id string) bool {
	for _, succID := range c.graph.Successors(id) {
		node, ok := c.graph.Node(succID)
		if !ok {
			continue
		}
		if node.Type == workflow.NodeTypeCondition || node.Type == workflow.NodeTypeMerge {
			return true
		}
	}
	return false
}

func (c *execContext) AwaitApproval(ctx context.Context, req exec.ApprovalRequest) (exec.ApprovalResponse, error) {
	return c.awaitApproval(ctx, req)
}

// Scheduler-side state accessors.

func (c *execContext) status(id string) exec.NodeStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if state, ok := c.states[id]; ok {
		return state.Status
	}
	return exec.StatusPending
}

func (c *execContext) errorMessage(id string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if state, ok := c.states[id]; ok {
		return state.Error
	}
	return ""
}

func (c *execContext) setStatus(id string, status exec.NodeStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[id]; ok {
		state.Status = status
	}
}

func (c *execContext) markStarted(id string) {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[id]; ok {
		state.Status = exec.StatusRunning
		state.StartedAt = &now
		state.CompletedAt = nil
		state.Error = ""
	}
}

func (c *execContext) markComplete(id string, output interface{}) {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[id] = output
	if state, ok := c.states[id]; ok {
		state.Status = exec.StatusComplete
		state.Output = output
		state.CompletedAt = &now
		state.Error = ""
	}
}

func (c *execContext) markError(id string, message string) {
	now := time.Now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[id]; ok {
		state.Status = exec.StatusError
		state.Error = message
		state.CompletedAt = &now
	}
}

// resetToPending rewinds a node for another loop iteration. The previous
// output stays readable until the re-run overwrites it.
func (c *execContext) resetToPending(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[id]; ok {
		state.Status = exec.StatusPending
		state.Error = ""
		state.StartedAt = nil
		state.CompletedAt = nil
	}
}

// installState seeds one node from a checkpoint during replay
func (c *execContext) installState(id string, status exec.NodeStatus, errMsg string, output interface{}, hasOutput bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state, ok := c.states[id]; ok {
		state.Status = status
		state.Error = errMsg
		if hasOutput {
			state.Output = output
		}
	}
	if hasOutput {
		c.outputs[id] = output
	}
}

// clearNode rewinds a node for replay: pending, no output, no error
func (c *execContext) clearNode(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.outputs, id)
	if state, ok := c.states[id]; ok {
		*state = exec.NodeState{Status: exec.StatusPending}
	}
}

// snapshotState copies states, outputs, and variables for a checkpoint
func (c *execContext) snapshotState() (map[string]*exec.NodeState, map[string]interface{}, map[string]interface{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	states := make(map[string]*exec.NodeState, len(c.states))
	for id, state := range c.states {
		copied := *state
		states[id] = &copied
	}
	outputs := make(map[string]interface{}, len(c.outputs))
	for id, output := range c.outputs {
		outputs[id] = output
	}
	variables := make(map[string]interface{}, len(c.variables))
	for key, value := range c.variables {
		variables[key] = value
	}
	return states, outputs, variables
}

func (c *execContext) setVariables(vars map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range vars {
		c.variables[key] = value
	}
}

func (c *execContext) deleteVariable(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.variables, key)
}

func (c *execContext) variableKeys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.variables))
	for key := range c.variables {
		keys = append(keys, key)
	}
	return keys
}
