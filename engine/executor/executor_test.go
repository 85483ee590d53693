package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// fakeContext is a test double for exec.Context backed by plain maps
type fakeContext struct {
	executionID string
	workflowID  string
	input       interface{}
	wf          *workflow.Workflow
	graph       *workflow.Graph
	outputs     map[string]interface{}
	refs        map[string]interface{}
	workdir     string
	jsonMode    bool
	approve     func(req exec.ApprovalRequest) (exec.ApprovalResponse, error)

	mu        sync.Mutex
	variables map[string]interface{}
}

func newFakeContext(wf *workflow.Workflow) *fakeContext {
	return &fakeContext{
		executionID: "exec-test",
		workflowID:  wf.ID,
		wf:          wf,
		graph:       workflow.NewGraph(wf, nil),
		outputs:     make(map[string]interface{}),
		refs:        make(map[string]interface{}),
		variables:   make(map[string]interface{}),
	}
}

func (c *fakeContext) ExecutionID() string { return c.executionID }
func (c *fakeContext) WorkflowID() string  { return c.workflowID }
func (c *fakeContext) Input() interface{}  { return c.input }

func (c *fakeContext) Graph() *workflow.Graph { return c.graph }

func (c *fakeContext) NodeName(id string) string {
	if node, ok := c.graph.Node(id); ok {
		return node.Name()
	}
	return ""
}

func (c *fakeContext) NodeIDByName(name string) (string, bool) {
	for i := range c.wf.Nodes {
		if c.wf.Nodes[i].Name() == name {
			return c.wf.Nodes[i].ID, true
		}
	}
	return "", false
}

func (c *fakeContext) NodeOutput(id string) (interface{}, bool) {
	output, ok := c.outputs[id]
	return output, ok
}

func (c *fakeContext) PredecessorOutputs(id string) map[string]interface{} {
	outputs := make(map[string]interface{})
	for _, predID := range c.graph.Predecessors(id) {
		if output, ok := c.outputs[predID]; ok {
			outputs[c.NodeName(predID)] = output
		}
	}
	return outputs
}

func (c *fakeContext) Variable(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok := c.variables[key]
	return value, ok
}

func (c *fakeContext) SetVariable(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variables[key] = value
}

func (c *fakeContext) Interpolate(text string) string {
	for ref, value := range c.refs {
		text = strings.ReplaceAll(text, "{{"+ref+"}}", fmt.Sprintf("%v", value))
	}
	return text
}

func (c *fakeContext) ResolveReference(ref string) (interface{}, bool) {
	value, ok := c.refs[ref]
	return value, ok
}

func (c *fakeContext) WorkingDirectory(node *workflow.Node) string {
	if override := exec.ConfString(node.Data, "workingDirectory"); override != "" {
		return override
	}
	return c.workdir
}

func (c *fakeContext) SuccessorRequiresJSON(string) bool { return c.jsonMode }

func (c *fakeContext) AwaitApproval(_ context.Context, req exec.ApprovalRequest) (exec.ApprovalResponse, error) {
	if c.approve == nil {
		return exec.ApprovalResponse{}, errors.New("no approver wired")
	}
	return c.approve(req)
}

// emitRecorder captures streamed events; executors emit from goroutines
type emitRecorder struct {
	mu     sync.Mutex
	events []exec.AgentEvent
}

func (r *emitRecorder) emit(ev exec.AgentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *emitRecorder) all() []exec.AgentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]exec.AgentEvent(nil), r.events...)
}

func (r *emitRecorder) ofType(eventType string) []exec.AgentEvent {
	var out []exec.AgentEvent
	for _, ev := range r.all() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func execNode(id, nodeType, name string, config map[string]interface{}) workflow.Node {
	data := map[string]interface{}{"name": name}
	for k, v := range config {
		data[k] = v
	}
	return workflow.Node{ID: id, Type: nodeType, Data: data}
}

// twoPredWorkflow wires Src and Aux into Sink
func twoPredWorkflow(sinkType string, sinkConfig map[string]interface{}) *workflow.Workflow {
	return &workflow.Workflow{
		ID: "wf-exec",
		Nodes: []workflow.Node{
			execNode("src", workflow.NodeTypeScript, "Src", nil),
			execNode("aux", workflow.NodeTypeScript, "Aux", nil),
			execNode("sink", sinkType, "Sink", sinkConfig),
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "src", Target: "sink"},
			{ID: "e2", Source: "aux", Target: "sink"},
		},
	}
}

func sinkNode(wf *workflow.Workflow) *workflow.Node {
	node, _ := wf.NodeByID("sink")
	return node
}

func TestInputEchoesExecutionInput(t *testing.T) {
	wf := twoPredWorkflow(workflow.NodeTypeInput, nil)
	ectx := newFakeContext(wf)
	ectx.input = map[string]interface{}{"query": "hi"}

	res, err := Input{}.Execute(context.Background(), sinkNode(wf), ectx, nil)
	require.NoError(t, err)
	assert.Equal(t, ectx.input, res.Output)
}

func TestOutputSinglePredecessorPassesThrough(t *testing.T) {
	wf := twoPredWorkflow(workflow.NodeTypeOutput, nil)
	ectx := newFakeContext(wf)
	ectx.outputs["src"] = "only value"

	res, err := Output{}.Execute(context.Background(), sinkNode(wf), ectx, nil)
	require.NoError(t, err)
	assert.Equal(t, "only value", res.Output)
}

func TestOutputMultiplePredecessorsConsolidates(t *testing.T) {
	wf := twoPredWorkflow(workflow.NodeTypeOutput, nil)
	ectx := newFakeContext(wf)
	ectx.outputs["src"] = "first"
	ectx.outputs["aux"] = "second"

	res, err := Output{}.Execute(context.Background(), sinkNode(wf), ectx, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"Src": "first", "Aux": "second"}, res.Output)
}

func TestMergeCombinesByName(t *testing.T) {
	wf := twoPredWorkflow(workflow.NodeTypeMerge, nil)
	ectx := newFakeContext(wf)
	ectx.outputs["src"] = map[string]interface{}{"a": 1}
	ectx.outputs["aux"] = "plain"

	res, err := Merge{}.Execute(context.Background(), sinkNode(wf), ectx, nil)
	require.NoError(t, err)
	merged, ok := res.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"a": 1}, merged["Src"])
	assert.Equal(t, "plain", merged["Aux"])
}

func TestConditionEvaluatesRules(t *testing.T) {
	wf := twoPredWorkflow(workflow.NodeTypeCondition, map[string]interface{}{
		"rules": []interface{}{
			map[string]interface{}{
				"inputReference": "Src.status",
				"operator":       "equals",
				"compareValue":   "ok",
			},
		},
	})
	ectx := newFakeContext(wf)
	ectx.refs["Src.status"] = "ok"

	res, err := Condition{}.Execute(context.Background(), sinkNode(wf), ectx, nil)
	require.NoError(t, err)
	assert.Equal(t, true, res.Output)

	ectx.refs["Src.status"] = "failed"
	res, err = Condition{}.Execute(context.Background(), sinkNode(wf), ectx, nil)
	require.NoError(t, err)
	assert.Equal(t, false, res.Output)
}

func TestConditionOutputHandle(t *testing.T) {
	node := &workflow.Node{ID: "c", Type: workflow.NodeTypeCondition}

	handle, ok := Condition{}.OutputHandle(true, node)
	require.True(t, ok)
	assert.Equal(t, workflow.HandleTrue, handle)

	handle, ok = Condition{}.OutputHandle(false, node)
	require.True(t, ok)
	assert.Equal(t, workflow.HandleFalse, handle)

	_, ok = Condition{}.OutputHandle("not a bool", node)
	assert.False(t, ok)
}

func TestConditionValidate(t *testing.T) {
	noRules := execNode("c", workflow.NodeTypeCondition, "C", nil)
	require.Error(t, Condition{}.Validate(&noRules))

	noOperator := execNode("c", workflow.NodeTypeCondition, "C", map[string]interface{}{
		"rules": []interface{}{map[string]interface{}{"inputReference": "Src.x"}},
	})
	err := Condition{}.Validate(&noOperator)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no operator")
}

func TestApprovalWaitsAndShapesDecision(t *testing.T) {
	wf := twoPredWorkflow(workflow.NodeTypeApproval, map[string]interface{}{
		"message": "deploy {{Src.env}}?",
	})
	ectx := newFakeContext(wf)
	ectx.refs["Src.env"] = "prod"
	ectx.outputs["src"] = "build artifact"

	var captured exec.ApprovalRequest
	ectx.approve = func(req exec.ApprovalRequest) (exec.ApprovalResponse, error) {
		captured = req
		return exec.ApprovalResponse{Approved: false, Feedback: "not yet"}, nil
	}

	res, err := Approval{}.Execute(context.Background(), sinkNode(wf), ectx, nil)
	require.NoError(t, err)

	assert.Equal(t, "deploy prod?", captured.Message)
	assert.Equal(t, "build artifact", captured.Payload["Src"])

	decision, ok := res.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, false, decision["approved"])
	assert.Equal(t, "not yet", decision["feedback"])

	handle, ok := Approval{}.OutputHandle(res.Output, sinkNode(wf))
	require.True(t, ok)
	assert.Equal(t, workflow.HandleRejection, handle)
}

func TestApprovalOutputHandleApproved(t *testing.T) {
	handle, ok := Approval{}.OutputHandle(map[string]interface{}{"approved": true}, nil)
	require.True(t, ok)
	assert.Equal(t, workflow.HandleApproval, handle)

	_, ok = Approval{}.OutputHandle("garbage", nil)
	assert.False(t, ok)
}
