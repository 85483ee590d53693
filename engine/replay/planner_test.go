package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// gateBrancher routes true/false from a boolean result
type gateBrancher struct{}

func (gateBrancher) OutputHandle(result interface{}, _ *workflow.Node) (string, bool) {
	verdict, ok := result.(bool)
	if !ok {
		return "", false
	}
	if verdict {
		return workflow.HandleTrue, true
	}
	return workflow.HandleFalse, true
}

// brancherMap is a BrancherLookup over a fixed table
type brancherMap map[string]exec.Brancher

func (m brancherMap) Brancher(nodeType string) (exec.Brancher, bool) {
	b, ok := m[nodeType]
	return b, ok
}

func plannerNode(id, nodeType, name string) workflow.Node {
	return workflow.Node{ID: id, Type: nodeType, Data: map[string]interface{}{"name": name}}
}

// Input → A → B → Output
func linearWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID: "wf-1",
		Nodes: []workflow.Node{
			plannerNode("in", workflow.NodeTypeInput, "Input"),
			plannerNode("a", workflow.NodeTypeScript, "A"),
			plannerNode("b", workflow.NodeTypeScript, "B"),
			plannerNode("out", workflow.NodeTypeOutput, "Output"),
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "in", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "out"},
		},
	}
}

func completeCheckpoint(wf *workflow.Workflow) *exec.Checkpoint {
	cp := &exec.Checkpoint{
		TakenAt:     time.Now().UTC(),
		NodeStates:  make(map[string]exec.CheckpointNode),
		NodeOutputs: make(map[string]interface{}),
		Variables:   map[string]interface{}{},
	}
	for _, node := range wf.Nodes {
		cp.NodeStates[node.ID] = exec.CheckpointNode{Status: exec.StatusComplete}
		cp.NodeOutputs[node.ID] = node.ID + " output"
	}
	return cp
}

func snapshotOf(t *testing.T, wf *workflow.Workflow) *workflow.Snapshot {
	t.Helper()
	snap, err := workflow.TakeSnapshot(wf)
	require.NoError(t, err)
	return snap
}

func newPlanner(wf *workflow.Workflow, branchers BrancherLookup) *Planner {
	if branchers == nil {
		branchers = brancherMap{}
	}
	return NewPlanner(workflow.NewGraph(wf, nil), branchers, nil)
}

func TestPlanReplaySubgraph(t *testing.T) {
	wf := linearWorkflow()
	pl := newPlanner(wf, nil)

	plan := pl.Plan(completeCheckpoint(wf), snapshotOf(t, wf), "b")
	require.False(t, plan.IsBlocked())
	assert.Empty(t, plan.Warnings)
	assert.ElementsMatch(t, []string{"b", "out"}, plan.ReplayNodeIDs)
	assert.Empty(t, plan.InactiveNodeIDs)

	for id, info := range plan.Nodes {
		assert.True(t, info.Replayable, "node %s should be replayable", id)
		assert.Equal(t, exec.StatusComplete, info.Status)
	}
}

func TestPlanMissingCheckpointBlocks(t *testing.T) {
	wf := linearWorkflow()
	plan := newPlanner(wf, nil).Plan(nil, snapshotOf(t, wf), "b")

	require.True(t, plan.IsBlocked())
	assert.Equal(t, ReasonMissingCheckpoint, plan.Blocking[0].Code)
}

func TestPlanUnknownNodeBlocks(t *testing.T) {
	wf := linearWorkflow()
	plan := newPlanner(wf, nil).Plan(completeCheckpoint(wf), snapshotOf(t, wf), "ghost")

	require.True(t, plan.IsBlocked())
	assert.Equal(t, ReasonInvalidNode, plan.Blocking[0].Code)
}

func TestPlanErroredDependencyBlocks(t *testing.T) {
	wf := linearWorkflow()
	cp := completeCheckpoint(wf)
	cp.NodeStates["a"] = exec.CheckpointNode{Status: exec.StatusError, Error: "boom"}
	delete(cp.NodeOutputs, "a")

	plan := newPlanner(wf, nil).Plan(cp, snapshotOf(t, wf), "b")

	require.True(t, plan.IsBlocked())
	assert.Equal(t, ReasonDependencyMissing, plan.Blocking[0].Code)
	assert.Equal(t, "a", plan.Blocking[0].NodeID)

	// The per-node report marks everything downstream of A unreplayable.
	assert.False(t, plan.Nodes["b"].Replayable)
	assert.False(t, plan.Nodes["out"].Replayable)
	assert.True(t, plan.Nodes["a"].Replayable, "A itself only needs its own ancestors")
}

func TestPlanCompleteDependencyWithoutOutputBlocks(t *testing.T) {
	wf := linearWorkflow()
	cp := completeCheckpoint(wf)
	delete(cp.NodeOutputs, "a")

	plan := newPlanner(wf, nil).Plan(cp, snapshotOf(t, wf), "b")

	require.True(t, plan.IsBlocked())
	assert.Equal(t, ReasonDependencyMissing, plan.Blocking[0].Code)
	assert.Contains(t, plan.Blocking[0].Message, "output is missing")
}

func TestPlanStructuralDiff(t *testing.T) {
	wf := linearWorkflow()
	cp := completeCheckpoint(wf)
	snap := snapshotOf(t, wf)

	// Remove B and add C after the snapshot was taken.
	edited := linearWorkflow()
	edited.Nodes = []workflow.Node{
		edited.Nodes[0], edited.Nodes[1],
		plannerNode("c", workflow.NodeTypeScript, "C"),
		edited.Nodes[3],
	}
	edited.Edges = []workflow.Edge{
		{ID: "e1", Source: "in", Target: "a"},
		{ID: "e2", Source: "a", Target: "c"},
		{ID: "e3", Source: "c", Target: "out"},
	}

	plan := newPlanner(edited, nil).Plan(cp, snap, "out")
	require.True(t, plan.IsBlocked())

	codes := make(map[string]string)
	for _, reason := range plan.Blocking {
		codes[reason.Code] = reason.NodeID
	}
	assert.Equal(t, "b", codes[ReasonNodeRemoved])
	assert.Equal(t, "c", codes[ReasonNodeAdded])

	hasEdgeWarning := false
	for _, w := range plan.Warnings {
		if w.Code == WarningEdgeChanged {
			hasEdgeWarning = true
		}
	}
	assert.True(t, hasEdgeWarning)
}

func TestPlanChangedNodeWarns(t *testing.T) {
	wf := linearWorkflow()
	cp := completeCheckpoint(wf)
	snap := snapshotOf(t, wf)

	wf.Nodes[1].Data["script"] = "return 42"

	plan := newPlanner(wf, nil).Plan(cp, snap, "b")
	require.False(t, plan.IsBlocked(), "config drift warns but does not block")

	require.NotEmpty(t, plan.Warnings)
	assert.Equal(t, WarningNodeChanged, plan.Warnings[0].Code)
	assert.Equal(t, "a", plan.Warnings[0].NodeID)
}

func TestPlanMissingSnapshotWarns(t *testing.T) {
	wf := linearWorkflow()
	plan := newPlanner(wf, nil).Plan(completeCheckpoint(wf), nil, "b")

	require.False(t, plan.IsBlocked())
	require.NotEmpty(t, plan.Warnings)
	assert.Equal(t, WarningSnapshotMissing, plan.Warnings[0].Code)
}

func TestPlanInactiveBranchBlocks(t *testing.T) {
	// Input → Gate; Gate true→T, false→F; both → Output.
	wf := &workflow.Workflow{
		ID: "wf-branch",
		Nodes: []workflow.Node{
			plannerNode("in", workflow.NodeTypeInput, "Input"),
			plannerNode("gate", "gate", "Gate"),
			plannerNode("t", workflow.NodeTypeScript, "T"),
			plannerNode("f", workflow.NodeTypeScript, "F"),
			plannerNode("out", workflow.NodeTypeOutput, "Output"),
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "in", Target: "gate"},
			{ID: "e2", Source: "gate", Target: "t", SourceHandle: workflow.HandleTrue},
			{ID: "e3", Source: "gate", Target: "f", SourceHandle: workflow.HandleFalse},
			{ID: "e4", Source: "t", Target: "out"},
			{ID: "e5", Source: "f", Target: "out"},
		},
	}

	cp := &exec.Checkpoint{
		NodeStates: map[string]exec.CheckpointNode{
			"in":   {Status: exec.StatusComplete},
			"gate": {Status: exec.StatusComplete},
			"t":    {Status: exec.StatusComplete},
			"f":    {Status: exec.StatusSkipped},
			"out":  {Status: exec.StatusComplete},
		},
		NodeOutputs: map[string]interface{}{
			"in":   "x",
			"gate": true, // took the true branch
			"t":    "t output",
			"out":  "final",
		},
	}

	pl := newPlanner(wf, brancherMap{"gate": gateBrancher{}})

	// Replaying the taken branch works.
	plan := pl.Plan(cp, snapshotOf(t, wf), "t")
	require.False(t, plan.IsBlocked())
	assert.Contains(t, plan.InactiveNodeIDs, "f")

	// Replaying the untaken branch is refused.
	blocked := pl.Plan(cp, snapshotOf(t, wf), "f")
	require.True(t, blocked.IsBlocked())
	assert.Equal(t, ReasonInactiveBranch, blocked.Blocking[0].Code)
	assert.False(t, blocked.Nodes["f"].Replayable)
}
