package evolution

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinworks/skein/common/logger"
	"github.com/skeinworks/skein/store/fsstore"
	"github.com/skeinworks/skein/workflow"
)

func addNodeOp(id, nodeType, name string) map[string]interface{} {
	return map[string]interface{}{
		"op":   "add",
		"path": "/nodes/-",
		"value": map[string]interface{}{
			"id":   id,
			"type": nodeType,
			"data": map[string]interface{}{"name": name},
		},
	}
}

func TestValidateOperations(t *testing.T) {
	cases := []struct {
		name    string
		ops     []map[string]interface{}
		wantErr string
	}{
		{"empty", nil, "no operations"},
		{"missing op", []map[string]interface{}{{"path": "/name"}}, "missing or invalid 'op'"},
		{"missing path", []map[string]interface{}{{"op": "add"}}, "missing or invalid 'path'"},
		{"add without value", []map[string]interface{}{{"op": "add", "path": "/name"}}, "'value' required"},
		{"unsupported op", []map[string]interface{}{{"op": "move", "path": "/name", "value": "x"}}, "unsupported operation"},
		{"node without id", []map[string]interface{}{{
			"op": "add", "path": "/nodes/-",
			"value": map[string]interface{}{"type": "script"},
		}}, "string 'id'"},
		{"node without type", []map[string]interface{}{{
			"op": "add", "path": "/nodes/-",
			"value": map[string]interface{}{"id": "n1"},
		}}, "string 'type'"},
		{"node data not object", []map[string]interface{}{{
			"op": "add", "path": "/nodes/-",
			"value": map[string]interface{}{"id": "n1", "type": "script", "data": "oops"},
		}}, "'data' must be an object"},
		{"remove", []map[string]interface{}{{"op": "remove", "path": "/nodes/2"}}, ""},
		{"replace", []map[string]interface{}{{"op": "replace", "path": "/name", "value": "renamed"}}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOperations(tc.ops)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestValidateOperationsAgentNodeCap(t *testing.T) {
	var ops []map[string]interface{}
	for i := 0; i < maxAgentNodesPerPatch; i++ {
		ops = append(ops, addNodeOp(fmt.Sprintf("agent-%d", i), workflow.NodeTypeClaudeAgent, fmt.Sprintf("Agent %d", i)))
	}
	assert.NoError(t, ValidateOperations(ops))

	ops = append(ops, addNodeOp("one-too-many", workflow.NodeTypeCodexAgent, "Extra"))
	err := ValidateOperations(ops)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot add more than")
}

func testWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID:   "wf-evolve",
		Name: "evolving",
		Nodes: []workflow.Node{
			{ID: "in", Type: workflow.NodeTypeInput, Data: map[string]interface{}{"name": "Input"}},
			{ID: "a", Type: workflow.NodeTypeScript, Data: map[string]interface{}{"name": "A"}},
			{ID: "out", Type: workflow.NodeTypeOutput, Data: map[string]interface{}{"name": "Output"}},
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "in", Target: "a"},
			{ID: "e2", Source: "a", Target: "out"},
		},
	}
}

func newTestApplier(t *testing.T) (*Applier, *fsstore.Store) {
	t.Helper()
	st, err := fsstore.New(t.TempDir())
	require.NoError(t, err)
	return NewApplier(st, logger.New("error", "text")), st
}

func TestApplyPatchesAndRecordsHistory(t *testing.T) {
	applier, st := newTestApplier(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, testWorkflow()))

	proposal := Proposal{
		ExecutionID: "exec-1",
		NodeID:      "reflect",
		Summary:     "add a review step",
		Operations: []map[string]interface{}{
			addNodeOp("review", workflow.NodeTypeScript, "Review"),
			{"op": "add", "path": "/edges/-", "value": map[string]interface{}{
				"id": "e3", "source": "a", "target": "review",
			}},
			{"op": "replace", "path": "/name", "value": "evolving v2"},
		},
	}
	require.NoError(t, applier.Apply(ctx, "wf-evolve", proposal))

	wf, err := st.Workflow(ctx, "wf-evolve")
	require.NoError(t, err)
	assert.Equal(t, "evolving v2", wf.Name)
	_, ok := wf.NodeByID("review")
	assert.True(t, ok)

	history, err := st.EvolutionHistory(ctx, "wf-evolve")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "exec-1", history[0].ExecutionID)
	assert.Equal(t, "add a review step", history[0].Summary)
	assert.Len(t, history[0].Operations, 3)
}

func TestApplyRejectsInvalidResult(t *testing.T) {
	applier, st := newTestApplier(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, testWorkflow()))

	// Duplicating an existing node id passes shape validation but fails the
	// structural check after patching.
	err := applier.Apply(ctx, "wf-evolve", Proposal{
		Operations: []map[string]interface{}{
			addNodeOp("a", workflow.NodeTypeScript, "A again"),
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid")

	// The stored document is untouched.
	wf, err := st.Workflow(ctx, "wf-evolve")
	require.NoError(t, err)
	assert.Len(t, wf.Nodes, 3)

	history, err := st.EvolutionHistory(ctx, "wf-evolve")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestApplyBadPatchLeavesWorkflowUntouched(t *testing.T) {
	applier, st := newTestApplier(t)
	ctx := context.Background()
	require.NoError(t, st.PutWorkflow(ctx, testWorkflow()))

	err := applier.Apply(ctx, "wf-evolve", Proposal{
		Operations: []map[string]interface{}{
			{"op": "remove", "path": "/nodes/99"},
		},
	})
	require.Error(t, err)

	wf, err := st.Workflow(ctx, "wf-evolve")
	require.NoError(t, err)
	assert.Len(t, wf.Nodes, 3)
}
