package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testNode(id, nodeType, name string) Node {
	return Node{
		ID:   id,
		Type: nodeType,
		Data: map[string]interface{}{"name": name},
	}
}

// Input → A → B → Output, plus A → C → Output (diamond over Output)
func diamondWorkflow() *Workflow {
	return &Workflow{
		ID: "wf-diamond",
		Nodes: []Node{
			testNode("in", NodeTypeInput, "Input"),
			testNode("a", NodeTypeScript, "A"),
			testNode("b", NodeTypeScript, "B"),
			testNode("c", NodeTypeScript, "C"),
			testNode("out", NodeTypeOutput, "Output"),
		},
		Edges: []Edge{
			{ID: "e1", Source: "in", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "a", Target: "c"},
			{ID: "e4", Source: "b", Target: "out"},
			{ID: "e5", Source: "c", Target: "out"},
		},
	}
}

// Input → A → Cond; Cond true→Output, false→A (loop back-edge)
func loopWorkflow() *Workflow {
	return &Workflow{
		ID: "wf-loop",
		Nodes: []Node{
			testNode("in", NodeTypeInput, "Input"),
			testNode("a", NodeTypeScript, "A"),
			testNode("cond", NodeTypeCondition, "Check"),
			testNode("out", NodeTypeOutput, "Output"),
		},
		Edges: []Edge{
			{ID: "e1", Source: "in", Target: "a"},
			{ID: "e2", Source: "a", Target: "cond"},
			{ID: "e3", Source: "cond", Target: "out", SourceHandle: HandleTrue},
			{ID: "e4", Source: "cond", Target: "a", SourceHandle: HandleFalse},
		},
	}
}

func TestGraphAdjacency(t *testing.T) {
	g := NewGraph(diamondWorkflow(), nil)

	assert.ElementsMatch(t, []string{"b", "c"}, g.Successors("a"))
	assert.ElementsMatch(t, []string{"b", "c"}, g.Predecessors("out"))
	assert.Empty(t, g.Predecessors("in"))
	assert.Empty(t, g.Successors("out"))

	require.Len(t, g.OutgoingEdges("a"), 2)
	require.Len(t, g.IncomingEdges("out"), 2)
}

func TestGraphAncestorsFurthestFirst(t *testing.T) {
	g := NewGraph(diamondWorkflow(), nil)

	ancestors := g.Ancestors("out")
	require.Len(t, ancestors, 4)

	// The input is the furthest ancestor and must come first; the direct
	// predecessors come last.
	assert.Equal(t, "in", ancestors[0])
	assert.Equal(t, "a", ancestors[1])
	assert.ElementsMatch(t, []string{"b", "c"}, ancestors[2:])

	assert.NotContains(t, ancestors, "out", "a node is not its own ancestor")
}

func TestGraphAncestorsTerminatesOnCycle(t *testing.T) {
	g := NewGraph(loopWorkflow(), nil)

	ancestors := g.Ancestors("out")
	assert.ElementsMatch(t, []string{"in", "a", "cond"}, ancestors)

	// Every node on the cycle still excludes itself.
	ancestors = g.Ancestors("a")
	assert.ElementsMatch(t, []string{"in", "cond"}, ancestors)
}

func TestGraphDescendants(t *testing.T) {
	g := NewGraph(diamondWorkflow(), nil)

	assert.ElementsMatch(t, []string{"b", "c", "out"}, g.Descendants("a"))
	assert.Empty(t, g.Descendants("out"))

	reachable := g.ReachableFrom("b")
	assert.Equal(t, []string{"b", "out"}, reachable)
}

func TestGraphBackEdgeDetection(t *testing.T) {
	g := NewGraph(loopWorkflow(), nil)

	assert.True(t, g.IsBackEdge("cond", "a"), "false-handle edge closes the loop")
	assert.False(t, g.IsBackEdge("a", "cond"))
	assert.False(t, g.IsBackEdge("cond", "out"))
	assert.False(t, g.IsBackEdge("in", "a"))
}

func TestGraphNameToID(t *testing.T) {
	g := NewGraph(diamondWorkflow(), nil)

	names, err := g.NameToID()
	require.NoError(t, err)
	assert.Equal(t, "a", names["A"])
	assert.Equal(t, "out", names["Output"])

	dup := diamondWorkflow()
	dup.Nodes[2].Data["name"] = "A"
	_, err = NewGraph(dup, nil).NameToID()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node name")
}
