package workflow

import "fmt"

// Normalize upgrades a stored workflow to the shape the engine requires:
// every workflow has at least one input and one output node, every node has
// a data map, and every edge has an id. Called on load, before validation.
func Normalize(wf *Workflow) {
	for i := range wf.Nodes {
		if wf.Nodes[i].Data == nil {
			wf.Nodes[i].Data = map[string]interface{}{}
		}
	}

	ensureInputNode(wf)
	ensureOutputNode(wf)
	assignEdgeIDs(wf)
}

func ensureInputNode(wf *Workflow) {
	if len(wf.NodesOfType(NodeTypeInput)) > 0 {
		return
	}

	// Entry nodes before the synthetic input is wired in.
	hasIncoming := make(map[string]bool)
	for _, e := range wf.Edges {
		hasIncoming[e.Target] = true
	}

	input := Node{
		ID:   uniqueNodeID(wf, "input"),
		Type: NodeTypeInput,
		Data: map[string]interface{}{"name": uniqueNodeName(wf, "Input")},
	}
	wf.Nodes = append(wf.Nodes, input)

	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if node.ID == input.ID || hasIncoming[node.ID] {
			continue
		}
		wf.Edges = append(wf.Edges, Edge{Source: input.ID, Target: node.ID})
	}
}

func ensureOutputNode(wf *Workflow) {
	if len(wf.NodesOfType(NodeTypeOutput)) > 0 {
		return
	}

	hasOutgoing := make(map[string]bool)
	for _, e := range wf.Edges {
		hasOutgoing[e.Source] = true
	}

	output := Node{
		ID:   uniqueNodeID(wf, "output"),
		Type: NodeTypeOutput,
		Data: map[string]interface{}{"name": uniqueNodeName(wf, "Output")},
	}
	wf.Nodes = append(wf.Nodes, output)

	wired := false
	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if node.ID == output.ID || hasOutgoing[node.ID] {
			continue
		}
		wf.Edges = append(wf.Edges, Edge{Source: node.ID, Target: output.ID})
		wired = true
	}

	// Every node sits on a cycle: hang the output off the input so the
	// graph stays connected.
	if !wired {
		if inputs := wf.NodesOfType(NodeTypeInput); len(inputs) > 0 {
			wf.Edges = append(wf.Edges, Edge{Source: inputs[0].ID, Target: output.ID})
		}
	}
}

func assignEdgeIDs(wf *Workflow) {
	used := make(map[string]bool, len(wf.Edges))
	for _, e := range wf.Edges {
		if e.ID != "" {
			used[e.ID] = true
		}
	}
	for i := range wf.Edges {
		edge := &wf.Edges[i]
		if edge.ID != "" {
			continue
		}
		base := fmt.Sprintf("edge-%s-%s", edge.Source, edge.Target)
		id := base
		for n := 2; used[id]; n++ {
			id = fmt.Sprintf("%s-%d", base, n)
		}
		edge.ID = id
		used[id] = true
	}
}

func uniqueNodeID(wf *Workflow, base string) string {
	used := make(map[string]bool, len(wf.Nodes))
	for i := range wf.Nodes {
		used[wf.Nodes[i].ID] = true
	}
	id := base
	for n := 2; used[id]; n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

func uniqueNodeName(wf *Workflow, base string) string {
	used := make(map[string]bool, len(wf.Nodes))
	for i := range wf.Nodes {
		used[wf.Nodes[i].Name()] = true
	}
	name := base
	for n := 2; used[name]; n++ {
		name = fmt.Sprintf("%s %d", base, n)
	}
	return name
}
