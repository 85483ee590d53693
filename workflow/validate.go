package workflow

import "fmt"

// Validation issue codes
const (
	IssueDuplicateNodeID   = "duplicate-node-id"
	IssueDuplicateNodeName = "duplicate-node-name"
	IssueMissingNodeName   = "missing-node-name"
	IssueDanglingEdge      = "dangling-edge"
	IssueMissingInputNode  = "missing-input-node"
	IssueMissingOutputNode = "missing-output-node"
)

// ValidationIssue describes one structural problem with a workflow
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
}

func (v ValidationIssue) Error() string {
	if v.NodeID != "" {
		return fmt.Sprintf("%s: %s (node %s)", v.Code, v.Message, v.NodeID)
	}
	return fmt.Sprintf("%s: %s", v.Code, v.Message)
}

// Validate checks the structural invariants a workflow must satisfy before
// execution: unique ids and names, edges referencing extant nodes, and the
// input/output nodes Normalize guarantees. Returns nil when clean.
func Validate(wf *Workflow) []ValidationIssue {
	var issues []ValidationIssue

	ids := make(map[string]bool, len(wf.Nodes))
	names := make(map[string]string, len(wf.Nodes))
	for i := range wf.Nodes {
		node := &wf.Nodes[i]

		if ids[node.ID] {
			issues = append(issues, ValidationIssue{
				Code:    IssueDuplicateNodeID,
				Message: fmt.Sprintf("node id %q appears more than once", node.ID),
				NodeID:  node.ID,
			})
		}
		ids[node.ID] = true

		name := node.Name()
		if name == "" {
			issues = append(issues, ValidationIssue{
				Code:    IssueMissingNodeName,
				Message: "node has no name; references cannot target it",
				NodeID:  node.ID,
			})
			continue
		}
		if other, ok := names[name]; ok {
			issues = append(issues, ValidationIssue{
				Code:    IssueDuplicateNodeName,
				Message: fmt.Sprintf("node name %q is shared with node %s", name, other),
				NodeID:  node.ID,
			})
		}
		names[name] = node.ID
	}

	for _, edge := range wf.Edges {
		if !ids[edge.Source] {
			issues = append(issues, ValidationIssue{
				Code:    IssueDanglingEdge,
				Message: fmt.Sprintf("edge %s references missing source node %q", edge.ID, edge.Source),
			})
		}
		if !ids[edge.Target] {
			issues = append(issues, ValidationIssue{
				Code:    IssueDanglingEdge,
				Message: fmt.Sprintf("edge %s references missing target node %q", edge.ID, edge.Target),
			})
		}
	}

	if len(wf.NodesOfType(NodeTypeInput)) == 0 {
		issues = append(issues, ValidationIssue{
			Code:    IssueMissingInputNode,
			Message: "workflow has no input node",
		})
	}
	if len(wf.NodesOfType(NodeTypeOutput)) == 0 {
		issues = append(issues, ValidationIssue{
			Code:    IssueMissingOutputNode,
			Message: "workflow has no output node",
		})
	}

	return issues
}
