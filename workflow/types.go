package workflow

// Node type constants
const (
	NodeTypeInput       = "input"
	NodeTypeOutput      = "output"
	NodeTypeClaudeAgent = "claude-agent"
	NodeTypeCodexAgent  = "codex-agent"
	NodeTypeCondition   = "condition"
	NodeTypeMerge       = "merge"
	NodeTypeScript      = "script"
	NodeTypeShell       = "shell"
	NodeTypeApproval    = "approval"
	NodeTypeReflection  = "reflection"
	NodeTypeHTTP        = "http"
)

// Source handle constants produced by branching nodes
const (
	HandleTrue      = "true"
	HandleFalse     = "false"
	HandleApproval  = "approval"
	HandleRejection = "rejection"
)

// Workflow is a directed graph of heterogeneous nodes. It is immutable for
// the duration of a single execution; edits happen through the workflow
// store between runs.
type Workflow struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Description      string `json:"description,omitempty"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	Nodes            []Node `json:"nodes"`
	Edges            []Edge `json:"edges"`
}

// Node is one step in a workflow. Data carries the human-facing name
// (unique within the workflow, used by references) plus type-specific
// config keys. Position is front-end layout payload the engine ignores.
type Node struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Position map[string]interface{} `json:"position,omitempty"`
	Data     map[string]interface{} `json:"data"`
}

// Name returns the human-facing node name from Data
func (n *Node) Name() string {
	if n.Data == nil {
		return ""
	}
	if name, ok := n.Data["name"].(string); ok {
		return name
	}
	return ""
}

// Edge is a directed connection between two nodes. SourceHandle is set on
// edges leaving branching nodes (condition emits "true"/"false", approval
// emits "approval"/"rejection").
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`
	EdgeType     string `json:"edgeType,omitempty"`
}

// NodeByID returns the node with the given id
func (w *Workflow) NodeByID(id string) (*Node, bool) {
	for i := range w.Nodes {
		if w.Nodes[i].ID == id {
			return &w.Nodes[i], true
		}
	}
	return nil, false
}

// NodesOfType returns all nodes with the given type tag
func (w *Workflow) NodesOfType(nodeType string) []*Node {
	var nodes []*Node
	for i := range w.Nodes {
		if w.Nodes[i].Type == nodeType {
			nodes = append(nodes, &w.Nodes[i])
		}
	}
	return nodes
}
