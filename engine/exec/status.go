package exec

import "time"

// NodeStatus is the per-execution state of one node
type NodeStatus string

const (
	StatusPending  NodeStatus = "pending"
	StatusRunning  NodeStatus = "running"
	StatusComplete NodeStatus = "complete"
	StatusError    NodeStatus = "error"
	StatusSkipped  NodeStatus = "skipped"
	StatusWaiting  NodeStatus = "waiting"
)

// Terminal reports whether the status ends the node's current iteration
func (s NodeStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError || s == StatusSkipped
}

// Reusable reports whether a checkpointed node in this status satisfies a
// replay dependency.
func (s NodeStatus) Reusable() bool {
	return s == StatusComplete || s == StatusSkipped
}

// NodeState tracks one node through an execution
type NodeState struct {
	Status      NodeStatus  `json:"status"`
	Output      interface{} `json:"output,omitempty"`
	Error       string      `json:"error,omitempty"`
	StartedAt   *time.Time  `json:"startedAt,omitempty"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// CheckpointNode is the persisted slice of a node's state
type CheckpointNode struct {
	Status NodeStatus `json:"status"`
	Error  string     `json:"error,omitempty"`
}

// Checkpoint is a frozen capture of an execution's node states, node
// outputs, and variables. Read-only once taken; the replay planner and the
// scheduler's replay seeding are its only consumers.
type Checkpoint struct {
	TakenAt     time.Time                 `json:"takenAt"`
	NodeStates  map[string]CheckpointNode `json:"nodeStates"`
	NodeOutputs map[string]interface{}    `json:"nodeOutputs"`
	Variables   map[string]interface{}    `json:"variables"`
}
