package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is a frozen copy of a workflow's nodes and edges taken at
// execution start. The replay planner diffs it against the live workflow to
// decide whether a checkpoint is still usable.
type Snapshot struct {
	WorkflowID string    `json:"workflowId"`
	Nodes      []Node    `json:"nodes"`
	Edges      []Edge    `json:"edges"`
	TakenAt    time.Time `json:"takenAt"`
}

// TakeSnapshot deep-copies the workflow structure. Node data maps are
// copied through JSON so later workflow edits cannot leak into the stored
// snapshot.
func TakeSnapshot(wf *Workflow) (*Snapshot, error) {
	raw, err := json.Marshal(struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
	}{wf.Nodes, wf.Edges})
	if err != nil {
		return nil, fmt.Errorf("copy workflow structure: %w", err)
	}

	var copied struct {
		Nodes []Node `json:"nodes"`
		Edges []Edge `json:"edges"`
	}
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, fmt.Errorf("copy workflow structure: %w", err)
	}

	return &Snapshot{
		WorkflowID: wf.ID,
		Nodes:      copied.Nodes,
		Edges:      copied.Edges,
		TakenAt:    time.Now().UTC(),
	}, nil
}
