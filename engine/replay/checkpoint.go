// Package replay implements the checkpoint capture and the replay
// planner: deciding which nodes of a new run re-execute, which reuse
// checkpointed outputs, and which sit on branches the source execution
// never took.
package replay

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/skeinworks/skein/engine/exec"
)

// Capture freezes node states, outputs, and variables into a checkpoint.
// Values are deep-copied through JSON so later scheduler mutations cannot
// leak into the stored checkpoint.
func Capture(states map[string]*exec.NodeState, outputs map[string]interface{}, variables map[string]interface{}) (*exec.Checkpoint, error) {
	cp := &exec.Checkpoint{
		TakenAt:     time.Now().UTC(),
		NodeStates:  make(map[string]exec.CheckpointNode, len(states)),
		NodeOutputs: make(map[string]interface{}, len(outputs)),
		Variables:   make(map[string]interface{}, len(variables)),
	}

	for id, state := range states {
		cp.NodeStates[id] = exec.CheckpointNode{Status: state.Status, Error: state.Error}
	}

	copiedOutputs, err := deepCopy(outputs)
	if err != nil {
		return nil, fmt.Errorf("copy node outputs: %w", err)
	}
	cp.NodeOutputs = copiedOutputs

	copiedVars, err := deepCopy(variables)
	if err != nil {
		return nil, fmt.Errorf("copy variables: %w", err)
	}
	cp.Variables = copiedVars

	return cp, nil
}

func deepCopy(m map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	copied := make(map[string]interface{}, len(m))
	if err := json.Unmarshal(raw, &copied); err != nil {
		return nil, err
	}
	return copied, nil
}
