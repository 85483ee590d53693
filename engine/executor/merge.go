package executor

import (
	"context"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Merge collects its predecessors' outputs into one object keyed by node
// name, so downstream references read {{Merge.SomeNode...}} instead of
// opaque ids.
type Merge struct{}

func (Merge) Execute(_ context.Context, node *workflow.Node, ectx exec.Context, _ exec.EmitFunc) (*exec.Result, error) {
	merged := make(map[string]interface{})
	for name, value := range ectx.PredecessorOutputs(node.ID) {
		merged[name] = value
	}
	return &exec.Result{Output: merged}, nil
}
