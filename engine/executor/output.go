package executor

import (
	"context"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Output echoes its predecessor's output: the single predecessor's value
// verbatim, or a name-keyed object when several branches feed it.
type Output struct{}

func (Output) Execute(_ context.Context, node *workflow.Node, ectx exec.Context, _ exec.EmitFunc) (*exec.Result, error) {
	outputs := ectx.PredecessorOutputs(node.ID)

	if len(outputs) == 1 {
		for _, value := range outputs {
			return &exec.Result{Output: value}, nil
		}
	}

	consolidated := make(map[string]interface{}, len(outputs))
	for name, value := range outputs {
		consolidated[name] = value
	}
	return &exec.Result{Output: consolidated}, nil
}
