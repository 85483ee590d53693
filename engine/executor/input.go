// Package executor implements the node-type catalogue: the handlers the
// engine dispatches to through the executor registry. Every executor is
// stateless across executions; per-run state lives in the execution
// context's variables.
package executor

import (
	"context"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Input passes the workflow input through verbatim. The scheduler
// pre-seeds input nodes before the main loop; Execute only runs when an
// input node is re-seeded during a replay.
type Input struct{}

func (Input) Execute(_ context.Context, _ *workflow.Node, ectx exec.Context, _ exec.EmitFunc) (*exec.Result, error) {
	return &exec.Result{Output: ectx.Input()}, nil
}
