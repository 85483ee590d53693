package executor

import (
	"context"
	"time"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Approval hands the node off to the approval coordinator and waits for a
// human decision. The decision becomes the node's output; edge routing
// keys off the "approval"/"rejection" source handles.
type Approval struct{}

func (Approval) Execute(ctx context.Context, node *workflow.Node, ectx exec.Context, _ exec.EmitFunc) (*exec.Result, error) {
	req := exec.ApprovalRequest{
		ExecutionID: ectx.ExecutionID(),
		NodeID:      node.ID,
		NodeName:    node.Name(),
		Message:     ectx.Interpolate(exec.ConfString(node.Data, "message")),
		Payload:     ectx.PredecessorOutputs(node.ID),
		RequestedAt: time.Now().UTC(),
	}

	resp, err := ectx.AwaitApproval(ctx, req)
	if err != nil {
		return nil, err
	}

	return &exec.Result{Output: map[string]interface{}{
		"approved":    resp.Approved,
		"feedback":    resp.Feedback,
		"respondedAt": resp.RespondedAt.UTC().Format(time.RFC3339),
	}}, nil
}

// OutputHandle routes "approval" or "rejection" from the decision
func (Approval) OutputHandle(result interface{}, _ *workflow.Node) (string, bool) {
	decision, ok := result.(map[string]interface{})
	if !ok {
		return "", false
	}
	approved, ok := decision["approved"].(bool)
	if !ok {
		return "", false
	}
	if approved {
		return workflow.HandleApproval, true
	}
	return workflow.HandleRejection, true
}
