package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/evolution"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Reflection modes
const (
	ModeSuggest   = "suggest"
	ModeDryRun    = "dry-run"
	ModeAutoApply = "auto-apply"
)

// MetadataEvolution is the result-metadata key the scheduler turns into a
// node-evolution event.
const MetadataEvolution = "evolution"

// Reflection takes a self-modification proposal from upstream, validates
// it, and applies it to the workflow document according to mode:
// auto-apply applies immediately, suggest waits for a human through the
// approval protocol, dry-run never applies.
type Reflection struct {
	applier *evolution.Applier
}

// NewReflection creates the reflection executor
func NewReflection(applier *evolution.Applier) *Reflection {
	return &Reflection{applier: applier}
}

// Validate rejects an unknown mode
func (r *Reflection) Validate(node *workflow.Node) error {
	switch mode := exec.ConfString(node.Data, "mode"); mode {
	case "", ModeSuggest, ModeDryRun, ModeAutoApply:
		return nil
	default:
		return fmt.Errorf("reflection node %q has unknown mode %q", node.Name(), mode)
	}
}

func (r *Reflection) Execute(ctx context.Context, node *workflow.Node, ectx exec.Context, _ exec.EmitFunc) (*exec.Result, error) {
	mode := exec.ConfString(node.Data, "mode")
	if mode == "" {
		mode = ModeSuggest
	}

	operations, summary, err := r.proposal(node, ectx)
	if err != nil {
		return nil, err
	}

	validationErr := evolution.ValidateOperations(operations)

	apply := false
	switch mode {
	case ModeDryRun:

	case ModeAutoApply:
		if validationErr != nil {
			return nil, fmt.Errorf("proposal invalid: %w", validationErr)
		}
		apply = true

	case ModeSuggest:
		if validationErr != nil {
			return nil, fmt.Errorf("proposal invalid: %w", validationErr)
		}
		resp, err := ectx.AwaitApproval(ctx, exec.ApprovalRequest{
			ExecutionID: ectx.ExecutionID(),
			NodeID:      node.ID,
			NodeName:    node.Name(),
			Message:     fmt.Sprintf("Apply %d workflow change(s)? %s", len(operations), summary),
			Payload:     map[string]interface{}{"operations": operations, "summary": summary},
			RequestedAt: time.Now().UTC(),
		})
		if err != nil {
			return nil, err
		}
		apply = resp.Approved
	}

	applied := false
	if apply {
		err := r.applier.Apply(ctx, ectx.WorkflowID(), evolution.Proposal{
			ExecutionID: ectx.ExecutionID(),
			NodeID:      node.ID,
			Operations:  operations,
			Summary:     summary,
		})
		if err != nil {
			return nil, fmt.Errorf("apply evolution: %w", err)
		}
		applied = true
	}

	output := map[string]interface{}{
		"mode":       mode,
		"applied":    applied,
		"operations": operations,
		"summary":    summary,
	}
	if validationErr != nil {
		output["validationError"] = validationErr.Error()
	}

	return &exec.Result{
		Output: output,
		Metadata: map[string]interface{}{
			MetadataEvolution: event.EvolutionInfo{
				Mode:       mode,
				Applied:    applied,
				Summary:    summary,
				Operations: operations,
			},
		},
	}, nil
}

// proposal extracts the patch operations: an operationsReference config
// pointing at upstream output, or an "operations" field in a predecessor's
// output.
func (r *Reflection) proposal(node *workflow.Node, ectx exec.Context) ([]map[string]interface{}, string, error) {
	var raw interface{}

	if ref := exec.ConfString(node.Data, "operationsReference"); ref != "" {
		value, ok := ectx.ResolveReference(ref)
		if !ok {
			return nil, "", fmt.Errorf("operationsReference %q resolved to nothing", ref)
		}
		raw = value
	} else {
		for _, output := range ectx.PredecessorOutputs(node.ID) {
			if m, ok := output.(map[string]interface{}); ok {
				if ops, ok := m["operations"]; ok {
					raw = ops
					break
				}
			}
		}
	}

	if raw == nil {
		return nil, "", fmt.Errorf("no proposal operations found upstream of reflection node")
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, "", fmt.Errorf("encode proposal: %w", err)
	}
	var operations []map[string]interface{}
	if err := json.Unmarshal(encoded, &operations); err != nil {
		return nil, "", fmt.Errorf("proposal operations must be a list of patch objects: %w", err)
	}

	summary := ectx.Interpolate(exec.ConfString(node.Data, "summary"))
	return operations, summary, nil
}
