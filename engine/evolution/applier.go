package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/store"
	"github.com/skeinworks/skein/workflow"
)

// Proposal is what a reflection node hands the applier
type Proposal struct {
	ExecutionID string
	NodeID      string
	Operations  []map[string]interface{}
	Summary     string
}

// Applier applies validated proposals to stored workflow documents
type Applier struct {
	workflows store.WorkflowStore
	log       exec.Logger
}

// NewApplier creates an applier over the workflow store
func NewApplier(workflows store.WorkflowStore, log exec.Logger) *Applier {
	return &Applier{workflows: workflows, log: log}
}

// Apply validates the proposal, patches the workflow document, re-runs the
// structural validation, persists the result, and appends an evolution
// record. The stored workflow is untouched when any step fails.
func (a *Applier) Apply(ctx context.Context, workflowID string, proposal Proposal) error {
	if err := ValidateOperations(proposal.Operations); err != nil {
		return fmt.Errorf("validate proposal: %w", err)
	}

	wf, err := a.workflows.Workflow(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("load workflow %s: %w", workflowID, err)
	}

	doc, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("encode workflow document: %w", err)
	}

	rawPatch, err := json.Marshal(proposal.Operations)
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	patch, err := jsonpatch.DecodePatch(rawPatch)
	if err != nil {
		return fmt.Errorf("decode patch: %w", err)
	}

	patched, err := patch.Apply(doc)
	if err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}

	var next workflow.Workflow
	if err := json.Unmarshal(patched, &next); err != nil {
		return fmt.Errorf("decode patched workflow: %w", err)
	}
	next.ID = wf.ID

	workflow.Normalize(&next)
	if issues := workflow.Validate(&next); len(issues) > 0 {
		return fmt.Errorf("patched workflow is invalid: %s", issues[0].Error())
	}

	if err := a.workflows.PutWorkflow(ctx, &next); err != nil {
		return fmt.Errorf("persist patched workflow: %w", err)
	}

	rec := workflow.EvolutionRecord{
		ExecutionID: proposal.ExecutionID,
		NodeID:      proposal.NodeID,
		Timestamp:   time.Now().UTC(),
		Operations:  proposal.Operations,
		Summary:     proposal.Summary,
	}
	if err := a.workflows.AppendEvolution(ctx, workflowID, rec); err != nil {
		// The patch is already live; history loss is logged, not fatal.
		a.log.Error("append evolution record failed", "workflow_id", workflowID, "error", err)
	}

	a.log.Info("workflow evolved",
		"workflow_id", workflowID,
		"execution_id", proposal.ExecutionID,
		"node_id", proposal.NodeID,
		"operations", len(proposal.Operations))
	return nil
}
