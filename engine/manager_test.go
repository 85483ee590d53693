package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinworks/skein/common/logger"
	"github.com/skeinworks/skein/engine/approval"
	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/engine/executor"
	"github.com/skeinworks/skein/engine/fanout"
	"github.com/skeinworks/skein/engine/replay"
	"github.com/skeinworks/skein/store/fsstore"
	"github.com/skeinworks/skein/workflow"
)

type managerHarness struct {
	manager *Manager
	store   *fsstore.Store
}

func newManagerHarness(t *testing.T, reg *Registry) *managerHarness {
	t.Helper()

	log := logger.New("error", "text")
	st, err := fsstore.New(t.TempDir())
	require.NoError(t, err)

	m := NewManager(ManagerParams{
		Workflows:   st,
		Executions:  st,
		Registry:    reg,
		Hub:         fanout.NewHub(),
		Coordinator: approval.NewCoordinator(log, nil),
		Logger:      log,
		BaseDir:     t.TempDir(),
	})
	return &managerHarness{manager: m, store: st}
}

func defaultRegistry() *Registry {
	reg := NewRegistry()
	reg.MustRegister(workflow.NodeTypeInput, executor.Input{})
	reg.MustRegister(workflow.NodeTypeOutput, executor.Output{})
	reg.MustRegister(workflow.NodeTypeApproval, executor.Approval{})
	reg.MustRegister(workflow.NodeTypeScript, echoStub("done"))
	return reg
}

func linearTestWorkflow() *workflow.Workflow {
	return &workflow.Workflow{
		ID:   "wf-mgr",
		Name: "manager test",
		Nodes: []workflow.Node{
			testNode("in", workflow.NodeTypeInput, "Input"),
			testNode("a", workflow.NodeTypeScript, "A"),
			testNode("b", workflow.NodeTypeScript, "B"),
			testNode("out", workflow.NodeTypeOutput, "Output"),
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "in", Target: "a"},
			{ID: "e2", Source: "a", Target: "b"},
			{ID: "e3", Source: "b", Target: "out"},
		},
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestManagerStartPersistsEverything(t *testing.T) {
	h := newManagerHarness(t, defaultRegistry())
	ctx := waitCtx(t)

	require.NoError(t, h.store.PutWorkflow(ctx, linearTestWorkflow()))

	id, err := h.manager.Start(ctx, StartParams{WorkflowID: "wf-mgr", Input: "payload"})
	require.NoError(t, err)
	require.NoError(t, h.manager.Wait(ctx, id))
	assert.False(t, h.manager.IsRunning(id))

	sum, err := h.store.Summary(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, event.StatusComplete, sum.Status)
	assert.Equal(t, "wf-mgr", sum.WorkflowID)
	assert.Equal(t, "payload", sum.Input)

	records, err := h.store.Events(ctx, id, "")
	require.NoError(t, err)
	require.NotEmpty(t, records)
	assert.Equal(t, event.TypeExecutionStart, records[0].Event.Type)
	assert.Equal(t, event.TypeExecutionComplete, records[len(records)-1].Event.Type)

	// The end-of-run checkpoint and the start-of-run snapshot both landed.
	cp, err := h.store.Checkpoint(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, exec.StatusComplete, cp.NodeStates["out"].Status)

	snap, err := h.store.Snapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "wf-mgr", snap.WorkflowID)
	assert.Len(t, snap.Nodes, 4)
}

func TestManagerApprovalRoundTrip(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-hitl",
		Nodes: []workflow.Node{
			testNode("in", workflow.NodeTypeInput, "Input"),
			{ID: "gate", Type: workflow.NodeTypeApproval, Data: map[string]interface{}{
				"name":    "Review",
				"message": "ship it?",
			}},
			testNode("rej", workflow.NodeTypeScript, "Rework"),
			testNode("out", workflow.NodeTypeOutput, "Output"),
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "in", Target: "gate"},
			{ID: "e2", Source: "gate", Target: "out", SourceHandle: workflow.HandleApproval},
			{ID: "e3", Source: "gate", Target: "rej", SourceHandle: workflow.HandleRejection},
		},
	}

	h := newManagerHarness(t, defaultRegistry())
	ctx := waitCtx(t)

	id, err := h.manager.Start(ctx, StartParams{Workflow: wf, Input: nil})
	require.NoError(t, err)

	// The run parks on the approval node.
	var pending []exec.ApprovalRequest
	require.Eventually(t, func() bool {
		pending = h.manager.PendingApprovals(id)
		return len(pending) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "gate", pending[0].NodeID)
	assert.Equal(t, "ship it?", pending[0].Message)

	require.NoError(t, h.manager.SubmitApproval(id, "gate", exec.ApprovalResponse{
		Approved:    true,
		Feedback:    "lgtm",
		RespondedAt: time.Now(),
	}))
	require.NoError(t, h.manager.Wait(ctx, id))

	cp, err := h.store.Checkpoint(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, exec.StatusComplete, cp.NodeStates["gate"].Status)
	assert.Equal(t, exec.StatusSkipped, cp.NodeStates["rej"].Status, "rejection branch stays inactive")
	assert.Equal(t, exec.StatusComplete, cp.NodeStates["out"].Status)

	// The decision is the node's output.
	decision, ok := cp.NodeOutputs["gate"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, decision["approved"])
	assert.Equal(t, "lgtm", decision["feedback"])
}

func TestManagerSubscribeSeesPrefixAndLive(t *testing.T) {
	wf := &workflow.Workflow{
		ID: "wf-stream",
		Nodes: []workflow.Node{
			testNode("in", workflow.NodeTypeInput, "Input"),
			{ID: "gate", Type: workflow.NodeTypeApproval, Data: map[string]interface{}{
				"name":    "Review",
				"message": "continue?",
			}},
			testNode("out", workflow.NodeTypeOutput, "Output"),
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "in", Target: "gate"},
			{ID: "e2", Source: "gate", Target: "out", SourceHandle: workflow.HandleApproval},
		},
	}

	h := newManagerHarness(t, defaultRegistry())
	ctx := waitCtx(t)

	id, err := h.manager.Start(ctx, StartParams{Workflow: wf})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(h.manager.PendingApprovals(id)) == 1
	}, 5*time.Second, 10*time.Millisecond)

	sub, err := h.manager.Subscribe(id, "")
	require.NoError(t, err)
	defer sub.Cancel()

	// Everything up to the waiting node arrived as prefix.
	require.NotEmpty(t, sub.Prefix)
	assert.Equal(t, event.TypeExecutionStart, sub.Prefix[0].Event.Type)
	assert.Equal(t, event.TypeNodeWaiting, sub.Prefix[len(sub.Prefix)-1].Event.Type)

	require.NoError(t, h.manager.SubmitApproval(id, "gate", exec.ApprovalResponse{Approved: true}))

	var live []event.Record
	for rec := range sub.Live {
		live = append(live, rec)
	}
	require.NotEmpty(t, live)
	assert.Equal(t, event.TypeExecutionComplete, live[len(live)-1].Event.Type)

	// Subscribing after the run retired falls back to the journal.
	_, err = h.manager.Subscribe(id, "")
	assert.ErrorIs(t, err, fanout.ErrNoStream)
}

func TestManagerReplayReusesCheckpoint(t *testing.T) {
	h := newManagerHarness(t, defaultRegistry())
	ctx := waitCtx(t)

	require.NoError(t, h.store.PutWorkflow(ctx, linearTestWorkflow()))

	sourceID, err := h.manager.Start(ctx, StartParams{WorkflowID: "wf-mgr", Input: "first"})
	require.NoError(t, err)
	require.NoError(t, h.manager.Wait(ctx, sourceID))

	replayID, plan, err := h.manager.Replay(ctx, ReplayParams{
		SourceExecutionID: sourceID,
		FromNodeID:        "b",
		UseOriginalInput:  true,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b", "out"}, plan.ReplayNodeIDs)
	require.NoError(t, h.manager.Wait(ctx, replayID))

	sum, err := h.store.Summary(ctx, replayID)
	require.NoError(t, err)
	assert.Equal(t, event.StatusComplete, sum.Status)
	require.NotNil(t, sum.Replay)
	assert.Equal(t, sourceID, sum.Replay.SourceExecutionID)
	assert.Equal(t, "b", sum.Replay.FromNodeID)
	assert.Equal(t, "first", sum.Input, "original input carried over")

	records, err := h.store.Events(ctx, replayID, "")
	require.NoError(t, err)
	starts := nodeStarts(records)
	assert.Zero(t, starts["a"], "cached node must not re-run on replay")
	assert.Equal(t, 1, starts["b"])
}

func TestManagerReplayBlockedByRemovedNode(t *testing.T) {
	h := newManagerHarness(t, defaultRegistry())
	ctx := waitCtx(t)

	require.NoError(t, h.store.PutWorkflow(ctx, linearTestWorkflow()))

	sourceID, err := h.manager.Start(ctx, StartParams{WorkflowID: "wf-mgr", Input: "first"})
	require.NoError(t, err)
	require.NoError(t, h.manager.Wait(ctx, sourceID))

	// Drop node B from the stored workflow after the source run.
	edited := linearTestWorkflow()
	edited.Nodes = append(edited.Nodes[:2], edited.Nodes[3])
	edited.Edges = []workflow.Edge{
		{ID: "e1", Source: "in", Target: "a"},
		{ID: "e2", Source: "a", Target: "out"},
	}
	require.NoError(t, h.store.PutWorkflow(ctx, edited))

	_, plan, err := h.manager.Replay(ctx, ReplayParams{
		SourceExecutionID: sourceID,
		FromNodeID:        "out",
	})
	require.ErrorIs(t, err, ErrReplayBlocked)
	require.NotNil(t, plan)
	require.True(t, plan.IsBlocked())

	found := false
	for _, reason := range plan.Blocking {
		if reason.Code == replay.ReasonNodeRemoved {
			found = true
			assert.Equal(t, "b", reason.NodeID)
			assert.Contains(t, reason.Message, "removed")
		}
	}
	assert.True(t, found, "plan must name the removed node")

	// The same verdict is available without starting anything.
	viewPlan, err := h.manager.ReplayPlan(ctx, ReplayParams{SourceExecutionID: sourceID, FromNodeID: "out"})
	require.NoError(t, err)
	assert.True(t, viewPlan.IsBlocked())
}

func TestManagerInterrupt(t *testing.T) {
	reg := defaultRegistry()
	started := make(chan struct{})
	reg.MustRegister("slow", &stubExecutor{
		run: func(ctx context.Context, _ *workflow.Node, _ exec.Context) (*exec.Result, error) {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	wf := &workflow.Workflow{
		ID: "wf-stop",
		Nodes: []workflow.Node{
			testNode("in", workflow.NodeTypeInput, "Input"),
			testNode("slow", "slow", "Slow"),
			testNode("out", workflow.NodeTypeOutput, "Output"),
		},
		Edges: []workflow.Edge{
			{ID: "e1", Source: "in", Target: "slow"},
			{ID: "e2", Source: "slow", Target: "out"},
		},
	}

	h := newManagerHarness(t, reg)
	ctx := waitCtx(t)

	id, err := h.manager.Start(ctx, StartParams{Workflow: wf})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("slow node never started")
	}
	require.NoError(t, h.manager.Interrupt(id))
	_ = h.manager.Wait(ctx, id)

	sum, err := h.store.Summary(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, event.StatusInterrupted, sum.Status)

	assert.ErrorIs(t, h.manager.Interrupt(id), ErrNotRunning)
}
