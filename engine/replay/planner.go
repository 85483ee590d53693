package replay

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Reason codes. Blocking reasons stop a replay; warnings surface to the
// caller but the replay proceeds.
const (
	ReasonInvalidNode       = "invalid-node"
	ReasonInactiveBranch    = "inactive-branch"
	ReasonDependencyMissing = "dependency-missing"
	ReasonMissingCheckpoint = "missing-checkpoint"
	ReasonNodeRemoved       = "node-removed"
	ReasonNodeAdded         = "node-added"

	WarningNodeChanged     = "node-changed"
	WarningEdgeChanged     = "edge-changed"
	WarningSnapshotMissing = "snapshot-missing"
)

// Reason is one blocking reason or warning
type Reason struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	NodeID  string `json:"nodeId,omitempty"`
}

// NodeInfo is the per-node replay report the UI renders
type NodeInfo struct {
	Status     exec.NodeStatus `json:"status"`
	Replayable bool            `json:"replayable"`
	Reason     string          `json:"reason,omitempty"`
}

// Plan is the full replay verdict for one (workflow, checkpoint,
// fromNodeId) request.
type Plan struct {
	FromNodeID      string              `json:"fromNodeId"`
	ReplayNodeIDs   []string            `json:"replayNodeIds"`
	InactiveNodeIDs []string            `json:"inactiveNodeIds"`
	Blocking        []Reason            `json:"blocking,omitempty"`
	Warnings        []Reason            `json:"warnings,omitempty"`
	Nodes           map[string]NodeInfo `json:"nodes"`
}

// IsBlocked reports whether the replay may start
func (p *Plan) IsBlocked() bool {
	return len(p.Blocking) > 0
}

// BrancherLookup resolves the branching hook of a node type. The engine's
// executor registry implements it.
type BrancherLookup interface {
	Brancher(nodeType string) (exec.Brancher, bool)
}

// Planner computes replay plans for one workflow
type Planner struct {
	graph     *workflow.Graph
	branchers BrancherLookup
	log       exec.Logger
}

// NewPlanner creates a planner over the current workflow
func NewPlanner(g *workflow.Graph, branchers BrancherLookup, log exec.Logger) *Planner {
	return &Planner{graph: g, branchers: branchers, log: log}
}

// Plan computes the replay verdict. checkpoint and snapshot may be nil;
// each absence produces its own reason or warning.
func (pl *Planner) Plan(checkpoint *exec.Checkpoint, snapshot *workflow.Snapshot, fromNodeID string) *Plan {
	plan := &Plan{
		FromNodeID: fromNodeID,
		Nodes:      make(map[string]NodeInfo),
	}

	pl.diffSnapshot(plan, snapshot)

	if checkpoint == nil {
		plan.Blocking = append(plan.Blocking, Reason{
			Code:    ReasonMissingCheckpoint,
			Message: "source execution has no checkpoint to replay from",
		})
		return plan
	}

	if _, ok := pl.graph.Node(fromNodeID); !ok {
		plan.Blocking = append(plan.Blocking, Reason{
			Code:    ReasonInvalidNode,
			Message: fmt.Sprintf("node %s does not exist in the current workflow", fromNodeID),
			NodeID:  fromNodeID,
		})
		return plan
	}

	plan.ReplayNodeIDs = pl.graph.ReachableFrom(fromNodeID)
	replaySet := toSet(plan.ReplayNodeIDs)

	// Every ancestor of the replay root must be reusable from the
	// checkpoint: complete or skipped, and complete ones must have kept
	// their output.
	for _, ancestorID := range pl.graph.Ancestors(fromNodeID) {
		state, ok := checkpoint.NodeStates[ancestorID]
		if !ok || !state.Status.Reusable() {
			plan.Blocking = append(plan.Blocking, Reason{
				Code:    ReasonDependencyMissing,
				Message: fmt.Sprintf("dependency %s is not reusable (status %s)", pl.nodeLabel(ancestorID), stateLabel(state, ok)),
				NodeID:  ancestorID,
			})
			continue
		}
		if state.Status == exec.StatusComplete {
			if _, ok := checkpoint.NodeOutputs[ancestorID]; !ok {
				plan.Blocking = append(plan.Blocking, Reason{
					Code:    ReasonDependencyMissing,
					Message: fmt.Sprintf("dependency %s completed but its output is missing from the checkpoint", pl.nodeLabel(ancestorID)),
					NodeID:  ancestorID,
				})
			}
		}
	}

	plan.InactiveNodeIDs = pl.inactiveNodes(checkpoint, replaySet)
	inactiveSet := toSet(plan.InactiveNodeIDs)

	if inactiveSet[fromNodeID] {
		plan.Blocking = append(plan.Blocking, Reason{
			Code:    ReasonInactiveBranch,
			Message: fmt.Sprintf("node %s sits on a branch the source execution did not take", pl.nodeLabel(fromNodeID)),
			NodeID:  fromNodeID,
		})
	}

	pl.fillNodeInfo(plan, checkpoint, inactiveSet)
	return plan
}

// diffSnapshot compares the stored structure against the current workflow
func (pl *Planner) diffSnapshot(plan *Plan, snapshot *workflow.Snapshot) {
	if snapshot == nil {
		plan.Warnings = append(plan.Warnings, Reason{
			Code:    WarningSnapshotMissing,
			Message: "no workflow snapshot was stored for the source execution; structural changes cannot be detected",
		})
		return
	}

	wf := pl.graph.Workflow()

	current := make(map[string]*workflow.Node, len(wf.Nodes))
	for i := range wf.Nodes {
		current[wf.Nodes[i].ID] = &wf.Nodes[i]
	}
	snapshotted := make(map[string]*workflow.Node, len(snapshot.Nodes))
	for i := range snapshot.Nodes {
		snapshotted[snapshot.Nodes[i].ID] = &snapshot.Nodes[i]
	}

	for id, old := range snapshotted {
		cur, ok := current[id]
		if !ok {
			plan.Blocking = append(plan.Blocking, Reason{
				Code:    ReasonNodeRemoved,
				Message: fmt.Sprintf("node %s was removed from the workflow after the source execution", id),
				NodeID:  id,
			})
			continue
		}
		if cur.Type != old.Type || !reflect.DeepEqual(cur.Data, old.Data) {
			plan.Warnings = append(plan.Warnings, Reason{
				Code:    WarningNodeChanged,
				Message: fmt.Sprintf("node %s changed since the source execution; its cached output may be stale", pl.nodeLabel(id)),
				NodeID:  id,
			})
		}
	}

	for id := range current {
		if _, ok := snapshotted[id]; !ok {
			plan.Blocking = append(plan.Blocking, Reason{
				Code:    ReasonNodeAdded,
				Message: fmt.Sprintf("node %s was added after the source execution and has no checkpoint state", id),
				NodeID:  id,
			})
		}
	}

	if !sameEdgeSet(wf.Edges, snapshot.Edges) {
		plan.Warnings = append(plan.Warnings, Reason{
			Code:    WarningEdgeChanged,
			Message: "workflow edges changed since the source execution",
		})
	}
}

// inactiveNodes walks every checkpoint-complete branching node outside the
// replay set, replays its branch decision from the cached output, and
// collects everything reachable through the handles it did not take.
func (pl *Planner) inactiveNodes(checkpoint *exec.Checkpoint, replaySet map[string]bool) []string {
	inactive := make(map[string]bool)
	wf := pl.graph.Workflow()

	for i := range wf.Nodes {
		node := &wf.Nodes[i]
		if replaySet[node.ID] {
			continue
		}
		state, ok := checkpoint.NodeStates[node.ID]
		if !ok || state.Status != exec.StatusComplete {
			continue
		}

		brancher, ok := pl.branchers.Brancher(node.Type)
		if !ok {
			continue
		}
		output, ok := checkpoint.NodeOutputs[node.ID]
		if !ok {
			continue
		}
		handle, ok := brancher.OutputHandle(output, node)
		if !ok {
			continue
		}

		for _, edge := range pl.graph.OutgoingEdges(node.ID) {
			if edge.SourceHandle == "" || edge.SourceHandle == handle {
				continue
			}
			for _, id := range pl.graph.ReachableFrom(edge.Target) {
				inactive[id] = true
			}
		}
	}

	ids := make([]string, 0, len(inactive))
	for id := range inactive {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fillNodeInfo builds the per-node report: a node is replayable when every
// ancestor is reusable from the checkpoint and the node itself is not on
// an inactive branch.
func (pl *Planner) fillNodeInfo(plan *Plan, checkpoint *exec.Checkpoint, inactiveSet map[string]bool) {
	wf := pl.graph.Workflow()
	for i := range wf.Nodes {
		node := &wf.Nodes[i]

		info := NodeInfo{Status: exec.StatusPending, Replayable: true}
		if state, ok := checkpoint.NodeStates[node.ID]; ok {
			info.Status = state.Status
		}

		if inactiveSet[node.ID] {
			info.Replayable = false
			info.Reason = "on a branch the source execution did not take"
		} else {
			for _, ancestorID := range pl.graph.Ancestors(node.ID) {
				state, ok := checkpoint.NodeStates[ancestorID]
				if !ok || !state.Status.Reusable() {
					info.Replayable = false
					info.Reason = fmt.Sprintf("dependency %s is not reusable", pl.nodeLabel(ancestorID))
					break
				}
			}
		}

		plan.Nodes[node.ID] = info
	}
}

// edgeKey identifies an edge for set comparison
type edgeKey struct {
	source       string
	sourceHandle string
	target       string
	targetHandle string
	edgeType     string
}

func sameEdgeSet(a, b []workflow.Edge) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[edgeKey]int, len(a))
	for _, e := range a {
		set[edgeKey{e.Source, e.SourceHandle, e.Target, e.TargetHandle, e.EdgeType}]++
	}
	for _, e := range b {
		k := edgeKey{e.Source, e.SourceHandle, e.Target, e.TargetHandle, e.EdgeType}
		set[k]--
		if set[k] < 0 {
			return false
		}
	}
	return true
}

func (pl *Planner) nodeLabel(id string) string {
	if node, ok := pl.graph.Node(id); ok && node.Name() != "" {
		return fmt.Sprintf("%q (%s)", node.Name(), id)
	}
	return id
}

func stateLabel(state exec.CheckpointNode, ok bool) string {
	if !ok {
		return "never ran"
	}
	return string(state.Status)
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}
