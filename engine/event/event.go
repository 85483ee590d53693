// Package event defines the execution event stream: the sum type the
// engine emits, the timestamped records the journal appends, and the
// summary fold that turns a record stream back into an execution summary.
package event

import (
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Type tags for execution events
type Type string

const (
	TypeExecutionStart    Type = "execution-start"
	TypeNodeStart         Type = "node-start"
	TypeNodeOutput        Type = "node-output"
	TypeNodeComplete      Type = "node-complete"
	TypeNodeError         Type = "node-error"
	TypeNodeWaiting       Type = "node-waiting"
	TypeExecutionComplete Type = "execution-complete"
	TypeExecutionError    Type = "execution-error"
	TypeValidationError   Type = "validation-error"
	TypeNodeEvolution     Type = "node-evolution"
)

// interruptedMessage is the execution-error text a cancelled run records
const interruptedMessage = "Execution interrupted"

// Event is the tagged union streamed to subscribers and appended to the
// journal. Only the fields implied by Type are set.
type Event struct {
	Type        Type                       `json:"type"`
	ExecutionID string                     `json:"executionId,omitempty"`
	WorkflowID  string                     `json:"workflowId,omitempty"`
	NodeID      string                     `json:"nodeId,omitempty"`
	NodeName    string                     `json:"nodeName,omitempty"`
	Result      interface{}                `json:"result,omitempty"`
	Error       string                     `json:"error,omitempty"`
	AgentEvent  *exec.AgentEvent           `json:"event,omitempty"`
	Approval    *exec.ApprovalRequest      `json:"approval,omitempty"`
	Errors      []workflow.ValidationIssue `json:"errors,omitempty"`
	Evolution   *EvolutionInfo             `json:"evolution,omitempty"`
}

// EvolutionInfo is the node-evolution payload: what a reflection node
// proposed and what became of it.
type EvolutionInfo struct {
	Mode       string                   `json:"mode"`
	Applied    bool                     `json:"applied"`
	Summary    string                   `json:"summary,omitempty"`
	Operations []map[string]interface{} `json:"operations,omitempty"`
}

// Constructors keep payload shapes in one place.

func ExecutionStart(executionID, workflowID string) Event {
	return Event{Type: TypeExecutionStart, ExecutionID: executionID, WorkflowID: workflowID}
}

func NodeStart(nodeID, nodeName string) Event {
	return Event{Type: TypeNodeStart, NodeID: nodeID, NodeName: nodeName}
}

func NodeOutput(nodeID string, ev exec.AgentEvent) Event {
	return Event{Type: TypeNodeOutput, NodeID: nodeID, AgentEvent: &ev}
}

func NodeComplete(nodeID string, result interface{}) Event {
	return Event{Type: TypeNodeComplete, NodeID: nodeID, Result: result}
}

func NodeError(nodeID string, err string) Event {
	return Event{Type: TypeNodeError, NodeID: nodeID, Error: err}
}

func NodeWaiting(nodeID, nodeName string, approval exec.ApprovalRequest) Event {
	return Event{Type: TypeNodeWaiting, NodeID: nodeID, NodeName: nodeName, Approval: &approval}
}

func NodeEvolution(nodeID string, info EvolutionInfo) Event {
	return Event{Type: TypeNodeEvolution, NodeID: nodeID, Evolution: &info}
}

func ExecutionComplete(result interface{}) Event {
	return Event{Type: TypeExecutionComplete, Result: result}
}

func ExecutionError(err string) Event {
	return Event{Type: TypeExecutionError, Error: err}
}

// ExecutionInterrupted is the execution-error a cancelled run records
func ExecutionInterrupted() Event {
	return ExecutionError(interruptedMessage)
}

func ValidationError(issues []workflow.ValidationIssue) Event {
	return Event{Type: TypeValidationError, Errors: issues}
}

// IsTerminal reports whether the event ends an execution's stream
func (e Event) IsTerminal() bool {
	return e.Type == TypeExecutionComplete || e.Type == TypeExecutionError || e.Type == TypeValidationError
}
