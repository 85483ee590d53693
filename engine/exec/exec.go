// Package exec defines the contract between the execution engine and the
// node executors: the executor interfaces, the read view of an execution
// the engine hands to executors, and the value/event types that cross that
// boundary. Executor packages import exec, never the engine itself.
package exec

import (
	"context"

	"github.com/skeinworks/skein/workflow"
)

// Logger is the minimal logging surface engine packages depend on
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// Result is what an executor returns on success
type Result struct {
	// Output becomes the node's output in the execution context.
	Output interface{}

	// Metadata is carried on the node-complete event but never resolved
	// against.
	Metadata map[string]interface{}

	// StructuredOutput holds machine-parsed fields some executors capture
	// alongside the textual output (agent JSON mode).
	StructuredOutput map[string]interface{}
}

// EmitFunc streams a sub-event from a running executor. Emissions are
// forwarded as node-output events and serialized by the journal writer.
type EmitFunc func(ev AgentEvent)

// Executor runs one node type
type Executor interface {
	Execute(ctx context.Context, node *workflow.Node, ectx Context, emit EmitFunc) (*Result, error)
}

// Validator is implemented by executors that can reject a node's config
// before execution starts.
type Validator interface {
	Validate(node *workflow.Node) error
}

// Brancher is implemented by executors whose result selects one outgoing
// source handle. The returned handle is the active branch; every other
// handled edge leads to an inactive branch. ok is false when the result
// selects nothing.
type Brancher interface {
	OutputHandle(result interface{}, node *workflow.Node) (handle string, ok bool)
}

// Context is the engine-owned view an executor gets of the running
// execution. Reads are safe from the executor goroutine; the node
// output/state maps are mutated only by the engine's control loop.
// Variables are the exception: executors persist session state through
// SetVariable and the engine guards that map.
type Context interface {
	ExecutionID() string
	WorkflowID() string

	// Input is the workflow input this execution started with.
	Input() interface{}

	Graph() *workflow.Graph
	NodeIDByName(name string) (string, bool)
	NodeName(id string) string

	NodeOutput(id string) (interface{}, bool)

	// PredecessorOutputs returns the outputs of id's predecessors keyed by
	// node name. Predecessors without an output yet are omitted.
	PredecessorOutputs(id string) map[string]interface{}

	Variable(key string) (interface{}, bool)
	SetVariable(key string, value interface{})

	// Interpolate substitutes every {{...}} reference in text.
	Interpolate(text string) string

	// ResolveReference resolves one reference body ("Name.path") to its raw
	// value. ok is false when the reference points at nothing.
	ResolveReference(ref string) (interface{}, bool)

	// WorkingDirectory joins a node-level override against the execution's
	// base directory.
	WorkingDirectory(node *workflow.Node) string

	// SuccessorRequiresJSON reports whether any successor of id consumes
	// structured output (condition, merge). Agent executors switch their
	// transport to JSON mode when it does.
	SuccessorRequiresJSON(id string) bool

	// AwaitApproval parks the node in the waiting state and blocks until an
	// external caller resolves or cancels the request, or ctx is cancelled.
	AwaitApproval(ctx context.Context, req ApprovalRequest) (ApprovalResponse, error)
}
