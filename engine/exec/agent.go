package exec

import (
	"context"

	"github.com/skeinworks/skein/workflow"
)

// AgentEvent types. Agent transports produce the agent-prefixed kinds;
// script and shell executors reuse the structure for their own streams.
const (
	AgentRunStart   = "run-start"
	AgentText       = "text"
	AgentThinking   = "thinking"
	AgentToolUse    = "tool-use"
	AgentToolResult = "tool-result"
	AgentTodoList   = "todo-list"
	AgentComplete   = "complete"
	AgentError      = "error"

	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamLog    = "log"
)

// AgentEvent is one streamed atom from an executor: a text delta, a tool
// call or result, a thinking fragment, a todo list, the terminal complete,
// or an error.
type AgentEvent struct {
	Type      string      `json:"type"`
	Text      string      `json:"text,omitempty"`
	ToolName  string      `json:"toolName,omitempty"`
	ToolID    string      `json:"toolId,omitempty"`
	ToolInput interface{} `json:"toolInput,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Todos     []TodoItem  `json:"todos,omitempty"`
	SessionID string      `json:"sessionId,omitempty"`
	Run       int         `json:"run,omitempty"`
}

// TodoItem is one entry of an agent's todo list event
type TodoItem struct {
	Content string `json:"content"`
	Status  string `json:"status,omitempty"`
}

// AgentRunOpts parameterize one transport run
type AgentRunOpts struct {
	// SessionID resumes an existing agent session when non-empty.
	SessionID string

	WorkingDirectory string

	// JSONMode asks the agent for machine-parseable output; set when a
	// condition or merge node consumes this agent's result.
	JSONMode bool
}

// AgentTransport abstracts one remote streaming agent process. The engine
// never touches vendor SDKs; transports are registered per agent node type
// at startup. A transport instance serves a single run: the stream closes
// after the terminal complete or error event, after which SessionID and
// StructuredOutput report what the run produced.
type AgentTransport interface {
	Run(ctx context.Context, prompt string, opts AgentRunOpts) (<-chan AgentEvent, error)
	SessionID() string
	StructuredOutput() map[string]interface{}
}

// TransportFactory builds a transport for one node run
type TransportFactory func(node *workflow.Node) (AgentTransport, error)
