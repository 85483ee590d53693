package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Max-retries policies for rejection loops
const (
	OnMaxRetriesFail          = "fail"
	OnMaxRetriesSkip          = "skip"
	OnMaxRetriesApproveAnyway = "approve-anyway"
)

// Agent is the shared runner for every agent node type. The vendor SDK
// lives behind the transport factory; the runner owns session continuity,
// rejection retries, transcript accumulation, and the output contract
// {result, runCount, transcript}.
type Agent struct {
	factory exec.TransportFactory
	timeout time.Duration
	log     exec.Logger
}

// NewAgent creates an agent executor over one transport factory
func NewAgent(factory exec.TransportFactory, timeout time.Duration, log exec.Logger) *Agent {
	return &Agent{factory: factory, timeout: timeout, log: log}
}

// Validate rejects an agent node without a user query
func (a *Agent) Validate(node *workflow.Node) error {
	if exec.ConfString(node.Data, "userQuery") == "" {
		return fmt.Errorf("agent node %q has no userQuery", node.Name())
	}
	return nil
}

func (a *Agent) Execute(ctx context.Context, node *workflow.Node, ectx exec.Context, emit exec.EmitFunc) (*exec.Result, error) {
	runCount := variableInt(ectx, runCountKey(node.ID)) + 1

	rejected, feedback := a.lastRejection(node, ectx)
	retry := exec.ConfMap(node.Data, "rejectionRetry")
	retryEnabled := exec.ConfBool(retry, "enabled")

	savedSession, _ := ectx.Variable(sessionKey(node.ID))
	sessionID, _ := savedSession.(string)
	accumulated := variableString(ectx, transcriptKey(node.ID))

	resume := false
	switch {
	case retryEnabled && rejected && exec.ConfBool(retry, "continueSession") && sessionID != "":
		resume = true
	case exec.ConfString(node.Data, "conversationMode") == "persist" && sessionID != "":
		// Loop re-execution continues the same conversation.
		resume = true
	}
	if !resume {
		sessionID = ""
	}

	// Rejection retries are bounded; the policy decides what happens at
	// the ceiling.
	retryCount := 0
	if rejected && retryEnabled {
		retryCount = variableInt(ectx, retryCountKey(node.ID)) + 1
		if max := exec.ConfInt(retry, "maxRetries", 0); max > 0 && retryCount > max {
			ectx.SetVariable(retryCountKey(node.ID), retryCount)
			switch exec.ConfString(retry, "onMaxRetries") {
			case OnMaxRetriesSkip:
				return &exec.Result{
					Output: map[string]interface{}{
						"result":     "",
						"runCount":   runCount,
						"transcript": accumulated,
					},
					Metadata: map[string]interface{}{"maxRetriesExceeded": true},
				}, nil
			case OnMaxRetriesApproveAnyway:
				return &exec.Result{
					Output: map[string]interface{}{
						"result":     "",
						"runCount":   runCount,
						"transcript": accumulated,
						"approved":   true,
					},
					Metadata: map[string]interface{}{"maxRetriesExceeded": true},
				}, nil
			default:
				return nil, fmt.Errorf("rejected %d times, exceeding maxRetries %d", retryCount, max)
			}
		}
	}
	ectx.SetVariable(retryCountKey(node.ID), retryCount)

	prompt := ectx.Interpolate(exec.ConfString(node.Data, "userQuery"))
	if rejected && retryEnabled {
		if template := exec.ConfString(retry, "feedbackTemplate"); template != "" {
			prompt = strings.ReplaceAll(template, "{{feedback}}", feedback) + "\n\n" + prompt
		}
	}

	workdir := ectx.WorkingDirectory(node)
	if _, err := os.Stat(workdir); err != nil {
		return nil, fmt.Errorf("working directory %s: %w", workdir, err)
	}

	transport, err := a.factory(node)
	if err != nil {
		return nil, fmt.Errorf("create agent transport: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	events, err := transport.Run(runCtx, prompt, exec.AgentRunOpts{
		SessionID:        sessionID,
		WorkingDirectory: workdir,
		JSONMode:         ectx.SuccessorRequiresJSON(node.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("start agent run: %w", err)
	}

	emit(exec.AgentEvent{Type: exec.AgentRunStart, Run: runCount, SessionID: sessionID})

	transcript := &strings.Builder{}
	fmt.Fprintf(transcript, "=== Run %d ===\n[prompt]\n%s\n", runCount, prompt)

	var result strings.Builder
	var runErr error
stream:
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				break stream
			}
			emit(ev)
			a.appendTranscript(transcript, ev)
			switch ev.Type {
			case exec.AgentText:
				result.WriteString(ev.Text)
			case exec.AgentComplete:
				break stream
			case exec.AgentError:
				runErr = fmt.Errorf("agent error: %s", ev.Text)
				break stream
			}
		case <-runCtx.Done():
			if ctx.Err() != nil {
				runErr = ctx.Err()
			} else {
				runErr = fmt.Errorf("agent timed out after %s", a.timeout)
			}
			break stream
		}
	}

	runTranscript := transcript.String()
	if accumulated != "" {
		accumulated += "\n"
	}
	accumulated += runTranscript

	// Session state survives the run even when it failed, so a retry can
	// resume the conversation.
	ectx.SetVariable(runCountKey(node.ID), runCount)
	ectx.SetVariable(sessionKey(node.ID), transport.SessionID())
	ectx.SetVariable(transcriptKey(node.ID), accumulated)
	ectx.SetVariable(runTranscriptKey(node.ID), runTranscript)

	if runErr != nil {
		return nil, runErr
	}

	output := map[string]interface{}{
		"result":     result.String(),
		"runCount":   runCount,
		"transcript": accumulated,
	}
	structured := transport.StructuredOutput()
	if len(structured) > 0 {
		for key, value := range structured {
			if key != "result" && key != "runCount" && key != "transcript" {
				output[key] = value
			}
		}
	}

	res := &exec.Result{Output: output}
	if len(structured) > 0 {
		res.StructuredOutput = structured
	}
	return res, nil
}

// lastRejection reports whether this run was triggered by an approval node
// routing its rejection handle here, and the reviewer's feedback.
func (a *Agent) lastRejection(node *workflow.Node, ectx exec.Context) (bool, string) {
	for _, edge := range ectx.Graph().IncomingEdges(node.ID) {
		if edge.SourceHandle != workflow.HandleRejection {
			continue
		}
		output, ok := ectx.NodeOutput(edge.Source)
		if !ok {
			continue
		}
		decision, ok := output.(map[string]interface{})
		if !ok {
			continue
		}
		if approved, ok := decision["approved"].(bool); ok && !approved {
			feedback, _ := decision["feedback"].(string)
			return true, feedback
		}
	}
	return false, ""
}

// appendTranscript folds one streamed event into the sectioned transcript
func (a *Agent) appendTranscript(transcript *strings.Builder, ev exec.AgentEvent) {
	switch ev.Type {
	case exec.AgentText:
		fmt.Fprintf(transcript, "[assistant]\n%s\n", ev.Text)
	case exec.AgentThinking:
		fmt.Fprintf(transcript, "[thinking]\n%s\n", ev.Text)
	case exec.AgentToolUse:
		input, _ := json.Marshal(ev.ToolInput)
		fmt.Fprintf(transcript, "[tool-use] %s %s\n", ev.ToolName, input)
	case exec.AgentToolResult:
		result, _ := json.Marshal(ev.Result)
		fmt.Fprintf(transcript, "[tool-result] %s\n", result)
	case exec.AgentError:
		fmt.Fprintf(transcript, "[error]\n%s\n", ev.Text)
	}
}

// Variable keys. The node.{id}.* and agent.session.{id}.* prefixes matter:
// replay seeding strips exactly these for re-executed nodes.

func runCountKey(nodeID string) string {
	return fmt.Sprintf("node.%s.runCount", nodeID)
}

func retryCountKey(nodeID string) string {
	return fmt.Sprintf("node.%s.retryCount", nodeID)
}

func runTranscriptKey(nodeID string) string {
	return fmt.Sprintf("node.%s.transcript", nodeID)
}

func sessionKey(nodeID string) string {
	return fmt.Sprintf("agent.session.%s.id", nodeID)
}

func transcriptKey(nodeID string) string {
	return fmt.Sprintf("agent.session.%s.transcript", nodeID)
}

func variableInt(ectx exec.Context, key string) int {
	value, ok := ectx.Variable(key)
	if !ok {
		return 0
	}
	switch v := value.(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func variableString(ectx exec.Context, key string) string {
	value, ok := ectx.Variable(key)
	if !ok {
		return ""
	}
	s, _ := value.(string)
	return s
}
