// Package agentproc runs agent nodes through external worker processes.
// Each run spawns the configured command, writes one JSON request line to
// its stdin, and reads newline-delimited AgentEvent JSON from its stdout
// until the stream ends. The engine stays vendor-neutral: whatever SDK the
// worker wraps, the wire contract is the same.
package agentproc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	osexec "os/exec"
	"sync"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// maxEventLine bounds one stdout line; tool results can be large.
const maxEventLine = 4 << 20

// request is the single stdin line handed to the worker process
type request struct {
	Prompt           string `json:"prompt"`
	SessionID        string `json:"sessionId,omitempty"`
	WorkingDirectory string `json:"workingDirectory"`
	JSONMode         bool   `json:"jsonMode,omitempty"`
}

// Factory builds subprocess transports from a node-type → command table
type Factory struct {
	commands map[string][]string
	log      exec.Logger
}

// NewFactory creates a factory. Commands maps node types (claude-agent,
// codex-agent) to the argv of their worker binaries.
func NewFactory(commands map[string][]string, log exec.Logger) *Factory {
	return &Factory{commands: commands, log: log}
}

// Transport implements exec.TransportFactory
func (f *Factory) Transport(node *workflow.Node) (exec.AgentTransport, error) {
	command, ok := f.commands[node.Type]
	if !ok || len(command) == 0 {
		return nil, fmt.Errorf("no agent command configured for node type %q", node.Type)
	}
	return &Transport{command: command, log: f.log}, nil
}

// Transport drives one worker process run
type Transport struct {
	command []string
	log     exec.Logger

	mu         sync.Mutex
	sessionID  string
	structured map[string]interface{}
}

// Run spawns the worker and streams its events. The returned channel
// closes when the process's stdout ends; cancelling ctx kills the process.
func (t *Transport) Run(ctx context.Context, prompt string, opts exec.AgentRunOpts) (<-chan exec.AgentEvent, error) {
	cmd := osexec.CommandContext(ctx, t.command[0], t.command[1:]...)
	cmd.Dir = opts.WorkingDirectory

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start agent worker %s: %w", t.command[0], err)
	}

	req := request{
		Prompt:           prompt,
		SessionID:        opts.SessionID,
		WorkingDirectory: opts.WorkingDirectory,
		JSONMode:         opts.JSONMode,
	}
	go func() {
		defer stdin.Close()
		if err := json.NewEncoder(stdin).Encode(req); err != nil {
			t.log.Error("write agent request", "error", err)
		}
	}()

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			t.log.Warn("agent worker stderr", "line", scanner.Text())
		}
	}()

	events := make(chan exec.AgentEvent, 64)
	go func() {
		defer close(events)

		sawTerminal := false
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			var ev exec.AgentEvent
			if err := json.Unmarshal(line, &ev); err != nil {
				t.log.Warn("undecodable agent event", "error", err)
				continue
			}
			t.absorb(ev)
			if sawTerminal {
				// The consumer stops reading at the first terminal event;
				// record but don't forward anything after it.
				continue
			}
			if ev.Type == exec.AgentComplete || ev.Type == exec.AgentError {
				sawTerminal = true
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				// Consumer is gone; keep draining so Wait can reap the
				// process, but stop forwarding.
				sawTerminal = true
			}
		}

		err := cmd.Wait()
		if !sawTerminal {
			msg := "agent worker exited without a terminal event"
			if err != nil {
				msg = fmt.Sprintf("agent worker failed: %v", err)
			}
			select {
			case events <- exec.AgentEvent{Type: exec.AgentError, Text: msg}:
			default:
			}
		}
	}()

	return events, nil
}

// absorb records session identity and structured output as they stream by
func (t *Transport) absorb(ev exec.AgentEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.SessionID != "" {
		t.sessionID = ev.SessionID
	}
	if ev.Type == exec.AgentComplete {
		if m, ok := ev.Result.(map[string]interface{}); ok {
			t.structured = m
		}
	}
}

// SessionID reports the session the worker announced, if any
func (t *Transport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// StructuredOutput reports the machine-parseable result of a JSON-mode run
func (t *Transport) StructuredOutput() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.structured
}
