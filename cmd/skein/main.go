// skein runs a workflow document from the command line: it starts the
// engine in-process, streams execution events to stdout, and answers
// approval gates interactively.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/skeinworks/skein/common/config"
	"github.com/skeinworks/skein/common/logger"
	"github.com/skeinworks/skein/engine"
	"github.com/skeinworks/skein/engine/agentproc"
	"github.com/skeinworks/skein/engine/approval"
	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/evolution"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/engine/executor"
	"github.com/skeinworks/skein/engine/fanout"
	"github.com/skeinworks/skein/store/fsstore"
	"github.com/skeinworks/skein/workflow"
)

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runCommand(os.Args[2], inputArg()))
	case "validate":
		os.Exit(validateCommand(os.Args[2]))
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  skein run <workflow.json> [input-json]")
	fmt.Fprintln(os.Stderr, "  skein validate <workflow.json>")
}

// inputArg parses the optional input argument: JSON when it decodes, the
// raw string otherwise.
func inputArg() interface{} {
	if len(os.Args) < 4 {
		return nil
	}
	raw := os.Args[3]
	var v interface{}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

func loadWorkflow(path string) (*workflow.Workflow, []workflow.ValidationIssue, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var wf workflow.Workflow
	if err := json.Unmarshal(raw, &wf); err != nil {
		return nil, nil, fmt.Errorf("decode workflow: %w", err)
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	workflow.Normalize(&wf)
	return &wf, workflow.Validate(&wf), nil
}

func validateCommand(path string) int {
	_, issues, err := loadWorkflow(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(issues) == 0 {
		fmt.Println("workflow is valid")
		return 0
	}
	for _, issue := range issues {
		fmt.Printf("%s: %s\n", issue.Code, issue.Message)
	}
	return 1
}

func runCommand(path string, input interface{}) int {
	cfg, err := config.Load("skein")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return 1
	}
	log := logger.New("warn", cfg.Service.LogFormat)

	wf, issues, err := loadWorkflow(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if len(issues) > 0 {
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "%s: %s\n", issue.Code, issue.Message)
		}
		return 1
	}

	st, err := fsstore.New(cfg.Store.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open data dir: %v\n", err)
		return 1
	}

	ctx := context.Background()
	if err := st.PutWorkflow(ctx, wf); err != nil {
		fmt.Fprintf(os.Stderr, "store workflow: %v\n", err)
		return 1
	}

	manager := engine.NewManager(engine.ManagerParams{
		Workflows:   st,
		Executions:  st,
		Registry:    buildRegistry(cfg, st, log),
		Hub:         fanout.NewHub(),
		Coordinator: approval.NewCoordinator(log, nil),
		Logger:      log,
		BaseDir:     cfg.Engine.WorkingDirectory,
	})

	executionID, err := manager.Start(ctx, engine.StartParams{WorkflowID: wf.ID, Input: input})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start execution: %v\n", err)
		return 1
	}
	fmt.Printf("execution %s\n", executionID)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		fmt.Fprintln(os.Stderr, "interrupting...")
		manager.Interrupt(executionID)
	}()

	sub, err := manager.Subscribe(executionID, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "subscribe: %v\n", err)
		return 1
	}
	defer sub.Cancel()

	for _, rec := range sub.Prefix {
		printRecord(manager, executionID, rec)
	}
	for rec := range sub.Live {
		printRecord(manager, executionID, rec)
	}

	sum, err := st.Summary(ctx, executionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load summary: %v\n", err)
		return 1
	}
	if sum.Status == event.StatusComplete {
		return 0
	}
	return 1
}

// buildRegistry wires the node types the CLI can execute
func buildRegistry(cfg *config.Config, st *fsstore.Store, log *logger.Logger) *engine.Registry {
	reg := engine.NewRegistry()

	reg.MustRegister(workflow.NodeTypeInput, executor.Input{})
	reg.MustRegister(workflow.NodeTypeOutput, executor.Output{})
	reg.MustRegister(workflow.NodeTypeMerge, executor.Merge{})
	reg.MustRegister(workflow.NodeTypeCondition, executor.Condition{})
	reg.MustRegister(workflow.NodeTypeApproval, executor.Approval{})
	reg.MustRegister(workflow.NodeTypeScript, executor.NewScript(cfg.Engine.ScriptTimeout))
	reg.MustRegister(workflow.NodeTypeShell, executor.NewShell(cfg.Engine.ShellTimeout))
	reg.MustRegister(workflow.NodeTypeReflection, executor.NewReflection(evolution.NewApplier(st, log)))

	reg.MustRegister(workflow.NodeTypeHTTP, executor.NewHTTP(executor.HTTPConfig{
		Timeout:          cfg.HTTPNode.Timeout,
		MaxResponseBytes: cfg.HTTPNode.MaxResponseBytes,
		AllowPrivate:     cfg.HTTPNode.AllowPrivate,
		AllowedSchemes:   cfg.HTTPNode.AllowedSchemes,
	}))

	commands := map[string][]string{}
	if len(cfg.Agents.ClaudeCommand) > 0 {
		commands[workflow.NodeTypeClaudeAgent] = cfg.Agents.ClaudeCommand
	}
	if len(cfg.Agents.CodexCommand) > 0 {
		commands[workflow.NodeTypeCodexAgent] = cfg.Agents.CodexCommand
	}
	factory := agentproc.NewFactory(commands, log)
	agent := executor.NewAgent(factory.Transport, cfg.Engine.AgentTimeout, log)
	reg.MustRegister(workflow.NodeTypeClaudeAgent, agent)
	reg.MustRegister(workflow.NodeTypeCodexAgent, agent)

	return reg
}

// printRecord renders one event and answers approval gates from stdin
func printRecord(manager *engine.Manager, executionID string, rec event.Record) {
	ev := rec.Event
	switch ev.Type {
	case event.TypeExecutionStart:
		fmt.Printf("-- started workflow %s\n", ev.WorkflowID)

	case event.TypeNodeStart:
		fmt.Printf("-> %s\n", ev.NodeName)

	case event.TypeNodeOutput:
		printAgentEvent(ev.AgentEvent)

	case event.TypeNodeComplete:
		fmt.Printf("ok %s\n", ev.NodeID)

	case event.TypeNodeError:
		fmt.Printf("!! %s: %s\n", ev.NodeID, ev.Error)

	case event.TypeNodeWaiting:
		answerApproval(manager, executionID, ev)

	case event.TypeNodeEvolution:
		if ev.Evolution != nil {
			fmt.Printf("** evolution (%s, applied=%v): %s\n", ev.Evolution.Mode, ev.Evolution.Applied, ev.Evolution.Summary)
		}

	case event.TypeExecutionComplete:
		result, _ := json.MarshalIndent(ev.Result, "", "  ")
		fmt.Printf("== complete\n%s\n", result)

	case event.TypeExecutionError:
		fmt.Printf("== error: %s\n", ev.Error)

	case event.TypeValidationError:
		for _, issue := range ev.Errors {
			fmt.Printf("== invalid: %s: %s\n", issue.Code, issue.Message)
		}
	}
}

func printAgentEvent(ev *exec.AgentEvent) {
	if ev == nil {
		return
	}
	switch ev.Type {
	case exec.AgentText, exec.StreamStdout, exec.StreamStderr, exec.StreamLog:
		fmt.Printf("   %s\n", strings.TrimRight(ev.Text, "\n"))
	case exec.AgentToolUse:
		fmt.Printf("   [tool] %s\n", ev.ToolName)
	case exec.AgentError:
		fmt.Printf("   [error] %s\n", ev.Text)
	}
}

// answerApproval prompts the operator and submits the decision
func answerApproval(manager *engine.Manager, executionID string, ev event.Event) {
	message := ""
	if ev.Approval != nil {
		message = ev.Approval.Message
	}
	fmt.Printf("?? %s waiting for approval: %s\n", ev.NodeName, message)

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("approve? [y/N]: ")
	answer, _ := reader.ReadString('\n')
	approved := strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y")

	feedback := ""
	if !approved {
		fmt.Print("feedback: ")
		feedback, _ = reader.ReadString('\n')
		feedback = strings.TrimSpace(feedback)
	}

	resp := exec.ApprovalResponse{Approved: approved, Feedback: feedback, RespondedAt: time.Now().UTC()}
	if err := manager.SubmitApproval(executionID, ev.NodeID, resp); err != nil {
		fmt.Fprintf(os.Stderr, "submit approval: %v\n", err)
	}
}
