package executor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"strings"
	"sync"
	"time"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

// Shell spawns the configured command under the execution's working
// directory, streaming stdout and stderr lines as node-output events. A
// non-zero exit code is data, not a node failure.
type Shell struct {
	defaultTimeout time.Duration
}

// NewShell creates the shell executor
func NewShell(defaultTimeout time.Duration) *Shell {
	return &Shell{defaultTimeout: defaultTimeout}
}

// Validate rejects a shell node without a command
func (s *Shell) Validate(node *workflow.Node) error {
	if exec.ConfString(node.Data, "command") == "" {
		return fmt.Errorf("shell node %q has no command", node.Name())
	}
	return nil
}

func (s *Shell) Execute(ctx context.Context, node *workflow.Node, ectx exec.Context, emit exec.EmitFunc) (*exec.Result, error) {
	command := ectx.Interpolate(exec.ConfString(node.Data, "command"))
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("shell command is empty after interpolation")
	}

	workdir := ectx.WorkingDirectory(node)
	if _, err := os.Stat(workdir); err != nil {
		return nil, fmt.Errorf("working directory %s: %w", workdir, err)
	}

	timeout := s.defaultTimeout
	if ms := exec.ConfInt(node.Data, "timeoutMs", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := osexec.CommandContext(runCtx, "sh", "-c", command)
	cmd.Dir = workdir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	var stdout, stderr strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdoutPipe, &stdout, exec.StreamStdout, emit)
	go streamLines(&wg, stderrPipe, &stderr, exec.StreamStderr, emit)
	wg.Wait()

	exitCode := 0
	if err := cmd.Wait(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("command timed out after %s", timeout)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		exitErr, ok := err.(*osexec.ExitError)
		if !ok {
			return nil, fmt.Errorf("run command: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}

	return &exec.Result{Output: map[string]interface{}{
		"stdout":   stdout.String(),
		"stderr":   stderr.String(),
		"exitCode": exitCode,
		"result":   strings.TrimSpace(stdout.String()),
	}}, nil
}

// streamLines copies one pipe into the accumulator, emitting each line
func streamLines(wg *sync.WaitGroup, pipe interface{ Read([]byte) (int, error) }, acc *strings.Builder, stream string, emit exec.EmitFunc) {
	defer wg.Done()

	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		acc.WriteString(line)
		acc.WriteByte('\n')
		emit(exec.AgentEvent{Type: stream, Text: line})
	}
}
