package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/workflow"
)

func shellWorkflow(command string, config map[string]interface{}) *workflow.Workflow {
	if config == nil {
		config = map[string]interface{}{}
	}
	config["command"] = command
	return twoPredWorkflow(workflow.NodeTypeShell, config)
}

func runShell(t *testing.T, ectx *fakeContext, wf *workflow.Workflow) (*exec.Result, *emitRecorder, error) {
	t.Helper()
	rec := &emitRecorder{}
	res, err := NewShell(10*time.Second).Execute(context.Background(), sinkNode(wf), ectx, rec.emit)
	return res, rec, err
}

func TestShellCapturesStdout(t *testing.T) {
	wf := shellWorkflow("echo hello", nil)
	ectx := newFakeContext(wf)
	ectx.workdir = t.TempDir()

	res, rec, err := runShell(t, ectx, wf)
	require.NoError(t, err)

	out := res.Output.(map[string]interface{})
	assert.Equal(t, "hello\n", out["stdout"])
	assert.Equal(t, "hello", out["result"])
	assert.Equal(t, 0, out["exitCode"])

	lines := rec.ofType(exec.StreamStdout)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0].Text)
}

func TestShellCapturesStderr(t *testing.T) {
	wf := shellWorkflow("echo oops 1>&2", nil)
	ectx := newFakeContext(wf)
	ectx.workdir = t.TempDir()

	res, rec, err := runShell(t, ectx, wf)
	require.NoError(t, err)

	out := res.Output.(map[string]interface{})
	assert.Equal(t, "oops\n", out["stderr"])
	assert.Empty(t, out["stdout"])
	require.Len(t, rec.ofType(exec.StreamStderr), 1)
}

func TestShellExitCodeIsDataNotFailure(t *testing.T) {
	wf := shellWorkflow("exit 3", nil)
	ectx := newFakeContext(wf)
	ectx.workdir = t.TempDir()

	res, _, err := runShell(t, ectx, wf)
	require.NoError(t, err, "non-zero exit is data, not a node error")
	out := res.Output.(map[string]interface{})
	assert.Equal(t, 3, out["exitCode"])
}

func TestShellInterpolatesCommand(t *testing.T) {
	wf := shellWorkflow("echo {{Src.word}}", nil)
	ectx := newFakeContext(wf)
	ectx.workdir = t.TempDir()
	ectx.refs["Src.word"] = "resolved"

	res, _, err := runShell(t, ectx, wf)
	require.NoError(t, err)
	assert.Equal(t, "resolved", res.Output.(map[string]interface{})["result"])
}

func TestShellTimeout(t *testing.T) {
	wf := shellWorkflow("sleep 5", map[string]interface{}{"timeoutMs": 50})
	ectx := newFakeContext(wf)
	ectx.workdir = t.TempDir()

	_, _, err := runShell(t, ectx, wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestShellRunsInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	wf := shellWorkflow("pwd", nil)
	ectx := newFakeContext(wf)
	ectx.workdir = dir

	res, _, err := runShell(t, ectx, wf)
	require.NoError(t, err)
	assert.Contains(t, res.Output.(map[string]interface{})["result"], dir)
}

func TestShellMissingWorkingDirectory(t *testing.T) {
	wf := shellWorkflow("true", nil)
	ectx := newFakeContext(wf)
	ectx.workdir = "/definitely/not/here"

	_, _, err := runShell(t, ectx, wf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "working directory")
}

func TestShellValidate(t *testing.T) {
	empty := execNode("sh", workflow.NodeTypeShell, "Sh", nil)
	require.Error(t, NewShell(time.Second).Validate(&empty))

	fine := execNode("sh", workflow.NodeTypeShell, "Sh", map[string]interface{}{"command": "true"})
	assert.NoError(t, NewShell(time.Second).Validate(&fine))
}
