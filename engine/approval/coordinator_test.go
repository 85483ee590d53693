package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skeinworks/skein/common/logger"
	"github.com/skeinworks/skein/engine/exec"
)

func testCoordinator() *Coordinator {
	return NewCoordinator(logger.New("error", "text"), nil)
}

func request(executionID, nodeID string) exec.ApprovalRequest {
	return exec.ApprovalRequest{
		ExecutionID: executionID,
		NodeID:      nodeID,
		NodeName:    nodeID,
		Message:     "approve?",
		RequestedAt: time.Now().UTC(),
	}
}

func awaitAsync(c *Coordinator, req exec.ApprovalRequest) chan struct {
	resp exec.ApprovalResponse
	err  error
} {
	done := make(chan struct {
		resp exec.ApprovalResponse
		err  error
	}, 1)
	go func() {
		resp, err := c.Await(context.Background(), req)
		done <- struct {
			resp exec.ApprovalResponse
			err  error
		}{resp, err}
	}()
	return done
}

func waitPending(t *testing.T, c *Coordinator, executionID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.Pending(executionID)) == n
	}, 5*time.Second, time.Millisecond)
}

func TestSubmitResolvesWait(t *testing.T) {
	c := testCoordinator()
	done := awaitAsync(c, request("exec-1", "gate"))
	waitPending(t, c, "exec-1", 1)

	require.NoError(t, c.Submit("exec-1", "gate", exec.ApprovalResponse{Approved: true, Feedback: "lgtm"}))

	out := <-done
	require.NoError(t, out.err)
	assert.True(t, out.resp.Approved)
	assert.Equal(t, "lgtm", out.resp.Feedback)
	assert.Empty(t, c.Pending(""))
}

func TestCancelDeliversErrCancelled(t *testing.T) {
	c := testCoordinator()
	done := awaitAsync(c, request("exec-1", "gate"))
	waitPending(t, c, "exec-1", 1)

	require.NoError(t, c.Cancel("exec-1", "gate"))

	out := <-done
	assert.ErrorIs(t, out.err, ErrCancelled)
}

func TestSubmitWithoutWait(t *testing.T) {
	c := testCoordinator()
	assert.ErrorIs(t, c.Submit("exec-1", "gate", exec.ApprovalResponse{}), ErrNoPending)
	assert.ErrorIs(t, c.Cancel("exec-1", "gate"), ErrNoPending)
}

func TestDuplicateWaitRejected(t *testing.T) {
	c := testCoordinator()
	done := awaitAsync(c, request("exec-1", "gate"))
	waitPending(t, c, "exec-1", 1)

	_, err := c.Await(context.Background(), request("exec-1", "gate"))
	require.Error(t, err)

	require.NoError(t, c.Submit("exec-1", "gate", exec.ApprovalResponse{Approved: false}))
	<-done
}

func TestContextCancellationRemovesWait(t *testing.T) {
	c := testCoordinator()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := c.Await(ctx, request("exec-1", "gate"))
		done <- err
	}()
	waitPending(t, c, "exec-1", 1)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	require.Eventually(t, func() bool {
		return len(c.Pending("")) == 0
	}, 5*time.Second, time.Millisecond)
}

func TestCancelExecutionSettlesAllWaits(t *testing.T) {
	c := testCoordinator()
	first := awaitAsync(c, request("exec-1", "gate-1"))
	second := awaitAsync(c, request("exec-1", "gate-2"))
	other := awaitAsync(c, request("exec-2", "gate"))
	waitPending(t, c, "exec-1", 2)
	waitPending(t, c, "exec-2", 1)

	c.CancelExecution("exec-1")

	assert.ErrorIs(t, (<-first).err, ErrCancelled)
	assert.ErrorIs(t, (<-second).err, ErrCancelled)

	// The other execution's wait is untouched.
	require.Len(t, c.Pending("exec-2"), 1)
	require.NoError(t, c.Submit("exec-2", "gate", exec.ApprovalResponse{Approved: true}))
	require.NoError(t, (<-other).err)
}
