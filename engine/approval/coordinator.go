// Package approval implements the human-in-the-loop coordinator: pending
// waits keyed by (execution, node) that an external caller resolves,
// rejects, or cancels. Waits are message-passing; nothing polls.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/engine/metrics"
)

// ErrNoPending is returned when resolving a wait that does not exist
var ErrNoPending = errors.New("no pending approval")

// ErrCancelled is the error a cancelled wait delivers to its node
var ErrCancelled = errors.New("approval cancelled")

type key struct {
	executionID string
	nodeID      string
}

// outcome is what a waiting node receives
type outcome struct {
	response exec.ApprovalResponse
	err      error
}

type pending struct {
	request exec.ApprovalRequest
	ch      chan outcome
}

// Coordinator tracks every pending approval in the process
type Coordinator struct {
	mu      sync.Mutex
	waiting map[key]*pending
	log     exec.Logger
	met     *metrics.Metrics
}

// NewCoordinator creates an empty coordinator
func NewCoordinator(log exec.Logger, met *metrics.Metrics) *Coordinator {
	return &Coordinator{
		waiting: make(map[key]*pending),
		log:     log,
		met:     met,
	}
}

// Await registers the request and blocks until an external caller settles
// it or ctx is cancelled. One wait per (execution, node) at a time.
func (c *Coordinator) Await(ctx context.Context, req exec.ApprovalRequest) (exec.ApprovalResponse, error) {
	k := key{req.ExecutionID, req.NodeID}
	p := &pending{request: req, ch: make(chan outcome, 1)}

	c.mu.Lock()
	if _, exists := c.waiting[k]; exists {
		c.mu.Unlock()
		return exec.ApprovalResponse{}, fmt.Errorf("approval already pending for node %s", req.NodeID)
	}
	c.waiting[k] = p
	c.mu.Unlock()

	c.met.ApprovalOpened()
	c.log.Info("approval pending", "execution_id", req.ExecutionID, "node_id", req.NodeID)

	select {
	case out := <-p.ch:
		c.met.ApprovalClosed()
		return out.response, out.err
	case <-ctx.Done():
		c.remove(k)
		c.met.ApprovalClosed()
		return exec.ApprovalResponse{}, ctx.Err()
	}
}

// Submit settles a pending wait with the human's response
func (c *Coordinator) Submit(executionID, nodeID string, resp exec.ApprovalResponse) error {
	return c.settle(key{executionID, nodeID}, outcome{response: resp})
}

// Cancel settles a pending wait with ErrCancelled; the waiting node errors
func (c *Coordinator) Cancel(executionID, nodeID string) error {
	return c.settle(key{executionID, nodeID}, outcome{err: ErrCancelled})
}

// CancelExecution cancels every pending wait of one execution
func (c *Coordinator) CancelExecution(executionID string) {
	c.mu.Lock()
	var settled []*pending
	for k, p := range c.waiting {
		if k.executionID == executionID {
			delete(c.waiting, k)
			settled = append(settled, p)
		}
	}
	c.mu.Unlock()

	for _, p := range settled {
		p.ch <- outcome{err: ErrCancelled}
	}
}

// Pending lists the requests currently waiting for one execution ("" for
// all executions).
func (c *Coordinator) Pending(executionID string) []exec.ApprovalRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	var reqs []exec.ApprovalRequest
	for k, p := range c.waiting {
		if executionID == "" || k.executionID == executionID {
			reqs = append(reqs, p.request)
		}
	}
	return reqs
}

func (c *Coordinator) settle(k key, out outcome) error {
	c.mu.Lock()
	p, ok := c.waiting[k]
	if ok {
		delete(c.waiting, k)
	}
	c.mu.Unlock()

	if !ok {
		return ErrNoPending
	}
	p.ch <- out
	return nil
}

func (c *Coordinator) remove(k key) {
	c.mu.Lock()
	delete(c.waiting, k)
	c.mu.Unlock()
}
