// Package gateway exposes the engine over one WebSocket endpoint: clients
// send control messages (start, subscribe, interrupt, replay, approve) and
// receive execution event frames as they stream.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/skeinworks/skein/common/logger"
	"github.com/skeinworks/skein/engine"
	"github.com/skeinworks/skein/engine/approval"
	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/engine/exec"
	"github.com/skeinworks/skein/engine/fanout"
	"github.com/skeinworks/skein/store"
)

// Gateway upgrades connections and routes their control messages
type Gateway struct {
	manager    *engine.Manager
	executions store.ExecutionStore
	log        *logger.Logger
	upgrader   websocket.Upgrader
}

// New creates a gateway
func New(manager *engine.Manager, executions store.ExecutionStore, log *logger.Logger) *Gateway {
	return &Gateway{
		manager:    manager,
		executions: executions,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The API carries no credentials; cross-origin dashboards are
			// expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handle upgrades one connection and serves it until it drops
// GET /api/ws
func (g *Gateway) Handle(c echo.Context) error {
	conn, err := g.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	cl := newClient(g, conn)
	go cl.writePump()
	cl.readPump()
	return nil
}

// controlMessage is the inbound union; only the fields implied by Type are
// set.
type controlMessage struct {
	Type string `json:"type"`

	WorkflowID        string      `json:"workflowId,omitempty"`
	ExecutionID       string      `json:"executionId,omitempty"`
	NodeID            string      `json:"nodeId,omitempty"`
	AfterTimestamp    string      `json:"afterTimestamp,omitempty"`
	SourceExecutionID string      `json:"sourceExecutionId,omitempty"`
	FromNodeID        string      `json:"fromNodeId,omitempty"`
	UseOriginalInput  bool        `json:"useOriginalInput,omitempty"`
	Input             interface{} `json:"input,omitempty"`

	Response *exec.ApprovalResponse `json:"response,omitempty"`
}

// dispatch handles one control message on behalf of a client
func (g *Gateway) dispatch(cl *client, msg controlMessage) {
	switch msg.Type {
	case "start-execution":
		g.startExecution(cl, msg)
	case "subscribe-execution":
		g.subscribe(cl, msg.ExecutionID, msg.AfterTimestamp)
	case "interrupt":
		g.interrupt(cl, msg.ExecutionID)
	case "replay-execution":
		g.replayExecution(cl, msg)
	case "submit-approval":
		g.submitApproval(cl, msg)
	default:
		cl.sendError("", "unknown control message type: "+msg.Type)
	}
}

func (g *Gateway) startExecution(cl *client, msg controlMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	executionID, err := g.manager.Start(ctx, engine.StartParams{
		WorkflowID: msg.WorkflowID,
		Input:      msg.Input,
	})
	if err != nil {
		cl.sendError("", err.Error())
		return
	}

	cl.sendJSON(map[string]interface{}{
		"type":        "execution-started",
		"executionId": executionID,
		"workflowId":  msg.WorkflowID,
	})
	g.subscribe(cl, executionID, "")
}

func (g *Gateway) replayExecution(cl *client, msg controlMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	executionID, plan, err := g.manager.Replay(ctx, engine.ReplayParams{
		SourceExecutionID: msg.SourceExecutionID,
		FromNodeID:        msg.FromNodeID,
		UseOriginalInput:  msg.UseOriginalInput,
		Input:             msg.Input,
	})
	if err != nil {
		if errors.Is(err, engine.ErrReplayBlocked) {
			cl.sendJSON(map[string]interface{}{
				"type":  "replay-blocked",
				"error": "replay blocked",
				"plan":  plan,
			})
			return
		}
		cl.sendError("", err.Error())
		return
	}

	cl.sendJSON(map[string]interface{}{
		"type":        "execution-started",
		"executionId": executionID,
		"plan":        plan,
	})
	g.subscribe(cl, executionID, "")
}

func (g *Gateway) interrupt(cl *client, executionID string) {
	if err := g.manager.Interrupt(executionID); err != nil {
		cl.sendError(executionID, err.Error())
	}
}

func (g *Gateway) submitApproval(cl *client, msg controlMessage) {
	if msg.Response == nil {
		cl.sendError(msg.ExecutionID, "submit-approval carries no response")
		return
	}
	resp := *msg.Response
	if resp.RespondedAt.IsZero() {
		resp.RespondedAt = time.Now().UTC()
	}

	err := g.manager.SubmitApproval(msg.ExecutionID, msg.NodeID, resp)
	if err != nil {
		if errors.Is(err, approval.ErrNoPending) {
			cl.sendError(msg.ExecutionID, "no approval is waiting on this node")
			return
		}
		cl.sendError(msg.ExecutionID, err.Error())
	}
}

// subscribe streams an execution to the client: the live hub when the run
// is in flight, the persisted journal otherwise. One goroutine per
// subscription; it ends with a stream-end frame.
func (g *Gateway) subscribe(cl *client, executionID, afterTimestamp string) {
	if executionID == "" {
		cl.sendError("", "subscribe-execution carries no executionId")
		return
	}

	sub, err := g.manager.Subscribe(executionID, afterTimestamp)
	if err != nil {
		if !errors.Is(err, fanout.ErrNoStream) {
			cl.sendError(executionID, err.Error())
			return
		}
		go g.replayJournal(cl, executionID, afterTimestamp)
		return
	}

	if !cl.track(executionID, sub) {
		sub.Cancel()
		return
	}

	go func() {
		defer cl.untrack(executionID)

		for _, rec := range sub.Prefix {
			cl.sendRecord(executionID, rec)
		}
		for rec := range sub.Live {
			cl.sendRecord(executionID, rec)
		}
		cl.sendJSON(map[string]interface{}{"type": "stream-end", "executionId": executionID})
	}()
}

// replayJournal serves a finished execution from the store
func (g *Gateway) replayJournal(cl *client, executionID, afterTimestamp string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	records, err := g.executions.Events(ctx, executionID, afterTimestamp)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			cl.sendError(executionID, "execution not found")
			return
		}
		cl.sendError(executionID, err.Error())
		return
	}
	for _, rec := range records {
		cl.sendRecord(executionID, rec)
	}
	cl.sendJSON(map[string]interface{}{"type": "stream-end", "executionId": executionID})
}

// eventFrame is the outbound wrapper around one journal record
type eventFrame struct {
	Type        string       `json:"type"`
	ExecutionID string       `json:"executionId"`
	Record      event.Record `json:"record"`
}
