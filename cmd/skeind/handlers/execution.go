package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/skeinworks/skein/cmd/skeind/container"
	"github.com/skeinworks/skein/engine"
	"github.com/skeinworks/skein/engine/event"
	"github.com/skeinworks/skein/store"
)

// ExecutionHandler serves execution lifecycle requests
type ExecutionHandler struct {
	c *container.Container
}

// NewExecutionHandler creates an execution handler
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{c: c}
}

// startRequest is the body of a start-execution call
type startRequest struct {
	Input interface{} `json:"input"`
}

// StartExecution launches a run of a stored workflow
// POST /api/workflows/:id/executions
func (h *ExecutionHandler) StartExecution(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "undecodable start request")
	}

	executionID, err := h.c.Manager.Start(c.Request().Context(), engine.StartParams{
		WorkflowID: c.Param("id"),
		Input:      req.Input,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "workflow not found")
		}
		return internalError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{"executionId": executionID})
}

// ListExecutions lists a workflow's executions, most recent first
// GET /api/workflows/:id/executions
func (h *ExecutionHandler) ListExecutions(c echo.Context) error {
	sums, err := h.c.Executions.ListSummaries(c.Request().Context(), c.Param("id"))
	if err != nil {
		return internalError(c, err)
	}
	if sums == nil {
		sums = []*event.Summary{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"executions": sums})
}

// GetExecution returns one execution's summary
// GET /api/executions/:id
func (h *ExecutionHandler) GetExecution(c echo.Context) error {
	executionID := c.Param("id")
	sum, err := h.c.Executions.Summary(c.Request().Context(), executionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "execution not found")
		}
		return internalError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"summary": sum,
		"running": h.c.Manager.IsRunning(executionID),
	})
}

// Events returns the persisted journal, optionally resuming after a
// timestamp.
// GET /api/executions/:id/events?after=
func (h *ExecutionHandler) Events(c echo.Context) error {
	records, err := h.c.Executions.Events(c.Request().Context(), c.Param("id"), c.QueryParam("after"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "execution not found")
		}
		return internalError(c, err)
	}
	if records == nil {
		records = []event.Record{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"events": records})
}

// Interrupt requests a cooperative stop
// POST /api/executions/:id/interrupt
func (h *ExecutionHandler) Interrupt(c echo.Context) error {
	if err := h.c.Manager.Interrupt(c.Param("id")); err != nil {
		if errors.Is(err, engine.ErrNotRunning) {
			return conflict(c, "execution is not running")
		}
		return internalError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// Checkpoint returns the execution's state checkpoint: a live capture for
// a running execution, the stored one otherwise.
// GET /api/executions/:id/checkpoint
func (h *ExecutionHandler) Checkpoint(c echo.Context) error {
	cp, err := h.c.Manager.Checkpoint(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, engine.ErrExecutionNotFound) {
			return notFound(c, "execution not found")
		}
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, cp)
}
