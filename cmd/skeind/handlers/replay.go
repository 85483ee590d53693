package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/skeinworks/skein/cmd/skeind/container"
	"github.com/skeinworks/skein/engine"
)

// ReplayHandler serves replay planning and launch
type ReplayHandler struct {
	c *container.Container
}

// NewReplayHandler creates a replay handler
func NewReplayHandler(c *container.Container) *ReplayHandler {
	return &ReplayHandler{c: c}
}

// Eligibility computes the replay verdict without starting anything
// GET /api/executions/:id/replay-eligibility?fromNodeId=
func (h *ReplayHandler) Eligibility(c echo.Context) error {
	fromNodeID := c.QueryParam("fromNodeId")
	if fromNodeID == "" {
		return badRequest(c, "fromNodeId is required")
	}

	plan, err := h.c.Manager.ReplayPlan(c.Request().Context(), engine.ReplayParams{
		SourceExecutionID: c.Param("id"),
		FromNodeID:        fromNodeID,
	})
	if err != nil {
		if errors.Is(err, engine.ErrExecutionNotFound) {
			return notFound(c, "execution not found")
		}
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, plan)
}

// replayRequest is the replay launch body
type replayRequest struct {
	SourceExecutionID string      `json:"sourceExecutionId"`
	FromNodeID        string      `json:"fromNodeId"`
	UseOriginalInput  bool        `json:"useOriginalInput"`
	Input             interface{} `json:"input,omitempty"`
}

// Replay launches a replay of a finished execution from one node
// POST /api/workflows/:id/replay
func (h *ReplayHandler) Replay(c echo.Context) error {
	var req replayRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "undecodable replay request")
	}
	if req.SourceExecutionID == "" || req.FromNodeID == "" {
		return badRequest(c, "sourceExecutionId and fromNodeId are required")
	}

	executionID, plan, err := h.c.Manager.Replay(c.Request().Context(), engine.ReplayParams{
		SourceExecutionID: req.SourceExecutionID,
		FromNodeID:        req.FromNodeID,
		UseOriginalInput:  req.UseOriginalInput,
		Input:             req.Input,
	})
	if err != nil {
		if errors.Is(err, engine.ErrReplayBlocked) {
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error": "replay blocked",
				"plan":  plan,
			})
		}
		if errors.Is(err, engine.ErrExecutionNotFound) {
			return notFound(c, "source execution not found")
		}
		return internalError(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"executionId": executionID,
		"plan":        plan,
	})
}
