package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skeinworks/skein/cmd/skeind/container"
	"github.com/skeinworks/skein/engine/approval"
	"github.com/skeinworks/skein/engine/exec"
)

// ApprovalHandler serves the human side of approval nodes
type ApprovalHandler struct {
	c *container.Container
}

// NewApprovalHandler creates an approval handler
func NewApprovalHandler(c *container.Container) *ApprovalHandler {
	return &ApprovalHandler{c: c}
}

// Pending lists the approvals waiting on one execution
// GET /api/executions/:id/approvals
func (h *ApprovalHandler) Pending(c echo.Context) error {
	pending := h.c.Manager.PendingApprovals(c.Param("id"))
	if pending == nil {
		pending = []exec.ApprovalRequest{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"approvals": pending})
}

// submitRequest is the decision body
type submitRequest struct {
	Approved bool   `json:"approved"`
	Feedback string `json:"feedback,omitempty"`
}

// Submit settles a waiting approval node
// POST /api/executions/:id/approvals/:nodeId
func (h *ApprovalHandler) Submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "undecodable approval response")
	}

	resp := exec.ApprovalResponse{
		Approved:    req.Approved,
		Feedback:    req.Feedback,
		RespondedAt: time.Now().UTC(),
	}
	if err := h.c.Manager.SubmitApproval(c.Param("id"), c.Param("nodeId"), resp); err != nil {
		if errors.Is(err, approval.ErrNoPending) {
			return notFound(c, "no approval is waiting on this node")
		}
		return internalError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

// Cancel withdraws a waiting approval; the node errors
// DELETE /api/executions/:id/approvals/:nodeId
func (h *ApprovalHandler) Cancel(c echo.Context) error {
	if err := h.c.Manager.CancelApproval(c.Param("id"), c.Param("nodeId")); err != nil {
		if errors.Is(err, approval.ErrNoPending) {
			return notFound(c, "no approval is waiting on this node")
		}
		return internalError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}
