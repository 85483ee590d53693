package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/skeinworks/skein/cmd/skeind/container"
	"github.com/skeinworks/skein/store"
	"github.com/skeinworks/skein/workflow"
)

// WorkflowHandler serves workflow document CRUD and evolution history
type WorkflowHandler struct {
	c *container.Container
}

// NewWorkflowHandler creates a workflow handler
func NewWorkflowHandler(c *container.Container) *WorkflowHandler {
	return &WorkflowHandler{c: c}
}

// ListWorkflows lists every stored workflow document
// GET /api/workflows
func (h *WorkflowHandler) ListWorkflows(c echo.Context) error {
	wfs, err := h.c.Workflows.ListWorkflows(c.Request().Context())
	if err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"workflows": wfs})
}

// GetWorkflow retrieves one workflow document
// GET /api/workflows/:id
func (h *WorkflowHandler) GetWorkflow(c echo.Context) error {
	wf, err := h.c.Workflows.Workflow(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "workflow not found")
		}
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

// CreateWorkflow stores a new workflow document
// POST /api/workflows
func (h *WorkflowHandler) CreateWorkflow(c echo.Context) error {
	var wf workflow.Workflow
	if err := c.Bind(&wf); err != nil {
		return badRequest(c, "undecodable workflow document")
	}
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}

	workflow.Normalize(&wf)
	if issues := workflow.Validate(&wf); len(issues) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"errors": issues})
	}

	if err := h.c.Workflows.PutWorkflow(c.Request().Context(), &wf); err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusCreated, &wf)
}

// UpdateWorkflow replaces a workflow document
// PUT /api/workflows/:id
func (h *WorkflowHandler) UpdateWorkflow(c echo.Context) error {
	var wf workflow.Workflow
	if err := c.Bind(&wf); err != nil {
		return badRequest(c, "undecodable workflow document")
	}
	wf.ID = c.Param("id")

	workflow.Normalize(&wf)
	if issues := workflow.Validate(&wf); len(issues) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{"errors": issues})
	}

	if err := h.c.Workflows.PutWorkflow(c.Request().Context(), &wf); err != nil {
		return internalError(c, err)
	}
	return c.JSON(http.StatusOK, &wf)
}

// DeleteWorkflow removes a workflow document; its executions remain
// DELETE /api/workflows/:id
func (h *WorkflowHandler) DeleteWorkflow(c echo.Context) error {
	if err := h.c.Workflows.DeleteWorkflow(c.Request().Context(), c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "workflow not found")
		}
		return internalError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// EvolutionHistory lists the applied self-modification records
// GET /api/workflows/:id/evolution
func (h *WorkflowHandler) EvolutionHistory(c echo.Context) error {
	history, err := h.c.Workflows.EvolutionHistory(c.Request().Context(), c.Param("id"))
	if err != nil {
		return internalError(c, err)
	}
	if history == nil {
		history = []workflow.EvolutionRecord{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"history": history})
}
