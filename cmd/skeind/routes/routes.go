// Package routes binds the HTTP surface to its handlers
package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/skeinworks/skein/cmd/skeind/container"
	"github.com/skeinworks/skein/cmd/skeind/gateway"
	"github.com/skeinworks/skein/cmd/skeind/handlers"
)

// RegisterWorkflowRoutes registers workflow document routes
func RegisterWorkflowRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewWorkflowHandler(c)

	wf := e.Group("/api/workflows")
	wf.GET("", h.ListWorkflows)
	wf.POST("", h.CreateWorkflow)
	wf.GET("/:id", h.GetWorkflow)
	wf.PUT("/:id", h.UpdateWorkflow)
	wf.DELETE("/:id", h.DeleteWorkflow)
	wf.GET("/:id/evolution", h.EvolutionHistory)
}

// RegisterExecutionRoutes registers execution lifecycle and replay routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)
	r := handlers.NewReplayHandler(c)

	e.POST("/api/workflows/:id/executions", h.StartExecution)
	e.GET("/api/workflows/:id/executions", h.ListExecutions)
	e.POST("/api/workflows/:id/replay", r.Replay)

	ex := e.Group("/api/executions")
	ex.GET("/:id", h.GetExecution)
	ex.GET("/:id/events", h.Events)
	ex.POST("/:id/interrupt", h.Interrupt)
	ex.GET("/:id/checkpoint", h.Checkpoint)
	ex.GET("/:id/replay-eligibility", r.Eligibility)
}

// RegisterApprovalRoutes registers the human decision routes
func RegisterApprovalRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewApprovalHandler(c)

	e.GET("/api/executions/:id/approvals", h.Pending)
	e.POST("/api/executions/:id/approvals/:nodeId", h.Submit)
	e.DELETE("/api/executions/:id/approvals/:nodeId", h.Cancel)
}

// RegisterGatewayRoutes registers the WebSocket endpoint
func RegisterGatewayRoutes(e *echo.Echo, c *container.Container) {
	g := gateway.New(c.Manager, c.Executions, c.Log)
	e.GET("/api/ws", g.Handle)
}
