// skeind is the workflow engine service: an HTTP/WebSocket API over the
// execution manager, with a filesystem or Postgres store behind it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skeinworks/skein/cmd/skeind/container"
	"github.com/skeinworks/skein/cmd/skeind/routes"
	"github.com/skeinworks/skein/common/config"
	"github.com/skeinworks/skein/common/logger"
	"github.com/skeinworks/skein/common/server"
)

// drainTimeout bounds how long shutdown waits for running executions
const drainTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load("skeind")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	ctx := context.Background()
	c, err := container.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}

	e := setupEcho(c)
	srv := server.New("skeind", cfg.Service.Port, e, log)

	if err := srv.Start(ctx); err != nil {
		log.Error("server stopped", "error", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	c.Shutdown(drainCtx)
}

// setupEcho builds the router: middleware, health, metrics, API routes
func setupEcho(c *container.Container) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.CORS())
	e.Use(echomw.RequestID())

	e.GET("/healthz", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "skeind",
		})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(c.Prometheus, promhttp.HandlerOpts{})))

	routes.RegisterWorkflowRoutes(e, c)
	routes.RegisterExecutionRoutes(e, c)
	routes.RegisterApprovalRoutes(e, c)
	routes.RegisterGatewayRoutes(e, c)

	return e
}
