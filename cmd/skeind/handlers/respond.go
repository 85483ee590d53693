package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Shared error response shapes.

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}

func notFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, map[string]string{"error": msg})
}

func conflict(c echo.Context, msg string) error {
	return c.JSON(http.StatusConflict, map[string]string{"error": msg})
}

func internalError(c echo.Context, err error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
}
