package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// createBrowserHandler handles POST /api/v1/browser/create. Provisions a
// browser container for the caller, or returns the one already running.
func (s *Server) createBrowserHandler(c *echo.Context) error {
	if s.containers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "browser containers are not configured")
	}
	bc, err := s.containers.Create(c.Request().Context(), extractUser(c))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, bc)
}

// getBrowserHandler handles GET /api/v1/browser/:id.
func (s *Server) getBrowserHandler(c *echo.Context) error {
	if s.containers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "browser containers are not configured")
	}
	bc, err := s.containers.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	if bc == nil {
		return echo.NewHTTPError(http.StatusNotFound, "browser container not found")
	}
	return c.JSON(http.StatusOK, bc)
}

// removeBrowserHandler handles DELETE /api/v1/browser/:id.
func (s *Server) removeBrowserHandler(c *echo.Context) error {
	if s.containers == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "browser containers are not configured")
	}
	if err := s.containers.Remove(c.Request().Context(), c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
