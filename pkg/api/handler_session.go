package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/webpilot-ai/webpilot/pkg/models"
	"github.com/webpilot-ai/webpilot/pkg/store"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req models.CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	session, err := s.sessions.Create(ctx, extractUser(c), &req)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusCreated, session)
}

// listSessionsHandler handles GET /api/v1/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	limit := 50
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	sessions, err := s.sessions.List(ctx, extractUser(c), limit, offset)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sessions": sessions,
		"limit":    limit,
		"offset":   offset,
	})
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, session)
}

// listActionsHandler handles GET /api/v1/sessions/:id/actions.
func (s *Server) listActionsHandler(c *echo.Context) error {
	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	actions, err := s.sessions.Actions(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"actions": actions})
}

// listMessagesHandler handles GET /api/v1/sessions/:id/messages.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	messages, err := s.sessions.Messages(ctx, c.Param("id"))
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// startSessionHandler handles POST /api/v1/sessions/:id/start. The run
// proceeds in the background; progress arrives over the WebSocket.
func (s *Server) startSessionHandler(c *echo.Context) error {
	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	if err := s.sessions.Start(ctx, c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusAccepted, map[string]string{"status": "starting"})
}

// stopSessionHandler handles POST /api/v1/sessions/:id/stop.
func (s *Server) stopSessionHandler(c *echo.Context) error {
	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	if err := s.sessions.Stop(ctx, c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopping"})
}

// cancelSessionHandler handles POST /api/v1/sessions/:id/cancel.
func (s *Server) cancelSessionHandler(c *echo.Context) error {
	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	if err := s.sessions.Cancel(ctx, c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

// pauseSessionHandler handles POST /api/v1/sessions/:id/pause.
func (s *Server) pauseSessionHandler(c *echo.Context) error {
	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	if err := s.sessions.Pause(ctx, c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "paused"})
}

// resumeSessionHandler handles POST /api/v1/sessions/:id/resume.
func (s *Server) resumeSessionHandler(c *echo.Context) error {
	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	if err := s.sessions.Resume(ctx, c.Param("id")); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "active"})
}

// interveneRequest is the body of POST /api/v1/sessions/:id/intervene.
type interveneRequest struct {
	Message string `json:"message"`
}

// interveneHandler injects a user instruction into a running session.
func (s *Server) interveneHandler(c *echo.Context) error {
	var req interveneRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	if err := s.sessions.Intervene(ctx, c.Param("id"), req.Message); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "queued"})
}

// clickByMarkRequest is the body of POST /api/v1/sessions/:id/click-by-mark.
type clickByMarkRequest struct {
	MarkID int `json:"mark_id"`
}

// clickByMarkHandler clicks a numbered element from the latest vision
// analysis.
func (s *Server) clickByMarkHandler(c *echo.Context) error {
	var req clickByMarkRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx := store.WithToken(c.Request().Context(), extractToken(c))
	if err := s.sessions.ClickByMark(ctx, c.Param("id"), req.MarkID); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "clicked", "mark_id": req.MarkID})
}
