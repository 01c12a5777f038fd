// Package api exposes the HTTP and WebSocket surface of the service.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/webpilot-ai/webpilot/pkg/config"
	"github.com/webpilot-ai/webpilot/pkg/container"
	"github.com/webpilot-ai/webpilot/pkg/events"
	"github.com/webpilot-ai/webpilot/pkg/services"
	"github.com/webpilot-ai/webpilot/pkg/version"
)

// Server is the HTTP server. Routes live under /api/v1, the WebSocket
// endpoint at /ws, and the health probe at /health.
type Server struct {
	cfg         *config.Config
	sessions    *services.SessionService
	containers  *container.Manager
	connManager *events.ConnectionManager

	echo *echo.Echo
	http *http.Server
}

// NewServer wires routes. containers may be nil when the deployment does
// not manage browser containers; the browser endpoints then answer 503.
func NewServer(cfg *config.Config, sessions *services.SessionService, containers *container.Manager, connManager *events.ConnectionManager) *Server {
	s := &Server{
		cfg:         cfg,
		sessions:    sessions,
		containers:  containers,
		connManager: connManager,
		echo:        echo.New(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(securityHeaders())

	e.GET("/health", s.healthHandler)
	e.GET("/ws", s.wsHandler)

	g := e.Group("/api/v1")
	g.POST("/sessions", s.createSessionHandler)
	g.GET("/sessions", s.listSessionsHandler)
	g.GET("/sessions/:id", s.getSessionHandler)
	g.GET("/sessions/:id/actions", s.listActionsHandler)
	g.GET("/sessions/:id/messages", s.listMessagesHandler)
	g.POST("/sessions/:id/start", s.startSessionHandler)
	g.POST("/sessions/:id/stop", s.stopSessionHandler)
	g.POST("/sessions/:id/cancel", s.cancelSessionHandler)
	g.POST("/sessions/:id/pause", s.pauseSessionHandler)
	g.POST("/sessions/:id/resume", s.resumeSessionHandler)
	g.POST("/sessions/:id/intervene", s.interveneHandler)
	g.POST("/sessions/:id/click-by-mark", s.clickByMarkHandler)

	g.POST("/browser/create", s.createBrowserHandler)
	g.GET("/browser/:id", s.getBrowserHandler)
	g.DELETE("/browser/:id", s.removeBrowserHandler)
}

// Echo exposes the router for handler tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Start serves on addr and blocks until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.ListenAndServe()
}

// StartWithListener serves on an existing listener. Used by tests to bind
// an ephemeral port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.http.Serve(ln)
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// healthHandler handles GET /health. Unauthenticated, minimal payload.
func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":      "healthy",
		"version":     version.Version,
		"connections": s.connManager.ActiveConnections(),
	})
}
