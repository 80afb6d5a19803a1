// Package api implements the six external interfaces: submit
// analysis, stream progress, get task status, force new analysis, cancel
// task, and health.
package api

import (
	"context"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/shopcompliance/engine/pkg/events"
	"github.com/shopcompliance/engine/pkg/job"
)

// Server is the HTTP API server (C_api), wrapping Echo v5 over the Job
// Supervisor and Event Stream Hub.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	sup        *job.Supervisor
	hub        *events.Hub
	rateLimit  *originRateLimiter
}

// NewServer builds a Server with every route registered.
func NewServer(sup *job.Supervisor, hub *events.Hub, forceNewPerHour int) *Server {
	e := echo.New()
	e.Use(middleware.BodyLimit(2 * 1024 * 1024))
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		sup:       sup,
		hub:       hub,
		rateLimit: newOriginRateLimiter(forceNewPerHour, time.Hour),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthHandler)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/analyses", s.submitHandler)
	v1.POST("/analyses/:id/force-new", s.forceNewHandler)
	v1.GET("/analyses/:id", s.statusHandler)
	v1.POST("/analyses/:id/cancel", s.cancelHandler)
	v1.GET("/analyses/:id/stream", s.streamHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts the server down.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
