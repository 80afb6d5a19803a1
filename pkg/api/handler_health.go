package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status     string      `json:"status"`
	WorkerPool interface{} `json:"worker_pool"`
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *echo.Context) error {
	poolHealth := s.sup.Health(c.Request().Context())

	status := "healthy"
	if !poolHealth.DBHealthy {
		status = "degraded"
	}

	return c.JSON(http.StatusOK, healthResponse{Status: status, WorkerPool: poolHealth})
}
