package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/shopcompliance/engine/pkg/job"
)

// statusHandler handles GET /api/v1/analyses/:id.
func (s *Server) statusHandler(c *echo.Context) error {
	jobID := c.Param("id")

	j, err := s.sup.Status(c.Request().Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "task not found"})
		}
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	return c.JSON(http.StatusOK, statusResponseFromJob(j))
}

// cancelHandler handles POST /api/v1/analyses/:id/cancel.
func (s *Server) cancelHandler(c *echo.Context) error {
	jobID := c.Param("id")
	cancelled := s.sup.Cancel(jobID)
	return c.JSON(http.StatusOK, map[string]bool{"cancelled": cancelled})
}
