package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/shopcompliance/engine/pkg/job"
	"github.com/shopcompliance/engine/pkg/model"
	"github.com/shopcompliance/engine/pkg/validation"
)

// submitHandler handles POST /api/v1/analyses. An idempotency hit returns
// the cached result synchronously; a miss returns 202 with the new task_id.
func (s *Server) submitHandler(c *echo.Context) error {
	var input model.SubmissionInput
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}

	if verr := validation.Validate(input); verr != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Message})
	}

	result, err := s.sup.Submit(c.Request().Context(), input)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	return respondSubmitResult(c, result)
}

// forceNewHandler handles POST /api/v1/analyses/:id/force-new, rate-limited
// per origin.
func (s *Server) forceNewHandler(c *echo.Context) error {
	origin := c.RealIP()
	if !s.rateLimit.Allow(origin) {
		return c.JSON(http.StatusTooManyRequests, errorResponse{Error: "force-new rate limit exceeded, try again later"})
	}

	var input model.SubmissionInput
	if err := c.Bind(&input); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed request body"})
	}
	if verr := validation.Validate(input); verr != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Message})
	}

	result, err := s.sup.ForceNew(c.Request().Context(), input)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}

	return respondSubmitResult(c, result)
}

func respondSubmitResult(c *echo.Context, result job.SubmitResult) error {
	if result.Status == job.SubmitStatusCompleted {
		resp := submitResponse{
			Status:         string(result.Status),
			FromCache:      result.FromCache,
			IdempotencyKey: result.IdempotencyKey,
		}
		if r, ok := result.Result.(*model.AnalysisResponse); ok {
			resp.Result = r
		}
		return c.JSON(http.StatusOK, resp)
	}

	return c.JSON(http.StatusAccepted, submitResponse{
		Status:         string(result.Status),
		TaskID:         result.TaskID,
		IdempotencyKey: result.IdempotencyKey,
	})
}
