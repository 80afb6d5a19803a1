package api

import "github.com/shopcompliance/engine/pkg/model"

// submitResponse is returned by submit and force-new.
type submitResponse struct {
	Status         string                   `json:"status"`
	TaskID         string                   `json:"task_id,omitempty"`
	FromCache      bool                     `json:"from_cache,omitempty"`
	IdempotencyKey string                   `json:"idempotency_key"`
	Result         *model.AnalysisResponse  `json:"result,omitempty"`
}

// statusResponse is returned by the task status endpoint.
type statusResponse struct {
	TaskID          string                  `json:"task_id"`
	Status          model.JobStatus         `json:"status"`
	CurrentStage    int                     `json:"current_stage"`
	TotalStages     int                     `json:"total_stages"`
	ProgressMessage string                  `json:"progress_message,omitempty"`
	CompletedStages []model.StageOutcome    `json:"completed_stages,omitempty"`
	Result          *model.AnalysisResponse `json:"result,omitempty"`
	Error           *model.ErrorRecord      `json:"error,omitempty"`
}

func statusResponseFromJob(j *model.Job) statusResponse {
	return statusResponse{
		TaskID:          j.JobID,
		Status:          j.Status,
		CurrentStage:    j.CurrentStage,
		TotalStages:     j.TotalStages,
		ProgressMessage: j.ProgressMessage,
		CompletedStages: j.CompletedStages,
		Result:          j.Result,
		Error:           j.Error,
	}
}

// errorResponse is the uniform envelope for 4xx/5xx error bodies.
type errorResponse struct {
	Error string `json:"error"`
}
