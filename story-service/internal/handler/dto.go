package handler

import (
	"time"

	"storyreel-server/shared/models"
)

// APIError представляет стандартизированный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

// decomposeStoryRequest - входной текст истории.
type decomposeStoryRequest struct {
	Text string `json:"text" binding:"required"`
}

// generatePhotoRequest - параметры генерации портрета.
type generatePhotoRequest struct {
	Style string `json:"style"`
}

// selectPhotoRequest - выбор фото по индексу в списке кандидатов.
type selectPhotoRequest struct {
	Index *int `json:"index" binding:"required"`
}

// retryJobRequest - повтор задачи с временным исключением провайдеров.
type retryJobRequest struct {
	ExcludeProviders []string `json:"excludeProviders"`
}

// jobResponse - представление задачи генерации для API.
type jobResponse struct {
	ID         string                   `json:"id"`
	StoryID    string                   `json:"storyId"`
	TargetID   string                   `json:"targetId"`
	Kind       models.ArtifactKind      `json:"kind"`
	Status     models.JobStatus         `json:"status"`
	Progress   int                      `json:"progress"`
	Attempts   []models.ProviderAttempt `json:"attempts,omitempty"`
	ResultURLs []string                 `json:"resultUrls,omitempty"`
	Error      string                   `json:"error,omitempty"`
	CreatedAt  time.Time                `json:"createdAt"`
	UpdatedAt  time.Time                `json:"updatedAt"`
}

func toJobResponse(job *models.GenerationJob) jobResponse {
	return jobResponse{
		ID:         job.ID.String(),
		StoryID:    job.StoryID.String(),
		TargetID:   job.TargetID.String(),
		Kind:       job.Kind,
		Status:     job.Status,
		Progress:   job.Progress,
		Attempts:   job.Attempts,
		ResultURLs: job.ResultURLs,
		Error:      job.Error,
		CreatedAt:  job.CreatedAt,
		UpdatedAt:  job.UpdatedAt,
	}
}

func toJobResponses(jobs []models.GenerationJob) []jobResponse {
	out := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		out = append(out, toJobResponse(&jobs[i]))
	}
	return out
}
