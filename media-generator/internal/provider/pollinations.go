package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/config"
	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
)

// PollinationsAdapter - бесплатный внешний провайдер изображений и видео.
// Работает асинхронно: Generate ставит задачу и возвращает job handle,
// готовность проверяется через Poll.
type PollinationsAdapter struct {
	logger   *zap.Logger
	client   *http.Client
	baseURL  string
	kind     models.ArtifactKind
	priority int
}

// NewPollinationsAdapter создает адаптер для одного типа артефакта.
// Один и тот же внешний сервис обслуживает и портреты, и видео, поэтому
// в реестр регистрируются два экземпляра с общей конфигурацией.
func NewPollinationsAdapter(logger *zap.Logger, cfg config.PollinationsConfig, kind models.ArtifactKind, priority int) *PollinationsAdapter {
	return &PollinationsAdapter{
		logger: logger,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:  cfg.BaseURL,
		kind:     kind,
		priority: priority,
	}
}

func (a *PollinationsAdapter) Name() string       { return "pollinations" }
func (a *PollinationsAdapter) Priority() int      { return a.priority }
func (a *PollinationsAdapter) CostTier() CostTier { return TierFree }
func (a *PollinationsAdapter) IsConfigured() bool { return a.baseURL != "" }

type pollinationsSubmitRequest struct {
	Prompt      string `json:"prompt"`
	Kind        string `json:"kind"`
	DurationSec int    `json:"durationSec,omitempty"`
}

type pollinationsSubmitResponse struct {
	JobID string `json:"jobId"`
}

type pollinationsJobResponse struct {
	Status string `json:"status"` // pending, processing, done, failed
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Generate ставит задачу генерации и возвращает handle для опроса.
func (a *PollinationsAdapter) Generate(ctx context.Context, task messaging.GenerationTaskPayload) (*Result, *AsyncJobHandle, error) {
	submit := pollinationsSubmitRequest{Kind: string(a.kind)}
	switch a.kind {
	case models.ArtifactPhoto:
		if task.Photo == nil {
			return nil, nil, fmt.Errorf("pollinations: task %s has no photo request", task.TaskID)
		}
		submit.Prompt = task.Photo.Prompt
	case models.ArtifactVideo:
		if task.Video == nil {
			return nil, nil, fmt.Errorf("pollinations: task %s has no video request", task.TaskID)
		}
		submit.Prompt = task.Video.Prompt
		submit.DurationSec = task.Video.DurationSec
	default:
		return nil, nil, fmt.Errorf("pollinations: unsupported artifact kind %q", a.kind)
	}

	body, err := json.Marshal(submit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal submit payload: %w", err)
	}

	endpointURL := a.baseURL + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if readErr != nil {
		return nil, nil, fmt.Errorf("failed to read response body: %w", readErr)
	}

	var submitResp pollinationsSubmitResponse
	if err := json.Unmarshal(respBody, &submitResp); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal submit response: %w", err)
	}
	if submitResp.JobID == "" {
		return nil, nil, fmt.Errorf("pollinations: API returned empty job id")
	}

	a.logger.Debug("Pollinations job submitted",
		zap.String("task_id", task.TaskID),
		zap.String("job_id", submitResp.JobID),
		zap.String("kind", string(a.kind)))
	return nil, &AsyncJobHandle{JobID: submitResp.JobID}, nil
}

// Poll проверяет состояние удаленной задачи.
func (a *PollinationsAdapter) Poll(ctx context.Context, handle AsyncJobHandle) (*Result, error) {
	endpointURL := fmt.Sprintf("%s/api/jobs/%s", a.baseURL, handle.JobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create poll request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read poll response: %w", readErr)
	}

	var job pollinationsJobResponse
	if err := json.Unmarshal(respBody, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal poll response: %w", err)
	}

	switch job.Status {
	case "pending", "processing":
		return nil, ErrJobPending
	case "done":
		if job.URL == "" {
			return nil, fmt.Errorf("pollinations: job %s finished without url", handle.JobID)
		}
		return &Result{URL: job.URL}, nil
	case "failed":
		return nil, fmt.Errorf("pollinations: job %s failed: %s", handle.JobID, job.Error)
	default:
		return nil, fmt.Errorf("pollinations: job %s has unknown status %q", handle.JobID, job.Status)
	}
}
