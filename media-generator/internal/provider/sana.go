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
	"storyreel-server/media-generator/internal/storage"
	"storyreel-server/shared/messaging"
)

// SanaAdapter - локальный SANA сервер генерации изображений. Бесплатный,
// синхронный, первый в каскаде портретов.
type SanaAdapter struct {
	logger            *zap.Logger
	client            *http.Client
	baseURL           string
	store             *storage.Store
	promptStyleSuffix string
}

// NewSanaAdapter создает адаптер SANA сервера.
func NewSanaAdapter(logger *zap.Logger, cfg config.SanaServerConfig, store *storage.Store, promptStyleSuffix string) *SanaAdapter {
	return &SanaAdapter{
		logger: logger,
		client: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:           cfg.BaseURL,
		store:             store,
		promptStyleSuffix: promptStyleSuffix,
	}
}

func (a *SanaAdapter) Name() string       { return "sana" }
func (a *SanaAdapter) Priority() int      { return 1 }
func (a *SanaAdapter) CostTier() CostTier { return TierFree }

func (a *SanaAdapter) IsConfigured() bool { return a.baseURL != "" }

// sanaAPIRequest - структура запроса к SANA API.
type sanaAPIRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

// Generate вызывает SANA API и сохраняет полученное изображение.
func (a *SanaAdapter) Generate(ctx context.Context, task messaging.GenerationTaskPayload) (*Result, *AsyncJobHandle, error) {
	if task.Photo == nil {
		return nil, nil, fmt.Errorf("sana: task %s has no photo request", task.TaskID)
	}

	log := a.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("character_id", task.Photo.CharacterID.String()),
	)

	fullPrompt := task.Photo.Prompt + a.promptStyleSuffix
	log.Debug("Full prompt for SANA API", zap.String("prompt", fullPrompt))

	imageData, err := a.callSanaAPI(ctx, fullPrompt, "2:3")
	if err != nil {
		log.Error("SANA API call failed", zap.Error(err))
		return nil, nil, err
	}
	if len(imageData) == 0 {
		return nil, nil, fmt.Errorf("sana: API returned empty image data")
	}
	log.Info("Image data received from SANA", zap.Int("size_bytes", len(imageData)))

	fileName := fmt.Sprintf("photo_%s_sana.jpg", task.TaskID)
	url, err := a.store.Save(fileName, imageData)
	if err != nil {
		return nil, nil, err
	}

	return &Result{URL: url, Style: task.Photo.Style}, nil, nil
}

// Poll не поддерживается: SANA синхронный провайдер.
func (a *SanaAdapter) Poll(ctx context.Context, handle AsyncJobHandle) (*Result, error) {
	return nil, fmt.Errorf("sana: polling is not supported for synchronous provider")
}

// callSanaAPI - вызывает SANA API.
func (a *SanaAdapter) callSanaAPI(ctx context.Context, prompt string, ratio string) ([]byte, error) {
	log := a.logger.With(zap.String("api_url", a.baseURL))

	reqBodyBytes, err := json.Marshal(sanaAPIRequest{Prompt: prompt, Ratio: ratio})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := a.baseURL + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	log.Debug("Sending request to SANA API", zap.String("url", endpointURL))
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.Error("SANA API returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", bodyBytes),
		)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}

	log.Debug("SANA API call successful")
	return bodyBytes, nil
}
