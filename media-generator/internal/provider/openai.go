package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/config"
	"storyreel-server/media-generator/internal/storage"
	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
)

// OpenAIImageAdapter - генерация портретов через DALL·E. Платный,
// синхронный, замыкает каскад портретов.
type OpenAIImageAdapter struct {
	logger            *zap.Logger
	client            *openai.Client
	cfg               config.OpenAIConfig
	store             *storage.Store
	promptStyleSuffix string
}

// NewOpenAIImageAdapter создает адаптер DALL·E. При пустом ключе адаптер
// остается в каскаде, но помечается ненастроенным.
func NewOpenAIImageAdapter(logger *zap.Logger, cfg config.OpenAIConfig, store *storage.Store, promptStyleSuffix string) *OpenAIImageAdapter {
	var client *openai.Client
	if cfg.APIKey != "" {
		client = openai.NewClient(cfg.APIKey)
	}
	return &OpenAIImageAdapter{
		logger:            logger,
		client:            client,
		cfg:               cfg,
		store:             store,
		promptStyleSuffix: promptStyleSuffix,
	}
}

func (a *OpenAIImageAdapter) Name() string       { return "openai-image" }
func (a *OpenAIImageAdapter) Priority() int      { return 3 }
func (a *OpenAIImageAdapter) CostTier() CostTier { return TierPaid }
func (a *OpenAIImageAdapter) IsConfigured() bool { return a.client != nil }

func (a *OpenAIImageAdapter) Generate(ctx context.Context, task messaging.GenerationTaskPayload) (*Result, *AsyncJobHandle, error) {
	if a.client == nil {
		return nil, nil, ErrNotConfigured
	}
	if task.Photo == nil {
		return nil, nil, fmt.Errorf("openai-image: task %s has no photo request", task.TaskID)
	}

	log := a.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("character_id", task.Photo.CharacterID.String()),
	)

	resp, err := a.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         task.Photo.Prompt + a.promptStyleSuffix,
		Model:          a.cfg.ImageModel,
		N:              1,
		Quality:        a.cfg.ImageQuality,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		log.Error("OpenAI image API call failed", zap.Error(err))
		return nil, nil, fmt.Errorf("openai image request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, nil, fmt.Errorf("openai-image: API returned no images")
	}

	imageData, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image data: %w", err)
	}
	log.Info("Image data received from OpenAI", zap.Int("size_bytes", len(imageData)))

	fileName := fmt.Sprintf("photo_%s_openai.png", task.TaskID)
	url, err := a.store.Save(fileName, imageData)
	if err != nil {
		return nil, nil, err
	}

	return &Result{URL: url, Style: task.Photo.Style}, nil, nil
}

func (a *OpenAIImageAdapter) Poll(ctx context.Context, handle AsyncJobHandle) (*Result, error) {
	return nil, fmt.Errorf("openai-image: polling is not supported for synchronous provider")
}

// OpenAISpeechAdapter - озвучивание сцен через OpenAI TTS. Каждый сегмент
// синтезируется выбранным для персонажа голосом, байты всех сегментов
// склеиваются в один mp3 файл сцены.
type OpenAISpeechAdapter struct {
	logger *zap.Logger
	client *openai.Client
	cfg    config.OpenAIConfig
	store  *storage.Store
}

// NewOpenAISpeechAdapter создает адаптер OpenAI TTS.
func NewOpenAISpeechAdapter(logger *zap.Logger, cfg config.OpenAIConfig, store *storage.Store) *OpenAISpeechAdapter {
	var client *openai.Client
	if cfg.APIKey != "" {
		client = openai.NewClient(cfg.APIKey)
	}
	return &OpenAISpeechAdapter{
		logger: logger,
		client: client,
		cfg:    cfg,
		store:  store,
	}
}

func (a *OpenAISpeechAdapter) Name() string       { return "openai-speech" }
func (a *OpenAISpeechAdapter) Priority() int      { return 1 }
func (a *OpenAISpeechAdapter) CostTier() CostTier { return TierPaid }
func (a *OpenAISpeechAdapter) IsConfigured() bool { return a.client != nil }

func (a *OpenAISpeechAdapter) Generate(ctx context.Context, task messaging.GenerationTaskPayload) (*Result, *AsyncJobHandle, error) {
	if a.client == nil {
		return nil, nil, ErrNotConfigured
	}
	if task.Audio == nil {
		return nil, nil, fmt.Errorf("openai-speech: task %s has no audio request", task.TaskID)
	}
	if len(task.Audio.Segments) == 0 {
		return nil, nil, fmt.Errorf("openai-speech: scene %s has no narration segments", task.Audio.SceneID)
	}

	log := a.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("scene_id", task.Audio.SceneID.String()),
	)

	var sceneAudio []byte
	for i, segment := range task.Audio.Segments {
		voice := a.voiceFor(task.Audio, segment)
		segmentData, err := a.synthesize(ctx, segment.Text, voice)
		if err != nil {
			log.Error("Failed to synthesize segment",
				zap.Int("segment", i),
				zap.String("voice", voice),
				zap.Error(err))
			return nil, nil, fmt.Errorf("segment %d synthesis failed: %w", i, err)
		}
		sceneAudio = append(sceneAudio, segmentData...)
	}
	log.Info("Scene audio synthesized",
		zap.Int("segments", len(task.Audio.Segments)),
		zap.Int("size_bytes", len(sceneAudio)))

	fileName := fmt.Sprintf("audio_%s.mp3", task.TaskID)
	url, err := a.store.Save(fileName, sceneAudio)
	if err != nil {
		return nil, nil, err
	}

	return &Result{URL: url}, nil, nil
}

func (a *OpenAISpeechAdapter) Poll(ctx context.Context, handle AsyncJobHandle) (*Result, error) {
	return nil, fmt.Errorf("openai-speech: polling is not supported for synchronous provider")
}

// voiceFor выбирает голос сегмента: голос персонажа для реплик, голос
// рассказчика для повествования.
func (a *OpenAISpeechAdapter) voiceFor(req *models.AudioRequest, segment models.NarrationSegment) string {
	if segment.Type == models.SegmentDialogue {
		if voice, ok := req.Voices[segment.Character]; ok && voice != "" {
			return voice
		}
	}
	if req.NarratorVoice != "" {
		return req.NarratorVoice
	}
	return string(openai.VoiceAlloy)
}

func (a *OpenAISpeechAdapter) synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	resp, err := a.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.SpeechModel(a.cfg.SpeechModel),
		Input: text,
		Voice: openai.SpeechVoice(voice),
	})
	if err != nil {
		return nil, fmt.Errorf("tts request failed: %w", err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read tts response: %w", err)
	}
	return data, nil
}
