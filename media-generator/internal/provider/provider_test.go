package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/config"
	"storyreel-server/media-generator/internal/provider"
	"storyreel-server/media-generator/internal/storage"
	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
)

type stubAdapter struct {
	name     string
	priority int
}

func (s *stubAdapter) Name() string                { return s.name }
func (s *stubAdapter) Priority() int               { return s.priority }
func (s *stubAdapter) CostTier() provider.CostTier { return provider.TierFree }
func (s *stubAdapter) IsConfigured() bool          { return true }
func (s *stubAdapter) Generate(ctx context.Context, task messaging.GenerationTaskPayload) (*provider.Result, *provider.AsyncJobHandle, error) {
	return nil, nil, nil
}
func (s *stubAdapter) Poll(ctx context.Context, handle provider.AsyncJobHandle) (*provider.Result, error) {
	return nil, nil
}

func newStore(t *testing.T) (*storage.Store, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.New(zap.NewNop(), dir, "cdn.test/media")
	require.NoError(t, err)
	return store, dir
}

func TestRegistry_CascadeSortedByPriority(t *testing.T) {
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, &stubAdapter{name: "openai-image", priority: 3})
	registry.Register(models.ArtifactPhoto, &stubAdapter{name: "sana", priority: 1})
	registry.Register(models.ArtifactPhoto, &stubAdapter{name: "pollinations", priority: 2})

	cascade := registry.Cascade(models.ArtifactPhoto, nil)

	require.Len(t, cascade, 3)
	assert.Equal(t, "sana", cascade[0].Name())
	assert.Equal(t, "pollinations", cascade[1].Name())
	assert.Equal(t, "openai-image", cascade[2].Name())
}

func TestRegistry_CascadeExcludesByName(t *testing.T) {
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, &stubAdapter{name: "sana", priority: 1})
	registry.Register(models.ArtifactPhoto, &stubAdapter{name: "pollinations", priority: 2})

	cascade := registry.Cascade(models.ArtifactPhoto, []string{"sana"})

	require.Len(t, cascade, 1)
	assert.Equal(t, "pollinations", cascade[0].Name())
}

func TestRegistry_CascadeEmptyForUnknownKind(t *testing.T) {
	registry := provider.NewRegistry()
	assert.Empty(t, registry.Cascade(models.ArtifactVideo, nil))
}

func TestFallback_PortraitDeterministicAndGenderAware(t *testing.T) {
	store, _ := newStore(t)
	fallback := provider.NewFallback(zap.NewNop(), store)

	task := messaging.GenerationTaskPayload{
		TaskID:   "task-1",
		TargetID: "char-1",
		Kind:     models.ArtifactPhoto,
		Photo: &models.PhotoRequest{
			CharacterName: "Aria",
			Expected:      models.Appearance{Gender: "female"},
		},
	}

	first := fallback.Generate(task)
	second := fallback.Generate(task)

	assert.Equal(t, first.URL, second.URL)
	assert.Contains(t, first.URL, "library/portraits/female_")

	task.Photo.Expected.Gender = "male"
	male := fallback.Generate(task)
	assert.Contains(t, male.URL, "library/portraits/male_")
}

func TestFallback_AudioAndVideoPlaceholders(t *testing.T) {
	store, _ := newStore(t)
	fallback := provider.NewFallback(zap.NewNop(), store)

	audio := fallback.Generate(messaging.GenerationTaskPayload{
		TaskID: "task-1", TargetID: "scene-1", Kind: models.ArtifactAudio,
	})
	assert.Contains(t, audio.URL, "library/audio/silence")

	video := fallback.Generate(messaging.GenerationTaskPayload{
		TaskID: "task-2", TargetID: "scene-1", Kind: models.ArtifactVideo,
	})
	assert.Contains(t, video.URL, "library/video/placeholder_")

	// Тот же TargetID дает тот же плейсхолдер.
	again := fallback.Generate(messaging.GenerationTaskPayload{
		TaskID: "task-3", TargetID: "scene-1", Kind: models.ArtifactVideo,
	})
	assert.Equal(t, video.URL, again.URL)
}

func TestSanaAdapter_GeneratesAndStoresImage(t *testing.T) {
	var gotPrompt, gotRatio string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/generate", r.URL.Path)

		var body struct {
			Prompt string `json:"prompt"`
			Ratio  string `json:"ratio"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotPrompt = body.Prompt
		gotRatio = body.Ratio

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	}))
	defer srv.Close()

	store, dir := newStore(t)
	adapter := provider.NewSanaAdapter(zap.NewNop(), config.SanaServerConfig{
		BaseURL: srv.URL,
		Timeout: 5,
	}, store, ", cinematic portrait")

	require.True(t, adapter.IsConfigured())

	task := messaging.GenerationTaskPayload{
		TaskID: "task-1",
		Kind:   models.ArtifactPhoto,
		Photo: &models.PhotoRequest{
			CharacterName: "Aria",
			Prompt:        "portrait of Aria",
		},
	}

	result, handle, err := adapter.Generate(context.Background(), task)

	require.NoError(t, err)
	assert.Nil(t, handle, "sana is synchronous")
	require.NotNil(t, result)
	assert.Equal(t, "portrait of Aria, cinematic portrait", gotPrompt)
	assert.Equal(t, "2:3", gotRatio)
	assert.Contains(t, result.URL, "photo_task-1_sana.jpg")

	data, err := os.ReadFile(filepath.Join(dir, "photo_task-1_sana.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF, 0xE0}, data)
}

func TestSanaAdapter_ServerErrorPropagated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store, _ := newStore(t)
	adapter := provider.NewSanaAdapter(zap.NewNop(), config.SanaServerConfig{
		BaseURL: srv.URL,
		Timeout: 5,
	}, store, "")

	_, _, err := adapter.Generate(context.Background(), messaging.GenerationTaskPayload{
		TaskID: "task-1",
		Kind:   models.ArtifactPhoto,
		Photo:  &models.PhotoRequest{Prompt: "portrait"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestSanaAdapter_NotConfiguredWithoutBaseURL(t *testing.T) {
	store, _ := newStore(t)
	adapter := provider.NewSanaAdapter(zap.NewNop(), config.SanaServerConfig{}, store, "")
	assert.False(t, adapter.IsConfigured())
}

func TestPollinationsAdapter_SubmitAndPoll(t *testing.T) {
	pollCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			var body struct {
				Prompt      string `json:"prompt"`
				Kind        string `json:"kind"`
				DurationSec int    `json:"durationSec"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "video", body.Kind)
			assert.Equal(t, 30, body.DurationSec)
			_ = json.NewEncoder(w).Encode(map[string]string{"jobId": "job-42"})
		case "/api/jobs/job-42":
			pollCount++
			if pollCount < 3 {
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "processing"})
			} else {
				_ = json.NewEncoder(w).Encode(map[string]string{
					"status": "done",
					"url":    "https://cdn.pollinations.test/v/42.mp4",
				})
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	adapter := provider.NewPollinationsAdapter(zap.NewNop(), config.PollinationsConfig{
		BaseURL: srv.URL,
		Timeout: 5,
	}, models.ArtifactVideo, 1)

	task := messaging.GenerationTaskPayload{
		TaskID: "task-1",
		Kind:   models.ArtifactVideo,
		Video:  &models.VideoRequest{Prompt: "forest chase", DurationSec: 30},
	}

	result, handle, err := adapter.Generate(context.Background(), task)
	require.NoError(t, err)
	assert.Nil(t, result)
	require.NotNil(t, handle)
	assert.Equal(t, "job-42", handle.JobID)

	for i := 0; i < 2; i++ {
		_, err = adapter.Poll(context.Background(), *handle)
		require.ErrorIs(t, err, provider.ErrJobPending)
	}

	polled, err := adapter.Poll(context.Background(), *handle)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.pollinations.test/v/42.mp4", polled.URL)
}

func TestPollinationsAdapter_FailedJobReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "failed",
			"error":  "nsfw filter triggered",
		})
	}))
	defer srv.Close()

	adapter := provider.NewPollinationsAdapter(zap.NewNop(), config.PollinationsConfig{
		BaseURL: srv.URL,
		Timeout: 5,
	}, models.ArtifactPhoto, 2)

	_, err := adapter.Poll(context.Background(), provider.AsyncJobHandle{JobID: "job-13"})

	require.Error(t, err)
	assert.NotErrorIs(t, err, provider.ErrJobPending)
	assert.Contains(t, err.Error(), "nsfw filter triggered")
}
