package worker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/mocks"
	"storyreel-server/media-generator/internal/orchestrator"
	"storyreel-server/media-generator/internal/provider"
	"storyreel-server/media-generator/internal/storage"
	"storyreel-server/media-generator/internal/validation"
	"storyreel-server/media-generator/internal/worker"
	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
)

// newHandler собирает обработчик с пустым реестром провайдеров: каждая
// корректная задача детерминированно закрывается оффлайн-фолбэком.
func newHandler(t *testing.T, publisher *mocks.MockResultPublisher) *worker.Handler {
	t.Helper()
	logger := zap.NewNop()
	store, err := storage.New(logger, t.TempDir(), "cdn.test/media")
	require.NoError(t, err)

	orch := orchestrator.New(
		logger,
		provider.NewRegistry(),
		validation.NewGate(logger, nil, 0),
		provider.NewFallback(logger, store),
		orchestrator.Options{PollInterval: time.Millisecond, PollMaxAttempts: 1},
	)
	return worker.NewHandler(logger, orch, publisher, "")
}

func delivery(t *testing.T, payload any) amqp091.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return amqp091.Delivery{Body: body, CorrelationId: "corr-1"}
}

func photoTask(taskID string) messaging.GenerationTaskPayload {
	return messaging.GenerationTaskPayload{
		TaskID:   taskID,
		StoryID:  "story-1",
		TargetID: "char-1",
		Kind:     models.ArtifactPhoto,
		Photo: &models.PhotoRequest{
			CharacterName: "Aria",
			Prompt:        "portrait of Aria",
		},
	}
}

func TestHandleDelivery_SingleTaskPublishesResult(t *testing.T) {
	publisher := new(mocks.MockResultPublisher)
	var published messaging.GenerationResultPayload
	publisher.On("PublishGenerationResult", mock.Anything, mock.AnythingOfType("messaging.GenerationResultPayload")).
		Run(func(args mock.Arguments) {
			published = args.Get(1).(messaging.GenerationResultPayload)
		}).Return(nil)

	h := newHandler(t, publisher)
	ack := h.HandleDelivery(context.Background(), delivery(t, photoTask("task-1")))

	assert.True(t, ack)
	assert.Equal(t, "task-1", published.TaskID)
	assert.Equal(t, messaging.ResultStatusSuccess, published.Status)
	require.Len(t, published.Artifacts, 1)
	assert.Equal(t, provider.FallbackName, published.Artifacts[0].Provider)
	publisher.AssertNumberOfCalls(t, "PublishGenerationResult", 1)
}

func TestHandleDelivery_BatchPublishesEachResult(t *testing.T) {
	publisher := new(mocks.MockResultPublisher)
	var published []messaging.GenerationResultPayload
	publisher.On("PublishGenerationResult", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			published = append(published, args.Get(1).(messaging.GenerationResultPayload))
		}).Return(nil)

	h := newHandler(t, publisher)
	batch := messaging.GenerationTaskBatchPayload{
		BatchID: "batch-1",
		Tasks: []messaging.GenerationTaskPayload{
			photoTask("task-a"),
			photoTask("task-b"),
			photoTask("task-c"),
		},
	}

	ack := h.HandleDelivery(context.Background(), delivery(t, batch))

	assert.True(t, ack)

	var terminal, processing []messaging.GenerationResultPayload
	for _, p := range published {
		if p.Status == messaging.ResultStatusProcessing {
			processing = append(processing, p)
		} else {
			terminal = append(terminal, p)
		}
	}

	require.Len(t, terminal, 3)
	assert.Equal(t, "task-a", terminal[0].TaskID)
	assert.Equal(t, "task-b", terminal[1].TaskID)
	assert.Equal(t, "task-c", terminal[2].TaskID)

	// Перед каждым элементом пакета уходит processing-сообщение с его
	// позицией.
	require.Len(t, processing, 3)
	for i, p := range processing {
		assert.Equal(t, i+1, p.CurrentItem)
		assert.Equal(t, 3, p.TotalItems)
	}
}

func TestHandleDelivery_UnparseableBodyNacked(t *testing.T) {
	publisher := new(mocks.MockResultPublisher)
	h := newHandler(t, publisher)

	ack := h.HandleDelivery(context.Background(), amqp091.Delivery{Body: []byte("not json")})

	assert.False(t, ack)
	publisher.AssertNotCalled(t, "PublishGenerationResult", mock.Anything, mock.Anything)
}

func TestHandleDelivery_EmptyTaskIDNacked(t *testing.T) {
	publisher := new(mocks.MockResultPublisher)
	h := newHandler(t, publisher)

	ack := h.HandleDelivery(context.Background(), delivery(t, map[string]string{"unrelated": "payload"}))

	assert.False(t, ack)
	publisher.AssertNotCalled(t, "PublishGenerationResult", mock.Anything, mock.Anything)
}

func TestHandleDelivery_PublishFailureNacksSingleTask(t *testing.T) {
	publisher := new(mocks.MockResultPublisher)
	publisher.On("PublishGenerationResult", mock.Anything, mock.Anything).Return(assert.AnError)

	h := newHandler(t, publisher)
	ack := h.HandleDelivery(context.Background(), delivery(t, photoTask("task-1")))

	assert.False(t, ack)
}

func TestHandleDelivery_BatchAckedDespitePublishErrors(t *testing.T) {
	publisher := new(mocks.MockResultPublisher)
	publisher.On("PublishGenerationResult", mock.Anything, mock.Anything).Return(assert.AnError)

	h := newHandler(t, publisher)
	batch := messaging.GenerationTaskBatchPayload{
		BatchID: "batch-1",
		Tasks:   []messaging.GenerationTaskPayload{photoTask("task-a")},
	}

	ack := h.HandleDelivery(context.Background(), delivery(t, batch))

	assert.True(t, ack, "batch ack does not depend on per-result publish errors")
}

func TestHandleDelivery_MalformedTaskYieldsErrorResult(t *testing.T) {
	publisher := new(mocks.MockResultPublisher)
	var published messaging.GenerationResultPayload
	publisher.On("PublishGenerationResult", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			published = args.Get(1).(messaging.GenerationResultPayload)
		}).Return(nil)

	h := newHandler(t, publisher)
	task := messaging.GenerationTaskPayload{
		TaskID: "task-1",
		Kind:   models.ArtifactVideo, // Video request отсутствует
	}

	ack := h.HandleDelivery(context.Background(), delivery(t, task))

	assert.True(t, ack, "malformed task is reported via error result, not requeued")
	assert.Equal(t, messaging.ResultStatusError, published.Status)
	assert.Contains(t, published.ErrorDetails, "video request is missing")
}
