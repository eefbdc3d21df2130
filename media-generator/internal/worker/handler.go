package worker

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/orchestrator"
	"storyreel-server/shared/messaging"
)

// Определяем метрики Prometheus
var (
	tasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_generator_tasks_processed_total",
			Help: "Total number of media generation tasks processed.",
		},
		[]string{"kind", "status"}, // status: "success", "error", "error_publish", "error_unmarshal"
	)
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "media_generator_task_duration_seconds",
		Help:    "Duration of media generation task processing.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"kind"})
	providerAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_generator_provider_attempts_total",
			Help: "Provider cascade attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)
	publishResultErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "media_generator_publish_result_errors_total",
		Help: "Total number of errors publishing task results.",
	})
)

// Handler обрабатывает входящие сообщения очереди задач.
type Handler struct {
	logger          *zap.Logger
	orchestrator    *orchestrator.Orchestrator
	resultPublisher messaging.ResultPublisher
	pusher          *push.Pusher
}

// NewHandler создает новый экземпляр Handler.
func NewHandler(
	logger *zap.Logger,
	orch *orchestrator.Orchestrator,
	resultPublisher messaging.ResultPublisher,
	pushGatewayURL string,
) *Handler {
	if resultPublisher == nil {
		logger.Fatal("Result publisher cannot be nil for media generator handler")
	}

	var pusher *push.Pusher
	if pushGatewayURL != "" {
		hostname, _ := os.Hostname()
		pusher = push.New(pushGatewayURL, "media-generator").
			Grouping("instance", hostname).
			Gatherer(prometheus.DefaultGatherer)
		logger.Info("Prometheus Pusher initialized", zap.String("url", pushGatewayURL), zap.String("instance", hostname))
	}

	h := &Handler{
		logger:          logger,
		orchestrator:    orch,
		resultPublisher: resultPublisher,
		pusher:          pusher,
	}
	orch.SetProgressFunc(h.publishProgress)
	return h
}

// publishProgress отправляет промежуточное processing-сообщение в очередь
// результатов. Доставка best-effort: ошибка публикации прогресса не
// влияет на судьбу задачи.
func (h *Handler) publishProgress(ctx context.Context, task messaging.GenerationTaskPayload, p orchestrator.Progress) {
	payload := messaging.GenerationResultPayload{
		TaskID:      task.TaskID,
		StoryID:     task.StoryID,
		TargetID:    task.TargetID,
		Kind:        task.Kind,
		Status:      messaging.ResultStatusProcessing,
		Progress:    p.Percent,
		CurrentItem: p.CurrentItem,
		TotalItems:  p.TotalItems,
	}
	if err := h.resultPublisher.PublishGenerationResult(ctx, payload); err != nil {
		h.logger.Warn("Failed to publish progress update",
			zap.String("task_id", task.TaskID),
			zap.Error(err))
	}
}

// HandleDelivery обрабатывает сообщения. Поддерживает как одиночные
// GenerationTaskPayload, так и пакеты GenerationTaskBatchPayload.
// Возвращает true, если исходное сообщение должно быть подтверждено (ack).
func (h *Handler) HandleDelivery(ctx context.Context, msg amqp091.Delivery) bool {
	defer h.pushMetrics()

	// Пытаемся распарсить как батч
	var batchPayload messaging.GenerationTaskBatchPayload
	errBatch := json.Unmarshal(msg.Body, &batchPayload)

	if errBatch == nil && len(batchPayload.Tasks) > 0 {
		log := h.logger.With(
			zap.String("batch_id", batchPayload.BatchID),
			zap.Int("task_count", len(batchPayload.Tasks)),
			zap.String("correlation_id", msg.CorrelationId))
		log.Info("Received media generation task batch")

		var publishErrorsEncountered bool
		h.orchestrator.ExecuteBatch(ctx, batchPayload, func(result messaging.GenerationResultPayload) {
			if !h.publishResult(ctx, result) {
				publishErrorsEncountered = true
			}
		})

		if publishErrorsEncountered {
			log.Warn("Finished processing batch with some result publishing errors.")
		} else {
			log.Info("Finished processing batch, all results published successfully.")
		}
		// Ack батча не зависит от ошибок публикации отдельных результатов
		return true
	}

	// Если не удалось распарсить как батч, пытаемся как одиночную задачу
	var taskPayload messaging.GenerationTaskPayload
	if err := json.Unmarshal(msg.Body, &taskPayload); err != nil || taskPayload.TaskID == "" {
		h.logger.Error("Failed to unmarshal message body as Batch or Single Task",
			zap.Error(errBatch),
			zap.Error(err),
			zap.String("correlation_id", msg.CorrelationId),
			zap.ByteString("body", msg.Body))
		tasksProcessed.WithLabelValues("unknown", "error_unmarshal").Inc()
		return false // Nack - неизвестный формат
	}

	log := h.logger.With(
		zap.String("task_id", taskPayload.TaskID),
		zap.String("kind", string(taskPayload.Kind)),
		zap.String("correlation_id", msg.CorrelationId))
	log.Info("Received single media generation task")

	taskStartTime := time.Now()
	result := h.orchestrator.Execute(ctx, taskPayload)
	taskDuration.WithLabelValues(string(taskPayload.Kind)).Observe(time.Since(taskStartTime).Seconds())

	if !h.publishResult(ctx, result) {
		return false // Nack - ошибка публикации
	}

	if result.Status == messaging.ResultStatusError {
		log.Warn("Task finished with error, result published", zap.String("details", result.ErrorDetails))
	} else {
		log.Info("Task processed and result published")
	}
	return true
}

// publishResult отправляет результат задачи и обновляет метрики.
func (h *Handler) publishResult(ctx context.Context, result messaging.GenerationResultPayload) bool {
	for _, att := range result.AttemptLog {
		providerAttempts.WithLabelValues(att.Provider, att.Outcome).Inc()
	}

	if err := h.resultPublisher.PublishGenerationResult(ctx, result); err != nil {
		h.logger.Error("Failed to publish generation result",
			zap.String("task_id", result.TaskID),
			zap.Error(err))
		publishResultErrors.Inc()
		tasksProcessed.WithLabelValues(string(result.Kind), "error_publish").Inc()
		return false
	}

	tasksProcessed.WithLabelValues(string(result.Kind), string(result.Status)).Inc()
	return true
}

func (h *Handler) pushMetrics() {
	if h.pusher == nil {
		return
	}
	if err := h.pusher.Push(); err != nil {
		h.logger.Error("Failed to push metrics to Pushgateway", zap.Error(err))
	} else {
		h.logger.Debug("Metrics pushed to Pushgateway")
	}
}
