package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/config"
	"storyreel-server/media-generator/internal/orchestrator"
	"storyreel-server/media-generator/internal/provider"
	"storyreel-server/media-generator/internal/storage"
	"storyreel-server/media-generator/internal/validation"
	"storyreel-server/media-generator/internal/worker"
	"storyreel-server/shared/logger"
	sharedMessaging "storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
)

const (
	maxReconnectAttempts = 5
	reconnectDelay       = 5 * time.Second
)

func main() {
	// --- 1. Загрузка конфигурации ---
	cfg := config.Load()

	// --- 2. Инициализация логгера ---
	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Sync()
	appLogger.Info("Starting Media Generator Worker...", zap.String("env", cfg.AppEnv))

	// --- 3. Хранилище артефактов ---
	store, err := storage.New(appLogger, cfg.MediaSavePath, cfg.MediaPublicBaseURL)
	if err != nil {
		appLogger.Fatal("Failed to initialize media storage", zap.Error(err))
	}

	// --- 4. Каскад провайдеров ---
	orch := buildOrchestrator(appLogger, cfg, store)
	appLogger.Info("Generation orchestrator initialized",
		zap.Float64("validation_threshold", cfg.ValidationThreshold),
		zap.Int("poll_max_attempts", cfg.PollMaxAttempts))

	// --- 5. RabbitMQ и цикл потребления ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runConsumerLoop(ctx, appLogger, cfg, orch)
		appLogger.Info("RabbitMQ consumer loop exited")
	}()

	appLogger.Info("Media Generator Worker started successfully")

	// --- 6. Ожидание сигнала завершения ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down Media Generator Worker...")
	cancel()
	wg.Wait()
	appLogger.Info("Media Generator Worker shut down gracefully")
}

// buildOrchestrator собирает реестр провайдеров, шлюз валидации и
// оффлайн-фолбэк в готовый оркестратор.
func buildOrchestrator(appLogger *zap.Logger, cfg *config.Config, store *storage.Store) *orchestrator.Orchestrator {
	registry := provider.NewRegistry()

	// Портреты: локальный SANA, затем бесплатный pollinations, затем
	// платный DALL·E. Ненастроенные провайдеры каскад пропустит сам.
	registry.Register(models.ArtifactPhoto, provider.NewSanaAdapter(appLogger, cfg.SanaServer, store, cfg.PromptStyleSuffix))
	registry.Register(models.ArtifactPhoto, provider.NewPollinationsAdapter(appLogger, cfg.Pollinations, models.ArtifactPhoto, 2))
	registry.Register(models.ArtifactPhoto, provider.NewOpenAIImageAdapter(appLogger, cfg.OpenAI, store, cfg.PromptStyleSuffix))

	registry.Register(models.ArtifactAudio, provider.NewOpenAISpeechAdapter(appLogger, cfg.OpenAI, store))

	registry.Register(models.ArtifactVideo, provider.NewPollinationsAdapter(appLogger, cfg.Pollinations, models.ArtifactVideo, 1))

	gate := validation.NewGate(appLogger, validation.NewHeuristicScorer(), cfg.ValidationThreshold)
	fallback := provider.NewFallback(appLogger, store)

	return orchestrator.New(appLogger, registry, gate, fallback, orchestrator.Options{
		PollInterval:    cfg.PollInterval(),
		PollMaxAttempts: cfg.PollMaxAttempts,
		BatchItemDelay:  cfg.BatchItemDelay(),
	})
}

// runConsumerLoop подключается к RabbitMQ и потребляет очередь задач,
// переподключаясь при разрыве соединения.
func runConsumerLoop(ctx context.Context, appLogger *zap.Logger, cfg *config.Config, orch *orchestrator.Orchestrator) {
	for {
		conn := connectRabbitMQ(ctx, appLogger, cfg.RabbitMQ.URL)
		if conn == nil {
			return
		}

		resultPublisher, err := sharedMessaging.NewRabbitMQPublisher(conn)
		if err != nil {
			appLogger.Error("Failed to create result publisher", zap.Error(err))
			conn.Close()
			if !waitReconnect(ctx, appLogger) {
				return
			}
			continue
		}

		handler := worker.NewHandler(appLogger, orch, resultPublisher, cfg.PushGatewayURL)
		consume(ctx, appLogger, cfg.RabbitMQ, conn, handler)

		_ = resultPublisher.Close()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		appLogger.Warn("Consumer stopped, reconnecting to RabbitMQ...")
		if !waitReconnect(ctx, appLogger) {
			return
		}
	}
}

// connectRabbitMQ устанавливает соединение с повторными попытками.
func connectRabbitMQ(ctx context.Context, appLogger *zap.Logger, url string) *amqp091.Connection {
	for attempt := 1; ; attempt++ {
		conn, err := amqp091.Dial(url)
		if err == nil {
			appLogger.Info("RabbitMQ connected successfully")
			return conn
		}

		appLogger.Error("Failed to connect to RabbitMQ", zap.Int("attempt", attempt), zap.Error(err))
		if attempt >= maxReconnectAttempts {
			appLogger.Fatal("Max reconnect attempts reached, shutting down")
		}

		select {
		case <-time.After(reconnectDelay):
			appLogger.Info("Retrying RabbitMQ connection...")
		case <-ctx.Done():
			appLogger.Info("Context cancelled, stopping RabbitMQ connection attempts")
			return nil
		}
	}
}

func waitReconnect(ctx context.Context, appLogger *zap.Logger) bool {
	select {
	case <-time.After(reconnectDelay):
		return true
	case <-ctx.Done():
		appLogger.Info("Context cancelled, stopping reconnect attempts")
		return false
	}
}

// consume запускает прослушивание очереди задач до разрыва канала или
// отмены контекста.
func consume(ctx context.Context, appLogger *zap.Logger, cfg config.RabbitMQConfig, conn *amqp091.Connection, handler *worker.Handler) {
	ch, err := conn.Channel()
	if err != nil {
		appLogger.Error("Failed to open RabbitMQ channel for consumer", zap.Error(err))
		return
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		cfg.TaskQueue.Name,
		cfg.TaskQueue.Durable,
		cfg.TaskQueue.AutoDelete,
		cfg.TaskQueue.Exclusive,
		cfg.TaskQueue.NoWait,
		nil, // arguments
	)
	if err != nil {
		appLogger.Error("Failed to declare task queue", zap.String("queue", cfg.TaskQueue.Name), zap.Error(err))
		return
	}
	appLogger.Info("Task queue declared", zap.String("queue", q.Name), zap.Int("messages", q.Messages))

	// Воркер обрабатывает задачи последовательно, поэтому prefetch = 1.
	if err := ch.Qos(1, 0, false); err != nil {
		appLogger.Error("Failed to set QoS", zap.Error(err))
		return
	}

	msgs, err := ch.Consume(
		q.Name,
		cfg.ConsumerName,
		false, // auto-ack (false, мы подтверждаем вручную)
		cfg.TaskQueue.Exclusive,
		false, // no-local
		cfg.TaskQueue.NoWait,
		nil,
	)
	if err != nil {
		appLogger.Error("Failed to register consumer", zap.String("queue", q.Name), zap.Error(err))
		return
	}

	appLogger.Info("Consumer started, waiting for messages...")

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				appLogger.Warn("Consumer channel closed by RabbitMQ")
				return
			}
			appLogger.Debug("Received a message", zap.Uint64("delivery_tag", msg.DeliveryTag))
			if handler.HandleDelivery(ctx, msg) {
				if ackErr := msg.Ack(false); ackErr != nil {
					appLogger.Error("Failed to ack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(ackErr))
				}
			} else {
				if nackErr := msg.Nack(false, false); nackErr != nil {
					appLogger.Error("Failed to nack message", zap.Uint64("delivery_tag", msg.DeliveryTag), zap.Error(nackErr))
				}
			}
		case <-ctx.Done():
			appLogger.Info("Context cancelled, stopping consumer...")
			return
		}
	}
}
