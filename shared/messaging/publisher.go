package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// TaskPublisher публикует задачи генерации медиа.
type TaskPublisher interface {
	PublishGenerationTask(ctx context.Context, payload GenerationTaskPayload) error
	PublishGenerationTaskBatch(ctx context.Context, payload GenerationTaskBatchPayload) error
}

// ResultPublisher публикует результаты генерации.
type ResultPublisher interface {
	PublishGenerationResult(ctx context.Context, payload GenerationResultPayload) error
}

// RabbitMQPublisher публикует сообщения в очереди через default exchange.
// Важно: предполагается, что соединение conn уже установлено и переподключения
// управляются внешним кодом, который передает сюда стабильное соединение.
type RabbitMQPublisher struct {
	ch *amqp091.Channel
}

// NewRabbitMQPublisher открывает канал и объявляет обе рабочие очереди.
// Очереди durable, чтобы пережить перезапуск брокера.
func NewRabbitMQPublisher(conn *amqp091.Connection) (*RabbitMQPublisher, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}

	ch, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Failed to open a channel")
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	for _, queue := range []string{MediaGenerationTaskQueue, MediaGenerationResultQueue} {
		_, err = ch.QueueDeclare(
			queue, // name
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			_ = ch.Close()
			log.Error().Err(err).Str("queue", queue).Msg("Failed to declare queue")
			return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}

	return &RabbitMQPublisher{ch: ch}, nil
}

// PublishGenerationTask отправляет задачу в очередь задач.
func (p *RabbitMQPublisher) PublishGenerationTask(ctx context.Context, payload GenerationTaskPayload) error {
	if err := p.publish(ctx, MediaGenerationTaskQueue, payload); err != nil {
		return err
	}
	log.Debug().Str("task_id", payload.TaskID).Str("kind", string(payload.Kind)).Msg("Generation task published")
	return nil
}

// PublishGenerationTaskBatch отправляет пакет задач одним сообщением,
// чтобы воркер обработал его последовательно как единое целое.
func (p *RabbitMQPublisher) PublishGenerationTaskBatch(ctx context.Context, payload GenerationTaskBatchPayload) error {
	if err := p.publish(ctx, MediaGenerationTaskQueue, payload); err != nil {
		return err
	}
	log.Debug().Str("batch_id", payload.BatchID).Int("tasks", len(payload.Tasks)).Msg("Generation task batch published")
	return nil
}

// PublishGenerationResult отправляет результат в очередь результатов.
func (p *RabbitMQPublisher) PublishGenerationResult(ctx context.Context, payload GenerationResultPayload) error {
	if err := p.publish(ctx, MediaGenerationResultQueue, payload); err != nil {
		return err
	}
	log.Debug().Str("task_id", payload.TaskID).Str("status", string(payload.Status)).Msg("Generation result published")
	return nil
}

func (p *RabbitMQPublisher) publish(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	err = p.ch.PublishWithContext(ctx,
		"",    // exchange (default)
		queue, // routing key = имя очереди
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("Failed to publish message")
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Close закрывает канал публикации.
func (p *RabbitMQPublisher) Close() error {
	if p.ch != nil {
		return p.ch.Close()
	}
	return nil
}
