// Package messaging содержит консьюмер результатов генерации медиа.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	sharedMessaging "storyreel-server/shared/messaging"
)

// ResultHandler применяет один результат генерации к состоянию истории.
type ResultHandler interface {
	HandleResult(ctx context.Context, payload sharedMessaging.GenerationResultPayload) error
}

// ResultConsumer слушает очередь результатов генерации и передает их
// сервисному слою.
type ResultConsumer struct {
	conn    *amqp.Connection
	handler ResultHandler
	logger  *zap.Logger
}

func NewResultConsumer(conn *amqp.Connection, handler ResultHandler, logger *zap.Logger) (*ResultConsumer, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	return &ResultConsumer{
		conn:    conn,
		handler: handler,
		logger:  logger.Named("ResultConsumer"),
	}, nil
}

// StartConsuming начинает прослушивание очереди результатов. Блокирует
// до закрытия канала сообщений или отмены контекста.
func (c *ResultConsumer) StartConsuming(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("consumer: failed to open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(
		sharedMessaging.MediaGenerationResultQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("consumer: failed to declare queue %q: %w", sharedMessaging.MediaGenerationResultQueue, err)
	}

	// Обрабатываем по одному сообщению.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("consumer: failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		q.Name,
		"story-service-results", // consumer tag
		false,                   // auto-ack = false
		false,                   // exclusive
		false,                   // no-local
		false,                   // no-wait
		nil,                     // args
	)
	if err != nil {
		return fmt.Errorf("consumer: failed to register consumer: %w", err)
	}
	c.logger.Info("Result consumer started", zap.String("queue", q.Name))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Result consumer stopping")
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				c.logger.Warn("Result message channel closed")
				return nil
			}
			c.process(ctx, d)
		}
	}
}

func (c *ResultConsumer) process(ctx context.Context, d amqp.Delivery) {
	var payload sharedMessaging.GenerationResultPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		c.logger.Error("Failed to unmarshal generation result, dropping message", zap.Error(err))
		_ = d.Nack(false, false) // requeue = false
		return
	}

	if err := c.handler.HandleResult(ctx, payload); err != nil {
		c.logger.Error("Failed to apply generation result",
			zap.String("task_id", payload.TaskID),
			zap.Error(err))
		// Результат не применился из-за состояния на нашей стороне;
		// повторная доставка с тем же состоянием не поможет.
		_ = d.Nack(false, false)
		return
	}

	_ = d.Ack(false)
	c.logger.Debug("Generation result processed",
		zap.String("task_id", payload.TaskID),
		zap.String("status", string(payload.Status)))
}
