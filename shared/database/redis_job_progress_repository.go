package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"storyreel-server/shared/interfaces"
	"storyreel-server/shared/models"
)

// Compile-time check to ensure redisJobProgressRepository implements JobProgressCache.
var _ interfaces.JobProgressCache = (*redisJobProgressRepository)(nil)

type redisJobProgressRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisJobProgressRepository creates a new Redis-backed JobProgressCache.
func NewRedisJobProgressRepository(client *redis.Client, logger *zap.Logger) interfaces.JobProgressCache {
	return &redisJobProgressRepository{
		client: client,
		logger: logger.Named("RedisJobProgressRepo"),
	}
}

func jobProgressKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job_progress:%s", jobID.String())
}

// SetProgress сохраняет статус и прогресс задачи в hash с TTL.
// Запись перезаписывается на каждом обновлении; TTL продлевается.
func (r *redisJobProgressRepository) SetProgress(ctx context.Context, jobID uuid.UUID, status models.JobStatus, progress int, ttl time.Duration) error {
	key := jobProgressKey(jobID)

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, key, "status", string(status), "progress", progress)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("Failed to cache job progress", zap.Error(err), zap.String("job_id", jobID.String()))
		return fmt.Errorf("failed to cache job progress: %w", err)
	}
	return nil
}

// GetProgress читает статус и прогресс задачи из кэша.
// Возвращает interfaces.ErrNotFound, если запись истекла или не создавалась.
func (r *redisJobProgressRepository) GetProgress(ctx context.Context, jobID uuid.UUID) (models.JobStatus, int, error) {
	key := jobProgressKey(jobID)

	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", 0, interfaces.ErrNotFound
		}
		r.logger.Error("Failed to read job progress", zap.Error(err), zap.String("job_id", jobID.String()))
		return "", 0, fmt.Errorf("failed to read job progress: %w", err)
	}
	if len(values) == 0 {
		return "", 0, interfaces.ErrNotFound
	}

	progress, err := strconv.Atoi(values["progress"])
	if err != nil {
		return "", 0, fmt.Errorf("malformed progress value %q: %w", values["progress"], err)
	}
	return models.JobStatus(values["status"]), progress, nil
}
