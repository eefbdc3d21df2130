package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"

	"storyreel-server/shared/models"
)

// GenerationJobRepository хранит задачи генерации артефактов.
type GenerationJobRepository interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error)
	Update(ctx context.Context, job *models.GenerationJob) error
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.GenerationJob, error)
}

// JobProgressCache - быстрый кэш статуса/прогресса задач для опроса с UI,
// чтобы не ходить в Postgres на каждый poll.
type JobProgressCache interface {
	SetProgress(ctx context.Context, jobID uuid.UUID, status models.JobStatus, progress int, ttl time.Duration) error
	GetProgress(ctx context.Context, jobID uuid.UUID) (models.JobStatus, int, error)
}
