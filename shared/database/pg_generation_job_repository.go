package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storyreel-server/shared/interfaces"
	"storyreel-server/shared/models"
)

var _ interfaces.GenerationJobRepository = (*pgGenerationJobRepository)(nil)

type pgGenerationJobRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgGenerationJobRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.GenerationJobRepository {
	return &pgGenerationJobRepository{
		db:     db,
		logger: logger.Named("PgGenerationJobRepo"),
	}
}

const createGenerationJobQuery = `
INSERT INTO generation_jobs (id, story_id, target_id, kind, status, progress, attempts, result_urls, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

const getGenerationJobByIDQuery = `
SELECT id, story_id, target_id, kind, status, progress, attempts, result_urls, error, created_at, updated_at
FROM generation_jobs
WHERE id = $1`

const listGenerationJobsByStoryQuery = `
SELECT id, story_id, target_id, kind, status, progress, attempts, result_urls, error, created_at, updated_at
FROM generation_jobs
WHERE story_id = $1
ORDER BY created_at`

const updateGenerationJobQuery = `
UPDATE generation_jobs
SET status = $2, progress = $3, attempts = $4, result_urls = $5, error = $6, updated_at = $7
WHERE id = $1`

func (r *pgGenerationJobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}

	_, err := r.db.Exec(ctx, createGenerationJobQuery,
		job.ID,
		job.StoryID,
		job.TargetID,
		job.Kind,
		job.Status,
		job.Progress,
		job.Attempts,
		job.ResultURLs,
		job.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create generation job", zap.Error(err), zap.String("id", job.ID.String()))
		return fmt.Errorf("failed to create generation job: %w", err)
	}
	return nil
}

func (r *pgGenerationJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := pgxscan.Get(ctx, r.db, &job, getGenerationJobByIDQuery, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		r.logger.Error("Failed to get generation job", zap.Error(err), zap.String("id", id.String()))
		return nil, fmt.Errorf("failed to get generation job: %w", err)
	}
	return &job, nil
}

func (r *pgGenerationJobRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.GenerationJob, error) {
	jobs := make([]models.GenerationJob, 0)
	err := pgxscan.Select(ctx, r.db, &jobs, listGenerationJobsByStoryQuery, storyID)
	if err != nil {
		r.logger.Error("Failed to list generation jobs", zap.Error(err), zap.String("story_id", storyID.String()))
		return nil, fmt.Errorf("failed to list generation jobs: %w", err)
	}
	return jobs, nil
}

func (r *pgGenerationJobRepository) Update(ctx context.Context, job *models.GenerationJob) error {
	job.UpdatedAt = time.Now()
	tag, err := r.db.Exec(ctx, updateGenerationJobQuery,
		job.ID,
		job.Status,
		job.Progress,
		job.Attempts,
		job.ResultURLs,
		job.Error,
		job.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to update generation job", zap.Error(err), zap.String("id", job.ID.String()))
		return fmt.Errorf("failed to update generation job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
