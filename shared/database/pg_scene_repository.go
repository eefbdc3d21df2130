package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"storyreel-server/shared/interfaces"
	"storyreel-server/shared/models"
)

var _ interfaces.SceneRepository = (*pgSceneRepository)(nil)

type pgSceneRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgSceneRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.SceneRepository {
	return &pgSceneRepository{
		db:     db,
		logger: logger.Named("PgSceneRepo"),
	}
}

const createSceneQuery = `
INSERT INTO scenes (id, story_id, title, content, characters, setting, duration_sec, visual_prompt, order_index, audio, video, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

const getSceneByIDQuery = `
SELECT id, story_id, title, content, characters, setting, duration_sec, visual_prompt, order_index, audio, video, created_at
FROM scenes
WHERE id = $1`

const listScenesByStoryQuery = `
SELECT id, story_id, title, content, characters, setting, duration_sec, visual_prompt, order_index, audio, video, created_at
FROM scenes
WHERE story_id = $1
ORDER BY order_index`

const updateSceneAudioQuery = `UPDATE scenes SET audio = $2 WHERE id = $1`
const updateSceneVideoQuery = `UPDATE scenes SET video = $2 WHERE id = $1`

// CreateBatch сохраняет сцены одной истории. Сцены вставляются в порядке
// order_index; частичная запись при ошибке не откатывается - вызывающий
// оборачивает вызов в транзакцию при необходимости.
func (r *pgSceneRepository) CreateBatch(ctx context.Context, scenes []models.Scene) error {
	for i := range scenes {
		scene := &scenes[i]
		if scene.ID == uuid.Nil {
			scene.ID = uuid.New()
		}
		if scene.CreatedAt.IsZero() {
			scene.CreatedAt = time.Now()
		}
		_, err := r.db.Exec(ctx, createSceneQuery,
			scene.ID,
			scene.StoryID,
			scene.Title,
			scene.Content,
			scene.Characters,
			scene.Setting,
			scene.DurationSec,
			scene.VisualPrompt,
			scene.Order,
			scene.Audio,
			scene.Video,
			scene.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to create scene", zap.Error(err), zap.Int("order", scene.Order))
			return fmt.Errorf("failed to create scene %d: %w", scene.Order, err)
		}
	}
	return nil
}

func (r *pgSceneRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Scene, error) {
	row := r.db.QueryRow(ctx, getSceneByIDQuery, id)
	scene, err := scanScene(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		r.logger.Error("Failed to get scene", zap.Error(err), zap.String("id", id.String()))
		return nil, fmt.Errorf("failed to get scene: %w", err)
	}
	return scene, nil
}

func (r *pgSceneRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Scene, error) {
	rows, err := r.db.Query(ctx, listScenesByStoryQuery, storyID)
	if err != nil {
		r.logger.Error("Failed to list scenes", zap.Error(err), zap.String("story_id", storyID.String()))
		return nil, fmt.Errorf("failed to list scenes: %w", err)
	}
	defer rows.Close()

	scenes := make([]models.Scene, 0)
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan scene row: %w", err)
		}
		scenes = append(scenes, *scene)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scene rows iteration error: %w", err)
	}
	return scenes, nil
}

func (r *pgSceneRepository) UpdateAudio(ctx context.Context, id uuid.UUID, artifact *models.MediaArtifact) error {
	return r.updateArtifact(ctx, updateSceneAudioQuery, id, artifact)
}

func (r *pgSceneRepository) UpdateVideo(ctx context.Context, id uuid.UUID, artifact *models.MediaArtifact) error {
	return r.updateArtifact(ctx, updateSceneVideoQuery, id, artifact)
}

func (r *pgSceneRepository) updateArtifact(ctx context.Context, query string, id uuid.UUID, artifact *models.MediaArtifact) error {
	tag, err := r.db.Exec(ctx, query, id, artifact)
	if err != nil {
		r.logger.Error("Failed to update scene artifact", zap.Error(err), zap.String("id", id.String()))
		return fmt.Errorf("failed to update scene artifact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

func scanScene(row pgx.Row) (*models.Scene, error) {
	var s models.Scene
	err := row.Scan(
		&s.ID,
		&s.StoryID,
		&s.Title,
		&s.Content,
		&s.Characters,
		&s.Setting,
		&s.DurationSec,
		&s.VisualPrompt,
		&s.Order,
		&s.Audio,
		&s.Video,
		&s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
