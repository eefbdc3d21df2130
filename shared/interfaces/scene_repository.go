package interfaces

import (
	"context"

	"github.com/google/uuid"

	"storyreel-server/shared/models"
)

// SceneRepository определяет доступ к сохраненным сценам истории.
type SceneRepository interface {
	// CreateBatch сохраняет весь список сцен одной истории. Порядок сцен
	// (order_index) должен быть уникален и монотонно возрастать.
	CreateBatch(ctx context.Context, scenes []models.Scene) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Scene, error)
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Scene, error)

	// UpdateAudio / UpdateVideo прикрепляют сгенерированный артефакт к сцене.
	UpdateAudio(ctx context.Context, id uuid.UUID, artifact *models.MediaArtifact) error
	UpdateVideo(ctx context.Context, id uuid.UUID, artifact *models.MediaArtifact) error
}
