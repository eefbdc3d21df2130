package interfaces

import (
	"context"

	"github.com/google/uuid"

	"storyreel-server/shared/models"
)

// CharacterRepository определяет доступ к сохраненным персонажам истории.
type CharacterRepository interface {
	Create(ctx context.Context, character *models.Character) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Character, error)
	ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Character, error)

	// UpdatePhotos перезаписывает список кандидатов портретов персонажа.
	// Инвариант "не более одного выбранного фото" обязан соблюдать вызывающий.
	UpdatePhotos(ctx context.Context, id uuid.UUID, photos []models.CharacterPhoto) error

	// Delete удаляет персонажа. Удаление всегда явное действие пользователя.
	Delete(ctx context.Context, id uuid.UUID) error
}
