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

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.CharacterRepository = (*pgCharacterRepository)(nil)

type pgCharacterRepository struct {
	db     interfaces.DBTX
	logger *zap.Logger
}

func NewPgCharacterRepository(db interfaces.DBTX, logger *zap.Logger) interfaces.CharacterRepository {
	return &pgCharacterRepository{
		db:     db,
		logger: logger.Named("PgCharacterRepo"),
	}
}

const createCharacterQuery = `
INSERT INTO characters (id, story_id, name, role, description, traits, appearance, dialogue_samples, photos, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

const getCharacterByIDQuery = `
SELECT id, story_id, name, role, description, traits, appearance, dialogue_samples, photos, created_at
FROM characters
WHERE id = $1`

const listCharactersByStoryQuery = `
SELECT id, story_id, name, role, description, traits, appearance, dialogue_samples, photos, created_at
FROM characters
WHERE story_id = $1
ORDER BY created_at, name`

const updateCharacterPhotosQuery = `
UPDATE characters SET photos = $2 WHERE id = $1`

const deleteCharacterQuery = `
DELETE FROM characters WHERE id = $1`

// Create inserts a new character record.
func (r *pgCharacterRepository) Create(ctx context.Context, character *models.Character) error {
	if character.ID == uuid.Nil {
		character.ID = uuid.New()
	}
	if character.CreatedAt.IsZero() {
		character.CreatedAt = time.Now()
	}

	_, err := r.db.Exec(ctx, createCharacterQuery,
		character.ID,
		character.StoryID,
		character.Name,
		character.Role,
		character.Description,
		character.Traits,
		character.Appearance,
		character.DialogueSamples,
		character.Photos,
		character.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create character", zap.Error(err), zap.String("name", character.Name))
		return fmt.Errorf("failed to create character: %w", err)
	}
	return nil
}

// GetByID возвращает персонажа по ID или interfaces.ErrNotFound.
func (r *pgCharacterRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Character, error) {
	row := r.db.QueryRow(ctx, getCharacterByIDQuery, id)
	character, err := scanCharacter(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, interfaces.ErrNotFound
		}
		r.logger.Error("Failed to get character", zap.Error(err), zap.String("id", id.String()))
		return nil, fmt.Errorf("failed to get character: %w", err)
	}
	return character, nil
}

// ListByStory возвращает всех персонажей истории в порядке создания.
func (r *pgCharacterRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Character, error) {
	rows, err := r.db.Query(ctx, listCharactersByStoryQuery, storyID)
	if err != nil {
		r.logger.Error("Failed to list characters", zap.Error(err), zap.String("story_id", storyID.String()))
		return nil, fmt.Errorf("failed to list characters: %w", err)
	}
	defer rows.Close()

	characters := make([]models.Character, 0)
	for rows.Next() {
		character, err := scanCharacter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan character row: %w", err)
		}
		characters = append(characters, *character)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("character rows iteration error: %w", err)
	}
	return characters, nil
}

// UpdatePhotos перезаписывает кандидатов портретов персонажа.
func (r *pgCharacterRepository) UpdatePhotos(ctx context.Context, id uuid.UUID, photos []models.CharacterPhoto) error {
	tag, err := r.db.Exec(ctx, updateCharacterPhotosQuery, id, photos)
	if err != nil {
		r.logger.Error("Failed to update character photos", zap.Error(err), zap.String("id", id.String()))
		return fmt.Errorf("failed to update character photos: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// Delete удаляет персонажа.
func (r *pgCharacterRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, deleteCharacterQuery, id)
	if err != nil {
		r.logger.Error("Failed to delete character", zap.Error(err), zap.String("id", id.String()))
		return fmt.Errorf("failed to delete character: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// scanCharacter читает одну строку выборки персонажа.
// JSONB колонки pgx распаковывает напрямую в структуры.
func scanCharacter(row pgx.Row) (*models.Character, error) {
	var c models.Character
	err := row.Scan(
		&c.ID,
		&c.StoryID,
		&c.Name,
		&c.Role,
		&c.Description,
		&c.Traits,
		&c.Appearance,
		&c.DialogueSamples,
		&c.Photos,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
