package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CharacterRole определяет роль персонажа в истории.
type CharacterRole string

const (
	RoleProtagonist CharacterRole = "protagonist"
	RoleAntagonist  CharacterRole = "antagonist"
	RoleSupporting  CharacterRole = "supporting"
)

// Appearance описывает внешность персонажа. Поля заполняются экстрактором
// детерминированно (seed по имени), либо задаются пользователем явно.
type Appearance struct {
	Age       int    `json:"age"`
	Gender    string `json:"gender"`
	Ethnicity string `json:"ethnicity"`
	HairColor string `json:"hairColor"`
	EyeColor  string `json:"eyeColor"`
	Style     string `json:"style"`
}

// CharacterPhoto represents a single generated portrait candidate.
// Validation is attached once by the validation gate and never mutated;
// a retry produces a new candidate with its own result.
type CharacterPhoto struct {
	URL               string            `json:"url"`
	Provider          string            `json:"provider"`
	Style             string            `json:"style,omitempty"`
	Validation        *ValidationResult `json:"validation,omitempty"`
	IsAccepted        bool              `json:"isAccepted"`
	IsSelected        bool              `json:"isSelected"`
	NeedsRegeneration bool              `json:"needsRegeneration,omitempty"`
}

// Character represents a single extracted (or user-created) story character.
type Character struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	StoryID         uuid.UUID        `db:"story_id" json:"storyId"`
	Name            string           `db:"name" json:"name"`
	Role            CharacterRole    `db:"role" json:"role"`
	Description     string           `db:"description" json:"description"`
	Traits          []string         `db:"traits" json:"traits"`
	Appearance      Appearance       `db:"appearance" json:"appearance"`
	DialogueSamples []string         `db:"dialogue_samples" json:"dialogueSamples,omitempty"`
	Photos          []CharacterPhoto `db:"photos" json:"photos"`
	CreatedAt       time.Time        `db:"created_at" json:"createdAt"`
}

// AddPhoto добавляет кандидата портрета. Первый принятый кандидат
// автоматически становится выбранным, если выбранного еще нет.
func (c *Character) AddPhoto(photo CharacterPhoto) {
	if photo.IsAccepted && c.SelectedPhoto() == nil {
		photo.IsSelected = true
	}
	c.Photos = append(c.Photos, photo)
}

// SelectPhoto помечает фото с данным индексом как выбранное и снимает
// флаг со всех остальных. Инвариант: не более одного IsSelected.
func (c *Character) SelectPhoto(index int) error {
	if index < 0 || index >= len(c.Photos) {
		return fmt.Errorf("photo index %d out of range (have %d photos)", index, len(c.Photos))
	}
	for i := range c.Photos {
		c.Photos[i].IsSelected = i == index
	}
	return nil
}

// SelectedPhoto возвращает текущее выбранное фото или nil.
func (c *Character) SelectedPhoto() *CharacterPhoto {
	for i := range c.Photos {
		if c.Photos[i].IsSelected {
			return &c.Photos[i]
		}
	}
	return nil
}
