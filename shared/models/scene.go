package models

import (
	"time"

	"github.com/google/uuid"
)

// MinSceneDurationSec - сцены короче этого порога считаются кандидатами
// на слияние с соседней сценой при оптимизации.
const MinSceneDurationSec = 20

// MediaArtifact represents a generated audio/video record attached to a scene.
type MediaArtifact struct {
	URL               string            `json:"url"`
	Provider          string            `json:"provider"`
	Style             string            `json:"style,omitempty"`
	Validation        *ValidationResult `json:"validation,omitempty"`
	IsAccepted        bool              `json:"isAccepted"`
	NeedsRegeneration bool              `json:"needsRegeneration,omitempty"`
}

// Scene represents one segment of the story playback sequence.
// Order is unique and monotonically increasing within a story.
type Scene struct {
	ID           uuid.UUID      `db:"id" json:"id"`
	StoryID      uuid.UUID      `db:"story_id" json:"storyId"`
	Title        string         `db:"title" json:"title"`
	Content      string         `db:"content" json:"content"`
	Characters   []string       `db:"characters" json:"characters"`
	Setting      string         `db:"setting" json:"setting"`
	DurationSec  int            `db:"duration_sec" json:"durationSec"`
	VisualPrompt string         `db:"visual_prompt" json:"visualPrompt"`
	Order        int            `db:"order_index" json:"order"`
	Audio        *MediaArtifact `db:"audio" json:"audio,omitempty"`
	Video        *MediaArtifact `db:"video" json:"video,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"createdAt"`
}

// SegmentType различает повествование и реплику персонажа.
type SegmentType string

const (
	SegmentNarration SegmentType = "narration"
	SegmentDialogue  SegmentType = "dialogue"
)

// NarrationSegment - одна единица озвучивания внутри сцены.
// Character обязателен для SegmentDialogue и пуст для SegmentNarration.
type NarrationSegment struct {
	Text      string      `json:"text"`
	Type      SegmentType `json:"type"`
	Character string      `json:"character,omitempty"`
}
