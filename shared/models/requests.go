package models

import "github.com/google/uuid"

// PhotoRequest - запрос на генерацию портрета персонажа.
// Expected содержит атрибуты внешности, на соответствие которым
// валидационный шлюз проверяет результат.
type PhotoRequest struct {
	CharacterID   uuid.UUID  `json:"characterId"`
	CharacterName string     `json:"characterName"`
	Prompt        string     `json:"prompt"`
	Style         string     `json:"style,omitempty"`
	Expected      Appearance `json:"expected"`
}

// AudioRequest - запрос на озвучивание одной сцены: сегменты повествования
// и реплик с назначенными голосами персонажей.
type AudioRequest struct {
	SceneID  uuid.UUID          `json:"sceneId"`
	Segments []NarrationSegment `json:"segments"`
	// Voices: имя персонажа (верхний регистр) -> идентификатор голоса провайдера.
	Voices map[string]string `json:"voices,omitempty"`
	// NarratorVoice - голос для сегментов повествования.
	NarratorVoice string `json:"narratorVoice,omitempty"`
}

// VideoRequest - запрос на генерацию видео по сцене.
type VideoRequest struct {
	SceneID     uuid.UUID `json:"sceneId"`
	Prompt      string    `json:"prompt"`
	DurationSec int       `json:"durationSec"`
}
