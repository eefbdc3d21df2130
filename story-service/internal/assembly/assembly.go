// Package assembly собирает провайдер-специфичные запросы генерации из
// результатов декомпозиции: режет контент сцены на сегменты повествования
// и реплик, назначает голоса персонажам и укладывает промпты в токенный
// бюджет провайдера.
package assembly

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"storyreel-server/shared/models"
	"storyreel-server/shared/textutil"
	"storyreel-server/shared/utils"
)

const (
	// Кодировка BPE, общая для чат- и image-моделей OpenAI.
	encodingName = "cl100k_base"

	// Верхняя граница длины промпта в токенах; хвост обрезается.
	maxPromptTokens = 256

	// NarratorVoice озвучивает сегменты повествования.
	NarratorVoice = "alloy"
)

// Пулы голосов провайдера озвучки по полу персонажа. Выбор внутри пула
// детерминирован (seed по имени), поэтому персонаж получает один и тот же
// голос между запусками.
var (
	femaleVoices  = []string{"nova", "shimmer", "fable"}
	maleVoices    = []string{"onyx", "echo"}
	neutralVoices = []string{"echo", "nova", "onyx", "shimmer", "fable"}
)

// Assembler превращает сцены и персонажей в запросы к генераторам медиа.
type Assembler struct {
	logger  *zap.Logger
	encoder *tiktoken.Tiktoken
}

func New(logger *zap.Logger) (*Assembler, error) {
	encoder, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s encoding: %w", encodingName, err)
	}
	return &Assembler{
		logger:  logger.Named("Assembler"),
		encoder: encoder,
	}, nil
}

// SplitSegments режет контент сцены на упорядоченные сегменты озвучивания.
// Строка-реплика `**ИМЯ**: текст` дает сегмент dialogue; форма `**ИМЯ**`
// без текста забирает следующую строку как реплику. Все остальные строки
// накапливаются в один сегмент narration, пока их не прервет реплика.
func (a *Assembler) SplitSegments(content string) []models.NarrationSegment {
	segments := make([]models.NarrationSegment, 0, 4)
	var narration []string
	pendingSpeaker := ""

	flushNarration := func() {
		if len(narration) == 0 {
			return
		}
		segments = append(segments, models.NarrationSegment{
			Text: strings.Join(narration, " "),
			Type: models.SegmentNarration,
		})
		narration = narration[:0]
	}

	for _, line := range textutil.Lines(content) {
		if name, rest, ok := textutil.ParseDialogueCue(line); ok {
			flushNarration()
			if rest == "" {
				// Текст реплики на следующей строке.
				pendingSpeaker = name
				continue
			}
			pendingSpeaker = ""
			segments = append(segments, models.NarrationSegment{
				Text:      rest,
				Type:      models.SegmentDialogue,
				Character: name,
			})
			continue
		}
		if pendingSpeaker != "" {
			segments = append(segments, models.NarrationSegment{
				Text:      line,
				Type:      models.SegmentDialogue,
				Character: pendingSpeaker,
			})
			pendingSpeaker = ""
			continue
		}
		narration = append(narration, line)
	}
	flushNarration()

	return segments
}

// AssignVoices назначает каждому персонажу голос провайдера озвучки.
// Ключи карты - имена в верхнем регистре, как в сегментах dialogue.
func (a *Assembler) AssignVoices(characters []models.Character) map[string]string {
	voices := make(map[string]string, len(characters))
	for _, ch := range characters {
		voices[strings.ToUpper(ch.Name)] = voiceFor(ch)
	}
	return voices
}

func voiceFor(ch models.Character) string {
	pool := neutralVoices
	switch strings.ToLower(ch.Appearance.Gender) {
	case "female":
		pool = femaleVoices
	case "male":
		pool = maleVoices
	}
	return pool[utils.CharacterSeed(ch.Name)%uint64(len(pool))]
}

// BuildAudioRequest собирает запрос озвучивания одной сцены.
func (a *Assembler) BuildAudioRequest(scene models.Scene, characters []models.Character) models.AudioRequest {
	segments := a.SplitSegments(scene.Content)
	a.logger.Debug("Built audio request",
		zap.String("scene_id", scene.ID.String()),
		zap.Int("segments", len(segments)))
	return models.AudioRequest{
		SceneID:       scene.ID,
		Segments:      segments,
		Voices:        a.AssignVoices(characters),
		NarratorVoice: NarratorVoice,
	}
}

// BuildVideoRequest собирает запрос генерации видео по сцене.
func (a *Assembler) BuildVideoRequest(scene models.Scene) models.VideoRequest {
	return models.VideoRequest{
		SceneID:     scene.ID,
		Prompt:      a.TruncateToBudget(scene.VisualPrompt),
		DurationSec: scene.DurationSec,
	}
}

// BuildPhotoRequest собирает запрос портрета из атрибутов персонажа.
func (a *Assembler) BuildPhotoRequest(ch models.Character, style string) models.PhotoRequest {
	return models.PhotoRequest{
		CharacterID:   ch.ID,
		CharacterName: ch.Name,
		Prompt:        a.TruncateToBudget(portraitPrompt(ch)),
		Style:         style,
		Expected:      ch.Appearance,
	}
}

func portraitPrompt(ch models.Character) string {
	app := ch.Appearance
	parts := []string{fmt.Sprintf("portrait of %s", ch.Name)}
	if app.Age > 0 {
		parts = append(parts, fmt.Sprintf("%d years old", app.Age))
	}
	if app.Gender != "" {
		parts = append(parts, app.Gender)
	}
	if app.Ethnicity != "" {
		parts = append(parts, app.Ethnicity)
	}
	if app.HairColor != "" {
		parts = append(parts, app.HairColor+" hair")
	}
	if app.EyeColor != "" {
		parts = append(parts, app.EyeColor+" eyes")
	}
	if app.Style != "" {
		parts = append(parts, app.Style+" style")
	}
	if len(ch.Traits) > 0 {
		parts = append(parts, strings.Join(ch.Traits, ", "))
	}
	return strings.Join(parts, ", ")
}

// TruncateToBudget обрезает промпт до maxPromptTokens токенов кодировки
// cl100k_base. Короткие промпты возвращаются как есть.
func (a *Assembler) TruncateToBudget(prompt string) string {
	tokens := a.encoder.Encode(prompt, nil, nil)
	if len(tokens) <= maxPromptTokens {
		return prompt
	}
	a.logger.Debug("Prompt exceeds token budget, truncating",
		zap.Int("tokens", len(tokens)),
		zap.Int("budget", maxPromptTokens))
	return a.encoder.Decode(tokens[:maxPromptTokens])
}
