// Package extractor превращает сырой текст истории в ростер персонажей.
// Извлечение полностью эвристическое и никогда не завершается ошибкой:
// при отсутствии кандидатов синтезируются персонажи-заполнители, чтобы
// нижележащим шагам всегда было с кем работать.
package extractor

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"storyreel-server/shared/models"
	"storyreel-server/shared/textutil"
	"storyreel-server/shared/utils"
)

const (
	// MaxCharacters ограничивает ростер, чтобы связать стоимость генерации.
	MaxCharacters = 8
	// MinCharacters - нижняя граница; недостающие места занимают заполнители.
	MinCharacters = 2

	traitsPerCharacter   = 4
	maxDialogueSamples   = 3
	placeholderMainName  = "Protagonist"
	placeholderSideName  = "Supporting Character"
)

// Глаголы атрибуции речи: капитализированное имя рядом с таким глаголом
// считается кандидатом.
var speechVerbs = map[string]struct{}{
	"said": {}, "replied": {}, "asked": {}, "whispered": {},
	"shouted": {}, "thought": {}, "exclaimed": {}, "muttered": {},
}

// Стоп-лист: структурные слова и абстрактные существительные, которые
// часто капитализируются, но именами не являются.
var nameStoplist = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "but": {}, "or": {}, "then": {},
	"when": {}, "while": {}, "after": {}, "before": {}, "chapter": {},
	"scene": {}, "act": {}, "prologue": {}, "epilogue": {}, "meanwhile": {},
	"later": {}, "suddenly": {}, "it": {}, "he": {}, "she": {}, "they": {},
	"his": {}, "her": {}, "their": {}, "there": {}, "this": {}, "that": {},
	"time": {}, "love": {}, "heart": {}, "death": {}, "life": {}, "fear": {},
	"hope": {}, "fate": {}, "destiny": {}, "night": {}, "day": {}, "morning": {},
}

// Словарь черт характера для детерминированной выборки.
var traitVocabulary = []string{
	"brave", "curious", "loyal", "stubborn", "witty", "compassionate",
	"secretive", "ambitious", "cautious", "impulsive", "observant",
	"resourceful", "melancholic", "optimistic", "cynical", "gentle",
	"fierce", "methodical", "restless", "charming",
}

var (
	hairColors  = []string{"black", "brown", "blonde", "auburn", "gray", "red"}
	eyeColors   = []string{"brown", "blue", "green", "hazel", "gray"}
	ethnicities = []string{"caucasian", "east asian", "south asian", "african", "hispanic", "middle eastern"}
	genders     = []string{"female", "male"}
	styles      = []string{"casual", "formal", "rugged", "elegant", "bohemian", "utilitarian"}
)

// Кандидат: капитализированная последовательность из 1-2 токенов.
var capitalizedSeqPattern = regexp.MustCompile(`\b([A-Z][a-z]+(?:\s+[A-Z][a-z]+)?)\b`)

// Конструкция действия: имя, за которым идет глагол прошедшего времени
// либо связка (was/is/had), либо притяжательная форма.
var actionWordPattern = regexp.MustCompile(`^[a-z]+ed$`)

// Extractor извлекает персонажей из текста истории.
type Extractor struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger.Named("CharacterExtractor")}
}

// Extract возвращает дедуплицированный (без учета регистра) ростер
// персонажей в порядке первого появления. Для любого непустого текста
// результат содержит не менее MinCharacters записей.
func (e *Extractor) Extract(text string) []models.Character {
	names := e.collectNames(text)

	if len(names) < MinCharacters {
		e.logger.Debug("Too few name candidates, adding placeholders",
			zap.Int("found", len(names)))
		names = appendPlaceholders(names)
	}
	if len(names) > MaxCharacters {
		names = names[:MaxCharacters]
	}

	samples := collectDialogueSamples(text)

	characters := make([]models.Character, 0, len(names))
	for i, name := range names {
		role := models.RoleSupporting
		if i == 0 {
			role = models.RoleProtagonist
		}
		traits := sampleTraits(name)
		characters = append(characters, models.Character{
			Name:            name,
			Role:            role,
			Description:     describeCharacter(name, role, traits),
			Traits:          traits,
			Appearance:      SynthesizeAppearance(name, models.Appearance{}),
			DialogueSamples: samples[strings.ToUpper(name)],
		})
	}
	return characters
}

// collectNames выполняет двухслойное сканирование: сначала реплики-подсказки,
// затем капитализированные последовательности рядом с глаголами атрибуции
// или конструкциями действия.
func (e *Extractor) collectNames(text string) []string {
	seen := make(map[string]struct{})
	names := make([]string, 0, MaxCharacters)

	add := func(candidate string) {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			return
		}
		if isStoplisted(candidate) {
			return
		}
		key := strings.ToLower(candidate)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		names = append(names, candidate)
	}

	for _, line := range textutil.Lines(text) {
		// Слой 1: явная реплика **ИМЯ**.
		if name, _, ok := textutil.ParseDialogueCue(line); ok {
			add(name)
			// Остаток строки после подсказки может содержать другие имена.
		}

		// Слой 2: капитализированные последовательности в контексте речи
		// или действия.
		for _, loc := range capitalizedSeqPattern.FindAllStringSubmatchIndex(line, -1) {
			candidate := line[loc[2]:loc[3]]
			following := strings.Fields(line[loc[3]:])
			if len(following) == 0 {
				continue
			}
			if isNameContext(candidate, following[0], line[loc[3]:]) {
				add(candidate)
			}
		}
	}
	return names
}

// isNameContext решает, употреблено ли капитализированное слово как имя.
func isNameContext(candidate, nextWord, rest string) bool {
	next := strings.ToLower(strings.Trim(nextWord, ".,!?;:\"'"))
	if _, ok := speechVerbs[next]; ok {
		return true
	}
	if next == "was" || next == "is" || next == "had" {
		return true
	}
	if actionWordPattern.MatchString(next) {
		return true
	}
	// Притяжательная форма: John's.
	if strings.HasPrefix(rest, "'s") {
		return true
	}
	return false
}

func isStoplisted(candidate string) bool {
	for _, word := range strings.Fields(candidate) {
		if _, ok := nameStoplist[strings.ToLower(word)]; ok {
			return true
		}
	}
	return false
}

func appendPlaceholders(names []string) []string {
	placeholders := []string{placeholderMainName, placeholderSideName}
	for _, p := range placeholders {
		if len(names) >= MinCharacters {
			break
		}
		duplicate := false
		for _, existing := range names {
			if strings.EqualFold(existing, p) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			names = append(names, p)
		}
	}
	return names
}

// collectDialogueSamples собирает до maxDialogueSamples реплик на персонажа
// по подсказкам в тексте. Ключ - имя в верхнем регистре.
func collectDialogueSamples(text string) map[string][]string {
	samples := make(map[string][]string)
	lines := textutil.Lines(text)
	for i, line := range lines {
		name, rest, ok := textutil.ParseDialogueCue(line)
		if !ok {
			continue
		}
		// Подсказка без текста: реплика на следующей строке.
		if rest == "" && i+1 < len(lines) && !textutil.IsDialogueCue(lines[i+1]) {
			rest = lines[i+1]
		}
		if rest == "" {
			continue
		}
		key := strings.ToUpper(name)
		if len(samples[key]) < maxDialogueSamples {
			samples[key] = append(samples[key], rest)
		}
	}
	return samples
}

// sampleTraits детерминированно выбирает 4 различные черты характера,
// используя хеш имени как seed.
func sampleTraits(name string) []string {
	rng := rand.New(rand.NewSource(int64(nameSeed(name))))
	perm := rng.Perm(len(traitVocabulary))

	traits := make([]string, 0, traitsPerCharacter)
	for _, idx := range perm[:traitsPerCharacter] {
		traits = append(traits, traitVocabulary[idx])
	}
	return traits
}

// SynthesizeAppearance заполняет незаданные поля внешности
// детерминированно по хешу имени: один и тот же персонаж всегда
// получает одну и ту же внешность между запусками.
func SynthesizeAppearance(name string, explicit models.Appearance) models.Appearance {
	seed := nameSeed(name)
	result := explicit

	if result.Age == 0 {
		result.Age = 18 + int(seed%45)
	}
	if result.Gender == "" {
		result.Gender = genders[seed%uint64(len(genders))]
	}
	if result.Ethnicity == "" {
		result.Ethnicity = ethnicities[(seed/7)%uint64(len(ethnicities))]
	}
	if result.HairColor == "" {
		result.HairColor = hairColors[(seed/11)%uint64(len(hairColors))]
	}
	if result.EyeColor == "" {
		result.EyeColor = eyeColors[(seed/13)%uint64(len(eyeColors))]
	}
	if result.Style == "" {
		result.Style = styles[(seed/17)%uint64(len(styles))]
	}
	return result
}

func nameSeed(name string) uint64 {
	return utils.CharacterSeed(name)
}

func describeCharacter(name string, role models.CharacterRole, traits []string) string {
	primary := "enigmatic"
	if len(traits) > 0 {
		primary = traits[0]
	}
	switch role {
	case models.RoleProtagonist:
		return fmt.Sprintf("%s drives the story forward, a %s figure the narrative keeps returning to.", name, primary)
	default:
		return fmt.Sprintf("%s appears alongside the protagonist, bringing a %s presence to the scenes they share.", name, primary)
	}
}
