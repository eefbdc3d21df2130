// Package segmenter разбивает текст истории на упорядоченный список сцен.
// Первичное разбиение идет по структурным маркерам (заголовки, слаглайны,
// переходные слова); при их отсутствии включается резервная стратегия
// равномерного распределения предложений. Сегментация - чистая функция
// текста и ростера: одинаковый вход всегда дает одинаковый результат.
package segmenter

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"storyreel-server/shared/models"
	"storyreel-server/shared/textutil"
)

const (
	// MaxScenes - целевой потолок количества сцен после оптимизации.
	MaxScenes = 6
	// Границы резервной стратегии распределения предложений.
	minFallbackScenes = 3
	maxFallbackScenes = 6
	// Предложений на сцену при выборе целевого количества в фолбэке.
	sentencesPerScene = 5

	minDurationSec = 15
	maxDurationSec = 60
	// Скорость речи: три слова в секунду.
	wordsPerSecond = 3
)

// Тематические корзины для генерации заголовков.
var themeKeywords = map[string][]string{
	"Action":    {"fight", "chase", "run", "attack", "explosion", "battle", "escape", "struck", "leapt"},
	"Dialogue":  {"said", "asked", "replied", "conversation", "told", "answered"},
	"Discovery": {"found", "discovered", "revealed", "uncovered", "realized", "noticed"},
	"Emotional": {"tears", "cried", "love", "heart", "embraced", "wept", "smiled"},
	"Mystery":   {"strange", "shadow", "unknown", "whisper", "secret", "vanished", "mysterious"},
}

// Порядок проверки корзин при равных счетчиках.
var themeOrder = []string{"Action", "Dialogue", "Discovery", "Emotional", "Mystery"}

// Метки позиций для резервной стратегии, по общему количеству сцен.
var positionLabels = map[int][]string{
	3: {"Opening", "Development", "Resolution"},
	4: {"Opening", "Development", "Climax", "Resolution"},
	5: {"Opening", "Rising Action", "Development", "Climax", "Resolution"},
	6: {"Opening", "Rising Action", "Development", "Turning Point", "Climax", "Resolution"},
}

// Ключевые слова локаций: первое совпадение определяет setting сцены.
var locationKeywords = []struct {
	keyword string
	setting string
}{
	{"forest", "a dense forest"},
	{"wood", "a dense forest"},
	{"city", "a city street"},
	{"street", "a city street"},
	{"castle", "an old castle"},
	{"kitchen", "a kitchen"},
	{"office", "an office"},
	{"beach", "a beach"},
	{"mountain", "a mountain pass"},
	{"ship", "a ship at sea"},
	{"village", "a small village"},
	{"garden", "a garden"},
	{"cave", "a dark cave"},
	{"rooftop", "a rooftop"},
	{"hallway", "a long hallway"},
	{"room", "a quiet room"},
}

const defaultSetting = "indoor scene"

// Глаголы действия для визуального промпта: основа для поиска -> метка.
var actionKeywords = []struct {
	stem  string
	label string
}{
	{"run", "running"},
	{"fight", "fighting"},
	{"chase", "chasing"},
	{"search", "searching"},
	{"whisper", "whispering"},
	{"argu", "arguing"},
	{"embrace", "embracing"},
	{"hid", "hiding"},
	{"escap", "escaping"},
	{"danc", "dancing"},
	{"wait", "waiting"},
}

const defaultAction = "interacting"

// Segmenter строит список сцен из текста истории.
type Segmenter struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Segmenter {
	return &Segmenter{logger: logger.Named("SceneSegmenter")}
}

// block - промежуточный результат первичного разбиения.
type block struct {
	heading string
	lines   []string
}

func (b *block) text() string {
	return strings.Join(b.lines, "\n")
}

// Segment возвращает упорядоченный список сцен. Пустой текст дает пустой
// список - это единственный случай нулевого результата, вызывающий обязан
// его обработать.
func (s *Segmenter) Segment(text string, roster []models.Character) []models.Scene {
	if strings.TrimSpace(text) == "" {
		return []models.Scene{}
	}

	blocks, markersFound := splitByBoundaries(text)
	var scenes []models.Scene
	if !markersFound {
		s.logger.Debug("No structural markers found, using sentence bucketing")
		scenes = s.bucketSentences(text, roster)
	} else {
		scenes = s.scenesFromBlocks(blocks, roster)
	}

	scenes = mergeShortScenes(scenes)

	for i := range scenes {
		scenes[i].Order = i
	}
	return scenes
}

// splitByBoundaries нарезает текст на блоки по сигналам границы сцены.
// Второй результат сообщает, сработал ли хоть один структурный маркер.
func splitByBoundaries(text string) ([]block, bool) {
	lines := textutil.Lines(text)
	blocks := make([]block, 0, 4)
	current := block{}
	markersFound := false

	flush := func() {
		if len(current.lines) > 0 || current.heading != "" {
			blocks = append(blocks, current)
		}
		current = block{}
	}

	for _, line := range lines {
		if title, ok := textutil.ParseHeading(line); ok {
			markersFound = true
			flush()
			current.heading = title
			continue
		}
		if textutil.IsSlugline(line) {
			markersFound = true
			flush()
			current.heading = line
			continue
		}
		if textutil.IsSceneBoundary(line, len(current.lines)) {
			markersFound = true
			flush()
		}
		current.lines = append(current.lines, line)
	}
	flush()

	return blocks, markersFound
}

// scenesFromBlocks превращает блоки первичного разбиения в сцены.
func (s *Segmenter) scenesFromBlocks(blocks []block, roster []models.Character) []models.Scene {
	scenes := make([]models.Scene, 0, len(blocks))
	for _, b := range blocks {
		content := b.text()
		if strings.TrimSpace(content) == "" && b.heading == "" {
			continue
		}
		title := b.heading
		if title == "" {
			title = fmt.Sprintf("%s - Scene %d", themeOf(content), len(scenes)+1)
		}
		scenes = append(scenes, buildScene(title, content, roster))
	}
	return scenes
}

// bucketSentences - резервная стратегия: равномерное распределение
// предложений по 3-6 сценам с позиционными метками.
func (s *Segmenter) bucketSentences(text string, roster []models.Character) []models.Scene {
	sentences := textutil.Sentences(text)
	if len(sentences) == 0 {
		return []models.Scene{}
	}

	target := len(sentences) / sentencesPerScene
	if target < minFallbackScenes {
		target = minFallbackScenes
	}
	if target > maxFallbackScenes {
		target = maxFallbackScenes
	}
	if target > len(sentences) {
		target = len(sentences)
	}

	labels := positionLabels[target]
	scenes := make([]models.Scene, 0, target)

	perScene := len(sentences) / target
	remainder := len(sentences) % target
	start := 0
	for i := 0; i < target; i++ {
		count := perScene
		if i < remainder {
			count++
		}
		content := strings.Join(sentences[start:start+count], ". ") + "."
		start += count

		title := fmt.Sprintf("Scene %d", i+1)
		if labels != nil && i < len(labels) {
			title = labels[i]
		}
		scenes = append(scenes, buildScene(title, content, roster))
	}
	return scenes
}

// mergeShortScenes жадно сливает короткие сцены с непосредственным
// преемником, пока количество сцен не опустится до MaxScenes или слияния
// не закончатся. Повторяет проход слева направо.
func mergeShortScenes(scenes []models.Scene) []models.Scene {
	for len(scenes) > MaxScenes {
		merged := false
		for i := 0; i < len(scenes)-1; i++ {
			if scenes[i].DurationSec >= models.MinSceneDurationSec {
				continue
			}
			scenes[i] = mergePair(scenes[i], scenes[i+1])
			scenes = append(scenes[:i+1], scenes[i+2:]...)
			merged = true
			break
		}
		if !merged {
			break
		}
	}
	return scenes
}

// mergePair сливает две соседние сцены. Производные поля пересчитываются
// по объединенному содержимому: setting и визуальный промпт первой
// половины могут не описывать итоговую сцену.
func mergePair(a, b models.Scene) models.Scene {
	a.Content = a.Content + "\n" + b.Content
	a.DurationSec = a.DurationSec + b.DurationSec
	a.Characters = unionNames(a.Characters, b.Characters)
	a.Setting = detectSetting(a.Content)
	a.VisualPrompt = buildVisualPrompt(a.Characters, a.Setting, a.Content)
	return a
}

func unionNames(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	result := make([]string, 0, len(a)+len(b))
	for _, name := range append(append([]string{}, a...), b...) {
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, name)
	}
	return result
}

// buildScene вычисляет производные поля сцены из содержимого.
func buildScene(title, content string, roster []models.Character) models.Scene {
	participants := detectParticipants(content, roster)
	setting := detectSetting(content)
	duration := estimateDuration(content)

	return models.Scene{
		Title:        title,
		Content:      content,
		Characters:   participants,
		Setting:      setting,
		DurationSec:  duration,
		VisualPrompt: buildVisualPrompt(participants, setting, content),
	}
}

// detectParticipants возвращает имена персонажей ростера, встречающиеся
// в содержимом сцены (без учета регистра). Отсутствие участников - не
// ошибка: сцена может быть чисто описательной.
func detectParticipants(content string, roster []models.Character) []string {
	lower := strings.ToLower(content)
	participants := make([]string, 0, len(roster))
	for _, character := range roster {
		if strings.Contains(lower, strings.ToLower(character.Name)) {
			participants = append(participants, character.Name)
		}
	}
	return participants
}

func detectSetting(content string) string {
	lower := strings.ToLower(content)
	for _, entry := range locationKeywords {
		if strings.Contains(lower, entry.keyword) {
			return entry.setting
		}
	}
	return defaultSetting
}

// estimateDuration оценивает длительность сцены в секундах из количества
// слов при фиксированной скорости речи, с ограничением в [15,60].
func estimateDuration(content string) int {
	seconds := textutil.WordCount(content) / wordsPerSecond
	if seconds < minDurationSec {
		return minDurationSec
	}
	if seconds > maxDurationSec {
		return maxDurationSec
	}
	return seconds
}

func buildVisualPrompt(participants []string, setting, content string) string {
	who := "a lone figure"
	switch len(participants) {
	case 0:
	case 1:
		who = participants[0]
	case 2:
		who = participants[0] + " and " + participants[1]
	default:
		who = strings.Join(participants[:len(participants)-1], ", ") + " and " + participants[len(participants)-1]
	}

	action := defaultAction
	lower := strings.ToLower(content)
	for _, kw := range actionKeywords {
		if strings.Contains(lower, kw.stem) {
			action = kw.label
			break
		}
	}

	return fmt.Sprintf("%s in %s, %s", who, setting, action)
}

// themeOf классифицирует доминирующую тему блока по ключевым словам.
func themeOf(content string) string {
	lower := strings.ToLower(content)
	best := ""
	bestCount := 0
	for _, theme := range themeOrder {
		count := 0
		for _, kw := range themeKeywords[theme] {
			count += strings.Count(lower, kw)
		}
		if count > bestCount {
			best = theme
			bestCount = count
		}
	}
	if best == "" {
		return "Story Development"
	}
	return best
}
