// Package textutil содержит чистые функции разбиения сырого текста истории
// на строки, абзацы и предложения, а также детекторы структурных маркеров
// (реплики персонажей, границы сцен, заголовки). Каждое правило вынесено в
// отдельную функцию, чтобы его точность можно было тестировать изолированно.
package textutil

import (
	"regexp"
	"strings"
)

var (
	// Реплика вида **ИМЯ**: текст или **ИМЯ** с текстом на следующей строке.
	dialogueCuePattern = regexp.MustCompile(`^\*\*([A-Z][A-Z0-9 .'\-]{0,40})\*\*\s*:?\s*(.*)$`)

	// Заголовок сцены: markdown-решетка или слаглайн сценария.
	headingPattern  = regexp.MustCompile(`^#{1,6}\s+(.+)$`)
	sluglinePattern = regexp.MustCompile(`^(?:EXT\.|INT\.)\s*.*$`)

	sentenceSplitPattern = regexp.MustCompile(`[.!?]+(?:\s+|$)`)
	whitespacePattern    = regexp.MustCompile(`\s+`)
)

// Переходные слова, которые сами по себе открывают новую сцену.
var transitionKeywords = []string{"MEANWHILE", "LATER", "SUDDENLY"}

// Фразы временного/пространственного перехода; срабатывают как граница
// сцены только когда текущая сцена уже накопила достаточно строк.
var transitionPhrases = []string{
	"the next day", "the next morning", "hours later", "that evening",
	"that night", "moments later", "back at", "across town", "elsewhere",
	"some time later", "the following", "at the same time",
}

// Lines разбивает текст на непустые строки с обрезанными пробелами.
func Lines(text string) []string {
	raw := strings.Split(text, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if trimmed := strings.TrimSpace(l); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}

// Paragraphs разбивает текст на абзацы по пустым строкам.
func Paragraphs(text string) []string {
	blocks := regexp.MustCompile(`\n\s*\n`).Split(text, -1)
	paragraphs := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if trimmed := strings.TrimSpace(b); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}
	return paragraphs
}

// Sentences разбивает текст на предложения по терминальной пунктуации.
// Хвост без завершающего знака тоже считается предложением.
func Sentences(text string) []string {
	parts := sentenceSplitPattern.Split(text, -1)
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	return sentences
}

// WordCount возвращает количество слов в тексте.
func WordCount(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	return len(whitespacePattern.Split(trimmed, -1))
}

// ParseDialogueCue распознает строку-реплику вида `**ИМЯ**: текст`.
// Возвращает имя персонажа, остаток строки и признак совпадения.
func ParseDialogueCue(line string) (name string, rest string, ok bool) {
	m := dialogueCuePattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", "", false
	}
	return strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), true
}

// IsDialogueCue сообщает, является ли строка репликой персонажа.
func IsDialogueCue(line string) bool {
	_, _, ok := ParseDialogueCue(line)
	return ok
}

// ParseHeading распознает markdown-заголовок и возвращает его текст.
func ParseHeading(line string) (title string, ok bool) {
	m := headingPattern.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// IsSlugline распознает сценарный слаглайн (EXT. / INT.).
func IsSlugline(line string) bool {
	return sluglinePattern.MatchString(strings.TrimSpace(line))
}

// IsSceneBoundary решает, открывает ли строка новую сцену.
// accumulatedLines - сколько строк уже накопила текущая сцена: эвристика
// перехода по фразам срабатывает только после 3 строк, чтобы не дробить
// текст на осколки.
func IsSceneBoundary(line string, accumulatedLines int) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if _, ok := ParseHeading(trimmed); ok {
		return true
	}
	if IsSlugline(trimmed) {
		return true
	}
	upper := strings.ToUpper(trimmed)
	for _, kw := range transitionKeywords {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	if accumulatedLines > 3 {
		lower := strings.ToLower(trimmed)
		for _, phrase := range transitionPhrases {
			if strings.HasPrefix(lower, phrase) {
				return true
			}
		}
	}
	return false
}
