package textutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"storyreel-server/shared/textutil"
)

func TestLines(t *testing.T) {
	lines := textutil.Lines("first\n\n  second  \n\nthird\n")
	assert.Equal(t, []string{"first", "second", "third"}, lines)
}

func TestParagraphs(t *testing.T) {
	text := "First paragraph.\nStill first.\n\nSecond paragraph.\n\n\nThird."
	paragraphs := textutil.Paragraphs(text)
	assert.Len(t, paragraphs, 3)
	assert.Equal(t, "First paragraph.\nStill first.", paragraphs[0])
}

func TestSentences(t *testing.T) {
	sentences := textutil.Sentences("Hello there. How are you? Fine! And a tail without a period")
	assert.Equal(t, []string{"Hello there", "How are you", "Fine", "And a tail without a period"}, sentences)
}

func TestWordCount(t *testing.T) {
	assert.Equal(t, 0, textutil.WordCount("   "))
	assert.Equal(t, 4, textutil.WordCount("one  two\tthree\nfour"))
}

func TestParseDialogueCue(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantName string
		wantRest string
		wantOK   bool
	}{
		{"colon form", "**ARIA**: Hello there.", "ARIA", "Hello there.", true},
		{"no colon", "**JOHN SMITH** We need to go.", "JOHN SMITH", "We need to go.", true},
		{"bare cue", "**ARIA**", "ARIA", "", true},
		{"lowercase name rejected", "**aria**: hi", "", "", false},
		{"plain narration", "John walked into the room.", "", "", false},
		{"bold phrase is not a cue", "**Well then**: fine", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, rest, ok := textutil.ParseDialogueCue(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantRest, rest)
		})
	}
}

func TestParseHeading(t *testing.T) {
	title, ok := textutil.ParseHeading("## The Old Hallway")
	assert.True(t, ok)
	assert.Equal(t, "The Old Hallway", title)

	_, ok = textutil.ParseHeading("Not a heading")
	assert.False(t, ok)
}

func TestIsSlugline(t *testing.T) {
	assert.True(t, textutil.IsSlugline("EXT. CITY STREET - NIGHT"))
	assert.True(t, textutil.IsSlugline("INT. KITCHEN - DAY"))
	assert.False(t, textutil.IsSlugline("INTERIOR designers arrived."))
}

func TestIsSceneBoundary(t *testing.T) {
	assert.True(t, textutil.IsSceneBoundary("# Chapter Two", 0))
	assert.True(t, textutil.IsSceneBoundary("EXT. FOREST - DAWN", 0))
	assert.True(t, textutil.IsSceneBoundary("MEANWHILE, across the city...", 0))
	assert.True(t, textutil.IsSceneBoundary("Suddenly the lights went out.", 0))

	// Фразы перехода требуют накопленного контекста.
	assert.False(t, textutil.IsSceneBoundary("The next day brought rain.", 2))
	assert.True(t, textutil.IsSceneBoundary("The next day brought rain.", 4))

	assert.False(t, textutil.IsSceneBoundary("An ordinary sentence.", 10))
}
