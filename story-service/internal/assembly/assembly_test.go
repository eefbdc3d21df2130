package assembly_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyreel-server/shared/models"
	"storyreel-server/story-service/internal/assembly"
)

func newAssembler(t *testing.T) *assembly.Assembler {
	t.Helper()
	a, err := assembly.New(zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestSplitSegments_CueWithInlineText(t *testing.T) {
	content := `The rain had not stopped for days.
**ARIA**: We cannot stay here.
**JOHN**: Then we leave at dawn.
The fire burned low while they packed.`

	segments := newAssembler(t).SplitSegments(content)

	require.Len(t, segments, 4)
	assert.Equal(t, models.SegmentNarration, segments[0].Type)
	assert.Equal(t, "The rain had not stopped for days.", segments[0].Text)
	assert.Empty(t, segments[0].Character)

	assert.Equal(t, models.SegmentDialogue, segments[1].Type)
	assert.Equal(t, "ARIA", segments[1].Character)
	assert.Equal(t, "We cannot stay here.", segments[1].Text)

	assert.Equal(t, "JOHN", segments[2].Character)
	assert.Equal(t, models.SegmentNarration, segments[3].Type)
}

func TestSplitSegments_CueTakesNextLine(t *testing.T) {
	content := `**ARIA**
We cannot stay here.`

	segments := newAssembler(t).SplitSegments(content)

	require.Len(t, segments, 1)
	assert.Equal(t, models.SegmentDialogue, segments[0].Type)
	assert.Equal(t, "ARIA", segments[0].Character)
	assert.Equal(t, "We cannot stay here.", segments[0].Text)
}

func TestSplitSegments_ConsecutiveNarrationAccumulates(t *testing.T) {
	content := `The door creaked.
Dust hung in the air.
Nobody spoke.`

	segments := newAssembler(t).SplitSegments(content)

	require.Len(t, segments, 1)
	assert.Equal(t, models.SegmentNarration, segments[0].Type)
	assert.Equal(t, "The door creaked. Dust hung in the air. Nobody spoke.", segments[0].Text)
}

func TestSplitSegments_NarrationSplitByDialogue(t *testing.T) {
	content := `Before.
**ARIA**: Hello.
After one.
After two.`

	segments := newAssembler(t).SplitSegments(content)

	require.Len(t, segments, 3)
	assert.Equal(t, models.SegmentNarration, segments[0].Type)
	assert.Equal(t, models.SegmentDialogue, segments[1].Type)
	assert.Equal(t, "After one. After two.", segments[2].Text)
}

func TestSplitSegments_EmptyContent(t *testing.T) {
	assert.Empty(t, newAssembler(t).SplitSegments("   \n\n  "))
}

func TestAssignVoices_DeterministicAndGenderAware(t *testing.T) {
	a := newAssembler(t)
	characters := []models.Character{
		{Name: "Aria", Appearance: models.Appearance{Gender: "female"}},
		{Name: "John", Appearance: models.Appearance{Gender: "male"}},
		{Name: "Riven"},
	}

	first := a.AssignVoices(characters)
	second := a.AssignVoices(characters)

	assert.Equal(t, first, second, "voice assignment is deterministic")
	require.Contains(t, first, "ARIA")
	require.Contains(t, first, "JOHN")
	require.Contains(t, first, "RIVEN")
	assert.Contains(t, []string{"nova", "shimmer", "fable"}, first["ARIA"])
	assert.Contains(t, []string{"onyx", "echo"}, first["JOHN"])
}

func TestBuildAudioRequest(t *testing.T) {
	a := newAssembler(t)
	scene := models.Scene{
		ID:      uuid.New(),
		Content: "A quiet morning.\n**ARIA**: Is anyone there?",
	}
	characters := []models.Character{
		{Name: "Aria", Appearance: models.Appearance{Gender: "female"}},
	}

	req := a.BuildAudioRequest(scene, characters)

	assert.Equal(t, scene.ID, req.SceneID)
	require.Len(t, req.Segments, 2)
	assert.Equal(t, assembly.NarratorVoice, req.NarratorVoice)
	assert.Contains(t, req.Voices, "ARIA")
}

func TestBuildVideoRequest_CarriesPromptAndDuration(t *testing.T) {
	a := newAssembler(t)
	scene := models.Scene{
		ID:           uuid.New(),
		VisualPrompt: "Aria in a dense forest, running",
		DurationSec:  45,
	}

	req := a.BuildVideoRequest(scene)

	assert.Equal(t, scene.ID, req.SceneID)
	assert.Equal(t, scene.VisualPrompt, req.Prompt)
	assert.Equal(t, 45, req.DurationSec)
}

func TestBuildPhotoRequest_PromptFromAppearance(t *testing.T) {
	a := newAssembler(t)
	ch := models.Character{
		ID:     uuid.New(),
		Name:   "Aria",
		Traits: []string{"brave", "curious"},
		Appearance: models.Appearance{
			Age:       27,
			Gender:    "female",
			HairColor: "auburn",
			EyeColor:  "green",
			Style:     "casual",
		},
	}

	req := a.BuildPhotoRequest(ch, "realistic")

	assert.Equal(t, ch.ID, req.CharacterID)
	assert.Equal(t, "realistic", req.Style)
	assert.Equal(t, ch.Appearance, req.Expected)
	for _, want := range []string{"portrait of Aria", "27 years old", "auburn hair", "green eyes", "brave"} {
		assert.Contains(t, req.Prompt, want)
	}
}

func TestTruncateToBudget_LongPromptShrinks(t *testing.T) {
	a := newAssembler(t)
	long := strings.Repeat("an extremely detailed description of the scenery ", 200)

	truncated := a.TruncateToBudget(long)

	assert.Less(t, len(truncated), len(long))
	short := "a short prompt"
	assert.Equal(t, short, a.TruncateToBudget(short))
}
