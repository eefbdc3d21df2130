package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/validation"
	"storyreel-server/shared/models"
)

type fixedScorer struct {
	confidence float64
	mismatches []string
}

func (s *fixedScorer) Score(req models.PhotoRequest, artifactURL string) (float64, []string) {
	return s.confidence, s.mismatches
}

func photoRequest() models.PhotoRequest {
	return models.PhotoRequest{
		CharacterName: "Aria",
		Prompt:        "portrait of Aria, female, red hair, green eyes, casual style",
		Expected: models.Appearance{
			Gender:    "female",
			HairColor: "red",
			EyeColor:  "green",
			Style:     "casual",
		},
	}
}

func TestGate_AcceptsAtThreshold(t *testing.T) {
	gate := validation.NewGate(zap.NewNop(), &fixedScorer{confidence: 0.70}, 0.70)

	result := gate.Check(photoRequest(), "https://cdn.test/a.jpg")

	assert.True(t, result.IsValid)
	assert.InDelta(t, 0.70, result.Confidence, 0.001)
	assert.False(t, result.CheckedAt.IsZero())
}

func TestGate_RejectsBelowThreshold(t *testing.T) {
	gate := validation.NewGate(zap.NewNop(), &fixedScorer{
		confidence: 0.5,
		mismatches: []string{"hairColor: expected red"},
	}, 0.70)

	result := gate.Check(photoRequest(), "https://cdn.test/a.jpg")

	assert.False(t, result.IsValid)
	assert.Equal(t, []string{"hairColor: expected red"}, result.Mismatches)
}

func TestGate_ZeroThresholdUsesDefault(t *testing.T) {
	gate := validation.NewGate(zap.NewNop(), &fixedScorer{confidence: 0.69}, 0)

	result := gate.Check(photoRequest(), "https://cdn.test/a.jpg")

	assert.False(t, result.IsValid, "0.69 is below the default threshold")
}

func TestHeuristicScorer_Deterministic(t *testing.T) {
	scorer := validation.NewHeuristicScorer()
	req := photoRequest()

	firstConf, firstMismatches := scorer.Score(req, "https://cdn.test/a.jpg")
	secondConf, secondMismatches := scorer.Score(req, "https://cdn.test/a.jpg")

	assert.Equal(t, firstConf, secondConf)
	assert.Equal(t, firstMismatches, secondMismatches)
}

func TestHeuristicScorer_DifferentArtifactsScoreIndependently(t *testing.T) {
	scorer := validation.NewHeuristicScorer()
	req := photoRequest()

	// Разные артефакты оцениваются независимо; диапазон уверенности
	// всегда в пределах [0,1].
	urls := []string{
		"https://cdn.test/a.jpg",
		"https://cdn.test/b.jpg",
		"https://cdn.test/c.jpg",
	}
	for _, url := range urls {
		conf, mismatches := scorer.Score(req, url)
		assert.GreaterOrEqual(t, conf, 0.0)
		assert.LessOrEqual(t, conf, 1.0)
		for _, mismatch := range mismatches {
			assert.Contains(t, mismatch, "expected")
		}
	}
}

func TestHeuristicScorer_NoExpectedAttributesAlwaysValid(t *testing.T) {
	scorer := validation.NewHeuristicScorer()

	conf, mismatches := scorer.Score(models.PhotoRequest{
		CharacterName: "Stranger",
		Prompt:        "portrait of a stranger",
	}, "https://cdn.test/a.jpg")

	assert.Equal(t, 1.0, conf)
	assert.Empty(t, mismatches)
}

func TestHeuristicScorer_MismatchesNamedByAttribute(t *testing.T) {
	scorer := validation.NewHeuristicScorer()
	req := models.PhotoRequest{
		CharacterName: "Aria",
		// Атрибуты не упомянуты в промпте: доля отказов существенно выше.
		Prompt: "portrait",
		Expected: models.Appearance{
			Gender:    "female",
			HairColor: "red",
			EyeColor:  "green",
			Style:     "casual",
		},
	}

	_, mismatches := scorer.Score(req, "https://cdn.test/a.jpg")
	for _, mismatch := range mismatches {
		require.Contains(t, mismatch, ": expected ")
	}
}
