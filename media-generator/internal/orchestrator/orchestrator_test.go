package orchestrator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/orchestrator"
	"storyreel-server/media-generator/internal/provider"
	"storyreel-server/media-generator/internal/storage"
	"storyreel-server/media-generator/internal/validation"
	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
)

// fakeAdapter - программируемый провайдер для проверки логики каскада.
type fakeAdapter struct {
	name          string
	priority      int
	unconfigured  bool
	result        *provider.Result
	handle        *provider.AsyncJobHandle
	err           error
	pollOutcomes  []pollOutcome
	generateCalls int
	pollCalls     int
}

type pollOutcome struct {
	result *provider.Result
	err    error
}

func (f *fakeAdapter) Name() string                { return f.name }
func (f *fakeAdapter) Priority() int               { return f.priority }
func (f *fakeAdapter) CostTier() provider.CostTier { return provider.TierFree }
func (f *fakeAdapter) IsConfigured() bool          { return !f.unconfigured }

func (f *fakeAdapter) Generate(ctx context.Context, task messaging.GenerationTaskPayload) (*provider.Result, *provider.AsyncJobHandle, error) {
	f.generateCalls++
	return f.result, f.handle, f.err
}

func (f *fakeAdapter) Poll(ctx context.Context, handle provider.AsyncJobHandle) (*provider.Result, error) {
	f.pollCalls++
	step := f.pollOutcomes[0]
	if len(f.pollOutcomes) > 1 {
		f.pollOutcomes = f.pollOutcomes[1:]
	}
	return step.result, step.err
}

// urlScorer оценивает кандидата по фиксированной таблице URL -> уверенность.
type urlScorer struct {
	scores map[string]float64
}

func (s *urlScorer) Score(req models.PhotoRequest, artifactURL string) (float64, []string) {
	if score, ok := s.scores[artifactURL]; ok {
		return score, nil
	}
	return 1.0, nil
}

func newOrchestrator(t *testing.T, registry *provider.Registry, scorer validation.Scorer, opts orchestrator.Options) *orchestrator.Orchestrator {
	t.Helper()
	logger := zap.NewNop()
	store, err := storage.New(logger, t.TempDir(), "cdn.test/media")
	require.NoError(t, err)
	gate := validation.NewGate(logger, scorer, validation.DefaultThreshold)
	return orchestrator.New(logger, registry, gate, provider.NewFallback(logger, store), opts)
}

func photoTask() messaging.GenerationTaskPayload {
	return messaging.GenerationTaskPayload{
		TaskID:   "task-1",
		StoryID:  "story-1",
		TargetID: "char-1",
		Kind:     models.ArtifactPhoto,
		Photo: &models.PhotoRequest{
			CharacterName: "Aria",
			Prompt:        "portrait of Aria",
			Expected:      models.Appearance{Gender: "female"},
		},
	}
}

func fastOpts() orchestrator.Options {
	return orchestrator.Options{
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 5,
	}
}

func TestExecute_FirstProviderAccepted_StopsCascade(t *testing.T) {
	first := &fakeAdapter{name: "sana", priority: 1, result: &provider.Result{URL: "https://cdn.test/a.jpg"}}
	second := &fakeAdapter{name: "openai-image", priority: 2, result: &provider.Result{URL: "https://cdn.test/b.jpg"}}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, second)
	registry.Register(models.ArtifactPhoto, first)

	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())
	result := o.Execute(context.Background(), photoTask())

	assert.Equal(t, messaging.ResultStatusSuccess, result.Status)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "sana", result.Artifacts[0].Provider)
	assert.True(t, result.Artifacts[0].IsAccepted)
	require.NotNil(t, result.Artifacts[0].Validation)
	assert.Equal(t, 1, first.generateCalls)
	assert.Equal(t, 0, second.generateCalls, "providers after the accepted one must not be invoked")

	require.Len(t, result.AttemptLog, 1)
	assert.Equal(t, "accepted", result.AttemptLog[0].Outcome)
}

func TestExecute_UnconfiguredProviderSkipped(t *testing.T) {
	skipped := &fakeAdapter{name: "sana", priority: 1, unconfigured: true}
	accepted := &fakeAdapter{name: "pollinations", priority: 2, result: &provider.Result{URL: "https://cdn.test/a.jpg"}}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, skipped)
	registry.Register(models.ArtifactPhoto, accepted)

	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())
	result := o.Execute(context.Background(), photoTask())

	assert.Equal(t, messaging.ResultStatusSuccess, result.Status)
	assert.Equal(t, 0, skipped.generateCalls)
	require.Len(t, result.AttemptLog, 2)
	assert.Equal(t, "skipped", result.AttemptLog[0].Outcome)
	assert.Equal(t, "accepted", result.AttemptLog[1].Outcome)
}

func TestExecute_RejectedCandidateKeptInResult(t *testing.T) {
	first := &fakeAdapter{name: "sana", priority: 1, result: &provider.Result{URL: "https://cdn.test/bad.jpg"}}
	second := &fakeAdapter{name: "openai-image", priority: 2, result: &provider.Result{URL: "https://cdn.test/good.jpg"}}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, first)
	registry.Register(models.ArtifactPhoto, second)

	scorer := &urlScorer{scores: map[string]float64{
		"https://cdn.test/bad.jpg":  0.4,
		"https://cdn.test/good.jpg": 0.95,
	}}
	o := newOrchestrator(t, registry, scorer, fastOpts())
	result := o.Execute(context.Background(), photoTask())

	assert.Equal(t, messaging.ResultStatusSuccess, result.Status)
	require.Len(t, result.Artifacts, 2)

	assert.Equal(t, "sana", result.Artifacts[0].Provider)
	assert.False(t, result.Artifacts[0].IsAccepted)
	assert.True(t, result.Artifacts[0].NeedsRegeneration)
	require.NotNil(t, result.Artifacts[0].Validation)
	assert.False(t, result.Artifacts[0].Validation.IsValid)

	assert.Equal(t, "openai-image", result.Artifacts[1].Provider)
	assert.True(t, result.Artifacts[1].IsAccepted)

	require.Len(t, result.AttemptLog, 2)
	assert.Equal(t, "rejected", result.AttemptLog[0].Outcome)
	require.NotNil(t, result.AttemptLog[0].Confidence)
	assert.InDelta(t, 0.4, *result.AttemptLog[0].Confidence, 0.001)
	assert.Equal(t, "accepted", result.AttemptLog[1].Outcome)
}

func TestExecute_AllProvidersFail_FallbackUsed(t *testing.T) {
	first := &fakeAdapter{name: "sana", priority: 1, err: errors.New("connection refused")}
	second := &fakeAdapter{name: "openai-image", priority: 2, err: errors.New("rate limited")}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, first)
	registry.Register(models.ArtifactPhoto, second)

	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())
	result := o.Execute(context.Background(), photoTask())

	assert.Equal(t, messaging.ResultStatusSuccess, result.Status, "fallback is structurally successful")
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, provider.FallbackName, result.Artifacts[0].Provider)
	assert.False(t, result.Artifacts[0].IsAccepted, "library asset awaits user confirmation")
	// urlScorer принимает незнакомые URL: шлюз одобрил заглушку.
	require.NotNil(t, result.Artifacts[0].Validation)
	assert.True(t, result.Artifacts[0].Validation.IsValid)
	assert.False(t, result.Artifacts[0].NeedsRegeneration)

	require.Len(t, result.AttemptLog, 3)
	assert.Equal(t, "failed", result.AttemptLog[0].Outcome)
	assert.Equal(t, "failed", result.AttemptLog[1].Outcome)
	assert.Equal(t, provider.FallbackName, result.AttemptLog[2].Provider)
	assert.Equal(t, "fallback", result.AttemptLog[2].Outcome)
	assert.NotNil(t, result.AttemptLog[2].Confidence)
}

// rejectAllScorer отклоняет любой артефакт.
type rejectAllScorer struct{}

func (rejectAllScorer) Score(req models.PhotoRequest, artifactURL string) (float64, []string) {
	return 0, []string{"gender: expected female"}
}

func TestExecute_FallbackRegenerationReflectsGateVerdict(t *testing.T) {
	registry := provider.NewRegistry()
	o := newOrchestrator(t, registry, rejectAllScorer{}, fastOpts())

	result := o.Execute(context.Background(), photoTask())

	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, provider.FallbackName, result.Artifacts[0].Provider)
	assert.False(t, result.Artifacts[0].IsAccepted)
	assert.True(t, result.Artifacts[0].NeedsRegeneration)
	require.NotNil(t, result.Artifacts[0].Validation)
	assert.False(t, result.Artifacts[0].Validation.IsValid)
}

func TestExecute_FallbackDeterministicForSameCharacter(t *testing.T) {
	registry := provider.NewRegistry()
	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())

	first := o.Execute(context.Background(), photoTask())
	second := o.Execute(context.Background(), photoTask())

	require.Len(t, first.Artifacts, 1)
	require.Len(t, second.Artifacts, 1)
	assert.Equal(t, first.Artifacts[0].URL, second.Artifacts[0].URL)
}

func TestExecute_AsyncProviderPolledUntilDone(t *testing.T) {
	async := &fakeAdapter{
		name:     "pollinations",
		priority: 1,
		handle:   &provider.AsyncJobHandle{JobID: "job-42"},
		pollOutcomes: []pollOutcome{
			{err: provider.ErrJobPending},
			{err: provider.ErrJobPending},
			{result: &provider.Result{URL: "https://cdn.test/a.jpg"}},
		},
	}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, async)

	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())
	result := o.Execute(context.Background(), photoTask())

	assert.Equal(t, messaging.ResultStatusSuccess, result.Status)
	assert.Equal(t, 3, async.pollCalls)
	require.Len(t, result.Artifacts, 1)
	assert.Equal(t, "pollinations", result.Artifacts[0].Provider)
}

func TestExecute_PollTicksReportProgress(t *testing.T) {
	async := &fakeAdapter{
		name:     "pollinations",
		priority: 1,
		handle:   &provider.AsyncJobHandle{JobID: "job-7"},
		pollOutcomes: []pollOutcome{
			{err: provider.ErrJobPending},
			{err: provider.ErrJobPending},
			{result: &provider.Result{URL: "https://cdn.test/a.jpg"}},
		},
	}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, async)

	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())
	var updates []orchestrator.Progress
	o.SetProgressFunc(func(ctx context.Context, task messaging.GenerationTaskPayload, p orchestrator.Progress) {
		updates = append(updates, p)
	})

	result := o.Execute(context.Background(), photoTask())

	assert.Equal(t, messaging.ResultStatusSuccess, result.Status)
	require.Len(t, updates, 2, "each pending poll tick reports progress")
	assert.Greater(t, updates[0].Percent, 0)
	assert.Less(t, updates[0].Percent, 100)
	assert.Greater(t, updates[1].Percent, updates[0].Percent, "progress grows with consumed poll budget")
}

func TestExecuteBatch_ReportsCurrentItemAndTotal(t *testing.T) {
	adapter := &fakeAdapter{name: "sana", priority: 1, result: &provider.Result{URL: "https://cdn.test/a.jpg"}}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, adapter)

	taskA := photoTask()
	taskA.TaskID = "task-a"
	taskB := photoTask()
	taskB.TaskID = "task-b"

	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())
	type itemUpdate struct {
		taskID  string
		current int
		total   int
	}
	var updates []itemUpdate
	o.SetProgressFunc(func(ctx context.Context, task messaging.GenerationTaskPayload, p orchestrator.Progress) {
		updates = append(updates, itemUpdate{taskID: task.TaskID, current: p.CurrentItem, total: p.TotalItems})
	})

	o.ExecuteBatch(context.Background(), messaging.GenerationTaskBatchPayload{
		BatchID: "batch-3",
		Tasks:   []messaging.GenerationTaskPayload{taskA, taskB},
	}, func(messaging.GenerationResultPayload) {})

	require.Len(t, updates, 2)
	assert.Equal(t, itemUpdate{taskID: "task-a", current: 1, total: 2}, updates[0])
	assert.Equal(t, itemUpdate{taskID: "task-b", current: 2, total: 2}, updates[1])
}

func TestExecute_PollTimeoutMovesToNextProvider(t *testing.T) {
	stuck := &fakeAdapter{
		name:         "pollinations",
		priority:     1,
		handle:       &provider.AsyncJobHandle{JobID: "job-42"},
		pollOutcomes: []pollOutcome{{err: provider.ErrJobPending}},
	}
	next := &fakeAdapter{name: "openai-image", priority: 2, result: &provider.Result{URL: "https://cdn.test/a.jpg"}}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, stuck)
	registry.Register(models.ArtifactPhoto, next)

	opts := orchestrator.Options{PollInterval: time.Millisecond, PollMaxAttempts: 3}
	o := newOrchestrator(t, registry, &urlScorer{}, opts)
	result := o.Execute(context.Background(), photoTask())

	assert.Equal(t, messaging.ResultStatusSuccess, result.Status)
	assert.Equal(t, 3, stuck.pollCalls)
	require.Len(t, result.AttemptLog, 2)
	assert.Equal(t, "timeout", result.AttemptLog[0].Outcome)
	assert.Equal(t, "accepted", result.AttemptLog[1].Outcome)
	assert.Equal(t, "openai-image", result.Artifacts[0].Provider)
}

func TestExecute_ExcludedProviderNotInvoked(t *testing.T) {
	excluded := &fakeAdapter{name: "sana", priority: 1, result: &provider.Result{URL: "https://cdn.test/a.jpg"}}
	used := &fakeAdapter{name: "openai-image", priority: 2, result: &provider.Result{URL: "https://cdn.test/b.jpg"}}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, excluded)
	registry.Register(models.ArtifactPhoto, used)

	task := photoTask()
	task.ExcludeProviders = []string{"sana"}

	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())
	result := o.Execute(context.Background(), task)

	assert.Equal(t, 0, excluded.generateCalls)
	assert.Equal(t, 1, used.generateCalls)
	assert.Equal(t, "openai-image", result.Artifacts[0].Provider)
}

func TestExecute_AudioAcceptedWithoutValidation(t *testing.T) {
	speech := &fakeAdapter{name: "openai-speech", priority: 1, result: &provider.Result{URL: "https://cdn.test/scene.mp3"}}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactAudio, speech)

	task := messaging.GenerationTaskPayload{
		TaskID: "task-2",
		Kind:   models.ArtifactAudio,
		Audio: &models.AudioRequest{
			Segments: []models.NarrationSegment{{Text: "Hello", Type: models.SegmentNarration}},
		},
	}

	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())
	result := o.Execute(context.Background(), task)

	assert.Equal(t, messaging.ResultStatusSuccess, result.Status)
	require.Len(t, result.Artifacts, 1)
	assert.True(t, result.Artifacts[0].IsAccepted)
	assert.Nil(t, result.Artifacts[0].Validation)
}

func TestExecute_MalformedTaskReturnsError(t *testing.T) {
	o := newOrchestrator(t, provider.NewRegistry(), &urlScorer{}, fastOpts())

	result := o.Execute(context.Background(), messaging.GenerationTaskPayload{
		TaskID: "task-3",
		Kind:   models.ArtifactPhoto, // Photo request отсутствует
	})

	assert.Equal(t, messaging.ResultStatusError, result.Status)
	assert.Contains(t, result.ErrorDetails, "photo request is missing")
	assert.Empty(t, result.Artifacts)
}

func TestExecuteBatch_SequentialEmitsEachResult(t *testing.T) {
	adapter := &fakeAdapter{name: "sana", priority: 1, result: &provider.Result{URL: "https://cdn.test/a.jpg"}}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, adapter)

	taskA := photoTask()
	taskA.TaskID = "task-a"
	taskB := photoTask()
	taskB.TaskID = "task-b"

	o := newOrchestrator(t, registry, &urlScorer{}, orchestrator.Options{
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 5,
		BatchItemDelay:  time.Millisecond,
	})

	var emitted []messaging.GenerationResultPayload
	o.ExecuteBatch(context.Background(), messaging.GenerationTaskBatchPayload{
		BatchID: "batch-1",
		Tasks:   []messaging.GenerationTaskPayload{taskA, taskB},
	}, func(result messaging.GenerationResultPayload) {
		emitted = append(emitted, result)
	})

	require.Len(t, emitted, 2)
	assert.Equal(t, "task-a", emitted[0].TaskID)
	assert.Equal(t, "task-b", emitted[1].TaskID)
	assert.Equal(t, 2, adapter.generateCalls)
}

func TestExecuteBatch_CancelledContextFailsRemaining(t *testing.T) {
	adapter := &fakeAdapter{name: "sana", priority: 1, result: &provider.Result{URL: "https://cdn.test/a.jpg"}}
	registry := provider.NewRegistry()
	registry.Register(models.ArtifactPhoto, adapter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newOrchestrator(t, registry, &urlScorer{}, fastOpts())

	var emitted []messaging.GenerationResultPayload
	o.ExecuteBatch(ctx, messaging.GenerationTaskBatchPayload{
		BatchID: "batch-2",
		Tasks:   []messaging.GenerationTaskPayload{photoTask()},
	}, func(result messaging.GenerationResultPayload) {
		emitted = append(emitted, result)
	})

	require.Len(t, emitted, 1)
	assert.Equal(t, messaging.ResultStatusError, emitted[0].Status)
	assert.Equal(t, 0, adapter.generateCalls)
}
