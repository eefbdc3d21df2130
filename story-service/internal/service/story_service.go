package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyreel-server/pkg/jobtracker"
	"storyreel-server/shared/interfaces"
	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
	"storyreel-server/story-service/internal/assembly"
	"storyreel-server/story-service/internal/extractor"
	"storyreel-server/story-service/internal/segmenter"
)

var (
	ErrEmptyStoryText = errors.New("story text is empty")
	ErrJobNotTerminal = errors.New("job is still running, retry is allowed only for finished jobs")
)

// TTL записи прогресса в кэше: дольше жить ей незачем, UI опрашивает
// только активные задачи.
const progressCacheTTL = 30 * time.Minute

// DecompositionResult - итог декомпозиции одной истории.
type DecompositionResult struct {
	StoryID    uuid.UUID          `json:"storyId"`
	Characters []models.Character `json:"characters"`
	Scenes     []models.Scene     `json:"scenes"`
}

// StoryService управляет жизненным циклом истории: декомпозиция, чтение
// сущностей, постановка задач генерации и прием их результатов.
type StoryService struct {
	characters    interfaces.CharacterRepository
	scenes        interfaces.SceneRepository
	jobs          interfaces.GenerationJobRepository
	progressCache interfaces.JobProgressCache
	publisher     messaging.TaskPublisher
	tracker       *jobtracker.Tracker

	extractor *extractor.Extractor
	segmenter *segmenter.Segmenter
	assembler *assembly.Assembler

	logger *zap.Logger
}

func NewStoryService(
	characters interfaces.CharacterRepository,
	scenes interfaces.SceneRepository,
	jobs interfaces.GenerationJobRepository,
	progressCache interfaces.JobProgressCache,
	publisher messaging.TaskPublisher,
	tracker *jobtracker.Tracker,
	ext *extractor.Extractor,
	seg *segmenter.Segmenter,
	asm *assembly.Assembler,
	logger *zap.Logger,
) *StoryService {
	return &StoryService{
		characters:    characters,
		scenes:        scenes,
		jobs:          jobs,
		progressCache: progressCache,
		publisher:     publisher,
		tracker:       tracker,
		extractor:     ext,
		segmenter:     seg,
		assembler:     asm,
		logger:        logger.Named("StoryService"),
	}
}

// DecomposeStory прогоняет текст через экстрактор и сегментатор, присваивает
// идентификаторы и сохраняет результат.
func (s *StoryService) DecomposeStory(ctx context.Context, text string) (*DecompositionResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyStoryText
	}

	storyID := uuid.New()
	characters := s.extractor.Extract(text)
	scenes := s.segmenter.Segment(text, characters)

	now := time.Now()
	for i := range characters {
		characters[i].ID = uuid.New()
		characters[i].StoryID = storyID
		characters[i].CreatedAt = now
		if err := s.characters.Create(ctx, &characters[i]); err != nil {
			return nil, fmt.Errorf("failed to save character %q: %w", characters[i].Name, err)
		}
	}

	for i := range scenes {
		scenes[i].ID = uuid.New()
		scenes[i].StoryID = storyID
		scenes[i].CreatedAt = now
	}
	if len(scenes) > 0 {
		if err := s.scenes.CreateBatch(ctx, scenes); err != nil {
			return nil, fmt.Errorf("failed to save scenes: %w", err)
		}
	}

	s.logger.Info("Story decomposed",
		zap.String("story_id", storyID.String()),
		zap.Int("characters", len(characters)),
		zap.Int("scenes", len(scenes)))

	return &DecompositionResult{
		StoryID:    storyID,
		Characters: characters,
		Scenes:     scenes,
	}, nil
}

func (s *StoryService) GetCharacter(ctx context.Context, id uuid.UUID) (*models.Character, error) {
	return s.characters.GetByID(ctx, id)
}

func (s *StoryService) ListCharacters(ctx context.Context, storyID uuid.UUID) ([]models.Character, error) {
	return s.characters.ListByStory(ctx, storyID)
}

func (s *StoryService) GetScene(ctx context.Context, id uuid.UUID) (*models.Scene, error) {
	return s.scenes.GetByID(ctx, id)
}

func (s *StoryService) ListScenes(ctx context.Context, storyID uuid.UUID) ([]models.Scene, error) {
	return s.scenes.ListByStory(ctx, storyID)
}

// SceneSegments возвращает сегменты озвучивания сцены для контроллера
// воспроизведения.
func (s *StoryService) SceneSegments(ctx context.Context, sceneID uuid.UUID) ([]models.NarrationSegment, error) {
	scene, err := s.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	return s.assembler.SplitSegments(scene.Content), nil
}

func (s *StoryService) ListJobs(ctx context.Context, storyID uuid.UUID) ([]models.GenerationJob, error) {
	return s.jobs.ListByStory(ctx, storyID)
}

// DeleteCharacter удаляет персонажа по явному запросу пользователя.
func (s *StoryService) DeleteCharacter(ctx context.Context, id uuid.UUID) error {
	return s.characters.Delete(ctx, id)
}

// SelectCharacterPhoto помечает фото с данным индексом как выбранное.
func (s *StoryService) SelectCharacterPhoto(ctx context.Context, characterID uuid.UUID, index int) error {
	character, err := s.characters.GetByID(ctx, characterID)
	if err != nil {
		return err
	}
	if err := character.SelectPhoto(index); err != nil {
		return err
	}
	return s.characters.UpdatePhotos(ctx, characterID, character.Photos)
}

// GeneratePhoto ставит задачу генерации портрета персонажа.
func (s *StoryService) GeneratePhoto(ctx context.Context, characterID uuid.UUID, style string, excludeProviders []string) (*models.GenerationJob, error) {
	character, err := s.characters.GetByID(ctx, characterID)
	if err != nil {
		return nil, err
	}

	req := s.assembler.BuildPhotoRequest(*character, style)
	return s.enqueue(ctx, character.StoryID, character.ID, models.ArtifactPhoto, &messaging.GenerationTaskPayload{
		Photo:            &req,
		ExcludeProviders: excludeProviders,
	})
}

// GenerateAllPhotos ставит пакет задач: по портрету на каждого персонажа
// истории. Пакет публикуется одним сообщением и обрабатывается воркером
// строго последовательно.
func (s *StoryService) GenerateAllPhotos(ctx context.Context, storyID uuid.UUID, style string) ([]models.GenerationJob, error) {
	characters, err := s.characters.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	tasks := make([]messaging.GenerationTaskPayload, 0, len(characters))
	jobs := make([]*models.GenerationJob, 0, len(characters))
	for i := range characters {
		req := s.assembler.BuildPhotoRequest(characters[i], style)
		job, err := s.createJob(ctx, storyID, characters[i].ID, models.ArtifactPhoto)
		if err != nil {
			return nil, fmt.Errorf("failed to create photo job for %q: %w", characters[i].Name, err)
		}
		tasks = append(tasks, messaging.GenerationTaskPayload{
			TaskID:   job.ID.String(),
			StoryID:  storyID.String(),
			TargetID: characters[i].ID.String(),
			Kind:     models.ArtifactPhoto,
			Photo:    &req,
		})
		jobs = append(jobs, job)
	}

	return s.publishBatch(ctx, storyID, tasks, jobs)
}

// GenerateAudio ставит задачу озвучивания одной сцены.
func (s *StoryService) GenerateAudio(ctx context.Context, sceneID uuid.UUID, excludeProviders []string) (*models.GenerationJob, error) {
	scene, err := s.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return nil, err
	}
	characters, err := s.characters.ListByStory(ctx, scene.StoryID)
	if err != nil {
		return nil, err
	}

	req := s.assembler.BuildAudioRequest(*scene, characters)
	return s.enqueue(ctx, scene.StoryID, scene.ID, models.ArtifactAudio, &messaging.GenerationTaskPayload{
		Audio:            &req,
		ExcludeProviders: excludeProviders,
	})
}

// GenerateVideo ставит задачу генерации видео одной сцены.
func (s *StoryService) GenerateVideo(ctx context.Context, sceneID uuid.UUID, excludeProviders []string) (*models.GenerationJob, error) {
	scene, err := s.scenes.GetByID(ctx, sceneID)
	if err != nil {
		return nil, err
	}

	req := s.assembler.BuildVideoRequest(*scene)
	return s.enqueue(ctx, scene.StoryID, scene.ID, models.ArtifactVideo, &messaging.GenerationTaskPayload{
		Video:            &req,
		ExcludeProviders: excludeProviders,
	})
}

// GenerateAllAudio ставит пакет задач озвучивания: по одной на каждую
// сцену истории, одним сообщением в очередь.
func (s *StoryService) GenerateAllAudio(ctx context.Context, storyID uuid.UUID) ([]models.GenerationJob, error) {
	scenes, err := s.scenes.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}
	characters, err := s.characters.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	tasks := make([]messaging.GenerationTaskPayload, 0, len(scenes))
	jobs := make([]*models.GenerationJob, 0, len(scenes))
	for i := range scenes {
		req := s.assembler.BuildAudioRequest(scenes[i], characters)
		job, err := s.createJob(ctx, storyID, scenes[i].ID, models.ArtifactAudio)
		if err != nil {
			return nil, fmt.Errorf("failed to create audio job for scene %d: %w", scenes[i].Order, err)
		}
		tasks = append(tasks, messaging.GenerationTaskPayload{
			TaskID:   job.ID.String(),
			StoryID:  storyID.String(),
			TargetID: scenes[i].ID.String(),
			Kind:     models.ArtifactAudio,
			Audio:    &req,
		})
		jobs = append(jobs, job)
	}

	return s.publishBatch(ctx, storyID, tasks, jobs)
}

// GenerateAllVideo ставит пакет задач генерации видео по всем сценам
// истории одним сообщением.
func (s *StoryService) GenerateAllVideo(ctx context.Context, storyID uuid.UUID) ([]models.GenerationJob, error) {
	scenes, err := s.scenes.ListByStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	tasks := make([]messaging.GenerationTaskPayload, 0, len(scenes))
	jobs := make([]*models.GenerationJob, 0, len(scenes))
	for i := range scenes {
		req := s.assembler.BuildVideoRequest(scenes[i])
		job, err := s.createJob(ctx, storyID, scenes[i].ID, models.ArtifactVideo)
		if err != nil {
			return nil, fmt.Errorf("failed to create video job for scene %d: %w", scenes[i].Order, err)
		}
		tasks = append(tasks, messaging.GenerationTaskPayload{
			TaskID:   job.ID.String(),
			StoryID:  storyID.String(),
			TargetID: scenes[i].ID.String(),
			Kind:     models.ArtifactVideo,
			Video:    &req,
		})
		jobs = append(jobs, job)
	}

	return s.publishBatch(ctx, storyID, tasks, jobs)
}

// GetJob возвращает задачу генерации, обогащая ее свежим прогрессом из
// кэша, когда он там есть.
func (s *StoryService) GetJob(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	status, progress, err := s.progressCache.GetProgress(ctx, jobID)
	if err == nil && !job.IsTerminal() {
		job.Status = status
		job.AdvanceProgress(progress)
	}
	return job, nil
}

// RetryJob перезапускает задачу с временным исключением провайдеров,
// например после отклонения результата пользователем. Возвращает новую
// задачу: старая остается в журнале как есть.
func (s *StoryService) RetryJob(ctx context.Context, jobID uuid.UUID, excludeProviders []string) (*models.GenerationJob, error) {
	previous, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !previous.IsTerminal() {
		return nil, ErrJobNotTerminal
	}

	switch previous.Kind {
	case models.ArtifactPhoto:
		return s.GeneratePhoto(ctx, previous.TargetID, "", excludeProviders)
	case models.ArtifactAudio:
		return s.GenerateAudio(ctx, previous.TargetID, excludeProviders)
	case models.ArtifactVideo:
		return s.GenerateVideo(ctx, previous.TargetID, excludeProviders)
	default:
		return nil, fmt.Errorf("unknown artifact kind %q", previous.Kind)
	}
}

// HandleResult применяет результат генерации: обновляет задачу, прикрепляет
// артефакты к владельцу и уведомляет подписчиков прогресса. Промежуточные
// processing-сообщения двигают прогресс задачи без прикрепления артефактов.
func (s *StoryService) HandleResult(ctx context.Context, payload messaging.GenerationResultPayload) error {
	jobID, err := uuid.Parse(payload.TaskID)
	if err != nil {
		return fmt.Errorf("malformed task id %q: %w", payload.TaskID, err)
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job %s: %w", jobID, err)
	}

	if payload.Status == messaging.ResultStatusProcessing {
		return s.applyProgress(ctx, job, payload)
	}

	job.Attempts = payload.AttemptLog

	if payload.Status == messaging.ResultStatusError {
		job.Fail(payload.ErrorDetails)
		s.tracker.Fail(jobID, payload.ErrorDetails)
	} else {
		urls := make([]string, 0, len(payload.Artifacts))
		for _, a := range payload.Artifacts {
			urls = append(urls, a.URL)
		}
		if err := s.attachArtifacts(ctx, job, payload.Artifacts); err != nil {
			return err
		}
		job.Complete(urls)
		s.tracker.Complete(jobID, urls)
	}

	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to update job %s: %w", jobID, err)
	}
	if err := s.progressCache.SetProgress(ctx, jobID, job.Status, job.Progress, progressCacheTTL); err != nil {
		s.logger.Warn("Failed to cache job progress", zap.Error(err))
	}

	s.logger.Info("Generation result applied",
		zap.String("job_id", jobID.String()),
		zap.String("kind", string(job.Kind)),
		zap.String("status", string(job.Status)))
	return nil
}

// applyProgress двигает задачу в processing и обновляет прогресс в БД,
// кэше и трекере. Запоздавший прогресс после терминала отбрасывается.
func (s *StoryService) applyProgress(ctx context.Context, job *models.GenerationJob, payload messaging.GenerationResultPayload) error {
	if job.IsTerminal() {
		s.logger.Debug("Ignoring progress update for finished job",
			zap.String("job_id", job.ID.String()))
		return nil
	}

	job.Status = models.JobStatusProcessing
	job.AdvanceProgress(payload.Progress)
	if err := s.jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if err := s.progressCache.SetProgress(ctx, job.ID, job.Status, job.Progress, progressCacheTTL); err != nil {
		s.logger.Warn("Failed to cache job progress", zap.Error(err))
	}
	s.tracker.Update(job.ID, models.JobStatusProcessing, job.Progress, payload.CurrentItem, "")
	return nil
}

func (s *StoryService) attachArtifacts(ctx context.Context, job *models.GenerationJob, artifacts []messaging.ArtifactRecord) error {
	switch job.Kind {
	case models.ArtifactPhoto:
		character, err := s.characters.GetByID(ctx, job.TargetID)
		if err != nil {
			return err
		}
		for _, a := range artifacts {
			character.AddPhoto(models.CharacterPhoto{
				URL:               a.URL,
				Provider:          a.Provider,
				Style:             a.Style,
				Validation:        a.Validation,
				IsAccepted:        a.IsAccepted,
				NeedsRegeneration: a.NeedsRegeneration,
			})
		}
		return s.characters.UpdatePhotos(ctx, job.TargetID, character.Photos)

	case models.ArtifactAudio, models.ArtifactVideo:
		if len(artifacts) == 0 {
			return nil
		}
		a := artifacts[0]
		artifact := &models.MediaArtifact{
			URL:               a.URL,
			Provider:          a.Provider,
			Style:             a.Style,
			Validation:        a.Validation,
			IsAccepted:        a.IsAccepted,
			NeedsRegeneration: a.NeedsRegeneration,
		}
		if job.Kind == models.ArtifactAudio {
			return s.scenes.UpdateAudio(ctx, job.TargetID, artifact)
		}
		return s.scenes.UpdateVideo(ctx, job.TargetID, artifact)

	default:
		return fmt.Errorf("unknown artifact kind %q", job.Kind)
	}
}

// createJob создает запись задачи генерации в статусе pending.
func (s *StoryService) createJob(ctx context.Context, storyID, targetID uuid.UUID, kind models.ArtifactKind) (*models.GenerationJob, error) {
	now := time.Now()
	job := &models.GenerationJob{
		ID:        uuid.New(),
		StoryID:   storyID,
		TargetID:  targetID,
		Kind:      kind,
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create generation job: %w", err)
	}
	return job, nil
}

// publishBatch публикует пакет задач одним сообщением и регистрирует
// каждую задачу в трекере. При ошибке публикации все задачи пакета
// помечаются проваленными.
func (s *StoryService) publishBatch(ctx context.Context, storyID uuid.UUID, tasks []messaging.GenerationTaskPayload, jobs []*models.GenerationJob) ([]models.GenerationJob, error) {
	if len(tasks) == 0 {
		return nil, nil
	}

	batch := messaging.GenerationTaskBatchPayload{
		BatchID: uuid.NewString(),
		Tasks:   tasks,
	}
	if err := s.publisher.PublishGenerationTaskBatch(ctx, batch); err != nil {
		for _, job := range jobs {
			job.Fail("failed to publish task batch: " + err.Error())
			if updateErr := s.jobs.Update(ctx, job); updateErr != nil {
				s.logger.Error("Failed to mark job as failed", zap.Error(updateErr))
			}
		}
		return nil, fmt.Errorf("failed to publish generation task batch: %w", err)
	}

	result := make([]models.GenerationJob, 0, len(jobs))
	for _, job := range jobs {
		s.tracker.Register(job.ID, job.Kind, storyID.String(), len(jobs))
		if err := s.progressCache.SetProgress(ctx, job.ID, job.Status, 0, progressCacheTTL); err != nil {
			s.logger.Warn("Failed to cache job progress", zap.Error(err))
		}
		result = append(result, *job)
	}

	s.logger.Info("Generation task batch enqueued",
		zap.String("batch_id", batch.BatchID),
		zap.Int("tasks", len(tasks)),
		zap.String("story_id", storyID.String()))
	return result, nil
}

// enqueue создает задачу в БД, регистрирует ее в трекере и публикует
// сообщение в очередь.
func (s *StoryService) enqueue(ctx context.Context, storyID, targetID uuid.UUID, kind models.ArtifactKind, payload *messaging.GenerationTaskPayload) (*models.GenerationJob, error) {
	job, err := s.createJob(ctx, storyID, targetID, kind)
	if err != nil {
		return nil, err
	}

	payload.TaskID = job.ID.String()
	payload.StoryID = storyID.String()
	payload.TargetID = targetID.String()
	payload.Kind = kind

	if err := s.publisher.PublishGenerationTask(ctx, *payload); err != nil {
		job.Fail("failed to publish task: " + err.Error())
		if updateErr := s.jobs.Update(ctx, job); updateErr != nil {
			s.logger.Error("Failed to mark job as failed", zap.Error(updateErr))
		}
		return nil, fmt.Errorf("failed to publish generation task: %w", err)
	}

	s.tracker.Register(job.ID, kind, storyID.String(), 1)
	if err := s.progressCache.SetProgress(ctx, job.ID, job.Status, 0, progressCacheTTL); err != nil {
		s.logger.Warn("Failed to cache job progress", zap.Error(err))
	}

	s.logger.Info("Generation task enqueued",
		zap.String("job_id", job.ID.String()),
		zap.String("kind", string(kind)),
		zap.String("target_id", targetID.String()))
	return job, nil
}
