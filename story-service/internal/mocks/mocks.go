// Package mocks содержит ручные testify-моки репозиториев и издателя
// задач для юнит-тестов сервисного слоя.
package mocks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
)

type MockCharacterRepository struct {
	mock.Mock
}

func (m *MockCharacterRepository) Create(ctx context.Context, character *models.Character) error {
	args := m.Called(ctx, character)
	return args.Error(0)
}

func (m *MockCharacterRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Character, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Character), args.Error(1)
}

func (m *MockCharacterRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Character, error) {
	args := m.Called(ctx, storyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Character), args.Error(1)
}

func (m *MockCharacterRepository) UpdatePhotos(ctx context.Context, id uuid.UUID, photos []models.CharacterPhoto) error {
	args := m.Called(ctx, id, photos)
	return args.Error(0)
}

func (m *MockCharacterRepository) Delete(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockSceneRepository struct {
	mock.Mock
}

func (m *MockSceneRepository) CreateBatch(ctx context.Context, scenes []models.Scene) error {
	args := m.Called(ctx, scenes)
	return args.Error(0)
}

func (m *MockSceneRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Scene, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Scene), args.Error(1)
}

func (m *MockSceneRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.Scene, error) {
	args := m.Called(ctx, storyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Scene), args.Error(1)
}

func (m *MockSceneRepository) UpdateAudio(ctx context.Context, id uuid.UUID, artifact *models.MediaArtifact) error {
	args := m.Called(ctx, id, artifact)
	return args.Error(0)
}

func (m *MockSceneRepository) UpdateVideo(ctx context.Context, id uuid.UUID, artifact *models.MediaArtifact) error {
	args := m.Called(ctx, id, artifact)
	return args.Error(0)
}

type MockGenerationJobRepository struct {
	mock.Mock
}

func (m *MockGenerationJobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockGenerationJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.GenerationJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GenerationJob), args.Error(1)
}

func (m *MockGenerationJobRepository) Update(ctx context.Context, job *models.GenerationJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockGenerationJobRepository) ListByStory(ctx context.Context, storyID uuid.UUID) ([]models.GenerationJob, error) {
	args := m.Called(ctx, storyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GenerationJob), args.Error(1)
}

type MockJobProgressCache struct {
	mock.Mock
}

func (m *MockJobProgressCache) SetProgress(ctx context.Context, jobID uuid.UUID, status models.JobStatus, progress int, ttl time.Duration) error {
	args := m.Called(ctx, jobID, status, progress, ttl)
	return args.Error(0)
}

func (m *MockJobProgressCache) GetProgress(ctx context.Context, jobID uuid.UUID) (models.JobStatus, int, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(models.JobStatus), args.Int(1), args.Error(2)
}

type MockTaskPublisher struct {
	mock.Mock
}

func (m *MockTaskPublisher) PublishGenerationTask(ctx context.Context, payload messaging.GenerationTaskPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

func (m *MockTaskPublisher) PublishGenerationTaskBatch(ctx context.Context, payload messaging.GenerationTaskBatchPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}

type MockResultPublisher struct {
	mock.Mock
}

func (m *MockResultPublisher) PublishGenerationResult(ctx context.Context, payload messaging.GenerationResultPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}
