package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"storyreel-server/shared/messaging"
)

// MockResultPublisher - мок публикации результатов генерации.
type MockResultPublisher struct {
	mock.Mock
}

func (m *MockResultPublisher) PublishGenerationResult(ctx context.Context, payload messaging.GenerationResultPayload) error {
	args := m.Called(ctx, payload)
	return args.Error(0)
}
