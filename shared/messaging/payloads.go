package messaging

import (
	"storyreel-server/shared/models"
)

// GenerationTaskPayload - структура сообщения для задачи генерации медиа.
// Ровно одно из полей Photo/Audio/Video заполнено в соответствии с Kind.
type GenerationTaskPayload struct {
	TaskID   string              `json:"taskId"`
	StoryID  string              `json:"storyId"`
	TargetID string              `json:"targetId"` // ID персонажа или сцены
	Kind     models.ArtifactKind `json:"kind"`

	Photo *models.PhotoRequest `json:"photo,omitempty"`
	Audio *models.AudioRequest `json:"audio,omitempty"`
	Video *models.VideoRequest `json:"video,omitempty"`

	// ExcludeProviders - провайдеры, временно исключенные из каскада
	// (повтор после отклонения результата пользователем).
	ExcludeProviders []string `json:"excludeProviders,omitempty"`
}

// GenerationTaskBatchPayload - пакет задач генерации, обрабатываемый
// воркером строго последовательно с паузой между элементами.
type GenerationTaskBatchPayload struct {
	BatchID string                  `json:"batchId"`
	Tasks   []GenerationTaskPayload `json:"tasks"`
}

// ResultStatus определяет исход задачи генерации. Помимо терминальных
// статусов воркер публикует промежуточные processing-сообщения с
// прогрессом выполнения.
type ResultStatus string

const (
	ResultStatusSuccess    ResultStatus = "success"
	ResultStatusError      ResultStatus = "error"
	ResultStatusProcessing ResultStatus = "processing"
)

// ArtifactRecord - запись о сгенерированном артефакте в результате задачи.
type ArtifactRecord struct {
	URL               string                   `json:"url"`
	Provider          string                   `json:"provider"`
	Style             string                   `json:"style,omitempty"`
	Validation        *models.ValidationResult `json:"validation,omitempty"`
	IsAccepted        bool                     `json:"isAccepted"`
	NeedsRegeneration bool                     `json:"needsRegeneration,omitempty"`
}

// GenerationResultPayload - сообщение с результатом задачи генерации.
// Терминальное сообщение публикуется ровно один раз на задачу: либо
// success с артефактами, либо error с деталями (полное исчерпание каскада
// вместе с оффлайн фолбэком сюда не попадает - фолбэк структурно успешен).
// До терминала воркер может публиковать processing-сообщения: Progress
// растет по тикам опроса провайдера, CurrentItem/TotalItems сообщают
// позицию задачи внутри пакета.
type GenerationResultPayload struct {
	TaskID       string                   `json:"taskId"`
	StoryID      string                   `json:"storyId"`
	TargetID     string                   `json:"targetId"`
	Kind         models.ArtifactKind      `json:"kind"`
	Status       ResultStatus             `json:"status"`
	Progress     int                      `json:"progress,omitempty"`
	CurrentItem  int                      `json:"currentItem,omitempty"`
	TotalItems   int                      `json:"totalItems,omitempty"`
	Artifacts    []ArtifactRecord         `json:"artifacts,omitempty"`
	AttemptLog   []models.ProviderAttempt `json:"attemptLog,omitempty"`
	ErrorDetails string                   `json:"errorDetails,omitempty"`
}
