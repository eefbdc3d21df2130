package models

import (
	"time"

	"github.com/google/uuid"
)

// ArtifactKind - тип генерируемого артефакта.
type ArtifactKind string

const (
	ArtifactPhoto ArtifactKind = "photo"
	ArtifactAudio ArtifactKind = "audio"
	ArtifactVideo ArtifactKind = "video"
)

// JobStatus - статус задачи генерации.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// ProviderAttempt - одна запись журнала попыток каскада провайдеров.
type ProviderAttempt struct {
	Provider   string    `json:"provider"`
	Outcome    string    `json:"outcome"` // accepted, rejected, failed, timeout, skipped, fallback
	Confidence *float64  `json:"confidence,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// GenerationJob отслеживает одну задачу генерации артефакта от постановки
// до терминального состояния. Переходами статуса управляет только
// оркестратор; терминальные состояния - completed и failed.
type GenerationJob struct {
	ID         uuid.UUID         `db:"id" json:"id"`
	StoryID    uuid.UUID         `db:"story_id" json:"storyId"`
	TargetID   uuid.UUID         `db:"target_id" json:"targetId"`
	Kind       ArtifactKind      `db:"kind" json:"kind"`
	Status     JobStatus         `db:"status" json:"status"`
	Progress   int               `db:"progress" json:"progress"`
	Attempts   []ProviderAttempt `db:"attempts" json:"attempts"`
	ResultURLs []string          `db:"result_urls" json:"resultUrls,omitempty"`
	Error      string            `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updatedAt"`
}

// IsTerminal сообщает, достигла ли задача терминального состояния.
func (j *GenerationJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// AdvanceProgress обновляет прогресс монотонно: регресс игнорируется,
// значение выше 99 до терминального состояния обрезается.
func (j *GenerationJob) AdvanceProgress(progress int) {
	if j.Status == JobStatusFailed {
		return
	}
	if progress > 99 && !j.IsTerminal() {
		progress = 99
	}
	if progress > j.Progress {
		j.Progress = progress
		j.UpdatedAt = time.Now()
	}
}

// Complete переводит задачу в completed и фиксирует результат.
func (j *GenerationJob) Complete(resultURLs []string) {
	j.Status = JobStatusCompleted
	j.Progress = 100
	j.ResultURLs = resultURLs
	j.UpdatedAt = time.Now()
}

// Fail переводит задачу в failed с описанием причины.
func (j *GenerationJob) Fail(reason string) {
	j.Status = JobStatusFailed
	j.Error = reason
	j.UpdatedAt = time.Now()
}

// RecordAttempt добавляет запись в журнал попыток.
func (j *GenerationJob) RecordAttempt(attempt ProviderAttempt) {
	if attempt.At.IsZero() {
		attempt.At = time.Now()
	}
	j.Attempts = append(j.Attempts, attempt)
	j.UpdatedAt = time.Now()
}
