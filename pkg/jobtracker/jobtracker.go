// Package jobtracker отслеживает состояние задач генерации в памяти
// процесса и рассылает обновления прогресса подписчикам (WebSocket).
// Источник истины по задачам - Postgres; трекер держит только живое
// представление для push-уведомлений и быстрых ответов на опрос.
package jobtracker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"storyreel-server/shared/models"
)

// Notifier получает обновления прогресса для доставки клиентам.
type Notifier interface {
	SendToClient(clientID string, update ProgressUpdate)
	Broadcast(update ProgressUpdate)
}

// ProgressUpdate - снимок состояния задачи, отправляемый подписчикам.
type ProgressUpdate struct {
	JobID       uuid.UUID           `json:"jobId"`
	Kind        models.ArtifactKind `json:"kind"`
	Status      models.JobStatus    `json:"status"`
	Progress    int                 `json:"progress"`
	CurrentItem int                 `json:"currentItem,omitempty"`
	TotalItems  int                 `json:"totalItems,omitempty"`
	Message     string              `json:"message,omitempty"`
	ResultURLs  []string            `json:"resultUrls,omitempty"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// Tracker хранит состояние активных задач. Каждая задача принадлежит
// одному клиенту (owner), которому адресуются уведомления.
type Tracker struct {
	mu       sync.RWMutex
	jobs     map[uuid.UUID]ProgressUpdate
	owners   map[uuid.UUID]string
	notifier Notifier
}

// New создает пустой трекер.
func New() *Tracker {
	return &Tracker{
		jobs:   make(map[uuid.UUID]ProgressUpdate),
		owners: make(map[uuid.UUID]string),
	}
}

// SetNotifier подключает рассылку уведомлений. Допустим nil.
func (t *Tracker) SetNotifier(n Notifier) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notifier = n
}

// Register регистрирует новую задачу в статусе pending.
func (t *Tracker) Register(jobID uuid.UUID, kind models.ArtifactKind, ownerID string, totalItems int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.jobs[jobID] = ProgressUpdate{
		JobID:      jobID,
		Kind:       kind,
		Status:     models.JobStatusPending,
		TotalItems: totalItems,
		UpdatedAt:  time.Now(),
	}
	if ownerID != "" {
		t.owners[jobID] = ownerID
	}
}

// Update применяет обновление прогресса. Прогресс монотонен: значение
// меньше текущего игнорируется, выше 99 до терминального статуса
// обрезается.
func (t *Tracker) Update(jobID uuid.UUID, status models.JobStatus, progress int, currentItem int, message string) {
	t.mu.Lock()
	update, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}

	terminal := status == models.JobStatusCompleted || status == models.JobStatusFailed
	if progress > 99 && !terminal {
		progress = 99
	}
	if progress > update.Progress {
		update.Progress = progress
	}
	update.Status = status
	if currentItem > update.CurrentItem {
		update.CurrentItem = currentItem
	}
	update.Message = message
	update.UpdatedAt = time.Now()
	t.jobs[jobID] = update

	notifier := t.notifier
	owner := t.owners[jobID]
	t.mu.Unlock()

	t.notify(notifier, owner, update)
}

// Complete переводит задачу в completed с результатами.
func (t *Tracker) Complete(jobID uuid.UUID, resultURLs []string) {
	t.mu.Lock()
	update, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	update.Status = models.JobStatusCompleted
	update.Progress = 100
	update.ResultURLs = resultURLs
	update.UpdatedAt = time.Now()
	t.jobs[jobID] = update

	notifier := t.notifier
	owner := t.owners[jobID]
	t.mu.Unlock()

	t.notify(notifier, owner, update)
}

// Fail переводит задачу в failed с описанием причины.
func (t *Tracker) Fail(jobID uuid.UUID, message string) {
	t.mu.Lock()
	update, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		return
	}
	update.Status = models.JobStatusFailed
	update.Message = message
	update.UpdatedAt = time.Now()
	t.jobs[jobID] = update

	notifier := t.notifier
	owner := t.owners[jobID]
	t.mu.Unlock()

	t.notify(notifier, owner, update)
}

// Get возвращает снимок состояния задачи.
func (t *Tracker) Get(jobID uuid.UUID) (ProgressUpdate, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	update, ok := t.jobs[jobID]
	return update, ok
}

// Cleanup удаляет терминальные задачи старше age.
func (t *Tracker) Cleanup(age time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-age)
	for id, update := range t.jobs {
		terminal := update.Status == models.JobStatusCompleted || update.Status == models.JobStatusFailed
		if terminal && update.UpdatedAt.Before(cutoff) {
			delete(t.jobs, id)
			delete(t.owners, id)
		}
	}
}

func (t *Tracker) notify(notifier Notifier, owner string, update ProgressUpdate) {
	log.Debug().
		Str("job_id", update.JobID.String()).
		Str("status", string(update.Status)).
		Int("progress", update.Progress).
		Msg("job progress updated")

	if notifier == nil {
		return
	}
	if owner != "" {
		notifier.SendToClient(owner, update)
	} else {
		notifier.Broadcast(update)
	}
}
