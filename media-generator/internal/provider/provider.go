package provider

import (
	"context"
	"errors"
	"sort"

	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
)

// CostTier - ценовой уровень провайдера. Каскад предпочитает бесплатные
// провайдеры платным при равном приоритете.
type CostTier string

const (
	TierFree     CostTier = "free"
	TierFreemium CostTier = "freemium"
	TierPaid     CostTier = "paid"
)

// ErrNotConfigured - провайдер не настроен (нет ключа/URL) и должен быть
// пропущен каскадом без попытки вызова.
var ErrNotConfigured = errors.New("provider is not configured")

// ErrJobPending - асинхронная задача провайдера еще выполняется.
var ErrJobPending = errors.New("provider job is still pending")

// Result - готовый артефакт, возвращенный провайдером.
type Result struct {
	URL   string
	Style string
}

// AsyncJobHandle - идентификатор асинхронной задачи удаленного провайдера,
// которую нужно опрашивать до готовности.
type AsyncJobHandle struct {
	JobID string
}

// Adapter - единый интерфейс провайдера генерации. Синхронные провайдеры
// возвращают Result сразу; асинхронные возвращают AsyncJobHandle, и
// оркестратор опрашивает их через Poll.
type Adapter interface {
	Name() string
	// Priority определяет порядок в каскаде: меньше - раньше.
	Priority() int
	CostTier() CostTier
	// IsConfigured сообщает, можно ли вызывать провайдер. Ненастроенные
	// провайдеры каскад пропускает с записью "skipped" в журнале попыток.
	IsConfigured() bool
	// Generate выполняет задачу. Ровно одно из возвращаемых значений
	// Result/AsyncJobHandle непустое при nil-ошибке.
	Generate(ctx context.Context, task messaging.GenerationTaskPayload) (*Result, *AsyncJobHandle, error)
	// Poll проверяет состояние асинхронной задачи. Возвращает ErrJobPending,
	// пока задача не завершена. Синхронные провайдеры возвращают ошибку.
	Poll(ctx context.Context, handle AsyncJobHandle) (*Result, error)
}

// Registry хранит провайдеры по типу артефакта, отсортированные по
// приоритету каскада.
type Registry struct {
	byKind map[models.ArtifactKind][]Adapter
}

// NewRegistry создает пустой реестр провайдеров.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[models.ArtifactKind][]Adapter)}
}

// Register добавляет провайдер для данного типа артефакта.
func (r *Registry) Register(kind models.ArtifactKind, adapter Adapter) {
	adapters := append(r.byKind[kind], adapter)
	sort.SliceStable(adapters, func(i, j int) bool {
		return adapters[i].Priority() < adapters[j].Priority()
	})
	r.byKind[kind] = adapters
}

// Cascade возвращает провайдеров для типа артефакта в порядке приоритета,
// без исключенных по имени.
func (r *Registry) Cascade(kind models.ArtifactKind, exclude []string) []Adapter {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	adapters := r.byKind[kind]
	result := make([]Adapter, 0, len(adapters))
	for _, adapter := range adapters {
		if _, skip := excluded[adapter.Name()]; skip {
			continue
		}
		result = append(result, adapter)
	}
	return result
}
