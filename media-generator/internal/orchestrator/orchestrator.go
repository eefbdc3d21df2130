package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/provider"
	"storyreel-server/media-generator/internal/validation"
	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
)

// errPollTimeout - асинхронный провайдер не уложился в лимит опросов.
var errPollTimeout = errors.New("provider job polling timed out")

// Попытка каскада в терминах журнала ProviderAttempt.
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeTimeout  = "timeout"
	outcomeSkipped  = "skipped"
	outcomeFallback = "fallback"
)

// Options - настройки каскада и опроса.
type Options struct {
	PollInterval    time.Duration
	PollMaxAttempts int
	BatchItemDelay  time.Duration
}

// Progress - промежуточное состояние выполняемой задачи. Percent растет
// по тикам опроса асинхронного провайдера; CurrentItem/TotalItems
// заполняются при обработке пакета.
type Progress struct {
	Percent     int
	CurrentItem int
	TotalItems  int
	Message     string
}

// ProgressFunc получает промежуточный прогресс задачи.
type ProgressFunc func(ctx context.Context, task messaging.GenerationTaskPayload, p Progress)

// Orchestrator прогоняет задачу генерации через каскад провайдеров:
// провайдеры вызываются в порядке приоритета, портреты проходят
// валидационный шлюз, асинхронные задачи опрашиваются до готовности.
// Полное исчерпание каскада закрывается оффлайн-фолбэком, поэтому
// результат с ошибкой возможен только для некорректной задачи или при
// отмене контекста.
type Orchestrator struct {
	logger     *zap.Logger
	registry   *provider.Registry
	gate       *validation.Gate
	fallback   *provider.Fallback
	opts       Options
	onProgress ProgressFunc
}

// New создает оркестратор. Нулевые настройки опроса заменяются на
// значения по умолчанию (3 секунды, 60 попыток).
func New(logger *zap.Logger, registry *provider.Registry, gate *validation.Gate, fallback *provider.Fallback, opts Options) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 3 * time.Second
	}
	if opts.PollMaxAttempts <= 0 {
		opts.PollMaxAttempts = 60
	}
	return &Orchestrator{
		logger:   logger,
		registry: registry,
		gate:     gate,
		fallback: fallback,
		opts:     opts,
	}
}

// SetProgressFunc подключает получателя промежуточного прогресса.
// Допустим nil: прогресс тогда не рассылается.
func (o *Orchestrator) SetProgressFunc(fn ProgressFunc) {
	o.onProgress = fn
}

func (o *Orchestrator) reportProgress(ctx context.Context, task messaging.GenerationTaskPayload, p Progress) {
	if o.onProgress == nil {
		return
	}
	o.onProgress(ctx, task, p)
}

// Execute выполняет одну задачу генерации и возвращает результат.
func (o *Orchestrator) Execute(ctx context.Context, task messaging.GenerationTaskPayload) messaging.GenerationResultPayload {
	result := messaging.GenerationResultPayload{
		TaskID:   task.TaskID,
		StoryID:  task.StoryID,
		TargetID: task.TargetID,
		Kind:     task.Kind,
	}

	if err := validateTask(task); err != nil {
		result.Status = messaging.ResultStatusError
		result.ErrorDetails = err.Error()
		return result
	}

	log := o.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("kind", string(task.Kind)))

	var attempts []models.ProviderAttempt
	// Отклоненные шлюзом кандидаты сохраняются в результате: пользователь
	// может выбрать отклоненный портрет вручную.
	var rejected []messaging.ArtifactRecord

	for _, adapter := range o.registry.Cascade(task.Kind, task.ExcludeProviders) {
		providerLog := log.With(zap.String("provider", adapter.Name()))

		if !adapter.IsConfigured() {
			providerLog.Debug("Provider is not configured, skipping")
			attempts = append(attempts, attempt(adapter.Name(), outcomeSkipped, nil, ""))
			continue
		}

		providerLog.Info("Invoking provider", zap.String("cost_tier", string(adapter.CostTier())))
		res, handle, err := adapter.Generate(ctx, task)
		if err == nil && handle != nil {
			res, err = o.awaitJob(ctx, adapter, *handle, task, providerLog)
		}
		if err != nil {
			if ctx.Err() != nil {
				result.Status = messaging.ResultStatusError
				result.ErrorDetails = ctx.Err().Error()
				result.AttemptLog = attempts
				return result
			}
			outcome := outcomeFailed
			if errors.Is(err, errPollTimeout) {
				outcome = outcomeTimeout
			}
			providerLog.Warn("Provider attempt failed", zap.String("outcome", outcome), zap.Error(err))
			attempts = append(attempts, attempt(adapter.Name(), outcome, nil, err.Error()))
			continue
		}

		record := messaging.ArtifactRecord{
			URL:      res.URL,
			Provider: adapter.Name(),
			Style:    res.Style,
		}

		if task.Kind == models.ArtifactPhoto {
			check := o.gate.Check(*task.Photo, res.URL)
			record.Validation = &check
			if !check.IsValid {
				providerLog.Info("Portrait rejected by validation gate",
					zap.Float64("confidence", check.Confidence))
				attempts = append(attempts, attempt(adapter.Name(), outcomeRejected, &check.Confidence, ""))
				record.NeedsRegeneration = true
				rejected = append(rejected, record)
				continue
			}
			attempts = append(attempts, attempt(adapter.Name(), outcomeAccepted, &check.Confidence, ""))
		} else {
			attempts = append(attempts, attempt(adapter.Name(), outcomeAccepted, nil, ""))
		}

		providerLog.Info("Artifact accepted", zap.String("url", res.URL))
		record.IsAccepted = true
		result.Status = messaging.ResultStatusSuccess
		result.Artifacts = append(rejected, record)
		result.AttemptLog = attempts
		return result
	}

	// Каскад исчерпан: детерминированный оффлайн-ассет. Задача успешна,
	// но артефакт не принят: библиотечная заглушка ждет подтверждения
	// пользователя. Портреты прогоняются через шлюз, и needsRegeneration
	// отражает его вердикт.
	log.Warn("Provider cascade exhausted, using offline fallback",
		zap.Int("attempts", len(attempts)))
	fallbackResult := o.fallback.Generate(task)

	record := messaging.ArtifactRecord{
		URL:               fallbackResult.URL,
		Provider:          o.fallback.Name(),
		NeedsRegeneration: true,
	}
	var confidence *float64
	if task.Kind == models.ArtifactPhoto {
		check := o.gate.Check(*task.Photo, fallbackResult.URL)
		record.Validation = &check
		record.NeedsRegeneration = !check.IsValid
		confidence = &check.Confidence
	}
	attempts = append(attempts, attempt(o.fallback.Name(), outcomeFallback, confidence, ""))

	result.Status = messaging.ResultStatusSuccess
	result.Artifacts = append(rejected, record)
	result.AttemptLog = attempts
	return result
}

// ExecuteBatch выполняет задачи пакета строго последовательно с паузой
// между элементами, отдавая каждый результат через emit сразу по
// готовности. Отмена контекста завершает оставшиеся задачи ошибкой.
func (o *Orchestrator) ExecuteBatch(ctx context.Context, batch messaging.GenerationTaskBatchPayload, emit func(messaging.GenerationResultPayload)) {
	log := o.logger.With(
		zap.String("batch_id", batch.BatchID),
		zap.Int("tasks", len(batch.Tasks)))
	log.Info("Processing generation task batch")

	for i, task := range batch.Tasks {
		if ctx.Err() != nil {
			emit(messaging.GenerationResultPayload{
				TaskID:       task.TaskID,
				StoryID:      task.StoryID,
				TargetID:     task.TargetID,
				Kind:         task.Kind,
				Status:       messaging.ResultStatusError,
				ErrorDetails: ctx.Err().Error(),
			})
			continue
		}

		if i > 0 && o.opts.BatchItemDelay > 0 {
			select {
			case <-time.After(o.opts.BatchItemDelay):
			case <-ctx.Done():
			}
		}

		o.reportProgress(ctx, task, Progress{
			Percent:     1,
			CurrentItem: i + 1,
			TotalItems:  len(batch.Tasks),
			Message:     "batch item started",
		})
		emit(o.Execute(ctx, task))
	}
	log.Info("Generation task batch processed")
}

// awaitJob опрашивает асинхронную задачу провайдера до готовности или
// исчерпания лимита попыток. Каждый тик ожидания рассылается подписчикам
// прогресса: процент монотонно растет с долей израсходованного лимита.
func (o *Orchestrator) awaitJob(ctx context.Context, adapter provider.Adapter, handle provider.AsyncJobHandle, task messaging.GenerationTaskPayload, log *zap.Logger) (*provider.Result, error) {
	log = log.With(zap.String("job_id", handle.JobID))

	for pollAttempt := 1; pollAttempt <= o.opts.PollMaxAttempts; pollAttempt++ {
		select {
		case <-time.After(o.opts.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		res, err := adapter.Poll(ctx, handle)
		if errors.Is(err, provider.ErrJobPending) {
			log.Debug("Provider job still pending", zap.Int("poll_attempt", pollAttempt))
			o.reportProgress(ctx, task, Progress{
				Percent: 5 + 90*pollAttempt/o.opts.PollMaxAttempts,
				Message: fmt.Sprintf("waiting for %s job", adapter.Name()),
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		log.Info("Provider job finished", zap.Int("poll_attempts", pollAttempt))
		return res, nil
	}

	return nil, fmt.Errorf("%w after %d attempts", errPollTimeout, o.opts.PollMaxAttempts)
}

func validateTask(task messaging.GenerationTaskPayload) error {
	switch task.Kind {
	case models.ArtifactPhoto:
		if task.Photo == nil {
			return fmt.Errorf("task %s: photo request is missing", task.TaskID)
		}
	case models.ArtifactAudio:
		if task.Audio == nil {
			return fmt.Errorf("task %s: audio request is missing", task.TaskID)
		}
	case models.ArtifactVideo:
		if task.Video == nil {
			return fmt.Errorf("task %s: video request is missing", task.TaskID)
		}
	default:
		return fmt.Errorf("task %s: unknown artifact kind %q", task.TaskID, task.Kind)
	}
	return nil
}

func attempt(providerName, outcome string, confidence *float64, errMsg string) models.ProviderAttempt {
	return models.ProviderAttempt{
		Provider:   providerName,
		Outcome:    outcome,
		Confidence: confidence,
		Error:      errMsg,
		At:         time.Now(),
	}
}
