package provider

import (
	"fmt"

	"go.uber.org/zap"

	"storyreel-server/media-generator/internal/storage"
	"storyreel-server/shared/messaging"
	"storyreel-server/shared/models"
	"storyreel-server/shared/utils"
)

// FallbackName - имя оффлайн-провайдера в журнале попыток и артефактах.
const FallbackName = "portrait-library"

// Курируемые портреты по полу. Выбор детерминирован seed'ом персонажа,
// поэтому повторная задача для того же персонажа дает тот же ассет.
var (
	fallbackFemalePortraits = []string{
		"library/portraits/female_01.jpg",
		"library/portraits/female_02.jpg",
		"library/portraits/female_03.jpg",
		"library/portraits/female_04.jpg",
		"library/portraits/female_05.jpg",
	}
	fallbackMalePortraits = []string{
		"library/portraits/male_01.jpg",
		"library/portraits/male_02.jpg",
		"library/portraits/male_03.jpg",
		"library/portraits/male_04.jpg",
		"library/portraits/male_05.jpg",
	}
	fallbackNeutralPortraits = []string{
		"library/portraits/neutral_01.jpg",
		"library/portraits/neutral_02.jpg",
		"library/portraits/neutral_03.jpg",
	}
)

// Fallback - оффлайн-источник артефактов на случай полного исчерпания
// каскада. Не ходит в сеть и не может завершиться ошибкой, поэтому задача
// с фолбэком всегда структурно успешна; артефакт помечается
// NeedsRegeneration, чтобы пользователь мог перегенерировать позже.
type Fallback struct {
	logger *zap.Logger
	store  *storage.Store
}

// NewFallback создает оффлайн-провайдер.
func NewFallback(logger *zap.Logger, store *storage.Store) *Fallback {
	return &Fallback{logger: logger, store: store}
}

// Name возвращает имя провайдера для журнала попыток.
func (f *Fallback) Name() string { return FallbackName }

// Generate выбирает детерминированный ассет для задачи.
func (f *Fallback) Generate(task messaging.GenerationTaskPayload) Result {
	var asset string
	switch task.Kind {
	case models.ArtifactPhoto:
		asset = f.portraitAsset(task.Photo)
	case models.ArtifactAudio:
		asset = "library/audio/silence_15s.mp3"
	case models.ArtifactVideo:
		asset = fmt.Sprintf("library/video/placeholder_%02d.mp4", utils.CharacterSeed(task.TargetID)%4)
	default:
		asset = "library/placeholder.bin"
	}

	url := f.store.PublicURL(asset)
	f.logger.Info("Offline fallback asset selected",
		zap.String("task_id", task.TaskID),
		zap.String("kind", string(task.Kind)),
		zap.String("url", url))
	return Result{URL: url}
}

func (f *Fallback) portraitAsset(req *models.PhotoRequest) string {
	pool := fallbackNeutralPortraits
	name := ""
	if req != nil {
		name = req.CharacterName
		switch req.Expected.Gender {
		case "female":
			pool = fallbackFemalePortraits
		case "male":
			pool = fallbackMalePortraits
		}
	}
	return pool[utils.CharacterSeed(name)%uint64(len(pool))]
}
