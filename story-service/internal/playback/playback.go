// Package playback управляет сессией озвучивания сцены. Контроллер владеет
// не более чем одной активной сессией: Play всегда неявно останавливает
// предыдущую, поэтому два одновременных воспроизведения невозможны.
package playback

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyreel-server/shared/models"
)

var (
	ErrNoActiveSession = errors.New("no active playback session")
	ErrNotPaused       = errors.New("playback is not paused")
	ErrAlreadyPaused   = errors.New("playback is already paused")
	ErrNoSegments      = errors.New("scene has no narration segments")
)

// State - состояние активной сессии.
type State string

const (
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// Session - снимок текущей сессии воспроизведения. Index указывает на
// проигрываемый сегмент.
type Session struct {
	SceneID   uuid.UUID                 `json:"sceneId"`
	Segments  []models.NarrationSegment `json:"segments"`
	Index     int                       `json:"index"`
	State     State                     `json:"state"`
	StartedAt time.Time                 `json:"startedAt"`
}

// Controller - потокобезопасный контроллер воспроизведения.
type Controller struct {
	mu      sync.Mutex
	current *Session
	logger  *zap.Logger
}

func New(logger *zap.Logger) *Controller {
	return &Controller{logger: logger.Named("PlaybackController")}
}

// Play начинает воспроизведение сегментов сцены с первого сегмента.
// Предыдущая сессия, если была, останавливается без ошибки.
func (c *Controller) Play(sceneID uuid.UUID, segments []models.NarrationSegment) (Session, error) {
	if len(segments) == 0 {
		return Session{}, ErrNoSegments
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		c.logger.Debug("Stopping previous session",
			zap.String("scene_id", c.current.SceneID.String()))
	}
	c.current = &Session{
		SceneID:   sceneID,
		Segments:  segments,
		Index:     0,
		State:     StatePlaying,
		StartedAt: time.Now(),
	}
	c.logger.Info("Playback started",
		zap.String("scene_id", sceneID.String()),
		zap.Int("segments", len(segments)))
	return *c.current, nil
}

// Pause приостанавливает активную сессию.
func (c *Controller) Pause() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Session{}, ErrNoActiveSession
	}
	if c.current.State == StatePaused {
		return Session{}, ErrAlreadyPaused
	}
	c.current.State = StatePaused
	return *c.current, nil
}

// Resume продолжает приостановленную сессию с текущего сегмента.
func (c *Controller) Resume() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Session{}, ErrNoActiveSession
	}
	if c.current.State != StatePaused {
		return Session{}, ErrNotPaused
	}
	c.current.State = StatePlaying
	return *c.current, nil
}

// Stop завершает активную сессию. Повторный Stop возвращает
// ErrNoActiveSession.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return ErrNoActiveSession
	}
	c.logger.Info("Playback stopped",
		zap.String("scene_id", c.current.SceneID.String()),
		zap.Int("last_index", c.current.Index))
	c.current = nil
	return nil
}

// SkipNext переходит к следующему сегменту. Пропуск последнего сегмента
// завершает сессию.
func (c *Controller) SkipNext() (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Session{}, ErrNoActiveSession
	}
	c.current.Index++
	if c.current.Index >= len(c.current.Segments) {
		finished := *c.current
		c.current = nil
		c.logger.Info("Playback finished",
			zap.String("scene_id", finished.SceneID.String()))
		return finished, nil
	}
	return *c.current, nil
}

// Current возвращает снимок активной сессии, если она есть.
func (c *Controller) Current() (Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil {
		return Session{}, false
	}
	return *c.current, true
}
