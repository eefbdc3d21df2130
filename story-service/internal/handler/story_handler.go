package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"storyreel-server/shared/interfaces"
	"storyreel-server/shared/models"
	"storyreel-server/story-service/internal/playback"
	"storyreel-server/story-service/internal/service"
)

// StoryService - срез сервисного слоя, нужный HTTP-обработчикам.
type StoryService interface {
	DecomposeStory(ctx context.Context, text string) (*service.DecompositionResult, error)

	GetCharacter(ctx context.Context, id uuid.UUID) (*models.Character, error)
	ListCharacters(ctx context.Context, storyID uuid.UUID) ([]models.Character, error)
	DeleteCharacter(ctx context.Context, id uuid.UUID) error
	SelectCharacterPhoto(ctx context.Context, characterID uuid.UUID, index int) error

	GetScene(ctx context.Context, id uuid.UUID) (*models.Scene, error)
	ListScenes(ctx context.Context, storyID uuid.UUID) ([]models.Scene, error)
	SceneSegments(ctx context.Context, sceneID uuid.UUID) ([]models.NarrationSegment, error)

	GeneratePhoto(ctx context.Context, characterID uuid.UUID, style string, excludeProviders []string) (*models.GenerationJob, error)
	GenerateAllPhotos(ctx context.Context, storyID uuid.UUID, style string) ([]models.GenerationJob, error)
	GenerateAudio(ctx context.Context, sceneID uuid.UUID, excludeProviders []string) (*models.GenerationJob, error)
	GenerateAllAudio(ctx context.Context, storyID uuid.UUID) ([]models.GenerationJob, error)
	GenerateVideo(ctx context.Context, sceneID uuid.UUID, excludeProviders []string) (*models.GenerationJob, error)
	GenerateAllVideo(ctx context.Context, storyID uuid.UUID) ([]models.GenerationJob, error)

	GetJob(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
	ListJobs(ctx context.Context, storyID uuid.UUID) ([]models.GenerationJob, error)
	RetryJob(ctx context.Context, jobID uuid.UUID, excludeProviders []string) (*models.GenerationJob, error)
}

// StoryHandler обрабатывает HTTP запросы story-service.
type StoryHandler struct {
	service  StoryService
	playback *playback.Controller
	logger   *zap.Logger
}

func NewStoryHandler(s StoryService, pc *playback.Controller, logger *zap.Logger) *StoryHandler {
	return &StoryHandler{
		service:  s,
		playback: pc,
		logger:   logger.Named("StoryHandler"),
	}
}

// RegisterRoutes регистрирует маршруты story-service.
func (h *StoryHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	{
		api.POST("/stories/decompose", h.decomposeStory)
		api.GET("/stories/:story_id/characters", h.listCharacters)
		api.GET("/stories/:story_id/scenes", h.listScenes)
		api.GET("/stories/:story_id/jobs", h.listJobs)
		api.POST("/stories/:story_id/generate-photos", h.generateAllPhotos)
		api.POST("/stories/:story_id/generate-audio", h.generateAllAudio)
		api.POST("/stories/:story_id/generate-video", h.generateAllVideo)

		api.GET("/characters/:id", h.getCharacter)
		api.DELETE("/characters/:id", h.deleteCharacter)
		api.POST("/characters/:id/generate-photo", h.generatePhoto)
		api.POST("/characters/:id/photos/select", h.selectPhoto)

		api.GET("/scenes/:id", h.getScene)
		api.POST("/scenes/:id/generate-audio", h.generateAudio)
		api.POST("/scenes/:id/generate-video", h.generateVideo)

		api.GET("/jobs/:id", h.getJob)
		api.POST("/jobs/:id/retry", h.retryJob)

		api.POST("/scenes/:id/playback/play", h.playbackPlay)
		api.POST("/playback/pause", h.playbackPause)
		api.POST("/playback/resume", h.playbackResume)
		api.POST("/playback/stop", h.playbackStop)
		api.POST("/playback/next", h.playbackNext)
		api.GET("/playback", h.playbackCurrent)
	}
}

func (h *StoryHandler) decomposeStory(c *gin.Context) {
	var req decomposeStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body for decomposeStory", zap.Error(err))
		c.JSON(http.StatusBadRequest, APIError{Message: "text is required"})
		return
	}

	result, err := h.service.DecomposeStory(c.Request.Context(), req.Text)
	if err != nil {
		if errors.Is(err, service.ErrEmptyStoryText) {
			c.JSON(http.StatusBadRequest, APIError{Message: err.Error()})
			return
		}
		h.handleServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *StoryHandler) listCharacters(c *gin.Context) {
	storyID, ok := h.parseID(c, "story_id")
	if !ok {
		return
	}
	characters, err := h.service.ListCharacters(c.Request.Context(), storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, characters)
}

func (h *StoryHandler) listScenes(c *gin.Context) {
	storyID, ok := h.parseID(c, "story_id")
	if !ok {
		return
	}
	scenes, err := h.service.ListScenes(c.Request.Context(), storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, scenes)
}

func (h *StoryHandler) listJobs(c *gin.Context) {
	storyID, ok := h.parseID(c, "story_id")
	if !ok {
		return
	}
	jobs, err := h.service.ListJobs(c.Request.Context(), storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponses(jobs))
}

func (h *StoryHandler) getCharacter(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	character, err := h.service.GetCharacter(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, character)
}

func (h *StoryHandler) deleteCharacter(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteCharacter(c.Request.Context(), id); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) generatePhoto(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	var req generatePhotoRequest
	// Тело опционально: пустой запрос означает стиль по умолчанию.
	_ = c.ShouldBindJSON(&req)

	job, err := h.service.GeneratePhoto(c.Request.Context(), id, req.Style, nil)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponse(job))
}

func (h *StoryHandler) selectPhoto(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	var req selectPhotoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIError{Message: "index is required"})
		return
	}
	if err := h.service.SelectCharacterPhoto(c.Request.Context(), id, *req.Index); err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) generateAllPhotos(c *gin.Context) {
	storyID, ok := h.parseID(c, "story_id")
	if !ok {
		return
	}
	var req generatePhotoRequest
	_ = c.ShouldBindJSON(&req)

	jobs, err := h.service.GenerateAllPhotos(c.Request.Context(), storyID, req.Style)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponses(jobs))
}

func (h *StoryHandler) getScene(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	scene, err := h.service.GetScene(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, scene)
}

func (h *StoryHandler) generateAudio(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	job, err := h.service.GenerateAudio(c.Request.Context(), id, nil)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponse(job))
}

func (h *StoryHandler) generateAllAudio(c *gin.Context) {
	storyID, ok := h.parseID(c, "story_id")
	if !ok {
		return
	}
	jobs, err := h.service.GenerateAllAudio(c.Request.Context(), storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponses(jobs))
}

func (h *StoryHandler) generateAllVideo(c *gin.Context) {
	storyID, ok := h.parseID(c, "story_id")
	if !ok {
		return
	}
	jobs, err := h.service.GenerateAllVideo(c.Request.Context(), storyID)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponses(jobs))
}

func (h *StoryHandler) generateVideo(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	job, err := h.service.GenerateVideo(c.Request.Context(), id, nil)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponse(job))
}

func (h *StoryHandler) getJob(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	job, err := h.service.GetJob(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

func (h *StoryHandler) retryJob(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	var req retryJobRequest
	_ = c.ShouldBindJSON(&req)

	job, err := h.service.RetryJob(c.Request.Context(), id, req.ExcludeProviders)
	if err != nil {
		if errors.Is(err, service.ErrJobNotTerminal) {
			c.JSON(http.StatusConflict, APIError{Message: err.Error()})
			return
		}
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, toJobResponse(job))
}

func (h *StoryHandler) playbackPlay(c *gin.Context) {
	id, ok := h.parseID(c, "id")
	if !ok {
		return
	}
	segments, err := h.service.SceneSegments(c.Request.Context(), id)
	if err != nil {
		h.handleServiceError(c, err)
		return
	}
	session, err := h.playback.Play(id, segments)
	if err != nil {
		if errors.Is(err, playback.ErrNoSegments) {
			c.JSON(http.StatusUnprocessableEntity, APIError{Message: err.Error()})
			return
		}
		h.handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *StoryHandler) playbackPause(c *gin.Context) {
	session, err := h.playback.Pause()
	if err != nil {
		h.handlePlaybackError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *StoryHandler) playbackResume(c *gin.Context) {
	session, err := h.playback.Resume()
	if err != nil {
		h.handlePlaybackError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *StoryHandler) playbackStop(c *gin.Context) {
	if err := h.playback.Stop(); err != nil {
		h.handlePlaybackError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *StoryHandler) playbackNext(c *gin.Context) {
	session, err := h.playback.SkipNext()
	if err != nil {
		h.handlePlaybackError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *StoryHandler) playbackCurrent(c *gin.Context) {
	session, ok := h.playback.Current()
	if !ok {
		c.JSON(http.StatusNotFound, APIError{Message: "no active playback session"})
		return
	}
	c.JSON(http.StatusOK, session)
}

// --- Вспомогательные функции --- //

func (h *StoryHandler) parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	raw := c.Param(param)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logger.Warn("Invalid UUID in path", zap.String("param", param), zap.String("value", raw))
		c.JSON(http.StatusBadRequest, APIError{Message: fmt.Sprintf("invalid %s format", param)})
		return uuid.Nil, false
	}
	return id, true
}

func (h *StoryHandler) handleServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, interfaces.ErrNotFound):
		c.JSON(http.StatusNotFound, APIError{Message: "resource not found"})
	default:
		h.logger.Error("Service error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "internal server error"})
	}
}

func (h *StoryHandler) handlePlaybackError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, playback.ErrNoActiveSession):
		c.JSON(http.StatusNotFound, APIError{Message: err.Error()})
	case errors.Is(err, playback.ErrAlreadyPaused), errors.Is(err, playback.ErrNotPaused):
		c.JSON(http.StatusConflict, APIError{Message: err.Error()})
	default:
		h.logger.Error("Playback error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, APIError{Message: "internal server error"})
	}
}
