package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrMediaSaveFailed - ошибка при сохранении файла артефакта.
var ErrMediaSaveFailed = errors.New("media save failed")

// Store сохраняет сгенерированные артефакты в локальную директорию
// (смонтированный volume) и строит публичные URL для доступа к ним.
type Store struct {
	logger   *zap.Logger
	savePath string
	baseURL  string
}

// New создает Store. Путь сохранения и базовый URL обязательны.
func New(logger *zap.Logger, savePath, publicBaseURL string) (*Store, error) {
	if savePath == "" {
		return nil, errors.New("media save path (MEDIA_SAVE_PATH) is not configured")
	}
	if publicBaseURL == "" {
		return nil, errors.New("media public base URL (MEDIA_PUBLIC_BASE_URL) is not configured")
	}
	return &Store{
		logger:   logger,
		savePath: savePath,
		baseURL:  publicBaseURL,
	}, nil
}

// Save записывает данные артефакта в файл и возвращает публичный URL.
func (s *Store) Save(fileName string, data []byte) (string, error) {
	if fileName == "" {
		return "", fmt.Errorf("%w: file name is required but empty", ErrMediaSaveFailed)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty data for %s", ErrMediaSaveFailed, fileName)
	}

	filePath := filepath.Join(s.savePath, fileName)
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		s.logger.Error("Failed to save media to file", zap.String("path", filePath), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrMediaSaveFailed, err)
	}
	s.logger.Info("Media saved to file", zap.String("path", filePath), zap.Int("size_bytes", len(data)))

	return s.PublicURL(fileName), nil
}

// PublicURL строит публичный URL для имени файла.
func (s *Store) PublicURL(fileName string) string {
	url := s.baseURL + "/" + fileName
	// Убираем двойные слеши, если baseURL содержит / в конце
	url = strings.Replace(url, "//", "/", -1)
	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		url = "https://" + url
	}
	return url
}
