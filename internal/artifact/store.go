// Package artifact реализует промежуточное хранилище артефактов: выгрузку
// удаленных результатов провайдеров на локальный диск и публикацию
// локальных файлов по доступному провайдерам URL.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrFetchFailed - не удалось выгрузить удаленный артефакт.
var ErrFetchFailed = errors.New("artifact fetch failed")

// Store - файловое хранилище с публичным базовым URL. Директория
// обслуживается статикой снаружи процесса (volume + nginx), сам Store
// только пишет файлы и составляет URL.
type Store struct {
	dir     string
	baseURL string
	httpc   *http.Client
	logger  *zap.Logger
}

// NewStore создает хранилище. Директория создается при необходимости.
func NewStore(dir, baseURL string, timeout time.Duration, logger *zap.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("artifact dir is not configured")
	}
	if baseURL == "" {
		return nil, errors.New("artifact public base URL is not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact dir %s: %w", dir, err)
	}
	return &Store{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: timeout},
		logger:  logger.Named("artifact"),
	}, nil
}

// Dir возвращает корневую директорию хранилища.
func (s *Store) Dir() string { return s.dir }

// FetchRemote выгружает удаленный артефакт на локальный диск и возвращает
// путь к файлу. Расширение берется из URL, при его отсутствии - fallback.
func (s *Store) FetchRemote(ctx context.Context, remoteURL, fallbackExt string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d for %s", ErrFetchFailed, resp.StatusCode, remoteURL)
	}

	ext := remoteExt(remoteURL)
	if ext == "" {
		ext = fallbackExt
	}
	fileName := uuid.NewString() + ext
	filePath := filepath.Join(s.dir, fileName)

	out, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer out.Close()
	written, err := io.Copy(out, resp.Body)
	if err != nil {
		os.Remove(filePath)
		return "", fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}

	s.logger.Debug("Remote artifact fetched",
		zap.String("url", remoteURL),
		zap.String("path", filePath),
		zap.Int64("sizeBytes", written))
	return filePath, nil
}

// Publish делает локальный файл доступным по публичному URL. Файл вне
// директории хранилища сначала копируется в нее.
func (s *Store) Publish(localPath string) (string, error) {
	fileName := filepath.Base(localPath)
	inStore := filepath.Dir(localPath) == filepath.Clean(s.dir)
	if !inStore {
		fileName = uuid.NewString() + filepath.Ext(localPath)
		if err := copyFile(localPath, filepath.Join(s.dir, fileName)); err != nil {
			return "", fmt.Errorf("failed to stage %s: %w", localPath, err)
		}
	}
	publicURL := s.baseURL + "/" + fileName
	s.logger.Debug("Artifact published", zap.String("path", localPath), zap.String("url", publicURL))
	return publicURL, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// remoteExt достает расширение файла из URL, игнорируя query-часть.
func remoteExt(remoteURL string) string {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}
