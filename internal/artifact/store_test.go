package artifact

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir(), "https://media.example.com/artifacts", 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestNewStore_RequiresConfig(t *testing.T) {
	_, err := NewStore("", "https://x", time.Second, zap.NewNop())
	assert.Error(t, err)

	_, err = NewStore(t.TempDir(), "", time.Second, zap.NewNop())
	assert.Error(t, err)
}

func TestFetchRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	localPath, err := s.FetchRemote(context.Background(), srv.URL+"/scene.png?sig=abc", ".jpg")
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(localPath, ".png"), "extension comes from URL path")
	data, err := os.ReadFile(localPath)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestFetchRemote_FallbackExt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mp4-bytes"))
	}))
	defer srv.Close()

	s := newTestStore(t)
	localPath, err := s.FetchRemote(context.Background(), srv.URL+"/no-extension", ".mp4")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(localPath, ".mp4"))
}

func TestFetchRemote_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := newTestStore(t)
	_, err := s.FetchRemote(context.Background(), srv.URL+"/gone.png", ".png")
	assert.ErrorIs(t, err, ErrFetchFailed)
}

func TestPublish_FileInsideStore(t *testing.T) {
	s := newTestStore(t)
	localPath := filepath.Join(s.Dir(), "frame.png")
	require.NoError(t, os.WriteFile(localPath, []byte("x"), 0o644))

	url, err := s.Publish(localPath)
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.com/artifacts/frame.png", url)
}

func TestPublish_CopiesExternalFile(t *testing.T) {
	s := newTestStore(t)
	external := filepath.Join(t.TempDir(), "outside.png")
	require.NoError(t, os.WriteFile(external, []byte("payload"), 0o644))

	url, err := s.Publish(external)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://media.example.com/artifacts/"))
	assert.True(t, strings.HasSuffix(url, ".png"))

	// Файл скопирован в хранилище.
	name := strings.TrimPrefix(url, "https://media.example.com/artifacts/")
	data, err := os.ReadFile(filepath.Join(s.Dir(), name))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestPublish_MissingFile(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Publish(filepath.Join(t.TempDir(), "nope.png"))
	assert.Error(t, err)
}
