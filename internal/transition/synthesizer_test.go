package transition

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reels-pipeline/internal/artifact"
	"reels-pipeline/internal/catalog"
	"reels-pipeline/internal/mocks"
	"reels-pipeline/internal/model"
	"reels-pipeline/internal/provider"
	"reels-pipeline/internal/style"
)

func testStore(t *testing.T) *artifact.Store {
	t.Helper()
	s, err := artifact.NewStore(t.TempDir(), "https://media.example.com/a", 5*time.Second, zap.NewNop())
	require.NoError(t, err)
	return s
}

func localArtifact(t *testing.T, store *artifact.Store, scene int, video bool) model.ArtifactResult {
	t.Helper()
	ext := ".png"
	if video {
		ext = ".mp4"
	}
	// Имя должно быть уникальным в пределах теста.
	path := filepath.Join(store.Dir(), filepath.Base(t.TempDir())+ext)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	return model.ArtifactResult{
		ID: "a", SceneNumber: scene, ToolID: "flux_dev",
		Kind: model.ArtifactLocal, LocalPath: path, IsVideo: video,
	}
}

func morphStyle() style.Style {
	return style.Style{Transitions: style.Transitions{Type: style.TransitionMorph, Tool: "wan_flf2v"}}
}

func fileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("mp4"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() Config {
	return Config{MaxAttempts: 3, BaseRetryDelay: time.Millisecond, CallTimeout: time.Second, ClipDurationSec: 1.5}
}

func TestSynthesize_NonMorphStyle(t *testing.T) {
	s := New(catalog.Default(), nil, testStore(t), testConfig(), zap.NewNop())

	clips, err := s.Synthesize(context.Background(),
		[]model.ArtifactResult{{SceneNumber: 1}, {SceneNumber: 2}},
		style.Style{Transitions: style.Transitions{Type: style.TransitionCrossfade}})
	require.NoError(t, err)
	assert.Empty(t, clips)
}

func TestSynthesize_AdjacentPairs(t *testing.T) {
	files := fileServer(t)
	store := testStore(t)

	fal := mocks.NewMockAdapter(t, "falai")
	fal.On("Invoke", mock.Anything, mock.Anything).
		Return(&provider.Result{RemoteURLs: []string{files.URL + "/clip.mp4"}}, nil)

	s := New(catalog.Default(), []provider.Adapter{fal}, store, testConfig(), zap.NewNop())

	arts := []model.ArtifactResult{
		localArtifact(t, store, 1, false),
		localArtifact(t, store, 2, false),
		localArtifact(t, store, 3, false),
	}

	clips, err := s.Synthesize(context.Background(), arts, morphStyle())
	require.NoError(t, err)

	require.Len(t, clips, 2)
	assert.Equal(t, 1, clips[0].FromScene)
	assert.Equal(t, 2, clips[0].ToScene)
	assert.Equal(t, 2, clips[1].FromScene)
	assert.Equal(t, 3, clips[1].ToScene)
	for _, c := range clips {
		assert.Equal(t, "wan_flf2v", c.ToolID)
		assert.NotEmpty(t, c.LocalPath)
		assert.InDelta(t, 1.5, c.DurationSec, 1e-9)
	}
	fal.AssertNumberOfCalls(t, "Invoke", 2)
}

func TestSynthesize_SkipsVideoFrames(t *testing.T) {
	files := fileServer(t)
	store := testStore(t)

	fal := mocks.NewMockAdapter(t, "falai")
	fal.On("Invoke", mock.Anything, mock.Anything).
		Return(&provider.Result{RemoteURLs: []string{files.URL + "/clip.mp4"}}, nil)

	s := New(catalog.Default(), []provider.Adapter{fal}, store, testConfig(), zap.NewNop())

	arts := []model.ArtifactResult{
		localArtifact(t, store, 1, false),
		localArtifact(t, store, 2, true), // видео не может быть кадром morph
		localArtifact(t, store, 3, false),
	}

	clips, err := s.Synthesize(context.Background(), arts, morphStyle())
	require.NoError(t, err)
	assert.Empty(t, clips)
}

func TestSynthesize_RetryReusesSameFrames(t *testing.T) {
	files := fileServer(t)
	store := testStore(t)

	var first, second provider.Request
	fal := mocks.NewMockAdapter(t, "falai")
	transient := &provider.Error{Provider: "falai", StatusCode: 503, Msg: "busy", Transient: true}
	fal.On("Invoke", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { first = args.Get(1).(provider.Request) }).
		Return(nil, transient).Once()
	fal.On("Invoke", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { second = args.Get(1).(provider.Request) }).
		Return(&provider.Result{RemoteURLs: []string{files.URL + "/clip.mp4"}}, nil).Once()

	s := New(catalog.Default(), []provider.Adapter{fal}, store, testConfig(), zap.NewNop())

	arts := []model.ArtifactResult{
		localArtifact(t, store, 1, false),
		localArtifact(t, store, 2, false),
	}

	clips, err := s.Synthesize(context.Background(), arts, morphStyle())
	require.NoError(t, err)
	require.Len(t, clips, 1)

	assert.Equal(t, first.FirstFrameURL, second.FirstFrameURL)
	assert.Equal(t, first.LastFrameURL, second.LastFrameURL)
}

func TestSynthesize_PermanentFailure(t *testing.T) {
	store := testStore(t)

	fal := mocks.NewMockAdapter(t, "falai")
	permanent := &provider.Error{Provider: "falai", StatusCode: 400, Msg: "bad frames", Transient: false}
	fal.On("Invoke", mock.Anything, mock.Anything).Return(nil, permanent)

	s := New(catalog.Default(), []provider.Adapter{fal}, store, testConfig(), zap.NewNop())

	arts := []model.ArtifactResult{
		localArtifact(t, store, 1, false),
		localArtifact(t, store, 2, false),
	}

	_, err := s.Synthesize(context.Background(), arts, morphStyle())
	require.Error(t, err)

	var trErr *model.TransitionGenerationFailed
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, 1, trErr.FromScene)
	assert.Equal(t, 2, trErr.ToScene)
	assert.Equal(t, "wan_flf2v", trErr.ToolID)
	fal.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestSynthesize_NonMorphToolConfigured(t *testing.T) {
	s := New(catalog.Default(), nil, testStore(t), testConfig(), zap.NewNop())

	bad := style.Style{Transitions: style.Transitions{Type: style.TransitionMorph, Tool: "flux_dev"}}
	_, err := s.Synthesize(context.Background(),
		[]model.ArtifactResult{{SceneNumber: 1}, {SceneNumber: 2}}, bad)

	require.Error(t, err)
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
