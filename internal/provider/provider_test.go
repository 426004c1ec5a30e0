package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsTransient_StatusClassification(t *testing.T) {
	assert.True(t, IsTransient(newStatusError("replicate", http.StatusTooManyRequests, "slow down")))
	assert.True(t, IsTransient(newStatusError("replicate", http.StatusRequestTimeout, "timeout")))
	assert.True(t, IsTransient(newStatusError("falai", http.StatusBadGateway, "bad gateway")))
	assert.True(t, IsTransient(newStatusError("falai", http.StatusInternalServerError, "oops")))

	assert.False(t, IsTransient(newStatusError("replicate", http.StatusBadRequest, "invalid input")))
	assert.False(t, IsTransient(newStatusError("apiframe", http.StatusUnprocessableEntity, "content policy")))
	assert.False(t, IsTransient(errors.New("plain error")))
	assert.True(t, IsTransient(context.DeadlineExceeded))
}

func TestNormalizeReplicateOutput(t *testing.T) {
	urls, err := normalizeReplicateOutput(json.RawMessage(`"https://cdn.example.com/a.png"`))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.example.com/a.png"}, urls)

	urls, err = normalizeReplicateOutput(json.RawMessage(`["https://a.png","https://b.png"]`))
	require.NoError(t, err)
	assert.Len(t, urls, 2)

	_, err = normalizeReplicateOutput(json.RawMessage(`[]`))
	assert.ErrorIs(t, err, ErrNoArtifacts)

	_, err = normalizeReplicateOutput(json.RawMessage(`{"weird":true}`))
	assert.Error(t, err)
}

func TestReplicate_FieldMappingAndSuccess(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/models/bytedance/seedream-4/predictions", r.URL.Path)
		var body struct {
			Input map[string]any `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		received = body.Input
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "p1", "status": "succeeded",
			"output": "https://replicate.delivery/out.png",
		})
	}))
	defer srv.Close()

	a := NewReplicate(srv.URL, "token", 5*time.Second, zap.NewNop())
	res, err := a.Invoke(context.Background(), Request{
		SceneNumber:  2,
		ToolID:       "seedream4",
		Model:        "bytedance/seedream-4",
		Prompt:       "same character, new pose",
		ReferenceURL: "https://cdn.example.com/anchor.png",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://replicate.delivery/out.png"}, res.RemoteURLs)
	// Каноническое поле reference ушло провайдеру под его именем.
	assert.Equal(t, "https://cdn.example.com/anchor.png", received["image"])
	assert.Equal(t, 0.8, received["prompt_strength"])
	assert.NotContains(t, received, "reference")
}

func TestReplicate_PermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "p2", "status": "failed", "error": "NSFW content detected",
		})
	}))
	defer srv.Close()

	a := NewReplicate(srv.URL, "token", 5*time.Second, zap.NewNop())
	_, err := a.Invoke(context.Background(), Request{ToolID: "flux_dev", Model: "black-forest-labs/flux-dev", Prompt: "x"})

	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestReplicate_Throttled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	a := NewReplicate(srv.URL, "token", 5*time.Second, zap.NewNop())
	_, err := a.Invoke(context.Background(), Request{ToolID: "flux_dev", Model: "black-forest-labs/flux-dev", Prompt: "x"})

	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestFal_MorphFieldMapping(t *testing.T) {
	var received map[string]any
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/fal-ai/wan-flf2v", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"request_id":   "r1",
			"status":       "COMPLETED",
			"response_url": srv.URL + "/result/r1",
		})
	})
	mux.HandleFunc("/result/r1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"video": map[string]any{"url": "https://fal.media/morph.mp4"},
			"seed":  42,
		})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	a := NewFal(srv.URL, "key", 5*time.Second, zap.NewNop())
	res, err := a.Invoke(context.Background(), Request{
		ToolID:        "wan_flf2v",
		Model:         "fal-ai/wan-flf2v",
		Prompt:        "smooth morph",
		FirstFrameURL: "https://cdn/first.png",
		LastFrameURL:  "https://cdn/last.png",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://fal.media/morph.mp4"}, res.RemoteURLs)
	assert.Equal(t, int64(42), res.Seed)
	assert.Equal(t, "https://cdn/first.png", received["start_image_url"])
	assert.Equal(t, "https://cdn/last.png", received["end_image_url"])
}

func TestFal_ImagesResponse(t *testing.T) {
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("/fal-ai/instant-character", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"request_id":   "r2",
			"status":       "COMPLETED",
			"response_url": srv.URL + "/result/r2",
		})
	})
	mux.HandleFunc("/result/r2", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"images": []map[string]any{{"url": "https://fal.media/char.png"}},
		})
	})
	srv = httptest.NewServer(mux)
	defer srv.Close()

	a := NewFal(srv.URL, "key", 5*time.Second, zap.NewNop())
	res, err := a.Invoke(context.Background(), Request{
		ToolID:       "instant_character",
		Model:        "fal-ai/instant-character",
		Prompt:       "portrait",
		ReferenceURL: "https://cdn/anchor.png",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://fal.media/char.png"}, res.RemoteURLs)
}

func TestApiframe_ImagineThenFetch(t *testing.T) {
	fetches := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/imagine", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		// Соотношение сторон уходит суффиксом промпта.
		assert.Contains(t, body["prompt"], "--ar 9:16")
		_ = json.NewEncoder(w).Encode(map[string]any{"task_id": "t1"})
	})
	mux.HandleFunc("/fetch", func(w http.ResponseWriter, r *http.Request) {
		fetches++
		if fetches == 1 {
			_ = json.NewEncoder(w).Encode(map[string]any{"task_id": "t1", "status": "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"task_id": "t1", "status": "finished",
			"image_urls": []string{"https://mj.example.com/grid.png"},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewApiframe(srv.URL, "key", 5*time.Second, zap.NewNop())
	a.pollInterval = time.Millisecond
	res, err := a.Invoke(context.Background(), Request{
		ToolID: "midjourney", Model: "midjourney",
		Prompt: "hero shot", AspectRatio: "9:16",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://mj.example.com/grid.png"}, res.RemoteURLs)
	assert.Equal(t, 2, fetches)
}
