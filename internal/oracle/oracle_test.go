package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"reels-pipeline/internal/catalog"
	"reels-pipeline/internal/model"
)

// chatCompletion собирает минимальный OpenAI-совместимый ответ с одним
// вариантом и заданным содержимым сообщения.
func chatCompletion(content string) map[string]any {
	return map[string]any{
		"id":     "chatcmpl-test",
		"object": "chat.completion",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{"prompt_tokens": 100, "completion_tokens": 20},
	}
}

func newTestClient(t *testing.T, serverURL string, maxRetries int) *Client {
	t.Helper()
	c, err := New(Config{
		APIKey:     "test-key",
		BaseURL:    serverURL + "/v1",
		ModelName:  "test-model",
		Timeout:    5,
		MaxRetries: maxRetries,
	}, catalog.Default(), zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(Config{}, catalog.Default(), zap.NewNop())
	require.Error(t, err)
}

func TestRecommend_ParsesAssignments(t *testing.T) {
	var gotBody struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(chatCompletion(
			`{"assignments":[{"scene":1,"tool":"flux_dev","reasoning":"simple object"},{"scene":2,"tool":"flux_schnell","reasoning":"abstract filler"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	advice, err := c.Recommend(context.Background(), []model.Scene{
		{Number: 1, ContentType: model.ContentObject, Prompt: "a bottle"},
		{Number: 2, ContentType: model.ContentAbstract, Prompt: "waves"},
	}, "cinematic", "standard")

	require.NoError(t, err)
	require.Len(t, advice, 2)
	assert.Equal(t, 1, advice[0].SceneNumber)
	assert.Equal(t, "flux_dev", advice[0].ToolID)
	assert.Equal(t, "flux_schnell", advice[1].ToolID)

	// Системный промпт описывает каталог, пользовательский несет сцены.
	assert.Equal(t, "test-model", gotBody.Model)
	require.Len(t, gotBody.Messages, 2)
	assert.Contains(t, gotBody.Messages[0].Content, "flux_dev")
	assert.Contains(t, gotBody.Messages[1].Content, `"style":"cinematic"`)
	assert.Contains(t, gotBody.Messages[1].Content, "a bottle")
}

func TestRecommend_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream overloaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(chatCompletion(
			`{"assignments":[{"scene":1,"tool":"flux_dev","reasoning":"ok"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 3)
	advice, err := c.Recommend(context.Background(), []model.Scene{
		{Number: 1, ContentType: model.ContentObject},
	}, "cinematic", "standard")

	require.NoError(t, err)
	require.Len(t, advice, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRecommend_MalformedJSONExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(chatCompletion("tools: whatever sounds good"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	_, err := c.Recommend(context.Background(), []model.Scene{
		{Number: 1, ContentType: model.ContentObject},
	}, "cinematic", "standard")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle failed after 2 attempts")
	assert.Equal(t, int32(2), calls.Load())
}
