package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const apiframeDefaultBaseURL = "https://api.apiframe.pro"

// ApiframeAdapter - адаптер APIFrame (Midjourney): постановка задачи
// imagine и опрос fetch до готовности.
type ApiframeAdapter struct {
	baseURL      string
	apiKey       string
	httpc        *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewApiframe создает адаптер APIFrame.
func NewApiframe(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *ApiframeAdapter {
	if baseURL == "" {
		baseURL = apiframeDefaultBaseURL
	}
	return &ApiframeAdapter{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpc:        &http.Client{Timeout: timeout},
		pollInterval: 5 * time.Second,
		logger:       logger.Named("apiframe"),
	}
}

func (a *ApiframeAdapter) Provider() string { return "apiframe" }

type apiframeTask struct {
	TaskID    string   `json:"task_id"`
	Status    string   `json:"status"`
	ImageURLs []string `json:"image_urls"`
	Error     string   `json:"error"`
}

// Invoke ставит задачу imagine и опрашивает до терминального статуса.
// Aspect ratio у Midjourney передается суффиксом промпта, а не полем.
func (a *ApiframeAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	prompt := req.Prompt
	if req.AspectRatio != "" {
		prompt = fmt.Sprintf("%s --ar %s", prompt, req.AspectRatio)
	}

	body, err := json.Marshal(map[string]any{"prompt": prompt})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal apiframe request: %w", err)
	}
	task, err := a.doTask(ctx, a.baseURL+"/imagine", body)
	if err != nil {
		return nil, err
	}
	if task.TaskID == "" {
		return nil, &Error{Provider: "apiframe", Msg: "imagine returned no task id"}
	}

	fetchBody, err := json.Marshal(map[string]any{"task_id": task.TaskID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal apiframe fetch request: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.pollInterval):
		}
		task, err = a.doTask(ctx, a.baseURL+"/fetch", fetchBody)
		if err != nil {
			return nil, err
		}
		switch task.Status {
		case "finished":
			if len(task.ImageURLs) == 0 {
				return nil, ErrNoArtifacts
			}
			a.logger.Debug("Task finished",
				zap.String("taskId", task.TaskID), zap.Int("artifacts", len(task.ImageURLs)))
			return &Result{RemoteURLs: task.ImageURLs, Seed: req.Seed}, nil
		case "failed":
			return nil, &Error{Provider: "apiframe",
				Msg: fmt.Sprintf("task failed: %s", task.Error)}
		}
	}
}

func (a *ApiframeAdapter) doTask(ctx context.Context, url string, body []byte) (*apiframeTask, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create apiframe request: %w", err)
	}
	httpReq.Header.Set("Authorization", a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("apiframe request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read apiframe response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError("apiframe", resp.StatusCode, string(respBody))
	}

	var task apiframeTask
	if err := json.Unmarshal(respBody, &task); err != nil {
		return nil, fmt.Errorf("failed to parse apiframe response: %w", err)
	}
	return &task, nil
}
