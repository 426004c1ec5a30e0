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

const falDefaultBaseURL = "https://queue.fal.run"

// falFieldMap - переименование канонических полей в поля моделей fal.ai.
var falFieldMap = map[string]map[string]string{
	"instant_character": {"reference": "image_url"},
	"wan_flf2v":         {"first_frame": "start_image_url", "last_frame": "end_image_url"},
	"pika_v2":           {"first_frame": "start_image_url", "last_frame": "end_image_url"},
	"veo31_flf2v":       {"first_frame": "first_frame_url", "last_frame": "last_frame_url"},
}

// FalAdapter - адаптер fal.ai queue API: submit, опрос статуса, выборка
// результата.
type FalAdapter struct {
	baseURL      string
	apiKey       string
	httpc        *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewFal создает адаптер fal.ai.
func NewFal(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *FalAdapter {
	if baseURL == "" {
		baseURL = falDefaultBaseURL
	}
	return &FalAdapter{
		baseURL:      baseURL,
		apiKey:       apiKey,
		httpc:        &http.Client{Timeout: timeout},
		pollInterval: 2 * time.Second,
		logger:       logger.Named("falai"),
	}
}

func (a *FalAdapter) Provider() string { return "falai" }

type falQueueStatus struct {
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
	StatusURL   string `json:"status_url"`
	ResponseURL string `json:"response_url"`
}

// falResponse покрывает обе формы результата fal: список изображений и
// одиночное видео.
type falResponse struct {
	Images []struct {
		URL string `json:"url"`
	} `json:"images"`
	Video struct {
		URL string `json:"url"`
	} `json:"video"`
	Seed int64 `json:"seed"`
}

// Invoke ставит запрос в очередь fal и дожидается результата.
func (a *FalAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	payload := map[string]any{"prompt": req.Prompt}
	if req.NegativePrompt != "" {
		payload["negative_prompt"] = req.NegativePrompt
	}
	if req.AspectRatio != "" {
		payload["aspect_ratio"] = req.AspectRatio
	}
	if req.Seed > 0 {
		payload["seed"] = req.Seed
	}
	fields := falFieldMap[req.ToolID]
	if req.ReferenceURL != "" {
		if name, ok := fields["reference"]; ok {
			payload[name] = req.ReferenceURL
		}
	}
	if req.FirstFrameURL != "" {
		if name, ok := fields["first_frame"]; ok {
			payload[name] = req.FirstFrameURL
		}
	}
	if req.LastFrameURL != "" {
		if name, ok := fields["last_frame"]; ok {
			payload[name] = req.LastFrameURL
		}
	}

	status, err := a.submit(ctx, req.Model, payload)
	if err != nil {
		return nil, err
	}

	for status.Status != "COMPLETED" {
		if status.Status == "FAILED" {
			return nil, &Error{Provider: "falai", Msg: "queued request failed"}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.pollInterval):
		}
		status, err = a.getStatus(ctx, status.StatusURL)
		if err != nil {
			return nil, err
		}
	}

	result, err := a.fetchResponse(ctx, status.ResponseURL)
	if err != nil {
		return nil, err
	}

	urls := make([]string, 0, len(result.Images)+1)
	for _, img := range result.Images {
		if img.URL != "" {
			urls = append(urls, img.URL)
		}
	}
	if result.Video.URL != "" {
		urls = append(urls, result.Video.URL)
	}
	if len(urls) == 0 {
		return nil, ErrNoArtifacts
	}

	seed := result.Seed
	if seed == 0 {
		seed = req.Seed
	}
	a.logger.Debug("Queue request completed",
		zap.String("tool", req.ToolID), zap.Int("artifacts", len(urls)))
	return &Result{RemoteURLs: urls, Seed: seed}, nil
}

func (a *FalAdapter) submit(ctx context.Context, model string, payload map[string]any) (*falQueueStatus, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fal request: %w", err)
	}
	respBody, err := a.do(ctx, http.MethodPost, a.baseURL+"/"+model, body)
	if err != nil {
		return nil, err
	}
	var status falQueueStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("failed to parse fal submit response: %w", err)
	}
	if status.Status == "" {
		status.Status = "IN_QUEUE"
	}
	return &status, nil
}

func (a *FalAdapter) getStatus(ctx context.Context, url string) (*falQueueStatus, error) {
	respBody, err := a.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var status falQueueStatus
	if err := json.Unmarshal(respBody, &status); err != nil {
		return nil, fmt.Errorf("failed to parse fal status response: %w", err)
	}
	return &status, nil
}

func (a *FalAdapter) fetchResponse(ctx context.Context, url string) (*falResponse, error) {
	respBody, err := a.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var result falResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to parse fal result: %w", err)
	}
	return &result, nil
}

func (a *FalAdapter) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create fal request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Key "+a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fal request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fal response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newStatusError("falai", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
