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

const replicateDefaultBaseURL = "https://api.replicate.com"

// replicateFieldMap - переименование канонических полей в поля моделей
// Replicate. Модели расходятся в именовании входного кадра, поэтому
// таблица ведется по инструментам.
var replicateFieldMap = map[string]map[string]string{
	"seedream4":      {"reference": "image"},
	"minimax_hailuo": {"first_frame": "first_frame_image"},
	"minimax_t2v":    {},
	"runway_gen4":    {"first_frame": "image"},
	"luma_ray":       {"first_frame": "start_image_url"},
	"wan_i2v":        {"first_frame": "image"},
}

// ReplicateAdapter - адаптер Replicate Predictions API.
type ReplicateAdapter struct {
	baseURL      string
	token        string
	httpc        *http.Client
	pollInterval time.Duration
	logger       *zap.Logger
}

// NewReplicate создает адаптер Replicate.
func NewReplicate(baseURL, token string, timeout time.Duration, logger *zap.Logger) *ReplicateAdapter {
	if baseURL == "" {
		baseURL = replicateDefaultBaseURL
	}
	return &ReplicateAdapter{
		baseURL:      baseURL,
		token:        token,
		httpc:        &http.Client{Timeout: timeout},
		pollInterval: 2 * time.Second,
		logger:       logger.Named("replicate"),
	}
}

func (a *ReplicateAdapter) Provider() string { return "replicate" }

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

// Invoke создает prediction и опрашивает его до терминального статуса.
func (a *ReplicateAdapter) Invoke(ctx context.Context, req Request) (*Result, error) {
	input := map[string]any{"prompt": req.Prompt}
	if req.NegativePrompt != "" {
		input["negative_prompt"] = req.NegativePrompt
	}
	if req.AspectRatio != "" {
		input["aspect_ratio"] = req.AspectRatio
	}
	if req.Seed > 0 {
		input["seed"] = req.Seed
	}
	fields := replicateFieldMap[req.ToolID]
	if req.ReferenceURL != "" {
		if name, ok := fields["reference"]; ok {
			input[name] = req.ReferenceURL
			// Сила влияния референса подобрана продуктом, не варьируется.
			input["prompt_strength"] = 0.8
		}
	}
	if req.FirstFrameURL != "" {
		if name, ok := fields["first_frame"]; ok {
			input[name] = req.FirstFrameURL
		}
	}

	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal replicate request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/models/%s/predictions", a.baseURL, req.Model)
	pred, err := a.doPrediction(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}

	for pred.Status == "starting" || pred.Status == "processing" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.pollInterval):
		}
		pred, err = a.doPrediction(ctx, http.MethodGet, pred.URLs.Get, nil)
		if err != nil {
			return nil, err
		}
	}

	switch pred.Status {
	case "succeeded":
		urls, err := normalizeReplicateOutput(pred.Output)
		if err != nil {
			return nil, err
		}
		a.logger.Debug("Prediction succeeded",
			zap.String("tool", req.ToolID), zap.Int("artifacts", len(urls)))
		return &Result{RemoteURLs: urls, Seed: req.Seed}, nil
	case "canceled":
		return nil, &Error{Provider: "replicate", Msg: "prediction canceled", Transient: true}
	default: // failed
		return nil, &Error{Provider: "replicate",
			Msg: fmt.Sprintf("prediction %s: %s", pred.Status, pred.Error)}
	}
}

func (a *ReplicateAdapter) doPrediction(ctx context.Context, method, url string, body []byte) (*replicatePrediction, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create replicate request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.token)
	httpReq.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		// Ждем завершения до минуты синхронно, дальше переходим на опрос.
		httpReq.Header.Set("Prefer", "wait=60")
	}

	resp, err := a.httpc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("replicate request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read replicate response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, newStatusError("replicate", resp.StatusCode, string(respBody))
	}

	var pred replicatePrediction
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return nil, fmt.Errorf("failed to parse replicate response: %w", err)
	}
	return &pred, nil
}

// normalizeReplicateOutput приводит output к списку URL: модели Replicate
// возвращают либо одну строку, либо список строк.
func normalizeReplicateOutput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, ErrNoArtifacts
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == "" {
			return nil, ErrNoArtifacts
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return nil, ErrNoArtifacts
		}
		return list, nil
	}
	return nil, fmt.Errorf("unexpected replicate output shape: %s", string(raw))
}
