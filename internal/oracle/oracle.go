// Package oracle содержит совещательный рекомендатель инструментов.
// Его рекомендации никогда не являются окончательными: движок стилей
// перекрывает их жесткими правилами, а негоциатор бюджета может
// удешевить. Сбой оракула не фатален для планирования.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"reels-pipeline/internal/catalog"
	"reels-pipeline/internal/model"
)

// ErrEmptyResponse - API вернул ответ без вариантов.
var ErrEmptyResponse = errors.New("empty response from oracle API")

// Advice - рекомендация оракула для одной сцены. Недоверенный вход:
// ссылки на неизвестные инструменты отбрасываются негоциатором.
type Advice struct {
	SceneNumber int    `json:"scene"`
	ToolID      string `json:"tool"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// Advisor - совещательный рекомендатель назначения инструментов сценам.
type Advisor interface {
	Recommend(ctx context.Context, scenes []model.Scene, styleID, preset string) ([]Advice, error)
}

const systemPromptTemplate = `You are a visual production routing assistant for short social videos.
Assign exactly one generation tool to every scene. Balance quality against cost and latency.
Available tools:
%s
Respond with JSON only: {"assignments": [{"scene": <number>, "tool": "<tool id>", "reasoning": "<short>"}]}`

// Config - конфигурация клиента оракула.
type Config struct {
	APIKey     string
	BaseURL    string
	ModelName  string
	Timeout    int // секунды
	MaxRetries int
}

// Client - реализация Advisor поверх OpenAI-совместимого API.
type Client struct {
	client       *openai.Client
	modelName    string
	timeout      time.Duration
	maxRetries   int
	systemPrompt string
	logger       *zap.Logger
}

// New создает клиента оракула. Каталог нужен для описания инструментов
// в системном промпте.
func New(cfg Config, cat *catalog.Catalog, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("oracle API key is not set")
	}
	if cfg.ModelName == "" {
		cfg.ModelName = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return &Client{
		client:       openai.NewClientWithConfig(config),
		modelName:    cfg.ModelName,
		timeout:      time.Duration(cfg.Timeout) * time.Second,
		maxRetries:   cfg.MaxRetries,
		systemPrompt: fmt.Sprintf(systemPromptTemplate, cat.Summary()),
		logger:       logger.Named("oracle"),
	}, nil
}

type sceneBrief struct {
	Number            int    `json:"number"`
	ContentType       string `json:"contentType"`
	Prompt            string `json:"prompt,omitempty"`
	RequiresReference bool   `json:"requiresReference,omitempty"`
	Morph             bool   `json:"morph,omitempty"`
}

type assignmentsResponse struct {
	Assignments []Advice `json:"assignments"`
}

// Recommend запрашивает у модели назначение инструментов сценам.
// Один вызов на одну негоциацию.
func (c *Client) Recommend(ctx context.Context, scenes []model.Scene, styleID, preset string) ([]Advice, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	briefs := make([]sceneBrief, len(scenes))
	for i, s := range scenes {
		briefs[i] = sceneBrief{
			Number:            s.Number,
			ContentType:       string(s.ContentType),
			Prompt:            s.Prompt,
			RequiresReference: s.RequiresReference,
			Morph:             s.IsMorph(),
		}
	}
	payload, err := json.Marshal(map[string]any{
		"style":  styleID,
		"preset": preset,
		"scenes": briefs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal oracle request: %w", err)
	}
	userPrompt := string(payload)

	c.logPromptSize(userPrompt)

	var lastErr error
	attempts := 0
	for attempts < c.maxRetries {
		attempts++

		req := openai.ChatCompletionRequest{
			Model: c.modelName,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: c.systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: 0.2,
			MaxTokens:   2000,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		}

		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			c.logger.Warn("Oracle request failed",
				zap.Int("attempt", attempts), zap.Error(err))
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = ErrEmptyResponse
			continue
		}

		var parsed assignmentsResponse
		if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
			lastErr = fmt.Errorf("failed to parse oracle response: %w", err)
			c.logger.Warn("Oracle returned malformed JSON",
				zap.Int("attempt", attempts), zap.Error(err))
			continue
		}

		c.logger.Info("Oracle recommendation received",
			zap.String("model", c.modelName),
			zap.Int("scenes", len(scenes)),
			zap.Int("assignments", len(parsed.Assignments)),
			zap.Int("promptTokens", resp.Usage.PromptTokens),
			zap.Int("completionTokens", resp.Usage.CompletionTokens))

		return parsed.Assignments, nil
	}

	return nil, fmt.Errorf("oracle failed after %d attempts: %w", c.maxRetries, lastErr)
}

// logPromptSize оценивает размер промпта в токенах до отправки. Ошибка
// токенизатора не мешает запросу.
func (c *Client) logPromptSize(userPrompt string) {
	tke, err := tiktoken.EncodingForModel(c.modelName)
	if err != nil {
		tke, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		c.logger.Debug("Tokenizer unavailable, skipping prompt size estimate", zap.Error(err))
		return
	}
	estimate := len(tke.Encode(c.systemPrompt, nil, nil)) + len(tke.Encode(userPrompt, nil, nil))
	c.logger.Debug("Oracle prompt prepared", zap.Int("estimatedPromptTokens", estimate))
}
