// Package transition генерирует переходные клипы между соседними
// артефактами сцен. Синтезатор производит только morph-клипы через
// dual-frame инструменты; crossfade и резкие склейки - забота сборки.
package transition

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"reels-pipeline/internal/artifact"
	"reels-pipeline/internal/catalog"
	"reels-pipeline/internal/model"
	"reels-pipeline/internal/provider"
	"reels-pipeline/internal/style"
)

// Config - конфигурация синтезатора.
type Config struct {
	MaxAttempts    int
	BaseRetryDelay time.Duration
	CallTimeout    time.Duration
	// ClipDurationSec - длительность morph-клипа в секундах.
	ClipDurationSec float64
}

// Synthesizer генерирует morph-переходы для пар соседних артефактов.
type Synthesizer struct {
	cat      *catalog.Catalog
	adapters map[string]provider.Adapter
	store    *artifact.Store
	cfg      Config
	logger   *zap.Logger
}

// New создает синтезатор переходов.
func New(cat *catalog.Catalog, adapters []provider.Adapter, store *artifact.Store, cfg Config, logger *zap.Logger) *Synthesizer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = 2 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Minute
	}
	if cfg.ClipDurationSec <= 0 {
		cfg.ClipDurationSec = 1.0
	}
	byProvider := make(map[string]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byProvider[a.Provider()] = a
	}
	return &Synthesizer{
		cat:      cat,
		adapters: byProvider,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("transition"),
	}
}

// Synthesize генерирует клипы между соседними артефактами запуска.
// Для стилей без morph-переходов возвращает пустой список. Пары, где
// один из артефактов - видео, пропускаются: кадрами morph служат только
// изображения.
func (s *Synthesizer) Synthesize(ctx context.Context, arts []model.ArtifactResult, st style.Style) ([]model.Clip, error) {
	if st.Transitions.Type != style.TransitionMorph {
		return nil, nil
	}

	spec, err := s.cat.Tool(st.MorphTool())
	if err != nil {
		return nil, err
	}
	if !spec.Caps.DualFrameMorph {
		return nil, &model.ConfigurationError{
			Ref: spec.ID, Msg: "transition tool does not support dual-frame morph",
		}
	}

	var clips []model.Clip
	for i := 0; i+1 < len(arts); i++ {
		from, to := arts[i], arts[i+1]
		if from.IsVideo || to.IsVideo {
			s.logger.Debug("Skipping morph for video pair",
				zap.Int("fromScene", from.SceneNumber), zap.Int("toScene", to.SceneNumber))
			continue
		}

		clip, err := s.synthesizePair(ctx, spec, from, to)
		if err != nil {
			return clips, err
		}
		clips = append(clips, *clip)
	}

	s.logger.Info("Transitions synthesized",
		zap.String("tool", spec.ID), zap.Int("clips", len(clips)))
	return clips, nil
}

// synthesizePair генерирует один переходный клип. Кадры публикуются один
// раз до первого вызова; все ретраи используют те же два URL.
func (s *Synthesizer) synthesizePair(ctx context.Context, spec catalog.ToolSpec, from, to model.ArtifactResult) (*model.Clip, error) {
	firstURL, err := s.stageFrame(from)
	if err != nil {
		return nil, &model.StagingError{SceneNumber: from.SceneNumber, ToolID: spec.ID, Err: err}
	}
	lastURL, err := s.stageFrame(to)
	if err != nil {
		return nil, &model.StagingError{SceneNumber: to.SceneNumber, ToolID: spec.ID, Err: err}
	}

	adapter, ok := s.adapters[spec.Provider]
	if !ok {
		return nil, &model.ConfigurationError{Ref: spec.Provider, Msg: "no adapter for provider"}
	}

	req := provider.Request{
		SceneNumber:   from.SceneNumber,
		ToolID:        spec.ID,
		Model:         spec.Model,
		Prompt:        fmt.Sprintf("seamless morph transition, scene %d to scene %d", from.SceneNumber, to.SceneNumber),
		FirstFrameURL: firstURL,
		LastFrameURL:  lastURL,
		DurationSec:   s.cfg.ClipDurationSec,
	}

	var res *provider.Result
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
		res, err = adapter.Invoke(callCtx, req)
		cancel()
		if err == nil {
			break
		}
		if ctx.Err() != nil || !provider.IsTransient(err) || attempt == s.cfg.MaxAttempts {
			return nil, &model.TransitionGenerationFailed{
				FromScene: from.SceneNumber, ToScene: to.SceneNumber, ToolID: spec.ID, Err: err,
			}
		}
		delay := retryDelay(s.cfg.BaseRetryDelay, attempt)
		s.logger.Warn("Transient provider error on transition, retrying",
			zap.Int("fromScene", from.SceneNumber),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, &model.TransitionGenerationFailed{
				FromScene: from.SceneNumber, ToScene: to.SceneNumber, ToolID: spec.ID, Err: ctx.Err(),
			}
		case <-time.After(delay):
		}
	}
	if len(res.RemoteURLs) == 0 {
		return nil, &model.TransitionGenerationFailed{
			FromScene: from.SceneNumber, ToScene: to.SceneNumber, ToolID: spec.ID,
			Err: provider.ErrNoArtifacts,
		}
	}

	remoteURL := res.RemoteURLs[0]
	localPath, err := s.store.FetchRemote(ctx, remoteURL, ".mp4")
	if err != nil {
		return nil, &model.TransitionGenerationFailed{
			FromScene: from.SceneNumber, ToScene: to.SceneNumber, ToolID: spec.ID, Err: err,
		}
	}

	return &model.Clip{
		FromScene:   from.SceneNumber,
		ToScene:     to.SceneNumber,
		ToolID:      spec.ID,
		LocalPath:   localPath,
		RemoteURL:   remoteURL,
		DurationSec: s.cfg.ClipDurationSec,
	}, nil
}

// stageFrame возвращает публичный URL кадра.
func (s *Synthesizer) stageFrame(art model.ArtifactResult) (string, error) {
	if art.LocalPath != "" {
		return s.store.Publish(art.LocalPath)
	}
	if art.RemoteURL != "" {
		return art.RemoteURL, nil
	}
	return "", fmt.Errorf("artifact %s has neither local path nor remote URL", art.ID)
}

// retryDelay - экспоненциальный backoff с джиттером ±10%.
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(delay)/5+1)) - delay/10
	return delay + jitter
}
