// Package orchestrate исполняет согласованный план генерации: ведет
// контекст референсов по lineage-классам, вызывает адаптеры провайдеров,
// нормализует ответы в ArtifactResult и выгружает удаленные артефакты
// на локальный диск. Непересекающиеся lineage-цепочки исполняются
// конкурентно, сцены внутри цепочки - строго по порядку.
package orchestrate

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reels-pipeline/internal/artifact"
	"reels-pipeline/internal/catalog"
	"reels-pipeline/internal/model"
	"reels-pipeline/internal/provider"
	"reels-pipeline/internal/style"
)

// Options - параметры одного запуска.
type Options struct {
	// ContinueOnError исключает упавшие сцены из результата вместо
	// остановки всего запуска. Упавшая сцена не становится якорем.
	ContinueOnError bool
	AspectRatio     string
}

// Config - конфигурация оркестратора.
type Config struct {
	MaxAttempts    int           // попыток на сцену, включая первую
	BaseRetryDelay time.Duration // база экспоненциального backoff
	CallTimeout    time.Duration // таймаут одного вызова провайдера
	MaxConcurrent  int           // одновременно исполняемых lineage-цепочек
}

// Orchestrator - исполнитель планов генерации.
type Orchestrator struct {
	cat      *catalog.Catalog
	adapters map[string]provider.Adapter
	store    *artifact.Store
	cfg      Config
	logger   *zap.Logger
}

// New создает оркестратор. Адаптеры индексируются по id провайдера.
func New(cat *catalog.Catalog, adapters []provider.Adapter, store *artifact.Store, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseRetryDelay <= 0 {
		cfg.BaseRetryDelay = 2 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Minute
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	byProvider := make(map[string]provider.Adapter, len(adapters))
	for _, a := range adapters {
		byProvider[a.Provider()] = a
	}
	return &Orchestrator{
		cat:      cat,
		adapters: byProvider,
		store:    store,
		cfg:      cfg,
		logger:   logger.Named("orchestrate"),
	}
}

// lineageOutcome - результат исполнения одной lineage-цепочки.
type lineageOutcome struct {
	class         string
	artifacts     []model.ArtifactResult
	substitutions []model.Substitution
	failed        []model.FailedScene
	anchor        *model.ArtifactResult
	err           error
}

// Execute исполняет план и возвращает упорядоченный результат запуска.
// При отмене контекста новые сцены не запускаются; уже идущие вызовы
// завершаются по своим таймаутам.
func (o *Orchestrator) Execute(ctx context.Context, plan *model.WorkflowPlan, st style.Style, opts Options) (*model.RunResult, error) {
	classes := st.LineageClasses()

	// Разбивка сцен плана на цепочки с сохранением порядка внутри каждой.
	chainOrder := make([]string, 0)
	chains := make(map[string][]*model.ScenePlan)
	for i := range plan.Scenes {
		sp := &plan.Scenes[i]
		if sp.Excluded {
			continue
		}
		class := classes.Class(sp.Scene.ContentType)
		if _, ok := chains[class]; !ok {
			chainOrder = append(chainOrder, class)
		}
		chains[class] = append(chains[class], sp)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, o.cfg.MaxConcurrent)
	outcomes := make([]lineageOutcome, len(chainOrder))
	var wg sync.WaitGroup

	for i, class := range chainOrder {
		wg.Add(1)
		go func(i int, class string, scenes []*model.ScenePlan) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = o.runLineage(runCtx, class, scenes, opts)
			if outcomes[i].err != nil && !opts.ContinueOnError {
				cancel()
			}
		}(i, class, chains[class])
	}
	wg.Wait()

	result := &model.RunResult{Anchors: make(map[string]model.ArtifactResult)}
	var firstErr error
	for _, out := range outcomes {
		result.Artifacts = append(result.Artifacts, out.artifacts...)
		result.Substitutions = append(result.Substitutions, out.substitutions...)
		result.FailedScenes = append(result.FailedScenes, out.failed...)
		if out.anchor != nil {
			result.Anchors[out.class] = *out.anchor
		}
		if out.err != nil && firstErr == nil {
			firstErr = out.err
		}
	}
	if firstErr != nil && !opts.ContinueOnError {
		return nil, firstErr
	}

	sort.Slice(result.Artifacts, func(i, j int) bool {
		return result.Artifacts[i].SceneNumber < result.Artifacts[j].SceneNumber
	})
	sort.Slice(result.Substitutions, func(i, j int) bool {
		return result.Substitutions[i].SceneNumber < result.Substitutions[j].SceneNumber
	})

	o.logger.Info("Plan executed",
		zap.String("styleId", plan.StyleID),
		zap.Int("artifacts", len(result.Artifacts)),
		zap.Int("substitutions", len(result.Substitutions)),
		zap.Int("failedScenes", len(result.FailedScenes)))
	return result, nil
}

// runLineage исполняет сцены одной цепочки строго по порядку. Якорь
// цепочки - первый успешный артефакт-изображение; им владеет только эта
// горутина.
func (o *Orchestrator) runLineage(ctx context.Context, class string, scenes []*model.ScenePlan, opts Options) lineageOutcome {
	out := lineageOutcome{class: class}
	log := o.logger.With(zap.String("lineage", class))

	for _, sp := range scenes {
		if ctx.Err() != nil {
			return out
		}

		art, sub, err := o.runScene(ctx, sp, out.anchor, opts)
		if sub != nil {
			out.substitutions = append(out.substitutions, *sub)
		}
		if err != nil {
			if !opts.ContinueOnError {
				out.err = err
				return out
			}
			log.Warn("Scene failed, excluding from run",
				zap.Int("scene", sp.Scene.Number), zap.Error(err))
			sp.Excluded = true
			out.failed = append(out.failed, model.FailedScene{
				SceneNumber: sp.Scene.Number,
				ToolID:      sp.ToolID,
				Error:       err.Error(),
			})
			continue
		}

		out.artifacts = append(out.artifacts, *art)
		// Якорем может быть только изображение: видео-артефакт нельзя
		// передать инструменту изображений как референс.
		if out.anchor == nil && !art.IsVideo {
			out.anchor = art
			log.Info("Lineage anchor established",
				zap.Int("scene", art.SceneNumber), zap.String("artifactId", art.ID))
		}
	}
	return out
}

// runScene исполняет одну сцену: выбор инструмента с учетом доступности
// референса, вызов провайдера с ретраями, нормализация результата.
func (o *Orchestrator) runScene(ctx context.Context, sp *model.ScenePlan, anchor *model.ArtifactResult, opts Options) (*model.ArtifactResult, *model.Substitution, error) {
	if sp.Scene.IsMorph() {
		return o.runMorphScene(ctx, sp, opts)
	}

	spec, err := o.cat.Tool(sp.ToolID)
	if err != nil {
		return nil, nil, err
	}

	// Динамическая проверка референса: план мог рассчитывать на якорь,
	// который не появился (например, сцена-якорь исключена).
	var sub *model.Substitution
	if spec.Caps.RequiresReference && anchor == nil {
		fb, err := o.cat.FallbackFor(sp.Scene.ContentType)
		if err != nil {
			return nil, nil, err
		}
		sub = &model.Substitution{
			SceneNumber: sp.Scene.Number,
			FromToolID:  spec.ID,
			ToToolID:    fb.ID,
			Reason:      "no reference available in lineage at execution time",
		}
		o.logger.Warn("Fallback substitution",
			zap.Int("scene", sp.Scene.Number),
			zap.String("from", spec.ID),
			zap.String("to", fb.ID))
		sp.ToolID = fb.ID
		sp.Reasoning = sub.Reason
		spec = fb
	}

	req := provider.Request{
		SceneNumber: sp.Scene.Number,
		ToolID:      spec.ID,
		Model:       spec.Model,
		Prompt:      sp.Scene.Prompt,
		AspectRatio: opts.AspectRatio,
		DurationSec: sp.Scene.DurationSec,
	}
	if spec.Caps.RequiresReference && anchor != nil {
		refURL, err := o.stageArtifact(anchor)
		if err != nil {
			return nil, sub, &model.StagingError{
				SceneNumber: sp.Scene.Number, ToolID: spec.ID, Err: err,
			}
		}
		if spec.Modality == catalog.ModalityVideo {
			req.FirstFrameURL = refURL
		} else {
			req.ReferenceURL = refURL
		}
	}

	art, err := o.invokeAndNormalize(ctx, spec, req)
	if err != nil {
		return nil, sub, err
	}
	return art, sub, nil
}

// runMorphScene генерирует morph-сцену: два кадра дешевым инструментом
// без референса, затем dual-frame инструмент поверх пары кадров.
func (o *Orchestrator) runMorphScene(ctx context.Context, sp *model.ScenePlan, opts Options) (*model.ArtifactResult, *model.Substitution, error) {
	morphSpec, err := o.cat.Tool(sp.ToolID)
	if err != nil {
		return nil, nil, err
	}
	frameSpec, err := o.cat.FallbackFor(sp.Scene.ContentType)
	if err != nil {
		return nil, nil, err
	}

	frames := make([]string, 0, 2)
	for _, prompt := range []string{sp.Scene.StartPrompt, sp.Scene.EndPrompt} {
		frameArt, err := o.invokeAndNormalize(ctx, frameSpec, provider.Request{
			SceneNumber: sp.Scene.Number,
			ToolID:      frameSpec.ID,
			Model:       frameSpec.Model,
			Prompt:      prompt,
			AspectRatio: opts.AspectRatio,
		})
		if err != nil {
			return nil, nil, err
		}
		frameURL, err := o.stageArtifact(frameArt)
		if err != nil {
			return nil, nil, &model.StagingError{
				SceneNumber: sp.Scene.Number, ToolID: morphSpec.ID, Err: err,
			}
		}
		frames = append(frames, frameURL)
	}

	prompt := sp.Scene.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf("smooth transition from %q to %q", sp.Scene.StartPrompt, sp.Scene.EndPrompt)
	}
	art, err := o.invokeAndNormalize(ctx, morphSpec, provider.Request{
		SceneNumber:   sp.Scene.Number,
		ToolID:        morphSpec.ID,
		Model:         morphSpec.Model,
		Prompt:        prompt,
		AspectRatio:   opts.AspectRatio,
		FirstFrameURL: frames[0],
		LastFrameURL:  frames[1],
		DurationSec:   sp.Scene.DurationSec,
	})
	if err != nil {
		return nil, nil, err
	}
	return art, nil, nil
}

// invokeAndNormalize вызывает адаптер с ретраями на транзиентных ошибках
// и приводит ответ к каноническому ArtifactResult. Удаленный артефакт
// выгружается на локальный диск.
func (o *Orchestrator) invokeAndNormalize(ctx context.Context, spec catalog.ToolSpec, req provider.Request) (*model.ArtifactResult, error) {
	adapter, ok := o.adapters[spec.Provider]
	if !ok {
		return nil, &model.ConfigurationError{Ref: spec.Provider, Msg: "no adapter for provider"}
	}

	var res *provider.Result
	var err error
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		res, err = adapter.Invoke(callCtx, req)
		cancel()
		if err == nil {
			break
		}
		if ctx.Err() != nil || !provider.IsTransient(err) || attempt == o.cfg.MaxAttempts {
			return nil, &model.SceneGenerationFailed{
				SceneNumber: req.SceneNumber, ToolID: spec.ID, Err: err,
			}
		}
		delay := retryDelay(o.cfg.BaseRetryDelay, attempt)
		o.logger.Warn("Transient provider error, retrying",
			zap.Int("scene", req.SceneNumber),
			zap.String("tool", spec.ID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, &model.SceneGenerationFailed{
				SceneNumber: req.SceneNumber, ToolID: spec.ID, Err: ctx.Err(),
			}
		case <-time.After(delay):
		}
	}
	if len(res.RemoteURLs) == 0 {
		return nil, &model.SceneGenerationFailed{
			SceneNumber: req.SceneNumber, ToolID: spec.ID, Err: provider.ErrNoArtifacts,
		}
	}

	isVideo := spec.Modality == catalog.ModalityVideo
	fallbackExt := ".png"
	if isVideo {
		fallbackExt = ".mp4"
	}
	remoteURL := res.RemoteURLs[0]
	localPath, err := o.store.FetchRemote(ctx, remoteURL, fallbackExt)
	if err != nil {
		return nil, &model.SceneGenerationFailed{
			SceneNumber: req.SceneNumber, ToolID: spec.ID, Err: err,
		}
	}

	return &model.ArtifactResult{
		ID:          uuid.NewString(),
		SceneNumber: req.SceneNumber,
		ToolID:      spec.ID,
		Kind:        model.ArtifactLocal,
		LocalPath:   localPath,
		RemoteURL:   remoteURL,
		Seed:        res.Seed,
		IsVideo:     isVideo,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// stageArtifact возвращает публичный URL артефакта, публикуя локальный
// файл при необходимости.
func (o *Orchestrator) stageArtifact(art *model.ArtifactResult) (string, error) {
	if art.LocalPath != "" {
		return o.store.Publish(art.LocalPath)
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
