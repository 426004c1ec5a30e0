// Package service связывает этапы пайплайна в один запуск: переговоры
// плана, исполнение, синтез переходов.
package service

import (
	"context"

	"go.uber.org/zap"

	"reels-pipeline/internal/model"
	"reels-pipeline/internal/orchestrate"
	"reels-pipeline/internal/planner"
	"reels-pipeline/internal/style"
	"reels-pipeline/internal/transition"
)

// RunRequest - параметры одного запуска пайплайна.
type RunRequest struct {
	Scenes      []model.Scene
	StyleID     string
	Preset      string
	Constraints *planner.Constraints
	Options     orchestrate.Options
}

// RunOutcome - итог запуска: согласованный план и результат исполнения
// с переходными клипами.
type RunOutcome struct {
	Plan   *model.WorkflowPlan
	Result *model.RunResult
	Style  style.Style
}

// Pipeline - полный конвейер генерации.
type Pipeline struct {
	negotiator   *planner.Negotiator
	orchestrator *orchestrate.Orchestrator
	synthesizer  *transition.Synthesizer
	styles       *style.Engine
	logger       *zap.Logger
}

// NewPipeline создает конвейер.
func NewPipeline(negotiator *planner.Negotiator, orchestrator *orchestrate.Orchestrator, synthesizer *transition.Synthesizer, styles *style.Engine, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		negotiator:   negotiator,
		orchestrator: orchestrator,
		synthesizer:  synthesizer,
		styles:       styles,
		logger:       logger.Named("pipeline"),
	}
}

// Run выполняет запуск целиком. Ошибки конфигурации, политики и бюджета
// возвращаются до первого обращения к провайдеру.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (*RunOutcome, error) {
	plan, err := p.negotiator.Negotiate(ctx, req.Scenes, req.StyleID, req.Constraints, req.Preset)
	if err != nil {
		return nil, err
	}

	st, err := p.styles.Style(req.StyleID)
	if err != nil {
		return nil, err
	}

	result, err := p.orchestrator.Execute(ctx, plan, st, req.Options)
	if err != nil {
		return nil, err
	}

	clips, err := p.synthesizer.Synthesize(ctx, result.Artifacts, st)
	if err != nil {
		return nil, err
	}
	result.Clips = clips

	p.logger.Info("Pipeline run finished",
		zap.String("styleId", req.StyleID),
		zap.Int("artifacts", len(result.Artifacts)),
		zap.Int("clips", len(result.Clips)))

	return &RunOutcome{Plan: plan, Result: result, Style: st}, nil
}
