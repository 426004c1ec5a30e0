// Package worker обрабатывает задачи на запуск пайплайна из очереди и
// публикует результаты для даунстрим-сборки. Метрики уходят в
// Pushgateway после каждой задачи.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"reels-pipeline/internal/messaging"
	"reels-pipeline/internal/model"
	"reels-pipeline/internal/planner"
	"reels-pipeline/internal/service"
	"reels-pipeline/pkg/taskmanager"
)

// Метрики Prometheus
var (
	runsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reels_pipeline_runs_processed_total",
			Help: "Total number of pipeline runs processed.",
		},
		[]string{"status"}, // "success", "error_pipeline", "error_publish", "error_unmarshal"
	)
	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reels_pipeline_run_duration_seconds",
		Help:    "Duration of full pipeline run processing.",
		Buckets: prometheus.ExponentialBuckets(5, 2, 10),
	})
	fallbackSubstitutions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reels_pipeline_fallback_substitutions_total",
		Help: "Total number of observable fallback tool substitutions.",
	})
	failedScenes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reels_pipeline_failed_scenes_total",
		Help: "Total number of scenes excluded in continue-on-error mode.",
	})
	providerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reels_pipeline_provider_errors_total",
			Help: "Total number of runs failed on provider-side generation errors.",
		},
		[]string{"kind"},
	)
	publishResultErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reels_pipeline_publish_result_errors_total",
		Help: "Total number of errors publishing run results.",
	})
)

// Handler обрабатывает входящие сообщения.
type Handler struct {
	logger          *zap.Logger
	pipeline        *service.Pipeline
	runs            taskmanager.IRunManager
	resultPublisher messaging.Publisher
	pusher          *push.Pusher
}

// NewHandler создает новый экземпляр Handler.
func NewHandler(
	logger *zap.Logger,
	pipeline *service.Pipeline,
	runs taskmanager.IRunManager,
	resultPublisher messaging.Publisher,
	pushGatewayURL string,
) *Handler {
	if resultPublisher == nil {
		logger.Fatal("Result publisher cannot be nil for pipeline handler")
	}

	var pusher *push.Pusher
	if pushGatewayURL != "" {
		hostname, _ := os.Hostname()
		pusher = push.New(pushGatewayURL, "reels-pipeline").
			Grouping("instance", hostname).
			Gatherer(prometheus.DefaultGatherer)
		logger.Info("Prometheus Pusher initialized",
			zap.String("url", pushGatewayURL), zap.String("instance", hostname))
	}

	return &Handler{
		logger:          logger,
		pipeline:        pipeline,
		runs:            runs,
		resultPublisher: resultPublisher,
		pusher:          pusher,
	}
}

// HandleDelivery обрабатывает одну задачу на запуск пайплайна.
// Возвращает true, если сообщение должно быть подтверждено (ack).
func (h *Handler) HandleDelivery(ctx context.Context, msg amqp091.Delivery) bool {
	defer h.pushMetrics()

	var task messaging.RunTaskPayload
	if err := json.Unmarshal(msg.Body, &task); err != nil {
		h.logger.Error("Failed to unmarshal run task payload",
			zap.Error(err),
			zap.String("correlationId", msg.CorrelationId),
			zap.ByteString("body", msg.Body))
		runsProcessed.WithLabelValues("error_unmarshal").Inc()
		return false // Nack - неизвестный формат, уйдет в DLX
	}

	log := h.logger.With(
		zap.String("runId", task.RunID),
		zap.String("styleId", task.StyleID),
		zap.Int("scenes", len(task.Scenes)),
		zap.String("correlationId", msg.CorrelationId))
	log.Info("Received pipeline run task")

	startTime := time.Now()
	outcome, runErr := h.executeRun(ctx, task)
	runDuration.Observe(time.Since(startTime).Seconds())

	result := buildResultPayload(task, outcome, runErr)
	if runErr != nil {
		log.Error("Pipeline run failed", zap.Error(runErr))
		runsProcessed.WithLabelValues("error_pipeline").Inc()
		switch result.ErrorKind {
		case "scene_generation_failed", "staging_error", "transition_generation_failed":
			providerErrors.WithLabelValues(result.ErrorKind).Inc()
		}
	} else {
		runsProcessed.WithLabelValues("success").Inc()
		fallbackSubstitutions.Add(float64(len(result.Substitutions)))
		failedScenes.Add(float64(len(result.FailedScenes)))
	}

	if pubErr := h.resultPublisher.Publish(ctx, result, msg.CorrelationId); pubErr != nil {
		log.Error("Failed to publish run result", zap.Error(pubErr))
		publishResultErrors.Inc()
		runsProcessed.WithLabelValues("error_publish").Inc()
		return false // Nack - результат не доставлен
	}

	log.Info("Run result published", zap.Bool("success", result.Success))
	return true
}

// executeRun ведет запуск через менеджер запусков: статус отслеживается,
// запуск можно отменить.
func (h *Handler) executeRun(ctx context.Context, task messaging.RunTaskPayload) (*service.RunOutcome, error) {
	// Типизированная ошибка пайплайна нужна для errorKind; менеджер
	// запусков хранит только текст, поэтому ловим ее напрямую.
	var pipelineErr error
	runID, err := h.runs.SubmitRun(ctx, func(runCtx context.Context, params interface{}) (interface{}, error) {
		req := params.(service.RunRequest)
		outcome, runErr := h.pipeline.Run(runCtx, req)
		if runErr != nil {
			pipelineErr = runErr
			return nil, runErr
		}
		return outcome, nil
	}, runRequestFrom(task))
	if err != nil {
		return nil, err
	}
	defer h.runs.UnregisterCallbacks(runID)

	done := make(chan *taskmanager.Run, 4)
	if err := h.runs.RegisterCallback(runID, func(run *taskmanager.Run) {
		switch run.Status {
		case taskmanager.RunStatusCompleted, taskmanager.RunStatusFailed, taskmanager.RunStatusCancelled:
			done <- run
		}
	}); err != nil {
		return nil, err
	}

	select {
	case run := <-done:
		switch run.Status {
		case taskmanager.RunStatusCompleted:
			return run.Result.(*service.RunOutcome), nil
		case taskmanager.RunStatusCancelled:
			return nil, context.Canceled
		default:
			if pipelineErr != nil {
				return nil, pipelineErr
			}
			return nil, errors.New(run.Message)
		}
	case <-ctx.Done():
		_ = h.runs.CancelRun(runID)
		return nil, ctx.Err()
	}
}

func runRequestFrom(task messaging.RunTaskPayload) service.RunRequest {
	req := service.RunRequest{
		Scenes:  task.Scenes,
		StyleID: task.StyleID,
		Preset:  task.Preset,
	}
	req.Options.ContinueOnError = task.ContinueOnError
	req.Options.AspectRatio = task.AspectRatio
	if task.MaxCost > 0 || task.MaxTimeSec > 0 {
		req.Constraints = &planner.Constraints{MaxCost: task.MaxCost, MaxTimeSec: task.MaxTimeSec}
	}
	return req
}

// buildResultPayload собирает результат для сборки из итога запуска
// либо из структурированной ошибки.
func buildResultPayload(task messaging.RunTaskPayload, outcome *service.RunOutcome, runErr error) messaging.AssemblyResultPayload {
	result := messaging.AssemblyResultPayload{
		RunID:             task.RunID,
		StyleID:           task.StyleID,
		NarrationAudioURL: task.NarrationAudioURL,
	}
	if runErr != nil {
		result.ErrorKind = errorKind(runErr)
		errMsg := runErr.Error()
		result.ErrorMessage = &errMsg
		return result
	}

	result.Success = true
	result.Artifacts = outcome.Result.Artifacts
	result.Clips = outcome.Result.Clips
	result.Substitutions = outcome.Result.Substitutions
	result.FailedScenes = outcome.Result.FailedScenes
	result.TransitionType = outcome.Style.Transitions.Type
	for _, sp := range outcome.Plan.Scenes {
		if sp.Excluded {
			continue
		}
		result.Timings = append(result.Timings, messaging.SceneTiming{
			SceneNumber: sp.Scene.Number,
			DurationSec: sp.Scene.DurationSec,
		})
	}
	return result
}

// errorKind - машиночитаемый вид ошибки для даунстрим-потребителя.
func errorKind(err error) string {
	var (
		cfgErr    *model.ConfigurationError
		policyErr *model.PolicyViolation
		budgetErr *model.BudgetUnsatisfiable
		sceneErr  *model.SceneGenerationFailed
		stageErr  *model.StagingError
		trErr     *model.TransitionGenerationFailed
	)
	switch {
	// Отмена проверяется первой: она может прийти завернутой в ошибку
	// генерации сцены или перехода.
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.As(err, &cfgErr):
		return "configuration_error"
	case errors.As(err, &policyErr):
		return "policy_violation"
	case errors.As(err, &budgetErr):
		return "budget_unsatisfiable"
	case errors.As(err, &sceneErr):
		return "scene_generation_failed"
	case errors.As(err, &stageErr):
		return "staging_error"
	case errors.As(err, &trErr):
		return "transition_generation_failed"
	default:
		return "internal_error"
	}
}

// pushMetrics отправляет метрики в Pushgateway, если он настроен.
func (h *Handler) pushMetrics() {
	if h.pusher == nil {
		return
	}
	if err := h.pusher.Push(); err != nil {
		h.logger.Error("Failed to push metrics to Pushgateway", zap.Error(err))
	} else {
		h.logger.Debug("Metrics pushed to Pushgateway")
	}
}
