// Package messaging содержит полезные нагрузки очередей и клиентов
// RabbitMQ: консьюмер задач на запуск пайплайна и паблишер результатов
// для даунстрим-сборки.
package messaging

import (
	"reels-pipeline/internal/model"
)

// Имена очередей по умолчанию.
const (
	DefaultRunTaskQueue  = "reels_pipeline_tasks"
	DefaultResultQueue   = "reels_assembly_tasks"
	RunTaskDLX           = "reels_pipeline_tasks_dlx"
	RunTaskDLQRoutingKey = "dlq"
)

// RunTaskPayload - задача на запуск пайплайна от апстрим-коллаборатора.
type RunTaskPayload struct {
	RunID             string        `json:"runId"`
	Scenes            []model.Scene `json:"scenes"`
	StyleID           string        `json:"styleId"`
	Preset            string        `json:"preset,omitempty"`
	MaxCost           float64       `json:"maxCost,omitempty"`
	MaxTimeSec        int           `json:"maxTimeSec,omitempty"`
	AspectRatio       string        `json:"aspectRatio,omitempty"`
	ContinueOnError   bool          `json:"continueOnError,omitempty"`
	NarrationAudioURL string        `json:"narrationAudioUrl,omitempty"`
}

// SceneTiming - тайминг одной сцены для сборки.
type SceneTiming struct {
	SceneNumber int     `json:"sceneNumber"`
	DurationSec float64 `json:"durationSec"`
}

// AssemblyResultPayload - результат запуска для даунстрим-сборки:
// упорядоченные артефакты и клипы с таймингом, либо структурированная
// ошибка.
type AssemblyResultPayload struct {
	RunID             string                 `json:"runId"`
	StyleID           string                 `json:"styleId"`
	Success           bool                   `json:"success"`
	Artifacts         []model.ArtifactResult `json:"artifacts,omitempty"`
	Clips             []model.Clip           `json:"clips,omitempty"`
	Timings           []SceneTiming          `json:"timings,omitempty"`
	TransitionType    string                 `json:"transitionType,omitempty"`
	Substitutions     []model.Substitution   `json:"substitutions,omitempty"`
	FailedScenes      []model.FailedScene    `json:"failedScenes,omitempty"`
	NarrationAudioURL string                 `json:"narrationAudioUrl,omitempty"`
	ErrorKind         string                 `json:"errorKind,omitempty"`
	ErrorMessage      *string                `json:"errorMessage,omitempty"`
}
