package model

import "time"

// ArtifactKind - вариант происхождения артефакта.
type ArtifactKind string

const (
	ArtifactLocal  ArtifactKind = "local"  // файл на локальном диске
	ArtifactRemote ArtifactKind = "remote" // ссылка на артефакт у провайдера
)

// ArtifactResult - канонический результат генерации одной сцены.
// Неизменяем после создания; владеет им оркестратор, синтезатор
// переходов и сборка получают его по ссылке.
type ArtifactResult struct {
	ID          string       `json:"id"`
	SceneNumber int          `json:"sceneNumber"`
	ToolID      string       `json:"toolId"`
	Kind        ArtifactKind `json:"kind"`
	LocalPath   string       `json:"localPath,omitempty"`
	RemoteURL   string       `json:"remoteUrl,omitempty"`
	Seed        int64        `json:"seed,omitempty"`
	IsVideo     bool         `json:"isVideo,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Clip - сгенерированный переходный ролик между двумя артефактами.
type Clip struct {
	FromScene   int     `json:"fromScene"`
	ToScene     int     `json:"toScene"`
	ToolID      string  `json:"toolId"`
	LocalPath   string  `json:"localPath,omitempty"`
	RemoteURL   string  `json:"remoteUrl,omitempty"`
	DurationSec float64 `json:"durationSec"`
}

// Substitution - запись о наблюдаемой замене инструмента во время
// исполнения (fallback при недоступном референсе). Замены никогда не
// происходят молча.
type Substitution struct {
	SceneNumber int    `json:"sceneNumber"`
	FromToolID  string `json:"fromToolId"`
	ToToolID    string `json:"toToolId"`
	Reason      string `json:"reason"`
}

// FailedScene - сцена, исключенная из результата в режиме
// continue-on-error.
type FailedScene struct {
	SceneNumber int    `json:"sceneNumber"`
	ToolID      string `json:"toolId"`
	Error       string `json:"error"`
}

// RunResult - итог исполнения плана: упорядоченные артефакты, переходные
// клипы и журнал замен. Передается даунстрим-коллаборатору сборки.
type RunResult struct {
	Artifacts     []ArtifactResult `json:"artifacts"`
	Clips         []Clip           `json:"clips"`
	Substitutions []Substitution   `json:"substitutions,omitempty"`
	FailedScenes  []FailedScene    `json:"failedScenes,omitempty"`
	// Итоговые якоря по lineage-классам (для диагностики и тестов).
	Anchors map[string]ArtifactResult `json:"-"`
}
