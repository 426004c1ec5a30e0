package model

import (
	"fmt"
	"strings"
)

// Таксономия ошибок пайплайна. Ошибки конфигурации, политики и бюджета
// обнаруживаются до первого обращения к провайдеру. Каждая ошибка
// исполнения несет номер сцены и последний запрошенный инструмент.

// ConfigurationError - ссылка на неизвестный стиль или инструмент.
type ConfigurationError struct {
	Ref string // что именно не найдено (style id / tool id)
	Msg string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Ref, e.Msg)
}

// PolicyViolation - требования стиля невыполнимы для данного набора сцен.
type PolicyViolation struct {
	StyleID      string
	SceneNumbers []int
	Msg          string
}

func (e *PolicyViolation) Error() string {
	nums := make([]string, len(e.SceneNumbers))
	for i, n := range e.SceneNumbers {
		nums[i] = fmt.Sprintf("%d", n)
	}
	return fmt.Sprintf("policy violation for style %q: %s (scenes: %s)",
		e.StyleID, e.Msg, strings.Join(nums, ", "))
}

// BudgetUnsatisfiable - ни один план не укладывается в ограничения.
// Содержит минимально достижимые стоимость и время.
type BudgetUnsatisfiable struct {
	MaxCost    float64
	MaxTimeSec int
	MinCost    float64
	MinTimeSec int
}

func (e *BudgetUnsatisfiable) Error() string {
	return fmt.Sprintf("budget unsatisfiable: minimal achievable cost $%.2f / time %ds exceeds limit cost $%.2f / time %ds",
		e.MinCost, e.MinTimeSec, e.MaxCost, e.MaxTimeSec)
}

// SceneGenerationFailed - перманентная ошибка провайдера при генерации
// сцены (ошибка валидации, отклонение контента, исчерпание ретраев).
type SceneGenerationFailed struct {
	SceneNumber int
	ToolID      string
	Err         error
}

func (e *SceneGenerationFailed) Error() string {
	return fmt.Sprintf("scene %d generation failed (tool %s): %v", e.SceneNumber, e.ToolID, e.Err)
}

func (e *SceneGenerationFailed) Unwrap() error { return e.Err }

// StagingError - артефакт не удалось сделать доступным по URL для
// провайдера (публикация/выгрузка не удалась).
type StagingError struct {
	SceneNumber int
	ToolID      string
	Err         error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("staging failed for scene %d (tool %s): %v", e.SceneNumber, e.ToolID, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// TransitionGenerationFailed - провайдер отклонил генерацию переходного
// клипа между двумя сценами.
type TransitionGenerationFailed struct {
	FromScene int
	ToScene   int
	ToolID    string
	Err       error
}

func (e *TransitionGenerationFailed) Error() string {
	return fmt.Sprintf("transition %d->%d generation failed (tool %s): %v",
		e.FromScene, e.ToScene, e.ToolID, e.Err)
}

func (e *TransitionGenerationFailed) Unwrap() error { return e.Err }
