// Package provider содержит адаптеры внешних провайдеров генерации.
// Каждый адаптер владеет своей таблицей переименования канонических
// полей запроса в поля провайдера: имена полей провайдера не покидают
// пакет. Ответы разных провайдеров нормализуются в единый Result.
package provider

import "context"

// Request - канонический запрос генерации. Поля именованы в терминах
// пайплайна; адаптер сам переводит их в формат провайдера.
type Request struct {
	SceneNumber    int
	ToolID         string
	Model          string // идентификатор модели у провайдера (из каталога)
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	ReferenceURL   string // референс персонажа/объекта
	FirstFrameURL  string // первый кадр для видео / morph
	LastFrameURL   string // последний кадр для morph
	DurationSec    float64
	Seed           int64
}

// Result - нормализованный ответ провайдера.
type Result struct {
	RemoteURLs []string // один или несколько артефактов
	Seed       int64
}

// Adapter - клиент одного провайдера генерации.
type Adapter interface {
	// Provider возвращает id провайдера (совпадает с ToolSpec.Provider).
	Provider() string
	// Invoke выполняет один запрос генерации. Классификация ошибки
	// (транзиентная или перманентная) доступна через IsTransient.
	Invoke(ctx context.Context, req Request) (*Result, error)
}
