// Package catalog содержит статические метаданные инструментов генерации:
// стоимость, оценку латентности, флаги возможностей и цепочки удешевления.
// Каталог - данные для принятия решений; сами вызовы провайдеров живут
// в адаптерах (internal/provider).
package catalog

import (
	"fmt"
	"sort"

	"reels-pipeline/internal/model"
)

// Modality - модальность результата инструмента.
type Modality string

const (
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
)

// Capabilities - флаги возможностей инструмента.
type Capabilities struct {
	AcceptsReference  bool // умеет учитывать референсное изображение
	RequiresReference bool // не работает без референса/входного кадра
	DualFrameMorph    bool // принимает пару кадров (первый/последний)
}

// ToolSpec - спецификация одного инструмента генерации.
type ToolSpec struct {
	ID          string
	Modality    Modality
	Provider    string // id провайдера: replicate / falai / apiframe
	Model       string // идентификатор модели у провайдера
	CostPerUnit float64
	LatencySec  int
	Caps        Capabilities
	// Requires - канонические поля запроса, обязательные для инструмента.
	// Переименование канонических полей в поля провайдера - забота адаптера.
	Requires []string
	// Downgrades - более дешевые совместимые по возможностям альтернативы,
	// в порядке предпочтения.
	Downgrades []string
}

// Catalog - реестр инструментов плюс настроенные fallback-инструменты
// без референса по типам содержимого.
type Catalog struct {
	tools             map[string]ToolSpec
	fallbackByContent map[model.ContentType]string
}

// Default возвращает каталог со стандартным набором инструментов.
func Default() *Catalog {
	tools := []ToolSpec{
		// --- Генерация изображений ---
		{
			ID: "midjourney", Modality: ModalityImage, Provider: "apiframe",
			Model:       "midjourney",
			CostPerUnit: 0.05, LatencySec: 60,
			Requires:   []string{"prompt"},
			Downgrades: []string{"flux_pro", "flux_dev", "flux_schnell"},
		},
		{
			ID: "flux_pro", Modality: ModalityImage, Provider: "replicate",
			Model:       "black-forest-labs/flux-pro",
			CostPerUnit: 0.04, LatencySec: 25,
			Requires:   []string{"prompt"},
			Downgrades: []string{"flux_dev", "flux_schnell"},
		},
		{
			ID: "flux_dev", Modality: ModalityImage, Provider: "replicate",
			Model:       "black-forest-labs/flux-dev",
			CostPerUnit: 0.03, LatencySec: 20,
			Requires:   []string{"prompt"},
			Downgrades: []string{"flux_schnell"},
		},
		{
			ID: "flux_schnell", Modality: ModalityImage, Provider: "replicate",
			Model:       "black-forest-labs/flux-schnell",
			CostPerUnit: 0.02, LatencySec: 5,
			Requires: []string{"prompt"},
		},
		{
			ID: "seedream4", Modality: ModalityImage, Provider: "replicate",
			Model:       "bytedance/seedream-4",
			CostPerUnit: 0.04, LatencySec: 30,
			Caps:       Capabilities{AcceptsReference: true, RequiresReference: true},
			Requires:   []string{"prompt", "reference"},
			Downgrades: []string{"instant_character"},
		},
		{
			ID: "instant_character", Modality: ModalityImage, Provider: "falai",
			Model:       "fal-ai/instant-character",
			CostPerUnit: 0.04, LatencySec: 30,
			Caps:     Capabilities{AcceptsReference: true, RequiresReference: true},
			Requires: []string{"prompt", "reference"},
		},
		{
			ID: "ideogram", Modality: ModalityImage, Provider: "replicate",
			Model:       "ideogram-ai/ideogram-v2-turbo",
			CostPerUnit: 0.02, LatencySec: 15,
			Requires: []string{"prompt"},
		},
		// --- Анимация и видео ---
		{
			ID: "minimax_hailuo", Modality: ModalityVideo, Provider: "replicate",
			Model:       "minimax/video-01",
			CostPerUnit: 0.30, LatencySec: 180,
			Caps:       Capabilities{AcceptsReference: true, RequiresReference: true},
			Requires:   []string{"prompt", "first_frame"},
			Downgrades: []string{"luma_ray", "pika_v2", "wan_i2v"},
		},
		{
			ID: "runway_gen4", Modality: ModalityVideo, Provider: "replicate",
			Model:       "runwayml/gen4-turbo",
			CostPerUnit: 0.25, LatencySec: 90,
			Caps:       Capabilities{AcceptsReference: true, RequiresReference: true},
			Requires:   []string{"prompt", "first_frame"},
			Downgrades: []string{"luma_ray", "pika_v2", "wan_i2v"},
		},
		{
			ID: "luma_ray", Modality: ModalityVideo, Provider: "replicate",
			Model:       "luma/ray",
			CostPerUnit: 0.15, LatencySec: 150,
			Caps:       Capabilities{AcceptsReference: true, RequiresReference: true},
			Requires:   []string{"prompt", "first_frame"},
			Downgrades: []string{"pika_v2", "wan_i2v"},
		},
		{
			ID: "wan_i2v", Modality: ModalityVideo, Provider: "replicate",
			Model:       "wavespeedai/wan-2.1-i2v-480p",
			CostPerUnit: 0.08, LatencySec: 60,
			Caps:     Capabilities{AcceptsReference: true, RequiresReference: true},
			Requires: []string{"prompt", "first_frame"},
		},
		{
			ID: "minimax_t2v", Modality: ModalityVideo, Provider: "replicate",
			Model:       "minimax/video-01",
			CostPerUnit: 0.28, LatencySec: 70,
			Requires: []string{"prompt"},
		},
		// --- Morph-переходы (пара кадров) ---
		{
			ID: "veo31_flf2v", Modality: ModalityVideo, Provider: "falai",
			Model:       "fal-ai/veo3.1/first-last-frame-to-video",
			CostPerUnit: 0.80, LatencySec: 180,
			Caps:       Capabilities{DualFrameMorph: true},
			Requires:   []string{"prompt", "first_frame", "last_frame"},
			Downgrades: []string{"wan_flf2v", "pika_v2"},
		},
		{
			ID: "wan_flf2v", Modality: ModalityVideo, Provider: "falai",
			Model:       "fal-ai/wan-flf2v",
			CostPerUnit: 0.40, LatencySec: 45,
			Caps:       Capabilities{DualFrameMorph: true},
			Requires:   []string{"prompt", "first_frame", "last_frame"},
			Downgrades: []string{"pika_v2"},
		},
		{
			ID: "pika_v2", Modality: ModalityVideo, Provider: "falai",
			Model:       "fal-ai/pika/v2.2/pikascenes",
			CostPerUnit: 0.15, LatencySec: 120,
			Caps:     Capabilities{DualFrameMorph: true},
			Requires: []string{"prompt", "first_frame", "last_frame"},
		},
	}

	m := make(map[string]ToolSpec, len(tools))
	for _, t := range tools {
		m[t.ID] = t
	}

	return &Catalog{
		tools: m,
		// Fallback без референса по типу содержимого: применяется, когда
		// назначенному инструменту нужен референс, а совместимого якоря нет.
		fallbackByContent: map[model.ContentType]string{
			model.ContentHumanPortrait: "flux_dev",
			model.ContentHumanAction:   "flux_dev",
			model.ContentObject:        "flux_dev",
			model.ContentProduct:       "flux_pro",
			model.ContentAbstract:      "flux_schnell",
			model.ContentTextOverlay:   "ideogram",
		},
	}
}

// Tool возвращает спецификацию инструмента по id.
func (c *Catalog) Tool(id string) (ToolSpec, error) {
	spec, ok := c.tools[id]
	if !ok {
		return ToolSpec{}, &model.ConfigurationError{Ref: id, Msg: "unknown tool"}
	}
	return spec, nil
}

// Has сообщает, известен ли инструмент каталогу.
func (c *Catalog) Has(id string) bool {
	_, ok := c.tools[id]
	return ok
}

// FallbackFor возвращает настроенный no-reference fallback для типа
// содержимого.
func (c *Catalog) FallbackFor(ct model.ContentType) (ToolSpec, error) {
	id, ok := c.fallbackByContent[ct]
	if !ok {
		return ToolSpec{}, &model.ConfigurationError{
			Ref: string(ct), Msg: "no fallback tool configured for content type",
		}
	}
	return c.Tool(id)
}

// Downgrade возвращает следующую, более дешевую альтернативу для
// инструмента, если она есть.
func (c *Catalog) Downgrade(id string) (ToolSpec, bool) {
	spec, ok := c.tools[id]
	if !ok {
		return ToolSpec{}, false
	}
	for _, altID := range spec.Downgrades {
		alt, ok := c.tools[altID]
		if ok && alt.CostPerUnit < spec.CostPerUnit {
			return alt, true
		}
	}
	return ToolSpec{}, false
}

// CheapestChain возвращает конец цепочки удешевления: инструмент, дешевле
// которого для данного уже не спуститься.
func (c *Catalog) CheapestChain(id string) ToolSpec {
	spec := c.tools[id]
	for {
		alt, ok := c.Downgrade(spec.ID)
		if !ok {
			return spec
		}
		spec = alt
	}
}

// Apply проставляет сценам плана стоимость и время из каталога и
// пересчитывает агрегаты. Возвращает ошибку конфигурации при ссылке
// на неизвестный инструмент.
func (c *Catalog) Apply(plan *model.WorkflowPlan, classes model.LineageClasses) error {
	for i := range plan.Scenes {
		spec, err := c.Tool(plan.Scenes[i].ToolID)
		if err != nil {
			return err
		}
		plan.Scenes[i].EstimatedCost = spec.CostPerUnit
		plan.Scenes[i].EstimatedTimeSec = spec.LatencySec
	}
	plan.Recalculate(classes)
	return nil
}

// Summary возвращает краткое текстовое описание каталога для промпта
// оракула, в стабильном порядке.
func (c *Catalog) Summary() string {
	ids := make([]string, 0, len(c.tools))
	for id := range c.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := ""
	for _, id := range ids {
		t := c.tools[id]
		out += fmt.Sprintf("- %s (%s): $%.2f, ~%ds", t.ID, t.Modality, t.CostPerUnit, t.LatencySec)
		if t.Caps.RequiresReference {
			out += ", requires reference"
		} else if t.Caps.AcceptsReference {
			out += ", accepts reference"
		}
		if t.Caps.DualFrameMorph {
			out += ", dual-frame morph"
		}
		out += "\n"
	}
	return out
}
