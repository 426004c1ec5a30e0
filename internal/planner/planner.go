// Package planner реализует негоциатор плана генерации. Переговоры идут
// в три шага: совещательная рекомендация оракула, жесткое применение
// политики стиля, приведение к бюджету через цепочки удешевления.
// Все решения принимаются до первого обращения к провайдеру.
package planner

import (
	"context"

	"go.uber.org/zap"

	"reels-pipeline/internal/catalog"
	"reels-pipeline/internal/model"
	"reels-pipeline/internal/oracle"
	"reels-pipeline/internal/style"
)

// Пресеты качества: инструмент по умолчанию, когда оракул молчит или
// недоступен.
const (
	PresetBudget   = "budget"
	PresetStandard = "standard"
	PresetPremium  = "premium"
)

// Constraints - бюджетные ограничения запуска. Нулевое значение поля
// означает отсутствие ограничения.
type Constraints struct {
	MaxCost    float64
	MaxTimeSec int
}

// Negotiator согласует план генерации для набора сцен.
type Negotiator struct {
	advisor oracle.Advisor
	styles  *style.Engine
	cat     *catalog.Catalog
	logger  *zap.Logger
}

// New создает негоциатор.
func New(advisor oracle.Advisor, styles *style.Engine, cat *catalog.Catalog, logger *zap.Logger) *Negotiator {
	return &Negotiator{
		advisor: advisor,
		styles:  styles,
		cat:     cat,
		logger:  logger.Named("planner"),
	}
}

// Negotiate строит согласованный план. Порядок гарантирован: дешевые
// проверки конфигурации -> рекомендация оракула (недоверенная, ее сбой
// не фатален) -> жесткая политика стиля -> бюджет. Детерминирован при
// фиксированном ответе оракула.
func (n *Negotiator) Negotiate(ctx context.Context, scenes []model.Scene, styleID string, constraints *Constraints, preset string) (*model.WorkflowPlan, error) {
	st, err := n.styles.Style(styleID)
	if err != nil {
		return nil, err
	}

	plan := &model.WorkflowPlan{StyleID: styleID}
	for _, s := range scenes {
		plan.Scenes = append(plan.Scenes, model.ScenePlan{
			Scene:  s,
			ToolID: presetDefaultTool(preset, s),
		})
	}

	advice, err := n.advisor.Recommend(ctx, scenes, styleID, preset)
	if err != nil {
		// Оракул совещательный: при сбое остаемся на плане пресета.
		n.logger.Warn("Oracle unavailable, negotiating from preset defaults",
			zap.String("styleId", styleID), zap.String("preset", preset), zap.Error(err))
	} else {
		n.applyAdvice(plan, advice)
	}

	if err := n.styles.Apply(plan); err != nil {
		return nil, err
	}

	if err := n.fitBudget(plan, st, constraints); err != nil {
		return nil, err
	}

	n.logger.Info("Plan negotiated",
		zap.String("styleId", styleID),
		zap.Int("scenes", len(plan.Scenes)),
		zap.Float64("aggregateCost", plan.AggregateCost),
		zap.Int("aggregateTimeSec", plan.AggregateTimeSec))

	return plan, nil
}

// applyAdvice переносит рекомендации оракула в план. Ссылки на
// неизвестные инструменты и несуществующие сцены отбрасываются.
func (n *Negotiator) applyAdvice(plan *model.WorkflowPlan, advice []oracle.Advice) {
	byNumber := make(map[int]*model.ScenePlan, len(plan.Scenes))
	for i := range plan.Scenes {
		byNumber[plan.Scenes[i].Scene.Number] = &plan.Scenes[i]
	}
	for _, a := range advice {
		sp, ok := byNumber[a.SceneNumber]
		if !ok {
			n.logger.Warn("Oracle advised unknown scene, ignoring",
				zap.Int("scene", a.SceneNumber))
			continue
		}
		if !n.cat.Has(a.ToolID) {
			n.logger.Warn("Oracle advised unknown tool, ignoring",
				zap.Int("scene", a.SceneNumber), zap.String("tool", a.ToolID))
			continue
		}
		sp.ToolID = a.ToolID
		sp.Reasoning = a.Reasoning
	}
}

// fitBudget приводит план к ограничениям жадным удешевлением: на каждом
// шаге понижается сцена с наибольшим выигрышем. Если цепочки исчерпаны,
// а план все еще не укладывается - BudgetUnsatisfiable с минимально
// достижимыми стоимостью и временем.
func (n *Negotiator) fitBudget(plan *model.WorkflowPlan, st style.Style, constraints *Constraints) error {
	if constraints == nil {
		return nil
	}
	classes := st.LineageClasses()

	for exceeds(plan, constraints) {
		idx, alt := n.bestDowngrade(plan, constraints)
		if idx < 0 {
			minPlan := n.minimalPlan(plan, classes)
			return &model.BudgetUnsatisfiable{
				MaxCost:    constraints.MaxCost,
				MaxTimeSec: constraints.MaxTimeSec,
				MinCost:    minPlan.AggregateCost,
				MinTimeSec: minPlan.AggregateTimeSec,
			}
		}
		sp := &plan.Scenes[idx]
		n.logger.Info("Budget downgrade",
			zap.Int("scene", sp.Scene.Number),
			zap.String("from", sp.ToolID),
			zap.String("to", alt.ID))
		sp.Reasoning = "budget downgrade from " + sp.ToolID
		sp.ToolID = alt.ID
		if err := n.cat.Apply(plan, classes); err != nil {
			return err
		}
	}
	return nil
}

func exceeds(plan *model.WorkflowPlan, c *Constraints) bool {
	if c.MaxCost > 0 && plan.AggregateCost > c.MaxCost {
		return true
	}
	if c.MaxTimeSec > 0 && plan.AggregateTimeSec > c.MaxTimeSec {
		return true
	}
	return false
}

// bestDowngrade выбирает сцену для понижения: максимальный выигрыш по
// нарушенной метрике, при равенстве - меньший номер сцены.
func (n *Negotiator) bestDowngrade(plan *model.WorkflowPlan, c *Constraints) (int, catalog.ToolSpec) {
	overCost := c.MaxCost > 0 && plan.AggregateCost > c.MaxCost

	bestIdx := -1
	var bestAlt catalog.ToolSpec
	bestGain := 0.0

	for i := range plan.Scenes {
		sp := plan.Scenes[i]
		if sp.Excluded {
			continue
		}
		alt, ok := n.cat.Downgrade(sp.ToolID)
		if !ok {
			continue
		}
		cur, err := n.cat.Tool(sp.ToolID)
		if err != nil {
			continue
		}
		var gain float64
		if overCost {
			gain = cur.CostPerUnit - alt.CostPerUnit
		} else {
			gain = float64(cur.LatencySec - alt.LatencySec)
		}
		if gain > bestGain {
			bestGain = gain
			bestIdx = i
			bestAlt = alt
		}
	}
	return bestIdx, bestAlt
}

// minimalPlan считает минимально достижимые агрегаты: каждая сцена на
// конце своей цепочки удешевления. Исходный план не мутируется.
func (n *Negotiator) minimalPlan(plan *model.WorkflowPlan, classes model.LineageClasses) *model.WorkflowPlan {
	min := &model.WorkflowPlan{StyleID: plan.StyleID, Scenes: make([]model.ScenePlan, len(plan.Scenes))}
	copy(min.Scenes, plan.Scenes)
	for i := range min.Scenes {
		min.Scenes[i].ToolID = n.cat.CheapestChain(min.Scenes[i].ToolID).ID
	}
	// Ошибки тут невозможны: CheapestChain возвращает инструменты каталога.
	_ = n.cat.Apply(min, classes)
	return min
}

// presetDefaultTool возвращает инструмент по умолчанию для пресета
// качества. Morph-сцены не получают дефолта: их назначает стиль.
func presetDefaultTool(preset string, s model.Scene) string {
	if s.IsMorph() {
		return ""
	}
	switch preset {
	case PresetBudget:
		return "flux_schnell"
	case PresetPremium:
		return "flux_pro"
	default:
		return "flux_dev"
	}
}
