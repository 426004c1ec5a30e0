package model

// ScenePlan - план для одной сцены: назначенный инструмент и оценки
// стоимости/времени. Мутабелен во время переговоров (негоциации) и,
// в редких случаях, во время исполнения (fallback-замена).
type ScenePlan struct {
	Scene            Scene   `json:"scene"`
	ToolID           string  `json:"toolId"`
	EstimatedCost    float64 `json:"estimatedCost"`
	EstimatedTimeSec int     `json:"estimatedTimeSec"`
	Reasoning        string  `json:"reasoning,omitempty"` // пояснение оракула или политики
	Excluded         bool    `json:"excluded,omitempty"`  // исключена в режиме continue-on-error
}

// WorkflowPlan - согласованный план генерации. Инвариант: агрегаты
// всегда пересчитываются из текущих значений ScenePlan и никогда не
// остаются устаревшими после замены инструмента.
type WorkflowPlan struct {
	StyleID          string      `json:"styleId"`
	Scenes           []ScenePlan `json:"scenes"`
	AggregateCost    float64     `json:"aggregateCost"`
	AggregateTimeSec int         `json:"aggregateTimeSec"`
}

// Recalculate пересчитывает агрегаты плана из текущих значений сцен.
// Стоимость - простая сумма. Время следует модели конкурентности:
// сцены одной lineage-цепочки исполняются строго последовательно,
// непересекающиеся цепочки - параллельно, поэтому агрегат равен
// максимуму последовательных сумм по цепочкам.
func (p *WorkflowPlan) Recalculate(classes LineageClasses) {
	p.AggregateCost = 0
	chainTime := make(map[string]int)
	for _, sp := range p.Scenes {
		if sp.Excluded {
			continue
		}
		p.AggregateCost += sp.EstimatedCost
		class := classes.Class(sp.Scene.ContentType)
		chainTime[class] += sp.EstimatedTimeSec
	}
	p.AggregateTimeSec = 0
	for _, t := range chainTime {
		if t > p.AggregateTimeSec {
			p.AggregateTimeSec = t
		}
	}
}
