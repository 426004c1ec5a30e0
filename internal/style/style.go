// Package style реализует движок политик визуальных стилей. Правила стиля -
// жесткие: они перекрывают любые рекомендации оракула. Единственное
// исключение - квалификатор unless_no_reference, который разрешается
// статически на этапе планирования.
package style

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"

	"reels-pipeline/internal/catalog"
	"reels-pipeline/internal/model"
)

// Типы переходов между соседними сценами. Crossfade собирается на этапе
// монтажа и не требует генерации; morph требует dual-frame инструмента.
const (
	TransitionNone      = "none"
	TransitionCrossfade = "crossfade"
	TransitionMorph     = "morph"
)

// Rule - жесткое правило назначения инструмента диапазону сцен.
type Rule struct {
	// Scenes - селектор: точный номер ("1"), открытый диапазон ("2+")
	// или "all".
	Scenes string `yaml:"scenes"`
	Tool   string `yaml:"tool"`
	// UnlessNoReference разрешает статическую замену на fallback по типу
	// содержимого, когда в lineage-классе сцены нет более раннего якоря.
	UnlessNoReference bool `yaml:"unless_no_reference"`
}

// Consistency - блок согласованности референсов стиля.
type Consistency struct {
	Enabled     bool `yaml:"enabled"`
	AnchorScene int  `yaml:"anchor_scene"`
	// LineageClasses - переопределение разбиения content_type -> класс.
	// Пустое значение означает разбиение по умолчанию.
	LineageClasses map[string]string `yaml:"lineage_classes"`
}

// Transitions - блок переходов стиля.
type Transitions struct {
	Type string `yaml:"type"` // none / crossfade / morph
	Tool string `yaml:"tool"` // dual-frame инструмент для morph
}

// Style - именованный пресет визуального стиля.
type Style struct {
	Description string      `yaml:"description"`
	Rules       []Rule      `yaml:"rules"`
	Consistency Consistency `yaml:"consistency"`
	Transitions Transitions `yaml:"transitions"`
}

// LineageClasses возвращает разбиение lineage-классов стиля либо
// разбиение по умолчанию.
func (s Style) LineageClasses() model.LineageClasses {
	if len(s.Consistency.LineageClasses) == 0 {
		return model.DefaultLineageClasses()
	}
	lc := make(model.LineageClasses, len(s.Consistency.LineageClasses))
	for ct, class := range s.Consistency.LineageClasses {
		lc[model.ContentType(ct)] = class
	}
	return lc
}

// MorphTool возвращает dual-frame инструмент стиля для morph-переходов.
func (s Style) MorphTool() string {
	if s.Transitions.Tool != "" {
		return s.Transitions.Tool
	}
	return "wan_flf2v"
}

// stylesFile - формат YAML-файла пресетов.
type stylesFile struct {
	Styles map[string]Style `yaml:"styles"`
}

// Engine - реестр стилей поверх каталога инструментов.
type Engine struct {
	styles map[string]Style
	cat    *catalog.Catalog
}

// NewEngine создает движок из готового набора стилей (для тестов и
// встраивания).
func NewEngine(styles map[string]Style, cat *catalog.Catalog) *Engine {
	return &Engine{styles: styles, cat: cat}
}

// Load читает пресеты стилей из YAML-файла.
func Load(path string, cat *catalog.Catalog) (*Engine, error) {
	var file stylesFile
	if err := cleanenv.ReadConfig(path, &file); err != nil {
		return nil, fmt.Errorf("failed to read styles file %s: %w", path, err)
	}
	if len(file.Styles) == 0 {
		return nil, fmt.Errorf("styles file %s defines no styles", path)
	}
	return NewEngine(file.Styles, cat), nil
}

// Style возвращает стиль по id.
func (e *Engine) Style(id string) (Style, error) {
	s, ok := e.styles[id]
	if !ok {
		return Style{}, &model.ConfigurationError{Ref: id, Msg: "unknown style"}
	}
	return s, nil
}

// Apply применяет жесткие правила стиля к плану: перекрывает назначения
// инструментов, статически разрешает unless_no_reference, валидирует
// выполнимость согласованности и пересчитывает агрегаты. Ошибки
// возвращаются до какого-либо обращения к провайдеру.
func (e *Engine) Apply(plan *model.WorkflowPlan) error {
	st, err := e.Style(plan.StyleID)
	if err != nil {
		return err
	}
	classes := st.LineageClasses()

	// Классы, в которых более ранняя сцена плана уже даст артефакт-якорь.
	anchored := make(map[string]bool)
	var violations []int

	for i := range plan.Scenes {
		sp := &plan.Scenes[i]
		scene := sp.Scene

		if scene.IsMorph() {
			// Morph-сцены всегда идут через dual-frame инструмент стиля.
			if sp.ToolID != st.MorphTool() {
				sp.ToolID = st.MorphTool()
				sp.Reasoning = "style morph rule"
			}
			continue
		}

		rule, ok := matchRule(st.Rules, scene.Number)
		if ok {
			spec, err := e.cat.Tool(rule.Tool)
			if err != nil {
				return err
			}
			assigned := spec.ID
			reason := "style hard rule"
			if spec.Caps.RequiresReference && !anchored[classes.Class(scene.ContentType)] {
				if rule.UnlessNoReference {
					fb, err := e.cat.FallbackFor(scene.ContentType)
					if err != nil {
						return err
					}
					assigned = fb.ID
					reason = fmt.Sprintf("no reference anchor for lineage %q, fallback from %s",
						classes.Class(scene.ContentType), spec.ID)
				} else if st.Consistency.Enabled {
					violations = append(violations, scene.Number)
				}
			}
			if sp.ToolID != assigned {
				sp.Reasoning = reason
			}
			sp.ToolID = assigned
		}

		// Сцена, не требующая референса, становится якорем своего класса.
		if sp.ToolID != "" {
			if spec, err := e.cat.Tool(sp.ToolID); err == nil && !spec.Caps.RequiresReference {
				anchored[classes.Class(scene.ContentType)] = true
			}
		}
	}

	if len(violations) > 0 {
		return &model.PolicyViolation{
			StyleID:      plan.StyleID,
			SceneNumbers: violations,
			Msg:          "reference-requiring tool assigned with no anchor-capable scene in lineage",
		}
	}

	return e.cat.Apply(plan, classes)
}

// matchRule возвращает первое правило, чей селектор покрывает номер сцены.
func matchRule(rules []Rule, n int) (Rule, bool) {
	for _, r := range rules {
		if selectorMatches(r.Scenes, n) {
			return r, true
		}
	}
	return Rule{}, false
}

func selectorMatches(sel string, n int) bool {
	sel = strings.TrimSpace(sel)
	if sel == "all" || sel == "" {
		return true
	}
	if strings.HasSuffix(sel, "+") {
		from, err := strconv.Atoi(strings.TrimSuffix(sel, "+"))
		return err == nil && n >= from
	}
	exact, err := strconv.Atoi(sel)
	return err == nil && n == exact
}
