package model

// ContentType определяет тип содержимого сцены, назначенный апстримом
// (Creative Strategist). Используется для выбора инструментов и для
// определения lineage-класса референсов.
type ContentType string

const (
	ContentHumanPortrait ContentType = "human_portrait"
	ContentHumanAction   ContentType = "human_action"
	ContentObject        ContentType = "object"
	ContentProduct       ContentType = "product"
	ContentAbstract      ContentType = "abstract"
	ContentTextOverlay   ContentType = "text_overlay"
)

// Scene - одна нарративная сцена. Создается апстримом и неизменяема
// после передачи в пайплайн.
type Scene struct {
	Number            int         `json:"number"` // 1-based порядковый номер
	ContentType       ContentType `json:"contentType"`
	Prompt            string      `json:"prompt,omitempty"`
	StartPrompt       string      `json:"startPrompt,omitempty"` // для morph-сцен
	EndPrompt         string      `json:"endPrompt,omitempty"`   // для morph-сцен
	RequiresReference bool        `json:"requiresReference,omitempty"`
	DurationSec       float64     `json:"durationSec,omitempty"`
}

// IsMorph сообщает, является ли сцена morph-сценой с парой промптов
// (начальный и конечный кадр).
func (s Scene) IsMorph() bool {
	return s.StartPrompt != "" && s.EndPrompt != ""
}

// LineageClasses - конфигурируемое отображение content_type -> класс
// совместимости референсов. Якорь класса A может служить референсом для
// сцены класса B только при A == B. Разбиение задается стилем, а не
// зашито в код: точные классы эквивалентности менялись в истории
// продукта и остаются настройкой.
type LineageClasses map[ContentType]string

// DefaultLineageClasses - разбиение по умолчанию: оба "человеческих"
// типа делят один класс, остальные типы изолированы друг от друга.
func DefaultLineageClasses() LineageClasses {
	return LineageClasses{
		ContentHumanPortrait: "human",
		ContentHumanAction:   "human",
		ContentObject:        "object",
		ContentProduct:       "product",
		ContentAbstract:      "abstract",
		ContentTextOverlay:   "text",
	}
}

// Class возвращает lineage-класс для типа содержимого. Неизвестный тип
// получает собственный изолированный класс, чтобы чужой якорь никогда
// не протек в него.
func (lc LineageClasses) Class(ct ContentType) string {
	if class, ok := lc[ct]; ok {
		return class
	}
	return string(ct)
}

// Compatible сообщает, может ли якорь типа a служить референсом для
// сцены типа b.
func (lc LineageClasses) Compatible(a, b ContentType) bool {
	return lc.Class(a) == lc.Class(b)
}
