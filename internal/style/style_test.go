package style

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reels-pipeline/internal/catalog"
	"reels-pipeline/internal/model"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := Load("../../config/video_styles.yaml", catalog.Default())
	require.NoError(t, err)
	return eng
}

func planFor(styleID string, scenes ...model.Scene) *model.WorkflowPlan {
	plan := &model.WorkflowPlan{StyleID: styleID}
	for _, s := range scenes {
		plan.Scenes = append(plan.Scenes, model.ScenePlan{Scene: s})
	}
	return plan
}

func TestLoad_PresetFile(t *testing.T) {
	eng := testEngine(t)

	st, err := eng.Style("anchored-character")
	require.NoError(t, err)
	assert.True(t, st.Consistency.Enabled)
	assert.Equal(t, TransitionMorph, st.Transitions.Type)
	assert.Equal(t, "wan_flf2v", st.MorphTool())
	assert.Equal(t, "human", st.LineageClasses().Class(model.ContentHumanAction))
}

func TestStyle_Unknown(t *testing.T) {
	eng := testEngine(t)

	_, err := eng.Style("vaporwave")
	require.Error(t, err)
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "vaporwave", cfgErr.Ref)
}

func TestApply_HardOverrideBeatsAdvisory(t *testing.T) {
	eng := testEngine(t)

	plan := planFor("anchored-character",
		model.Scene{Number: 1, ContentType: model.ContentHumanPortrait},
		model.Scene{Number: 2, ContentType: model.ContentHumanAction},
	)
	// Рекомендации оракула, противоречащие правилам стиля.
	plan.Scenes[0].ToolID = "flux_schnell"
	plan.Scenes[1].ToolID = "ideogram"

	require.NoError(t, eng.Apply(plan))

	assert.Equal(t, "midjourney", plan.Scenes[0].ToolID)
	assert.Equal(t, "seedream4", plan.Scenes[1].ToolID)
}

func TestApply_UnlessNoReference_FallsBackStatically(t *testing.T) {
	eng := testEngine(t)

	// Сцена 2 - object: в классе "object" нет более раннего якоря,
	// поэтому seedream4 статически заменяется content-type fallback-ом.
	plan := planFor("anchored-character",
		model.Scene{Number: 1, ContentType: model.ContentHumanPortrait},
		model.Scene{Number: 2, ContentType: model.ContentObject},
		model.Scene{Number: 3, ContentType: model.ContentHumanAction},
	)

	require.NoError(t, eng.Apply(plan))

	assert.Equal(t, "midjourney", plan.Scenes[0].ToolID)
	assert.Equal(t, "flux_dev", plan.Scenes[1].ToolID)
	assert.Contains(t, plan.Scenes[1].Reasoning, "no reference anchor")
	// Для human_action якорь существует (сцена 1).
	assert.Equal(t, "seedream4", plan.Scenes[2].ToolID)
}

func TestApply_PolicyViolation_NoAnchorCapableScene(t *testing.T) {
	eng := NewEngine(map[string]Style{
		"strict": {
			Rules: []Rule{
				{Scenes: "all", Tool: "seedream4"}, // без unless_no_reference
			},
			Consistency: Consistency{Enabled: true, AnchorScene: 1},
		},
	}, catalog.Default())

	plan := planFor("strict",
		model.Scene{Number: 1, ContentType: model.ContentHumanPortrait},
		model.Scene{Number: 2, ContentType: model.ContentHumanAction},
	)

	err := eng.Apply(plan)
	require.Error(t, err)
	var pv *model.PolicyViolation
	require.ErrorAs(t, err, &pv)
	assert.Equal(t, "strict", pv.StyleID)
	assert.Contains(t, pv.SceneNumbers, 1)
}

func TestApply_MorphSceneGetsStyleMorphTool(t *testing.T) {
	eng := testEngine(t)

	plan := planFor("anchored-character",
		model.Scene{Number: 1, ContentType: model.ContentHumanPortrait},
		model.Scene{Number: 2, ContentType: model.ContentAbstract,
			StartPrompt: "dawn", EndPrompt: "dusk"},
	)

	require.NoError(t, eng.Apply(plan))

	assert.Equal(t, "wan_flf2v", plan.Scenes[1].ToolID)
}

func TestApply_RecomputesAggregates(t *testing.T) {
	eng := testEngine(t)

	plan := planFor("budget",
		model.Scene{Number: 1, ContentType: model.ContentObject},
		model.Scene{Number: 2, ContentType: model.ContentAbstract},
	)

	require.NoError(t, eng.Apply(plan))

	assert.InDelta(t, 0.04, plan.AggregateCost, 1e-9)
	// Непересекающиеся lineage-классы идут параллельно.
	assert.Equal(t, 5, plan.AggregateTimeSec)
}

func TestSelectorMatches(t *testing.T) {
	assert.True(t, selectorMatches("1", 1))
	assert.False(t, selectorMatches("1", 2))
	assert.True(t, selectorMatches("2+", 2))
	assert.True(t, selectorMatches("2+", 7))
	assert.False(t, selectorMatches("2+", 1))
	assert.True(t, selectorMatches("all", 5))
	assert.False(t, selectorMatches("x", 1))
}
