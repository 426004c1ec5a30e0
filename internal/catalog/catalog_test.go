package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reels-pipeline/internal/model"
)

func TestDefault_KnownTool(t *testing.T) {
	c := Default()

	spec, err := c.Tool("seedream4")
	require.NoError(t, err)
	assert.Equal(t, ModalityImage, spec.Modality)
	assert.Equal(t, "replicate", spec.Provider)
	assert.True(t, spec.Caps.RequiresReference)
	assert.Contains(t, spec.Requires, "reference")
}

func TestDefault_UnknownTool(t *testing.T) {
	c := Default()

	_, err := c.Tool("dalle9")
	require.Error(t, err)
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "dalle9", cfgErr.Ref)
}

func TestFallbackFor_AllContentTypes(t *testing.T) {
	c := Default()

	types := []model.ContentType{
		model.ContentHumanPortrait,
		model.ContentHumanAction,
		model.ContentObject,
		model.ContentProduct,
		model.ContentAbstract,
		model.ContentTextOverlay,
	}
	for _, ct := range types {
		spec, err := c.FallbackFor(ct)
		require.NoError(t, err, "content type %s", ct)
		// Fallback по определению работает без референса.
		assert.False(t, spec.Caps.RequiresReference, "fallback %s must not require reference", spec.ID)
	}
}

func TestFallbackFor_UnknownContentType(t *testing.T) {
	c := Default()

	_, err := c.FallbackFor(model.ContentType("hologram"))
	require.Error(t, err)
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestDowngrade_StrictlyCheaper(t *testing.T) {
	c := Default()

	alt, ok := c.Downgrade("runway_gen4")
	require.True(t, ok)
	spec, err := c.Tool("runway_gen4")
	require.NoError(t, err)
	assert.Less(t, alt.CostPerUnit, spec.CostPerUnit)
	assert.Equal(t, "luma_ray", alt.ID)
}

func TestDowngrade_EndOfChain(t *testing.T) {
	c := Default()

	_, ok := c.Downgrade("flux_schnell")
	assert.False(t, ok)

	_, ok = c.Downgrade("wan_i2v")
	assert.False(t, ok)
}

func TestCheapestChain(t *testing.T) {
	c := Default()

	cheapest := c.CheapestChain("runway_gen4")
	assert.Equal(t, "wan_i2v", cheapest.ID)

	cheapest = c.CheapestChain("midjourney")
	assert.Equal(t, "flux_schnell", cheapest.ID)

	// Инструмент без цепочки возвращает сам себя.
	cheapest = c.CheapestChain("flux_schnell")
	assert.Equal(t, "flux_schnell", cheapest.ID)
}

func TestApply_FillsEstimatesAndAggregates(t *testing.T) {
	c := Default()
	classes := model.DefaultLineageClasses()

	plan := &model.WorkflowPlan{
		StyleID: "cinematic",
		Scenes: []model.ScenePlan{
			{Scene: model.Scene{Number: 1, ContentType: model.ContentHumanPortrait}, ToolID: "midjourney"},
			{Scene: model.Scene{Number: 2, ContentType: model.ContentHumanAction}, ToolID: "seedream4"},
			{Scene: model.Scene{Number: 3, ContentType: model.ContentObject}, ToolID: "flux_dev"},
		},
	}

	err := c.Apply(plan, classes)
	require.NoError(t, err)

	assert.InDelta(t, 0.05+0.04+0.03, plan.AggregateCost, 1e-9)
	// Сцены 1 и 2 делят класс "human" (60+30), сцена 3 изолирована (20).
	assert.Equal(t, 90, plan.AggregateTimeSec)
}

func TestApply_UnknownToolInPlan(t *testing.T) {
	c := Default()

	plan := &model.WorkflowPlan{
		Scenes: []model.ScenePlan{
			{Scene: model.Scene{Number: 1, ContentType: model.ContentObject}, ToolID: "nonexistent"},
		},
	}

	err := c.Apply(plan, model.DefaultLineageClasses())
	require.Error(t, err)
	var cfgErr *model.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestSummary_Stable(t *testing.T) {
	c := Default()

	s1 := c.Summary()
	s2 := c.Summary()
	assert.Equal(t, s1, s2)
	assert.Contains(t, s1, "midjourney")
	assert.Contains(t, s1, "dual-frame morph")
}
