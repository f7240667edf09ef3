package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModels() []ModelEntry {
	return []ModelEntry{
		{ID: "fast-a", Provider: "p", Tier: TierFast, CostPer1K: 0.0005},
		{ID: "balanced-a", Provider: "p", Tier: TierBalanced, CostPer1K: 0.005},
		{ID: "flagship-a", Provider: "p", Tier: TierFlagship, CostPer1K: 0.03},
	}
}

func TestClassifyQuery(t *testing.T) {
	r := NewRouter(testModels(), DefaultRoutes())

	route, ok := r.ClassifyQuery("please analyze and compare these two approaches")
	require.True(t, ok)
	assert.Equal(t, "research", route.Name)
	assert.Equal(t, TierFlagship, route.Tier)

	route, ok = r.ClassifyQuery("fix this traceback in my python script")
	require.True(t, ok)
	assert.Equal(t, "code", route.Name)

	_, ok = r.ClassifyQuery("what time is it")
	assert.False(t, ok)
}

func TestTierForDepth(t *testing.T) {
	assert.Equal(t, TierFlagship, TierForDepth(TierFlagship, 0))
	assert.Equal(t, TierBalanced, TierForDepth(TierFlagship, 1))
	assert.Equal(t, TierFast, TierForDepth(TierFlagship, 2))
	assert.Equal(t, TierFast, TierForDepth(TierBalanced, 1))
	assert.Equal(t, TierFast, TierForDepth(TierBalanced, 2))
}

func TestSelectModelBudgetForcedDowngrade(t *testing.T) {
	r := NewRouter(testModels(), nil)
	r.SetProvider("p")

	assert.Equal(t, "fast-a", r.SelectModel(TierFlagship, 0.05))
	assert.Equal(t, "balanced-a", r.SelectModel(TierFlagship, 0.5))
	assert.Equal(t, "flagship-a", r.SelectModel(TierFlagship, 5.0))
}

func TestSelectModelFallbackCascade(t *testing.T) {
	models := []ModelEntry{
		{ID: "only-balanced", Provider: "p", Tier: TierBalanced, CostPer1K: 0.005},
	}
	r := NewRouter(models, nil)
	r.SetProvider("p")

	assert.Equal(t, "only-balanced", r.SelectModel(TierFlagship, 5.0))
	assert.Equal(t, "only-balanced", r.SelectModel(TierFast, 5.0))
}
