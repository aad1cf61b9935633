package selection

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/cascade/internal/health"
	"github.com/tidegate/cascade/internal/registry"
)

func testProvider(id string, avgCap int, inPrice, outPrice float64, tags ...string) registry.Provider {
	return registry.Provider{
		ID:    id,
		Name:  id,
		Model: id + "-model",
		Caps: registry.Capabilities{
			Coding: avgCap, Creative: avgCap, Analytical: avgCap,
			Multimodal: avgCap, Reasoning: avgCap, Languages: avgCap,
		},
		InputPrice:  inPrice,
		OutputPrice: outPrice,
		Baseline: registry.Baseline{
			Availability: 0.99,
			LatencyMs:    800,
			Quality:      float64(avgCap) / 100,
			Reliability:  0.97,
		},
		Specialties: tags,
	}
}

func newTestEngine() *Engine {
	return NewEngine(health.NewTracker(), NewInferencer(), NewFeedbackStore())
}

func TestSelect_EmptyCandidates(t *testing.T) {
	e := newTestEngine()
	_, err := e.Select(nil, RequestContext{}, "", StrategyHybrid)
	require.ErrorIs(t, err, ErrNoCandidates)
}

func TestSelect_UnknownStrategy(t *testing.T) {
	e := newTestEngine()
	cands := []registry.Provider{testProvider("a", 70, 0.001, 0.002)}
	_, err := e.Select(cands, RequestContext{}, "", StrategyName("mystery"))
	require.Error(t, err)
}

func TestSelect_Deterministic_NonAdaptive(t *testing.T) {
	e := newTestEngine()
	cands := []registry.Provider{
		testProvider("alpha", 85, 0.003, 0.015),
		testProvider("beta", 70, 0.001, 0.002),
		testProvider("gamma", 90, 0.010, 0.030),
	}
	rctx := RequestContext{
		TaskType:       TaskCoding,
		Complexity:     ComplexityModerate,
		ExpectedTokens: 500,
		Quality:        QualityGood,
		Budget:         BudgetMedium,
	}

	for _, strategy := range []StrategyName{
		StrategyContextAware, StrategyPerformance, StrategyCostOptimized,
		StrategyQualityFocused, StrategyDomainSpecific,
	} {
		first, err := e.Select(cands, rctx, "", strategy)
		require.NoError(t, err, "strategy %s", strategy)

		for i := 0; i < 5; i++ {
			again, err := e.Select(cands, rctx, "", strategy)
			require.NoError(t, err)
			assert.Equal(t, first.Chosen.ID, again.Chosen.ID, "strategy %s not deterministic", strategy)
			assert.Equal(t, first.Confidence, again.Confidence, "strategy %s confidence drifted", strategy)
		}
	}
}

func TestSelect_CostOptimized_FreeBudgetPrefersZeroCost(t *testing.T) {
	e := newTestEngine()
	cands := []registry.Provider{
		testProvider("premium", 95, 0.015, 0.075),
		testProvider("community", 55, 0, 0),
		testProvider("mid", 80, 0.002, 0.008),
	}
	rctx := RequestContext{
		TaskType:       TaskGeneral,
		Complexity:     ComplexityModerate,
		ExpectedTokens: 400,
		Budget:         BudgetFree,
	}

	res, err := e.Select(cands, rctx, "", StrategyCostOptimized)
	require.NoError(t, err)
	assert.Equal(t, "community", res.Chosen.ID,
		"free budget must never pick a paid provider when a zero-cost candidate exists")
	assert.Zero(t, res.EstimatedCost)
}

func TestSelect_CostOptimized_NoCandidateWithinCeiling(t *testing.T) {
	e := newTestEngine()
	cands := []registry.Provider{
		testProvider("pricey", 90, 0.02, 0.06),
		testProvider("pricier", 95, 0.05, 0.10),
	}
	rctx := RequestContext{
		Complexity:     ComplexityModerate,
		ExpectedTokens: 5000,
		Budget:         BudgetFree,
	}

	// Nothing is free; the strategy degrades instead of failing.
	res, err := e.Select(cands, rctx, "", StrategyCostOptimized)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Chosen.ID)
}

func TestSelect_QualityFocused_FiltersBelowFloor(t *testing.T) {
	e := newTestEngine()
	cands := []registry.Provider{
		testProvider("weak", 45, 0, 0),
		testProvider("strong", 88, 0.01, 0.03),
	}
	rctx := RequestContext{
		TaskType: TaskCoding,
		Quality:  QualityExcellent,
		Budget:   BudgetHigh,
	}

	res, err := e.Select(cands, rctx, "", StrategyQualityFocused)
	require.NoError(t, err)
	assert.Equal(t, "strong", res.Chosen.ID)
}

func TestSelect_DomainSpecific_NarrowsToTagged(t *testing.T) {
	e := newTestEngine()
	cands := []registry.Provider{
		testProvider("generalist", 90, 0.002, 0.004),
		testProvider("specialist", 75, 0.002, 0.004, "legal"),
	}
	rctx := RequestContext{
		TaskType: TaskAnalytical,
		Domains:  []string{"legal"},
		Budget:   BudgetMedium,
	}

	res, err := e.Select(cands, rctx, "", StrategyDomainSpecific)
	require.NoError(t, err)
	assert.Equal(t, "specialist", res.Chosen.ID)
}

func TestSelect_Adaptive_FeedbackShiftsRanking(t *testing.T) {
	e := newTestEngine()
	cands := []registry.Provider{
		testProvider("steady", 80, 0.002, 0.004),
		testProvider("rising", 78, 0.002, 0.004),
	}
	rctx := RequestContext{TaskType: TaskGeneral, Budget: BudgetMedium}

	res, err := e.Select(cands, rctx, "", StrategyAdaptive)
	require.NoError(t, err)
	assert.Equal(t, "steady", res.Chosen.ID, "higher capability wins with no feedback")

	// Sustained positive feedback for the weaker provider should overcome
	// the 2-point capability gap.
	for i := 0; i < 30; i++ {
		e.Feedback().Record("rising", 1.0)
		e.Feedback().Record("steady", 0.2)
	}

	res, err = e.Select(cands, rctx, "", StrategyAdaptive)
	require.NoError(t, err)
	assert.Equal(t, "rising", res.Chosen.ID)
}

func TestSelect_Hybrid_ReturnsAlternatesAndReasoning(t *testing.T) {
	e := newTestEngine()
	cands := []registry.Provider{
		testProvider("a", 85, 0.003, 0.015),
		testProvider("b", 70, 0.001, 0.002),
		testProvider("c", 90, 0.010, 0.030),
		testProvider("d", 60, 0, 0),
		testProvider("e", 75, 0.002, 0.006),
	}
	rctx := RequestContext{
		TaskType:       TaskCoding,
		Complexity:     ComplexityComplex,
		ExpectedTokens: 900,
		Quality:        QualityGood,
		Budget:         BudgetMedium,
	}

	res, err := e.Select(cands, rctx, "sess-1", StrategyHybrid)
	require.NoError(t, err)
	assert.Len(t, res.Alternates, maxAlternates)
	assert.NotEmpty(t, res.Reasoning)
	assert.Greater(t, res.EstimatedLatency, time.Duration(0))
	assert.GreaterOrEqual(t, res.Confidence, 0.0)
	assert.LessOrEqual(t, res.Confidence, 1.0)
}

func TestHybridWeights_NormalizedAndContextAdjusted(t *testing.T) {
	e := newTestEngine()

	base := e.hybridWeights(&scoringInput{
		rctx:     RequestContext{Budget: BudgetMedium, Quality: QualityGood},
		feedback: e.feedback,
	})
	free := e.hybridWeights(&scoringInput{
		rctx:     RequestContext{Budget: BudgetFree, Quality: QualityGood},
		feedback: e.feedback,
	})

	sum := 0.0
	for _, v := range free {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9, "weights must normalize to 1")
	assert.Greater(t, free[StrategyCostOptimized], base[StrategyCostOptimized],
		"free budget must boost the cost strategy's vote")
}

func TestFeedbackStore_AdjustmentBounded(t *testing.T) {
	fs := NewFeedbackStore()
	for i := 0; i < 100; i++ {
		fs.Record("p", 1.0)
	}
	assert.LessOrEqual(t, fs.Adjustment("p"), adjustmentBound)

	for i := 0; i < 200; i++ {
		fs.Record("p", 0.0)
	}
	assert.GreaterOrEqual(t, fs.Adjustment("p"), -adjustmentBound)
}
