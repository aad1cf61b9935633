package selection

import (
	"fmt"
	"sort"

	"github.com/tidegate/cascade/internal/health"
	"github.com/tidegate/cascade/internal/registry"
)

// StrategyName identifies one of the interchangeable scoring strategies.
type StrategyName string

const (
	StrategyContextAware   StrategyName = "context-aware"
	StrategyPerformance    StrategyName = "performance-based"
	StrategyCostOptimized  StrategyName = "cost-optimized"
	StrategyQualityFocused StrategyName = "quality-focused"
	StrategyDomainSpecific StrategyName = "domain-specific"
	StrategyAdaptive       StrategyName = "adaptive"
	StrategyHybrid         StrategyName = "hybrid"
)

// baseStrategies are the strategies the hybrid blend runs, in a fixed order
// so the combination is reproducible.
var baseStrategies = []StrategyName{
	StrategyContextAware,
	StrategyPerformance,
	StrategyCostOptimized,
	StrategyQualityFocused,
	StrategyDomainSpecific,
	StrategyAdaptive,
}

// Preferences carries user- and project-level provider preference scores
// in [0,1]. Missing entries are treated as neutral (0.5).
type Preferences struct {
	User    map[string]float64
	Project map[string]float64
}

// budgetCeilings maps a budget band to the maximum acceptable estimated
// dollar cost per request for the cost-optimized strategy.
var budgetCeilings = map[Budget]float64{
	BudgetFree:   0.0,
	BudgetLow:    0.01,
	BudgetMedium: 0.10,
	BudgetHigh:   1.00,
}

// qualityCapFloor maps a quality requirement to the minimum average declared
// capability (0-100) the quality-focused strategy accepts.
var qualityCapFloor = map[QualityLevel]int{
	QualityBasic:     40,
	QualityGood:      60,
	QualityExcellent: 75,
	QualityPerfect:   85,
}

// scoringInput bundles the read-only state strategies score against.
type scoringInput struct {
	rctx     RequestContext
	records  map[string]health.Record
	feedback *FeedbackStore
	recent   []RequestContext
	prefs    Preferences
}

// scored pairs a candidate with its strategy score.
type scored struct {
	prov  registry.Provider
	score float64
}

// rank sorts scored candidates by score descending with a deterministic
// provider-id tie-break.
func rank(list []scored) []scored {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].score != list[j].score {
			return list[i].score > list[j].score
		}
		return list[i].prov.ID < list[j].prov.ID
	})
	return list
}

// runStrategy dispatches to the named strategy's ranking function.
func runStrategy(name StrategyName, cands []registry.Provider, in *scoringInput) ([]scored, error) {
	switch name {
	case StrategyContextAware:
		return rankContextAware(cands, in), nil
	case StrategyPerformance:
		return rankPerformance(cands, in), nil
	case StrategyCostOptimized:
		return rankCostOptimized(cands, in), nil
	case StrategyQualityFocused:
		return rankQualityFocused(cands, in), nil
	case StrategyDomainSpecific:
		return rankDomainSpecific(cands, in), nil
	case StrategyAdaptive:
		return rankAdaptive(cands, in), nil
	default:
		return nil, fmt.Errorf("selection: unknown strategy %q", name)
	}
}

// rankContextAware applies the weighted context signal blend: task
// capability 25%, historical performance 20%, domain overlap 15%,
// cost/quality tradeoff 15%, user preference 10%, project preference 10%,
// recent-context relevance 5%.
func rankContextAware(cands []registry.Provider, in *scoringInput) []scored {
	out := make([]scored, 0, len(cands))
	for _, p := range cands {
		s := 0.25*capabilityMatch(p, in.rctx.TaskType) +
			0.20*historicalPerformance(p, in) +
			0.15*domainOverlap(p, in.rctx.Domains) +
			0.15*costQualityTradeoff(p, in.rctx) +
			0.10*preference(in.prefs.User, p.ID) +
			0.10*preference(in.prefs.Project, p.ID) +
			0.05*recentRelevance(p, in.recent)
		out = append(out, scored{p, s})
	}
	return rank(out)
}

// rankPerformance blends tracked success rate, normalized latency, quality,
// cost efficiency, and satisfaction.
func rankPerformance(cands []registry.Provider, in *scoringInput) []scored {
	out := make([]scored, 0, len(cands))
	for _, p := range cands {
		rec, tracked := in.records[p.ID]

		successRate := p.Baseline.Reliability
		quality := p.Baseline.Quality
		latencyMs := p.Baseline.LatencyMs
		if tracked {
			successRate = 1 - rec.ErrorRate
			quality = rec.Quality
			if rec.AvgLatencyMs > 0 {
				latencyMs = rec.AvgLatencyMs
			}
		}

		latencyScore := 1.0 / (1.0 + latencyMs/1000.0)
		costEff := 1.0 / (1.0 + EstimateCost(p, in.rctx)*20)
		satisfaction := 0.5
		if s, ok := in.feedback.Satisfaction(p.ID); ok {
			satisfaction = s
		}

		s := 0.30*successRate + 0.20*latencyScore + 0.25*quality + 0.15*costEff + 0.10*satisfaction
		out = append(out, scored{p, s})
	}
	return rank(out)
}

// rankCostOptimized filters to candidates within the budget ceiling and
// maximizes quality per dollar. Zero-cost candidates are treated as
// maximally efficient, so under a "free" budget a paid provider can never
// outrank a free one.
func rankCostOptimized(cands []registry.Provider, in *scoringInput) []scored {
	ceiling, ok := budgetCeilings[in.rctx.Budget]
	if !ok {
		ceiling = budgetCeilings[BudgetMedium]
	}

	var within []registry.Provider
	for _, p := range cands {
		if EstimateCost(p, in.rctx) <= ceiling {
			within = append(within, p)
		}
	}
	// Nothing fits the ceiling: keep every candidate rather than returning
	// an empty ranking; the efficiency score below still favors the cheap.
	if len(within) == 0 {
		within = cands
	}

	out := make([]scored, 0, len(within))
	for _, p := range within {
		quality := float64(p.Caps.Average()) / 100.0
		cost := EstimateCost(p, in.rctx)

		var efficiency float64
		if cost == 0 {
			efficiency = quality * 1000 // free: maximally efficient
		} else {
			efficiency = quality / cost
		}
		// Squash to (0,1) so hybrid blending sees comparable magnitudes.
		out = append(out, scored{p, efficiency / (efficiency + 10)})
	}
	return rank(out)
}

// rankQualityFocused filters to candidates whose average declared capability
// clears the quality-tier floor, then re-scores by task-specific capability.
func rankQualityFocused(cands []registry.Provider, in *scoringInput) []scored {
	floor, ok := qualityCapFloor[in.rctx.Quality]
	if !ok {
		floor = qualityCapFloor[QualityGood]
	}

	var eligible []registry.Provider
	for _, p := range cands {
		if p.Caps.Average() >= floor {
			eligible = append(eligible, p)
		}
	}
	if len(eligible) == 0 {
		eligible = cands
	}

	out := make([]scored, 0, len(eligible))
	for _, p := range eligible {
		out = append(out, scored{p, capabilityMatch(p, in.rctx.TaskType)})
	}
	return rank(out)
}

// rankDomainSpecific narrows to candidates tagged for the request's domains
// before delegating to context-aware scoring.
func rankDomainSpecific(cands []registry.Provider, in *scoringInput) []scored {
	if len(in.rctx.Domains) == 0 {
		return rankContextAware(cands, in)
	}

	var tagged []registry.Provider
	for _, p := range cands {
		for _, d := range in.rctx.Domains {
			if p.HasSpecialty(d) {
				tagged = append(tagged, p)
				break
			}
		}
	}
	if len(tagged) == 0 {
		tagged = cands
	}
	return rankContextAware(tagged, in)
}

// rankAdaptive applies learned per-provider boost/penalty adjustments on top
// of the base capability score.
func rankAdaptive(cands []registry.Provider, in *scoringInput) []scored {
	out := make([]scored, 0, len(cands))
	for _, p := range cands {
		base := float64(p.Caps.Average()) / 100.0
		s := clamp01(base + in.feedback.Adjustment(p.ID))
		out = append(out, scored{p, s})
	}
	return rank(out)
}

// --- shared signals ---

func capabilityMatch(p registry.Provider, task TaskType) float64 {
	return float64(p.Caps.Score(string(task))) / 100.0
}

// historicalPerformance blends live availability and quality when tracked,
// falling back to the declared baseline for never-observed providers.
func historicalPerformance(p registry.Provider, in *scoringInput) float64 {
	if rec, ok := in.records[p.ID]; ok {
		return 0.5*rec.Availability + 0.5*rec.Quality
	}
	return 0.5*p.Baseline.Availability + 0.5*p.Baseline.Quality
}

func domainOverlap(p registry.Provider, domains []string) float64 {
	if len(domains) == 0 {
		return 0.5 // neutral: nothing to match against
	}
	matches := 0
	for _, d := range domains {
		if p.HasSpecialty(d) {
			matches++
		}
	}
	return float64(matches) / float64(len(domains))
}

// costQualityTradeoff blends quality against cost with a budget-dependent
// bias: tight budgets weight cost heavily, generous budgets weight quality.
func costQualityTradeoff(p registry.Provider, rctx RequestContext) float64 {
	quality := float64(p.Caps.Average()) / 100.0
	cost := EstimateCost(p, rctx)
	costScore := 1.0 / (1.0 + cost*20)

	var bias float64
	switch rctx.Budget {
	case BudgetFree:
		bias = 0.8
	case BudgetLow:
		bias = 0.6
	case BudgetMedium:
		bias = 0.4
	default:
		bias = 0.2
	}
	return quality*(1-bias) + costScore*bias
}

func preference(prefs map[string]float64, providerID string) float64 {
	if v, ok := prefs[providerID]; ok {
		return clamp01(v)
	}
	return 0.5
}

// recentRelevance scores how well the provider fits the task mix of the
// session's recent requests.
func recentRelevance(p registry.Provider, recent []RequestContext) float64 {
	if len(recent) == 0 {
		return 0.5
	}
	sum := 0.0
	for _, rc := range recent {
		sum += capabilityMatch(p, rc.TaskType)
	}
	return sum / float64(len(recent))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
