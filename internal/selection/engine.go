package selection

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tidegate/cascade/internal/health"
	"github.com/tidegate/cascade/internal/registry"
)

// maxAlternates bounds how many ranked runners-up a Result carries.
const maxAlternates = 3

// adaptiveHistoryMin is the feedback volume at which the hybrid blend
// starts trusting the adaptive strategy more.
const adaptiveHistoryMin = 20

// ErrNoCandidates is returned when Select is called with an empty
// candidate set.
var ErrNoCandidates = errors.New("selection: no candidates")

// Alternate is a ranked runner-up choice.
type Alternate struct {
	Provider registry.Provider `json:"provider"`
	Score    float64           `json:"score"`
}

// Result is one selection decision: the chosen provider, ranked alternates,
// human-readable reasoning, and cost/latency estimates for the choice.
type Result struct {
	Chosen           registry.Provider `json:"chosen"`
	Confidence       float64           `json:"confidence"`
	Alternates       []Alternate       `json:"alternates,omitempty"`
	Reasoning        []string          `json:"reasoning"`
	Strategy         StrategyName      `json:"strategy"`
	EstimatedCost    float64           `json:"estimated_cost"`
	EstimatedLatency time.Duration     `json:"estimated_latency"`
}

// Engine ranks candidate providers for a request context. It reads health
// snapshots from the Tracker and learned adjustments from the FeedbackStore;
// it never mutates either during Select, so non-adaptive selections are
// deterministic for fixed inputs.
type Engine struct {
	tracker  *health.Tracker
	infer    *Inferencer
	feedback *FeedbackStore
	prefs    Preferences
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithPreferences installs user/project provider preference scores.
func WithPreferences(p Preferences) EngineOption {
	return func(e *Engine) { e.prefs = p }
}

// NewEngine creates an Engine bound to the given tracker, inferencer, and
// feedback store.
func NewEngine(tracker *health.Tracker, infer *Inferencer, feedback *FeedbackStore, opts ...EngineOption) *Engine {
	e := &Engine{
		tracker:  tracker,
		infer:    infer,
		feedback: feedback,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Inferencer returns the engine's context inferencer.
func (e *Engine) Inferencer() *Inferencer {
	return e.infer
}

// Feedback returns the engine's feedback store.
func (e *Engine) Feedback() *FeedbackStore {
	return e.feedback
}

// Select scores the candidates under the named strategy (hybrid when empty)
// and returns the top choice with up to three ranked alternates.
func (e *Engine) Select(cands []registry.Provider, rctx RequestContext, sessionID string, strategy StrategyName) (*Result, error) {
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}
	if strategy == "" {
		strategy = StrategyHybrid
	}

	in := &scoringInput{
		rctx:     rctx,
		records:  e.tracker.Snapshot(),
		feedback: e.feedback,
		recent:   e.infer.Recent(sessionID),
		prefs:    e.prefs,
	}

	var ranked []scored
	var err error
	if strategy == StrategyHybrid {
		ranked = e.rankHybrid(cands, in)
	} else {
		ranked, err = runStrategy(strategy, cands, in)
		if err != nil {
			return nil, err
		}
	}
	if len(ranked) == 0 {
		return nil, ErrNoCandidates
	}

	return e.buildResult(ranked, in, strategy), nil
}

// rankHybrid runs every base strategy concurrently, weights their votes by
// context, and combines them into a single ranking. Weights are normalized
// to sum to 1 before combining.
func (e *Engine) rankHybrid(cands []registry.Provider, in *scoringInput) []scored {
	results := make([][]scored, len(baseStrategies))

	var wg sync.WaitGroup
	for i, name := range baseStrategies {
		wg.Add(1)
		go func(i int, name StrategyName) {
			defer wg.Done()
			ranked, err := runStrategy(name, cands, in)
			if err == nil {
				results[i] = ranked
			}
		}(i, name)
	}
	wg.Wait()

	weights := e.hybridWeights(in)

	combined := make(map[string]float64, len(cands))
	byID := make(map[string]registry.Provider, len(cands))
	for _, p := range cands {
		byID[p.ID] = p
	}

	for i, name := range baseStrategies {
		ranked := results[i]
		if len(ranked) == 0 {
			continue
		}
		// Normalize each strategy's scores by its maximum so one strategy's
		// scale cannot dominate the vote.
		max := ranked[0].score
		for _, s := range ranked {
			if s.score > max {
				max = s.score
			}
		}
		if max <= 0 {
			continue
		}
		for _, s := range ranked {
			combined[s.prov.ID] += weights[name] * (s.score / max)
		}
	}

	out := make([]scored, 0, len(combined))
	for id, score := range combined {
		out = append(out, scored{byID[id], score})
	}
	return rank(out)
}

// hybridWeights produces the context-dependent strategy weights, normalized
// to sum to 1.
func (e *Engine) hybridWeights(in *scoringInput) map[StrategyName]float64 {
	w := map[StrategyName]float64{
		StrategyContextAware:   0.25,
		StrategyPerformance:    0.20,
		StrategyCostOptimized:  0.15,
		StrategyQualityFocused: 0.20,
		StrategyDomainSpecific: 0.10,
		StrategyAdaptive:       0.10,
	}

	switch in.rctx.Budget {
	case BudgetFree, BudgetLow:
		w[StrategyCostOptimized] *= 2
	}
	switch in.rctx.Quality {
	case QualityExcellent, QualityPerfect:
		w[StrategyQualityFocused] *= 2
	}
	if in.feedback.Total() >= adaptiveHistoryMin {
		w[StrategyAdaptive] *= 1.5
	}

	sum := 0.0
	for _, v := range w {
		sum += v
	}
	for k := range w {
		w[k] /= sum
	}
	return w
}

// buildResult packages the ranked list into a Result with estimates and
// reasoning for the winner.
func (e *Engine) buildResult(ranked []scored, in *scoringInput, strategy StrategyName) *Result {
	top := ranked[0]

	var rec *health.Record
	if r, ok := in.records[top.prov.ID]; ok {
		rec = &r
	}

	res := &Result{
		Chosen:           top.prov,
		Confidence:       confidence(ranked),
		Strategy:         strategy,
		EstimatedCost:    EstimateCost(top.prov, in.rctx),
		EstimatedLatency: EstimateLatency(top.prov, rec, in.rctx),
	}

	for _, s := range ranked[1:] {
		if len(res.Alternates) == maxAlternates {
			break
		}
		res.Alternates = append(res.Alternates, Alternate{Provider: s.prov, Score: s.score})
	}

	res.Reasoning = append(res.Reasoning,
		fmt.Sprintf("strategy=%s task=%s complexity=%s budget=%s quality=%s",
			strategy, in.rctx.TaskType, in.rctx.Complexity, in.rctx.Budget, in.rctx.Quality),
		fmt.Sprintf("chose %s (score %.3f) from %d candidates", top.prov.ID, top.score, len(ranked)),
	)
	if rec != nil {
		res.Reasoning = append(res.Reasoning,
			fmt.Sprintf("health: status=%s availability=%.2f quality=%.2f", rec.Status, rec.Availability, rec.Quality))
	}

	return res
}

// confidence reflects how far ahead the winner is of the runner-up.
func confidence(ranked []scored) float64 {
	if len(ranked) == 1 {
		return 0.9
	}
	top, second := ranked[0].score, ranked[1].score
	if top <= 0 {
		return 0.5
	}
	return clamp01(0.5 + 0.5*(top-second)/top)
}
