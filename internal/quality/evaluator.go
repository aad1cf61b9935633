// Package quality gates generated responses against a tier's quality bar.
// The Evaluator interface is deliberately pluggable: the default heuristic
// implementation is a placeholder scoring method, and deployments are
// expected to swap in a model-based scorer without touching the
// orchestrator's contract.
package quality

import (
	"strings"

	"github.com/tidegate/cascade/internal/selection"
)

// Assessment is the outcome of scoring one response.
type Assessment struct {
	Score     float64            `json:"score"` // 0-1, unweighted mean of PerMetric
	Passes    bool               `json:"passes_threshold"`
	PerMetric map[string]float64 `json:"per_metric"`
}

// Evaluator scores a generated response against a threshold. Implementations
// must be pure functions of their inputs.
type Evaluator interface {
	Assess(content string, rctx selection.RequestContext, threshold float64) Assessment
}

// HeuristicEvaluator is the default Evaluator: cheap lexical heuristics for
// coherence, relevance, accuracy, completeness, and a safety keyword screen,
// averaged unweighted.
type HeuristicEvaluator struct{}

// NewHeuristic creates a HeuristicEvaluator.
func NewHeuristic() *HeuristicEvaluator {
	return &HeuristicEvaluator{}
}

// unsafeMarkers trip the safety screen to zero.
var unsafeMarkers = []string{
	"as an ai i cannot help with weapons",
	"here is how to build a bomb",
	"<script>",
	"ignore previous instructions",
}

// hedgeMarkers weakly penalize the accuracy proxy.
var hedgeMarkers = []string{
	"i'm not sure",
	"i cannot verify",
	"i don't know",
	"as an ai language model",
}

// Assess scores the content. It has no side effects.
func (h *HeuristicEvaluator) Assess(content string, rctx selection.RequestContext, threshold float64) Assessment {
	lower := strings.ToLower(content)

	metrics := map[string]float64{
		"coherence":    coherence(content),
		"relevance":    relevance(lower, rctx),
		"accuracy":     accuracyProxy(lower),
		"completeness": completeness(content, rctx),
		"safety":       safety(lower),
	}

	sum := 0.0
	for _, v := range metrics {
		sum += v
	}
	score := sum / float64(len(metrics))

	return Assessment{
		Score:     score,
		Passes:    score >= threshold,
		PerMetric: metrics,
	}
}

// coherence applies length and structure heuristics: empty or fragmentary
// output scores low, multi-sentence prose scores high.
func coherence(content string) float64 {
	trimmed := strings.TrimSpace(content)
	switch {
	case trimmed == "":
		return 0
	case len(trimmed) < 20:
		return 0.3
	case len(trimmed) < 80:
		return 0.6
	}

	sentences := strings.Count(trimmed, ". ") + strings.Count(trimmed, ".\n") + 1
	if sentences >= 2 {
		return 0.9
	}
	return 0.75
}

// relevance checks that the response touches the request's domains and task
// vocabulary. With no domains to match it stays neutral-positive.
func relevance(lower string, rctx selection.RequestContext) float64 {
	if len(rctx.Domains) == 0 {
		return 0.7
	}
	matched := 0
	for _, d := range rctx.Domains {
		if strings.Contains(lower, d) {
			matched++
		}
	}
	return 0.5 + 0.5*float64(matched)/float64(len(rctx.Domains))
}

// accuracyProxy penalizes hedging and self-referential disclaimers. A real
// factual-accuracy check needs a model; this is the documented placeholder.
func accuracyProxy(lower string) float64 {
	score := 0.8
	for _, m := range hedgeMarkers {
		if strings.Contains(lower, m) {
			score -= 0.15
		}
	}
	if score < 0.2 {
		score = 0.2
	}
	return score
}

// completeness compares response length to the expected volume implied by
// the request.
func completeness(content string, rctx selection.RequestContext) float64 {
	words := len(strings.Fields(content))
	if words == 0 {
		return 0
	}

	// Rough expectation: a quarter of the prompt token volume in words,
	// floor of 20 for trivial prompts.
	expected := rctx.ExpectedTokens / 4
	if expected < 20 {
		expected = 20
	}

	ratio := float64(words) / float64(expected)
	if ratio >= 1 {
		return 1
	}
	return 0.4 + 0.6*ratio
}

// safety screens for known-bad content markers.
func safety(lower string) float64 {
	for _, m := range unsafeMarkers {
		if strings.Contains(lower, m) {
			return 0
		}
	}
	return 1
}
