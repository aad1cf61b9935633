package selection

import (
	"time"

	"github.com/tidegate/cascade/internal/health"
	"github.com/tidegate/cascade/internal/registry"
)

// completionFactor scales the measured prompt size into an expected
// completion size per complexity tier.
var completionFactor = map[Complexity]float64{
	ComplexitySimple:   0.5,
	ComplexityModerate: 1.0,
	ComplexityComplex:  1.5,
	ComplexityExpert:   2.0,
}

// perTokenMs is the assumed generation time per completion token before the
// provider speed multiplier is applied.
const perTokenMs = 15.0

// expectedCompletionTokens estimates how many tokens the response will carry.
func expectedCompletionTokens(rctx RequestContext) int {
	f, ok := completionFactor[rctx.Complexity]
	if !ok {
		f = 1.0
	}
	out := int(float64(rctx.ExpectedTokens) * f)
	if out < 32 {
		out = 32
	}
	return out
}

// EstimateCost projects the dollar cost of serving the request with the
// given provider: prompt share at the input price plus completion share at
// the output price, both per 1K tokens.
func EstimateCost(p registry.Provider, rctx RequestContext) float64 {
	promptTokens := float64(rctx.ExpectedTokens)
	completionTokens := float64(expectedCompletionTokens(rctx))
	return promptTokens/1000*p.InputPrice + completionTokens/1000*p.OutputPrice
}

// EstimateLatency projects end-to-end latency: the provider's base latency
// (live average when tracked, declared baseline otherwise) plus per-token
// generation time scaled by a provider speed multiplier derived from its
// declared baseline.
func EstimateLatency(p registry.Provider, rec *health.Record, rctx RequestContext) time.Duration {
	base := p.Baseline.LatencyMs
	if rec != nil && rec.AvgLatencyMs > 0 {
		base = rec.AvgLatencyMs
	}

	mult := speedMultiplier(p)
	tokens := float64(expectedCompletionTokens(rctx))
	totalMs := base + tokens*perTokenMs*mult
	return time.Duration(totalMs) * time.Millisecond
}

// speedMultiplier maps a provider's declared baseline latency onto a
// [0.5, 2.0] generation speed multiplier; slower baselines imply slower
// per-token output.
func speedMultiplier(p registry.Provider) float64 {
	if p.Baseline.LatencyMs <= 0 {
		return 1.0
	}
	mult := p.Baseline.LatencyMs / 500.0
	if mult < 0.5 {
		mult = 0.5
	}
	if mult > 2.0 {
		mult = 2.0
	}
	return mult
}
