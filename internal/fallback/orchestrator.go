// Package fallback drives the end-to-end escalation sequence: pick a
// starting tier, try providers within a tier up to its retry budget, gate
// results on quality, advance tiers on exhaustion, and produce a complete
// execution record. Attempts within one execution are strictly sequential;
// each outcome decides whether the next attempt is needed.
package fallback

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidegate/cascade/internal/health"
	"github.com/tidegate/cascade/internal/notify"
	"github.com/tidegate/cascade/internal/provider"
	"github.com/tidegate/cascade/internal/quality"
	"github.com/tidegate/cascade/internal/registry"
	"github.com/tidegate/cascade/internal/selection"
)

// DefaultAttemptTimeout bounds one provider attempt when the tier does not
// configure its own timeout.
const DefaultAttemptTimeout = 30 * time.Second

// Orchestrator owns the escalation state machine. All collaborators are
// injected; the orchestrator holds no ambient global state.
type Orchestrator struct {
	reg       *registry.Registry
	tracker   *health.Tracker
	engine    *selection.Engine
	eval      quality.Evaluator
	client    provider.Client
	archive   Archiver    // optional
	bus       *notify.Bus // optional
	collector *Collector
}

// ExecuteParams carries one Execute call's inputs.
type ExecuteParams struct {
	OriginalProviderID string
	Request            provider.Request
	SessionID          string
	FailureReason      string
	Hints              selection.Hints
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithArchiver attaches a persistent execution archive.
func WithArchiver(a Archiver) Option {
	return func(o *Orchestrator) { o.archive = a }
}

// WithBus attaches the notification side channel.
func WithBus(b *notify.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// WithEvaluator overrides the default heuristic quality evaluator.
func WithEvaluator(ev quality.Evaluator) Option {
	return func(o *Orchestrator) { o.eval = ev }
}

// New creates an Orchestrator. It returns a programmer error for missing
// required collaborators; provider-level failures never error.
func New(reg *registry.Registry, tracker *health.Tracker, engine *selection.Engine, client provider.Client, opts ...Option) (*Orchestrator, error) {
	if reg == nil {
		return nil, ErrNilRegistry
	}
	if tracker == nil {
		return nil, ErrNilTracker
	}
	if engine == nil {
		return nil, ErrNilEngine
	}
	if client == nil {
		return nil, ErrNilClient
	}

	o := &Orchestrator{
		reg:       reg,
		tracker:   tracker,
		engine:    engine,
		client:    client,
		eval:      quality.NewHeuristic(),
		collector: NewCollector(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Collector exposes the live metrics counters.
func (o *Orchestrator) Collector() *Collector {
	return o.collector
}

// Execute runs the full fallback sequence for one request and always
// returns a complete ExecutionRecord, including on exhaustion and
// cancellation.
func (o *Orchestrator) Execute(ctx context.Context, p ExecuteParams) *ExecutionRecord {
	o.collector.IncrementActive()
	defer o.collector.DecrementActive()

	rec := newRecord(p.SessionID, p.OriginalProviderID, p.FailureReason)
	rctx := o.engine.Inferencer().Infer(p.Request, p.SessionID, p.Hints)

	startRank := o.startTier(p.OriginalProviderID, p.FailureReason)
	tiers := o.reg.Tiers()

	var lastTier registry.Tier
	for _, tier := range tiers {
		if tier.Rank < startRank {
			continue
		}
		lastTier = tier

		done := o.runTier(ctx, tier, rctx, p.Request, rec)
		if done {
			o.complete(rec)
			return rec
		}
		if ctx.Err() != nil {
			o.cancel(rec)
			return rec
		}

		if tier.Rank != o.reg.LastRank() {
			o.publish(notify.Event{
				Kind:        notify.KindTierAdvanced,
				ExecutionID: rec.ID,
				Tier:        tier.Rank + 1,
			})
		}
	}

	// Every tier exhausted.
	rec.Success = false
	rec.FallbackLevel = 0
	o.publish(notify.Event{
		Kind:        notify.KindExecutionExhausted,
		ExecutionID: rec.ID,
		Tier:        lastTier.Rank,
		Protocol:    lastTier.Emergency,
		Detail:      "all tiers exhausted",
	})
	log.Error().
		Str("execution_id", rec.ID).
		Int("attempts", len(rec.Attempts)).
		Str("emergency_protocol", lastTier.Emergency).
		Msg("fallback: all tiers exhausted")

	o.complete(rec)
	return rec
}

// runTier attempts up to min(maxRetries, usable candidates) providers in
// the tier. It returns true when an attempt succeeded (rec is finalized as
// successful), false when the tier is exhausted or the context was
// cancelled.
func (o *Orchestrator) runTier(ctx context.Context, tier registry.Tier, rctx selection.RequestContext, req provider.Request, rec *ExecutionRecord) bool {
	candidates := o.usableCandidates(tier)
	if len(candidates) == 0 {
		// No usable providers: short-circuit straight to the next tier.
		log.Debug().Int("tier", tier.Rank).Msg("fallback: no usable providers in tier")
		return false
	}

	maxAttempts := tier.MaxRetries
	if maxAttempts <= 0 || maxAttempts > len(candidates) {
		maxAttempts = len(candidates)
	}

	for i := 0; i < maxAttempts; i++ {
		if ctx.Err() != nil {
			return false
		}
		if o.attempt(ctx, tier, candidates[i], rctx, req, rec) {
			return true
		}
	}
	return false
}

// attempt invokes one provider under the tier's timeout and applies the
// quality gate. It returns true on a gated success.
func (o *Orchestrator) attempt(ctx context.Context, tier registry.Tier, prov registry.Provider, rctx selection.RequestContext, req provider.Request, rec *ExecutionRecord) bool {
	timeout := tier.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := o.client.Generate(attemptCtx, prov, req)
	latency := time.Since(start)

	if err != nil {
		outcome := classifyOutcome(attemptCtx, err)
		o.tracker.Update(prov.ID, false, latency, -1)
		o.record(rec, Attempt{
			Tier:         tier.Rank,
			ProviderID:   prov.ID,
			Outcome:      outcome,
			Latency:      latency,
			QualityScore: -1,
			Error:        err.Error(),
		})
		log.Warn().
			Str("execution_id", rec.ID).
			Str("provider", prov.ID).
			Int("tier", tier.Rank).
			Str("outcome", string(outcome)).
			Err(err).
			Msg("fallback: attempt failed")
		return false
	}

	assessment := o.eval.Assess(result.Content, rctx, tier.QualityThreshold)
	o.tracker.Update(prov.ID, true, latency, assessment.Score)

	if !assessment.Passes {
		o.record(rec, Attempt{
			Tier:         tier.Rank,
			ProviderID:   prov.ID,
			Outcome:      OutcomeQualityFail,
			Latency:      latency,
			QualityScore: assessment.Score,
		})
		log.Debug().
			Str("execution_id", rec.ID).
			Str("provider", prov.ID).
			Float64("score", assessment.Score).
			Float64("threshold", tier.QualityThreshold).
			Msg("fallback: response below quality bar")
		return false
	}

	o.record(rec, Attempt{
		Tier:         tier.Rank,
		ProviderID:   prov.ID,
		Outcome:      OutcomeSuccess,
		Latency:      latency,
		QualityScore: assessment.Score,
	})

	rec.Success = true
	rec.WinningProvider = prov.ID
	rec.FallbackLevel = tier.Rank
	rec.QualityScore = assessment.Score
	rec.CostUSD = result.CostUSD
	rec.Content = result.Content
	rec.TokensIn = result.TokensIn
	rec.TokensOut = result.TokensOut

	o.publish(notify.Event{
		Kind:        notify.KindExecutionSucceeded,
		ExecutionID: rec.ID,
		ProviderID:  prov.ID,
		Tier:        tier.Rank,
	})
	return true
}

// usableCandidates filters the tier to usable providers and orders them by
// health-derived score descending, with the provider id as a deterministic
// tie-break.
func (o *Orchestrator) usableCandidates(tier registry.Tier) []registry.Provider {
	var out []registry.Provider
	for _, p := range tier.Providers {
		if o.tracker.IsUsable(p.ID) {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := o.tracker.Score(out[i].ID), o.tracker.Score(out[j].ID)
		if si != sj {
			return si > sj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// startTier determines where escalation begins. A known originating
// provider starts one tier past its own (capped at the last tier);
// otherwise the failure reason's keywords decide.
func (o *Orchestrator) startTier(originalProviderID, failureReason string) int {
	last := o.reg.LastRank()

	if originalProviderID != "" {
		if _, rank, err := o.reg.FindProvider(originalProviderID); err == nil {
			next := rank + 1
			if next > last {
				next = last
			}
			return next
		}
	}

	reason := strings.ToLower(failureReason)
	var rank int
	switch {
	case strings.Contains(reason, "timeout"):
		rank = 2
	case strings.Contains(reason, "cost"):
		rank = 4
	case strings.Contains(reason, "quality"):
		rank = 1
	default:
		rank = 1
	}
	if rank > last {
		rank = last
	}
	return rank
}

// record appends an attempt and publishes the attempt notification.
func (o *Orchestrator) record(rec *ExecutionRecord, a Attempt) {
	rec.append(a)
	o.publish(notify.Event{
		Kind:        notify.KindAttemptRecorded,
		ExecutionID: rec.ID,
		ProviderID:  a.ProviderID,
		Tier:        a.Tier,
		Outcome:     string(a.Outcome),
	})
}

// cancel finalizes a record cut short by caller cancellation. Cancellation
// is distinct from exhaustion: the remaining tiers were never tried.
func (o *Orchestrator) cancel(rec *ExecutionRecord) {
	rec.Success = false
	rec.Cancelled = true
	log.Info().
		Str("execution_id", rec.ID).
		Int("attempts", len(rec.Attempts)).
		Msg("fallback: execution cancelled by caller")
	o.complete(rec)
}

// complete finalizes, counts, and archives the record.
func (o *Orchestrator) complete(rec *ExecutionRecord) {
	rec.finalize()
	o.collector.Record(rec)
	if o.archive != nil {
		if err := o.archive.Insert(rec); err != nil {
			log.Error().Err(err).Str("execution_id", rec.ID).Msg("fallback: archiving record failed")
		}
	}
}

// publish emits an event when a bus is attached.
func (o *Orchestrator) publish(ev notify.Event) {
	if o.bus != nil {
		o.bus.Publish(ev)
	}
}

// Select performs a one-shot provider choice across all usable providers
// without executing anything.
func (o *Orchestrator) Select(req provider.Request, sessionID string, hints selection.Hints, strategy selection.StrategyName) (*selection.Result, error) {
	rctx := o.engine.Inferencer().Infer(req, sessionID, hints)

	var candidates []registry.Provider
	for _, p := range o.reg.AllProviders() {
		if o.tracker.IsUsable(p.ID) {
			candidates = append(candidates, p)
		}
	}
	return o.engine.Select(candidates, rctx, sessionID, strategy)
}

// ReportFeedback folds a caller-observed satisfaction rating in [0,1] back
// into the winning provider's quality EMA and the adaptive strategy's
// learned adjustments.
func (o *Orchestrator) ReportFeedback(executionID string, rating float64) error {
	if o.archive == nil {
		return ErrRecordNotFound
	}
	rec, err := o.archive.Get(executionID)
	if err != nil || rec == nil {
		return ErrRecordNotFound
	}
	if rec.WinningProvider == "" {
		return nil // nothing to attribute the feedback to
	}

	o.tracker.ObserveQuality(rec.WinningProvider, rating)
	o.engine.Feedback().Record(rec.WinningProvider, rating)
	return nil
}
