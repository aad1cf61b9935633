// Package optimizer periodically reorders the providers inside each tier
// from observed performance, so the orchestrator's tier walk tries the
// strongest provider first. Tier membership never changes; only the
// iteration order within a tier does.
package optimizer

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidegate/cascade/internal/history"
	"github.com/tidegate/cascade/internal/notify"
	"github.com/tidegate/cascade/internal/registry"
)

const (
	// DefaultInterval is how often an optimization pass runs.
	DefaultInterval = 5 * time.Minute
	// DefaultWindow is the stats lookback per pass.
	DefaultWindow = 24 * time.Hour
)

// Composite score weights. Availability dominates: a provider that answers
// beats a marginally faster one that does not.
const (
	weightAvailability = 0.4
	weightLatency      = 0.3
	weightQuality      = 0.3
)

// StatsSource supplies per-provider attempt aggregates. The history store
// implements it.
type StatsSource interface {
	ProviderStats(since time.Time) ([]history.ProviderStat, error)
}

// Optimizer runs the periodic reordering passes.
type Optimizer struct {
	reg      *registry.Registry
	stats    StatsSource
	bus      *notify.Bus // optional
	interval time.Duration
	window   time.Duration
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithInterval overrides the pass interval.
func WithInterval(d time.Duration) Option {
	return func(o *Optimizer) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithWindow overrides the stats lookback window.
func WithWindow(d time.Duration) Option {
	return func(o *Optimizer) {
		if d > 0 {
			o.window = d
		}
	}
}

// WithBus attaches the notification side channel.
func WithBus(b *notify.Bus) Option {
	return func(o *Optimizer) { o.bus = b }
}

// New creates an Optimizer over the given registry and stats source.
func New(reg *registry.Registry, stats StatsSource, opts ...Option) *Optimizer {
	o := &Optimizer{
		reg:      reg,
		stats:    stats,
		interval: DefaultInterval,
		window:   DefaultWindow,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes optimization passes on the configured interval until the
// context is cancelled. Intended to run in its own goroutine.
func (o *Optimizer) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.RunOnce(); err != nil {
				log.Error().Err(err).Msg("optimizer: pass failed")
			}
		}
	}
}

// RunOnce performs a single optimization pass over every tier.
func (o *Optimizer) RunOnce() error {
	stats, err := o.stats.ProviderStats(time.Now().Add(-o.window))
	if err != nil {
		return err
	}

	byProvider := make(map[string]history.ProviderStat, len(stats))
	for _, st := range stats {
		byProvider[st.ProviderID] = st
	}

	reordered := 0
	for _, tier := range o.reg.Tiers() {
		if o.reorderTier(tier, byProvider) {
			reordered++
		}
	}

	log.Debug().
		Int("tiers_reordered", reordered).
		Int("providers_with_stats", len(byProvider)).
		Msg("optimizer: pass completed")

	if o.bus != nil {
		o.bus.Publish(notify.Event{
			Kind:   notify.KindOptimizerPass,
			Detail: "tiers reordered",
			Tier:   reordered,
		})
	}
	return nil
}

// reorderTier sorts one tier's providers by composite score and applies
// the new order. It reports whether the order actually changed.
func (o *Optimizer) reorderTier(tier registry.Tier, byProvider map[string]history.ProviderStat) bool {
	if len(tier.Providers) < 2 {
		return false
	}

	maxLatency := 0.0
	for _, p := range tier.Providers {
		if st, ok := byProvider[p.ID]; ok && st.AvgLatencyMs > maxLatency {
			maxLatency = st.AvgLatencyMs
		}
	}

	type rankedProvider struct {
		id    string
		score float64
	}
	ranked := make([]rankedProvider, 0, len(tier.Providers))
	for _, p := range tier.Providers {
		ranked = append(ranked, rankedProvider{p.ID, o.score(p, byProvider, maxLatency)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].id < ranked[j].id
	})

	ids := make([]string, len(ranked))
	changed := false
	for i, r := range ranked {
		ids[i] = r.id
		if tier.Providers[i].ID != r.id {
			changed = true
		}
	}
	if !changed {
		return false
	}

	if err := o.reg.ReorderTier(tier.Rank, ids); err != nil {
		log.Error().Err(err).Int("tier", tier.Rank).Msg("optimizer: reorder rejected")
		return false
	}
	log.Info().Int("tier", tier.Rank).Strs("order", ids).Msg("optimizer: tier reordered")
	return true
}

// score computes the composite for one provider. Providers with no
// observations in the window fall back to their catalog baseline.
func (o *Optimizer) score(p registry.Provider, byProvider map[string]history.ProviderStat, maxLatency float64) float64 {
	st, ok := byProvider[p.ID]
	if !ok || st.Attempts == 0 {
		return weightAvailability*p.Baseline.Availability +
			weightLatency*0.5 +
			weightQuality*p.Baseline.Quality
	}

	latencyScore := 0.5
	if maxLatency > 0 {
		latencyScore = 1 - st.AvgLatencyMs/maxLatency
	}

	return weightAvailability*st.SuccessRate() +
		weightLatency*latencyScore +
		weightQuality*st.AvgQuality
}
