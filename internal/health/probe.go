package health

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tidegate/cascade/internal/provider"
	"github.com/tidegate/cascade/internal/registry"
)

// DefaultProbeInterval is how often the prober sweeps all providers.
const DefaultProbeInterval = 30 * time.Second

// DefaultProbeTimeout bounds one probe call.
const DefaultProbeTimeout = 10 * time.Second

// probeRequest is the minimal canned generation used to test liveness.
var probeRequest = provider.Request{
	Messages:  []provider.Message{{Role: "user", Content: "ping"}},
	MaxTokens: 1,
}

// Prober periodically issues a minimal generation against every catalogued
// provider and folds the outcome into the Tracker, independent of live
// traffic.
type Prober struct {
	tracker  *Tracker
	client   provider.Client
	registry *registry.Registry
	interval time.Duration
	timeout  time.Duration
}

// NewProber creates a Prober. A non-positive interval or timeout selects
// the default.
func NewProber(t *Tracker, client provider.Client, reg *registry.Registry, interval, timeout time.Duration) *Prober {
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &Prober{
		tracker:  t,
		client:   client,
		registry: reg,
		interval: interval,
		timeout:  timeout,
	}
}

// Run probes all providers on the configured interval until ctx is
// cancelled. It never blocks request traffic; it only writes through the
// Tracker's per-provider locks.
func (p *Prober) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

// sweep probes every provider once, sequentially.
func (p *Prober) sweep(ctx context.Context) {
	for _, prov := range p.registry.AllProviders() {
		if ctx.Err() != nil {
			return
		}
		p.probeOne(ctx, prov)
	}
}

func (p *Prober) probeOne(ctx context.Context, prov registry.Provider) {
	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	_, err := p.client.Generate(probeCtx, prov, probeRequest)
	elapsed := time.Since(start)

	if err != nil {
		log.Debug().
			Str("provider", prov.ID).
			Dur("elapsed", elapsed).
			Err(err).
			Msg("health probe failed")
	}
	p.tracker.Update(prov.ID, err == nil, elapsed, -1)
}
