// Package health tracks rolling per-provider health derived from live
// traffic outcomes and periodic probes. Each provider has one record,
// created lazily on first observation and never deleted. Updates apply
// exponential moving averages under a per-provider lock so concurrent
// executions can never interleave a read-modify-write for the same
// provider.
package health

import (
	"sync"
	"time"

	"github.com/tidegate/cascade/internal/notify"
)

// Status is a provider's current health classification.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusFailing  Status = "failing"
	StatusOffline  Status = "offline"
)

// Default tuning values. Alpha is the EMA learning rate; the breaker
// threshold is the consecutive-failure count that trips a provider into
// the failing state.
const (
	DefaultAlpha            = 0.1
	DefaultBreakerThreshold = 5

	healthyAvailability = 0.95
	healthyErrorRate    = 0.05
	degradedAvailability = 0.80
)

// Record is a point-in-time copy of one provider's health state.
type Record struct {
	ProviderID          string     `json:"provider_id"`
	Status              Status     `json:"status"`
	Availability        float64    `json:"availability"` // 0-1 EMA
	ErrorRate           float64    `json:"error_rate"`   // 0-1 EMA
	Quality             float64    `json:"quality"`      // 0-1 EMA
	AvgLatencyMs        float64    `json:"avg_latency_ms"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastCheck           time.Time  `json:"last_check"`
	RecoveryAt          *time.Time `json:"recovery_at,omitempty"`
}

// entry wraps a Record with its own mutex so updates for different
// providers never contend.
type entry struct {
	mu  sync.Mutex
	rec Record
}

// Tracker maintains the provider-health table. Safe for concurrent use.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]*entry

	alpha            float64
	breakerThreshold int
	bus              *notify.Bus
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithAlpha overrides the EMA learning rate.
func WithAlpha(alpha float64) Option {
	return func(t *Tracker) { t.alpha = alpha }
}

// WithBreakerThreshold overrides the consecutive-failure circuit threshold.
func WithBreakerThreshold(n int) Option {
	return func(t *Tracker) { t.breakerThreshold = n }
}

// WithBus attaches a notification bus; status changes are published to it.
func WithBus(bus *notify.Bus) Option {
	return func(t *Tracker) { t.bus = bus }
}

// NewTracker creates an empty Tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		entries:          make(map[string]*entry),
		alpha:            DefaultAlpha,
		breakerThreshold: DefaultBreakerThreshold,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// getOrCreate returns the entry for the provider, creating it with
// optimistic initial values on first observation.
func (t *Tracker) getOrCreate(providerID string) *entry {
	t.mu.RLock()
	e, ok := t.entries[providerID]
	t.mu.RUnlock()
	if ok {
		return e
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[providerID]; ok {
		return e
	}
	e = &entry{rec: Record{
		ProviderID:   providerID,
		Status:       StatusHealthy,
		Availability: 1.0,
		ErrorRate:    0.0,
		Quality:      0.5,
	}}
	t.entries[providerID] = e
	return e
}

// Update folds one attempt outcome into the provider's health record.
// quality is the observed quality score in [0,1]; pass a negative value
// when no quality observation is available (failures, probes).
func (t *Tracker) Update(providerID string, success bool, latency time.Duration, quality float64) {
	e := t.getOrCreate(providerID)

	e.mu.Lock()
	rec := &e.rec
	prevStatus := rec.Status
	a := t.alpha

	if success {
		rec.ErrorRate = (1 - a) * rec.ErrorRate
		rec.Availability = (1-a)*rec.Availability + a
		rec.ConsecutiveFailures = 0
	} else {
		rec.ErrorRate = (1-a)*rec.ErrorRate + a
		rec.Availability = (1 - a) * rec.Availability
		rec.ConsecutiveFailures++
	}

	if latency > 0 {
		ms := float64(latency.Milliseconds())
		if rec.AvgLatencyMs == 0 {
			rec.AvgLatencyMs = ms
		} else {
			rec.AvgLatencyMs = (1-a)*rec.AvgLatencyMs + a*ms
		}
	}
	if quality >= 0 {
		rec.Quality = (1-a)*rec.Quality + a*clamp01(quality)
	}
	rec.LastCheck = time.Now()

	t.transition(rec, success)
	newStatus := rec.Status
	e.mu.Unlock()

	if newStatus != prevStatus && t.bus != nil {
		t.bus.Publish(notify.Event{
			Kind:       notify.KindHealthChanged,
			ProviderID: providerID,
			Status:     string(newStatus),
			Detail:     string(prevStatus) + " -> " + string(newStatus),
		})
	}
}

// transition applies the status rules after an update. The failing state is
// sticky: a provider leaves it only by restoring full health, not by merely
// crossing the availability line once.
func (t *Tracker) transition(rec *Record, success bool) {
	switch {
	case rec.ConsecutiveFailures >= t.breakerThreshold:
		if rec.Status != StatusFailing {
			now := time.Now()
			rec.RecoveryAt = &now
		}
		rec.Status = StatusFailing

	case rec.Availability >= healthyAvailability && rec.ErrorRate <= healthyErrorRate:
		if rec.Status == StatusFailing && success {
			rec.RecoveryAt = nil
		}
		rec.Status = StatusHealthy

	case rec.Status == StatusFailing:
		// Stay failing until a success chain restores full health.

	case rec.Availability < degradedAvailability:
		rec.Status = StatusDegraded

	default:
		// Hysteresis: keep the prior status.
	}
}

// ObserveQuality folds a caller-reported quality signal into the provider's
// quality EMA without touching availability or error rate.
func (t *Tracker) ObserveQuality(providerID string, quality float64) {
	e := t.getOrCreate(providerID)
	e.mu.Lock()
	e.rec.Quality = (1-t.alpha)*e.rec.Quality + t.alpha*clamp01(quality)
	e.mu.Unlock()
}

// MarkOffline administratively removes a provider from rotation.
func (t *Tracker) MarkOffline(providerID string) {
	e := t.getOrCreate(providerID)
	e.mu.Lock()
	prev := e.rec.Status
	e.rec.Status = StatusOffline
	e.mu.Unlock()

	if prev != StatusOffline && t.bus != nil {
		t.bus.Publish(notify.Event{
			Kind:       notify.KindHealthChanged,
			ProviderID: providerID,
			Status:     string(StatusOffline),
		})
	}
}

// IsUsable reports whether a provider may receive traffic. Providers with
// no observations yet are usable.
func (t *Tracker) IsUsable(providerID string) bool {
	t.mu.RLock()
	e, ok := t.entries[providerID]
	t.mu.RUnlock()
	if !ok {
		return true
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.Status != StatusFailing && e.rec.Status != StatusOffline
}

// Get returns a copy of the provider's record and whether one exists.
func (t *Tracker) Get(providerID string) (Record, bool) {
	t.mu.RLock()
	e, ok := t.entries[providerID]
	t.mu.RUnlock()
	if !ok {
		return Record{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return copyRecord(e.rec), true
}

// Score returns a health-derived ordering score in [0,1]. Providers with no
// observations score 0.75, below an observed fully-healthy provider but
// above a degraded one.
func (t *Tracker) Score(providerID string) float64 {
	rec, ok := t.Get(providerID)
	if !ok {
		return 0.75
	}
	return 0.5*rec.Availability + 0.2*(1-rec.ErrorRate) + 0.3*rec.Quality
}

// Snapshot returns a full copy of the health table. No live references are
// exposed, so callers can never mutate tracker state.
func (t *Tracker) Snapshot() map[string]Record {
	t.mu.RLock()
	entries := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		entries = append(entries, e)
	}
	t.mu.RUnlock()

	out := make(map[string]Record, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		rec := copyRecord(e.rec)
		e.mu.Unlock()
		out[rec.ProviderID] = rec
	}
	return out
}

func copyRecord(rec Record) Record {
	out := rec
	if rec.RecoveryAt != nil {
		ts := *rec.RecoveryAt
		out.RecoveryAt = &ts
	}
	return out
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
