// Package notify provides the typed notification side channel emitted by
// the fallback engine. Events are fanned out to subscribers on buffered
// channels with fire-and-continue semantics: a slow subscriber never blocks
// the engine, and overflowing events are dropped with a logged warning.
package notify

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind identifies the type of an emitted event.
type Kind string

const (
	KindAttemptRecorded    Kind = "attempt_recorded"
	KindTierAdvanced       Kind = "tier_advanced"
	KindExecutionSucceeded Kind = "execution_succeeded"
	KindExecutionExhausted Kind = "execution_exhausted"
	KindHealthChanged      Kind = "provider_health_changed"
	KindOptimizerPass      Kind = "optimizer_pass_completed"
)

// Event is one notification from the engine. Fields are populated according
// to the Kind; unused fields are zero.
type Event struct {
	Kind        Kind      `json:"kind"`
	ExecutionID string    `json:"execution_id,omitempty"`
	ProviderID  string    `json:"provider_id,omitempty"`
	Tier        int       `json:"tier,omitempty"`
	Outcome     string    `json:"outcome,omitempty"`
	Status      string    `json:"status,omitempty"`   // health status for KindHealthChanged
	Protocol    string    `json:"protocol,omitempty"` // emergency protocol for KindExecutionExhausted
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Bus fans events out to subscribers. The zero value is not usable; use NewBus.
type Bus struct {
	mu      sync.RWMutex
	subs    []chan Event
	bufSize int
	dropped atomic.Uint64
}

// NewBus creates a Bus whose subscriber channels carry bufSize events.
func NewBus(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{bufSize: bufSize}
}

// Subscribe registers a new subscriber and returns its receive channel.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, b.bufSize)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers the event to every subscriber without blocking. Events
// that do not fit in a subscriber's buffer are dropped.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			count := b.dropped.Add(1)
			if count%10 == 1 { // avoid log spam under sustained overflow
				log.Warn().
					Str("kind", string(ev.Kind)).
					Uint64("total_dropped", count).
					Msg("notify: subscriber buffer full, event dropped")
			}
		}
	}
}

// Dropped returns the total number of events dropped across all subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publish must not be called after Close.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

// LogSubscriber drains events from ch and writes them to the global zerolog
// logger until the channel is closed. Intended to run in its own goroutine.
func LogSubscriber(ch <-chan Event) {
	for ev := range ch {
		log.Info().
			Str("kind", string(ev.Kind)).
			Str("execution_id", ev.ExecutionID).
			Str("provider", ev.ProviderID).
			Int("tier", ev.Tier).
			Str("outcome", ev.Outcome).
			Msg("engine event")
	}
}
