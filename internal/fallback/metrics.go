package fallback

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks live execution metrics using atomic counters for
// lock-free, concurrent-safe updates. It backs the analytics surface with
// a real-time view independent of the persisted history.
type Collector struct {
	totalExecutions int64
	totalSuccesses  int64
	totalCancelled  int64
	totalExhausted  int64
	activeRequests  int64

	// Float64 counter stored as uint64 via math.Float64bits/Float64frombits.
	totalCostUSD uint64

	mu      sync.Mutex
	perTier map[int]*tierCounters

	startTime time.Time
}

type tierCounters struct {
	executions int64
	successes  int64
}

// Stats is a point-in-time snapshot of the collector's counters.
type Stats struct {
	Uptime             string          `json:"uptime"`
	TotalExecutions    int64           `json:"total_executions"`
	TotalSuccesses     int64           `json:"total_successes"`
	TotalCancelled     int64           `json:"total_cancelled"`
	TotalExhausted     int64           `json:"total_exhausted"`
	SuccessRate        float64         `json:"success_rate"`
	TotalCostUSD       float64         `json:"total_cost_usd"`
	ActiveRequests     int64           `json:"active_requests"`
	PerTierSuccessRate map[int]float64 `json:"per_tier_success_rate"`
}

// NewCollector creates a Collector with all counters at zero.
func NewCollector() *Collector {
	return &Collector{
		perTier:      make(map[int]*tierCounters),
		totalCostUSD: math.Float64bits(0),
		startTime:    time.Now(),
	}
}

// Record folds one completed execution into the counters.
func (c *Collector) Record(rec *ExecutionRecord) {
	atomic.AddInt64(&c.totalExecutions, 1)
	switch {
	case rec.Success:
		atomic.AddInt64(&c.totalSuccesses, 1)
	case rec.Cancelled:
		atomic.AddInt64(&c.totalCancelled, 1)
	default:
		atomic.AddInt64(&c.totalExhausted, 1)
	}
	addFloat64(&c.totalCostUSD, rec.CostUSD)

	if rec.FallbackLevel > 0 {
		c.mu.Lock()
		tc, ok := c.perTier[rec.FallbackLevel]
		if !ok {
			tc = &tierCounters{}
			c.perTier[rec.FallbackLevel] = tc
		}
		tc.executions++
		if rec.Success {
			tc.successes++
		}
		c.mu.Unlock()
	}
}

// IncrementActive marks an execution entering the orchestrator.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeRequests, 1)
}

// DecrementActive marks an execution leaving the orchestrator.
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeRequests, -1)
}

// Stats returns a point-in-time snapshot.
func (c *Collector) Stats() *Stats {
	total := atomic.LoadInt64(&c.totalExecutions)
	successes := atomic.LoadInt64(&c.totalSuccesses)

	var rate float64
	if total > 0 {
		rate = float64(successes) / float64(total)
	}

	perTier := make(map[int]float64)
	c.mu.Lock()
	for tier, tc := range c.perTier {
		if tc.executions > 0 {
			perTier[tier] = float64(tc.successes) / float64(tc.executions)
		}
	}
	c.mu.Unlock()

	return &Stats{
		Uptime:             time.Since(c.startTime).Round(time.Second).String(),
		TotalExecutions:    total,
		TotalSuccesses:     successes,
		TotalCancelled:     atomic.LoadInt64(&c.totalCancelled),
		TotalExhausted:     atomic.LoadInt64(&c.totalExhausted),
		SuccessRate:        rate,
		TotalCostUSD:       loadFloat64(&c.totalCostUSD),
		ActiveRequests:     atomic.LoadInt64(&c.activeRequests),
		PerTierSuccessRate: perTier,
	}
}

// addFloat64 atomically adds delta to the float64 stored in addr using a
// CAS loop.
func addFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// loadFloat64 atomically loads the float64 stored in addr.
func loadFloat64(addr *uint64) float64 {
	return math.Float64frombits(atomic.LoadUint64(addr))
}
