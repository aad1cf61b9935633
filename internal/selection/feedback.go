package selection

import "sync"

// feedbackAlpha is the EMA rate for learned per-provider adjustments.
const feedbackAlpha = 0.2

// adjustmentBound caps the learned boost/penalty applied by the adaptive
// strategy.
const adjustmentBound = 0.2

// FeedbackStore accumulates caller-reported satisfaction per provider and
// derives the adaptive strategy's learned boost/penalty adjustments.
// Safe for concurrent use.
type FeedbackStore struct {
	mu      sync.RWMutex
	entries map[string]*feedbackEntry
	total   int
}

type feedbackEntry struct {
	count      int
	sumRating  float64
	adjustment float64 // EMA of (rating - 0.5), clamped to ±adjustmentBound
}

// NewFeedbackStore creates an empty FeedbackStore.
func NewFeedbackStore() *FeedbackStore {
	return &FeedbackStore{entries: make(map[string]*feedbackEntry)}
}

// Record folds one satisfaction rating in [0,1] into the provider's
// accumulated feedback.
func (f *FeedbackStore) Record(providerID string, rating float64) {
	if rating < 0 {
		rating = 0
	}
	if rating > 1 {
		rating = 1
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[providerID]
	if !ok {
		e = &feedbackEntry{}
		f.entries[providerID] = e
	}
	e.count++
	e.sumRating += rating
	f.total++

	e.adjustment = (1-feedbackAlpha)*e.adjustment + feedbackAlpha*(rating-0.5)
	if e.adjustment > adjustmentBound {
		e.adjustment = adjustmentBound
	}
	if e.adjustment < -adjustmentBound {
		e.adjustment = -adjustmentBound
	}
}

// Adjustment returns the learned boost/penalty for a provider, zero when no
// feedback exists.
func (f *FeedbackStore) Adjustment(providerID string) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if e, ok := f.entries[providerID]; ok {
		return e.adjustment
	}
	return 0
}

// Satisfaction returns the provider's mean rating and whether any feedback
// exists.
func (f *FeedbackStore) Satisfaction(providerID string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.entries[providerID]
	if !ok || e.count == 0 {
		return 0, false
	}
	return e.sumRating / float64(e.count), true
}

// Total returns the number of feedback observations across all providers.
func (f *FeedbackStore) Total() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.total
}
