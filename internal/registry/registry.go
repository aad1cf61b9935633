// Package registry holds the static tier→provider topology that the
// fallback engine escalates through. The registry supports concurrent
// reads and serialised administrative writes; all accessors return copies
// so callers can never mutate the catalog through a returned value.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a provider id is not present in any tier.
var ErrNotFound = errors.New("registry: provider not found")

// Registry is the catalog of fallback tiers and their providers.
type Registry struct {
	mu    sync.RWMutex
	tiers []Tier // sorted by Rank ascending
}

// New creates a Registry from the given tiers. Tiers are sorted by rank.
// New returns an error if the tier list is empty, if ranks are duplicated,
// or if a tier has no providers.
func New(tiers []Tier) (*Registry, error) {
	if len(tiers) == 0 {
		return nil, errors.New("registry: at least one tier is required")
	}

	sorted := make([]Tier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Rank < sorted[j].Rank })

	seen := make(map[int]bool, len(sorted))
	for _, t := range sorted {
		if seen[t.Rank] {
			return nil, fmt.Errorf("registry: duplicate tier rank %d", t.Rank)
		}
		seen[t.Rank] = true
		if len(t.Providers) == 0 {
			return nil, fmt.Errorf("registry: tier %d has no providers", t.Rank)
		}
	}

	r := &Registry{tiers: sorted}
	r.warnDuplicateIDs()
	return r, nil
}

// warnDuplicateIDs logs a warning for provider ids that appear in more than
// one tier. Lookup is first-match-wins across ascending ranks; duplicates
// are almost certainly a configuration mistake but are not rejected.
func (r *Registry) warnDuplicateIDs() {
	seen := make(map[string]int)
	for _, t := range r.tiers {
		for _, p := range t.Providers {
			if prev, ok := seen[p.ID]; ok {
				log.Warn().
					Str("provider", p.ID).
					Int("first_tier", prev).
					Int("duplicate_tier", t.Rank).
					Msg("duplicate provider id across tiers; first match wins on lookup")
				continue
			}
			seen[p.ID] = t.Rank
		}
	}
}

// Tiers returns all tiers in ascending rank order. The returned slice and
// its provider lists are copies.
func (r *Registry) Tiers() []Tier {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tier, len(r.tiers))
	for i, t := range r.tiers {
		out[i] = copyTier(t)
	}
	return out
}

// TierCount returns the number of configured tiers.
func (r *Registry) TierCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tiers)
}

// Tier returns the tier with the given rank.
func (r *Registry) Tier(rank int) (Tier, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tiers {
		if t.Rank == rank {
			return copyTier(t), true
		}
	}
	return Tier{}, false
}

// LastRank returns the rank of the final (cheapest) tier.
func (r *Registry) LastRank() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tiers[len(r.tiers)-1].Rank
}

// ProvidersIn returns the ordered provider list for the given tier rank.
func (r *Registry) ProvidersIn(rank int) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tiers {
		if t.Rank == rank {
			out := make([]Provider, len(t.Providers))
			copy(out, t.Providers)
			return out
		}
	}
	return nil
}

// AllProviders returns every provider across all tiers, in tier order.
func (r *Registry) AllProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	for _, t := range r.tiers {
		out = append(out, t.Providers...)
	}
	return out
}

// FindProvider looks up a provider by id across all tiers in ascending rank
// order. The first match wins. It returns the provider, its tier rank, and
// ErrNotFound if the id is unknown.
func (r *Registry) FindProvider(id string) (Provider, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tiers {
		for _, p := range t.Providers {
			if p.ID == id {
				return p, t.Rank, nil
			}
		}
	}
	return Provider{}, 0, fmt.Errorf("%w: %q", ErrNotFound, id)
}

// ReorderTier replaces the iteration order of the given tier's providers.
// ids must be a permutation of the tier's current provider ids; membership
// never changes at runtime. Used by the strategy optimizer only.
func (r *Registry) ReorderTier(rank int, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, t := range r.tiers {
		if t.Rank != rank {
			continue
		}
		if len(ids) != len(t.Providers) {
			return fmt.Errorf("registry: reorder tier %d: got %d ids, tier has %d providers", rank, len(ids), len(t.Providers))
		}

		byID := make(map[string]Provider, len(t.Providers))
		for _, p := range t.Providers {
			byID[p.ID] = p
		}

		reordered := make([]Provider, 0, len(ids))
		for _, id := range ids {
			p, ok := byID[id]
			if !ok {
				return fmt.Errorf("registry: reorder tier %d: %q is not a member", rank, id)
			}
			delete(byID, id)
			reordered = append(reordered, p)
		}

		r.tiers[i].Providers = reordered
		return nil
	}
	return fmt.Errorf("registry: reorder: unknown tier rank %d", rank)
}

func copyTier(t Tier) Tier {
	out := t
	out.Providers = make([]Provider, len(t.Providers))
	copy(out.Providers, t.Providers)
	out.Activation = append([]string(nil), t.Activation...)
	return out
}
