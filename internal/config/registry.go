package config

import (
	"sort"

	"github.com/tidegate/cascade/internal/registry"
)

// BuildRegistry converts the configured tier and provider tables into a
// runtime registry. Disabled providers are omitted; providers within a tier
// are ordered by their configured priority, with the id as tie-break.
func BuildRegistry(cfg *Config) (*registry.Registry, error) {
	tiers := make([]registry.Tier, 0, len(cfg.Tiers))

	for _, tc := range cfg.Tiers {
		tier := registry.Tier{
			Rank:             tc.Rank,
			Name:             tc.Name,
			QualityThreshold: tc.QualityThreshold,
			MaxRetries:       tc.MaxRetries,
			AttemptTimeout:   tc.AttemptTimeoutDuration(),
			Activation:       tc.Activation,
			Emergency:        tc.Emergency,
		}

		type member struct {
			priority int
			prov     registry.Provider
		}
		var members []member
		for id, pc := range cfg.Providers {
			if !pc.Enabled || pc.Tier != tc.Rank {
				continue
			}
			members = append(members, member{pc.Priority, registry.Provider{
				ID:      id,
				Name:    pc.Name,
				Model:   pc.Model,
				BaseURL: pc.APIBase,
				KeyRef:  pc.KeyRef,
				Caps: registry.Capabilities{
					Coding:     pc.Capabilities.Coding,
					Creative:   pc.Capabilities.Creative,
					Analytical: pc.Capabilities.Analytical,
					Multimodal: pc.Capabilities.Multimodal,
					Reasoning:  pc.Capabilities.Reasoning,
					Languages:  pc.Capabilities.Languages,
				},
				InputPrice:  pc.InputPrice,
				OutputPrice: pc.OutputPrice,
				Baseline: registry.Baseline{
					Availability: pc.Baseline.Availability,
					LatencyMs:    pc.Baseline.LatencyMs,
					Quality:      pc.Baseline.Quality,
					Reliability:  pc.Baseline.Reliability,
				},
				Specialties: pc.Specialties,
				TierRank:    pc.Tier,
			}})
		}
		sort.Slice(members, func(i, j int) bool {
			if members[i].priority != members[j].priority {
				return members[i].priority < members[j].priority
			}
			return members[i].prov.ID < members[j].prov.ID
		})

		for _, m := range members {
			tier.Providers = append(tier.Providers, m.prov)
		}
		tiers = append(tiers, tier)
	}

	return registry.New(tiers)
}
