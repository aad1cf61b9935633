package config

import (
	"fmt"
	"strings"
)

// validate checks the Config for invalid or out-of-range values.
// It returns a combined error if any checks fail.
func validate(cfg *Config) error {
	var errs []string

	// Server validation
	if cfg.Server.APIPort < 1 || cfg.Server.APIPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.api_port must be between 1 and 65535, got %d", cfg.Server.APIPort))
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		errs = append(errs, fmt.Sprintf("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel))
	}
	if cfg.Server.DataDir == "" {
		errs = append(errs, "server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout))
	}
	if cfg.Server.WriteTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Sprintf("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout))
	}
	if cfg.Server.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("server.max_body_size must be non-negative, got %d", cfg.Server.MaxBodySize))
	}

	// Tier validation: ranks must be unique and every tier needs at least
	// one enabled provider.
	if len(cfg.Tiers) == 0 {
		errs = append(errs, "at least one tier must be configured")
	}
	seenRanks := make(map[int]bool, len(cfg.Tiers))
	for i, tier := range cfg.Tiers {
		if tier.Rank < 1 {
			errs = append(errs, fmt.Sprintf("tiers[%d].rank must be at least 1, got %d", i, tier.Rank))
			continue
		}
		if seenRanks[tier.Rank] {
			errs = append(errs, fmt.Sprintf("tiers[%d].rank %d is duplicated", i, tier.Rank))
		}
		seenRanks[tier.Rank] = true

		if tier.QualityThreshold < 0 || tier.QualityThreshold > 1 {
			errs = append(errs, fmt.Sprintf("tiers[%d].quality_threshold must be between 0 and 1, got %f", i, tier.QualityThreshold))
		}
		if tier.MaxRetries < 1 {
			errs = append(errs, fmt.Sprintf("tiers[%d].max_retries must be at least 1, got %d", i, tier.MaxRetries))
		}
		if tier.AttemptTimeout < 0 {
			errs = append(errs, fmt.Sprintf("tiers[%d].attempt_timeout must be non-negative, got %d", i, tier.AttemptTimeout))
		}

		enabled := 0
		for _, p := range cfg.Providers {
			if p.Enabled && p.Tier == tier.Rank {
				enabled++
			}
		}
		if enabled == 0 {
			errs = append(errs, fmt.Sprintf("tier %d (%s) has no enabled providers", tier.Rank, tier.Name))
		}
	}

	// Provider validation
	for name, p := range cfg.Providers {
		if p.APIBase == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.api_base must not be empty", name))
		}
		if p.Model == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.model must not be empty", name))
		}
		if !seenRanks[p.Tier] {
			errs = append(errs, fmt.Sprintf("providers.%s.tier %d is not a configured tier rank", name, p.Tier))
		}
		if p.Priority < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.priority must be non-negative, got %d", name, p.Priority))
		}
		if p.InputPrice < 0 || p.OutputPrice < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s prices must be non-negative", name))
		}
		for _, score := range []struct {
			name string
			val  int
		}{
			{"coding", p.Capabilities.Coding},
			{"creative", p.Capabilities.Creative},
			{"analytical", p.Capabilities.Analytical},
			{"multimodal", p.Capabilities.Multimodal},
			{"reasoning", p.Capabilities.Reasoning},
			{"languages", p.Capabilities.Languages},
		} {
			if score.val < 0 || score.val > 100 {
				errs = append(errs, fmt.Sprintf("providers.%s.capabilities.%s must be between 0 and 100, got %d", name, score.name, score.val))
			}
		}
		if p.Baseline.Availability < 0 || p.Baseline.Availability > 1 {
			errs = append(errs, fmt.Sprintf("providers.%s.baseline.availability must be between 0 and 1, got %f", name, p.Baseline.Availability))
		}
		if p.Baseline.Quality < 0 || p.Baseline.Quality > 1 {
			errs = append(errs, fmt.Sprintf("providers.%s.baseline.quality must be between 0 and 1, got %f", name, p.Baseline.Quality))
		}
	}

	// Health validation
	if cfg.Health.Alpha <= 0 || cfg.Health.Alpha >= 1 {
		errs = append(errs, fmt.Sprintf("health.alpha must be between 0 and 1 exclusive, got %f", cfg.Health.Alpha))
	}
	if cfg.Health.BreakerThreshold < 1 {
		errs = append(errs, fmt.Sprintf("health.breaker_threshold must be at least 1, got %d", cfg.Health.BreakerThreshold))
	}
	if cfg.Health.ProbeInterval < 1 {
		errs = append(errs, fmt.Sprintf("health.probe_interval must be at least 1, got %d", cfg.Health.ProbeInterval))
	}
	if cfg.Health.ProbeTimeout < 1 {
		errs = append(errs, fmt.Sprintf("health.probe_timeout must be at least 1, got %d", cfg.Health.ProbeTimeout))
	}

	// Selection validation
	if !isValidEnum(cfg.Selection.DefaultStrategy, ValidStrategies) {
		errs = append(errs, fmt.Sprintf("selection.default_strategy must be one of %v, got %q", ValidStrategies, cfg.Selection.DefaultStrategy))
	}
	for id, pref := range cfg.Selection.Preferences {
		if pref < 0 || pref > 1 {
			errs = append(errs, fmt.Sprintf("selection.preferences[%q] must be between 0 and 1, got %f", id, pref))
		}
		if _, ok := cfg.Providers[id]; !ok {
			errs = append(errs, fmt.Sprintf("selection.preferences references unknown provider %q", id))
		}
	}

	// Optimizer validation
	if cfg.Optimizer.Interval < 1 {
		errs = append(errs, fmt.Sprintf("optimizer.interval must be at least 1 minute, got %d", cfg.Optimizer.Interval))
	}
	if cfg.Optimizer.Window < 1 {
		errs = append(errs, fmt.Sprintf("optimizer.window_hours must be at least 1, got %d", cfg.Optimizer.Window))
	}

	// History validation
	if cfg.History.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("history.retention_days must be at least 1, got %d", cfg.History.RetentionDays))
	}

	// Notify validation
	if cfg.Notify.BufferSize < 1 {
		errs = append(errs, fmt.Sprintf("notify.buffer_size must be at least 1, got %d", cfg.Notify.BufferSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum returns true if val is in the allowed list (case-insensitive).
func isValidEnum(val string, allowed []string) bool {
	lower := strings.ToLower(val)
	for _, a := range allowed {
		if strings.ToLower(a) == lower {
			return true
		}
	}
	return false
}
