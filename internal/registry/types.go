package registry

import "time"

// Capabilities holds a provider's declared capability scores, each on a
// 0-100 scale. These are static, catalog-level declarations; live quality
// tracking happens in the health package.
type Capabilities struct {
	Coding     int `json:"coding"     toml:"coding"`
	Creative   int `json:"creative"   toml:"creative"`
	Analytical int `json:"analytical" toml:"analytical"`
	Multimodal int `json:"multimodal" toml:"multimodal"`
	Reasoning  int `json:"reasoning"  toml:"reasoning"`
	Languages  int `json:"languages"  toml:"languages"`
}

// Score returns the capability score for the given task type. Unknown task
// types fall back to the average across all capabilities.
func (c Capabilities) Score(task string) int {
	switch task {
	case "coding":
		return c.Coding
	case "creative":
		return c.Creative
	case "analytical":
		return c.Analytical
	case "multimodal":
		return c.Multimodal
	case "reasoning":
		return c.Reasoning
	case "language":
		return c.Languages
	default:
		return c.Average()
	}
}

// Average returns the mean of all six capability scores.
func (c Capabilities) Average() int {
	return (c.Coding + c.Creative + c.Analytical + c.Multimodal + c.Reasoning + c.Languages) / 6
}

// Baseline is a provider's declared performance baseline, used for scoring
// before any live health observations exist.
type Baseline struct {
	Availability float64 `json:"availability" toml:"availability"` // 0-1
	LatencyMs    float64 `json:"latency_ms"   toml:"latency_ms"`
	Quality      float64 `json:"quality"      toml:"quality"` // 0-1
	Reliability  float64 `json:"reliability"  toml:"reliability"` // 0-1
}

// Provider describes one upstream AI provider/model pair in the catalog.
// Providers are immutable at runtime except for administrative updates
// through the Registry.
type Provider struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Model       string       `json:"model"`
	BaseURL     string       `json:"base_url"`
	KeyRef      string       `json:"key_ref"`
	Caps        Capabilities `json:"capabilities"`
	InputPrice  float64      `json:"input_price"`  // USD per 1K prompt tokens
	OutputPrice float64      `json:"output_price"` // USD per 1K completion tokens
	Baseline    Baseline     `json:"baseline"`
	Specialties []string     `json:"specialties"`
	TierRank    int          `json:"tier"`
}

// IsFree reports whether the provider charges nothing for both input and
// output tokens.
func (p Provider) IsFree() bool {
	return p.InputPrice == 0 && p.OutputPrice == 0
}

// HasSpecialty reports whether the provider carries the given specialty tag.
func (p Provider) HasSpecialty(tag string) bool {
	for _, s := range p.Specialties {
		if s == tag {
			return true
		}
	}
	return false
}

// Tier is one ordered fallback level. Rank 1 is the highest quality/cost
// level; escalation walks ranks in ascending order. Tier membership is fixed
// at startup; only the provider iteration order may be permuted at runtime
// (by the strategy optimizer).
type Tier struct {
	Rank             int           `json:"rank"`
	Name             string        `json:"name"`
	Providers        []Provider    `json:"providers"`
	QualityThreshold float64       `json:"quality_threshold"` // 0-1
	MaxRetries       int           `json:"max_retries"`       // providers attempted before advancing
	AttemptTimeout   time.Duration `json:"attempt_timeout"`
	Activation       []string      `json:"activation_conditions"`
	Emergency        string        `json:"emergency_protocol"` // empty = none configured
}
