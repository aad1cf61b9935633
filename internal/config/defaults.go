package config

// DefaultBindAddress is the default bind address (localhost only for security).
const DefaultBindAddress = "127.0.0.1"

// DefaultAPIPort is the default port for the API server.
const DefaultAPIPort = 7810

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.cascade"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "cascade.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// Set high (5 minutes) because a single execution may walk several tiers.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (10 MB).
const DefaultMaxBodySize int64 = 10 << 20

// DefaultHealthAlpha is the default EMA learning rate for health tracking.
const DefaultHealthAlpha = 0.1

// DefaultBreakerThreshold is the default consecutive-failure count that
// trips a provider into the failing state.
const DefaultBreakerThreshold = 5

// DefaultProbeInterval is the default health probe interval in seconds.
const DefaultProbeInterval = 30

// DefaultProbeTimeout is the default per-probe timeout in seconds.
const DefaultProbeTimeout = 10

// DefaultOptimizerInterval is the default optimizer pass interval in minutes.
const DefaultOptimizerInterval = 5

// DefaultOptimizerWindow is the default optimizer stats lookback in hours.
const DefaultOptimizerWindow = 24

// DefaultRetentionDays is the default execution archive retention in days.
const DefaultRetentionDays = 30

// DefaultNotifyBufferSize is the default per-subscriber event buffer.
const DefaultNotifyBufferSize = 256

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidStrategies lists the allowed selection strategy names. These must
// match the names the selection engine dispatches on.
var ValidStrategies = []string{
	"hybrid", "context-aware", "performance-based", "cost-optimized",
	"quality-focused", "domain-specific", "adaptive",
}

// DefaultConfig returns a Config populated with all default values,
// including a five-tier catalog of example providers covering premium
// through local-emergency levels.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:  DefaultBindAddress,
			APIPort:      DefaultAPIPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
			MaxBodySize:  DefaultMaxBodySize,
		},
		Providers: map[string]ProviderConfig{
			"anthropic-sonnet": {
				Name:        "Anthropic Sonnet",
				Model:       "claude-sonnet-4-20250514",
				APIBase:     "https://api.anthropic.com/v1",
				KeyRef:      "keyring://cascade/anthropic-sonnet",
				Tier:        1,
				Priority:    1,
				InputPrice:  0.003,
				OutputPrice: 0.015,
				Enabled:     true,
				Capabilities: CapabilitiesConfig{
					Coding: 92, Creative: 88, Analytical: 93,
					Multimodal: 80, Reasoning: 94, Languages: 90,
				},
				Baseline: BaselineConfig{
					Availability: 0.995, LatencyMs: 900, Quality: 0.92, Reliability: 0.99,
				},
				Specialties: []string{"coding", "analysis"},
			},
			"openai-4o": {
				Name:        "OpenAI GPT-4o",
				Model:       "gpt-4o",
				APIBase:     "https://api.openai.com/v1",
				KeyRef:      "keyring://cascade/openai-4o",
				Tier:        1,
				Priority:    2,
				InputPrice:  0.0025,
				OutputPrice: 0.010,
				Enabled:     true,
				Capabilities: CapabilitiesConfig{
					Coding: 90, Creative: 87, Analytical: 90,
					Multimodal: 92, Reasoning: 90, Languages: 92,
				},
				Baseline: BaselineConfig{
					Availability: 0.995, LatencyMs: 800, Quality: 0.90, Reliability: 0.99,
				},
				Specialties: []string{"multimodal"},
			},
			"openai-4o-mini": {
				Name:        "OpenAI GPT-4o mini",
				Model:       "gpt-4o-mini",
				APIBase:     "https://api.openai.com/v1",
				KeyRef:      "keyring://cascade/openai-4o-mini",
				Tier:        2,
				Priority:    1,
				InputPrice:  0.00015,
				OutputPrice: 0.0006,
				Enabled:     true,
				Capabilities: CapabilitiesConfig{
					Coding: 78, Creative: 75, Analytical: 78,
					Multimodal: 80, Reasoning: 76, Languages: 85,
				},
				Baseline: BaselineConfig{
					Availability: 0.995, LatencyMs: 500, Quality: 0.80, Reliability: 0.98,
				},
			},
			"anthropic-haiku": {
				Name:        "Anthropic Haiku",
				Model:       "claude-haiku-4-20250414",
				APIBase:     "https://api.anthropic.com/v1",
				KeyRef:      "keyring://cascade/anthropic-haiku",
				Tier:        2,
				Priority:    2,
				InputPrice:  0.0008,
				OutputPrice: 0.004,
				Enabled:     true,
				Capabilities: CapabilitiesConfig{
					Coding: 80, Creative: 74, Analytical: 79,
					Multimodal: 70, Reasoning: 78, Languages: 84,
				},
				Baseline: BaselineConfig{
					Availability: 0.995, LatencyMs: 450, Quality: 0.79, Reliability: 0.98,
				},
			},
			"deepseek-chat": {
				Name:        "DeepSeek Chat",
				Model:       "deepseek-chat",
				APIBase:     "https://api.deepseek.com/v1",
				KeyRef:      "env:DEEPSEEK_API_KEY",
				Tier:        3,
				Priority:    1,
				InputPrice:  0.00014,
				OutputPrice: 0.00028,
				Enabled:     true,
				Capabilities: CapabilitiesConfig{
					Coding: 82, Creative: 65, Analytical: 74,
					Multimodal: 30, Reasoning: 75, Languages: 70,
				},
				Baseline: BaselineConfig{
					Availability: 0.98, LatencyMs: 1200, Quality: 0.74, Reliability: 0.95,
				},
				Specialties: []string{"coding"},
			},
			"groq-llama": {
				Name:        "Groq Llama 3.3 70B",
				Model:       "llama-3.3-70b-versatile",
				APIBase:     "https://api.groq.com/openai/v1",
				KeyRef:      "env:GROQ_API_KEY",
				Tier:        4,
				Priority:    1,
				InputPrice:  0,
				OutputPrice: 0,
				Enabled:     true,
				Capabilities: CapabilitiesConfig{
					Coding: 70, Creative: 68, Analytical: 70,
					Multimodal: 20, Reasoning: 70, Languages: 72,
				},
				Baseline: BaselineConfig{
					Availability: 0.97, LatencyMs: 300, Quality: 0.68, Reliability: 0.93,
				},
			},
			"local-ollama": {
				Name:        "Local Ollama",
				Model:       "llama3.1:8b",
				APIBase:     "http://127.0.0.1:11434/v1",
				KeyRef:      "",
				Tier:        5,
				Priority:    1,
				InputPrice:  0,
				OutputPrice: 0,
				Enabled:     true,
				Capabilities: CapabilitiesConfig{
					Coding: 55, Creative: 55, Analytical: 55,
					Multimodal: 10, Reasoning: 52, Languages: 60,
				},
				Baseline: BaselineConfig{
					Availability: 0.99, LatencyMs: 2500, Quality: 0.55, Reliability: 0.90,
				},
			},
		},
		Tiers: []TierConfig{
			{
				Rank: 1, Name: "premium",
				QualityThreshold: 0.85, MaxRetries: 2, AttemptTimeout: 60,
				Activation: []string{"quality"},
			},
			{
				Rank: 2, Name: "standard",
				QualityThreshold: 0.75, MaxRetries: 2, AttemptTimeout: 45,
				Activation: []string{"timeout"},
			},
			{
				Rank: 3, Name: "economy",
				QualityThreshold: 0.65, MaxRetries: 2, AttemptTimeout: 45,
			},
			{
				Rank: 4, Name: "free",
				QualityThreshold: 0.55, MaxRetries: 3, AttemptTimeout: 30,
				Activation: []string{"cost"},
			},
			{
				Rank: 5, Name: "local",
				QualityThreshold: 0.40, MaxRetries: 1, AttemptTimeout: 120,
				Emergency: "notify-operator",
			},
		},
		Health: HealthConfig{
			Alpha:            DefaultHealthAlpha,
			BreakerThreshold: DefaultBreakerThreshold,
			ProbeEnabled:     true,
			ProbeInterval:    DefaultProbeInterval,
			ProbeTimeout:     DefaultProbeTimeout,
		},
		Selection: SelectionConfig{
			DefaultStrategy: "hybrid",
			Preferences:     map[string]float64{},
		},
		Optimizer: OptimizerConfig{
			Enabled:  true,
			Interval: DefaultOptimizerInterval,
			Window:   DefaultOptimizerWindow,
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: DefaultRetentionDays,
		},
		Notify: NotifyConfig{
			BufferSize: DefaultNotifyBufferSize,
			LogEvents:  true,
		},
	}
}
