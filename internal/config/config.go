package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// configPtr holds the current config for thread-safe access.
var configPtr atomic.Pointer[Config]

// loadedConfigFile stores the path of the config file used by the last successful Load.
var loadedConfigFile atomic.Value

// Get returns the current Config. It is safe for concurrent use.
// If no config has been loaded yet, it returns the default config.
func Get() *Config {
	if c := configPtr.Load(); c != nil {
		return c
	}
	d := DefaultConfig()
	configPtr.Store(d)
	return d
}

// set stores a new Config atomically.
func set(cfg *Config) {
	configPtr.Store(cfg)
}

// Config is the top-level configuration for Cascade.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"    toml:"server"`
	Providers map[string]ProviderConfig `mapstructure:"providers" toml:"providers"`
	Tiers     []TierConfig              `mapstructure:"tiers"     toml:"tiers"`
	Health    HealthConfig              `mapstructure:"health"    toml:"health"`
	Selection SelectionConfig           `mapstructure:"selection" toml:"selection"`
	Optimizer OptimizerConfig           `mapstructure:"optimizer" toml:"optimizer"`
	History   HistoryConfig             `mapstructure:"history"   toml:"history"`
	Notify    NotifyConfig              `mapstructure:"notify"    toml:"notify"`
}

// ServerConfig holds the core server settings.
type ServerConfig struct {
	BindAddress  string `mapstructure:"bind_address"  toml:"bind_address"`
	APIPort      int    `mapstructure:"api_port"      toml:"api_port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"` // seconds
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`  // seconds
	MaxBodySize  int64  `mapstructure:"max_body_size" toml:"max_body_size"`
}

// Addr returns the host:port the API server binds to.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.APIPort)
}

// CapabilitiesConfig holds a provider's declared capability scores (0-100).
type CapabilitiesConfig struct {
	Coding     int `mapstructure:"coding"     toml:"coding"`
	Creative   int `mapstructure:"creative"   toml:"creative"`
	Analytical int `mapstructure:"analytical" toml:"analytical"`
	Multimodal int `mapstructure:"multimodal" toml:"multimodal"`
	Reasoning  int `mapstructure:"reasoning"  toml:"reasoning"`
	Languages  int `mapstructure:"languages"  toml:"languages"`
}

// BaselineConfig holds a provider's declared performance baseline.
type BaselineConfig struct {
	Availability float64 `mapstructure:"availability" toml:"availability"` // 0-1
	LatencyMs    float64 `mapstructure:"latency_ms"   toml:"latency_ms"`
	Quality      float64 `mapstructure:"quality"      toml:"quality"` // 0-1
	Reliability  float64 `mapstructure:"reliability"  toml:"reliability"` // 0-1
}

// ProviderConfig describes a single upstream provider/model pair. The map
// key in Config.Providers is the provider id.
type ProviderConfig struct {
	Name         string             `mapstructure:"name"          toml:"name"`
	Model        string             `mapstructure:"model"         toml:"model"`
	APIBase      string             `mapstructure:"api_base"      toml:"api_base"`
	KeyRef       string             `mapstructure:"key_ref"       toml:"key_ref"`
	Tier         int                `mapstructure:"tier"          toml:"tier"`
	Priority     int                `mapstructure:"priority"      toml:"priority"` // order within the tier, lower first
	InputPrice   float64            `mapstructure:"input_price"   toml:"input_price"`  // USD per 1K prompt tokens
	OutputPrice  float64            `mapstructure:"output_price"  toml:"output_price"` // USD per 1K completion tokens
	Enabled      bool               `mapstructure:"enabled"       toml:"enabled"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"  toml:"capabilities"`
	Baseline     BaselineConfig     `mapstructure:"baseline"      toml:"baseline"`
	Specialties  []string           `mapstructure:"specialties"   toml:"specialties"`
}

// TierConfig describes one fallback level. Rank 1 is the highest
// quality/cost level; escalation walks ranks in ascending order.
type TierConfig struct {
	Rank             int      `mapstructure:"rank"               toml:"rank"`
	Name             string   `mapstructure:"name"               toml:"name"`
	QualityThreshold float64  `mapstructure:"quality_threshold"  toml:"quality_threshold"` // 0-1
	MaxRetries       int      `mapstructure:"max_retries"        toml:"max_retries"`
	AttemptTimeout   int      `mapstructure:"attempt_timeout"    toml:"attempt_timeout"` // seconds
	Activation       []string `mapstructure:"activation"         toml:"activation"`
	Emergency        string   `mapstructure:"emergency_protocol" toml:"emergency_protocol"`
}

// AttemptTimeoutDuration returns the per-attempt timeout as a time.Duration.
func (t TierConfig) AttemptTimeoutDuration() time.Duration {
	if t.AttemptTimeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.AttemptTimeout) * time.Second
}

// HealthConfig tunes health tracking and active probing.
type HealthConfig struct {
	Alpha            float64 `mapstructure:"alpha"              toml:"alpha"`
	BreakerThreshold int     `mapstructure:"breaker_threshold"  toml:"breaker_threshold"`
	ProbeEnabled     bool    `mapstructure:"probe_enabled"      toml:"probe_enabled"`
	ProbeInterval    int     `mapstructure:"probe_interval"     toml:"probe_interval"` // seconds
	ProbeTimeout     int     `mapstructure:"probe_timeout"      toml:"probe_timeout"`  // seconds
}

// SelectionConfig tunes the selection engine.
type SelectionConfig struct {
	DefaultStrategy string             `mapstructure:"default_strategy" toml:"default_strategy"`
	Preferences     map[string]float64 `mapstructure:"preferences"      toml:"preferences"` // provider id -> 0-1
}

// OptimizerConfig tunes the periodic tier-reordering passes.
type OptimizerConfig struct {
	Enabled  bool `mapstructure:"enabled"        toml:"enabled"`
	Interval int  `mapstructure:"interval"       toml:"interval"`       // minutes
	Window   int  `mapstructure:"window_hours"   toml:"window_hours"`
}

// HistoryConfig controls the execution archive.
type HistoryConfig struct {
	Enabled       bool `mapstructure:"enabled"        toml:"enabled"`
	RetentionDays int  `mapstructure:"retention_days" toml:"retention_days"`
}

// NotifyConfig controls the notification side channel.
type NotifyConfig struct {
	BufferSize int  `mapstructure:"buffer_size" toml:"buffer_size"`
	LogEvents  bool `mapstructure:"log_events"  toml:"log_events"`
}

// Load reads configuration from disk with the following precedence:
//  1. Environment variables (CASCADE_ prefix, _ as separator)
//  2. The file at explicitPath if non-empty
//  3. ~/.cascade/cascade.toml
//  4. ./cascade.toml
//  5. Built-in defaults
//
// The loaded config is validated and stored in the global atomic pointer.
func Load(explicitPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	// Set all defaults from the default config so viper knows every key.
	setViperDefaults(v)

	// Environment variable overlay: CASCADE_SERVER_API_PORT etc.
	v.SetEnvPrefix("CASCADE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Determine which file(s) to read.
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
	} else {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".cascade"))
		}
		v.AddConfigPath(".")
		v.SetConfigName("cascade")
	}

	if err := v.ReadInConfig(); err != nil {
		// If no config file exists we still proceed with defaults + env.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// Store the resolved config file path.
	if cf := v.ConfigFileUsed(); cf != "" {
		loadedConfigFile.Store(cf)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	)); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Expand ~ in data_dir.
	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// InitConfig writes the default configuration file to ~/.cascade/cascade.toml.
// If the file already exists it is not overwritten.
func InitConfig() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}

	dir := filepath.Join(homeDir, ".cascade")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}

	cfg := DefaultConfig()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling default config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to the given path in TOML format.
func ExportConfig(path string) error {
	cfg := Get()
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// ImportConfig reads a TOML config file and merges it into the current config.
// The imported config is also persisted to the active config file so changes
// survive restarts.
func ImportConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return err
	}
	set(cfg)

	// Persist to the active config file so changes survive restart.
	if dest := ConfigFilePath(); dest != "" {
		out, err := toml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("marshalling config for persistence: %w", err)
		}
		if err := os.WriteFile(dest, out, 0o600); err != nil {
			return fmt.Errorf("persisting imported config: %w", err)
		}
	}

	return nil
}

// ConfigFilePath returns the path of the config file that was loaded, or
// empty if no file was found.
func ConfigFilePath() string {
	if v, ok := loadedConfigFile.Load().(string); ok {
		return v
	}
	return ""
}

// DatabasePath returns the history database location under the data dir.
func DatabasePath(cfg *Config) string {
	return filepath.Join(cfg.Server.DataDir, "cascade.db")
}

// setViperDefaults registers every known scalar key with viper so that env
// var binding works for all fields even when no config file is present.
// Tier and provider tables come from the config file only.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.bind_address", d.Server.BindAddress)
	v.SetDefault("server.api_port", d.Server.APIPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)

	// Health
	v.SetDefault("health.alpha", d.Health.Alpha)
	v.SetDefault("health.breaker_threshold", d.Health.BreakerThreshold)
	v.SetDefault("health.probe_enabled", d.Health.ProbeEnabled)
	v.SetDefault("health.probe_interval", d.Health.ProbeInterval)
	v.SetDefault("health.probe_timeout", d.Health.ProbeTimeout)

	// Selection
	v.SetDefault("selection.default_strategy", d.Selection.DefaultStrategy)

	// Optimizer
	v.SetDefault("optimizer.enabled", d.Optimizer.Enabled)
	v.SetDefault("optimizer.interval", d.Optimizer.Interval)
	v.SetDefault("optimizer.window_hours", d.Optimizer.Window)

	// History
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.retention_days", d.History.RetentionDays)

	// Notify
	v.SetDefault("notify.buffer_size", d.Notify.BufferSize)
	v.SetDefault("notify.log_events", d.Notify.LogEvents)
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
