package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_WithExplicitFile(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
api_port = 9090
log_level = "debug"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.APIPort != 9090 {
		t.Errorf("APIPort: got %d, want 9090", cfg.Server.APIPort)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want %q", cfg.Server.LogLevel, "debug")
	}
	// Default tier catalog and providers survive a partial file.
	if len(cfg.Tiers) != 5 {
		t.Errorf("Tiers: got %d, want 5", len(cfg.Tiers))
	}
	if _, ok := cfg.Providers["anthropic-sonnet"]; !ok {
		t.Error("default providers missing after partial config load")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "test.toml")

	content := `
[server]
api_port = 7810
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("CASCADE_SERVER_API_PORT", "8888")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.APIPort != 8888 {
		t.Errorf("APIPort with env override: got %d, want 8888", cfg.Server.APIPort)
	}
}

func TestLoad_ValidationFailure_BadPort(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
api_port = 0
log_level = "info"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestLoad_ValidationFailure_BadStrategy(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "bad.toml")

	content := `
[server]
data_dir = "` + dir + `"

[selection]
default_strategy = "random"
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("expected validation error for unknown strategy")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.APIPort != DefaultAPIPort {
		t.Errorf("APIPort: got %d, want %d", cfg.Server.APIPort, DefaultAPIPort)
	}
	if cfg.Health.Alpha != DefaultHealthAlpha {
		t.Errorf("Health.Alpha: got %f, want %f", cfg.Health.Alpha, DefaultHealthAlpha)
	}
	if cfg.Health.BreakerThreshold != DefaultBreakerThreshold {
		t.Errorf("BreakerThreshold: got %d, want %d", cfg.Health.BreakerThreshold, DefaultBreakerThreshold)
	}
	if cfg.History.RetentionDays != DefaultRetentionDays {
		t.Errorf("RetentionDays: got %d, want %d", cfg.History.RetentionDays, DefaultRetentionDays)
	}
	if cfg.Selection.DefaultStrategy != "hybrid" {
		t.Errorf("DefaultStrategy: got %q, want hybrid", cfg.Selection.DefaultStrategy)
	}

	// Every default provider must point at a configured tier.
	ranks := make(map[int]bool)
	for _, tier := range cfg.Tiers {
		ranks[tier.Rank] = true
	}
	for id, p := range cfg.Providers {
		if !ranks[p.Tier] {
			t.Errorf("provider %s references unknown tier %d", id, p.Tier)
		}
	}

	// The default config must pass its own validation.
	if err := validate(cfg); err != nil {
		t.Fatalf("default config fails validation: %v", err)
	}
}

func TestTierConfig_AttemptTimeoutDuration(t *testing.T) {
	tests := []struct {
		timeout int
		wantSec int
	}{
		{0, 30},  // default
		{-1, 30}, // negative defaults
		{60, 60},
		{10, 10},
	}

	for _, tt := range tests {
		tc := TierConfig{AttemptTimeout: tt.timeout}
		got := tc.AttemptTimeoutDuration().Seconds()
		if int(got) != tt.wantSec {
			t.Errorf("AttemptTimeoutDuration(%d): got %v, want %ds", tt.timeout, got, tt.wantSec)
		}
	}
}

func TestConfigFilePath_BeforeLoad(t *testing.T) {
	// Reset to ensure clean state.
	loadedConfigFile.Store("")
	path := ConfigFilePath()
	if path != "" {
		t.Errorf("ConfigFilePath before load: got %q, want empty", path)
	}
}

func TestExportConfig(t *testing.T) {
	dir := t.TempDir()
	exportPath := filepath.Join(dir, "exported.toml")

	cfg := DefaultConfig()
	set(cfg)

	if err := ExportConfig(exportPath); err != nil {
		t.Fatalf("ExportConfig: %v", err)
	}

	data, err := os.ReadFile(exportPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) == 0 {
		t.Error("exported config is empty")
	}
}

func TestImportConfig(t *testing.T) {
	dir := t.TempDir()
	importPath := filepath.Join(dir, "import.toml")

	content := `
[server]
api_port = 9999
log_level = "warn"
data_dir = "` + dir + `"
`
	if err := os.WriteFile(importPath, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if err := ImportConfig(importPath); err != nil {
		t.Fatalf("ImportConfig: %v", err)
	}

	cfg := Get()
	if cfg.Server.APIPort != 9999 {
		t.Errorf("APIPort after import: got %d, want 9999", cfg.Server.APIPort)
	}

	// Reset to default to not affect other tests.
	set(DefaultConfig())
}

func TestBuildRegistry(t *testing.T) {
	cfg := DefaultConfig()

	reg, err := BuildRegistry(cfg)
	if err != nil {
		t.Fatalf("BuildRegistry: %v", err)
	}

	if reg.TierCount() != 5 {
		t.Errorf("TierCount: got %d, want 5", reg.TierCount())
	}
	if reg.LastRank() != 5 {
		t.Errorf("LastRank: got %d, want 5", reg.LastRank())
	}

	tier, ok := reg.Tier(1)
	if !ok {
		t.Fatal("tier 1 missing")
	}
	if len(tier.Providers) != 2 {
		t.Fatalf("tier 1 providers: got %d, want 2", len(tier.Providers))
	}
	// Priority 1 sorts before priority 2.
	if tier.Providers[0].ID != "anthropic-sonnet" {
		t.Errorf("tier 1 first provider: got %s, want anthropic-sonnet", tier.Providers[0].ID)
	}

	// Disabled providers are excluded — but a tier must keep at least one,
	// so disable one of the two tier-1 providers.
	cfg2 := DefaultConfig()
	p := cfg2.Providers["openai-4o"]
	p.Enabled = false
	cfg2.Providers["openai-4o"] = p

	reg2, err := BuildRegistry(cfg2)
	if err != nil {
		t.Fatalf("BuildRegistry with disabled provider: %v", err)
	}
	tier2, _ := reg2.Tier(1)
	if len(tier2.Providers) != 1 {
		t.Errorf("tier 1 after disable: got %d providers, want 1", len(tier2.Providers))
	}
}
