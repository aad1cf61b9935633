package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func writeWatchedConfig(t *testing.T, path, dataDir string, port int) {
	t.Helper()
	content := `
[server]
api_port = ` + strconv.Itoa(port) + `
log_level = "info"
data_dir = "` + dataDir + `"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cascade.toml")
	writeWatchedConfig(t, path, dir, 7001)

	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer set(DefaultConfig())

	w, err := Watch(path)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	var reloads atomic.Int64
	var gotNewPort atomic.Int64
	w.OnChange(func(old, new *Config) {
		reloads.Add(1)
		gotNewPort.Store(int64(new.Server.APIPort))
	})

	writeWatchedConfig(t, path, dir, 7002)

	deadline := time.Now().Add(3 * time.Second)
	for reloads.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}

	if reloads.Load() == 0 {
		t.Fatal("watcher never reloaded after config write")
	}
	if gotNewPort.Load() != 7002 {
		t.Errorf("callback new port: got %d, want 7002", gotNewPort.Load())
	}
	if Get().Server.APIPort != 7002 {
		t.Errorf("global config port: got %d, want 7002", Get().Server.APIPort)
	}
}

func TestWatch_InvalidEditKeepsPreviousConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cascade.toml")
	writeWatchedConfig(t, path, dir, 7003)

	if _, err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer set(DefaultConfig())

	w, err := Watch(path)
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer w.Close()

	var reloads atomic.Int64
	w.OnChange(func(old, new *Config) { reloads.Add(1) })

	// api_port 0 fails validation; the reload must be discarded.
	writeWatchedConfig(t, path, dir, 0)

	time.Sleep(500 * time.Millisecond)

	if reloads.Load() != 0 {
		t.Errorf("callbacks fired %d times for an invalid config, want 0", reloads.Load())
	}
	if Get().Server.APIPort != 7003 {
		t.Errorf("global config port: got %d, want previous 7003", Get().Server.APIPort)
	}
}

func TestWatch_EmptyPathRejected(t *testing.T) {
	if _, err := Watch(""); err == nil {
		t.Fatal("expected error for empty watch path")
	}
}
