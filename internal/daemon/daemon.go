package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tidegate/cascade/internal/config"
	"github.com/tidegate/cascade/internal/fallback"
	"github.com/tidegate/cascade/internal/health"
	"github.com/tidegate/cascade/internal/history"
	"github.com/tidegate/cascade/internal/notify"
	"github.com/tidegate/cascade/internal/optimizer"
	"github.com/tidegate/cascade/internal/provider"
	"github.com/tidegate/cascade/internal/selection"
	"github.com/tidegate/cascade/internal/server"
	"github.com/tidegate/cascade/internal/vault"
	"github.com/tidegate/cascade/internal/version"
)

// Run is the main daemon orchestrator. It initialises all subsystems,
// starts the API server with its background workers, and blocks until a
// shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	// Always log to file.
	logPath := filepath.Join(dataDir, "cascade.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	// If foreground, also write to stdout with console formatting.
	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "cascade").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("cascade starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("cascade is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Open the execution archive (optional).
	var archive *history.Store
	if cfg.History.Enabled {
		dbPath := filepath.Join(dataDir, "cascade.db")
		st, err := history.Open(dbPath, history.WithRetentionDays(cfg.History.RetentionDays))
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer st.Close()
		archive = st
		log.Info().Str("db_path", dbPath).Int("retention_days", cfg.History.RetentionDays).Msg("history store opened")
	} else {
		log.Info().Msg("history disabled; executions will not be archived")
	}

	// 4. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 5. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(old, newCfg *config.Config) {
				log.Info().Msg("configuration reloaded")
				newLevel := parseLogLevel(newCfg.Server.LogLevel)
				zerolog.SetGlobalLevel(newLevel)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// ---------------------------------------------------------------
	// 6. Wire up the engine.
	// ---------------------------------------------------------------

	// 6a. Event bus. Subscribers get a buffered channel each; a slow
	// consumer drops events rather than blocking the engine.
	bus := notify.NewBus(cfg.Notify.BufferSize)
	if cfg.Notify.LogEvents {
		go notify.LogSubscriber(bus.Subscribe())
	}

	// 6b. Provider catalog from the configured tier tables.
	reg, err := config.BuildRegistry(cfg)
	if err != nil {
		return fmt.Errorf("building provider registry: %w", err)
	}
	log.Info().
		Int("tiers", reg.TierCount()).
		Int("providers", len(reg.AllProviders())).
		Msg("registry initialized")

	// 6c. Vault-backed HTTP client. Key refs resolve lazily per request,
	// so a missing key only fails the provider that needs it.
	v := vault.New()
	client := provider.NewHTTPClient(v)

	// 6d. Health tracker, selection engine, orchestrator.
	tracker := health.NewTracker(
		health.WithAlpha(cfg.Health.Alpha),
		health.WithBreakerThreshold(cfg.Health.BreakerThreshold),
		health.WithBus(bus),
	)

	engine := selection.NewEngine(
		tracker,
		selection.NewInferencer(),
		selection.NewFeedbackStore(),
		selection.WithPreferences(selection.Preferences{User: cfg.Selection.Preferences}),
	)

	orchOpts := []fallback.Option{fallback.WithBus(bus)}
	if archive != nil {
		orchOpts = append(orchOpts, fallback.WithArchiver(archive))
	}
	orch, err := fallback.New(reg, tracker, engine, client, orchOpts...)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	// 7. Background workers.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var proberDone chan struct{}
	if cfg.Health.ProbeEnabled {
		prober := health.NewProber(tracker, client, reg,
			time.Duration(cfg.Health.ProbeInterval)*time.Second,
			time.Duration(cfg.Health.ProbeTimeout)*time.Second,
		)
		proberDone = make(chan struct{})
		go func() {
			defer close(proberDone)
			prober.Run(bgCtx)
		}()
		log.Info().Int("interval_sec", cfg.Health.ProbeInterval).Msg("health prober started")
	}

	var optimizerDone chan struct{}
	if cfg.Optimizer.Enabled && archive != nil {
		opt := optimizer.New(reg, archive,
			optimizer.WithInterval(time.Duration(cfg.Optimizer.Interval)*time.Minute),
			optimizer.WithWindow(time.Duration(cfg.Optimizer.Window)*time.Hour),
			optimizer.WithBus(bus),
		)
		optimizerDone = make(chan struct{})
		go func() {
			defer close(optimizerDone)
			opt.Run(bgCtx)
		}()
		log.Info().Int("interval_min", cfg.Optimizer.Interval).Msg("optimizer started")
	} else if cfg.Optimizer.Enabled {
		log.Warn().Msg("optimizer enabled but history is disabled; skipping (no stats source)")
	}

	// 8. Start the API server.
	apiServer := server.New(orch, tracker, reg, archive, cfg.Server.Addr(),
		server.WithDefaultStrategy(selection.StrategyName(cfg.Selection.DefaultStrategy)))

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			errCh <- err
		}
	}()

	log.Info().
		Str("addr", cfg.Server.Addr()).
		Bool("history", archive != nil).
		Bool("probes", cfg.Health.ProbeEnabled).
		Msg("cascade is ready")

	if foreground {
		fmt.Printf("\n  Cascade is running!\n")
		fmt.Printf("  API: http://%s\n\n", cfg.Server.Addr())
	}

	// 9. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 10. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("api server shutdown error")
	}

	// 11. Stop background workers before closing the store and bus.
	bgCancel()
	if proberDone != nil {
		<-proberDone
	}
	if optimizerDone != nil {
		<-optimizerDone
	}
	bus.Close()
	if archive != nil {
		archive.Close()
	}
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("cascade stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("cascade does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		// Stale PID file; clean it up.
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("cascade is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to cascade (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("cascade is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("cascade is running (PID %d)\n", pid)

	// Try to fetch live stats from the API.
	url := fmt.Sprintf("http://%s/v1/analytics", cfg.Server.Addr())
	httpClient := &http.Client{Timeout: 3 * time.Second}

	resp, err := httpClient.Get(url)
	if err != nil {
		fmt.Println("  (api unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var analytics struct {
		Stats fallback.Stats `json:"stats"`
	}
	if err := json.Unmarshal(body, &analytics); err != nil {
		return nil
	}
	stats := analytics.Stats

	fmt.Printf("\n  Uptime:           %s\n", stats.Uptime)
	fmt.Printf("  Executions:       %d\n", stats.TotalExecutions)
	fmt.Printf("  Successes:        %d (%.1f%%)\n", stats.TotalSuccesses, stats.SuccessRate*100)
	fmt.Printf("  Exhausted:        %d\n", stats.TotalExhausted)
	fmt.Printf("  Cancelled:        %d\n", stats.TotalCancelled)
	fmt.Printf("  Total Cost:       $%.4f\n", stats.TotalCostUSD)
	fmt.Printf("  Active:           %d\n", stats.ActiveRequests)

	return nil
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
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
