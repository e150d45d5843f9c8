package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/blockgate-project/blockgate/internal/api"
	"github.com/blockgate-project/blockgate/internal/cli"
	"github.com/blockgate-project/blockgate/internal/config"
	"github.com/blockgate-project/blockgate/internal/db"
	"github.com/blockgate-project/blockgate/internal/events"
	"github.com/blockgate-project/blockgate/internal/health"
	"github.com/blockgate-project/blockgate/internal/metrics"
	"github.com/blockgate-project/blockgate/internal/network"
	"github.com/blockgate-project/blockgate/internal/scheduler"
	"github.com/blockgate-project/blockgate/internal/telemetry"
	"github.com/blockgate-project/blockgate/internal/util"
)

type serveOptions struct {
	configDir string
	host      string
	port      int
	logLevel  string
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the game listener and operator services",
		Long: `Bind the game listener and serve until SIGINT or SIGTERM.

Settings come from config.json in the config directory, which is
created with defaults on first run. Flags override the listener
address and log level without touching the file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configDir, "config-dir", "c", config.DefaultConfigDir, "Directory holding config.json")
	cmd.Flags().StringVar(&opts.host, "host", "", "Game listener host (overrides config)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Game listener port (overrides config)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	return cmd
}

func runServe(opts serveOptions) error {
	fmt.Printf(Banner, version)
	fmt.Println()

	// Initialize logger with defaults first (will be reconfigured after config load)
	logFile, err := util.InitLogger(util.DefaultLogConfig())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Info().
		Str("version", version).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting blockgate")

	cfg, err := config.Load(opts.configDir)
	if err != nil {
		logFile.Close()
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.ApplyOverrides(opts.host, opts.port, opts.logLevel)

	// Re-initialize logger with config-based settings
	logCfg := cfg.GetLogging()
	if reconfigured, err := util.InitLogger(util.LogConfig{
		Level:      logCfg.Level,
		Directory:  logCfg.Directory,
		MaxBackups: logCfg.MaxBackups,
		Console:    true,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	} else {
		logFile.Close()
		logFile = reconfigured
	}
	defer logFile.Close()

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		return errors.New("configuration validation failed, please fix the errors above")
	}

	serverCfg := cfg.GetServer()
	if serverCfg.Port != 0 && !config.IsPortAvailable(serverCfg.Port) {
		log.Warn().Int("port", serverCfg.Port).Msg("game port is in use, binding will be retried")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---------------------------------------------------------------
	// Core components
	// ---------------------------------------------------------------
	eventBus := events.NewEventBus()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	journal, err := db.NewSessionJournal(cfg.GetStorage().DatabasePath)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open session journal, sessions will not be recorded")
		journal = nil
	} else {
		defer journal.Close()
		if n, err := journal.CloseDangling("server restarted"); err != nil {
			log.Warn().Err(err).Msg("failed to close dangling sessions")
		} else if n > 0 {
			log.Info().Int64("sessions", n).Msg("closed sessions left open by a previous run")
		}
		journal.Subscribe(eventBus)
	}

	game := network.NewServer(cfg, eventBus, m, nil)

	var apiServer *api.Server
	if cfg.GetAPI().Enabled {
		apiServer = api.NewServer(cfg, eventBus, game, version)
		apiServer.SetDependencies(journal, m)
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.GetMQTT().Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus, version, statusFunc(game))
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	healthMgr := health.NewManager(cfg, game)
	sched := scheduler.NewScheduler(cfg, journal)

	// The console quit command arrives as a shutdown event.
	shutdownCh := make(chan string, 1)
	eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, e events.Event) error {
		select {
		case shutdownCh <- e.Source:
		default:
		}
		return nil
	})

	// ---------------------------------------------------------------
	// Launch all concurrent tasks
	// ---------------------------------------------------------------
	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", serverCfg.Addr()).Msg("starting game listener")
		if err := startWithRetry(ctx, "game listener", game.Start, 5); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("game listener: %w", err)
		}
	}()

	if cfg.GetLAN().Enabled {
		announcer := network.NewLANAnnouncer(cfg, func() int {
			if addr, ok := game.Addr().(*net.TCPAddr); ok {
				return addr.Port
			}
			return 0
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-game.Ready():
			case <-ctx.Done():
				return
			}
			if err := announcer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("LAN announcer failed (non-fatal)")
			}
		}()
	}

	if apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", cfg.GetAPI().Addr()).Msg("starting REST API server")
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	if cfg.GetConsole().Enabled {
		console := cli.NewCLI(cfg, eventBus, game, journal, os.Stdin, os.Stdout)
		// Not tracked by wg: the blocking stdin read cannot be interrupted.
		go console.Start(ctx)
	}

	// ---------------------------------------------------------------
	// Graceful shutdown handling
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case source := <-shutdownCh:
		log.Info().Str("source", source).Msg("shutdown requested")
	case err := <-errCh:
		log.Error().Err(err).Msg("critical error, initiating shutdown")
		runErr = err
	}

	log.Info().Msg("initiating graceful shutdown...")

	cancel()
	game.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		game.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	// Let journal handlers finish before the database closes.
	waitWithTimeout(eventBus.Wait, 5*time.Second)
	eventBus.Stop()

	log.Info().Msg("blockgate stopped")
	return runErr
}

// statusFunc builds the MQTT heartbeat payload.
func statusFunc(game *network.Server) telemetry.StatusFunc {
	return func() interface{} {
		status := game.ServerStatus()
		conns := game.Connections()
		payload := map[string]interface{}{
			"players_online": status.Players.Online,
			"players_max":    status.Players.Max,
			"connections":    conns.Count(),
			"by_phase":       conns.CountByPhase(),
		}
		if started := game.StartedAt(); !started.IsZero() {
			payload["uptime_seconds"] = int64(time.Since(started).Seconds())
		}
		return payload
	}
}

// startWithRetry attempts to start a listener/server with retry on bind
// errors, 3 seconds apart. Returns nil on success, or the last error after
// all retries fail.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}

func waitWithTimeout(wait func(), timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("timed out waiting for event handlers")
	}
}
