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

	"github.com/allaspects/confplane/internal/adminapi"
	"github.com/allaspects/confplane/internal/confdispatch"
	"github.com/allaspects/confplane/internal/confreg"
	"github.com/allaspects/confplane/internal/config"
	"github.com/allaspects/confplane/internal/demotype"
	"github.com/allaspects/confplane/internal/digeststore"
	"github.com/allaspects/confplane/internal/metrics"
	"github.com/allaspects/confplane/internal/reloadhistory"
	"github.com/allaspects/confplane/internal/tracing"
	"github.com/allaspects/confplane/internal/version"
)

// Run is the main daemon orchestrator. It initialises every subsystem —
// logging, the config watcher, the digest store, the segment dispatcher,
// the metrics/tracing/history observability sinks, and the admin API —
// then blocks until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "confplaned.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "confplaned").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Str("root_directory", cfg.Server.RootDirectory).
		Bool("foreground", foreground).
		Msg("confplaned starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("confplaned is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	// 3. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()
	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 4. Start config watcher for the daemon's own tuning knobs.
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
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Server.LogLevel))
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 5. Open the digest store and start its flush/GC ticker.
	digestPath := expandHome(cfg.DigestStore.Path)
	if digestPath == "" {
		digestPath = filepath.Join(dataDir, "digests.json")
	}
	digestStore, err := digeststore.Open(digestPath, time.Duration(cfg.DigestStore.GCAgeDays)*24*time.Hour)
	if err != nil {
		return fmt.Errorf("opening digest store: %w", err)
	}
	log.Info().Str("path", digestPath).Msg("digest store opened")

	tickerCtx, tickerCancel := context.WithCancel(context.Background())
	defer tickerCancel()
	flushSeconds := cfg.DigestStore.FlushSeconds
	if flushSeconds <= 0 {
		flushSeconds = config.DefaultDigestStoreFlushSeconds
	}
	digestDone := digestStore.StartTicker(tickerCtx, time.Duration(flushSeconds)*time.Second)

	// 6. Open the reload-history store, if enabled.
	var history *reloadhistory.Store
	var historyDone chan struct{}
	if cfg.History.Enabled {
		historyPath := filepath.Join(dataDir, "reloadhistory.db")
		history, err = reloadhistory.Open(historyPath)
		if err != nil {
			return fmt.Errorf("opening reload history store: %w", err)
		}
		defer history.Close()
		log.Info().Str("path", historyPath).Msg("reload history store opened")

		historyDone = make(chan struct{})
		go runHistoryPruner(tickerCtx, history, cfg.History.RetentionDays, historyDone)
	}

	// 7. Create the metrics collector and, if enabled, start its HTTP
	// exposition server.
	collector := metrics.NewCollector()
	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics server starting")
	}

	// 8. Initialize OpenTelemetry tracing, if enabled.
	var tracingShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		tracingShutdown, err = tracing.Init(context.Background(), cfg.Tracing.ServiceName, version.Version, cfg.Tracing.Exporter, cfg.Tracing.Endpoint, cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize tracing; continuing without it")
		} else {
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialized")
		}
	}

	// 9. Build the dispatcher and register the bundled demo modules whose
	// files exist under the root directory, wiring metrics and history into it.
	dispatcher := confdispatch.New()
	dispatcher.Metrics = collector
	dispatcher.History = history
	if cfg.Segment.Parallel > 0 {
		dispatcher.Parallel = cfg.Segment.Parallel
	}
	if cfg.Segment.RetrySec > 0 {
		dispatcher.RetryDelay = time.Duration(cfg.Segment.RetrySec) * time.Second
	}

	registerRootModules(dispatcher, cfg.Server.RootDirectory)
	dispatcher.Start()
	defer dispatcher.Close()

	// 10. Start the admin API, if enabled.
	var adminSrv *adminapi.Server
	if cfg.AdminAPI.Enabled {
		adminSrv = adminapi.NewServer(dispatcher, cfg.AdminAPI.Addr, cfg.Tracing.Enabled)
		go func() {
			if err := adminSrv.Start(); err != nil {
				log.Error().Err(err).Msg("admin API server failed")
			}
		}()
		log.Info().Str("addr", cfg.AdminAPI.Addr).Msg("admin API starting")
	}

	if foreground {
		fmt.Printf("\n  confplaned is running!\n")
		fmt.Printf("  Root directory: %s\n", cfg.Server.RootDirectory)
		if cfg.AdminAPI.Enabled {
			fmt.Printf("  Admin API:      http://%s/status\n", cfg.AdminAPI.Addr)
		}
		if cfg.Metrics.Enabled {
			fmt.Printf("  Metrics:        http://%s/metrics\n", cfg.Metrics.Addr)
		}
		fmt.Println()
	}

	// 11. Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	// 12. Graceful shutdown with a 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("admin API shutdown error")
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("metrics server shutdown error")
		}
	}
	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}
	}

	tickerCancel()
	<-digestDone
	if historyDone != nil {
		<-historyDone
	}

	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("confplaned stopped")
	return nil
}

// registerRootModules registers the bundled reference modules shipped
// with confplaned: concrete per-domain parsers are out of scope (see
// SPEC_FULL.md §1), so the daemon's own registered modules are the two
// internal/demotype types, driven by a fixed layout under RootDirectory:
// a single "counter" file and a "tenants/" directory of segment files.
// A real deployment embedding this package registers its own types via
// confdispatch.Dispatcher.RegisterSimple/RegisterSegmented directly
// instead of calling this function.
func registerRootModules(d *confdispatch.Dispatcher, rootDir string) {
	if rootDir == "" {
		log.Warn().Msg("no root directory configured; no modules registered")
		return
	}

	counterPath := filepath.Join(rootDir, "counter.conf")
	if _, err := os.Stat(counterPath); err == nil {
		if err := d.RegisterSimple("counter", counterPath, confreg.SkipComments|confreg.SkipEmpty, demotype.CounterType{}); err != nil {
			log.Error().Err(err).Msg("registering counter module failed")
		} else if err := d.LoadSimple("counter"); err != nil {
			log.Warn().Err(err).Msg("initial counter load failed")
		}
	}

	tenantTemplate := filepath.Join(rootDir, "tenants", "tenant-%u")
	if _, err := os.Stat(filepath.Join(rootDir, "tenants")); err == nil {
		if err := d.RegisterSegmented("tenant", tenantTemplate, confreg.SkipComments|confreg.SkipEmpty, demotype.TenantType{}); err != nil {
			log.Error().Err(err).Msg("registering tenant module failed")
		}
	}
}

// runHistoryPruner periodically prunes reload-history rows older than
// retentionDays, mirroring the teacher's store pruner goroutine.
func runHistoryPruner(ctx context.Context, store *reloadhistory.Store, retentionDays int, done chan struct{}) {
	defer close(done)
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("reload history pruner: recovered from panic")
					}
				}()
				n, err := store.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("reload history pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old reload history")
				}
			}()
		}
	}
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("confplaned does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("confplaned is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to confplaned (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary fetched
// from the admin API.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("confplaned is not running")
		return nil
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("confplaned is running (PID %d)\n", pid)

	if !cfg.AdminAPI.Enabled {
		return nil
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://%s/status", cfg.AdminAPI.Addr))
	if err != nil {
		fmt.Println("  (admin API unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var status struct {
		Version string   `json:"version"`
		Uptime  string   `json:"uptime"`
		Modules []string `json:"modules"`
	}
	if err := json.Unmarshal(body, &status); err != nil {
		return nil
	}

	fmt.Printf("\n  Version: %s\n", status.Version)
	fmt.Printf("  Uptime:  %s\n", status.Uptime)
	fmt.Printf("  Modules: %s\n", strings.Join(status.Modules, ", "))

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
