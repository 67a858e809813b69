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

	"github.com/wyndmere/avatarsync/internal/cache"
	"github.com/wyndmere/avatarsync/internal/cachenegotiator"
	"github.com/wyndmere/avatarsync/internal/config"
	"github.com/wyndmere/avatarsync/internal/metrics"
	"github.com/wyndmere/avatarsync/internal/pipeline"
	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/store"
	"github.com/wyndmere/avatarsync/internal/texturetable"
	"github.com/wyndmere/avatarsync/internal/tracing"
	"github.com/wyndmere/avatarsync/internal/transport"
	"github.com/wyndmere/avatarsync/internal/vault"
	"github.com/wyndmere/avatarsync/internal/version"
	"github.com/wyndmere/avatarsync/internal/wearableregistry"
)

// Services bundles the external collaborators the appearance pipeline
// consumes but does not implement: the asset/texture fetchers, the image
// baker, the baked uploader, and the simulator wire transport. The
// embedding application (the full viewer-protocol client) provides real
// implementations; all fields may be nil, in which case the daemon runs
// the status surface only and the pipeline stays idle.
type Services struct {
	AssetFetcher   protocol.AssetFetcher
	TextureFetcher protocol.TextureFetcher
	Baker          protocol.Baker
	Uploader       protocol.BakedUploader
	Simulator      protocol.SimulatorTransport
	Inbound        protocol.InboundTransport
	Inventory      protocol.InventoryService
}

// pipelineReady reports whether every collaborator the pipeline needs is
// present.
func (s Services) pipelineReady() bool {
	return s.AssetFetcher != nil && s.TextureFetcher != nil &&
		s.Baker != nil && s.Uploader != nil && s.Simulator != nil
}

// Run is the main daemon orchestrator. It initialises logging, the run
// audit store, metrics, tracing, and the appearance pipeline, then blocks
// until a shutdown signal is received.
func Run(cfg *config.Config, foreground bool, svc Services) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	zerolog.SetGlobalLevel(logLevelOf(cfg.Server.LogLevel))

	writers := []io.Writer{}

	// Always log to file.
	logPath := filepath.Join(dataDir, "avatarsync.log")
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
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "avatarsync").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("avatarsync starting")

	// 2. Take the single-instance lock. A stale lock from a crashed
	// instance is swept automatically.
	if err := claimLock(dataDir); err != nil {
		return err
	}
	defer func() {
		if err := releaseLock(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to release instance lock")
		}
	}()
	log.Info().Int("pid", os.Getpid()).Msg("instance lock claimed")

	// 3. Open the run audit store.
	dbPath := filepath.Join(dataDir, "avatarsync.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log.Info().Str("db_path", dbPath).Msg("store opened")

	// 4. Create metrics collector.
	collector := metrics.NewCollector()

	// 5. Start config hot-reload.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	if _, statErr := os.Stat(configFile); statErr == nil {
		reloader, watchErr := config.WatchFile(configFile, func(prev, next *config.Config) {
			zerolog.SetGlobalLevel(logLevelOf(next.Server.LogLevel))
		})
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config hot-reload; continuing without it")
		} else {
			defer reloader.Close()
			log.Info().Str("file", configFile).Msg("config hot-reload armed")
		}
	}

	// 6. Initialise tracing.
	if cfg.Tracing.Enabled {
		serviceName := cfg.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "avatarsync"
		}
		shutdownTracing, traceErr := tracing.Setup(context.Background(), tracing.Options{
			ServiceName: serviceName,
			Version:     version.Version,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
			Insecure:    cfg.Tracing.Insecure,
		})
		if traceErr != nil {
			log.Warn().Err(traceErr).Msg("failed to initialise tracing; continuing without it")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("tracing shutdown error")
				}
			}()
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialised")
		}
	}

	// 7. Start periodic audit-log pruning.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, st, cfg.Metrics.RetentionDays)
	}()

	// 8. Wire up the appearance pipeline, if the wire-layer services are
	// present.
	var orchestrator *pipeline.Orchestrator
	if svc.pipelineReady() {
		registry := wearableregistry.New()
		table := texturetable.New()
		negotiator := cachenegotiator.New(svc.Simulator)

		textures, cacheErr := cache.New(256)
		if cacheErr != nil {
			return fmt.Errorf("creating texture cache: %w", cacheErr)
		}

		orchestrator = pipeline.New(
			registry, table, negotiator,
			svc.Simulator, svc.AssetFetcher, svc.TextureFetcher, svc.Baker, svc.Uploader,
			textures, collector, st,
			pipelineConfig(cfg), log.Logger,
		)
		defer orchestrator.Stop()

		// The session credential stamps every outbound packet; without it
		// region-handoff triggers cannot start a run.
		v := vault.New()
		cred, credErr := v.Get()
		if credErr != nil {
			log.Warn().Err(credErr).Msg("no session credential; run 'avatarsync session set' before connecting")
		}

		dispatcher := transport.New(
			orchestrator.OnWearablesUpdate,
			orchestrator.OnCachedTextureResponse,
			func(ctx context.Context, regionID protocol.UUID) error {
				if credErr != nil {
					return fmt.Errorf("daemon: no session credential: %w", credErr)
				}
				return orchestrator.RequestSetAppearance(ctx, cred.AgentID, cred.SessionID, false)
			},
			log.Logger,
		)
		if svc.Inbound != nil {
			dispatcher.Register(svc.Inbound)
			log.Info().Msg("inbound transport registered, pipeline armed")
		} else {
			log.Warn().Msg("no inbound transport; pipeline will only run when driven directly")
		}
	} else {
		log.Warn().Msg("wire-layer services not provided; running status surface only")
	}

	// 9. Create and start the status server.
	statusAddr := fmt.Sprintf(":%d", cfg.Server.StatusPort)
	statusServer := metrics.NewStatusServer(collector, st, statusAddr, metrics.ServerOptions{
		AuthEnabled: cfg.Auth.Enabled,
		AuthToken:   cfg.Auth.Token,
	})

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLSEnabled {
			if err := statusServer.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil {
				errCh <- fmt.Errorf("status server: %w", err)
			}
		} else {
			if err := statusServer.Start(); err != nil {
				errCh <- fmt.Errorf("status server: %w", err)
			}
		}
	}()

	scheme := "http"
	if cfg.Server.TLSEnabled {
		scheme = "https"
	}
	log.Info().
		Int("status_port", cfg.Server.StatusPort).
		Bool("tls", cfg.Server.TLSEnabled).
		Bool("pipeline", orchestrator != nil).
		Msg("avatarsync is ready")

	if foreground {
		fmt.Printf("\n  avatarsync is running!\n")
		fmt.Printf("  Status API: %s://localhost:%d\n\n", scheme, cfg.Server.StatusPort)
	}

	// 10. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 11. Graceful shutdown. The orchestrator's deferred Stop waits for any
	// in-flight run to finish; runs are never hard-cancelled mid-flight.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down...")

	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server shutdown error")
	}

	pruneCancel()
	<-prunerDone

	log.Info().Msg("avatarsync stopped")
	return nil
}

// pipelineConfig maps the TOML-facing tunables onto the orchestrator's
// runtime config.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	p := pipeline.DefaultConfig()
	if cfg.Pipeline.DownloadConcurrency > 0 {
		p.DownloadConcurrency = cfg.Pipeline.DownloadConcurrency
	}
	if cfg.Pipeline.UploadConcurrency > 0 {
		p.UploadConcurrency = cfg.Pipeline.UploadConcurrency
	}
	wearables, wearableFetch, cacheQuery, textureFetch, upload := cfg.Pipeline.Durations()
	if wearables > 0 {
		p.WearablesTimeout = wearables
	}
	if wearableFetch > 0 {
		p.WearableFetchTimeout = wearableFetch
	}
	if cacheQuery > 0 {
		p.CacheQueryTimeout = cacheQuery
	}
	if textureFetch > 0 {
		p.TextureFetchTimeout = textureFetch
	}
	if upload > 0 {
		p.UploadTimeout = upload
	}

	if cfg.Resilience.RetryMaxAttempts > 0 {
		p.UploadRetryAttempts = cfg.Resilience.RetryMaxAttempts - 1
	}
	if cfg.Resilience.RetryBaseDelayMs > 0 {
		p.RetryBaseDelay = time.Duration(cfg.Resilience.RetryBaseDelayMs) * time.Millisecond
	}
	if cfg.Resilience.RetryMaxDelayMs > 0 {
		p.RetryMaxDelay = time.Duration(cfg.Resilience.RetryMaxDelayMs) * time.Millisecond
	}
	if cfg.Resilience.CBEnabled {
		if cfg.Resilience.CBFailureThreshold > 0 {
			p.BreakerFailureThreshold = cfg.Resilience.CBFailureThreshold
		}
		if cfg.Resilience.CBResetTimeoutSec > 0 {
			p.BreakerResetTimeout = time.Duration(cfg.Resilience.CBResetTimeoutSec) * time.Second
		}
		if cfg.Resilience.CBHalfOpenMax > 0 {
			p.BreakerHalfOpenMax = cfg.Resilience.CBHalfOpenMax
		}
	}
	return p
}

// Stop signals the lock-holding daemon with SIGTERM and waits briefly
// for it to exit.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	info, err := readLock(dataDir)
	if err != nil {
		return fmt.Errorf("avatarsync does not appear to be running: %w", err)
	}
	if !processAlive(info.pid) {
		if rmErr := releaseLock(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: could not sweep stale lock: %v\n", rmErr)
		}
		return fmt.Errorf("avatarsync is not running (stale lock swept)")
	}

	proc, err := os.FindProcess(info.pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", info.pid, err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signalling process %d: %w", info.pid, err)
	}
	fmt.Printf("Sent SIGTERM to avatarsync (pid %d)\n", info.pid)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(info.pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Println("still shutting down; check again with 'avatarsync status'")
	return nil
}

// Status checks if the daemon is running and prints a summary.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	info, err := readLock(dataDir)
	if err != nil || !processAlive(info.pid) {
		fmt.Println("avatarsync is not running")
		return nil
	}
	if info.started.IsZero() {
		fmt.Printf("avatarsync is running (pid %d)\n", info.pid)
	} else {
		fmt.Printf("avatarsync is running (pid %d, up %s)\n",
			info.pid, time.Since(info.started).Round(time.Second))
	}

	// Try to fetch stats from the status API.
	statusURL := fmt.Sprintf("http://localhost:%d/api/stats", cfg.Server.StatusPort)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, getErr := client.Get(statusURL)
	if getErr != nil {
		fmt.Println("  (status API unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil
	}

	var stats metrics.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil
	}

	fmt.Printf("\n  Uptime:               %s\n", stats.Uptime)
	fmt.Printf("  Total Runs:           %d\n", stats.TotalRuns)
	fmt.Printf("  Partial Runs:         %d\n", stats.PartialRuns)
	fmt.Printf("  Layer Cache Hit Rate: %.1f%% (%d hits / %d misses)\n", stats.LayerCacheHitRate, stats.LayerCacheHits, stats.LayerCacheMisses)
	fmt.Printf("  Active Runs:          %d\n", stats.ActiveRuns)
	fmt.Printf("  Last Serial:          %d\n", stats.LastSerial)

	return nil
}

// runPruner deletes expired audit rows once at startup and then hourly.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	prune := func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("audit pruner: recovered from panic")
			}
		}()
		n, err := st.Prune(retentionDays)
		switch {
		case err != nil:
			log.Error().Err(err).Msg("audit pruning failed")
		case n > 0:
			log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old audit rows")
		}
	}

	prune()
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

// logLevelOf maps a config log-level string onto zerolog, defaulting to
// info for anything unrecognised.
func logLevelOf(level string) zerolog.Level {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return parsed
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
