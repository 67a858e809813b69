package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
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

// Config is the top-level configuration for the avatarsync daemon.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"     toml:"server"`
	Auth       AuthConfig       `mapstructure:"auth"       toml:"auth"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"   toml:"pipeline"`
	Resilience ResilienceConfig `mapstructure:"resilience" toml:"resilience"`
	Tracing    TracingConfig    `mapstructure:"tracing"    toml:"tracing"`
	Metrics    MetricsConfig    `mapstructure:"metrics"    toml:"metrics"`
}

// ServerConfig holds the core daemon settings: the status/Prometheus API
// listener and where the SQLite run log lives.
type ServerConfig struct {
	StatusPort   int    `mapstructure:"status_port"   toml:"status_port"`
	LogLevel     string `mapstructure:"log_level"     toml:"log_level"`
	DataDir      string `mapstructure:"data_dir"      toml:"data_dir"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"   toml:"tls_enabled"`
	CertFile     string `mapstructure:"cert_file"     toml:"cert_file"`
	KeyFile      string `mapstructure:"key_file"      toml:"key_file"`
	ReadTimeout  int    `mapstructure:"read_timeout"  toml:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout" toml:"write_timeout"`
	IdleTimeout  int    `mapstructure:"idle_timeout"  toml:"idle_timeout"`
}

// AuthConfig holds the status API's bearer-token authentication settings.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Token   string `mapstructure:"token"   toml:"token"`
}

// PipelineConfig holds the orchestrator's fan-out caps and per-stage
// timeouts. They are read when the orchestrator is built; a hot reload
// swaps the global config but does not change a running orchestrator.
type PipelineConfig struct {
	DownloadConcurrency         int `mapstructure:"download_concurrency"           toml:"download_concurrency"`
	UploadConcurrency           int `mapstructure:"upload_concurrency"             toml:"upload_concurrency"`
	WearablesTimeoutSeconds     int `mapstructure:"wearables_timeout_seconds"      toml:"wearables_timeout_seconds"`
	WearableFetchTimeoutSeconds int `mapstructure:"wearable_fetch_timeout_seconds" toml:"wearable_fetch_timeout_seconds"`
	CacheQueryTimeoutSeconds    int `mapstructure:"cache_query_timeout_seconds"    toml:"cache_query_timeout_seconds"`
	TextureFetchTimeoutSeconds  int `mapstructure:"texture_fetch_timeout_seconds"  toml:"texture_fetch_timeout_seconds"`
	UploadTimeoutSeconds        int `mapstructure:"upload_timeout_seconds"         toml:"upload_timeout_seconds"`
}

// Durations converts the second-granularity config fields into
// time.Duration values, for handing to pipeline.Config.
func (p PipelineConfig) Durations() (wearables, wearableFetch, cacheQuery, textureFetch, upload time.Duration) {
	return time.Duration(p.WearablesTimeoutSeconds) * time.Second,
		time.Duration(p.WearableFetchTimeoutSeconds) * time.Second,
		time.Duration(p.CacheQueryTimeoutSeconds) * time.Second,
		time.Duration(p.TextureFetchTimeoutSeconds) * time.Second,
		time.Duration(p.UploadTimeoutSeconds) * time.Second
}

// ResilienceConfig controls the scheduler's retry and per-service-kind
// circuit breaker tunables.
type ResilienceConfig struct {
	RetryMaxAttempts   int  `mapstructure:"retry_max_attempts"       toml:"retry_max_attempts"`
	RetryBaseDelayMs   int  `mapstructure:"retry_base_delay_ms"      toml:"retry_base_delay_ms"`
	RetryMaxDelayMs    int  `mapstructure:"retry_max_delay_ms"       toml:"retry_max_delay_ms"`
	CBEnabled          bool `mapstructure:"circuit_breaker_enabled"  toml:"circuit_breaker_enabled"`
	CBFailureThreshold int  `mapstructure:"cb_failure_threshold"     toml:"cb_failure_threshold"`
	CBResetTimeoutSec  int  `mapstructure:"cb_reset_timeout_seconds" toml:"cb_reset_timeout_seconds"`
	CBHalfOpenMax      int  `mapstructure:"cb_half_open_max_calls"   toml:"cb_half_open_max_calls"`
}

// TracingConfig controls OpenTelemetry distributed tracing of pipeline stages.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"      toml:"enabled"`
	Exporter    string  `mapstructure:"exporter"     toml:"exporter"`     // "stdout", "otlp-grpc", "otlp-http"
	Endpoint    string  `mapstructure:"endpoint"     toml:"endpoint"`     // e.g. "localhost:4317"
	ServiceName string  `mapstructure:"service_name" toml:"service_name"` // defaults to "avatarsync"
	SampleRate  float64 `mapstructure:"sample_rate"  toml:"sample_rate"`  // 0.0 to 1.0
	Insecure    bool    `mapstructure:"insecure"     toml:"insecure"`     // skip TLS for dev
}

// MetricsConfig controls the store's run-log retention.
type MetricsConfig struct {
	RetentionDays int `mapstructure:"retention_days" toml:"retention_days"`
}

// newLoader builds the viper instance Load reads through: every key
// defaulted, the AVATARSYNC_ env overlay bound, and the file search
// order set (explicit path, else ~/.avatarsync then the working
// directory).
func newLoader(explicitPath string) *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	setViperDefaults(v)

	v.SetEnvPrefix("AVATARSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return v
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".avatarsync"))
	}
	v.AddConfigPath(".")
	v.SetConfigName("avatarsync")
	return v
}

// Load reads configuration with env vars overriding the file overriding
// built-in defaults, validates it, and installs it as the process
// config. A missing file is fine; defaults plus env still apply.
func Load(explicitPath string) (*Config, error) {
	v := newLoader(explicitPath)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	if used := v.ConfigFileUsed(); used != "" {
		loadedConfigFile.Store(used)
	}

	cfg := DefaultConfig()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)
	if err := validate(cfg); err != nil {
		return nil, err
	}

	set(cfg)
	return cfg, nil
}

// writeTOML marshals cfg and writes it read-protected to path.
func writeTOML(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config %s: %w", path, err)
	}
	return nil
}

// InitConfig writes the default configuration to
// ~/.avatarsync/avatarsync.toml, leaving any existing file untouched.
func InitConfig() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("determining home directory: %w", err)
	}
	dir := filepath.Join(home, ".avatarsync")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(dir, DefaultConfigFilename)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("Config already exists: %s\n", path)
		return nil
	}
	if err := writeTOML(path, DefaultConfig()); err != nil {
		return err
	}
	fmt.Printf("Config written to %s\n", path)
	return nil
}

// ExportConfig writes the current config to path as TOML.
func ExportConfig(path string) error {
	return writeTOML(path, Get())
}

// ImportConfig loads a TOML file over the defaults, validates it,
// installs it as the process config, and persists it to the active
// config file so the change survives a restart.
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

	if dest := ConfigFilePath(); dest != "" {
		return writeTOML(dest, cfg)
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

// setViperDefaults registers every known key with viper so that env var binding
// works for all fields even when no config file is present.
func setViperDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// Server
	v.SetDefault("server.status_port", d.Server.StatusPort)
	v.SetDefault("server.log_level", d.Server.LogLevel)
	v.SetDefault("server.data_dir", d.Server.DataDir)
	v.SetDefault("server.tls_enabled", d.Server.TLSEnabled)
	v.SetDefault("server.cert_file", d.Server.CertFile)
	v.SetDefault("server.key_file", d.Server.KeyFile)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)

	// Auth
	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.token", d.Auth.Token)

	// Pipeline
	v.SetDefault("pipeline.download_concurrency", d.Pipeline.DownloadConcurrency)
	v.SetDefault("pipeline.upload_concurrency", d.Pipeline.UploadConcurrency)
	v.SetDefault("pipeline.wearables_timeout_seconds", d.Pipeline.WearablesTimeoutSeconds)
	v.SetDefault("pipeline.wearable_fetch_timeout_seconds", d.Pipeline.WearableFetchTimeoutSeconds)
	v.SetDefault("pipeline.cache_query_timeout_seconds", d.Pipeline.CacheQueryTimeoutSeconds)
	v.SetDefault("pipeline.texture_fetch_timeout_seconds", d.Pipeline.TextureFetchTimeoutSeconds)
	v.SetDefault("pipeline.upload_timeout_seconds", d.Pipeline.UploadTimeoutSeconds)

	// Resilience
	v.SetDefault("resilience.retry_max_attempts", d.Resilience.RetryMaxAttempts)
	v.SetDefault("resilience.retry_base_delay_ms", d.Resilience.RetryBaseDelayMs)
	v.SetDefault("resilience.retry_max_delay_ms", d.Resilience.RetryMaxDelayMs)
	v.SetDefault("resilience.circuit_breaker_enabled", d.Resilience.CBEnabled)
	v.SetDefault("resilience.cb_failure_threshold", d.Resilience.CBFailureThreshold)
	v.SetDefault("resilience.cb_reset_timeout_seconds", d.Resilience.CBResetTimeoutSec)
	v.SetDefault("resilience.cb_half_open_max_calls", d.Resilience.CBHalfOpenMax)

	// Tracing
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.insecure", d.Tracing.Insecure)

	// Metrics
	v.SetDefault("metrics.retention_days", d.Metrics.RetentionDays)
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

// ReloadFunc is notified after a successful hot-reload with the previous
// and freshly loaded config. Callbacks run on the reload goroutine; keep
// them short.
type ReloadFunc func(prev, next *Config)

// HotReload re-loads the config file whenever it changes on disk, swaps
// the global config and hands the old and new values to its callbacks,
// which decide what to apply. A pipeline.Orchestrator keeps the timeouts
// and concurrency caps it was built with. A failed reload keeps the
// previous config in place.
type HotReload struct {
	fsw    *fsnotify.Watcher
	path   string
	notify []ReloadFunc
	quit   chan struct{}
}

// WatchFile starts hot-reloading the config file at path. Callbacks are
// fixed at construction and invoked in order after each successful reload.
// The directory is watched rather than the file itself: editors that save
// atomically (write temp, rename over) replace the inode, and a file-level
// watch would go stale after the first save.
func WatchFile(path string, fns ...ReloadFunc) (*HotReload, error) {
	if path == "" {
		return nil, fmt.Errorf("config: watch: empty path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(abs), err)
	}

	h := &HotReload{fsw: fsw, path: abs, notify: fns, quit: make(chan struct{})}
	go h.run()
	return h, nil
}

// Close stops watching. Safe to call once.
func (h *HotReload) Close() error {
	close(h.quit)
	return h.fsw.Close()
}

// reloadSettleDelay is how long to wait after the last filesystem event
// before reloading; editors emit several events per save.
const reloadSettleDelay = 150 * time.Millisecond

func (h *HotReload) run() {
	settle := time.NewTimer(reloadSettleDelay)
	if !settle.Stop() {
		<-settle.C
	}
	pending := false

	for {
		select {
		case <-h.quit:
			settle.Stop()
			return

		case ev, ok := <-h.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != h.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			if pending && !settle.Stop() {
				<-settle.C
			}
			settle.Reset(reloadSettleDelay)
			pending = true

		case <-settle.C:
			pending = false
			h.applyReload()

		case err, ok := <-h.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("config watch error")
		}
	}
}

// applyReload re-loads and validates the file, swaps the global config on
// success, and fans the change out to the registered callbacks.
func (h *HotReload) applyReload() {
	prev := Get()
	next, err := Load(h.path)
	if err != nil {
		log.Warn().Err(err).Str("file", h.path).Msg("config reload failed, keeping previous config")
		return
	}

	wearables, wearableFetch, cacheQuery, textureFetch, upload := next.Pipeline.Durations()
	log.Info().
		Str("file", h.path).
		Int("download_concurrency", next.Pipeline.DownloadConcurrency).
		Int("upload_concurrency", next.Pipeline.UploadConcurrency).
		Durs("stage_timeouts", []time.Duration{wearables, wearableFetch, cacheQuery, textureFetch, upload}).
		Msg("config reloaded")

	for _, fn := range h.notify {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Msg("config reload callback panicked")
				}
			}()
			fn(prev, next)
		}()
	}
}
