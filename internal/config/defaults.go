package config

// DefaultStatusPort is the default port for the status/Prometheus API.
const DefaultStatusPort = 7678

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.avatarsync"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "avatarsync.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
const DefaultWriteTimeout = 30

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 60

// DefaultDownloadConcurrency is the default wearable-asset/texture fetch
// fan-out cap.
const DefaultDownloadConcurrency = 5

// DefaultUploadConcurrency is the default bake+upload fan-out cap.
const DefaultUploadConcurrency = 3

// DefaultWearablesTimeoutSeconds is the default wearables-enumeration timeout.
const DefaultWearablesTimeoutSeconds = 10

// DefaultWearableFetchTimeoutSeconds is the default per-asset wearable fetch timeout.
const DefaultWearableFetchTimeoutSeconds = 10

// DefaultCacheQueryTimeoutSeconds is the default cache-negotiation query timeout.
const DefaultCacheQueryTimeoutSeconds = 10

// DefaultTextureFetchTimeoutSeconds is the default per-texture fetch timeout.
const DefaultTextureFetchTimeoutSeconds = 30

// DefaultUploadTimeoutSeconds is the default per-layer bake-upload timeout.
const DefaultUploadTimeoutSeconds = 30

// DefaultRetentionDays is the default run-log retention in days.
const DefaultRetentionDays = 30

// DefaultRetryMaxAttempts is the default total number of upload attempts
// for a baked layer: the first try plus one in-run retry (the daemon
// passes this value minus one to the pipeline as its retry count).
const DefaultRetryMaxAttempts = 2

// DefaultRetryBaseDelayMs is the default base delay for exponential backoff in milliseconds.
const DefaultRetryBaseDelayMs = 500

// DefaultRetryMaxDelayMs is the default maximum delay for exponential backoff in milliseconds.
const DefaultRetryMaxDelayMs = 30000

// DefaultCBFailureThreshold is the default number of consecutive failures
// before a service-kind's circuit breaker opens.
const DefaultCBFailureThreshold = 5

// DefaultCBResetTimeout is the default circuit breaker reset timeout in seconds.
const DefaultCBResetTimeout = 60

// DefaultCBHalfOpenMax is the default number of successful calls in
// half-open state required to close the circuit.
const DefaultCBHalfOpenMax = 1

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "avatarsync"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			StatusPort:   DefaultStatusPort,
			LogLevel:     DefaultLogLevel,
			DataDir:      DefaultDataDir,
			TLSEnabled:   false,
			CertFile:     "",
			KeyFile:      "",
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			IdleTimeout:  DefaultIdleTimeout,
		},
		Auth: AuthConfig{
			Enabled: false,
			Token:   "",
		},
		Pipeline: PipelineConfig{
			DownloadConcurrency:         DefaultDownloadConcurrency,
			UploadConcurrency:           DefaultUploadConcurrency,
			WearablesTimeoutSeconds:     DefaultWearablesTimeoutSeconds,
			WearableFetchTimeoutSeconds: DefaultWearableFetchTimeoutSeconds,
			CacheQueryTimeoutSeconds:    DefaultCacheQueryTimeoutSeconds,
			TextureFetchTimeoutSeconds:  DefaultTextureFetchTimeoutSeconds,
			UploadTimeoutSeconds:        DefaultUploadTimeoutSeconds,
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts:   DefaultRetryMaxAttempts,
			RetryBaseDelayMs:   DefaultRetryBaseDelayMs,
			RetryMaxDelayMs:    DefaultRetryMaxDelayMs,
			CBEnabled:          true,
			CBFailureThreshold: DefaultCBFailureThreshold,
			CBResetTimeoutSec:  DefaultCBResetTimeout,
			CBHalfOpenMax:      DefaultCBHalfOpenMax,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
			Insecure:    false,
		},
		Metrics: MetricsConfig{
			RetentionDays: DefaultRetentionDays,
		},
	}
}
