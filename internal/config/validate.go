package config

import (
	"fmt"
	"strings"
)

// checker accumulates validation failures so one pass reports every
// problem in the file, not just the first.
type checker struct {
	problems []string
}

func (c *checker) failf(format string, args ...interface{}) {
	c.problems = append(c.problems, fmt.Sprintf(format, args...))
}

func (c *checker) atLeast(key string, got, min int) {
	if got < min {
		c.failf("%s must be at least %d, got %d", key, min, got)
	}
}

func (c *checker) nonNegative(key string, got int) {
	if got < 0 {
		c.failf("%s must be non-negative, got %d", key, got)
	}
}

func (c *checker) nonEmpty(key, got, when string) {
	if got != "" {
		return
	}
	if when == "" {
		c.failf("%s must not be empty", key)
	} else {
		c.failf("%s must be set when %s", key, when)
	}
}

func (c *checker) oneOf(key, got string, allowed []string) {
	if !isValidEnum(got, allowed) {
		c.failf("%s must be one of %v, got %q", key, allowed, got)
	}
}

func (c *checker) err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return fmt.Errorf("config validation failed:\n  - %s", strings.Join(c.problems, "\n  - "))
}

// validate checks the Config for invalid or out-of-range values,
// returning a combined error naming every failing key.
func validate(cfg *Config) error {
	var c checker

	srv := cfg.Server
	if srv.StatusPort < 1 || srv.StatusPort > 65535 {
		c.failf("server.status_port must be between 1 and 65535, got %d", srv.StatusPort)
	}
	c.oneOf("server.log_level", srv.LogLevel, ValidLogLevels)
	c.nonEmpty("server.data_dir", srv.DataDir, "")
	if srv.TLSEnabled {
		c.nonEmpty("server.cert_file", srv.CertFile, "tls_enabled is true")
		c.nonEmpty("server.key_file", srv.KeyFile, "tls_enabled is true")
	}
	c.nonNegative("server.read_timeout", srv.ReadTimeout)
	c.nonNegative("server.write_timeout", srv.WriteTimeout)
	c.nonNegative("server.idle_timeout", srv.IdleTimeout)

	if cfg.Auth.Enabled {
		c.nonEmpty("auth.token", cfg.Auth.Token, "auth.enabled is true")
	}

	p := cfg.Pipeline
	c.atLeast("pipeline.download_concurrency", p.DownloadConcurrency, 1)
	c.atLeast("pipeline.upload_concurrency", p.UploadConcurrency, 1)
	c.atLeast("pipeline.wearables_timeout_seconds", p.WearablesTimeoutSeconds, 1)
	c.atLeast("pipeline.wearable_fetch_timeout_seconds", p.WearableFetchTimeoutSeconds, 1)
	c.atLeast("pipeline.cache_query_timeout_seconds", p.CacheQueryTimeoutSeconds, 1)
	c.atLeast("pipeline.texture_fetch_timeout_seconds", p.TextureFetchTimeoutSeconds, 1)
	c.atLeast("pipeline.upload_timeout_seconds", p.UploadTimeoutSeconds, 1)

	res := cfg.Resilience
	c.nonNegative("resilience.retry_max_attempts", res.RetryMaxAttempts)
	c.nonNegative("resilience.retry_base_delay_ms", res.RetryBaseDelayMs)
	c.nonNegative("resilience.retry_max_delay_ms", res.RetryMaxDelayMs)
	c.atLeast("resilience.cb_failure_threshold", res.CBFailureThreshold, 1)
	c.atLeast("resilience.cb_reset_timeout_seconds", res.CBResetTimeoutSec, 1)
	c.atLeast("resilience.cb_half_open_max_calls", res.CBHalfOpenMax, 1)

	tr := cfg.Tracing
	if tr.Enabled {
		c.oneOf("tracing.exporter", tr.Exporter, []string{"stdout", "otlp-grpc", "otlp-http"})
		c.nonEmpty("tracing.service_name", tr.ServiceName, "tracing is enabled")
	}
	if tr.SampleRate < 0 || tr.SampleRate > 1 {
		c.failf("tracing.sample_rate must be between 0 and 1, got %f", tr.SampleRate)
	}

	c.atLeast("metrics.retention_days", cfg.Metrics.RetentionDays, 1)

	return c.err()
}

// isValidEnum reports whether val is in the allowed list, ignoring case.
func isValidEnum(val string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(a, val) {
			return true
		}
	}
	return false
}
