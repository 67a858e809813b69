// Package pipeline implements the appearance-pipeline Orchestrator: the
// single run-flag-gated sequence of stages that reconciles worn wearables,
// queries the simulator's bake cache, drives the fetch/bake/upload
// scheduler, and publishes the resulting SetAppearance message.
package pipeline

import (
	"time"

	"github.com/wyndmere/avatarsync/internal/cachenegotiator"
	"github.com/wyndmere/avatarsync/internal/protocol"
)

// Config holds the run's tunable fan-out caps, per-stage timeouts, and the
// resilience knobs for the per-service circuit breakers and the in-run
// upload retry.
type Config struct {
	DownloadConcurrency int // wearable asset + texture fetch cap
	UploadConcurrency   int // bake+upload cap

	WearablesTimeout     time.Duration
	WearableFetchTimeout time.Duration
	CacheQueryTimeout    time.Duration
	TextureFetchTimeout  time.Duration
	UploadTimeout        time.Duration

	UploadRetryAttempts int
	RetryBaseDelay      time.Duration
	RetryMaxDelay       time.Duration

	BreakerFailureThreshold int
	BreakerResetTimeout     time.Duration
	BreakerHalfOpenMax      int
}

// DefaultConfig returns the design-default tunables.
func DefaultConfig() Config {
	return Config{
		DownloadConcurrency:  5,
		UploadConcurrency:    3,
		WearablesTimeout:     10 * time.Second,
		WearableFetchTimeout: 10 * time.Second,
		CacheQueryTimeout:    10 * time.Second,
		TextureFetchTimeout:  30 * time.Second,
		UploadTimeout:        30 * time.Second,

		UploadRetryAttempts: 1,
		RetryBaseDelay:      200 * time.Millisecond,
		RetryMaxDelay:       2 * time.Second,

		BreakerFailureThreshold: 5,
		BreakerResetTimeout:     10 * time.Second,
		BreakerHalfOpenMax:      1,
	}
}

// Run carries one pipeline invocation's working state across stages.
type Run struct {
	AgentID     protocol.UUID
	SessionID   protocol.UUID
	ForceRebake bool

	// Partial is set by any stage whose failure is non-aborting: the run
	// still completes and publishes, but degraded.
	Partial bool

	// QueryPlan and CacheHits carry state from the cache-negotiation stage
	// forward to publish. The published fingerprints are recomputed from
	// the same registry contents, so they match the submitted ones.
	QueryPlan cachenegotiator.QueryPlan
	CacheHits map[protocol.BakeLayer]protocol.UUID

	// PendingLayers is computed after cache response handling: the baked
	// layers still needing a local bake and upload.
	PendingLayers []protocol.BakeLayer

	// Published is set by the publish stage with the final outbound
	// message, for the caller and tests to inspect after the run completes.
	Published *protocol.SetAppearance

	// Timings is populated by the stage-execution wrapper, one entry per
	// completed stage.
	Timings map[string]time.Duration
}
