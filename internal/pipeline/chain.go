package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/tracing"
)

// recoverStage runs fn inside a deferred recover so a panicking stage
// cannot crash the worker goroutine.
func recoverStage(name string, fn func() error) (retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("stage %s: panic: %v", name, r)
		}
	}()
	return fn()
}

// runStages executes stages in order against r. A stage error satisfying
// protocol.Aborting stops the chain immediately; any other error is
// logged, marks the run partial, and the chain continues.
func (o *Orchestrator) runStages(ctx context.Context, r *Run, stages []Stage) error {
	r.Timings = make(map[string]time.Duration, len(stages))

	for _, stage := range stages {
		name := stage.Name()
		stageCtx, span := tracing.StartStageSpan(ctx, name)
		start := time.Now()

		err := recoverStage(name, func() error {
			return stage.Run(stageCtx, r)
		})
		elapsed := time.Since(start)
		r.Timings[name] = elapsed
		if o.collector != nil {
			o.collector.ObserveStageTime(name, elapsed.Seconds())
		}

		if err != nil {
			tracing.RecordError(stageCtx, err)
			span.End()
			if o.collector != nil {
				o.collector.RecordError(name, errorKind(err))
				o.collector.RecordStageOutcome(name, "error")
			}
			if protocol.Aborting(err) {
				return fmt.Errorf("stage %s: %w", name, err)
			}
			o.log.Warn().Err(err).Str("stage", name).Msg("stage failed, run continues as partial")
			r.Partial = true
			continue
		}
		if o.collector != nil {
			o.collector.RecordStageOutcome(name, "ok")
		}
		span.End()
	}
	return nil
}

// errorKind maps a stage error onto its taxonomy label for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, protocol.ErrTransportUnavailable):
		return "transport_unavailable"
	case errors.Is(err, protocol.ErrWearablesEnumTimeout):
		return "wearables_enum_timeout"
	case errors.Is(err, protocol.ErrWearableFetchTimeout):
		return "wearable_fetch_timeout"
	case errors.Is(err, protocol.ErrWearableDecodeFailure):
		return "wearable_decode_failure"
	case errors.Is(err, protocol.ErrCacheNegotiationTimeout):
		return "cache_negotiation_timeout"
	case errors.Is(err, protocol.ErrTextureFetchTimeout):
		return "texture_fetch_timeout"
	case errors.Is(err, protocol.ErrUploadTimeout), errors.Is(err, protocol.ErrUploadFailure):
		return "upload_failure"
	default:
		return "other"
	}
}
