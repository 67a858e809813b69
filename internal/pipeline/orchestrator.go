package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wyndmere/avatarsync/internal/appearance"
	"github.com/wyndmere/avatarsync/internal/cache"
	"github.com/wyndmere/avatarsync/internal/cachenegotiator"
	"github.com/wyndmere/avatarsync/internal/catalog"
	"github.com/wyndmere/avatarsync/internal/metrics"
	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/scheduler"
	"github.com/wyndmere/avatarsync/internal/store"
	"github.com/wyndmere/avatarsync/internal/texturetable"
	"github.com/wyndmere/avatarsync/internal/tracing"
	"github.com/wyndmere/avatarsync/internal/wearableregistry"
)

// job is one queued RequestSetAppearance invocation, submitted to the
// orchestrator's dedicated worker goroutine.
type job struct {
	ctx         context.Context
	agentID     protocol.UUID
	sessionID   protocol.UUID
	forceRebake bool
}

// breakerKinds are the three external-service circuit breakers the stages
// consult, in the order their gauges are set after each run.
var breakerKinds = []string{"asset-fetch", "texture-fetch", "baked-upload"}

// Orchestrator sequences the appearance pipeline. It owns the process-wide
// run-flag, the set-appearance serial counter, and the dedicated worker
// goroutine every run executes on, so inbound-packet callbacks are never
// re-entrant to a running pipeline.
type Orchestrator struct {
	registry   *wearableregistry.Registry
	table      *texturetable.Table
	negotiator *cachenegotiator.Negotiator
	transport  protocol.SimulatorTransport

	assetFetcher   protocol.AssetFetcher
	textureFetcher protocol.TextureFetcher
	baker          protocol.Baker
	uploader       protocol.BakedUploader

	textures  *cache.TextureCache
	collector *metrics.Collector
	audit     *store.Store

	breakers *scheduler.BreakerSet
	config   Config
	log      zerolog.Logger

	running           atomic.Bool
	setSerial         atomic.Uint32
	wearablesReceived chan struct{}

	jobs chan job
	done chan struct{}
}

// New creates an Orchestrator and starts its dedicated worker goroutine.
// textures, collector, and audit may each be nil: the pipeline then runs
// without the decoded-texture cache, metrics, or the run audit log.
func New(
	registry *wearableregistry.Registry,
	table *texturetable.Table,
	negotiator *cachenegotiator.Negotiator,
	transport protocol.SimulatorTransport,
	assetFetcher protocol.AssetFetcher,
	textureFetcher protocol.TextureFetcher,
	baker protocol.Baker,
	uploader protocol.BakedUploader,
	textures *cache.TextureCache,
	collector *metrics.Collector,
	audit *store.Store,
	config Config,
	log zerolog.Logger,
) *Orchestrator {
	o := &Orchestrator{
		registry:          registry,
		table:             table,
		negotiator:        negotiator,
		transport:         transport,
		assetFetcher:      assetFetcher,
		textureFetcher:    textureFetcher,
		baker:             baker,
		uploader:          uploader,
		textures:          textures,
		collector:         collector,
		audit:             audit,
		breakers: scheduler.NewBreakerSet(scheduler.BreakerConfig{
			FailureThreshold: config.BreakerFailureThreshold,
			ResetTimeout:     config.BreakerResetTimeout,
			ProbeQuota:       config.BreakerHalfOpenMax,
		}),
		config:            config,
		log:               log,
		wearablesReceived: make(chan struct{}, 1),
		jobs:              make(chan job, 1),
		done:              make(chan struct{}),
	}

	registry.OnWearablesReceived(func(added, removed []protocol.WearableSlot) {
		select {
		case o.wearablesReceived <- struct{}{}:
		default:
		}
	})

	go o.worker()
	return o
}

// Stop shuts down the dedicated worker goroutine. The orchestrator is not
// usable after Stop returns.
func (o *Orchestrator) Stop() {
	close(o.jobs)
	<-o.done
}

// RequestSetAppearance attempts to claim the run-flag and, if successful,
// enqueues the run on the orchestrator's dedicated worker and returns
// immediately. The second of two concurrent callers gets ErrDuplicateRun
// and is never blocked.
func (o *Orchestrator) RequestSetAppearance(ctx context.Context, agentID, sessionID protocol.UUID, forceRebake bool) error {
	if !o.running.CompareAndSwap(false, true) {
		o.log.Warn().Msg("set-appearance requested while a run is already active")
		return protocol.ErrDuplicateRun
	}

	o.jobs <- job{ctx: ctx, agentID: agentID, sessionID: sessionID, forceRebake: forceRebake}
	return nil
}

// OnCachedTextureResponse forwards an inbound cache response to the
// negotiator.
func (o *Orchestrator) OnCachedTextureResponse(resp protocol.CachedTextureResponse) {
	o.negotiator.OnCachedTextureResponse(resp)
}

// OnWearablesUpdate forwards an inbound wearables update to the registry.
func (o *Orchestrator) OnWearablesUpdate(update protocol.WearablesUpdate) {
	o.registry.UpdateFromServer(update)
}

func (o *Orchestrator) setAppearanceSerial() uint32 {
	return o.setSerial.Load()
}

// worker is the dedicated background goroutine every run executes on.
func (o *Orchestrator) worker() {
	defer close(o.done)
	for j := range o.jobs {
		o.runOnce(j)
	}
}

func (o *Orchestrator) runOnce(j job) {
	defer o.running.Store(false)

	ctx, span := tracing.StartRunSpan(j.ctx, j.agentID.String(), j.sessionID.String())
	defer span.End()
	tracing.SetRunAttributes(ctx, o.setAppearanceSerial(), j.forceRebake)

	if o.collector != nil {
		o.collector.IncrementActive()
		defer o.collector.DecrementActive()
	}
	started := time.Now()

	r := &Run{
		AgentID:     j.agentID,
		SessionID:   j.sessionID,
		ForceRebake: j.forceRebake,
	}

	stages := []Stage{
		o.forceRebakeStage(),
		o.enumerateWearablesStage(),
		o.decodeWearablesStage(),
		o.queryCacheStage(),
		o.computePendingStage(),
		o.fetchTexturesStage(),
		o.bakeAndUploadStage(),
		o.publishStage(),
	}

	runErr := o.runStages(ctx, r, stages)
	if runErr != nil {
		o.log.Error().Err(runErr).Msg("pipeline run aborted")
		tracing.RecordError(ctx, runErr)
	}
	elapsed := time.Since(started)

	o.record(r, runErr, started, elapsed)
	tracing.SetPublishAttributes(ctx, o.setAppearanceSerial(), r.Partial, len(r.PendingLayers))
}

// record folds the finished run into the metrics collector and appends the
// audit row: serials, per-layer fingerprints and outcomes, never any bake
// content.
func (o *Orchestrator) record(r *Run, runErr error, started time.Time, elapsed time.Duration) {
	hits := len(r.CacheHits)
	misses := 0
	if len(r.QueryPlan.Blocks) > 0 {
		misses = len(r.QueryPlan.Blocks) - hits
	}

	if o.collector != nil {
		o.collector.Record(r.Partial, hits, misses, o.setAppearanceSerial())
		o.collector.ObserveRunDuration(r.ForceRebake, elapsed.Seconds())
		for _, kind := range breakerKinds {
			o.collector.SetBreakerState(kind, float64(o.breakers.For(kind).State()))
		}
	}

	if o.audit == nil {
		return
	}

	rec := &store.RunRecord{
		ID:            uuid.NewString(),
		AgentID:       r.AgentID.String(),
		SessionID:     r.SessionID.String(),
		Serial:        o.setAppearanceSerial(),
		StartedAt:     started.UTC().Format(time.RFC3339),
		FinishedAt:    started.Add(elapsed).UTC().Format(time.RFC3339),
		DurationMs:    elapsed.Milliseconds(),
		ForceRebake:   r.ForceRebake,
		Partial:       r.Partial,
		PendingLayers: len(r.PendingLayers),
	}
	if runErr != nil {
		rec.ErrorMessage = runErr.Error()
	}
	if r.Published != nil {
		for _, block := range r.Published.WearableData {
			_, hit := r.CacheHits[block.Layer]
			rec.Layers = append(rec.Layers, store.LayerFingerprintRecord{
				Layer:          int(block.Layer),
				Fingerprint:    block.Fingerprint.String(),
				CacheHit:       hit,
				BakedTextureID: o.table.BakedTextureID(block.Layer).String(),
			})
		}
	}
	if err := o.audit.InsertRun(rec); err != nil {
		o.log.Warn().Err(err).Msg("failed to append run audit record")
	}

	for _, block := range r.QueryPlan.Blocks {
		fp := &store.Fingerprint{Hash: block.Fingerprint.String(), Layer: int(block.Layer)}
		if err := o.audit.UpsertFingerprint(fp); err != nil {
			o.log.Warn().Err(err).Msg("failed to upsert fingerprint record")
		}
	}
}

// publishStage assembles and sends the SetAppearance message, incrementing
// the set-appearance serial.
func (o *Orchestrator) publishStage() Stage {
	return stageFunc{"publish", func(ctx context.Context, r *Run) error {
		snapshot := o.registry.Snapshot()
		assetOf := func(slot protocol.WearableSlot) protocol.UUID {
			if rec, ok := snapshot[slot]; ok {
				return rec.AssetID
			}
			return protocol.ZeroUUID
		}

		serial := o.setSerial.Add(1)
		msg := appearance.Build(r.AgentID, r.SessionID, serial, snapshot, o.table, assetOf)
		r.Published = &msg

		if err := o.transport.SendSetAppearance(ctx, msg); err != nil {
			return protocol.ErrTransportUnavailable
		}
		return nil
	}}
}

// visualParamValues resolves every catalog param's current value in
// canonical order, used to parameterize the Baker's compositor.
func (o *Orchestrator) visualParamValues() []float32 {
	snapshot := o.registry.Snapshot()
	values := make([]float32, 0, len(catalog.CanonicalOrder()))
	for _, id := range catalog.CanonicalOrder() {
		values = append(values, appearance.ResolvedValue(snapshot, id))
	}
	return values
}
