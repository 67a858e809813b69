package pipeline

import (
	"context"

	"github.com/wyndmere/avatarsync/internal/cachenegotiator"
	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/scheduler"
	"github.com/wyndmere/avatarsync/internal/tracing"
	"github.com/wyndmere/avatarsync/internal/wearableregistry"
)

// Stage is one step of the orchestrator's sequence.
type Stage interface {
	Name() string
	Run(ctx context.Context, r *Run) error
}

type stageFunc struct {
	name string
	fn   func(context.Context, *Run) error
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Run(ctx context.Context, r *Run) error { return s.fn(ctx, r) }

// forceRebakeStage zeroes every baked face's texture id when the run was
// requested with force-rebake.
func (o *Orchestrator) forceRebakeStage() Stage {
	return stageFunc{"force-rebake", func(ctx context.Context, r *Run) error {
		if r.ForceRebake {
			o.table.ZeroBakedFaces()
		}
		return nil
	}}
}

// enumerateWearablesStage runs only before the first-ever publish: it asks
// the simulator for the worn-item list and waits for the registry to be
// populated. Its timeout aborts the run; apart from this stage, only a
// failed publish send (ErrTransportUnavailable) aborts.
func (o *Orchestrator) enumerateWearablesStage() Stage {
	return stageFunc{"enumerate-wearables", func(ctx context.Context, r *Run) error {
		if o.setAppearanceSerial() != 0 {
			return nil
		}
		if err := o.transport.SendWearablesRequest(ctx, protocol.WearablesRequest{
			AgentID:   r.AgentID,
			SessionID: r.SessionID,
		}); err != nil {
			return protocol.ErrTransportUnavailable
		}

		timeoutCtx, cancel := context.WithTimeout(ctx, o.config.WearablesTimeout)
		defer cancel()

		select {
		case <-o.wearablesReceived:
			return nil
		case <-timeoutCtx.Done():
			return protocol.ErrWearablesEnumTimeout
		}
	}}
}

// decodeWearablesStage fetches and decodes every wearable record without
// a decoded asset, bounded-parallel up to the download cap.
func (o *Orchestrator) decodeWearablesStage() Stage {
	return stageFunc{"decode-wearables", func(ctx context.Context, r *Run) error {
		snapshot := o.registry.Snapshot()

		var pending []protocol.WearableSlot
		for slot, rec := range snapshot {
			if rec.Decoded == nil {
				pending = append(pending, slot)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		results := scheduler.Run(ctx, pending, o.config.DownloadConcurrency, o.config.WearableFetchTimeout,
			func(itemCtx context.Context, slot protocol.WearableSlot) (*decodedWearable, error) {
				rec := snapshot[slot]
				kind := protocol.AssetKindClothing
				if rec.Category == protocol.CategoryBodypart {
					kind = protocol.AssetKindBodypart
				}

				breaker := o.breakers.For("asset-fetch")
				if !breaker.Allow() {
					return nil, protocol.ErrWearableFetchTimeout
				}

				fetchCtx, span := tracing.StartFetchSpan(itemCtx, "asset", rec.AssetID.String())
				data, err := o.assetFetcher.FetchAsset(fetchCtx, rec.AssetID, kind, 0)
				span.End()
				breaker.Observe(err)
				if err != nil {
					return nil, protocol.ErrWearableFetchTimeout
				}

				decoded, err := decodeWearableAsset(data)
				if err != nil {
					return nil, err
				}
				alpha, color := buildAccumulators(slot, decoded.VisualParams)
				return &decodedWearable{slot: slot, decoded: decoded, alpha: alpha, color: color}, nil
			})

		for _, res := range results {
			if res.Err != nil {
				r.Partial = true
				continue
			}
			dw := res.Value
			o.registry.SetDecoded(dw.slot, dw.decoded)
			for face, textureID := range dw.decoded.Textures {
				if o.table.Get(face).TextureID != textureID {
					o.table.SetTextureID(face, textureID, dw.alpha, dw.color)
				}
			}
		}
		return nil
	}}
}

type decodedWearable struct {
	slot    protocol.WearableSlot
	decoded *wearableregistry.DecodedAsset
	alpha   map[string]float32
	color   map[string]float32
}

// queryCacheStage runs on a first run without force-rebake: it queries the
// simulator's bake cache for every non-empty layer and installs hits into
// the texture table.
func (o *Orchestrator) queryCacheStage() Stage {
	return stageFunc{"query-cache", func(ctx context.Context, r *Run) error {
		if o.setAppearanceSerial() != 0 || r.ForceRebake {
			return nil
		}

		snapshot := o.registry.Snapshot()
		assetOf := func(slot protocol.WearableSlot) protocol.UUID {
			if rec, ok := snapshot[slot]; ok {
				return rec.AssetID
			}
			return protocol.ZeroUUID
		}
		_, skirtWorn := snapshot[protocol.SlotSkirt]

		plan := cachenegotiator.BuildQueryPlan(assetOf, skirtWorn)
		r.QueryPlan = plan

		hits, err := o.negotiator.Query(ctx, r.AgentID, r.SessionID, plan, o.config.CacheQueryTimeout)
		if err != nil {
			r.Partial = true
		}
		r.CacheHits = hits
		for layer, textureID := range hits {
			o.table.SetBakedTextureID(layer, textureID)
		}
		return nil
	}}
}

// computePendingStage collects the baked layers whose baked texture id is
// still zero; these are the layers the bake stages must produce locally.
func (o *Orchestrator) computePendingStage() Stage {
	return stageFunc{"compute-pending", func(ctx context.Context, r *Run) error {
		r.PendingLayers = o.table.PendingLayers()
		return nil
	}}
}
