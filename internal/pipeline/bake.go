package pipeline

import (
	"context"

	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/scheduler"
	"github.com/wyndmere/avatarsync/internal/texturetable"
	"github.com/wyndmere/avatarsync/internal/tracing"
)

// fetchTexturesStage fetches every source texture needed by the pending
// layers that isn't already decoded. The session-local decoded-texture
// cache is consulted first; only true misses go to the TextureFetcher.
func (o *Orchestrator) fetchTexturesStage() Stage {
	return stageFunc{"fetch-textures", func(ctx context.Context, r *Run) error {
		if len(r.PendingLayers) == 0 {
			return nil
		}

		_, skirtWorn := o.registry.Snapshot()[protocol.SlotSkirt]
		needed := neededTextureIDs(o.table, r.PendingLayers, skirtWorn)
		if len(needed) == 0 {
			return nil
		}

		var misses []protocol.UUID
		if o.textures != nil {
			for _, id := range needed {
				if data, ok := o.textures.Get(id); ok {
					o.installDecoded(id, data)
					continue
				}
				misses = append(misses, id)
			}
		} else {
			misses = needed
		}
		if len(misses) == 0 {
			return nil
		}

		results := scheduler.Run(ctx, misses, o.config.DownloadConcurrency, o.config.TextureFetchTimeout,
			func(itemCtx context.Context, textureID protocol.UUID) ([]byte, error) {
				breaker := o.breakers.For("texture-fetch")
				if !breaker.Allow() {
					return nil, protocol.ErrTextureFetchTimeout
				}
				fetchCtx, span := tracing.StartFetchSpan(itemCtx, "texture", textureID.String())
				data, err := o.textureFetcher.FetchImage(fetchCtx, textureID)
				span.End()
				breaker.Observe(err)
				if err != nil {
					return nil, protocol.ErrTextureFetchTimeout
				}
				return data, nil
			})

		for i, res := range results {
			if res.Err != nil {
				r.Partial = true
				continue
			}
			if o.textures != nil {
				o.textures.Put(misses[i], res.Value)
			}
			o.installDecoded(misses[i], res.Value)
		}
		return nil
	}}
}

// installDecoded writes one texture's decoded bytes into every face
// currently assigned that texture id.
func (o *Orchestrator) installDecoded(textureID protocol.UUID, decoded []byte) {
	for _, face := range o.table.FacesWithTextureID(textureID) {
		o.table.SetDecoded(face, decoded)
	}
}

// neededTextureIDs computes the deduplicated union of source texture ids
// required across the given pending layers, excluding zero ids and ids
// that already have decoded bytes. Skirt contributions are skipped when
// Skirt is not worn.
func neededTextureIDs(table *texturetable.Table, layers []protocol.BakeLayer, skirtWorn bool) []protocol.UUID {
	seen := make(map[protocol.UUID]bool)
	var ids []protocol.UUID
	for _, layer := range layers {
		if layer == protocol.LayerSkirt && !skirtWorn {
			continue
		}
		for _, face := range protocol.LayerSourceFaces[layer] {
			slot := table.Get(face)
			if slot.TextureID == protocol.ZeroUUID || slot.Decoded != nil {
				continue
			}
			if seen[slot.TextureID] {
				continue
			}
			seen[slot.TextureID] = true
			ids = append(ids, slot.TextureID)
		}
	}
	return ids
}

// bakeAndUploadStage composites and uploads each pending layer, writing
// the returned asset id into the layer's baked texture face. A zero id or
// an error leaves the face at zero so the next run re-attempts it.
func (o *Orchestrator) bakeAndUploadStage() Stage {
	return stageFunc{"bake-upload", func(ctx context.Context, r *Run) error {
		if len(r.PendingLayers) == 0 {
			return nil
		}

		results := scheduler.Run(ctx, r.PendingLayers, o.config.UploadConcurrency, o.config.UploadTimeout,
			func(itemCtx context.Context, layer protocol.BakeLayer) (protocol.UUID, error) {
				return o.bakeLayer(itemCtx, layer)
			})

		for i, res := range results {
			layer := r.PendingLayers[i]
			if res.Err != nil || res.Value == protocol.ZeroUUID {
				r.Partial = true
				continue
			}
			o.table.SetBakedTextureID(layer, res.Value)
		}
		return nil
	}}
}

func (o *Orchestrator) bakeLayer(ctx context.Context, layer protocol.BakeLayer) (protocol.UUID, error) {
	faces := protocol.LayerSourceFaces[layer]
	params := o.visualParamValues()

	compositor, err := o.baker.NewCompositor(layer, len(faces), params)
	if err != nil {
		return protocol.ZeroUUID, err
	}

	for _, face := range faces {
		slot := o.table.Get(face)
		done := compositor.Feed(face, slot.Decoded, slot.Decoded == nil)
		if done {
			break
		}
	}

	return o.uploadWithRetry(ctx, compositor.Result())
}

// uploadWithRetry submits baked bytes, retrying up to
// config.UploadRetryAttempts times (once by default) with jittered backoff
// on failure. Final failure is reported, not escalated: the layer's face
// stays at zero and the next run re-attempts the bake.
func (o *Orchestrator) uploadWithRetry(ctx context.Context, baked []byte) (protocol.UUID, error) {
	attempts := o.config.UploadRetryAttempts + 1
	if attempts < 1 {
		attempts = 1
	}
	backoff := scheduler.Backoff{Base: o.config.RetryBaseDelay, Max: o.config.RetryMaxDelay}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := backoff.Pause(ctx, attempt-1); err != nil {
				return protocol.ZeroUUID, protocol.ErrUploadTimeout
			}
		}

		breaker := o.breakers.For("baked-upload")
		if !breaker.Allow() {
			lastErr = protocol.ErrUploadFailure
			continue
		}
		uploadCtx, span := tracing.StartFetchSpan(ctx, "upload", "")
		assetID, err := o.uploader.UploadBaked(uploadCtx, baked)
		span.End()
		if err == nil && assetID == protocol.ZeroUUID {
			err = protocol.ErrUploadFailure
		}
		breaker.Observe(err)
		if err != nil {
			lastErr = protocol.ErrUploadFailure
			continue
		}
		return assetID, nil
	}
	return protocol.ZeroUUID, lastErr
}
