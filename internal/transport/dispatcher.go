// Package transport routes decoded inbound packets (wearables update,
// cached-texture response, event-queue-running) to the registry,
// negotiator, or orchestrator that owns them. Exactly one handler owns
// each inbound packet kind.
package transport

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wyndmere/avatarsync/internal/protocol"
)

// Dispatcher wires the wire layer's inbound callbacks to the pipeline's
// owning components, and surfaces the outfit-folder entry point.
type Dispatcher struct {
	log zerolog.Logger

	onWearablesUpdate       func(protocol.WearablesUpdate)
	onCachedTextureResponse func(protocol.CachedTextureResponse)
	onEventQueueRunning     func(ctx context.Context, regionID protocol.UUID) error
}

// New creates a Dispatcher. The three callbacks are the owning
// components' intake methods: wearableregistry.Registry.UpdateFromServer
// (wrapped to discard the bool), cachenegotiator.Negotiator's response
// delivery, and the orchestrator's region-handoff trigger.
func New(
	onWearablesUpdate func(protocol.WearablesUpdate),
	onCachedTextureResponse func(protocol.CachedTextureResponse),
	onEventQueueRunning func(ctx context.Context, regionID protocol.UUID) error,
	log zerolog.Logger,
) *Dispatcher {
	return &Dispatcher{
		log:                     log,
		onWearablesUpdate:       onWearablesUpdate,
		onCachedTextureResponse: onCachedTextureResponse,
		onEventQueueRunning:     onEventQueueRunning,
	}
}

// Register binds the dispatcher's handlers to the inbound transport.
func (d *Dispatcher) Register(inbound protocol.InboundTransport) {
	inbound.OnWearablesUpdate(d.handleWearablesUpdate)
	inbound.OnCachedTextureResponse(d.handleCachedTextureResponse)
	inbound.OnEventQueueRunning(d.handleEventQueueRunning)
}

func (d *Dispatcher) handleWearablesUpdate(update protocol.WearablesUpdate) {
	d.log.Debug().Int("blocks", len(update.Blocks)).Msg("wearables update received")
	d.onWearablesUpdate(update)
}

func (d *Dispatcher) handleCachedTextureResponse(resp protocol.CachedTextureResponse) {
	d.log.Debug().Int("blocks", len(resp.Blocks)).Msg("cached texture response received")
	d.onCachedTextureResponse(resp)
}

func (d *Dispatcher) handleEventQueueRunning(evt protocol.EventQueueRunning) {
	d.log.Debug().Str("region_id", evt.RegionID.String()).Msg("event queue running, triggering appearance run")
	if err := d.onEventQueueRunning(context.Background(), evt.RegionID); err != nil {
		d.log.Warn().Err(err).Msg("region-handoff appearance run request failed")
	}
}

// RequestWearOutfit is the entry point for outfit-folder composition:
// wearing every item in an inventory folder as the new worn set. Outfit
// composition is not implemented yet; the method exists so callers can
// discover the capability.
func (d *Dispatcher) RequestWearOutfit(ctx context.Context, folderID protocol.UUID) error {
	return fmt.Errorf("transport: wear outfit %s: %w", folderID, protocol.ErrNotImplemented)
}
