// Package cachenegotiator computes per-layer bake fingerprints and runs
// the cache-query/response exchange with the simulator. An in-flight query
// awaits its response on a one-shot channel that is deregistered on
// delivery or timeout.
package cachenegotiator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wyndmere/avatarsync/internal/protocol"
)

// Fingerprint computes fp(L) for layer L: the XOR-reduction of the asset
// ids of every non-Invalid contributing slot currently worn. assetOf
// resolves a slot to its worn asset id (zero if unworn).
func Fingerprint(layer protocol.BakeLayer, assetOf func(protocol.WearableSlot) protocol.UUID) protocol.UUID {
	var fp protocol.UUID
	for _, slot := range protocol.ContributingSlots(layer) {
		fp = protocol.XOR(fp, assetOf(slot))
	}
	return fp
}

// Published returns the fingerprint actually placed on the wire: fp XOR
// the layer's magic hash, unless fp reduces to zero. An empty layer is
// never published.
func Published(layer protocol.BakeLayer, fp protocol.UUID) (value protocol.UUID, empty bool) {
	if fp == protocol.ZeroUUID {
		return protocol.ZeroUUID, true
	}
	return protocol.XOR(fp, protocol.MagicHash[layer]), false
}

// QueryPlan is the set of non-empty layer fingerprints to submit in one
// CachedTextureQuery, plus the plain (pre-magic-hash) fingerprints so the
// caller can verify the publish-time values match what was queried.
type QueryPlan struct {
	Blocks []protocol.LayerFingerprint
	Plain  map[protocol.BakeLayer]protocol.UUID
}

// BuildQueryPlan computes fp(L) for every layer and drops empty layers.
// The Skirt layer is additionally suppressed when Skirt is not worn.
func BuildQueryPlan(assetOf func(protocol.WearableSlot) protocol.UUID, skirtWorn bool) QueryPlan {
	plan := QueryPlan{Plain: make(map[protocol.BakeLayer]protocol.UUID)}
	for _, layer := range protocol.AllBakeLayers {
		if layer == protocol.LayerSkirt && !skirtWorn {
			continue
		}
		fp := Fingerprint(layer, assetOf)
		published, empty := Published(layer, fp)
		if empty {
			continue
		}
		plan.Plain[layer] = fp
		plan.Blocks = append(plan.Blocks, protocol.LayerFingerprint{Layer: layer, Fingerprint: published})
	}
	return plan
}

// Negotiator owns the cache-query serial counter and the one-shot
// response barrier for an in-flight query.
type Negotiator struct {
	transport protocol.SimulatorTransport
	serial    atomic.Uint32

	mu      sync.Mutex
	pending chan protocol.CachedTextureResponse
}

// New creates a Negotiator bound to the given outbound transport.
func New(transport protocol.SimulatorTransport) *Negotiator {
	return &Negotiator{transport: transport}
}

// NextSerial atomically increments and returns the next cache-query
// serial. Serials are strictly increasing across queries.
func (n *Negotiator) NextSerial() uint32 {
	return n.serial.Add(1)
}

// OnCachedTextureResponse is the inbound handler wired by
// internal/transport; it delivers the response to whichever Query call is
// currently waiting, if any.
func (n *Negotiator) OnCachedTextureResponse(resp protocol.CachedTextureResponse) {
	n.mu.Lock()
	ch := n.pending
	n.pending = nil
	n.mu.Unlock()
	if ch != nil {
		ch <- resp
	}
}

// Query submits plan's non-empty layers with a freshly incremented serial
// and waits up to timeout for a response. On timeout it returns
// ErrCacheNegotiationTimeout and the caller proceeds as if every layer
// missed.
func (n *Negotiator) Query(ctx context.Context, agentID, sessionID protocol.UUID, plan QueryPlan, timeout time.Duration) (map[protocol.BakeLayer]protocol.UUID, error) {
	if len(plan.Blocks) == 0 {
		// All layers empty: the query is suppressed entirely.
		return map[protocol.BakeLayer]protocol.UUID{}, nil
	}

	ch := make(chan protocol.CachedTextureResponse, 1)
	n.mu.Lock()
	n.pending = ch
	n.mu.Unlock()

	query := protocol.CachedTextureQuery{
		AgentID:   agentID,
		SessionID: sessionID,
		SerialNum: n.NextSerial(),
		Queries:   plan.Blocks,
	}
	if err := n.transport.SendCachedTextureQuery(ctx, query); err != nil {
		n.clearPending(ch)
		return nil, protocol.ErrTransportUnavailable
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return hitsByLayer(resp), nil
	case <-timer.C:
		n.clearPending(ch)
		return map[protocol.BakeLayer]protocol.UUID{}, protocol.ErrCacheNegotiationTimeout
	case <-ctx.Done():
		n.clearPending(ch)
		return map[protocol.BakeLayer]protocol.UUID{}, ctx.Err()
	}
}

func (n *Negotiator) clearPending(ch chan protocol.CachedTextureResponse) {
	n.mu.Lock()
	if n.pending == ch {
		n.pending = nil
	}
	n.mu.Unlock()
}

// hitsByLayer folds a response into its cache hits: nonzero texture
// ids are cache hits, zero ids (or layers simply absent from the
// response) are misses and are omitted from the result.
func hitsByLayer(resp protocol.CachedTextureResponse) map[protocol.BakeLayer]protocol.UUID {
	hits := make(map[protocol.BakeLayer]protocol.UUID, len(resp.Blocks))
	for _, b := range resp.Blocks {
		if b.TextureID != protocol.ZeroUUID {
			hits[b.Layer] = b.TextureID
		}
	}
	return hits
}
