// Package appearance assembles the visual-param byte vector, the texture
// entry, the per-layer wearable-data blocks, and the derived body size
// into one outbound SetAppearance message.
package appearance

import (
	"github.com/wyndmere/avatarsync/internal/catalog"
	"github.com/wyndmere/avatarsync/internal/cachenegotiator"
	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/texturetable"
	"github.com/wyndmere/avatarsync/internal/wearableregistry"
)

// Body-size regression coefficients.
const (
	heightBase       = 1.706
	coeffP692        = 0.1918
	coeffP842        = 0.0375
	coeffP33         = 0.12022
	coeffP682        = 0.01117
	coeffP756        = 0.038
	coeffP198        = 0.08
	coeffP503        = 0.07
	sizeX, sizeY     = 0.45, 0.60
)

// ResolvedValue scans the registry's decoded wearables in slot order for
// the first asset that defines paramID, falling back to the catalog
// default if none does.
func ResolvedValue(records map[protocol.WearableSlot]*wearableregistry.Record, paramID int) float32 {
	for _, slot := range protocol.AllWearableSlots {
		rec, ok := records[slot]
		if !ok || rec.Decoded == nil {
			continue
		}
		if v, ok := rec.Decoded.VisualParams[paramID]; ok {
			return v
		}
	}
	p, ok := catalog.Lookup(paramID)
	if !ok {
		return 0
	}
	return p.Default
}

// VisualParamVector builds the fixed-length, quantized, group-0-only
// published vector.
func VisualParamVector(records map[protocol.WearableSlot]*wearableregistry.Record) []byte {
	out := make([]byte, 0, catalog.PublishedCount)
	for _, id := range catalog.CanonicalOrder() {
		p, ok := catalog.Lookup(id)
		if !ok || p.Group != 0 {
			continue
		}
		value := ResolvedValue(records, id)
		out = append(out, catalog.Quantize(value, p.Min, p.Max))
	}
	return out
}

// BodySize computes the derived avatar bounding box.
func BodySize(records map[protocol.WearableSlot]*wearableregistry.Record) protocol.BodySize {
	p692 := ResolvedValue(records, 692)
	p842 := ResolvedValue(records, 842)
	p33 := ResolvedValue(records, 33)
	p682 := ResolvedValue(records, 682)
	p756 := ResolvedValue(records, 756)
	p198 := ResolvedValue(records, 198)
	p503 := ResolvedValue(records, 503)

	h := heightBase +
		coeffP692*float64(p692) +
		coeffP842*float64(p842) +
		coeffP33*float64(p33) +
		coeffP682*float64(p682) +
		coeffP756*float64(p756) +
		coeffP198*float64(p198) +
		coeffP503*float64(p503)

	return protocol.BodySize{X: sizeX, Y: sizeY, Z: h}
}

// TextureEntry builds the packed texture-entry bytes: the default avatar
// texture as the base face, overridden per face where the table has a
// nonzero texture id. The packing is a concatenation of 16-byte UUIDs in
// face order; the transport's packed format would further compress
// repeated ids before the bytes hit the wire.
func TextureEntry(table *texturetable.Table) []byte {
	out := make([]byte, 0, protocol.NumTextureFaces*16)
	for face := protocol.TextureFace(0); int(face) < protocol.NumTextureFaces; face++ {
		id := table.Get(face).TextureID
		if id == protocol.ZeroUUID {
			id = protocol.DefaultTextureID
		}
		b, _ := id.MarshalBinary()
		out = append(out, b...)
	}
	return out
}

// WearableDataBlocks recomputes fp(L) for every layer and returns one
// block per layer regardless of worn/empty status; an unworn layer (Skirt
// included) still emits its block with fingerprint zero. Because the
// registry is unchanged within a run, these values equal the ones the
// cache query submitted.
func WearableDataBlocks(assetOf func(protocol.WearableSlot) protocol.UUID) [protocol.NumBakeLayers]protocol.WearableDataBlock {
	var out [protocol.NumBakeLayers]protocol.WearableDataBlock
	for _, layer := range protocol.AllBakeLayers {
		fp := cachenegotiator.Fingerprint(layer, assetOf)
		published, empty := cachenegotiator.Published(layer, fp)
		if empty {
			published = protocol.ZeroUUID
		}
		out[layer] = protocol.WearableDataBlock{Layer: layer, Fingerprint: published}
	}
	return out
}

// Build assembles the full SetAppearance message. serial must already be
// the freshly incremented set-appearance serial.
func Build(
	agentID, sessionID protocol.UUID,
	serial uint32,
	records map[protocol.WearableSlot]*wearableregistry.Record,
	table *texturetable.Table,
	assetOf func(protocol.WearableSlot) protocol.UUID,
) protocol.SetAppearance {
	return protocol.SetAppearance{
		AgentID:      agentID,
		SessionID:    sessionID,
		SerialNum:    serial,
		VisualParams: VisualParamVector(records),
		TextureEntry: TextureEntry(table),
		WearableData: WearableDataBlocks(assetOf),
		Size:         BodySize(records),
	}
}
