package protocol

// WearableBlock is one (slot, item-id, asset-id) tuple from an inbound
// WearablesUpdate packet.
type WearableBlock struct {
	Slot    WearableSlot
	ItemID  UUID
	AssetID UUID
}

// WearablesUpdate is the inbound packet carrying the full set of currently
// worn items for every slot the server knows about.
type WearablesUpdate struct {
	Blocks []WearableBlock
}

// CachedTextureResponseBlock is one entry in a CachedTextureResponse.
type CachedTextureResponseBlock struct {
	Layer     BakeLayer
	TextureID UUID
	// HostName is parsed for wire fidelity but never consulted when
	// handling the response.
	HostName []byte
}

// CachedTextureResponse is the inbound reply to a CachedTextureQuery.
type CachedTextureResponse struct {
	Blocks []CachedTextureResponseBlock
}

// EventQueueRunning signals that the region's event queue is live for the
// given region id, and is the trigger to start (or re-trigger) an
// appearance run for that region.
type EventQueueRunning struct {
	RegionID UUID
}

// WearablesRequest is the outbound empty query asking the simulator which
// items the agent currently has worn.
type WearablesRequest struct {
	AgentID   UUID
	SessionID UUID
}

// LayerFingerprint pairs a published fingerprint with its layer for the
// CachedTextureQuery and the SetAppearance wearable-data blocks.
type LayerFingerprint struct {
	Layer       BakeLayer
	Fingerprint UUID
}

// CachedTextureQuery is the outbound request asking the simulator which of
// the named layer fingerprints already have a cached bake.
type CachedTextureQuery struct {
	AgentID   UUID
	SessionID UUID
	SerialNum uint32
	Queries   []LayerFingerprint
}

// WearableDataBlock is one per-layer entry in a SetAppearance packet.
type WearableDataBlock struct {
	Layer       BakeLayer
	Fingerprint UUID
}

// SetAppearance is the outbound packet that publishes the avatar's full
// appearance: serial, visual-param vector, texture-entry bytes, the six
// wearable-data blocks, and the derived body size.
type SetAppearance struct {
	AgentID      UUID
	SessionID    UUID
	SerialNum    uint32
	VisualParams []byte // length 218
	TextureEntry []byte
	WearableData [NumBakeLayers]WearableDataBlock
	Size         BodySize
}

// BodySize is the avatar's derived bounding box, in meters.
type BodySize struct {
	X, Y, Z float64
}
