package protocol

import "context"

// AssetKind distinguishes the two kinds of fetchable wearable assets.
type AssetKind int

const (
	AssetKindBodypart AssetKind = iota
	AssetKindClothing
)

// AssetFetcher requests a wearable asset by id from the asset service.
// The service itself lives outside this module; only the capability
// surface is defined here.
type AssetFetcher interface {
	FetchAsset(ctx context.Context, assetID UUID, kind AssetKind, priority int) ([]byte, error)
}

// TextureFetcher requests a decoded source texture's raw image bytes by id.
type TextureFetcher interface {
	FetchImage(ctx context.Context, textureID UUID) ([]byte, error)
}

// BakedUploader uploads a composited baked layer's compressed bytes and
// returns the asset id the simulator assigned it. A zero UUID denotes
// failure.
type BakedUploader interface {
	UploadBaked(ctx context.Context, layerBytes []byte) (UUID, error)
}

// InventoryItem is a minimal inventory entry as surfaced by InventoryService.
type InventoryItem struct {
	ItemID  UUID
	AssetID UUID
	Slot    WearableSlot
}

// InventoryService resolves inventory folder paths and contents. The
// appearance pipeline itself never calls it; it exists for the module's
// attachment/outfit surface.
type InventoryService interface {
	ResolvePath(ctx context.Context, path string) (UUID, error)
	FolderContents(ctx context.Context, folderID UUID) ([]InventoryItem, error)
}

// Compositor accumulates per-face decoded texture input for one baked
// layer and produces the composited, compressed result.
type Compositor interface {
	// Feed supplies one contributing face's decoded bytes (nil + missing=true
	// if the face has no available source texture; the Baker substitutes a
	// default). Feed reports whether the layer is now fully composited.
	Feed(face TextureFace, decoded []byte, missing bool) (done bool)
	// Result returns the compressed baked bytes. Valid only after Feed has
	// reported done.
	Result() []byte
}

// Baker is the external image-compositing engine that produces a
// multi-channel compressed baked texture from RGBA layer buffers.
type Baker interface {
	NewCompositor(layer BakeLayer, faceCount int, visualParams []float32) (Compositor, error)
}

// SimulatorTransport is the minimal outbound send surface the pipeline
// needs from the wire transport.
type SimulatorTransport interface {
	SendWearablesRequest(ctx context.Context, req WearablesRequest) error
	SendCachedTextureQuery(ctx context.Context, q CachedTextureQuery) error
	SendSetAppearance(ctx context.Context, msg SetAppearance) error
}

// InboundTransport is the minimal interface the real wire layer
// implements to deliver inbound packets into this module. Nothing here
// performs I/O.
type InboundTransport interface {
	OnWearablesUpdate(func(WearablesUpdate))
	OnCachedTextureResponse(func(CachedTextureResponse))
	OnEventQueueRunning(func(EventQueueRunning))
}
