// Package testutil holds the hand-written fakes for the pipeline's
// external collaborators, plus small fixtures shared across package
// tests.
package testutil

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/wyndmere/avatarsync/internal/config"
	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/store"
)

// OpenAuditStore opens a throwaway SQLite audit store under the test's
// temp directory, closed automatically when the test ends.
func OpenAuditStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestConfig returns defaults with the data dir pointed at the test's
// temp directory.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	return cfg
}

// WearableAssetJSON builds the wire form of a decoded wearable asset:
// visual-param values and per-face texture assignments.
func WearableAssetJSON(t *testing.T, params map[int]float32, textures map[protocol.TextureFace]protocol.UUID) []byte {
	t.Helper()
	wire := struct {
		VisualParams map[int]float32 `json:"visual_params"`
		Textures     map[int]string  `json:"textures"`
	}{
		VisualParams: params,
		Textures:     make(map[int]string, len(textures)),
	}
	for face, id := range textures {
		wire.Textures[int(face)] = id.String()
	}
	data, err := json.Marshal(wire)
	if err != nil {
		t.Fatalf("marshal wearable asset fixture: %v", err)
	}
	return data
}

// SampleWornSet returns a plausible five-item worn set (shape, skin,
// hair, shirt and pants) as WearablesUpdate blocks.
func SampleWornSet() []protocol.WearableBlock {
	return []protocol.WearableBlock{
		{Slot: protocol.SlotShape, ItemID: uuid.New(), AssetID: uuid.New()},
		{Slot: protocol.SlotSkin, ItemID: uuid.New(), AssetID: uuid.New()},
		{Slot: protocol.SlotHair, ItemID: uuid.New(), AssetID: uuid.New()},
		{Slot: protocol.SlotShirt, ItemID: uuid.New(), AssetID: uuid.New()},
		{Slot: protocol.SlotPants, ItemID: uuid.New(), AssetID: uuid.New()},
	}
}

// FakeAssetFetcher serves wearable asset bytes from an in-memory map,
// returning ErrWearableFetchTimeout for unknown ids.
type FakeAssetFetcher struct {
	mu     sync.Mutex
	Assets map[protocol.UUID][]byte
	Calls  int
}

// CallCount returns how many fetches were attempted.
func (f *FakeAssetFetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}

func (f *FakeAssetFetcher) FetchAsset(ctx context.Context, assetID protocol.UUID, kind protocol.AssetKind, priority int) ([]byte, error) {
	f.mu.Lock()
	f.Calls++
	data, ok := f.Assets[assetID]
	f.mu.Unlock()
	if !ok {
		return nil, protocol.ErrWearableFetchTimeout
	}
	return data, nil
}

// FakeTextureFetcher returns a fixed payload for every texture id and
// counts fetches.
type FakeTextureFetcher struct {
	mu      sync.Mutex
	Payload []byte
	Calls   int
	Fail    bool
}

// CallCount returns how many fetches were attempted.
func (f *FakeTextureFetcher) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}

func (f *FakeTextureFetcher) FetchImage(ctx context.Context, textureID protocol.UUID) ([]byte, error) {
	f.mu.Lock()
	f.Calls++
	fail := f.Fail
	payload := f.Payload
	f.mu.Unlock()
	if fail {
		return nil, protocol.ErrTextureFetchTimeout
	}
	if payload == nil {
		payload = []byte("decoded-texture")
	}
	return payload, nil
}

// FakeCompositor reports done once every contributing face has been fed.
type FakeCompositor struct {
	fed    int
	target int
}

func (c *FakeCompositor) Feed(face protocol.TextureFace, decoded []byte, missing bool) bool {
	c.fed++
	return c.fed >= c.target
}

func (c *FakeCompositor) Result() []byte { return []byte("baked-layer") }

// FakeBaker hands out FakeCompositors.
type FakeBaker struct{}

func (FakeBaker) NewCompositor(layer protocol.BakeLayer, faceCount int, params []float32) (protocol.Compositor, error) {
	return &FakeCompositor{target: faceCount}, nil
}

// FakeUploader returns a fresh asset id per upload, or the zero UUID when
// Fail is set.
type FakeUploader struct {
	mu    sync.Mutex
	Calls int
	Fail  bool
}

// CallCount returns how many uploads were attempted.
func (f *FakeUploader) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls
}

func (f *FakeUploader) UploadBaked(ctx context.Context, layerBytes []byte) (protocol.UUID, error) {
	f.mu.Lock()
	f.Calls++
	fail := f.Fail
	f.mu.Unlock()
	if fail {
		return protocol.ZeroUUID, protocol.ErrUploadFailure
	}
	return uuid.New(), nil
}

// FakeSimulator records every outbound packet and can deliver a canned
// cache response asynchronously.
type FakeSimulator struct {
	mu            sync.Mutex
	WearablesSent int
	Queries       []protocol.CachedTextureQuery
	Published     []protocol.SetAppearance

	CacheResponse *protocol.CachedTextureResponse
	OnResponse    func(protocol.CachedTextureResponse)
}

func (f *FakeSimulator) SendWearablesRequest(ctx context.Context, req protocol.WearablesRequest) error {
	f.mu.Lock()
	f.WearablesSent++
	f.mu.Unlock()
	return nil
}

func (f *FakeSimulator) SendCachedTextureQuery(ctx context.Context, q protocol.CachedTextureQuery) error {
	f.mu.Lock()
	f.Queries = append(f.Queries, q)
	resp := f.CacheResponse
	deliver := f.OnResponse
	f.mu.Unlock()
	if resp != nil && deliver != nil {
		go deliver(*resp)
	}
	return nil
}

func (f *FakeSimulator) SendSetAppearance(ctx context.Context, msg protocol.SetAppearance) error {
	f.mu.Lock()
	f.Published = append(f.Published, msg)
	f.mu.Unlock()
	return nil
}

// PublishedCount returns how many SetAppearance packets were sent.
func (f *FakeSimulator) PublishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Published)
}

// PublishedAt returns the i-th SetAppearance packet sent.
func (f *FakeSimulator) PublishedAt(i int) protocol.SetAppearance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Published[i]
}

// QueryCount returns how many CachedTextureQuery packets were sent.
func (f *FakeSimulator) QueryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Queries)
}

// FakeInventory resolves fixed paths and folder contents.
type FakeInventory struct {
	Paths   map[string]protocol.UUID
	Folders map[protocol.UUID][]protocol.InventoryItem
}

func (f *FakeInventory) ResolvePath(ctx context.Context, path string) (protocol.UUID, error) {
	if id, ok := f.Paths[path]; ok {
		return id, nil
	}
	return protocol.ZeroUUID, protocol.ErrNotImplemented
}

func (f *FakeInventory) FolderContents(ctx context.Context, folderID protocol.UUID) ([]protocol.InventoryItem, error) {
	return f.Folders[folderID], nil
}
