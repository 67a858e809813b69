package pipeline

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wyndmere/avatarsync/internal/cachenegotiator"
	"github.com/wyndmere/avatarsync/internal/catalog"
	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/store"
	"github.com/wyndmere/avatarsync/internal/texturetable"
	"github.com/wyndmere/avatarsync/internal/wearableregistry"
)

// fakeTransport implements protocol.SimulatorTransport for tests. The
// orchestrator worker calls it from its own goroutine, so all state is
// mutex-guarded.
type fakeTransport struct {
	mu            sync.Mutex
	wearablesSent int
	queriesSent   []protocol.CachedTextureQuery
	published     []protocol.SetAppearance

	// cacheResponse, if non-nil, is delivered asynchronously in response to
	// SendCachedTextureQuery, simulating the simulator's reply.
	cacheResponse   *protocol.CachedTextureResponse
	onCachedTexture func(protocol.CachedTextureResponse)
}

func (f *fakeTransport) SendWearablesRequest(ctx context.Context, req protocol.WearablesRequest) error {
	f.mu.Lock()
	f.wearablesSent++
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendCachedTextureQuery(ctx context.Context, q protocol.CachedTextureQuery) error {
	f.mu.Lock()
	f.queriesSent = append(f.queriesSent, q)
	resp := f.cacheResponse
	deliver := f.onCachedTexture
	f.mu.Unlock()
	if resp != nil && deliver != nil {
		go deliver(*resp)
	}
	return nil
}

func (f *fakeTransport) SendSetAppearance(ctx context.Context, msg protocol.SetAppearance) error {
	f.mu.Lock()
	f.published = append(f.published, msg)
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func (f *fakeTransport) publishedAt(i int) protocol.SetAppearance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[i]
}

func (f *fakeTransport) wearablesRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wearablesSent
}

// fakeAssetFetcher returns pre-baked JSON-encoded wearable assets keyed by
// asset id.
type fakeAssetFetcher struct {
	assets map[protocol.UUID][]byte
}

func (f *fakeAssetFetcher) FetchAsset(ctx context.Context, assetID protocol.UUID, kind protocol.AssetKind, priority int) ([]byte, error) {
	data, ok := f.assets[assetID]
	if !ok {
		return nil, protocol.ErrWearableFetchTimeout
	}
	return data, nil
}

type fakeTextureFetcher struct{}

func (fakeTextureFetcher) FetchImage(ctx context.Context, textureID protocol.UUID) ([]byte, error) {
	return []byte("decoded-bytes"), nil
}

type fakeCompositor struct {
	fedFaces int
	target   int
}

func (c *fakeCompositor) Feed(face protocol.TextureFace, decoded []byte, missing bool) bool {
	c.fedFaces++
	return c.fedFaces >= c.target
}

func (c *fakeCompositor) Result() []byte { return []byte("baked-bytes") }

type fakeBaker struct{}

func (fakeBaker) NewCompositor(layer protocol.BakeLayer, faceCount int, params []float32) (protocol.Compositor, error) {
	return &fakeCompositor{target: faceCount}, nil
}

type fakeUploader struct{}

func (fakeUploader) UploadBaked(ctx context.Context, layerBytes []byte) (protocol.UUID, error) {
	return uuid.New(), nil
}

func assetJSON(t *testing.T, params map[int]float32, textures map[protocol.TextureFace]protocol.UUID) []byte {
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
		t.Fatalf("marshal fixture asset: %v", err)
	}
	return data
}

func newTestOrchestrator(transport *fakeTransport, fetcher *fakeAssetFetcher) *Orchestrator {
	registry := wearableregistry.New()
	table := texturetable.New()
	negotiator := cachenegotiator.New(transport)
	transport.onCachedTexture = negotiator.OnCachedTextureResponse

	cfg := DefaultConfig()
	cfg.WearablesTimeout = time.Second
	cfg.WearableFetchTimeout = time.Second
	cfg.CacheQueryTimeout = time.Second
	cfg.TextureFetchTimeout = time.Second
	cfg.UploadTimeout = time.Second

	o := New(registry, table, negotiator, transport, fetcher, fakeTextureFetcher{}, fakeBaker{}, fakeUploader{},
		nil, nil, nil, cfg, zerolog.Nop())
	return o
}

func TestFirstRunFullyCachedServerSide(t *testing.T) {
	shapeAsset := uuid.New()
	skinAsset := uuid.New()

	transport := &fakeTransport{}
	fetcher := &fakeAssetFetcher{assets: map[protocol.UUID][]byte{
		shapeAsset: assetJSON(t, map[int]float32{33: 0.5}, nil),
		skinAsset:  assetJSON(t, map[int]float32{108: 0.6}, nil),
	}}
	o := newTestOrchestrator(transport, fetcher)
	defer o.Stop()

	agentID, sessionID := uuid.New(), uuid.New()

	// Simulate the simulator immediately answering the first-run wearables
	// request with Shape+Skin worn.
	go func() {
		time.Sleep(5 * time.Millisecond)
		o.OnWearablesUpdate(protocol.WearablesUpdate{Blocks: []protocol.WearableBlock{
			{Slot: protocol.SlotShape, ItemID: uuid.New(), AssetID: shapeAsset},
			{Slot: protocol.SlotSkin, ItemID: uuid.New(), AssetID: skinAsset},
		}})
	}()

	transport.cacheResponse = &protocol.CachedTextureResponse{Blocks: []protocol.CachedTextureResponseBlock{
		{Layer: protocol.LayerHead, TextureID: uuid.New()},
		{Layer: protocol.LayerUpperBody, TextureID: uuid.New()},
		{Layer: protocol.LayerLowerBody, TextureID: uuid.New()},
	}}

	if err := o.RequestSetAppearance(context.Background(), agentID, sessionID, false); err != nil {
		t.Fatalf("RequestSetAppearance: %v", err)
	}

	waitForPublish(t, transport)

	if got := transport.wearablesRequests(); got != 1 {
		t.Fatalf("wearables request sent %d times, want 1", got)
	}
	if got := transport.publishedCount(); got != 1 {
		t.Fatalf("published %d messages, want 1", got)
	}
	if got := transport.publishedAt(0).SerialNum; got != 1 {
		t.Fatalf("serial = %d, want 1", got)
	}
}

func TestSecondConcurrentRequestReturnsDuplicateRun(t *testing.T) {
	transport := &fakeTransport{}
	fetcher := &fakeAssetFetcher{assets: map[protocol.UUID][]byte{}}
	o := newTestOrchestrator(transport, fetcher)
	defer o.Stop()

	agentID, sessionID := uuid.New(), uuid.New()

	// Never answer the wearables request; the first run stays busy until
	// its own context times out, which is long enough for the assertion
	// below but short enough for Stop (deferred) not to hang.
	firstCtx, firstCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer firstCancel()
	if err := o.RequestSetAppearance(firstCtx, agentID, sessionID, false); err != nil {
		t.Fatalf("first request: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	secondCtx, secondCancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer secondCancel()
	if err := o.RequestSetAppearance(secondCtx, agentID, sessionID, false); err != protocol.ErrDuplicateRun {
		t.Fatalf("second request err = %v, want ErrDuplicateRun", err)
	}
}

func TestSerialsStrictlyIncreaseAcrossRuns(t *testing.T) {
	transport := &fakeTransport{}
	fetcher := &fakeAssetFetcher{assets: map[protocol.UUID][]byte{}}
	o := newTestOrchestrator(transport, fetcher)
	defer o.Stop()

	agentID, sessionID := uuid.New(), uuid.New()

	go func() {
		time.Sleep(2 * time.Millisecond)
		o.OnWearablesUpdate(protocol.WearablesUpdate{Blocks: []protocol.WearableBlock{
			{Slot: protocol.SlotShape, ItemID: uuid.New(), AssetID: uuid.New()},
		}})
	}()
	if err := o.RequestSetAppearance(context.Background(), agentID, sessionID, false); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	waitForPublish(t, transport)

	if err := o.RequestSetAppearance(context.Background(), agentID, sessionID, false); err != nil {
		t.Fatalf("run 2: %v", err)
	}
	waitUntil(t, func() bool { return transport.publishedCount() >= 2 })

	if transport.publishedAt(0).SerialNum >= transport.publishedAt(1).SerialNum {
		t.Fatalf("serials not strictly increasing: %d then %d",
			transport.publishedAt(0).SerialNum, transport.publishedAt(1).SerialNum)
	}
}

func waitForPublish(t *testing.T, transport *fakeTransport) {
	t.Helper()
	waitUntil(t, func() bool { return transport.publishedCount() >= 1 })
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestForceRebakeSkipsCacheQuery(t *testing.T) {
	transport := &fakeTransport{}
	fetcher := &fakeAssetFetcher{assets: map[protocol.UUID][]byte{}}
	o := newTestOrchestrator(transport, fetcher)
	defer o.Stop()

	go func() {
		time.Sleep(2 * time.Millisecond)
		o.OnWearablesUpdate(protocol.WearablesUpdate{Blocks: []protocol.WearableBlock{
			{Slot: protocol.SlotShape, ItemID: uuid.New(), AssetID: uuid.New()},
		}})
	}()

	if err := o.RequestSetAppearance(context.Background(), uuid.New(), uuid.New(), true); err != nil {
		t.Fatalf("RequestSetAppearance: %v", err)
	}
	waitForPublish(t, transport)

	transport.mu.Lock()
	queries := len(transport.queriesSent)
	transport.mu.Unlock()
	if queries != 0 {
		t.Fatalf("cache queries sent = %d, want 0 on a force-rebake first run", queries)
	}
}

func TestSkinDecodeFailureDegradesRunToPartial(t *testing.T) {
	shapeAsset := uuid.New()
	skinAsset := uuid.New()

	transport := &fakeTransport{}
	fetcher := &fakeAssetFetcher{assets: map[protocol.UUID][]byte{
		shapeAsset: assetJSON(t, map[int]float32{33: 0.5}, nil),
		skinAsset:  []byte("not json"),
	}}

	registry := wearableregistry.New()
	table := texturetable.New()
	negotiator := cachenegotiator.New(transport)
	transport.onCachedTexture = negotiator.OnCachedTextureResponse

	st, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	cfg := DefaultConfig()
	cfg.WearablesTimeout = time.Second
	cfg.CacheQueryTimeout = 50 * time.Millisecond

	o := New(registry, table, negotiator, transport, fetcher, fakeTextureFetcher{}, fakeBaker{}, fakeUploader{},
		nil, nil, st, cfg, zerolog.Nop())
	defer o.Stop()

	agentID := uuid.New()
	go func() {
		time.Sleep(2 * time.Millisecond)
		o.OnWearablesUpdate(protocol.WearablesUpdate{Blocks: []protocol.WearableBlock{
			{Slot: protocol.SlotShape, ItemID: uuid.New(), AssetID: shapeAsset},
			{Slot: protocol.SlotSkin, ItemID: uuid.New(), AssetID: skinAsset},
		}})
	}()

	if err := o.RequestSetAppearance(context.Background(), agentID, uuid.New(), false); err != nil {
		t.Fatalf("RequestSetAppearance: %v", err)
	}
	waitForPublish(t, transport)

	var runs []*store.RunRecord
	waitUntil(t, func() bool {
		runs, _ = st.ListRuns(agentID.String(), 10, 0)
		return len(runs) == 1
	})
	if !runs[0].Partial {
		t.Fatal("run with a failing Skin decode should be recorded as partial")
	}

	// The Skin asset never decoded, so its visual params fall back to
	// catalog defaults in the published vector.
	if got := transport.publishedCount(); got != 1 {
		t.Fatalf("published %d messages, want 1", got)
	}
	if got := len(transport.publishedAt(0).VisualParams); got != catalog.PublishedCount {
		t.Fatalf("visual param vector length = %d, want %d", got, catalog.PublishedCount)
	}
}

func TestSkirtRemovedBetweenRunsPublishesZeroFingerprint(t *testing.T) {
	shapeAsset := uuid.New()
	skirtAsset := uuid.New()

	transport := &fakeTransport{}
	fetcher := &fakeAssetFetcher{assets: map[protocol.UUID][]byte{
		shapeAsset: assetJSON(t, nil, nil),
		skirtAsset: assetJSON(t, nil, nil),
	}}
	o := newTestOrchestrator(transport, fetcher)
	defer o.Stop()

	agentID, sessionID := uuid.New(), uuid.New()

	go func() {
		time.Sleep(2 * time.Millisecond)
		o.OnWearablesUpdate(protocol.WearablesUpdate{Blocks: []protocol.WearableBlock{
			{Slot: protocol.SlotShape, ItemID: uuid.New(), AssetID: shapeAsset},
			{Slot: protocol.SlotSkirt, ItemID: uuid.New(), AssetID: skirtAsset},
		}})
	}()
	if err := o.RequestSetAppearance(context.Background(), agentID, sessionID, false); err != nil {
		t.Fatalf("run 1: %v", err)
	}
	waitForPublish(t, transport)

	// The server replaces the worn set without the skirt.
	o.OnWearablesUpdate(protocol.WearablesUpdate{Blocks: []protocol.WearableBlock{
		{Slot: protocol.SlotShape, ItemID: uuid.New(), AssetID: shapeAsset},
	}})

	if err := o.RequestSetAppearance(context.Background(), agentID, sessionID, false); err != nil {
		t.Fatalf("run 2: %v", err)
	}
	waitUntil(t, func() bool { return transport.publishedCount() >= 2 })

	msg := transport.publishedAt(1)
	skirtBlock := msg.WearableData[protocol.LayerSkirt]
	if skirtBlock.Fingerprint != protocol.ZeroUUID {
		t.Fatalf("skirt fingerprint = %s, want zero after removal", skirtBlock.Fingerprint)
	}
	if headBlock := msg.WearableData[protocol.LayerHead]; headBlock.Fingerprint == protocol.ZeroUUID {
		t.Fatal("head layer with worn Shape should publish a nonzero fingerprint")
	}
}
