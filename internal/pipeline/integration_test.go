package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wyndmere/avatarsync/internal/cachenegotiator"
	"github.com/wyndmere/avatarsync/internal/pipeline"
	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/testutil"
	"github.com/wyndmere/avatarsync/internal/texturetable"
	"github.com/wyndmere/avatarsync/internal/wearableregistry"
)

// TestCompleteCacheMissRunBakesAndUploads drives a first run through the
// exported surface only: every layer misses the simulator's cache, so all
// six are baked and uploaded, and the audit store records the run.
func TestCompleteCacheMissRunBakesAndUploads(t *testing.T) {
	worn := testutil.SampleWornSet()
	fetcher := &testutil.FakeAssetFetcher{Assets: map[protocol.UUID][]byte{}}
	for _, block := range worn {
		fetcher.Assets[block.AssetID] = testutil.WearableAssetJSON(t,
			map[int]float32{33: 0.4}, map[protocol.TextureFace]protocol.UUID{
				protocol.FaceHeadBodypaint: uuid.New(),
			})
	}

	sim := &testutil.FakeSimulator{}
	registry := wearableregistry.New()
	table := texturetable.New()
	negotiator := cachenegotiator.New(sim)
	sim.OnResponse = negotiator.OnCachedTextureResponse
	sim.CacheResponse = &protocol.CachedTextureResponse{} // zero blocks: total miss

	st := testutil.OpenAuditStore(t)

	cfg := pipeline.DefaultConfig()
	cfg.WearablesTimeout = time.Second
	cfg.CacheQueryTimeout = time.Second

	textures := &testutil.FakeTextureFetcher{}
	uploader := &testutil.FakeUploader{}
	o := pipeline.New(registry, table, negotiator, sim,
		fetcher, textures, testutil.FakeBaker{}, uploader,
		nil, nil, st, cfg, zerolog.Nop())
	defer o.Stop()

	agentID, sessionID := uuid.New(), uuid.New()
	go func() {
		time.Sleep(5 * time.Millisecond)
		o.OnWearablesUpdate(protocol.WearablesUpdate{Blocks: worn})
	}()

	if err := o.RequestSetAppearance(context.Background(), agentID, sessionID, false); err != nil {
		t.Fatalf("RequestSetAppearance: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for sim.PublishedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sim.PublishedCount() != 1 {
		t.Fatalf("published %d messages, want 1", sim.PublishedCount())
	}

	msg := sim.PublishedAt(0)
	if msg.SerialNum != 1 {
		t.Fatalf("serial = %d, want 1", msg.SerialNum)
	}
	if sim.QueryCount() != 1 {
		t.Fatalf("cache queries = %d, want 1", sim.QueryCount())
	}
	// Every pending layer was baked locally and uploaded.
	if got := uploader.CallCount(); got != protocol.NumBakeLayers {
		t.Fatalf("uploads = %d, want %d", got, protocol.NumBakeLayers)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		recs, err := st.ListRuns(agentID.String(), 10, 0)
		if err == nil && len(recs) == 1 {
			full, getErr := st.GetRun(recs[0].ID)
			if getErr == nil && len(full.Layers) == protocol.NumBakeLayers {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("audit store never recorded the run with its layer rows")
}
