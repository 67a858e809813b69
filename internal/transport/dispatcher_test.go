package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wyndmere/avatarsync/internal/protocol"
)

type fakeInbound struct {
	wearables func(protocol.WearablesUpdate)
	cached    func(protocol.CachedTextureResponse)
	eventQ    func(protocol.EventQueueRunning)
}

func (f *fakeInbound) OnWearablesUpdate(fn func(protocol.WearablesUpdate))               { f.wearables = fn }
func (f *fakeInbound) OnCachedTextureResponse(fn func(protocol.CachedTextureResponse))    { f.cached = fn }
func (f *fakeInbound) OnEventQueueRunning(fn func(protocol.EventQueueRunning))            { f.eventQ = fn }

func TestDispatcherRoutesWearablesUpdate(t *testing.T) {
	var got protocol.WearablesUpdate
	d := New(
		func(u protocol.WearablesUpdate) { got = u },
		func(protocol.CachedTextureResponse) {},
		func(context.Context, protocol.UUID) error { return nil },
		zerolog.Nop(),
	)
	inbound := &fakeInbound{}
	d.Register(inbound)

	want := protocol.WearablesUpdate{Blocks: []protocol.WearableBlock{{Slot: protocol.SlotShape}}}
	inbound.wearables(want)

	if len(got.Blocks) != 1 {
		t.Fatalf("dispatcher did not forward wearables update")
	}
}

func TestDispatcherRoutesCachedTextureResponse(t *testing.T) {
	var got protocol.CachedTextureResponse
	d := New(
		func(protocol.WearablesUpdate) {},
		func(r protocol.CachedTextureResponse) { got = r },
		func(context.Context, protocol.UUID) error { return nil },
		zerolog.Nop(),
	)
	inbound := &fakeInbound{}
	d.Register(inbound)

	want := protocol.CachedTextureResponse{Blocks: []protocol.CachedTextureResponseBlock{{Layer: protocol.LayerHead}}}
	inbound.cached(want)

	if len(got.Blocks) != 1 {
		t.Fatalf("dispatcher did not forward cached texture response")
	}
}

func TestDispatcherTriggersRunOnEventQueueRunning(t *testing.T) {
	var gotRegion protocol.UUID
	d := New(
		func(protocol.WearablesUpdate) {},
		func(protocol.CachedTextureResponse) {},
		func(ctx context.Context, regionID protocol.UUID) error {
			gotRegion = regionID
			return nil
		},
		zerolog.Nop(),
	)
	inbound := &fakeInbound{}
	d.Register(inbound)

	regionID := uuid.New()
	inbound.eventQ(protocol.EventQueueRunning{RegionID: regionID})

	if gotRegion != regionID {
		t.Fatalf("region id = %v, want %v", gotRegion, regionID)
	}
}

func TestDispatcherLogsButDoesNotPanicOnRunError(t *testing.T) {
	d := New(
		func(protocol.WearablesUpdate) {},
		func(protocol.CachedTextureResponse) {},
		func(context.Context, protocol.UUID) error { return errors.New("busy") },
		zerolog.Nop(),
	)
	inbound := &fakeInbound{}
	d.Register(inbound)
	inbound.eventQ(protocol.EventQueueRunning{RegionID: uuid.New()})
}

func TestRequestWearOutfitReturnsNotImplemented(t *testing.T) {
	d := New(
		func(protocol.WearablesUpdate) {},
		func(protocol.CachedTextureResponse) {},
		func(context.Context, protocol.UUID) error { return nil },
		zerolog.Nop(),
	)
	if err := d.RequestWearOutfit(context.Background(), uuid.New()); !errors.Is(err, protocol.ErrNotImplemented) {
		t.Fatalf("err = %v, want ErrNotImplemented", err)
	}
}
