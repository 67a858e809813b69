// Package wearableregistry holds the authoritative slot to
// currently-worn-wearable mapping, kept consistent under a single mutex
// and exposed to other goroutines only via deep-copy snapshots.
package wearableregistry

import (
	"sync"

	"github.com/wyndmere/avatarsync/internal/protocol"
)

// DecodedAsset is the decoded content of a wearable's asset: visual-param
// values and the texture ids it assigns to faces.
type DecodedAsset struct {
	VisualParams map[int]float32
	Textures     map[protocol.TextureFace]protocol.UUID
}

// Record is one worn wearable: the item, its asset id, the slot it
// occupies, its asset category, and (once fetched) its decoded asset.
type Record struct {
	ItemID   protocol.UUID
	AssetID  protocol.UUID
	Slot     protocol.WearableSlot
	Category protocol.AssetCategory
	Decoded  *DecodedAsset // nil until Stage A decodes it
}

// Registry holds at most one Record per slot, guarded by a single mutex.
type Registry struct {
	mu      sync.Mutex
	records map[protocol.WearableSlot]*Record

	onChanged []func(added, removed []protocol.WearableSlot)
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{records: make(map[protocol.WearableSlot]*Record)}
}

// OnWearablesReceived registers a callback fired exactly once per
// wearables-update that actually changes the registry contents.
func (r *Registry) OnWearablesReceived(fn func(added, removed []protocol.WearableSlot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChanged = append(r.onChanged, fn)
}

// UpdateFromServer applies an inbound WearablesUpdate: scan for a real
// change, and only then atomically replace the registry contents and fire
// the event. Returns true if the update changed anything (false for a
// duplicate).
func (r *Registry) UpdateFromServer(update protocol.WearablesUpdate) bool {
	next := make(map[protocol.WearableSlot]*Record, len(update.Blocks))
	for _, b := range update.Blocks {
		next[b.Slot] = &Record{
			ItemID:   b.ItemID,
			AssetID:  b.AssetID,
			Slot:     b.Slot,
			Category: protocol.CategoryForSlot(b.Slot),
		}
	}

	r.mu.Lock()
	changed, added, removed := diff(r.records, next)
	var callbacks []func(added, removed []protocol.WearableSlot)
	if changed {
		r.records = next
		callbacks = append(callbacks, r.onChanged...)
	}
	r.mu.Unlock()

	if !changed {
		return false
	}
	for _, cb := range callbacks {
		cb(added, removed)
	}
	return true
}

// diff reports changed iff any block asserts a new asset-id/item-id,
// sets a previously-unset slot, or a previously-present slot is now
// absent.
func diff(old, next map[protocol.WearableSlot]*Record) (changed bool, added, removed []protocol.WearableSlot) {
	for slot, rec := range next {
		prev, ok := old[slot]
		if !ok {
			changed = true
			added = append(added, slot)
			continue
		}
		if prev.AssetID != rec.AssetID || prev.ItemID != rec.ItemID {
			changed = true
			added = append(added, slot)
		}
	}
	for slot := range old {
		if _, ok := next[slot]; !ok {
			changed = true
			removed = append(removed, slot)
		}
	}
	return changed, added, removed
}

// GetAssetID returns the asset id currently worn in slot, or the zero UUID
// if the slot is unworn.
func (r *Registry) GetAssetID(slot protocol.WearableSlot) protocol.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[slot]
	if !ok {
		return protocol.ZeroUUID
	}
	return rec.AssetID
}

// IsWorn reports which slot, if any, has itemID worn.
func (r *Registry) IsWorn(itemID protocol.UUID) (protocol.WearableSlot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for slot, rec := range r.records {
		if rec.ItemID == itemID {
			return slot, true
		}
	}
	return protocol.SlotInvalid, false
}

// SetDecoded installs a wearable's decoded asset. This is the only
// mutation path besides a full server replace.
func (r *Registry) SetDecoded(slot protocol.WearableSlot, decoded *DecodedAsset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[slot]; ok {
		rec.Decoded = decoded
	}
}

// Snapshot returns a deep copy of the registry contents for use outside
// the lock.
func (r *Registry) Snapshot() map[protocol.WearableSlot]*Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[protocol.WearableSlot]*Record, len(r.records))
	for slot, rec := range r.records {
		cp := *rec
		if rec.Decoded != nil {
			d := &DecodedAsset{
				VisualParams: make(map[int]float32, len(rec.Decoded.VisualParams)),
				Textures:     make(map[protocol.TextureFace]protocol.UUID, len(rec.Decoded.Textures)),
			}
			for k, v := range rec.Decoded.VisualParams {
				d.VisualParams[k] = v
			}
			for k, v := range rec.Decoded.Textures {
				d.Textures[k] = v
			}
			cp.Decoded = d
		}
		out[slot] = &cp
	}
	return out
}
