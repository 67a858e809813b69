// Package texturetable holds the per-face texture state: a fixed-size
// array indexed by texture face, mutated only by the orchestrator between
// intake events with no inner lock. Concurrency during the fetch/bake
// stages is confined to disjoint face indices.
package texturetable

import "github.com/wyndmere/avatarsync/internal/protocol"

// Slot is one face's texture state: a texture id, optional decoded
// bytes, and the per-face alpha/color param weight maps contributed by the
// owning wearable's visual params.
type Slot struct {
	TextureID protocol.UUID
	Decoded   []byte // nil until fetched
	Alpha     map[string]float32
	Color     map[string]float32
}

// Table is the fixed-size, no-inner-lock array of 21 TextureSlots.
type Table struct {
	slots [protocol.NumTextureFaces]Slot
}

// New creates a Table with every slot at its zero value.
func New() *Table {
	return &Table{}
}

// Get returns a copy of the slot for face.
func (t *Table) Get(face protocol.TextureFace) Slot {
	return t.slots[face]
}

// SetTextureID assigns a new texture id to face. The default-avatar
// texture id is canonicalized to zero; if the id actually changed, the
// decoded bytes are cleared and the alpha and color maps refreshed from
// the owning wearable's contribution.
func (t *Table) SetTextureID(face protocol.TextureFace, id protocol.UUID, alpha, color map[string]float32) {
	id = protocol.Canonicalize(id)
	slot := &t.slots[face]
	if slot.TextureID == id {
		return
	}
	slot.TextureID = id
	slot.Decoded = nil
	slot.Alpha = alpha
	slot.Color = color
}

// SetDecoded installs fetched/decoded bytes for face without touching the
// texture id or param maps.
func (t *Table) SetDecoded(face protocol.TextureFace, decoded []byte) {
	t.slots[face].Decoded = decoded
}

// ZeroBakedFaces clears the texture id of all 6 baked composite faces,
// forcing every layer to rebake.
func (t *Table) ZeroBakedFaces() {
	for _, face := range protocol.BakedFaces {
		t.slots[face] = Slot{}
	}
}

// BakedTextureID returns the current texture id of the baked face for
// layer.
func (t *Table) BakedTextureID(layer protocol.BakeLayer) protocol.UUID {
	return t.slots[protocol.BakedFaces[layer]].TextureID
}

// SetBakedTextureID writes the baked face's texture id for layer, from
// either a cache hit or a finished upload.
func (t *Table) SetBakedTextureID(layer protocol.BakeLayer, id protocol.UUID) {
	t.slots[protocol.BakedFaces[layer]].TextureID = protocol.Canonicalize(id)
}

// PendingLayers returns the baked layers whose baked texture id is still
// zero: the layers a run must bake locally.
func (t *Table) PendingLayers() []protocol.BakeLayer {
	var pending []protocol.BakeLayer
	for _, layer := range protocol.AllBakeLayers {
		if t.BakedTextureID(layer) == protocol.ZeroUUID {
			pending = append(pending, layer)
		}
	}
	return pending
}

// NeedsFetch reports whether face has a nonzero texture id but no decoded
// bytes yet.
func (t *Table) NeedsFetch(face protocol.TextureFace) bool {
	slot := t.slots[face]
	return slot.TextureID != protocol.ZeroUUID && slot.Decoded == nil
}

// FacesWithTextureID returns every face currently assigned textureID,
// used by Stage B to install one fetched texture into every matching face.
func (t *Table) FacesWithTextureID(textureID protocol.UUID) []protocol.TextureFace {
	var faces []protocol.TextureFace
	for face := protocol.TextureFace(0); int(face) < protocol.NumTextureFaces; face++ {
		if t.slots[face].TextureID == textureID {
			faces = append(faces, face)
		}
	}
	return faces
}
