package pipeline

import (
	"encoding/json"

	"github.com/wyndmere/avatarsync/internal/catalog"
	"github.com/wyndmere/avatarsync/internal/protocol"
	"github.com/wyndmere/avatarsync/internal/wearableregistry"
)

// wireWearableAsset is the decoded shape of a fetched wearable asset's
// bytes. The asset service's real byte format lives behind the fetcher
// boundary; this client decodes the structured JSON form it is handed.
type wireWearableAsset struct {
	VisualParams map[int]float32 `json:"visual_params"`
	Textures     map[int]string  `json:"textures"` // TextureFace index -> UUID string
}

// decodeWearableAsset turns raw asset bytes into a DecodedAsset. Returns
// protocol.ErrWearableDecodeFailure on any malformed input.
func decodeWearableAsset(data []byte) (*wearableregistry.DecodedAsset, error) {
	var wire wireWearableAsset
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, protocol.ErrWearableDecodeFailure
	}
	textures := make(map[protocol.TextureFace]protocol.UUID, len(wire.Textures))
	for faceIdx, idStr := range wire.Textures {
		id, err := protocol.ParseUUID(idStr)
		if err != nil {
			return nil, protocol.ErrWearableDecodeFailure
		}
		textures[protocol.TextureFace(faceIdx)] = id
	}
	return &wearableregistry.DecodedAsset{
		VisualParams: wire.VisualParams,
		Textures:     textures,
	}, nil
}

// skinColorParamIDs are the only ids that contribute color when the owning
// wearable occupies the Skin slot.
var skinColorParamIDs = map[int]bool{108: true, 110: true, 111: true}

// buildAccumulators derives the alpha and color weight maps one wearable
// contributes to its texture faces. A param with a color descriptor adds a
// color entry; a param whose first eligible driver carries a non-bump
// alpha mask adds an alpha entry keyed by that mask's filename.
func buildAccumulators(slot protocol.WearableSlot, params map[int]float32) (alpha, color map[string]float32) {
	alpha = make(map[string]float32)
	color = make(map[string]float32)

	for id, value := range params {
		p, ok := catalog.Lookup(id)
		if !ok {
			continue
		}

		if p.Color != nil {
			if slot == protocol.SlotSkin && !skinColorParamIDs[id] {
				continue
			}
			color[p.Color.Channel] = value
		}

		for _, driverID := range p.Drivers {
			driver, ok := catalog.Lookup(driverID)
			if !ok || driver.IsBump || driver.Alpha == nil || driver.Alpha.TGAFile == "" {
				continue
			}
			alpha[driver.Alpha.TGAFile] = value
			break
		}
	}
	return alpha, color
}
