package protocol

import (
	"encoding/json"

	"tilestroke/internal/codec"
	"tilestroke/internal/model"
)

// ToStroke finishes resolving a decoded stroke frame into a canonical
// model.Stroke: mints an id if the client didn't supply one and stamps
// the server's ingest timestamp (spec §4.2's t/id rules apply the same
// way regardless of which framing the frame arrived in).
func (p StrokePayload) ToStroke(now int64) model.Stroke {
	id := p.ID
	if id == "" {
		id = codec.NewID()
	}
	return model.Stroke{
		ID:      id,
		UserID:  p.UserID,
		Color:   p.Color,
		Size:    p.Size,
		Opacity: p.Opacity,
		Erase:   p.Erase,
		Points:  p.Points,
		Z:       p.Z,
		T:       now,
	}
}

// EncodePresence builds the compact-array presence frame relayed to
// every other peer when one peer's cursor or display state changes.
func EncodePresence(id string, x, y float64, color, name string) []byte {
	return marshal([]any{int(OpPresence), id, x, y, color, name})
}

// EncodeStroke builds the compact-array stroke frame. The wire contract
// requires this framing for strokes (spec §4.8); it is also the frame
// every other peer receives for a relayed stroke.
func EncodeStroke(s model.Stroke) []byte {
	return marshal(strokeCompact(s))
}

// EncodeWelcome builds the compact welcome frame sent once to a newly
// identified peer: its own id/color/name plus every other connected
// peer's (id, x, y). Per spec §9 this intentionally omits the others'
// color/name — peers backfill those from subsequent presence frames.
func EncodeWelcome(id, color, name string, others []model.PeerSession) []byte {
	rest := make([]any, 0, len(others))
	for _, o := range others {
		rest = append(rest, []any{o.ID, o.X, o.Y})
	}
	return marshal([]any{int(OpWelcome), id, color, name, rest})
}

// EncodeTileData builds one tileData frame for a streamed tilesRequest
// response.
func EncodeTileData(reqID string, z, tx, ty int, strokes []model.Stroke) []byte {
	compact := make([]any, 0, len(strokes))
	for _, s := range strokes {
		compact = append(compact, strokeCompact(s)[1:]) // drop the leading opcode
	}
	return marshal([]any{int(OpTileData), reqID, z, tx, ty, compact})
}

// EncodeTileBatchDone builds the frame that terminates a tilesRequest
// response, with or without any tileData frames having preceded it.
func EncodeTileBatchDone(reqID string) []byte {
	return marshal([]any{int(OpTileBatchDone), reqID})
}

// EncodeLeave builds the frame broadcast when a peer session closes.
func EncodeLeave(id string) []byte {
	return marshal([]any{int(OpLeave), id})
}

// WireEncoder adapts the package's free encode functions to
// relay.Encoder, so the relay stays ignorant of framing details.
type WireEncoder struct{}

func (WireEncoder) EncodePresence(id string, x, y float64, color, name string) []byte {
	return EncodePresence(id, x, y, color, name)
}

func (WireEncoder) EncodeStroke(s model.Stroke) []byte {
	return EncodeStroke(s)
}

func (WireEncoder) EncodeLeave(id string) []byte {
	return EncodeLeave(id)
}

func strokeCompact(s model.Stroke) []any {
	flat := make([]float64, 0, len(s.Points)*2)
	for _, p := range s.Points {
		flat = append(flat, p.X, p.Y)
	}
	erase := 0
	if s.Erase {
		erase = 1
	}
	return []any{int(OpStroke), s.ID, s.UserID, s.Color, s.Size, s.Opacity, erase, flat}
}

func marshal(v []any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every value above is a plain string/number/slice; Marshal can
		// only fail here on an unsupported type, which would be a bug.
		panic(err)
	}
	return b
}
