package protocol

import (
	"encoding/json"

	"tilestroke/internal/codec"
	"tilestroke/internal/model"
)

// IdentifyPayload is the decoded body of an identify frame.
type IdentifyPayload struct {
	Tiles bool
}

// PresencePayload is the decoded body of a presence frame. Has* flags
// distinguish "absent" from "zero value" for the partial-mutation
// semantics in spec §4.5.
type PresencePayload struct {
	HasXY    bool
	X, Y     float64
	HasName  bool
	Name     string
	HasColor bool
	Color    string
}

// StrokePayload is the decoded body of a stroke frame, already
// resolved to canonical field values (defaults and clamps applied)
// except for id and t, which ToStroke finishes assigning.
type StrokePayload struct {
	ID      string
	UserID  string
	Color   string
	Size    float64
	Opacity float64
	Erase   bool
	Points  []model.Point
	Z       int
}

// TilesRequestPayload is the decoded body of a tilesRequest frame.
type TilesRequestPayload struct {
	ReqID string
	Z     int
	Tiles []model.TileCoord
}

// Message is a decoded inbound frame. Only the field matching Kind is
// populated.
type Message struct {
	Kind         Kind
	Identify     IdentifyPayload
	Presence     PresencePayload
	Stroke       StrokePayload
	TilesRequest TilesRequestPayload
}

// Decode parses one text frame in either framing. It reports ok=false
// for anything malformed, non-object/non-array, or carrying an unknown
// opcode/type — per spec §4.8 these are dropped silently, never
// treated as a protocol error.
func Decode(raw []byte) (Message, bool) {
	var arr []json.RawMessage
	if err := json.Unmarshal(raw, &arr); err == nil {
		return decodeCompact(arr)
	}

	var obj struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || obj.Type == "" {
		return Message{}, false
	}
	op, known := objectType[obj.Type]
	if !known {
		return Message{}, false
	}
	return decodeObjectPayload(op, obj.Payload)
}

func decodeCompact(arr []json.RawMessage) (Message, bool) {
	if len(arr) == 0 {
		return Message{}, false
	}
	var op int
	if err := json.Unmarshal(arr[0], &op); err != nil {
		return Message{}, false
	}

	switch Opcode(op) {
	case OpIdentify:
		var role int
		if len(arr) < 2 || json.Unmarshal(arr[1], &role) != nil {
			return Message{}, false
		}
		return Message{Kind: KindIdentify, Identify: IdentifyPayload{Tiles: role == 1}}, true

	case OpPresence:
		// [1, id, x, y, color, name] — id is ignored inbound; the
		// session's own id is authoritative.
		if len(arr) < 6 {
			return Message{}, false
		}
		var x, y float64
		var color, name string
		if json.Unmarshal(arr[2], &x) != nil || json.Unmarshal(arr[3], &y) != nil {
			return Message{}, false
		}
		_ = json.Unmarshal(arr[4], &color)
		_ = json.Unmarshal(arr[5], &name)
		return Message{Kind: KindPresence, Presence: PresencePayload{
			HasXY: true, X: x, Y: y, HasColor: true, Color: color, HasName: true, Name: name,
		}}, true

	case OpStroke:
		return decodeCompactStroke(arr)

	case OpTilesRequest:
		return decodeCompactTilesRequest(arr)

	default:
		return Message{}, false
	}
}

func decodeCompactStroke(arr []json.RawMessage) (Message, bool) {
	if len(arr) < 8 {
		return Message{}, false
	}
	var id, userID, color string
	var size, opacity float64
	var erase int
	var flat []float64
	if json.Unmarshal(arr[1], &id) != nil {
		return Message{}, false
	}
	_ = json.Unmarshal(arr[2], &userID)
	_ = json.Unmarshal(arr[3], &color)
	if json.Unmarshal(arr[4], &size) != nil || json.Unmarshal(arr[5], &opacity) != nil {
		return Message{}, false
	}
	_ = json.Unmarshal(arr[6], &erase)
	if json.Unmarshal(arr[7], &flat) != nil || len(flat)%2 != 0 {
		return Message{}, false
	}

	points := make([]model.Point, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		points = append(points, model.Point{X: flat[i], Y: flat[i+1]})
	}

	return Message{Kind: KindStroke, Stroke: StrokePayload{
		ID:      id,
		UserID:  userID,
		Color:   color,
		Size:    codec.ClampSize(size, true),
		Opacity: codec.ClampOpacity(opacity, true),
		Erase:   erase != 0,
		Points:  codec.FilterFinitePoints(points),
	}}, true
}

func decodeCompactTilesRequest(arr []json.RawMessage) (Message, bool) {
	if len(arr) < 4 {
		return Message{}, false
	}
	var reqID string
	var z int
	var pairs [][]int
	if json.Unmarshal(arr[1], &reqID) != nil || json.Unmarshal(arr[2], &z) != nil {
		return Message{}, false
	}
	if json.Unmarshal(arr[3], &pairs) != nil {
		return Message{}, false
	}

	tiles := make([]model.TileCoord, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 {
			continue
		}
		tiles = append(tiles, model.TileCoord{Z: z, TX: p[0], TY: p[1]})
	}
	return Message{Kind: KindTilesRequest, TilesRequest: TilesRequestPayload{ReqID: reqID, Z: z, Tiles: tiles}}, true
}

func decodeObjectPayload(op Opcode, payload json.RawMessage) (Message, bool) {
	switch op {
	case OpIdentify:
		var p struct {
			Role string `json:"role"`
		}
		if json.Unmarshal(payload, &p) != nil {
			return Message{}, false
		}
		return Message{Kind: KindIdentify, Identify: IdentifyPayload{Tiles: p.Role == "tiles"}}, true

	case OpPresence:
		var obj struct {
			X           *float64 `json:"x"`
			Y           *float64 `json:"y"`
			DisplayName *string  `json:"displayName"`
			CursorColor *string  `json:"cursorColor"`
		}
		if json.Unmarshal(payload, &obj) != nil {
			return Message{}, false
		}
		pp := PresencePayload{}
		if obj.X != nil && obj.Y != nil {
			pp.HasXY = true
			pp.X, pp.Y = *obj.X, *obj.Y
		}
		if obj.DisplayName != nil {
			pp.HasName, pp.Name = true, *obj.DisplayName
		}
		if obj.CursorColor != nil {
			pp.HasColor, pp.Color = true, *obj.CursorColor
		}
		return Message{Kind: KindPresence, Presence: pp}, true

	case OpStroke:
		return decodeObjectStroke(payload)

	case OpTilesRequest:
		var p struct {
			ReqID string `json:"reqId"`
			Z     int    `json:"z"`
			Tiles []struct {
				TX int `json:"tx"`
				TY int `json:"ty"`
			} `json:"tiles"`
		}
		if json.Unmarshal(payload, &p) != nil {
			return Message{}, false
		}
		tiles := make([]model.TileCoord, 0, len(p.Tiles))
		for _, t := range p.Tiles {
			tiles = append(tiles, model.TileCoord{Z: p.Z, TX: t.TX, TY: t.TY})
		}
		return Message{Kind: KindTilesRequest, TilesRequest: TilesRequestPayload{ReqID: p.ReqID, Z: p.Z, Tiles: tiles}}, true

	default:
		return Message{}, false
	}
}

func decodeObjectStroke(payload json.RawMessage) (Message, bool) {
	s, err := codec.Canonicalize(payload, 0) // t is reassigned by the caller at accept time
	if err != nil {
		return Message{}, false
	}
	return Message{Kind: KindStroke, Stroke: StrokePayload{
		ID: s.ID, UserID: s.UserID, Color: s.Color, Size: s.Size, Opacity: s.Opacity,
		Erase: s.Erase, Points: s.Points, Z: s.Z,
	}}, true
}
