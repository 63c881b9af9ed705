package protocol

import (
	"encoding/json"
	"testing"

	"tilestroke/internal/model"
)

func TestDecodeCompactStrokeRoundTrip(t *testing.T) {
	raw := []byte(`[2, "sid", "uid", "#000", 4, 1, 0, [0,0, 10,0, 10,10]]`)

	msg, ok := Decode(raw)
	if !ok {
		t.Fatal("Decode returned ok=false")
	}
	if msg.Kind != KindStroke {
		t.Fatalf("Kind = %v, want KindStroke", msg.Kind)
	}

	s := msg.Stroke.ToStroke(1000)
	if s.ID != "sid" || s.UserID != "uid" || s.Color != "#000" {
		t.Fatalf("unexpected identity fields: %+v", s)
	}
	if s.Size != 4 || s.Opacity != 1 || s.Erase {
		t.Fatalf("unexpected style fields: %+v", s)
	}
	want := []model.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 10, Y: 10}}
	if len(s.Points) != len(want) {
		t.Fatalf("Points = %+v, want %+v", s.Points, want)
	}
	for i := range want {
		if s.Points[i] != want[i] {
			t.Errorf("Points[%d] = %+v, want %+v", i, s.Points[i], want[i])
		}
	}

	frame := EncodeStroke(s)
	var roundTripped []any
	if err := json.Unmarshal(frame, &roundTripped); err != nil {
		t.Fatalf("re-decode encoded frame: %v", err)
	}
	if len(roundTripped) != 8 {
		t.Fatalf("encoded frame has %d fields, want 8", len(roundTripped))
	}
	if int(roundTripped[0].(float64)) != int(OpStroke) {
		t.Errorf("opcode = %v, want %d", roundTripped[0], OpStroke)
	}
}

func TestDecodeObjectStroke(t *testing.T) {
	raw := []byte(`{"type":"stroke","payload":{"id":"s1","size":6,"points":[{"x":1,"y":2}]}}`)

	msg, ok := Decode(raw)
	if !ok {
		t.Fatal("Decode returned ok=false")
	}
	if msg.Kind != KindStroke || msg.Stroke.ID != "s1" || msg.Stroke.Size != 6 {
		t.Fatalf("unexpected decode: %+v", msg)
	}
}

func TestDecodeIdentifyCompactAndObject(t *testing.T) {
	msg, ok := Decode([]byte(`[0, 1]`))
	if !ok || msg.Kind != KindIdentify || !msg.Identify.Tiles {
		t.Fatalf("compact identify(tiles) decode failed: %+v ok=%v", msg, ok)
	}

	msg, ok = Decode([]byte(`{"type":"identify","payload":{"role":"peer"}}`))
	if !ok || msg.Kind != KindIdentify || msg.Identify.Tiles {
		t.Fatalf("object identify(peer) decode failed: %+v ok=%v", msg, ok)
	}
}

func TestDecodeTilesRequestCompact(t *testing.T) {
	msg, ok := Decode([]byte(`[3, "r1", 0, [[1,2],[3,4]]]`))
	if !ok || msg.Kind != KindTilesRequest {
		t.Fatalf("decode failed: %+v ok=%v", msg, ok)
	}
	if msg.TilesRequest.ReqID != "r1" || len(msg.TilesRequest.Tiles) != 2 {
		t.Fatalf("unexpected payload: %+v", msg.TilesRequest)
	}
	if msg.TilesRequest.Tiles[0] != (model.TileCoord{Z: 0, TX: 1, TY: 2}) {
		t.Errorf("Tiles[0] = %+v", msg.TilesRequest.Tiles[0])
	}
}

func TestDecodeMalformedFramesAreDroppedNotErrored(t *testing.T) {
	cases := [][]byte{
		[]byte(`not json at all`),
		[]byte(`42`),
		[]byte(`[99, "unknown opcode"]`),
		[]byte(`{"type":"unknown"}`),
		[]byte(`[]`),
		[]byte(`[2, "id"]`), // truncated stroke
	}
	for _, c := range cases {
		if _, ok := Decode(c); ok {
			t.Errorf("Decode(%s) = ok, want dropped", c)
		}
	}
}

func TestRoleGatingMatrix(t *testing.T) {
	cases := []struct {
		role model.Role
		kind Kind
		want bool
	}{
		{model.RoleUnidentified, KindIdentify, true},
		{model.RoleUnidentified, KindStroke, false},
		{model.RolePeer, KindStroke, true},
		{model.RolePeer, KindPresence, true},
		{model.RolePeer, KindTilesRequest, false},
		{model.RoleTiles, KindTilesRequest, true},
		{model.RoleTiles, KindStroke, false},
	}
	for _, c := range cases {
		if got := Allowed(c.role, c.kind); got != c.want {
			t.Errorf("Allowed(%v, %v) = %v, want %v", c.role, c.kind, got, c.want)
		}
	}
}

func TestEncodeWelcomeOmitsOthersColorAndName(t *testing.T) {
	others := []model.PeerSession{{ID: "p1", X: 5, Y: 6, CursorColor: "red", DisplayName: "a"}}
	frame := EncodeWelcome("me", "blue", "me-name", others)

	var decoded []any
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	othersField, ok := decoded[4].([]any)
	if !ok || len(othersField) != 1 {
		t.Fatalf("others field = %+v", decoded[4])
	}
	entry, ok := othersField[0].([]any)
	if !ok || len(entry) != 3 {
		t.Fatalf("entry = %+v, want [id,x,y]", othersField[0])
	}
}

func TestEncodeTileBatchDone(t *testing.T) {
	frame := EncodeTileBatchDone("r1")
	var decoded []any
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded) != 2 || decoded[1] != "r1" {
		t.Fatalf("decoded = %+v", decoded)
	}
}
