package handler

import (
	"encoding/json"
	"errors"
	"os"
	"testing"

	"tilestroke/internal/codec"
	"tilestroke/internal/ingest"
	"tilestroke/internal/model"
	"tilestroke/internal/protocol"
	"tilestroke/internal/query"
	"tilestroke/internal/registry"
	"tilestroke/internal/relay"
	"tilestroke/internal/store"
)

// fakeFrameWriter stands in for a *wsConn: it records every frame,
// counts write attempts, and can be told to fail every write while
// fail is set, without needing a live socket.
type fakeFrameWriter struct {
	frames   [][]byte
	fail     bool
	attempts int
}

func (f *fakeFrameWriter) writeText(frame []byte) error {
	f.attempts++
	if f.fail {
		return errors.New("write failed")
	}
	f.frames = append(f.frames, append([]byte(nil), frame...))
	return nil
}

func newTestWSHandler(t *testing.T, maxBatchWS int) (*WSHandler, *store.Store, *registry.Registry, *Hub) {
	t.Helper()
	dir, err := os.MkdirTemp("", "handler")
	if err != nil {
		t.Fatalf("MkdirTemp: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	st, err := store.Open(dir)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg := registry.New()
	hub := NewHub()
	rl := relay.New(reg, hub, protocol.WireEncoder{})
	ing := ingest.New(st, rl, 1<<30, 1024, 9)
	q := query.New(st)

	return NewWSHandler(reg, rl, ing, q, hub, maxBatchWS), st, reg, hub
}

func objectFrame(typ string, payload any) []byte {
	p, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	b, err := json.Marshal(struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{Type: typ, Payload: p})
	if err != nil {
		panic(err)
	}
	return b
}

func identifyPeerFrame() []byte { return objectFrame("identify", map[string]any{}) }
func identifyTilesFrame() []byte {
	return objectFrame("identify", map[string]any{"role": "tiles"})
}

func TestDispatchIdentifyPeerSendsWelcomeAndRegisters(t *testing.T) {
	h, _, reg, hub := newTestWSHandler(t, 10)
	role := model.RoleUnidentified
	var session *model.PeerSession
	w := &fakeFrameWriter{}

	if ok := h.dispatch(w, identifyPeerFrame(), &role, &session); !ok {
		t.Fatal("dispatch reported a close on a successful welcome write")
	}
	if role != model.RolePeer {
		t.Errorf("role = %v, want RolePeer", role)
	}
	if session == nil {
		t.Fatal("expected a session to be assigned")
	}
	if _, ok := reg.Get(session.ID); !ok {
		t.Error("expected the session to be registered")
	}
	if len(w.frames) != 1 {
		t.Fatalf("expected exactly one welcome frame, got %d", len(w.frames))
	}

	// The hub must route a subsequent Send to the same writer.
	if err := hub.Send(session.ID, []byte("x")); err != nil {
		t.Errorf("hub.Send after identify: %v", err)
	}
	if len(w.frames) != 2 {
		t.Errorf("expected the hub send to reach the writer, got %d frames", len(w.frames))
	}
}

func TestDispatchIdentifyTilesSkipsWelcomeAndRegistry(t *testing.T) {
	h, _, reg, _ := newTestWSHandler(t, 10)
	role := model.RoleUnidentified
	var session *model.PeerSession
	w := &fakeFrameWriter{}

	h.dispatch(w, identifyTilesFrame(), &role, &session)

	if role != model.RoleTiles {
		t.Errorf("role = %v, want RoleTiles", role)
	}
	if session != nil {
		t.Error("expected no session for a tiles-role identify (spec §4.5)")
	}
	if len(w.frames) != 0 {
		t.Errorf("expected no welcome frame for a tiles-role identify, got %d", len(w.frames))
	}
	if len(reg.Peers()) != 0 {
		t.Error("expected the tiles connection to never enter the registry")
	}
}

func TestDispatchClosesConnectionOnWelcomeWriteFailure(t *testing.T) {
	h, _, _, _ := newTestWSHandler(t, 10)
	role := model.RoleUnidentified
	var session *model.PeerSession
	w := &fakeFrameWriter{fail: true}

	if ok := h.dispatch(w, identifyPeerFrame(), &role, &session); ok {
		t.Error("expected dispatch to report a close when the welcome write fails")
	}
}

func TestDispatchDropsRoleGatedFrame(t *testing.T) {
	h, _, _, _ := newTestWSHandler(t, 10)
	role := model.RoleUnidentified
	var session *model.PeerSession
	w := &fakeFrameWriter{}

	// An unidentified connection may only send identify (spec §4.8/P6).
	frame := objectFrame("presence", map[string]any{"x": 1.0, "y": 2.0})
	ok := h.dispatch(w, frame, &role, &session)

	if !ok {
		t.Error("a role-gated frame must not be treated as a close signal")
	}
	if role != model.RoleUnidentified || session != nil {
		t.Error("a dropped frame must not mutate role or session")
	}
	if len(w.frames) != 0 {
		t.Errorf("expected no frames written for a role-gated message, got %d", len(w.frames))
	}
}

func TestDispatchPresenceBroadcastsToOtherPeersOnly(t *testing.T) {
	h, _, _, _ := newTestWSHandler(t, 10)

	roleA, roleB := model.RoleUnidentified, model.RoleUnidentified
	var sessionA, sessionB *model.PeerSession
	wA, wB := &fakeFrameWriter{}, &fakeFrameWriter{}

	h.dispatch(wA, identifyPeerFrame(), &roleA, &sessionA)
	h.dispatch(wB, identifyPeerFrame(), &roleB, &sessionB)
	wA.frames, wB.frames = nil, nil // clear welcome frames

	frame := objectFrame("presence", map[string]any{"x": 5.0, "y": 6.0})
	h.dispatch(wA, frame, &roleA, &sessionA)

	if len(wA.frames) != 0 {
		t.Errorf("originator received %d presence frames, want 0 (spec P5)", len(wA.frames))
	}
	if len(wB.frames) != 1 {
		t.Fatalf("peer received %d presence frames, want 1", len(wB.frames))
	}
}

func TestDispatchStrokeIngestsAndRelaysToOtherPeers(t *testing.T) {
	h, st, _, _ := newTestWSHandler(t, 10)

	roleA, roleB := model.RoleUnidentified, model.RoleUnidentified
	var sessionA, sessionB *model.PeerSession
	wA, wB := &fakeFrameWriter{}, &fakeFrameWriter{}

	h.dispatch(wA, identifyPeerFrame(), &roleA, &sessionA)
	h.dispatch(wB, identifyPeerFrame(), &roleB, &sessionB)
	wA.frames, wB.frames = nil, nil

	strokeFrame := objectFrame("stroke", map[string]any{
		"id":     "s1",
		"points": []map[string]float64{{"x": 10, "y": 10}, {"x": 20, "y": 10}},
	})
	h.dispatch(wA, strokeFrame, &roleA, &sessionA)

	rows, err := st.Scan(0, 0, 0)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "s1" {
		t.Fatalf("expected the stroke persisted at tile (0,0), got %v", rows)
	}

	if len(wA.frames) != 0 {
		t.Errorf("originator received %d stroke frames, want 0", len(wA.frames))
	}
	if len(wB.frames) != 1 {
		t.Fatalf("peer received %d stroke frames, want 1", len(wB.frames))
	}
}

func tilesRequestFrame(reqID string, z int, tiles [][2]int) []byte {
	ts := make([]map[string]int, 0, len(tiles))
	for _, tc := range tiles {
		ts = append(ts, map[string]int{"tx": tc[0], "ty": tc[1]})
	}
	return objectFrame("tilesRequest", map[string]any{"reqId": reqID, "z": z, "tiles": ts})
}

// decodeOpcode extracts the leading compact-array opcode of an encoded
// frame, for assertions that don't need to decode the whole payload.
func decodeOpcode(t *testing.T, frame []byte) protocol.Opcode {
	t.Helper()
	var arr []json.RawMessage
	if err := json.Unmarshal(frame, &arr); err != nil || len(arr) == 0 {
		t.Fatalf("frame is not compact-array encoded: %s", frame)
	}
	var op int
	if err := json.Unmarshal(arr[0], &op); err != nil {
		t.Fatalf("leading element is not an opcode: %s", frame)
	}
	return protocol.Opcode(op)
}

func TestDispatchTilesRequestStreamsDataThenExactlyOneBatchDone(t *testing.T) {
	h, st, _, _ := newTestWSHandler(t, 10)
	if err := st.InsertMany([]model.TileRow{{Z: 0, TX: 0, TY: 0, T: 1, ID: "s1", Payload: mustCompress(t)}}); err != nil {
		t.Fatalf("InsertMany: %v", err)
	}

	role := model.RoleUnidentified
	var session *model.PeerSession
	w := &fakeFrameWriter{}
	h.dispatch(w, identifyTilesFrame(), &role, &session)

	h.dispatch(w, tilesRequestFrame("req-1", 0, [][2]int{{0, 0}}), &role, &session)

	if len(w.frames) != 2 {
		t.Fatalf("expected tileData + tileBatchDone, got %d frames", len(w.frames))
	}
	if op := decodeOpcode(t, w.frames[0]); op != protocol.OpTileData {
		t.Errorf("first frame opcode = %d, want OpTileData", op)
	}
	if op := decodeOpcode(t, w.frames[1]); op != protocol.OpTileBatchDone {
		t.Errorf("second frame opcode = %d, want OpTileBatchDone", op)
	}

	doneCount := 0
	for _, f := range w.frames {
		if decodeOpcode(t, f) == protocol.OpTileBatchDone {
			doneCount++
		}
	}
	if doneCount != 1 {
		t.Errorf("expected exactly one tileBatchDone, got %d (P8)", doneCount)
	}
}

func TestDispatchTilesRequestOverCapShortCircuits(t *testing.T) {
	h, _, _, _ := newTestWSHandler(t, 1) // MAX_BATCH_WS = 1

	role := model.RoleUnidentified
	var session *model.PeerSession
	w := &fakeFrameWriter{}
	h.dispatch(w, identifyTilesFrame(), &role, &session)

	h.dispatch(w, tilesRequestFrame("req-2", 0, [][2]int{{0, 0}, {1, 1}}), &role, &session)

	if len(w.frames) != 1 {
		t.Fatalf("expected a bare tileBatchDone only, got %d frames (P9)", len(w.frames))
	}
	if op := decodeOpcode(t, w.frames[0]); op != protocol.OpTileBatchDone {
		t.Errorf("opcode = %d, want OpTileBatchDone", op)
	}
}

func TestDispatchTilesRequestStopsStreamingOnWriteFailure(t *testing.T) {
	h, st, _, _ := newTestWSHandler(t, 10)
	for _, tc := range [][2]int{{0, 0}, {1, 0}} {
		if err := st.InsertMany([]model.TileRow{{Z: 0, TX: tc[0], TY: tc[1], T: 1, ID: "s1", Payload: mustCompress(t)}}); err != nil {
			t.Fatalf("InsertMany: %v", err)
		}
	}

	role := model.RoleUnidentified
	var session *model.PeerSession
	w := &fakeFrameWriter{}
	h.dispatch(w, identifyTilesFrame(), &role, &session)

	w.fail = true
	h.handleTilesRequest(w, protocol.TilesRequestPayload{
		ReqID: "req-3", Z: 0,
		Tiles: []model.TileCoord{{Z: 0, TX: 0, TY: 0}, {Z: 0, TX: 1, TY: 0}},
	})

	if len(w.frames) != 0 {
		t.Errorf("expected no frames recorded once every write fails, got %d", len(w.frames))
	}
	if w.attempts != 1 {
		t.Errorf("expected streaming to stop after the first failed write, got %d write attempts", w.attempts)
	}
}

func mustCompress(t *testing.T) []byte {
	t.Helper()
	s := model.Stroke{ID: "s1", Size: 4, Opacity: 1, Points: []model.Point{{X: 1, Y: 1}}}
	payload, err := codec.Compress(s, 9)
	if err != nil {
		t.Fatalf("compress: %v", err)
	}
	return payload
}
