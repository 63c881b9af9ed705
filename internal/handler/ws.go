package handler

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"tilestroke/internal/ingest"
	"tilestroke/internal/model"
	"tilestroke/internal/protocol"
	"tilestroke/internal/query"
	"tilestroke/internal/registry"
	"tilestroke/internal/relay"
)

// frameWriter is the write-side seam a dispatched frame needs: deliver
// one already-encoded frame to whatever the connection turns out to
// be. *wsConn is the only production implementation; tests substitute
// their own to exercise dispatch without a live socket.
type frameWriter interface {
	writeText(frame []byte) error
}

// wsConn serializes writes to one underlying connection; reads happen
// on the connection's own goroutine and never race with relay-driven
// writes from other sessions' goroutines.
type wsConn struct {
	mu sync.Mutex
	c  *websocket.Conn
}

func (w *wsConn) writeText(frame []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.c.WriteMessage(websocket.TextMessage, frame)
}

// Hub tracks the live connection for every identified peer session, so
// the relay can deliver a frame by session id alone. It implements
// relay.Sender.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]frameWriter
}

// NewHub returns an empty connection hub.
func NewHub() *Hub {
	return &Hub{conns: make(map[string]frameWriter)}
}

func (h *Hub) add(id string, conn frameWriter) {
	h.mu.Lock()
	h.conns[id] = conn
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.conns, id)
	h.mu.Unlock()
}

// Send implements relay.Sender.
func (h *Hub) Send(sessionID string, frame []byte) error {
	h.mu.RLock()
	conn, ok := h.conns[sessionID]
	h.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %s has no live connection", sessionID)
	}
	return conn.writeText(frame)
}

// WSHandler implements the duplex channel (spec §4.8): it decodes
// frames, enforces role gating, and dispatches to the registry, relay,
// ingest coordinator, and query service.
type WSHandler struct {
	registry   *registry.Registry
	relay      *relay.Relay
	ingest     *ingest.Coordinator
	query      *query.Service
	hub        *Hub
	maxBatchWS int
}

// NewWSHandler builds the duplex channel handler over already-wired
// collaborators.
func NewWSHandler(reg *registry.Registry, rl *relay.Relay, ing *ingest.Coordinator, q *query.Service, hub *Hub, maxBatchWS int) *WSHandler {
	return &WSHandler{registry: reg, relay: rl, ingest: ing, query: q, hub: hub, maxBatchWS: maxBatchWS}
}

// Handle runs the read loop for one connection until it closes.
func (h *WSHandler) Handle(c *websocket.Conn) {
	conn := &wsConn{c: c}
	role := model.RoleUnidentified
	var session *model.PeerSession

	defer func() {
		c.Close()
		if session != nil {
			h.hub.remove(session.ID)
			h.registry.Remove(session.ID)
			h.relay.BroadcastLeave(session.ID)
		}
	}()

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			return
		}
		if !h.dispatch(conn, raw, &role, &session) {
			return
		}
	}
}

// dispatch decodes and handles one inbound frame against the current
// role/session, mutating both as identify dictates. It returns false
// only when a write failure means the connection should close; a
// malformed or role-gated frame is dropped silently (spec §4.8) and
// still returns true. Kept independent of *websocket.Conn so it can be
// driven directly in tests.
func (h *WSHandler) dispatch(conn frameWriter, raw []byte, role *model.Role, session **model.PeerSession) bool {
	msg, ok := protocol.Decode(raw)
	if !ok || !protocol.Allowed(*role, msg.Kind) {
		return true
	}

	switch msg.Kind {
	case protocol.KindIdentify:
		if msg.Identify.Tiles {
			*role = model.RoleTiles
			return true // no welcome, no registry entry (spec §4.5)
		}
		*role = model.RolePeer
		s, others := h.registry.IdentifyPeer()
		*session = s
		h.hub.add(s.ID, conn)
		return conn.writeText(protocol.EncodeWelcome(s.ID, s.CursorColor, s.DisplayName, others)) == nil

	case protocol.KindPresence:
		if *session == nil {
			return true
		}
		h.handlePresence((*session).ID, msg.Presence)

	case protocol.KindStroke:
		if *session == nil {
			return true
		}
		s := msg.Stroke.ToStroke(time.Now().UnixMilli())
		if _, err := h.ingest.AcceptCanonical(s, (*session).ID, true); err != nil {
			log.Printf("[ws] ingest failed for stroke %s: %v", s.ID, err)
		}

	case protocol.KindTilesRequest:
		if *role != model.RoleTiles {
			return true
		}
		h.handleTilesRequest(conn, msg.TilesRequest)
	}
	return true
}

func (h *WSHandler) handlePresence(sessionID string, p protocol.PresencePayload) {
	var x, y *float64
	if p.HasXY {
		x, y = &p.X, &p.Y
	}
	var name, color *string
	if p.HasName {
		name = &p.Name
	}
	if p.HasColor {
		color = &p.Color
	}

	updated, ok := h.registry.Update(sessionID, x, y, name, color)
	if !ok {
		return
	}
	h.relay.BroadcastPresence(updated.ID, updated.X, updated.Y, updated.CursorColor, updated.DisplayName)
}

// handleTilesRequest streams tileData frames for each requested tile in
// order, then exactly one tileBatchDone (spec §4.7, P8/P9). An over-cap
// request short-circuits to a bare tileBatchDone. A write failure ends
// the stream early; remaining tileData frames are never sent, matching
// the cancel-on-close behavior in spec §5.
func (h *WSHandler) handleTilesRequest(conn frameWriter, req protocol.TilesRequestPayload) {
	if len(req.Tiles) > h.maxBatchWS {
		conn.writeText(protocol.EncodeTileBatchDone(req.ReqID))
		return
	}

	for _, tc := range req.Tiles {
		strokes, err := h.query.Tile(tc.Z, tc.TX, tc.TY, 0, false)
		if err != nil {
			log.Printf("[ws] tile query failed for (%d,%d,%d): %v", tc.Z, tc.TX, tc.TY, err)
			strokes = nil
		}
		if err := conn.writeText(protocol.EncodeTileData(req.ReqID, tc.Z, tc.TX, tc.TY, strokes)); err != nil {
			return
		}
	}
	conn.writeText(protocol.EncodeTileBatchDone(req.ReqID))
}
