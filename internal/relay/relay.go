// Package relay fans out live strokes, presence, and leave events to
// peer sessions (spec §4.6). It holds no state of its own beyond a
// handle to the session registry and a way to deliver a frame to one
// session; sessions never hold a back-reference to the relay (spec §9).
package relay

import (
	"log"

	"tilestroke/internal/model"
	"tilestroke/internal/registry"
)

// Sender delivers one already-encoded frame to a single session.
// Implemented by the websocket handler; failures are swallowed here —
// the session's own close handler is what cleans up a dead peer.
type Sender interface {
	Send(sessionID string, frame []byte) error
}

// Relay is the broadcast fan-out over the registry's current peers.
type Relay struct {
	reg    *registry.Registry
	sender Sender
	encode Encoder
}

// Encoder turns a logical message into wire bytes. cmd/server wires
// this to protocol.WireEncoder so relay stays ignorant of
// framing (object vs compact array).
type Encoder interface {
	EncodePresence(id string, x, y float64, color, name string) []byte
	EncodeStroke(s model.Stroke) []byte
	EncodeLeave(id string) []byte
}

// New builds a relay over a registry, a sender, and a frame encoder.
func New(reg *registry.Registry, sender Sender, encode Encoder) *Relay {
	return &Relay{reg: reg, sender: sender, encode: encode}
}

// BroadcastPresence sends a peer's updated presence to every other
// peer session.
func (r *Relay) BroadcastPresence(sessionID string, x, y float64, color, name string) {
	frame := r.encode.EncodePresence(sessionID, x, y, color, name)
	r.sendToAllExcept(sessionID, frame)
}

// BroadcastStroke implements ingest.Broadcaster: sends a canonical
// stroke to every peer session except the originator (spec P5).
func (r *Relay) BroadcastStroke(originID string, s model.Stroke) {
	frame := r.encode.EncodeStroke(s)
	r.sendToAllExcept(originID, frame)
}

// BroadcastLeave sends a departed session's id to every remaining peer.
func (r *Relay) BroadcastLeave(sessionID string) {
	frame := r.encode.EncodeLeave(sessionID)
	r.sendToAllExcept(sessionID, frame)
}

func (r *Relay) sendToAllExcept(excludeID string, frame []byte) {
	for _, peer := range r.reg.Peers() {
		if peer.ID == excludeID {
			continue
		}
		if err := r.sender.Send(peer.ID, frame); err != nil {
			log.Printf("[relay] send to %s failed: %v", peer.ID, err)
		}
	}
}
