// Package ingest implements the accept-and-persist pipeline for
// strokes (spec §4.4): tile-set computation, size-policy eviction,
// compression, transactional multi-tile append, and hand-off to the
// relay only after the commit that makes the stroke durable.
package ingest

import (
	"log"

	"tilestroke/internal/codec"
	"tilestroke/internal/model"
	"tilestroke/internal/store"
	"tilestroke/internal/tilemath"
)

// Broadcaster is the subset of the relay the coordinator depends on.
// Kept as an interface so ingest never needs to import relay directly
// (spec §9: one-way dependency, relay reads the registry, not the
// other way around — the coordinator holds the same posture toward
// the relay).
type Broadcaster interface {
	BroadcastStroke(originID string, s model.Stroke)
}

// Coordinator is the single point through which strokes become
// persisted, relayed state.
type Coordinator struct {
	store    *store.Store
	relay    Broadcaster
	maxBytes int64
	tileSize int
	gzipLvl  int
	z        int
}

// New builds a coordinator over an already-open store and relay.
func New(st *store.Store, relay Broadcaster, maxBytes int64, tileSize, gzipLevel int) *Coordinator {
	return &Coordinator{store: st, relay: relay, maxBytes: maxBytes, tileSize: tileSize, gzipLvl: gzipLevel}
}

// Accept canonicalizes raw client JSON and runs it through the full
// ingest pipeline. originID is the peer session id to exclude from
// relay (empty for HTTP-originated strokes, which are not relayed at
// all per spec §4.4 step 5).
func (c *Coordinator) Accept(raw []byte, now int64, originID string, relayOnAccept bool) (model.Stroke, []model.TileCoord, error) {
	s, err := codec.Canonicalize(raw, now)
	if err != nil {
		return model.Stroke{}, nil, err
	}
	tiles, err := c.AcceptCanonical(s, originID, relayOnAccept)
	return s, tiles, err
}

// AcceptCanonical runs an already-canonicalized stroke through the
// pipeline. Used by the compact-array channel path, which decodes
// directly into model.Stroke without going through codec.Canonicalize.
func (c *Coordinator) AcceptCanonical(s model.Stroke, originID string, relayOnAccept bool) ([]model.TileCoord, error) {
	tiles := tilemath.Footprint(s.Points, s.Size, c.tileSize)
	if len(tiles) == 0 {
		return nil, nil // I1: no finite points, no rows, no broadcast
	}

	if err := c.store.MaybeEvict(c.maxBytes); err != nil {
		log.Printf("[ingest] size policy check failed: %v", err)
		// Eviction failing doesn't block ingest; the store may simply
		// grow past the soft ceiling this round.
	}

	payload, err := codec.Compress(s, c.gzipLvl)
	if err != nil {
		log.Printf("[ingest] compress failed for stroke %s: %v", s.ID, err)
		return nil, nil
	}

	rows := make([]model.TileRow, len(tiles))
	for i, tc := range tiles {
		rows[i] = model.TileRow{Z: s.Z, TX: tc.TX, TY: tc.TY, T: s.T, ID: s.ID, Payload: payload}
	}

	if err := c.store.InsertMany(rows); err != nil {
		log.Printf("[ingest] insert failed for stroke %s: %v", s.ID, err)
		return nil, nil // failure: not accepted, not relayed (spec §4.4)
	}

	if relayOnAccept && c.relay != nil {
		c.relay.BroadcastStroke(originID, s)
	}

	return tiles, nil
}
