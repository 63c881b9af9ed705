// Package query implements the Tile Query Service (spec §4.7): the
// single-tile, batch, and streamed history surfaces all bottom out in
// the same per-tile scan-and-decode path (Tile), so callers (HTTP
// handlers, the channel protocol) share row decoding here. Batch also
// enforces the cap it is given; the streamed channel path calls Tile
// once per tile and checks its own cap.
package query

import (
	"errors"
	"fmt"

	"tilestroke/internal/codec"
	"tilestroke/internal/model"
	"tilestroke/internal/store"
)

// ErrBatchTooLarge is returned when a caller-supplied tile list exceeds
// the cap passed to Batch. The HTTP batch handler answers it with a
// 400.
var ErrBatchTooLarge = errors.New("query: batch exceeds cap")

// TileResult is one tile's worth of history, as returned by Batch.
type TileResult struct {
	Z, TX, TY int
	Strokes   []model.Stroke
}

// Service answers tile-history queries against a store.
type Service struct {
	store *store.Store
}

// New builds a query service over an already-open store.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Tile returns one tile's strokes ordered by (t, insertion), optionally
// filtered to t > since.
func (s *Service) Tile(z, tx, ty int, since int64, hasSince bool) ([]model.Stroke, error) {
	var rows []model.TileRow
	var err error
	if hasSince {
		rows, err = s.store.ScanSince(z, tx, ty, since)
	} else {
		rows, err = s.store.Scan(z, tx, ty)
	}
	if err != nil {
		return nil, fmt.Errorf("query tile (%d,%d,%d): %w", z, tx, ty, err)
	}
	return decodeRows(rows), nil
}

// Batch resolves a list of tile coordinates in request order, skipping
// any tile that fails to scan (rather than failing the whole batch). An
// over-cap request returns ErrBatchTooLarge and no results.
func (s *Service) Batch(z int, coords []model.TileCoord, cap int) ([]TileResult, error) {
	if len(coords) > cap {
		return nil, ErrBatchTooLarge
	}

	out := make([]TileResult, 0, len(coords))
	for _, c := range coords {
		strokes, err := s.Tile(z, c.TX, c.TY, 0, false)
		if err != nil {
			continue
		}
		out = append(out, TileResult{Z: z, TX: c.TX, TY: c.TY, Strokes: strokes})
	}
	return out, nil
}

func decodeRows(rows []model.TileRow) []model.Stroke {
	out := make([]model.Stroke, 0, len(rows))
	for _, r := range rows {
		s, err := codec.Decompress(r.Payload)
		if err != nil {
			continue // corrupt payload: a skipped row, not a read error (spec §4.2)
		}
		out = append(out, s)
	}
	return out
}
