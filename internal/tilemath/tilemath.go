// Package tilemath computes the set of tiles a stroke's inked area
// touches: an axis-aligned bounding box over its points, inflated by a
// brush-radius pad, mapped onto the integer tile grid.
package tilemath

import (
	"math"

	"tilestroke/internal/model"
)

// clampSize mirrors the codec's size clamp so pad computation agrees
// with a stroke's canonical size regardless of caller.
func clampSize(size float64) float64 {
	switch {
	case math.IsNaN(size) || math.IsInf(size, 0):
		return 12
	case size < 1:
		return 1
	case size > 128:
		return 128
	default:
		return size
	}
}

// Footprint returns the inclusive set of (tx, ty) tiles the stroke's
// pad-inflated bounding box intersects, at the given tile size. An
// empty or all-non-finite point list yields an empty footprint.
func Footprint(points []model.Point, size float64, tileSize int) []model.TileCoord {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	found := false

	for _, p := range points {
		if !isFinite(p.X) || !isFinite(p.Y) {
			continue
		}
		found = true
		if p.X < minX {
			minX = p.X
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	if !found {
		return nil
	}

	pad := clampSize(size) * 2
	minX -= pad
	maxX += pad
	minY -= pad
	maxY += pad

	s := float64(tileSize)
	txMin := int(math.Floor(minX / s))
	txMax := int(math.Floor((maxX - 1) / s))
	tyMin := int(math.Floor(minY / s))
	tyMax := int(math.Floor((maxY - 1) / s))

	tiles := make([]model.TileCoord, 0, (txMax-txMin+1)*(tyMax-tyMin+1))
	for tx := txMin; tx <= txMax; tx++ {
		for ty := tyMin; ty <= tyMax; ty++ {
			tiles = append(tiles, model.TileCoord{TX: tx, TY: ty})
		}
	}
	return tiles
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
