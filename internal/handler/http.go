// Package handler exposes the tile store and relay over HTTP and the
// duplex channel (spec §6).
package handler

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"tilestroke/internal/ingest"
	"tilestroke/internal/model"
	"tilestroke/internal/query"
	"tilestroke/internal/store"
)

// HTTPHandler serves the HTTP mirror of the tile store: ping, single
// and batch tile history, stroke submission, and db status.
type HTTPHandler struct {
	ingest        *ingest.Coordinator
	query         *query.Service
	store         *store.Store
	maxBatchHTTP  int
	maxStoreBytes int64
	gzipLevel     int
	tileSize      int
}

// NewHTTPHandler builds the HTTP surface over an already-wired
// coordinator, query service, and store.
func NewHTTPHandler(ing *ingest.Coordinator, q *query.Service, st *store.Store, maxBatchHTTP int, maxStoreBytes int64, gzipLevel, tileSize int) *HTTPHandler {
	return &HTTPHandler{
		ingest:        ing,
		query:         q,
		store:         st,
		maxBatchHTTP:  maxBatchHTTP,
		maxStoreBytes: maxStoreBytes,
		gzipLevel:     gzipLevel,
		tileSize:      tileSize,
	}
}

// Ping answers GET /api/ping.
func (h *HTTPHandler) Ping(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

// TileStrokes answers GET /api/tile-strokes?z&tx&ty&since?.
func (h *HTTPHandler) TileStrokes(c *fiber.Ctx) error {
	z := c.QueryInt("z", 0)
	tx, errTX := strconv.Atoi(c.Query("tx"))
	ty, errTY := strconv.Atoi(c.Query("ty"))
	if errTX != nil || errTY != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "tx and ty must be finite integers"})
	}

	var strokes []model.Stroke
	var err error
	if raw := c.Query("since"); raw != "" {
		since, convErr := strconv.ParseInt(raw, 10, 64)
		if convErr != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "since must be an integer"})
		}
		strokes, err = h.query.Tile(z, tx, ty, since, true)
	} else {
		strokes, err = h.query.Tile(z, tx, ty, 0, false)
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "tile query failed"})
	}

	return c.JSON(fiber.Map{"z": z, "tx": tx, "ty": ty, "strokes": strokes})
}

// batchTileCoord decodes one tile entry leniently: tx/ty come through
// as *float64 so a non-numeric or missing field fails only this entry,
// never the whole batch.
type batchTileCoord struct {
	TX *float64 `json:"tx"`
	TY *float64 `json:"ty"`
}

type batchRequest struct {
	Z     int               `json:"z"`
	Tiles []json.RawMessage `json:"tiles"`
}

// TileStrokesBatch answers POST /api/tile-strokes-batch. Invalid or
// non-finite tile entries are skipped silently; only a malformed
// top-level body or an over-cap tile count fails the whole request
// (spec §4.7).
func (h *HTTPHandler) TileStrokesBatch(c *fiber.Ctx) error {
	var req batchRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid JSON body"})
	}
	if len(req.Tiles) > h.maxBatchHTTP {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "batch exceeds MAX_BATCH_HTTP"})
	}

	coords := make([]model.TileCoord, 0, len(req.Tiles))
	for _, raw := range req.Tiles {
		var t batchTileCoord
		if err := json.Unmarshal(raw, &t); err != nil || t.TX == nil || t.TY == nil {
			continue
		}
		if !isFiniteInt(*t.TX) || !isFiniteInt(*t.TY) {
			continue
		}
		coords = append(coords, model.TileCoord{Z: req.Z, TX: int(*t.TX), TY: int(*t.TY)})
	}

	results, err := h.query.Batch(req.Z, coords, h.maxBatchHTTP)
	if err == query.ErrBatchTooLarge {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "batch exceeds MAX_BATCH_HTTP"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "batch query failed"})
	}

	out := make([]fiber.Map, 0, len(results))
	for _, r := range results {
		out = append(out, fiber.Map{"z": r.Z, "tx": r.TX, "ty": r.TY, "strokes": r.Strokes})
	}
	return c.JSON(fiber.Map{"tiles": out})
}

func isFiniteInt(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v == math.Trunc(v)
}

// PostStroke answers POST /api/stroke. The server always overrides t;
// the stroke is accepted and persisted but never relayed from this
// surface (spec §4.4 step 5 relays only peer-channel strokes).
func (h *HTTPHandler) PostStroke(c *fiber.Ctx) error {
	s, _, err := h.ingest.Accept(c.Body(), time.Now().UnixMilli(), "", false)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid stroke JSON"})
	}
	return c.JSON(fiber.Map{"ok": true, "id": s.ID, "t": s.T})
}

// DBStatus answers GET /api/db-status.
func (h *HTTPHandler) DBStatus(c *fiber.Ctx) error {
	st, err := h.store.Stats()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats unavailable"})
	}

	const mib = 1024 * 1024
	utilization := 0.0
	if h.maxStoreBytes > 0 {
		utilization = float64(st.TotalBytes) / float64(h.maxStoreBytes) * 100
	}

	return c.JSON(fiber.Map{
		"sizeBytes":          st.TotalBytes,
		"sizeMB":             float64(st.TotalBytes) / mib,
		"maxSizeBytes":       h.maxStoreBytes,
		"maxSizeMB":          float64(h.maxStoreBytes) / mib,
		"strokeCount":        st.RowCount,
		"utilizationPercent": utilization,
		"gzipLevel":          h.gzipLevel,
		"tileSize":           h.tileSize,
	})
}
