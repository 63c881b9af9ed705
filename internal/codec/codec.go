// Package codec canonicalizes incoming stroke payloads and compresses
// the canonical form for storage, per spec §4.2.
package codec

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"math"

	"github.com/google/uuid"

	"tilestroke/internal/model"
)

const (
	defaultSize    = 12
	defaultOpacity = 1
	minSize        = 1
	maxSize        = 128
)

// rawStroke is the loosely-typed wire shape a client may send. Any
// field may be missing; pointer fields tell an absent value from a
// zero one. A field of the wrong JSON type makes Canonicalize return
// an error.
type rawStroke struct {
	ID      string     `json:"id"`
	UserID  string     `json:"userId"`
	Color   string     `json:"color"`
	Size    *float64   `json:"size"`
	Opacity *float64   `json:"opacity"`
	Erase   bool       `json:"erase"`
	Points  []rawPoint `json:"points"`
	Z       *int       `json:"z"`
}

type rawPoint struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
	P *float64 `json:"p"`
}

// Canonicalize clamps and coerces a decoded client stroke into its
// canonical form, minting an id if the client didn't supply one and
// always overriding t with the server's ingest timestamp.
func Canonicalize(raw []byte, now int64) (model.Stroke, error) {
	var r rawStroke
	if err := json.Unmarshal(raw, &r); err != nil {
		return model.Stroke{}, err
	}

	s := model.Stroke{
		ID:     r.ID,
		UserID: r.UserID,
		Color:  r.Color,
		Erase:  r.Erase,
		T:      now,
	}

	if s.ID == "" {
		s.ID = uuid.New().String()
	}

	s.Size = clamp(valueOr(r.Size, defaultSize), minSize, maxSize)
	s.Opacity = clamp(valueOr(r.Opacity, defaultOpacity), 0, 1)

	if r.Z != nil {
		s.Z = *r.Z
	}

	s.Points = make([]model.Point, 0, len(r.Points))
	for _, p := range r.Points {
		if p.X == nil || p.Y == nil || !isFinite(*p.X) || !isFinite(*p.Y) {
			continue
		}
		pressure := valueOr(p.P, 0)
		s.Points = append(s.Points, model.Point{X: *p.X, Y: *p.Y, P: pressure})
	}

	return s, nil
}

// Compress serializes a canonical stroke to compact JSON and gzips it
// at the given level. The result is the payload persisted in a tile
// row and is never mutated afterward.
func Compress(s model.Stroke, level int) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		w, _ = gzip.NewWriterLevel(&buf, gzip.DefaultCompression)
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress returns the canonical stroke a row's payload holds. A
// corrupt payload is reported to the caller, who treats it as a
// skipped row rather than a read error (spec §4.2).
func Decompress(payload []byte) (model.Stroke, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return model.Stroke{}, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return model.Stroke{}, err
	}

	var s model.Stroke
	if err := json.Unmarshal(data, &s); err != nil {
		return model.Stroke{}, err
	}
	return s, nil
}

// NewID mints an opaque stroke or session identifier.
func NewID() string {
	return uuid.New().String()
}

// ClampSize applies the size clamp/default rule to a value that may not
// have been supplied by the caller.
func ClampSize(v float64, present bool) float64 {
	if !present || !isFinite(v) {
		v = defaultSize
	}
	return clamp(v, minSize, maxSize)
}

// ClampOpacity applies the opacity clamp/default rule to a value that
// may not have been supplied by the caller.
func ClampOpacity(v float64, present bool) float64 {
	if !present || !isFinite(v) {
		v = defaultOpacity
	}
	return clamp(v, 0, 1)
}

// FilterFinitePoints drops any point with a non-finite x or y, per the
// same rule Canonicalize applies to JSON-framed strokes.
func FilterFinitePoints(pts []model.Point) []model.Point {
	out := make([]model.Point, 0, len(pts))
	for _, p := range pts {
		if !isFinite(p.X) || !isFinite(p.Y) {
			continue
		}
		if !isFinite(p.P) {
			p.P = 0
		}
		out = append(out, p)
	}
	return out
}

func valueOr(v *float64, def float64) float64 {
	if v == nil || !isFinite(*v) {
		return def
	}
	return *v
}

func clamp(v, lo, hi float64) float64 {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
