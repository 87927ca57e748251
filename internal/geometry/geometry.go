// Package geometry provides the geometry plumbing the spatial filter needs:
// hex-WKB encoding/decoding, envelope math, and point-in-polygon testing.
// CRS transform math itself is an opaque capability behind the Transformer
// interface.
package geometry

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/xy"
)

// ParseHexWKB decodes a hex-encoded WKB geometry string.
func ParseHexWKB(s string) (geom.T, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("geometry: invalid hex wkb: %w", err)
	}
	g, err := wkb.Unmarshal(raw)
	if err != nil {
		return nil, fmt.Errorf("geometry: invalid wkb: %w", err)
	}
	return g, nil
}

// ToHexWKB encodes a geometry as an uppercase-free hex WKB string, little
// endian, matching the diff wire format.
func ToHexWKB(g geom.T) (string, error) {
	raw, err := wkb.Marshal(g, binary.LittleEndian)
	if err != nil {
		return "", fmt.Errorf("geometry: wkb encode: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

// Envelope is an axis-aligned bounding box.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

// EnvelopeOf computes the bounding envelope of a geometry.
func EnvelopeOf(g geom.T) Envelope {
	b := g.Bounds()
	return Envelope{MinX: b.Min(0), MinY: b.Min(1), MaxX: b.Max(0), MaxY: b.Max(1)}
}

// Intersects reports whether the two envelopes overlap (boundary touch
// counts as overlap).
func (e Envelope) Intersects(o Envelope) bool {
	return e.MinX <= o.MaxX && o.MinX <= e.MaxX && e.MinY <= o.MaxY && o.MinY <= e.MaxY
}

// Contains reports whether the point lies inside or on the envelope.
func (e Envelope) Contains(x, y float64) bool {
	return e.MinX <= x && x <= e.MaxX && e.MinY <= y && y <= e.MaxY
}

// IntersectsPolygon reports whether any vertex region of g falls inside the
// polygon, approximated as: envelope overlap plus a representative-point
// ring test. Exact polygon/polygon intersection is not needed for filter
// semantics; the filter only has to be conservative in the same way on both
// sides of a diff.
func IntersectsPolygon(g geom.T, poly *geom.Polygon) bool {
	if !EnvelopeOf(g).Intersects(EnvelopeOf(poly)) {
		return false
	}
	pt := RepresentativePoint(g)
	if pointInPolygon(pt, poly) {
		return true
	}
	// A large geometry may surround the polygon's point instead.
	pp := RepresentativePoint(poly)
	return EnvelopeOf(g).Contains(pp[0], pp[1])
}

// RepresentativePoint returns a coordinate on or near the geometry, used
// for cheap containment checks.
func RepresentativePoint(g geom.T) geom.Coord {
	fc := g.FlatCoords()
	if len(fc) >= 2 {
		return geom.Coord{fc[0], fc[1]}
	}
	b := g.Bounds()
	return geom.Coord{(b.Min(0) + b.Max(0)) / 2, (b.Min(1) + b.Max(1)) / 2}
}

func pointInPolygon(pt geom.Coord, poly *geom.Polygon) bool {
	if poly.NumLinearRings() == 0 {
		return false
	}
	outer := poly.LinearRing(0)
	if !xy.IsPointInRing(poly.Layout(), pt, outer.FlatCoords()) {
		return false
	}
	for i := 1; i < poly.NumLinearRings(); i++ {
		if xy.IsPointInRing(poly.Layout(), pt, poly.LinearRing(i).FlatCoords()) {
			return false
		}
	}
	return true
}
