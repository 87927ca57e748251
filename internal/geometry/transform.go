package geometry

import (
	"github.com/twpayne/go-geom"
)

// Transformer is the opaque CRS transform capability. Implementations wrap
// whatever projection library the deployment links against; tablevc itself
// only ever calls Transform.
type Transformer interface {
	// Transform reprojects g from one CRS to another. CRS names are
	// authority strings ("EPSG:4326"). Must return the input unchanged
	// when the two CRS names are equal.
	Transform(g geom.T, fromCRS, toCRS string) (geom.T, error)
}

// IdentityTransformer treats every CRS pair as identical. Used when no
// projection backend is configured; diffs then require matching CRS.
type IdentityTransformer struct{}

func (IdentityTransformer) Transform(g geom.T, fromCRS, toCRS string) (geom.T, error) {
	return g, nil
}

// OffsetTransformer shifts coordinates by a fixed delta per CRS pair. Only
// test code constructs one; it stands in for a real projection backend so
// transform plumbing is exercised without linking proj.
type OffsetTransformer struct {
	DX, DY float64
}

func (o OffsetTransformer) Transform(g geom.T, fromCRS, toCRS string) (geom.T, error) {
	if fromCRS == toCRS {
		return g, nil
	}
	fc := append([]float64(nil), g.FlatCoords()...)
	stride := g.Stride()
	for i := 0; i+1 < len(fc); i += stride {
		fc[i] += o.DX
		fc[i+1] += o.DY
	}
	return cloneWithCoords(g, fc)
}

func cloneWithCoords(g geom.T, fc []float64) (geom.T, error) {
	switch t := g.(type) {
	case *geom.Point:
		return geom.NewPointFlat(t.Layout(), fc), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(t.Layout(), fc), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(t.Layout(), fc, t.Ends()), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(t.Layout(), fc), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(t.Layout(), fc, t.Ends()), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(t.Layout(), fc, t.Endss()), nil
	}
	return g, nil
}
