package geometry

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/twpayne/go-geom"
)

func TestHexWKB_RoundTrip(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{174.76, -36.85})
	s, err := ToHexWKB(pt)
	assert.NoError(t, err)

	g, err := ParseHexWKB(s)
	assert.NoError(t, err)
	got, ok := g.(*geom.Point)
	assert.True(t, ok)
	assert.Equal(t, pt.FlatCoords(), got.FlatCoords())
}

func TestParseHexWKB_TrimsWhitespace(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{1, 2})
	s, err := ToHexWKB(pt)
	assert.NoError(t, err)

	_, err = ParseHexWKB("  " + s + "\n")
	assert.NoError(t, err)
}

func TestParseHexWKB_Invalid(t *testing.T) {
	_, err := ParseHexWKB("zz")
	assert.Error(t, err)
	_, err = ParseHexWKB("0102")
	assert.Error(t, err)
}

func TestEnvelope_Intersects(t *testing.T) {
	a := Envelope{MinX: 0, MinY: 0, MaxX: 2, MaxY: 2}
	assert.True(t, a.Intersects(Envelope{MinX: 1, MinY: 1, MaxX: 3, MaxY: 3}))
	assert.True(t, a.Intersects(Envelope{MinX: 2, MinY: 2, MaxX: 3, MaxY: 3}), "touching boundary counts")
	assert.False(t, a.Intersects(Envelope{MinX: 3, MinY: 0, MaxX: 4, MaxY: 2}))
	assert.False(t, a.Intersects(Envelope{MinX: 0, MinY: 3, MaxX: 2, MaxY: 4}))
}

func TestEnvelopeOf_LineString(t *testing.T) {
	ls := geom.NewLineStringFlat(geom.XY, []float64{0, 5, 3, 1, -2, 2})
	e := EnvelopeOf(ls)
	assert.Equal(t, Envelope{MinX: -2, MinY: 1, MaxX: 3, MaxY: 5}, e)
}

func TestIntersectsPolygon(t *testing.T) {
	square := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 4, 0, 4, 4, 0, 4, 0, 0}, []int{10})

	inside := geom.NewPointFlat(geom.XY, []float64{2, 2})
	assert.True(t, IntersectsPolygon(inside, square))

	outside := geom.NewPointFlat(geom.XY, []float64{9, 9})
	assert.False(t, IntersectsPolygon(outside, square))

	// A geometry that fully surrounds the polygon still intersects even
	// though its first vertex is outside the polygon.
	big := geom.NewPolygonFlat(geom.XY, []float64{-10, -10, 10, -10, 10, 10, -10, 10, -10, -10}, []int{10})
	assert.True(t, IntersectsPolygon(big, square))
}

func TestPointInPolygonHole(t *testing.T) {
	// Outer 0..10 square with a 4..6 hole.
	donut := geom.NewPolygonFlat(geom.XY, []float64{
		0, 0, 10, 0, 10, 10, 0, 10, 0, 0,
		4, 4, 6, 4, 6, 6, 4, 6, 4, 4,
	}, []int{10, 20})

	inHole := geom.NewPointFlat(geom.XY, []float64{5, 5})
	assert.False(t, pointInPolygon(RepresentativePoint(inHole), donut))

	inRing := geom.NewPointFlat(geom.XY, []float64{2, 2})
	assert.True(t, pointInPolygon(RepresentativePoint(inRing), donut))
}

func TestProperty_HexWKBRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genCoord := gen.Float64Range(-180, 180)

	properties.Property("points survive the hex wkb round trip", prop.ForAll(
		func(x, y float64) bool {
			pt := geom.NewPointFlat(geom.XY, []float64{x, y})
			s, err := ToHexWKB(pt)
			if err != nil {
				return false
			}
			g, err := ParseHexWKB(s)
			if err != nil {
				return false
			}
			got, ok := g.(*geom.Point)
			return ok && got.X() == x && got.Y() == y
		},
		genCoord, genCoord,
	))

	properties.TestingRun(t)
}
