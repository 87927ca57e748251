package filter

import (
	"fmt"
	"sync"

	"github.com/twpayne/go-geom"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/geometry"
	"github.com/tablevc/tablevc/internal/schema"
)

// SpatialFilter is either the match-all identity or a geometry-bounded
// predicate (bounding box or polygon) in some CRS. Per dataset it resolves
// to a DatasetSpatialFilter matching that dataset's own CRS and geometry
// column; resolutions are cached per (dataset path, schema identity).
type SpatialFilter struct {
	matchAll    bool
	env         geometry.Envelope
	poly        *geom.Polygon
	crs         string
	transformer geometry.Transformer

	mu    sync.Mutex
	cache map[string]*DatasetSpatialFilter
}

// MatchAllSpatial is the identity filter.
var MatchAllSpatial = &SpatialFilter{matchAll: true}

// NewBBoxFilter builds a bounding-box filter in the given CRS.
func NewBBoxFilter(env geometry.Envelope, crs string, tr geometry.Transformer) *SpatialFilter {
	if tr == nil {
		tr = geometry.IdentityTransformer{}
	}
	return &SpatialFilter{
		env:         env,
		crs:         crs,
		transformer: tr,
		cache:       make(map[string]*DatasetSpatialFilter),
	}
}

// NewPolygonFilter builds a polygon filter in the given CRS.
func NewPolygonFilter(poly *geom.Polygon, crs string, tr geometry.Transformer) *SpatialFilter {
	if tr == nil {
		tr = geometry.IdentityTransformer{}
	}
	return &SpatialFilter{
		poly:        poly,
		env:         geometry.EnvelopeOf(poly),
		crs:         crs,
		transformer: tr,
		cache:       make(map[string]*DatasetSpatialFilter),
	}
}

// IsMatchAll reports whether the filter is the identity.
func (f *SpatialFilter) IsMatchAll() bool {
	return f == nil || f.matchAll
}

// TransformForDataset resolves the filter against one dataset's schema and
// CRS. A dataset with no geometry column gets the vacuous filter: no
// per-feature testing at all.
func (f *SpatialFilter) TransformForDataset(dsPath string, s *schema.Schema, dsCRS string) (*DatasetSpatialFilter, error) {
	if f.IsMatchAll() || s == nil {
		return &DatasetSpatialFilter{matchAll: true}, nil
	}
	cacheKey := dsPath + "\x00" + schemaIdentity(s)
	f.mu.Lock()
	if df, ok := f.cache[cacheKey]; ok {
		f.mu.Unlock()
		return df, nil
	}
	f.mu.Unlock()

	geomCols := s.GeometryColumns()
	if len(geomCols) == 0 {
		df := &DatasetSpatialFilter{matchAll: true}
		f.storeCached(cacheKey, df)
		return df, nil
	}

	df := &DatasetSpatialFilter{column: geomCols[0].Name, env: f.env, poly: f.poly}
	if dsCRS != "" && f.crs != "" && dsCRS != f.crs {
		// Transform the filter geometry into the dataset's CRS once, so
		// per-feature tests need no transform.
		if f.poly != nil {
			g, err := f.transformer.Transform(f.poly, f.crs, dsCRS)
			if err != nil {
				return nil, errors.NewCrsError(
					fmt.Sprintf("cannot transform spatial filter from %s to %s for %s", f.crs, dsCRS, dsPath), err)
			}
			poly, ok := g.(*geom.Polygon)
			if !ok {
				return nil, errors.NewCrsError(
					fmt.Sprintf("spatial filter transform for %s returned %T", dsPath, g), nil)
			}
			df.poly = poly
			df.env = geometry.EnvelopeOf(poly)
		} else {
			corners := geom.NewPolygonFlat(geom.XY, []float64{
				f.env.MinX, f.env.MinY,
				f.env.MaxX, f.env.MinY,
				f.env.MaxX, f.env.MaxY,
				f.env.MinX, f.env.MaxY,
				f.env.MinX, f.env.MinY,
			}, []int{10})
			g, err := f.transformer.Transform(corners, f.crs, dsCRS)
			if err != nil {
				return nil, errors.NewCrsError(
					fmt.Sprintf("cannot transform spatial filter from %s to %s for %s", f.crs, dsCRS, dsPath), err)
			}
			df.env = geometry.EnvelopeOf(g)
		}
	}
	f.storeCached(cacheKey, df)
	return df, nil
}

func (f *SpatialFilter) storeCached(key string, df *DatasetSpatialFilter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[key] = df
}

// schemaIdentity fingerprints a schema by its column ids, enough to key
// the per-dataset filter cache.
func schemaIdentity(s *schema.Schema) string {
	id := ""
	for _, c := range s.Columns() {
		id += c.ID + ";"
	}
	return id
}

// DatasetSpatialFilter is a SpatialFilter resolved against one dataset:
// its geometry column name and its filter geometry in the dataset's CRS.
type DatasetSpatialFilter struct {
	matchAll bool
	column   string
	env      geometry.Envelope
	poly     *geom.Polygon
}

// IsMatchAll reports whether every row trivially matches.
func (df *DatasetSpatialFilter) IsMatchAll() bool {
	return df == nil || df.matchAll
}

// MatchesRow tests one feature row against the filter. known is false when
// the row is nil (value not available): the caller may defer the decision
// without fetching anything. A row with no geometry value always matches;
// the filter cannot exclude what it cannot test.
func (df *DatasetSpatialFilter) MatchesRow(row map[string]any) (matched, known bool) {
	if df.IsMatchAll() {
		return true, true
	}
	if row == nil {
		return false, false
	}
	raw, ok := row[df.column]
	if !ok || raw == nil {
		return true, true
	}
	hexWKB, ok := raw.(string)
	if !ok {
		return true, true
	}
	g, err := geometry.ParseHexWKB(hexWKB)
	if err != nil {
		// Undecodable geometry is corruption; the diff engine surfaces
		// it when the value is actually rendered. The filter includes it
		// so the corruption is visible rather than silently dropped.
		return true, true
	}
	if df.poly != nil {
		return geometry.IntersectsPolygon(g, df.poly), true
	}
	return geometry.EnvelopeOf(g).Intersects(df.env), true
}
