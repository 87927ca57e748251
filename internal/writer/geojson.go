package writer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-faster/jx"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/tablevc/tablevc/internal/dataset"
	"github.com/tablevc/tablevc/internal/diff"
	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/geometry"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/pkg/types"
)

// geoJSONWriter emits one FeatureCollection per dataset: to Out when the
// diff covers a single dataset and no output directory was given, else one
// file per dataset under OutputDir. Feature ids are synthesized as
// "{key}:{U-|U+|D|I}" so both versions of an updated key can coexist in
// one collection.
type geoJSONWriter struct {
	b *DiffWriter

	datasetCount int
}

func (g *geoJSONWriter) writeHeader(ctx context.Context, rd *diff.RepoDiff) error {
	// Meta-only datasets write no FeatureCollection, so they do not count
	// toward the one-collection-per-stream limit.
	g.datasetCount = 0
	for _, dsPath := range rd.Paths() {
		if dd, ok := rd.Get(dsPath); ok && dd.ItemDiff(types.ItemTypeFeature).Len() > 0 {
			g.datasetCount++
		}
	}
	if g.datasetCount > 1 && g.b.opts.OutputDir == "" {
		return errors.NewUsageError(errors.CodeBadFilter,
			"geojson output for multiple datasets needs an output directory").
			WithHint("pass --output or filter the diff to one dataset")
	}
	if g.b.opts.OutputDir != "" {
		if err := os.MkdirAll(g.b.opts.OutputDir, 0o755); err != nil {
			return fmt.Errorf("writer: create geojson output dir: %w", err)
		}
	}
	return nil
}

func (g *geoJSONWriter) writeDatasetDiff(ctx context.Context, dsPath string, dd *diff.DatasetDiff, features []*diff.Delta) error {
	if len(features) == 0 {
		return nil
	}
	geomCol, err := g.geometryColumn(ctx, dsPath)
	if err != nil {
		return err
	}

	var e jx.Encoder
	e.SetIdent(2)
	e.ObjStart()
	e.FieldStart("type")
	e.Str("FeatureCollection")
	e.FieldStart("features")
	e.ArrStart()
	for _, d := range features {
		if d.Old != nil {
			marker := "D"
			if d.New != nil {
				marker = "U-"
			}
			if err := g.encodeFeature(ctx, &e, d.Old.Key, marker, d.OldValue(), geomCol); err != nil {
				return err
			}
		}
		if d.New != nil {
			marker := "I"
			if d.Old != nil {
				marker = "U+"
			}
			if err := g.encodeFeature(ctx, &e, d.New.Key, marker, d.NewValue(), geomCol); err != nil {
				return err
			}
		}
	}
	e.ArrEnd()
	e.ObjEnd()

	if g.b.opts.OutputDir == "" {
		if _, err := g.b.opts.Out.Write(e.Bytes()); err != nil {
			return err
		}
		_, err := g.b.opts.Out.Write([]byte("\n"))
		return err
	}
	name := strings.ReplaceAll(dsPath, "/", "__") + ".geojson"
	return os.WriteFile(filepath.Join(g.b.opts.OutputDir, name), append(e.Bytes(), '\n'), 0o644)
}

func (g *geoJSONWriter) encodeFeature(ctx context.Context, e *jx.Encoder, key, marker string, v *diff.Value, geomCol string) error {
	row, err := v.Row(ctx)
	if err != nil {
		return err
	}
	e.ObjStart()
	e.FieldStart("type")
	e.Str("Feature")
	e.FieldStart("id")
	e.Str(key + ":" + marker)

	e.FieldStart("geometry")
	wroteGeom := false
	if geomCol != "" {
		if hexWKB, ok := row[geomCol].(string); ok && hexWKB != "" {
			gm, err := geometry.ParseHexWKB(hexWKB)
			if err != nil {
				return err
			}
			raw, err := geojson.Marshal(gm)
			if err != nil {
				return fmt.Errorf("writer: encode geometry for %s: %w", key, err)
			}
			e.Raw(raw)
			wroteGeom = true
		}
	}
	if !wroteGeom {
		e.Null()
	}

	e.FieldStart("properties")
	e.ObjStart()
	for _, name := range sortedFieldNames(row) {
		if name == geomCol {
			continue
		}
		e.FieldStart(name)
		encodeAny(e, row[name])
	}
	e.ObjEnd()
	e.ObjEnd()
	return nil
}

func (g *geoJSONWriter) geometryColumn(ctx context.Context, dsPath string) (string, error) {
	for _, root := range []*object.Tree{g.b.rng.TargetTree, g.b.rng.BaseTree} {
		ds, err := dataset.Open(ctx, g.b.odb, root, dsPath)
		if err != nil {
			return "", err
		}
		if ds == nil {
			continue
		}
		return ds.GeometryColumn(ctx)
	}
	return "", nil
}

func (g *geoJSONWriter) writeFooter(ctx context.Context) error {
	return nil
}
