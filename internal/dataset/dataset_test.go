package dataset

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/schema"
)

func testODB() *object.ODB {
	return object.NewODB(object.NewMemoryBackend(), nil)
}

func spatialSchema(t *testing.T) *schema.Schema {
	t.Helper()
	pk := 0
	s, err := schema.New([]schema.ColumnSchema{
		{ID: schema.DeterministicColumnID("fid", schema.TypeInteger, "ds"), Name: "fid", DataType: schema.TypeInteger, PKIndex: &pk},
		{ID: schema.DeterministicColumnID("name", schema.TypeText, "ds"), Name: "name", DataType: schema.TypeText},
		{ID: schema.DeterministicColumnID("geom", schema.TypeGeometry, "ds"), Name: "geom", DataType: schema.TypeGeometry,
			ExtraTypeInfo: map[string]any{"geometryType": "POINT", "geometryCRS": "EPSG:4326"}},
	})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

func writeDataset(t *testing.T, odb *object.ODB, dsPath string, s *schema.Schema, rows []map[string]any) *object.Tree {
	t.Helper()
	ctx := context.Background()
	b := object.NewBuilder(odb, nil)
	if err := WriteSchema(ctx, b, dsPath, s); err != nil {
		t.Fatalf("write schema: %v", err)
	}
	for _, row := range rows {
		if err := WriteFeature(ctx, b, dsPath, s, row); err != nil {
			t.Fatalf("write feature: %v", err)
		}
	}
	tree, err := b.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	return tree
}

func TestOpen_MissingDatasetIsNil(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	tree := writeDataset(t, odb, "points", spatialSchema(t), nil)

	ds, err := Open(ctx, odb, tree, "points")
	assert.NoError(t, err)
	assert.NotNil(t, ds)

	ds, err = Open(ctx, odb, tree, "absent")
	assert.NoError(t, err)
	assert.Nil(t, ds)
}

func TestFind_NestedDatasets(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := spatialSchema(t)

	b := object.NewBuilder(odb, nil)
	assert.NoError(t, WriteSchema(ctx, b, "census/roads", s))
	assert.NoError(t, WriteSchema(ctx, b, "census/buildings", s))
	assert.NoError(t, WriteSchema(ctx, b, "points", s))
	tree, err := b.Flush(ctx)
	assert.NoError(t, err)

	paths, err := Find(ctx, odb, tree)
	assert.NoError(t, err)
	assert.Equal(t, []string{"census/buildings", "census/roads", "points"}, paths)
}

func TestSchema_RoundTripsThroughStorage(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	want := spatialSchema(t)
	tree := writeDataset(t, odb, "points", want, nil)

	ds, err := Open(ctx, odb, tree, "points")
	assert.NoError(t, err)
	got, err := ds.Schema(ctx)
	assert.NoError(t, err)

	assert.Equal(t, want.Len(), got.Len())
	for i, c := range got.Columns() {
		assert.Equal(t, want.Columns()[i].ID, c.ID)
		assert.Equal(t, want.Columns()[i].Name, c.Name)
		assert.Equal(t, want.Columns()[i].DataType, c.DataType)
	}
}

func TestCRSAndGeometryColumn(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	tree := writeDataset(t, odb, "points", spatialSchema(t), nil)

	ds, err := Open(ctx, odb, tree, "points")
	assert.NoError(t, err)

	crs, err := ds.CRS(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "EPSG:4326", crs)

	col, err := ds.GeometryColumn(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "geom", col)
}

func TestFeature_EncodeDecodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := spatialSchema(t)
	row := map[string]any{
		"fid":  int64(42),
		"name": "town hall",
		"geom": "0101000000000000000000f03f0000000000000040",
	}
	tree := writeDataset(t, odb, "points", s, []map[string]any{row})

	ds, err := Open(ctx, odb, tree, "points")
	assert.NoError(t, err)

	p, blob, err := EncodeFeatureForSchema(s, row)
	assert.NoError(t, err)

	got, err := ds.DecodeFeature(ctx, p, blob)
	assert.NoError(t, err)
	assert.Equal(t, int64(42), got["fid"])
	assert.Equal(t, "town hall", got["name"])
	assert.Equal(t, row["geom"], got["geom"])
}

func TestDecodeFeature_OldLegendStillDecodes(t *testing.T) {
	// A row written under schema v1 must stay decodable after a column
	// is added, via the legend stored alongside it.
	ctx := context.Background()
	odb := testODB()
	pk := 0
	idCol := schema.ColumnSchema{ID: "col-id", Name: "id", DataType: schema.TypeInteger, PKIndex: &pk}
	nameCol := schema.ColumnSchema{ID: "col-name", Name: "name", DataType: schema.TypeText}
	v1, err := schema.New([]schema.ColumnSchema{idCol, nameCol})
	assert.NoError(t, err)

	row := map[string]any{"id": int64(7), "name": "legacy"}
	p, blob, err := EncodeFeatureForSchema(v1, row)
	assert.NoError(t, err)

	// Write the v1 row, then evolve the schema in a second commit.
	b := object.NewBuilder(odb, nil)
	assert.NoError(t, WriteSchema(ctx, b, "t", v1))
	b.Insert(FeaturePathPrefix("t")+"/"+p, blob)
	v1Tree, err := b.Flush(ctx)
	assert.NoError(t, err)

	extra := schema.ColumnSchema{ID: "col-extra", Name: "extra", DataType: schema.TypeText}
	v2, err := schema.New([]schema.ColumnSchema{idCol, nameCol, extra})
	assert.NoError(t, err)

	b = object.NewBuilder(odb, v1Tree)
	assert.NoError(t, WriteSchema(ctx, b, "t", v2))
	v2Tree, err := b.Flush(ctx)
	assert.NoError(t, err)

	ds, err := Open(ctx, odb, v2Tree, "t")
	assert.NoError(t, err)
	got, err := ds.DecodeFeature(ctx, p, blob)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), got["id"])
	assert.Equal(t, "legacy", got["name"])
	_, hasExtra := got["extra"]
	assert.False(t, hasExtra, "the old row has no value for the new column")
}

func TestPKKey(t *testing.T) {
	s := spatialSchema(t)
	key, err := PKKey(s, map[string]any{"fid": int64(42), "name": "x"})
	assert.NoError(t, err)

	key2, err := PKKey(s, map[string]any{"fid": "42"})
	assert.NoError(t, err)
	assert.Equal(t, key, key2, "textual pks sanitise to the stored type")
}

func TestMetaPaths(t *testing.T) {
	assert.Equal(t, "points/.table-dataset/meta/schema.json", MetaPath("points", MetaSchema))
	assert.Equal(t, "points/.table-dataset/feature", FeaturePathPrefix("points"))
	assert.True(t, IsLegendMetaItem(LegendMetaName("abcd")))
	assert.False(t, IsLegendMetaItem("schema.json"))
	assert.Equal(t, "crs/EPSG:4326.wkt", CRSMetaName("EPSG:4326"))
}
