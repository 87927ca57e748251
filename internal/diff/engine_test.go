package diff

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tablevc/tablevc/internal/dataset"
	"github.com/tablevc/tablevc/internal/filter"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/schema"
	"github.com/tablevc/tablevc/pkg/types"
)

func testODB() *object.ODB {
	return object.NewODB(object.NewMemoryBackend(), nil)
}

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	pk := 0
	s, err := schema.New([]schema.ColumnSchema{
		{ID: schema.DeterministicColumnID("id", schema.TypeInteger, "test"), Name: "id", DataType: schema.TypeInteger, PKIndex: &pk},
		{ID: schema.DeterministicColumnID("name", schema.TypeText, "test"), Name: "name", DataType: schema.TypeText},
	})
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	return s
}

// buildTree writes a dataset tree on top of base. Rows with a nil value
// are removed instead of written.
func buildTree(t *testing.T, odb *object.ODB, base *object.Tree, s *schema.Schema, dsPath string, rows []map[string]any, removed []map[string]any) *object.Tree {
	t.Helper()
	ctx := context.Background()
	b := object.NewBuilder(odb, base)
	if base == nil {
		if err := dataset.WriteSchema(ctx, b, dsPath, s); err != nil {
			t.Fatalf("write schema: %v", err)
		}
	}
	for _, row := range rows {
		if err := dataset.WriteFeature(ctx, b, dsPath, s, row); err != nil {
			t.Fatalf("write feature: %v", err)
		}
	}
	for _, row := range removed {
		p, _, err := dataset.EncodeFeatureForSchema(s, row)
		if err != nil {
			t.Fatalf("encode feature: %v", err)
		}
		b.Remove(dataset.FeaturePathPrefix(dsPath) + "/" + p)
	}
	tree, err := b.Flush(ctx)
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	return tree
}

func featureDiff(t *testing.T, rd *RepoDiff, dsPath string) *DeltaDiff {
	t.Helper()
	dd, ok := rd.Get(dsPath)
	if !ok {
		t.Fatalf("no diff for dataset %s", dsPath)
	}
	return dd.ItemDiff(types.ItemTypeFeature)
}

func TestGetRepoDiff_SameTreeIsEmpty(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := testSchema(t)
	tree := buildTree(t, odb, nil, s, "points", []map[string]any{
		{"id": int64(1), "name": "one"},
	}, nil)

	rd, err := GetRepoDiff(ctx, odb, tree, tree, Options{})
	assert.NoError(t, err)
	assert.True(t, rd.Empty())
}

func TestGetRepoDiff_InsertUpdateDelete(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := testSchema(t)
	base := buildTree(t, odb, nil, s, "points", []map[string]any{
		{"id": int64(1), "name": "one"},
		{"id": int64(2), "name": "two"},
		{"id": int64(3), "name": "three"},
	}, nil)
	target := buildTree(t, odb, base, s, "points", []map[string]any{
		{"id": int64(2), "name": "deux"},
		{"id": int64(4), "name": "four"},
	}, []map[string]any{
		{"id": int64(3)},
	})

	rd, err := GetRepoDiff(ctx, odb, base, target, Options{})
	assert.NoError(t, err)

	fd := featureDiff(t, rd, "points")
	assert.Equal(t, 3, fd.Len())

	ins, ok := fd.Get("4")
	assert.True(t, ok)
	assert.Equal(t, Insert, ins.Type())
	row, err := ins.NewValue().Row(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "four", row["name"])
	assert.Equal(t, int64(4), row["id"])

	upd, ok := fd.Get("2")
	assert.True(t, ok)
	assert.Equal(t, Update, upd.Type())
	oldRow, err := upd.OldValue().Row(ctx)
	assert.NoError(t, err)
	newRow, err := upd.NewValue().Row(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "two", oldRow["name"])
	assert.Equal(t, "deux", newRow["name"])

	del, ok := fd.Get("3")
	assert.True(t, ok)
	assert.Equal(t, Delete, del.Type())

	// Untouched rows never show up.
	_, ok = fd.Get("1")
	assert.False(t, ok)
}

func TestGetRepoDiff_DatasetAdded(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := testSchema(t)
	empty := object.NewTree(nil)
	target := buildTree(t, odb, nil, s, "points", []map[string]any{
		{"id": int64(1), "name": "one"},
		{"id": int64(2), "name": "two"},
	}, nil)

	rd, err := GetRepoDiff(ctx, odb, empty, target, Options{})
	assert.NoError(t, err)

	dd, ok := rd.Get("points")
	assert.True(t, ok)
	assert.True(t, dd.DatasetAdded())
	assert.False(t, dd.DatasetRemoved())

	sd, ok := dd.SchemaDelta()
	assert.True(t, ok)
	assert.Equal(t, Insert, sd.Type())

	for _, d := range dd.ItemDiff(types.ItemTypeFeature).SortedItems() {
		assert.Equal(t, Insert, d.Type())
	}

	// The reverse diff is a dataset removal.
	rd, err = GetRepoDiff(ctx, odb, target, empty, Options{})
	assert.NoError(t, err)
	dd, _ = rd.Get("points")
	assert.True(t, dd.DatasetRemoved())
}

type staticWC struct {
	tree *object.Tree
}

func (s *staticWC) DiffToTree(ctx context.Context) (*object.Tree, error) {
	return s.tree, nil
}

func TestGetRepoDiff_WorkingCopyStageComposes(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := testSchema(t)
	base := buildTree(t, odb, nil, s, "points", []map[string]any{
		{"id": int64(1), "name": "one"},
	}, nil)
	head := buildTree(t, odb, base, s, "points", []map[string]any{
		{"id": int64(1), "name": "uno"},
	}, nil)
	wc := buildTree(t, odb, head, s, "points", []map[string]any{
		{"id": int64(1), "name": "ein"},
		{"id": int64(9), "name": "nine"},
	}, nil)

	rd, err := GetRepoDiff(ctx, odb, base, head, Options{
		WorkingCopy:   &staticWC{tree: wc},
		IncludeWCDiff: true,
	})
	assert.NoError(t, err)

	fd := featureDiff(t, rd, "points")

	// The committed edit and the working-copy edit collapse to one delta
	// spanning both stages.
	d, ok := fd.Get("1")
	assert.True(t, ok)
	assert.Equal(t, Update, d.Type())
	assert.True(t, d.WorkingCopyEdit)
	oldRow, _ := d.OldValue().Row(ctx)
	newRow, _ := d.NewValue().Row(ctx)
	assert.Equal(t, "one", oldRow["name"])
	assert.Equal(t, "ein", newRow["name"])

	ins, ok := fd.Get("9")
	assert.True(t, ok)
	assert.Equal(t, Insert, ins.Type())
	assert.True(t, ins.WorkingCopyEdit)
}

func TestGetRepoDiff_WorkingCopyRevertCancels(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := testSchema(t)
	base := buildTree(t, odb, nil, s, "points", []map[string]any{
		{"id": int64(1), "name": "one"},
	}, nil)
	head := buildTree(t, odb, base, s, "points", []map[string]any{
		{"id": int64(1), "name": "uno"},
	}, nil)

	// The working copy puts the row back to its base state.
	rd, err := GetRepoDiff(ctx, odb, base, head, Options{
		WorkingCopy:   &staticWC{tree: base},
		IncludeWCDiff: true,
	})
	assert.NoError(t, err)
	assert.True(t, rd.Empty())
}

func TestGetRepoDiff_KeyFilter(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := testSchema(t)
	base := buildTree(t, odb, nil, s, "points", []map[string]any{
		{"id": int64(1), "name": "one"},
		{"id": int64(2), "name": "two"},
	}, nil)
	target := buildTree(t, odb, base, s, "points", []map[string]any{
		{"id": int64(1), "name": "uno"},
		{"id": int64(2), "name": "dos"},
	}, nil)

	kf, err := filter.BuildFromUserPatterns([]string{"points:2"})
	assert.NoError(t, err)

	rd, err := GetRepoDiff(ctx, odb, base, target, Options{KeyFilter: kf})
	assert.NoError(t, err)

	fd := featureDiff(t, rd, "points")
	assert.Equal(t, 1, fd.Len())
	_, ok := fd.Get("2")
	assert.True(t, ok)
}

func TestGetRepoDiff_KeyFilterExcludesDataset(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := testSchema(t)
	base := buildTree(t, odb, nil, s, "points", []map[string]any{
		{"id": int64(1), "name": "one"},
	}, nil)
	target := buildTree(t, odb, base, s, "points", []map[string]any{
		{"id": int64(1), "name": "uno"},
	}, nil)

	kf, err := filter.BuildFromUserPatterns([]string{"other"})
	assert.NoError(t, err)

	rd, err := GetRepoDiff(ctx, odb, base, target, Options{KeyFilter: kf})
	assert.NoError(t, err)
	assert.True(t, rd.Empty())
}

func TestGetRepoDiff_MetaUpdate(t *testing.T) {
	ctx := context.Background()
	odb := testODB()
	s := testSchema(t)
	base := buildTree(t, odb, nil, s, "points", nil, nil)

	b := object.NewBuilder(odb, base)
	b.Insert(dataset.MetaPath("points", "title"), []byte("Points of interest"))
	target, err := b.Flush(ctx)
	assert.NoError(t, err)

	rd, err := GetRepoDiff(ctx, odb, base, target, Options{})
	assert.NoError(t, err)

	dd, ok := rd.Get("points")
	assert.True(t, ok)
	md := dd.ItemDiff(types.ItemTypeMeta)
	d, ok := md.Get("title")
	assert.True(t, ok)
	assert.Equal(t, Insert, d.Type())
	v, err := d.NewValue().Get(ctx)
	assert.NoError(t, err)
	assert.Equal(t, "Points of interest", v)

	// schema.json did not change, so it is not a dataset add.
	assert.False(t, dd.DatasetAdded())
}
