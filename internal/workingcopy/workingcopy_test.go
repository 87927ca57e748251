package workingcopy

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tablevc/tablevc/internal/dataset"
	"github.com/tablevc/tablevc/internal/diff"
	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/schema"
	"github.com/tablevc/tablevc/pkg/types"
)

func wcSchema(t *testing.T) *schema.Schema {
	t.Helper()
	pk := 0
	s, err := schema.New([]schema.ColumnSchema{
		{ID: schema.DeterministicColumnID("id", schema.TypeInteger, "wc"), Name: "id", DataType: schema.TypeInteger, PKIndex: &pk},
		{ID: schema.DeterministicColumnID("name", schema.TypeText, "wc"), Name: "name", DataType: schema.TypeText},
	})
	assert.NoError(t, err)
	return s
}

func wcFixture(t *testing.T) (*object.ODB, *object.Tree, *SQLiteWorkingCopy) {
	t.Helper()
	ctx := context.Background()
	odb := object.NewODB(object.NewMemoryBackend(), nil)
	s := wcSchema(t)

	b := object.NewBuilder(odb, nil)
	assert.NoError(t, dataset.WriteSchema(ctx, b, "points", s))
	assert.NoError(t, dataset.WriteFeature(ctx, b, "points", s, map[string]any{"id": int64(1), "name": "one"}))
	assert.NoError(t, dataset.WriteFeature(ctx, b, "points", s, map[string]any{"id": int64(2), "name": "two"}))
	tree, err := b.Flush(ctx)
	assert.NoError(t, err)

	wc, err := OpenSQLite(filepath.Join(t.TempDir(), "wc.db"), odb)
	assert.NoError(t, err)
	t.Cleanup(func() { wc.Close() })
	assert.NoError(t, wc.Reset(ctx, tree))
	return odb, tree, wc
}

func TestReset_TracksBaseTree(t *testing.T) {
	ctx := context.Background()
	_, tree, wc := wcFixture(t)

	baseID, err := wc.BaseTreeID(ctx)
	assert.NoError(t, err)
	assert.Equal(t, tree.ID(), baseID)
}

func TestDiffToTree_UneditedRoundTrips(t *testing.T) {
	ctx := context.Background()
	_, tree, wc := wcFixture(t)

	got, err := wc.DiffToTree(ctx)
	assert.NoError(t, err)
	assert.Equal(t, tree.ID(), got.ID())
}

func TestSessionEdit_ShowsUpInDiff(t *testing.T) {
	ctx := context.Background()
	odb, tree, wc := wcFixture(t)

	sess, err := wc.Session(ctx, false)
	assert.NoError(t, err)
	assert.NoError(t, sess.Exec(ctx,
		`UPDATE "points" SET "name" = ? WHERE "id" = ?`, "uno", int64(1)))
	assert.NoError(t, sess.Commit())

	wcTree, err := wc.DiffToTree(ctx)
	assert.NoError(t, err)
	assert.NotEqual(t, tree.ID(), wcTree.ID())

	rd, err := diff.GetRepoDiff(ctx, odb, tree, wcTree, diff.Options{})
	assert.NoError(t, err)
	dd, ok := rd.Get("points")
	assert.True(t, ok)
	deltas := dd.ItemDiff(types.ItemTypeFeature).SortedItems()
	if assert.Len(t, deltas, 1) {
		d := deltas[0]
		assert.Equal(t, diff.Update, d.Type())
		oldRow, err := d.OldValue().Row(ctx)
		assert.NoError(t, err)
		newRow, err := d.NewValue().Row(ctx)
		assert.NoError(t, err)
		assert.Equal(t, "one", oldRow["name"])
		assert.Equal(t, "uno", newRow["name"])
	}
}

func TestSessionInsertAndDelete(t *testing.T) {
	ctx := context.Background()
	odb, tree, wc := wcFixture(t)

	sess, err := wc.Session(ctx, false)
	assert.NoError(t, err)
	assert.NoError(t, sess.Exec(ctx,
		`INSERT INTO "points" ("id", "name") VALUES (?, ?)`, int64(3), "three"))
	assert.NoError(t, sess.Exec(ctx,
		`DELETE FROM "points" WHERE "id" = ?`, int64(2)))
	assert.NoError(t, sess.Commit())

	wcTree, err := wc.DiffToTree(ctx)
	assert.NoError(t, err)
	rd, err := diff.GetRepoDiff(ctx, odb, tree, wcTree, diff.Options{})
	assert.NoError(t, err)
	dd, _ := rd.Get("points")
	byKey := map[string]diff.DeltaType{}
	for _, d := range dd.ItemDiff(types.ItemTypeFeature).SortedItems() {
		byKey[d.Key()] = d.Type()
	}
	assert.Equal(t, diff.Insert, byKey["3"])
	assert.Equal(t, diff.Delete, byKey["2"])
}

func TestSessionClose_RollsBackUncommitted(t *testing.T) {
	ctx := context.Background()
	_, tree, wc := wcFixture(t)

	sess, err := wc.Session(ctx, false)
	assert.NoError(t, err)
	assert.NoError(t, sess.Exec(ctx, `DELETE FROM "points"`))
	assert.NoError(t, sess.Close())

	wcTree, err := wc.DiffToTree(ctx)
	assert.NoError(t, err)
	assert.Equal(t, tree.ID(), wcTree.ID())
}

func TestRequireMatchesTree(t *testing.T) {
	ctx := context.Background()
	_, tree, wc := wcFixture(t)

	assert.NoError(t, wc.RequireMatchesTree(ctx, tree.ID()))

	err := wc.RequireMatchesTree(ctx, object.EmptyTreeID)
	assert.Equal(t, errors.ErrCategoryInvalidOp, errors.GetCategory(err))
	assert.Equal(t, 4, errors.ExitCode(err))
}

func TestUpdateBaseTree_LeavesTableDataAlone(t *testing.T) {
	ctx := context.Background()
	_, _, wc := wcFixture(t)

	assert.NoError(t, wc.UpdateBaseTree(ctx, object.EmptyTreeID))
	baseID, err := wc.BaseTreeID(ctx)
	assert.NoError(t, err)
	assert.Equal(t, object.EmptyTreeID, baseID)
}

func TestReset_ReplacesPreviousCheckout(t *testing.T) {
	ctx := context.Background()
	odb, tree, wc := wcFixture(t)

	// Second tree renames the dataset entirely.
	s := wcSchema(t)
	b := object.NewBuilder(odb, nil)
	assert.NoError(t, dataset.WriteSchema(ctx, b, "lines", s))
	assert.NoError(t, dataset.WriteFeature(ctx, b, "lines", s, map[string]any{"id": int64(1), "name": "a"}))
	other, err := b.Flush(ctx)
	assert.NoError(t, err)

	assert.NoError(t, wc.Reset(ctx, other))
	got, err := wc.DiffToTree(ctx)
	assert.NoError(t, err)
	assert.Equal(t, other.ID(), got.ID())
	assert.NotEqual(t, tree.ID(), got.ID())
}

func TestTableName(t *testing.T) {
	if got := TableName("census/roads"); got != "census__roads" {
		t.Fatalf("TableName(census/roads) = %q", got)
	}
}
