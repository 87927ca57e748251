package object

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tablevc/tablevc/pkg/types"
)

func flushTree(t *testing.T, odb *ODB, base *Tree, inserts map[string]string, removes ...string) *Tree {
	t.Helper()
	b := NewBuilder(odb, base)
	for p, v := range inserts {
		b.Insert(p, []byte(v))
	}
	for _, p := range removes {
		b.Remove(p)
	}
	tree, err := b.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	return tree
}

func TestDiffTrees_InsertUpdateDelete(t *testing.T) {
	ctx := context.Background()
	odb := newTestODB()
	old := flushTree(t, odb, nil, map[string]string{
		"a/one":   "1",
		"a/two":   "2",
		"b/three": "3",
	})
	updated := flushTree(t, odb, old, map[string]string{
		"a/two":  "two",
		"b/four": "4",
	}, "a/one")

	deltas := map[string]TreeDelta{}
	err := DiffTrees(ctx, odb, old, updated, func(td TreeDelta) error {
		deltas[td.Path] = td
		return nil
	})
	assert.NoError(t, err)
	assert.Len(t, deltas, 3)

	del := deltas["a/one"]
	assert.False(t, del.OldID.IsZero())
	assert.True(t, del.NewID.IsZero())

	upd := deltas["a/two"]
	assert.False(t, upd.OldID.IsZero())
	assert.False(t, upd.NewID.IsZero())
	assert.NotEqual(t, upd.OldID, upd.NewID)

	ins := deltas["b/four"]
	assert.True(t, ins.OldID.IsZero())
	assert.False(t, ins.NewID.IsZero())
}

func TestDiffTrees_EqualTreesNoCalls(t *testing.T) {
	ctx := context.Background()
	odb := newTestODB()
	tree := flushTree(t, odb, nil, map[string]string{"a/one": "1"})

	calls := 0
	err := DiffTrees(ctx, odb, tree, tree, func(TreeDelta) error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Zero(t, calls)
}

func TestDiffTrees_SkipsUnchangedSubtrees(t *testing.T) {
	// Proves the walk short-circuits on equal subtree ids: the unchanged
	// subtree's blobs are deleted from the store, yet diffing still
	// succeeds because that subtree is never opened.
	ctx := context.Background()
	odb := newTestODB()
	old := flushTree(t, odb, nil, map[string]string{
		"stable/one": "1",
		"hot/two":    "2",
	})
	updated := flushTree(t, odb, old, map[string]string{"hot/two": "two"})

	id, err := GetBlobIDAt(ctx, odb, old, "stable/one")
	assert.NoError(t, err)
	odb.backend.(*MemoryBackend).Delete(id)

	var paths []string
	err = DiffTrees(ctx, odb, old, updated, func(td TreeDelta) error {
		paths = append(paths, td.Path)
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"hot/two"}, paths)
}

func TestDiffTrees_BlobReplacedByTree(t *testing.T) {
	ctx := context.Background()
	odb := newTestODB()
	old := flushTree(t, odb, nil, map[string]string{"node": "blob"})
	updated := flushTree(t, odb, nil, map[string]string{"node/child": "leaf"})

	var deltas []TreeDelta
	err := DiffTrees(ctx, odb, old, updated, func(td TreeDelta) error {
		deltas = append(deltas, td)
		return nil
	})
	assert.NoError(t, err)
	assert.Len(t, deltas, 2)
	assert.Equal(t, "node", deltas[0].Path)
	assert.True(t, deltas[0].NewID.IsZero(), "the blob side reports as a removal")
	assert.Equal(t, "node/child", deltas[1].Path)
	assert.True(t, deltas[1].OldID.IsZero())
}

func TestWalkBlobs_NameOrder(t *testing.T) {
	ctx := context.Background()
	odb := newTestODB()
	tree := flushTree(t, odb, nil, map[string]string{
		"b/two":   "2",
		"a/one":   "1",
		"a/three": "3",
		"zero":    "0",
	})

	var paths []string
	err := WalkBlobs(ctx, odb, tree, func(p string, id types.OID) error {
		paths = append(paths, p)
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, sort.StringsAreSorted(paths))
	assert.Equal(t, []string{"a/one", "a/three", "b/two", "zero"}, paths)
}

func TestGetTreeAt(t *testing.T) {
	ctx := context.Background()
	odb := newTestODB()
	tree := flushTree(t, odb, nil, map[string]string{"a/b/leaf": "v"})

	sub, err := GetTreeAt(ctx, odb, tree, "a/b")
	assert.NoError(t, err)
	assert.NotNil(t, sub)
	_, ok := sub.Get("leaf")
	assert.True(t, ok)

	sub, err = GetTreeAt(ctx, odb, tree, "a/missing")
	assert.NoError(t, err)
	assert.Nil(t, sub)

	// A blob in the middle of the path is not a tree.
	sub, err = GetTreeAt(ctx, odb, tree, "a/b/leaf")
	assert.NoError(t, err)
	assert.Nil(t, sub)
}

func TestGetBlobIDAt_AbsentIsZero(t *testing.T) {
	ctx := context.Background()
	odb := newTestODB()
	tree := flushTree(t, odb, nil, map[string]string{"a/leaf": "v"})

	id, err := GetBlobIDAt(ctx, odb, tree, "a/other")
	assert.NoError(t, err)
	assert.True(t, id.IsZero())

	id, err = GetBlobIDAt(ctx, odb, tree, "a/leaf")
	assert.NoError(t, err)
	assert.False(t, id.IsZero())
}
