package object

import (
	"context"
	"path"
	"strings"

	"github.com/tablevc/tablevc/pkg/types"
)

// GetTreeAt descends from root along a slash-separated path and returns the
// subtree there, or nil when any segment is missing or is a blob.
func GetTreeAt(ctx context.Context, odb *ODB, root *Tree, p string) (*Tree, error) {
	t := root
	for _, seg := range splitPath(p) {
		if t == nil {
			return nil, nil
		}
		e, ok := t.Get(seg)
		if !ok || e.Kind != types.KindTree {
			return nil, nil
		}
		sub, err := odb.GetTree(ctx, e.ID)
		if err != nil {
			return nil, err
		}
		t = sub
	}
	return t, nil
}

// GetBlobIDAt returns the blob id at a slash-separated path under root, or
// the zero OID when absent.
func GetBlobIDAt(ctx context.Context, odb *ODB, root *Tree, p string) (types.OID, error) {
	dir, name := path.Split(p)
	t, err := GetTreeAt(ctx, odb, root, strings.TrimSuffix(dir, "/"))
	if err != nil || t == nil {
		return types.ZeroOID, err
	}
	e, ok := t.Get(name)
	if !ok || e.Kind != types.KindBlob {
		return types.ZeroOID, nil
	}
	return e.ID, nil
}

// TreeDelta is one path-level change between two trees: a blob added,
// removed, or replaced.
type TreeDelta struct {
	Path  string
	OldID types.OID
	NewID types.OID
}

// DiffTrees enumerates blob-level changes between two trees, invoking fn
// for each changed path. Identical subtree ids are skipped without
// descending; two equal root ids short-circuit to no calls at all.
func DiffTrees(ctx context.Context, odb *ODB, oldTree, newTree *Tree, fn func(TreeDelta) error) error {
	return diffTrees(ctx, odb, "", oldTree, newTree, fn)
}

func diffTrees(ctx context.Context, odb *ODB, prefix string, oldTree, newTree *Tree, fn func(TreeDelta) error) error {
	if oldTree.ID() == newTree.ID() {
		return nil
	}
	oldEntries, newEntries := oldTree.Entries(), newTree.Entries()
	i, j := 0, 0
	for i < len(oldEntries) || j < len(newEntries) {
		var oe, ne *TreeEntry
		switch {
		case i >= len(oldEntries):
			ne = &newEntries[j]
		case j >= len(newEntries):
			oe = &oldEntries[i]
		case oldEntries[i].Name < newEntries[j].Name:
			oe = &oldEntries[i]
		case oldEntries[i].Name > newEntries[j].Name:
			ne = &newEntries[j]
		default:
			oe, ne = &oldEntries[i], &newEntries[j]
		}
		if err := diffEntry(ctx, odb, prefix, oe, ne, fn); err != nil {
			return err
		}
		if oe != nil {
			i++
		}
		if ne != nil {
			j++
		}
	}
	return nil
}

func diffEntry(ctx context.Context, odb *ODB, prefix string, oe, ne *TreeEntry, fn func(TreeDelta) error) error {
	name := ""
	if oe != nil {
		name = oe.Name
	} else {
		name = ne.Name
	}
	p := path.Join(prefix, name)

	oldIsTree := oe != nil && oe.Kind == types.KindTree
	newIsTree := ne != nil && ne.Kind == types.KindTree

	switch {
	case oldIsTree || newIsTree:
		var oldSub, newSub *Tree
		var err error
		if oldIsTree {
			if oldSub, err = odb.GetTree(ctx, oe.ID); err != nil {
				return err
			}
		} else {
			oldSub = &Tree{}
		}
		if newIsTree {
			if newSub, err = odb.GetTree(ctx, ne.ID); err != nil {
				return err
			}
		} else {
			newSub = &Tree{}
		}
		// A blob replaced by a tree (or vice versa) also falls through
		// here: the blob side is reported alongside the subtree walk.
		if oe != nil && oe.Kind == types.KindBlob {
			if err := fn(TreeDelta{Path: p, OldID: oe.ID}); err != nil {
				return err
			}
		}
		if ne != nil && ne.Kind == types.KindBlob {
			if err := fn(TreeDelta{Path: p, NewID: ne.ID}); err != nil {
				return err
			}
		}
		return diffTrees(ctx, odb, p, oldSub, newSub, fn)
	case oe != nil && ne != nil:
		if oe.ID == ne.ID {
			return nil
		}
		return fn(TreeDelta{Path: p, OldID: oe.ID, NewID: ne.ID})
	case oe != nil:
		return fn(TreeDelta{Path: p, OldID: oe.ID})
	default:
		return fn(TreeDelta{Path: p, NewID: ne.ID})
	}
}

// WalkBlobs visits every blob under root in name order, calling fn with the
// blob's path and id.
func WalkBlobs(ctx context.Context, odb *ODB, root *Tree, fn func(p string, id types.OID) error) error {
	return walkBlobs(ctx, odb, "", root, fn)
}

func walkBlobs(ctx context.Context, odb *ODB, prefix string, t *Tree, fn func(string, types.OID) error) error {
	for _, e := range t.Entries() {
		p := path.Join(prefix, e.Name)
		switch e.Kind {
		case types.KindBlob:
			if err := fn(p, e.ID); err != nil {
				return err
			}
		case types.KindTree:
			sub, err := odb.GetTree(ctx, e.ID)
			if err != nil {
				return err
			}
			if err := walkBlobs(ctx, odb, p, sub, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
