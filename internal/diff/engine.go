package diff

import (
	"context"
	"sort"
	"strings"

	"github.com/tablevc/tablevc/internal/dataset"
	"github.com/tablevc/tablevc/internal/filter"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/pathcodec"
	"github.com/tablevc/tablevc/pkg/types"
)

// WorkingCopySource is the diff engine's view of a live working copy: it
// renders its current state (including uncommitted edits) as a tree so
// that base..working-copy composes like ordinary commit-range diffing.
type WorkingCopySource interface {
	DiffToTree(ctx context.Context) (*object.Tree, error)
}

// Options controls a repo diff computation.
type Options struct {
	// KeyFilter subsets datasets/items; nil means match everything.
	KeyFilter *filter.RepoKeyFilter
	// WorkingCopy, when set together with IncludeWCDiff, composes
	// target<>working-copy on top of base<>target.
	WorkingCopy   WorkingCopySource
	IncludeWCDiff bool
}

// GetRepoDiff computes the RepoDiff between two tree snapshots. Equal
// trees with no working-copy stage short-circuit to an empty diff without
// walking anything.
func GetRepoDiff(ctx context.Context, odb *object.ODB, baseTree, targetTree *object.Tree, opts Options) (*RepoDiff, error) {
	if opts.KeyFilter == nil {
		opts.KeyFilter = filter.MatchAll
	}
	rd := NewRepoDiff()
	if baseTree.ID() == targetTree.ID() && !opts.IncludeWCDiff {
		return rd, nil
	}

	if err := addTreeStage(ctx, odb, rd, baseTree, targetTree, opts.KeyFilter, false); err != nil {
		return nil, err
	}
	if opts.IncludeWCDiff && opts.WorkingCopy != nil {
		wcTree, err := opts.WorkingCopy.DiffToTree(ctx)
		if err != nil {
			return nil, err
		}
		if err := addTreeStage(ctx, odb, rd, targetTree, wcTree, opts.KeyFilter, true); err != nil {
			return nil, err
		}
	}
	rd.Prune(ctx)
	return rd, nil
}

// addTreeStage merges the diff between two trees into rd. wcEdit marks the
// resulting deltas as working-copy edits.
func addTreeStage(ctx context.Context, odb *object.ODB, rd *RepoDiff, oldRoot, newRoot *object.Tree, kf *filter.RepoKeyFilter, wcEdit bool) error {
	dsPaths, err := unionDatasetPaths(ctx, odb, oldRoot, newRoot)
	if err != nil {
		return err
	}
	for _, dsPath := range dsPaths {
		if !kf.MatchesDataset(dsPath) {
			continue
		}
		oldDS, err := dataset.Open(ctx, odb, oldRoot, dsPath)
		if err != nil {
			return err
		}
		newDS, err := dataset.Open(ctx, odb, newRoot, dsPath)
		if err != nil {
			return err
		}
		if oldDS == nil && newDS == nil {
			continue
		}
		ddiff := rd.Dataset(dsPath)
		node := kf.DatasetNode(dsPath)
		if err := diffMeta(ctx, odb, ddiff, oldDS, newDS, node, wcEdit); err != nil {
			return err
		}
		if err := diffFeatures(ctx, odb, ddiff, oldDS, newDS, node, wcEdit); err != nil {
			return err
		}
	}
	return nil
}

func unionDatasetPaths(ctx context.Context, odb *object.ODB, a, b *object.Tree) ([]string, error) {
	pa, err := dataset.Find(ctx, odb, a)
	if err != nil {
		return nil, err
	}
	pb, err := dataset.Find(ctx, odb, b)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, p := range append(pa, pb...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// diffMeta compares meta items key by key; meta values compare by blob
// identity (string compare of serialized bytes). A schema.json insert or
// delete here is the dataset add/remove signal.
func diffMeta(ctx context.Context, odb *object.ODB, ddiff *DatasetDiff, oldDS, newDS *dataset.Dataset, node *filter.Node, wcEdit bool) error {
	oldItems, err := metaItemIDs(ctx, odb, oldDS)
	if err != nil {
		return err
	}
	newItems, err := metaItemIDs(ctx, odb, newDS)
	if err != nil {
		return err
	}
	dd := ddiff.ItemDiff(types.ItemTypeMeta)
	for name, oldID := range oldItems {
		if node != nil && !node.RecursiveGet(string(types.ItemTypeMeta), name) {
			continue
		}
		newID, inNew := newItems[name]
		switch {
		case !inNew:
			d := NewDelete(name, lazyMetaValue(odb, oldID))
			d.WorkingCopyEdit = wcEdit
			dd.Add(d)
		case newID != oldID:
			d := NewUpdate(name, lazyMetaValue(odb, oldID), name, lazyMetaValue(odb, newID))
			d.WorkingCopyEdit = wcEdit
			dd.Add(d)
		}
	}
	for name, newID := range newItems {
		if node != nil && !node.RecursiveGet(string(types.ItemTypeMeta), name) {
			continue
		}
		if _, inOld := oldItems[name]; !inOld {
			d := NewInsert(name, lazyMetaValue(odb, newID))
			d.WorkingCopyEdit = wcEdit
			dd.Add(d)
		}
	}
	return nil
}

func metaItemIDs(ctx context.Context, odb *object.ODB, ds *dataset.Dataset) (map[string]types.OID, error) {
	out := map[string]types.OID{}
	if ds == nil {
		return out, nil
	}
	meta, err := ds.MetaTree(ctx)
	if err != nil || meta == nil {
		return out, err
	}
	err = object.WalkBlobs(ctx, odb, meta, func(p string, id types.OID) error {
		out[p] = id
		return nil
	})
	return out, err
}

func lazyMetaValue(odb *object.ODB, id types.OID) *Value {
	return NewLazyValue(id, func(ctx context.Context) (any, error) {
		data, err := odb.GetBlob(ctx, id)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	})
}

// diffFeatures walks the two feature-path trees structurally. Values stay
// lazy: a feature row is decoded only when a consumer asks for it, which
// keeps streaming output and partial-fetch workflows cheap.
func diffFeatures(ctx context.Context, odb *object.ODB, ddiff *DatasetDiff, oldDS, newDS *dataset.Dataset, node *filter.Node, wcEdit bool) error {
	oldFT, err := featureTree(ctx, oldDS)
	if err != nil {
		return err
	}
	newFT, err := featureTree(ctx, newDS)
	if err != nil {
		return err
	}
	dd := ddiff.ItemDiff(types.ItemTypeFeature)
	return object.DiffTrees(ctx, odb, oldFT, newFT, func(td object.TreeDelta) error {
		pkValues, err := pathcodec.Decode(td.Path)
		if err != nil {
			return err
		}
		key := DisplayKey(pkValues)
		if node != nil && !node.RecursiveGet(string(types.ItemTypeFeature), key) {
			return nil
		}
		var d *Delta
		switch {
		case td.OldID.IsZero():
			d = NewInsert(key, lazyFeatureValue(odb, newDS, td.Path, td.NewID))
		case td.NewID.IsZero():
			d = NewDelete(key, lazyFeatureValue(odb, oldDS, td.Path, td.OldID))
		default:
			d = NewUpdate(
				key, lazyFeatureValue(odb, oldDS, td.Path, td.OldID),
				key, lazyFeatureValue(odb, newDS, td.Path, td.NewID),
			)
		}
		d.WorkingCopyEdit = wcEdit
		dd.Add(d)
		return nil
	})
}

func featureTree(ctx context.Context, ds *dataset.Dataset) (*object.Tree, error) {
	if ds == nil {
		return &object.Tree{}, nil
	}
	t, err := ds.FeatureTree(ctx)
	if err != nil {
		return nil, err
	}
	if t == nil {
		t = &object.Tree{}
	}
	return t, nil
}

func lazyFeatureValue(odb *object.ODB, ds *dataset.Dataset, featurePath string, id types.OID) *Value {
	return NewLazyValue(id, func(ctx context.Context) (any, error) {
		blob, err := odb.GetBlob(ctx, id)
		if err != nil {
			return nil, err
		}
		row, err := ds.DecodeFeature(ctx, featurePath, blob)
		if err != nil {
			return nil, err
		}
		return row, nil
	})
}

// DatasetPathOf splits a full tree path into its dataset path, for callers
// mapping tree deltas back to datasets.
func DatasetPathOf(treePath string) (dsPath, rest string, ok bool) {
	i := strings.Index(treePath, "/"+dataset.HiddenDirName+"/")
	if i < 0 {
		return "", "", false
	}
	return treePath[:i], treePath[i+len(dataset.HiddenDirName)+2:], true
}
