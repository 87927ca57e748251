package diff

import (
	"context"

	"github.com/tablevc/tablevc/pkg/types"
)

// DatasetDiff aggregates per-item-type DeltaDiffs for one dataset path. A
// meta delta keyed "schema.json" whose type is insert or delete signals
// that the whole dataset was created or removed.
type DatasetDiff struct {
	Path  string
	Items map[types.ItemType]*DeltaDiff
}

// NewDatasetDiff creates an empty DatasetDiff for a dataset path.
func NewDatasetDiff(path string) *DatasetDiff {
	return &DatasetDiff{Path: path, Items: make(map[types.ItemType]*DeltaDiff)}
}

// ItemDiff returns (creating if needed) the DeltaDiff for one item type.
func (dd *DatasetDiff) ItemDiff(t types.ItemType) *DeltaDiff {
	d, ok := dd.Items[t]
	if !ok {
		d = NewDeltaDiff()
		dd.Items[t] = d
	}
	return d
}

// Empty reports whether every item-type DeltaDiff is empty.
func (dd *DatasetDiff) Empty() bool {
	for _, d := range dd.Items {
		if d.Len() > 0 {
			return false
		}
	}
	return true
}

// SchemaDelta returns the "schema.json" meta delta if present.
func (dd *DatasetDiff) SchemaDelta() (*Delta, bool) {
	meta, ok := dd.Items[types.ItemTypeMeta]
	if !ok {
		return nil, false
	}
	return meta.Get("schema.json")
}

// DatasetAdded reports whether this diff represents a dataset creation.
func (dd *DatasetDiff) DatasetAdded() bool {
	d, ok := dd.SchemaDelta()
	return ok && d.Type() == Insert
}

// DatasetRemoved reports whether this diff represents a dataset removal.
func (dd *DatasetDiff) DatasetRemoved() bool {
	d, ok := dd.SchemaDelta()
	return ok && d.Type() == Delete
}

// Prune prunes every item-type DeltaDiff.
func (dd *DatasetDiff) Prune(ctx context.Context) {
	for t, d := range dd.Items {
		d.Prune(ctx)
		if d.Len() == 0 {
			delete(dd.Items, t)
		}
	}
}

// RepoDiff aggregates DatasetDiffs across dataset paths, preserving
// discovery order so repeated diffs of the same trees render identically.
type RepoDiff struct {
	order    []string
	datasets map[string]*DatasetDiff
}

// NewRepoDiff creates an empty RepoDiff.
func NewRepoDiff() *RepoDiff {
	return &RepoDiff{datasets: make(map[string]*DatasetDiff)}
}

// Dataset returns (creating and recording order if needed) the DatasetDiff
// for a path.
func (rd *RepoDiff) Dataset(path string) *DatasetDiff {
	dd, ok := rd.datasets[path]
	if !ok {
		dd = NewDatasetDiff(path)
		rd.datasets[path] = dd
		rd.order = append(rd.order, path)
	}
	return dd
}

// Get returns the DatasetDiff for a path without creating one.
func (rd *RepoDiff) Get(path string) (*DatasetDiff, bool) {
	dd, ok := rd.datasets[path]
	return dd, ok
}

// Paths returns dataset paths in discovery order.
func (rd *RepoDiff) Paths() []string {
	return rd.order
}

// Empty reports whether no dataset has any delta.
func (rd *RepoDiff) Empty() bool {
	for _, dd := range rd.datasets {
		if !dd.Empty() {
			return false
		}
	}
	return true
}

// Prune prunes every dataset and drops datasets left with no deltas. A
// structural add/delete always survives: its schema.json delta is itself
// a meta delta.
func (rd *RepoDiff) Prune(ctx context.Context) {
	var kept []string
	for _, path := range rd.order {
		dd := rd.datasets[path]
		dd.Prune(ctx)
		if dd.Empty() {
			delete(rd.datasets, path)
			continue
		}
		kept = append(kept, path)
	}
	rd.order = kept
}

// TypeCounts aggregates insert/update/delete counts per item type across
// all datasets. Used for commit-summary text and JSON.
func (rd *RepoDiff) TypeCounts() map[types.ItemType]map[DeltaType]int {
	out := make(map[types.ItemType]map[DeltaType]int)
	for _, dd := range rd.datasets {
		for t, d := range dd.Items {
			if out[t] == nil {
				out[t] = make(map[DeltaType]int)
			}
			for kind, n := range d.TypeCounts() {
				out[t][kind] += n
			}
		}
	}
	return out
}
