// Package diff holds the core diff data model (Delta, DeltaDiff,
// DatasetDiff, RepoDiff) and the engine that computes a RepoDiff from two
// tree snapshots, optionally composed with working-copy edits.
package diff

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tablevc/tablevc/pkg/types"
)

// Value is one side of a delta: either an already-materialized value
// (meta item content, decoded feature row, working-copy row) or a lazy
// reference to a stored blob that decodes on demand. Lazy values may not
// be locally available in a partial clone; readiness is a cheap check,
// never an exception path.
type Value struct {
	// ID is the content address of the backing blob; zero for values that
	// were never stored (working-copy rows, patch input).
	ID types.OID

	value  any
	loaded bool
	load   func(ctx context.Context) (any, error)
}

// NewValue wraps an already-materialized value.
func NewValue(v any) *Value {
	return &Value{value: v, loaded: true}
}

// NewLazyValue wraps a stored blob reference. load materializes the value
// and may return a PromisedValueNotReady signal when the blob has not been
// fetched yet.
func NewLazyValue(id types.OID, load func(ctx context.Context) (any, error)) *Value {
	return &Value{ID: id, load: load}
}

// Loaded reports whether Get can succeed without touching the store.
func (v *Value) Loaded() bool {
	return v != nil && v.loaded
}

// Get materializes the value, caching the result.
func (v *Value) Get(ctx context.Context) (any, error) {
	if v.loaded {
		return v.value, nil
	}
	val, err := v.load(ctx)
	if err != nil {
		return nil, err
	}
	v.value, v.loaded = val, true
	return val, nil
}

// Row returns the value as a feature row, or nil for non-row values.
func (v *Value) Row(ctx context.Context) (map[string]any, error) {
	val, err := v.Get(ctx)
	if err != nil {
		return nil, err
	}
	row, _ := val.(map[string]any)
	return row, nil
}

// KV is one keyed side of a delta.
type KV struct {
	Key   string
	Value *Value
}

// DeltaType classifies a delta.
type DeltaType string

const (
	Insert DeltaType = "insert"
	Update DeltaType = "update"
	Delete DeltaType = "delete"
)

// Delta is an (old, new) pair for one key. Old and new keys may differ (a
// pk rename); the key rename is tracked separately from the value change.
type Delta struct {
	Old *KV
	New *KV
	// WorkingCopyEdit marks deltas from the working-copy stage of a
	// composed diff; these always survive spatial filtering.
	WorkingCopyEdit bool
}

// NewInsert builds an insert delta.
func NewInsert(key string, v *Value) *Delta {
	return &Delta{New: &KV{Key: key, Value: v}}
}

// NewDelete builds a delete delta.
func NewDelete(key string, v *Value) *Delta {
	return &Delta{Old: &KV{Key: key, Value: v}}
}

// NewUpdate builds an update delta; oldKey and newKey may differ.
func NewUpdate(oldKey string, oldV *Value, newKey string, newV *Value) *Delta {
	return &Delta{Old: &KV{Key: oldKey, Value: oldV}, New: &KV{Key: newKey, Value: newV}}
}

// Type derives the delta's kind from which sides are present.
func (d *Delta) Type() DeltaType {
	switch {
	case d.Old == nil:
		return Insert
	case d.New == nil:
		return Delete
	default:
		return Update
	}
}

// Key returns the delta's addressing key: the new key when present, else
// the old.
func (d *Delta) Key() string {
	if d.New != nil {
		return d.New.Key
	}
	return d.Old.Key
}

// OldValue and NewValue are nil-safe accessors.
func (d *Delta) OldValue() *Value {
	if d.Old == nil {
		return nil
	}
	return d.Old.Value
}

func (d *Delta) NewValue() *Value {
	if d.New == nil {
		return nil
	}
	return d.New.Value
}

// compose merges a second delta for the same key into d: delete-then-
// insert becomes an update, insert-then-delete cancels, and stacked
// updates keep the oldest old and newest new.
func (d *Delta) compose(next *Delta) *Delta {
	// The composed delta spans from the earliest old side to the latest
	// new side. Insert then delete leaves neither and cancels outright.
	old := d.Old
	nw := next.New
	if old == nil && nw == nil {
		return nil
	}
	return &Delta{Old: old, New: nw, WorkingCopyEdit: d.WorkingCopyEdit || next.WorkingCopyEdit}
}

// isNoop reports whether the delta changes nothing: same key, and values
// that are both loaded and equal. Unloaded values are never judged no-ops.
func (d *Delta) isNoop(ctx context.Context) bool {
	if d.Old == nil || d.New == nil {
		return false
	}
	if d.Old.Key != d.New.Key {
		return false
	}
	if !d.Old.Value.ID.IsZero() && d.Old.Value.ID == d.New.Value.ID {
		return true
	}
	if !d.Old.Value.Loaded() || !d.New.Value.Loaded() {
		return false
	}
	ov, _ := d.Old.Value.Get(ctx)
	nv, _ := d.New.Value.Get(ctx)
	return valuesEqual(ov, nv)
}

func valuesEqual(a, b any) bool {
	am, aok := a.(map[string]any)
	bm, bok := b.(map[string]any)
	if aok && bok {
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !scalarEqual(av, bv) {
				return false
			}
		}
		return true
	}
	return scalarEqual(a, b)
}

func scalarEqual(a, b any) bool {
	if ab, ok := a.([]byte); ok {
		bb, ok2 := b.([]byte)
		return ok2 && string(ab) == string(bb)
	}
	return a == b
}

// DeltaDiff is all deltas for one item type within one dataset, keyed by
// display key. Iteration order is unspecified; SortedItems gives pk order.
type DeltaDiff struct {
	deltas map[string]*Delta
}

// NewDeltaDiff creates an empty DeltaDiff.
func NewDeltaDiff() *DeltaDiff {
	return &DeltaDiff{deltas: make(map[string]*Delta)}
}

// Len returns the number of deltas.
func (dd *DeltaDiff) Len() int {
	return len(dd.deltas)
}

// Get returns the delta for a key.
func (dd *DeltaDiff) Get(key string) (*Delta, bool) {
	d, ok := dd.deltas[key]
	return d, ok
}

// Add merges a delta in. A second delta for the same key composes with the
// first; a composition that cancels removes the key.
func (dd *DeltaDiff) Add(d *Delta) {
	key := d.Key()
	if existing, ok := dd.deltas[key]; ok {
		merged := existing.compose(d)
		if merged == nil {
			delete(dd.deltas, key)
			return
		}
		dd.deltas[key] = merged
		return
	}
	dd.deltas[key] = d
}

// Prune removes no-op deltas (old == new, same key). Idempotent.
func (dd *DeltaDiff) Prune(ctx context.Context) {
	for key, d := range dd.deltas {
		if d.isNoop(ctx) {
			delete(dd.deltas, key)
		}
	}
}

// SortedItems returns the deltas ordered by the natural order of their
// decoded pk values: numeric components compare numerically, everything
// else lexically.
func (dd *DeltaDiff) SortedItems() []*Delta {
	out := make([]*Delta, 0, len(dd.deltas))
	for _, d := range dd.deltas {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return CompareKeys(out[i].Key(), out[j].Key()) < 0
	})
	return out
}

// Keys returns the sorted key list.
func (dd *DeltaDiff) Keys() []string {
	keys := make([]string, 0, len(dd.deltas))
	for k := range dd.deltas {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return CompareKeys(keys[i], keys[j]) < 0 })
	return keys
}

// TypeCounts tallies the deltas by kind.
func (dd *DeltaDiff) TypeCounts() map[DeltaType]int {
	counts := make(map[DeltaType]int)
	for _, d := range dd.deltas {
		counts[d.Type()]++
	}
	return counts
}

// CompareKeys orders two display keys naturally: each "|"-separated
// component compares numerically when both sides parse as numbers.
func CompareKeys(a, b string) int {
	as := strings.Split(a, "|")
	bs := strings.Split(b, "|")
	for i := 0; i < len(as) && i < len(bs); i++ {
		av, aerr := strconv.ParseFloat(as[i], 64)
		bv, berr := strconv.ParseFloat(bs[i], 64)
		if aerr == nil && berr == nil {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			continue
		}
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}

// DisplayKey renders decoded pk values as the human-facing key: components
// joined by "|".
func DisplayKey(pkValues []any) string {
	parts := make([]string, len(pkValues))
	for i, v := range pkValues {
		switch n := v.(type) {
		case int64:
			parts[i] = strconv.FormatInt(n, 10)
		case float64:
			parts[i] = strconv.FormatFloat(n, 'g', -1, 64)
		case string:
			parts[i] = n
		case bool:
			parts[i] = strconv.FormatBool(n)
		case []byte:
			parts[i] = string(n)
		case nil:
			parts[i] = ""
		default:
			parts[i] = fmt.Sprintf("%v", v)
		}
	}
	return strings.Join(parts, "|")
}
