package writer

import (
	"context"
	"fmt"
	"sort"

	"github.com/tablevc/tablevc/internal/diff"
	"github.com/tablevc/tablevc/pkg/types"
)

// textWriter is the human-readable default: one "---"/"+++" block per
// changed item, field-level -/+ lines for updates.
type textWriter struct {
	b *DiffWriter
}

func (t *textWriter) writeHeader(ctx context.Context, rd *diff.RepoDiff) error {
	return nil
}

func (t *textWriter) writeDatasetDiff(ctx context.Context, dsPath string, dd *diff.DatasetDiff, features []*diff.Delta) error {
	for _, d := range dd.ItemDiff(types.ItemTypeMeta).SortedItems() {
		if err := t.writeItem(ctx, dsPath, "meta", d); err != nil {
			return err
		}
	}
	for _, d := range features {
		if err := t.writeItem(ctx, dsPath, "feature", d); err != nil {
			return err
		}
	}
	return nil
}

func (t *textWriter) writeItem(ctx context.Context, dsPath, itemType string, d *diff.Delta) error {
	out := t.b.opts.Out
	switch d.Type() {
	case diff.Insert:
		fmt.Fprintf(out, "+++ %s:%s:%s\n", dsPath, itemType, d.New.Key)
		return t.writeSide(ctx, "+", d.NewValue())
	case diff.Delete:
		fmt.Fprintf(out, "--- %s:%s:%s\n", dsPath, itemType, d.Old.Key)
		return t.writeSide(ctx, "-", d.OldValue())
	default:
		fmt.Fprintf(out, "--- %s:%s:%s\n", dsPath, itemType, d.Old.Key)
		fmt.Fprintf(out, "+++ %s:%s:%s\n", dsPath, itemType, d.New.Key)
		return t.writeUpdate(ctx, d)
	}
}

// writeSide prints every field of one side with a single marker.
func (t *textWriter) writeSide(ctx context.Context, marker string, v *diff.Value) error {
	val, err := v.Get(ctx)
	if err != nil {
		return err
	}
	out := t.b.opts.Out
	row, ok := val.(map[string]any)
	if !ok {
		fmt.Fprintf(out, "%s %v\n", marker, val)
		return nil
	}
	for _, name := range sortedFieldNames(row) {
		fmt.Fprintf(out, "%s %30s = %v\n", marker, name, row[name])
	}
	return nil
}

// writeUpdate prints only the fields that differ between the two sides.
func (t *textWriter) writeUpdate(ctx context.Context, d *diff.Delta) error {
	oldVal, err := d.OldValue().Get(ctx)
	if err != nil {
		return err
	}
	newVal, err := d.NewValue().Get(ctx)
	if err != nil {
		return err
	}
	out := t.b.opts.Out
	oldRow, oldOK := oldVal.(map[string]any)
	newRow, newOK := newVal.(map[string]any)
	if !oldOK || !newOK {
		fmt.Fprintf(out, "- %v\n", oldVal)
		fmt.Fprintf(out, "+ %v\n", newVal)
		return nil
	}
	for _, name := range unionFieldNames(oldRow, newRow) {
		ov, inOld := oldRow[name]
		nv, inNew := newRow[name]
		if inOld && inNew && fmt.Sprintf("%v", ov) == fmt.Sprintf("%v", nv) {
			continue
		}
		if inOld {
			fmt.Fprintf(out, "- %30s = %v\n", name, ov)
		}
		if inNew {
			fmt.Fprintf(out, "+ %30s = %v\n", name, nv)
		}
	}
	return nil
}

func (t *textWriter) writeFooter(ctx context.Context) error {
	return nil
}

func sortedFieldNames(row map[string]any) []string {
	names := make([]string, 0, len(row))
	for k := range row {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func unionFieldNames(a, b map[string]any) []string {
	seen := map[string]bool{}
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	names := make([]string, 0, len(seen))
	for k := range seen {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
