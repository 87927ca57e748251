package patch

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/go-faster/jx"

	"github.com/tablevc/tablevc/internal/dataset"
	"github.com/tablevc/tablevc/internal/diff"
	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/pathcodec"
	"github.com/tablevc/tablevc/internal/schema"
)

// Apply replays a patch on top of target and returns the resulting tree.
// Every "-" value must match the stored feature exactly; mismatches are
// collected across the whole patch and returned together as one
// PatchDoesNotApplyError, never fail-fast.
func Apply(ctx context.Context, odb *object.ODB, target *object.Tree, p *Patch) (*object.Tree, error) {
	b := object.NewBuilder(odb, target)
	var conflicts []errors.PatchConflict

	for _, dsPath := range p.Order {
		dc := p.Datasets[dsPath]
		ds, err := dataset.Open(ctx, odb, target, dsPath)
		if err != nil {
			return nil, err
		}

		s, err := applyMeta(ctx, b, dsPath, ds, dc)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, errors.NewNotFound(errors.CodeDatasetNotFound,
				fmt.Sprintf("patch changes dataset %q which does not exist in the target", dsPath))
		}

		for _, fc := range dc.Features {
			conflict, err := applyFeature(ctx, b, odb, target, dsPath, ds, s, fc)
			if err != nil {
				return nil, err
			}
			if conflict != nil {
				conflicts = append(conflicts, *conflict)
			}
		}
	}

	if len(conflicts) > 0 {
		return nil, &errors.PatchDoesNotApplyError{Conflicts: conflicts}
	}
	return b.Flush(ctx)
}

// applyMeta writes the dataset's meta deltas and returns the schema under
// which the patch's feature rows encode: the patched schema when the patch
// changes schema.json, else the dataset's current one. Returns nil when
// the dataset exists on neither side.
func applyMeta(ctx context.Context, b *object.Builder, dsPath string, ds *dataset.Dataset, dc *DatasetChanges) (*schema.Schema, error) {
	var s *schema.Schema
	if ds != nil {
		current, err := ds.Schema(ctx)
		if err != nil {
			return nil, err
		}
		s = current
	}

	for name, mc := range dc.Meta {
		if name == dataset.MetaSchema {
			if !mc.HasNew {
				// Schema deletion deletes the dataset; its features must
				// arrive as deletes in the same patch.
				b.Remove(dataset.MetaPath(dsPath, name))
				continue
			}
			patched, err := schemaFromPatchValue(mc.New)
			if err != nil {
				return nil, err
			}
			if err := dataset.WriteSchema(ctx, b, dsPath, patched); err != nil {
				return nil, err
			}
			s = patched
			continue
		}
		if !mc.HasNew {
			b.Remove(dataset.MetaPath(dsPath, name))
			continue
		}
		text, ok := mc.New.(string)
		if !ok {
			return nil, errors.New(errors.ErrCategoryPatch, errors.CodePatchDoesNotApply,
				fmt.Sprintf("patch: meta item %s/%s is not a string", dsPath, name))
		}
		b.Insert(dataset.MetaPath(dsPath, name), []byte(text))
	}
	return s, nil
}

// applyFeature applies one feature change, returning a conflict instead of
// an error when the stored state disagrees with the patch.
func applyFeature(ctx context.Context, b *object.Builder, odb *object.ODB, target *object.Tree, dsPath string, ds *dataset.Dataset, s *schema.Schema, fc FeatureChange) (*errors.PatchConflict, error) {
	refRow := fc.Old
	if refRow == nil {
		refRow = fc.New
	}
	key, err := displayKey(s, refRow)
	if err != nil {
		return nil, err
	}
	conflict := func(reason errors.PatchConflictReason) *errors.PatchConflict {
		return &errors.PatchConflict{Dataset: dsPath, Key: key, Reason: reason}
	}

	var oldPath string
	var currentRow map[string]any
	if fc.Old != nil {
		oldPath, _, err = dataset.EncodeFeatureForSchema(s, fc.Old)
		if err != nil {
			return nil, err
		}
		currentRow, err = storedRow(ctx, odb, target, dsPath, ds, oldPath)
		if err != nil {
			return nil, err
		}
	}

	switch {
	case fc.Old != nil && fc.New != nil: // update
		if currentRow == nil {
			return conflict(errors.ConflictAlreadyDeleted), nil
		}
		if rowsEqual(s, currentRow, fc.New) {
			return conflict(errors.ConflictAlreadyUpdated), nil
		}
		if !rowsEqual(s, currentRow, fc.Old) {
			return conflict(errors.ConflictWrongOldValue), nil
		}
		b.Remove(dataset.FeaturePathPrefix(dsPath) + "/" + oldPath)
		return nil, dataset.WriteFeature(ctx, b, dsPath, s, fc.New)

	case fc.Old != nil: // delete
		if currentRow == nil {
			return conflict(errors.ConflictAlreadyDeleted), nil
		}
		if !rowsEqual(s, currentRow, fc.Old) {
			return conflict(errors.ConflictWrongOldValue), nil
		}
		b.Remove(dataset.FeaturePathPrefix(dsPath) + "/" + oldPath)
		return nil, nil

	default: // insert
		newPath, _, err := dataset.EncodeFeatureForSchema(s, fc.New)
		if err != nil {
			return nil, err
		}
		existing, err := storedRow(ctx, odb, target, dsPath, ds, newPath)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return conflict(errors.ConflictAlreadyExists), nil
		}
		return nil, dataset.WriteFeature(ctx, b, dsPath, s, fc.New)
	}
}

// storedRow loads the feature currently at a dataset-relative path, or nil
// when absent. ds may be nil for a dataset the patch is creating.
func storedRow(ctx context.Context, odb *object.ODB, target *object.Tree, dsPath string, ds *dataset.Dataset, featurePath string) (map[string]any, error) {
	if ds == nil {
		return nil, nil
	}
	id, err := object.GetBlobIDAt(ctx, odb, target, dataset.FeaturePathPrefix(dsPath)+"/"+featurePath)
	if err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, nil
	}
	blob, err := odb.GetBlob(ctx, id)
	if err != nil {
		return nil, err
	}
	return ds.DecodeFeature(ctx, featurePath, blob)
}

func displayKey(s *schema.Schema, row map[string]any) (string, error) {
	pkCols := s.PKColumns()
	pkValues := make([]any, len(pkCols))
	for i, c := range pkCols {
		pkValues[i] = row[c.Name]
	}
	return diff.DisplayKey(s.SanitisePKs(pkValues)), nil
}

// schemaFromPatchValue rebuilds a Schema from the decoded JSON value of a
// schema.json meta delta.
func schemaFromPatchValue(v any) (*schema.Schema, error) {
	var e jx.Encoder
	encodeValue(&e, v)
	return schema.FromColumnDicts(e.Bytes())
}

func encodeValue(e *jx.Encoder, v any) {
	switch n := v.(type) {
	case nil:
		e.Null()
	case bool:
		e.Bool(n)
	case string:
		e.Str(n)
	case int64:
		e.Int64(n)
	case float64:
		e.Float64(n)
	case []byte:
		e.Base64(n)
	case []any:
		e.ArrStart()
		for _, item := range n {
			encodeValue(e, item)
		}
		e.ArrEnd()
	case map[string]any:
		e.ObjStart()
		for _, k := range sortedKeys(n) {
			e.FieldStart(k)
			encodeValue(e, n[k])
		}
		e.ObjEnd()
	default:
		e.Str(fmt.Sprintf("%v", n))
	}
}

// rowsEqual compares a stored row against a patch row column by column
// under the schema. Patch JSON carries blobs base64-encoded; stored rows
// carry []byte.
func rowsEqual(s *schema.Schema, stored, patched map[string]any) bool {
	for _, c := range s.Columns() {
		if !valueEqual(stored[c.Name], patched[c.Name]) {
			return false
		}
	}
	return true
}

func valueEqual(a, b any) bool {
	a, b = pathcodec.Canonical(a), pathcodec.Canonical(b)
	if ab, ok := a.([]byte); ok {
		if bb, ok := b.([]byte); ok {
			return bytes.Equal(ab, bb)
		}
		if bs, ok := b.(string); ok {
			decoded, err := base64.StdEncoding.DecodeString(bs)
			return err == nil && bytes.Equal(ab, decoded)
		}
		return false
	}
	if _, ok := b.([]byte); ok {
		return valueEqual(b, a)
	}
	return a == b
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
