package writer

import (
	"context"

	"github.com/go-faster/jx"

	"github.com/tablevc/tablevc/internal/diff"
	"github.com/tablevc/tablevc/pkg/types"
)

// JSONDiffVersion is the wire-format identifier for full-document JSON
// diffs. Geometries inside are hex-encoded WKB strings.
const JSONDiffVersion = "kart.diff/v1+hexwkb"

// PatchVersion is the sibling key carrying commit metadata when the diff
// doubles as an applicable patch.
const PatchVersion = "kart.patch/v1"

// jsonWriter buffers the whole diff into one indented JSON document:
//
//	{
//	  "kart.diff/v1+hexwkb": {
//	    "<dataset>": {"meta": {...}, "feature": [...]},
//	    ...
//	  },
//	  "kart.patch/v1": {...}
//	}
type jsonWriter struct {
	b *DiffWriter
	e jx.Encoder
}

func (j *jsonWriter) writeHeader(ctx context.Context, rd *diff.RepoDiff) error {
	j.e.SetIdent(2)
	j.e.ObjStart()
	j.e.FieldStart(JSONDiffVersion)
	j.e.ObjStart()
	return nil
}

func (j *jsonWriter) writeDatasetDiff(ctx context.Context, dsPath string, dd *diff.DatasetDiff, features []*diff.Delta) error {
	meta := dd.ItemDiff(types.ItemTypeMeta).SortedItems()
	if len(meta) == 0 && len(features) == 0 {
		return nil
	}
	j.e.FieldStart(dsPath)
	j.e.ObjStart()

	if len(meta) > 0 {
		j.e.FieldStart("meta")
		j.e.ObjStart()
		for _, d := range meta {
			fields, err := plusMinusFields(ctx, d, j.b.opts.Advanced)
			if err != nil {
				return err
			}
			j.e.FieldStart(d.Key())
			j.e.ObjStart()
			for _, f := range fields {
				j.e.FieldStart(f.Marker)
				encodeAny(&j.e, f.Value)
			}
			j.e.ObjEnd()
		}
		j.e.ObjEnd()
	}

	if len(features) > 0 {
		j.e.FieldStart("feature")
		j.e.ArrStart()
		for _, d := range features {
			fields, err := plusMinusFields(ctx, d, j.b.opts.Advanced)
			if err != nil {
				return err
			}
			j.e.ObjStart()
			for _, f := range fields {
				j.e.FieldStart(f.Marker)
				encodeAny(&j.e, f.Value)
			}
			j.e.ObjEnd()
		}
		j.e.ArrEnd()
	}

	j.e.ObjEnd()
	return nil
}

func (j *jsonWriter) writeFooter(ctx context.Context) error {
	j.e.ObjEnd() // closes the version object
	if j.b.opts.Patch != nil {
		j.e.FieldStart(PatchVersion)
		encodePatchMetadata(&j.e, j.b.opts.Patch)
	}
	j.e.ObjEnd()
	if _, err := j.b.opts.Out.Write(j.e.Bytes()); err != nil {
		return err
	}
	_, err := j.b.opts.Out.Write([]byte("\n"))
	return err
}
