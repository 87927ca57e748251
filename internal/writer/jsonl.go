package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"sort"

	"github.com/go-faster/jx"

	"github.com/tablevc/tablevc/internal/dataset"
	"github.com/tablevc/tablevc/internal/diff"
	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/pkg/types"
)

// jsonLinesWriter streams one JSON object per line: a version header
// first, then dataset/meta/feature records in discovery order, and finally
// a featureCountEstimate record computed by a background worker while the
// body streams.
type jsonLinesWriter struct {
	b *DiffWriter

	estimateCh    chan map[string]int64
	estimateToken *diff.CancelToken
}

func (j *jsonLinesWriter) writeHeader(ctx context.Context, rd *diff.RepoDiff) error {
	if j.b.opts.EstimateAccuracy != "" {
		j.startEstimate(ctx)
	}
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str("version")
	e.FieldStart("version")
	e.Str(JSONDiffVersion)
	e.FieldStart("outputFormat")
	e.Str("JSONL+hexwkb")
	e.ObjEnd()
	return j.writeLine(e.Bytes())
}

// startEstimate kicks off the one-shot background estimation worker. The
// result is delivered once on a buffered channel; if the writer finishes
// first it cancels the token and drops the result.
func (j *jsonLinesWriter) startEstimate(ctx context.Context) {
	j.estimateCh = make(chan map[string]int64, 1)
	j.estimateToken = diff.NewCancelToken()
	b := j.b
	go func() {
		counts, err := diff.EstimateFeatureCounts(ctx, b.odb, b.rng.BaseTree, b.rng.TargetTree, diff.EstimateOptions{
			Accuracy:      b.opts.EstimateAccuracy,
			Token:         j.estimateToken,
			Memo:          b.opts.EstimateMemo,
			WorkingCopy:   b.rng.WorkingCopy,
			IncludeWCDiff: b.rng.IncludeWC,
		})
		if err != nil {
			if !errors.IsThreadTerminated(err) {
				log.Printf("writer: diff estimate failed: %v", err)
			}
			close(j.estimateCh)
			return
		}
		j.estimateCh <- counts
	}()
}

func (j *jsonLinesWriter) writeDatasetDiff(ctx context.Context, dsPath string, dd *diff.DatasetDiff, features []*diff.Delta) error {
	meta := dd.ItemDiff(types.ItemTypeMeta).SortedItems()
	if len(meta) == 0 && len(features) == 0 {
		return nil
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str("dataset")
	e.FieldStart("path")
	e.Str(dsPath)
	e.ObjEnd()
	if err := j.writeLine(e.Bytes()); err != nil {
		return err
	}

	// Consumers get the current schema up front when it did not change in
	// this diff; a changed schema appears as an ordinary meta record below.
	if _, changed := dd.SchemaDelta(); !changed {
		if err := j.writeSchemaInfo(ctx, dsPath); err != nil {
			return err
		}
	}

	for _, d := range meta {
		fields, err := plusMinusFields(ctx, d, j.b.opts.Advanced)
		if err != nil {
			return err
		}
		var e jx.Encoder
		e.ObjStart()
		e.FieldStart("type")
		e.Str("meta")
		e.FieldStart("dataset")
		e.Str(dsPath)
		e.FieldStart("key")
		e.Str(d.Key())
		e.FieldStart("change")
		e.ObjStart()
		for _, f := range fields {
			e.FieldStart(f.Marker)
			encodeAny(&e, f.Value)
		}
		e.ObjEnd()
		e.ObjEnd()
		if err := j.writeLine(e.Bytes()); err != nil {
			return err
		}
	}

	for _, d := range features {
		fields, err := plusMinusFields(ctx, d, j.b.opts.Advanced)
		if err != nil {
			return err
		}
		var e jx.Encoder
		e.ObjStart()
		e.FieldStart("type")
		e.Str("feature")
		e.FieldStart("dataset")
		e.Str(dsPath)
		e.FieldStart("change")
		e.ObjStart()
		for _, f := range fields {
			e.FieldStart(f.Marker)
			encodeAny(&e, f.Value)
		}
		e.ObjEnd()
		e.ObjEnd()
		if err := j.writeLine(e.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// writeSchemaInfo emits a metaInfo record carrying the dataset's current
// (unchanged) schema for consumers that need column types to interpret
// feature records.
func (j *jsonLinesWriter) writeSchemaInfo(ctx context.Context, dsPath string) error {
	ds, err := dataset.Open(ctx, j.b.odb, j.b.rng.TargetTree, dsPath)
	if err != nil || ds == nil {
		return err
	}
	s, err := ds.Schema(ctx)
	if err != nil {
		return err
	}
	schemaJSON, err := s.ToColumnDicts()
	if err != nil {
		return err
	}
	// The column dicts render indented; records must stay one line each.
	var compact bytes.Buffer
	if err := json.Compact(&compact, schemaJSON); err != nil {
		return err
	}
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str("metaInfo")
	e.FieldStart("dataset")
	e.Str(dsPath)
	e.FieldStart("key")
	e.Str(dataset.MetaSchema)
	e.FieldStart("value")
	e.Raw(compact.Bytes())
	e.ObjEnd()
	return j.writeLine(e.Bytes())
}

func (j *jsonLinesWriter) writeFooter(ctx context.Context) error {
	if j.estimateCh == nil {
		return nil
	}
	// Body is done: take the estimate if it already arrived, else cancel
	// and move on. The worker polls the token between datasets and fails
	// out cleanly.
	var counts map[string]int64
	select {
	case counts = <-j.estimateCh:
	default:
		j.estimateToken.Cancel()
		select {
		case counts = <-j.estimateCh:
		default:
		}
	}
	if counts == nil {
		return nil
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("type")
	e.Str("featureCountEstimate")
	e.FieldStart("accuracy")
	e.Str(string(j.b.opts.EstimateAccuracy))
	e.FieldStart("datasets")
	e.ObjStart()
	for _, dsPath := range sortedCountKeys(counts) {
		e.FieldStart(dsPath)
		e.Int64(counts[dsPath])
	}
	e.ObjEnd()
	e.ObjEnd()
	return j.writeLine(e.Bytes())
}

func (j *jsonLinesWriter) writeLine(b []byte) error {
	if _, err := j.b.opts.Out.Write(b); err != nil {
		return err
	}
	_, err := j.b.opts.Out.Write([]byte("\n"))
	return err
}

func sortedCountKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
