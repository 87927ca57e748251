package writer

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/jx"

	"github.com/tablevc/tablevc/internal/diff"
)

// pmField is one marker of a rendered delta: "-"/"+" for the two sides of
// an update, "--"/"++" for pure deletes and inserts in advanced mode.
type pmField struct {
	Marker string
	Value  any
}

// plusMinusFields renders a delta into its marker fields. Normal mode uses
// "-" and "+" only; advanced mode disambiguates pure deletes and inserts
// so patch application never has to guess.
func plusMinusFields(ctx context.Context, d *diff.Delta, advanced bool) ([]pmField, error) {
	var out []pmField
	t := d.Type()
	if d.Old != nil {
		v, err := d.Old.Value.Get(ctx)
		if err != nil {
			return nil, err
		}
		marker := "-"
		if advanced && t == diff.Delete {
			marker = "--"
		}
		out = append(out, pmField{Marker: marker, Value: v})
	}
	if d.New != nil {
		v, err := d.New.Value.Get(ctx)
		if err != nil {
			return nil, err
		}
		marker := "+"
		if advanced && t == diff.Insert {
			marker = "++"
		}
		out = append(out, pmField{Marker: marker, Value: v})
	}
	return out, nil
}

// encodeAny writes an arbitrary decoded value as JSON. Feature rows are
// string-keyed maps with scalar leaves; blobs travel base64-encoded,
// geometries are already hex-WKB strings by the time they get here.
func encodeAny(e *jx.Encoder, v any) {
	switch n := v.(type) {
	case nil:
		e.Null()
	case bool:
		e.Bool(n)
	case string:
		e.Str(n)
	case int:
		e.Int(n)
	case int8:
		e.Int64(int64(n))
	case int16:
		e.Int64(int64(n))
	case int32:
		e.Int64(int64(n))
	case int64:
		e.Int64(n)
	case uint64:
		e.UInt64(n)
	case float32:
		e.Float64(float64(n))
	case float64:
		e.Float64(n)
	case []byte:
		e.Base64(n)
	case map[string]any:
		keys := make([]string, 0, len(n))
		for k := range n {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		e.ObjStart()
		for _, k := range keys {
			e.FieldStart(k)
			encodeAny(e, n[k])
		}
		e.ObjEnd()
	case []any:
		e.ArrStart()
		for _, item := range n {
			encodeAny(e, item)
		}
		e.ArrEnd()
	default:
		e.Str(fmt.Sprintf("%v", n))
	}
}

// encodePatchMetadata writes the kart.patch/v1 block.
func encodePatchMetadata(e *jx.Encoder, p *PatchMetadata) {
	e.ObjStart()
	e.FieldStart("authorName")
	e.Str(p.AuthorName)
	e.FieldStart("authorEmail")
	e.Str(p.AuthorEmail)
	e.FieldStart("authorTime")
	e.Str(p.AuthorTime)
	e.FieldStart("authorTimeOffset")
	e.Str(p.AuthorTimeOffset)
	e.FieldStart("message")
	e.Str(p.Message)
	if p.Base != "" {
		e.FieldStart("base")
		e.Str(p.Base)
	}
	if p.CRS != "" {
		e.FieldStart("crs")
		e.Str(p.CRS)
	}
	e.ObjEnd()
}
