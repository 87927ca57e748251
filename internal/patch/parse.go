// Package patch parses kart.diff/v1+hexwkb documents and applies them to a
// tree, producing either a new tree or a complete list of conflicts.
package patch

import (
	"fmt"

	"github.com/go-faster/jx"

	"github.com/tablevc/tablevc/internal/errors"
)

// DiffVersion and MetadataVersion are the two top-level document keys.
const (
	DiffVersion     = "kart.diff/v1+hexwkb"
	MetadataVersion = "kart.patch/v1"
)

// FeatureChange is one feature delta from a patch document. A nil side was
// absent: insert has no Old, delete has no New.
type FeatureChange struct {
	Old map[string]any
	New map[string]any
}

// MetaChange is one meta-item delta. HasOld/HasNew distinguish an absent
// side from an explicit null.
type MetaChange struct {
	Old    any
	New    any
	HasOld bool
	HasNew bool
}

// DatasetChanges groups a dataset's deltas in document order.
type DatasetChanges struct {
	Meta     map[string]MetaChange
	Features []FeatureChange
}

// Metadata is the kart.patch/v1 commit-metadata block.
type Metadata struct {
	AuthorName       string
	AuthorEmail      string
	AuthorTime       string
	AuthorTimeOffset string
	Message          string
	Base             string
	CRS              string
}

// Patch is a parsed diff document.
type Patch struct {
	// Order preserves dataset document order for stable application and
	// reporting.
	Order    []string
	Datasets map[string]*DatasetChanges
	Metadata *Metadata
}

// Parse decodes a patch document. Unknown top-level keys are rejected so a
// future format version fails loudly instead of applying half a patch.
func Parse(data []byte) (*Patch, error) {
	p := &Patch{Datasets: map[string]*DatasetChanges{}}
	d := jx.DecodeBytes(data)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case DiffVersion:
			return parseDatasets(d, p)
		case MetadataVersion:
			return parseMetadata(d, p)
		default:
			return fmt.Errorf("unknown top-level key %q", key)
		}
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryPatch, errors.CodePatchDoesNotApply,
			"patch: malformed document", err)
	}
	if len(p.Order) == 0 {
		return nil, errors.New(errors.ErrCategoryPatch, errors.CodePatchDoesNotApply,
			"patch: document has no "+DiffVersion+" content")
	}
	return p, nil
}

func parseDatasets(d *jx.Decoder, p *Patch) error {
	return d.Obj(func(d *jx.Decoder, dsPath string) error {
		dc := &DatasetChanges{Meta: map[string]MetaChange{}}
		p.Order = append(p.Order, dsPath)
		p.Datasets[dsPath] = dc
		return d.Obj(func(d *jx.Decoder, section string) error {
			switch section {
			case "meta":
				return parseMetaSection(d, dc)
			case "feature":
				return parseFeatureSection(d, dc)
			default:
				return fmt.Errorf("dataset %q: unknown section %q", dsPath, section)
			}
		})
	})
}

func parseMetaSection(d *jx.Decoder, dc *DatasetChanges) error {
	return d.Obj(func(d *jx.Decoder, name string) error {
		var mc MetaChange
		err := d.Obj(func(d *jx.Decoder, marker string) error {
			v, err := decodeAny(d)
			if err != nil {
				return err
			}
			switch marker {
			case "-", "--":
				mc.Old, mc.HasOld = v, true
			case "+", "++":
				mc.New, mc.HasNew = v, true
			default:
				return fmt.Errorf("meta %q: unknown marker %q", name, marker)
			}
			return nil
		})
		if err != nil {
			return err
		}
		dc.Meta[name] = mc
		return nil
	})
}

func parseFeatureSection(d *jx.Decoder, dc *DatasetChanges) error {
	return d.Arr(func(d *jx.Decoder) error {
		var fc FeatureChange
		err := d.Obj(func(d *jx.Decoder, marker string) error {
			row, err := decodeRow(d)
			if err != nil {
				return err
			}
			switch marker {
			case "-", "--":
				fc.Old = row
			case "+", "++":
				fc.New = row
			default:
				return fmt.Errorf("feature change: unknown marker %q", marker)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if fc.Old == nil && fc.New == nil {
			return fmt.Errorf("feature change with neither side")
		}
		dc.Features = append(dc.Features, fc)
		return nil
	})
}

func parseMetadata(d *jx.Decoder, p *Patch) error {
	m := &Metadata{}
	p.Metadata = m
	return d.Obj(func(d *jx.Decoder, key string) error {
		s, err := d.Str()
		if err != nil {
			return fmt.Errorf("metadata %q: %w", key, err)
		}
		switch key {
		case "authorName":
			m.AuthorName = s
		case "authorEmail":
			m.AuthorEmail = s
		case "authorTime":
			m.AuthorTime = s
		case "authorTimeOffset":
			m.AuthorTimeOffset = s
		case "message":
			m.Message = s
		case "base":
			m.Base = s
		case "crs":
			m.CRS = s
		}
		return nil
	})
}

func decodeRow(d *jx.Decoder) (map[string]any, error) {
	row := map[string]any{}
	err := d.Obj(func(d *jx.Decoder, field string) error {
		v, err := decodeAny(d)
		if err != nil {
			return err
		}
		row[field] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// decodeAny materializes one JSON value: integral numbers become int64,
// other numbers float64, matching the canonical value types stored rows
// decode into.
func decodeAny(d *jx.Decoder) (any, error) {
	switch d.Next() {
	case jx.Null:
		return nil, d.Null()
	case jx.Bool:
		return d.Bool()
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return nil, err
		}
		if n.IsInt() {
			return n.Int64()
		}
		return n.Float64()
	case jx.Array:
		var arr []any
		err := d.Arr(func(d *jx.Decoder) error {
			v, err := decodeAny(d)
			if err != nil {
				return err
			}
			arr = append(arr, v)
			return nil
		})
		return arr, err
	case jx.Object:
		obj := map[string]any{}
		err := d.Obj(func(d *jx.Decoder, key string) error {
			v, err := decodeAny(d)
			if err != nil {
				return err
			}
			obj[key] = v
			return nil
		})
		return obj, err
	default:
		return nil, fmt.Errorf("unexpected token %v", d.Next())
	}
}
