package dataset

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/pathcodec"
	"github.com/tablevc/tablevc/internal/schema"
	"github.com/tablevc/tablevc/pkg/types"
)

// A stored feature blob is msgpack [legend-hash-bytes, [non-pk values]].
// PK values live only in the feature's path; the legend hash says which
// schema version the value tuple was written under.

// EncodeFeatureBlob serializes a feature's non-pk values under a legend.
func EncodeFeatureBlob(legend *schema.Legend, nonPKValues []any) ([]byte, error) {
	h, err := legend.Hash()
	if err != nil {
		return nil, err
	}
	canon := make([]any, len(nonPKValues))
	for i, v := range nonPKValues {
		canon[i] = pathcodec.Canonical(v)
	}
	data, err := msgpack.Marshal([]any{h[:], canon})
	if err != nil {
		return nil, fmt.Errorf("dataset: encode feature: %w", err)
	}
	return data, nil
}

// DecodeFeatureBlob splits a stored feature blob into its legend hash and
// raw non-pk value tuple.
func DecodeFeatureBlob(blob []byte) (legendHex string, nonPKValues []any, err error) {
	var payload []any
	if err := msgpack.Unmarshal(blob, &payload); err != nil || len(payload) != 2 {
		return "", nil, errors.Wrap(errors.ErrCategoryStructural, errors.CodeCorruptFeature,
			"dataset: undecodable feature blob", err)
	}
	hashBytes, _ := payload[0].([]byte)
	if len(hashBytes) != 32 {
		return "", nil, errors.NewStructuralError(errors.CodeCorruptFeature,
			fmt.Sprintf("dataset: feature blob has bad legend hash length %d", len(hashBytes)))
	}
	values, _ := payload[1].([]any)
	for i, v := range values {
		values[i] = pathcodec.Canonical(v)
	}
	return hex.EncodeToString(hashBytes), values, nil
}

// DecodeFeature materializes a full feature row (column name -> value) from
// a feature path and blob. Rows written under an old legend are decoded by
// that legend; columns the current schema no longer knows keep their raw
// column id as the key.
func (d *Dataset) DecodeFeature(ctx context.Context, featurePath string, blob []byte) (map[string]any, error) {
	pkValues, err := pathcodec.Decode(featurePath)
	if err != nil {
		return nil, err
	}
	legendHex, nonPK, err := DecodeFeatureBlob(blob)
	if err != nil {
		return nil, err
	}
	legend, err := d.Legend(ctx, legendHex)
	if err != nil {
		return nil, err
	}
	raw := legend.ValueTuplesToRawDict(pkValues, nonPK)
	s, err := d.Schema(ctx)
	if err != nil {
		return nil, err
	}
	row := make(map[string]any, len(raw))
	for id, v := range raw {
		if col, ok := s.ColumnByID(id); ok {
			row[col.Name] = v
		} else {
			row[id] = v
		}
	}
	return row, nil
}

// EncodeFeature turns a feature row (column name -> value) into its
// storage path and blob under the dataset's current schema.
func (d *Dataset) EncodeFeature(ctx context.Context, row map[string]any) (featurePath string, blob []byte, err error) {
	s, err := d.Schema(ctx)
	if err != nil {
		return "", nil, err
	}
	return EncodeFeatureForSchema(s, row)
}

// EncodeFeatureForSchema is the schema-parameterized form of EncodeFeature,
// usable before a Dataset view exists (imports, patch apply).
func EncodeFeatureForSchema(s *schema.Schema, row map[string]any) (string, []byte, error) {
	legend := s.Legend()
	raw := make(map[string]any, len(row))
	for name, v := range row {
		if col, ok := s.ColumnByName(name); ok {
			raw[col.ID] = v
		}
	}
	pkValues, nonPK := legend.RawDictToValueTuples(raw)
	pkValues = s.SanitisePKs(pkValues)
	p, err := pathcodec.Encode(pkValues)
	if err != nil {
		return "", nil, err
	}
	blob, err := EncodeFeatureBlob(legend, nonPK)
	if err != nil {
		return "", nil, err
	}
	return p, blob, nil
}

// PKKey returns the diff key for a feature row: the reversible filename
// encoding of its sanitised pk tuple.
func PKKey(s *schema.Schema, row map[string]any) (string, error) {
	pkCols := s.PKColumns()
	pkValues := make([]any, len(pkCols))
	for i, c := range pkCols {
		pkValues[i] = row[c.Name]
	}
	return pathcodec.EncodeFilename(s.SanitisePKs(pkValues))
}

// WriteSchema inserts a dataset's schema.json and current legend into a
// builder, creating the dataset if it did not exist.
func WriteSchema(ctx context.Context, b *object.Builder, dsPath string, s *schema.Schema) error {
	data, err := s.ToColumnDicts()
	if err != nil {
		return err
	}
	b.Insert(MetaPath(dsPath, MetaSchema), data)
	legend := s.Legend()
	legendData, err := legend.Dumps()
	if err != nil {
		return err
	}
	h := types.HashObject(types.KindBlob, legendData)
	b.Insert(MetaPath(dsPath, LegendMetaName(h.Hex())), legendData)
	return nil
}

// WriteFeature inserts one feature row into a builder under the dataset's
// schema.
func WriteFeature(ctx context.Context, b *object.Builder, dsPath string, s *schema.Schema, row map[string]any) error {
	p, blob, err := EncodeFeatureForSchema(s, row)
	if err != nil {
		return err
	}
	b.Insert(FeaturePathPrefix(dsPath)+"/"+p, blob)
	return nil
}
