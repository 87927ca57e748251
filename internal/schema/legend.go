package schema

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/pkg/types"
)

// Legend is an immutable pair of ordered column-id lists, derived from a
// schema's pk ordering. A legend is stored alongside the rows written under
// it, so rows written under an old schema stay decodable after the schema
// evolves: a row's identity is (pk values, legend hash) -> non-pk values.
type Legend struct {
	pkColumnIDs    []string
	nonPKColumnIDs []string
}

// NewLegend builds a legend directly from its two id lists.
func NewLegend(pkColumnIDs, nonPKColumnIDs []string) *Legend {
	return &Legend{
		pkColumnIDs:    append([]string(nil), pkColumnIDs...),
		nonPKColumnIDs: append([]string(nil), nonPKColumnIDs...),
	}
}

// PKColumnIDs returns the ordered pk column ids. Callers must not mutate.
func (l *Legend) PKColumnIDs() []string {
	return l.pkColumnIDs
}

// NonPKColumnIDs returns the ordered non-pk column ids.
func (l *Legend) NonPKColumnIDs() []string {
	return l.nonPKColumnIDs
}

// Equal reports structural equality of two legends.
func (l *Legend) Equal(o *Legend) bool {
	if len(l.pkColumnIDs) != len(o.pkColumnIDs) || len(l.nonPKColumnIDs) != len(o.nonPKColumnIDs) {
		return false
	}
	for i := range l.pkColumnIDs {
		if l.pkColumnIDs[i] != o.pkColumnIDs[i] {
			return false
		}
	}
	for i := range l.nonPKColumnIDs {
		if l.nonPKColumnIDs[i] != o.nonPKColumnIDs[i] {
			return false
		}
	}
	return true
}

// Dumps serializes the legend to its canonical msgpack encoding.
func (l *Legend) Dumps() ([]byte, error) {
	payload := [2][]string{l.pkColumnIDs, l.nonPKColumnIDs}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("schema: legend encode: %w", err)
	}
	return data, nil
}

// LoadLegend parses a stored legend blob.
func LoadLegend(data []byte) (*Legend, error) {
	var payload [2][]string
	if err := msgpack.Unmarshal(data, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryStructural, errors.CodeCorruptLegend,
			"schema: undecodable legend blob", err)
	}
	return NewLegend(payload[0], payload[1]), nil
}

// Hash returns the content hash of the legend's canonical encoding. This is
// the legend reference stored inside every feature blob.
func (l *Legend) Hash() (types.OID, error) {
	data, err := l.Dumps()
	if err != nil {
		return types.ZeroOID, err
	}
	return types.HashObject(types.KindBlob, data), nil
}

// RawDictToValueTuples splits a raw feature dict (column id -> value) into
// the (pk values, non-pk values) tuples this legend defines. Columns absent
// from the dict become nil values.
func (l *Legend) RawDictToValueTuples(raw map[string]any) (pkValues, nonPKValues []any) {
	pkValues = make([]any, len(l.pkColumnIDs))
	for i, id := range l.pkColumnIDs {
		pkValues[i] = raw[id]
	}
	nonPKValues = make([]any, len(l.nonPKColumnIDs))
	for i, id := range l.nonPKColumnIDs {
		nonPKValues[i] = raw[id]
	}
	return pkValues, nonPKValues
}

// ValueTuplesToRawDict is the inverse of RawDictToValueTuples.
func (l *Legend) ValueTuplesToRawDict(pkValues, nonPKValues []any) map[string]any {
	raw := make(map[string]any, len(l.pkColumnIDs)+len(l.nonPKColumnIDs))
	for i, id := range l.pkColumnIDs {
		if i < len(pkValues) {
			raw[id] = pkValues[i]
		}
	}
	for i, id := range l.nonPKColumnIDs {
		if i < len(nonPKValues) {
			raw[id] = nonPKValues[i]
		}
	}
	return raw
}
