// Package schema models a dataset's column structure: the ordered column
// list, the primary-key ordering rules, and the legend used to interpret
// raw stored rows written under schema versions that have since evolved.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/tablevc/tablevc/internal/errors"
)

// DataType enumerates the column data types tablevc stores.
type DataType string

const (
	TypeBoolean   DataType = "boolean"
	TypeBlob      DataType = "blob"
	TypeDate      DataType = "date"
	TypeDatetime  DataType = "datetime"
	TypeFloat     DataType = "float"
	TypeGeometry  DataType = "geometry"
	TypeInteger   DataType = "integer"
	TypeInterval  DataType = "interval"
	TypeNumeric   DataType = "numeric"
	TypeText      DataType = "text"
	TypeTime      DataType = "time"
	TypeTimestamp DataType = "timestamp"
)

// columnIDNamespace seeds deterministic column-id derivation. Versioned:
// changing it (or the digest layout below) breaks column identity in every
// existing repository, so it never changes within a repo format version.
var columnIDNamespace = uuid.MustParse("95ef8e8a-7fb8-4f7c-94f1-6bd9bfd8b4f2")

// ColumnSchema is one immutable column definition.
type ColumnSchema struct {
	// ID is a stable opaque identifier. Freshly generated at import, or
	// deterministically derived from (name, type, salt) so re-imports of
	// the same source re-align without a mapping file.
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	DataType      DataType       `json:"dataType"`
	PKIndex       *int           `json:"primaryKeyIndex,omitempty"`
	ExtraTypeInfo map[string]any `json:"-"`
}

// IsPK reports whether the column is part of the primary key.
func (c ColumnSchema) IsPK() bool {
	return c.PKIndex != nil
}

// DeterministicColumnID derives a stable column id from the column's name,
// type, and a per-import salt, via a SHA1 UUID in a fixed namespace.
func DeterministicColumnID(name string, dataType DataType, salt string) string {
	payload := name + "\x00" + string(dataType) + "\x00" + salt
	return uuid.NewSHA1(columnIDNamespace, []byte(payload)).String()
}

// NewColumnID generates a fresh random column id (import of a brand-new
// column with no identity to preserve).
func NewColumnID() string {
	return uuid.New().String()
}

// Schema is an ordered, immutable sequence of columns. Construct only via
// New or FromColumnDicts so the primary-key invariant always holds.
type Schema struct {
	columns []ColumnSchema
}

// New validates and builds a Schema. If any column carries a PKIndex, the
// set of PKIndex values must be exactly {0..k-1}: gaps or duplicates are a
// structural invariant violation, not a user-input error.
func New(columns []ColumnSchema) (*Schema, error) {
	seen := map[int]string{}
	for _, c := range columns {
		if c.PKIndex == nil {
			continue
		}
		i := *c.PKIndex
		if i < 0 {
			return nil, errors.NewStructuralError(errors.CodeInvalidSchema,
				fmt.Sprintf("schema: column %q has negative pk index %d", c.Name, i))
		}
		if prev, dup := seen[i]; dup {
			return nil, errors.NewStructuralError(errors.CodeInvalidSchema,
				fmt.Sprintf("schema: pk index %d used by both %q and %q", i, prev, c.Name))
		}
		seen[i] = c.Name
	}
	for i := 0; i < len(seen); i++ {
		if _, ok := seen[i]; !ok {
			return nil, errors.NewStructuralError(errors.CodeInvalidSchema,
				fmt.Sprintf("schema: pk indexes have a gap at %d", i))
		}
	}
	cols := make([]ColumnSchema, len(columns))
	copy(cols, columns)
	return &Schema{columns: cols}, nil
}

// Columns returns the ordered column list. Callers must not mutate it.
func (s *Schema) Columns() []ColumnSchema {
	return s.columns
}

// Len returns the number of columns.
func (s *Schema) Len() int {
	return len(s.columns)
}

// ColumnByID finds a column by its stable id.
func (s *Schema) ColumnByID(id string) (ColumnSchema, bool) {
	for _, c := range s.columns {
		if c.ID == id {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// ColumnByName finds a column by name.
func (s *Schema) ColumnByName(name string) (ColumnSchema, bool) {
	for _, c := range s.columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// PKColumns returns the primary-key columns sorted by PKIndex.
func (s *Schema) PKColumns() []ColumnSchema {
	var pks []ColumnSchema
	for _, c := range s.columns {
		if c.IsPK() {
			pks = append(pks, c)
		}
	}
	sort.Slice(pks, func(i, j int) bool { return *pks[i].PKIndex < *pks[j].PKIndex })
	return pks
}

// NonPKColumns returns the non-key columns in schema order.
func (s *Schema) NonPKColumns() []ColumnSchema {
	var cols []ColumnSchema
	for _, c := range s.columns {
		if !c.IsPK() {
			cols = append(cols, c)
		}
	}
	return cols
}

// GeometryColumns returns the geometry-typed columns in schema order.
func (s *Schema) GeometryColumns() []ColumnSchema {
	var cols []ColumnSchema
	for _, c := range s.columns {
		if c.DataType == TypeGeometry {
			cols = append(cols, c)
		}
	}
	return cols
}

// Legend derives this schema's legend: the ordered pk / non-pk column-id
// lists used to interpret raw stored rows.
func (s *Schema) Legend() *Legend {
	pk := make([]string, 0, 2)
	for _, c := range s.PKColumns() {
		pk = append(pk, c.ID)
	}
	nonPK := make([]string, 0, len(s.columns))
	for _, c := range s.NonPKColumns() {
		nonPK = append(nonPK, c.ID)
	}
	return &Legend{pkColumnIDs: pk, nonPKColumnIDs: nonPK}
}

// IsPKCompatible reports whether other's legend has exactly the same
// pk-column-id list. Incompatible schemas force every feature to be
// rewritten at a new path.
func (s *Schema) IsPKCompatible(other *Schema) bool {
	a, b := s.Legend().PKColumnIDs(), other.Legend().PKColumnIDs()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// TypeCounts classifies a schema-to-schema change without touching any
// feature data.
type TypeCounts struct {
	Inserts         int `json:"inserts,omitempty"`
	Deletes         int `json:"deletes,omitempty"`
	NameUpdates     int `json:"nameUpdates,omitempty"`
	PositionUpdates int `json:"positionUpdates,omitempty"`
	TypeUpdates     int `json:"typeUpdates,omitempty"`
	PKUpdates       int `json:"primaryKeyUpdates,omitempty"`
}

// DiffTypeCounts classifies the change from s to newSchema, matching
// columns by id.
func (s *Schema) DiffTypeCounts(newSchema *Schema) TypeCounts {
	var tc TypeCounts
	oldPos := map[string]int{}
	for i, c := range s.columns {
		oldPos[c.ID] = i
	}
	newPos := map[string]int{}
	for i, c := range newSchema.columns {
		newPos[c.ID] = i
	}
	for _, c := range s.columns {
		if _, ok := newPos[c.ID]; !ok {
			tc.Deletes++
		}
	}
	for i, nc := range newSchema.columns {
		j, ok := oldPos[nc.ID]
		if !ok {
			tc.Inserts++
			continue
		}
		oc := s.columns[j]
		if oc.Name != nc.Name {
			tc.NameUpdates++
		}
		if movedPosition(s.columns, newSchema.columns, j, i) {
			tc.PositionUpdates++
		}
		if oc.DataType != nc.DataType {
			tc.TypeUpdates++
		}
		if !samePKIndex(oc.PKIndex, nc.PKIndex) {
			tc.PKUpdates++
		}
	}
	return tc
}

// movedPosition reports whether a column's position changed relative to the
// surviving columns, so pure inserts/deletes don't count every following
// column as moved.
func movedPosition(oldCols, newCols []ColumnSchema, oldIdx, newIdx int) bool {
	surviving := map[string]bool{}
	for _, c := range newCols {
		surviving[c.ID] = true
	}
	rank := func(cols []ColumnSchema, idx int) int {
		r := 0
		for i := 0; i < idx; i++ {
			if surviving[cols[i].ID] {
				r++
			}
		}
		return r
	}
	return rank(oldCols, oldIdx) != rank(newCols, newIdx)
}

func samePKIndex(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// ApproveFunc judges whether two columns are "the same column, possibly
// compatibly retyped" for alignment purposes.
type ApproveFunc func(existing, incoming ColumnSchema) bool

// DefaultApprove matches columns by name when the type is unchanged or the
// retype is lossless-widening.
func DefaultApprove(existing, incoming ColumnSchema) bool {
	if existing.Name != incoming.Name {
		return false
	}
	if existing.DataType == incoming.DataType {
		return true
	}
	widening := map[DataType]DataType{
		TypeInteger: TypeNumeric,
		TypeFloat:   TypeNumeric,
		TypeDate:    TypeTimestamp,
	}
	return widening[existing.DataType] == incoming.DataType
}

// AlignToSelf re-maps an incoming schema's column identities onto this
// schema's existing ids wherever approve judges two columns the same,
// preserving history across re-imports. Columns with no match keep their
// incoming ids. Column order and content come from the incoming schema.
func (s *Schema) AlignToSelf(incoming *Schema, approve ApproveFunc) *Schema {
	if approve == nil {
		approve = DefaultApprove
	}
	used := map[string]bool{}
	aligned := make([]ColumnSchema, len(incoming.columns))
	for i, inc := range incoming.columns {
		aligned[i] = inc
		for _, ex := range s.columns {
			if used[ex.ID] {
				continue
			}
			if approve(ex, inc) {
				aligned[i].ID = ex.ID
				used[ex.ID] = true
				break
			}
		}
	}
	out, err := New(aligned)
	if err != nil {
		// Alignment only rewrites ids; pk structure came from a schema
		// that already validated.
		panic(err)
	}
	return out
}

// ToColumnDicts serializes the schema as its canonical JSON column list.
func (s *Schema) ToColumnDicts() ([]byte, error) {
	type colDict struct {
		ID       string   `json:"id"`
		Name     string   `json:"name"`
		DataType DataType `json:"dataType"`
		PKIndex  *int     `json:"primaryKeyIndex,omitempty"`
		Size     any      `json:"size,omitempty"`
		Length   any      `json:"length,omitempty"`
		GeomType any      `json:"geometryType,omitempty"`
		GeomCRS  any      `json:"geometryCRS,omitempty"`
	}
	dicts := make([]colDict, len(s.columns))
	for i, c := range s.columns {
		dicts[i] = colDict{
			ID:       c.ID,
			Name:     c.Name,
			DataType: c.DataType,
			PKIndex:  c.PKIndex,
			Size:     c.ExtraTypeInfo["size"],
			Length:   c.ExtraTypeInfo["length"],
			GeomType: c.ExtraTypeInfo["geometryType"],
			GeomCRS:  c.ExtraTypeInfo["geometryCRS"],
		}
	}
	return json.MarshalIndent(dicts, "", "  ")
}

// FromColumnDicts parses the canonical JSON column list into a Schema.
func FromColumnDicts(data []byte) (*Schema, error) {
	var dicts []map[string]any
	if err := json.Unmarshal(data, &dicts); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryStructural, errors.CodeInvalidSchema,
			"schema: unparseable column list", err)
	}
	cols := make([]ColumnSchema, 0, len(dicts))
	for _, d := range dicts {
		c := ColumnSchema{ExtraTypeInfo: map[string]any{}}
		if v, ok := d["id"].(string); ok {
			c.ID = v
		}
		if v, ok := d["name"].(string); ok {
			c.Name = v
		}
		if v, ok := d["dataType"].(string); ok {
			c.DataType = DataType(v)
		}
		if v, ok := d["primaryKeyIndex"]; ok && v != nil {
			f, ok := v.(float64)
			if !ok {
				return nil, errors.NewStructuralError(errors.CodeInvalidSchema,
					fmt.Sprintf("schema: column %q has non-integer primaryKeyIndex", c.Name))
			}
			i := int(f)
			c.PKIndex = &i
		}
		for _, extra := range []string{"size", "length", "geometryType", "geometryCRS"} {
			if v, ok := d[extra]; ok && v != nil {
				c.ExtraTypeInfo[extra] = v
			}
		}
		cols = append(cols, c)
	}
	return New(cols)
}
