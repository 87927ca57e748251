package types

// ItemType classifies the kinds of items a dataset stores. Diffs are grouped
// per item type; "meta" covers schema, legends and CRS definitions, while
// "feature", "tile" and "file" carry the dataset's content.
type ItemType string

const (
	ItemTypeMeta    ItemType = "meta"
	ItemTypeFeature ItemType = "feature"
	ItemTypeTile    ItemType = "tile"
	ItemTypeFile    ItemType = "file"
)

// AllItemTypes lists item types in their canonical output order: meta first,
// then content items.
var AllItemTypes = []ItemType{ItemTypeMeta, ItemTypeFeature, ItemTypeTile, ItemTypeFile}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemTypeMeta, ItemTypeFeature, ItemTypeTile, ItemTypeFile:
		return true
	}
	return false
}
