// Package dataset provides the dataset-level view over a stored tree: the
// hidden directory layout, meta items (schema, legends, CRS definitions),
// and the feature blob codec. A dataset exists exactly when its schema.json
// meta item exists; there is no separate existence marker.
package dataset

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/schema"
	"github.com/tablevc/tablevc/pkg/types"
)

// HiddenDirName is the per-dataset directory holding meta and content
// items. Its presence under a tree path is what makes that path a dataset.
const HiddenDirName = ".table-dataset"

// Well-known meta item names.
const (
	MetaSchema       = "schema.json"
	MetaTitle        = "title"
	MetaDescription  = "description"
	legendPrefix     = "legend/"
	crsPrefix        = "crs/"
	featureDirName   = "feature"
	metaDirName      = "meta"
)

// Dataset is a read view of one dataset within one tree snapshot. Schema
// and legends load lazily and cache per instance.
type Dataset struct {
	Path string

	odb  *object.ODB
	tree *object.Tree // the hidden-dir subtree

	mu      sync.Mutex
	schema  *schema.Schema
	legends map[string]*schema.Legend
}

// Open returns the dataset view at dsPath within root, or nil when the
// path holds no dataset.
func Open(ctx context.Context, odb *object.ODB, root *object.Tree, dsPath string) (*Dataset, error) {
	hidden, err := object.GetTreeAt(ctx, odb, root, path.Join(dsPath, HiddenDirName))
	if err != nil || hidden == nil {
		return nil, err
	}
	if id, err := object.GetBlobIDAt(ctx, odb, hidden, metaDirName+"/"+MetaSchema); err != nil || id.IsZero() {
		return nil, err
	}
	return &Dataset{
		Path:    dsPath,
		odb:     odb,
		tree:    hidden,
		legends: make(map[string]*schema.Legend),
	}, nil
}

// Find walks root and returns every dataset path, sorted.
func Find(ctx context.Context, odb *object.ODB, root *object.Tree) ([]string, error) {
	var out []string
	var walk func(prefix string, t *object.Tree) error
	walk = func(prefix string, t *object.Tree) error {
		for _, e := range t.Entries() {
			if e.Kind != types.KindTree {
				continue
			}
			if e.Name == HiddenDirName {
				out = append(out, prefix)
				continue
			}
			sub, err := odb.GetTree(ctx, e.ID)
			if err != nil {
				return err
			}
			if err := walk(path.Join(prefix, e.Name), sub); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk("", root); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

// Schema loads and caches the dataset's schema.
func (d *Dataset) Schema(ctx context.Context) (*schema.Schema, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.schema != nil {
		return d.schema, nil
	}
	data, err := d.metaBlob(ctx, MetaSchema)
	if err != nil {
		return nil, err
	}
	s, err := schema.FromColumnDicts(data)
	if err != nil {
		return nil, err
	}
	d.schema = s
	return s, nil
}

// Legend loads and caches a legend by its hex hash.
func (d *Dataset) Legend(ctx context.Context, hexHash string) (*schema.Legend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if l, ok := d.legends[hexHash]; ok {
		return l, nil
	}
	data, err := d.metaBlob(ctx, legendPrefix+hexHash)
	if err != nil {
		return nil, err
	}
	l, err := schema.LoadLegend(data)
	if err != nil {
		return nil, err
	}
	d.legends[hexHash] = l
	return l, nil
}

// CRS returns the dataset's CRS name, taken from its first geometry
// column, or "" for non-spatial datasets. Multiple geometry columns with
// conflicting CRS names are an InvalidOperation.
func (d *Dataset) CRS(ctx context.Context) (string, error) {
	s, err := d.Schema(ctx)
	if err != nil {
		return "", err
	}
	name := ""
	for _, c := range s.GeometryColumns() {
		crs, _ := c.ExtraTypeInfo["geometryCRS"].(string)
		if crs == "" {
			continue
		}
		if name != "" && name != crs {
			return "", errors.NewInvalidOperation(errors.CodeMultipleCrs,
				fmt.Sprintf("dataset %s declares multiple CRS: %s and %s", d.Path, name, crs))
		}
		name = crs
	}
	return name, nil
}

// GeometryColumn returns the name of the dataset's first geometry column,
// or "".
func (d *Dataset) GeometryColumn(ctx context.Context) (string, error) {
	s, err := d.Schema(ctx)
	if err != nil {
		return "", err
	}
	cols := s.GeometryColumns()
	if len(cols) == 0 {
		return "", nil
	}
	return cols[0].Name, nil
}

func (d *Dataset) metaBlob(ctx context.Context, name string) ([]byte, error) {
	id, err := object.GetBlobIDAt(ctx, d.odb, d.tree, metaDirName+"/"+name)
	if err != nil {
		return nil, err
	}
	if id.IsZero() {
		return nil, errors.NewNotFound(errors.CodeObjectNotFound,
			fmt.Sprintf("dataset %s has no meta item %q", d.Path, name))
	}
	return d.odb.GetBlob(ctx, id)
}

// MetaTree returns the dataset's meta subtree (may be nil).
func (d *Dataset) MetaTree(ctx context.Context) (*object.Tree, error) {
	return object.GetTreeAt(ctx, d.odb, d.tree, metaDirName)
}

// FeatureTree returns the dataset's feature subtree (may be nil for an
// empty dataset).
func (d *Dataset) FeatureTree(ctx context.Context) (*object.Tree, error) {
	return object.GetTreeAt(ctx, d.odb, d.tree, featureDirName)
}

// MetaPath returns the tree path of a meta item relative to the repo root.
func MetaPath(dsPath, name string) string {
	return path.Join(dsPath, HiddenDirName, metaDirName, name)
}

// FeaturePathPrefix returns the tree path of the feature directory.
func FeaturePathPrefix(dsPath string) string {
	return path.Join(dsPath, HiddenDirName, featureDirName)
}

// LegendMetaName returns the meta item name for a legend hash.
func LegendMetaName(hexHash string) string {
	return legendPrefix + hexHash
}

// CRSMetaName returns the meta item name for a CRS definition, e.g.
// "crs/EPSG:4326.wkt".
func CRSMetaName(crsName string) string {
	return crsPrefix + crsName + ".wkt"
}

// IsLegendMetaItem reports whether a meta item name is a stored legend.
func IsLegendMetaItem(name string) bool {
	return strings.HasPrefix(name, legendPrefix)
}
