// Package filter provides the two delta-subsetting mechanisms: the
// user-pattern key filter (which datasets/items participate in a diff at
// all) and the spatial filter (which feature deltas are emitted).
package filter

import (
	"fmt"
	"path"
	"strings"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/pkg/types"
)

// Node is a recursive filter node: either the match-all terminal, or a
// partial node with per-key children. Match-all at any level means
// everything below it is included; querying deeper never un-matches.
type Node struct {
	matchAll bool
	children map[string]*Node
}

// MatchAllNode returns the terminal match-all node.
func MatchAllNode() *Node {
	return &Node{matchAll: true}
}

// NewPartialNode returns an empty partial node (matches nothing yet).
func NewPartialNode() *Node {
	return &Node{children: make(map[string]*Node)}
}

// IsMatchAll reports whether this node is the match-all terminal.
func (n *Node) IsMatchAll() bool {
	return n != nil && n.matchAll
}

// RecursiveGet reports whether the given path is included. Full key
// equality only at each level: "123" never matches "1234".
func (n *Node) RecursiveGet(keys ...string) bool {
	cur := n
	for _, k := range keys {
		if cur == nil {
			return false
		}
		if cur.matchAll {
			return true
		}
		cur = cur.children[k]
	}
	if cur == nil {
		return false
	}
	// A partial node with children counts as a match at its own level:
	// something below it is included.
	return cur.matchAll || len(cur.children) > 0
}

// Child descends one level. Descending through match-all yields match-all.
func (n *Node) Child(key string) *Node {
	if n == nil {
		return nil
	}
	if n.matchAll {
		return n
	}
	return n.children[key]
}

// RecursiveSet marks a path as included, creating partial nodes along the
// way. Setting under an existing match-all is a no-op; setting with no
// keys turns this node into match-all.
func (n *Node) RecursiveSet(keys ...string) {
	cur := n
	for _, k := range keys {
		if cur.matchAll {
			return
		}
		if cur.children == nil {
			cur.children = make(map[string]*Node)
		}
		child, ok := cur.children[k]
		if !ok {
			child = &Node{children: make(map[string]*Node)}
			cur.children[k] = child
		}
		cur = child
	}
	cur.matchAll = true
	cur.children = nil
}

// RepoKeyFilter subsets a repo diff: dataset path -> item type -> key set.
// Dataset paths additionally support "*" globs for history-search use;
// item-type and key levels are exact-match only.
type RepoKeyFilter struct {
	root  *Node
	globs []string
}

// MatchAll is the filter that includes everything.
var MatchAll = &RepoKeyFilter{root: MatchAllNode()}

// BuildFromUserPatterns parses CLI FILTER arguments. Grammar:
// dataset[:item-type[:key]]; a missing item-type or key means match-all at
// that level. Zero patterns means match everything.
func BuildFromUserPatterns(patterns []string) (*RepoKeyFilter, error) {
	if len(patterns) == 0 {
		return MatchAll, nil
	}
	f := &RepoKeyFilter{root: NewPartialNode()}
	for _, p := range patterns {
		if p == "" {
			return nil, errors.NewUsageError(errors.CodeBadFilter, "empty filter pattern")
		}
		parts := strings.SplitN(p, ":", 3)
		ds := path.Clean(parts[0])
		if ds == "." || ds == "/" {
			return nil, errors.NewUsageError(errors.CodeBadFilter,
				fmt.Sprintf("filter %q has no dataset path", p))
		}
		if strings.Contains(ds, "*") {
			if len(parts) > 1 {
				return nil, errors.NewUsageError(errors.CodeBadFilter,
					fmt.Sprintf("filter %q: glob dataset paths cannot carry item filters", p))
			}
			f.globs = append(f.globs, ds)
			continue
		}
		switch len(parts) {
		case 1:
			f.root.RecursiveSet(ds)
		case 2:
			// Shorthand dataset:key implies the feature item type,
			// unless the segment names a real item type.
			if types.ItemType(parts[1]).Valid() {
				f.root.RecursiveSet(ds, parts[1])
			} else {
				f.root.RecursiveSet(ds, string(types.ItemTypeFeature), parts[1])
			}
		case 3:
			if !types.ItemType(parts[1]).Valid() {
				return nil, errors.NewUsageError(errors.CodeBadFilter,
					fmt.Sprintf("filter %q: unknown item type %q", p, parts[1]))
			}
			f.root.RecursiveSet(ds, parts[1], parts[2])
		}
	}
	return f, nil
}

// IsMatchAll reports whether this filter includes everything.
func (f *RepoKeyFilter) IsMatchAll() bool {
	return f.root.IsMatchAll() && len(f.globs) == 0
}

// MatchesDataset reports whether any item under a dataset path can match.
func (f *RepoKeyFilter) MatchesDataset(dsPath string) bool {
	if f.root.IsMatchAll() {
		return true
	}
	for _, g := range f.globs {
		if ok, _ := path.Match(g, dsPath); ok {
			return true
		}
	}
	return f.root.RecursiveGet(dsPath)
}

// DatasetNode returns the filter node scoped to one dataset, or match-all
// when a glob covers the path.
func (f *RepoKeyFilter) DatasetNode(dsPath string) *Node {
	if f.root.IsMatchAll() {
		return f.root
	}
	for _, g := range f.globs {
		if ok, _ := path.Match(g, dsPath); ok {
			return MatchAllNode()
		}
	}
	return f.root.Child(dsPath)
}

// Matches reports whether one item key is included.
func (f *RepoKeyFilter) Matches(dsPath string, itemType types.ItemType, key string) bool {
	node := f.DatasetNode(dsPath)
	if node == nil {
		return false
	}
	return node.RecursiveGet(string(itemType), key)
}

// Set marks one item key as included; used to accumulate records (e.g.
// pk-conflict sets) with the same addressing scheme as filters.
func (f *RepoKeyFilter) Set(dsPath string, itemType types.ItemType, key string) {
	f.root.RecursiveSet(dsPath, string(itemType), key)
}

// NewEmptyRecorder returns an empty (matches-nothing) filter for use as an
// accumulator.
func NewEmptyRecorder() *RepoKeyFilter {
	return &RepoKeyFilter{root: NewPartialNode()}
}
