package object

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/tablevc/tablevc/pkg/types"
)

// Builder buffers path-keyed tree mutations in memory and flushes them into
// a new immutable tree. It is a bulk-construction tool, not a merge engine:
// two writes to the same path within one batch are last-write-wins, with no
// conflict detection.
type Builder struct {
	odb     *ODB
	current *Tree
	root    *bufNode
	prefix  []string
}

type bufNode struct {
	// Exactly one of these is meaningful per leaf; children is set for
	// interior nodes. A node may carry both children and a removal when a
	// blob is replaced by a directory.
	remove   bool
	blob     []byte
	blobID   types.OID
	hasBlob  bool
	children map[string]*bufNode
}

// NewBuilder starts a construction session on top of base (nil for the
// empty tree).
func NewBuilder(odb *ODB, base *Tree) *Builder {
	if base == nil {
		base = &Tree{}
	}
	return &Builder{odb: odb, current: base, root: &bufNode{}}
}

// ChdirScope pushes a path prefix for subsequent Insert/Remove calls and
// returns the function that restores the previous prefix. Callers defer it
// so the prefix is restored even when they fail midway.
func (b *Builder) ChdirScope(prefix string) func() {
	saved := b.prefix
	b.prefix = append(append([]string(nil), b.prefix...), splitPath(prefix)...)
	return func() { b.prefix = saved }
}

// Insert buffers a blob write at the given path (relative to the current
// directory scope). The blob is stored at flush time.
func (b *Builder) Insert(p string, data []byte) {
	n := b.nodeFor(p)
	n.blob = data
	n.blobID = types.ZeroOID
	n.hasBlob = true
	n.remove = false
}

// InsertID buffers a write of an already-stored blob at the given path.
func (b *Builder) InsertID(p string, id types.OID) {
	n := b.nodeFor(p)
	n.blob = nil
	n.blobID = id
	n.hasBlob = true
	n.remove = false
}

// Remove buffers a deletion at the given path. Removing an absent path is
// a no-op at flush time.
func (b *Builder) Remove(p string) {
	n := b.nodeFor(p)
	n.blob = nil
	n.blobID = types.ZeroOID
	n.hasBlob = false
	n.remove = true
}

func (b *Builder) nodeFor(p string) *bufNode {
	segs := append(append([]string(nil), b.prefix...), splitPath(p)...)
	n := b.root
	for _, seg := range segs {
		if n.children == nil {
			n.children = make(map[string]*bufNode)
		}
		child, ok := n.children[seg]
		if !ok {
			child = &bufNode{}
			n.children[seg] = child
		}
		n = child
	}
	return n
}

// Flush applies all buffered writes to the last-flushed (or initial) tree,
// producing a new immutable tree and clearing the buffer. Insert/Remove/
// Flush cycles may be interleaved with direct use of the returned tree.
func (b *Builder) Flush(ctx context.Context) (*Tree, error) {
	newTree, err := b.applyNode(ctx, b.current, b.root)
	if err != nil {
		return nil, err
	}
	if newTree == nil {
		newTree = &Tree{}
	}
	b.current = newTree
	b.root = &bufNode{}
	return newTree, nil
}

// applyNode merges one buffered directory node into an existing tree,
// returning the resulting tree or nil when it ends up empty.
func (b *Builder) applyNode(ctx context.Context, existing *Tree, n *bufNode) (*Tree, error) {
	entries := map[string]TreeEntry{}
	for _, e := range existing.Entries() {
		entries[e.Name] = e
	}
	for name, child := range n.children {
		switch {
		case child.hasBlob:
			id := child.blobID
			if id.IsZero() {
				var err error
				if id, err = b.odb.PutBlob(ctx, child.blob); err != nil {
					return nil, err
				}
			}
			entries[name] = TreeEntry{Name: name, ID: id, Kind: types.KindBlob}
		case child.remove && child.children == nil:
			delete(entries, name)
		case child.children != nil:
			var sub *Tree
			if e, ok := entries[name]; ok && e.Kind == types.KindTree && !child.remove {
				var err error
				if sub, err = b.odb.GetTree(ctx, e.ID); err != nil {
					return nil, err
				}
			} else {
				sub = &Tree{}
			}
			merged, err := b.applyNode(ctx, sub, child)
			if err != nil {
				return nil, err
			}
			if merged == nil || len(merged.Entries()) == 0 {
				delete(entries, name)
				continue
			}
			id, err := b.odb.PutTree(ctx, merged)
			if err != nil {
				return nil, err
			}
			entries[name] = TreeEntry{Name: name, ID: id, Kind: types.KindTree}
		}
	}
	if len(entries) == 0 {
		return nil, nil
	}
	flat := make([]TreeEntry, 0, len(entries))
	for _, e := range entries {
		flat = append(flat, e)
	}
	t := NewTree(flat)
	if _, err := b.odb.PutTree(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// CommitInfo carries authorship for Commit.
type CommitInfo struct {
	AuthorName    string
	AuthorEmail   string
	AuthorTime    time.Time
	OffsetMinutes int
	Message       string
	Parents       []types.OID
}

// Commit flushes the buffer and creates a commit pointing at the result.
func (b *Builder) Commit(ctx context.Context, info CommitInfo) (*Commit, error) {
	t, err := b.Flush(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := b.odb.PutTree(ctx, t); err != nil {
		return nil, err
	}
	c := &Commit{
		TreeID:              t.ID(),
		Parents:             info.Parents,
		AuthorName:          info.AuthorName,
		AuthorEmail:         info.AuthorEmail,
		AuthorTime:          info.AuthorTime,
		AuthorOffsetMinutes: info.OffsetMinutes,
		Message:             info.Message,
	}
	if _, err := b.odb.PutCommit(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// CleanPath normalizes a dataset-relative path for builder calls.
func CleanPath(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}
