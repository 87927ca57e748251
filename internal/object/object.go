// Package object implements the content-addressed object store tablevc
// versions datasets in: blobs, trees, commits, the promised-object
// registry for partial clones, and the buffered ObjectBuilder used by
// commit-producing operations.
package object

import (
	"fmt"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/pkg/types"
)

// TreeEntry is one named child of a tree: a blob or a subtree.
type TreeEntry struct {
	Name string
	ID   types.OID
	Kind types.ObjectKind
}

// Tree is an immutable, name-sorted directory object. The zero Tree is the
// empty tree.
type Tree struct {
	id      types.OID
	entries []TreeEntry
}

// NewTree builds a tree from entries, sorting them by name. Duplicate names
// keep the last occurrence.
func NewTree(entries []TreeEntry) *Tree {
	byName := make(map[string]TreeEntry, len(entries))
	for _, e := range entries {
		byName[e.Name] = e
	}
	out := make([]TreeEntry, 0, len(byName))
	for _, e := range byName {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	t := &Tree{entries: out}
	t.id = types.HashObject(types.KindTree, t.encode())
	return t
}

// ID returns the tree's content address.
func (t *Tree) ID() types.OID {
	if t == nil || len(t.entries) == 0 {
		return EmptyTreeID
	}
	return t.id
}

// Entries returns the name-sorted entries. Callers must not mutate.
func (t *Tree) Entries() []TreeEntry {
	if t == nil {
		return nil
	}
	return t.entries
}

// Get finds an entry by name.
func (t *Tree) Get(name string) (TreeEntry, bool) {
	if t == nil {
		return TreeEntry{}, false
	}
	i := sort.Search(len(t.entries), func(i int) bool { return t.entries[i].Name >= name })
	if i < len(t.entries) && t.entries[i].Name == name {
		return t.entries[i], true
	}
	return TreeEntry{}, false
}

// encode produces the tree's canonical msgpack encoding: a name-sorted list
// of [name, kind, id] triples.
func (t *Tree) encode() []byte {
	rows := make([][3]any, len(t.entries))
	for i, e := range t.entries {
		rows[i] = [3]any{e.Name, byte(e.Kind), e.ID[:]}
	}
	data, err := msgpack.Marshal(rows)
	if err != nil {
		// Only fixed shapes are encoded; failure is a programming error.
		panic(fmt.Sprintf("object: tree encode: %v", err))
	}
	return data
}

func decodeTree(id types.OID, data []byte) (*Tree, error) {
	var rows [][3]any
	if err := msgpack.Unmarshal(data, &rows); err != nil {
		return nil, errors.Wrap(errors.ErrCategoryStructural, errors.CodeCorruptionDetected,
			fmt.Sprintf("object: undecodable tree %s", id), err)
	}
	entries := make([]TreeEntry, 0, len(rows))
	for _, r := range rows {
		name, _ := r[0].(string)
		var kind byte
		switch k := r[1].(type) {
		case int8:
			kind = byte(k)
		case int64:
			kind = byte(k)
		case uint64:
			kind = byte(k)
		case byte:
			kind = k
		}
		idBytes, _ := r[2].([]byte)
		var oid types.OID
		if len(idBytes) != len(oid) {
			return nil, errors.NewStructuralError(errors.CodeCorruptionDetected,
				fmt.Sprintf("object: tree %s entry %q has bad id length %d", id, name, len(idBytes)))
		}
		copy(oid[:], idBytes)
		entries = append(entries, TreeEntry{Name: name, ID: oid, Kind: types.ObjectKind(kind)})
	}
	t := &Tree{id: id, entries: entries}
	return t, nil
}

// EmptyTreeID is the content address of the empty tree.
var EmptyTreeID = types.HashObject(types.KindTree, (&Tree{}).encode())

// Commit records a snapshot plus authorship.
type Commit struct {
	id          types.OID
	TreeID      types.OID
	Parents     []types.OID
	AuthorName  string
	AuthorEmail string
	AuthorTime  time.Time
	// AuthorOffsetMinutes preserves the author's UTC offset; AuthorTime is
	// stored in UTC.
	AuthorOffsetMinutes int
	Message             string
}

// ID returns the commit's content address (zero before storage).
func (c *Commit) ID() types.OID {
	return c.id
}

func (c *Commit) encode() []byte {
	parents := make([][]byte, len(c.Parents))
	for i, p := range c.Parents {
		parents[i] = p[:]
	}
	payload := []any{
		c.TreeID[:], parents,
		c.AuthorName, c.AuthorEmail,
		c.AuthorTime.UTC().Unix(), c.AuthorOffsetMinutes,
		c.Message,
	}
	data, err := msgpack.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("object: commit encode: %v", err))
	}
	return data
}

func decodeCommit(id types.OID, data []byte) (*Commit, error) {
	var payload []any
	if err := msgpack.Unmarshal(data, &payload); err != nil || len(payload) != 7 {
		return nil, errors.Wrap(errors.ErrCategoryStructural, errors.CodeCorruptionDetected,
			fmt.Sprintf("object: undecodable commit %s", id), err)
	}
	c := &Commit{id: id}
	treeBytes, _ := payload[0].([]byte)
	copy(c.TreeID[:], treeBytes)
	if parentRows, ok := payload[1].([]any); ok {
		for _, pr := range parentRows {
			pb, _ := pr.([]byte)
			var p types.OID
			copy(p[:], pb)
			c.Parents = append(c.Parents, p)
		}
	}
	c.AuthorName, _ = payload[2].(string)
	c.AuthorEmail, _ = payload[3].(string)
	c.AuthorTime = time.Unix(asInt64(payload[4]), 0).UTC()
	c.AuthorOffsetMinutes = int(asInt64(payload[5]))
	c.Message, _ = payload[6].(string)
	return c, nil
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	case int8:
		return int64(n)
	case uint64:
		return int64(n)
	case uint32:
		return int64(n)
	case uint16:
		return int64(n)
	case uint8:
		return int64(n)
	case int:
		return int64(n)
	}
	return 0
}
