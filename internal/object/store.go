package object

import (
	"context"
	"fmt"
	"sync"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/pkg/types"
)

// Backend stores raw object bytes by content address. Implementations must
// be safe for concurrent reads; writes are serialized by the caller.
type Backend interface {
	Get(ctx context.Context, id types.OID) ([]byte, error)
	Put(ctx context.Context, id types.OID, data []byte) error
	Has(ctx context.Context, id types.OID) (bool, error)
}

// ODB is the typed object database: blobs, trees and commits over a raw
// Backend, with promised-object awareness.
type ODB struct {
	backend  Backend
	promisor *Promisor

	mu        sync.RWMutex
	treeCache map[types.OID]*Tree
}

// NewODB wraps a backend. promisor may be nil for fully-local repos.
func NewODB(backend Backend, promisor *Promisor) *ODB {
	return &ODB{
		backend:   backend,
		promisor:  promisor,
		treeCache: make(map[types.OID]*Tree),
	}
}

// Promisor returns the promised-object registry, or nil.
func (o *ODB) Promisor() *Promisor {
	return o.promisor
}

// get fetches raw bytes, translating an absent-but-promised object into
// the PromisedValueNotReady signal. A missing object that is not promised
// is genuine corruption or a bad reference and stays a NotFound error.
func (o *ODB) get(ctx context.Context, id types.OID) ([]byte, error) {
	data, err := o.backend.Get(ctx, id)
	if err == nil {
		return data, nil
	}
	if errors.GetCategory(err) == errors.ErrCategoryNotFound && o.promisor != nil && o.promisor.IsPromised(id) {
		return nil, &errors.PromisedValueNotReady{ID: id}
	}
	return nil, err
}

// HasLocal reports whether the object's content is locally resolvable,
// without triggering any fetch.
func (o *ODB) HasLocal(ctx context.Context, id types.OID) (bool, error) {
	return o.backend.Has(ctx, id)
}

// GetBlob returns a blob's content.
func (o *ODB) GetBlob(ctx context.Context, id types.OID) ([]byte, error) {
	return o.get(ctx, id)
}

// PutBlob stores a blob and returns its id.
func (o *ODB) PutBlob(ctx context.Context, data []byte) (types.OID, error) {
	id := types.HashObject(types.KindBlob, data)
	if err := o.backend.Put(ctx, id, data); err != nil {
		return types.ZeroOID, err
	}
	return id, nil
}

// GetTree loads a tree. The empty-tree id always succeeds, stored or not.
func (o *ODB) GetTree(ctx context.Context, id types.OID) (*Tree, error) {
	if id.IsZero() || id == EmptyTreeID {
		return &Tree{}, nil
	}
	o.mu.RLock()
	if t, ok := o.treeCache[id]; ok {
		o.mu.RUnlock()
		return t, nil
	}
	o.mu.RUnlock()
	data, err := o.get(ctx, id)
	if err != nil {
		return nil, err
	}
	t, err := decodeTree(id, data)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.treeCache[id] = t
	o.mu.Unlock()
	return t, nil
}

// PutTree stores a tree and returns its id.
func (o *ODB) PutTree(ctx context.Context, t *Tree) (types.OID, error) {
	data := t.encode()
	id := types.HashObject(types.KindTree, data)
	if err := o.backend.Put(ctx, id, data); err != nil {
		return types.ZeroOID, err
	}
	t.id = id
	o.mu.Lock()
	o.treeCache[id] = t
	o.mu.Unlock()
	return id, nil
}

// GetCommit loads a commit.
func (o *ODB) GetCommit(ctx context.Context, id types.OID) (*Commit, error) {
	data, err := o.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeCommit(id, data)
}

// PutCommit stores a commit and returns its id.
func (o *ODB) PutCommit(ctx context.Context, c *Commit) (types.OID, error) {
	data := c.encode()
	id := types.HashObject(types.KindCommit, data)
	if err := o.backend.Put(ctx, id, data); err != nil {
		return types.ZeroOID, err
	}
	c.id = id
	return id, nil
}

// MemoryBackend is an in-process Backend for tests and scratch repos.
type MemoryBackend struct {
	mu      sync.RWMutex
	objects map[types.OID][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{objects: make(map[types.OID][]byte)}
}

func (m *MemoryBackend) Get(ctx context.Context, id types.OID) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[id]
	if !ok {
		return nil, errors.NewNotFound(errors.CodeObjectNotFound,
			fmt.Sprintf("object %s not in store", id))
	}
	return data, nil
}

func (m *MemoryBackend) Put(ctx context.Context, id types.OID, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[id]; !ok {
		m.objects[id] = append([]byte(nil), data...)
	}
	return nil
}

func (m *MemoryBackend) Has(ctx context.Context, id types.OID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[id]
	return ok, nil
}

// Delete removes an object. Test helper for simulating partial clones.
func (m *MemoryBackend) Delete(id types.OID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
}
