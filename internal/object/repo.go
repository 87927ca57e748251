package object

import (
	"context"
	"fmt"
	"sync"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/pkg/types"
)

// Repo couples an object database with its refs. Refs are a flat name to
// commit-id mapping; "HEAD" is conventionally present.
type Repo struct {
	odb *ODB

	mu   sync.RWMutex
	refs map[string]types.OID
}

// NewRepo creates a repo over an object database with no refs.
func NewRepo(odb *ODB) *Repo {
	return &Repo{odb: odb, refs: make(map[string]types.OID)}
}

// ODB returns the underlying object database.
func (r *Repo) ODB() *ODB {
	return r.odb
}

// SetRef points a ref at a commit.
func (r *Repo) SetRef(name string, id types.OID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs[name] = id
}

// Ref resolves a ref name to a commit id.
func (r *Repo) Ref(name string) (types.OID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.refs[name]
	return id, ok
}

// RefNames lists all ref names, in no particular order.
func (r *Repo) RefNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.refs))
	for name := range r.refs {
		names = append(names, name)
	}
	return names
}

// RevParse resolves a revision string: a ref name, or a full hex commit id.
func (r *Repo) RevParse(ctx context.Context, rev string) (*Commit, error) {
	if rev == "" {
		rev = "HEAD"
	}
	if id, ok := r.Ref(rev); ok {
		return r.odb.GetCommit(ctx, id)
	}
	id, err := types.ParseOID(rev)
	if err != nil {
		return nil, errors.NewNotFound(errors.CodeCommitNotFound,
			fmt.Sprintf("no commit or ref named %q", rev))
	}
	c, err := r.odb.GetCommit(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCategoryNotFound, errors.CodeCommitNotFound,
			fmt.Sprintf("commit %q not found", rev), err)
	}
	return c, nil
}

// TreeOf loads the root tree of a commit.
func (r *Repo) TreeOf(ctx context.Context, c *Commit) (*Tree, error) {
	return r.odb.GetTree(ctx, c.TreeID)
}

// MergeBase finds the nearest common ancestor of two commits. Returns an
// InvalidOperation error when the commits share no history.
func (r *Repo) MergeBase(ctx context.Context, a, b *Commit) (*Commit, error) {
	ancestors := map[types.OID]bool{}
	queue := []types.OID{a.ID()}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if ancestors[id] {
			continue
		}
		ancestors[id] = true
		c, err := r.odb.GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		queue = append(queue, c.Parents...)
	}

	// Breadth-first from b finds the nearest ancestor of b that is also
	// an ancestor of a.
	seen := map[types.OID]bool{}
	queue = []types.OID{b.ID()}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		if ancestors[id] {
			return r.odb.GetCommit(ctx, id)
		}
		c, err := r.odb.GetCommit(ctx, id)
		if err != nil {
			return nil, err
		}
		queue = append(queue, c.Parents...)
	}
	return nil, errors.NewInvalidOperation(errors.CodeNoCommonAncestor,
		fmt.Sprintf("commits %s and %s share no common ancestor", a.ID(), b.ID()))
}
