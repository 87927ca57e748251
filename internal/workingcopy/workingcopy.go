// Package workingcopy renders dataset snapshots as live, editable
// database tables and diffs them back against canonical tree state. The
// only backend in-tree is SQLite (the GeoPackage family); PostGIS and SQL
// Server adapters plug in behind the same interface.
package workingcopy

import (
	"context"

	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/pkg/types"
)

// WorkingCopy is the capability the diff engine and checkout operations
// consume.
type WorkingCopy interface {
	// BaseTreeID is the tree this working copy was last reset to. A diff
	// against HEAD requires this to match HEAD's tree.
	BaseTreeID(ctx context.Context) (types.OID, error)

	// DiffToTree renders the working copy's current state (including
	// uncommitted edits) as a tree, so base..working-copy composes like
	// commit-range diffing.
	DiffToTree(ctx context.Context) (*object.Tree, error)

	// Reset checks out the given tree, replacing all working-copy state.
	Reset(ctx context.Context, tree *object.Tree) error

	// Session acquires a scoped database session. Write sessions are
	// exclusive: at most one write transaction is open at a time.
	Session(ctx context.Context, readOnly bool) (Session, error)

	Close() error
}

// Session is a scoped working-copy database session, released
// deterministically via Close even on error paths.
type Session interface {
	// Exec runs one statement inside the session.
	Exec(ctx context.Context, query string, args ...any) error
	// Commit commits a write session (no-op for read sessions).
	Commit() error
	// Close releases the session, rolling back an uncommitted write.
	Close() error
}
