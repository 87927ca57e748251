// Package app wires a repository session: object storage, refs, the
// working copy, the annotation store and the optional promisor remote,
// opened from configuration and released together.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/tablevc/tablevc/internal/annotations"
	"github.com/tablevc/tablevc/internal/config"
	"github.com/tablevc/tablevc/internal/object"
	"github.com/tablevc/tablevc/internal/workingcopy"
	"github.com/tablevc/tablevc/pkg/types"
)

// App is one opened repository with its attached resources.
type App struct {
	cfg *config.Config

	// Shared resources
	backend *object.FileBackend
	odb     *object.ODB
	repo    *object.Repo

	// Lazily-opened resources
	mu          sync.Mutex
	wc          *workingcopy.SQLiteWorkingCopy
	annotations *annotations.Store
}

// New opens the repository described by cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	backend, err := object.NewFileBackend(cfg.ObjectsDir())
	if err != nil {
		return nil, err
	}

	var promisor *object.Promisor
	if cfg.Remote.Type == "s3" {
		remote, err := object.NewS3Remote(ctx, cfg.Remote.S3.Bucket, object.S3RemoteConfig{
			Region:   cfg.Remote.S3.Region,
			Endpoint: cfg.Remote.S3.Endpoint,
			Prefix:   cfg.Remote.S3.Prefix,
		})
		if err != nil {
			return nil, err
		}
		promisor = object.NewPromisor(remote, cfg.Remote.Concurrency)
	}

	odb := object.NewODB(backend, promisor)
	repo := object.NewRepo(odb)

	a := &App{cfg: cfg, backend: backend, odb: odb, repo: repo}
	if err := a.loadRefs(); err != nil {
		return nil, err
	}
	return a, nil
}

// Config, Repo and ODB expose the session's shared resources.
func (a *App) Config() *config.Config {
	return a.cfg
}

func (a *App) Repo() *object.Repo {
	return a.repo
}

func (a *App) ODB() *object.ODB {
	return a.odb
}

// WorkingCopy opens (once) the SQLite working copy. Returns nil without
// error when the repository has no working copy yet.
func (a *App) WorkingCopy(ctx context.Context) (*workingcopy.SQLiteWorkingCopy, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wc != nil {
		return a.wc, nil
	}
	if _, err := os.Stat(a.cfg.WorkingCopy.Path); os.IsNotExist(err) {
		return nil, nil
	}
	wc, err := workingcopy.OpenSQLite(a.cfg.WorkingCopy.Path, a.odb)
	if err != nil {
		return nil, err
	}
	a.wc = wc
	return wc, nil
}

// CreateWorkingCopy creates (if needed) and checks out a working copy at
// the configured path.
func (a *App) CreateWorkingCopy(ctx context.Context, tree *object.Tree) (*workingcopy.SQLiteWorkingCopy, error) {
	a.mu.Lock()
	if a.wc == nil {
		wc, err := workingcopy.OpenSQLite(a.cfg.WorkingCopy.Path, a.odb)
		if err != nil {
			a.mu.Unlock()
			return nil, err
		}
		a.wc = wc
	}
	wc := a.wc
	a.mu.Unlock()

	if err := wc.Reset(ctx, tree); err != nil {
		return nil, err
	}
	return wc, nil
}

// Annotations opens (once) the estimate-memo store.
func (a *App) Annotations() (*annotations.Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.annotations != nil {
		return a.annotations, nil
	}
	store, err := annotations.Open(a.cfg.AnnotationsPath())
	if err != nil {
		return nil, err
	}
	a.annotations = store
	return store, nil
}

// Close persists refs and releases every opened resource.
func (a *App) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	if err := a.saveRefs(); err != nil {
		firstErr = err
	}
	if a.wc != nil {
		if err := a.wc.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.wc = nil
	}
	if a.annotations != nil {
		if err := a.annotations.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		a.annotations = nil
	}
	return firstErr
}

func (a *App) refsPath() string {
	return filepath.Join(a.cfg.RepoDir, "refs.json")
}

// loadRefs reads the flat ref file into the repo. A missing file is an
// empty repo.
func (a *App) loadRefs() error {
	data, err := os.ReadFile(a.refsPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("app: read refs: %w", err)
	}
	refs := map[string]string{}
	if err := json.Unmarshal(data, &refs); err != nil {
		return fmt.Errorf("app: parse refs: %w", err)
	}
	for name, hexID := range refs {
		id, err := types.ParseOID(hexID)
		if err != nil {
			return fmt.Errorf("app: ref %q: %w", name, err)
		}
		a.repo.SetRef(name, id)
	}
	return nil
}

// saveRefs writes the repo's refs back out, atomically.
func (a *App) saveRefs() error {
	names := a.repo.RefNames()
	sort.Strings(names)
	refs := make(map[string]string, len(names))
	for _, name := range names {
		if id, ok := a.repo.Ref(name); ok {
			refs[name] = id.Hex()
		}
	}
	data, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return err
	}
	tmp := a.refsPath() + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, a.refsPath())
}
