package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tablevc/tablevc/internal/config"
	"github.com/tablevc/tablevc/internal/object"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.RepoDir = filepath.Join(t.TempDir(), "repo")
	return cfg
}

func TestNew_CreatesRepoLayout(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	assert.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Repo())
	assert.NotNil(t, a.ODB())
	assert.Empty(t, a.Repo().RefNames())
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Diff.Format = "carrier-pigeon"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestRefs_PersistAcrossSessions(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := New(ctx, cfg)
	assert.NoError(t, err)

	b := object.NewBuilder(a.ODB(), nil)
	b.Insert("data", []byte("hello"))
	c, err := b.Commit(ctx, object.CommitInfo{
		AuthorName: "author",
		AuthorTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Message:    "initial",
	})
	assert.NoError(t, err)
	a.Repo().SetRef("HEAD", c.ID())
	a.Repo().SetRef("main", c.ID())
	assert.NoError(t, a.Close())

	a, err = New(ctx, cfg)
	assert.NoError(t, err)
	defer a.Close()

	head, err := a.Repo().RevParse(ctx, "HEAD")
	assert.NoError(t, err)
	assert.Equal(t, c.ID(), head.ID())
	assert.Equal(t, "initial", head.Message)
}

func TestWorkingCopy_NilUntilCreated(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t))
	assert.NoError(t, err)
	defer a.Close()

	wc, err := a.WorkingCopy(ctx)
	assert.NoError(t, err)
	assert.Nil(t, wc)

	b := object.NewBuilder(a.ODB(), nil)
	b.Insert("data", []byte("hello"))
	tree, err := b.Flush(ctx)
	assert.NoError(t, err)

	created, err := a.CreateWorkingCopy(ctx, tree)
	assert.NoError(t, err)
	assert.NotNil(t, created)

	// The same session hands back the opened copy.
	wc, err = a.WorkingCopy(ctx)
	assert.NoError(t, err)
	assert.Same(t, created, wc)

	baseID, err := wc.BaseTreeID(ctx)
	assert.NoError(t, err)
	assert.Equal(t, tree.ID(), baseID)
}

func TestAnnotations_OpenedOnce(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	assert.NoError(t, err)
	defer a.Close()

	s1, err := a.Annotations()
	assert.NoError(t, err)
	s2, err := a.Annotations()
	assert.NoError(t, err)
	assert.Same(t, s1, s2)

	assert.NoError(t, s1.PutEstimate("k", 3))
	v, ok, err := s2.GetEstimate("k")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(3), v)
}
