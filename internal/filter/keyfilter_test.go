package filter

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"github.com/tablevc/tablevc/internal/errors"
	"github.com/tablevc/tablevc/pkg/types"
)

func TestBuildFromUserPatterns_ZeroPatternsMatchesAll(t *testing.T) {
	f, err := BuildFromUserPatterns(nil)
	assert.NoError(t, err)
	assert.True(t, f.IsMatchAll())
	assert.True(t, f.MatchesDataset("anything"))
	assert.True(t, f.Matches("anything", types.ItemTypeFeature, "42"))
}

func TestBuildFromUserPatterns_DatasetOnly(t *testing.T) {
	f, err := BuildFromUserPatterns([]string{"points"})
	assert.NoError(t, err)
	assert.True(t, f.MatchesDataset("points"))
	assert.False(t, f.MatchesDataset("lines"))
	assert.True(t, f.Matches("points", types.ItemTypeFeature, "42"))
	assert.True(t, f.Matches("points", types.ItemTypeMeta, "schema.json"))
}

func TestBuildFromUserPatterns_KeyShorthandImpliesFeature(t *testing.T) {
	f, err := BuildFromUserPatterns([]string{"points:123"})
	assert.NoError(t, err)
	assert.True(t, f.Matches("points", types.ItemTypeFeature, "123"))
	assert.False(t, f.Matches("points", types.ItemTypeFeature, "1234"), "keys compare whole, never by prefix")
	assert.False(t, f.Matches("points", types.ItemTypeFeature, "12"))
	assert.False(t, f.Matches("points", types.ItemTypeMeta, "123"))
}

func TestBuildFromUserPatterns_ExplicitItemType(t *testing.T) {
	f, err := BuildFromUserPatterns([]string{"points:meta:title"})
	assert.NoError(t, err)
	assert.True(t, f.Matches("points", types.ItemTypeMeta, "title"))
	assert.False(t, f.Matches("points", types.ItemTypeFeature, "title"))
}

func TestBuildFromUserPatterns_Globs(t *testing.T) {
	f, err := BuildFromUserPatterns([]string{"census/*"})
	assert.NoError(t, err)
	assert.True(t, f.MatchesDataset("census/roads"))
	assert.False(t, f.MatchesDataset("other"))
	assert.True(t, f.DatasetNode("census/roads").IsMatchAll())

	_, err = BuildFromUserPatterns([]string{"census/*:feature:1"})
	assert.Error(t, err, "glob paths cannot carry item filters")
}

func TestBuildFromUserPatterns_BadPatterns(t *testing.T) {
	for _, p := range []string{"", ".", "/", "points:nope:1"} {
		_, err := BuildFromUserPatterns([]string{p})
		if !assert.Error(t, err, p) {
			continue
		}
		assert.Equal(t, 2, errors.ExitCode(err), p)
	}
}

func TestRecursiveSet_UnderMatchAllIsNoop(t *testing.T) {
	n := MatchAllNode()
	n.RecursiveSet("a", "b")
	assert.True(t, n.IsMatchAll())
	assert.True(t, n.RecursiveGet("x", "y"))
}

func TestProperty_MatchAllDominates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genKeys := gen.SliceOfN(3, gen.Identifier())

	properties.Property("anything set is found again", prop.ForAll(
		func(keys []string) bool {
			n := NewPartialNode()
			n.RecursiveSet(keys...)
			return n.RecursiveGet(keys...)
		},
		genKeys,
	))

	properties.Property("querying deeper than a set path still matches", prop.ForAll(
		func(keys []string, extra string) bool {
			n := NewPartialNode()
			n.RecursiveSet(keys...)
			return n.RecursiveGet(append(keys, extra)...)
		},
		genKeys, gen.Identifier(),
	))

	properties.TestingRun(t)
}
