package schema

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestLegend_DumpsLoadRoundTrip(t *testing.T) {
	l := NewLegend([]string{"a", "b"}, []string{"c", "d", "e"})
	data, err := l.Dumps()
	assert.NoError(t, err)

	got, err := LoadLegend(data)
	assert.NoError(t, err)
	assert.True(t, l.Equal(got))
}

func TestLegend_HashDependsOnOrdering(t *testing.T) {
	a := NewLegend([]string{"x"}, []string{"y", "z"})
	b := NewLegend([]string{"x"}, []string{"z", "y"})

	ha, err := a.Hash()
	assert.NoError(t, err)
	hb, err := b.Hash()
	assert.NoError(t, err)
	assert.NotEqual(t, ha, hb)

	// Same content hashes identically across instances.
	ha2, err := NewLegend([]string{"x"}, []string{"y", "z"}).Hash()
	assert.NoError(t, err)
	assert.Equal(t, ha, ha2)
}

func TestLoadLegend_Corrupt(t *testing.T) {
	_, err := LoadLegend([]byte{0xc1, 0xff, 0x00})
	assert.Error(t, err)
}

func TestLegend_RawDictMissingColumnsBecomeNil(t *testing.T) {
	l := NewLegend([]string{"pk"}, []string{"a", "b"})
	pk, nonPK := l.RawDictToValueTuples(map[string]any{"pk": int64(1), "a": "x"})
	assert.Equal(t, []any{int64(1)}, pk)
	assert.Equal(t, []any{"x", nil}, nonPK)
}

func TestProperty_LegendRoundTrips(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	genIDs := gen.SliceOf(gen.Identifier())

	properties.Property("loads(dumps(L)) == L", prop.ForAll(
		func(pks, nonPKs []string) bool {
			l := NewLegend(pks, nonPKs)
			data, err := l.Dumps()
			if err != nil {
				return false
			}
			got, err := LoadLegend(data)
			return err == nil && l.Equal(got)
		},
		genIDs, genIDs,
	))

	properties.Property("tuples(dict(P, N)) == (P, N)", prop.ForAll(
		func(pks, nonPKs []string) bool {
			ids := dedupeIDs(pks, nonPKs)
			l := NewLegend(ids[0], ids[1])
			pkVals := make([]any, len(ids[0]))
			for i := range pkVals {
				pkVals[i] = int64(i)
			}
			nonPKVals := make([]any, len(ids[1]))
			for i := range nonPKVals {
				nonPKVals[i] = "v" + ids[1][i]
			}
			raw := l.ValueTuplesToRawDict(pkVals, nonPKVals)
			gotPK, gotNonPK := l.RawDictToValueTuples(raw)
			if len(gotPK) != len(pkVals) || len(gotNonPK) != len(nonPKVals) {
				return false
			}
			for i := range pkVals {
				if gotPK[i] != pkVals[i] {
					return false
				}
			}
			for i := range nonPKVals {
				if gotNonPK[i] != nonPKVals[i] {
					return false
				}
			}
			return true
		},
		genIDs, genIDs,
	))

	properties.TestingRun(t)
}

// dedupeIDs makes the two id lists disjoint and duplicate-free, the shape
// every legend derived from a valid schema has.
func dedupeIDs(pks, nonPKs []string) [2][]string {
	seen := map[string]bool{}
	var out [2][]string
	for _, id := range pks {
		if !seen[id] {
			seen[id] = true
			out[0] = append(out[0], id)
		}
	}
	for _, id := range nonPKs {
		if !seen[id] {
			seen[id] = true
			out[1] = append(out[1], id)
		}
	}
	return out
}
