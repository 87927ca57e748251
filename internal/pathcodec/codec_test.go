package pathcodec

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestEncode_ShardShape(t *testing.T) {
	p, err := Encode([]any{int64(5)})
	assert.NoError(t, err)

	parts := strings.Split(p, "/")
	assert.Len(t, parts, 3)
	assert.Len(t, parts[0], 2)
	assert.Len(t, parts[1], 2)
	assert.NotEmpty(t, parts[2])
}

func TestEncode_IntegerWidthsCollapse(t *testing.T) {
	// All integer widths of the same value must produce the same path.
	base, err := Encode([]any{int64(42)})
	assert.NoError(t, err)

	for _, v := range []any{int(42), int8(42), int16(42), int32(42), uint(42), uint64(42)} {
		p, err := Encode([]any{v})
		assert.NoError(t, err)
		assert.Equal(t, base, p)
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	tuples := [][]any{
		{int64(1)},
		{int64(-7), "part"},
		{"a|b", int64(0)},
		{3.5},
		{true, "x", int64(99)},
	}
	for _, pk := range tuples {
		p, err := Encode(pk)
		assert.NoError(t, err)
		got, err := Decode(p)
		assert.NoError(t, err)
		assert.Equal(t, pk, got)
	}
}

func TestDecode_BareFilename(t *testing.T) {
	p, err := Encode([]any{int64(12), "n"})
	assert.NoError(t, err)

	filename := p[strings.LastIndexByte(p, '/')+1:]
	got, err := Decode(filename)
	assert.NoError(t, err)
	assert.Equal(t, []any{int64(12), "n"}, got)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode("aa/bb/not!base64!")
	assert.Error(t, err)

	_, err = Decode("aa/bb/AAAA")
	assert.Error(t, err)
}

func TestEncodeFilename_MatchesEncode(t *testing.T) {
	pk := []any{int64(5), "name"}
	p, err := Encode(pk)
	assert.NoError(t, err)
	name, err := EncodeFilename(pk)
	assert.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, "/"+name))
}

// TestProperty_PathCodecBijection checks decode(encode(pk)) == pk for
// arbitrary legal pk tuples, and that encoding depends on the pk alone.
func TestProperty_PathCodecBijection(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("integer pk round-trips", prop.ForAll(
		func(id int64) bool {
			p, err := Encode([]any{id})
			if err != nil {
				return false
			}
			got, err := Decode(p)
			if err != nil || len(got) != 1 {
				return false
			}
			return got[0] == id
		},
		gen.Int64(),
	))

	properties.Property("string+int composite pk round-trips", prop.ForAll(
		func(name string, id int64) bool {
			pk := []any{name, id}
			p, err := Encode(pk)
			if err != nil {
				return false
			}
			got, err := Decode(p)
			if err != nil || len(got) != 2 {
				return false
			}
			return got[0] == name && got[1] == id
		},
		gen.AnyString(),
		gen.Int64(),
	))

	properties.Property("encoding is deterministic", prop.ForAll(
		func(id int64) bool {
			a, err1 := Encode([]any{id})
			b, err2 := Encode([]any{id})
			return err1 == nil && err2 == nil && a == b
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
