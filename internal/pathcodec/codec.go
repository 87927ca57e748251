// Package pathcodec maps a feature's primary-key tuple to its storage path
// and back. Encoding is a pure function of the pk values: canonical msgpack
// of the tuple, content-hashed into a two-level hex shard prefix, with the
// filename a reversible encoding of the tuple itself (the hash is lossy,
// the filename is not). Two levels of 256-way fan-out keep directories
// bounded up to roughly 4.3M features per dataset.
package pathcodec

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tablevc/tablevc/internal/errors"
)

// DecodeError reports a path segment that does not parse as an encoded pk
// tuple. It indicates corruption and propagates unmodified.
func decodeError(seg string, cause error) error {
	return errors.Wrap(errors.ErrCategoryStructural, errors.CodePathDecode,
		fmt.Sprintf("pathcodec: malformed path segment %q", seg), cause)
}

// Encode returns the sharded relative path for a pk tuple:
// "xx/yy/<filename>". Values should be sanitised (schema.SanitisePKs)
// first so textual pk components from CLI filters collide with their
// stored counterparts.
func Encode(pkValues []any) (string, error) {
	packed, err := marshalCanonical(pkValues)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(packed)
	shard := hex.EncodeToString(sum[:2])
	name := base64.RawURLEncoding.EncodeToString(packed)
	return path.Join(shard[:2], shard[2:], name), nil
}

// EncodeFilename returns only the reversible filename component, without
// the shard prefix. Used as the stable per-feature key in diffs.
func EncodeFilename(pkValues []any) (string, error) {
	packed, err := marshalCanonical(pkValues)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(packed), nil
}

// Decode recovers the pk tuple from a feature path or bare filename. The
// shard directories are a derived cache key, not semantic: only the final
// segment is read.
func Decode(p string) ([]any, error) {
	seg := p
	if i := strings.LastIndexByte(p, '/'); i >= 0 {
		seg = p[i+1:]
	}
	packed, err := base64.RawURLEncoding.DecodeString(seg)
	if err != nil {
		return nil, decodeError(seg, err)
	}
	var values []any
	if err := msgpack.Unmarshal(packed, &values); err != nil {
		return nil, decodeError(seg, err)
	}
	for i, v := range values {
		values[i] = Canonical(v)
	}
	return values, nil
}

// marshalCanonical serializes a pk tuple deterministically: every value is
// first reduced to its canonical Go type so that e.g. int32(5) and
// int64(5) produce identical bytes.
func marshalCanonical(pkValues []any) ([]byte, error) {
	canon := make([]any, len(pkValues))
	for i, v := range pkValues {
		canon[i] = Canonical(v)
	}
	data, err := msgpack.Marshal(canon)
	if err != nil {
		return nil, fmt.Errorf("pathcodec: encode pk tuple: %w", err)
	}
	return data, nil
}

// Canonical reduces a pk value to its canonical type: int64 for all
// integer widths, float64 for floats, with strings, bools and byte slices
// unchanged.
func Canonical(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int8:
		return int64(n)
	case int16:
		return int64(n)
	case int32:
		return int64(n)
	case uint:
		return int64(n)
	case uint8:
		return int64(n)
	case uint16:
		return int64(n)
	case uint32:
		return int64(n)
	case uint64:
		return int64(n)
	case float32:
		return float64(n)
	}
	return v
}
