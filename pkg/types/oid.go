// Package types holds the value types shared across tablevc components:
// content-addressed object identifiers, object kinds, and the item types
// that make up a dataset.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// OID is a content-addressed object identifier: the SHA-256 of the object's
// canonical encoding. The zero OID is "no object".
type OID [32]byte

// ZeroOID is the absent-object sentinel.
var ZeroOID OID

// ObjectKind identifies what an OID points at.
type ObjectKind byte

const (
	KindBlob ObjectKind = iota + 1
	KindTree
	KindCommit
)

func (k ObjectKind) String() string {
	switch k {
	case KindBlob:
		return "blob"
	case KindTree:
		return "tree"
	case KindCommit:
		return "commit"
	}
	return "unknown"
}

// HashObject computes the OID for an object of the given kind. The kind and
// length are mixed into the digest so a blob and a tree with identical bytes
// never collide.
func HashObject(kind ObjectKind, data []byte) OID {
	h := sha256.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(data))
	h.Write(data)
	var id OID
	copy(id[:], h.Sum(nil))
	return id
}

// IsZero reports whether the OID is the absent-object sentinel.
func (id OID) IsZero() bool {
	return id == ZeroOID
}

// Hex returns the lowercase hex form of the OID.
func (id OID) Hex() string {
	return hex.EncodeToString(id[:])
}

func (id OID) String() string {
	return id.Hex()
}

// ParseOID parses a 64-character hex string into an OID.
func ParseOID(s string) (OID, error) {
	var id OID
	if len(s) != 64 {
		return id, fmt.Errorf("types: invalid object id %q: want 64 hex chars, got %d", s, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("types: invalid object id %q: %w", s, err)
	}
	copy(id[:], b)
	return id, nil
}
