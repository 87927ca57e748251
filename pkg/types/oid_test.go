package types

import (
	"strings"
	"testing"
)

func TestHashObject_KindsNeverCollide(t *testing.T) {
	data := []byte("same bytes")
	blob := HashObject(KindBlob, data)
	tree := HashObject(KindTree, data)
	commit := HashObject(KindCommit, data)

	if blob == tree || blob == commit || tree == commit {
		t.Fatal("identical payloads under different kinds must hash differently")
	}
	if blob != HashObject(KindBlob, []byte("same bytes")) {
		t.Fatal("hashing is not deterministic")
	}
}

func TestOID_HexRoundTrip(t *testing.T) {
	id := HashObject(KindBlob, []byte("payload"))
	s := id.Hex()
	if len(s) != 64 || strings.ToLower(s) != s {
		t.Fatalf("Hex() = %q, want 64 lowercase hex chars", s)
	}
	got, err := ParseOID(s)
	if err != nil {
		t.Fatalf("ParseOID(%q): %v", s, err)
	}
	if got != id {
		t.Fatalf("round trip changed the id: %s != %s", got, id)
	}
}

func TestParseOID_Rejections(t *testing.T) {
	for _, s := range []string{
		"",
		"abc",
		strings.Repeat("g", 64),
		strings.Repeat("a", 63),
		strings.Repeat("a", 65),
	} {
		if _, err := ParseOID(s); err == nil {
			t.Errorf("ParseOID(%q) accepted invalid input", s)
		}
	}
}

func TestZeroOID(t *testing.T) {
	if !ZeroOID.IsZero() {
		t.Fatal("ZeroOID.IsZero() = false")
	}
	if HashObject(KindBlob, nil).IsZero() {
		t.Fatal("hash of empty blob must not be the zero sentinel")
	}
}

func TestItemType_Valid(t *testing.T) {
	for _, it := range AllItemTypes {
		if !it.Valid() {
			t.Errorf("%s should be valid", it)
		}
	}
	if ItemType("attachment").Valid() {
		t.Error("unknown item type should be invalid")
	}
}
