package core

import (
	"bytes"
	"testing"
)

func TestTagEmpty(t *testing.T) {
	tag := EmptyTag("kind")
	if !tag.Empty() {
		t.Fatalf("expected empty tag")
	}
	if tag.Key != "kind" {
		t.Fatalf("unexpected key %q", tag.Key)
	}
}

func TestTagSetMergeCommutativeIdempotent(t *testing.T) {
	a := NewTagSet(Tag{Key: "sender", Value: []byte("a")}, EmptyTag("message"))
	b := NewTagSet(Tag{Key: "service", Value: []byte("chat")})

	ab := a.Merge(b)
	ba := b.Merge(a)
	if !ab.Equality(ba) {
		t.Fatalf("merge is not commutative")
	}
	if !ab.Equality(ab.Merge(a)) {
		t.Fatalf("merge is not idempotent")
	}
}

func TestTagSetPredicates(t *testing.T) {
	full := NewTagSet(
		EmptyTag("message"),
		Tag{Key: "sender", Value: []byte("alice")},
		Tag{Key: "service", Value: []byte("chat")},
	)
	sub := NewTagSet(EmptyTag("message"), Tag{Key: "sender", Value: []byte("alice")})
	disjoint := NewTagSet(Tag{Key: "sender", Value: []byte("bob")})

	if !full.Subset(sub) {
		t.Fatalf("expected full to be a superset of sub")
	}
	if sub.Subset(full) {
		t.Fatalf("sub should not be a superset of full")
	}
	if !full.Intersect(sub) {
		t.Fatalf("expected overlap between full and sub")
	}
	if !full.Not(disjoint) {
		t.Fatalf("expected full and disjoint to share nothing")
	}
	if full.Equality(sub) {
		t.Fatalf("full and sub should not be equal")
	}
	if !sub.Equality(NewTagSet(sub.Slice()...)) {
		t.Fatalf("a tag set should equal itself rebuilt from its own slice")
	}
}

func TestTagBinaryFramingRoundTrip(t *testing.T) {
	tag := Tag{Key: "service", Value: []byte{0x00, 0xFF, 0x10}}

	var buf bytes.Buffer
	if err := tag.EncodeBinary(&buf); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeTagBinary(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(tag) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, tag)
	}
}

func TestTagHexFraming(t *testing.T) {
	tag := Tag{Key: "sender", Value: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	if got := tag.HexValue(); got != "DEADBEEF" {
		t.Fatalf("expected uppercase hex DEADBEEF, got %q", got)
	}
}
