package core

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"sort"
	"strings"
)

// Tag is an ordered (key, value) pair. Values are opaque bytes, not UTF-8,
// so two tags with the same key but differently-cased hex payloads are
// distinct.
type Tag struct {
	Key   string
	Value []byte
}

// EmptyTag returns the empty-valued tag for key k.
func EmptyTag(k string) Tag {
	return Tag{Key: k, Value: nil}
}

// Empty reports whether the tag carries a zero-length value.
func (t Tag) Empty() bool {
	return len(t.Value) == 0
}

// Compare orders tags lexicographically by key, then by value.
func (t Tag) Compare(o Tag) int {
	if c := strings.Compare(t.Key, o.Key); c != 0 {
		return c
	}
	return bytes.Compare(t.Value, o.Value)
}

// Equal reports whether two tags carry the same key and value.
func (t Tag) Equal(o Tag) bool {
	return t.Key == o.Key && bytes.Equal(t.Value, o.Value)
}

// HexValue renders the tag value as uppercase hex, for the human-readable
// framing.
func (t Tag) HexValue() string {
	return strings.ToUpper(hex.EncodeToString(t.Value))
}

// EncodeBinary writes the compact binary framing: a length-prefixed key
// followed by a length-prefixed value. Both lengths are big-endian uint32.
func (t Tag) EncodeBinary(w io.Writer) error {
	if err := writeLP(w, []byte(t.Key)); err != nil {
		return err
	}
	return writeLP(w, t.Value)
}

// DecodeTagBinary reads a Tag previously written by EncodeBinary.
func DecodeTagBinary(r io.Reader) (Tag, error) {
	key, err := readLP(r)
	if err != nil {
		return Tag{}, err
	}
	val, err := readLP(r)
	if err != nil {
		return Tag{}, err
	}
	return Tag{Key: string(key), Value: val}, nil
}

func writeLP(w io.Writer, b []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readLP(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > 1<<24 {
		return nil, errors.New("tag: value too large")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// TagSet is a set of tags; duplicate (key, value) pairs collapse.
type TagSet struct {
	tags map[string]Tag
}

func tagIndexKey(t Tag) string {
	return t.Key + "\x00" + string(t.Value)
}

// NewTagSet builds a TagSet from the given tags, collapsing duplicates.
func NewTagSet(tags ...Tag) TagSet {
	ts := TagSet{tags: make(map[string]Tag, len(tags))}
	for _, t := range tags {
		ts.tags[tagIndexKey(t)] = t
	}
	return ts
}

// Len returns the number of distinct tags in the set.
func (ts TagSet) Len() int {
	return len(ts.tags)
}

// Slice returns the tags in sorted order.
func (ts TagSet) Slice() []Tag {
	out := make([]Tag, 0, len(ts.tags))
	for _, t := range ts.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// Contains reports whether t is present in the set.
func (ts TagSet) Contains(t Tag) bool {
	if ts.tags == nil {
		return false
	}
	_, ok := ts.tags[tagIndexKey(t)]
	return ok
}

// Insert adds t to the set, returning the updated set (TagSet is a value
// type; Insert works on a copy and never mutates the receiver's backing
// map).
func (ts TagSet) Insert(t Tag) TagSet {
	out := ts.clone()
	out.tags[tagIndexKey(t)] = t
	return out
}

// Remove deletes t from the set if present.
func (ts TagSet) Remove(t Tag) TagSet {
	out := ts.clone()
	delete(out.tags, tagIndexKey(t))
	return out
}

func (ts TagSet) clone() TagSet {
	out := TagSet{tags: make(map[string]Tag, len(ts.tags)+1)}
	for k, v := range ts.tags {
		out.tags[k] = v
	}
	return out
}

// Merge is commutative and idempotent: the union of two tag sets.
func (ts TagSet) Merge(other TagSet) TagSet {
	out := ts.clone()
	for k, v := range other.tags {
		out.tags[k] = v
	}
	return out
}

// Intersect reports whether the two sets share at least one tag.
func (ts TagSet) Intersect(other TagSet) bool {
	small, big := ts, other
	if len(small.tags) > len(big.tags) {
		small, big = big, small
	}
	for k := range small.tags {
		if _, ok := big.tags[k]; ok {
			return true
		}
	}
	return false
}

// Subset reports whether ts is a superset of other, i.e. other's every tag
// appears in ts (self ⊇ other per the spec's naming).
func (ts TagSet) Subset(other TagSet) bool {
	for k := range other.tags {
		if _, ok := ts.tags[k]; !ok {
			return false
		}
	}
	return true
}

// Equality reports whether ts and other contain exactly the same tags.
func (ts TagSet) Equality(other TagSet) bool {
	return ts.Subset(other) && other.Subset(ts) && ts.Len() == other.Len()
}

// Not reports whether ts and other are disjoint.
func (ts TagSet) Not(other TagSet) bool {
	return !ts.Intersect(other)
}
