package core

import "sort"

// PredicateKind selects which tag-set relation a Query's predicate tests.
type PredicateKind int

const (
	PredicateSubset PredicateKind = iota
	PredicateIntersect
	PredicateEquality
	PredicateNot
)

// Predicate pairs a relation with the tag set to test against.
type Predicate struct {
	Kind PredicateKind
	Tags TagSet
}

// SubsetPredicate matches records whose tag set is a superset of ts.
func SubsetPredicate(ts TagSet) Predicate { return Predicate{Kind: PredicateSubset, Tags: ts} }

// IntersectPredicate matches records whose tag set overlaps ts.
func IntersectPredicate(ts TagSet) Predicate { return Predicate{Kind: PredicateIntersect, Tags: ts} }

// EqualityPredicate matches records whose tag set equals ts exactly.
func EqualityPredicate(ts TagSet) Predicate { return Predicate{Kind: PredicateEquality, Tags: ts} }

// NotPredicate matches records whose tag set is disjoint from ts.
func NotPredicate(ts TagSet) Predicate { return Predicate{Kind: PredicateNot, Tags: ts} }

func (p Predicate) matches(rec *Record) bool {
	switch p.Kind {
	case PredicateSubset:
		return rec.Header.Tags.Subset(p.Tags)
	case PredicateIntersect:
		return rec.Header.Tags.Intersect(p.Tags)
	case PredicateEquality:
		return rec.Header.Tags.Equality(p.Tags)
	case PredicateNot:
		return rec.Header.Tags.Not(p.Tags)
	default:
		return false
	}
}

// QueryKind selects whether a Query looks up a single path or evaluates a
// tag predicate over a namespace.
type QueryKind int

const (
	QueryByPath QueryKind = iota
	QueryByTags
)

// Query is either Path(p) or Tags(predicate), per §4.B.
type Query struct {
	Kind      QueryKind
	Path      string
	Predicate Predicate
}

// PathQuery builds a Query that looks up a single record by path.
func PathQuery(path string) Query { return Query{Kind: QueryByPath, Path: path} }

// TagsQuery builds a Query that evaluates a tag predicate.
func TagsQuery(p Predicate) Query { return Query{Kind: QueryByTags, Predicate: p} }

func (s *Store) evaluate(ns Namespace, q Query) ([]*Record, error) {
	switch q.Kind {
	case QueryByPath:
		if err := validatePath(q.Path); err != nil {
			return nil, Wrap(CodeInvalidQuery, "path query", err)
		}
		s.mu.RLock()
		entry, ok := s.byKey[recKey(ns, q.Path)]
		s.mu.RUnlock()
		if !ok {
			return nil, nil
		}
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if entry.pendingDelete {
			return nil, nil
		}
		return []*Record{entry.rec.Clone()}, nil
	case QueryByTags:
		all := s.snapshotAll(ns)
		out := make([]*Record, 0, len(all))
		for _, r := range all {
			if q.Predicate.matches(r) {
				out = append(out, r)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Header.Path < out[j].Header.Path })
		return out, nil
	default:
		return nil, NewError(CodeInvalidQuery, "unknown query kind")
	}
}

// Query runs q against session's namespace and returns an iterator over
// the matches, sorted by path. All matches are collected and cloned when
// Query is called; the iterator does not evaluate lazily.
func (s *Store) Query(session Session, q Query) (*QueryIterator, error) {
	recs, err := s.evaluate(session, q)
	if err != nil {
		return nil, err
	}
	keys := make([]string, len(recs))
	for i, r := range recs {
		keys[i] = recKey(r.Header.Namespace, r.Header.Path)
	}
	return &QueryIterator{store: s, recs: recs, keys: keys}, nil
}

// QueryIterator walks a point-in-time query result that was collected when
// the query ran. It cannot be restarted, and it is not safe for concurrent
// use by multiple goroutines.
type QueryIterator struct {
	store     *Store
	recs      []*Record
	keys      []string
	idx       int
	lockDepth int
}

// Next returns the next record, or (nil, nil) at end of iteration — end of
// iteration is not a failure.
func (it *QueryIterator) Next() (*Record, error) {
	if it.idx >= len(it.recs) {
		return nil, nil
	}
	r := it.recs[it.idx]
	it.idx++
	return r, nil
}

// Remaining returns an upper bound on yet-to-yield items; it is monotone
// non-increasing.
func (it *QueryIterator) Remaining() int {
	return len(it.recs) - it.idx
}

// Skip advances the iterator by n positions without returning the skipped
// records.
func (it *QueryIterator) Skip(n int) {
	it.idx += n
	if it.idx > len(it.recs) {
		it.idx = len(it.recs)
	}
}

// Lock pins the full result set's identity: no record currently in the set
// is physically removed until a matching Release call. Lockers stack.
func (it *QueryIterator) Lock() {
	it.lockDepth++
	if it.store == nil {
		return
	}
	for _, k := range it.keys {
		it.store.acquireLock(k)
	}
}

// Release undoes one Lock call; physical removal happens when the last
// locker releases.
func (it *QueryIterator) Release() {
	if it.lockDepth == 0 {
		return
	}
	it.lockDepth--
	if it.store == nil {
		return
	}
	for _, k := range it.keys {
		it.store.releaseLock(k)
	}
}

// Merge interleaves this iterator's remaining results with other's in path
// order, typically used to combine a User(id) iterator with a GLOBAL one.
func (it *QueryIterator) Merge(other *QueryIterator) *QueryIterator {
	a := it.recs[it.idx:]
	b := other.recs[other.idx:]
	merged := make([]*Record, 0, len(a)+len(b))
	ak, bk := append([]string{}, it.keys[it.idx:]...), append([]string{}, other.keys[other.idx:]...)
	keys := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Header.Path <= b[j].Header.Path {
			merged = append(merged, a[i])
			keys = append(keys, ak[i])
			i++
		} else {
			merged = append(merged, b[j])
			keys = append(keys, bk[j])
			j++
		}
	}
	merged = append(merged, a[i:]...)
	keys = append(keys, ak[i:]...)
	merged = append(merged, b[j:]...)
	keys = append(keys, bk[j:]...)
	return &QueryIterator{store: it.store, recs: merged, keys: keys}
}
