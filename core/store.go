package core

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// recordEntry is the store's internal handle on a single path. Writes take
// mu so that batch application is linearizable per path (§4.B); the GC lock
// count defers physical deletion while a query iterator holds the record
// pinned (§3 Lifecycle, §5 Query iterator GC lock).
type recordEntry struct {
	mu            sync.Mutex
	rec           *Record
	lockCount     int
	pendingDelete bool
}

// Store is the thread-safe, namespaced, tag-indexed record store (§4.B).
// Like the teacher's ConnPool and PeerManagement, a single RWMutex guards
// the store's top-level maps; the instruction's concurrency note allows
// cross-path ordering to be unspecified, so one coarse lock across paths is
// sufficient as long as per-path application stays linearizable.
type Store struct {
	mu       sync.RWMutex
	byKey    map[string]*recordEntry // recKey(ns, path) -> entry
	tagIndex map[string]map[string]struct{}

	subMu sync.Mutex
	subs  []*subscriber

	persist *diffLog // nil when running purely in-memory
	logger  *logrus.Entry
}

// NewStore creates an empty, in-memory store.
func NewStore() *Store {
	return &Store{
		byKey:    make(map[string]*recordEntry),
		tagIndex: make(map[string]map[string]struct{}),
		logger:   logrus.WithField("component", "store"),
	}
}

// OpenStore creates a store backed by an append-only diff log and tag-index
// snapshot rooted at dir, replaying any existing state (§4.B expansion,
// grounded on the teacher's NewLedger/OpenLedger WAL-replay shape).
func OpenStore(dir string) (*Store, error) {
	s := NewStore()
	log, err := openDiffLog(dir)
	if err != nil {
		return nil, Wrap(CodeBadSerialise, "open diff log", err)
	}
	if err := log.replay(s); err != nil {
		return nil, Wrap(CodeBadSerialise, "replay diff log", err)
	}
	s.persist = log
	return s, nil
}

func recKey(ns Namespace, path string) string {
	return ns.key() + "|" + path
}

// PathExists reports whether path already exists within session's own
// namespace.
func (s *Store) PathExists(session Session, path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byKey[recKey(session, path)]
	return ok
}

// Batch atomically creates or mutates the record at path within session's
// namespace: the tag union and all diffs apply together, or none do.
func (s *Store) Batch(session Session, path string, tags TagSet, diffs []Diff) (*Record, error) {
	if err := validatePath(path); err != nil {
		return nil, Wrap(CodeInvalidPayload, "batch", err)
	}
	key := recKey(session, path)

	s.mu.Lock()
	entry, existed := s.byKey[key]
	if !existed {
		entry = &recordEntry{rec: &Record{
			Header: Header{Path: path, Tags: TagSet{}, Namespace: session, Version: 0},
			Data:   make(map[string]Scalar),
		}}
		s.byKey[key] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	oldTags := entry.rec.Header.Tags
	entry.rec.Header.Tags = entry.rec.Header.Tags.Merge(tags)
	for _, d := range diffs {
		applyDiff(entry.rec, d)
	}
	entry.rec.Header.Version++
	out := entry.rec.Clone()
	entry.mu.Unlock()

	s.reindexTags(key, oldTags, out.Header.Tags)

	if s.persist != nil {
		if err := s.persist.append(session, path, tags, diffs); err != nil {
			s.logger.WithError(err).Warn("batch: persist append failed")
		}
	}

	s.publish(out)
	return out, nil
}

// reindexTags updates the posting lists after a tag-set change.
func (s *Store) reindexTags(key string, oldTags, newTags TagSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range oldTags.Slice() {
		if newTags.Contains(t) {
			continue
		}
		if set, ok := s.tagIndex[tagIndexKey(t)]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.tagIndex, tagIndexKey(t))
			}
		}
	}
	for _, t := range newTags.Slice() {
		if oldTags.Contains(t) {
			continue
		}
		set, ok := s.tagIndex[tagIndexKey(t)]
		if !ok {
			set = make(map[string]struct{})
			s.tagIndex[tagIndexKey(t)] = set
		}
		set[key] = struct{}{}
	}
}

// deletePath physically removes path from session's namespace unless an
// active query iterator still holds it locked, in which case removal is
// deferred until the last locker releases it.
func (s *Store) deletePath(session Session, path string) error {
	key := recKey(session, path)
	s.mu.Lock()
	entry, ok := s.byKey[key]
	if !ok {
		s.mu.Unlock()
		return NewError(CodeNoData, "no such path")
	}
	s.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.lockCount > 0 {
		entry.pendingDelete = true
		return nil
	}
	s.physicalRemove(key, entry.rec.Header.Tags)
	return nil
}

func (s *Store) physicalRemove(key string, tags TagSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byKey, key)
	for _, t := range tags.Slice() {
		if set, ok := s.tagIndex[tagIndexKey(t)]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.tagIndex, tagIndexKey(t))
			}
		}
	}
}

// acquireLock increments an entry's GC lock count.
func (s *Store) acquireLock(key string) {
	s.mu.RLock()
	entry, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	entry.lockCount++
	entry.mu.Unlock()
}

// releaseLock decrements an entry's GC lock count, physically removing it
// if a deletion was deferred and this was the last locker.
func (s *Store) releaseLock(key string) {
	s.mu.RLock()
	entry, ok := s.byKey[key]
	s.mu.RUnlock()
	if !ok {
		return
	}
	entry.mu.Lock()
	if entry.lockCount > 0 {
		entry.lockCount--
	}
	shouldRemove := entry.lockCount == 0 && entry.pendingDelete
	tags := entry.rec.Header.Tags
	entry.mu.Unlock()
	if shouldRemove {
		s.physicalRemove(key, tags)
	}
}

// snapshotAll returns a point-in-time clone of every record, used by
// queries. Readers see either pre- or post-batch state because each
// record's clone happens while its own per-entry lock is held.
func (s *Store) snapshotAll(ns Namespace) []*Record {
	s.mu.RLock()
	prefix := ns.key() + "|"
	entries := make([]*recordEntry, 0)
	keys := make([]string, 0)
	for k, e := range s.byKey {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			entries = append(entries, e)
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.pendingDelete {
			out = append(out, e.rec.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Snapshot flushes the in-memory tag index to disk and truncates the diff
// log, mirroring the teacher's ledger snapshot/WAL-truncation cycle. It is
// a no-op for a purely in-memory store.
func (s *Store) Snapshot() error {
	if s.persist == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persist.snapshot(s)
}

// Close releases any on-disk resources held by the store.
func (s *Store) Close() error {
	if s.persist == nil {
		return nil
	}
	return s.persist.close()
}
