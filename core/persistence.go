package core

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// diffLog is the per-store append-only mutation log plus tag-index
// snapshot, grounded on the teacher's NewLedger/OpenLedger shape
// (core/ledger.go: open-or-create WAL, replay on start, periodic
// snapshot+truncate). The on-disk encoding is JSON lines, matching the
// teacher's WAL scanner (`json.Unmarshal(scanner.Bytes(), &blk)`).
type diffLog struct {
	mu       sync.Mutex
	dir      string
	walPath  string
	snapPath string
	wal      *os.File
}

// diffLogEntry is one line of the append-only log.
type diffLogEntry struct {
	Namespace string     `json:"ns"`
	User      Identity   `json:"user"`
	Path      string     `json:"path"`
	Tags      []wireTag  `json:"tags"`
	Diffs     []wireDiff `json:"diffs"`
}

type wireTag struct {
	Key string `json:"key"`
	Hex string `json:"hex"`
}

type wireDiff struct {
	Op    DiffOp  `json:"op"`
	Key   string  `json:"key,omitempty"`
	Value []byte  `json:"value,omitempty"`
	Kind  int     `json:"kind,omitempty"`
	Str   string  `json:"str,omitempty"`
	Int   int64   `json:"int,omitempty"`
	Tag   wireTag `json:"tag,omitempty"`
}

func toWireTags(ts TagSet) []wireTag {
	slice := ts.Slice()
	out := make([]wireTag, len(slice))
	for i, t := range slice {
		out[i] = wireTag{Key: t.Key, Hex: t.HexValue()}
	}
	return out
}

func fromWireTags(wts []wireTag) (TagSet, error) {
	tags := make([]Tag, len(wts))
	for i, wt := range wts {
		val, err := hex.DecodeString(wt.Hex)
		if err != nil {
			return TagSet{}, err
		}
		tags[i] = Tag{Key: wt.Key, Value: val}
	}
	return NewTagSet(tags...), nil
}

func toWireDiffs(diffs []Diff) []wireDiff {
	out := make([]wireDiff, len(diffs))
	for i, d := range diffs {
		out[i] = wireDiff{
			Op:    d.Op,
			Key:   d.Key,
			Value: d.Value.Bytes,
			Kind:  int(d.Value.Kind),
			Str:   d.Value.Str,
			Int:   d.Value.Int,
			Tag:   wireTag{Key: d.Tag.Key, Hex: d.Tag.HexValue()},
		}
	}
	return out
}

func fromWireDiffs(wds []wireDiff) ([]Diff, error) {
	out := make([]Diff, len(wds))
	for i, wd := range wds {
		tagVal, err := hex.DecodeString(wd.Tag.Hex)
		if err != nil {
			return nil, err
		}
		out[i] = Diff{
			Op:    wd.Op,
			Key:   wd.Key,
			Value: Scalar{Kind: ScalarKind(wd.Kind), Bytes: wd.Value, Str: wd.Str, Int: wd.Int},
			Tag:   Tag{Key: wd.Tag.Key, Value: tagVal},
		}
	}
	return out, nil
}

func openDiffLog(dir string) (*diffLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	walPath := filepath.Join(dir, "diffs.log")
	wal, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &diffLog{
		dir:      dir,
		walPath:  walPath,
		snapPath: filepath.Join(dir, "tags.snap"),
		wal:      wal,
	}, nil
}

// replay loads the snapshot (if any) then folds every logged diff into s.
func (l *diffLog) replay(s *Store) error {
	if _, err := os.Stat(l.snapPath); err == nil {
		f, err := os.Open(l.snapPath)
		if err != nil {
			return err
		}
		defer f.Close()
		var entries []diffLogEntry
		if err := json.NewDecoder(f).Decode(&entries); err != nil {
			return err
		}
		if err := applyEntries(s, entries); err != nil {
			return err
		}
	}

	if _, err := l.wal.Seek(0, 0); err != nil {
		return err
	}
	scanner := bufio.NewScanner(l.wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var pending []diffLogEntry
	for scanner.Scan() {
		var e diffLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return err
		}
		pending = append(pending, e)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if err := applyEntries(s, pending); err != nil {
		return err
	}
	if _, err := l.wal.Seek(0, 2); err != nil {
		return err
	}
	return nil
}

func applyEntries(s *Store, entries []diffLogEntry) error {
	for _, e := range entries {
		ns := GlobalNamespace
		if e.Namespace == "user" {
			ns = UserNamespace(e.User)
		}
		tags, err := fromWireTags(e.Tags)
		if err != nil {
			return err
		}
		diffs, err := fromWireDiffs(e.Diffs)
		if err != nil {
			return err
		}
		if _, err := s.Batch(ns, e.Path, tags, diffs); err != nil {
			return err
		}
	}
	return nil
}

// append writes one mutation to the WAL.
func (l *diffLog) append(session Session, path string, tags TagSet, diffs []Diff) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	nsKind := "global"
	var user Identity
	if !session.IsGlobal() {
		nsKind = "user"
		user = session.User()
	}
	e := diffLogEntry{Namespace: nsKind, User: user, Path: path, Tags: toWireTags(tags), Diffs: toWireDiffs(diffs)}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = l.wal.Write(b)
	return err
}

// snapshot writes every live record's current diff-equivalent state as a
// single creation entry and truncates the WAL, the same "compact then
// truncate" cycle the teacher's ledger snapshot performs.
func (l *diffLog) snapshot(s *Store) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]diffLogEntry, 0, len(s.byKey))
	for _, entry := range s.byKey {
		entry.mu.Lock()
		rec := entry.rec.Clone()
		entry.mu.Unlock()
		nsKind := "global"
		var user Identity
		if !rec.Header.Namespace.IsGlobal() {
			nsKind = "user"
			user = rec.Header.Namespace.User()
		}
		diffs := make([]Diff, 0, len(rec.Data))
		for k, v := range rec.Data {
			diffs = append(diffs, InsertDiff(k, v))
		}
		entries = append(entries, diffLogEntry{
			Namespace: nsKind,
			User:      user,
			Path:      rec.Header.Path,
			Tags:      toWireTags(rec.Header.Tags),
			Diffs:     toWireDiffs(diffs),
		})
	}

	tmp := l.snapPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(entries); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, l.snapPath); err != nil {
		return err
	}
	if err := l.wal.Truncate(0); err != nil {
		return err
	}
	_, err = l.wal.Seek(0, 0)
	return err
}

func (l *diffLog) close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wal.Close()
}
