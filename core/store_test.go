package core

import (
	"context"
	"testing"
	"time"
)

func TestBatchThenQueryYieldsUnionOfTagsAndFoldedKV(t *testing.T) {
	s := NewStore()
	ns := UserNamespace(Identity{1})

	tagsBefore := NewTagSet(EmptyTag("message"))
	if _, err := s.Batch(ns, "/msg:a", tagsBefore, []Diff{InsertDiff("payload", StringScalar("v1"))}); err != nil {
		t.Fatalf("first batch: %v", err)
	}

	more := NewTagSet(Tag{Key: "sender", Value: []byte("alice")})
	if _, err := s.Batch(ns, "/msg:a", more, []Diff{
		UpdateDiff("payload", StringScalar("v2")),
		InsertDiff("associator", StringScalar("net.mistnet.chat")),
	}); err != nil {
		t.Fatalf("second batch: %v", err)
	}

	it, err := s.Query(ns, PathQuery("/msg:a"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	rec, err := it.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected a record")
	}

	want := tagsBefore.Merge(more)
	if !rec.Header.Tags.Equality(want) {
		t.Fatalf("tags mismatch: got %+v, want %+v", rec.Header.Tags.Slice(), want.Slice())
	}
	if rec.Data["payload"].Str != "v2" {
		t.Fatalf("expected folded payload v2, got %q", rec.Data["payload"].Str)
	}
	if rec.Data["associator"].Str != "net.mistnet.chat" {
		t.Fatalf("expected folded associator, got %q", rec.Data["associator"].Str)
	}
}

func TestQueryByTagsSubsetPredicate(t *testing.T) {
	s := NewStore()
	ns := GlobalNamespace

	if _, err := s.Batch(ns, "/msg:a", NewTagSet(EmptyTag("message"), Tag{Key: "service", Value: []byte("chat")}), nil); err != nil {
		t.Fatalf("batch a: %v", err)
	}
	if _, err := s.Batch(ns, "/msg:b", NewTagSet(EmptyTag("message"), Tag{Key: "service", Value: []byte("voice")}), nil); err != nil {
		t.Fatalf("batch b: %v", err)
	}

	it, err := s.Query(ns, TagsQuery(SubsetPredicate(NewTagSet(Tag{Key: "service", Value: []byte("chat")}))))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var paths []string
	for {
		rec, err := it.Next()
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		if rec == nil {
			break
		}
		paths = append(paths, rec.Header.Path)
	}
	if len(paths) != 1 || paths[0] != "/msg:a" {
		t.Fatalf("expected only /msg:a, got %v", paths)
	}
}

func TestGCLockDefersPhysicalDeletion(t *testing.T) {
	s := NewStore()
	ns := GlobalNamespace
	if _, err := s.Batch(ns, "/msg:a", NewTagSet(EmptyTag("message")), nil); err != nil {
		t.Fatalf("batch: %v", err)
	}

	it, err := s.Query(ns, PathQuery("/msg:a"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	it.Lock()

	if err := s.deletePath(ns, "/msg:a"); err != nil {
		t.Fatalf("deletePath: %v", err)
	}
	if !s.PathExists(ns, "/msg:a") {
		t.Fatalf("expected record to still exist while locked")
	}

	it.Release()
	if s.PathExists(ns, "/msg:a") {
		t.Fatalf("expected record to be physically removed after last release")
	}
}

func TestSubscriptionLiveness(t *testing.T) {
	s := NewStore()
	ns := UserNamespace(Identity{2})

	sub := s.Subscribe(ns, TagsQuery(SubsetPredicate(NewTagSet(EmptyTag("message")))))
	defer sub.Cancel()

	done := make(chan *Record, 1)
	go func() {
		rec, err := sub.Next(context.Background())
		if err != nil {
			t.Errorf("next: %v", err)
			return
		}
		done <- rec
	}()

	if _, err := s.Batch(ns, "/msg:z", NewTagSet(EmptyTag("message")), nil); err != nil {
		t.Fatalf("batch: %v", err)
	}

	select {
	case rec := <-done:
		if rec == nil || rec.Header.Path != "/msg:z" {
			t.Fatalf("unexpected record %+v", rec)
		}
	case <-time.After(time.Second):
		t.Fatalf("subscription did not observe the matching batch in time")
	}
}
