package core

import (
	"bytes"
	"errors"
	"testing"
)

// reverseSigner/reverseVerifier are a trivial, deterministic stand-in for
// a real cryptographic primitive, sufficient to exercise the sign/verify
// call sites without pulling in a crypto dependency the plugged-in
// collaborator is free to choose for itself (§1 Non-goals).
type reverseSigner struct{}

func (reverseSigner) Sign(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	for i, b := range payload {
		out[len(payload)-1-i] = b
	}
	return out, nil
}

type reverseVerifier struct{}

func (reverseVerifier) Verify(payload, signature []byte) error {
	want, _ := reverseSigner{}.Sign(payload)
	if !bytes.Equal(want, signature) {
		return errors.New("signature mismatch")
	}
	return nil
}

func TestUnreadAccounting(t *testing.T) {
	store := NewStore()
	ms := NewMessageStore(store)
	user := Identity{9}
	msg := Message{ID: Identity{1, 2, 3}, Sender: Identity{4}, Associator: "net.mistnet.chat", Payload: []byte("hi")}

	if _, err := ms.InsertRemote(&user, msg); err != nil {
		t.Fatalf("insert_remote: %v", err)
	}

	it, err := ms.Query(user, MsgQuery{Service: "net.mistnet.chat"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	rec, err := it.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if rec == nil || !rec.Header.Tags.Contains(EmptyTag(TagUnread)) {
		t.Fatalf("expected unread tag present before acknowledgement")
	}

	if _, err := ms.MarkRead(UserNamespace(user), msg.ID); err != nil {
		t.Fatalf("mark_read: %v", err)
	}

	it, err = ms.Query(user, MsgQuery{Service: "net.mistnet.chat"})
	if err != nil {
		t.Fatalf("requery: %v", err)
	}
	rec, err = it.Next()
	if err != nil {
		t.Fatalf("next after mark_read: %v", err)
	}
	if rec == nil || rec.Header.Tags.Contains(EmptyTag(TagUnread)) {
		t.Fatalf("expected unread tag gone after acknowledgement")
	}
}

func TestProbeIDDedupOnFanOut(t *testing.T) {
	store := NewStore()
	ms := NewMessageStore(store)
	user := Identity{5}
	id := Identity{7, 7}

	if ms.ProbeID(user, id) {
		t.Fatalf("expected probe_id to report unseen before insert")
	}

	msg := Message{ID: id, Sender: user, Associator: "net.mistnet.chat", Payload: []byte("x")}
	if _, err := ms.InsertLocal(user, msg, ModeDirect); err != nil {
		t.Fatalf("insert_local: %v", err)
	}

	if !ms.ProbeID(user, id) {
		t.Fatalf("expected probe_id to report seen after insert")
	}
}

func TestInsertLocalFloodUsesGlobalNamespaceWithoutUnread(t *testing.T) {
	store := NewStore()
	ms := NewMessageStore(store)
	sender := Identity{3}
	msg := Message{ID: Identity{8}, Sender: sender, Associator: "net.mistnet.chat", Payload: []byte("flood")}

	rec, err := ms.InsertLocal(sender, msg, ModeFlood)
	if err != nil {
		t.Fatalf("insert_local flood: %v", err)
	}
	if !rec.Header.Namespace.IsGlobal() {
		t.Fatalf("expected flood message in GLOBAL namespace")
	}
	if rec.Header.Tags.Contains(EmptyTag(TagUnread)) {
		t.Fatalf("insert_local must never set unread")
	}
	if !rec.Header.Tags.Contains(EmptyTag(TagFlood)) {
		t.Fatalf("expected flood tag on a flood-mode message")
	}
}

func TestQueryPathMergesGlobalAndUser(t *testing.T) {
	store := NewStore()
	ms := NewMessageStore(store)
	user := Identity{2}
	id := Identity{1}

	msg := Message{ID: id, Sender: user, Associator: "net.mistnet.chat", Payload: []byte("p")}
	if _, err := ms.InsertLocal(user, msg, ModeFlood); err != nil {
		t.Fatalf("insert_local: %v", err)
	}

	it, err := ms.QueryPath(user, id)
	if err != nil {
		t.Fatalf("query_path: %v", err)
	}
	rec, err := it.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if rec == nil {
		t.Fatalf("expected to find the flooded message via query_path")
	}
}

func TestInsertLocalSignsWhenSignerConfigured(t *testing.T) {
	store := NewStore()
	ms := NewMessageStore(store)
	ms.SetSigner(reverseSigner{})

	sender := Identity{11}
	msg := Message{ID: Identity{12}, Sender: sender, Associator: "net.mistnet.chat", Payload: []byte("signed")}

	rec, err := ms.InsertLocal(sender, msg, ModeDirect)
	if err != nil {
		t.Fatalf("insert_local: %v", err)
	}
	want, _ := reverseSigner{}.Sign(msg.Payload)
	if !bytes.Equal(rec.Data["signature"].Bytes, want) {
		t.Fatalf("expected the stored record to carry the computed signature")
	}
}

func TestInsertRemoteRejectsMissingOrBadSignatureWhenVerifierConfigured(t *testing.T) {
	store := NewStore()
	ms := NewMessageStore(store)
	ms.SetVerifier(reverseVerifier{})

	user := Identity{13}
	unsigned := Message{ID: Identity{14}, Sender: Identity{15}, Associator: "net.mistnet.chat", Payload: []byte("x")}
	if _, err := ms.InsertRemote(&user, unsigned); CodeOf(err) != CodeNoSign {
		t.Fatalf("expected CodeNoSign for a message with no signature, got %v", err)
	}

	forged := unsigned
	forged.Signature = []byte("not the right signature")
	if _, err := ms.InsertRemote(&user, forged); CodeOf(err) != CodeBadSign {
		t.Fatalf("expected CodeBadSign for a forged signature, got %v", err)
	}

	signed := unsigned
	signed.Signature, _ = reverseSigner{}.Sign(unsigned.Payload)
	if _, err := ms.InsertRemote(&user, signed); err != nil {
		t.Fatalf("expected a correctly signed message to be accepted: %v", err)
	}
}
