package core

import "fmt"

// Well-known tag keys used by the message store (§4.C).
const (
	TagFlood   = "flood"
	TagUnread  = "unread"
	TagSender  = "sender"
	TagService = "service"

	kindMessage = "message"
)

// DeliveryMode selects how insert_local stores an outgoing message.
type DeliveryMode int

const (
	// ModeFlood stores the message in GLOBAL and marks it for flood
	// fan-out.
	ModeFlood DeliveryMode = iota
	// ModeDirect stores the message in the sender's own namespace.
	ModeDirect
)

// Message is the application-level chat/voice/contact payload stored at
// path "/msg:<id>" in the record store (§3). Signature is populated by
// InsertLocal when a Signer is configured, and checked by InsertRemote
// when a Verifier is configured (§7's NoSign/BadSign codes).
type Message struct {
	ID         Identity
	Sender     Identity
	Associator string
	Tags       TagSet
	Payload    []byte
	Signature  []byte
}

func messagePath(id Identity) string {
	return "/msg:" + id.String()
}

// MessageStore maps Message onto the record store with the well-known
// tags described in §4.C. Signer/Verifier are optional collaborator-
// supplied hooks (§1 Non-goals: the primitive itself is unspecified); left
// nil, InsertLocal/InsertRemote behave exactly as if no signing were in
// play.
type MessageStore struct {
	store    *Store
	signer   Signer
	verifier Verifier
}

// NewMessageStore wraps store with message-specific semantics.
func NewMessageStore(store *Store) *MessageStore {
	return &MessageStore{store: store}
}

// SetSigner installs the Signer used to sign locally authored messages.
func (m *MessageStore) SetSigner(s Signer) { m.signer = s }

// SetVerifier installs the Verifier used to check incoming messages'
// signatures.
func (m *MessageStore) SetVerifier(v Verifier) { m.verifier = v }

func messageDiffs(msg Message) []Diff {
	return []Diff{
		InsertDiff("payload", BytesScalar(msg.Payload)),
		InsertDiff("associator", StringScalar(msg.Associator)),
		InsertDiff("signature", BytesScalar(msg.Signature)),
	}
}

// InsertLocal stores a message authored locally by user. It does not set
// the unread tag (§4.C) — only messages arriving over the remote path are
// unread. If a Signer is configured, the message is signed before storage.
func (m *MessageStore) InsertLocal(user Identity, msg Message, mode DeliveryMode) (*Record, error) {
	if m.signer != nil {
		sig, err := m.signer.Sign(msg.Payload)
		if err != nil {
			return nil, Wrap(CodeBadSign, "sign outgoing message", err)
		}
		msg.Signature = sig
	}

	base := NewTagSet(
		EmptyTag(kindMessage),
		Tag{Key: TagSender, Value: user[:]},
		Tag{Key: TagService, Value: []byte(msg.Associator)},
	)
	tags := base.Merge(msg.Tags)

	ns := UserNamespace(user)
	if mode == ModeFlood {
		tags = tags.Insert(EmptyTag(TagFlood))
		ns = GlobalNamespace
	}
	return m.store.Batch(ns, messagePath(msg.ID), tags, messageDiffs(msg))
}

// InsertRemote stores a message arriving over the network, tagging it
// unread. If recipient is non-nil the message lands in that user's
// namespace; otherwise it is treated as a flood and stored in GLOBAL. If a
// Verifier is configured, the message's signature is checked first: a
// missing signature fails with CodeNoSign, a signature that does not
// verify fails with CodeBadSign.
func (m *MessageStore) InsertRemote(recipient *Identity, msg Message) (*Record, error) {
	if m.verifier != nil {
		if len(msg.Signature) == 0 {
			return nil, NewError(CodeNoSign, "incoming message carries no signature")
		}
		if err := m.verifier.Verify(msg.Payload, msg.Signature); err != nil {
			return nil, Wrap(CodeBadSign, "verify incoming message", err)
		}
	}

	base := NewTagSet(
		EmptyTag(kindMessage),
		EmptyTag(TagUnread),
		Tag{Key: TagSender, Value: msg.Sender[:]},
		Tag{Key: TagService, Value: []byte(msg.Associator)},
	)
	tags := base.Merge(msg.Tags)

	ns := GlobalNamespace
	if recipient != nil {
		ns = UserNamespace(*recipient)
	} else {
		tags = tags.Insert(EmptyTag(TagFlood))
	}
	return m.store.Batch(ns, messagePath(msg.ID), tags, messageDiffs(msg))
}

// ProbeID reports whether a message with id has already been stored for
// user, used to deduplicate fan-out sends.
func (m *MessageStore) ProbeID(user Identity, id Identity) bool {
	return m.store.PathExists(UserNamespace(user), messagePath(id)) ||
		m.store.PathExists(GlobalNamespace, messagePath(id))
}

// QueryPath merges the GLOBAL and User(user) results for a single message
// id, since a message may live in either namespace.
func (m *MessageStore) QueryPath(user Identity, id Identity) (*QueryIterator, error) {
	path := messagePath(id)
	g, err := m.store.Query(GlobalNamespace, PathQuery(path))
	if err != nil {
		return nil, err
	}
	u, err := m.store.Query(UserNamespace(user), PathQuery(path))
	if err != nil {
		return nil, err
	}
	return g.Merge(u), nil
}

// MsgQuery narrows a message listing by service, sender, and additional
// tags.
type MsgQuery struct {
	Service    string // empty matches any service
	Sender     *Identity
	ExtraTags  TagSet
	MatchEmpty bool // when true, Service="" is itself a tag match rather than "any"
}

func (q MsgQuery) predicate() Predicate {
	ts := NewTagSet(EmptyTag(kindMessage))
	if q.Service != "" || q.MatchEmpty {
		ts = ts.Insert(Tag{Key: TagService, Value: []byte(q.Service)})
	}
	if q.Sender != nil {
		ts = ts.Insert(Tag{Key: TagSender, Value: (*q.Sender)[:]})
	}
	ts = ts.Merge(q.ExtraTags)
	return SubsetPredicate(ts)
}

// Query lists messages visible to user, merging GLOBAL and User(user)
// results (§4.C).
func (m *MessageStore) Query(user Identity, q MsgQuery) (*QueryIterator, error) {
	pred := q.predicate()
	g, err := m.store.Query(GlobalNamespace, TagsQuery(pred))
	if err != nil {
		return nil, err
	}
	u, err := m.store.Query(UserNamespace(user), TagsQuery(pred))
	if err != nil {
		return nil, err
	}
	return g.Merge(u), nil
}

// Subscribe installs a live filter equivalent to Query, for user/service/
// tag combinations.
func (m *MessageStore) Subscribe(user Identity, q MsgQuery) (*Subscription, *Subscription) {
	pred := q.predicate()
	g := m.store.Subscribe(GlobalNamespace, TagsQuery(pred))
	u := m.store.Subscribe(UserNamespace(user), TagsQuery(pred))
	return g, u
}

// MarkRead removes the unread tag from the stored message, the "read
// acknowledgement" referenced in §8 scenario 3.
func (m *MessageStore) MarkRead(ns Namespace, id Identity) (*Record, error) {
	path := messagePath(id)
	if !m.store.PathExists(ns, path) {
		return nil, NewError(CodeNoData, fmt.Sprintf("no message at %s", path))
	}
	return m.store.Batch(ns, path, TagSet{}, []Diff{TagRemoveDiff(EmptyTag(TagUnread))})
}
