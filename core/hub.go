package core

import (
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/sirupsen/logrus"
)

// Token is an opaque session credential returned by login and re-checked
// on every mutating call via trusted() (§4.H). Tokens are minted from
// crypto/rand rather than google/uuid's time/random scheme because an
// auth credential should not leak any structure an attacker could model —
// a plain request-correlation id (§4.I expansion) has no such requirement
// and uses uuid there instead.
type Token string

func newToken() Token {
	var b [32]byte
	_, _ = rand.Read(b[:])
	return Token(hex.EncodeToString(b[:]))
}

// UserAuth is the (user_id, token) tuple an authenticated RPC session
// presents as proof of write access to its own namespace (§3).
type UserAuth struct {
	ID    Identity
	Token Token
}

// Hub is the core state node ("Qaul" in the upstream design, renamed to
// avoid naming this repo after the system it was distilled from): user
// registry, auth, contact book, service registry, message store, and
// router handle, all owned by one value that can be instantiated multiple
// times per process without interference (§9, global state note).
type Hub struct {
	mu      sync.RWMutex
	users   map[Identity]*User
	auth    map[Identity]Token
	byToken map[Token]Identity
	contact map[Identity]map[Identity]*Contact
	service map[string]struct{}

	store    *Store
	messages *MessageStore
	router   *Router

	logger *logrus.Entry
}

// NewHub builds a Hub over store, wiring its message store and router
// handle. store may be backed by OpenStore for persistence or NewStore for
// a pure in-memory instance.
func NewHub(store *Store, router *Router) *Hub {
	return &Hub{
		users:    make(map[Identity]*User),
		auth:     make(map[Identity]Token),
		byToken:  make(map[Token]Identity),
		contact:  make(map[Identity]map[Identity]*Contact),
		service:  make(map[string]struct{}),
		store:    store,
		messages: NewMessageStore(store),
		router:   router,
		logger:   logrus.WithField("component", "hub"),
	}
}

// Messages returns the hub's message store handle.
func (h *Hub) Messages() *MessageStore { return h.messages }

// Store returns the hub's underlying record store handle.
func (h *Hub) Store() *Store { return h.store }

// Router returns the hub's router handle.
func (h *Hub) Router() *Router { return h.router }

// SetSigner installs the Signer used to sign locally authored messages
// before they are stored (§1 Non-goals: the primitive itself is a
// collaborator's choice; Hub only arranges for it to be called).
func (h *Hub) SetSigner(s Signer) { h.messages.SetSigner(s) }

// SetVerifier installs the Verifier used to check incoming messages'
// signatures.
func (h *Hub) SetVerifier(v Verifier) { h.messages.SetVerifier(v) }

// CreateUser registers a new, empty user profile and mints a session
// token, as if freshly logged in.
func (h *Hub) CreateUser(id Identity) (UserAuth, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.users[id]; exists {
		return UserAuth{}, NewError(CodeNoUser, "user already exists")
	}
	h.users[id] = newUser(id)
	tok := newToken()
	h.auth[id] = tok
	h.byToken[tok] = id
	return UserAuth{ID: id, Token: tok}, nil
}

// DeleteUser removes a user and all associated session state.
func (h *Hub) DeleteUser(auth UserAuth) error {
	if _, err := h.trusted(auth); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.users, auth.ID)
	delete(h.byToken, h.auth[auth.ID])
	delete(h.auth, auth.ID)
	delete(h.contact, auth.ID)
	return nil
}

// Login mints a fresh session token for an existing user.
func (h *Hub) Login(id Identity) (UserAuth, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.users[id]; !exists {
		return UserAuth{}, NewError(CodeNoUser, "no such user")
	}
	if old, ok := h.auth[id]; ok {
		delete(h.byToken, old)
	}
	tok := newToken()
	h.auth[id] = tok
	h.byToken[tok] = id
	return UserAuth{ID: id, Token: tok}, nil
}

// Logout invalidates auth's session token.
func (h *Hub) Logout(auth UserAuth) error {
	if _, err := h.trusted(auth); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byToken, auth.Token)
	delete(h.auth, auth.ID)
	return nil
}

// trusted verifies that auth matches the live session for auth.ID,
// short-circuiting any store mutation on mismatch (§4.H, §7).
func (h *Hub) trusted(auth UserAuth) (Identity, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tok, ok := h.auth[auth.ID]
	if !ok || tok != auth.Token {
		return Identity{}, NewError(CodeNotAuthorised, "session mismatch")
	}
	return auth.ID, nil
}

// Trusted exposes the auth check to external collaborators (e.g. the ops
// debug surface) without granting them access to Hub's internals.
func (h *Hub) Trusted(auth UserAuth) error {
	_, err := h.trusted(auth)
	return err
}

// GetUser returns a copy of a user's profile.
func (h *Hub) GetUser(id Identity) (*User, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u, ok := h.users[id]
	if !ok {
		return nil, NewError(CodeNoUser, "no such user")
	}
	return u.clone(), nil
}

// ListUsers returns every locally known user.
func (h *Hub) ListUsers() []*User {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*User, 0, len(h.users))
	for _, u := range h.users {
		out = append(out, u.clone())
	}
	return out
}

// UpdateUser applies a closed-set mutation to auth.ID's own profile.
func (h *Hub) UpdateUser(auth UserAuth, update UserUpdate) error {
	if _, err := h.trusted(auth); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.users[auth.ID]
	if !ok {
		return NewError(CodeNoUser, "no such user")
	}
	applyUserUpdate(u, update)
	return nil
}

// ChangePassword is a placeholder auth-rotation hook: since the
// cryptographic primitive is a pluggable collaborator concern (§1
// Non-goals), this simply mints a fresh token, matching Login's effect.
func (h *Hub) ChangePassword(auth UserAuth) (UserAuth, error) {
	if _, err := h.trusted(auth); err != nil {
		return UserAuth{}, err
	}
	return h.Login(auth.ID)
}

// AddContact registers a contact in auth.ID's own contact book.
func (h *Hub) AddContact(auth UserAuth, contactID Identity, trust TrustLevel) error {
	if _, err := h.trusted(auth); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	book, ok := h.contact[auth.ID]
	if !ok {
		book = make(map[Identity]*Contact)
		h.contact[auth.ID] = book
	}
	if _, exists := book[contactID]; exists {
		return NewError(CodeContactExists, "contact already present")
	}
	book[contactID] = &Contact{ID: contactID, Trust: trust, Meta: make(map[string]string)}
	return nil
}

// GetContact returns one contact from auth.ID's book.
func (h *Hub) GetContact(auth UserAuth, contactID Identity) (*Contact, error) {
	if _, err := h.trusted(auth); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	book, ok := h.contact[auth.ID]
	if !ok {
		return nil, NewError(CodeNoContact, "no such contact")
	}
	c, ok := book[contactID]
	if !ok {
		return nil, NewError(CodeNoContact, "no such contact")
	}
	return c.clone(), nil
}

// QueryContacts filters auth.ID's contact book by minimum trust level.
func (h *Hub) QueryContacts(auth UserAuth, minTrust TrustLevel) ([]*Contact, error) {
	if _, err := h.trusted(auth); err != nil {
		return nil, err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	book := h.contact[auth.ID]
	out := make([]*Contact, 0, len(book))
	for _, c := range book {
		if c.Trust >= minTrust {
			out = append(out, c.clone())
		}
	}
	return out, nil
}

// AllContacts returns every contact in auth.ID's book. Resolves the open
// question in §9: the upstream "all" endpoint was a stub returning an
// empty vector; this is the real listing.
func (h *Hub) AllContacts(auth UserAuth) ([]*Contact, error) {
	return h.QueryContacts(auth, TrustUnknown)
}

// RegisterService adds name to the process-wide service registry (§9
// "dynamic dispatch over services": a closed variant plus an open,
// string-keyed extension table).
func (h *Hub) RegisterService(name string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.service[name]; exists {
		return NewError(CodeServiceExists, "service already registered")
	}
	h.service[name] = struct{}{}
	return nil
}

// HasService reports whether name is registered.
func (h *Hub) HasService(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.service[name]
	return ok
}
