package core

import (
	"fmt"
	"net"
	"sync"
)

// PeerID is a monotonically assigned, stable-for-table-lifetime peer
// handle.
type PeerID uint64

// PeerStatus is the peer table's per-peer state machine (§4.E):
//
//	Unknown -> load(dst) -> Unverified
//	Unverified -> incoming Hello matching dst -> Valid
//	Valid -> disconnect -> Unverified (src cleared)
//	any -> del_peer -> removed
type PeerStatus int

const (
	StatusUnknown PeerStatus = iota
	StatusUnverified
	StatusValid
)

func (s PeerStatus) String() string {
	switch s {
	case StatusUnverified:
		return "Unverified"
	case StatusValid:
		return "Valid"
	default:
		return "Unknown"
	}
}

// Peer is a remote node tracked by destination address, optionally
// reconciled with an observed source address.
type Peer struct {
	ID       PeerID
	Dst      net.Addr
	Src      net.Addr // nil until reconciled
	Verified bool
}

// TableMode governs whether unsolicited Hellos from unknown sources are
// adopted.
type TableMode int

const (
	// ModeDynamic adopts unsolicited inbound connections as new peers.
	ModeDynamic TableMode = iota
	// ModeStatic rejects connections from sources with no matching dst.
	ModeStatic
)

// PeerTable tracks peers by id, destination, and (once reconciled) source
// address. A single RWMutex guards all of its maps (peers, byDst, bySrcIP)
// and the id counter together; there is no per-map locking, so no lock
// ordering is involved.
type PeerTable struct {
	mu      sync.RWMutex
	peers   map[PeerID]*Peer
	byDst   map[string]PeerID // dst.String() -> id
	bySrcIP map[string]PeerID // src.IP.String() -> id, once verified
	curr    PeerID
	mode    TableMode
}

// NewPeerTable creates an empty table in the given mode.
func NewPeerTable(mode TableMode) *PeerTable {
	return &PeerTable{
		peers:   make(map[PeerID]*Peer),
		byDst:   make(map[string]PeerID),
		bySrcIP: make(map[string]PeerID),
		mode:    mode,
	}
}

// DuplicatePeerError lists destinations that were already present when
// Load was called; insertion of the non-duplicate entries still occurs.
type DuplicatePeerError struct {
	Duplicates []string
}

func (e *DuplicatePeerError) Error() string {
	return fmt.Sprintf("peer table: duplicate destinations: %v", e.Duplicates)
}

// Load adds peers for each destination address. Destinations already known
// are reported via a non-fatal *DuplicatePeerError listing them; every
// non-duplicate destination is still inserted (§4.E, §9 open question: the
// first inserted wins).
func (t *PeerTable) Load(dsts []net.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var dups []string
	for _, dst := range dsts {
		key := dst.String()
		if _, exists := t.byDst[key]; exists {
			dups = append(dups, key)
			continue
		}
		t.curr++
		id := t.curr
		t.peers[id] = &Peer{ID: id, Dst: dst}
		t.byDst[key] = id
	}
	if len(dups) > 0 {
		return &DuplicatePeerError{Duplicates: dups}
	}
	return nil
}

// AddSrc reconciles an inbound connection's source address with a known
// destination: the advertised dstPort, paired with the connection's
// observed IP, must match some peer's dst. On match it records src and
// marks the peer verified, preferring the existing id for that dst; a new
// id is only minted when no dst entry exists and the table is Dynamic.
func (t *PeerTable) AddSrc(src net.Addr, dstPort int) (PeerID, bool) {
	srcIP, _, err := net.SplitHostPort(src.String())
	if err != nil {
		srcIP = src.String()
	}
	candidateDst := net.JoinHostPort(srcIP, fmt.Sprintf("%d", dstPort))

	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.byDst[candidateDst]; ok {
		p := t.peers[id]
		p.Src = src
		p.Verified = true
		t.bySrcIP[srcIP] = id
		return id, true
	}

	if t.mode != ModeDynamic {
		return 0, false
	}

	t.curr++
	id := t.curr
	dst, err := net.ResolveTCPAddr("tcp", candidateDst)
	if err != nil {
		dst = &net.TCPAddr{}
	}
	p := &Peer{ID: id, Dst: dst, Src: src, Verified: true}
	t.peers[id] = p
	t.byDst[candidateDst] = id
	t.bySrcIP[srcIP] = id
	return id, true
}

// PeerState reports Valid if some peer has a verified id whose src IP
// matches, Unverified if only an IP match exists, Unknown otherwise.
func (t *PeerTable) PeerState(src net.Addr) PeerStatus {
	srcIP, _, err := net.SplitHostPort(src.String())
	if err != nil {
		srcIP = src.String()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.bySrcIP[srcIP]
	if !ok {
		return StatusUnknown
	}
	if t.peers[id].Verified {
		return StatusValid
	}
	return StatusUnverified
}

// PeerWithID returns the peer with the given id.
func (t *PeerTable) PeerWithID(id PeerID) (Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// GetIDByDst returns the id registered for the given destination.
func (t *PeerTable) GetIDByDst(dst net.Addr) (PeerID, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.byDst[dst.String()]
	return id, ok
}

// GetIDBySrc returns the id reconciled for the given source address.
func (t *PeerTable) GetIDBySrc(src net.Addr) (PeerID, bool) {
	srcIP, _, err := net.SplitHostPort(src.String())
	if err != nil {
		srcIP = src.String()
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.bySrcIP[srcIP]
	return id, ok
}

// GetDstByID returns the destination address registered for id.
func (t *PeerTable) GetDstByID(id PeerID) (net.Addr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	if !ok {
		return nil, false
	}
	return p.Dst, true
}

// MarkDialed marks a peer Valid because we successfully dialed and
// Hello'd it ourselves; the reconciliation AddSrc performs for inbound
// connections isn't meaningful for the outbound side, since we already
// know exactly who we connected to.
func (t *PeerTable) MarkDialed(id PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.Verified = true
	}
}

// Disconnect transitions a Valid peer back to Unverified, clearing src, per
// the state machine in §4.E.
func (t *PeerTable) Disconnect(id PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return
	}
	if p.Src != nil {
		if srcIP, _, err := net.SplitHostPort(p.Src.String()); err == nil {
			delete(t.bySrcIP, srcIP)
		}
	}
	p.Src = nil
	p.Verified = false
}

// DelPeer removes a peer from the table entirely.
func (t *PeerTable) DelPeer(id PeerID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[id]
	if !ok {
		return
	}
	delete(t.byDst, p.Dst.String())
	if p.Src != nil {
		if srcIP, _, err := net.SplitHostPort(p.Src.String()); err == nil {
			delete(t.bySrcIP, srcIP)
		}
	}
	delete(t.peers, id)
}

// AllKnown returns every peer currently tracked, verified or not.
func (t *PeerTable) AllKnown() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}
