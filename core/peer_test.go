package core

import (
	"net"
	"testing"
)

func mustTCPAddr(t *testing.T, s string) net.Addr {
	t.Helper()
	addr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		t.Fatalf("resolve %q: %v", s, err)
	}
	return addr
}

func TestLoadAddSrcReconciliationYieldsValidState(t *testing.T) {
	table := NewPeerTable(ModeStatic)
	dst := mustTCPAddr(t, "127.0.0.1:9000")

	if err := table.Load([]net.Addr{dst}); err != nil {
		t.Fatalf("load: %v", err)
	}

	src := mustTCPAddr(t, "127.0.0.1:54321")
	id, ok := table.AddSrc(src, 9000)
	if !ok {
		t.Fatalf("expected add_src to reconcile against the loaded dst")
	}

	if got := table.PeerState(src); got != StatusValid {
		t.Fatalf("expected Valid state, got %v", got)
	}
	gotID, ok := table.GetIDBySrc(src)
	if !ok || gotID != id {
		t.Fatalf("expected get_id_by_src to return %v, got %v (ok=%v)", id, gotID, ok)
	}
}

func TestStaticModeRejectsUnknownSource(t *testing.T) {
	table := NewPeerTable(ModeStatic)
	src := mustTCPAddr(t, "10.0.0.5:40000")

	if _, ok := table.AddSrc(src, 9999); ok {
		t.Fatalf("expected Static table to reject a source with no matching dst")
	}
	if got := table.PeerState(src); got != StatusUnknown {
		t.Fatalf("expected Unknown state, got %v", got)
	}
}

func TestDynamicModeAdoptsUnknownSource(t *testing.T) {
	table := NewPeerTable(ModeDynamic)
	src := mustTCPAddr(t, "10.0.0.5:40000")

	id, ok := table.AddSrc(src, 9999)
	if !ok {
		t.Fatalf("expected Dynamic table to adopt an unsolicited source")
	}
	if got := table.PeerState(src); got != StatusValid {
		t.Fatalf("expected Valid state after adoption, got %v", got)
	}
	if _, ok := table.PeerWithID(id); !ok {
		t.Fatalf("expected the adopted peer to be retrievable by id")
	}
}

func TestLoadDuplicateFirstInsertedWins(t *testing.T) {
	table := NewPeerTable(ModeStatic)
	dst := mustTCPAddr(t, "127.0.0.1:9000")

	if err := table.Load([]net.Addr{dst}); err != nil {
		t.Fatalf("first load: %v", err)
	}
	firstID, _ := table.GetIDByDst(dst)

	err := table.Load([]net.Addr{dst, mustTCPAddr(t, "127.0.0.1:9001")})
	if err == nil {
		t.Fatalf("expected a DuplicatePeerError on reloading a known destination")
	}
	dupErr, ok := err.(*DuplicatePeerError)
	if !ok {
		t.Fatalf("expected *DuplicatePeerError, got %T", err)
	}
	if len(dupErr.Duplicates) != 1 || dupErr.Duplicates[0] != dst.String() {
		t.Fatalf("unexpected duplicates list: %v", dupErr.Duplicates)
	}

	stillID, ok := table.GetIDByDst(dst)
	if !ok || stillID != firstID {
		t.Fatalf("expected the first-inserted id %v to win, got %v", firstID, stillID)
	}

	secondDst := mustTCPAddr(t, "127.0.0.1:9001")
	if _, ok := table.GetIDByDst(secondDst); !ok {
		t.Fatalf("expected the non-duplicate destination to still be inserted")
	}
}

func TestDisconnectClearsSrcButKeepsDst(t *testing.T) {
	table := NewPeerTable(ModeStatic)
	dst := mustTCPAddr(t, "127.0.0.1:9000")
	if err := table.Load([]net.Addr{dst}); err != nil {
		t.Fatalf("load: %v", err)
	}
	src := mustTCPAddr(t, "127.0.0.1:54321")
	id, ok := table.AddSrc(src, 9000)
	if !ok {
		t.Fatalf("add_src: expected reconciliation")
	}

	table.Disconnect(id)

	if got := table.PeerState(src); got != StatusUnknown {
		t.Fatalf("expected src lookup to miss after disconnect, got %v", got)
	}
	if _, ok := table.GetIDByDst(dst); !ok {
		t.Fatalf("expected dst registration to survive disconnect")
	}
}

func TestDelPeerRemovesAllIndexes(t *testing.T) {
	table := NewPeerTable(ModeStatic)
	dst := mustTCPAddr(t, "127.0.0.1:9000")
	if err := table.Load([]net.Addr{dst}); err != nil {
		t.Fatalf("load: %v", err)
	}
	src := mustTCPAddr(t, "127.0.0.1:54321")
	id, _ := table.AddSrc(src, 9000)

	table.DelPeer(id)

	if _, ok := table.GetIDByDst(dst); ok {
		t.Fatalf("expected dst index cleared after del_peer")
	}
	if _, ok := table.GetIDBySrc(src); ok {
		t.Fatalf("expected src index cleared after del_peer")
	}
	if _, ok := table.PeerWithID(id); ok {
		t.Fatalf("expected peer record removed after del_peer")
	}
}
