package core

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"
)

// waitUntil polls cond until it reports true or timeout elapses, failing
// the test in the latter case. Used because dial/accept/verify happens on
// background goroutines over real loopback sockets.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func startLoopbackSocket(t *testing.T, mode TableMode) (*Socket, *PeerTable, net.Addr) {
	t.Helper()
	table := NewPeerTable(mode)
	sock := NewSocket(table, "127.0.0.1:0")
	if err := sock.Start(context.Background()); err != nil {
		t.Fatalf("start socket: %v", err)
	}
	return sock, table, sock.listener.Addr()
}

// TestLocalChatSendRoundTrip exercises a chat message crossing two real
// loopback TCP endpoints: A dials B, and B's next() surfaces the frame A
// sent within 5 seconds (§8 scenario 1).
func TestLocalChatSendRoundTrip(t *testing.T) {
	sockB, tableB, bAddr := startLoopbackSocket(t, ModeDynamic)
	defer sockB.Shutdown()
	epB := NewEndpoint(sockB, tableB, 0)

	sockA, tableA, _ := startLoopbackSocket(t, ModeStatic)
	defer sockA.Shutdown()
	epA := NewEndpoint(sockA, tableA, 0)

	idB, err := sockA.AddPeer(bAddr)
	if err != nil {
		t.Fatalf("add_peer: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		p, ok := tableA.PeerWithID(idB)
		return ok && p.Verified
	})

	payload := []byte("hello world!")
	if err := epA.Send(payload, SingleTarget(idB)); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, _, err := epB.Next(ctx)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Fatalf("got %q, want %q", data, payload)
	}
}

// TestFloodcastReachesEachPeerExactlyOnce sets up a three-node triangle
// and verifies a flood send from one node is observed exactly once by
// each of the other two (§8 scenario 2).
func TestFloodcastReachesEachPeerExactlyOnce(t *testing.T) {
	sockB, tableB, bAddr := startLoopbackSocket(t, ModeDynamic)
	defer sockB.Shutdown()
	epB := NewEndpoint(sockB, tableB, 0)

	sockC, tableC, cAddr := startLoopbackSocket(t, ModeDynamic)
	defer sockC.Shutdown()
	epC := NewEndpoint(sockC, tableC, 0)

	sockA, tableA, _ := startLoopbackSocket(t, ModeStatic)
	defer sockA.Shutdown()
	epA := NewEndpoint(sockA, tableA, 0)

	idB, err := sockA.AddPeer(bAddr)
	if err != nil {
		t.Fatalf("add_peer b: %v", err)
	}
	idC, err := sockA.AddPeer(cAddr)
	if err != nil {
		t.Fatalf("add_peer c: %v", err)
	}

	waitUntil(t, 2*time.Second, func() bool {
		pb, okB := tableA.PeerWithID(idB)
		pc, okC := tableA.PeerWithID(idC)
		return okB && pb.Verified && okC && pc.Verified
	})

	payload := []byte("flood from A")
	if err := epA.Send(payload, FloodTarget()); err != nil {
		t.Fatalf("flood send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dataB, _, err := epB.Next(ctx)
	if err != nil {
		t.Fatalf("b next: %v", err)
	}
	if !bytes.Equal(dataB, payload) {
		t.Fatalf("b: got %q, want %q", dataB, payload)
	}

	dataC, _, err := epC.Next(ctx)
	if err != nil {
		t.Fatalf("c next: %v", err)
	}
	if !bytes.Equal(dataC, payload) {
		t.Fatalf("c: got %q, want %q", dataC, payload)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	if _, _, err := epB.Next(shortCtx); err == nil {
		t.Fatalf("expected b to receive the flood exactly once")
	}
	if _, _, err := epC.Next(shortCtx); err == nil {
		t.Fatalf("expected c to receive the flood exactly once")
	}
}
