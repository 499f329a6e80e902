package core

import "context"

// Target selects the recipient(s) of an Endpoint.Send call: either a
// single known peer or a best-effort flood to every verified peer (§4.F).
type Target struct {
	flood bool
	peer  PeerID
}

// SingleTarget addresses one known peer.
func SingleTarget(id PeerID) Target { return Target{peer: id} }

// FloodTarget addresses every verified peer.
func FloodTarget() Target { return Target{flood: true} }

// IsFlood reports whether t targets every verified peer.
func (t Target) IsFlood() bool { return t.flood }

// PeerID returns the targeted peer id; only meaningful when !IsFlood().
func (t Target) PeerID() PeerID { return t.peer }

// Endpoint is the public netmod façade consumed by the router (§4.F): a
// single network transport binding over one Socket and PeerTable.
type Endpoint struct {
	socket   *Socket
	table    *PeerTable
	started  bool
	sizeHint int
}

// NewEndpoint builds an Endpoint over socket/table. sizeHint is a soft cap
// on frame payload size advertised to callers; 0 means no hint.
func NewEndpoint(socket *Socket, table *PeerTable, sizeHint int) *Endpoint {
	return &Endpoint{socket: socket, table: table, sizeHint: sizeHint}
}

// Start installs the inbound channel by starting the underlying socket.
// Idempotent.
func (e *Endpoint) Start(ctx context.Context) error {
	if e.started {
		return nil
	}
	if err := e.socket.Start(ctx); err != nil {
		return err
	}
	e.started = true
	return nil
}

// Mode governs whether unsolicited Hellos from unknown sources are
// adopted (Dynamic) or dropped (Static).
func (e *Endpoint) Mode(mode TableMode) {
	e.table.mu.Lock()
	e.table.mode = mode
	e.table.mu.Unlock()
}

// SizeHint returns the soft cap on frame payload size; 0 means no hint.
func (e *Endpoint) SizeHint() int { return e.sizeHint }

// Send delivers frame to target. A Single target that is unverified or
// unknown fails with CodeNetworkFault ("ConnectionLost"); Flood is
// best-effort and never returns per-peer errors.
func (e *Endpoint) Send(frame []byte, target Target) error {
	if target.IsFlood() {
		e.socket.SendAll(frame)
		return nil
	}
	return e.socket.Send(target.PeerID(), frame)
}

// Next blocks until a frame arrives, returning it alongside a Single
// target identifying its sender. It returns CodeNetworkFault only when the
// endpoint is shutting down.
func (e *Endpoint) Next(ctx context.Context) ([]byte, Target, error) {
	f, err := e.socket.Recv(ctx)
	if err != nil {
		return nil, Target{}, err
	}
	return f.Data, SingleTarget(f.PeerID), nil
}

// Shutdown halts the endpoint's socket.
func (e *Endpoint) Shutdown() {
	e.socket.Shutdown()
}
