package core

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	keepAliveInterval = 10 * time.Second
	linkSilenceLimit  = 30 * time.Second
	backoffInitial    = 250 * time.Millisecond
	backoffCap        = 30 * time.Second
)

// InboundFrame is one item off the socket's unbounded receive channel.
type InboundFrame struct {
	Data   []byte
	PeerID PeerID
}

// peerLink is the live connection state for one peer, grounded on the
// teacher's Dialer/pooledConn shape (core/network.go, core/connection_pool.go)
// but holding exactly one persistent connection per peer rather than a
// reuse pool, per §4.D.
type peerLink struct {
	writeMu    sync.Mutex
	conn       net.Conn
	lastWrite  atomic.Int64 // unix nanos
	cancelLoop context.CancelFunc
}

func (pl *peerLink) write(pkt Packet) error {
	pl.writeMu.Lock()
	defer pl.writeMu.Unlock()
	if pl.conn == nil {
		return NewError(CodeNetworkFault, "peer link closed")
	}
	if err := WritePacket(pl.conn, pkt); err != nil {
		return Wrap(CodeNetworkFault, "write packet", err)
	}
	pl.lastWrite.Store(time.Now().UnixNano())
	return nil
}

// Socket is the framed, reconnecting TCP transport described in §4.D: one
// outbound dial loop with exponential backoff per configured peer, one
// accept loop reconciling inbound Hellos against the peer table, keep-alive
// on silence, and an unbounded inbound channel.
type Socket struct {
	table      *PeerTable
	listenAddr string
	localPort  uint16

	mu    sync.Mutex
	links map[PeerID]*peerLink

	listener net.Listener
	inbound  *unboundedQueue[InboundFrame]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *logrus.Entry
}

// NewSocket builds a socket bound to listenAddr (e.g. "0.0.0.0:9000"),
// using table to resolve and reconcile peers.
func NewSocket(table *PeerTable, listenAddr string) *Socket {
	return &Socket{
		table:      table,
		listenAddr: listenAddr,
		links:      make(map[PeerID]*peerLink),
		inbound:    newUnboundedQueue[InboundFrame](),
		logger:     logrus.WithField("component", "socket"),
	}
}

// Start begins listening for inbound connections and spawns an outbound
// dial loop for every peer currently known to the table. Idempotent calls
// after the first are no-ops.
func (s *Socket) Start(ctx context.Context) error {
	if s.ctx != nil {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return Wrap(CodeNetworkFault, "listen", err)
	}
	s.listener = ln
	if _, portStr, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		if p, err := strconv.Atoi(portStr); err == nil {
			s.localPort = uint16(p)
		}
	}

	s.wg.Add(1)
	go s.acceptLoop()

	for _, p := range s.table.AllKnown() {
		s.dialPeer(p.ID)
	}
	return nil
}

// Shutdown halts all retries and closes every connection.
func (s *Socket) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	for _, link := range s.links {
		if link.cancelLoop != nil {
			link.cancelLoop()
		}
		if link.conn != nil {
			link.conn.Close()
		}
	}
	s.mu.Unlock()
	s.inbound.close()
	s.wg.Wait()
}

// dialPeer launches (if not already running) the outbound connect loop for
// peer id.
func (s *Socket) dialPeer(id PeerID) {
	dst, ok := s.table.GetDstByID(id)
	if !ok {
		return
	}
	loopCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if _, exists := s.links[id]; exists {
		s.mu.Unlock()
		cancel()
		return
	}
	s.links[id] = &peerLink{cancelLoop: cancel}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.connectLoop(loopCtx, id, dst)
}

func (s *Socket) connectLoop(ctx context.Context, id PeerID, dst net.Addr) {
	defer s.wg.Done()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffInitial
	bo.MaxInterval = backoffCap
	bo.MaxElapsedTime = 0 // retry forever until shutdown
	bo.Reset()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		dialer := &net.Dialer{Timeout: backoffCap}
		conn, err := dialer.DialContext(ctx, "tcp", dst.String())
		if err != nil {
			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			s.logger.WithError(err).WithField("peer", id).Debug("dial failed, backing off")
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			continue
		}
		bo.Reset()

		if err := WritePacket(conn, HelloPacket(s.localPort)); err != nil {
			conn.Close()
			continue
		}

		s.table.MarkDialed(id)
		s.attachConn(id, conn)
		s.runLink(ctx, id, conn)
		s.table.Disconnect(id)
	}
}

// acceptLoop accepts inbound connections; the first frame on each must be
// a Hello, which is reconciled against the peer table via AddSrc.
func (s *Socket) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.WithError(err).Warn("accept failed")
				return
			}
		}
		go s.handleAccepted(conn)
	}
}

func (s *Socket) handleAccepted(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(linkSilenceLimit))
	pkt, err := ReadPacket(conn)
	if err != nil || pkt.Kind != PacketHello {
		conn.Close()
		return
	}
	id, ok := s.table.AddSrc(conn.RemoteAddr(), int(pkt.Port))
	if !ok {
		conn.Close()
		return
	}
	s.attachConn(id, conn)

	loopCtx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	if link, exists := s.links[id]; exists && link.cancelLoop != nil {
		link.cancelLoop()
	}
	s.links[id].cancelLoop = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runLink(loopCtx, id, conn)
		s.table.Disconnect(id)
	}()
}

func (s *Socket) attachConn(id PeerID, conn net.Conn) {
	s.mu.Lock()
	link, ok := s.links[id]
	if !ok {
		link = &peerLink{}
		s.links[id] = link
	}
	link.writeMu.Lock()
	if link.conn != nil {
		link.conn.Close()
	}
	link.conn = conn
	link.lastWrite.Store(time.Now().UnixNano())
	link.writeMu.Unlock()
	s.mu.Unlock()
}

// runLink drives keep-alive and the read loop for one connection until it
// fails or ctx is cancelled.
func (s *Socket) runLink(ctx context.Context, id PeerID, conn net.Conn) {
	readErr := make(chan error, 1)
	go func() {
		for {
			conn.SetReadDeadline(time.Now().Add(linkSilenceLimit))
			pkt, err := ReadPacket(conn)
			if err != nil {
				readErr <- err
				return
			}
			if pkt.Kind == PacketFrame {
				s.inbound.push(InboundFrame{Data: pkt.Data, PeerID: id})
			}
		}
	}()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	s.mu.Lock()
	link := s.links[id]
	s.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return
		case err := <-readErr:
			s.logger.WithError(err).WithField("peer", id).Debug("link closed")
			conn.Close()
			return
		case <-ticker.C:
			if time.Since(time.Unix(0, link.lastWrite.Load())) >= keepAliveInterval {
				if err := link.write(KeepAlivePacket()); err != nil {
					conn.Close()
					return
				}
			}
		}
	}
}

// Send writes frame directly to peer id's connection; there is no send
// queue, so the call returns once the write completes or fails. Fails with
// CodeNetworkFault if the peer has no live, verified link.
func (s *Socket) Send(id PeerID, frame []byte) error {
	if p, ok := s.table.PeerWithID(id); !ok || !p.Verified {
		return NewError(CodeNetworkFault, "peer not verified")
	}
	s.mu.Lock()
	link, ok := s.links[id]
	s.mu.Unlock()
	if !ok {
		return NewError(CodeNetworkFault, "peer not connected")
	}
	return link.write(FramePacket(frame))
}

// SendAll fans frame out to every verified peer. Individual failures are
// logged, not returned, per §4.F's Flood contract.
func (s *Socket) SendAll(frame []byte) {
	for _, p := range s.table.AllKnown() {
		if !p.Verified {
			continue
		}
		if err := s.Send(p.ID, frame); err != nil {
			s.logger.WithError(err).WithField("peer", p.ID).Warn("send_all: peer delivery failed")
		}
	}
}

// Recv blocks until a frame arrives or ctx is cancelled.
func (s *Socket) Recv(ctx context.Context) (InboundFrame, error) {
	f, ok, err := s.inbound.pop(ctx)
	if err != nil {
		return InboundFrame{}, err
	}
	if !ok {
		return InboundFrame{}, NewError(CodeNetworkFault, "socket shut down")
	}
	return f, nil
}

// AddPeer registers a new destination and, if the socket is already
// running, starts dialing it immediately.
func (s *Socket) AddPeer(dst net.Addr) (PeerID, error) {
	if err := s.table.Load([]net.Addr{dst}); err != nil {
		if _, ok := err.(*DuplicatePeerError); !ok {
			return 0, err
		}
	}
	id, _ := s.table.GetIDByDst(dst)
	if s.ctx != nil {
		s.dialPeer(id)
	}
	return id, nil
}
