package core

import (
	"context"
	"sync"
)

// EndpointID is the small integer key a Router uses to address one of its
// Endpoints.
type EndpointID int

// Router owns a collection of Endpoints and exposes a single send-to-
// identity / recv-from-network contract to the core (§4.G). The routing
// policy across multiple endpoints is explicitly out of scope (§4.G);
// Router assumes a single endpoint is the common case. With more than one
// registered, Send tries them in no fixed order until one accepts the
// frame; there is no round-robin or load balancing.
type Router struct {
	mu        sync.RWMutex
	endpoints map[EndpointID]*Endpoint
	next      EndpointID
	inbound   *unboundedQueue[routedFrame]
	cancels   []context.CancelFunc
	wg        sync.WaitGroup
}

type routedFrame struct {
	data []byte
	peer PeerID
	ep   EndpointID
}

// NewRouter builds an empty router.
func NewRouter() *Router {
	return &Router{
		endpoints: make(map[EndpointID]*Endpoint),
		inbound:   newUnboundedQueue[routedFrame](),
	}
}

// AddEndpoint registers and starts ep, returning the id it was assigned.
func (r *Router) AddEndpoint(ctx context.Context, ep *Endpoint) (EndpointID, error) {
	if err := ep.Start(ctx); err != nil {
		return 0, err
	}
	r.mu.Lock()
	id := r.next
	r.next++
	r.endpoints[id] = ep
	pumpCtx, cancel := context.WithCancel(ctx)
	r.cancels = append(r.cancels, cancel)
	r.mu.Unlock()

	r.wg.Add(1)
	go r.pump(pumpCtx, id, ep)
	return id, nil
}

func (r *Router) pump(ctx context.Context, id EndpointID, ep *Endpoint) {
	defer r.wg.Done()
	for {
		data, target, err := ep.Next(ctx)
		if err != nil {
			return
		}
		r.inbound.push(routedFrame{data: data, peer: target.PeerID(), ep: id})
	}
}

// Send delivers frame to recipient over the registered endpoint (or, with
// more than one registered, over whichever endpoint first accepts it;
// endpoints are tried in no fixed order).
func (r *Router) Send(frame []byte, recipient PeerID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.endpoints) == 0 {
		return NewError(CodeNoRoute, "no endpoints registered")
	}
	var lastErr error
	for _, ep := range r.endpoints {
		if err := ep.Send(frame, SingleTarget(recipient)); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return Wrap(CodeNoRoute, "no endpoint could reach recipient", lastErr)
}

// Broadcast floods frame over every registered endpoint.
func (r *Router) Broadcast(frame []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ep := range r.endpoints {
		_ = ep.Send(frame, FloodTarget())
	}
}

// Recv blocks until a frame arrives from any registered endpoint.
func (r *Router) Recv(ctx context.Context) (data []byte, origin PeerID, ep EndpointID, err error) {
	f, ok, err := r.inbound.pop(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	if !ok {
		return nil, 0, 0, NewError(CodeNetworkFault, "router shut down")
	}
	return f.data, f.peer, f.ep, nil
}

// Shutdown stops every registered endpoint and the router's pump loops.
func (r *Router) Shutdown() {
	r.mu.Lock()
	for _, cancel := range r.cancels {
		cancel()
	}
	eps := make([]*Endpoint, 0, len(r.endpoints))
	for _, ep := range r.endpoints {
		eps = append(eps, ep)
	}
	r.mu.Unlock()
	for _, ep := range eps {
		ep.Shutdown()
	}
	r.inbound.close()
	r.wg.Wait()
}
