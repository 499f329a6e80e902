package core

import "context"

// subscriber is the store-side registration backing a Subscription.
type subscriber struct {
	ns    Namespace
	query Query
	queue *unboundedQueue[*Record]
}

// Subscription is a live, single-consumer filter bound to a namespace and a
// Query. It yields records as the store mutates in a way that matches the
// query (§3, §4.B). Dropping it (Cancel) unregisters it from the store.
type Subscription struct {
	store *Store
	sub   *subscriber
}

// Subscribe installs a live filter over session's namespace. Matching
// mutations committed after this call (and, per §8's liveness property,
// racing with it) will be delivered to Next.
func (s *Store) Subscribe(session Session, q Query) *Subscription {
	sub := &subscriber{ns: session, query: q, queue: newUnboundedQueue[*Record]()}
	s.subMu.Lock()
	s.subs = append(s.subs, sub)
	s.subMu.Unlock()
	return &Subscription{store: s, sub: sub}
}

// publish delivers rec to every subscription whose namespace and predicate
// match, in the store's commit order.
func (s *Store) publish(rec *Record) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		if !sub.ns.Equal(rec.Header.Namespace) {
			continue
		}
		switch sub.query.Kind {
		case QueryByPath:
			if rec.Header.Path == sub.query.Path {
				sub.queue.push(rec.Clone())
			}
		case QueryByTags:
			if sub.query.Predicate.matches(rec) {
				sub.queue.push(rec.Clone())
			}
		}
	}
}

// Next suspends until either a matching mutation occurs or ctx is
// cancelled. It never loses a buffered item across cancellations.
func (sub *Subscription) Next(ctx context.Context) (*Record, error) {
	rec, ok, err := sub.sub.queue.pop(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return rec, nil
}

// Cancel unregisters the subscription from the store.
func (sub *Subscription) Cancel() {
	sub.sub.queue.close()
	sub.store.subMu.Lock()
	defer sub.store.subMu.Unlock()
	for i, s := range sub.store.subs {
		if s == sub.sub {
			sub.store.subs = append(sub.store.subs[:i], sub.store.subs[i+1:]...)
			break
		}
	}
}
