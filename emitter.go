package pulse

import "sync"

// emitter fans confirmed transitions out to subscriptions.
// publish is only called from the tracker's critical section, so
// subscriptions see transitions in sequence order.
type emitter struct {
	mu        sync.RWMutex
	subs      map[string]*Subscription
	queueSize int
	closed    bool
}

func newEmitter(queueSize int) *emitter {
	return &emitter{
		subs:      make(map[string]*Subscription),
		queueSize: queueSize,
	}
}

// subscribe attaches a new subscription. After close it returns an already
// closed subscription.
func (e *emitter) subscribe() *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		s := newSubscription(nil, 1)
		s.Close()
		return s
	}
	s := newSubscription(e, e.queueSize)
	e.subs[s.id] = s
	return s
}

// publish enqueues t on every subscription and returns those that had to
// drop an older transition.
func (e *emitter) publish(t Transition) []*Subscription {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var overloaded []*Subscription
	for _, s := range e.subs {
		if s.offer(t) {
			overloaded = append(overloaded, s)
		}
	}
	return overloaded
}

func (e *emitter) remove(s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, s.id)
}

func (e *emitter) setQueueSize(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queueSize = n
}

func (e *emitter) count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}

// close detaches and closes every subscription.
func (e *emitter) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	subs := make([]*Subscription, 0, len(e.subs))
	for _, s := range e.subs {
		subs = append(subs, s)
	}
	e.subs = make(map[string]*Subscription)
	e.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}
