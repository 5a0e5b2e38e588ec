package pulse

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Subscription receives every transition published after it was created, in
// global sequence order.
//
// Transitions are buffered in a bounded queue drained by a dedicated
// goroutine, so a slow reader never stalls the tracker. When the queue is
// full the oldest buffered transition is dropped and counted; the reader
// sees the loss as a gap in Sequence and through Dropped and Err.
type Subscription struct {
	id      string
	emitter *emitter

	mu    sync.Mutex
	queue []Transition
	head  int
	count int

	notify    chan struct{}
	out       chan Transition
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

func newSubscription(e *emitter, size int) *Subscription {
	if size < 1 {
		size = 1
	}
	s := &Subscription{
		id:      uuid.NewString(),
		emitter: e,
		queue:   make([]Transition, size),
		notify:  make(chan struct{}, 1),
		out:     make(chan Transition),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// C returns the delivery channel. It is closed after Close.
func (s *Subscription) C() <-chan Transition {
	return s.out
}

// Dropped returns the number of transitions lost to queue overflow.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Err returns ErrSubscriberOverloaded, annotated with the loss count, once
// any transition has been dropped. It returns nil otherwise.
func (s *Subscription) Err() error {
	if n := s.dropped.Load(); n > 0 {
		return fmt.Errorf("%w: %d transitions dropped", ErrSubscriberOverloaded, n)
	}
	return nil
}

// Close stops delivery and detaches the subscription from the tracker.
// Buffered transitions are discarded. Close is idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.emitter != nil {
			s.emitter.remove(s)
		}
	})
}

// offer enqueues t without blocking and reports whether an older transition
// had to be dropped to make room.
func (s *Subscription) offer(t Transition) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.mu.Lock()
	size := len(s.queue)
	dropped := false
	if s.count == size {
		s.head = (s.head + 1) % size
		s.count--
		dropped = true
	}
	s.queue[(s.head+s.count)%size] = t
	s.count++
	s.mu.Unlock()

	if dropped {
		s.dropped.Add(1)
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return dropped
}

// pop removes the oldest buffered transition.
func (s *Subscription) pop() (Transition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return Transition{}, false
	}
	t := s.queue[s.head]
	s.queue[s.head] = Transition{}
	s.head = (s.head + 1) % len(s.queue)
	s.count--
	return t, true
}

// pending returns the number of buffered transitions.
func (s *Subscription) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// pump moves buffered transitions to the delivery channel.
func (s *Subscription) pump() {
	defer close(s.out)

	for {
		t, ok := s.pop()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- t:
		case <-s.done:
			return
		}
	}
}
