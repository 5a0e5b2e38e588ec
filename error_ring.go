package pulse

import (
	"sync"
	"time"
)

// Rejection records a signal the tracker refused.
type Rejection struct {
	Signal Signal
	Err    error
	At     time.Time
}

// rejectionRing is a thread-safe ring buffer of recent rejections.
type rejectionRing struct {
	mu      sync.RWMutex
	entries []Rejection
	size    int
	head    int
	count   int
}

// newRejectionRing creates a ring with the given capacity.
// If size is 0, history is disabled and the nil ring ignores every call.
func newRejectionRing(size int) *rejectionRing {
	if size <= 0 {
		return nil
	}
	return &rejectionRing{
		entries: make([]Rejection, size),
		size:    size,
	}
}

func (r *rejectionRing) push(rej Rejection) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = rej
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
}

// all returns the retained rejections, oldest first.
func (r *rejectionRing) all() []Rejection {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.count == 0 {
		return nil
	}

	result := make([]Rejection, r.count)
	start := (r.head - r.count + r.size) % r.size
	for i := 0; i < r.count; i++ {
		result[i] = r.entries[(start+i)%r.size]
	}
	return result
}
