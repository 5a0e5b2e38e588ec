package pulse

import (
	"context"
	"sort"
	"time"

	"github.com/zoobzio/clockz"
)

// Resyncer defaults.
const (
	DefaultResyncInterval = time.Second
	DefaultResyncExpire   = 16
)

// Resyncer turns edge notifications into a level signal stream.
//
// Membership backends (etcd keys, ZooKeeper children, Consul checks,
// Kubernetes pod conditions) report changes, not heartbeats, so a single
// edge would never reach a debounce threshold above one. A Resyncer forwards
// every edge and, at each interval, re-emits the last known kind of every
// engine it has seen.
//
// A member whose last edge reported it gone is replayed Expire times and
// then forgotten, so an engine removed from the tracker is not brought back
// by replays once its backend entry is gone. Expire must exceed the
// tracker's threshold for the removal to be confirmed first.
type Resyncer struct {
	interval time.Duration
	expire   int
	clock    clockz.Clock
}

// NewResyncer creates a Resyncer with the given replay interval.
func NewResyncer(interval time.Duration) *Resyncer {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	return &Resyncer{interval: interval, expire: DefaultResyncExpire, clock: clockz.RealClock}
}

// Expire sets how many replays a gone member receives before it is
// forgotten. Zero keeps every member forever. Default: 16.
func (r *Resyncer) Expire(n int) *Resyncer {
	if n >= 0 {
		r.expire = n
	}
	return r
}

// Clock sets the clock driving replays and stamping replayed signals.
func (r *Resyncer) Clock(clock clockz.Clock) *Resyncer {
	r.clock = clock
	return r
}

// Run forwards edges and periodic replays on the returned channel, which is
// closed when edges closes or the context ends.
func (r *Resyncer) Run(ctx context.Context, edges <-chan Signal) <-chan Signal {
	out := make(chan Signal)

	go func() {
		defer close(out)

		ticker := r.clock.NewTicker(r.interval)
		defer ticker.Stop()

		status := make(map[EngineID]SignalKind)
		replays := make(map[EngineID]int)
		send := func(sig Signal) bool {
			select {
			case out <- sig:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-edges:
				if !ok {
					return
				}
				status[sig.Engine] = sig.Kind
				delete(replays, sig.Engine)
				if sig.ObservedAt.IsZero() {
					sig.ObservedAt = r.clock.Now()
				}
				if !send(sig) {
					return
				}
			case <-ticker.C():
				ids := make([]EngineID, 0, len(status))
				for id := range status {
					ids = append(ids, id)
				}
				sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
				now := r.clock.Now()
				for _, id := range ids {
					kind := status[id]
					if !send(Signal{Engine: id, Kind: kind, ObservedAt: now}) {
						return
					}
					if r.expire == 0 || kind.Candidate() != StateDown {
						continue
					}
					replays[id]++
					if replays[id] >= r.expire {
						delete(status, id)
						delete(replays, id)
					}
				}
			}
		}
	}()

	return out
}
