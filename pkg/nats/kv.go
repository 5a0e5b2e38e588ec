package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pulse"
)

// KVSource treats the keys of a JetStream key-value bucket as engine
// membership: a present key reports its engine alive, a deleted or purged
// key reports it failed. Buckets created with a TTL give lease semantics,
// engines refresh their key and expire when they stop.
//
// Membership changes are edges, so the source replays them through a
// pulse.Resyncer.
type KVSource struct {
	kv     jetstream.KeyValue
	resync time.Duration
	expire int
	clock  clockz.Clock
}

// KVOption configures a KVSource.
type KVOption func(*KVSource)

// WithResync sets the replay interval. Defaults to pulse.DefaultResyncInterval.
func WithResync(d time.Duration) KVOption {
	return func(s *KVSource) {
		s.resync = d
	}
}

// WithExpire sets how many replays a departed member receives before it is
// forgotten. Defaults to pulse.DefaultResyncExpire; zero never forgets.
func WithExpire(n int) KVOption {
	return func(s *KVSource) {
		s.expire = n
	}
}

// WithClock sets the clock driving replays.
func WithClock(clock clockz.Clock) KVOption {
	return func(s *KVSource) {
		s.clock = clock
	}
}

// NewKV creates a KVSource over every key in the bucket.
func NewKV(kv jetstream.KeyValue, opts ...KVOption) *KVSource {
	s := &KVSource{
		kv:     kv,
		resync: pulse.DefaultResyncInterval,
		expire: pulse.DefaultResyncExpire,
		clock:  clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch starts watching the bucket. Existing keys are reported first.
func (s *KVSource) Watch(ctx context.Context) (<-chan pulse.Signal, error) {
	watcher, err := s.kv.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to watch bucket: %w", err)
	}

	edges := make(chan pulse.Signal)

	go func() {
		defer close(edges)
		defer watcher.Stop() //nolint:errcheck // best effort on shutdown

		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				// nil entry signals end of initial values
				if entry == nil {
					continue
				}
				select {
				case edges <- entrySignal(entry):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return pulse.NewResyncer(s.resync).Expire(s.expire).Clock(s.clock).Run(ctx, edges), nil
}

func entrySignal(entry jetstream.KeyValueEntry) pulse.Signal {
	kind := pulse.KindSuccess
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		kind = pulse.KindFailure
	}
	return pulse.Signal{Engine: pulse.EngineID(entry.Key()), Kind: kind}
}
