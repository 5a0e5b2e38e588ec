// Package etcd provides a membership pulse.Source over keys under an etcd
// prefix. Engines announce themselves with a lease-backed key; the key
// disappears when the engine stops refreshing its lease.
package etcd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pulse"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Source reports one engine per key under a prefix: a put reports the engine
// alive, a delete (or lease expiry) reports it failed. The engine id is the
// key with the prefix removed.
type Source struct {
	client *clientv3.Client
	prefix string
	resync time.Duration
	expire int
	clock  clockz.Clock
}

// Option configures a Source.
type Option func(*Source)

// WithResync sets the replay interval. Defaults to pulse.DefaultResyncInterval.
func WithResync(d time.Duration) Option {
	return func(s *Source) {
		s.resync = d
	}
}

// WithExpire sets how many replays a departed member receives before it is
// forgotten. Defaults to pulse.DefaultResyncExpire; zero never forgets.
func WithExpire(n int) Option {
	return func(s *Source) {
		s.expire = n
	}
}

// WithClock sets the clock driving replays.
func WithClock(clock clockz.Clock) Option {
	return func(s *Source) {
		s.clock = clock
	}
}

// New creates a Source for the given key prefix, for example "/engines/".
func New(client *clientv3.Client, prefix string, opts ...Option) *Source {
	s := &Source{
		client: client,
		prefix: prefix,
		resync: pulse.DefaultResyncInterval,
		expire: pulse.DefaultResyncExpire,
		clock:  clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch reports current members, then every change from the revision that
// listing observed.
func (s *Source) Watch(ctx context.Context) (<-chan pulse.Signal, error) {
	resp, err := s.client.Get(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}

	edges := make(chan pulse.Signal)

	go func() {
		defer close(edges)

		send := func(sig pulse.Signal) bool {
			select {
			case edges <- sig:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, kv := range resp.Kvs {
			if id := s.engine(kv.Key); id != "" {
				if !send(pulse.Signal{Engine: id, Kind: pulse.KindSuccess}) {
					return
				}
			}
		}

		watchChan := s.client.Watch(ctx, s.prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))
		for {
			select {
			case <-ctx.Done():
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					return
				}
				if watchResp.Err() != nil {
					continue
				}
				for _, event := range watchResp.Events {
					id := s.engine(event.Kv.Key)
					if id == "" {
						continue
					}
					kind := pulse.KindSuccess
					if event.Type == clientv3.EventTypeDelete {
						kind = pulse.KindFailure
					}
					if !send(pulse.Signal{Engine: id, Kind: kind}) {
						return
					}
				}
			}
		}
	}()

	return pulse.NewResyncer(s.resync).Expire(s.expire).Clock(s.clock).Run(ctx, edges), nil
}

func (s *Source) engine(key []byte) pulse.EngineID {
	return pulse.EngineID(strings.TrimPrefix(string(key), s.prefix))
}

// Announce registers an engine under prefix with a lease of ttl seconds and
// keeps the lease alive until the context ends. When Announce's context is
// canceled the lease stops being refreshed and the key expires.
func Announce(ctx context.Context, client *clientv3.Client, prefix string, id pulse.EngineID, ttl int64) (clientv3.LeaseID, error) {
	lease, err := client.Grant(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("failed to grant lease: %w", err)
	}
	if _, err := client.Put(ctx, prefix+string(id), "", clientv3.WithLease(lease.ID)); err != nil {
		return 0, fmt.Errorf("failed to announce %s: %w", id, err)
	}

	keepAlive, err := client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to keep lease alive: %w", err)
	}
	go func() {
		// Drain responses so the client does not warn about a full channel.
		for range keepAlive {
		}
	}()
	return lease.ID, nil
}
