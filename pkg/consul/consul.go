// Package consul provides a membership pulse.Source over the health of a
// Consul service, using blocking queries.
package consul

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pulse"
)

// DefaultWaitTime bounds each blocking query.
const DefaultWaitTime = 30 * time.Second

// Source reports one engine per service instance. An instance whose checks
// all pass reports alive; any other aggregated status reports failed, and an
// instance that disappears from the catalog reports failed once.
//
// The engine id is the service instance ID.
type Source struct {
	client   *api.Client
	service  string
	tag      string
	waitTime time.Duration
	resync   time.Duration
	expire   int
	clock    clockz.Clock
}

// Option configures a Source.
type Option func(*Source)

// WithTag filters instances by tag.
func WithTag(tag string) Option {
	return func(s *Source) {
		s.tag = tag
	}
}

// WithWaitTime sets the blocking query wait time.
func WithWaitTime(d time.Duration) Option {
	return func(s *Source) {
		s.waitTime = d
	}
}

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

// New creates a Source for the given service name.
func New(client *api.Client, service string, opts ...Option) *Source {
	s := &Source{
		client:   client,
		service:  service,
		waitTime: DefaultWaitTime,
		resync:   pulse.DefaultResyncInterval,
		expire:   pulse.DefaultResyncExpire,
		clock:    clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch reports current instances, then every status change.
func (s *Source) Watch(ctx context.Context) (<-chan pulse.Signal, error) {
	health := s.client.Health()

	entries, meta, err := health.Service(s.service, s.tag, false, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to query service %s: %w", s.service, err)
	}

	edges := make(chan pulse.Signal)

	go func() {
		defer close(edges)

		known := make(map[pulse.EngineID]pulse.SignalKind)
		lastIndex := meta.LastIndex

		for {
			for _, sig := range diff(known, entries) {
				select {
				case edges <- sig:
				case <-ctx.Done():
					return
				}
			}

			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				opts := (&api.QueryOptions{
					WaitIndex: lastIndex,
					WaitTime:  s.waitTime,
				}).WithContext(ctx)

				next, meta, err := health.Service(s.service, s.tag, false, opts)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					capitan.Emit(ctx, pulse.SourceDecodeFailed,
						pulse.KeySource.Field("consul:"+s.service),
						pulse.KeyError.Field(err.Error()),
					)
					continue
				}
				// Index went backwards: the agent restarted, start over.
				if meta.LastIndex < lastIndex {
					lastIndex = 0
					continue
				}
				if meta.LastIndex == lastIndex {
					continue
				}
				lastIndex = meta.LastIndex
				entries = next
				break
			}
		}
	}()

	return pulse.NewResyncer(s.resync).Expire(s.expire).Clock(s.clock).Run(ctx, edges), nil
}

// diff updates known from entries and returns the signals for every
// instance whose status changed, in id order.
func diff(known map[pulse.EngineID]pulse.SignalKind, entries []*api.ServiceEntry) []pulse.Signal {
	seen := make(map[pulse.EngineID]bool, len(entries))
	var out []pulse.Signal

	for _, entry := range entries {
		if entry.Service == nil {
			continue
		}
		id := pulse.EngineID(entry.Service.ID)
		seen[id] = true

		kind := pulse.KindFailure
		if entry.Checks.AggregatedStatus() == api.HealthPassing {
			kind = pulse.KindSuccess
		}
		if prev, ok := known[id]; ok && prev == kind {
			continue
		}
		known[id] = kind
		out = append(out, pulse.Signal{Engine: id, Kind: kind})
	}

	for id := range known {
		if !seen[id] {
			delete(known, id)
			out = append(out, pulse.Signal{Engine: id, Kind: pulse.KindFailure})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Engine < out[j].Engine })
	return out
}
