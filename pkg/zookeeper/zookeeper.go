// Package zookeeper provides a membership pulse.Source over the ephemeral
// children of a ZooKeeper node.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pulse"
)

// Source reports one engine per child of a parent node. A child appearing
// reports its engine alive; a child disappearing (its session ended)
// reports it failed.
type Source struct {
	conn   *zk.Conn
	parent string
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

// New creates a Source for the children of parent, for example "/engines".
func New(conn *zk.Conn, parent string, opts ...Option) *Source {
	s := &Source{
		conn:   conn,
		parent: parent,
		resync: pulse.DefaultResyncInterval,
		expire: pulse.DefaultResyncExpire,
		clock:  clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch reports the current children, then every membership change. A
// missing parent is treated as an empty membership until it is created.
func (s *Source) Watch(ctx context.Context) (<-chan pulse.Signal, error) {
	edges := make(chan pulse.Signal)

	go func() {
		defer close(edges)

		known := make(map[pulse.EngineID]bool)
		for {
			children, _, eventCh, err := s.conn.ChildrenW(s.parent)
			if errors.Is(err, zk.ErrNoNode) {
				// Parent doesn't exist yet, watch for creation
				exists, _, existCh, err := s.conn.ExistsW(s.parent)
				if err != nil {
					s.fail(ctx, err)
					return
				}
				if exists {
					continue
				}
				children, eventCh = nil, existCh
			} else if err != nil {
				if ctx.Err() == nil {
					s.fail(ctx, err)
				}
				return
			}

			for _, sig := range membership(known, children) {
				select {
				case edges <- sig:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-eventCh:
				// Loop back to list children and set a new watch
			}
		}
	}()

	return pulse.NewResyncer(s.resync).Expire(s.expire).Clock(s.clock).Run(ctx, edges), nil
}

func (s *Source) fail(ctx context.Context, err error) {
	capitan.Emit(ctx, pulse.SourceDecodeFailed,
		pulse.KeySource.Field("zookeeper:"+s.parent),
		pulse.KeyError.Field(err.Error()),
	)
}

// membership updates known from the current children and returns one signal
// per joined or departed child, in id order.
func membership(known map[pulse.EngineID]bool, children []string) []pulse.Signal {
	current := make(map[pulse.EngineID]bool, len(children))
	var out []pulse.Signal

	for _, child := range children {
		id := pulse.EngineID(child)
		current[id] = true
		if !known[id] {
			known[id] = true
			out = append(out, pulse.Signal{Engine: id, Kind: pulse.KindSuccess})
		}
	}
	for id := range known {
		if !current[id] {
			delete(known, id)
			out = append(out, pulse.Signal{Engine: id, Kind: pulse.KindFailure})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Engine < out[j].Engine })
	return out
}

// Announce creates an ephemeral child for id under parent, creating the
// parent if needed. The child lives as long as the connection's session.
func Announce(conn *zk.Conn, parent string, id pulse.EngineID) error {
	if _, err := conn.Create(parent, nil, 0, zk.WorldACL(zk.PermAll)); err != nil && !errors.Is(err, zk.ErrNodeExists) {
		return fmt.Errorf("failed to create %s: %w", parent, err)
	}
	if _, err := conn.Create(path.Join(parent, string(id)), nil, zk.FlagEphemeral, zk.WorldACL(zk.PermAll)); err != nil {
		return fmt.Errorf("failed to announce %s: %w", id, err)
	}
	return nil
}
