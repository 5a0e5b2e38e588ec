package pulse

import "context"

// Source delivers liveness signals for one or more engines. Push sources
// forward heartbeats as they arrive; pull sources (see Prober) generate
// signals from probe outcomes. The tracker makes no assumption about the
// transport behind a source.
type Source interface {
	// Watch begins observing and returns a channel of signals. The channel
	// is closed when the context is canceled or the source cannot continue.
	Watch(ctx context.Context) (<-chan Signal, error)
}

// ChannelSource wraps an existing signal channel as a Source.
// Useful for testing and for in-process probe code that already produces
// signals.
type ChannelSource struct {
	ch   <-chan Signal
	sync bool
}

// NewChannelSource creates a ChannelSource that forwards values from the
// given channel through an internal goroutine.
func NewChannelSource(ch <-chan Signal) *ChannelSource {
	return &ChannelSource{ch: ch, sync: false}
}

// NewSyncChannelSource creates a ChannelSource that returns the source
// channel directly without an intermediate goroutine.
// Use with Tracker.Run for deterministic testing.
func NewSyncChannelSource(ch <-chan Signal) *ChannelSource {
	return &ChannelSource{ch: ch, sync: true}
}

// Watch returns a channel that emits values from the wrapped channel.
func (s *ChannelSource) Watch(ctx context.Context) (<-chan Signal, error) {
	if s.sync {
		return s.ch, nil
	}
	return forward(ctx, s.ch), nil
}

// forward relays values from in through a goroutine that stops when in
// closes or the context ends.
func forward[T any](ctx context.Context, in <-chan T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
