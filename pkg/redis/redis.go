// Package redis provides a pulse.Source for heartbeats published on a Redis
// pub/sub channel.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pulse"
)

// Source receives heartbeats from a Redis pub/sub channel. Each message
// payload is one encoded pulse.Heartbeat:
//
//	PUBLISH engines.heartbeat '{"engine":"engine-1","kind":"success"}'
type Source struct {
	client  *redis.Client
	channel string
	codec   pulse.Codec
}

// Option configures a Source.
type Option func(*Source)

// WithCodec sets the payload codec. Defaults to pulse.JSONCodec.
func WithCodec(codec pulse.Codec) Option {
	return func(s *Source) {
		s.codec = codec
	}
}

// New creates a Source subscribed to the given channel.
func New(client *redis.Client, channel string, opts ...Option) *Source {
	s := &Source{
		client:  client,
		channel: channel,
		codec:   pulse.JSONCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch subscribes to the channel and returns decoded signals. Payloads that
// fail to decode are reported through pulse.SourceDecodeFailed and skipped.
func (s *Source) Watch(ctx context.Context) (<-chan pulse.Signal, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)

	// Verify subscription worked
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	out := make(chan pulse.Signal)

	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				sig, err := pulse.DecodeSignal(s.codec, []byte(msg.Payload))
				if err != nil {
					capitan.Emit(ctx, pulse.SourceDecodeFailed,
						pulse.KeySource.Field("redis:"+s.channel),
						pulse.KeyError.Field(err.Error()),
					)
					continue
				}
				select {
				case out <- sig:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Beat publishes one heartbeat on the channel. Engines call this from their
// own liveness loop.
func Beat(ctx context.Context, client *redis.Client, channel string, sig pulse.Signal) error {
	payload, err := pulse.EncodeSignal(pulse.JSONCodec{}, sig)
	if err != nil {
		return err
	}
	if err := client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish heartbeat: %w", err)
	}
	return nil
}
