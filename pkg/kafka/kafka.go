// Package kafka connects a pulse tracker to Kafka: a Source consuming
// heartbeat records and a Publisher producing confirmed transitions.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pulse"
)

// Source consumes heartbeat records. The kgo.Client must be created with
// the topics to consume (kgo.ConsumeTopics) and, for shared consumption, a
// consumer group. Each record value is one encoded pulse.Heartbeat; when the
// heartbeat carries no observation time the record timestamp is used.
type Source struct {
	client *kgo.Client
	codec  pulse.Codec
}

// Option configures a Source.
type Option func(*Source)

// WithCodec sets the payload codec. Defaults to pulse.JSONCodec.
func WithCodec(codec pulse.Codec) Option {
	return func(s *Source) {
		s.codec = codec
	}
}

// New creates a Source over an already configured consumer client.
func New(client *kgo.Client, opts ...Option) *Source {
	s := &Source{client: client, codec: pulse.JSONCodec{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch polls the client until the context ends or the client is closed.
func (s *Source) Watch(ctx context.Context) (<-chan pulse.Signal, error) {
	out := make(chan pulse.Signal)

	go func() {
		defer close(out)

		for {
			fetches := s.client.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}
			fetches.EachError(func(topic string, partition int32, err error) {
				if errors.Is(err, context.Canceled) {
					return
				}
				capitan.Emit(ctx, pulse.SourceDecodeFailed,
					pulse.KeySource.Field(fmt.Sprintf("kafka:%s/%d", topic, partition)),
					pulse.KeyError.Field(err.Error()),
				)
			})

			iter := fetches.RecordIter()
			for !iter.Done() {
				rec := iter.Next()
				sig, err := s.decode(rec)
				if err != nil {
					capitan.Emit(ctx, pulse.SourceDecodeFailed,
						pulse.KeySource.Field("kafka:"+rec.Topic),
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

func (s *Source) decode(rec *kgo.Record) (pulse.Signal, error) {
	sig, err := pulse.DecodeSignal(s.codec, rec.Value)
	if err != nil {
		return pulse.Signal{}, err
	}
	if sig.ObservedAt.IsZero() {
		sig.ObservedAt = rec.Timestamp
	}
	return sig, nil
}

// HeartbeatRecord builds a record carrying one heartbeat, keyed by engine so
// an engine's heartbeats stay in one partition and in order.
func HeartbeatRecord(topic string, sig pulse.Signal) (*kgo.Record, error) {
	payload, err := pulse.EncodeSignal(pulse.JSONCodec{}, sig)
	if err != nil {
		return nil, err
	}
	return &kgo.Record{Topic: topic, Key: []byte(sig.Engine), Value: payload}, nil
}

// Beat produces one heartbeat synchronously.
func Beat(ctx context.Context, client *kgo.Client, topic string, sig pulse.Signal) error {
	rec, err := HeartbeatRecord(topic, sig)
	if err != nil {
		return err
	}
	if err := client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce heartbeat: %w", err)
	}
	return nil
}
