// Package nats provides pulse sources backed by NATS: heartbeats on a core
// subject, and engine membership in a JetStream key-value bucket.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pulse"
)

// DefaultBuffer is the default number of undelivered messages held per
// subscription.
const DefaultBuffer = 256

// Source receives heartbeats published on a NATS subject. Wildcard subjects
// are allowed, so engines can publish on per-engine subjects such as
// engines.heartbeat.engine-1 while the source listens on engines.heartbeat.>.
type Source struct {
	conn    *nats.Conn
	subject string
	queue   string
	buffer  int
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

// WithQueue joins a queue group so several trackers can share one stream of
// heartbeats.
func WithQueue(group string) Option {
	return func(s *Source) {
		s.queue = group
	}
}

// WithBuffer sets the subscription buffer size.
func WithBuffer(n int) Option {
	return func(s *Source) {
		if n > 0 {
			s.buffer = n
		}
	}
}

// New creates a Source for the given subject.
func New(conn *nats.Conn, subject string, opts ...Option) *Source {
	s := &Source{
		conn:    conn,
		subject: subject,
		buffer:  DefaultBuffer,
		codec:   pulse.JSONCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch subscribes to the subject and returns decoded signals.
func (s *Source) Watch(ctx context.Context) (<-chan pulse.Signal, error) {
	msgs := make(chan *nats.Msg, s.buffer)

	var (
		sub *nats.Subscription
		err error
	)
	if s.queue != "" {
		sub, err = s.conn.ChanQueueSubscribe(s.subject, s.queue, msgs)
	} else {
		sub, err = s.conn.ChanSubscribe(s.subject, msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}

	out := make(chan pulse.Signal)

	go func() {
		defer close(out)
		defer sub.Unsubscribe() //nolint:errcheck // best effort on shutdown

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-msgs:
				sig, err := pulse.DecodeSignal(s.codec, msg.Data)
				if err != nil {
					capitan.Emit(ctx, pulse.SourceDecodeFailed,
						pulse.KeySource.Field("nats:"+msg.Subject),
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

// Beat publishes one heartbeat on subject.
func Beat(conn *nats.Conn, subject string, sig pulse.Signal) error {
	payload, err := pulse.EncodeSignal(pulse.JSONCodec{}, sig)
	if err != nil {
		return err
	}
	if err := conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("failed to publish heartbeat: %w", err)
	}
	return nil
}
