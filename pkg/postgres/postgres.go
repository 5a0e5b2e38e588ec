// Package postgres provides a pulse.Source for heartbeats delivered through
// PostgreSQL LISTEN/NOTIFY.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pulse"
)

// Source listens on a notification channel. Each notification payload is one
// encoded pulse.Heartbeat, sent with pg_notify directly or from a trigger.
//
// Example trigger turning a heartbeat table into notifications:
//
//	CREATE OR REPLACE FUNCTION notify_heartbeat() RETURNS trigger AS $$
//	BEGIN
//	    PERFORM pg_notify('engine_heartbeat', json_build_object(
//	        'engine', NEW.engine,
//	        'kind', NEW.kind,
//	        'observed_at', NEW.observed_at
//	    )::text);
//	    RETURN NEW;
//	END;
//	$$ LANGUAGE plpgsql;
//
//	CREATE TRIGGER heartbeat_trigger
//	    AFTER INSERT OR UPDATE ON engine_heartbeats
//	    FOR EACH ROW EXECUTE FUNCTION notify_heartbeat();
type Source struct {
	pool    *pgxpool.Pool
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

// New creates a Source for the given notification channel.
func New(pool *pgxpool.Pool, channel string, opts ...Option) *Source {
	s := &Source{
		pool:    pool,
		channel: channel,
		codec:   pulse.JSONCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Watch holds one pooled connection for LISTEN and returns decoded signals.
// The connection is released when the context ends.
func (s *Source) Watch(ctx context.Context) (<-chan pulse.Signal, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", s.channel, err)
	}

	out := make(chan pulse.Signal)

	go func() {
		defer close(out)
		defer conn.Release()

		for {
			notification, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if conn.Conn().IsClosed() {
					return
				}
				continue
			}

			sig, err := pulse.DecodeSignal(s.codec, []byte(notification.Payload))
			if err != nil {
				capitan.Emit(ctx, pulse.SourceDecodeFailed,
					pulse.KeySource.Field("postgres:"+s.channel),
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
	}()

	return out, nil
}

// Beat sends one heartbeat on channel with pg_notify.
func Beat(ctx context.Context, pool *pgxpool.Pool, channel string, sig pulse.Signal) error {
	payload, err := pulse.EncodeSignal(pulse.JSONCodec{}, sig)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		return fmt.Errorf("failed to notify heartbeat: %w", err)
	}
	return nil
}
