package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/zoobzio/pulse"
)

// Publisher produces confirmed transitions to a topic. Records are keyed by
// engine and carry the JSON form of pulse.Transition:
//
//	{"engine":"engine-1","from":"unknown","to":"up","at":"...","sequence":7,"cause":"signal"}
type Publisher struct {
	client *kgo.Client
	topic  string
}

// NewPublisher creates a Publisher.
func NewPublisher(client *kgo.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Record builds the record for one transition.
func (p *Publisher) Record(tr pulse.Transition) (*kgo.Record, error) {
	value, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transition: %w", err)
	}
	return &kgo.Record{Topic: p.topic, Key: []byte(tr.Engine), Value: value}, nil
}

// Publish produces one transition synchronously.
func (p *Publisher) Publish(ctx context.Context, tr pulse.Transition) error {
	rec, err := p.Record(tr)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("failed to produce transition %d: %w", tr.Sequence, err)
	}
	return nil
}

// Forward publishes every transition delivered on sub until the subscription
// closes or the context ends.
func (p *Publisher) Forward(ctx context.Context, sub *pulse.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tr, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, tr); err != nil {
				return err
			}
		}
	}
}

// DecodeTransition parses a record produced by a Publisher.
func DecodeTransition(rec *kgo.Record) (pulse.Transition, error) {
	var tr pulse.Transition
	if err := json.Unmarshal(rec.Value, &tr); err != nil {
		return pulse.Transition{}, fmt.Errorf("failed to decode transition: %w", err)
	}
	return tr, nil
}

// EnsureTopic creates topic if it does not exist.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string, partitions int32, replication int16) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, topic)
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("failed to create topic %s: %w", topic, resp.Err)
	}
	return nil
}
