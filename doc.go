// Package pulse tracks the liveness of child engines.
//
// A Tracker receives liveness signals (heartbeats or probe outcomes) for a
// set of engines, classifies each engine as up or down, suppresses flapping
// with a consecutive-signal threshold and publishes every confirmed
// transition, in one global order, to its subscriptions.
//
// # Signals
//
// A Signal reports one observation for one engine:
//
//	pulse.Signal{Engine: "engine-1", Kind: pulse.KindSuccess, ObservedAt: time.Now()}
//
// Success argues for Up; Failure and Timeout argue for Down.
//
// # State Machine
//
// Every engine is in one of three states:
//
//   - Unknown: registered, nothing confirmed yet
//   - Up: confirmed alive
//   - Down: confirmed unavailable
//
// A transition is confirmed only after Threshold consecutive signals of the
// same kind argue for a state other than the current one. Signals further
// apart than Window do not count as consecutive. Unknown is left through
// the same rule and never re-entered.
//
// # Subscriptions
//
// Subscribe returns a Subscription whose channel yields transitions in
// Sequence order. Each subscription has a bounded queue; when a reader falls
// behind the oldest queued transition is dropped and counted, and ingestion
// is never slowed down.
//
// # Sources
//
// Signals can be ingested directly with Ingest, or by attaching a Source:
//
//   - ChannelSource: in-process channels
//   - Prober: periodic pull probes with per-probe deadlines
//   - pkg/redis, pkg/nats, pkg/postgres, pkg/kafka: heartbeat streams
//   - pkg/etcd, pkg/consul, pkg/zookeeper, pkg/kubernetes: membership
//     backends, replayed through a Resyncer
//
// # Example
//
//	tracker, err := pulse.New(pulse.Config{
//	    Threshold: 3,
//	    Window:    10 * time.Second,
//	    QueueSize: 64,
//	})
//	if err != nil {
//	    return err
//	}
//	defer tracker.Close()
//
//	sub := tracker.Subscribe()
//	go func() {
//	    for t := range sub.C() {
//	        log.Printf("engine %s: %s -> %s", t.Engine, t.From, t.To)
//	    }
//	}()
//
//	prober := pulse.NewProber(tracker.Engines, pingEngine).Interval(time.Second)
//	if err := tracker.Watch(ctx, prober); err != nil {
//	    return err
//	}
package pulse
