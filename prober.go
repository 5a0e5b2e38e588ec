package pulse

import (
	"context"
	"errors"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
	"golang.org/x/sync/errgroup"
)

// Prober defaults.
const (
	DefaultProbeInterval    = time.Second
	DefaultProbeTimeout     = 500 * time.Millisecond
	DefaultProbeConcurrency = 8
)

var (
	probeID           = pipz.NewIdentity("pulse:probe", "Engine liveness probe")
	probeRateLimitID  = pipz.NewIdentity("pulse:probe-rate-limit", "Probe rate limiter")
	probeMiddlewareID = pipz.NewIdentity("pulse:probe-middleware", "Probe middleware sequence")
)

// ProbeFunc checks one engine. A nil error is a success; an error returned
// after the probe deadline passed is classified as a timeout, any other
// error as a failure.
type ProbeFunc func(ctx context.Context, engine EngineID) error

// ProbeOption wraps the probe pipeline with middleware.
type ProbeOption func(pipz.Chainable[EngineID]) pipz.Chainable[EngineID]

// WithProbeRateLimit caps the rate at which probes are issued across all
// engines. Probes wait for capacity rather than being dropped.
func WithProbeRateLimit(rate float64, burst int) ProbeOption {
	return func(p pipz.Chainable[EngineID]) pipz.Chainable[EngineID] {
		return pipz.NewRateLimiter[EngineID](probeRateLimitID, rate, burst, p)
	}
}

// WithProbeMiddleware runs processors before every probe.
// A processor error counts as a probe failure.
func WithProbeMiddleware(processors ...pipz.Chainable[EngineID]) ProbeOption {
	return func(p pipz.Chainable[EngineID]) pipz.Chainable[EngineID] {
		all := make([]pipz.Chainable[EngineID], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence(probeMiddlewareID, all...)
	}
}

// StaticTargets returns a target list that never changes.
func StaticTargets(ids ...EngineID) func() []EngineID {
	fixed := append([]EngineID(nil), ids...)
	return func() []EngineID {
		return fixed
	}
}

// Prober is a pull Source: every interval it probes each target and emits
// one signal per probe outcome.
type Prober struct {
	targets     func() []EngineID
	pipeline    pipz.Chainable[EngineID]
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	clock       clockz.Clock
}

// NewProber creates a Prober. targets is consulted at the start of every
// round, so passing Tracker.Engines probes whatever is registered.
//
//	prober := pulse.NewProber(tracker.Engines, func(ctx context.Context, id pulse.EngineID) error {
//	    return pingEngine(ctx, id)
//	}).Interval(2 * time.Second).Timeout(time.Second)
func NewProber(targets func() []EngineID, probe ProbeFunc, opts ...ProbeOption) *Prober {
	var pipeline pipz.Chainable[EngineID] = pipz.Effect(probeID, func(ctx context.Context, id EngineID) error {
		return probe(ctx, id)
	})
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}

	return &Prober{
		targets:     targets,
		pipeline:    pipeline,
		interval:    DefaultProbeInterval,
		timeout:     DefaultProbeTimeout,
		concurrency: DefaultProbeConcurrency,
		clock:       clockz.RealClock,
	}
}

// Interval sets the time between probe rounds. Default: 1s.
func (p *Prober) Interval(d time.Duration) *Prober {
	p.interval = d
	return p
}

// Timeout sets the per-probe deadline. Default: 500ms.
func (p *Prober) Timeout(d time.Duration) *Prober {
	p.timeout = d
	return p
}

// Concurrency bounds the number of probes in flight. Default: 8.
func (p *Prober) Concurrency(n int) *Prober {
	if n > 0 {
		p.concurrency = n
	}
	return p
}

// Clock sets the clock driving rounds and deadlines.
func (p *Prober) Clock(clock clockz.Clock) *Prober {
	p.clock = clock
	return p
}

// Watch starts probing. The first round runs immediately.
func (p *Prober) Watch(ctx context.Context) (<-chan Signal, error) {
	out := make(chan Signal)

	go func() {
		defer close(out)

		ticker := p.clock.NewTicker(p.interval)
		defer ticker.Stop()

		p.round(ctx, out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				p.round(ctx, out)
			}
		}
	}()

	return out, nil
}

// round probes every current target once.
func (p *Prober) round(ctx context.Context, out chan<- Signal) {
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for _, id := range p.targets() {
		g.Go(func() error {
			sig := p.probe(ctx, id)
			select {
			case out <- sig:
			case <-ctx.Done():
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // probe goroutines never fail
}

// probe runs one probe and classifies its outcome.
func (p *Prober) probe(ctx context.Context, id EngineID) Signal {
	pctx, cancel := p.clock.WithTimeout(ctx, p.timeout)
	defer cancel()

	_, err := p.pipeline.Process(pctx, id)
	sig := Signal{Engine: id, Kind: KindSuccess, ObservedAt: p.clock.Now()}
	if err == nil {
		return sig
	}

	sig.Kind = KindFailure
	if ctx.Err() == nil && errors.Is(pctx.Err(), context.DeadlineExceeded) {
		sig.Kind = KindTimeout
	}
	capitan.Emit(ctx, ProbeFailed,
		KeyEngine.Field(string(id)),
		KeyKind.Field(sig.Kind.String()),
		KeyError.Field(err.Error()),
	)
	return sig
}
