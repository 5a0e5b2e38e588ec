package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// Tracker classifies child engines as up or down from liveness signals and
// publishes every confirmed transition to its subscriptions.
//
// The tracker owns the engine registry outright. Every mutation goes through
// Register, Deregister or Ingest, which are serialized by a single lock; the
// lock also covers the hand-off to subscription queues, so the global
// transition sequence matches the order in which those calls completed.
type Tracker struct {
	mu       sync.Mutex
	cfg      Config
	registry *registry
	emitter  *emitter
	closed   bool

	clock   clockz.Clock
	metrics MetricsProvider

	lastError  atomic.Pointer[error]
	rejections *rejectionRing
}

// New creates a Tracker with the given policy.
//
// Instance configuration uses chainable methods before the tracker is
// shared:
//
//	tracker, err := pulse.New(pulse.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	tracker.Metrics(provider).ErrorHistorySize(32)
func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tracker{
		cfg:        cfg,
		registry:   newRegistry(newPolicy(cfg)),
		emitter:    newEmitter(cfg.QueueSize),
		clock:      clockz.RealClock,
		rejections: newRejectionRing(0),
	}, nil
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// Clock sets the clock used to stamp signals that arrive without an
// observation time and to time deregistrations.
// Use this with clockz.FakeClock for deterministic tests.
func (t *Tracker) Clock(clock clockz.Clock) *Tracker {
	t.clock = clock
	return t
}

// Metrics sets a metrics provider for observability integration.
func (t *Tracker) Metrics(provider MetricsProvider) *Tracker {
	t.metrics = provider
	return t
}

// ErrorHistorySize sets the number of recent rejections to retain.
// Use 0 (default) to only retain the most recent error via LastError().
func (t *Tracker) ErrorHistorySize(n int) *Tracker {
	t.rejections = newRejectionRing(n)
	return t
}

// -----------------------------------------------------------------------------
// Registry Operations
// -----------------------------------------------------------------------------

// Register adds an engine in the Unknown state.
// Registering an engine twice returns ErrAlreadyRegistered.
func (t *Tracker) Register(ctx context.Context, id EngineID) error {
	if id == "" {
		return fmt.Errorf("%w: empty engine id", ErrInvalidSignal)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	err := t.registry.register(id)
	size := t.registry.size()
	t.mu.Unlock()

	if err != nil {
		return err
	}

	capitan.Emit(ctx, EngineRegistered, KeyEngine.Field(string(id)))
	if t.metrics != nil {
		t.metrics.OnEngines(size)
	}
	return nil
}

// Deregister removes an engine. If the engine was confirmed Up, a final
// Up -> Down transition is published before the entry disappears.
func (t *Tracker) Deregister(ctx context.Context, id EngineID) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	tr, err := t.registry.deregister(id, t.clock.Now())
	var overloaded []*Subscription
	if tr != nil {
		overloaded = t.emitter.publish(*tr)
	}
	size := t.registry.size()
	t.mu.Unlock()

	if err != nil {
		return err
	}

	if tr != nil {
		t.announce(ctx, *tr, overloaded)
	}
	capitan.Emit(ctx, EngineDeregistered, KeyEngine.Field(string(id)))
	if t.metrics != nil {
		t.metrics.OnEngines(size)
	}
	return nil
}

// Ingest applies one liveness signal and reports whether it confirmed a
// transition. Ingest never blocks on subscribers.
//
// Signals for unregistered engines register them on the fly unless the
// policy requires explicit registration, in which case ErrNotFound is
// returned and nothing changes.
func (t *Tracker) Ingest(ctx context.Context, sig Signal) (bool, error) {
	if err := sig.validate(); err != nil {
		t.reject(ctx, sig, "invalid", err)
		return false, err
	}
	if sig.ObservedAt.IsZero() {
		sig.ObservedAt = t.clock.Now()
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false, ErrClosed
	}
	_, known := t.registry.entries[sig.Engine]
	tr, err := t.registry.apply(sig, !t.cfg.RequireExplicitRegistration)
	var overloaded []*Subscription
	if tr != nil {
		overloaded = t.emitter.publish(*tr)
	}
	size := t.registry.size()
	t.mu.Unlock()

	if err != nil {
		t.reject(ctx, sig, "not_found", err)
		return false, err
	}

	capitan.Emit(ctx, SignalReceived,
		KeyEngine.Field(string(sig.Engine)),
		KeyKind.Field(sig.Kind.String()),
	)
	if t.metrics != nil {
		t.metrics.OnSignal(sig.Kind)
	}
	if !known {
		capitan.Emit(ctx, EngineRegistered, KeyEngine.Field(string(sig.Engine)))
		if t.metrics != nil {
			t.metrics.OnEngines(size)
		}
	}

	if tr == nil {
		return false, nil
	}
	t.announce(ctx, *tr, overloaded)
	return true, nil
}

// Configure swaps the policy. Debounce records already accumulated are kept
// and judged against the new threshold and window from the next signal on.
// The queue size applies to subscriptions created afterwards.
func (t *Tracker) Configure(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		capitan.Emit(ctx, ConfigRejected, KeyError.Field(err.Error()))
		return err
	}

	t.mu.Lock()
	t.cfg = cfg
	t.registry.policy = newPolicy(cfg)
	t.emitter.setQueueSize(cfg.QueueSize)
	t.mu.Unlock()

	capitan.Emit(ctx, ConfigApplied,
		KeyThreshold.Field(cfg.Threshold),
		KeyWindow.Field(cfg.Window),
	)
	return nil
}

// Subscribe returns a subscription that receives every transition confirmed
// from now on. Subscriptions are global, not per engine. After Close the
// returned subscription is already closed.
func (t *Tracker) Subscribe() *Subscription {
	return t.emitter.subscribe()
}

// Close closes every subscription and rejects further mutations with
// ErrClosed. Read operations keep working.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.emitter.close()
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

// State returns the last confirmed state of an engine.
func (t *Tracker) State(id EngineID) (EngineState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.state(id)
}

// Snapshot returns the confirmed state of every registered engine.
// The map is a copy owned by the caller.
func (t *Tracker) Snapshot() map[EngineID]EngineState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.snapshot()
}

// Inspect returns an engine's confirmed state together with its debounce
// bookkeeping.
func (t *Tracker) Inspect(id EngineID) (EngineInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.inspect(id)
}

// Engines returns the registered engine ids in lexical order.
func (t *Tracker) Engines() []EngineID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.registry.ids()
}

// Config returns the policy currently in effect.
func (t *Tracker) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// LastError returns the most recent rejection error, or nil.
func (t *Tracker) LastError() error {
	ptr := t.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// Rejections returns recently rejected signals, oldest first.
// Returns nil if history is not enabled (see ErrorHistorySize).
func (t *Tracker) Rejections() []Rejection {
	return t.rejections.all()
}

// -----------------------------------------------------------------------------
// Sources
// -----------------------------------------------------------------------------

// Watch starts consuming src in the background. It returns once the source
// is started; rejected signals are recorded and never stop consumption.
func (t *Tracker) Watch(ctx context.Context, src Source) error {
	signals, err := src.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start source: %w", err)
	}
	go t.consume(ctx, sourceName(src), signals)
	return nil
}

// Run consumes src until its channel closes, the context ends or the
// tracker is closed. It returns nil when the source closed on its own.
func (t *Tracker) Run(ctx context.Context, src Source) error {
	signals, err := src.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start source: %w", err)
	}
	return t.consume(ctx, sourceName(src), signals)
}

func (t *Tracker) consume(ctx context.Context, name string, signals <-chan Signal) error {
	capitan.Emit(ctx, SourceStarted, KeySource.Field(name))
	defer capitan.Emit(ctx, SourceStopped, KeySource.Field(name))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if _, err := t.Ingest(ctx, sig); errors.Is(err, ErrClosed) {
				return err
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Internals
// -----------------------------------------------------------------------------

// announce reports a published transition. It runs outside the lock.
func (t *Tracker) announce(ctx context.Context, tr Transition, overloaded []*Subscription) {
	capitan.Emit(ctx, EngineTransitioned,
		KeyEngine.Field(string(tr.Engine)),
		KeyOldState.Field(tr.From.String()),
		KeyNewState.Field(tr.To.String()),
		KeySequence.Field(int(tr.Sequence)), //nolint:gosec // sequence stays far below MaxInt
		KeyCause.Field(tr.Cause.String()),
	)
	if t.metrics != nil {
		t.metrics.OnTransition(tr.From, tr.To)
	}

	for _, s := range overloaded {
		capitan.Emit(ctx, SubscriberOverloaded,
			KeySubscription.Field(s.ID()),
			KeyDropped.Field(int(s.Dropped())), //nolint:gosec // loss counter stays far below MaxInt
		)
		if t.metrics != nil {
			t.metrics.OnDropped(s.ID())
		}
	}
}

// reject records a refused signal.
func (t *Tracker) reject(ctx context.Context, sig Signal, reason string, err error) {
	e := err
	t.lastError.Store(&e)
	t.rejections.push(Rejection{Signal: sig, Err: err, At: t.clock.Now()})

	capitan.Emit(ctx, SignalRejected,
		KeyEngine.Field(string(sig.Engine)),
		KeyError.Field(err.Error()),
	)
	if t.metrics != nil {
		t.metrics.OnRejected(reason)
	}
}

func sourceName(src Source) string {
	return fmt.Sprintf("%T", src)
}
