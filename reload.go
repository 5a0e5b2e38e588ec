package pulse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
)

// DefaultReloadDebounce is the default debounce duration for config changes.
const DefaultReloadDebounce = 100 * time.Millisecond

// ReloadState represents the current state of a Reloader.
type ReloadState int32

const (
	// ReloadLoading indicates no configuration has been processed yet.
	ReloadLoading ReloadState = iota

	// ReloadHealthy indicates the last configuration was applied.
	ReloadHealthy

	// ReloadDegraded indicates the last change was rejected. The previous
	// configuration remains in effect.
	ReloadDegraded

	// ReloadEmpty indicates the initial configuration was rejected and no
	// configuration from the watcher has ever been applied.
	ReloadEmpty
)

// String returns the string representation of the state.
func (s ReloadState) String() string {
	switch s {
	case ReloadLoading:
		return "loading"
	case ReloadHealthy:
		return "healthy"
	case ReloadDegraded:
		return "degraded"
	case ReloadEmpty:
		return "empty"
	default:
		return "unknown"
	}
}

// ConfigWatcher observes a configuration document and emits its raw bytes
// whenever it changes. Implementations must emit the current value
// immediately upon Watch being called.
type ConfigWatcher interface {
	Watch(ctx context.Context) (<-chan []byte, error)
}

// Configurable accepts a new policy. *Tracker implements it.
type Configurable interface {
	Configure(ctx context.Context, cfg Config) error
}

// ChannelConfigWatcher wraps an existing byte channel as a ConfigWatcher.
type ChannelConfigWatcher struct {
	ch   <-chan []byte
	sync bool
}

// NewChannelConfigWatcher creates a ChannelConfigWatcher that forwards values
// through an internal goroutine.
func NewChannelConfigWatcher(ch <-chan []byte) *ChannelConfigWatcher {
	return &ChannelConfigWatcher{ch: ch}
}

// NewSyncChannelConfigWatcher creates a ChannelConfigWatcher that returns the
// channel directly. Use with Reloader.SyncMode for deterministic testing.
func NewSyncChannelConfigWatcher(ch <-chan []byte) *ChannelConfigWatcher {
	return &ChannelConfigWatcher{ch: ch, sync: true}
}

// Watch returns a channel that emits values from the wrapped channel.
func (w *ChannelConfigWatcher) Watch(ctx context.Context) (<-chan []byte, error) {
	if w.sync {
		return w.ch, nil
	}
	return forward(ctx, w.ch), nil
}

// Reloader keeps a tracker's policy in step with a configuration document.
// Each change is decoded, validated and handed to the target; a rejected
// change leaves the previous policy in effect.
type Reloader struct {
	watcher  ConfigWatcher
	target   Configurable
	codec    Codec
	debounce time.Duration
	syncMode bool
	clock    clockz.Clock

	state     atomic.Int32
	current   atomic.Pointer[Config]
	lastError atomic.Pointer[error]

	mu      sync.Mutex
	started bool

	// For sync mode: channel to receive changes
	changes <-chan []byte
}

// NewReloader creates a Reloader applying documents from watcher to target.
func NewReloader(watcher ConfigWatcher, target Configurable) *Reloader {
	r := &Reloader{
		watcher:  watcher,
		target:   target,
		codec:    YAMLCodec{},
		debounce: DefaultReloadDebounce,
		clock:    clockz.RealClock,
	}
	r.state.Store(int32(ReloadLoading))
	return r
}

// Codec sets the document codec. Default: YAMLCodec, which also reads JSON.
func (r *Reloader) Codec(codec Codec) *Reloader {
	r.codec = codec
	return r
}

// Debounce sets the debounce duration for change processing.
// Changes arriving within this duration are coalesced into a single update.
func (r *Reloader) Debounce(d time.Duration) *Reloader {
	r.debounce = d
	return r
}

// SyncMode disables the background goroutine. Use Process to handle each
// subsequent change.
func (r *Reloader) SyncMode() *Reloader {
	r.syncMode = true
	return r
}

// Clock sets the clock used for debouncing.
func (r *Reloader) Clock(clock clockz.Clock) *Reloader {
	r.clock = clock
	return r
}

// State returns the current state of the Reloader.
func (r *Reloader) State() ReloadState {
	return ReloadState(r.state.Load())
}

// Current returns the last applied configuration and true, or false if none
// was applied yet.
func (r *Reloader) Current() (Config, bool) {
	ptr := r.current.Load()
	if ptr == nil {
		return Config{}, false
	}
	return *ptr, true
}

// LastError returns the last error encountered, or nil.
func (r *Reloader) LastError() error {
	ptr := r.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// Start blocks until the first document is processed, then keeps watching
// in the background (unless in sync mode). If the first document is rejected
// Start returns the error but keeps watching.
//
// Start can only be called once.
func (r *Reloader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("reloader already started")
	}
	r.started = true
	r.mu.Unlock()

	changes, err := r.watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}

	var initialErr error
	select {
	case <-ctx.Done():
		return ctx.Err()
	case raw, ok := <-changes:
		if !ok {
			return fmt.Errorf("config watcher closed before emitting initial value")
		}
		initialErr = r.process(ctx, raw)
	}

	if r.syncMode {
		r.changes = changes
		return initialErr
	}

	go r.watch(ctx, changes)
	return initialErr
}

// Process handles the next pending change in sync mode.
// Returns false if no value is available or the channel is closed.
func (r *Reloader) Process(ctx context.Context) bool {
	if !r.syncMode {
		return false
	}

	select {
	case raw, ok := <-r.changes:
		if !ok {
			return false
		}
		_ = r.process(ctx, raw) //nolint:errcheck // Errors stored via fail
		return true
	default:
		return false
	}
}

// process decodes, validates and applies one document.
func (r *Reloader) process(ctx context.Context, raw []byte) error {
	cfg, err := DecodeConfig(r.codec, raw)
	if err != nil {
		return r.fail(ctx, err)
	}
	if err := r.target.Configure(ctx, cfg); err != nil {
		return r.fail(ctx, err)
	}

	r.current.Store(&cfg)
	r.lastError.Store(nil)
	r.state.Store(int32(ReloadHealthy))
	return nil
}

func (r *Reloader) fail(ctx context.Context, err error) error {
	e := err
	r.lastError.Store(&e)
	if r.current.Load() == nil {
		r.state.Store(int32(ReloadEmpty))
	} else {
		r.state.Store(int32(ReloadDegraded))
	}
	capitan.Emit(ctx, ConfigRejected, KeyError.Field(err.Error()))
	return fmt.Errorf("config rejected: %w", err)
}

// watch processes changes with debouncing until the channel closes or the
// context ends.
func (r *Reloader) watch(ctx context.Context, changes <-chan []byte) {
	var (
		timer      clockz.Timer
		pending    []byte
		hasPending bool
	)

	for {
		var timerC <-chan time.Time
		if timer != nil {
			timerC = timer.C()
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case raw, ok := <-changes:
			if !ok {
				if hasPending {
					_ = r.process(ctx, pending) //nolint:errcheck // Errors stored via fail
				}
				return
			}

			pending = raw
			hasPending = true

			if timer == nil {
				timer = r.clock.NewTimer(r.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C():
					default:
					}
				}
				timer.Reset(r.debounce)
			}

		case <-timerC:
			if hasPending {
				_ = r.process(ctx, pending) //nolint:errcheck // Errors stored via fail
				hasPending = false
			}
		}
	}
}
