package pulse

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

var (
	probeRetryID    = pipz.NewIdentity("pulse:probe-retry", "Retries failed probes")
	probeBackoffID  = pipz.NewIdentity("pulse:probe-backoff", "Retries failed probes with exponential backoff")
	probeBreakerID  = pipz.NewIdentity("pulse:probe-circuit-breaker", "Stops probing after repeated failures")
	probeFallbackID = pipz.NewIdentity("pulse:probe-fallback", "Tries an alternate probe on failure")
	probeHandleID   = pipz.NewIdentity("pulse:probe-error-handler", "Observes probe errors")
)

// WithProbeRetry retries a failed probe up to maxAttempts times within the
// same probe deadline. Only the final outcome produces a signal.
func WithProbeRetry(maxAttempts int) ProbeOption {
	return func(p pipz.Chainable[EngineID]) pipz.Chainable[EngineID] {
		return pipz.NewRetry(probeRetryID, p, maxAttempts)
	}
}

// WithProbeBackoff retries a failed probe with exponential backoff.
// The delay starts at baseDelay and doubles after each attempt. Retries stop
// early when the probe deadline passes, in which case the outcome is a
// timeout.
func WithProbeBackoff(maxAttempts int, baseDelay time.Duration) ProbeOption {
	return func(p pipz.Chainable[EngineID]) pipz.Chainable[EngineID] {
		return pipz.NewBackoff(probeBackoffID, p, maxAttempts, baseDelay)
	}
}

// WithProbeCircuitBreaker stops calling the probe after failures consecutive
// failures. While open every probe fails immediately and reports Failure.
// After recovery one probe is let through to test the engine again.
//
// The breaker is shared across targets; use it when all engines sit behind
// one dependency that can fail as a whole.
func WithProbeCircuitBreaker(failures int, recovery time.Duration) ProbeOption {
	return func(p pipz.Chainable[EngineID]) pipz.Chainable[EngineID] {
		return pipz.NewCircuitBreaker(probeBreakerID, p, failures, recovery)
	}
}

// WithProbeFallback tries alternates in order when the probe fails. The
// probe counts as a success if any of them succeeds.
//
//	prober := pulse.NewProber(targets, grpcPing,
//	    pulse.WithProbeFallback(pulse.ProbeProcessor("tcp", tcpDial)),
//	)
func WithProbeFallback(alternates ...pipz.Chainable[EngineID]) ProbeOption {
	return func(p pipz.Chainable[EngineID]) pipz.Chainable[EngineID] {
		all := make([]pipz.Chainable[EngineID], 0, len(alternates)+1)
		all = append(all, p)
		all = append(all, alternates...)
		return pipz.NewFallback(probeFallbackID, all...)
	}
}

// WithProbeErrorHandler passes every probe error to handler before the
// failure is classified. The handler observes; it cannot turn a failure
// into a success.
func WithProbeErrorHandler(handler pipz.Chainable[*pipz.Error[EngineID]]) ProbeOption {
	return func(p pipz.Chainable[EngineID]) pipz.Chainable[EngineID] {
		return pipz.NewHandle(probeHandleID, p, handler)
	}
}

// ProbeProcessor wraps a ProbeFunc as a pipeline stage, for use with
// WithProbeFallback and WithProbeMiddleware.
func ProbeProcessor(name string, probe ProbeFunc) pipz.Chainable[EngineID] {
	return pipz.Effect(pipz.NewIdentity(name, "Engine probe"), func(ctx context.Context, id EngineID) error {
		return probe(ctx, id)
	})
}
