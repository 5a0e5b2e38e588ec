package daemon

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pulse"
)

// NewLogger returns a JSON logger writing to w at the given level.
// Unrecognized levels log at info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(level)}))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BridgeEvents writes tracker events to logger.
func BridgeEvents(logger *slog.Logger) {
	hook := func(level slog.Level, msg string) func(context.Context, *capitan.Event) {
		return func(ctx context.Context, e *capitan.Event) {
			if logger.Enabled(ctx, level) {
				logger.Log(ctx, level, msg, eventAttrs(e)...)
			}
		}
	}

	capitan.Hook(pulse.EngineRegistered, hook(slog.LevelInfo, "engine registered"))
	capitan.Hook(pulse.EngineDeregistered, hook(slog.LevelInfo, "engine deregistered"))
	capitan.Hook(pulse.EngineTransitioned, hook(slog.LevelInfo, "engine transition"))
	capitan.Hook(pulse.SignalReceived, hook(slog.LevelDebug, "signal received"))
	capitan.Hook(pulse.SignalRejected, hook(slog.LevelWarn, "signal rejected"))
	capitan.Hook(pulse.SubscriberOverloaded, hook(slog.LevelWarn, "subscriber overloaded"))
	capitan.Hook(pulse.SourceStarted, hook(slog.LevelInfo, "source started"))
	capitan.Hook(pulse.SourceStopped, hook(slog.LevelInfo, "source stopped"))
	capitan.Hook(pulse.SourceDecodeFailed, hook(slog.LevelWarn, "source payload rejected"))
	capitan.Hook(pulse.ProbeFailed, hook(slog.LevelDebug, "probe failed"))
	capitan.Hook(pulse.ConfigApplied, hook(slog.LevelInfo, "config applied"))
	capitan.Hook(pulse.ConfigRejected, hook(slog.LevelError, "config rejected"))
}

var (
	stringFields = []struct {
		name string
		from func(*capitan.Event) (string, bool)
	}{
		{"engine", pulse.KeyEngine.From},
		{"old_state", pulse.KeyOldState.From},
		{"new_state", pulse.KeyNewState.From},
		{"kind", pulse.KeyKind.From},
		{"cause", pulse.KeyCause.From},
		{"error", pulse.KeyError.From},
		{"subscription", pulse.KeySubscription.From},
		{"source", pulse.KeySource.From},
	}
	intFields = []struct {
		name string
		from func(*capitan.Event) (int, bool)
	}{
		{"sequence", pulse.KeySequence.From},
		{"dropped", pulse.KeyDropped.From},
		{"threshold", pulse.KeyThreshold.From},
	}
)

// eventAttrs collects the fields present on e.
func eventAttrs(e *capitan.Event) []any {
	var attrs []any
	for _, f := range stringFields {
		if v, ok := f.from(e); ok {
			attrs = append(attrs, slog.String(f.name, v))
		}
	}
	for _, f := range intFields {
		if v, ok := f.from(e); ok {
			attrs = append(attrs, slog.Int(f.name, v))
		}
	}
	if v, ok := pulse.KeyWindow.From(e); ok {
		attrs = append(attrs, slog.Duration("window", v))
	}
	return attrs
}
