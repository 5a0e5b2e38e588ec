// Package daemon runs a pulse tracker as a standalone service: configured
// signal sources feed it, an HTTP API exposes it, and sinks record its
// transitions.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/zoobzio/pulse"
	"github.com/zoobzio/pulse/pkg/file"
	pulseprom "github.com/zoobzio/pulse/pkg/prometheus"
	"github.com/zoobzio/pulse/vdb"
)

const (
	shutdownTimeout   = 10 * time.Second
	rejectionHistory  = 64
	readHeaderTimeout = 5 * time.Second
)

// Daemon owns a tracker and everything attached to it.
type Daemon struct {
	cfg      Config
	logger   *slog.Logger
	registry *prometheus.Registry
	tracker  *pulse.Tracker
	follower *vdb.Follower
	handler  *Handler
}

// New builds a daemon. The tracker starts with the default policy; a
// policy file, if configured, is applied when Run starts.
func New(cfg Config, logger *slog.Logger) (*Daemon, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tracker, err := pulse.New(pulse.DefaultConfig())
	if err != nil {
		return nil, err
	}
	tracker.Metrics(pulseprom.New(registry)).ErrorHistorySize(rejectionHistory)

	for _, id := range cfg.Engines {
		if err := tracker.Register(context.Background(), pulse.EngineID(id)); err != nil {
			return nil, fmt.Errorf("failed to register engine %s: %w", id, err)
		}
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		tracker:  tracker,
	}

	var resolver Resolver
	if cfg.VDBFile != "" {
		data, err := os.ReadFile(cfg.VDBFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read vdb file: %w", err)
		}
		collection, err := vdb.DecodeCollection(pulse.CodecForPath(cfg.VDBFile), data)
		if err != nil {
			return nil, fmt.Errorf("failed to load vdb file %s: %w", cfg.VDBFile, err)
		}
		d.follower = vdb.NewFollower(tracker, collection)
		resolver = d.follower
	}

	d.handler = NewHandler(tracker, resolver, registry, logger)
	return d, nil
}

// Tracker returns the daemon's tracker.
func (d *Daemon) Tracker() *pulse.Tracker {
	return d.tracker
}

// Handler returns the HTTP API.
func (d *Daemon) Handler() http.Handler {
	return d.handler.Router()
}

// Run connects every configured backend, serves the API and blocks until
// the context ends or a component fails. The tracker is closed on return.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.tracker.Close()

	if d.cfg.PolicyFile != "" {
		reloader := pulse.NewReloader(file.New(d.cfg.PolicyFile), d.tracker).
			Codec(pulse.CodecForPath(d.cfg.PolicyFile))
		if err := reloader.Start(ctx); err != nil {
			if reloader.State() != pulse.ReloadEmpty {
				return err
			}
			d.logger.ErrorContext(ctx, "initial policy rejected, running with defaults", "error", err)
		}
	}

	b, err := connect(ctx, d.cfg, d.tracker, d.logger)
	if err != nil {
		return err
	}
	defer b.close()

	listener, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.cfg.Listen, err)
	}
	srv := &http.Server{
		Handler:           h2c.NewHandler(d.Handler(), &http2.Server{}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	for _, src := range b.sources {
		g.Go(func() error {
			err := d.tracker.Run(ctx, src)
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pulse.ErrClosed) {
				return fmt.Errorf("source %T: %w", src, err)
			}
			return nil
		})
	}

	for _, fw := range b.forwarders {
		sub := d.tracker.Subscribe()
		g.Go(func() error {
			defer sub.Close()
			err := fw.run(ctx, sub)
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("%s: %w", fw.name, err)
			}
			return nil
		})
	}

	if d.follower != nil {
		g.Go(func() error {
			if err := d.follower.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		d.logger.InfoContext(ctx, "serving", "addr", listener.Addr().String())
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		// Closing the tracker ends open transition streams.
		d.tracker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
