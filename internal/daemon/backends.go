package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-zookeeper/zk"
	consulapi "github.com/hashicorp/consul/api"
	"github.com/jackc/pgx/v5/pgxpool"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	goredis "github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/kgo"
	clientv3 "go.etcd.io/etcd/client/v3"
	k8s "k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/zoobzio/pulse"
	"github.com/zoobzio/pulse/pkg/consul"
	"github.com/zoobzio/pulse/pkg/etcd"
	"github.com/zoobzio/pulse/pkg/kafka"
	"github.com/zoobzio/pulse/pkg/kubernetes"
	"github.com/zoobzio/pulse/pkg/nats"
	"github.com/zoobzio/pulse/pkg/postgres"
	"github.com/zoobzio/pulse/pkg/redis"
	"github.com/zoobzio/pulse/pkg/zookeeper"
)

// forwarder drains a subscription into an external sink.
type forwarder struct {
	name string
	run  func(ctx context.Context, sub *pulse.Subscription) error
}

// backends holds everything connected for a daemon run.
type backends struct {
	sources    []pulse.Source
	forwarders []forwarder
	closers    []func()
}

func (b *backends) close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// connect dials every configured backend. On error, whatever was already
// connected is closed.
func connect(ctx context.Context, cfg Config, tracker *pulse.Tracker, logger *slog.Logger) (*backends, error) {
	b := &backends{}
	steps := []func(context.Context, Config, *pulse.Tracker, *slog.Logger) error{
		b.dialProbe,
		b.dialRedis,
		b.dialNATS,
		b.dialPostgres,
		b.dialKafka,
		b.dialEtcd,
		b.dialConsul,
		b.dialZookeeper,
		b.dialKubernetes,
	}
	for _, step := range steps {
		if err := step(ctx, cfg, tracker, logger); err != nil {
			b.close()
			return nil, err
		}
	}
	return b, nil
}

func (b *backends) dialProbe(_ context.Context, cfg Config, tracker *pulse.Tracker, _ *slog.Logger) error {
	if cfg.Probe.URL == "" {
		return nil
	}
	var opts []pulse.ProbeOption
	if cfg.Probe.RateLimit > 0 {
		opts = append(opts, pulse.WithProbeRateLimit(cfg.Probe.RateLimit, cfg.Probe.Concurrency))
	}
	if cfg.Probe.Retries > 0 {
		opts = append(opts, pulse.WithProbeRetry(cfg.Probe.Retries+1))
	}
	if cfg.Probe.BreakerFailures > 0 {
		opts = append(opts, pulse.WithProbeCircuitBreaker(cfg.Probe.BreakerFailures, cfg.Probe.BreakerRecovery))
	}
	client := &http.Client{}
	prober := pulse.NewProber(tracker.Engines, httpProbe(client, cfg.Probe.URL), opts...).
		Interval(cfg.Probe.Interval).
		Timeout(cfg.Probe.Timeout).
		Concurrency(cfg.Probe.Concurrency)
	b.sources = append(b.sources, prober)
	b.closers = append(b.closers, client.CloseIdleConnections)
	return nil
}

// httpProbe checks an engine by issuing GET to the formatted URL. Any
// status below 400 is a success.
func httpProbe(client *http.Client, format string) pulse.ProbeFunc {
	return func(ctx context.Context, id pulse.EngineID) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf(format, id), nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for reuse
		if resp.StatusCode >= http.StatusBadRequest {
			return fmt.Errorf("engine %s answered %s", id, resp.Status)
		}
		return nil
	}
}

func (b *backends) dialRedis(_ context.Context, cfg Config, _ *pulse.Tracker, _ *slog.Logger) error {
	if cfg.Redis.Addr == "" {
		return nil
	}
	client := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr})
	b.sources = append(b.sources, redis.New(client, cfg.Redis.Channel))
	b.closers = append(b.closers, func() { _ = client.Close() })
	return nil
}

func (b *backends) dialNATS(ctx context.Context, cfg Config, tracker *pulse.Tracker, _ *slog.Logger) error {
	if cfg.NATS.URL == "" {
		return nil
	}
	conn, err := natsgo.Connect(cfg.NATS.URL, natsgo.Name("pulsed"))
	if err != nil {
		return fmt.Errorf("failed to connect to nats: %w", err)
	}
	b.closers = append(b.closers, conn.Close)

	if cfg.NATS.Subject != "" {
		var opts []nats.Option
		if cfg.NATS.Queue != "" {
			opts = append(opts, nats.WithQueue(cfg.NATS.Queue))
		}
		b.sources = append(b.sources, nats.New(conn, cfg.NATS.Subject, opts...))
	}
	if cfg.NATS.Bucket != "" {
		js, err := jetstream.New(conn)
		if err != nil {
			return fmt.Errorf("failed to open jetstream: %w", err)
		}
		kv, err := js.KeyValue(ctx, cfg.NATS.Bucket)
		if err != nil {
			return fmt.Errorf("failed to open bucket %s: %w", cfg.NATS.Bucket, err)
		}
		b.sources = append(b.sources, nats.NewKV(kv, nats.WithExpire(resyncExpire(tracker))))
	}
	return nil
}

func (b *backends) dialPostgres(ctx context.Context, cfg Config, _ *pulse.Tracker, _ *slog.Logger) error {
	if cfg.Postgres.DSN == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	b.closers = append(b.closers, pool.Close)

	if cfg.Postgres.Channel != "" {
		b.sources = append(b.sources, postgres.New(pool, cfg.Postgres.Channel))
	}
	if cfg.Postgres.Journal {
		journal := postgres.NewJournal(pool)
		if err := journal.Migrate(ctx); err != nil {
			return err
		}
		b.forwarders = append(b.forwarders, forwarder{name: "postgres-journal", run: journal.Forward})
	}
	return nil
}

func (b *backends) dialKafka(ctx context.Context, cfg Config, _ *pulse.Tracker, _ *slog.Logger) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	if cfg.Kafka.Topic != "" {
		consumer, err := kgo.NewClient(
			kgo.SeedBrokers(cfg.Kafka.Brokers...),
			kgo.ConsumeTopics(cfg.Kafka.Topic),
			kgo.ConsumerGroup(cfg.Kafka.Group),
		)
		if err != nil {
			return fmt.Errorf("failed to create kafka consumer: %w", err)
		}
		b.closers = append(b.closers, consumer.Close)
		b.sources = append(b.sources, kafka.New(consumer))
	}
	if cfg.Kafka.TransitionsTopic != "" {
		producer, err := kgo.NewClient(kgo.SeedBrokers(cfg.Kafka.Brokers...))
		if err != nil {
			return fmt.Errorf("failed to create kafka producer: %w", err)
		}
		b.closers = append(b.closers, producer.Close)
		if err := kafka.EnsureTopic(ctx, producer, cfg.Kafka.TransitionsTopic, 1, -1); err != nil {
			return err
		}
		publisher := kafka.NewPublisher(producer, cfg.Kafka.TransitionsTopic)
		b.forwarders = append(b.forwarders, forwarder{name: "kafka-publisher", run: publisher.Forward})
	}
	return nil
}

func (b *backends) dialEtcd(_ context.Context, cfg Config, tracker *pulse.Tracker, _ *slog.Logger) error {
	if len(cfg.Etcd.Endpoints) == 0 {
		return nil
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Etcd.Endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to etcd: %w", err)
	}
	b.closers = append(b.closers, func() { _ = client.Close() })
	b.sources = append(b.sources, etcd.New(client, cfg.Etcd.Prefix, etcd.WithExpire(resyncExpire(tracker))))
	return nil
}

func (b *backends) dialConsul(_ context.Context, cfg Config, tracker *pulse.Tracker, _ *slog.Logger) error {
	if cfg.Consul.Service == "" {
		return nil
	}
	apiCfg := consulapi.DefaultConfig()
	if cfg.Consul.Addr != "" {
		apiCfg.Address = cfg.Consul.Addr
	}
	client, err := consulapi.NewClient(apiCfg)
	if err != nil {
		return fmt.Errorf("failed to create consul client: %w", err)
	}
	opts := []consul.Option{consul.WithExpire(resyncExpire(tracker))}
	if cfg.Consul.Tag != "" {
		opts = append(opts, consul.WithTag(cfg.Consul.Tag))
	}
	b.sources = append(b.sources, consul.New(client, cfg.Consul.Service, opts...))
	return nil
}

func (b *backends) dialZookeeper(ctx context.Context, cfg Config, tracker *pulse.Tracker, logger *slog.Logger) error {
	if len(cfg.Zookeeper.Servers) == 0 {
		return nil
	}
	conn, events, err := zk.Connect(cfg.Zookeeper.Servers, 10*time.Second, zk.WithLogInfo(false))
	if err != nil {
		return fmt.Errorf("failed to connect to zookeeper: %w", err)
	}
	b.closers = append(b.closers, conn.Close)

	go func() {
		for ev := range events {
			logger.DebugContext(ctx, "zookeeper session event", "state", ev.State.String())
		}
	}()

	b.sources = append(b.sources, zookeeper.New(conn, cfg.Zookeeper.Path, zookeeper.WithExpire(resyncExpire(tracker))))
	return nil
}

func (b *backends) dialKubernetes(_ context.Context, cfg Config, tracker *pulse.Tracker, _ *slog.Logger) error {
	if !cfg.Kubernetes.Enabled {
		return nil
	}
	restCfg, err := kubeConfig(cfg.Kubernetes.Kubeconfig)
	if err != nil {
		return err
	}
	client, err := k8s.NewForConfig(restCfg)
	if err != nil {
		return fmt.Errorf("failed to create kubernetes client: %w", err)
	}
	b.sources = append(b.sources, kubernetes.New(client, cfg.Kubernetes.Namespace, cfg.Kubernetes.Selector,
		kubernetes.WithExpire(resyncExpire(tracker))))
	return nil
}

// resyncExpire keeps replaying a departed member until the tracker has
// confirmed it down, with room for a threshold raised by a policy reload.
func resyncExpire(tracker *pulse.Tracker) int {
	return max(pulse.DefaultResyncExpire, 2*tracker.Config().Threshold+1)
}

func kubeConfig(path string) (*rest.Config, error) {
	if path != "" {
		cfg, err := clientcmd.BuildConfigFromFlags("", path)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig %s: %w", path, err)
		}
		return cfg, nil
	}
	cfg, err := rest.InClusterConfig()
	if errors.Is(err, rest.ErrNotInCluster) {
		return nil, fmt.Errorf("kubernetes enabled outside a cluster without a kubeconfig: %w", err)
	}
	return cfg, err
}
