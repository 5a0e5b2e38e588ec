package daemon

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config is the daemon's process configuration. The tracker policy itself
// lives in a separate document (PolicyFile) so it can be reloaded without a
// restart.
type Config struct {
	Listen     string   `mapstructure:"listen" validate:"required"`
	LogLevel   string   `mapstructure:"log_level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	PolicyFile string   `mapstructure:"policy_file"`
	VDBFile    string   `mapstructure:"vdb_file"`
	Engines    []string `mapstructure:"engines"`

	Probe      ProbeConfig      `mapstructure:"probe"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Etcd       EtcdConfig       `mapstructure:"etcd"`
	Consul     ConsulConfig     `mapstructure:"consul"`
	Zookeeper  ZookeeperConfig  `mapstructure:"zookeeper"`
	Kubernetes KubernetesConfig `mapstructure:"kubernetes"`
}

// ProbeConfig enables HTTP pull probes. URL is a format string receiving
// the engine id, e.g. "http://%s:8080/healthz".
type ProbeConfig struct {
	URL         string        `mapstructure:"url"`
	Interval    time.Duration `mapstructure:"interval" validate:"gt=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Concurrency int           `mapstructure:"concurrency" validate:"min=1"`
	RateLimit   float64       `mapstructure:"rate_limit" validate:"min=0"`
	Retries     int           `mapstructure:"retries" validate:"min=0"`

	// Breaker opens after this many consecutive failed probes across all
	// engines. Zero disables it.
	BreakerFailures int           `mapstructure:"breaker_failures" validate:"min=0"`
	BreakerRecovery time.Duration `mapstructure:"breaker_recovery"`
}

// RedisConfig enables the Redis pub/sub heartbeat source.
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

// NATSConfig enables the NATS heartbeat source and, with Bucket set, the
// JetStream key-value membership source.
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
	Queue   string `mapstructure:"queue"`
	Bucket  string `mapstructure:"bucket"`
}

// PostgresConfig enables the LISTEN/NOTIFY heartbeat source and, with
// Journal set, records every transition.
type PostgresConfig struct {
	DSN     string `mapstructure:"dsn"`
	Channel string `mapstructure:"channel"`
	Journal bool   `mapstructure:"journal"`
}

// KafkaConfig enables the heartbeat consumer and, with TransitionsTopic
// set, publishes every transition.
type KafkaConfig struct {
	Brokers          []string `mapstructure:"brokers"`
	Topic            string   `mapstructure:"topic"`
	Group            string   `mapstructure:"group"`
	TransitionsTopic string   `mapstructure:"transitions_topic"`
}

// EtcdConfig enables the etcd membership source.
type EtcdConfig struct {
	Endpoints []string `mapstructure:"endpoints"`
	Prefix    string   `mapstructure:"prefix"`
}

// ConsulConfig enables the Consul health membership source.
type ConsulConfig struct {
	Addr    string `mapstructure:"addr"`
	Service string `mapstructure:"service"`
	Tag     string `mapstructure:"tag"`
}

// ZookeeperConfig enables the ZooKeeper membership source.
type ZookeeperConfig struct {
	Servers []string `mapstructure:"servers"`
	Path    string   `mapstructure:"path"`
}

// KubernetesConfig enables the pod readiness membership source. An empty
// Kubeconfig uses the in-cluster configuration.
type KubernetesConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Kubeconfig string `mapstructure:"kubeconfig"`
	Namespace  string `mapstructure:"namespace"`
	Selector   string `mapstructure:"selector"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":7070")
	v.SetDefault("log_level", "info")

	v.SetDefault("probe.interval", time.Second)
	v.SetDefault("probe.timeout", 500*time.Millisecond)
	v.SetDefault("probe.concurrency", 8)
	v.SetDefault("probe.breaker_recovery", 30*time.Second)

	v.SetDefault("redis.channel", "pulse.heartbeats")
	v.SetDefault("nats.subject", "pulse.heartbeats")
	v.SetDefault("postgres.channel", "pulse_heartbeats")
	v.SetDefault("kafka.topic", "pulse.heartbeats")
	v.SetDefault("kafka.group", "pulsed")
	v.SetDefault("etcd.prefix", "/pulse/engines/")
	v.SetDefault("zookeeper.path", "/pulse/engines")
	v.SetDefault("kubernetes.namespace", "default")
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
