package pulse

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Defaults applied by DefaultConfig and DecodeConfig.
const (
	DefaultThreshold = 3
	DefaultWindow    = 10 * time.Second
	DefaultQueueSize = 64
)

// validate is the shared validator instance.
var validate = validator.New()

// Validator is implemented by configuration types that can check themselves.
type Validator interface {
	Validate() error
}

// Config holds the tracker's debounce and registration policy.
type Config struct {
	// Threshold is the number of consecutive same-kind signals required to
	// confirm a transition.
	Threshold int `validate:"min=1"`

	// Window bounds the gap between two signals for them to count as
	// consecutive. A longer gap resets the count.
	Window time.Duration `validate:"gt=0"`

	// RequireExplicitRegistration rejects signals for unregistered engines
	// with ErrNotFound instead of registering them on first sight.
	RequireExplicitRegistration bool

	// QueueSize is the per-subscription delivery queue capacity.
	QueueSize int `validate:"min=1"`
}

// DefaultConfig returns the default policy.
func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Window:    DefaultWindow,
		QueueSize: DefaultQueueSize,
	}
}

// Validate implements Validator.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// configDocument is the serialized form of Config. Window is carried as a
// Go duration string ("10s") so JSON and YAML documents read the same.
type configDocument struct {
	Threshold                   *int   `yaml:"threshold" json:"threshold"`
	Window                      string `yaml:"window" json:"window"`
	RequireExplicitRegistration *bool  `yaml:"require_explicit_registration" json:"require_explicit_registration"`
	QueueSize                   *int   `yaml:"queue_size" json:"queue_size"`
}

// DecodeConfig decodes a configuration document with the given codec.
// Fields absent from the document keep their defaults. The result is
// validated before it is returned.
//
// Example document:
//
//	threshold: 3
//	window: 10s
//	require_explicit_registration: true
//	queue_size: 128
func DecodeConfig(codec Codec, data []byte) (Config, error) {
	var doc configDocument
	if err := codec.Unmarshal(data, &doc); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := DefaultConfig()
	if doc.Threshold != nil {
		cfg.Threshold = *doc.Threshold
	}
	if doc.Window != "" {
		d, err := time.ParseDuration(doc.Window)
		if err != nil {
			return Config{}, fmt.Errorf("%w: window: %v", ErrInvalidConfig, err)
		}
		cfg.Window = d
	}
	if doc.RequireExplicitRegistration != nil {
		cfg.RequireExplicitRegistration = *doc.RequireExplicitRegistration
	}
	if doc.QueueSize != nil {
		cfg.QueueSize = *doc.QueueSize
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EncodeConfig renders cfg in its serialized form.
func EncodeConfig(codec Codec, cfg Config) ([]byte, error) {
	threshold := cfg.Threshold
	explicit := cfg.RequireExplicitRegistration
	queue := cfg.QueueSize
	return codec.Marshal(configDocument{
		Threshold:                   &threshold,
		Window:                      cfg.Window.String(),
		RequireExplicitRegistration: &explicit,
		QueueSize:                   &queue,
	})
}
