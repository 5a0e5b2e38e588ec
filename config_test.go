package pulse

import (
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Threshold != 3 {
		t.Errorf("expected threshold 3, got %d", cfg.Threshold)
	}
	if cfg.Window != 10*time.Second {
		t.Errorf("expected window 10s, got %v", cfg.Window)
	}
	if cfg.QueueSize != 64 {
		t.Errorf("expected queue size 64, got %d", cfg.QueueSize)
	}
	if cfg.RequireExplicitRegistration {
		t.Error("expected auto-registration by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected default config to be valid, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Threshold = 0 }},
		{"negative threshold", func(c *Config) { c.Threshold = -1 }},
		{"zero window", func(c *Config) { c.Window = 0 }},
		{"negative window", func(c *Config) { c.Window = -time.Second }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mut(&cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestDecodeConfig_YAML(t *testing.T) {
	data := []byte("threshold: 5\nwindow: 2s\nrequire_explicit_registration: true\nqueue_size: 8\n")
	cfg, err := DecodeConfig(YAMLCodec{}, data)
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	want := Config{Threshold: 5, Window: 2 * time.Second, RequireExplicitRegistration: true, QueueSize: 8}
	if cfg != want {
		t.Errorf("expected %+v, got %+v", want, cfg)
	}
}

func TestDecodeConfig_JSONKeepsDefaults(t *testing.T) {
	cfg, err := DecodeConfig(JSONCodec{}, []byte(`{"threshold": 1}`))
	if err != nil {
		t.Fatalf("DecodeConfig() error = %v", err)
	}
	if cfg.Threshold != 1 {
		t.Errorf("expected threshold 1, got %d", cfg.Threshold)
	}
	if cfg.Window != DefaultWindow {
		t.Errorf("expected default window, got %v", cfg.Window)
	}
	if cfg.QueueSize != DefaultQueueSize {
		t.Errorf("expected default queue size, got %d", cfg.QueueSize)
	}
}

func TestDecodeConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"malformed":    "threshold: [",
		"bad window":   "window: soon",
		"zero":         "threshold: 0",
		"empty window": "window: 0s",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeConfig(YAMLCodec{}, []byte(doc)); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestEncodeConfig_RoundTrip(t *testing.T) {
	cfg := Config{Threshold: 4, Window: 1500 * time.Millisecond, QueueSize: 16}
	for _, codec := range []Codec{JSONCodec{}, YAMLCodec{}} {
		data, err := EncodeConfig(codec, cfg)
		if err != nil {
			t.Fatalf("%s: EncodeConfig() error = %v", codec.ContentType(), err)
		}
		got, err := DecodeConfig(codec, data)
		if err != nil {
			t.Fatalf("%s: DecodeConfig() error = %v", codec.ContentType(), err)
		}
		if got != cfg {
			t.Errorf("%s: expected %+v, got %+v", codec.ContentType(), cfg, got)
		}
	}
}
