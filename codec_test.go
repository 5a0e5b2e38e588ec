package pulse

import (
	"strings"
	"testing"
)

type codecProbeDoc struct {
	Engine string `json:"engine" yaml:"engine"`
	Port   int    `json:"port" yaml:"port"`
}

func TestJSONCodec_Unmarshal(t *testing.T) {
	codec := JSONCodec{}

	var doc codecProbeDoc
	if err := codec.Unmarshal([]byte(`{"engine": "engine-1", "port": 7000}`), &doc); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if doc.Engine != "engine-1" {
		t.Errorf("expected engine 'engine-1', got %q", doc.Engine)
	}
	if doc.Port != 7000 {
		t.Errorf("expected port 7000, got %d", doc.Port)
	}
}

func TestJSONCodec_UnmarshalInvalid(t *testing.T) {
	var doc codecProbeDoc
	if err := (JSONCodec{}).Unmarshal([]byte(`{engine:`), &doc); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestJSONCodec_Marshal(t *testing.T) {
	data, err := JSONCodec{}.Marshal(codecProbeDoc{Engine: "e", Port: 1})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"engine":"e"`) {
		t.Errorf("unexpected JSON: %s", data)
	}
}

func TestJSONCodec_ContentType(t *testing.T) {
	if ct := (JSONCodec{}).ContentType(); ct != "application/json" {
		t.Errorf("expected 'application/json', got %q", ct)
	}
}

func TestYAMLCodec_Unmarshal(t *testing.T) {
	var doc codecProbeDoc
	if err := (YAMLCodec{}).Unmarshal([]byte("engine: engine-2\nport: 7001"), &doc); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if doc.Engine != "engine-2" || doc.Port != 7001 {
		t.Errorf("unexpected document: %+v", doc)
	}
}

func TestYAMLCodec_ReadsJSON(t *testing.T) {
	var doc codecProbeDoc
	if err := (YAMLCodec{}).Unmarshal([]byte(`{"engine": "engine-3", "port": 7002}`), &doc); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if doc.Engine != "engine-3" {
		t.Errorf("expected engine 'engine-3', got %q", doc.Engine)
	}
}

func TestYAMLCodec_ContentType(t *testing.T) {
	if ct := (YAMLCodec{}).ContentType(); ct != "application/x-yaml" {
		t.Errorf("expected 'application/x-yaml', got %q", ct)
	}
}

func TestCodecForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"policy.json", "application/json"},
		{"/etc/pulse/POLICY.JSON", "application/json"},
		{"policy.yaml", "application/x-yaml"},
		{"policy.yml", "application/x-yaml"},
		{"policy", "application/x-yaml"},
	}
	for _, tt := range tests {
		if got := CodecForPath(tt.path).ContentType(); got != tt.want {
			t.Errorf("CodecForPath(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestCodecForContentType(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"", "application/json", true},
		{"application/json; charset=utf-8", "application/json", true},
		{"application/yaml", "application/x-yaml", true},
		{"text/yaml", "application/x-yaml", true},
		{"text/plain", "", false},
	}
	for _, tt := range tests {
		codec, ok := CodecForContentType(tt.header)
		if ok != tt.ok {
			t.Errorf("CodecForContentType(%q) ok = %t, want %t", tt.header, ok, tt.ok)
			continue
		}
		if ok && codec.ContentType() != tt.want {
			t.Errorf("CodecForContentType(%q) = %s, want %s", tt.header, codec.ContentType(), tt.want)
		}
	}
}
