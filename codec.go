package pulse

import (
	"encoding/json"
	"mime"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Codec encodes and decodes policy documents and heartbeat payloads.
type Codec interface {
	Unmarshal(data []byte, v any) error
	Marshal(v any) ([]byte, error)

	// ContentType is the MIME type of the encoding.
	ContentType() string
}

// JSONCodec encodes with encoding/json.
type JSONCodec struct{}

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSONCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSONCodec) ContentType() string                { return "application/json" }

// YAMLCodec encodes with gopkg.in/yaml.v3. Since YAML is a superset of
// JSON it also decodes JSON documents.
type YAMLCodec struct{}

func (YAMLCodec) Unmarshal(data []byte, v any) error { return yaml.Unmarshal(data, v) }
func (YAMLCodec) Marshal(v any) ([]byte, error)      { return yaml.Marshal(v) }
func (YAMLCodec) ContentType() string                { return "application/x-yaml" }

var (
	_ Codec = JSONCodec{}
	_ Codec = YAMLCodec{}
)

// CodecForPath picks a codec from a file extension: JSONCodec for ".json",
// YAMLCodec otherwise.
func CodecForPath(path string) Codec {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSONCodec{}
	}
	return YAMLCodec{}
}

// CodecForContentType picks a codec from a Content-Type header. An empty or
// unparseable header selects JSONCodec; ok is false for any other type.
func CodecForContentType(header string) (codec Codec, ok bool) {
	if header == "" {
		return JSONCodec{}, true
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return JSONCodec{}, true
	}
	switch mt {
	case "application/json":
		return JSONCodec{}, true
	case "application/x-yaml", "application/yaml", "text/yaml":
		return YAMLCodec{}, true
	default:
		return nil, false
	}
}
