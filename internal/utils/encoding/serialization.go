package encoding

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gopkg.in/yaml.v3"
)

// SerializationFormat represents different serialization formats
type SerializationFormat int

const (
	JSON SerializationFormat = iota
	YAML
	MessagePack
)

// String returns the format name
func (f SerializationFormat) String() string {
	switch f {
	case JSON:
		return "json"
	case YAML:
		return "yaml"
	case MessagePack:
		return "msgpack"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat maps a format name to a SerializationFormat
func ParseFormat(name string) (SerializationFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	case "msgpack", "messagepack":
		return MessagePack, nil
	default:
		return 0, fmt.Errorf("unsupported serialization format: %s", name)
	}
}

// Serializer interface for different serialization implementations
type Serializer interface {
	Serialize(data interface{}) ([]byte, error)
	Deserialize(data []byte, target interface{}) error
	Format() SerializationFormat
	ContentType() string
}

// JSONSerializer implements JSON serialization
type JSONSerializer struct {
	indent bool
}

// NewJSONSerializer creates a new JSON serializer
func NewJSONSerializer(indent bool) *JSONSerializer {
	return &JSONSerializer{indent: indent}
}

// Serialize serializes data to JSON
func (j *JSONSerializer) Serialize(data interface{}) ([]byte, error) {
	if j.indent {
		return json.MarshalIndent(data, "", "  ")
	}
	return json.Marshal(data)
}

// Deserialize deserializes JSON data
func (j *JSONSerializer) Deserialize(data []byte, target interface{}) error {
	return json.Unmarshal(data, target)
}

// Format returns the serialization format
func (j *JSONSerializer) Format() SerializationFormat {
	return JSON
}

// ContentType returns the MIME content type
func (j *JSONSerializer) ContentType() string {
	return "application/json"
}

// YAMLSerializer implements YAML serialization
type YAMLSerializer struct{}

// NewYAMLSerializer creates a new YAML serializer
func NewYAMLSerializer() *YAMLSerializer {
	return &YAMLSerializer{}
}

// Serialize serializes data to YAML
func (y *YAMLSerializer) Serialize(data interface{}) ([]byte, error) {
	return yaml.Marshal(data)
}

// Deserialize deserializes YAML data
func (y *YAMLSerializer) Deserialize(data []byte, target interface{}) error {
	return yaml.Unmarshal(data, target)
}

// Format returns the serialization format
func (y *YAMLSerializer) Format() SerializationFormat {
	return YAML
}

// ContentType returns the MIME content type
func (y *YAMLSerializer) ContentType() string {
	return "application/x-yaml"
}

// MessagePackSerializer implements MessagePack serialization
type MessagePackSerializer struct{}

// NewMessagePackSerializer creates a new MessagePack serializer
func NewMessagePackSerializer() *MessagePackSerializer {
	return &MessagePackSerializer{}
}

// Serialize serializes data to MessagePack
func (m *MessagePackSerializer) Serialize(data interface{}) ([]byte, error) {
	return msgpack.Marshal(data)
}

// Deserialize deserializes MessagePack data
func (m *MessagePackSerializer) Deserialize(data []byte, target interface{}) error {
	return msgpack.Unmarshal(data, target)
}

// Format returns the serialization format
func (m *MessagePackSerializer) Format() SerializationFormat {
	return MessagePack
}

// ContentType returns the MIME content type
func (m *MessagePackSerializer) ContentType() string {
	return "application/msgpack"
}

// NewSerializer returns the serializer for a format
func NewSerializer(format SerializationFormat) (Serializer, error) {
	switch format {
	case JSON:
		return NewJSONSerializer(false), nil
	case YAML:
		return NewYAMLSerializer(), nil
	case MessagePack:
		return NewMessagePackSerializer(), nil
	default:
		return nil, fmt.Errorf("unsupported serialization format: %s", format)
	}
}

// CompressedSerializer gzips the output of another serializer
type CompressedSerializer struct {
	inner Serializer
	level int
}

// NewCompressedSerializer wraps inner with gzip compression at the given level
func NewCompressedSerializer(inner Serializer, level int) *CompressedSerializer {
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}
	return &CompressedSerializer{inner: inner, level: level}
}

// Serialize serializes then compresses data
func (c *CompressedSerializer) Serialize(data interface{}) ([]byte, error) {
	raw, err := c.inner.Serialize(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip writer: %w", err)
	}
	if _, err := writer.Write(raw); err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to compress data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize compression: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize decompresses then deserializes data
func (c *CompressedSerializer) Deserialize(data []byte, target interface{}) error {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("failed to decompress data: %w", err)
	}
	return c.inner.Deserialize(raw, target)
}

// Format returns the wrapped serialization format
func (c *CompressedSerializer) Format() SerializationFormat {
	return c.inner.Format()
}

// ContentType returns the MIME content type
func (c *CompressedSerializer) ContentType() string {
	return "application/gzip"
}
