package encoding

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/synheart/shakewatch/internal/models"
)

// Format represents the encoding format
type Format string

const (
	FormatJSON     Format = "json"
	FormatProtobuf Format = "protobuf"
)

// Encoder encodes shake events to bytes
type Encoder interface {
	Encode(event models.ShakeEvent) ([]byte, error)
	ContentType() string
}

// JSONEncoder encodes events as JSON
type JSONEncoder struct{}

func NewJSONEncoder() *JSONEncoder {
	return &JSONEncoder{}
}

func (e *JSONEncoder) Encode(event models.ShakeEvent) ([]byte, error) {
	return json.Marshal(event)
}

func (e *JSONEncoder) ContentType() string {
	return "application/json"
}

// ParseFormat accepts json|protobuf, case-insensitively
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatProtobuf, "proto":
		return FormatProtobuf, nil
	}
	return "", fmt.Errorf("unknown encoding %q (expected: json|protobuf)", s)
}

// NewEncoder creates an encoder for the given format
func NewEncoder(format Format) Encoder {
	switch format {
	case FormatProtobuf:
		return NewProtobufEncoder()
	default:
		return NewJSONEncoder()
	}
}
