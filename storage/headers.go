package storage

import (
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/propagation"
)

// Headers carries per-row metadata such as the W3C trace context of the
// transaction that wrote the row.
type Headers map[string]string

var _ propagation.TextMapCarrier = Headers{}

func (h Headers) Get(key string) string { return h[key] }

func (h Headers) Set(key, value string) { h[key] = value }

func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	return keys
}

// Marshal encodes h for a JSON column. Empty headers encode to nil.
func (h Headers) Marshal() ([]byte, error) {
	if len(h) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(map[string]string(h))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal headers: %w", err)
	}
	return b, nil
}

// UnmarshalHeaders decodes a JSON column. A nil or empty column yields empty headers.
func UnmarshalHeaders(b []byte) (Headers, error) {
	h := Headers{}
	if len(b) == 0 {
		return h, nil
	}
	if err := json.Unmarshal(b, &h); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}
	return h, nil
}
