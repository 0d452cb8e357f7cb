// Package transport holds the wire encodings shared by the broker publishers.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/storage"
)

const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
	HeaderCreatedAt = "created_at"

	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Encoder produces the message body and its content type.
type Encoder interface {
	Encode(msg embedded.Message) (body []byte, contentType string, err error)
}

// Raw sends the stored payload as is.
type Raw struct{}

func (Raw) Encode(msg embedded.Message) ([]byte, string, error) {
	return msg.Payload, ContentTypeJSON, nil
}

// ProtoEnvelope wraps the payload and its metadata in a protobuf Struct so
// consumers without the JSON schema still see event id and type. The payload
// travels as the original JSON text; structpb numbers are float64 and would
// round large integers.
type ProtoEnvelope struct{}

func (ProtoEnvelope) Encode(msg embedded.Message) ([]byte, string, error) {
	if !json.Valid(msg.Payload) {
		return nil, "", fmt.Errorf("payload of %s is not valid JSON", msg.EventID)
	}

	headers := make(map[string]any, len(msg.Headers))
	for k, v := range msg.Headers {
		headers[k] = v
	}

	envelope, err := structpb.NewStruct(map[string]any{
		HeaderEventID:   msg.EventID.String(),
		HeaderEventType: msg.EventType,
		HeaderCreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
		"attempts":      float64(msg.Attempts),
		"headers":       headers,
		"payload":       string(msg.Payload),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to build envelope: %w", err)
	}

	body, err := proto.Marshal(envelope)
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return body, ContentTypeProtobuf, nil
}

// Envelope is the decoded form of a ProtoEnvelope body.
type Envelope struct {
	EventID   uuid.UUID
	EventType string
	CreatedAt time.Time
	Attempts  int
	Headers   storage.Headers
	Payload   []byte
}

// DecodeProtoEnvelope reverses ProtoEnvelope.Encode. Payload comes back byte for byte.
func DecodeProtoEnvelope(body []byte) (Envelope, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(body, &s); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	fields := s.GetFields()

	id, err := uuid.Parse(fields[HeaderEventID].GetStringValue())
	if err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope event id: %w", err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields[HeaderCreatedAt].GetStringValue())
	if err != nil {
		return Envelope{}, fmt.Errorf("invalid envelope created_at: %w", err)
	}
	payload := []byte(fields["payload"].GetStringValue())
	if !json.Valid(payload) {
		return Envelope{}, fmt.Errorf("invalid envelope payload")
	}

	headers := storage.Headers{}
	for k, v := range fields["headers"].GetStructValue().GetFields() {
		headers[k] = v.GetStringValue()
	}

	return Envelope{
		EventID:   id,
		EventType: fields[HeaderEventType].GetStringValue(),
		CreatedAt: createdAt,
		Attempts:  int(fields["attempts"].GetNumberValue()),
		Headers:   headers,
		Payload:   payload,
	}, nil
}

// Headers returns the metadata every transport attaches: event id, type and
// creation time, then the stored row headers.
func Headers(msg embedded.Message) map[string]string {
	h := make(map[string]string, len(msg.Headers)+3)
	for k, v := range msg.Headers {
		h[k] = v
	}
	h[HeaderEventID] = msg.EventID.String()
	h[HeaderEventType] = msg.EventType
	h[HeaderCreatedAt] = msg.CreatedAt.UTC().Format(time.RFC3339Nano)
	return h
}
