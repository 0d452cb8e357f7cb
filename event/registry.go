package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/overtonx/eventrelay/errs"
)

var (
	ErrUnknownEventType      = errors.New("event type is not registered")
	ErrTypeAlreadyRegistered = errors.New("event type already registered")
)

// Decoder rebuilds an integration event from its stored payload.
type Decoder func(payload []byte) (IntegrationEvent, error)

// Registry maps an event-type tag to the decoder for its payload.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// Register associates eventType with dec.
func (r *Registry) Register(eventType string, dec Decoder) error {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return fmt.Errorf("%w: event type is required", errs.ErrValidation)
	}
	if dec == nil {
		return fmt.Errorf("%w: decoder is required", errs.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.decoders[eventType]; ok {
		return fmt.Errorf("%w: %s", ErrTypeAlreadyRegistered, eventType)
	}
	r.decoders[eventType] = dec
	return nil
}

// RegisterJSON registers a JSON decoder for T under the tag returned by T's
// zero value.
func RegisterJSON[T IntegrationEvent](r *Registry) error {
	var zero T
	return r.Register(zero.EventType(), func(payload []byte) (IntegrationEvent, error) {
		var ev T
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	})
}

// MustRegisterJSON is RegisterJSON that panics on error. It is meant for init-time wiring.
func MustRegisterJSON[T IntegrationEvent](r *Registry) {
	if err := RegisterJSON[T](r); err != nil {
		panic(err)
	}
}

// Registered reports whether eventType has a decoder.
func (r *Registry) Registered(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.decoders[eventType]
	return ok
}

// Encode validates ev and serializes it for storage.
func (r *Registry) Encode(ev IntegrationEvent) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("%w: event is required", errs.ErrValidation)
	}
	if ev.EventID() == uuid.Nil {
		return nil, fmt.Errorf("%w: event id is required", errs.ErrValidation)
	}
	if ev.CreatedAt().IsZero() {
		return nil, fmt.Errorf("%w: created date is required", errs.ErrValidation)
	}
	if !r.Registered(ev.EventType()) {
		return nil, fmt.Errorf("%w: %w: %q", errs.ErrValidation, ErrUnknownEventType, ev.EventType())
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal payload: %w", errs.ErrValidation, err)
	}
	return payload, nil
}

// Decode resolves eventType to its decoder and rebuilds the event.
func (r *Registry) Decode(eventType string, payload []byte) (IntegrationEvent, error) {
	r.mu.RLock()
	dec, ok := r.decoders[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
	}

	ev, err := dec(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %q payload: %w", eventType, err)
	}
	return ev, nil
}
