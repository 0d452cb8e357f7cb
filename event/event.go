// Package event defines the domain and integration event envelopes, the
// per-aggregate pending-events buffer and the type-tag registry used to
// rebuild integration events from stored payloads.
package event

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the minimal shape the event bus routes on.
type Event interface {
	EventID() uuid.UUID
	EventType() string
}

// DomainEvent is a process-local record of a state change. It is owned by the
// aggregate that raised it and never stored directly.
type DomainEvent interface {
	Event
	OccurredAt() time.Time
}

// IntegrationEvent is the cross-service projection of a domain event. Its
// EventType is the tag stored with the outbox row.
type IntegrationEvent interface {
	Event
	CreatedAt() time.Time
}

// Integrator is implemented by domain events that have a cross-service projection.
type Integrator interface {
	IntegrationEvent() IntegrationEvent
}

// BaseDomainEvent can be embedded by concrete domain events.
type BaseDomainEvent struct {
	ID         uuid.UUID `json:"event_id"`
	OccurredOn time.Time `json:"occurred_on"`
}

func NewBaseDomainEvent() BaseDomainEvent {
	return BaseDomainEvent{ID: uuid.New(), OccurredOn: now()}
}

func (b BaseDomainEvent) EventID() uuid.UUID    { return b.ID }
func (b BaseDomainEvent) OccurredAt() time.Time { return b.OccurredOn }

// BaseIntegrationEvent can be embedded by concrete integration events.
type BaseIntegrationEvent struct {
	ID          uuid.UUID `json:"id"`
	CreatedDate time.Time `json:"created_date"`
}

func NewBaseIntegrationEvent() BaseIntegrationEvent {
	return BaseIntegrationEvent{ID: uuid.New(), CreatedDate: now()}
}

func (b BaseIntegrationEvent) EventID() uuid.UUID   { return b.ID }
func (b BaseIntegrationEvent) CreatedAt() time.Time { return b.CreatedDate }

// Equal reports whether two integration events carry the same id and the same payload.
func Equal(a, b IntegrationEvent) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.EventID() != b.EventID() || a.EventType() != b.EventType() {
		return false
	}
	left, err := json.Marshal(a)
	if err != nil {
		return false
	}
	right, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}

// now is truncated to microseconds so timestamps survive TIMESTAMP(6) columns.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
