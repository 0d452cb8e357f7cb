// Package embedded holds the contracts shared by the relay, the event bus
// and the transports.
package embedded

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/overtonx/eventrelay/event"
	"github.com/overtonx/eventrelay/storage"
)

// Message is one claimed outbox row on its way to a transport. Event is the
// decoded integration event; transports that ship raw bytes use Payload.
type Message struct {
	EventID   uuid.UUID
	EventType string
	Payload   []byte
	Headers   storage.Headers
	CreatedAt time.Time
	Attempts  int
	Event     event.IntegrationEvent
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

type MetricsCollector interface {
	IncrementCounter(name string, tags map[string]string)
	RecordDuration(name string, duration time.Duration, tags map[string]string)
	RecordGauge(name string, value float64, tags map[string]string)
}

type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

// NopMetrics discards everything. Packages that cannot import the root
// package default to it.
type NopMetrics struct{}

func (NopMetrics) IncrementCounter(string, map[string]string)              {}
func (NopMetrics) RecordDuration(string, time.Duration, map[string]string) {}
func (NopMetrics) RecordGauge(string, float64, map[string]string)          {}
