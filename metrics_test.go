package eventrelay

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric/noop"
)

// recordingMetrics counts counter increments by name.
type recordingMetrics struct {
	mu       sync.Mutex
	counters map[string]int
	gauges   map[string]float64
}

func (m *recordingMetrics) IncrementCounter(name string, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = make(map[string]int)
	}
	m.counters[name]++
}

func (m *recordingMetrics) RecordDuration(string, time.Duration, map[string]string) {}

func (m *recordingMetrics) RecordGauge(name string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = make(map[string]float64)
	}
	m.gauges[name] = value
}

func (m *recordingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

func (m *recordingMetrics) gauge(name string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

func TestOpenTelemetryMetricsCollector_CachesInstruments(t *testing.T) {
	m := NewOpenTelemetryMetricsCollectorWithMeter(noop.NewMeterProvider().Meter("test"))

	m.IncrementCounter("event_processor.publish_success", map[string]string{"event_type": "AuthorCreated"})
	m.IncrementCounter("event_processor.publish_success", nil)
	m.RecordDuration("event_processor.duration", time.Second, nil)
	m.RecordGauge("relay.poison_messages", 3, nil)

	assert.Len(t, m.counters, 1)
	assert.Len(t, m.histograms, 1)
	assert.Len(t, m.gauges, 1)
}

func TestNopMetricsCollector(t *testing.T) {
	var m MetricsCollector = NewNopMetricsCollector()
	assert.NotPanics(t, func() {
		m.IncrementCounter("x", nil)
		m.RecordDuration("x", time.Second, nil)
		m.RecordGauge("x", 1, nil)
	})
}
