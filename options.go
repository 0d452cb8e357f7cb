package eventrelay

import (
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	defaultBatchSize          = 100
	defaultMaxAttempts        = 5
	defaultBaseDelay          = 1 * time.Minute
	defaultMaxDelay           = 30 * time.Minute
	defaultPublishTimeout     = 30 * time.Second
	defaultStuckEventTimeout  = 10 * time.Minute
	defaultPublishedRetention = 24 * time.Hour

	defaultProcessInterval = 1 * time.Second
	defaultRecoverInterval = 1 * time.Minute
	defaultPoisonInterval  = 5 * time.Minute
	defaultCleanupInterval = 1 * time.Hour
	defaultStartupRetries  = 5
)

//
// Carrier Options
//

type CarrierOption func(*Carrier)

func WithLogger(logger *zap.Logger) CarrierOption {
	return func(c *Carrier) {
		c.logger = logger
	}
}

func WithMetrics(metrics MetricsCollector) CarrierOption {
	return func(c *Carrier) {
		c.metrics = metrics
	}
}

func WithPublisher(publisher Publisher) CarrierOption {
	return func(c *Carrier) {
		c.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) CarrierOption {
	return func(c *Carrier) {
		c.tracer = tracer
	}
}

func WithPropagator(propagator propagation.TextMapPropagator) CarrierOption {
	return func(c *Carrier) {
		c.propagator = propagator
	}
}

//
// KafkaPublisher Options
//

type KafkaPublisherOption func(*KafkaPublisher)

func WithKafkaProducerProps(props kafka.ConfigMap) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		for k, v := range props {
			p.producerProps[k] = v
		}
	}
}

func WithKafkaDefaultTopic(topic string) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.defaultTopic = topic
	}
}

// WithKafkaTopicResolver picks the topic per message. An empty result falls
// back to the default topic.
func WithKafkaTopicResolver(resolve func(msg Message) string) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.topicResolver = resolve
	}
}

// WithKafkaKeyResolver picks the message key, and so the partition. Keying by
// aggregate id keeps one aggregate's events in order. An empty result falls
// back to the event id.
func WithKafkaKeyResolver(resolve func(msg Message) string) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.keyResolver = resolve
	}
}

func WithKafkaHeaderBuilder(builder KafkaHeaderBuilder) KafkaPublisherOption {
	return func(p *KafkaPublisher) {
		p.headerBuilder = builder
	}
}

//
// EventProcessor Options
//

type EventProcessorOption func(*eventProcessorOptions)

type eventProcessorOptions struct {
	batchSize       int
	maxAttempts     int
	publishTimeout  time.Duration
	backoffStrategy BackoffStrategy
}

func defaultEventProcessorOptions() *eventProcessorOptions {
	return &eventProcessorOptions{
		batchSize:       defaultBatchSize,
		maxAttempts:     defaultMaxAttempts,
		publishTimeout:  defaultPublishTimeout,
		backoffStrategy: DefaultBackoffStrategy(),
	}
}

func WithEventProcessorBatchSize(size int) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.batchSize = size
	}
}

// WithEventProcessorMaxAttempts sets the attempt ceiling. Rows that reach it
// stay PublishedFailed as poison messages. Zero retries forever.
func WithEventProcessorMaxAttempts(attempts int) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.maxAttempts = attempts
	}
}

// WithEventProcessorPublishTimeout bounds one publish call, handlers included.
// It must stay below the stuck timeout.
func WithEventProcessorPublishTimeout(timeout time.Duration) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.publishTimeout = timeout
	}
}

func WithEventProcessorBackoffStrategy(strategy BackoffStrategy) EventProcessorOption {
	return func(o *eventProcessorOptions) {
		o.backoffStrategy = strategy
	}
}

//
// StuckEventService Options
//

type StuckEventServiceOption func(*stuckEventServiceOptions)

type stuckEventServiceOptions struct {
	stuckTimeout time.Duration
}

func defaultStuckEventServiceOptions() *stuckEventServiceOptions {
	return &stuckEventServiceOptions{
		stuckTimeout: defaultStuckEventTimeout,
	}
}

func WithStuckEventServiceStuckTimeout(timeout time.Duration) StuckEventServiceOption {
	return func(o *stuckEventServiceOptions) {
		o.stuckTimeout = timeout
	}
}

//
// PoisonReporter Options
//

type PoisonReporterOption func(*poisonReporterOptions)

type poisonReporterOptions struct {
	batchSize   int
	maxAttempts int
}

func WithPoisonReporterBatchSize(size int) PoisonReporterOption {
	return func(o *poisonReporterOptions) {
		o.batchSize = size
	}
}

func WithPoisonReporterMaxAttempts(attempts int) PoisonReporterOption {
	return func(o *poisonReporterOptions) {
		o.maxAttempts = attempts
	}
}

//
// CleanupService Options
//

type CleanupServiceOption func(*cleanupServiceOptions)

type cleanupServiceOptions struct {
	publishedRetention time.Duration
}

func WithCleanupServicePublishedRetention(retention time.Duration) CleanupServiceOption {
	return func(o *cleanupServiceOptions) {
		o.publishedRetention = retention
	}
}

//
// Relay Options
//

type RelayOption func(*relayOptions)

type relayOptions struct {
	processInterval time.Duration
	recoverInterval time.Duration
	poisonInterval  time.Duration
	cleanupInterval time.Duration
	cleanupEnabled  bool
	startupRetries  uint

	processor []EventProcessorOption
	stuck     []StuckEventServiceOption
	poison    []PoisonReporterOption
	cleanup   []CleanupServiceOption
}

func defaultRelayOptions() *relayOptions {
	return &relayOptions{
		processInterval: defaultProcessInterval,
		recoverInterval: defaultRecoverInterval,
		poisonInterval:  defaultPoisonInterval,
		cleanupInterval: defaultCleanupInterval,
		startupRetries:  defaultStartupRetries,
	}
}

func WithProcessInterval(interval time.Duration) RelayOption {
	return func(o *relayOptions) {
		o.processInterval = interval
	}
}

func WithRecoverInterval(interval time.Duration) RelayOption {
	return func(o *relayOptions) {
		o.recoverInterval = interval
	}
}

func WithPoisonInterval(interval time.Duration) RelayOption {
	return func(o *relayOptions) {
		o.poisonInterval = interval
	}
}

// WithCleanup turns on deletion of published rows every interval.
func WithCleanup(interval time.Duration, opts ...CleanupServiceOption) RelayOption {
	return func(o *relayOptions) {
		o.cleanupEnabled = true
		o.cleanupInterval = interval
		o.cleanup = append(o.cleanup, opts...)
	}
}

// WithStartupRetries bounds how often startup recovery is tried before Start gives up.
func WithStartupRetries(n uint) RelayOption {
	return func(o *relayOptions) {
		o.startupRetries = n
	}
}

func WithEventProcessorOptions(opts ...EventProcessorOption) RelayOption {
	return func(o *relayOptions) {
		o.processor = append(o.processor, opts...)
	}
}

func WithStuckEventServiceOptions(opts ...StuckEventServiceOption) RelayOption {
	return func(o *relayOptions) {
		o.stuck = append(o.stuck, opts...)
	}
}

func WithPoisonReporterOptions(opts ...PoisonReporterOption) RelayOption {
	return func(o *relayOptions) {
		o.poison = append(o.poison, opts...)
	}
}
