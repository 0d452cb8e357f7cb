package eventrelay

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/errs"
	"github.com/overtonx/eventrelay/event"
)

// KafkaHeaderBuilder builds the Kafka headers for one message.
type KafkaHeaderBuilder func(msg Message) []kafka.Header

// NopPublisher accepts and drops every message.
type NopPublisher struct{}

func NewNopPublisher() *NopPublisher {
	return &NopPublisher{}
}

func (p *NopPublisher) Publish(_ context.Context, _ Message) error {
	return nil
}

func (p *NopPublisher) Close() error {
	return nil
}

// EventBus is the part of eventbus.Bus the relay publishes to.
type EventBus interface {
	Publish(ctx context.Context, ev event.Event) error
}

// BusPublisher delivers decoded integration events to an in-process bus.
// Handler failures surface as a publish failure so the row is retried.
type BusPublisher struct {
	bus EventBus
}

func NewBusPublisher(bus EventBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

func (p *BusPublisher) Publish(ctx context.Context, msg Message) error {
	if msg.Event == nil {
		return fmt.Errorf("%w: message %s carries no decoded event", errs.ErrValidation, msg.EventID)
	}
	return p.bus.Publish(ctx, msg.Event)
}

func (p *BusPublisher) Close() error {
	return nil
}

// KafkaPublisher produces each message to Kafka and waits for the broker's
// delivery report before returning.
type KafkaPublisher struct {
	logger        *zap.Logger
	producer      *kafka.Producer
	producerProps kafka.ConfigMap
	defaultTopic  string
	topicResolver func(msg Message) string
	keyResolver   func(msg Message) string
	headerBuilder KafkaHeaderBuilder
}

func NewKafkaPublisher(logger *zap.Logger, opts ...KafkaPublisherOption) (*KafkaPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &KafkaPublisher{
		logger: logger,
		producerProps: kafka.ConfigMap{
			"acks":               "all",
			"retries":            3,
			"linger.ms":          10,
			"enable.idempotence": true,
			"compression.type":   "snappy",
		},
		defaultTopic:  "outbox-events",
		headerBuilder: BuildKafkaHeaders,
	}

	for _, opt := range opts {
		opt(p)
	}

	producer, err := kafka.NewProducer(&p.producerProps)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	p.producer = producer

	go p.handleProducerEvents()

	return p, nil
}

func (p *KafkaPublisher) topic(msg Message) string {
	if p.topicResolver != nil {
		if topic := p.topicResolver(msg); topic != "" {
			return topic
		}
	}
	return p.defaultTopic
}

func (p *KafkaPublisher) key(msg Message) []byte {
	if p.keyResolver != nil {
		if key := p.keyResolver(msg); key != "" {
			return []byte(key)
		}
	}
	return []byte(msg.EventID.String())
}

func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	topic := p.topic(msg)

	p.logger.Debug("Publishing event to Kafka",
		zap.Stringer("event_id", msg.EventID),
		zap.String("event_type", msg.EventType),
		zap.String("topic", topic),
	)

	delivery := make(chan kafka.Event, 1)
	err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            p.key(msg),
		Value:          msg.Payload,
		Headers:        p.headerBuilder(msg),
		Timestamp:      msg.CreatedAt,
	}, delivery)
	if err != nil {
		return fmt.Errorf("failed to enqueue kafka message: %w", err)
	}

	select {
	case e := <-delivery:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected kafka delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("kafka delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding messages for up to 15 seconds and closes the producer.
func (p *KafkaPublisher) Close() error {
	p.logger.Info("Closing kafka producer")
	if left := p.producer.Flush(15 * 1000); left > 0 {
		p.logger.Warn("Kafka producer closed with undelivered messages", zap.Int("count", left))
	}
	p.producer.Close()
	return nil
}

// handleProducerEvents logs producer-level errors. Per-message reports go to
// the channel passed to Produce.
func (p *KafkaPublisher) handleProducerEvents() {
	for e := range p.producer.Events() {
		switch ev := e.(type) {
		case kafka.Error:
			p.logger.Error("Kafka error", zap.Error(ev))
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				p.logger.Error("Delivery failed", zap.Error(ev.TopicPartition.Error))
			}
		}
	}
}

// BuildKafkaHeaders is the default header builder: event_id, event_type and
// created_at, followed by the row headers such as traceparent.
func BuildKafkaHeaders(msg Message) []kafka.Header {
	headers := []kafka.Header{
		{Key: "event_id", Value: []byte(msg.EventID.String())},
		{Key: "event_type", Value: []byte(msg.EventType)},
		{Key: "created_at", Value: []byte(msg.CreatedAt.UTC().Format(time.RFC3339Nano))},
	}
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return headers
}
