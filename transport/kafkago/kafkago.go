// Package kafkago publishes relay messages with segmentio/kafka-go.
package kafkago

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/transport"
)

// Writer is the part of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Option func(*Publisher)

func WithTopic(topic string) Option {
	return func(p *Publisher) {
		p.topic = topic
	}
}

// WithTopicPerEventType sends every message to a topic named after its event type.
func WithTopicPerEventType() Option {
	return func(p *Publisher) {
		p.topicPerType = true
	}
}

// WithKeyResolver picks the message key. An empty result falls back to the event id.
func WithKeyResolver(resolve func(msg embedded.Message) string) Option {
	return func(p *Publisher) {
		p.keyResolver = resolve
	}
}

func WithEncoder(encoder transport.Encoder) Option {
	return func(p *Publisher) {
		p.encoder = encoder
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

type Publisher struct {
	writer       Writer
	topic        string
	topicPerType bool
	keyResolver  func(msg embedded.Message) string
	encoder      transport.Encoder
	logger       *zap.Logger
}

// New builds a publisher with a synchronous, all-replica-acked writer that
// hashes on the message key.
func New(brokers []string, opts ...Option) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           10 * time.Millisecond,
	}
	return NewWithWriter(w, opts...), nil
}

func NewWithWriter(w Writer, opts ...Option) *Publisher {
	p := &Publisher{
		writer:  w,
		topic:   "outbox-events",
		encoder: transport.Raw{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Publisher) Publish(ctx context.Context, msg embedded.Message) error {
	body, contentType, err := p.encoder.Encode(msg)
	if err != nil {
		return err
	}

	headers := []kafka.Header{{Key: "content_type", Value: []byte(contentType)}}
	for k, v := range transport.Headers(msg) {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	topic := p.topic
	if p.topicPerType {
		topic = msg.EventType
	}

	key := msg.EventID.String()
	if p.keyResolver != nil {
		if k := p.keyResolver(msg); k != "" {
			key = k
		}
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   body,
		Headers: headers,
		Time:    msg.CreatedAt,
	}); err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	p.logger.Debug("Event written to Kafka",
		zap.Stringer("event_id", msg.EventID),
		zap.String("topic", topic),
	)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// WaitReady dials the first broker until it answers or tries run out.
func WaitReady(ctx context.Context, brokers []string, tries uint) error {
	if len(brokers) == 0 {
		return errors.New("kafka brokers not configured")
	}
	dialer := kafka.Dialer{Timeout: 2 * time.Second}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, conn.Close()
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(tries))
	if err != nil {
		return fmt.Errorf("kafka broker %s not ready: %w", brokers[0], err)
	}
	return nil
}

// SplitBrokers parses a comma separated broker list.
func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
