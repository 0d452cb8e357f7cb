package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/config"
	"github.com/overtonx/eventrelay/embedded"
	"github.com/overtonx/eventrelay/event"
	"github.com/overtonx/eventrelay/eventbus"
	"github.com/overtonx/eventrelay/eventbus/redisdedup"
	"github.com/overtonx/eventrelay/internal/authors"
	"github.com/overtonx/eventrelay/transport"
	"github.com/overtonx/eventrelay/transport/kafkago"
	"github.com/overtonx/eventrelay/transport/natsjs"
	"github.com/overtonx/eventrelay/transport/rabbitmq"
)

func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (eventrelay.Publisher, error) {
	var encoder transport.Encoder = transport.Raw{}
	if cfg.Encoding == "proto" {
		encoder = transport.ProtoEnvelope{}
	}

	var (
		publisher eventrelay.Publisher
		err       error
	)
	switch cfg.Transport {
	case config.TransportBus:
		bus, berr := newLocalBus(cfg, logger)
		if berr != nil {
			return nil, berr
		}
		// an in-process bus has no broker to protect
		return eventrelay.NewBusPublisher(bus), nil
	case config.TransportKafka:
		publisher, err = eventrelay.NewKafkaPublisher(logger,
			eventrelay.WithKafkaProducerProps(kafka.ConfigMap{
				"bootstrap.servers": strings.Join(cfg.Kafka.Brokers, ","),
			}),
			eventrelay.WithKafkaDefaultTopic(cfg.Kafka.Topic),
			eventrelay.WithKafkaKeyResolver(func(msg eventrelay.Message) string {
				return authors.PartitionKey(msg.Event)
			}),
		)
	case config.TransportKafkaGo:
		waitCtx, cancel := context.WithTimeout(ctx, waitTimeout)
		defer cancel()
		if err := kafkago.WaitReady(waitCtx, cfg.Kafka.Brokers, 10); err != nil {
			return nil, err
		}
		publisher, err = kafkago.New(cfg.Kafka.Brokers,
			kafkago.WithTopic(cfg.Kafka.Topic),
			kafkago.WithKeyResolver(func(msg embedded.Message) string {
				return authors.PartitionKey(msg.Event)
			}),
			kafkago.WithEncoder(encoder),
			kafkago.WithLogger(logger),
		)
	case config.TransportNATS:
		publisher, err = natsjs.Connect(cfg.NATS.URL, cfg.NATS.Stream,
			natsjs.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			natsjs.WithEncoder(encoder),
			natsjs.WithLogger(logger),
		)
	case config.TransportRabbitMQ:
		publisher, err = rabbitmq.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange,
			rabbitmq.WithEncoder(encoder),
			rabbitmq.WithLogger(logger),
		)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	if err != nil {
		return nil, err
	}

	if !cfg.Breaker.Enabled {
		return publisher, nil
	}
	return eventrelay.NewCircuitBreakerPublisher(publisher, eventrelay.BreakerSettings{
		Name:                cfg.Transport,
		ConsecutiveFailures: cfg.Breaker.ConsecutiveFailures,
		OpenTimeout:         cfg.Breaker.OpenTimeout,
	}, logger), nil
}

// newLocalBus subscribes the in-process consumers of author events. Each one is
// wrapped so a redelivered event is handled once.
func newLocalBus(cfg *config.Config, logger *zap.Logger) (*eventbus.Bus, error) {
	bus := eventbus.New(
		eventbus.WithLogger(logger),
		eventbus.WithHandlerTimeout(cfg.Relay.HandlerTimeout),
	)

	var processed eventbus.ProcessedStore = eventbus.NewMemoryProcessedStore()
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		processed = redisdedup.New(client, redisdedup.WithTTL(cfg.Redis.DedupTTL))
	}

	audit := eventbus.Idempotent(eventbus.NewHandler("audit-log", func(_ context.Context, ev event.Event) error {
		logger.Info("Integration event received",
			zap.Stringer("event_id", ev.EventID()),
			zap.String("event_type", ev.EventType()),
		)
		return nil
	}), processed)

	for _, eventType := range []string{authors.TypeAuthorCreated, authors.TypeAuthorUpdated} {
		if err := bus.Subscribe(eventType, audit); err != nil {
			return nil, err
		}
	}
	return bus, nil
}
