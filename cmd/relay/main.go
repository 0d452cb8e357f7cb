package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/config"
	"github.com/overtonx/eventrelay/event"
	"github.com/overtonx/eventrelay/internal/authors"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := event.NewRegistry()
	if err := authors.Register(registry); err != nil {
		logger.Fatal("Failed to register event types", zap.Error(err))
	}

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open outbox store", zap.Error(err))
	}
	defer backend.close()

	publisher, err := newPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create publisher", zap.Error(err))
	}

	carrier, err := eventrelay.NewCarrier(backend.store, registry,
		eventrelay.WithLogger(logger),
		eventrelay.WithPublisher(publisher),
		eventrelay.WithMetrics(eventrelay.NewOpenTelemetryMetricsCollector()),
	)
	if err != nil {
		logger.Fatal("Failed to create carrier", zap.Error(err))
	}
	defer carrier.Close()

	relayOpts := []eventrelay.RelayOption{
		eventrelay.WithProcessInterval(cfg.Relay.ProcessInterval),
		eventrelay.WithRecoverInterval(cfg.Relay.RecoverInterval),
		eventrelay.WithPoisonInterval(cfg.Relay.PoisonInterval),
		eventrelay.WithStartupRetries(cfg.Relay.StartupRetries),
		eventrelay.WithEventProcessorOptions(
			eventrelay.WithEventProcessorBatchSize(cfg.Relay.BatchSize),
			eventrelay.WithEventProcessorMaxAttempts(cfg.Relay.MaxAttempts),
			eventrelay.WithEventProcessorPublishTimeout(cfg.Relay.PublishTimeout),
			eventrelay.WithEventProcessorBackoffStrategy(&eventrelay.ExponentialBackoff{
				Base: cfg.Relay.BackoffBase,
				Max:  cfg.Relay.BackoffMax,
			}),
		),
		eventrelay.WithStuckEventServiceOptions(
			eventrelay.WithStuckEventServiceStuckTimeout(cfg.Relay.StuckTimeout),
		),
	}
	if cfg.Relay.CleanupInterval > 0 {
		relayOpts = append(relayOpts, eventrelay.WithCleanup(cfg.Relay.CleanupInterval,
			eventrelay.WithCleanupServicePublishedRetention(cfg.Relay.PublishedRetention),
		))
	}
	relay, err := eventrelay.NewRelay(carrier, relayOpts...)
	if err != nil {
		logger.Fatal("Failed to create relay", zap.Error(err))
	}

	if cfg.Demo.Interval > 0 {
		go runDemo(ctx, cfg.Demo.Interval, backend, registry, relay, logger)
	}

	logger.Info("Relay starting",
		zap.String("store", cfg.Store.Driver),
		zap.String("transport", cfg.Transport),
	)
	if err := relay.Start(ctx); err != nil {
		logger.Fatal("Relay failed to start", zap.Error(err))
	}
	logger.Info("Relay stopped gracefully")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	zcfg := zap.NewProductionConfig()
	if err := zcfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	return zcfg.Build()
}

// waitTimeout bounds the store and broker connection checks at startup.
const waitTimeout = 30 * time.Second
