package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/overtonx/eventrelay"
	"github.com/overtonx/eventrelay/event"
	"github.com/overtonx/eventrelay/eventbus"
	"github.com/overtonx/eventrelay/internal/authors"
	"github.com/overtonx/eventrelay/uow"
)

// runDemo creates an author and signs its contract on every tick, then wakes
// the relay so the rows go out without waiting for the next poll.
func runDemo(ctx context.Context, interval time.Duration, b *backend, registry *event.Registry, relay *eventrelay.Relay, logger *zap.Logger) {
	if b.db == nil {
		logger.Warn("Demo producer needs the mysql store, skipping")
		return
	}

	repo := authors.NewRepository(b.db)
	if err := repo.EnsureTables(ctx); err != nil {
		logger.Error("Demo producer disabled", zap.Error(err))
		return
	}
	domainBus, err := newDomainBus(logger)
	if err != nil {
		logger.Error("Demo producer disabled", zap.Error(err))
		return
	}
	coord := uow.New(b.transactor, b.store, registry,
		uow.WithBus(domainBus),
		uow.WithLogger(logger),
	)
	service := authors.NewService(repo, coord, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		id := demoAuthorID(time.Now())
		if _, err := service.Create(ctx, id, authors.Details{
			FirstName: "Sample",
			LastName:  fmt.Sprintf("Author %d", n),
			Phone:     "+1 555 0100",
		}); err != nil {
			logger.Error("Demo author not created", zap.Error(err))
			continue
		}
		if _, err := service.SignContract(ctx, id); err != nil {
			logger.Error("Demo contract not signed", zap.Error(err))
		}
		relay.Trigger()
	}
}

// demoAuthorID is "D" plus the base36 microsecond clock, which stays within the
// 11 characters an author id allows until 2085.
func demoAuthorID(now time.Time) string {
	return "D" + strconv.FormatInt(now.UnixMicro(), 36)
}

// newDomainBus receives author domain events right after their save commits.
func newDomainBus(logger *zap.Logger) (*eventbus.Bus, error) {
	bus := eventbus.New(eventbus.WithLogger(logger))
	changed := eventbus.NewHandler("author-changes", func(_ context.Context, ev event.Event) error {
		logger.Debug("Author changed",
			zap.Stringer("event_id", ev.EventID()),
			zap.String("event_type", ev.EventType()),
		)
		return nil
	})
	for _, eventType := range []string{
		authors.AuthorCreatedDomainEvent{}.EventType(),
		authors.AuthorUpdatedDomainEvent{}.EventType(),
	} {
		if err := bus.Subscribe(eventType, changed); err != nil {
			return nil, err
		}
	}
	return bus, nil
}
