package eventrelay

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BaseWorker runs fn on every tick and on every Trigger, one run at a time.
type BaseWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	fn       func(ctx context.Context) error

	trigger  chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	mu      sync.Mutex
	started bool
}

func NewBaseWorker(name string, interval time.Duration, logger *zap.Logger, fn func(ctx context.Context) error) *BaseWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseWorker{
		name:     name,
		interval: interval,
		logger:   logger.With(zap.String("worker", name)),
		fn:       fn,
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start blocks until ctx ends or Stop is called. A second Start is ignored.
func (w *BaseWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started")
		return
	}
	w.started = true
	w.mu.Unlock()
	defer close(w.done)

	w.logger.Info("Worker starting", zap.Duration("interval", w.interval))
	defer w.logger.Info("Worker finished")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
		case <-w.trigger:
		}

		// Stop may race with a tick.
		select {
		case <-w.stop:
			return
		default:
		}
		w.run(ctx)
	}
}

// Trigger asks for a run without waiting for the next tick. Triggers that
// arrive while one is pending collapse into it.
func (w *BaseWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *BaseWorker) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := w.fn(ctx); err != nil {
		w.logger.Error("Worker run failed", zap.Error(err))
	}
}

// Stop ends the loop and waits for a run in progress. It is safe to call
// more than once, and before Start.
func (w *BaseWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})

	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if started {
		<-w.done
	}
}

func (w *BaseWorker) Name() string {
	return w.name
}
