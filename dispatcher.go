package eventrelay

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Dispatcher runs a set of workers side by side and stops them together.
type Dispatcher struct {
	logger  *zap.Logger
	workers []Worker

	mu       sync.Mutex
	started  bool
	stop     chan struct{}
	stopOnce sync.Once
}

func NewDispatcher(logger *zap.Logger, workers ...Worker) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		logger:  logger,
		workers: workers,
		stop:    make(chan struct{}),
	}
}

// Start launches every worker and blocks until ctx ends or Stop is called,
// then waits for all workers to return.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		d.logger.Warn("Dispatcher already started")
		return
	}
	d.started = true
	d.mu.Unlock()

	d.logger.Info("Starting workers", zap.Int("worker_count", len(d.workers)))

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(worker Worker) {
			defer wg.Done()
			worker.Start(ctx)
		}(w)
	}

	select {
	case <-ctx.Done():
	case <-d.stop:
	}
	d.stopWorkers()

	wg.Wait()
	d.logger.Info("All workers stopped")

	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
}

// Stop signals Start to shut down. It is safe to call more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
}

func (d *Dispatcher) stopWorkers() {
	for _, worker := range d.workers {
		worker.Stop()
	}
}

func (d *Dispatcher) IsStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}
