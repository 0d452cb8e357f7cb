package eventrelay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDispatcher_RunsAllWorkersUntilStop(t *testing.T) {
	var first, second int32
	w1 := NewBaseWorker("first", 5*time.Millisecond, zap.NewNop(), func(ctx context.Context) error {
		atomic.AddInt32(&first, 1)
		return nil
	})
	w2 := NewBaseWorker("second", 5*time.Millisecond, zap.NewNop(), func(ctx context.Context) error {
		atomic.AddInt32(&second, 1)
		return nil
	})

	d := NewDispatcher(zap.NewNop(), w1, w2)

	done := make(chan struct{})
	go func() {
		d.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&first) > 0 && atomic.LoadInt32(&second) > 0
	}, time.Second, time.Millisecond)
	assert.True(t, d.IsStarted())

	d.Stop()
	d.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop")
	}
	assert.False(t, d.IsStarted())
}

func TestDispatcher_StopsOnContextCancel(t *testing.T) {
	w := NewBaseWorker("only", 5*time.Millisecond, zap.NewNop(), func(ctx context.Context) error { return nil })
	d := NewDispatcher(zap.NewNop(), w)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	d.Start(ctx)
	assert.False(t, d.IsStarted())
}
