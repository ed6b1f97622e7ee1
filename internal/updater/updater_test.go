package updater

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	busmemory "github.com/JakeFAU/wsmonitor/internal/bus/memory"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
	"github.com/JakeFAU/wsmonitor/internal/queue/memory"
)

type failingSubscriber struct{ err error }

func (s failingSubscriber) Subscribe(context.Context, func(context.Context, monitor.Delivery) error) error {
	return s.err
}

func TestLoopFeedsQueue(t *testing.T) {
	t.Parallel()

	bus := busmemory.New(4)
	queue := memory.NewQueue[monitor.Delivery](4)
	loop := New(bus, queue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.NoError(t, bus.Publish(ctx, monitor.MetricEvent{URLID: 5}))
	got, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.Event.URLID)
	got.Ack()
	assert.Equal(t, int64(1), bus.Acked())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
}

func TestLoopBackpressure(t *testing.T) {
	t.Parallel()

	bus := busmemory.New(4)
	queue := memory.NewQueue[monitor.Delivery](1)
	loop := New(bus, queue, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = loop.Run(ctx) }()

	for id := int64(1); id <= 3; id++ {
		require.NoError(t, bus.Publish(ctx, monitor.MetricEvent{URLID: id}))
	}
	require.Eventually(t, func() bool { return queue.Len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, queue.Len(), "queue never exceeds its capacity")

	for want := int64(1); want <= 3; want++ {
		got, err := queue.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got.Event.URLID)
	}
}

func TestLoopSurfacesSubscribeErrors(t *testing.T) {
	t.Parallel()

	loop := New(failingSubscriber{err: monitor.ErrBus}, memory.NewQueue[monitor.Delivery](1), nil)
	err := loop.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, monitor.ErrBus))
}
