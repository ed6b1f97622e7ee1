// Package memory provides an in-process bus that joins the checker and the
// updater inside a single process.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// Bus buffers published events in a bounded channel. Nacked events are
// delivered again. Nothing is kept once an event has been handed out.
type Bus struct {
	ch        chan monitor.MetricEvent
	seq       atomic.Int64
	published atomic.Int64
	acked     atomic.Int64
}

// New returns a Bus with the given buffer capacity.
func New(capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	return &Bus{ch: make(chan monitor.MetricEvent, capacity)}
}

// Publish blocks while the buffer is full.
func (b *Bus) Publish(ctx context.Context, event monitor.MetricEvent) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: publish canceled: %w", monitor.ErrBus, ctx.Err())
	case b.ch <- event:
	}
	b.published.Add(1)
	return nil
}

// Subscribe passes events to handler until ctx ends.
func (b *Bus) Subscribe(ctx context.Context, handler func(context.Context, monitor.Delivery) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-b.ch:
			id := "memory-" + strconv.FormatInt(b.seq.Add(1), 10)
			var once sync.Once
			delivery := monitor.NewDelivery(event, id,
				func() { once.Do(func() { b.acked.Add(1) }) },
				func() { once.Do(func() { b.redeliver(ctx, event) }) },
			)
			if err := handler(ctx, delivery); err != nil {
				delivery.Nack()
			}
		}
	}
}

func (b *Bus) redeliver(ctx context.Context, event monitor.MetricEvent) {
	go func() {
		select {
		case <-ctx.Done():
		case b.ch <- event:
		}
	}()
}

// Published reports how many events Publish accepted.
func (b *Bus) Published() int64 {
	return b.published.Load()
}

// Pending reports how many events wait in the buffer.
func (b *Bus) Pending() int {
	return len(b.ch)
}

// Acked reports how many deliveries were acknowledged.
func (b *Bus) Acked() int64 {
	return b.acked.Load()
}
