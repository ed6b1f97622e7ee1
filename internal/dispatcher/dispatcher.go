// Package dispatcher manages worker fan-out over a bounded queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// Runner is a worker loop that returns once ctx is done.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher[T any] struct {
	queue   monitor.Queue[T]
	workers []Runner
}

// New creates a Dispatcher.
func New[T any](queue monitor.Queue[T], workers []Runner) *Dispatcher[T] {
	return &Dispatcher[T]{
		queue:   queue,
		workers: workers,
	}
}

// closer is implemented by queues that can refuse further work.
type closer interface {
	Close()
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned. The queue is closed once the context ends, so late
// producers get monitor.ErrQueueClosed instead of blocking.
func (d *Dispatcher[T]) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	if c, ok := d.queue.(closer); ok {
		c.Close()
	}
	wg.Wait()
}

// Enqueue proxies to the underlying queue, blocking while it is full.
func (d *Dispatcher[T]) Enqueue(ctx context.Context, item T) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
