// Package memory provides the bounded in-process queues that sit between the
// pipeline producers and their worker pools.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/wsmonitor/internal/metrics"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// ErrClosed is returned once the queue is closed; Dequeue returns it only
// after the buffer is drained.
var ErrClosed = monitor.ErrQueueClosed

// Queue is a bounded FIFO with context-aware operations. Enqueue blocks while
// the queue is full, which is how producers feel backpressure.
type Queue[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
	name      string
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	name string
}

// WithName reports the queue depth under name in wsmonitor_queue_depth.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue[T any](capacity int, opts ...Option) *Queue[T] {
	if capacity < 1 {
		capacity = 1
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Queue[T]{
		ch:   make(chan T, capacity),
		done: make(chan struct{}),
		name: o.name,
	}
}

// Enqueue pushes an item into the queue or returns if the context ends or the
// queue is closed.
func (q *Queue[T]) Enqueue(ctx context.Context, item T) error {
	select {
	case <-q.done:
		return fmt.Errorf("enqueue: %w", ErrClosed)
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return fmt.Errorf("enqueue: %w", ErrClosed)
	case q.ch <- item:
		q.report()
		return nil
	}
}

// Dequeue pops the next item, respecting context cancellation. Items buffered
// before Close are still handed out.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item := <-q.ch:
		q.report()
		return item, nil
	case <-q.done:
		select {
		case item := <-q.ch:
			q.report()
			return item, nil
		default:
			return zero, ErrClosed
		}
	}
}

// Len reports the number of buffered items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap reports the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Close stops the queue accepting items. Blocked producers return ErrClosed.
// Safe to call more than once.
func (q *Queue[T]) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *Queue[T]) report() {
	if q.name != "" {
		metrics.SetQueueDepth(q.name, q.Len())
	}
}
