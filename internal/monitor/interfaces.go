package monitor

import (
	"context"
	"iter"
	"time"
)

// EntryLister streams the watch list.
type EntryLister interface {
	ListEntries(ctx context.Context) iter.Seq2[WatchEntry, error]
}

// MetricAppender persists one metric into an entry's history.
type MetricAppender interface {
	AppendMetric(ctx context.Context, id int64, metric Metric) error
}

// Publisher pushes metric events onto the bus.
type Publisher interface {
	Publish(ctx context.Context, event MetricEvent) error
}

// Subscriber feeds bus deliveries to handler until ctx ends. A handler error
// nacks the delivery.
type Subscriber interface {
	Subscribe(ctx context.Context, handler func(context.Context, Delivery) error) error
}

// Prober performs one check against a watch entry. Probe never fails: every
// outcome is encoded in the returned Metric.
type Prober interface {
	Probe(ctx context.Context, entry WatchEntry) Metric
}

// Queue provides bounded enqueue/dequeue semantics.
type Queue[T any] interface {
	Enqueue(ctx context.Context, item T) error
	Dequeue(ctx context.Context) (T, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
