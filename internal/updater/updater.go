// Package updater moves metric events from the bus subscription into the
// persist workers' queue.
package updater

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// Enqueuer accepts deliveries, blocking while the queue is full.
type Enqueuer interface {
	Enqueue(ctx context.Context, d monitor.Delivery) error
}

// Loop is the single subscription loop of the updater. Because enqueueing
// blocks, a slow store slows consumption instead of buffering without bound.
type Loop struct {
	subscriber monitor.Subscriber
	queue      Enqueuer
	logger     *zap.Logger
}

// New constructs a Loop.
func New(subscriber monitor.Subscriber, queue Enqueuer, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{subscriber: subscriber, queue: queue, logger: logger}
}

// Run consumes until ctx ends. Deliveries that cannot be queued are nacked
// by the subscriber so the bus redelivers them.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("updater_started")
	err := l.subscriber.Subscribe(ctx, func(msgCtx context.Context, d monitor.Delivery) error {
		if err := l.queue.Enqueue(msgCtx, d); err != nil {
			return fmt.Errorf("queue delivery for url %d: %w", d.Event.URLID, err)
		}
		return nil
	})
	l.logger.Info("updater_stopped")
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}
