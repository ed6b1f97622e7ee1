// Package worker implements the check and persist execution loops.
package worker

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/metrics"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// Pool names used in logs and metrics.
const (
	PoolChecker = "checker"
	PoolUpdater = "updater"
)

const tracerName = "github.com/JakeFAU/wsmonitor/internal/worker"

// inflightTimeout bounds a publish or store write that outlives its loop's context.
const inflightTimeout = 30 * time.Second

// Limiter delays a check until its host may be contacted again.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// CheckWorker dequeues watch entries, probes them and publishes one metric
// event per entry.
type CheckWorker struct {
	queue     monitor.Queue[monitor.WatchEntry]
	prober    monitor.Prober
	publisher monitor.Publisher
	limiter   Limiter
	logger    *zap.Logger
}

// CheckOption customizes a CheckWorker.
type CheckOption func(*CheckWorker)

// WithLimiter spaces out checks per host. Waiting happens before the
// response timer starts.
func WithLimiter(l Limiter) CheckOption {
	return func(w *CheckWorker) {
		w.limiter = l
	}
}

// NewCheckWorker constructs a CheckWorker.
func NewCheckWorker(
	queue monitor.Queue[monitor.WatchEntry],
	prober monitor.Prober,
	publisher monitor.Publisher,
	logger *zap.Logger,
	opts ...CheckOption,
) *CheckWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &CheckWorker{queue: queue, prober: prober, publisher: publisher, logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run blocks, consuming entries until the context finishes. A check already
// started when the context ends is completed and published.
func (w *CheckWorker) Run(ctx context.Context) {
	metrics.IncActiveWorkers(PoolChecker)
	defer metrics.DecActiveWorkers(PoolChecker)
	for {
		entry, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, monitor.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx, entry.URL); err != nil {
				w.logger.Debug("check skipped", zap.Int64("url_id", entry.ID), zap.Error(err))
				continue
			}
		}
		w.check(context.WithoutCancel(ctx), entry)
	}
}

func (w *CheckWorker) check(ctx context.Context, entry monitor.WatchEntry) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "check")
	defer span.End()
	span.SetAttributes(attribute.Int64("url_id", entry.ID), attribute.String("url", entry.URL))

	m := w.prober.Probe(ctx, entry)
	span.SetAttributes(attribute.Int("return_code", int(m.ReturnCode)))
	metrics.ObserveCheck(entry.URL, m.ReturnCode, time.Duration(m.ResponseTime)*time.Microsecond)

	event := monitor.MetricEvent{URLID: entry.ID, Metric: m}
	pubCtx, cancel := context.WithTimeout(ctx, inflightTimeout)
	defer cancel()
	if err := w.publisher.Publish(pubCtx, event); err != nil {
		span.RecordError(err)
		metrics.ObservePublish("error")
		w.logger.Error("publish metric event failed",
			zap.Int64("url_id", entry.ID),
			zap.String("url", entry.URL),
			zap.Error(err),
		)
		return
	}
	w.logger.Debug("checked website",
		zap.Int64("url_id", entry.ID),
		zap.Int32("return_code", m.ReturnCode),
		zap.Int32("response_time_us", m.ResponseTime),
	)
}

// PersistWorker dequeues bus deliveries and appends them to storage,
// acknowledging each delivery only after the write succeeds.
type PersistWorker struct {
	queue  monitor.Queue[monitor.Delivery]
	store  monitor.MetricAppender
	logger *zap.Logger
}

// NewPersistWorker constructs a PersistWorker.
func NewPersistWorker(
	queue monitor.Queue[monitor.Delivery],
	store monitor.MetricAppender,
	logger *zap.Logger,
) *PersistWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PersistWorker{queue: queue, store: store, logger: logger}
}

// Run blocks, consuming deliveries until the context finishes.
func (w *PersistWorker) Run(ctx context.Context) {
	metrics.IncActiveWorkers(PoolUpdater)
	defer metrics.DecActiveWorkers(PoolUpdater)
	for {
		delivery, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, monitor.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.persist(ctx, delivery)
	}
}

func (w *PersistWorker) persist(ctx context.Context, d monitor.Delivery) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inflightTimeout)
	defer cancel()
	if len(d.Attributes) > 0 {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(d.Attributes))
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, "persist")
	defer span.End()
	span.SetAttributes(attribute.Int64("url_id", d.Event.URLID), attribute.String("check_id", d.CheckID))

	if err := w.store.AppendMetric(ctx, d.Event.URLID, d.Event.Metric); err != nil {
		span.RecordError(err)
		metrics.ObservePersist("error")
		w.logger.Error("append metric failed",
			zap.Int64("url_id", d.Event.URLID),
			zap.String("check_id", d.CheckID),
			zap.Error(err),
		)
		d.Nack()
		return
	}
	metrics.ObservePersist("stored")
	d.Ack()
}
