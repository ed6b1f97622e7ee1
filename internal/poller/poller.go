// Package poller lists the watch entries on a fixed period and feeds them to
// the check workers.
package poller

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/wsmonitor/internal/metrics"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
)

// DefaultPeriod is the time between the starts of consecutive cycles.
const DefaultPeriod = 20 * time.Second

// State is the poller's current phase.
type State int32

// Poller states.
const (
	StateIdle State = iota
	StatePolling
	StateDispatching
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateDispatching:
		return "dispatching"
	default:
		return "idle"
	}
}

// Enqueuer accepts work, blocking while the downstream queue is full.
type Enqueuer[T any] interface {
	Enqueue(ctx context.Context, item T) error
}

// Poller runs one listing cycle per period. A cycle that outlasts the period
// is followed immediately by the next one.
type Poller struct {
	lister monitor.EntryLister
	queue  Enqueuer[monitor.WatchEntry]
	period time.Duration
	logger *zap.Logger
	state  atomic.Int32
}

// New constructs a Poller.
func New(lister monitor.EntryLister, queue Enqueuer[monitor.WatchEntry], period time.Duration, logger *zap.Logger) *Poller {
	if period <= 0 {
		period = DefaultPeriod
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{lister: lister, queue: queue, period: period, logger: logger}
}

// State reports the current phase.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Run polls until ctx ends. Listing errors are logged and the next cycle
// proceeds as scheduled.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("poller_started", zap.Duration("period", p.period))
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.setState(StateIdle)
			p.logger.Info("poller_stopped")
			return nil
		case <-timer.C:
		}

		start := time.Now()
		dispatched, err := p.cycle(ctx)
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			continue
		}

		status := "ok"
		wait := p.period - elapsed
		switch {
		case err != nil:
			status = "error"
			p.logger.Warn("poller_list_error", zap.Int("dispatched", dispatched), zap.Error(err))
		case wait <= 0:
			status = "overrun"
			p.logger.Warn("poller_cycle_overrun",
				zap.Int("dispatched", dispatched),
				zap.Duration("elapsed", elapsed),
				zap.Duration("period", p.period),
			)
		default:
			p.logger.Debug("poller_cycle_done", zap.Int("dispatched", dispatched), zap.Duration("elapsed", elapsed))
		}
		metrics.ObservePollCycle(status, elapsed)

		p.setState(StateIdle)
		timer.Reset(max(wait, 0))
	}
}

func (p *Poller) cycle(ctx context.Context) (int, error) {
	p.setState(StatePolling)
	dispatched := 0
	for entry, err := range p.lister.ListEntries(ctx) {
		if err != nil {
			return dispatched, err
		}
		p.setState(StateDispatching)
		if err := p.queue.Enqueue(ctx, entry); err != nil {
			return dispatched, err
		}
		dispatched++
	}
	return dispatched, nil
}

func (p *Poller) setState(s State) {
	if State(p.state.Swap(int32(s))) != s {
		p.logger.Debug("poller_state", zap.Stringer("state", s))
	}
}
