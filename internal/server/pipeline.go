package server

import (
	"context"

	"go.uber.org/zap"

	busmemory "github.com/JakeFAU/wsmonitor/internal/bus/memory"
	"github.com/JakeFAU/wsmonitor/internal/clock/system"
	"github.com/JakeFAU/wsmonitor/internal/config"
	"github.com/JakeFAU/wsmonitor/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/wsmonitor/internal/fetcher/colly"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
	"github.com/JakeFAU/wsmonitor/internal/policy/ratelimit"
	"github.com/JakeFAU/wsmonitor/internal/poller"
	queuememory "github.com/JakeFAU/wsmonitor/internal/queue/memory"
	"github.com/JakeFAU/wsmonitor/internal/updater"
	"github.com/JakeFAU/wsmonitor/internal/worker"
)

type memoryBus struct {
	*busmemory.Bus
}

func (memoryBus) EnsureTopic(context.Context) error { return nil }

func (memoryBus) Close() error { return nil }

func newMemoryBus(cfg config.Config) memoryBus {
	return memoryBus{Bus: busmemory.New(cfg.Updater.QueueDepth + cfg.Checker.Workers)}
}

func (a *App) colly() monitor.Prober {
	return collyfetcher.New(a.cfg.Prober(), system.New(nil), a.logger.Named("prober"))
}

// checker builds the poller and the check worker pool publishing to pub.
func (a *App) checker(pub monitor.Publisher) []stage {
	queue := queuememory.NewQueue[monitor.WatchEntry](a.cfg.Checker.QueueDepth, queuememory.WithName("checker"))
	prober := a.newProber()

	var opts []worker.CheckOption
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.Checker.PerHostRPS,
		Burst: a.cfg.Checker.PerHostBurst,
	})
	if limiter.Enabled() {
		opts = append(opts, worker.WithLimiter(limiter))
	}

	workers := make([]dispatcher.Runner, 0, a.cfg.Checker.Workers)
	for i := range a.cfg.Checker.Workers {
		workers = append(workers, worker.NewCheckWorker(
			queue,
			prober,
			pub,
			a.logger.Named("checker").With(zap.Int("index", i)),
			opts...,
		))
	}
	dispatch := dispatcher.New[monitor.WatchEntry](queue, workers)
	poll := poller.New(a.store, dispatch, a.cfg.Checker.Period, a.logger.Named("poller"))

	a.logger.Info("checker configured",
		zap.Int("workers", a.cfg.Checker.Workers),
		zap.Int("queue_depth", queue.Cap()),
		zap.Duration("period", a.cfg.Checker.Period),
		zap.Duration("timeout", a.cfg.Checker.Timeout),
		zap.Float64("per_host_rps", a.cfg.Checker.PerHostRPS),
	)
	return []stage{
		{name: "check-workers", run: func(ctx context.Context) error {
			dispatch.Run(ctx)
			return nil
		}},
		{name: "poller", run: poll.Run},
	}
}

// updater builds the subscription loop and the persist worker pool.
func (a *App) updater(sub monitor.Subscriber) []stage {
	queue := queuememory.NewQueue[monitor.Delivery](a.cfg.Updater.QueueDepth, queuememory.WithName("updater"))

	workers := make([]dispatcher.Runner, 0, a.cfg.Updater.Workers)
	for i := range a.cfg.Updater.Workers {
		workers = append(workers, worker.NewPersistWorker(
			queue,
			a.store,
			a.logger.Named("updater").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New[monitor.Delivery](queue, workers)
	loop := updater.New(sub, dispatch, a.logger.Named("subscriber"))

	a.logger.Info("updater configured",
		zap.Int("workers", a.cfg.Updater.Workers),
		zap.Int("queue_depth", queue.Cap()),
	)
	return []stage{
		{name: "persist-workers", run: func(ctx context.Context) error {
			dispatch.Run(ctx)
			return nil
		}},
		{name: "subscriber", run: loop.Run},
	}
}
