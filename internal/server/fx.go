// Package server wires configuration, storage, the bus and the worker pools
// into the checker and updater daemons.
package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	buspubsub "github.com/JakeFAU/wsmonitor/internal/bus/pubsub"
	"github.com/JakeFAU/wsmonitor/internal/config"
	"github.com/JakeFAU/wsmonitor/internal/database"
	"github.com/JakeFAU/wsmonitor/internal/id/uuid"
	"github.com/JakeFAU/wsmonitor/internal/logging"
	"github.com/JakeFAU/wsmonitor/internal/metrics"
	"github.com/JakeFAU/wsmonitor/internal/monitor"
	pgstore "github.com/JakeFAU/wsmonitor/internal/storage/postgres"
	"github.com/JakeFAU/wsmonitor/internal/telemetry"
)

// Version is reported in traces and by the CLI.
const Version = "0.1.0"

const shutdownTimeout = 10 * time.Second

// Store is the watch list and metric history used by the CLI and daemons.
type Store interface {
	Init(ctx context.Context) error
	Reset(ctx context.Context) error
	AddEntry(ctx context.Context, url string, pattern *string) (int64, error)
	RemoveEntry(ctx context.Context, id int64) error
	ListEntries(ctx context.Context) iter.Seq2[monitor.WatchEntry, error]
	ListStatus(ctx context.Context, ids []int64) iter.Seq2[monitor.WatchStatus, error]
	AppendMetric(ctx context.Context, id int64, m monitor.Metric) error
}

// bus is what the daemons need from a message bus client.
type bus interface {
	monitor.Publisher
	monitor.Subscriber
	EnsureTopic(ctx context.Context) error
	Close() error
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	db     *database.Manager
	store  Store

	newBus         func() (bus, error)
	newProber      func() monitor.Prober
	tracerShutdown func(context.Context) error
}

// NewApp creates an App around an existing store.
func NewApp(cfg config.Config, logger *zap.Logger, store Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, store: store}
	a.newBus = a.pubsubBus
	a.newProber = a.colly
	return a
}

// Build creates the application's dependencies. Nothing connects to the
// database or the bus until a command needs it.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	db, err := database.NewManager(cfg.Database(), logger.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("database init failed: %w", err)
	}
	store, err := pgstore.NewStore(db, pgstore.WithLogger(logger.Named("store")))
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	app := NewApp(cfg, logger, store)
	app.db = db

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName, Version)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	logger.Debug("application built",
		zap.String("db_host", cfg.DB.Host),
		zap.String("db_name", cfg.DB.Name),
		zap.String("topic", cfg.PubSub.Topic),
	)
	return app, nil
}

// Store returns the watch list store.
func (a *App) Store() Store {
	return a.store
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// RunChecker polls the watch list and publishes one metric event per check
// to Pub/Sub until SIGINT, SIGTERM or ctx cancellation.
func (a *App) RunChecker(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := a.newBus()
	if err != nil {
		return err
	}
	defer a.closeBus(b)
	if err := b.EnsureTopic(ctx); err != nil {
		return fmt.Errorf("ensure topic: %w", err)
	}
	return a.run(ctx, a.checker(b))
}

// RunUpdater consumes metric events from Pub/Sub and appends them to storage
// until SIGINT, SIGTERM or ctx cancellation.
func (a *App) RunUpdater(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := a.newBus()
	if err != nil {
		return err
	}
	defer a.closeBus(b)
	if err := b.EnsureTopic(ctx); err != nil {
		return fmt.Errorf("ensure topic: %w", err)
	}
	return a.run(ctx, a.updater(b))
}

// RunAll runs the checker and the updater in one process joined by an
// in-memory bus.
func (a *App) RunAll(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := newMemoryBus(a.cfg)
	return a.run(ctx, append(a.checker(b), a.updater(b)...))
}

// stage is one long-running loop of a daemon.
type stage struct {
	name string
	run  func(ctx context.Context) error
}

func (a *App) run(ctx context.Context, stages []stage) error {
	if addr := a.cfg.Metrics.Addr; addr != "" {
		stages = append(stages, a.metricsServer(addr))
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range stages {
		g.Go(func() error {
			a.logger.Info("stage started", zap.String("stage", s.name))
			defer a.logger.Info("stage stopped", zap.String("stage", s.name))
			if err := s.run(gctx); err != nil {
				return fmt.Errorf("%s: %w", s.name, err)
			}
			return nil
		})
	}
	err := g.Wait()
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) metricsServer(addr string) stage {
	return stage{name: "metrics", run: func(ctx context.Context) error {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metrics.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("metrics server started", zap.String("addr", addr))
			errCh <- srv.ListenAndServe()
		}()
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("listen: %w", err)
		case <-ctx.Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", zap.Error(err))
		}
		return nil
	}}
}

func (a *App) pubsubBus() (bus, error) {
	client, err := buspubsub.New(a.cfg.Bus(), a.logger.Named("pubsub"), uuid.New())
	if err != nil {
		return nil, fmt.Errorf("pubsub init failed: %w", err)
	}
	return client, nil
}

func (a *App) closeBus(b bus) {
	if err := b.Close(); err != nil {
		a.logger.Warn("bus close failed", zap.Error(err))
	}
}

// Close releases the database pool and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
