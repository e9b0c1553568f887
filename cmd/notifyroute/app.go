package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	api "github.com/tphakala/notifyroute/internal/api/v1"
	"github.com/tphakala/notifyroute/internal/channels"
	"github.com/tphakala/notifyroute/internal/conf"
	"github.com/tphakala/notifyroute/internal/controls"
	"github.com/tphakala/notifyroute/internal/datastore"
	"github.com/tphakala/notifyroute/internal/datastore/repository"
	"github.com/tphakala/notifyroute/internal/delivery"
	"github.com/tphakala/notifyroute/internal/intake"
	"github.com/tphakala/notifyroute/internal/logger"
	"github.com/tphakala/notifyroute/internal/metrics"
	"github.com/tphakala/notifyroute/internal/queue"
	"github.com/tphakala/notifyroute/internal/routing"
	"github.com/tphakala/notifyroute/internal/telemetry"
	"github.com/tphakala/notifyroute/internal/transport"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const flushTimeout = 2 * time.Second

// Components selects what an App runs.
type Components struct {
	HTTP   bool
	Worker bool
	MQTT   bool
}

// App owns every long-lived dependency. Nothing is built at import time;
// NewApp wires the graph and Start/Stop drive it.
type App struct {
	settings   *conf.Settings
	components Components
	log        logger.Logger

	db       *gorm.DB
	rdb      *redis.Client
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	reporter *telemetry.Reporter

	store    *repository.Store
	queue    *queue.RedisQueue
	worker   *delivery.Worker
	ingest   *routing.Service
	channels *channels.Service
	consumer *queue.Consumer
	api      *api.Controller
	intake   *intake.Subscriber

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
	done   chan error
}

// NewApp opens the store and Redis and wires the requested components.
// Resources opened before a failure are released.
func NewApp(ctx context.Context, settings *conf.Settings, components Components, log logger.Logger) (app *App, err error) {
	a := &App{
		settings:   settings,
		components: components,
		log:        log.Module("app"),
		registry:   prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if a.metrics, err = metrics.New(a.registry); err != nil {
		return nil, err
	}

	if a.reporter, err = telemetry.NewReporter(settings.Sentry, version, log); err != nil {
		return nil, err
	}

	if a.db, err = datastore.Open(settings.Database, log); err != nil {
		return nil, err
	}
	if err = datastore.Migrate(a.db); err != nil {
		return nil, err
	}
	a.store = repository.NewStore(a.db)

	if a.rdb, err = datastore.OpenRedis(ctx, settings.Redis); err != nil {
		return nil, err
	}
	a.queue = queue.NewRedisQueue(a.rdb, settings.Redis.KeyPrefix, a.metrics, log)

	if a.worker, err = newWorker(settings, a.store, a.rdb, a.metrics, a.reporter, log); err != nil {
		return nil, err
	}

	scheduler := routing.NewScheduler(a.queue, settings.Queue.Name, log)
	a.ingest = routing.NewService(routing.NewRouter(a.store.Rules, log), scheduler, log)
	a.channels = channels.NewService(a.store.Channels, a.worker, scheduler, log)

	if components.Worker {
		a.consumer = queue.NewConsumer(a.queue, queue.ConsumerOptions{
			Queue:             settings.Queue.Name,
			Concurrency:       settings.Queue.Consumers,
			BatchSize:         settings.Queue.BatchSize,
			PollInterval:      settings.Queue.PollInterval.Std(),
			VisibilityTimeout: settings.Queue.VisibilityTimeout.Std(),
			MaxRetries:        settings.Delivery.MaxRetries,
			RetryDelay:        settings.Delivery.RetryDelay.Std(),
		}, log)
		a.worker.Register(a.consumer)
	}

	if components.HTTP {
		a.api = api.New(a.store, a.channels, a.ingest, api.Options{
			RatePerSecond: settings.HTTP.RatePerSecond,
			Burst:         settings.HTTP.Burst,
			Gatherer:      a.registry,
		}, log)
	}

	if components.MQTT && settings.MQTT.Enabled {
		if a.intake, err = intake.NewSubscriber(settings.MQTT, a.ingest, log); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// newWorker builds the delivery worker. rdb may be nil for one-off test
// sends, which never consult suppression state.
func newWorker(
	settings *conf.Settings,
	store *repository.Store,
	rdb redis.Cmdable,
	m *metrics.Metrics,
	reporter *telemetry.Reporter,
	log logger.Logger,
) (*delivery.Worker, error) {
	loc, err := settings.Delivery.Location()
	if err != nil {
		return nil, err
	}

	var ctrl *controls.Controls
	if rdb != nil {
		ctrl = controls.New(rdb, controls.Options{
			KeyPrefix:       settings.Redis.KeyPrefix,
			SilenceCacheTTL: settings.Delivery.SilenceCacheTTL.Std(),
			Location:        loc,
		}, log)
	}

	opts := delivery.Options{
		DefaultTimeout:      settings.Delivery.DefaultTimeout.Std(),
		StormBatchSize:      settings.Delivery.StormBatchSize,
		StormWindowFallback: settings.Delivery.StormWindowFallback.Std(),
	}
	if reporter.Enabled() {
		opts.Reporter = reporter
	}

	return delivery.NewWorker(
		store,
		ctrl,
		channels.Resolver{DefaultSMSURL: settings.Transport.SMSURL},
		transport.NewShoutrrrDispatcher(settings.Transport.SenderCacheTTL.Std(), log),
		m,
		opts,
		log,
	), nil
}

// Start launches the configured components in the background. The first
// component failure is reported on Done.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.group != nil {
		return fmt.Errorf("app already started")
	}

	if a.intake != nil {
		if err := a.intake.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt intake: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)
	if a.consumer != nil {
		g.Go(func() error { return a.consumer.Run(gctx) })
	}
	if a.api != nil {
		g.Go(func() error {
			return a.api.Serve(gctx, a.settings.HTTP.Listen, a.settings.HTTP.ShutdownGrace.Std())
		})
	}

	a.cancel = cancel
	a.group = g
	a.done = make(chan error, 1)
	go func() { a.done <- g.Wait() }()

	a.log.Info("notifyroute started",
		logger.String("version", version),
		logger.Bool("http", a.api != nil),
		logger.Bool("worker", a.consumer != nil),
		logger.Bool("mqtt", a.intake != nil))
	return nil
}

// Done yields the result of the background components once they exit.
// It is nil before Start.
func (a *App) Done() <-chan error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.done
}

// Stop shuts components down in reverse start order and releases every
// resource. ctx bounds the wait for in-flight work.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel = nil
	a.mu.Unlock()

	if a.intake != nil {
		a.intake.Stop()
	}

	var runErr error
	if cancel != nil {
		cancel()
		select {
		case runErr = <-done:
		case <-ctx.Done():
			runErr = fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	}

	a.close()
	a.log.Info("notifyroute stopped")
	return runErr
}

func (a *App) close() {
	if a.reporter != nil {
		a.reporter.Flush(flushTimeout)
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("failed to close redis", logger.Error(err))
		}
		a.rdb = nil
	}
	if a.db != nil {
		if err := datastore.Close(a.db); err != nil {
			a.log.Warn("failed to close database", logger.Error(err))
		}
		a.db = nil
	}
}
