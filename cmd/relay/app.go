package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/eon/kore-relay/internal/api/handlers"
	"github.com/eon/kore-relay/internal/config"
	"github.com/eon/kore-relay/internal/consumer"
	"github.com/eon/kore-relay/internal/models"
	"github.com/eon/kore-relay/internal/observability"
	"github.com/eon/kore-relay/internal/repository"
	"github.com/eon/kore-relay/internal/service"
	"github.com/eon/kore-relay/internal/worker"
	"github.com/eon/kore-relay/internal/workers"
	"github.com/eon/kore-relay/pkg/cache"
	"github.com/eon/kore-relay/pkg/database"
)

const (
	forwardQueueDepthInterval = 15 * time.Second
	expirySweepInterval       = 10 * time.Minute
	enqueueInitialBackoff     = 200 * time.Millisecond
	enqueueMaxBackoff         = 2 * time.Second
)

// App holds all relay dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	server         *http.Server
	river          *river.Client[pgx.Tx]
	consumer       *consumer.Consumer
	sweeper        *worker.ExpirySweeper
	meterProvider  observability.MeterProviderShutdown
	tracerProvider *sdktrace.TracerProvider
	metrics        observability.RelayMetrics
}

// transactionStore is a TransactionReader that can report whether its backend is reachable.
type transactionStore interface {
	service.TransactionReader
	Ping(ctx context.Context) error
}

// NewApp builds and wires all components. It does not start the consumer, River or the
// HTTP server; call Run to start and block until shutdown or failure, then Close.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{cfg: cfg}

	if err := app.wire(ctx); err != nil {
		// Release whatever was created before the failing step.
		if closeErr := app.Close(context.Background()); closeErr != nil {
			slog.Error("cleanup after init error", "error", closeErr)
		}

		return nil, err
	}

	return app, nil
}

// wire builds the components in dependency order.
func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg

	metricsHandler, err := a.setupObservability(ctx)
	if err != nil {
		return err
	}

	if cfg.NeedsPostgres() {
		a.db, err = database.NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
	}

	store, err := a.newTransactionStore(ctx)
	if err != nil {
		return err
	}

	var transactions service.TransactionReader = store
	if cfg.TransactionCacheTTL > 0 {
		transactions = service.NewCachingTransactionReader(
			store,
			cache.NewLoaderCache[*models.Transaction](cfg.TransactionCacheSize, min(cfg.TransactionCacheTTL, models.TransactionTTL)),
			a.metrics,
		)
		slog.Info("transaction cache enabled", "size", cfg.TransactionCacheSize, "ttl", cfg.TransactionCacheTTL)
	}

	client := service.NewDigitalCertClient(service.DigitalCertClientOptions{
		BaseURL:   cfg.DigitalCertAppURL,
		Timeout:   cfg.ForwardTimeout,
		RetryMax:  cfg.ForwardRetryMax,
		RateLimit: cfg.ForwardRateLimit,
		Metrics:   a.metrics,
	})

	forwarder, err := a.newForwarder(ctx, client)
	if err != nil {
		return err
	}

	var deduper *service.MessageDeduper
	if cfg.DedupeWindow > 0 {
		deduper = service.NewMessageDeduper(cfg.DedupeSize, cfg.DedupeWindow)
		slog.Info("duplicate message suppression enabled", "window", cfg.DedupeWindow, "size", cfg.DedupeSize)
	}

	relay := service.NewRelayService(service.RelayServiceParams{
		Transactions: transactions,
		Forwarder:    forwarder,
		Deduper:      deduper,
		Metrics:      a.metrics,
	})

	a.consumer = consumer.New(consumer.Options{
		URL:                cfg.RabbitMQURL,
		Queue:              cfg.RabbitMQQueue,
		ConsumerTag:        cfg.RabbitMQConsumerTag,
		Prefetch:           cfg.RabbitMQPrefetch,
		Concurrency:        cfg.RabbitMQConcurrency,
		DeclareQueue:       cfg.RabbitMQDeclareQueue,
		DeadLetterExchange: cfg.RabbitMQDeadLetterExchange,
		ReconnectDelay:     cfg.RabbitMQReconnectDelay,
		Metrics:            a.metrics,
	}, consumer.NewDeliveryHandler(relay, cfg.RabbitMQDeadLetterFailures, a.metrics))

	checks := map[string]handlers.ReadinessCheck{
		"rabbitmq":     a.consumer.Ready,
		"transactions": store.Ping,
	}
	if a.db != nil {
		checks["postgres"] = a.db.Ping
	}

	a.server = newHTTPServer(cfg, handlers.NewHealthHandler(checks), metricsHandler)

	slog.Info("relay initialized",
		"transaction_store", cfg.TransactionStore,
		"forward_mode", cfg.ForwardMode,
		"digital_cert_endpoint", client.Endpoint(),
		"queue", cfg.RabbitMQQueue,
	)

	return nil
}

// setupObservability creates the meter and tracer providers and installs the trace-aware
// log handler. Returns the /metrics handler, nil when metrics are disabled.
func (a *App) setupObservability(ctx context.Context) (http.Handler, error) {
	var metricsHandler http.Handler

	if a.cfg.MetricsEnabled {
		mp, handler, metrics, err := observability.NewMeterProvider(ctx, observability.MeterProviderConfig{
			ServiceName:  a.cfg.ServiceName,
			PushExporter: a.cfg.OtelMetricsExporter,
		})
		if err != nil {
			return nil, fmt.Errorf("create meter provider: %w", err)
		}

		a.meterProvider, a.metrics, metricsHandler = mp, metrics, handler

		if p, ok := mp.(metric.MeterProvider); ok {
			otel.SetMeterProvider(p)
		}
	} else {
		slog.Warn("metrics not enabled (METRICS_ENABLED=false)")
	}

	if a.cfg.OtelTracesExporter == "" {
		slog.Warn("tracing not enabled (OTEL_TRACES_EXPORTER empty or unset)")
	} else {
		tp, err := observability.NewTracerProvider(ctx, a.cfg.OtelTracesExporter, a.cfg.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("create tracer provider: %w", err)
		}

		if tp != nil {
			a.tracerProvider = tp
			otel.SetTracerProvider(tp)
			otel.SetTextMapPropagator(propagation.TraceContext{})
		}
	}

	// Install TraceContextHandler unconditionally so message_id (and trace_id/span_id when tracing is on) appear in logs.
	slog.SetDefault(slog.New(observability.NewTraceContextHandler(slog.Default().Handler())))

	return metricsHandler, nil
}

// newTransactionStore opens the configured transaction store.
func (a *App) newTransactionStore(ctx context.Context) (transactionStore, error) {
	switch a.cfg.TransactionStore {
	case config.StorePostgres:
		repo := repository.NewPostgresTransactionsRepository(a.db)

		if a.cfg.PostgresAutoMigrate {
			if err := repo.EnsureSchema(ctx); err != nil {
				return nil, err
			}
		}

		a.sweeper = worker.NewExpirySweeper(repo, expirySweepInterval)

		return repo, nil
	default:
		container, err := repository.NewCosmosContainer(
			a.cfg.CosmosEndpoint, a.cfg.CosmosKey, a.cfg.CosmosDatabase, a.cfg.CosmosContainer,
		)
		if err != nil {
			return nil, fmt.Errorf("create cosmos container client: %w", err)
		}

		return repository.NewCosmosTransactionsRepository(container), nil
	}
}

// newForwarder returns a direct forwarder, or migrates River and returns a queue forwarder.
func (a *App) newForwarder(ctx context.Context, client *service.DigitalCertClient) (service.Forwarder, error) {
	if a.cfg.ForwardMode != config.ForwardModeQueue {
		return service.NewDirectForwarder(client), nil
	}

	driver := riverpgxv5.New(a.db)

	migrator, err := rivermigrate.New(driver, nil)
	if err != nil {
		return nil, fmt.Errorf("create River migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return nil, fmt.Errorf("migrate River schema: %w", err)
	}

	for _, version := range res.Versions {
		slog.Info("applied River migration", "version", version.Version)
	}

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewForwardWorker(client, a.metrics))

	a.river, err = river.NewClient(driver, &river.Config{
		Queues: map[string]river.QueueConfig{
			service.ForwardQueueName: {MaxWorkers: a.cfg.ForwardWorkers},
		},
		Workers:      riverWorkers,
		ErrorHandler: &workers.ErrorHandler{Metrics: a.metrics},
		MaxAttempts:  a.cfg.ForwardMaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}

	slog.Info("forward job queue enabled",
		"workers", a.cfg.ForwardWorkers,
		"max_attempts", a.cfg.ForwardMaxAttempts,
	)

	inserter := service.NewRetryingForwardJobInserter(a.river, service.RetryingForwardJobInserterConfig{
		MaxRetries:     a.cfg.ForwardEnqueueRetries,
		InitialBackoff: enqueueInitialBackoff,
		MaxBackoff:     enqueueMaxBackoff,
		Metrics:        a.metrics,
	})

	return service.NewQueueForwarder(inserter, a.cfg.ForwardMaxAttempts, a.metrics), nil
}

// newHTTPServer builds the health server: /health, /ready and /metrics (when enabled).
func newHTTPServer(cfg *config.Config, health *handlers.HealthHandler, metricsHandler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Check)
	mux.HandleFunc("GET /ready", health.Ready)

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	handler := otelhttp.NewHandler(mux, "kore-relay-health",
		// Skip tracing and HTTP metrics for probes to reduce noise.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/ready"
		}),
	)

	const (
		readTimeout  = 5 * time.Second
		writeTimeout = 15 * time.Second
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts the HTTP server, River and the consumer, then blocks until ctx is cancelled
// (e.g. signal) or a component fails. The consumer finishes in-flight deliveries and the
// server and River are stopped before Run returns. Caller should then call Close.
func (a *App) Run(ctx context.Context) error {
	if a.river != nil {
		// Stopped gracefully by stop; cancelling its start context would cancel running jobs.
		if err := a.river.Start(context.WithoutCancel(ctx)); err != nil {
			return fmt.Errorf("river: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting health server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}

		return nil
	})

	if a.river != nil {
		if a.metrics != nil {
			g.Go(func() error {
				runForwardQueueDepthPoller(gctx, a.db, a.metrics)

				return nil
			})
		}
	}

	if a.sweeper != nil {
		g.Go(func() error {
			a.sweeper.Start(gctx)

			return nil
		})
	}

	g.Go(func() error {
		return a.consumer.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()

		return a.stop()
	})

	return g.Wait()
}

// stop shuts down the HTTP server and River. The consumer stops on its own context.
func (a *App) stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("server shutdown: %w", err))
	}

	if a.river != nil {
		slog.Info("Stopping River job queue...")

		if err := a.river.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("river stop: %w", err))
		}
	}

	return errors.Join(errs...)
}

// runForwardQueueDepthPoller periodically updates the forward queue depth gauge.
func runForwardQueueDepthPoller(ctx context.Context, db *pgxpool.Pool, metrics observability.RelayMetrics) {
	ticker := time.NewTicker(forwardQueueDepthInterval)
	defer ticker.Stop()

	update := func() {
		var count int

		err := db.QueryRow(ctx,
			`SELECT COUNT(*) FROM river_job WHERE queue = $1 AND state IN ($2, $3, $4)`,
			service.ForwardQueueName,
			rivertype.JobStateAvailable, rivertype.JobStateRetryable, rivertype.JobStateScheduled,
		).Scan(&count)
		if err != nil {
			if ctx.Err() == nil {
				slog.WarnContext(ctx, "forward queue depth poll failed", "error", err)
			}

			return
		}

		metrics.SetForwardQueueDepth(count)
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// Close releases the database pool and flushes observability. Safe to call on a partially built App.
// Logs secondary errors, returns the first.
func (a *App) Close(ctx context.Context) error {
	var first error

	if a.tracerProvider != nil {
		if err := observability.ShutdownTracerProvider(ctx, a.tracerProvider); err != nil {
			first = err
		}
	}

	if a.meterProvider != nil {
		if err := a.meterProvider.Shutdown(ctx); err != nil {
			if first == nil {
				first = fmt.Errorf("meter provider shutdown: %w", err)
			} else {
				slog.Error("shutdown meter provider", "error", err)
			}
		}
	}

	if a.db != nil {
		a.db.Close()
	}

	return first
}
