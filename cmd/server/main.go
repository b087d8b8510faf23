package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"github.com/stanstork/stratum-ingest/internal/bus"
	"github.com/stanstork/stratum-ingest/internal/config"
	"github.com/stanstork/stratum-ingest/internal/engine"
	"github.com/stanstork/stratum-ingest/internal/handlers"
	"github.com/stanstork/stratum-ingest/internal/ingestion"
	"github.com/stanstork/stratum-ingest/internal/metrics"
	"github.com/stanstork/stratum-ingest/internal/middleware"
	"github.com/stanstork/stratum-ingest/internal/migration"
	"github.com/stanstork/stratum-ingest/internal/notification"
	"github.com/stanstork/stratum-ingest/internal/pipeline"
	"github.com/stanstork/stratum-ingest/internal/pipeline/source"
	"github.com/stanstork/stratum-ingest/internal/pipeline/storage"
	"github.com/stanstork/stratum-ingest/internal/pipeline/transform"
	"github.com/stanstork/stratum-ingest/internal/repository"
	"github.com/stanstork/stratum-ingest/internal/routes"
	"github.com/stanstork/stratum-ingest/internal/worker"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq" // PostgreSQL driver
)

type application struct {
	config    *config.Config
	db        *sql.DB
	logger    zerolog.Logger
	bus       bus.Bus
	metrics   *metrics.Metrics
	scheduler *worker.Scheduler
	service   ingestion.Service
	closers   []func() error
}

func main() {
	// Set up structured, level-based logging.
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.SetFlags(0)
	log.SetOutput(logger)

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}
	if !cfg.Log.Pretty {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		log.SetOutput(logger)
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil && level != zerolog.NoLevel {
		zerolog.SetGlobalLevel(level)
	}

	// Initialize database connection.
	db, err := openDB(cfg.Database.URL, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()

	// Run database migrations.
	if cfg.Database.RunMigrations {
		if err := migration.RunMigrations(db, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	app := &application{config: cfg, db: db, logger: logger}
	defer app.close()

	if err := app.build(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialise application")
	}

	router := app.initRouter()
	loggedRouter := middleware.LoggingMiddleware(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins(cfg.Server.AllowedOrigins),
		h.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)(loggedRouter)

	if err := app.run(corsHandler); err != nil {
		logger.Error().Err(err).Msg("Application stopped with error")
	}
	logger.Info().Msg("Application terminated.")
}

func openDB(url string, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// build wires the engine, scheduler and collaborators.
func (app *application) build() error {
	cfg := app.config
	logger := app.logger

	registries, err := app.buildRegistries()
	if err != nil {
		return err
	}

	app.bus, err = bus.Open(cfg.Bus, logger)
	if err != nil {
		return err
	}
	app.closers = append(app.closers, app.bus.Close)

	notifiers := []notification.Notifier{app.async(notification.NewBusNotifier(app.bus))}
	if cfg.Email.Enabled {
		mailer, err := notification.NewSMTPMailer(cfg.Email)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, app.async(notification.NewEmailNotifier(mailer, cfg.Email.AlertRecipients, logger)))
	}
	listeners := engine.Listeners{notification.NewService(logger, notifiers...)}

	var schedOpts []worker.SchedulerOption
	if cfg.Metrics.Enabled {
		app.metrics = metrics.New()
		listeners = append(listeners, app.metrics)
		schedOpts = append(schedOpts, worker.WithMetrics(app.metrics))
	}
	schedOpts = append(schedOpts, worker.WithLogger(logger))

	jobs := repository.NewJobRepository(app.db)
	logs := repository.NewJobLogRepository(app.db)
	stats := repository.NewStatisticsRepository(app.db)

	opts := []engine.Option{engine.WithLogger(logger), engine.WithListener(listeners)}
	machine := engine.NewStateMachine(jobs, opts...)
	recorder := engine.NewRecorder(logs, stats, opts...)
	executor := engine.NewExecutor(machine, registries, recorder, opts...)
	policy := engine.NewRetryPolicy(executor, machine, recorder, engine.RetryConfig{
		InitialInterval: cfg.Retry.InitialInterval,
		Multiplier:      cfg.Retry.Multiplier,
		MaxInterval:     cfg.Retry.MaxInterval,
	}, opts...)

	app.scheduler = worker.NewScheduler(jobs, policy, worker.Config{
		QueuedInterval:   cfg.Scheduler.QueuedInterval,
		RetryingInterval: cfg.Scheduler.RetryingInterval,
		Workers:          cfg.Pool.Workers,
		QueueSize:        cfg.Pool.QueueSize,
	}, schedOpts...)

	app.service = ingestion.NewService(jobs, logs, stats, machine, recorder, app.scheduler, logger)

	logger.Info().
		Strs("sources", registries.Sources.Keys()).
		Strs("transformers", registries.Transformers.Keys()).
		Strs("storages", registries.Storages.Keys()).
		Msg("pipeline registries ready")
	return nil
}

// async moves delivery off the job transition path. Closed before the bus.
func (app *application) async(n notification.Notifier) notification.Notifier {
	a := notification.NewAsyncNotifier(n, 0, app.logger)
	app.closers = append(app.closers, a.Close)
	return a
}

func (app *application) buildRegistries() (*pipeline.Registries, error) {
	cfg := app.config
	r := pipeline.NewRegistries()

	r.Sources.MustRegister(source.NewFileConnector(), source.NewAPIConnector(cfg.Sources.API))
	if cfg.Sources.DatabaseURL != "" {
		db, err := app.sharedDB(cfg.Sources.DatabaseURL)
		if err != nil {
			return nil, err
		}
		r.Sources.MustRegister(source.NewDatabaseConnector(db))
	}

	r.Transformers.MustRegister(transform.NewCSVTransformer(), transform.NewJSONTransformer(), transform.NewXMLTransformer())

	cloud, err := app.buildCloudStorage()
	if err != nil {
		return nil, err
	}
	r.Storages.MustRegister(storage.NewLocalStorage(cfg.Storage.Local.BasePath), cloud)
	if cfg.Storage.DatabaseURL != "" {
		db, err := app.sharedDB(cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, err
		}
		r.Storages.MustRegister(storage.NewDatabaseStorage(db))
	}
	return r, nil
}

// sharedDB reuses the service database when url points at it.
func (app *application) sharedDB(url string) (*sql.DB, error) {
	if url == app.config.Database.URL {
		return app.db, nil
	}
	db, err := openDB(url, app.config.Database)
	if err != nil {
		return nil, err
	}
	app.closers = append(app.closers, db.Close)
	return db, nil
}

func (app *application) buildCloudStorage() (*storage.CloudStorage, error) {
	cfg := app.config.Storage.Cloud
	cloud := storage.NewCloudStorage(cfg.DefaultProvider)

	if cfg.S3.AccessKeyID != "" || cfg.S3.Endpoint != "" {
		s3, err := storage.NewS3Uploader(cfg.S3)
		if err != nil {
			return nil, err
		}
		if err := cloud.Register("s3", s3); err != nil {
			return nil, err
		}
	}
	if cfg.GCS.CredentialsFile != "" || cfg.GCS.Endpoint != "" {
		gcs, err := storage.NewGCSUploader(context.Background(), cfg.GCS)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, gcs.Close)
		if err := cloud.Register("gcs", gcs); err != nil {
			return nil, err
		}
	}
	if cfg.Azure.AccountName != "" {
		azure, err := storage.NewAzureUploader(cfg.Azure)
		if err != nil {
			return nil, err
		}
		if err := cloud.Register("azure", azure); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}

// initRouter sets up all HTTP handlers and returns the router.
func (app *application) initRouter() http.Handler {
	jobHandler := handlers.NewJobHandler(app.service, app.logger)
	busHandler := handlers.NewBusHandler(app.bus, app.logger)
	healthHandler := handlers.NewHealthHandler(app.db)

	var metricsHandler http.Handler
	if app.metrics != nil {
		metricsHandler = app.metrics.Handler()
	}
	return routes.NewRouter(jobHandler, busHandler, healthHandler, metricsHandler)
}

// run serves HTTP, polls for jobs and consumes the bus until a signal arrives or a
// component fails, then shuts everything down.
func (app *application) run(handler http.Handler) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:    ":" + app.config.Server.Port,
		Handler: handler,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	app.scheduler.Start(ctx)

	if !strings.EqualFold(app.config.Bus.Driver, "none") && app.config.Bus.Driver != "" {
		consumer := bus.NewJobConsumer(app.service, app.config.Bus.AutoQueue, app.logger)
		g.Go(func() error {
			return consumer.Run(ctx, app.bus)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		app.logger.Info().Msg("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			app.logger.Error().Err(err).Msg("HTTP server shutdown error")
		} else {
			app.logger.Info().Msg("HTTP server shutdown complete.")
		}

		app.logger.Info().Msg("Stopping scheduler, waiting for running jobs...")
		app.scheduler.Stop()
		app.logger.Info().Msg("Scheduler stopped.")
		return nil
	})

	return g.Wait()
}

func (app *application) close() {
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			app.logger.Warn().Err(err).Msg("close failed")
		}
	}
}
