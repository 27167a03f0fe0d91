// Package server provides the core application server and dependency wiring.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	aiopenai "github.com/JakeFAU/digest-enricher/internal/ai/openai"
	"github.com/JakeFAU/digest-enricher/internal/api"
	"github.com/JakeFAU/digest-enricher/internal/clock/system"
	"github.com/JakeFAU/digest-enricher/internal/config"
	"github.com/JakeFAU/digest-enricher/internal/digest"
	"github.com/JakeFAU/digest-enricher/internal/extract"
	"github.com/JakeFAU/digest-enricher/internal/extract/download"
	"github.com/JakeFAU/digest-enricher/internal/extract/headless"
	"github.com/JakeFAU/digest-enricher/internal/flush"
	"github.com/JakeFAU/digest-enricher/internal/hash/sha256"
	"github.com/JakeFAU/digest-enricher/internal/id/uuid"
	"github.com/JakeFAU/digest-enricher/internal/logging"
	"github.com/JakeFAU/digest-enricher/internal/metrics"
	"github.com/JakeFAU/digest-enricher/internal/pipeline"
	"github.com/JakeFAU/digest-enricher/internal/policy/ratelimit"
	gcppublisher "github.com/JakeFAU/digest-enricher/internal/publisher/pubsub"
	"github.com/JakeFAU/digest-enricher/internal/queue"
	stagingmemory "github.com/JakeFAU/digest-enricher/internal/staging/memory"
	stagingredis "github.com/JakeFAU/digest-enricher/internal/staging/redis"
	docstore "github.com/JakeFAU/digest-enricher/internal/storage"
	gcsstorage "github.com/JakeFAU/digest-enricher/internal/storage/gcs"
	localstorage "github.com/JakeFAU/digest-enricher/internal/storage/local"
	memorystorage "github.com/JakeFAU/digest-enricher/internal/storage/memory"
	pgstore "github.com/JakeFAU/digest-enricher/internal/storage/postgres"
	"github.com/JakeFAU/digest-enricher/internal/tokens"
)

// ServiceName is reported on traces.
const ServiceName = "digest-enricher"

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	clock           *system.Clock
	apiServer       *api.Server
	pipeline        *pipeline.Pipeline
	queues          *queue.Set
	storage         *storage.Client
	redis           *stagingredis.Store
	flushLog        *pgstore.FlushLog
	renderer        *headless.Renderer
	coordinatorOpts []flush.Option
	closePubSub     func() error
	tracer          *sdktrace.TracerProvider
	closeOnce       sync.Once
	closeErr        error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	type SanitizedConfig struct {
		ServerPort     int    `json:"server_port"`
		StorageBackend string `json:"storage_backend"`
		StagingBackend string `json:"staging_backend"`
		Headless       bool   `json:"headless"`
	}
	safeCfg := SanitizedConfig{
		ServerPort:     cfg.Server.Port,
		StorageBackend: cfg.Storage.Backend,
		StagingBackend: cfg.Staging.Backend,
		Headless:       cfg.Headless.Enabled,
	}
	logger.Info("Creating application", zap.Any("config", safeCfg))
	return &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
	}, nil
}

// Pipeline exposes the enrichment pipeline for CLI commands.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP until the context is canceled or a signal arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()
	return errors.Join(runErr, a.Close(closeCtx))
}

// Close drains the queues and releases infrastructure. Calls after the first return the
// first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.queues != nil {
			if a.closeErr = a.queues.Close(ctx); a.closeErr != nil {
				a.logger.Warn("queues did not drain", zap.Error(a.closeErr))
			}
		}
		a.closeInfrastructure()
		if syncErr := a.logger.Sync(); syncErr != nil {
			a.logger.Debug("logger sync failed", zap.Error(syncErr))
		}
		a.logger.Info("shutdown complete")
	})
	return a.closeErr
}

func (a *App) closeInfrastructure() {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.closePubSub != nil {
		if err := a.closePubSub(); err != nil {
			a.logger.Warn("pubsub close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.flushLog != nil {
		a.flushLog.Close()
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	app.logger.Info("building application dependencies")
	if err := build(ctx, app); err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	return app, nil
}

func build(ctx context.Context, app *App) error {
	cfg := app.cfg
	logger := app.logger

	tp, err := metrics.InitTracerProvider(ctx, ServiceName)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracer = tp

	docs, err := setupStorage(ctx, app)
	if err != nil {
		return err
	}
	staging, err := setupStaging(app)
	if err != nil {
		return err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return err
	}
	if err = setupPublisher(ctx, app); err != nil {
		return err
	}

	app.queues = queue.NewSet(queue.Config{
		Fetch:      cfg.Queues.Fetch,
		Summarize:  cfg.Queues.Summarize,
		Translate:  cfg.Queues.Translate,
		Illustrate: cfg.Queues.Illustrate,
	}, logger)

	coord, err := setupCoordinator(app, docs, staging)
	if err != nil {
		return err
	}
	collab, err := setupCollaborators(app)
	if err != nil {
		return err
	}

	app.pipeline, err = pipeline.New(docs, staging, app.queues, coord, sha256.New(), collab, pipeline.Config{
		StagingTTL:      cfg.StagingTTL(),
		PollMaxAttempts: cfg.Poll.MaxAttempts,
		PollInterval:    cfg.PollInterval(),
	}, logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	apiCfg := api.Config{}
	if cfg.Auth.Enabled {
		apiCfg.APIKey = cfg.Auth.APIKey
	}
	var history api.FlushHistory
	if app.flushLog != nil {
		history = app.flushLog
	}
	app.apiServer = api.NewServer(app.pipeline, history, app.clock, apiCfg, logger.Named("api"))
	return nil
}

func setupStorage(ctx context.Context, app *App) (*docstore.Store, error) {
	var backend docstore.Backend
	var err error
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend")
		app.storage, err = gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		backend, err = gcsstorage.New(app.storage, gcsstorage.Config{BucketPrefix: app.cfg.Storage.BucketPrefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket_prefix", app.cfg.Storage.BucketPrefix))
	case config.StorageLocal:
		app.logger.Info("using local storage backend")
		backend, err = localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
	default:
		app.logger.Info("using in-memory storage backend")
		backend = memorystorage.NewBlobStore()
	}
	docs, err := docstore.New(backend, app.logger.Named("storage"))
	if err != nil {
		return nil, fmt.Errorf("document store init failed: %w", err)
	}
	return docs, nil
}

func setupStaging(app *App) (digest.StagingStore, error) {
	if app.cfg.Staging.Backend != config.StagingRedis {
		app.logger.Warn("using in-memory staging store; staged results do not survive restarts")
		return stagingmemory.New(app.clock), nil
	}
	store, err := stagingredis.Dial(stagingredis.Config{
		Addr:     app.cfg.Staging.Addr,
		Password: app.cfg.Staging.Password,
		DB:       app.cfg.Staging.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis staging init failed: %w", err)
	}
	app.redis = store
	app.logger.Info("using redis staging store", zap.String("addr", app.cfg.Staging.Addr))
	return store, nil
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("No DSN specified for database, skipping flush log initialization")
		return nil
	}
	var err error
	app.flushLog, err = pgstore.New(ctx, pgstore.Config{
		DSN:   app.cfg.Database.DSN,
		Table: app.cfg.Database.Table,
	})
	if err != nil {
		return fmt.Errorf("flush log init failed: %w", err)
	}
	if err := app.flushLog.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("flush log schema failed: %w", err)
	}
	app.logger.Info("flush log initialized", zap.String("table", app.cfg.Database.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App) error {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, flush notifications disabled")
		return nil
	}
	pub, closeFn, err := gcppublisher.Dial(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return fmt.Errorf("pubsub init failed: %w", err)
	}
	app.closePubSub = closeFn
	app.coordinatorOpts = append(app.coordinatorOpts, flush.WithPublisher(pub, app.cfg.PubSub.TopicName))
	app.logger.Info("pubsub publisher initialized", zap.String("topic", app.cfg.PubSub.TopicName))
	return nil
}

func setupCoordinator(app *App, docs *docstore.Store, staging digest.StagingStore) (*flush.Coordinator, error) {
	opts := append([]flush.Option{
		flush.WithClock(app.clock),
		flush.WithIDGenerator(uuid.New()),
	}, app.coordinatorOpts...)
	if app.flushLog != nil {
		opts = append(opts, flush.WithFlushLog(app.flushLog))
	}
	coord, err := flush.New(docs, staging, app.queues.Merge(), app.logger.Named("flush"), opts...)
	if err != nil {
		return nil, fmt.Errorf("flush coordinator init failed: %w", err)
	}
	return coord, nil
}

func setupCollaborators(app *App) (pipeline.Collaborators, error) {
	var collab pipeline.Collaborators

	extractOpts := []extract.Option{
		extract.WithLimiter(ratelimit.New(ratelimit.Config{RPS: app.cfg.HTTP.RPS, Burst: app.cfg.HTTP.Burst})),
	}
	if app.cfg.Headless.Enabled {
		renderer, err := headless.NewChromedp(headless.Config{
			MaxParallel:       app.cfg.Headless.MaxParallel,
			UserAgent:         app.cfg.Headless.UserAgent,
			NavigationTimeout: app.cfg.NavigationTimeout(),
		})
		if err != nil {
			return collab, fmt.Errorf("headless renderer init failed: %w", err)
		}
		app.renderer = renderer
		extractOpts = append(extractOpts, extract.WithRenderer(renderer))
		app.logger.Info("headless rendering enabled", zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	}
	downloader := download.New(download.Config{
		UserAgent:    app.cfg.HTTP.UserAgent,
		Timeout:      app.cfg.HTTPTimeout(),
		MaxBodyBytes: app.cfg.HTTP.MaxBodyBytes,
	})
	extractor, err := extract.New(downloader, app.logger.Named("extract"), extractOpts...)
	if err != nil {
		return collab, fmt.Errorf("extractor init failed: %w", err)
	}
	collab.Fetcher = extractor

	if app.cfg.AI.APIKey == "" {
		app.logger.Warn("No AI api key configured, summarize, translate and illustrate are disabled")
		return collab, nil
	}
	counter, err := tokens.NewTiktokenCounter(app.cfg.AI.Encoding)
	if err != nil {
		return collab, fmt.Errorf("token counter init failed: %w", err)
	}
	client, err := aiopenai.New(aiopenai.Config{
		APIKey:         app.cfg.AI.APIKey,
		BaseURL:        app.cfg.AI.BaseURL,
		Model:          app.cfg.AI.Model,
		ImageModel:     app.cfg.AI.ImageModel,
		MaxInputTokens: app.cfg.AI.MaxInputTokens,
		MaxRetries:     app.cfg.AI.MaxRetries,
		Timeout:        app.cfg.AITimeout(),
	}, tokens.NewTruncator(counter), ratelimit.New(ratelimit.Config{RPS: app.cfg.AI.RPS, Burst: app.cfg.AI.Burst}), app.logger.Named("openai"))
	if err != nil {
		return collab, fmt.Errorf("openai client init failed: %w", err)
	}
	collab.Summarizer = client
	collab.Translator = client
	collab.Illustrator = client
	return collab, nil
}
