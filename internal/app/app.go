// Package app builds every service once from configuration and runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"detectionapi/internal/config"
	"detectionapi/internal/handler"
	"detectionapi/internal/logger"
	"detectionapi/internal/observability"
	"detectionapi/internal/repository"
	"detectionapi/internal/repository/firestore"
	"detectionapi/internal/repository/sqlite"
	"detectionapi/internal/route"
	"detectionapi/internal/service"
	"detectionapi/internal/service/ai"
	"detectionapi/internal/service/identity"
	"detectionapi/internal/service/mqtt"
	"detectionapi/internal/service/pipeline"
	"detectionapi/internal/service/storage"
	"detectionapi/internal/service/websocket"
	"detectionapi/internal/telemetry"
)

const shutdownTimeout = 15 * time.Second

// Options select optional parts of the application.
type Options struct {
	// LiveUpdates starts the WebSocket hub; only useful when serving HTTP.
	LiveUpdates bool
}

type App struct {
	config   *config.Config
	logger   *logger.Logger
	metrics  *observability.Metrics
	reporter *telemetry.Reporter
	detector ai.Detector
	store    storage.Store
	catalog  repository.Catalog
	hub      *websocket.HubService
	mqtt     *mqtt.Publisher
	pipeline *pipeline.Pipeline
}

// NewApp loads the model, opens the store and catalog and wires the pipeline.
func NewApp(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{config: cfg, logger: log}
	if err := a.init(ctx, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.config
	var err error

	if a.metrics, err = observability.NewMetrics(); err != nil {
		return err
	}
	if a.reporter, err = telemetry.NewReporter(cfg.SentryDSN, cfg.SentryEnvironment); err != nil {
		return err
	}

	if a.detector, err = ai.NewDetector(cfg, a.logger); err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}
	if a.store, err = storage.New(ctx, cfg, a.logger); err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}
	if a.catalog, err = newCatalog(ctx, cfg); err != nil {
		return fmt.Errorf("failed to open result catalog: %w", err)
	}

	ids, err := identity.NewGenerator(cfg.Identity, a.catalog)
	if err != nil {
		return err
	}

	var notifiers []service.Notifier
	if opts.LiveUpdates {
		a.hub = websocket.NewHubService(a.logger)
		notifiers = append(notifiers, a.hub)
	}
	if cfg.MQTT.Broker != "" {
		a.mqtt, err = mqtt.Connect(ctx, cfg.MQTT, a.logger)
		if err != nil {
			a.logger.Warning("MQTT notifications disabled: %v", err)
		} else {
			notifiers = append(notifiers, a.mqtt)
		}
	}

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Detector:  a.detector,
		Store:     a.store,
		Catalog:   a.catalog,
		IDs:       ids,
		Notifiers: notifiers,
		Metrics:   a.metrics.Pipeline,
		Reporter:  a.reporter,
		Logger:    a.logger,
	}, pipeline.Options{
		Sidecar: cfg.Pipeline.Sidecar,
		TempDir: cfg.Pipeline.TempDir,
		Timeout: cfg.Pipeline.Timeout,
	})
	return err
}

func newCatalog(ctx context.Context, cfg *config.Config) (repository.Catalog, error) {
	var catalog repository.Catalog
	switch cfg.Catalog.Backend {
	case config.CatalogFirestore:
		repo, err := firestore.New(ctx, cfg.Catalog, cfg.GCPCredentialsFile)
		if err != nil {
			return nil, err
		}
		catalog = repo
	case config.CatalogSQLite:
		db, err := sqlite.New(cfg.Catalog.DatabasePath)
		if err != nil {
			return nil, err
		}
		catalog = sqlite.NewResultRepository(db)
	default:
		return nil, fmt.Errorf("unknown catalog backend: %q", cfg.Catalog.Backend)
	}
	return repository.NewCachedCatalog(catalog, cfg.CacheTTL), nil
}

// Processor exposes the pipeline for one-shot use from the command line.
func (a *App) Processor() service.Processor {
	return a.pipeline
}

func (a *App) Logger() *logger.Logger {
	return a.logger
}

// Handler builds the HTTP API.
func (a *App) Handler() http.Handler {
	deps := route.Deps{
		Processor: a.pipeline,
		Catalog:   a.catalog,
		Hub:       a.hub,
		Metrics:   a.metrics,
		Logger:    a.logger,
		Health: handler.HealthInfo{
			Detector: a.detector.Name(),
			Store:    a.store.Name(),
		},
		DetectRateLimit: a.config.HTTP.DetectRateLimit,
		DetectRateBurst: a.config.HTTP.DetectRateBurst,
		AllowLogClear:   a.config.HTTP.AllowLogClear,
	}
	if a.hub != nil {
		deps.Health.Viewers = a.hub.GetClientCount
	}
	if local, ok := a.store.(*storage.LocalStore); ok {
		deps.ArtifactsDir = local.Dir()
	}
	return route.SetupRoutes(deps)
}

// Run serves HTTP until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.hub != nil {
		g.Go(func() error {
			a.hub.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		fmt.Printf("🚀 Object Detection API\n")
		fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
		fmt.Printf("🤖 Detector: %s\n", a.detector.Name())
		fmt.Printf("📁 Artifacts: %s\n", a.store.Name())
		a.logger.Info("Listening on %s", server.Addr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases every service that was created. It is safe after a failed NewApp.
func (a *App) Close() error {
	var errs []error
	if a.mqtt != nil {
		errs = append(errs, a.mqtt.Close())
	}
	if a.detector != nil {
		errs = append(errs, a.detector.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.catalog != nil {
		errs = append(errs, a.catalog.Close())
	}
	if a.reporter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.reporter.Flush(ctx)
		cancel()
	}
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
