package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloudcode/config"
	"cloudcode/handler"
	"cloudcode/handler/platforms"
	"cloudcode/observability"
	"cloudcode/observability/types"
	"cloudcode/registry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := loadConfiguration()

	deps := initializeDependencies(cfg)

	app := buildApplication(cfg, deps)

	startApplication(app)
}

// Dependencies holds all initialized infrastructure components
type Dependencies struct {
	provider observability.Provider
	registry *registry.Registry
	logger   observability.Logger
}

// Application holds the complete application stack
type Application struct {
	runtime  platforms.Runtime
	provider observability.Provider
	logger   observability.Logger
	metrics  observability.Metrics
}

// loadConfiguration loads and validates the application configuration
func loadConfiguration() *config.Config {
	cfgProvider := config.GetProvider()
	cfgProvider.MustLoad()
	return cfgProvider.MustGet()
}

// initializeDependencies sets up observability and the callback registry
func initializeDependencies(cfg *config.Config) *Dependencies {
	provider := observability.NewProvider(&observability.Config{
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
		LogLevel:    cfg.LogLevel,
		AdditionalFields: observability.Fields{
			"version": cfg.Version,
		},
	})

	logger := provider.Logger("main")
	logger.Info(context.Background(), "Starting application", types.Fields{
		"service":     cfg.ServiceName,
		"version":     cfg.Version,
		"environment": cfg.Environment,
		"transport":   cfg.Transport,
	})

	reg := registry.New()
	registerCallbacks(reg)

	logger.Info(context.Background(), "Callbacks registered", types.Fields{
		"functions": reg.FuncList(),
	})

	return &Dependencies{
		provider: provider,
		registry: reg,
		logger:   logger,
	}
}

// buildApplication assembles the dispatcher and the transport
func buildApplication(cfg *config.Config, deps *Dependencies) *Application {
	dispatcher := handler.NewFactory(deps.registry, deps.provider).
		WithHandlerConfig(cfg.Handler).
		Create()

	rt, err := platforms.Create(cfg, dispatcher, deps.provider)
	if err != nil {
		deps.logger.Error(context.Background(), "Failed to create transport", err, nil)
		log.Fatalf("Failed to create transport: %v", err)
	}

	return &Application{
		runtime:  rt,
		provider: deps.provider,
		logger:   deps.logger,
		metrics:  deps.provider.Metrics("main"),
	}
}

// startApplication runs the transport until it returns or a signal arrives
func startApplication(app *Application) {
	defer app.provider.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app.logger.Info(ctx, "Starting transport", types.Fields{"transport": app.runtime.Name()})

	errCh := make(chan error, 1)
	go func() { errCh <- app.runtime.Start(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			app.logger.Error(ctx, "Transport failed", err, nil)
			app.metrics.RecordError("startup", handler.ErrorName(err))
			os.Exit(1)
		}
		app.logger.Info(ctx, "Transport finished", nil)
	case <-ctx.Done():
		app.logger.Info(context.Background(), "Shutdown signal received", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.runtime.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			app.logger.Error(shutdownCtx, "Graceful shutdown failed", err, nil)
		}
	}
}
