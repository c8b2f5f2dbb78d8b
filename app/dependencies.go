// Package app wires the application together: database, repositories,
// services, collector and auth. This is the central dependency injection
// point; nothing here holds global state.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/lumetrace/lumetrace/auth"
	"github.com/lumetrace/lumetrace/config"
	"github.com/lumetrace/lumetrace/middleware"
	"github.com/lumetrace/lumetrace/repositories"
	"github.com/lumetrace/lumetrace/repositories/postgres"
	"github.com/lumetrace/lumetrace/services/registry"
	"github.com/lumetrace/lumetrace/services/trace"
	"github.com/lumetrace/lumetrace/tracing"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	DB     *postgres.DB
	Logger *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories
	Prompts   repositories.PromptRepository
	Traces    repositories.TraceRepository
	TxManager repositories.TransactionManager

	// Services
	Registry  *registry.Service
	Collector *trace.CollectorService
	Tracer    *tracing.Tracer

	// Auth
	Validator      *auth.Validator
	AuthMiddleware *middleware.AuthMiddleware
}

// NewDependencies creates and wires up all application dependencies
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initDatabase(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := deps.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	if err := deps.initServices(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	deps.initAuth(cfg)

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase initializes the PostgreSQL connection and schema
func (d *Dependencies) initDatabase(ctx context.Context, cfg *config.Config) error {
	factory, err := postgres.NewRepositoryFactory(cfg, d.Logger)
	if err != nil {
		return fmt.Errorf("failed to create repository factory: %w", err)
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	d.Logger.Info("database connection established",
		zap.String("connection", cfg.Database.LogString()))

	return nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() error {
	repos := d.RepoFactory.NewRepositories()

	d.Prompts = repos.Prompts
	d.Traces = repos.Traces
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
	return nil
}

// initServices initializes the registry, collector and tracer
func (d *Dependencies) initServices(cfg *config.Config) error {
	d.Registry = registry.NewService(d.Prompts, d.TxManager, d.Logger, registry.Config{
		DefaultLabel:  cfg.Registry.DefaultLabel,
		StrictCompile: cfg.Registry.StrictCompile,
	})

	d.Collector = trace.NewCollectorService(d.Traces, d.Logger, trace.Config{
		BufferSize:  cfg.Collector.BufferSize,
		WorkerCount: cfg.Collector.WorkerCount,
	})
	if err := d.Collector.Start(); err != nil {
		return fmt.Errorf("failed to start trace collector: %w", err)
	}

	d.Tracer = tracing.NewTracer(d.Collector, d.Logger)

	d.Logger.Info("services initialized")
	return nil
}

// initAuth initializes credential validation
func (d *Dependencies) initAuth(cfg *config.Config) {
	if cfg.Auth.PublicKey == "" || cfg.Auth.SecretKey == "" {
		d.Logger.Warn("API keys not configured, all requests will be rejected")
	}

	d.Validator = auth.NewValidator(auth.Credentials{
		PublicKey: cfg.Auth.PublicKey,
		SecretKey: cfg.Auth.SecretKey,
	}, d.Logger)
	d.AuthMiddleware = middleware.NewAuthMiddleware(d.Validator, d.Logger)
}

// Close gracefully shuts down all dependencies. Pending spans are flushed
// before the collector and database are torn down.
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Collector != nil {
		flushCtx, cancel := context.WithTimeout(ctx, d.Config.Collector.FlushTimeout)
		if err := d.Collector.Flush(flushCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush spans: %w", err))
		}
		cancel()

		if err := d.Collector.Stop(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop collector: %w", err))
		} else {
			d.Logger.Info("trace collector stopped")
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	if d.Logger != nil {
		_ = d.Logger.Sync()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
