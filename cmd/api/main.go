package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qwork_backend/internal/adapters"
	"qwork_backend/internal/adapters/storage"
	"qwork_backend/internal/audit"
	"qwork_backend/internal/billing"
	"qwork_backend/internal/email"
	"qwork_backend/internal/events"
	apphttp "qwork_backend/internal/http"
	"qwork_backend/internal/http/router"
	"qwork_backend/internal/lifecycle"
	"qwork_backend/internal/lifecycle/ports"
	"qwork_backend/internal/notification"
	"qwork_backend/migrations"
	"qwork_backend/platform/config"
	"qwork_backend/platform/db"
	"qwork_backend/platform/logger"
	"qwork_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if cfg.GetRunMigrations() {
		if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
			return db.RunMigrations(ctx, cfg, migrations.FS)
		}); err != nil {
			log.Error("failed to run database migrations", "error", err)
			panic("failed to run database migrations: " + err.Error())
		}
		log.Info("database migrations complete")
	}

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	eventBus := events.NewInMemoryBus(log)

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	val := validator.New()

	archive := initLaudoArchive(ctx, cfg, log)

	// ========================================================================
	// Domain Modules
	// ========================================================================

	notificationModule := notification.New(pool, sender, val, cfg, log)
	notificationModule.RegisterHandlers(eventBus)

	lifecycleModule := lifecycle.NewModule(pool, eventBus, val, archive, adapters.NewLifecycleNotifierFactory(log), cfg, log)
	billingModule := billing.NewModule(
		pool,
		eventBus,
		val,
		adapters.NewBillingNotifierFactory(log),
		adapters.NewBillingMailerFactory(),
		cfg,
		cfg.GetAppBaseURL(),
		log,
	)
	auditModule := audit.NewModule(pool)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: pool,
		Modules: []apphttp.Module{
			lifecycleModule,
			billingModule,
			notificationModule,
			auditModule,
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initLaudoArchive returns nil when object storage is not configured so
// emission keeps the artifact hash only.
func initLaudoArchive(ctx context.Context, cfg *config.Config, log *logger.Logger) ports.ArtifactArchive {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; laudo artifacts will not be archived")
		return nil
	}

	archive, err := storage.NewLaudoArchive(cfg)
	if err != nil {
		log.Error("failed to initialize laudo archive", "error", err)
		panic("failed to initialize laudo archive: " + err.Error())
	}
	if err := withRetry(ctx, log, "ensure laudo bucket", 5, 2*time.Second, func() error {
		return archive.EnsureBucketExists(ctx)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", cfg.GetMinIOBucketLaudos())
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
	log.Info("laudo archive initialized", "bucket", cfg.GetMinIOBucketLaudos())
	return archive
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%s: %w", name, lastErr)
}
