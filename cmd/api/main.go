// Command api serves the QubecTalk hosted execution service: compile
// QubecTalk source, run its simulations, and retrieve results over HTTP.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"

	apihttp "github.com/example/qubectalk/internal/api/http"
	"github.com/example/qubectalk/internal/auth"
	"github.com/example/qubectalk/internal/config"
	"github.com/example/qubectalk/internal/db"
	"github.com/example/qubectalk/internal/events"
	"github.com/example/qubectalk/internal/observability"
	"github.com/example/qubectalk/internal/ratelimit"
	"github.com/example/qubectalk/internal/secrets"
	"github.com/example/qubectalk/internal/store"
	"github.com/example/qubectalk/internal/tracing"
	"github.com/example/qubectalk/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("[qubectalk] fatal error: %v", err)
	}
}

func run() (err error) {
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelInfo,
		AddSource: true,
	})
	logger := slog.New(jsonHandler)
	slog.SetDefault(logger)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("PANIC", "error", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config load: %w", err)
	}
	log.Printf("[qubectalk] booting api (env=%s port=%d)", cfg.Server.Env, cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	secretManager := secrets.NewEnvProvider()
	resolveSecret := func(explicit, key string) string {
		return secrets.Resolve(ctx, secretManager, explicit, key)
	}

	traceProvider, err := tracing.Setup(tracing.Config{
		ServiceName:    "qubectalk-api",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Server.Env,
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SamplingRate:   1.0,
		Enabled:        cfg.Features.EnableTracing,
		Logger:         logger,
	})
	if err != nil {
		log.Printf("[qubectalk] WARNING: failed to setup tracing: %v", err)
	} else if cfg.Features.EnableTracing {
		defer func() {
			if err := traceProvider.Shutdown(ctx); err != nil {
				log.Printf("[qubectalk] WARNING: failed to shutdown tracing: %v", err)
			}
		}()
		log.Printf("[qubectalk] tracing enabled (endpoint: %s)", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}

	dsn := resolveSecret(cfg.Database.DSN, secrets.DatabaseDSN)
	database, err := db.Connect(ctx, db.Config{
		DSN:             dsn,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("database connection: %w", err)
	}
	defer database.Close()
	log.Printf("[qubectalk] connected to Postgres")

	if err := database.RunMigrations(ctx); err != nil {
		return fmt.Errorf("database migrations: %w", err)
	}

	programStore := store.New(database)

	eventBus := events.NewInMemoryBus()
	if cfg.Broker.EventsBackend != "" && cfg.Broker.EventsBackend != "memory" {
		log.Printf("[qubectalk] WARNING: events backend %q requires its build tag, falling back to in-memory bus", cfg.Broker.EventsBackend)
	}

	if cfg.Features.EnableAuditLog {
		auditStore, err := events.NewPostgresEventStore(database.DB, eventBus)
		if err != nil {
			log.Printf("[qubectalk] WARNING: audit event log disabled: %v", err)
		} else if err := eventBus.Subscribe(ctx, "*", func(e events.Event) {
			if err := auditStore.Append(context.Background(), e); err != nil {
				logger.Warn("audit log append failed", "event_type", e.Type, "error", err)
			}
		}); err != nil {
			log.Printf("[qubectalk] WARNING: audit event log subscription failed: %v", err)
		} else {
			log.Printf("[qubectalk] audit event log enabled (event_store table)")
		}
	}

	jwtSecret := resolveSecret(cfg.Auth.JWTSecret, secrets.JWTSigningKey)
	authMiddleware := auth.New(auth.Config{
		APIKey:      cfg.Auth.APIKey,
		JWTSecret:   jwtSecret,
		RequireAuth: cfg.IsProduction(),
		Logger:      logger,
	})

	limiter := ratelimit.NewRateLimiter(ratelimit.Config{
		RequestsPerSecond: cfg.Broker.RatelimitRPS,
		BurstSize:         cfg.Broker.RatelimitBurst,
		CleanupInterval:   ratelimit.DefaultConfig().CleanupInterval,
		BucketTTL:         ratelimit.DefaultConfig().BucketTTL,
	})
	defer limiter.Close()

	registry := prometheus.NewRegistry()
	metricsExporter := observability.NewPrometheusExporter(registry)
	metricsHandler := observability.NewMetricsHandlerWithRegistry(registry)

	healthChecker := observability.NewHealthChecker(logger)
	healthChecker.RegisterCheck("database", func(checkCtx context.Context) observability.CheckResult {
		if err := database.HealthCheck(checkCtx); err != nil {
			return observability.CheckResult{Name: "database", Status: observability.HealthStatusUnhealthy.String(), Message: err.Error()}
		}
		return observability.CheckResult{Name: "database", Status: observability.HealthStatusHealthy.String()}
	})
	healthHandler := observability.NewHealthCheckHandler(healthChecker, logger)
	statusHandler := observability.NewStatusHandler(healthChecker, metricsExporter, logger)
	statusHandler.SetServiceInfo("service", "qubectalk-api")

	trialPool := worker.NewTrialPool(worker.TrialPoolConfig{PoolSize: cfg.Simulation.TrialWorkerCount}, logger)

	router := apihttp.NewRouter(apihttp.Deps{
		Store:           programStore,
		Auth:            authMiddleware,
		Limiter:         limiter,
		TrialPool:       trialPool,
		Bus:             eventBus,
		Metrics:         metricsExporter,
		Health:          healthHandler,
		Status:          statusHandler,
		MetricsHTTP:     metricsHandler,
		MaxTrialsPerRun: cfg.Simulation.MaxTrialsPerRun,
		RunTimeout:      cfg.Simulation.RunTimeout,
		Logger:          logger,
	})

	addr := cfg.ServerAddress()
	log.Printf("[qubectalk] starting api server on %s (env=%s)", addr, cfg.Server.Env)
	if cfg.IsProduction() {
		log.Printf("[qubectalk] authentication REQUIRED")
	} else {
		log.Printf("[qubectalk] authentication OPTIONAL outside production (set QUBECTALK_JWT_SECRET/QUBECTALK_API_KEY and run with QUBECTALK_APP_ENV=production to enforce)")
	}

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}

	return nil
}
