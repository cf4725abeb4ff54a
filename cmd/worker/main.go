// Command worker runs the background job scheduler: periodic intensity
// table refresh, completed-run garbage collection, and an alert heartbeat.
// It also drains the async simulation-run queue unless
// QUBECTALK_ENABLE_ASYNC_RUN is false (it defaults to true), executing
// any simulation-run jobs found there.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/example/qubectalk/internal/config"
	"github.com/example/qubectalk/internal/db"
	"github.com/example/qubectalk/internal/events"
	"github.com/example/qubectalk/internal/intensity"
	"github.com/example/qubectalk/internal/jobqueue"
	"github.com/example/qubectalk/internal/logging"
	"github.com/example/qubectalk/internal/qubectalk/compiler"
	"github.com/example/qubectalk/internal/qubectalk/parser"
	"github.com/example/qubectalk/internal/qubectalk/simulate"
	"github.com/example/qubectalk/internal/store"
	"github.com/example/qubectalk/internal/worker"
)

func main() {
	logger := logging.New(logging.Config{
		Level:  slog.LevelInfo,
		Format: logging.FormatText,
		Output: os.Stdout,
	})

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	if err := initMetricsProvider(logger); err != nil {
		logger.Warn("metrics exporter not initialized", "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbConn, err := db.Connect(ctx, db.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	if err := dbConn.RunMigrations(ctx); err != nil {
		logger.Error("database migrations failed", "error", err)
		os.Exit(1)
	}

	runStore := store.New(dbConn)

	eventBus := events.NewInMemoryBus()
	if cfg.Broker.EventsBackend != "" && cfg.Broker.EventsBackend != "memory" {
		logger.Warn("events backend requires a matching build tag, falling back to in-memory bus",
			"requested", cfg.Broker.EventsBackend)
	}

	if cfg.Features.EnableAuditLog {
		auditStore, err := events.NewPostgresEventStore(dbConn.DB, eventBus)
		if err != nil {
			logger.Warn("audit event log disabled", "error", err)
		} else if err := eventBus.Subscribe(ctx, "*", func(e events.Event) {
			if err := auditStore.Append(context.Background(), e); err != nil {
				logger.Warn("audit log append failed", "event_type", e.Type, "error", err)
			}
		}); err != nil {
			logger.Warn("audit event log subscription failed", "error", err)
		} else {
			logger.Info("audit event log enabled", "table", "event_store")
		}
	}

	intensityStore := intensity.NewMemoryStore()
	refresher := intensity.NewRefresher(intensity.RefresherConfig{
		Store:    intensityStore,
		Interval: cfg.Simulation.IntensityRefreshInterval,
		Logger:   logger,
	})

	workerCfg := worker.FromEnv()
	metrics := worker.NewMetricsRecorder()
	alerts := worker.NewAlertQueue(eventBus, logger, 256)
	alerts.Start(ctx)

	logger.Info("worker starting",
		"intensity_refresh_every", workerCfg.IntensityRefreshInterval.String(),
		"run_gc_every", workerCfg.RunGCInterval.String(),
		"alert_every", workerCfg.AlertInterval.String(),
	)

	runner := worker.NewRunner(logger, []worker.JobSpec{
		{
			Job:            worker.IntensityRefreshJob{Refresher: refresher, Bus: eventBus, Logger: logger},
			Every:          workerCfg.IntensityRefreshInterval,
			Timeout:        workerCfg.DefaultTimeout,
			RetryLimit:     workerCfg.DefaultRetryLimit,
			BackoffInitial: workerCfg.DefaultBackoff,
			BackoffMax:     workerCfg.DefaultBackoffMax,
			Jitter:         workerCfg.DefaultJitter,
		},
		{
			Job:            worker.RunGCJob{Pruner: runStore, Bus: eventBus, Logger: logger},
			Every:          workerCfg.RunGCInterval,
			Timeout:        workerCfg.DefaultTimeout,
			RetryLimit:     workerCfg.DefaultRetryLimit,
			BackoffInitial: workerCfg.DefaultBackoff,
			BackoffMax:     workerCfg.DefaultBackoffMax,
			Jitter:         workerCfg.DefaultJitter,
		},
		{
			Job:            worker.AlertJob{Bus: eventBus, Logger: logger},
			Every:          workerCfg.AlertInterval,
			Timeout:        15 * time.Second,
			RetryLimit:     1,
			BackoffInitial: 1 * time.Second,
			BackoffMax:     5 * time.Second,
			Jitter:         workerCfg.DefaultJitter,
		},
	}, metrics, alerts)

	runner.Start(ctx)

	var jobWorker *jobqueue.Worker
	if cfg.Features.EnableAsyncRun {
		queue := jobqueue.NewPostgresQueue(dbConn.DB)
		jobWorker = jobqueue.NewWorker(queue, logger)
		jobWorker.RegisterHandler(jobqueue.TypeSimulationRun, simulationRunHandler(runStore, logger))

		pollCfg := jobqueue.DefaultPollConfig()
		pollCfg.PollInterval = cfg.Simulation.JobPollInterval
		if err := jobWorker.Start(ctx, pollCfg); err != nil {
			logger.Error("job queue worker failed to start", "error", err)
		} else {
			logger.Info("async simulation-run queue worker started", "poll_interval", pollCfg.PollInterval)
		}
	}

	runner.Wait()
	alerts.Wait()
	if jobWorker != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := jobWorker.Stop(shutdownCtx); err != nil {
			logger.Warn("job queue worker stop error", "error", err)
		}
	}
	logger.Info("worker shutdown complete")
}

// simulationRunHandler recompiles the run's source program, executes every
// simulation, and records the outcome — the async counterpart to the HTTP
// API's synchronous POST /v1/programs/{id}/runs handler, for run requests
// too large to finish inside one HTTP request.
func simulationRunHandler(runStore store.Store, logger *slog.Logger) jobqueue.Handler {
	return func(ctx context.Context, job *jobqueue.Job) error {
		runIDRaw, _ := job.Payload["run_id"].(string)
		programIDRaw, _ := job.Payload["program_id"].(string)
		runID, programID := parseUUID(runIDRaw), parseUUID(programIDRaw)

		prog, err := runStore.GetProgram(ctx, programID)
		if err != nil {
			return err
		}

		ast, syntaxErrs := parser.Parse(prog.Source)
		if len(syntaxErrs) > 0 {
			return runStore.MarkRunFailed(ctx, runID, "stored program no longer compiles")
		}
		compiled, err := compiler.Compile(ast)
		if err != nil {
			return runStore.MarkRunFailed(ctx, runID, err.Error())
		}

		if err := runStore.MarkRunStarted(ctx, runID); err != nil {
			logger.Warn("mark run started", "run", runIDRaw, "error", err)
		}

		results := simulate.Run(compiled, simulate.Options{})
		return finishRun(ctx, runStore, runID, results)
	}
}

// finishRun persists every trial's rows and sets the run's terminal
// status, matching internal/api/http's synchronous executeRun path.
func finishRun(ctx context.Context, runStore store.Store, runID uuid.UUID, results []simulate.SimulationResult) error {
	var trialErr error
	for _, sr := range results {
		for _, tr := range sr.Trials {
			if err := runStore.AppendRows(ctx, runID, tr.Rows); err != nil {
				return err
			}
			if tr.Err != nil && trialErr == nil {
				trialErr = tr.Err
			}
		}
	}
	if trialErr != nil {
		return runStore.MarkRunFailed(ctx, runID, trialErr.Error())
	}
	return runStore.MarkRunCompleted(ctx, runID)
}

func parseUUID(raw string) uuid.UUID {
	id, _ := uuid.Parse(raw)
	return id
}

// initMetricsProvider configures an OTLP metrics exporter if OTEL_EXPORTER_OTLP_ENDPOINT is set.
func initMetricsProvider(logger *slog.Logger) error {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exporter, err := otlpmetrichttp.New(ctx,
		otlpmetrichttp.WithEndpoint(stripScheme(endpoint)),
		otlpmetrichttp.WithInsecure(),
	)
	if err != nil {
		return err
	}

	res, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName("qubectalk-worker"),
			semconv.DeploymentEnvironment(os.Getenv("APP_ENV")),
		),
	)
	if err != nil {
		return err
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter)),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	logger.Info("metrics exporter initialized", "endpoint", endpoint)
	return nil
}

func stripScheme(endpoint string) string {
	if strings.HasPrefix(endpoint, "http://") {
		return strings.TrimPrefix(endpoint, "http://")
	}
	if strings.HasPrefix(endpoint, "https://") {
		return strings.TrimPrefix(endpoint, "https://")
	}
	return endpoint
}
