package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/qubectalk/internal/events"
	"github.com/example/qubectalk/internal/intensity"
)

// IntensityRefreshJob reloads the default ghgIntensity/energyIntensity
// reference table on a schedule, the refrigerant-domain analogue of the
// periodic emission-factor sync a climate platform would run.
type IntensityRefreshJob struct {
	Refresher *intensity.Refresher
	Bus       events.Bus
	Logger    *slog.Logger
}

func (j IntensityRefreshJob) Name() string { return "intensity_refresh" }

func (j IntensityRefreshJob) Run(ctx context.Context) error {
	if j.Refresher == nil {
		return fmt.Errorf("intensity refresher is nil")
	}

	if err := j.Refresher.RefreshOnce(ctx); err != nil {
		if j.Bus != nil {
			_ = j.Bus.Publish(ctx, events.Event{
				Type:      events.EventIntensityRefreshError,
				Timestamp: time.Now().UTC(),
				Payload:   map[string]string{"error": err.Error()},
			})
		}
		return fmt.Errorf("refresh intensity table: %w", err)
	}

	if j.Bus != nil {
		_ = j.Bus.Publish(ctx, events.Event{
			Type:      events.EventIntensityRefreshed,
			Timestamp: time.Now().UTC(),
			Payload:   map[string]string{"status": "ok"},
		})
	}
	if j.Logger != nil {
		j.Logger.Info("intensity reference table refreshed")
	}
	return nil
}

// RunPruner deletes simulation runs (and their result rows, via the
// foreign key's ON DELETE CASCADE) older than Retention, keeping the
// engine_result_rows table bounded for long-running deployments.
type RunPruner interface {
	PruneCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}

// RunGCJob prunes old completed simulation runs.
type RunGCJob struct {
	Pruner    RunPruner
	Retention time.Duration
	Bus       events.Bus
	Logger    *slog.Logger
}

func (j RunGCJob) Name() string { return "run_gc" }

func (j RunGCJob) Run(ctx context.Context) error {
	if j.Pruner == nil {
		return fmt.Errorf("run pruner is nil")
	}

	retention := j.Retention
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	cutoff := time.Now().UTC().Add(-retention)
	n, err := j.Pruner.PruneCompletedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune completed runs: %w", err)
	}

	if j.Logger != nil {
		j.Logger.Info("pruned completed simulation runs", "count", n, "cutoff", cutoff)
	}
	return nil
}

// AlertJob publishes a "worker.heartbeat" event on each run; it does not
// scan for failures (failed jobs raise alerts through AlertQueue).
type AlertJob struct {
	Bus    events.Bus
	Logger *slog.Logger
}

func (j AlertJob) Name() string { return "alerts" }

func (j AlertJob) Run(ctx context.Context) error {
	// Emit a heartbeat event to show the alerting path is wired.
	if j.Bus != nil {
		_ = j.Bus.Publish(ctx, events.Event{
			Type:      "worker.heartbeat",
			Timestamp: time.Now().UTC(),
			Payload:   map[string]string{"service": "worker", "status": "ok"},
		})
	}
	if j.Logger != nil {
		j.Logger.Info("alert heartbeat emitted")
	}
	return nil
}
