package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter holds the counters/histograms served on the /metrics
// endpoint (StatusHandler reports only liveness/readiness): compiles,
// compile errors by engine.Kind, trials run, trial duration, and rows
// emitted.
type PrometheusExporter struct {
	CompilesTotal          prometheus.Counter
	CompileErrorsByKind    *prometheus.CounterVec
	TrialsTotal            prometheus.Counter
	TrialFailuresTotal     prometheus.Counter
	TrialDurationSeconds   prometheus.Histogram
	RowsEmittedTotal       prometheus.Counter
}

// NewPrometheusExporter builds and registers the engine's metric
// collectors against registry.
func NewPrometheusExporter(registry *prometheus.Registry) *PrometheusExporter {
	pe := &PrometheusExporter{
		CompilesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qubectalk_compiles_total",
			Help: "Total number of program compile attempts.",
		}),
		CompileErrorsByKind: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qubectalk_compile_errors_total",
			Help: "Compile failures, partitioned by engine error kind.",
		}, []string{"kind"}),
		TrialsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qubectalk_trials_total",
			Help: "Total number of simulation trials executed.",
		}),
		TrialFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qubectalk_trial_failures_total",
			Help: "Total number of trials that aborted with a fatal engine error.",
		}),
		TrialDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "qubectalk_trial_duration_seconds",
			Help:    "Wall-clock duration of a single trial.",
			Buckets: prometheus.DefBuckets,
		}),
		RowsEmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qubectalk_rows_emitted_total",
			Help: "Total number of result rows recorded across all trials.",
		}),
	}

	if registry != nil {
		registry.MustRegister(
			pe.CompilesTotal,
			pe.CompileErrorsByKind,
			pe.TrialsTotal,
			pe.TrialFailuresTotal,
			pe.TrialDurationSeconds,
			pe.RowsEmittedTotal,
		)
	}

	return pe
}

// RecordCompile records the outcome of one compile attempt. errKind is
// the empty string on success.
func (pe *PrometheusExporter) RecordCompile(errKind string) {
	pe.CompilesTotal.Inc()
	if errKind != "" {
		pe.CompileErrorsByKind.WithLabelValues(errKind).Inc()
	}
}

// RecordTrial records one trial's duration and row count, and whether it
// aborted with a fatal error.
func (pe *PrometheusExporter) RecordTrial(duration time.Duration, rows int, failed bool) {
	pe.TrialsTotal.Inc()
	pe.TrialDurationSeconds.Observe(duration.Seconds())
	pe.RowsEmittedTotal.Add(float64(rows))
	if failed {
		pe.TrialFailuresTotal.Inc()
	}
}
