package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/qubectalk/internal/events"
)

// Alert is a single operator-facing notice raised by a failed job.
type Alert struct {
	Time     time.Time
	Job      string
	Severity string
	Message  string
	Error    string
}

// AlertQueue buffers Alerts raised by Runner and republishes them onto an
// events.Bus, decoupling job failure handling from whatever is actually
// subscribed to alerts (a log sink today, a paging integration later).
type AlertQueue struct {
	bus    events.Bus
	logger *slog.Logger
	ch     chan Alert
	done   chan struct{}
}

// NewAlertQueue creates an AlertQueue with the given buffer size. A full
// buffer drops the newly raised alert rather than blocking the caller
// that raised it.
func NewAlertQueue(bus events.Bus, logger *slog.Logger, bufferSize int) *AlertQueue {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &AlertQueue{
		bus:    bus,
		logger: logger.With("component", "alert-queue"),
		ch:     make(chan Alert, bufferSize),
		done:   make(chan struct{}),
	}
}

// Publish enqueues an alert. Non-blocking: if the buffer is full, the
// alert is logged and dropped rather than stalling the job runner.
func (q *AlertQueue) Publish(a Alert) {
	select {
	case q.ch <- a:
	default:
		q.logger.Warn("alert queue full, dropping alert", "job", a.Job, "message", a.Message)
	}
}

// Start drains the queue until ctx is cancelled, republishing each alert
// as a "worker.alert" event.
func (q *AlertQueue) Start(ctx context.Context) {
	go func() {
		defer close(q.done)
		for {
			select {
			case <-ctx.Done():
				return
			case a := <-q.ch:
				q.logger.Warn("job alert", "job", a.Job, "severity", a.Severity, "message", a.Message, "error", a.Error)
				if q.bus != nil {
					_ = q.bus.Publish(ctx, events.Event{
						Type:      "worker.alert",
						Timestamp: a.Time,
						Payload: map[string]string{
							"job":      a.Job,
							"severity": a.Severity,
							"message":  a.Message,
							"error":    a.Error,
						},
					})
				}
			}
		}
	}()
}

// Wait blocks until the drain loop started by Start has exited.
func (q *AlertQueue) Wait() {
	<-q.done
}
