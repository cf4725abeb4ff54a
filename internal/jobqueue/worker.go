package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Worker polls a Queue and dispatches jobs to registered Handlers. It is
// the queue-draining counterpart to the per-run trial pool in
// internal/worker: that pool parallelizes the trials *within* one job,
// this type parallelizes *across* jobs.
type Worker struct {
	queue    Queue
	handlers map[Type]Handler
	logger   *slog.Logger

	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// PollConfig controls worker pool concurrency and polling cadence.
type PollConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// DefaultPollConfig returns sensible defaults.
func DefaultPollConfig() PollConfig {
	return PollConfig{Concurrency: 4, PollInterval: time.Second}
}

// NewWorker creates a Worker bound to queue.
func NewWorker(queue Queue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		handlers: make(map[Type]Handler),
		logger:   logger.With("component", "jobqueue-worker"),
	}
}

// RegisterHandler binds a Handler to a job Type.
func (w *Worker) RegisterHandler(jobType Type, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[jobType] = handler
}

// Start launches cfg.Concurrency polling goroutines.
func (w *Worker) Start(ctx context.Context, cfg PollConfig) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("jobqueue: worker already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultPollConfig().Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollConfig().PollInterval
	}

	w.logger.Info("starting job worker pool", "concurrency", cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w.run(ctx, id, cfg.PollInterval)
		}(i)
	}

	go func() {
		wg.Wait()
		close(w.doneCh)
	}()

	return nil
}

// Stop signals all polling goroutines to exit and waits for them, or for
// ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
	case <-ctx.Done():
		return fmt.Errorf("jobqueue: timed out waiting for workers to stop")
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *Worker) run(ctx context.Context, id int, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	w.mu.RLock()
	stopCh := w.stopCh
	w.mu.RUnlock()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processNext(ctx, id)
		}
	}
}

func (w *Worker) processNext(ctx context.Context, workerID int) {
	w.mu.RLock()
	types := make([]Type, 0, len(w.handlers))
	for t := range w.handlers {
		types = append(types, t)
	}
	w.mu.RUnlock()

	for _, jobType := range types {
		job, err := w.queue.Dequeue(ctx, jobType)
		if err != nil || job == nil {
			continue
		}
		w.processJob(ctx, workerID, job)
		return
	}
}

func (w *Worker) processJob(ctx context.Context, workerID int, job *Job) {
	w.logger.Info("processing job", "worker_id", workerID, "job_id", job.ID, "type", job.Type, "attempt", job.Attempts)

	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()

	if !ok {
		_ = w.queue.Fail(ctx, job.ID, fmt.Errorf("no handler registered for job type %s", job.Type))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	if err := handler(jobCtx, job); err != nil {
		w.logger.Error("job failed", "job_id", job.ID, "error", err)
		if job.Attempts < job.MaxAttempts {
			delay := calculateRetryDelay(job.Attempts)
			_ = w.queue.Retry(ctx, job.ID, delay)
			return
		}
		_ = w.queue.Fail(ctx, job.ID, err)
		return
	}

	_ = w.queue.Complete(ctx, job.ID, job.Result)
	w.logger.Info("job completed", "job_id", job.ID)
}
