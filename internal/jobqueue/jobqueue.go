// Package jobqueue provides a PostgreSQL-backed asynchronous job queue
// that cmd/worker drains, running simulation-run jobs outside any HTTP
// request. Nothing in this repository enqueues jobs; the HTTP API runs
// simulations synchronously. Jobs are claimed with
// `FOR UPDATE SKIP LOCKED` so multiple worker processes can drain the
// same queue without double-processing a row.
package jobqueue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of work a Job performs.
type Type string

const (
	// TypeSimulationRun executes a queued simulation_runs row.
	TypeSimulationRun Type = "simulation.run"

	// TypeIntensityRefresh reloads the default intensity reference table.
	TypeIntensityRefresh Type = "intensity.refresh"

	// TypeRunGC prunes completed simulation runs and their rows past a
	// retention window.
	TypeRunGC Type = "run.gc"
)

// Status represents the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is a unit of asynchronous work.
type Job struct {
	ID          uuid.UUID
	Type        Type
	Status      Status
	Payload     map[string]any
	Result      map[string]any
	Error       string
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ScheduledAt time.Time
	CompletedAt *time.Time
}

// Handler processes a Job. Implementations should respect ctx cancellation.
type Handler func(ctx context.Context, job *Job) error

// Queue defines the persistence operations a worker pool needs.
type Queue interface {
	Enqueue(ctx context.Context, job *Job) error
	Dequeue(ctx context.Context, jobType Type) (*Job, error)
	Complete(ctx context.Context, jobID uuid.UUID, result map[string]any) error
	Fail(ctx context.Context, jobID uuid.UUID, err error) error
	Retry(ctx context.Context, jobID uuid.UUID, delay time.Duration) error
	GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error)
}

// NewJob constructs a pending Job of the given type.
func NewJob(jobType Type, payload map[string]any) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		Type:        jobType,
		Status:      StatusPending,
		Payload:     payload,
		Attempts:    0,
		MaxAttempts: 5,
		CreatedAt:   now,
		UpdatedAt:   now,
		ScheduledAt: now,
	}
}

// =============================================================================
// PostgreSQL-backed queue
// =============================================================================

// PostgresQueue implements Queue against the `jobs` table created by
// internal/db's embedded schema.
type PostgresQueue struct {
	db *sql.DB
}

// NewPostgresQueue wraps an already-migrated *sql.DB.
func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

func (q *PostgresQueue) Enqueue(ctx context.Context, job *Job) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal payload: %w", err)
	}

	scheduledAt := job.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, payload, attempts, max_attempts, created_at, updated_at, scheduled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, job.ID, string(job.Type), string(job.Status), payloadJSON, job.Attempts, job.MaxAttempts,
		job.CreatedAt, job.UpdatedAt, scheduledAt)
	if err != nil {
		return fmt.Errorf("jobqueue: enqueue: %w", err)
	}
	return nil
}

// Dequeue claims the oldest pending job of jobType, or returns (nil, nil)
// if none are ready.
func (q *PostgresQueue) Dequeue(ctx context.Context, jobType Type) (*Job, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: begin tx: %w", err)
	}
	defer tx.Rollback()

	var job Job
	var payloadJSON, resultJSON sql.NullString
	var errorStr string
	var completedAt sql.NullTime
	var status string

	err = tx.QueryRowContext(ctx, `
		SELECT id, status, payload, result, error, attempts, max_attempts,
			created_at, updated_at, scheduled_at, completed_at
		FROM jobs
		WHERE type = $1 AND status = $2 AND scheduled_at <= now()
		ORDER BY created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, string(jobType), string(StatusPending)).Scan(
		&job.ID, &status, &payloadJSON, &resultJSON, &errorStr,
		&job.Attempts, &job.MaxAttempts, &job.CreatedAt, &job.UpdatedAt, &job.ScheduledAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobqueue: dequeue: %w", err)
	}

	job.Type = jobType
	job.Error = errorStr
	if payloadJSON.Valid {
		_ = json.Unmarshal([]byte(payloadJSON.String), &job.Payload)
	}
	if resultJSON.Valid {
		_ = json.Unmarshal([]byte(resultJSON.String), &job.Result)
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE jobs SET status = $1, attempts = attempts + 1, updated_at = $2 WHERE id = $3
	`, string(StatusRunning), now, job.ID); err != nil {
		return nil, fmt.Errorf("jobqueue: claim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("jobqueue: commit claim: %w", err)
	}

	job.Attempts++
	job.Status = StatusRunning
	job.UpdatedAt = now
	return &job, nil
}

func (q *PostgresQueue) Complete(ctx context.Context, jobID uuid.UUID, result map[string]any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal result: %w", err)
	}
	now := time.Now().UTC()
	_, err = q.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, result = $2, updated_at = $3, completed_at = $4 WHERE id = $5
	`, string(StatusCompleted), resultJSON, now, now, jobID)
	if err != nil {
		return fmt.Errorf("jobqueue: complete: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Fail(ctx context.Context, jobID uuid.UUID, jobErr error) error {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, error = $2, updated_at = $3, completed_at = $4 WHERE id = $5
	`, string(StatusFailed), jobErr.Error(), now, now, jobID)
	if err != nil {
		return fmt.Errorf("jobqueue: fail: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Retry(ctx context.Context, jobID uuid.UUID, delay time.Duration) error {
	now := time.Now().UTC()
	_, err := q.db.ExecContext(ctx, `
		UPDATE jobs SET status = $1, scheduled_at = $2, updated_at = $3 WHERE id = $4
	`, string(StatusPending), now.Add(delay), now, jobID)
	if err != nil {
		return fmt.Errorf("jobqueue: retry: %w", err)
	}
	return nil
}

func (q *PostgresQueue) GetJob(ctx context.Context, jobID uuid.UUID) (*Job, error) {
	var job Job
	var payloadJSON, resultJSON sql.NullString
	var errorStr string
	var completedAt sql.NullTime
	var jobType, status string

	err := q.db.QueryRowContext(ctx, `
		SELECT id, type, status, payload, result, error, attempts, max_attempts,
			created_at, updated_at, scheduled_at, completed_at
		FROM jobs WHERE id = $1
	`, jobID).Scan(
		&job.ID, &jobType, &status, &payloadJSON, &resultJSON, &errorStr,
		&job.Attempts, &job.MaxAttempts, &job.CreatedAt, &job.UpdatedAt, &job.ScheduledAt, &completedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("jobqueue: get job: %w", err)
	}

	job.Type = Type(jobType)
	job.Status = Status(status)
	job.Error = errorStr
	if payloadJSON.Valid {
		_ = json.Unmarshal([]byte(payloadJSON.String), &job.Payload)
	}
	if resultJSON.Valid {
		_ = json.Unmarshal([]byte(resultJSON.String), &job.Result)
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}
	return &job, nil
}

var _ Queue = (*PostgresQueue)(nil)

// calculateRetryDelay mirrors a standard exponential backoff: 1, 2, 4,
// 8, 16 minutes, capped at 30.
func calculateRetryDelay(attempts int) time.Duration {
	delay := time.Duration(1<<uint(attempts)) * time.Minute
	if delay > 30*time.Minute {
		delay = 30 * time.Minute
	}
	return delay
}
