// Package store persists compiled programs, simulation run requests, and
// per-trial engine result rows in PostgreSQL via internal/db. It is the
// durable counterpart to the in-memory Program/TrialResult types returned
// by the qubectalk package, letting the hosted API answer
// GET /v1/runs/{id} after the request that started the run has finished.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/example/qubectalk/internal/db"
	"github.com/example/qubectalk/internal/qubectalk/result"
)

// ErrNotFound is returned when a program or run lookup finds no row.
var ErrNotFound = errors.New("store: not found")

// RunStatus mirrors the lifecycle of a simulation_runs row.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Program is the persisted record of a compiled program.
type Program struct {
	ID          uuid.UUID
	Source      string
	StanzaNames []string
	CreatedBy   string
	CompiledAt  time.Time
	CreatedAt   time.Time
}

// Run is the persisted record of a simulation run request.
type Run struct {
	ID               uuid.UUID
	ProgramID        uuid.UUID
	Status           RunStatus
	Seed             *int64
	RequestedTrials  int
	ErrorMessage     string
	CreatedAt        time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
}

// Store is the persistence boundary the API and worker depend on.
type Store interface {
	CreateProgram(ctx context.Context, p Program) error
	GetProgram(ctx context.Context, id uuid.UUID) (Program, error)

	CreateRun(ctx context.Context, r Run) error
	MarkRunStarted(ctx context.Context, id uuid.UUID) error
	MarkRunCompleted(ctx context.Context, id uuid.UUID) error
	MarkRunFailed(ctx context.Context, id uuid.UUID, errMsg string) error
	GetRun(ctx context.Context, id uuid.UUID) (Run, error)

	AppendRows(ctx context.Context, runID uuid.UUID, rows []result.Row) error
	ListRows(ctx context.Context, runID uuid.UUID) ([]result.Row, error)

	PruneCompletedBefore(ctx context.Context, before time.Time) (int64, error)
}

// PostgresStore implements Store on top of internal/db.
type PostgresStore struct {
	db *db.DB
}

// New wraps an already-connected *db.DB.
func New(conn *db.DB) *PostgresStore {
	return &PostgresStore{db: conn}
}

func (s *PostgresStore) CreateProgram(ctx context.Context, p Program) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO programs (id, source, stanza_names, compiled_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, p.ID, p.Source, pqStringArray(p.StanzaNames), p.CompiledAt, p.CreatedBy, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create program: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProgram(ctx context.Context, id uuid.UUID) (Program, error) {
	var p Program
	var stanzas pqStringArrayScanner
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source, stanza_names, compiled_at, created_by, created_at
		FROM programs WHERE id = $1
	`, id).Scan(&p.ID, &p.Source, &stanzas, &p.CompiledAt, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Program{}, ErrNotFound
	}
	if err != nil {
		return Program{}, fmt.Errorf("store: get program: %w", err)
	}
	p.StanzaNames = stanzas.values
	return p, nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, r Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO simulation_runs (id, program_id, status, seed, requested_trials, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.ProgramID, string(r.Status), r.Seed, r.RequestedTrials, r.ErrorMessage, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRunStarted(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE simulation_runs SET status = $2, started_at = now() WHERE id = $1
	`, id, string(RunRunning))
	if err != nil {
		return fmt.Errorf("store: mark run started: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRunCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE simulation_runs SET status = $2, completed_at = now() WHERE id = $1
	`, id, string(RunCompleted))
	if err != nil {
		return fmt.Errorf("store: mark run completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkRunFailed(ctx context.Context, id uuid.UUID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE simulation_runs SET status = $2, error_message = $3, completed_at = now() WHERE id = $1
	`, id, string(RunFailed), errMsg)
	if err != nil {
		return fmt.Errorf("store: mark run failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (Run, error) {
	var r Run
	var seed sql.NullInt64
	var startedAt, completedAt sql.NullTime
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, program_id, status, seed, requested_trials, error_message, created_at, started_at, completed_at
		FROM simulation_runs WHERE id = $1
	`, id).Scan(&r.ID, &r.ProgramID, &status, &seed, &r.RequestedTrials, &r.ErrorMessage, &r.CreatedAt, &startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: get run: %w", err)
	}
	r.Status = RunStatus(status)
	if seed.Valid {
		v := seed.Int64
		r.Seed = &v
	}
	if startedAt.Valid {
		v := startedAt.Time
		r.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		r.CompletedAt = &v
	}
	return r, nil
}

// AppendRows persists a batch of result rows within a single transaction,
// following the teacher's WithTx helper for atomic multi-row writes.
func (s *PostgresStore) AppendRows(ctx context.Context, runID uuid.UUID, rows []result.Row) error {
	if len(rows) == 0 {
		return nil
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO engine_result_rows (
				run_id, scenario_name, trial_number, application, substance, year,
				manufacture, manufacture_units, import_value, import_units, recycle, recycle_units,
				domestic_consumption, domestic_consumption_units,
				import_consumption, import_consumption_units,
				recycle_consumption, recycle_consumption_units,
				population, population_units, population_new, population_new_units,
				recharge_emissions, recharge_emissions_units,
				eol_emissions, eol_emissions_units,
				energy_consumption, energy_consumption_units
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
		`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, r := range rows {
			_, err := stmt.ExecContext(ctx,
				runID, r.ScenarioName, r.TrialNumber, r.Application, r.Substance, r.Year,
				r.Manufacture, r.ManufactureUnits, r.Import, r.ImportUnits, r.Recycle, r.RecycleUnits,
				r.DomesticConsumption, r.DomesticConsumptionUnits,
				r.ImportConsumption, r.ImportConsumptionUnits,
				r.RecycleConsumption, r.RecycleConsumptionUnits,
				r.Population, r.PopulationUnits, r.PopulationNew, r.PopulationNewUnits,
				r.RechargeEmissions, r.RechargeEmissionsUnits,
				r.EolEmissions, r.EolEmissionsUnits,
				r.EnergyConsumption, r.EnergyConsumptionUnits,
			)
			if err != nil {
				return fmt.Errorf("insert row: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListRows(ctx context.Context, runID uuid.UUID) ([]result.Row, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario_name, trial_number, application, substance, year,
			manufacture, manufacture_units, import_value, import_units, recycle, recycle_units,
			domestic_consumption, domestic_consumption_units,
			import_consumption, import_consumption_units,
			recycle_consumption, recycle_consumption_units,
			population, population_units, population_new, population_new_units,
			recharge_emissions, recharge_emissions_units,
			eol_emissions, eol_emissions_units,
			energy_consumption, energy_consumption_units
		FROM engine_result_rows WHERE run_id = $1
		ORDER BY trial_number, year, application, substance
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list rows: %w", err)
	}
	defer rows.Close()

	var out []result.Row
	for rows.Next() {
		var r result.Row
		if err := rows.Scan(
			&r.ScenarioName, &r.TrialNumber, &r.Application, &r.Substance, &r.Year,
			&r.Manufacture, &r.ManufactureUnits, &r.Import, &r.ImportUnits, &r.Recycle, &r.RecycleUnits,
			&r.DomesticConsumption, &r.DomesticConsumptionUnits,
			&r.ImportConsumption, &r.ImportConsumptionUnits,
			&r.RecycleConsumption, &r.RecycleConsumptionUnits,
			&r.Population, &r.PopulationUnits, &r.PopulationNew, &r.PopulationNewUnits,
			&r.RechargeEmissions, &r.RechargeEmissionsUnits,
			&r.EolEmissions, &r.EolEmissionsUnits,
			&r.EnergyConsumption, &r.EnergyConsumptionUnits,
		); err != nil {
			return nil, fmt.Errorf("store: scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// PruneCompletedBefore deletes simulation_runs rows that finished before
// cutoff, returning the number removed. engine_result_rows cascades via
// its foreign key.
func (s *PostgresStore) PruneCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM simulation_runs
		WHERE status IN ($1, $2) AND completed_at IS NOT NULL AND completed_at < $3
	`, string(RunCompleted), string(RunFailed), cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: prune runs: %w", err)
	}
	return res.RowsAffected()
}

var _ Store = (*PostgresStore)(nil)

// pqStringArray renders a Go string slice as a Postgres text[] literal,
// avoiding a second driver-specific array dependency for this one write path.
func pqStringArray(values []string) string {
	if len(values) == 0 {
		return "{}"
	}
	out := "{"
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += `"` + escapeArrayElement(v) + `"`
	}
	return out + "}"
}

func escapeArrayElement(v string) string {
	out := make([]byte, 0, len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '"' || c == '\\' {
			out = append(out, '\\')
		}
		out = append(out, c)
	}
	return string(out)
}

// pqStringArrayScanner scans a Postgres text[] column into a []string
// without requiring the lib/pq array helper on this read path.
type pqStringArrayScanner struct {
	values []string
}

func (s *pqStringArrayScanner) Scan(src any) error {
	if src == nil {
		s.values = nil
		return nil
	}
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("store: unsupported array scan type %T", src)
	}
	s.values = parsePostgresTextArray(raw)
	return nil
}

func parsePostgresTextArray(raw string) []string {
	raw = trimBraces(raw)
	if raw == "" {
		return nil
	}
	var out []string
	var cur []byte
	inQuotes := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			cur = append(cur, c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			out = append(out, string(cur))
			cur = nil
		default:
			cur = append(cur, c)
		}
	}
	out = append(out, string(cur))
	return out
}

func trimBraces(raw string) string {
	if len(raw) >= 2 && raw[0] == '{' && raw[len(raw)-1] == '}' {
		return raw[1 : len(raw)-1]
	}
	return raw
}
