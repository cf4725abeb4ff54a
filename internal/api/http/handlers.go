package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/example/qubectalk/internal/api/http/responders"
	"github.com/example/qubectalk/internal/auth"
	"github.com/example/qubectalk/internal/events"
	"github.com/example/qubectalk/internal/qubectalk/compiler"
	"github.com/example/qubectalk/internal/qubectalk/parser"
	"github.com/example/qubectalk/internal/qubectalk/result"
	"github.com/example/qubectalk/internal/qubectalk/simulate"
	"github.com/example/qubectalk/internal/store"
)

type handlers struct {
	deps Deps
}

func (h *handlers) logger() *slog.Logger { return h.deps.Logger }

// createProgramRequest is the POST /v1/programs body.
type createProgramRequest struct {
	Source string `json:"source"`
}

type programResponse struct {
	ID          string    `json:"id"`
	StanzaNames []string  `json:"stanza_names"`
	CreatedAt   time.Time `json:"created_at"`
}

// createProgram compiles the posted source and, on success, persists it.
// A compile failure returns 422 with the accumulated syntax errors, per
// spec section 4.A's "report every diagnostic, not just the first" rule.
func (h *handlers) createProgram(w http.ResponseWriter, r *http.Request) {
	var req createProgramRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		responders.BadRequest(w, "invalid_body", "request body must be JSON with a \"source\" field")
		return
	}
	if req.Source == "" {
		responders.BadRequest(w, "missing_source", "source must not be empty")
		return
	}

	ast, syntaxErrs := parser.Parse(req.Source)
	if len(syntaxErrs) > 0 {
		h.recordCompile("Syntax")
		h.publish(r.Context(), events.NewEvent(events.EventProgramCompileFailed, map[string]any{
			"errors": syntaxErrs,
		}))
		responders.JSON(w, http.StatusUnprocessableEntity, struct {
			Errors []parser.SyntaxError `json:"errors"`
		}{Errors: syntaxErrs})
		return
	}

	compiled, err := compiler.Compile(ast)
	if err != nil {
		h.recordCompile("Internal")
		h.publish(r.Context(), events.NewEvent(events.EventProgramCompileFailed, map[string]any{
			"error": err.Error(),
		}))
		responders.JSON(w, http.StatusUnprocessableEntity, struct {
			Errors []parser.SyntaxError `json:"errors"`
		}{Errors: []parser.SyntaxError{{Message: err.Error()}}})
		return
	}
	h.recordCompile("")

	stanzaNames := make([]string, 0, len(compiled.Stanzas))
	for name := range compiled.Stanzas {
		stanzaNames = append(stanzaNames, name)
	}

	now := time.Now().UTC()
	prog := store.Program{
		ID:          uuid.New(),
		Source:      req.Source,
		StanzaNames: stanzaNames,
		CreatedBy:   callerID(r),
		CompiledAt:  now,
		CreatedAt:   now,
	}
	if h.deps.Store != nil {
		if err := h.deps.Store.CreateProgram(r.Context(), prog); err != nil {
			h.logger().Error("create program", "error", err)
			responders.InternalError(w, err.Error())
			return
		}
	}

	h.publish(r.Context(), events.NewEvent(events.EventProgramCompiled, map[string]any{
		"program_id": prog.ID.String(),
		"stanzas":    stanzaNames,
	}))

	responders.Created(w, programResponse{
		ID:          prog.ID.String(),
		StanzaNames: prog.StanzaNames,
		CreatedAt:   prog.CreatedAt,
	})
}

func (h *handlers) getProgram(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		responders.BadRequest(w, "invalid_id", "program id must be a UUID")
		return
	}
	if h.deps.Store == nil {
		responders.ServiceUnavailable(w, "persistence not configured", 0)
		return
	}

	prog, err := h.deps.Store.GetProgram(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		responders.NotFound(w, "program")
		return
	}
	if err != nil {
		responders.InternalError(w, err.Error())
		return
	}

	responders.JSON(w, http.StatusOK, programResponse{
		ID:          prog.ID.String(),
		StanzaNames: prog.StanzaNames,
		CreatedAt:   prog.CreatedAt,
	})
}

// createRunRequest is the POST /v1/programs/{id}/runs body. Seed overrides
// every simulation's RNG seed uniformly, matching simulate.Options.
type createRunRequest struct {
	Seed *int64 `json:"seed,omitempty"`
}

type runResponse struct {
	ID        string    `json:"id"`
	ProgramID string    `json:"program_id"`
	Status    string    `json:"status"`
	RowCount  int       `json:"row_count"`
	CreatedAt time.Time `json:"created_at"`
}

// createRun recompiles the stored source (compiled plans are not
// persisted — only their source, per internal/store's design), executes
// every `simulate` block through the trial pool, and persists the
// resulting rows. Per spec section 4.I, a trial that fails still keeps
// the rows recorded for the years before the failure.
func (h *handlers) createRun(w http.ResponseWriter, r *http.Request) {
	if h.deps.Store == nil {
		responders.ServiceUnavailable(w, "persistence not configured", 0)
		return
	}

	progID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		responders.BadRequest(w, "invalid_id", "program id must be a UUID")
		return
	}

	var req createRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			responders.BadRequest(w, "invalid_body", "request body must be JSON")
			return
		}
	}

	prog, err := h.deps.Store.GetProgram(r.Context(), progID)
	if errors.Is(err, store.ErrNotFound) {
		responders.NotFound(w, "program")
		return
	}
	if err != nil {
		responders.InternalError(w, err.Error())
		return
	}

	ast, syntaxErrs := parser.Parse(prog.Source)
	if len(syntaxErrs) > 0 {
		responders.InternalError(w, "stored program no longer compiles")
		return
	}
	compiled, err := compiler.Compile(ast)
	if err != nil {
		responders.InternalError(w, err.Error())
		return
	}

	requestedTrials := 0
	for _, sim := range compiled.Simulations {
		if sim.Trials > h.deps.MaxTrialsPerRun {
			responders.BadRequest(w, "too_many_trials",
				fmt.Sprintf("simulation %q requests %d trials, exceeding the %d limit", sim.Name, sim.Trials, h.deps.MaxTrialsPerRun))
			return
		}
		requestedTrials += sim.Trials
	}

	run := store.Run{
		ID:              uuid.New(),
		ProgramID:       progID,
		Status:          store.RunQueued,
		Seed:            req.Seed,
		RequestedTrials: requestedTrials,
		CreatedAt:       time.Now().UTC(),
	}
	if err := h.deps.Store.CreateRun(r.Context(), run); err != nil {
		responders.InternalError(w, err.Error())
		return
	}
	h.publish(r.Context(), events.NewEvent(events.EventSimulationQueued, map[string]any{
		"run_id":     run.ID.String(),
		"program_id": progID.String(),
	}))

	rowCount, err := h.executeRun(r.Context(), compiled, run)
	if err != nil {
		responders.Accepted(w, runResponse{
			ID:        run.ID.String(),
			ProgramID: progID.String(),
			Status:    string(store.RunFailed),
			CreatedAt: run.CreatedAt,
		})
		return
	}

	responders.Created(w, runResponse{
		ID:        run.ID.String(),
		ProgramID: progID.String(),
		Status:    string(store.RunCompleted),
		RowCount:  rowCount,
		CreatedAt: run.CreatedAt,
	})
}

// executeRun runs every simulation's trials through the trial pool (or
// sequentially via simulate.Run if no pool is configured), persists rows,
// and marks the run's terminal status. It returns the row count on
// success, or an error after the run has already been marked failed.
func (h *handlers) executeRun(ctx context.Context, compiled *compiler.Program, run store.Run) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, h.deps.RunTimeout)
	defer cancel()

	if err := h.deps.Store.MarkRunStarted(ctx, run.ID); err != nil {
		h.logger().Error("mark run started", "run", run.ID, "error", err)
	}
	h.publish(ctx, events.NewEvent(events.EventSimulationStarted, map[string]any{"run_id": run.ID.String()}))

	opts := simulate.Options{Seed: run.Seed}

	var results []simulate.SimulationResult
	var err error
	if h.deps.TrialPool != nil {
		results, err = h.deps.TrialPool.RunProgram(ctx, compiled, opts)
	} else {
		results = simulate.Run(compiled, opts)
	}
	if err != nil {
		h.failRun(ctx, run.ID, err)
		return 0, err
	}

	var rows []result.Row
	var trialErr error
	for _, sr := range results {
		for _, tr := range sr.Trials {
			rows = append(rows, tr.Rows...)
			if tr.Err != nil && trialErr == nil {
				trialErr = tr.Err
			}
		}
	}

	if len(rows) > 0 {
		if err := h.deps.Store.AppendRows(ctx, run.ID, rows); err != nil {
			h.failRun(ctx, run.ID, err)
			return 0, err
		}
	}

	if trialErr != nil {
		h.failRun(ctx, run.ID, trialErr)
		h.publish(ctx, events.NewEvent(events.EventSimulationTrialFailed, map[string]any{
			"run_id": run.ID.String(), "error": trialErr.Error(),
		}))
		return len(rows), trialErr
	}

	if err := h.deps.Store.MarkRunCompleted(ctx, run.ID); err != nil {
		h.logger().Error("mark run completed", "run", run.ID, "error", err)
	}
	h.publish(ctx, events.NewEvent(events.EventSimulationCompleted, map[string]any{
		"run_id": run.ID.String(), "rows": len(rows),
	}))
	return len(rows), nil
}

func (h *handlers) failRun(ctx context.Context, runID uuid.UUID, cause error) {
	if err := h.deps.Store.MarkRunFailed(ctx, runID, cause.Error()); err != nil {
		h.logger().Error("mark run failed", "run", runID, "error", err)
	}
	h.publish(ctx, events.NewEvent(events.EventSimulationRunFailed, map[string]any{
		"run_id": runID.String(), "error": cause.Error(),
	}))
}

// getRunEnvelope returns the run in the host-worker text protocol from
// spec section 6: "OK\n\n<csv>" once the run has completed successfully,
// "Execution Error: <msg>\n\n" if it failed, or a plain status line while
// still queued/running.
func (h *handlers) getRunEnvelope(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		responders.BadRequest(w, "invalid_id", "run id must be a UUID")
		return
	}
	if h.deps.Store == nil {
		responders.ServiceUnavailable(w, "persistence not configured", 0)
		return
	}

	run, err := h.deps.Store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		responders.NotFound(w, "run")
		return
	}
	if err != nil {
		responders.InternalError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	switch run.Status {
	case store.RunFailed:
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "Execution Error: %s\n\n", run.ErrorMessage)
	case store.RunCompleted:
		rows, err := h.deps.Store.ListRows(r.Context(), id)
		if err != nil {
			responders.InternalError(w, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK\n\n")
		_ = result.WriteCSV(w, rows)
	default:
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "%s\n\n", run.Status)
	}
}

// getRunCSV streams the run's result rows as a standalone CSV document,
// for callers that want the rows without the text-protocol envelope.
func (h *handlers) getRunCSV(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		responders.BadRequest(w, "invalid_id", "run id must be a UUID")
		return
	}
	if h.deps.Store == nil {
		responders.ServiceUnavailable(w, "persistence not configured", 0)
		return
	}

	run, err := h.deps.Store.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		responders.NotFound(w, "run")
		return
	}
	if err != nil {
		responders.InternalError(w, err.Error())
		return
	}
	if run.Status != store.RunCompleted {
		responders.Conflict(w, "run_not_complete", fmt.Sprintf("run is %s, not completed", run.Status))
		return
	}

	rows, err := h.deps.Store.ListRows(r.Context(), id)
	if err != nil {
		responders.InternalError(w, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="run-%s.csv"`, id))
	w.WriteHeader(http.StatusOK)
	_ = result.WriteCSV(w, rows)
}

func (h *handlers) recordCompile(errKind string) {
	if h.deps.Metrics != nil {
		h.deps.Metrics.RecordCompile(errKind)
	}
}

func (h *handlers) publish(ctx context.Context, event events.Event) {
	if h.deps.Bus == nil {
		return
	}
	if err := h.deps.Bus.Publish(ctx, event); err != nil {
		h.logger().Warn("publish event", "type", event.Type, "error", err)
	}
}

func callerID(r *http.Request) string {
	if caller, ok := auth.CallerFromContext(r.Context()); ok {
		return caller.ID
	}
	return "anonymous"
}
