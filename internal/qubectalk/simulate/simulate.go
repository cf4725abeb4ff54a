// Package simulate is the driver from spec section 4.H: it executes
// trials of each compiled simulation, dispatching "default" then the
// listed policy stanzas once per year, recording a snapshot row set
// before each year's state resets.
package simulate

import (
	"math/rand"
	"time"

	"github.com/example/qubectalk/internal/qubectalk/compiler"
	"github.com/example/qubectalk/internal/qubectalk/engine"
	"github.com/example/qubectalk/internal/qubectalk/result"
)

// TrialResult is one trial's outcome: rows recorded for every year
// completed before an optional fatal error aborted the trial.
type TrialResult struct {
	TrialNumber int
	Rows        []result.Row
	Err         error
}

// SimulationResult collects every trial run for one named simulation.
type SimulationResult struct {
	Name   string
	Trials []TrialResult
}

// Options configures a run. Seed, when non-nil, makes trial RNGs
// reproducible: trial N of a given simulation always draws from
// rand.NewSource(*Seed + int64(N)). A nil Seed seeds from system entropy.
type Options struct {
	Seed *int64
}

// Run executes every simulation in prog in declaration order, per the
// pseudocode in spec section 4.H. Trials are independent — callers that
// want trial-level parallelism can fan out over the (simulation, trial)
// pairs themselves by constructing Engines directly; Run itself executes
// sequentially, leaving concurrency to the caller (see internal/worker).
func Run(prog *compiler.Program, opts Options) []SimulationResult {
	out := make([]SimulationResult, 0, len(prog.Simulations))
	for _, sim := range prog.Simulations {
		out = append(out, runSimulation(prog, sim, opts))
	}
	return out
}

func runSimulation(prog *compiler.Program, sim *compiler.Simulation, opts Options) SimulationResult {
	sr := SimulationResult{Name: sim.Name}
	stanzaNames := make([]string, 0, len(sim.StanzaNames)+1)
	stanzaNames = append(stanzaNames, "default")
	stanzaNames = append(stanzaNames, sim.StanzaNames...)

	for trial := 1; trial <= sim.Trials; trial++ {
		sr.Trials = append(sr.Trials, RunTrial(prog, sim, stanzaNames, trial, opts))
	}
	return sr
}

// RunTrial executes a single trial and is exported so a worker pool can
// fan out (simulation, trial) pairs across goroutines without re-deriving
// the stanza dispatch order.
func RunTrial(prog *compiler.Program, sim *compiler.Simulation, stanzaNames []string, trial int, opts Options) TrialResult {
	rng := rand.New(rand.NewSource(trialSeed(opts.Seed, trial)))
	eng := engine.New(sim.Name, sim.StartYear, sim.EndYear, rng)

	tr := TrialResult{TrialNumber: trial}
	for !eng.IsDone() {
		aborted := false
		for _, name := range stanzaNames {
			stanza, ok := prog.Stanzas[name]
			if !ok {
				tr.Err = eng.Fail(engine.UnknownStanza, "simulation %q references unknown stanza %q", sim.Name, name)
				aborted = true
				break
			}
			if err := stanza.Run(eng); err != nil {
				tr.Err = err
				aborted = true
				break
			}
		}
		if aborted {
			return tr
		}
		tr.Rows = append(tr.Rows, result.Snapshot(eng, sim.Name, trial)...)
		eng.IncrementYear()
	}
	return tr
}

func trialSeed(base *int64, trial int) int64 {
	if base != nil {
		return *base + int64(trial)
	}
	return time.Now().UnixNano() + int64(trial)
}
