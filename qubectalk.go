// Package qubectalk is the library surface spec.md describes: compile
// QubecTalk source into a Program, then run it to get per-simulation,
// per-trial result rows. Everything outside this surface — the editor,
// syntax highlighting, chart rendering, and so on — is an external
// collaborator this package does not concern itself with.
package qubectalk

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/example/qubectalk/internal/qubectalk/compiler"
	"github.com/example/qubectalk/internal/qubectalk/parser"
	"github.com/example/qubectalk/internal/qubectalk/result"
	"github.com/example/qubectalk/internal/qubectalk/simulate"
)

// SyntaxError re-exports the parser's diagnostic shape so callers never
// need to import the internal parser package directly.
type SyntaxError = parser.SyntaxError

// TrialResult re-exports the driver's per-trial outcome.
type TrialResult = simulate.TrialResult

// SimulationResult re-exports the driver's per-simulation outcome.
type SimulationResult = simulate.SimulationResult

// Row re-exports the output row shape from spec section 4.I/6.
type Row = result.Row

// RunOptions re-exports simulate.Options.
type RunOptions = simulate.Options

// Program is an executable compiled plan. It is immutable after Compile
// returns: running it any number of times, from any number of
// goroutines, never mutates shared state (spec section 5).
type Program struct {
	compiled *compiler.Program
}

// Compile lexes, parses, and lowers source into a Program. A non-empty
// error slice means compilation failed and prog is nil — per spec section
// 4.A, the parser accumulates every diagnostic it can rather than
// stopping at the first one.
func Compile(source string) (*Program, []SyntaxError) {
	ast, errs := parser.Parse(source)
	if len(errs) > 0 {
		return nil, errs
	}
	compiled, err := compiler.Compile(ast)
	if err != nil {
		return nil, []SyntaxError{{Message: err.Error()}}
	}
	return &Program{compiled: compiled}, nil
}

// Run executes every simulation the program declares, using default
// options (a fresh entropy-seeded RNG per trial).
func (p *Program) Run() []SimulationResult {
	return simulate.Run(p.compiled, RunOptions{})
}

// RunWithOptions executes every simulation with caller-supplied options,
// e.g. a fixed seed for reproducible trials in tests.
func (p *Program) RunWithOptions(opts RunOptions) []SimulationResult {
	return simulate.Run(p.compiled, opts)
}

// Execute implements the host-worker protocol from spec section 6: it
// returns "OK\n\n<csv>" on success, or "Compilation Error: <msg>\n\n" /
// "Execution Error: <msg>\n\n" on failure.
func Execute(source string) string {
	prog, errs := Compile(source)
	if len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Sprintf("Compilation Error: %s\n\n", strings.Join(msgs, "; "))
	}

	results := prog.Run()
	var allRows []Row
	for _, sr := range results {
		for _, tr := range sr.Trials {
			allRows = append(allRows, tr.Rows...)
			if tr.Err != nil {
				return fmt.Sprintf("Execution Error: %s\n\n", tr.Err.Error())
			}
		}
	}

	var buf bytes.Buffer
	if err := result.WriteCSV(&buf, allRows); err != nil {
		return fmt.Sprintf("Execution Error: %s\n\n", err.Error())
	}
	return "OK\n\n" + buf.String()
}
