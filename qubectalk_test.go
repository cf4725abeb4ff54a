package qubectalk

import "testing"

func mustCompile(t *testing.T, source string) *Program {
	t.Helper()
	prog, errs := Compile(source)
	if len(errs) > 0 {
		t.Fatalf("compile errors: %v", errs)
	}
	return prog
}

func findRow(t *testing.T, rows []Row, year int) Row {
	t.Helper()
	for _, r := range rows {
		if r.Year == year {
			return r
		}
	}
	t.Fatalf("no row for year %d among %d rows", year, len(rows))
	return Row{}
}

// Scenario 1 from spec section 8: baseline only.
func TestScenarioBaselineOnly(t *testing.T) {
	source := `
start default
define application "ac"
uses substance "r"
equals 1 tCO2e / kg
set manufacture to 10 kg during all years
end substance
end application
end default

start simulations
simulate "s" from years 2025 to 2026
end simulations
`
	prog := mustCompile(t, source)
	results := prog.Run()
	if len(results) != 1 {
		t.Fatalf("got %d simulations", len(results))
	}
	rows := results[0].Trials[0].Rows
	r2025 := findRow(t, rows, 2025)
	if r2025.Manufacture != 10 || r2025.Import != 0 {
		t.Fatalf("2025: got manufacture=%v import=%v", r2025.Manufacture, r2025.Import)
	}
	if r2025.DomesticConsumption != 10 {
		t.Fatalf("2025: got domesticConsumption=%v, want 10", r2025.DomesticConsumption)
	}
	r2026 := findRow(t, rows, 2026)
	if r2026.Manufacture != 10 {
		t.Fatalf("2026: got manufacture=%v", r2026.Manufacture)
	}
}

// Scenario 2: change delta.
func TestScenarioChangeDelta(t *testing.T) {
	source := `
start default
define application "ac"
uses substance "r"
equals 1 tCO2e / kg
set manufacture to 10 kg during year 2025
change manufacture by 50 percent during year 2026
end substance
end application
end default

start simulations
simulate "s" from years 2025 to 2026
end simulations
`
	prog := mustCompile(t, source)
	results := prog.Run()
	rows := results[0].Trials[0].Rows
	r2025 := findRow(t, rows, 2025)
	if r2025.Manufacture != 10 {
		t.Fatalf("2025: got %v, want 10", r2025.Manufacture)
	}
	r2026 := findRow(t, rows, 2026)
	if r2026.Manufacture != 15 {
		t.Fatalf("2026: got %v, want 15", r2026.Manufacture)
	}
	if r2026.DomesticConsumption != 15 {
		t.Fatalf("2026 consumption: got %v, want 15", r2026.DomesticConsumption)
	}
}

// Scenario 3: recharge + retire.
func TestScenarioRechargeRetire(t *testing.T) {
	source := `
start default
define application "ac"
uses substance "r"
equals 1 tCO2e / kg
set initial charge to 2 kg / unit for sales
set equipment to 100 units during year 2025
recharge 10 percent with 2 kg / unit during all years
retire 5 percent during all years
end substance
end application
end default

start simulations
simulate "s" from years 2025 to 2025
end simulations
`
	prog := mustCompile(t, source)
	results := prog.Run()
	rows := results[0].Trials[0].Rows
	r := findRow(t, rows, 2025)
	if r.RechargeEmissions != 20 {
		t.Fatalf("got rechargeEmissions=%v, want 20", r.RechargeEmissions)
	}
	if r.EolEmissions != 10 {
		t.Fatalf("got eolEmissions=%v, want 10", r.EolEmissions)
	}
}

// Scenario 5: two-policy overlay.
func TestScenarioPolicyOverlay(t *testing.T) {
	source := `
start default
define application "ac"
uses substance "r"
equals 1 tCO2e / kg
set manufacture to 10 kg during all years
end substance
end application
end default

start policy "p1"
modify application "ac"
modify substance "r"
change manufacture by -20 percent during all years
end substance
end application
end policy

start simulations
simulate "with" using "p1" from years 2025 to 2025
end simulations
`
	prog := mustCompile(t, source)
	results := prog.Run()
	rows := results[0].Trials[0].Rows
	r := findRow(t, rows, 2025)
	if r.Manufacture != 8 {
		t.Fatalf("got manufacture=%v, want 8", r.Manufacture)
	}
}

// Scenario 6: stochastic trial with zero std is deterministic.
func TestScenarioStochasticZeroStd(t *testing.T) {
	source := `
start default
define application "ac"
uses substance "r"
set manufacture to sample normally from mean of 100 kg std of 0 kg during all years
end substance
end application
end default

start simulations
simulate "s" from years 2025 to 2025 trials 5
end simulations
`
	prog := mustCompile(t, source)
	results := prog.Run()
	for _, tr := range results[0].Trials {
		r := findRow(t, tr.Rows, 2025)
		if r.Manufacture != 100 {
			t.Fatalf("trial %d: got manufacture=%v, want 100", tr.TrialNumber, r.Manufacture)
		}
	}
}

func TestEmptyProgramCompilesToNullProgram(t *testing.T) {
	prog, errs := Compile("   \n  ")
	if len(errs) != 0 {
		t.Fatalf("got errors: %v", errs)
	}
	results := prog.Run()
	if len(results) != 0 {
		t.Fatalf("expected no simulations, got %d", len(results))
	}
}

func TestExecuteProtocolSyntaxError(t *testing.T) {
	out := Execute("start default\ndefine application\n")
	if len(out) < len("Compilation Error: ") || out[:len("Compilation Error: ")] != "Compilation Error: " {
		t.Fatalf("got %q", out)
	}
}

func TestExecuteProtocolOK(t *testing.T) {
	source := `
start default
define application "ac"
uses substance "r"
equals 1 tCO2e / kg
set manufacture to 10 kg during all years
end substance
end application
end default

start simulations
simulate "s" from years 2025 to 2025
end simulations
`
	out := Execute(source)
	if len(out) < 2 || out[:2] != "OK" {
		t.Fatalf("got %q", out)
	}
}
