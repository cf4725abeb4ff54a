package engine

import (
	"math/rand"
	"testing"

	"github.com/example/qubectalk/internal/qubectalk/units"
)

func newTestEngine() *Engine {
	eng := New("s", 2025, 2026, rand.New(rand.NewSource(1)))
	eng.SetStanza("default")
	eng.SetScope("ac", "r")
	return eng
}

func TestSetStreamAndGetStream(t *testing.T) {
	eng := newTestEngine()
	if err := eng.SetStream("manufacture", units.New(10, "kg"), nil); err != nil {
		t.Fatal(err)
	}
	q, err := eng.GetStream("manufacture", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if q.Value != 10 || q.Unit != "kg" {
		t.Fatalf("got %+v", q)
	}
}

func TestSalesIsDerivedFromManufactureAndImport(t *testing.T) {
	eng := newTestEngine()
	eng.SetStream("manufacture", units.New(6, "kg"), nil)
	eng.SetStream("import", units.New(4, "kg"), nil)
	sales, err := eng.GetStream("sales", "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	if sales.Value != 10 {
		t.Fatalf("got %v", sales.Value)
	}
}

func TestChangeStreamPercent(t *testing.T) {
	eng := newTestEngine()
	eng.SetStream("manufacture", units.New(10, "kg"), nil)
	eng.ChangeStream("manufacture", units.New(50, "%"), nil)
	q, _ := eng.GetStream("manufacture", "", "", "")
	if q.Value != 15 {
		t.Fatalf("got %v, want 15", q.Value)
	}
}

func TestEqualsDrivesConsumptionConversion(t *testing.T) {
	eng := newTestEngine()
	eng.Equals(units.New(1, "tCO2e / kg"))
	eng.SetStream("manufacture", units.New(10, "kg"), nil)
	q, err := eng.GetStream("manufacture", "", "", "tCO2e")
	if err != nil {
		t.Fatal(err)
	}
	if q.Value != 10 {
		t.Fatalf("got %v", q.Value)
	}
}

func TestRechargeAndRetire(t *testing.T) {
	eng := newTestEngine()
	eng.Equals(units.New(1, "tCO2e / kg"))
	eng.SetInitialCharge("sales", units.New(2, "kg / unit"), nil)
	eng.SetStream("equipment", units.New(100, "units"), nil)

	if err := eng.Recharge(units.New(10, "%"), units.New(2, "kg / unit"), nil); err != nil {
		t.Fatal(err)
	}
	rechargeEmissions, _ := eng.GetStream("rechargeEmissions", "", "", "")
	if rechargeEmissions.Value != 20 {
		t.Fatalf("got %v, want 20", rechargeEmissions.Value)
	}

	if err := eng.Retire(units.New(5, "%"), nil); err != nil {
		t.Fatal(err)
	}
	eol, _ := eng.GetStream("eolEmissions", "", "", "")
	if eol.Value != 10 {
		t.Fatalf("got %v, want 10", eol.Value)
	}
	equip, _ := eng.GetStream("equipment", "", "", "")
	if equip.Value != 95 {
		t.Fatalf("got %v, want 95", equip.Value)
	}
}

func TestYearTransitionRollsEquipment(t *testing.T) {
	eng := newTestEngine()
	eng.SetStream("equipment", units.New(100, "units"), nil)
	eng.IncrementYear()
	prior, _ := eng.GetStream("priorEquipment", "", "", "")
	if prior.Value != 100 {
		t.Fatalf("got %v, want 100", prior.Value)
	}
	if eng.CurrentYear != 2026 {
		t.Fatalf("got year %d", eng.CurrentYear)
	}
}

func TestRecycleDisplacement(t *testing.T) {
	eng := newTestEngine()
	eng.Equals(units.New(1, "tCO2e / kg"))
	eng.SetStream("manufacture", units.New(10, "kg"), nil)
	disp := units.New(100, "%")
	if err := eng.Recycle(units.New(5, "kg"), units.New(100, "%"), &disp, "manufacture", nil); err != nil {
		t.Fatal(err)
	}
	man, _ := eng.GetStream("manufacture", "", "", "")
	if man.Value != 5 {
		t.Fatalf("got %v, want 5", man.Value)
	}
	rec, _ := eng.GetStream("recycle", "", "", "")
	if rec.Value != 5 {
		t.Fatalf("got %v, want 5", rec.Value)
	}
}

func TestUnknownStreamFails(t *testing.T) {
	eng := newTestEngine()
	err := eng.SetStream("bogus", units.New(1, "kg"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	var engErr *Error
	if e, ok := err.(*Error); !ok || e.Kind != UnknownStream {
		t.Fatalf("got %v (%T)", err, engErr)
	}
}

func TestUndefinedVariableFails(t *testing.T) {
	eng := newTestEngine()
	_, err := eng.GetVariable("nope")
	e, ok := err.(*Error)
	if !ok || e.Kind != UnknownVariable {
		t.Fatalf("got %v", err)
	}
}
