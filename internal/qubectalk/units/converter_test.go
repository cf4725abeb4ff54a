package units

import "testing"

// fixedState is a StateGetter with fixed totals, for deterministic tests.
type fixedState struct {
	volume                  Quantity
	population              Quantity
	ghgConsumption          Quantity
	energyConsumption       Quantity
	substanceConsumption    Quantity
	energyIntensity         Quantity
	amortizedUnitVolume     Quantity
	amortizedUnitConsumption Quantity
	yearsElapsed            Quantity
	populationChange        Quantity
}

func (f fixedState) GetVolume() Quantity                   { return f.volume }
func (f fixedState) GetPopulation() Quantity                { return f.population }
func (f fixedState) GetGhgConsumption() Quantity             { return f.ghgConsumption }
func (f fixedState) GetEnergyConsumption() Quantity          { return f.energyConsumption }
func (f fixedState) GetSubstanceConsumption() Quantity       { return f.substanceConsumption }
func (f fixedState) GetEnergyIntensity() Quantity            { return f.energyIntensity }
func (f fixedState) GetAmortizedUnitVolume() Quantity        { return f.amortizedUnitVolume }
func (f fixedState) GetAmortizedUnitConsumption() Quantity   { return f.amortizedUnitConsumption }
func (f fixedState) GetYearsElapsed() Quantity                { return f.yearsElapsed }
func (f fixedState) GetPopulationChange() Quantity            { return f.populationChange }

func baseState() fixedState {
	return fixedState{
		volume:                   New(100, "kg"),
		population:               New(50, "units"),
		ghgConsumption:           New(100, "tCO2e"),
		energyConsumption:        New(500, "kwh"),
		substanceConsumption:     New(1, "tCO2e / kg"),
		energyIntensity:          New(5, "kwh / kg"),
		amortizedUnitVolume:      New(2, "kg"),
		amortizedUnitConsumption: New(2, "tCO2e"),
		yearsElapsed:             New(1, "years"),
	}
}

func TestIdentityConversion(t *testing.T) {
	conv := NewConverter(baseState())
	q, err := conv.Convert(New(10, "kg"), "kg")
	if err != nil || q.Value != 10 {
		t.Fatalf("got %+v, %v", q, err)
	}
}

func TestZeroValueShortCircuits(t *testing.T) {
	conv := NewConverter(baseState())
	q, err := conv.Convert(New(0, "kg"), "tCO2e")
	if err != nil || q.Value != 0 || q.Unit != "tCO2e" {
		t.Fatalf("got %+v, %v", q, err)
	}
}

func TestKgMtExact(t *testing.T) {
	conv := NewConverter(baseState())
	q, err := conv.Convert(New(5, "kg"), "mt")
	if err != nil {
		t.Fatal(err)
	}
	if q.Value != 0.005 {
		t.Fatalf("got %v", q.Value)
	}
	back, err := conv.Convert(q, "kg")
	if err != nil || back.Value != 5 {
		t.Fatalf("got %+v, %v", back, err)
	}
}

func TestKgToTco2eViaIntensity(t *testing.T) {
	conv := NewConverter(baseState())
	q, err := conv.Convert(New(10, "kg"), "tCO2e")
	if err != nil {
		t.Fatal(err)
	}
	if q.Value != 10 {
		t.Fatalf("got %v", q.Value)
	}
}

func TestUnitsToKgViaInitialCharge(t *testing.T) {
	conv := NewConverter(baseState())
	q, err := conv.Convert(New(10, "units"), "kg")
	if err != nil {
		t.Fatal(err)
	}
	if q.Value != 20 {
		t.Fatalf("got %v", q.Value)
	}
}

func TestPercentOfVolume(t *testing.T) {
	conv := NewConverter(baseState())
	q, err := conv.Convert(New(50, "%"), "kg")
	if err != nil {
		t.Fatal(err)
	}
	if q.Value != 50 {
		t.Fatalf("got %v, want 50 (50%% of 100kg)", q.Value)
	}
}

func TestRatioIdenticalDenominatorConvertsNumeratorOnly(t *testing.T) {
	conv := NewConverter(baseState())
	q, err := conv.Convert(New(2, "kg / unit"), "mt / unit")
	if err != nil {
		t.Fatal(err)
	}
	if q.Value != 0.002 {
		t.Fatalf("got %v", q.Value)
	}
}

func TestRoundTripWithinTolerance(t *testing.T) {
	conv := NewConverter(baseState())
	orig := New(37.5, "kg")
	toTco2e, err := conv.Convert(orig, "tCO2e")
	if err != nil {
		t.Fatal(err)
	}
	back, err := conv.Convert(toTco2e, "kg")
	if err != nil {
		t.Fatal(err)
	}
	diff := back.Value - orig.Value
	if diff < 0 {
		diff = -diff
	}
	if diff/orig.Value > 1e-9 {
		t.Fatalf("round trip drifted: got %v want %v", back.Value, orig.Value)
	}
}

func TestZeroDenominatorTotalFails(t *testing.T) {
	state := baseState()
	state.ghgConsumption = New(0, "tCO2e")
	conv := NewConverter(state)
	_, err := conv.Convert(New(5, "unit / tCO2e"), "unit / kg")
	if err == nil {
		t.Fatal("expected error for zero denominator total")
	}
}
