package units

import (
	"errors"
	"fmt"
)

// ErrNonRecoverable is returned when a conversion needs a current-state
// total that is zero or undefined and no scalar rescue applies. Callers
// (the engine) classify this as the NonRecoverableNaN error kind.
var ErrNonRecoverable = errors.New("unit conversion: no recoverable path")

// Converter performs context-sensitive unit conversion against a
// StateGetter, per the rules of spec section 4.D.
type Converter struct {
	State StateGetter
}

// NewConverter builds a Converter reading totals from state.
func NewConverter(state StateGetter) *Converter {
	return &Converter{State: state}
}

// Convert converts q to unit `to`, consulting c.State for any totals the
// conversion needs.
func (c *Converter) Convert(q Quantity, to string) (Quantity, error) {
	if q.Unit == to {
		return q, nil
	}
	if q.Value == 0 {
		return New(0, to), nil
	}

	fNum, fDen := SplitRatio(q.Unit)
	tNum, tDen := SplitRatio(to)

	if fDen == tDen {
		newNum, err := c.convertScalar(q.Value, fNum, tNum)
		if err != nil {
			return Quantity{}, err
		}
		return New(newNum, JoinRatio(tNum, tDen)), nil
	}

	if fDen != "" && tDen != "" && sameDomain(fDen, tDen) {
		numVal, err := c.convertScalar(q.Value, fNum, tNum)
		if err != nil {
			return Quantity{}, err
		}
		denScale, err := c.convertScalar(1, tDen, fDen)
		if err != nil {
			return Quantity{}, err
		}
		if denScale == 0 {
			return Quantity{}, fmt.Errorf("%w: zero scale converting denominator %s to %s", ErrNonRecoverable, fDen, tDen)
		}
		return New(numVal*denScale, JoinRatio(tNum, tDen)), nil
	}

	absolute := q.Value
	if fDen != "" {
		total, err := c.totalInUnit(fDen)
		if err != nil {
			return Quantity{}, err
		}
		if total == 0 {
			return Quantity{}, fmt.Errorf("%w: zero total eliminating denominator %s", ErrNonRecoverable, fDen)
		}
		absolute = q.Value * total
	}

	numConverted, err := c.convertScalar(absolute, fNum, tNum)
	if err != nil {
		return Quantity{}, err
	}

	if tDen == "" {
		return New(numConverted, tNum), nil
	}

	total, err := c.totalInUnit(tDen)
	if err != nil {
		return Quantity{}, err
	}
	if total == 0 {
		return Quantity{}, fmt.Errorf("%w: zero total introducing denominator %s", ErrNonRecoverable, tDen)
	}
	return New(numConverted/total, JoinRatio(tNum, tDen)), nil
}

// totalInUnit returns the current engine total for the domain `unit`
// belongs to, expressed in `unit` itself.
func (c *Converter) totalInUnit(unit string) (float64, error) {
	domain, err := domainOf(unit)
	if err != nil {
		return 0, err
	}
	total := c.domainTotal(domain)
	return c.convertScalar(total.Value, total.Unit, unit)
}

func (c *Converter) domainTotal(domain string) Quantity {
	switch domain {
	case "mass":
		return c.State.GetVolume()
	case "pop":
		return c.State.GetPopulation()
	case "ghg":
		return c.State.GetGhgConsumption()
	case "energy":
		return c.State.GetEnergyConsumption()
	case "time":
		return c.State.GetYearsElapsed()
	}
	return New(0, "")
}

// convertScalar converts a bare numerator value between two base (non-
// ratio) units, using engine intensities/totals when the units belong to
// different domains.
func (c *Converter) convertScalar(value float64, from, to string) (float64, error) {
	if from == to {
		return value, nil
	}

	switch {
	case isMass(from) && isMass(to):
		return massScale(value, from, to), nil
	case isPop(from) && isPop(to):
		return value, nil
	case isTimeUnit(from) && isTimeUnit(to):
		return value, nil

	case from == "%":
		domain, err := domainOf(to)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot resolve %% against %s", ErrNonRecoverable, to)
		}
		total := c.domainTotal(domain)
		totalInTo, err := c.convertScalar(total.Value, total.Unit, to)
		if err != nil {
			return 0, err
		}
		return value / 100 * totalInTo, nil
	case to == "%":
		domain, err := domainOf(from)
		if err != nil {
			return 0, fmt.Errorf("%w: cannot resolve %% against %s", ErrNonRecoverable, from)
		}
		total := c.domainTotal(domain)
		totalInFrom, err := c.convertScalar(total.Value, total.Unit, from)
		if err != nil {
			return 0, err
		}
		if totalInFrom == 0 {
			return 0, fmt.Errorf("%w: zero total computing %% of %s", ErrNonRecoverable, from)
		}
		return value / totalInFrom * 100, nil

	case isMass(from) && isPop(to):
		avu := c.State.GetAmortizedUnitVolume()
		avuKg, err := c.convertScalar(avu.Value, avu.Unit, "kg")
		if err != nil {
			return 0, err
		}
		if avuKg == 0 {
			return 0, fmt.Errorf("%w: zero initial charge converting %s to %s", ErrNonRecoverable, from, to)
		}
		kgVal := massScale(value, from, "kg")
		return c.convertScalar(kgVal/avuKg, "units", to)
	case isPop(from) && isMass(to):
		avu := c.State.GetAmortizedUnitVolume()
		avuKg, err := c.convertScalar(avu.Value, avu.Unit, "kg")
		if err != nil {
			return 0, err
		}
		unitsVal, err := c.convertScalar(value, from, "units")
		if err != nil {
			return 0, err
		}
		return massScale(unitsVal*avuKg, "kg", to), nil

	case isMass(from) && to == "tCO2e":
		ghg := c.State.GetSubstanceConsumption()
		_, den := SplitRatio(ghg.Unit)
		if den == "" {
			den = "kg"
		}
		denVal := massScale(value, from, den)
		return denVal * ghg.Value, nil
	case from == "tCO2e" && isMass(to):
		ghg := c.State.GetSubstanceConsumption()
		if ghg.Value == 0 {
			return 0, fmt.Errorf("%w: zero ghg intensity converting %s to %s", ErrNonRecoverable, from, to)
		}
		_, den := SplitRatio(ghg.Unit)
		if den == "" {
			den = "kg"
		}
		denVal := value / ghg.Value
		return massScale(denVal, den, to), nil

	case isMass(from) && to == "kwh":
		intensity := c.State.GetEnergyIntensity()
		_, den := SplitRatio(intensity.Unit)
		if den == "" {
			den = "kg"
		}
		denVal := massScale(value, from, den)
		return denVal * intensity.Value, nil
	case from == "kwh" && isMass(to):
		intensity := c.State.GetEnergyIntensity()
		if intensity.Value == 0 {
			return 0, fmt.Errorf("%w: zero energy intensity converting %s to %s", ErrNonRecoverable, from, to)
		}
		_, den := SplitRatio(intensity.Unit)
		if den == "" {
			den = "kg"
		}
		denVal := value / intensity.Value
		return massScale(denVal, den, to), nil

	case isPop(from) && to == "tCO2e":
		auc := c.State.GetAmortizedUnitConsumption()
		unitsVal, err := c.convertScalar(value, from, "units")
		if err != nil {
			return 0, err
		}
		return unitsVal * auc.Value, nil
	case from == "tCO2e" && isPop(to):
		auc := c.State.GetAmortizedUnitConsumption()
		if auc.Value == 0 {
			return 0, fmt.Errorf("%w: zero amortized unit consumption converting %s to %s", ErrNonRecoverable, from, to)
		}
		unitsVal := value / auc.Value
		return c.convertScalar(unitsVal, "units", to)
	}

	return 0, fmt.Errorf("%w: no conversion path from %q to %q", ErrNonRecoverable, from, to)
}

func isMass(u string) bool     { return u == "kg" || u == "mt" }
func isPop(u string) bool      { return u == "unit" || u == "units" }
func isTimeUnit(u string) bool { return u == "year" || u == "years" }
func isGhgUnit(u string) bool  { return u == "tCO2e" }
func isEnergyUnit(u string) bool { return u == "kwh" }

func sameDomain(a, b string) bool {
	switch {
	case isMass(a) && isMass(b):
		return true
	case isPop(a) && isPop(b):
		return true
	case isTimeUnit(a) && isTimeUnit(b):
		return true
	}
	return false
}

func domainOf(u string) (string, error) {
	switch {
	case isMass(u):
		return "mass", nil
	case isPop(u):
		return "pop", nil
	case isTimeUnit(u):
		return "time", nil
	case isGhgUnit(u):
		return "ghg", nil
	case isEnergyUnit(u):
		return "energy", nil
	}
	return "", fmt.Errorf("%w: unit %q has no known domain", ErrNonRecoverable, u)
}

// massScale converts a bare numeric value between kg and mt: ×1000 / ÷1000.
func massScale(value float64, from, to string) float64 {
	if from == to {
		return value
	}
	if from == "kg" && to == "mt" {
		return value / 1000
	}
	if from == "mt" && to == "kg" {
		return value * 1000
	}
	return value
}
