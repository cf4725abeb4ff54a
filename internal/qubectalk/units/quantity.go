// Package units implements QubecTalk's unit-aware arithmetic: the
// immutable Quantity value type, the context-sensitive converter that
// normalizes between volumes, populations, consumption, and time, and the
// state-getter abstraction the converter reads engine totals through.
package units

import (
	"fmt"
	"strings"
)

// Quantity is an immutable (value, unit) pair. Units are one of the base
// strings (kg, mt, unit, units, tCO2e, kwh, year, years, %, "") or a ratio
// "Numerator / Denominator" where both sides are from that set.
type Quantity struct {
	Value float64
	Unit  string
}

// New constructs a Quantity. Kept as a function (rather than exposing a
// bare struct literal idiom) so call sites read like the language's own
// "10 kg" syntax.
func New(value float64, unit string) Quantity {
	return Quantity{Value: value, Unit: unit}
}

// Ratio reports the numerator and denominator of q.Unit. denominator is
// empty when the unit carries none.
func (q Quantity) Ratio() (numerator, denominator string) {
	return SplitRatio(q.Unit)
}

// SplitRatio splits a unit string like "tCO2e / kg" into its numerator and
// denominator. A unit with no " / " has an empty denominator.
func SplitRatio(unit string) (numerator, denominator string) {
	if idx := strings.Index(unit, " / "); idx >= 0 {
		return strings.TrimSpace(unit[:idx]), strings.TrimSpace(unit[idx+len(" / "):])
	}
	return unit, ""
}

// JoinRatio builds a ratio unit string from its parts; if denominator is
// empty, the numerator alone is returned.
func JoinRatio(numerator, denominator string) string {
	if denominator == "" {
		return numerator
	}
	return numerator + " / " + denominator
}

func (q Quantity) String() string {
	return fmt.Sprintf("%v %s", q.Value, q.Unit)
}

// Add converts other to q's unit and sums the values.
func (q Quantity) Add(other Quantity, conv *Converter) (Quantity, error) {
	o, err := conv.Convert(other, q.Unit)
	if err != nil {
		return Quantity{}, err
	}
	return New(q.Value+o.Value, q.Unit), nil
}

// Sub converts other to q's unit and subtracts.
func (q Quantity) Sub(other Quantity, conv *Converter) (Quantity, error) {
	o, err := conv.Convert(other, q.Unit)
	if err != nil {
		return Quantity{}, err
	}
	return New(q.Value-o.Value, q.Unit), nil
}

// Mul multiplies two Quantities. Per spec §4.C this converts the RHS to
// the LHS unit first, consistent with Add/Sub, then multiplies values;
// the resulting unit is q's unit (scalar multipliers are expected to carry
// unit "" or "ratio").
func (q Quantity) Mul(other Quantity, conv *Converter) (Quantity, error) {
	o, err := conv.Convert(other, q.Unit)
	if err != nil {
		return Quantity{}, err
	}
	return New(q.Value*o.Value, q.Unit), nil
}

// Div divides two Quantities. If the units are identical the result unit is
// "" (dimensionless); otherwise it is "q.Unit / other.Unit".
func (q Quantity) Div(other Quantity) (Quantity, error) {
	if other.Value == 0 {
		return Quantity{}, fmt.Errorf("division by zero: %s / %s", q, other)
	}
	if q.Unit == other.Unit {
		return New(q.Value/other.Value, ""), nil
	}
	return New(q.Value/other.Value, JoinRatio(q.Unit, other.Unit)), nil
}

// Pow raises q.Value to other.Value, keeping q's unit.
func (q Quantity) Pow(other Quantity) Quantity {
	v := q.Value
	result := 1.0
	exp := other.Value
	neg := exp < 0
	if neg {
		exp = -exp
	}
	n := int(exp)
	for i := 0; i < n; i++ {
		result *= v
	}
	if neg && result != 0 {
		result = 1 / result
	}
	return New(result, q.Unit)
}

// Compare converts other to q's unit and returns -1, 0, or 1.
func (q Quantity) Compare(other Quantity, conv *Converter) (int, error) {
	o, err := conv.Convert(other, q.Unit)
	if err != nil {
		return 0, err
	}
	switch {
	case q.Value < o.Value:
		return -1, nil
	case q.Value > o.Value:
		return 1, nil
	default:
		return 0, nil
	}
}
