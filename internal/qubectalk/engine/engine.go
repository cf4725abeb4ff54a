// Package engine implements the stream/state core: per-(application,
// substance) streams, the set/change/cap/floor/recharge/retire/recycle/
// replace/initial-charge/equals operators, year stepping, and the
// conservation invariants those operators must preserve.
package engine

import (
	"fmt"
	"math/rand"

	"github.com/example/qubectalk/internal/qubectalk/units"
)

// Kind enumerates the typed error categories from the language reference.
type Kind int

const (
	Syntax Kind = iota
	UnknownStream
	UnknownStanza
	UnknownVariable
	UnitMismatch
	NonRecoverableNaN
	DivisionByZero
	NegativeStock
	Internal
)

func (k Kind) String() string {
	switch k {
	case Syntax:
		return "Syntax"
	case UnknownStream:
		return "UnknownStream"
	case UnknownStanza:
		return "UnknownStanza"
	case UnknownVariable:
		return "UnknownVariable"
	case UnitMismatch:
		return "UnitMismatch"
	case NonRecoverableNaN:
		return "NonRecoverableNaN"
	case DivisionByZero:
		return "DivisionByZero"
	case NegativeStock:
		return "NegativeStock"
	default:
		return "Internal"
	}
}

// Error is a typed fatal error carrying the simulation/year/scope context
// it occurred in. It aborts the trial that produced it; earlier recorded
// years still stand.
type Error struct {
	Kind        Kind
	Simulation  string
	Year        int
	Application string
	Substance   string
	Message     string
	Cause       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (simulation=%s year=%d app=%q subs=%q)", e.Kind, e.Message, e.Simulation, e.Year, e.Application, e.Substance)
}

func (e *Error) Unwrap() error { return e.Cause }

func (eng *Engine) fail(kind Kind, cause error, format string, args ...any) error {
	return &Error{
		Kind:        kind,
		Simulation:  eng.SimulationName,
		Year:        eng.CurrentYear,
		Application: eng.curApp,
		Substance:   eng.curSubs,
		Message:     fmt.Sprintf(format, args...),
		Cause:       cause,
	}
}

// Stream is one of the fixed closed set of stream identifiers.
type Stream string

const (
	Manufacture       Stream = "manufacture"
	Import            Stream = "import"
	Sales             Stream = "sales" // virtual: manufacture + import
	Recycle           Stream = "recycle"
	Consumption       Stream = "consumption"
	RechargeEmissions Stream = "rechargeEmissions"
	EolEmissions      Stream = "eolEmissions"
	Equipment         Stream = "equipment"
	PriorEquipment    Stream = "priorEquipment"
	NewEquipment      Stream = "newEquipment"
	Energy            Stream = "energy"
)

// BaseUnits maps each stream to the unit its value is always stored in.
var BaseUnits = map[Stream]string{
	Manufacture:       "kg",
	Import:            "kg",
	Sales:             "kg",
	Recycle:           "kg",
	Consumption:       "tCO2e",
	RechargeEmissions: "tCO2e",
	EolEmissions:      "tCO2e",
	Equipment:         "units",
	PriorEquipment:    "units",
	NewEquipment:      "units",
	Energy:            "kwh",
}

func validStream(name string) (Stream, bool) {
	s := Stream(name)
	if _, ok := BaseUnits[s]; ok {
		return s, true
	}
	return "", false
}

// YearMatcher gates whether a statement applies in a given year. nil Min
// or Max means open on that side; a nil *YearMatcher (the usual case)
// matches every year.
type YearMatcher struct {
	Min *int
	Max *int
}

// Matches reports whether year falls inside the matcher's interval. A nil
// receiver matches unconditionally.
func (m *YearMatcher) Matches(year int) bool {
	if m == nil {
		return true
	}
	if m.Min != nil && year < *m.Min {
		return false
	}
	if m.Max != nil && year > *m.Max {
		return false
	}
	return true
}

type streamKey struct {
	App    string
	Subs   string
	Stream Stream
}

type scopeKey struct {
	App  string
	Subs string
}

// Engine holds the full per-trial simulation state described in spec
// section 3: streams, scoped variables, intensities, and policies. A
// fresh Engine is created per trial and discarded at its end.
type Engine struct {
	SimulationName string
	StartYear      int
	EndYear        int
	CurrentYear    int

	streams         map[streamKey]units.Quantity
	initialCharge   map[scopeKey]units.Quantity
	ghgIntensity    map[scopeKey]units.Quantity
	energyIntensity map[scopeKey]units.Quantity
	rechargePctPop  map[scopeKey]units.Quantity
	rechargeVolUnit map[scopeKey]units.Quantity
	retirePolicy    map[scopeKey]units.Quantity

	globalVars map[string]units.Quantity
	stanzaVars map[string]map[string]units.Quantity
	appVars    map[string]map[string]units.Quantity
	subsVars   map[string]map[string]units.Quantity

	curStanza string
	curApp    string
	curSubs   string

	activeScopes []scopeKey // (app, subs) pairs seen this trial, in first-seen order

	RNG *rand.Rand
}

// ScopePair identifies one (application, substance) combination that has
// been referenced during the current trial.
type ScopePair struct {
	Application string
	Substance   string
}

// ActiveScopes returns every (application, substance) pair referenced so
// far this trial, in first-seen order — the set the result serializer
// emits one row per, per year.
func (eng *Engine) ActiveScopes() []ScopePair {
	out := make([]ScopePair, len(eng.activeScopes))
	for i, k := range eng.activeScopes {
		out[i] = ScopePair{Application: k.App, Substance: k.Subs}
	}
	return out
}

// StreamValue reads stream's current value for (app, subs) without
// touching the engine's current scope.
func (eng *Engine) StreamValue(app, subs, stream string) units.Quantity {
	s, ok := validStream(stream)
	if !ok {
		return units.Quantity{}
	}
	return eng.viewOf(app, subs).stream(s)
}

// ConsumptionForVolume converts volumeKg to tCO2e for (app, subs) using
// an overriding state getter that pins "current volume" to volumeKg, per
// spec section 4.E — used by the result serializer to derive
// domestic/import/recycle consumption from offset volumes without
// disturbing engine state.
func (eng *Engine) ConsumptionForVolume(app, subs string, volumeKg float64) (units.Quantity, error) {
	vol := units.New(volumeKg, "kg")
	override := &units.OverridingState{Base: eng.viewOf(app, subs), Volume: &vol}
	conv := units.NewConverter(override)
	out, err := conv.Convert(vol, "tCO2e")
	if err != nil {
		return units.Quantity{}, eng.fail(NonRecoverableNaN, err, "consumption for volume: %v", err)
	}
	return out, nil
}

// New constructs an Engine for a fresh trial over [startYear, endYear],
// driven by the given RNG (each trial owns its own instance; there is no
// global PRNG per spec section 5).
func New(simulationName string, startYear, endYear int, rng *rand.Rand) *Engine {
	return &Engine{
		SimulationName:  simulationName,
		StartYear:       startYear,
		EndYear:         endYear,
		CurrentYear:     startYear,
		streams:         make(map[streamKey]units.Quantity),
		initialCharge:   make(map[scopeKey]units.Quantity),
		ghgIntensity:    make(map[scopeKey]units.Quantity),
		energyIntensity: make(map[scopeKey]units.Quantity),
		rechargePctPop:  make(map[scopeKey]units.Quantity),
		rechargeVolUnit: make(map[scopeKey]units.Quantity),
		retirePolicy:    make(map[scopeKey]units.Quantity),
		globalVars:      make(map[string]units.Quantity),
		stanzaVars:      make(map[string]map[string]units.Quantity),
		appVars:         make(map[string]map[string]units.Quantity),
		subsVars:        make(map[string]map[string]units.Quantity),
		RNG:             rng,
	}
}

// SetStanza marks stanzaName active and clears that stanza's variable
// scope, per spec section 4.F's stanza-dispatch rule.
func (eng *Engine) SetStanza(stanzaName string) {
	eng.curStanza = stanzaName
	eng.stanzaVars[stanzaName] = make(map[string]units.Quantity)
}

// SetScope binds the current (application, substance) pair that
// subsequent unscoped operators target.
func (eng *Engine) SetScope(app, subs string) {
	eng.curApp, eng.curSubs = app, subs
	key := scopeKey{App: app, Subs: subs}
	if _, ok := eng.appVars[app]; !ok {
		eng.appVars[app] = make(map[string]units.Quantity)
	}
	subsMapKey := app + "\x00" + subs
	if _, ok := eng.subsVars[subsMapKey]; !ok {
		eng.subsVars[subsMapKey] = make(map[string]units.Quantity)
	}
	for _, k := range eng.activeScopes {
		if k == key {
			return
		}
	}
	eng.activeScopes = append(eng.activeScopes, key)
}

func (eng *Engine) subsVarKey() string { return eng.curApp + "\x00" + eng.curSubs }

func (eng *Engine) key(stream Stream) streamKey {
	return streamKey{App: eng.curApp, Subs: eng.curSubs, Stream: stream}
}

func (eng *Engine) scope() scopeKey { return scopeKey{App: eng.curApp, Subs: eng.curSubs} }

// scopeView is a units.StateGetter bound to a fixed (app, subs) pair,
// independent of the engine's "current" scope — used both for ordinary
// operators (bound to curApp/curSubs) and for GetStream's rescope option.
type scopeView struct {
	eng  *Engine
	app  string
	subs string
}

func (eng *Engine) viewOf(app, subs string) *scopeView {
	return &scopeView{eng: eng, app: app, subs: subs}
}

func (eng *Engine) view() *scopeView { return eng.viewOf(eng.curApp, eng.curSubs) }

func (v *scopeView) stream(s Stream) units.Quantity {
	if s == Sales {
		man := v.stream(Manufacture)
		imp := v.stream(Import)
		return units.New(man.Value+imp.Value, "kg")
	}
	q, ok := v.eng.streams[streamKey{App: v.app, Subs: v.subs, Stream: s}]
	if !ok {
		return units.New(0, BaseUnits[s])
	}
	return q
}

func (v *scopeView) GetVolume() units.Quantity         { return v.stream(Sales) }
func (v *scopeView) GetPopulation() units.Quantity     { return v.stream(Equipment) }
func (v *scopeView) GetGhgConsumption() units.Quantity { return v.stream(Consumption) }
func (v *scopeView) GetEnergyConsumption() units.Quantity {
	return v.stream(Energy)
}
func (v *scopeView) GetSubstanceConsumption() units.Quantity {
	q, ok := v.eng.ghgIntensity[scopeKey{App: v.app, Subs: v.subs}]
	if !ok {
		return units.New(0, "tCO2e / kg")
	}
	return q
}
func (v *scopeView) GetEnergyIntensity() units.Quantity {
	q, ok := v.eng.energyIntensity[scopeKey{App: v.app, Subs: v.subs}]
	if !ok {
		return units.New(0, "kwh / kg")
	}
	return q
}
func (v *scopeView) GetAmortizedUnitVolume() units.Quantity {
	q, ok := v.eng.initialCharge[scopeKey{App: v.app, Subs: v.subs}]
	if !ok {
		return units.New(0, "kg")
	}
	num, _ := units.SplitRatio(q.Unit) // "kg / unit" -> "kg": volume of one unit
	return units.New(q.Value, num)
}
func (v *scopeView) GetAmortizedUnitConsumption() units.Quantity {
	pop := v.stream(Equipment)
	if pop.Value == 0 {
		return units.New(0, "tCO2e")
	}
	ghg := v.stream(Consumption)
	return units.New(ghg.Value/pop.Value, "tCO2e")
}
func (v *scopeView) GetYearsElapsed() units.Quantity { return units.New(1, "years") }
func (v *scopeView) GetPopulationChange() units.Quantity {
	return v.stream(NewEquipment)
}

func (eng *Engine) converter() *units.Converter {
	return units.NewConverter(eng.view())
}

// Converter exposes the engine-bound unit converter for the current
// scope, used by the compiler to evaluate arithmetic between Quantities.
func (eng *Engine) Converter() *units.Converter { return eng.converter() }

// Fail lets the compiler surface a typed engine error (e.g. division by
// zero in a user expression) using the engine's current scope context.
func (eng *Engine) Fail(kind Kind, format string, args ...any) error {
	return eng.fail(kind, nil, format, args...)
}

// --- stream operators ----------------------------------------------------

// GetStream reads the current value of a stream, optionally rescoped to a
// different (application, substance) and/or converted to a target unit.
func (eng *Engine) GetStream(name, rescopeApp, rescopeSubs, conversion string) (units.Quantity, error) {
	s, ok := validStream(name)
	if !ok {
		return units.Quantity{}, eng.fail(UnknownStream, nil, "unknown stream %q", name)
	}
	app, subs := eng.curApp, eng.curSubs
	if rescopeApp != "" {
		app = rescopeApp
	}
	if rescopeSubs != "" {
		subs = rescopeSubs
	}
	view := eng.viewOf(app, subs)
	q := view.stream(s)
	if conversion == "" || conversion == q.Unit {
		return q, nil
	}
	conv := units.NewConverter(view)
	out, err := conv.Convert(q, conversion)
	if err != nil {
		return units.Quantity{}, eng.fail(NonRecoverableNaN, err, "converting %s to %s: %v", name, conversion, err)
	}
	return out, nil
}

func (eng *Engine) setRaw(s Stream, q units.Quantity) {
	eng.streams[eng.key(s)] = q
}

// SetStream assigns target := value (converted to the stream's base
// unit). No-op if a matcher is supplied and the current year falls
// outside it.
func (eng *Engine) SetStream(target string, value units.Quantity, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	s, ok := validStream(target)
	if !ok {
		return eng.fail(UnknownStream, nil, "unknown stream %q", target)
	}
	if s == Sales {
		return eng.setSalesTotal(value)
	}
	base := BaseUnits[s]
	converted, err := eng.converter().Convert(value, base)
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "setting %s: %v", target, err)
	}
	if s == NewEquipment {
		// tracked separately from equipment for the year-reset rule, but
		// setting equipment directly does not imply a change in
		// newEquipment unless the caller also sets it explicitly.
	}
	eng.setRaw(s, converted)
	return nil
}

// setSalesTotal re-targets manufacture/import so that their sum equals
// value, applying the delta through the sales-split rule.
func (eng *Engine) setSalesTotal(value units.Quantity) error {
	target, err := eng.converter().Convert(value, "kg")
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "setting sales: %v", err)
	}
	current := eng.view().stream(Sales)
	delta := target.Value - current.Value
	eng.splitSalesDelta(delta)
	return nil
}

// splitSalesDelta applies deltaKg across manufacture/import using the
// sales-split rule: percentManufacture = manufactureKg / (manufactureKg +
// importKg); if both are zero, 100% goes to manufacture. Each side is
// clamped at zero.
func (eng *Engine) splitSalesDelta(deltaKg float64) {
	man := eng.view().stream(Manufacture)
	imp := eng.view().stream(Import)
	total := man.Value + imp.Value
	pctMan := 1.0
	if total != 0 {
		pctMan = man.Value / total
	}
	pctImp := 1 - pctMan
	newMan := man.Value + deltaKg*pctMan
	newImp := imp.Value + deltaKg*pctImp
	if newMan < 0 {
		newMan = 0
	}
	if newImp < 0 {
		newImp = 0
	}
	eng.setRaw(Manufacture, units.New(newMan, "kg"))
	eng.setRaw(Import, units.New(newImp, "kg"))
}

// ChangeStream applies an additive delta. A delta expressed in "%" is
// interpreted as a percentage of the current stream value.
func (eng *Engine) ChangeStream(target string, delta units.Quantity, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	s, ok := validStream(target)
	if !ok {
		return eng.fail(UnknownStream, nil, "unknown stream %q", target)
	}
	base := BaseUnits[s]
	current := eng.view().stream(s)

	var deltaInBase float64
	if delta.Unit == "%" {
		deltaInBase = current.Value * delta.Value / 100
	} else {
		converted, err := eng.converter().Convert(delta, base)
		if err != nil {
			return eng.fail(NonRecoverableNaN, err, "changing %s: %v", target, err)
		}
		deltaInBase = converted.Value
	}

	if s == Sales {
		eng.splitSalesDelta(deltaInBase)
		return nil
	}
	eng.setRaw(s, units.New(current.Value+deltaInBase, base))
	return nil
}

// CapStream replaces the stream's value with min(value, limit).
func (eng *Engine) CapStream(target string, limit units.Quantity, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	s, ok := validStream(target)
	if !ok {
		return eng.fail(UnknownStream, nil, "unknown stream %q", target)
	}
	base := BaseUnits[s]
	limitConv, err := eng.converter().Convert(limit, base)
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "capping %s: %v", target, err)
	}
	current := eng.view().stream(s)
	if current.Value <= limitConv.Value {
		return nil
	}
	if s == Sales {
		eng.splitSalesDelta(limitConv.Value - current.Value)
		return nil
	}
	eng.setRaw(s, units.New(limitConv.Value, base))
	return nil
}

// FloorStream replaces the stream's value with max(value, limit).
func (eng *Engine) FloorStream(target string, limit units.Quantity, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	s, ok := validStream(target)
	if !ok {
		return eng.fail(UnknownStream, nil, "unknown stream %q", target)
	}
	base := BaseUnits[s]
	limitConv, err := eng.converter().Convert(limit, base)
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "flooring %s: %v", target, err)
	}
	current := eng.view().stream(s)
	if current.Value >= limitConv.Value {
		return nil
	}
	if s == Sales {
		eng.splitSalesDelta(limitConv.Value - current.Value)
		return nil
	}
	eng.setRaw(s, units.New(limitConv.Value, base))
	return nil
}

// SetInitialCharge records the volume-per-unit used to convert between
// volume and population for the given stream's scope (per spec, always
// read back via the "sales" entry by the converter).
func (eng *Engine) SetInitialCharge(stream string, value units.Quantity, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	if _, ok := validStream(stream); !ok {
		return eng.fail(UnknownStream, nil, "unknown stream %q", stream)
	}
	eng.initialCharge[eng.scope()] = value
	return nil
}

// Equals declares the GHG intensity (tCO2e per kg/mt) for the current
// scope.
func (eng *Engine) Equals(value units.Quantity) error {
	eng.ghgIntensity[eng.scope()] = value
	return nil
}

// UsesEnergy declares the energy intensity (kwh per kg/mt) for the
// current scope.
func (eng *Engine) UsesEnergy(value units.Quantity) error {
	eng.energyIntensity[eng.scope()] = value
	return nil
}

// Recharge adds a recharge volume to sales and rechargeEmissions:
// populationPortion (fraction of existing equipment needing recharge)
// times volumePerUnit yields a volume, split into sales as usual and
// converted to rechargeEmissions through the GHG intensity.
func (eng *Engine) Recharge(populationPortion, volumePerUnit units.Quantity, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	eng.rechargePctPop[eng.scope()] = populationPortion
	eng.rechargeVolUnit[eng.scope()] = volumePerUnit

	unitsRecharging, err := eng.converter().Convert(populationPortion, "units")
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "recharge: %v", err)
	}
	perUnitTarget := "kg"
	if _, den := units.SplitRatio(volumePerUnit.Unit); den != "" {
		perUnitTarget = "kg / unit" // keep the ratio per unit instead of scaling by population
	}
	volPerUnitKg, err := eng.converter().Convert(volumePerUnit, perUnitTarget)
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "recharge: %v", err)
	}
	volumeKg := unitsRecharging.Value * volPerUnitKg.Value
	eng.splitSalesDelta(volumeKg)

	ghgQty, err := eng.converter().Convert(units.New(volumeKg, "kg"), "tCO2e")
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "recharge emissions: %v", err)
	}
	current := eng.view().stream(RechargeEmissions)
	eng.setRaw(RechargeEmissions, units.New(nonNegative(current.Value+ghgQty.Value), "tCO2e"))
	return nil
}

// Retire reduces equipment by fractionPerYear and moves the retired
// volume's GHG intensity into eolEmissions.
func (eng *Engine) Retire(fractionPerYear units.Quantity, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	eng.retirePolicy[eng.scope()] = fractionPerYear

	population := eng.view().stream(Equipment)
	fractionQty, err := eng.converter().Convert(fractionPerYear, "%")
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "retire: %v", err)
	}
	retiredUnits := population.Value * fractionQty.Value / 100
	if retiredUnits > population.Value {
		retiredUnits = population.Value
	}
	eng.setRaw(Equipment, units.New(nonNegative(population.Value-retiredUnits), "units"))

	volPerUnit := eng.view().GetAmortizedUnitVolume()
	retiredKg, err := eng.converter().Convert(units.New(retiredUnits, "units"), "kg")
	if err == nil && volPerUnit.Value != 0 {
		ghgQty, ghgErr := eng.converter().Convert(retiredKg, "tCO2e")
		if ghgErr == nil {
			current := eng.view().stream(EolEmissions)
			eng.setRaw(EolEmissions, units.New(nonNegative(current.Value+ghgQty.Value), "tCO2e"))
		}
	}
	return nil
}

// Recycle reclaims volume*yield from the retired/available volume as the
// recycle stream, optionally displacing manufacture or import by a
// percentage of the reclaimed volume (clamped at zero).
func (eng *Engine) Recycle(volume, yield units.Quantity, displacementPct *units.Quantity, displacementTarget string, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	volKg, err := eng.converter().Convert(volume, "kg")
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "recycle: %v", err)
	}
	yieldPct, err := eng.converter().Convert(yield, "%")
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "recycle: %v", err)
	}
	recycledKg := volKg.Value * yieldPct.Value / 100
	current := eng.view().stream(Recycle)
	eng.setRaw(Recycle, units.New(current.Value+recycledKg, "kg"))

	if displacementPct == nil {
		return nil
	}
	dispPct, err := eng.converter().Convert(*displacementPct, "%")
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "recycle displacement: %v", err)
	}
	displacedKg := recycledKg * dispPct.Value / 100

	target, ok := validStream(displacementTarget)
	if !ok {
		target = Manufacture
	}
	cur := eng.view().stream(target)
	newVal := cur.Value - displacedKg
	if newVal < 0 {
		newVal = 0 // clamp; shortfall is a warning, not an error, per spec section 7
	}
	eng.setRaw(target, units.New(newVal, "kg"))
	return nil
}

// Replace moves volume from one stream to the same stream on a different
// substance within the current application, applying the destination
// substance's own GHG intensity on read-back.
func (eng *Engine) Replace(volume units.Quantity, stream, destinationSubstance string, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	s, ok := validStream(stream)
	if !ok {
		return eng.fail(UnknownStream, nil, "unknown stream %q", stream)
	}
	base := BaseUnits[s]
	volConv, err := eng.converter().Convert(volume, base)
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "replace: %v", err)
	}

	cur := eng.view().stream(s)
	eng.setRaw(s, units.New(nonNegative(cur.Value-volConv.Value), base))

	destKey := streamKey{App: eng.curApp, Subs: destinationSubstance, Stream: s}
	destCur, ok := eng.streams[destKey]
	if !ok {
		destCur = units.New(0, base)
	}
	eng.streams[destKey] = units.New(destCur.Value+volConv.Value, base)
	return nil
}

// Emit adds directly to the consumption stream.
func (eng *Engine) Emit(value units.Quantity, matcher *YearMatcher) error {
	if !matcher.Matches(eng.CurrentYear) {
		return nil
	}
	converted, err := eng.converter().Convert(value, "tCO2e")
	if err != nil {
		return eng.fail(NonRecoverableNaN, err, "emit: %v", err)
	}
	current := eng.view().stream(Consumption)
	eng.setRaw(Consumption, units.New(nonNegative(current.Value+converted.Value), "tCO2e"))
	return nil
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// --- variables -------------------------------------------------------------

// DefineVariable creates name in the current innermost active scope
// (substance > application > stanza > global).
func (eng *Engine) DefineVariable(name string, value units.Quantity) {
	switch {
	case eng.curSubs != "":
		eng.subsVars[eng.subsVarKey()][name] = value
	case eng.curApp != "":
		eng.appVars[eng.curApp][name] = value
	case eng.curStanza != "":
		eng.stanzaVars[eng.curStanza][name] = value
	default:
		eng.globalVars[name] = value
	}
}

// SetVariable updates an existing binding found by searching inner to
// outer scopes; if none exists, it defines one in the innermost scope.
func (eng *Engine) SetVariable(name string, value units.Quantity) {
	if eng.curSubs != "" {
		if m := eng.subsVars[eng.subsVarKey()]; m != nil {
			if _, ok := m[name]; ok {
				m[name] = value
				return
			}
		}
	}
	if eng.curApp != "" {
		if m := eng.appVars[eng.curApp]; m != nil {
			if _, ok := m[name]; ok {
				m[name] = value
				return
			}
		}
	}
	if eng.curStanza != "" {
		if m := eng.stanzaVars[eng.curStanza]; m != nil {
			if _, ok := m[name]; ok {
				m[name] = value
				return
			}
		}
	}
	if _, ok := eng.globalVars[name]; ok {
		eng.globalVars[name] = value
		return
	}
	eng.DefineVariable(name, value)
}

// GetVariable resolves name by searching inner to outer scopes.
func (eng *Engine) GetVariable(name string) (units.Quantity, error) {
	if eng.curSubs != "" {
		if m, ok := eng.subsVars[eng.subsVarKey()]; ok {
			if v, ok := m[name]; ok {
				return v, nil
			}
		}
	}
	if eng.curApp != "" {
		if m, ok := eng.appVars[eng.curApp]; ok {
			if v, ok := m[name]; ok {
				return v, nil
			}
		}
	}
	if eng.curStanza != "" {
		if m, ok := eng.stanzaVars[eng.curStanza]; ok {
			if v, ok := m[name]; ok {
				return v, nil
			}
		}
	}
	if v, ok := eng.globalVars[name]; ok {
		return v, nil
	}
	return units.Quantity{}, eng.fail(UnknownVariable, nil, "undefined variable %q", name)
}

// --- year stepping -----------------------------------------------------------

// IncrementYear rolls equipment into priorEquipment, resets per-year-
// accumulating streams, and advances CurrentYear. The caller (the
// simulation driver) is responsible for snapshotting results beforehand.
func (eng *Engine) IncrementYear() {
	for _, k := range eng.activeScopes {
		equip := eng.streams[streamKey{App: k.App, Subs: k.Subs, Stream: Equipment}]
		eng.streams[streamKey{App: k.App, Subs: k.Subs, Stream: PriorEquipment}] = equip

		for _, resetStream := range []Stream{NewEquipment, RechargeEmissions, EolEmissions, Consumption, Energy} {
			eng.streams[streamKey{App: k.App, Subs: k.Subs, Stream: resetStream}] = units.New(0, BaseUnits[resetStream])
		}
	}
	eng.CurrentYear++
}

// IsDone reports whether the simulation has run past EndYear.
func (eng *Engine) IsDone() bool { return eng.CurrentYear > eng.EndYear }

// SampleNormal draws from a normal distribution using this trial's RNG.
func (eng *Engine) SampleNormal(mean, std float64) float64 {
	return eng.RNG.NormFloat64()*std + mean
}

// SampleUniform draws from [low, high) using this trial's RNG.
func (eng *Engine) SampleUniform(low, high float64) float64 {
	return low + eng.RNG.Float64()*(high-low)
}
